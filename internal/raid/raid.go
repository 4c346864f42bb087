// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package raid builds and tears down Linux software RAID (md) arrays on the
// disks of the machine.
package raid

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/blockdev"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/probe"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	ControllerSoftware = "software"
	SizeMax            = "MAX"

	// deleteScans bounds how often Delete looks for arrays. Arrays still
	// present after the last scan are reported as an error.
	deleteScans = 3

	noSuperblock = "No md superblock detected"
)

var supportedLevels = sets.New("0", "1")

// DeviceLister is the part of the block device inventory the engine needs.
type DeviceLister interface {
	ListAllBlockDevices(ctx context.Context, opts blockdev.ListOptions) ([]registry.BlockDevice, error)
	ListBlockDevices(ctx context.Context, includePartitions bool) ([]registry.BlockDevice, error)
}

// Engine creates, validates and deletes software RAID configurations.
type Engine struct {
	log       logr.Logger
	exec      executor.Interface
	collector *probe.Collector
	lister    DeviceLister
	bootMode  func() string
}

func NewEngine(log logr.Logger, exec executor.Interface, collector *probe.Collector, lister DeviceLister) *Engine {
	return &Engine{
		log:       log,
		exec:      exec,
		collector: collector,
		lister:    lister,
		bootMode:  probe.BootMode,
	}
}

// Validate checks that config describes a software RAID layout the engine can
// build. All problems are reported in one SoftwareRAIDError.
func Validate(node *registry.Node, config *registry.RAIDConfig) error {
	if config == nil || len(config.LogicalDisks) == 0 {
		return errdefs.NewSoftwareRAIDError("Could not validate Software RAID config for %s: no logical disks given", node.UUID)
	}

	var problems []string
	if n := len(config.LogicalDisks); n < 1 || n > 2 {
		problems = append(problems, "Software RAID configuration requires one or two logical disks")
	}
	maxCount := 0
	for _, disk := range config.LogicalDisks {
		if disk.Controller != ControllerSoftware {
			problems = append(problems, "Software RAID configuration requires all logical disks to have 'controller'='software'")
			break
		}
	}
	for _, disk := range config.LogicalDisks {
		if isMax(disk.SizeGB) {
			maxCount++
			continue
		}
		if _, err := sizeGiB(disk.SizeGB); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if maxCount > 1 {
		problems = append(problems, "Software RAID can have only one RAID device with size 'MAX'")
	}
	for _, disk := range config.LogicalDisks {
		if !supportedLevels.Has(disk.RAIDLevel) {
			problems = append(problems, fmt.Sprintf("Unsupported RAID level %q", disk.RAIDLevel))
		}
	}

	if len(problems) > 0 {
		return errdefs.NewSoftwareRAIDError("Could not validate Software RAID config for %s: %s",
			node.UUID, strings.Join(problems, "; "))
	}
	return nil
}

func isMax(size intstr.IntOrString) bool {
	return size.Type == intstr.String && strings.EqualFold(size.StrVal, SizeMax)
}

func sizeGiB(size intstr.IntOrString) (int, error) {
	if size.Type == intstr.Int {
		if size.IntVal <= 0 {
			return 0, fmt.Errorf("invalid size_gb %d", size.IntVal)
		}
		return size.IntValue(), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(size.StrVal))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size_gb %q", size.StrVal)
	}
	return n, nil
}

// hasSoftwareDisks reports whether any logical disk asks for software RAID.
func hasSoftwareDisks(config *registry.RAIDConfig) bool {
	if config == nil {
		return false
	}
	for _, disk := range config.LogicalDisks {
		if disk.Controller == ControllerSoftware {
			return true
		}
	}
	return false
}

// partitionTableType returns the label created on the member disks.
func (e *Engine) partitionTableType() string {
	if e.bootMode() == probe.BootModeUEFI {
		return probe.PartitionTableGPT
	}
	return probe.PartitionTableMSDOS
}

// runLogged runs cmd and only logs a failure.
func (e *Engine) runLogged(ctx context.Context, cmd *executor.Command, msg string, keysAndValues ...any) {
	if _, _, err := e.exec.Run(ctx, cmd); err != nil {
		e.log.Error(err, msg, keysAndValues...)
	}
}
