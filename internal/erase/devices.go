// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package erase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/blockdev"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/ptr"
)

// Outcome is the terminal state of erasing one device.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeIncompatible Outcome = "INCOMPATIBLE"
	OutcomeError        Outcome = "ERROR"
)

// Concurrency returns the number of devices erased in parallel for node.
func Concurrency(node *registry.Node) int {
	if node == nil {
		return 1
	}
	return max(ptr.Deref(node.DriverInternalInfo.DiskErasureConcurrency, 1), 1)
}

// EraseFunc erases a single device.
type EraseFunc func(ctx context.Context, device registry.BlockDevice) error

// EraseDevices runs eraseFn for every device on a pool of at most concurrency
// workers. Every device is attempted; failures are reported together once all
// devices are done.
func EraseDevices(ctx context.Context, log logr.Logger, devices []registry.BlockDevice, concurrency int, eraseFn EraseFunc) (map[string]Outcome, error) {
	outcomes := make(map[string]Outcome, len(devices))
	if len(devices) == 0 {
		return outcomes, nil
	}

	var (
		mu       sync.Mutex
		failures = map[string]error{}
		g        errgroup.Group
	)
	g.SetLimit(min(max(concurrency, 1), len(devices)))
	for _, device := range devices {
		g.Go(func() error {
			log.Info("Erasing block device", "device", device.Name)
			err := eraseFn(ctx, device)
			outcome := classify(err)

			mu.Lock()
			defer mu.Unlock()
			outcomes[device.Name] = outcome
			if err != nil {
				log.Error(err, "Failed to erase block device", "device", device.Name, "outcome", outcome)
				failures[device.Name] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return outcomes, nil
	}
	var errs []error
	for _, device := range devices {
		if err, ok := failures[device.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", device.Name, err))
		}
	}
	agg := utilerrors.NewAggregate(errs)
	return outcomes, errdefs.NewBlockDeviceEraseError("Failed to erase the device(s): %v", agg).Wrap(agg)
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errdefs.IsIncompatibleHardwareMethod(err), errdefs.IsHardwareManagerMethodNotFound(err):
		return OutcomeIncompatible
	}
	return OutcomeError
}

// EraseDevicesMetadata destroys partition tables and filesystem signatures of
// devices in reverse name order, so partitions go before their disk. Virtual
// media and software RAID members are skipped.
func (e *Eraser) EraseDevicesMetadata(ctx context.Context, devices []registry.BlockDevice) error {
	sorted := append([]registry.BlockDevice(nil), devices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name > sorted[j].Name })

	var errs []error
	for _, device := range sorted {
		if blockdev.IsVirtualMediaDevice(device.Name) {
			e.log.Info("Skipping metadata erase of virtual media device", "device", device.Name)
			continue
		}
		if e.isLinuxRAIDMember(ctx, device.Name) {
			e.log.Info("Skipping metadata erase of software RAID member", "device", device.Name)
			continue
		}
		if err := DestroyDiskMetadata(ctx, e.exec, device.Name); err != nil {
			e.log.Error(err, "Failed to erase the metadata", "device", device.Name)
			errs = append(errs, fmt.Errorf("%s: %w", device.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	agg := utilerrors.NewAggregate(errs)
	return errdefs.NewBlockDeviceEraseError("Failed to erase the metadata on the device(s): %v", agg).Wrap(agg)
}

func (e *Eraser) isLinuxRAIDMember(ctx context.Context, device string) bool {
	return e.collector.FilesystemType(ctx, device) == "linux_raid_member"
}

// DestroyDiskMetadata removes filesystem signatures, the GPT and MBR
// structures and the first MiB of device.
func DestroyDiskMetadata(ctx context.Context, exec executor.Interface, device string) error {
	if _, stderr, err := exec.Run(ctx, executor.Cmd("wipefs", "--force", "--all", device).WithStandardLocale()); err != nil {
		if !strings.Contains(stderr, "--force") {
			return err
		}
		// Old wipefs without --force.
		if _, _, err := exec.Run(ctx, executor.Cmd("wipefs", "--all", device).WithStandardLocale()); err != nil {
			return err
		}
	}
	if _, _, err := exec.Run(ctx, executor.Cmd("sgdisk", "-Z", device)); err != nil {
		return err
	}
	if _, _, err := exec.Run(ctx, executor.Cmd("dd", "bs=512", "if=/dev/zero", "of="+device, "count=2048", "oflag=direct")); err != nil {
		return err
	}
	return nil
}
