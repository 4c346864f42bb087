// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package probe collects hardware facts from OS tools and sysfs.
//
// Collectors invoke one tool or read one sysfs path each and return a typed
// fact. A missing tool or an unsupported feature yields an empty value that is
// logged, not an error.
package probe

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/executor"
)

var (
	pathProcCmdline    = "/proc/cmdline"
	pathProcCPUInfo    = "/proc/cpuinfo"
	pathProcMeminfo    = "/proc/meminfo"
	pathSysFirmwareEFI = "/sys/firmware/efi"
	pathSysClassNet    = "/sys/class/net"
	pathSysClassBlock  = "/sys/class/block"
	pathBusPciDevices  = "/sys/bus/pci/devices"
	pathDevDiskByLabel = "/dev/disk/by-label"
)

// Collector gathers hardware facts of the local machine.
type Collector struct {
	exec executor.Interface
	log  logr.Logger

	mu     sync.Mutex
	lshw   *lshwNode
	params map[string]string
}

// NewCollector creates a Collector running tools through exec.
func NewCollector(log logr.Logger, exec executor.Interface) *Collector {
	return &Collector{exec: exec, log: log}
}

// Reset drops the memoized lshw report and kernel parameters.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lshw = nil
	c.params = nil
}

func ToString(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read file %s: %w", path, err)
	}
	return strings.TrimSpace(string(contents)), nil
}

func ToInt(path string) (int, error) {
	s, err := ToString(path)
	if err != nil {
		return 0, err
	}
	num, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unable to convert %s from %s to int: %w", s, path, err)
	}
	return num, nil
}

func ToBool(path string) (bool, error) {
	num, err := ToInt(path)
	if err != nil {
		return false, err
	}
	return num == 1, nil
}
