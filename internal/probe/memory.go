// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
)

// ParseMeminfoTotal returns MemTotal of /proc/meminfo in bytes.
func ParseMeminfoTotal(meminfo string) int64 {
	for _, line := range strings.Split(meminfo, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || key != "MemTotal" {
			continue
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

// Memory reports the usable and the physically installed memory.
func (c *Collector) Memory(ctx context.Context) registry.Memory {
	mem := registry.Memory{}
	if meminfo, err := os.ReadFile(pathProcMeminfo); err != nil {
		c.log.Info("Cannot fetch total memory size", "error", err.Error())
	} else {
		mem.Total = ParseMeminfoTotal(string(meminfo))
	}

	mem.Devices = c.memoryDevices()

	report, err := c.lshwReport(ctx)
	if err != nil {
		c.log.Info("Cannot get real physical memory size from lshw", "error", err.Error())
	} else {
		mem.PhysicalMB = report.physicalMemoryMB()
	}
	if mem.PhysicalMB == 0 {
		for _, d := range mem.Devices {
			mem.PhysicalMB += d.SizeBytes >> 20
		}
	}
	if mem.PhysicalMB == 0 {
		c.log.Info("Did not find any physical RAM")
	}
	return mem
}
