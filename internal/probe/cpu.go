// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/jaypipes/ghw"
)

// ParseLscpu parses `lscpu` output into a map keyed by lower-cased field names.
func ParseLscpu(out string) map[string]string {
	info := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return info
}

// ParseCPUFlags returns the flags of the first processor in /proc/cpuinfo.
func ParseCPUFlags(cpuinfo string) []string {
	for _, line := range strings.Split(cpuinfo, "\n") {
		if !strings.HasPrefix(line, "flags") {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil
		}
		return strings.Fields(value)
	}
	return nil
}

// CPU describes the processors. The maximum frequency is preferred over the
// current one since modern CPUs scale their clock.
func (c *Collector) CPU(ctx context.Context) registry.CPU {
	cpu := registry.CPU{Flags: []string{}}
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("lscpu").WithStandardLocale())
	if err != nil {
		c.log.Info("Failed to get CPU information", "error", err.Error())
	} else {
		info := ParseLscpu(stdout)
		cpu.ModelName = info["model name"]
		cpu.Architecture = info["architecture"]
		cpu.Frequency = info["cpu max mhz"]
		if cpu.Frequency == "" {
			cpu.Frequency = info["cpu mhz"]
		}
		if count, err := strconv.Atoi(info["cpu(s)"]); err == nil {
			cpu.Count = count
		}
	}

	if cpuinfo, err := os.ReadFile(pathProcCPUInfo); err != nil {
		c.log.Info("Failed to get CPU flags", "error", err.Error())
	} else if flags := ParseCPUFlags(string(cpuinfo)); flags != nil {
		cpu.Flags = flags
	}

	cpu.TotalCores, cpu.TotalThreads = c.cpuTopology()
	return cpu
}

func (c *Collector) cpuTopology() (cores, threads uint32) {
	info, err := ghw.CPU()
	if err != nil {
		c.log.V(1).Info("Failed to get CPU topology", "error", err.Error())
		return 0, 0
	}
	for _, processor := range info.Processors {
		cores += processor.TotalCores
		threads += processor.TotalHardwareThreads
	}
	return cores, threads
}
