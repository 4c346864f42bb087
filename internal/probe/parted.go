// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/executor"
)

// Partition table types reported by parted.
const (
	PartitionTableGPT     = "gpt"
	PartitionTableMSDOS   = "msdos"
	PartitionTableUnknown = "unknown"
)

// Partition is one row of `parted -m ... unit MiB print`.
type Partition struct {
	Number     int
	StartMiB   int
	EndMiB     int
	SizeMiB    int
	Filesystem string
	Name       string
	Flags      []string
}

// HasFlag reports whether the partition carries flag.
func (p Partition) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ParsePartedMachine parses machine readable parted output in MiB units.
// The BYT header and the disk line are skipped.
func ParsePartedMachine(out string) ([]Partition, error) {
	var partitions []Partition
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, line := range lines {
		line = strings.TrimSuffix(strings.TrimSpace(line), ";")
		if line == "" || line == "BYT" || strings.HasPrefix(line, "/dev/") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			return nil, fmt.Errorf("unexpected parted output line %q", line)
		}
		number, err := strconv.Atoi(fields[0])
		if err != nil {
			// Disk summary lines for non /dev paths.
			continue
		}
		var mib [3]int
		for i, field := range fields[1:4] {
			v, err := strconv.ParseFloat(strings.TrimSuffix(field, "MiB"), 64)
			if err != nil {
				return nil, fmt.Errorf("unexpected parted size %q: %w", field, err)
			}
			mib[i] = int(v)
		}
		var flags []string
		for _, flag := range strings.Split(fields[6], ",") {
			if flag = strings.TrimSpace(flag); flag != "" {
				flags = append(flags, flag)
			}
		}
		partitions = append(partitions, Partition{
			Number:     number,
			StartMiB:   mib[0],
			EndMiB:     mib[1],
			SizeMiB:    mib[2],
			Filesystem: fields[4],
			Name:       fields[5],
			Flags:      flags,
		})
	}
	return partitions, nil
}

// ParsePartitionTableType reads the "Partition Table:" line of `parted print`.
func ParsePartitionTableType(out string) string {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "Partition Table" {
			continue
		}
		switch value = strings.TrimSpace(value); value {
		case PartitionTableGPT, PartitionTableMSDOS:
			return value
		}
		return PartitionTableUnknown
	}
	return PartitionTableUnknown
}

// Partitions lists the partitions of device.
func (c *Collector) Partitions(ctx context.Context, device string) ([]Partition, error) {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("parted", "-s", "-m", device, "unit", "MiB", "print").WithStandardLocale())
	if err != nil {
		return nil, err
	}
	return ParsePartedMachine(stdout)
}

// PartitionTableType returns gpt, msdos or unknown for device.
func (c *Collector) PartitionTableType(ctx context.Context, device string) string {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("parted", "-s", device, "--", "print").WithStandardLocale())
	if err != nil {
		c.log.V(1).Info("Could not read partition table", "device", device, "error", err.Error())
		return PartitionTableUnknown
	}
	return ParsePartitionTableType(stdout)
}

// EFIPartition returns the EFI system partition of device, if any.
func (c *Collector) EFIPartition(ctx context.Context, device string) (*Partition, error) {
	partitions, err := c.Partitions(ctx, device)
	if err != nil {
		return nil, err
	}
	gpt := c.PartitionTableType(ctx, device) == PartitionTableGPT
	for i := range partitions {
		p := partitions[i]
		if p.HasFlag("esp") || (gpt && p.HasFlag("boot")) {
			return &p, nil
		}
	}
	return nil, nil
}

// PartitionDevice returns the device path of partition number on device.
// Devices whose name ends in a digit use a "p" delimiter.
func PartitionDevice(device string, number int) string {
	if n := len(device); n > 0 && device[n-1] >= '0' && device[n-1] <= '9' {
		return fmt.Sprintf("%sp%d", device, number)
	}
	return fmt.Sprintf("%s%d", device, number)
}
