// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/executor"
)

var (
	mdadmDeviceRe   = regexp.MustCompile(`/dev/\w+`)
	nvmePartitionRe = regexp.MustCompile(`^(/dev/nvme\d+n\d+)p\d+$`)
	partitionRe     = regexp.MustCompile(`^(/dev/\D+)\d+$`)
)

// ParseMdadmDetailDevices returns the component devices listed by
// `mdadm --detail`. The array itself on the first line is not included.
func ParseMdadmDetailDevices(out string) []string {
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return nil
	}
	var devices []string
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		// Removed members show up as a row of dashes.
		if len(fields) > 0 && fields[len(fields)-1] == "-" {
			continue
		}
		devices = append(devices, mdadmDeviceRe.FindAllString(line, -1)...)
	}
	return devices
}

// HolderDisk returns the disk a partition belongs to.
func HolderDisk(partition string) (string, error) {
	if m := nvmePartitionRe.FindStringSubmatch(partition); m != nil {
		return m[1], nil
	}
	if m := partitionRe.FindStringSubmatch(partition); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("unexpected pattern for partition %s", partition)
}

// RAIDComponentDevices returns the member devices of a software RAID array.
func (c *Collector) RAIDComponentDevices(ctx context.Context, raidDevice string) ([]string, error) {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("mdadm", "--detail", raidDevice).WithStandardLocale())
	if err != nil {
		return nil, err
	}
	return ParseMdadmDetailDevices(stdout), nil
}

// RAIDHolderDisks returns the distinct disks holding the members of raidDevice.
func (c *Collector) RAIDHolderDisks(ctx context.Context, raidDevice string) ([]string, error) {
	components, err := c.RAIDComponentDevices(ctx, raidDevice)
	if err != nil {
		return nil, err
	}
	var holders []string
	seen := map[string]bool{}
	for _, component := range components {
		disk, err := HolderDisk(component)
		if err != nil {
			return nil, fmt.Errorf("could not get holder disks of %s: %w", raidDevice, err)
		}
		if !seen[disk] {
			seen[disk] = true
			holders = append(holders, disk)
		}
	}
	return holders, nil
}
