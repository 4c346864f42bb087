// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package raid

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/probe"
)

// Create partitions every disk of the machine identically and assembles one
// md array per logical disk of the node's target RAID configuration. The
// logical disk sized MAX is always carved last. Nothing is rolled back on
// failure; Delete cleans up.
//
// The configuration is returned unchanged on success. A node without software
// RAID disks yields an empty configuration.
func (e *Engine) Create(ctx context.Context, node *registry.Node) (*registry.RAIDConfig, error) {
	if node == nil {
		return nil, errdefs.NewInvalidCommandParamsError("a node is required to create a RAID configuration")
	}
	config := node.TargetRAIDConfig
	if config == nil || len(config.LogicalDisks) == 0 {
		e.log.V(1).Info("No target RAID configuration found")
		return &registry.RAIDConfig{}, nil
	}
	if !hasSoftwareDisks(config) {
		e.log.V(1).Info("No software RAID configuration found")
		return &registry.RAIDConfig{}, nil
	}
	if err := Validate(node, config); err != nil {
		return nil, err
	}

	log := e.log.WithValues("node", node.UUID)
	log.Info("Creating software RAID")

	devices, err := e.lister.ListBlockDevices(ctx, false)
	if err != nil {
		return nil, err
	}
	withPartitions, err := e.lister.ListBlockDevices(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(devices) != len(withPartitions) {
		names := make([]string, 0, len(withPartitions))
		for _, d := range withPartitions {
			names = append(names, d.Name)
		}
		return nil, errdefs.NewSoftwareRAIDError("Partitions detected during RAID config: %s", strings.Join(names, " "))
	}

	tableType := e.partitionTableType()
	starts := make(map[string]string, len(devices))
	for _, device := range devices {
		if _, _, err := e.exec.Run(ctx, executor.Cmd("parted", device.Name, "-s", "--", "mklabel", tableType)); err != nil {
			return nil, errdefs.NewSoftwareRAIDError("Failed to create partition table on %s: %v", device.Name, err).Wrap(err)
		}
		start, err := e.firstUsableSector(ctx, device.Name)
		if err != nil {
			return nil, err
		}
		starts[device.Name] = start
	}

	ordered := maxLast(config.LogicalDisks)
	endGiB := 0
	for _, disk := range ordered {
		end := "-1"
		if !isMax(disk.SizeGB) {
			size, _ := sizeGiB(disk.SizeGB)
			endGiB += size
			end = fmt.Sprintf("%dGiB", endGiB)
		}
		for _, device := range devices {
			log.V(1).Info("Creating partition", "device", device.Name, "start", starts[device.Name], "end", end)
			if _, _, err := e.exec.Run(ctx, executor.Cmd("parted", device.Name, "-s", "-a", "optimal", "--",
				"mkpart", "primary", starts[device.Name], end)); err != nil {
				return nil, errdefs.NewSoftwareRAIDError("Failed to create partitions on %s: %v", device.Name, err).Wrap(err)
			}
			e.runLogged(ctx, executor.Cmd("partx", "-u", device.Name),
				"Failed to update partition table", "device", device.Name)
			starts[device.Name] = end
		}
	}

	for index, disk := range ordered {
		md := fmt.Sprintf("/dev/md%d", index)
		components := make([]string, 0, len(devices))
		for _, device := range devices {
			components = append(components, probe.PartitionDevice(device.Name, index+1))
		}
		args := append([]string{"--create", md, "--force", "--run", "--metadata=1",
			"--level", disk.RAIDLevel, "--raid-devices", strconv.Itoa(len(components))}, components...)
		log.V(1).Info("Creating md device", "device", md, "components", components)
		if _, _, err := e.exec.Run(ctx, executor.Cmd("mdadm", args...)); err != nil {
			return nil, errdefs.NewSoftwareRAIDError("Failed to create md device %s on %s: %v",
				md, strings.Join(components, " "), err).Wrap(err)
		}
	}

	log.Info("Successfully created software RAID")
	return config, nil
}

// firstUsableSector asks sgdisk for the first sector a partition may start at
// and returns it in parted notation.
func (e *Engine) firstUsableSector(ctx context.Context, device string) (string, error) {
	stdout, _, err := e.exec.Run(ctx, executor.Cmd("sgdisk", "-F", device))
	if err != nil {
		return "", errdefs.NewSoftwareRAIDError("Failed to find the first usable sector on %s: %v", device, err).Wrap(err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	sector, err := strconv.ParseInt(strings.TrimSpace(lines[len(lines)-1]), 10, 64)
	if err != nil {
		return "", errdefs.NewSoftwareRAIDError("Unexpected first usable sector %q on %s", stdout, device)
	}
	return fmt.Sprintf("%ds", sector), nil
}

// maxLast returns the logical disks with the MAX sized one moved to the end.
func maxLast(disks []registry.LogicalDisk) []registry.LogicalDisk {
	ordered := make([]registry.LogicalDisk, 0, len(disks))
	var last []registry.LogicalDisk
	for _, disk := range disks {
		if isMax(disk.SizeGB) {
			last = append(last, disk)
			continue
		}
		ordered = append(ordered, disk)
	}
	return append(ordered, last...)
}
