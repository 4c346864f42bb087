// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/erase"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/probe"
)

// Partition sizes in MiB.
const (
	efiSystemPartitionMB = 550
	biosBootPartitionMB  = 1
	configDrivePartMB    = 64

	defaultEphemeralFormat = "ext4"
)

// Partitions are the partitions created for a partition image.
type Partitions struct {
	Root               string `json:"root,omitempty"`
	Swap               string `json:"swap,omitempty"`
	Ephemeral          string `json:"ephemeral,omitempty"`
	ConfigDrive        string `json:"configdrive,omitempty"`
	EFISystemPartition string `json:"efi_system_partition,omitempty"`
	BIOSBoot           string `json:"bios_boot,omitempty"`

	RootUUID               string `json:"root_uuid,omitempty"`
	EFISystemPartitionUUID string `json:"efi_system_partition_uuid,omitempty"`
}

type partitionSpec struct {
	role   string
	sizeMB int
	fsType string
	flag   string
}

// layout returns the partitions of info in the order they are created.
func layout(info *Info) []partitionSpec {
	var specs []partitionSpec
	uefi := info.BootMode() == probe.BootModeUEFI
	if uefi && info.localBoot() {
		specs = append(specs, partitionSpec{role: "efi", sizeMB: efiSystemPartitionMB, fsType: "fat32", flag: "esp"})
	}
	if !uefi && info.localBoot() && info.Label() == probe.PartitionTableGPT {
		specs = append(specs, partitionSpec{role: "bios", sizeMB: biosBootPartitionMB, flag: "bios_grub"})
	}
	if info.EphemeralMB > 0 {
		specs = append(specs, partitionSpec{role: "ephemeral", sizeMB: info.EphemeralMB})
	}
	if info.SwapMB > 0 {
		specs = append(specs, partitionSpec{role: "swap", sizeMB: info.SwapMB, fsType: "linux-swap"})
	}
	if info.Configdrive != "" {
		specs = append(specs, partitionSpec{role: "configdrive", sizeMB: configDrivePartMB})
	}
	root := partitionSpec{role: "root", sizeMB: info.RootMB}
	if !uefi && info.Label() == probe.PartitionTableMSDOS {
		root.flag = "boot"
	}
	return append(specs, root)
}

// WorkOnDisk partitions device for the partition image cached at location
// and writes it into the root partition. An empty location only creates the
// partitions, leaving the root partition to the caller.
func (w *Writer) WorkOnDisk(ctx context.Context, info *Info, device, location string) (*Partitions, error) {
	if location != "" {
		imageMB, err := w.virtualSizeMB(ctx, location)
		if err != nil {
			return nil, err
		}
		if imageMB > info.RootMB {
			return nil, errdefs.NewInvalidCommandParamsError(
				"Root partition is too small for requested image. Image virtual size: %d MB, Root size: %d MB",
				imageMB, info.RootMB)
		}
	}

	specs := layout(info)
	if info.PreserveEphemeral {
		w.log.Info("Preserving the partition table and the ephemeral partition", "device", device)
	} else {
		if err := erase.DestroyDiskMetadata(ctx, w.exec, device); err != nil {
			return nil, imageWriteError(device, err)
		}
		if err := w.makePartitions(ctx, device, info.Label(), specs); err != nil {
			return nil, err
		}
	}
	w.collector.UdevSettle(ctx)

	parts := &Partitions{}
	for i, spec := range specs {
		path := probe.PartitionDevice(device, i+1)
		switch spec.role {
		case "efi":
			parts.EFISystemPartition = path
		case "bios":
			parts.BIOSBoot = path
		case "ephemeral":
			parts.Ephemeral = path
		case "swap":
			parts.Swap = path
		case "configdrive":
			parts.ConfigDrive = path
		case "root":
			parts.Root = path
		}
	}

	if parts.ConfigDrive != "" {
		if err := w.writeConfigDrive(ctx, info, info.Configdrive, parts.ConfigDrive); err != nil {
			return nil, err
		}
	}
	if location != "" {
		if err := w.writeImage(ctx, info, location, parts.Root); err != nil {
			return nil, err
		}
	}
	if parts.Swap != "" {
		if err := w.run(ctx, parts.Swap, executor.Cmd("mkswap", "-L", "swap1", parts.Swap)); err != nil {
			return nil, err
		}
	}
	if parts.Ephemeral != "" && !info.PreserveEphemeral {
		format := info.EphemeralFormat
		if format == "" {
			format = defaultEphemeralFormat
		}
		if err := w.run(ctx, parts.Ephemeral, executor.Cmd("mkfs", "-t", format, "-L", "ephemeral0", parts.Ephemeral)); err != nil {
			return nil, err
		}
	}
	if parts.EFISystemPartition != "" {
		if err := w.run(ctx, parts.EFISystemPartition, executor.Cmd("mkfs", "-t", "vfat", "-n", "efi-part", parts.EFISystemPartition)); err != nil {
			return nil, err
		}
		parts.EFISystemPartitionUUID = w.uuid(ctx, parts.EFISystemPartition)
	}
	if location != "" {
		parts.RootUUID = w.uuid(ctx, parts.Root)
	}
	return parts, nil
}

func (w *Writer) makePartitions(ctx context.Context, device, label string, specs []partitionSpec) error {
	args := []string{"-a", "optimal", "-s", device, "--", "unit", "MiB", "mklabel", label}
	start := 1
	for i, spec := range specs {
		end := start + spec.sizeMB
		args = append(args, "mkpart", "primary")
		if spec.fsType != "" {
			args = append(args, spec.fsType)
		}
		args = append(args, strconv.Itoa(start), strconv.Itoa(end))
		if spec.flag != "" {
			args = append(args, "set", strconv.Itoa(i+1), spec.flag, "on")
		}
		start = end
	}
	w.log.Info("Creating partitions", "device", device, "label", label, "count", len(specs))
	if _, _, err := w.exec.Run(ctx, executor.Cmd("parted", args...).WithStandardLocale()); err != nil {
		return imageWriteError(device, err)
	}
	return nil
}

func (w *Writer) run(ctx context.Context, device string, cmd *executor.Command) error {
	if _, _, err := w.exec.Run(ctx, cmd.WithStandardLocale()); err != nil {
		return imageWriteError(device, err)
	}
	return nil
}

// uuid returns the filesystem UUID of device, or an empty string.
func (w *Writer) uuid(ctx context.Context, device string) string {
	stdout, _, err := w.exec.Run(ctx, executor.Cmd("blkid", "-s", "UUID", "-o", "value", device))
	if err != nil {
		w.log.Info("Could not read the filesystem UUID", "device", device, "error", err.Error())
		return ""
	}
	return strings.TrimSpace(stdout)
}

// virtualSizeMB returns the size of the disk inside the image file, rounded
// up to MiB.
func (w *Writer) virtualSizeMB(ctx context.Context, location string) (int, error) {
	stdout, _, err := w.exec.Run(ctx, executor.Cmd("qemu-img", "info", "--output=json", location).WithStandardLocale())
	if err != nil {
		return 0, imageWriteError(location, err)
	}
	var info struct {
		VirtualSize int64 `json:"virtual-size"`
	}
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		return 0, fmt.Errorf("failed to parse qemu-img info of %s: %w", location, err)
	}
	return int((info.VirtualSize + (1<<20 - 1)) >> 20), nil
}

// removeQuietly removes a temporary file.
func (w *Writer) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.log.V(1).Info("Could not remove temporary file", "path", path, "error", err.Error())
	}
}
