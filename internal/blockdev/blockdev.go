// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package blockdev builds the block device inventory of the machine and
// selects the device the operating system is installed to.
package blockdev

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/probe"
)

var (
	pathDevDiskByPath  = "/dev/disk/by-path"
	pathDevDiskByLabel = "/dev/disk/by-label"
	pathSysBlock       = "/sys/block"
	pathSysClassBlock  = "/sys/class/block"
)

// Block device types as reported by lsblk. Software RAID arrays report their
// level, e.g. raid1.
const (
	TypeDisk = "disk"
	TypePart = "part"
	TypeRAID = "raid"
	TypeMD   = "md"
)

// ListOptions controls which devices ListAllBlockDevices returns.
type ListOptions struct {
	// Type is the wanted lsblk device type. Defaults to disk.
	Type string
	// IncludeEmpty keeps devices reporting a size of zero.
	IncludeEmpty bool
	// IgnoreRAID drops every device whose type differs from Type, including
	// RAID arrays that would otherwise count as disks.
	IgnoreRAID bool
}

// Lister enumerates block devices through lsblk and udev.
type Lister struct {
	collector *probe.Collector
	log       logr.Logger
}

func NewLister(log logr.Logger, collector *probe.Collector) *Lister {
	return &Lister{collector: collector, log: log}
}

// ListAllBlockDevices returns the block devices of the requested type in
// lsblk order. Every device name is reported once; the first record wins.
func (l *Lister) ListAllBlockDevices(ctx context.Context, opts ListOptions) ([]registry.BlockDevice, error) {
	blockType := opts.Type
	if blockType == "" {
		blockType = TypeDisk
	}

	l.collector.UdevSettle(ctx)
	byPath := byPathLinks()

	records, err := l.collector.ListBlockDevices(ctx)
	if err != nil {
		return nil, errdefs.NewBlockDeviceError("Unable to list block devices: %v", err).Wrap(err)
	}

	var devices []registry.BlockDevice
	seen := map[string]bool{}
	for _, record := range records {
		name := record["KNAME"]
		if name != "" {
			if seen[name] {
				continue
			}
			seen[name] = true
		}

		if !l.typeMatches(record, blockType, opts.IgnoreRAID) {
			continue
		}

		var missing []string
		for _, key := range []string{"KNAME", "ROTA", "SIZE"} {
			if _, ok := record[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return nil, errdefs.NewBlockDeviceError("%s must be returned by lsblk.", strings.Join(missing, ", "))
		}

		if strings.HasPrefix(name, "ram") || strings.HasPrefix(name, "zram") {
			l.log.V(1).Info("Skipping RAM device", "device", name)
			continue
		}
		var size int64
		if record["SIZE"] != "" {
			if size, err = strconv.ParseInt(record["SIZE"], 10, 64); err != nil {
				return nil, errdefs.NewBlockDeviceError("Invalid size %q reported for %s", record["SIZE"], name)
			}
		}
		if size == 0 && !opts.IncludeEmpty {
			l.log.V(1).Info("Skipping device without size", "device", name)
			continue
		}

		device := registry.BlockDevice{
			Name:       "/dev/" + name,
			Model:      record["MODEL"],
			Size:       size,
			Rotational: record["ROTA"] == "1",
			Vendor:     deviceVendor(name),
			HCTL:       deviceHCTL(name),
			ByPath:     byPath["/dev/"+name],
		}
		if props := l.collector.UdevProperties(ctx, device.Name); props != nil {
			device.WWN = props["ID_WWN"]
			device.Serial = props["ID_SERIAL_SHORT"]
			device.WWNWithExtension = props["ID_WWN_WITH_EXTENSION"]
			device.WWNVendorExtension = props["ID_WWN_VENDOR_EXTENSION"]
			device.PartUUID = props["ID_PART_ENTRY_UUID"]
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func (l *Lister) typeMatches(record map[string]string, blockType string, ignoreRAID bool) bool {
	devType := record["TYPE"]
	if devType == blockType {
		return true
	}
	switch {
	case devType == "" || ignoreRAID:
	case strings.Contains(devType, TypeRAID) && (blockType == TypeRAID || blockType == TypeDisk):
		return true
	case devType == TypeMD && (blockType == TypePart || blockType == TypeMD):
		return true
	}
	l.log.V(1).Info("Skipping device with unwanted type", "device", record["KNAME"], "type", devType, "wanted", blockType)
	return false
}

// ListBlockDevices returns disks and RAID arrays, followed by the partitions
// when includePartitions is set.
func (l *Lister) ListBlockDevices(ctx context.Context, includePartitions bool) ([]registry.BlockDevice, error) {
	devices, err := l.ListAllBlockDevices(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	if !includePartitions {
		return devices, nil
	}
	partitions, err := l.ListAllBlockDevices(ctx, ListOptions{Type: TypePart, IgnoreRAID: true})
	if err != nil {
		return nil, err
	}
	return append(devices, partitions...), nil
}

// byPathLinks maps device paths to their /dev/disk/by-path link. The first
// link in directory order wins.
func byPathLinks() map[string]string {
	links := map[string]string{}
	entries, err := os.ReadDir(pathDevDiskByPath)
	if err != nil {
		return links
	}
	for _, entry := range entries {
		link := filepath.Join(pathDevDiskByPath, entry.Name())
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		device := "/dev/" + filepath.Base(target)
		if _, ok := links[device]; !ok {
			links[device] = link
		}
	}
	return links
}

func deviceVendor(name string) string {
	vendor, err := probe.ToString(filepath.Join(pathSysClassBlock, name, "device", "vendor"))
	if err != nil {
		return ""
	}
	return vendor
}

func deviceHCTL(name string) string {
	entries, err := os.ReadDir(filepath.Join(pathSysBlock, name, "device", "scsi_device"))
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[0].Name()
}
