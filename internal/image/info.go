// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package image downloads, verifies and writes instance images.
package image

import (
	"path/filepath"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/probe"
)

// Image types.
const (
	TypeWholeDisk = "whole-disk-image"
	TypePartition = "partition"
)

const (
	FormatRaw       = "raw"
	BootOptionLocal = "local"
)

// Info describes an image and how to deploy it.
type Info struct {
	ID       string   `json:"id"`
	NodeUUID string   `json:"node_uuid,omitempty"`
	URLs     []string `json:"urls"`
	// Checksum is the legacy MD5 checksum of the image, or the URL of a
	// checksum file listing it.
	Checksum    string `json:"checksum,omitempty"`
	OSHashAlgo  string `json:"os_hash_algo,omitempty"`
	OSHashValue string `json:"os_hash_value,omitempty"`

	ImageType       string `json:"image_type,omitempty"`
	DiskFormat      string `json:"disk_format,omitempty"`
	StreamRawImages bool   `json:"stream_raw_images,omitempty"`

	// Geometry of partition images.
	RootMB            int    `json:"root_mb,omitempty"`
	SwapMB            int    `json:"swap_mb,omitempty"`
	EphemeralMB       int    `json:"ephemeral_mb,omitempty"`
	EphemeralFormat   string `json:"ephemeral_format,omitempty"`
	PreserveEphemeral bool   `json:"preserve_ephemeral,omitempty"`
	Configdrive       string `json:"configdrive,omitempty"`
	BootOption        string `json:"boot_option,omitempty"`
	DiskLabel         string `json:"disk_label,omitempty"`
	DeployBootMode    string `json:"deploy_boot_mode,omitempty"`

	// Proxies maps a URL scheme to the proxy used for it.
	Proxies map[string]string `json:"proxies,omitempty"`
	NoProxy string            `json:"no_proxy,omitempty"`
}

// Validate checks that info names an image and a way to verify it.
func (i *Info) Validate() error {
	if i == nil {
		return errdefs.NewInvalidCommandParamsError("Image information is missing")
	}
	if i.ID == "" {
		return errdefs.NewInvalidCommandParamsError("Image is missing the 'id' field.")
	}
	if i.URLs == nil {
		return errdefs.NewInvalidCommandParamsError("Image is missing the 'urls' field.")
	}
	if len(i.URLs) == 0 {
		return errdefs.NewInvalidCommandParamsError("Image 'urls' must be a list with at least one element.")
	}
	for _, u := range i.URLs {
		if strings.TrimSpace(u) == "" {
			return errdefs.NewInvalidCommandParamsError("Image 'urls' must not contain empty URLs.")
		}
	}
	if (i.OSHashAlgo == "") != (i.OSHashValue == "") {
		return errdefs.NewInvalidCommandParamsError("Image 'os_hash_algo' and 'os_hash_value' must be given together.")
	}
	if i.Checksum == "" && i.OSHashAlgo == "" {
		return errdefs.NewInvalidCommandParamsError("Image 'checksum' must be a non-empty string.")
	}
	if !i.IsWholeDisk() && i.RootMB <= 0 {
		return errdefs.NewInvalidCommandParamsError("Image 'root_mb' must be positive for partition images.")
	}
	return nil
}

// IsWholeDisk reports whether the image carries its own partition table.
func (i *Info) IsWholeDisk() bool {
	return i.ImageType != TypePartition
}

// Streamed reports whether the image is written straight to its target
// without a local copy.
func (i *Info) Streamed() bool {
	return i.DiskFormat == FormatRaw && i.StreamRawImages
}

// BootMode returns the requested boot mode, or the current one.
func (i *Info) BootMode() string {
	if i.DeployBootMode != "" {
		return i.DeployBootMode
	}
	return probe.BootMode()
}

func (i *Info) localBoot() bool {
	return i.BootOption == BootOptionLocal
}

// Label returns the partition table type for partition images.
func (i *Info) Label() string {
	if i.DiskLabel != "" {
		return i.DiskLabel
	}
	if i.BootMode() == probe.BootModeUEFI {
		return probe.PartitionTableGPT
	}
	return probe.PartitionTableMSDOS
}

// Location returns the path the image is cached at below dir.
func (i *Info) Location(dir string) string {
	return filepath.Join(dir, i.ID)
}
