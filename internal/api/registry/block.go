// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

// BlockDevice is a disk, RAID volume or partition as seen by one inventory
// scan. Two devices are equal when all fields are equal.
type BlockDevice struct {
	Name               string `json:"name"`
	Model              string `json:"model"`
	Size               int64  `json:"size"`
	Rotational         bool   `json:"rotational"`
	Vendor             string `json:"vendor,omitempty"`
	Serial             string `json:"serial,omitempty"`
	WWN                string `json:"wwn,omitempty"`
	WWNWithExtension   string `json:"wwn_with_extension,omitempty"`
	WWNVendorExtension string `json:"wwn_vendor_extension,omitempty"`
	ByPath             string `json:"by_path,omitempty"`
	HCTL               string `json:"hctl,omitempty"`
	PartUUID           string `json:"partuuid,omitempty"`
}
