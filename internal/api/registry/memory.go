// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

type Memory struct {
	Total      int64          `json:"total"`
	PhysicalMB int64          `json:"physical_mb,omitempty"`
	Devices    []MemoryDevice `json:"devices,omitempty"`
}

// MemoryDevice is a DIMM as reported by SMBIOS.
type MemoryDevice struct {
	SizeBytes     int64  `json:"size"`
	DeviceLocator string `json:"device_locator"`
	BankLocator   string `json:"bank_locator"`
	MemoryType    string `json:"memory_type"`
	Speed         string `json:"speed"`
	Vendor        string `json:"vendor"`
	SerialNumber  string `json:"serial_number"`
	PartNumber    string `json:"part_number"`
}
