// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

// Inventory is a snapshot of the hardware facts of a node.
type Inventory struct {
	Memory       Memory             `json:"memory"`
	CPU          CPU                `json:"cpu"`
	Disks        []BlockDevice      `json:"disks"`
	Interfaces   []NetworkInterface `json:"interfaces"`
	Boot         BootInfo           `json:"boot"`
	BMCAddress   string             `json:"bmc_address,omitempty"`
	BMCV6Address string             `json:"bmc_v6address,omitempty"`
	SystemVendor SystemVendorInfo   `json:"system_vendor"`
	Hostname     string             `json:"hostname"`
	DMI          *DMI               `json:"dmi,omitempty"`
	PCIDevices   []PCIDevice        `json:"pci_devices,omitempty"`
}

type BootInfo struct {
	CurrentBootMode string `json:"current_boot_mode"`
	PXEInterface    string `json:"pxe_interface,omitempty"`
}

type SystemVendorInfo struct {
	ProductName  string `json:"product_name"`
	SerialNumber string `json:"serial_number"`
	Manufacturer string `json:"manufacturer"`
}
