// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

type NetworkInterface struct {
	Name            string     `json:"name"`
	MACAddress      string     `json:"mac_address"`
	IPv4Address     string     `json:"ipv4_address,omitempty"`
	IPv6Address     string     `json:"ipv6_address,omitempty"`
	HasCarrier      bool       `json:"has_carrier"`
	Vendor          string     `json:"vendor,omitempty"`
	Product         string     `json:"product,omitempty"`
	SpeedMbps       int        `json:"speed_mbps,omitempty"`
	PCIAddress      string     `json:"pci_address,omitempty"`
	Driver          string     `json:"driver,omitempty"`
	FirmwareVersion string     `json:"firmware_version,omitempty"`
	LLDP            []Neighbor `json:"lldp,omitempty"`
}
