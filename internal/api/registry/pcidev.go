// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

type PCIDevice struct {
	Address    string `json:"address,omitempty"`
	Class      string `json:"class,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	VendorID   string `json:"vendor_id,omitempty"`
	Product    string `json:"product,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	NumaNodeID int    `json:"numa_node_id,omitempty"`
}
