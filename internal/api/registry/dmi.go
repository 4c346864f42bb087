// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

type DMI struct {
	BIOS      BIOSInformation   `json:"bios"`
	System    SystemInformation `json:"system"`
	Baseboard BoardInformation  `json:"baseboard"`
}

type BIOSInformation struct {
	Vendor  string `json:"vendor"`
	Version string `json:"version"`
	Date    string `json:"date"`
}

type SystemInformation struct {
	Manufacturer string `json:"manufacturer"`
	ProductName  string `json:"product_name"`
	Version      string `json:"version"`
	SerialNumber string `json:"serial_number"`
	UUID         string `json:"uuid"`
	SKUNumber    string `json:"sku_number"`
	Family       string `json:"family"`
}

type BoardInformation struct {
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Version      string `json:"version"`
	SerialNumber string `json:"serial_number"`
	AssetTag     string `json:"asset_tag"`
}
