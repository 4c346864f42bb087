// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/jaypipes/ghw"
)

// SystemVendor reports product, serial number and manufacturer. lshw is
// authoritative; DMI data read by ghw fills the gaps.
func (c *Collector) SystemVendor(ctx context.Context) registry.SystemVendorInfo {
	info := registry.SystemVendorInfo{}
	if report, err := c.lshwReport(ctx); err != nil {
		c.log.Info("Could not retrieve vendor info from lshw", "error", err.Error())
	} else {
		info.ProductName = report.Product
		info.SerialNumber = report.Serial
		info.Manufacturer = report.Vendor
	}

	if info.ProductName != "" && info.SerialNumber != "" && info.Manufacturer != "" {
		return info
	}
	product, err := ghw.Product()
	if err != nil {
		c.log.V(1).Info("Could not retrieve product info from DMI", "error", err.Error())
		return info
	}
	info.ProductName = firstNonEmpty(info.ProductName, product.Name)
	info.SerialNumber = firstNonEmpty(info.SerialNumber, product.SerialNumber)
	info.Manufacturer = firstNonEmpty(info.Manufacturer, product.Vendor)
	return info
}

// DMI returns the BIOS, system and baseboard tables, or nil when DMI is not
// readable.
func (c *Collector) DMI() *registry.DMI {
	product, err := ghw.Product()
	if err != nil {
		c.log.V(1).Info("Could not read DMI product table", "error", err.Error())
		return nil
	}
	bios, err := ghw.BIOS()
	if err != nil {
		c.log.V(1).Info("Could not read DMI BIOS table", "error", err.Error())
		return nil
	}
	baseboard, err := ghw.Baseboard()
	if err != nil {
		c.log.V(1).Info("Could not read DMI baseboard table", "error", err.Error())
		return nil
	}
	return &registry.DMI{
		BIOS: registry.BIOSInformation{
			Vendor:  bios.Vendor,
			Version: bios.Version,
			Date:    bios.Date,
		},
		System: registry.SystemInformation{
			Manufacturer: product.Vendor,
			ProductName:  product.Name,
			Version:      product.Version,
			SerialNumber: product.SerialNumber,
			UUID:         product.UUID,
			SKUNumber:    product.SKU,
			Family:       product.Family,
		},
		Baseboard: registry.BoardInformation{
			Manufacturer: baseboard.Vendor,
			Product:      baseboard.Product,
			Version:      baseboard.Version,
			SerialNumber: baseboard.SerialNumber,
			AssetTag:     baseboard.AssetTag,
		},
	}
}

// PCIDevices lists the PCI devices known to the PCI ID database.
func (c *Collector) PCIDevices() []registry.PCIDevice {
	pci, err := ghw.PCI()
	if err != nil {
		c.log.V(1).Info("Could not get PCI info", "error", err.Error())
		return nil
	}

	devices := make([]registry.PCIDevice, 0, len(pci.Devices))
	for _, p := range pci.Devices {
		dev := registry.PCIDevice{Address: p.Address, NumaNodeID: -1}
		if p.Node != nil {
			dev.NumaNodeID = p.Node.ID
		}
		if p.Vendor != nil {
			dev.Vendor, dev.VendorID = p.Vendor.Name, p.Vendor.ID
		}
		if p.Product != nil {
			dev.Product, dev.ProductID = p.Product.Name, p.Product.ID
		}
		if p.Class != nil {
			dev.Class = p.Class.Name
		}
		devices = append(devices, dev)
	}
	return devices
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
