// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/siderolabs/go-smbios/smbios"
)

func (c *Collector) memoryDevices() []registry.MemoryDevice {
	sm, err := smbios.New()
	if err != nil {
		c.log.V(1).Info("SMBIOS is not readable", "error", err.Error())
		return nil
	}

	var devices []registry.MemoryDevice
	for _, m := range sm.MemoryDevices {
		if m.Size == 0 {
			continue
		}
		devices = append(devices, registry.MemoryDevice{
			SizeBytes:     int64(m.Size.Megabytes()) << 20,
			DeviceLocator: m.DeviceLocator,
			BankLocator:   m.BankLocator,
			MemoryType:    m.MemoryType.String(),
			Speed:         m.Speed.String(),
			Vendor:        m.Manufacturer,
			SerialNumber:  m.SerialNumber,
			PartNumber:    m.PartNumber,
		})
	}
	return devices
}
