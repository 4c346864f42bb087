// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"github.com/safchain/ethtool"
)

// driverInfo returns the kernel driver and firmware version of iface.
func (c *Collector) driverInfo(iface string) (driver, firmware string) {
	handle, err := ethtool.NewEthtool()
	if err != nil {
		c.log.V(1).Info("Could not open ethtool socket", "error", err.Error())
		return "", ""
	}
	defer handle.Close()

	info, err := handle.DriverInfo(iface)
	if err != nil {
		c.log.V(1).Info("Failed to get driver info", "interface", iface, "error", err.Error())
		return "", ""
	}
	return info.Driver, info.FwVersion
}
