// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

func (c *Collector) driverInfo(string) (driver, firmware string) {
	return "", ""
}
