// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const lengthModalias = 53

// pciIDs are the identifiers encoded in a PCI modalias string such as
// pci:v00008086d000024DBsv0000103Csd0000006Abc01sc01i8A.
type pciIDs struct {
	vendorID  string
	productID string
	class     string
}

func netDeviceSpeed(iface string) int {
	speed, err := ToInt(filepath.Join(pathSysClassNet, iface, "speed"))
	if err != nil || speed < 0 {
		return 0
	}
	return speed
}

func netDeviceHasCarrier(iface string) (bool, bool) {
	carrier, err := ToBool(filepath.Join(pathSysClassNet, iface, "carrier"))
	if err != nil {
		return false, false
	}
	return carrier, true
}

// netDevicePath resolves the sysfs device directory backing iface. Virtual
// interfaces have none.
func netDevicePath(iface string) string {
	link, err := os.Readlink(filepath.Join(pathSysClassNet, iface)) // ../../devices/pci0000:00/0000:00:1f.6/net/eth0
	if err != nil {
		return ""
	}
	ifacePath := filepath.Clean(filepath.Join(pathSysClassNet, link))
	if strings.Contains(ifacePath, "devices/virtual/net") {
		return ""
	}
	deviceLink, err := os.Readlink(filepath.Join(ifacePath, "device")) // ../../../0000:00:1f.6
	if err != nil {
		return ""
	}
	return filepath.Clean(filepath.Join(ifacePath, deviceLink))
}

func netDevicePCIAddress(iface string) string {
	devicePath := netDevicePath(iface)
	if devicePath == "" {
		return ""
	}
	subsystem, err := os.Readlink(filepath.Join(devicePath, "subsystem"))
	if err != nil || filepath.Base(subsystem) != "pci" {
		return ""
	}
	return filepath.Base(devicePath)
}

func netDevicePCIIDs(iface string) *pciIDs {
	address := netDevicePCIAddress(iface)
	if address == "" {
		return nil
	}
	return parseModalias(filepath.Join(pathBusPciDevices, address, "modalias"))
}

func parseModalias(path string) *pciIDs {
	modalias, err := ToString(path)
	if err != nil || len(modalias) != lengthModalias || !strings.EqualFold(modalias[0:3], "pci") {
		return nil
	}
	// v{8} d{8} sv{8} sd{8} bc{2} sc{2} i{2}; IDs are the low 16 bits.
	if _, err := strconv.ParseUint(modalias[5:13]+modalias[14:22], 16, 64); err != nil {
		return nil
	}
	return &pciIDs{
		vendorID:  strings.ToLower(modalias[9:13]),
		productID: strings.ToLower(modalias[18:22]),
		class:     strings.ToLower(modalias[44:46]),
	}
}
