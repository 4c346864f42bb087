// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Network sysfs helpers", func() {
	var (
		tmpSysClassNet   string
		tmpBusPciDevices string
		tmpSysDevices    string
	)

	const (
		deviceName = "eth0"
		pciID      = "pci0000:00"
		pciAddress = "0000:00:1f.6"
	)

	linkDevice := func() string {
		sysDevicesNetDir := filepath.Join(tmpSysDevices, pciID, pciAddress, "net", deviceName)
		Expect(os.MkdirAll(sysDevicesNetDir, 0755)).To(Succeed())
		symLink := fmt.Sprintf("../../devices/%s/%s/net/%s", pciID, pciAddress, deviceName)
		Expect(os.Symlink(symLink, filepath.Join(tmpSysClassNet, deviceName))).To(Succeed())
		return sysDevicesNetDir
	}

	linkPCIParent := func(sysDevicesNetDir string) {
		symLink := fmt.Sprintf("../../../%s", pciAddress)
		Expect(os.Symlink(symLink, filepath.Join(sysDevicesNetDir, "device"))).To(Succeed())
	}

	BeforeEach(func() {
		tmpDir := GinkgoT().TempDir()

		tmpSysClassNet = filepath.Join(tmpDir, "sys", "class", "net")
		Expect(os.MkdirAll(tmpSysClassNet, 0755)).To(Succeed())
		tmpBusPciDevices = filepath.Join(tmpDir, "bus", "pci", "devices")
		Expect(os.MkdirAll(tmpBusPciDevices, 0755)).To(Succeed())
		tmpSysDevices = filepath.Join(tmpDir, "sys", "devices")
		Expect(os.MkdirAll(tmpSysDevices, 0755)).To(Succeed())

		origSysClassNet, origBusPciDevices := pathSysClassNet, pathBusPciDevices
		pathSysClassNet, pathBusPciDevices = tmpSysClassNet, tmpBusPciDevices
		DeferCleanup(func() {
			pathSysClassNet, pathBusPciDevices = origSysClassNet, origBusPciDevices
		})
	})

	Describe("netDeviceSpeed", func() {
		BeforeEach(func() {
			linkDevice()
		})

		It("returns the speed in Mbps", func() {
			Expect(os.WriteFile(filepath.Join(tmpSysClassNet, deviceName, "speed"), []byte("1000\n"), 0644)).To(Succeed())
			Expect(netDeviceSpeed(deviceName)).To(Equal(1000))
		})

		It("returns zero for an unknown speed", func() {
			Expect(os.WriteFile(filepath.Join(tmpSysClassNet, deviceName, "speed"), []byte("-1\n"), 0644)).To(Succeed())
			Expect(netDeviceSpeed(deviceName)).To(BeZero())
		})

		It("returns zero if the speed file is missing", func() {
			Expect(netDeviceSpeed(deviceName)).To(BeZero())
		})
	})

	Describe("netDeviceHasCarrier", func() {
		BeforeEach(func() {
			linkDevice()
		})

		It("reads the carrier flag", func() {
			Expect(os.WriteFile(filepath.Join(tmpSysClassNet, deviceName, "carrier"), []byte("1\n"), 0644)).To(Succeed())
			carrier, ok := netDeviceHasCarrier(deviceName)
			Expect(ok).To(BeTrue())
			Expect(carrier).To(BeTrue())
		})

		It("reports an unreadable carrier", func() {
			_, ok := netDeviceHasCarrier(deviceName)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("netDevicePath", func() {
		It("returns the PCI device path for a physical device", func() {
			linkPCIParent(linkDevice())
			Expect(netDevicePath(deviceName)).To(HaveSuffix("/sys/devices/pci0000:00/0000:00:1f.6"))
		})

		It("returns an empty string for a virtual device", func() {
			target := fmt.Sprintf("../../devices/virtual/net/%s", deviceName)
			Expect(os.Symlink(target, filepath.Join(tmpSysClassNet, deviceName))).To(Succeed())
			Expect(netDevicePath(deviceName)).To(BeEmpty())
		})

		It("returns an empty string if the symlink is missing", func() {
			Expect(netDevicePath(deviceName)).To(BeEmpty())
		})

		It("returns an empty string if the device symlink is missing", func() {
			linkDevice()
			Expect(netDevicePath(deviceName)).To(BeEmpty())
		})
	})

	Describe("netDevicePCIAddress", func() {
		BeforeEach(func() {
			linkPCIParent(linkDevice())
		})

		It("returns the PCI address of a PCI device", func() {
			sysDevicePath := filepath.Join(tmpSysDevices, pciID, pciAddress)
			Expect(os.Symlink("../../../bus/pci", filepath.Join(sysDevicePath, "subsystem"))).To(Succeed())
			Expect(netDevicePCIAddress(deviceName)).To(Equal(pciAddress))
		})

		It("returns an empty string for other buses", func() {
			sysDevicePath := filepath.Join(tmpSysDevices, pciID, pciAddress)
			Expect(os.Symlink("../../../bus/usb", filepath.Join(sysDevicePath, "subsystem"))).To(Succeed())
			Expect(netDevicePCIAddress(deviceName)).To(BeEmpty())
		})
	})

	Describe("netDevicePCIIDs", func() {
		It("returns nil if the PCI address is not found", func() {
			Expect(netDevicePCIIDs(deviceName)).To(BeNil())
		})

		Context("when the device sits on the PCI bus", func() {
			var pciDeviceDir string

			BeforeEach(func() {
				linkPCIParent(linkDevice())
				sysDevicePath := filepath.Join(tmpSysDevices, pciID, pciAddress)
				Expect(os.Symlink("../../../bus/pci", filepath.Join(sysDevicePath, "subsystem"))).To(Succeed())
				pciDeviceDir = filepath.Join(tmpBusPciDevices, pciAddress)
				Expect(os.MkdirAll(pciDeviceDir, 0755)).To(Succeed())
			})

			It("decodes the modalias", func() {
				modalias := "pci:v000010DEd00001C82sv00001043sd00008613bc03sc00i00"
				Expect(os.WriteFile(filepath.Join(pciDeviceDir, "modalias"), []byte(modalias), 0644)).To(Succeed())

				ids := netDevicePCIIDs(deviceName)
				Expect(ids).NotTo(BeNil())
				Expect(ids.vendorID).To(Equal("10de"))
				Expect(ids.productID).To(Equal("1c82"))
				Expect(ids.class).To(Equal("03"))
			})

			It("returns nil if the modalias file is missing", func() {
				Expect(netDevicePCIIDs(deviceName)).To(BeNil())
			})

			It("returns nil for a truncated modalias", func() {
				Expect(os.WriteFile(filepath.Join(pciDeviceDir, "modalias"), []byte("pci:tooshort"), 0644)).To(Succeed())
				Expect(netDevicePCIIDs(deviceName)).To(BeNil())
			})

			It("returns nil for a non PCI modalias", func() {
				modalias := "usb:v1D6Bp0001d0206dc09dsc00dp00ic09isc00ip00"
				Expect(os.WriteFile(filepath.Join(pciDeviceDir, "modalias"), []byte(modalias), 0644)).To(Succeed())
				Expect(netDevicePCIIDs(deviceName)).To(BeNil())
			})
		})
	})
})
