// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor/executortest"
	"github.com/ironcore-dev/metal-agent/internal/probe"
)

const lsblkCmd = "lsblk -Pbia -oKNAME,MODEL,SIZE,ROTA,TYPE"

const blkDevices = `KNAME="sda" MODEL="TinyUSB Drive" SIZE="3116853504" ROTA="0" TYPE="disk" SERIAL="123"
KNAME="sdb" MODEL="Fastable SD131 7" SIZE="10737418240" ROTA="0" TYPE="disk"
KNAME="sdc" MODEL="NWD-BLP4-1600   " SIZE="1765517033472"  ROTA="0" TYPE="disk"
KNAME="loop0" MODEL="" SIZE="109109248" ROTA="1" TYPE="loop"
KNAME="zram0" MODEL="" SIZE="" ROTA="0" TYPE="disk"
KNAME="ram0" MODEL="" SIZE="8388608" ROTA="0" TYPE="disk"
KNAME="sdf" MODEL="virtual floppy" SIZE="0" ROTA="1" TYPE="disk"`

const raidBlkDevices = `KNAME="sda" MODEL="DRIVE 0" SIZE="1765517033472" ROTA="1" TYPE="disk"
KNAME="sda1" MODEL="DRIVE 0" SIZE="107373133824" ROTA="1" TYPE="part"
KNAME="sdb" MODEL="DRIVE 1" SIZE="1765517033472" ROTA="1" TYPE="disk"
KNAME="sdb" MODEL="DRIVE 1" SIZE="1765517033472" ROTA="1" TYPE="disk"
KNAME="sdb1" MODEL="DRIVE 1" SIZE="107373133824" ROTA="1" TYPE="part"
KNAME="md0p1" MODEL="RAID" SIZE="107236818944" ROTA="0" TYPE="md"
KNAME="md0" MODEL="RAID" SIZE="1765517033470" ROTA="0" TYPE="raid1"
KNAME="md0" MODEL="RAID" SIZE="1765517033470" ROTA="0" TYPE="raid1"
KNAME="md1" MODEL="RAID" SIZE="" ROTA="0" TYPE="raid1"`

var _ = Describe("Lister", func() {
	var (
		ctx    context.Context
		fake   *executortest.Fake
		lister *Lister
		tmp    string
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = executortest.New()
		fake.On("udevadm settle", executortest.Response{})
		lister = NewLister(logr.Discard(), probe.NewCollector(logr.Discard(), fake.Executor()))

		tmp = GinkgoT().TempDir()
		orig := []string{pathDevDiskByPath, pathSysBlock, pathSysClassBlock}
		pathDevDiskByPath = filepath.Join(tmp, "by-path")
		pathSysBlock = filepath.Join(tmp, "sys", "block")
		pathSysClassBlock = filepath.Join(tmp, "sys", "class", "block")
		DeferCleanup(func() {
			pathDevDiskByPath, pathSysBlock, pathSysClassBlock = orig[0], orig[1], orig[2]
		})
	})

	names := func(devices []registry.BlockDevice) []string {
		var result []string
		for _, d := range devices {
			result = append(result, d.Name)
		}
		return result
	}

	It("lists disks and skips RAM, loop and empty devices", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: blkDevices})
		devices, err := lister.ListAllBlockDevices(ctx, ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(devices)).To(Equal([]string{"/dev/sda", "/dev/sdb", "/dev/sdc"}))
		Expect(devices[2].Model).To(Equal("NWD-BLP4-1600"))
		Expect(devices[1].Size).To(Equal(int64(10737418240)))
		Expect(fake.CallCount("udevadm settle")).To(Equal(1))
	})

	It("deduplicates and keeps RAID arrays with disks", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: raidBlkDevices})
		devices, err := lister.ListAllBlockDevices(ctx, ListOptions{IncludeEmpty: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(devices)).To(Equal([]string{"/dev/sda", "/dev/sdb", "/dev/md0", "/dev/md1"}))
		Expect(devices[3].Size).To(BeZero())
		Expect(devices[2].Rotational).To(BeFalse())
	})

	It("drops RAID arrays when ignoring RAID", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: raidBlkDevices})
		devices, err := lister.ListAllBlockDevices(ctx, ListOptions{IgnoreRAID: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(devices)).To(Equal([]string{"/dev/sda", "/dev/sdb"}))
	})

	It("lists partitions including RAID partitions", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: raidBlkDevices})
		devices, err := lister.ListAllBlockDevices(ctx, ListOptions{Type: TypePart})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(devices)).To(Equal([]string{"/dev/sda1", "/dev/sdb1", "/dev/md0p1"}))
	})

	It("appends partitions on request", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: raidBlkDevices})
		devices, err := lister.ListBlockDevices(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(names(devices)).To(Equal([]string{"/dev/sda", "/dev/sdb", "/dev/md0", "/dev/sda1", "/dev/sdb1"}))
	})

	It("ignores records of unknown type", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: `TYPE="foo" MODEL="model"`})
		Expect(lister.ListAllBlockDevices(ctx, ListOptions{})).To(BeEmpty())
	})

	It("fails on missing columns", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: `TYPE="disk" MODEL="model"`})
		_, err := lister.ListAllBlockDevices(ctx, ListOptions{})
		Expect(err).To(MatchError("Block device caused unknown error: KNAME, ROTA, SIZE must be returned by lsblk."))
		Expect(errdefs.ReasonForError(err)).To(Equal(errdefs.ReasonBlockDevice))
	})

	It("enriches devices with udev and sysfs facts", func() {
		fake.On(lsblkCmd, executortest.Response{Stdout: `KNAME="sda" MODEL="TinyUSB Drive" SIZE="3116853504" ROTA="0" TYPE="disk"`})
		fake.On("udevadm info --query=property --name=/dev/sda", executortest.Response{
			Stdout: "ID_WWN=wwn0\nID_SERIAL_SHORT=serial0\nID_WWN_WITH_EXTENSION=wwn-ext0\nID_WWN_VENDOR_EXTENSION=wwn-vendor-ext0\n",
		})

		Expect(os.MkdirAll(filepath.Join(pathSysBlock, "sda", "device", "scsi_device", "1:0:0:0"), 0755)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(pathSysClassBlock, "sda", "device"), 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(pathSysClassBlock, "sda", "device", "vendor"), []byte("Super Vendor\n"), 0644)).To(Succeed())
		Expect(os.MkdirAll(pathDevDiskByPath, 0755)).To(Succeed())
		Expect(os.Symlink("../../sda", filepath.Join(pathDevDiskByPath, "pci-0000:00:1f.2-ata-1"))).To(Succeed())

		devices, err := lister.ListAllBlockDevices(ctx, ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(Equal([]registry.BlockDevice{{
			Name:               "/dev/sda",
			Model:              "TinyUSB Drive",
			Size:               3116853504,
			Vendor:             "Super Vendor",
			Serial:             "serial0",
			WWN:                "wwn0",
			WWNWithExtension:   "wwn-ext0",
			WWNVendorExtension: "wwn-vendor-ext0",
			ByPath:             filepath.Join(pathDevDiskByPath, "pci-0000:00:1f.2-ata-1"),
			HCTL:               "1:0:0:0",
		}}))
	})
})
