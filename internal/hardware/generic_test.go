// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hardware_test

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/erase"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor/executortest"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
)

const (
	lsblkCmd = "lsblk -Pbia -oKNAME,MODEL,SIZE,ROTA,TYPE"

	lsblkDisks = `KNAME="sdx" MODEL="small" SIZE="2147483648" ROTA="1" TYPE="disk"
KNAME="sdy" MODEL="big" SIZE="107374182400" ROTA="0" TYPE="disk"
KNAME="sdz" MODEL="medium" SIZE="10737418240" ROTA="1" TYPE="disk"`
)

var _ = Describe("GenericManager", func() {
	var (
		ctx     context.Context
		fake    *executortest.Fake
		nodes   *hardware.NodeCache
		opts    hardware.GenericOptions
		generic *hardware.GenericManager
		node    *registry.Node
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = executortest.New()
		fake.On("udevadm settle", executortest.Response{})
		fake.On(lsblkCmd, executortest.Response{Stdout: lsblkDisks})
		nodes = &hardware.NodeCache{}
		opts = hardware.DefaultGenericOptions()
		opts.DiskWaitAttempts = 2
		opts.DiskWaitDelay = time.Millisecond
		node = &registry.Node{UUID: "1be26c0b-03f2-4d2e-ae87-c02d7f33c123"}
	})

	JustBeforeEach(func() {
		generic = hardware.NewGenericManager(logr.Discard(), fake.Executor(), nodes, opts)
	})

	Describe("install device", func() {
		It("picks the smallest device above the floor", func() {
			Expect(generic.GetOSInstallDevice(ctx, node)).To(Equal("/dev/sdz"))
		})

		It("honours root device hints", func() {
			node.Properties.RootDevice = registry.RootDeviceHints{"model": "big"}
			Expect(generic.GetOSInstallDevice(ctx, node)).To(Equal("/dev/sdy"))
		})

		It("falls back to the cached node", func() {
			nodes.Set(&registry.Node{Properties: registry.NodeProperties{RootDevice: registry.RootDeviceHints{"rotational": false}}})
			Expect(generic.GetOSInstallDevice(ctx, nil)).To(Equal("/dev/sdy"))
		})

		It("reports hints matching nothing", func() {
			node.Properties.RootDevice = registry.RootDeviceHints{"serial": "nope"}
			_, err := generic.GetOSInstallDevice(ctx, node)
			Expect(errdefs.IsDeviceNotFound(err)).To(BeTrue())
		})
	})

	Describe("hardware support", func() {
		It("assembles RAID and declares generic support", func() {
			fake.On("mdadm --assemble --scan --verbose", executortest.Response{})
			Expect(generic.EvaluateHardwareSupport(ctx)).To(Equal(hardware.SupportGeneric))
			Expect(fake.CallCount("iscsistart -f")).To(Equal(1))
			Expect(fake.CallCount("iscsistart -b")).To(BeZero())
			Expect(fake.CallCount("mdadm --assemble --scan --verbose")).To(Equal(1))
			Expect(fake.CallCount(lsblkCmd)).To(Equal(1))
		})

		It("starts iSCSI when a target is configured", func() {
			fake.On("iscsistart -f", executortest.Response{})
			fake.On("iscsistart -b", executortest.Response{})
			generic.EvaluateHardwareSupport(ctx)
			Expect(fake.CallCount("iscsistart -b")).To(Equal(1))
		})

		It("gives up waiting for disks after the configured attempts", func() {
			nodes.Set(&registry.Node{Properties: registry.NodeProperties{RootDevice: registry.RootDeviceHints{"serial": "nope"}}})
			Expect(generic.EvaluateHardwareSupport(ctx)).To(Equal(hardware.SupportGeneric))
			Expect(fake.CallCount(lsblkCmd)).To(Equal(2))
		})
	})

	Describe("erase devices", func() {
		It("dispatches every device to the best eraser", func() {
			vendor := &eraserManager{fakeManager: fakeManager{name: "vendor", support: hardware.SupportMainline}}
			fake.On("mdadm --assemble --scan --verbose", executortest.Response{})
			r := hardware.NewRegistry(logr.Discard(), generic, vendor)
			node.DriverInternalInfo.DiskErasureConcurrency = ptr.To(3)

			outcomes, err := hardware.ExecuteCleanStep(ctx, r, node, hardware.OpEraseDevices)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(Equal(map[string]erase.Outcome{
				"/dev/sdx": erase.OutcomeSuccess,
				"/dev/sdy": erase.OutcomeSuccess,
				"/dev/sdz": erase.OutcomeSuccess,
			}))
			Expect(vendor.erased).To(ConsistOf("/dev/sdx", "/dev/sdy", "/dev/sdz"))
		})

		It("falls back to shred for devices the vendor declines", func() {
			vendor := &eraserManager{
				fakeManager: fakeManager{name: "vendor", support: hardware.SupportMainline},
				fail: func(device string) error {
					if device == "/dev/sdy" {
						return errdefs.NewIncompatibleHardwareMethodError("not mine")
					}
					return nil
				},
			}
			fake.On("shred --force --zero --verbose --iterations 1 /dev/sdy", executortest.Response{})
			hardware.NewRegistry(logr.Discard(), generic, vendor)

			outcomes, err := generic.EraseDevices(ctx, node)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveKeyWithValue("/dev/sdy", erase.OutcomeSuccess))
			Expect(vendor.erased).To(ConsistOf("/dev/sdx", "/dev/sdz"))
			Expect(fake.CallCount("shred --force --zero --verbose --iterations 1 /dev/sdy")).To(Equal(1))
		})

		It("reports devices nobody can erase", func() {
			outcomes, err := generic.EraseDevices(ctx, node)
			Expect(errdefs.IsBlockDeviceEraseError(err)).To(BeTrue())
			Expect(outcomes).To(HaveLen(3))
			Expect(outcomes).To(HaveKeyWithValue("/dev/sdx", erase.OutcomeError))
		})
	})

	Describe("RAID", func() {
		It("validates through the engine", func() {
			config := &registry.RAIDConfig{LogicalDisks: []registry.LogicalDisk{
				{SizeGB: intstr.FromString("MAX"), RAIDLevel: "1", Controller: "software"},
				{SizeGB: intstr.FromString("MAX"), RAIDLevel: "0", Controller: "software"},
			}}
			err := generic.ValidateConfiguration(ctx, node, config)
			Expect(errdefs.IsSoftwareRAIDError(err)).To(BeTrue())
		})

		It("echoes an empty configuration when nothing is requested", func() {
			Expect(generic.CreateConfiguration(ctx, node)).To(Equal(&registry.RAIDConfig{}))
		})

		It("creates the configuration of the cached node", func() {
			node.TargetRAIDConfig = &registry.RAIDConfig{LogicalDisks: []registry.LogicalDisk{
				{SizeGB: intstr.FromString("MAX"), RAIDLevel: "5", Controller: "software"},
			}}
			nodes.Set(node)

			_, err := generic.CreateConfiguration(ctx, nil)
			Expect(errdefs.IsSoftwareRAIDError(err)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring(node.UUID)))
		})

		It("refuses to create a configuration without any node", func() {
			_, err := generic.CreateConfiguration(ctx, nil)
			Expect(errdefs.IsInvalidCommandParams(err)).To(BeTrue())
		})

		It("deletes the configuration without any node", func() {
			config, err := generic.DeleteConfiguration(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(config).To(Equal(&registry.RAIDConfig{}))
			Expect(fake.CallCount("mdadm --examine /dev/sdx")).To(Equal(1))
		})
	})

	It("offers the generic clean steps", func() {
		steps, err := generic.GetCleanSteps(ctx, node)
		Expect(err).NotTo(HaveOccurred())
		Expect(steps).To(ContainElement(hardware.CleanStep{
			Step: hardware.OpEraseDevices, Priority: 10, Interface: hardware.InterfaceDeploy, Abortable: true,
		}))
	})
})

var _ = Describe("InfoCache", func() {
	It("collects once until refreshed", func() {
		lister := &inventoryManager{fakeManager: fakeManager{name: "inv", support: hardware.SupportGeneric}}
		cache := hardware.NewInfoCache(hardware.NewRegistry(logr.Discard(), lister))

		first, err := cache.Get(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		second, err := cache.Get(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(first))
		Expect(lister.calls).To(Equal(1))

		third, err := cache.Get(context.Background(), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(third.Hostname).To(Equal("node-2"))
	})
})

type inventoryManager struct {
	fakeManager
	calls int
}

func (m *inventoryManager) ListHardwareInfo(context.Context) (*registry.Inventory, error) {
	m.calls++
	return &registry.Inventory{Hostname: "node-" + string(rune('0'+m.calls))}, nil
}
