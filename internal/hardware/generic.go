// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hardware

import (
	"context"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/blockdev"
	"github.com/ironcore-dev/metal-agent/internal/erase"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/metrics"
	"github.com/ironcore-dev/metal-agent/internal/probe"
	"github.com/ironcore-dev/metal-agent/internal/raid"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/wait"
)

const GenericManagerName = "generic_hardware_manager"

// GenericOptions tune the GenericManager.
type GenericOptions struct {
	// DiskWaitAttempts and DiskWaitDelay bound the wait for a root device
	// while evaluating hardware support. Zero attempts skip the wait.
	DiskWaitAttempts int
	DiskWaitDelay    time.Duration
	// MinInstallSize is the smallest device picked without root device hints.
	MinInstallSize resource.Quantity
	// LLDPInterval and LLDPTimeout control neighbour discovery in
	// ListHardwareInfo. A zero timeout skips it.
	LLDPInterval time.Duration
	LLDPTimeout  time.Duration
}

func DefaultGenericOptions() GenericOptions {
	return GenericOptions{
		DiskWaitAttempts: 10,
		DiskWaitDelay:    3 * time.Second,
		MinInstallSize:   blockdev.DefaultMinInstallSize,
		LLDPInterval:     time.Second,
	}
}

// GenericManager implements every capability on top of common Linux tools.
type GenericManager struct {
	log       logr.Logger
	exec      executor.Interface
	collector *probe.Collector
	lister    *blockdev.Lister
	eraser    *erase.Eraser
	raid      *raid.Engine
	nodes     *NodeCache
	opts      GenericOptions

	registry *Registry
}

// NewGenericManager wires the generic manager. nodes may be nil when no node
// context is known ahead of the calls.
func NewGenericManager(log logr.Logger, exec executor.Interface, nodes *NodeCache, opts GenericOptions) *GenericManager {
	log = log.WithName("generic")
	collector := probe.NewCollector(log.WithName("probe"), exec)
	lister := blockdev.NewLister(log.WithName("blockdev"), collector)
	if nodes == nil {
		nodes = &NodeCache{}
	}
	return &GenericManager{
		log:       log,
		exec:      exec,
		collector: collector,
		lister:    lister,
		eraser:    erase.NewEraser(log.WithName("erase"), exec, collector),
		raid:      raid.NewEngine(log.WithName("raid"), exec, collector, lister),
		nodes:     nodes,
		opts:      opts,
	}
}

// Collector returns the fact collector shared by the manager's components.
func (g *GenericManager) Collector() *probe.Collector {
	return g.collector
}

func (g *GenericManager) Name() string {
	return GenericManagerName
}

// UseRegistry lets EraseDevices dispatch single device erasure to better
// managers.
func (g *GenericManager) UseRegistry(r *Registry) {
	g.registry = r
}

// EvaluateHardwareSupport brings up iSCSI and RAID devices and waits for a
// root device before declaring generic support.
func (g *GenericManager) EvaluateHardwareSupport(ctx context.Context) Support {
	g.startISCSI(ctx)
	if _, _, err := g.exec.Run(ctx, executor.Cmd("mdadm", "--assemble", "--scan", "--verbose")); err != nil {
		g.log.V(1).Info("No software RAID assembled", "error", err.Error())
	}
	g.waitForDisks(ctx)
	return SupportGeneric
}

func (g *GenericManager) startISCSI(ctx context.Context) {
	if _, _, err := g.exec.Run(ctx, executor.Cmd("iscsistart", "-f")); err != nil {
		g.log.V(1).Info("No iSCSI connection detected, skipping iSCSI", "error", err.Error())
		return
	}
	if _, _, err := g.exec.Run(ctx, executor.Cmd("iscsistart", "-b")); err != nil {
		g.log.Error(err, "Failed to start iSCSI connection")
	}
}

func (g *GenericManager) waitForDisks(ctx context.Context) {
	if g.opts.DiskWaitAttempts <= 0 {
		return
	}
	err := wait.ExponentialBackoffWithContext(ctx, wait.Backoff{
		Duration: g.opts.DiskWaitDelay,
		Factor:   1,
		Steps:    g.opts.DiskWaitAttempts,
	}, func(ctx context.Context) (bool, error) {
		device, err := g.GetOSInstallDevice(ctx, nil)
		if err != nil {
			g.log.V(1).Info("Still waiting for the root device", "error", err.Error())
			return false, nil
		}
		g.log.Info("Found root device", "device", device)
		return true, nil
	})
	if err != nil {
		g.log.Info("The root device was not detected", "attempts", g.opts.DiskWaitAttempts, "delay", g.opts.DiskWaitDelay)
	}
}

// ListHardwareInfo collects a full inventory of the machine.
func (g *GenericManager) ListHardwareInfo(ctx context.Context) (*registry.Inventory, error) {
	disks, err := g.ListBlockDevices(ctx, false)
	if err != nil {
		return nil, err
	}

	var lldp registry.LLDP
	if g.opts.LLDPTimeout > 0 {
		lldp = g.collector.LLDP(ctx, g.opts.LLDPInterval, g.opts.LLDPTimeout)
	}
	interfaces, err := g.collector.NetworkInterfaces(nil, lldp)
	if err != nil {
		g.log.Error(err, "Failed to collect network interfaces")
	}
	hostname, err := os.Hostname()
	if err != nil {
		g.log.Error(err, "Failed to get hostname")
	}

	return &registry.Inventory{
		Memory:       g.collector.Memory(ctx),
		CPU:          g.collector.CPU(ctx),
		Disks:        disks,
		Interfaces:   interfaces,
		Boot:         g.collector.BootInfo(ctx),
		BMCAddress:   g.collector.BMCAddress(ctx),
		BMCV6Address: g.collector.BMCV6Address(ctx),
		SystemVendor: g.collector.SystemVendor(ctx),
		Hostname:     hostname,
		DMI:          g.collector.DMI(),
		PCIDevices:   g.collector.PCIDevices(),
	}, nil
}

func (g *GenericManager) ListBlockDevices(ctx context.Context, includePartitions bool) ([]registry.BlockDevice, error) {
	return g.lister.ListBlockDevices(ctx, includePartitions)
}

// GetOSInstallDevice returns the name of the device matching the root device
// hints of node, or of the cached node when node is nil.
func (g *GenericManager) GetOSInstallDevice(ctx context.Context, node *registry.Node) (string, error) {
	if node == nil {
		node = g.nodes.Get()
	}
	var hints registry.RootDeviceHints
	if node != nil {
		hints = node.Properties.RootDevice
	}
	devices, err := g.lister.ListBlockDevices(ctx, false)
	if err != nil {
		return "", err
	}
	device, err := blockdev.InstallDevice(devices, hints, g.opts.MinInstallSize)
	if err != nil {
		return "", err
	}
	return device.Name, nil
}

func (g *GenericManager) EraseBlockDevice(ctx context.Context, node *registry.Node, device registry.BlockDevice) error {
	return g.eraser.EraseBlockDevice(ctx, node, device)
}

// EraseDevices erases every disk, dispatching each device to the best manager
// able to erase it.
func (g *GenericManager) EraseDevices(ctx context.Context, node *registry.Node) (map[string]erase.Outcome, error) {
	devices, err := g.ListBlockDevices(ctx, false)
	if err != nil {
		return nil, err
	}
	eraseFn := func(ctx context.Context, device registry.BlockDevice) error {
		if g.registry == nil {
			return g.EraseBlockDevice(ctx, node, device)
		}
		_, err := Dispatch(ctx, g.registry, OpEraseBlockDevice, func(m BlockDeviceEraser) (struct{}, error) {
			return struct{}{}, m.EraseBlockDevice(ctx, node, device)
		})
		return err
	}
	outcomes, err := erase.EraseDevices(ctx, g.log, devices, erase.Concurrency(node), eraseFn)
	for _, outcome := range outcomes {
		metrics.EraseDevicesTotal.WithLabelValues(string(outcome)).Inc()
	}
	return outcomes, err
}

func (g *GenericManager) EraseDevicesMetadata(ctx context.Context, node *registry.Node) error {
	devices, err := g.ListBlockDevices(ctx, true)
	if err != nil {
		return err
	}
	return g.eraser.EraseDevicesMetadata(ctx, devices)
}

func (g *GenericManager) CreateConfiguration(ctx context.Context, node *registry.Node) (*registry.RAIDConfig, error) {
	if node == nil {
		node = g.nodes.Get()
	}
	return g.raid.Create(ctx, node)
}

func (g *GenericManager) DeleteConfiguration(ctx context.Context, node *registry.Node) (*registry.RAIDConfig, error) {
	if node == nil {
		node = g.nodes.Get()
	}
	return g.raid.Delete(ctx, node)
}

func (g *GenericManager) ValidateConfiguration(_ context.Context, node *registry.Node, config *registry.RAIDConfig) error {
	if node == nil {
		return errdefs.NewInvalidCommandParamsError("a node is required to validate a RAID configuration")
	}
	return raid.Validate(node, config)
}

func (g *GenericManager) GetCleanSteps(context.Context, *registry.Node) ([]CleanStep, error) {
	return GenericCleanSteps(), nil
}
