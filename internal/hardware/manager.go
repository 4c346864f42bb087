// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package hardware ranks the loaded hardware managers and dispatches
// operations to the best one implementing them.
//
// A manager implements Manager plus any subset of the capability interfaces
// below. Managers decline an operation on unsuitable hardware by returning an
// IncompatibleHardwareMethod error, which moves dispatch on to the next
// manager.
package hardware

import (
	"context"
	"strconv"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/erase"
)

// Support ranks how well a manager fits the machine. Higher wins.
type Support int

const (
	SupportNone            Support = 0
	SupportGeneric         Support = 1
	SupportMainline        Support = 2
	SupportServiceProvider Support = 3
)

func (s Support) String() string {
	switch s {
	case SupportNone:
		return "NONE"
	case SupportGeneric:
		return "GENERIC"
	case SupportMainline:
		return "MAINLINE"
	case SupportServiceProvider:
		return "SERVICE_PROVIDER"
	}
	return strconv.Itoa(int(s))
}

// Operation names used for dispatch errors, metrics and clean steps.
const (
	OpListHardwareInfo      = "list_hardware_info"
	OpListBlockDevices      = "list_block_devices"
	OpGetOSInstallDevice    = "get_os_install_device"
	OpEraseBlockDevice      = "erase_block_device"
	OpEraseDevices          = "erase_devices"
	OpEraseDevicesMetadata  = "erase_devices_metadata"
	OpCreateConfiguration   = "create_configuration"
	OpDeleteConfiguration   = "delete_configuration"
	OpValidateConfiguration = "validate_configuration"
	OpGetCleanSteps         = "get_clean_steps"
)

// Manager is implemented by every hardware manager.
type Manager interface {
	// Name identifies the manager in logs and in DispatchAll results.
	Name() string
	// EvaluateHardwareSupport is called once per process. It may prepare the
	// machine, e.g. by assembling RAID arrays.
	EvaluateHardwareSupport(ctx context.Context) Support
}

type HardwareInfoLister interface {
	ListHardwareInfo(ctx context.Context) (*registry.Inventory, error)
}

type BlockDeviceLister interface {
	ListBlockDevices(ctx context.Context, includePartitions bool) ([]registry.BlockDevice, error)
}

// InstallDeviceGetter picks the device the operating system is written to.
type InstallDeviceGetter interface {
	GetOSInstallDevice(ctx context.Context, node *registry.Node) (string, error)
}

type BlockDeviceEraser interface {
	EraseBlockDevice(ctx context.Context, node *registry.Node, device registry.BlockDevice) error
}

type DevicesEraser interface {
	EraseDevices(ctx context.Context, node *registry.Node) (map[string]erase.Outcome, error)
}

type MetadataEraser interface {
	EraseDevicesMetadata(ctx context.Context, node *registry.Node) error
}

type RAIDConfigurator interface {
	CreateConfiguration(ctx context.Context, node *registry.Node) (*registry.RAIDConfig, error)
	DeleteConfiguration(ctx context.Context, node *registry.Node) (*registry.RAIDConfig, error)
}

type RAIDValidator interface {
	ValidateConfiguration(ctx context.Context, node *registry.Node, config *registry.RAIDConfig) error
}

type CleanStepProvider interface {
	GetCleanSteps(ctx context.Context, node *registry.Node) ([]CleanStep, error)
}

// RegistryUser is implemented by managers that dispatch sub-operations
// through the registry they are loaded into.
type RegistryUser interface {
	UseRegistry(r *Registry)
}
