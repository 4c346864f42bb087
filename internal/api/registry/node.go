// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import "k8s.io/apimachinery/pkg/util/intstr"

// Node is the node context handed to the agent by the registry. The agent
// never modifies it.
type Node struct {
	UUID               string             `json:"uuid"`
	DriverInternalInfo DriverInternalInfo `json:"driver_internal_info"`
	TargetRAIDConfig   *RAIDConfig        `json:"target_raid_config,omitempty"`
	Properties         NodeProperties     `json:"properties"`
}

// DriverInternalInfo holds the erase tunables. Unset fields take their
// defaults at the point of use.
type DriverInternalInfo struct {
	DiskErasureConcurrency        *int  `json:"disk_erasure_concurrency,omitempty"`
	AgentEraseDevicesIterations   *int  `json:"agent_erase_devices_iterations,omitempty"`
	AgentEraseDevicesZeroize      *bool `json:"agent_erase_devices_zeroize,omitempty"`
	AgentEnableATASecureErase     *bool `json:"agent_enable_ata_secure_erase,omitempty"`
	AgentContinueIfATAEraseFailed *bool `json:"agent_continue_if_ata_erase_failed,omitempty"`
}

type NodeProperties struct {
	RootDevice RootDeviceHints `json:"root_device,omitempty"`
}

// RootDeviceHints maps hint names (model, serial, size, ...) to the values a
// device must match. Values may be strings, numbers or booleans.
type RootDeviceHints map[string]any

type RAIDConfig struct {
	LogicalDisks []LogicalDisk `json:"logical_disks"`
}

// LogicalDisk describes one software RAID volume. SizeGB is either a number
// of GiB or the string "MAX".
type LogicalDisk struct {
	SizeGB     intstr.IntOrString `json:"size_gb"`
	RAIDLevel  string             `json:"raid_level"`
	Controller string             `json:"controller,omitempty"`
}
