// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

// AgentVersion is reported with every heartbeat.
const AgentVersion = "0.1.0"

// RegistrationPayload represents the payload to send to the `/register` endpoint,
// including the systemUUID and the hardware inventory.
type RegistrationPayload struct {
	SystemUUID string    `json:"systemUUID"`
	Data       Inventory `json:"data"`
}

// LookupResponse is returned by `/v1/lookup` for a known node.
type LookupResponse struct {
	Node   Node        `json:"node"`
	Config AgentConfig `json:"config"`
}

// AgentConfig carries settings the registry hands out on lookup.
type AgentConfig struct {
	HeartbeatTimeout int `json:"heartbeat_timeout"`
}

// HeartbeatPayload represents the payload to send to `/v1/heartbeat/{uuid}`.
type HeartbeatPayload struct {
	CallbackURL  string `json:"callback_url"`
	AgentVersion string `json:"agent_version"`
}

// NodeRegistration seeds the registry with a node context and the MAC
// addresses it can be looked up by.
type NodeRegistration struct {
	Node         Node     `json:"node"`
	MACAddresses []string `json:"mac_addresses"`
}
