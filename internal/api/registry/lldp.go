// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"sort"
)

// LLDP is the normalized neighbour information of all interfaces.
type LLDP struct {
	Interfaces []LLDPInterface `json:"interfaces"`
}

type LLDPInterface struct {
	Name      string     `json:"name"`
	Neighbors []Neighbor `json:"neighbors"`
}

type Neighbor struct {
	ChassisID         string   `json:"chassis_id,omitempty"`
	PortID            string   `json:"port_id,omitempty"`
	PortDescription   string   `json:"port_description,omitempty"`
	SystemName        string   `json:"system_name,omitempty"`
	SystemDescription string   `json:"system_description,omitempty"`
	MgmtIP            string   `json:"mgmt_ip,omitempty"`
	Capabilities      []string `json:"capabilities,omitempty"`
	VlanID            string   `json:"vlan_id,omitempty"`
}

// NeighborsOf returns the neighbours seen on the named interface.
func (l LLDP) NeighborsOf(name string) []Neighbor {
	for _, iface := range l.Interfaces {
		if iface.Name == name {
			return iface.Neighbors
		}
	}
	return nil
}

// Bit positions of the LLDP system capabilities TLV (IEEE 802.1AB).
var lldpCapabilityBits = []string{
	"other", "repeater", "bridge", "wlan-access-point", "router", "telephone",
	"docsis-cable-device", "station", "customer-vlan-bridge", "service-vlan-bridge",
	"two-port-mac-relay",
}

// ParseNetworkctl converts the output of `networkctl lldp --json=short`.
func ParseNetworkctl(data []byte) (LLDP, error) {
	var raw struct {
		Neighbors []struct {
			InterfaceName string `json:"InterfaceName"`
			Neighbors     []struct {
				ChassisID           string `json:"ChassisID"`
				PortID              string `json:"PortID"`
				PortDescription     string `json:"PortDescription"`
				SystemName          string `json:"SystemName"`
				SystemDescription   string `json:"SystemDescription"`
				EnabledCapabilities uint16 `json:"EnabledCapabilities"`
				VlanID              *int   `json:"VlanID"`
			} `json:"Neighbors"`
		} `json:"Neighbors"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return LLDP{}, err
	}

	out := LLDP{}
	for _, iface := range raw.Neighbors {
		entry := LLDPInterface{Name: iface.InterfaceName}
		for _, n := range iface.Neighbors {
			neighbor := Neighbor{
				ChassisID:         n.ChassisID,
				PortID:            n.PortID,
				PortDescription:   n.PortDescription,
				SystemName:        n.SystemName,
				SystemDescription: n.SystemDescription,
			}
			for bit, name := range lldpCapabilityBits {
				if n.EnabledCapabilities&(1<<bit) != 0 {
					neighbor.Capabilities = append(neighbor.Capabilities, name)
				}
			}
			if n.VlanID != nil {
				neighbor.VlanID = jsonNumber(*n.VlanID)
			}
			entry.Neighbors = append(entry.Neighbors, neighbor)
		}
		out.Interfaces = append(out.Interfaces, entry)
	}
	return out, nil
}

// ParseLLDPCTL converts raw lldpctl JSON (format: {"lldp":{"interface":[{iface:{...}},...]}})
// into the normalized LLDP struct. Interfaces are sorted by name.
func ParseLLDPCTL(data []byte) (LLDP, error) {
	type rawValue struct {
		Value string `json:"value"`
	}
	type rawCapability struct {
		Type    string `json:"type"`
		Enabled bool   `json:"enabled"`
	}
	type rawChassis struct {
		ID         rawValue        `json:"id"`
		Descr      string          `json:"descr"`
		MgmtIP     string          `json:"mgmt-ip"`
		Capability []rawCapability `json:"capability"`
	}
	type rawIface struct {
		Chassis map[string]rawChassis `json:"chassis"`
		Port    struct {
			ID    rawValue `json:"id"`
			Descr string   `json:"descr"`
		} `json:"port"`
		Vlan *struct {
			VlanID string `json:"vlan-id"`
		} `json:"vlan,omitempty"`
	}
	var raw struct {
		LLDP struct {
			Interface json.RawMessage `json:"interface"`
		} `json:"lldp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return LLDP{}, err
	}

	// lldpctl emits a list for several interfaces and an object for one.
	ifaces := map[string]rawIface{}
	if len(raw.LLDP.Interface) > 0 {
		var list []map[string]rawIface
		if err := json.Unmarshal(raw.LLDP.Interface, &list); err != nil {
			if objErr := json.Unmarshal(raw.LLDP.Interface, &ifaces); objErr != nil {
				return LLDP{}, err
			}
		}
		for _, entry := range list {
			for name, details := range entry {
				ifaces[name] = details
			}
		}
	}

	out := LLDP{}
	for name, details := range ifaces {
		entry := LLDPInterface{Name: name}
		for sysName, ch := range details.Chassis {
			n := Neighbor{
				SystemName:        sysName,
				SystemDescription: ch.Descr,
				ChassisID:         ch.ID.Value,
				PortID:            details.Port.ID.Value,
				PortDescription:   details.Port.Descr,
				MgmtIP:            ch.MgmtIP,
			}
			if details.Vlan != nil {
				n.VlanID = details.Vlan.VlanID
			}
			for _, c := range ch.Capability {
				if c.Enabled {
					n.Capabilities = append(n.Capabilities, c.Type)
				}
			}
			entry.Neighbors = append(entry.Neighbors, n)
		}
		out.Interfaces = append(out.Interfaces, entry)
	}
	sort.Slice(out.Interfaces, func(i, j int) bool {
		return out.Interfaces[i].Name < out.Interfaces[j].Name
	})
	return out, nil
}

func jsonNumber(v int) string {
	b, _ := json.Marshal(v)
	return string(b)
}
