// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/executor"
	"gopkg.in/yaml.v3"
)

// Channels probed for a BMC address; vendors use different ones.
const maxBMCChannel = 11

var lanIPAddressRe = regexp.MustCompile(`(?m)^IP Address[ \t]*:[ \t]*(\S+)`)

// ParseLanIPAddress extracts the "IP Address" field of `ipmitool lan print`.
func ParseLanIPAddress(out string) string {
	m := lanIPAddressRe.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseLan6Addresses returns the active addresses of an `ipmitool lan6 print
// <channel> dynamic_addr|static_addr` report, without prefix length, ordered
// by address slot.
func ParseLan6Addresses(out string) ([]string, error) {
	blocks := map[string]map[string]any{}
	if err := yaml.Unmarshal([]byte(out), &blocks); err != nil {
		return nil, err
	}
	slots := make([]string, 0, len(blocks))
	for slot := range blocks {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slotIndex(slots[i]) < slotIndex(slots[j]) })

	var addrs []string
	for _, slot := range slots {
		fields := blocks[slot]
		status, _ := fields["Status"].(string)
		address, _ := fields["Address"].(string)
		if !strings.EqualFold(status, "active") || address == "" {
			continue
		}
		ip, _, _ := strings.Cut(address, "/")
		if parsed := net.ParseIP(ip); parsed == nil || parsed.IsUnspecified() {
			continue
		}
		addrs = append(addrs, ip)
	}
	return addrs, nil
}

func slotIndex(slot string) int {
	fields := strings.Fields(slot)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0
	}
	return n
}

// BMCAddress returns the IPv4 address of the BMC. It is empty when ipmitool
// is unusable and 0.0.0.0 when no channel has an address.
func (c *Collector) BMCAddress(ctx context.Context) string {
	for channel := 1; channel <= maxBMCChannel; channel++ {
		stdout, stderr, err := c.exec.Run(ctx, executor.Cmd("ipmitool", "lan", "print", strconv.Itoa(channel)))
		if strings.HasPrefix(stderr, "Invalid channel") {
			continue
		}
		if err != nil {
			// Normal in virtual environments.
			c.log.Info("Cannot get BMC address", "error", err.Error())
			return ""
		}
		address := ParseLanIPAddress(stdout)
		ip := net.ParseIP(address)
		if ip == nil {
			c.log.Info("Invalid BMC IP address", "address", address, "channel", channel)
			continue
		}
		if !ip.IsUnspecified() {
			return address
		}
	}
	return "0.0.0.0"
}

// BMCV6Address returns the first active IPv6 address of the BMC. It is empty
// when ipmitool is unusable and ::/0 when no channel has an address.
func (c *Collector) BMCV6Address(ctx context.Context) string {
	for channel := 1; channel <= maxBMCChannel; channel++ {
		ch := strconv.Itoa(channel)
		stdout, stderr, err := c.exec.Run(ctx, executor.Cmd("ipmitool", "lan6", "print", ch, "enables"))
		if strings.HasPrefix(stderr, "Invalid channel") {
			continue
		}
		if err != nil {
			c.log.Info("Cannot get BMC v6 address", "error", err.Error())
			return ""
		}
		if !strings.Contains(stdout, "ipv6") && !strings.Contains(stdout, "both") {
			continue
		}
		for _, kind := range []string{"dynamic_addr", "static_addr"} {
			stdout, _, err := c.exec.Run(ctx, executor.Cmd("ipmitool", "lan6", "print", ch, kind))
			if err != nil {
				continue
			}
			addrs, err := ParseLan6Addresses(stdout)
			if err != nil {
				c.log.V(1).Info("Could not parse ipmitool lan6 report", "channel", channel, "error", err.Error())
				continue
			}
			if len(addrs) > 0 {
				return addrs[0]
			}
		}
	}
	return "::/0"
}
