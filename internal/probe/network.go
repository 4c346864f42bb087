// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"net"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
)

// NICSource lists the network interfaces of the host.
type NICSource interface {
	Interfaces() ([]net.Interface, error)
	Addrs(iface *net.Interface) ([]net.Addr, error)
}

type hostNICs struct{}

func (hostNICs) Interfaces() ([]net.Interface, error) {
	return net.Interfaces()
}

func (hostNICs) Addrs(iface *net.Interface) ([]net.Addr, error) {
	return iface.Addrs()
}

// NetworkInterfaces describes every interface backed by a physical device.
// Loopback and virtual interfaces are skipped.
func (c *Collector) NetworkInterfaces(nics NICSource, lldp registry.LLDP) ([]registry.NetworkInterface, error) {
	if nics == nil {
		nics = hostNICs{}
	}
	ifaces, err := nics.Interfaces()
	if err != nil {
		return nil, err
	}

	result := make([]registry.NetworkInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || netDevicePath(iface.Name) == "" {
			continue
		}
		entry := registry.NetworkInterface{
			Name:       iface.Name,
			MACAddress: iface.HardwareAddr.String(),
			SpeedMbps:  netDeviceSpeed(iface.Name),
			PCIAddress: netDevicePCIAddress(iface.Name),
			LLDP:       lldp.NeighborsOf(iface.Name),
		}
		if carrier, ok := netDeviceHasCarrier(iface.Name); ok {
			entry.HasCarrier = carrier
		} else {
			entry.HasCarrier = iface.Flags&net.FlagRunning != 0
		}
		if ids := netDevicePCIIDs(iface.Name); ids != nil {
			entry.Vendor = "0x" + ids.vendorID
			entry.Product = "0x" + ids.productID
		}
		if addrs, err := nics.Addrs(&iface); err != nil {
			c.log.V(1).Info("Could not read interface addresses", "interface", iface.Name, "error", err.Error())
		} else {
			entry.IPv4Address, entry.IPv6Address = pickAddresses(addrs)
		}
		entry.Driver, entry.FirmwareVersion = c.driverInfo(iface.Name)
		result = append(result, entry)
	}
	return result, nil
}

// pickAddresses returns the first IPv4 address and the first IPv6 address,
// preferring global over link-local IPv6 addresses.
func pickAddresses(addrs []net.Addr) (ipv4, ipv6 string) {
	var linkLocal string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		switch {
		case ip.To4() != nil:
			if ipv4 == "" {
				ipv4 = ip.String()
			}
		case ip.IsLinkLocalUnicast():
			if linkLocal == "" {
				linkLocal = ip.String()
			}
		default:
			if ipv6 == "" {
				ipv6 = ip.String()
			}
		}
	}
	if ipv6 == "" {
		ipv6 = linkLocal
	}
	return ipv4, ipv6
}
