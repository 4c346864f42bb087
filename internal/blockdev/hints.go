// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"k8s.io/apimachinery/pkg/api/resource"
)

// DefaultMinInstallSize is the smallest device picked without hints.
var DefaultMinInstallSize = resource.MustParse("4Gi")

const gib = 1 << 30

var stringHints = map[string]func(registry.BlockDevice) string{
	"model":                func(d registry.BlockDevice) string { return d.Model },
	"vendor":               func(d registry.BlockDevice) string { return d.Vendor },
	"serial":               func(d registry.BlockDevice) string { return d.Serial },
	"wwn":                  func(d registry.BlockDevice) string { return d.WWN },
	"wwn_with_extension":   func(d registry.BlockDevice) string { return d.WWNWithExtension },
	"wwn_vendor_extension": func(d registry.BlockDevice) string { return d.WWNVendorExtension },
	"by_path":              func(d registry.BlockDevice) string { return d.ByPath },
	"hctl":                 func(d registry.BlockDevice) string { return d.HCTL },
}

// MatchesHints reports whether device satisfies every hint. Size hints are
// in GiB; name hints may omit the /dev/ prefix.
func MatchesHints(device registry.BlockDevice, hints registry.RootDeviceHints) (bool, error) {
	for key, value := range hints {
		switch key {
		case "name":
			name := fmt.Sprint(value)
			if !strings.HasPrefix(name, "/dev/") {
				name = "/dev/" + name
			}
			if name != device.Name {
				return false, nil
			}
		case "size":
			size, ok := hintInt(value)
			if !ok || int64(size) != device.Size/gib {
				return false, nil
			}
		case "rotational":
			rotational, ok := hintBool(value)
			if !ok || rotational != device.Rotational {
				return false, nil
			}
		default:
			field, known := stringHints[key]
			if !known {
				return false, fmt.Errorf("unsupported root device hint %q", key)
			}
			if !strings.EqualFold(strings.TrimSpace(fmt.Sprint(value)), strings.TrimSpace(field(device))) {
				return false, nil
			}
		}
	}
	return true, nil
}

// InstallDevice picks the device the operating system is written to. With
// hints the first matching device in inventory order wins. Without hints the
// smallest device of at least minSize is chosen.
func InstallDevice(devices []registry.BlockDevice, hints registry.RootDeviceHints, minSize resource.Quantity) (*registry.BlockDevice, error) {
	if len(hints) > 0 {
		for i := range devices {
			ok, err := MatchesHints(devices[i], hints)
			if err != nil {
				return nil, errdefs.NewDeviceNotFoundError("No suitable device was found for deployment: %v", err)
			}
			if ok {
				return &devices[i], nil
			}
		}
		return nil, errdefs.NewDeviceNotFoundError("No suitable device was found for deployment using these hints %s", formatHints(hints))
	}

	sorted := append([]registry.BlockDevice(nil), devices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })
	floor := minSize.Value()
	for i := range sorted {
		if sorted[i].Size >= floor {
			return &sorted[i], nil
		}
	}
	return nil, errdefs.NewDeviceNotFoundError(
		"No suitable device was found for deployment - root device hints were not provided and all found block devices are smaller than %dB.", floor)
}

func formatHints(hints registry.RootDeviceHints) string {
	data, err := json.Marshal(hints)
	if err != nil {
		return fmt.Sprint(map[string]any(hints))
	}
	return string(data)
}

func hintInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

func hintBool(value any) (bool, bool) {
	if b, ok := value.(bool); ok {
		return b, true
	}
	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(value))) {
	case "true", "on", "y", "yes", "1":
		return true, true
	case "false", "off", "n", "no", "0":
		return false, true
	}
	return false, false
}
