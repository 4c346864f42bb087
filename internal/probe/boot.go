// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"os"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
)

// Boot modes.
const (
	BootModeUEFI = "uefi"
	BootModeBIOS = "bios"
)

// BootMode returns uefi when the kernel exposes EFI firmware, bios otherwise.
func BootMode() string {
	if _, err := os.Stat(pathSysFirmwareEFI); err == nil {
		return BootModeUEFI
	}
	return BootModeBIOS
}

// BootInfo returns the boot mode and the PXE interface passed as BOOTIF.
func (c *Collector) BootInfo(ctx context.Context) registry.BootInfo {
	return registry.BootInfo{
		CurrentBootMode: BootMode(),
		PXEInterface:    c.KernelParam(ctx, "BOOTIF"),
	}
}
