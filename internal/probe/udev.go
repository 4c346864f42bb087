// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/executor"
)

// ParseUdevProperties parses `udevadm info --query=property` output.
func ParseUdevProperties(out string) map[string]string {
	props := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || key == "" {
			continue
		}
		props[key] = value
	}
	return props
}

// UdevProperties returns the udev database entry of device. A device unknown
// to udev yields nil.
func (c *Collector) UdevProperties(ctx context.Context, device string) map[string]string {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("udevadm", "info", "--query=property", "--name="+device))
	if err != nil {
		c.log.Info("Device is inaccessible to udev, skipping udev facts", "device", device, "error", err.Error())
		return nil
	}
	return ParseUdevProperties(stdout)
}

// UdevSettle waits for pending udev events.
func (c *Collector) UdevSettle(ctx context.Context) {
	if _, _, err := c.exec.Run(ctx, executor.Cmd("udevadm", "settle")); err != nil {
		c.log.Info("Something went wrong when waiting for udev to settle", "error", err.Error())
	}
}
