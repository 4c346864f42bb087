// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"regexp"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/executor"
)

// LsblkColumns are the columns requested from lsblk for block device listings.
var LsblkColumns = []string{"KNAME", "MODEL", "SIZE", "ROTA", "TYPE"}

var lsblkPairRe = regexp.MustCompile(`([A-Za-z0-9_:.-]+)="((?:[^"\\]|\\.)*)"`)

// ParseLsblkPairs parses `lsblk -P` output into one map per line. Values are
// trimmed; escaped quotes and backslashes are unescaped.
func ParseLsblkPairs(out string) []map[string]string {
	var records []map[string]string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		record := map[string]string{}
		for _, m := range lsblkPairRe.FindAllStringSubmatch(line, -1) {
			value := strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(m[2])
			record[m[1]] = strings.TrimSpace(value)
		}
		records = append(records, record)
	}
	return records
}

// ListBlockDevices runs lsblk once over all devices and returns the raw records.
func (c *Collector) ListBlockDevices(ctx context.Context) ([]map[string]string, error) {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("lsblk", "-Pbia", "-o"+strings.Join(LsblkColumns, ",")))
	if err != nil {
		return nil, err
	}
	return ParseLsblkPairs(stdout), nil
}

// FilesystemType returns the filesystem signature lsblk reports for device,
// or an empty string.
func (c *Collector) FilesystemType(ctx context.Context, device string) string {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("lsblk", "-Pbia", "--nodeps", "-oFSTYPE", device))
	if err != nil {
		c.log.V(1).Info("Could not read filesystem type", "device", device, "error", err.Error())
		return ""
	}
	for _, record := range ParseLsblkPairs(stdout) {
		if fs := record["FSTYPE"]; fs != "" {
			return fs
		}
	}
	return ""
}
