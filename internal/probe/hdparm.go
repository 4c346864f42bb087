// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"regexp"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/executor"
)

// ATASecurity is the security feature set state reported by `hdparm -I`.
// Reported is false when the tool failed or printed no security section.
type ATASecurity struct {
	Reported      bool
	Supported     bool
	Enabled       bool
	Locked        bool
	Frozen        bool
	EnhancedErase bool
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// ParseATASecurity extracts the "Security:" section of `hdparm -I` output.
func ParseATASecurity(out string) ATASecurity {
	sec := ATASecurity{}
	inSection := false
	for _, line := range strings.Split(out, "\n") {
		if !inSection {
			if strings.TrimSpace(line) == "Security:" {
				inSection = true
				sec.Reported = true
			}
			continue
		}
		// The section ends at the next unindented heading.
		if line != "" && line[0] != ' ' && line[0] != '\t' {
			break
		}
		switch whitespaceRe.ReplaceAllString(strings.TrimSpace(line), " ") {
		case "supported":
			sec.Supported = true
		case "enabled":
			sec.Enabled = true
		case "locked":
			sec.Locked = true
		case "frozen":
			sec.Frozen = true
		case "supported: enhanced erase":
			sec.EnhancedErase = true
		}
	}
	return sec
}

// ATASecurity probes the security state of device.
func (c *Collector) ATASecurity(ctx context.Context, device string) ATASecurity {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("hdparm", "-I", device).WithStandardLocale())
	if err != nil {
		c.log.Info("Could not read ATA security state", "device", device, "error", err.Error())
		return ATASecurity{}
	}
	return ParseATASecurity(stdout)
}

// ATASecurityAvailable asks smartctl whether device speaks the ATA security
// command set at all. Without smartctl the answer is yes so hdparm decides.
func (c *Collector) ATASecurityAvailable(ctx context.Context, device string) bool {
	stdout, _, err := c.exec.Run(ctx, executor.Cmd("smartctl", "-d", "ata", device, "-g", "security").
		WithStandardLocale().AcceptExitCodes(0, 127))
	if err != nil {
		c.log.V(1).Info("smartctl could not query ATA security", "device", device, "error", err.Error())
		return true
	}
	return !strings.Contains(stdout, "Unavailable")
}
