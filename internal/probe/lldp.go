// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"k8s.io/apimachinery/pkg/util/wait"
)

// LLDP polls networkctl for neighbour information until some is reported or
// duration elapses. Hosts without networkctl fall back to a single lldpctl
// query. No neighbours is not an error.
func (c *Collector) LLDP(ctx context.Context, interval, duration time.Duration) registry.LLDP {
	lldp := registry.LLDP{}
	err := wait.PollUntilContextTimeout(ctx, interval, duration, true, func(ctx context.Context) (bool, error) {
		stdout, _, err := c.exec.Run(ctx, executor.Cmd("networkctl", "lldp", "--json=short"))
		if err != nil {
			return false, err
		}
		if strings.TrimSpace(stdout) == "" {
			return false, nil
		}
		parsed, err := registry.ParseNetworkctl([]byte(stdout))
		if err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// networkctl before systemd 257 ignores --json for lldp.
				return true, nil
			}
			return false, err
		}
		lldp = parsed
		return len(parsed.Interfaces) > 0, nil
	})
	if err == nil {
		return lldp
	}
	if !executor.IsNotFound(err) {
		c.log.V(1).Info("No LLDP neighbours from networkctl", "error", err.Error())
		return lldp
	}

	stdout, _, err := c.exec.Run(ctx, executor.Cmd("lldpctl", "-f", "json"))
	if err != nil {
		c.log.V(1).Info("No LLDP daemon available", "error", err.Error())
		return registry.LLDP{}
	}
	parsed, err := registry.ParseLLDPCTL([]byte(stdout))
	if err != nil {
		c.log.Info("Could not parse lldpctl output", "error", err.Error())
		return registry.LLDP{}
	}
	return parsed
}
