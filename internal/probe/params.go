// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
)

// Labels of the virtual floppy carrying agent parameters.
var virtualMediaLabels = []string{"ir-vfd-dev", "IR-VFD-DEV"}

const virtualMediaParamsFile = "parameters.txt"

// ParseKernelParams parses whitespace separated key=value pairs. Words
// without a '=' are ignored.
func ParseKernelParams(s string) map[string]string {
	params := map[string]string{}
	for _, word := range strings.Fields(s) {
		key, value, ok := strings.Cut(word, "=")
		if !ok {
			continue
		}
		params[key] = value
	}
	return params
}

// KernelParams returns the kernel command line parameters, merged with the
// parameters file of the virtual media when booted with boot_method=vmedia.
// The result is memoized until Reset.
func (c *Collector) KernelParams(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.params != nil {
		return c.params, nil
	}

	cmdline, err := ToString(pathProcCmdline)
	if err != nil {
		return nil, err
	}
	params := ParseKernelParams(cmdline)
	if params["boot_method"] == "vmedia" {
		vmedia, err := c.virtualMediaParams(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range vmedia {
			params[k] = v
		}
	}
	c.params = params
	return params, nil
}

// KernelParam returns a single kernel parameter or an empty string.
func (c *Collector) KernelParam(ctx context.Context, key string) string {
	params, err := c.KernelParams(ctx)
	if err != nil {
		c.log.V(1).Info("Could not read kernel parameters", "error", err.Error())
		return ""
	}
	return params[key]
}

func (c *Collector) virtualMediaParams(ctx context.Context) (map[string]string, error) {
	device := VirtualMediaDevice()
	if device == "" {
		return nil, errdefs.NewVirtualMediaBootError("Unable to find virtual media device")
	}

	mountPoint, err := os.MkdirTemp("", "vmedia")
	if err != nil {
		return nil, errdefs.NewVirtualMediaBootError("Unable to create mount point: %v", err)
	}
	defer func() { _ = os.RemoveAll(mountPoint) }()

	if _, _, err := c.exec.Run(ctx, executor.Cmd("mount", device, mountPoint)); err != nil {
		return nil, errdefs.NewVirtualMediaBootError("Unable to mount virtual media device %s: %v", device, err)
	}
	defer func() {
		if _, _, err := c.exec.Run(ctx, executor.Cmd("umount", mountPoint)); err != nil {
			c.log.Info("Unable to unmount virtual media", "mountPoint", mountPoint, "error", err.Error())
		}
	}()

	contents, err := os.ReadFile(filepath.Join(mountPoint, virtualMediaParamsFile))
	if err != nil {
		return nil, errdefs.NewVirtualMediaBootError("Unable to read parameters file: %v", err)
	}
	return ParseKernelParams(string(contents)), nil
}

// VirtualMediaDevice returns the path of the virtual media device, found by
// filesystem label or by the "virtual media" model string.
func VirtualMediaDevice() string {
	for _, label := range virtualMediaLabels {
		path := filepath.Join(pathDevDiskByLabel, label)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	models, err := filepath.Glob(filepath.Join(pathSysClassBlock, "*", "device", "model"))
	if err != nil {
		return ""
	}
	for _, model := range models {
		s, err := ToString(model)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(s), "virtual media") {
			return "/dev/" + filepath.Base(filepath.Dir(filepath.Dir(model)))
		}
	}
	return ""
}
