// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"path/filepath"
	"regexp"

	"github.com/ironcore-dev/metal-agent/internal/probe"
)

var (
	delimitedPartitionRe = regexp.MustCompile(`^(.*\d)p\d+$`)
	plainPartitionRe     = regexp.MustCompile(`^(.*\D)\d+$`)
)

// Labels of the virtual floppy the agent may be booted with.
var virtualMediaLabels = []string{"ir-vfd-dev", "IR-VFD-DEV"}

// ExtractDevice returns the disk holding partition, e.g. /dev/sda for
// /dev/sda1 and /dev/nvme0n1 for /dev/nvme0n1p1.
func ExtractDevice(partition string) (string, bool) {
	if m := delimitedPartitionRe.FindStringSubmatch(partition); m != nil {
		return m[1], true
	}
	if m := plainPartitionRe.FindStringSubmatch(partition); m != nil {
		return m[1], true
	}
	return "", false
}

// IsVirtualMediaDevice reports whether device is the virtual floppy carrying
// the agent configuration.
func IsVirtualMediaDevice(device string) bool {
	for _, label := range virtualMediaLabels {
		target, err := filepath.EvalSymlinks(filepath.Join(pathDevDiskByLabel, label))
		if err != nil {
			continue
		}
		if target == device {
			return true
		}
	}
	return false
}

// IsReadOnly reports whether the kernel marks device read-only.
func IsReadOnly(device string) bool {
	ro, err := probe.ToBool(filepath.Join(pathSysBlock, filepath.Base(device), "ro"))
	return err == nil && ro
}
