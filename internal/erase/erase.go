// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package erase wipes block devices, either through the ATA security feature
// set of the drive or by overwriting it with shred.
package erase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/blockdev"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/probe"
	"k8s.io/utils/ptr"
)

// The password hdparm treats as empty. Older hdparm releases take it
// literally, so unlocking also tries the empty string.
const ataPassword = "NULL"

var unlockPasswords = []string{"", ataPassword}

// Options are the erase tunables of a node.
type Options struct {
	Iterations          int
	Zeroize             bool
	EnableATA           bool
	ContinueIfATAFailed bool
}

// OptionsFromNode reads the erase tunables from the driver internal info of
// node, falling back to one zeroizing shred pass with ATA erase enabled.
func OptionsFromNode(node *registry.Node) Options {
	opts := Options{Iterations: 1, Zeroize: true, EnableATA: true}
	if node == nil {
		return opts
	}
	info := node.DriverInternalInfo
	opts.Iterations = ptr.Deref(info.AgentEraseDevicesIterations, opts.Iterations)
	opts.Zeroize = ptr.Deref(info.AgentEraseDevicesZeroize, opts.Zeroize)
	opts.EnableATA = ptr.Deref(info.AgentEnableATASecureErase, opts.EnableATA)
	opts.ContinueIfATAFailed = ptr.Deref(info.AgentContinueIfATAEraseFailed, opts.ContinueIfATAFailed)
	return opts
}

// Eraser erases single block devices.
type Eraser struct {
	log       logr.Logger
	exec      executor.Interface
	collector *probe.Collector
}

func NewEraser(log logr.Logger, exec executor.Interface, collector *probe.Collector) *Eraser {
	return &Eraser{log: log, exec: exec, collector: collector}
}

// errFallback marks ATA erase failures that allow falling back to shred.
var errFallback = errors.New("ata erase failed")

// EraseBlockDevice erases device. Virtual media, read-only devices and
// software RAID members are left alone.
func (e *Eraser) EraseBlockDevice(ctx context.Context, node *registry.Node, device registry.BlockDevice) error {
	log := e.log.WithValues("device", device.Name)
	if blockdev.IsVirtualMediaDevice(device.Name) {
		log.Info("Skipping erase of virtual media device")
		return nil
	}
	if blockdev.IsReadOnly(device.Name) {
		log.Info("Skipping erase of read-only device")
		return nil
	}
	if e.isLinuxRAIDMember(ctx, device.Name) {
		log.Info("Skipping erase of software RAID member")
		return nil
	}

	opts := OptionsFromNode(node)
	if opts.EnableATA {
		erased, err := e.ataErase(ctx, device.Name)
		switch {
		case err == nil && erased:
			return nil
		case err == nil:
		case errors.Is(err, errFallback) && opts.ContinueIfATAFailed:
			log.Info("ATA secure erase failed, falling back to shred", "error", err.Error())
		case errors.Is(err, errFallback):
			return errdefs.NewIncompatibleHardwareMethodError(
				"Failed to invoke ATA secure erase on %s, fallback to shred is not enabled: %v", device.Name, err).Wrap(err)
		default:
			return err
		}
	}
	return e.shred(ctx, device.Name, opts)
}

// ataErase returns false without error when the device does not offer ATA
// security erase.
func (e *Eraser) ataErase(ctx context.Context, device string) (bool, error) {
	sec := e.collector.ATASecurity(ctx, device)
	if !sec.Reported || !sec.Supported {
		return false, nil
	}
	if !e.collector.ATASecurityAvailable(ctx, device) {
		e.log.V(1).Info("smartctl reports ATA security as unavailable", "device", device)
		return false, nil
	}
	if sec.Frozen {
		return false, fmt.Errorf("%w: device %s is frozen, a power cycle is required", errFallback, device)
	}

	password := ataPassword
	if sec.Enabled || sec.Locked {
		var err error
		if password, sec, err = e.ataUnlock(ctx, device, sec); err != nil {
			return false, err
		}
	}

	if !sec.Enabled {
		if _, _, err := e.exec.Run(ctx, executor.Cmd("hdparm", "--user-master", "u", "--security-set-pass", ataPassword, device)); err != nil {
			return false, fmt.Errorf("%w: security password set failed for device %s: %v", errFallback, device, err)
		}
		password = ataPassword
	}

	eraseOption := "--security-erase"
	if sec.EnhancedErase {
		eraseOption = "--security-erase-enhanced"
	}
	if _, _, err := e.exec.Run(ctx, executor.Cmd("hdparm", "--user-master", "u", eraseOption, password, device)); err != nil {
		// Leave the drive usable for the shred fallback.
		if after := e.collector.ATASecurity(ctx, device); after.Locked {
			_, _, _ = e.exec.Run(ctx, executor.Cmd("hdparm", "--user-master", "u", "--security-unlock", password, device))
		}
		return false, fmt.Errorf("%w: security erase failed for device %s: %v", errFallback, device, err)
	}

	after := e.collector.ATASecurity(ctx, device)
	if !after.Reported || after.Enabled {
		return false, fmt.Errorf("%w: security erase of device %s did not take effect, security is still enabled", errFallback, device)
	}
	e.log.Info("ATA secure erase completed", "device", device, "option", eraseOption)
	return true, nil
}

// ataUnlock unlocks a drive left with a password by an earlier run. It
// returns the password that worked and the refreshed security state.
func (e *Eraser) ataUnlock(ctx context.Context, device string, sec probe.ATASecurity) (string, probe.ATASecurity, error) {
	var failures []string
	for _, password := range unlockPasswords {
		if _, _, err := e.exec.Run(ctx, executor.Cmd("hdparm", "--user-master", "u", "--security-unlock", password, device)); err != nil {
			e.log.V(1).Info("Security unlock attempt failed", "device", device, "password", password, "error", err.Error())
			failures = append(failures, err.Error())
			continue
		}
		sec = e.collector.ATASecurity(ctx, device)
		if !sec.Locked {
			return password, sec, nil
		}
	}
	if len(failures) == len(unlockPasswords) {
		return "", sec, errdefs.NewBlockDeviceEraseError(
			"Security unlock of device %s failed, the drive may hold a stale password: %v", device, failures)
	}
	return "", sec, errdefs.NewIncompatibleHardwareMethodError(
		"Device %s is still locked after all unlock attempts, ATA secure erase is not possible", device)
}

func (e *Eraser) shred(ctx context.Context, device string, opts Options) error {
	if opts.Iterations == 0 && !opts.Zeroize {
		e.log.Info("Shred called with zero iterations and without zeroize, nothing to do", "device", device)
		return nil
	}
	args := []string{"--force"}
	if opts.Zeroize {
		args = append(args, "--zero")
	}
	args = append(args, "--verbose", "--iterations", strconv.Itoa(opts.Iterations), device)

	e.log.Info("Shredding device", "device", device, "iterations", opts.Iterations, "zeroize", opts.Zeroize)
	if _, _, err := e.exec.Run(ctx, executor.Cmd("shred", args...)); err != nil {
		return errdefs.NewBlockDeviceEraseError("Erasing device %s with shred failed: %v", device, err).Wrap(err)
	}
	return nil
}
