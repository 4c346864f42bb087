// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package raid

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/blockdev"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Delete stops every software RAID array of the machine and removes the md
// superblocks and signatures from its members. Arrays reappearing after the
// last scan, or superblocks that cannot be removed, fail the call. The node
// is optional.
func (e *Engine) Delete(ctx context.Context, node *registry.Node) (*registry.RAIDConfig, error) {
	if node == nil {
		node = &registry.Node{}
	}
	log := e.log.WithValues("node", node.UUID)
	log.Info("Deleting software RAID configuration")

	arrays, err := e.scanArrays(ctx)
	if err != nil {
		return nil, err
	}
	for scan := 1; scan < deleteScans; scan++ {
		if err := e.deletePass(ctx, arrays); err != nil {
			return nil, err
		}
		if arrays, err = e.scanArrays(ctx); err != nil {
			return nil, err
		}
		if len(arrays) == 0 {
			break
		}
	}
	if len(arrays) > 0 {
		names := make([]string, 0, len(arrays))
		for _, a := range arrays {
			names = append(names, "'"+a.Name+"'")
		}
		return nil, errdefs.NewSoftwareRAIDError("Unable to clean all softraid correctly. Remaining [%s]", strings.Join(names, ", "))
	}

	log.Info("Deleted software RAID configuration")
	if node.TargetRAIDConfig == nil {
		return &registry.RAIDConfig{}, nil
	}
	return node.TargetRAIDConfig, nil
}

// scanArrays assembles whatever mdadm finds and returns the RAID arrays
// together with the partitions on them.
func (e *Engine) scanArrays(ctx context.Context) ([]registry.BlockDevice, error) {
	e.runLogged(ctx, executor.Cmd("mdadm", "--assemble", "--scan"), "Assembling RAID arrays failed")

	arrays, err := e.lister.ListAllBlockDevices(ctx, blockdev.ListOptions{Type: blockdev.TypeRAID, IncludeEmpty: true})
	if err != nil {
		return nil, err
	}
	mdDevices, err := e.lister.ListAllBlockDevices(ctx, blockdev.ListOptions{Type: blockdev.TypeMD, IncludeEmpty: true})
	if err != nil {
		return nil, err
	}
	return append(arrays, mdDevices...), nil
}

func (e *Engine) deletePass(ctx context.Context, arrays []registry.BlockDevice) error {
	for _, array := range arrays {
		components, err := e.collector.RAIDComponentDevices(ctx, array.Name)
		if err != nil {
			e.log.V(1).Info("Could not get component devices", "device", array.Name, "error", err.Error())
		}
		if len(components) == 0 {
			// Partitions on an array have no components of their own.
			e.log.V(1).Info("Skipping RAID device without components", "device", array.Name)
			continue
		}
		holders, err := e.collector.RAIDHolderDisks(ctx, array.Name)
		if err != nil {
			return errdefs.NewSoftwareRAIDError("%v", err).Wrap(err)
		}

		e.log.Info("Deleting software RAID device", "device", array.Name, "components", components, "holders", holders)
		e.runLogged(ctx, executor.Cmd("wipefs", "-af", array.Name), "Failed to wipe RAID device", "device", array.Name)
		e.runLogged(ctx, executor.Cmd("mdadm", "--stop", array.Name), "Failed to stop RAID device", "device", array.Name)

		for _, component := range components {
			found, err := e.hasSuperblock(ctx, component)
			if err != nil {
				return errdefs.NewSoftwareRAIDError("Failed to examine device %s: %v", component, err).Wrap(err)
			}
			if !found {
				continue
			}
			e.runLogged(ctx, executor.Cmd("mdadm", "--zero-superblock", component),
				"Failed to remove superblock", "device", component)
		}
		// Other members of the same disks may still belong to arrays handled
		// later, so only signatures are removed here.
		for _, holder := range holders {
			e.runLogged(ctx, executor.Cmd("wipefs", "-af", holder), "Failed to remove partitions", "device", holder)
		}
		e.log.Info("Deleted software RAID device", "device", array.Name)
	}
	return e.removeResidualSuperblocks(ctx)
}

// removeResidualSuperblocks zeroes md superblocks left on any disk or
// partition, e.g. from arrays that were never assembled.
func (e *Engine) removeResidualSuperblocks(ctx context.Context) error {
	disks, err := e.lister.ListAllBlockDevices(ctx, blockdev.ListOptions{})
	if err != nil {
		return err
	}
	partitions, err := e.lister.ListAllBlockDevices(ctx, blockdev.ListOptions{Type: blockdev.TypePart})
	if err != nil {
		return err
	}
	devices := append(disks, partitions...)
	slices.Reverse(devices)

	var errs []error
	for _, device := range devices {
		found, err := e.hasSuperblock(ctx, device.Name)
		if err != nil {
			e.log.Error(err, "Failed to examine device", "device", device.Name)
			continue
		}
		if !found {
			continue
		}
		e.log.Info("Removing residual md superblock", "device", device.Name)
		if _, _, err := e.exec.Run(ctx, executor.Cmd("mdadm", "--zero-superblock", device.Name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", device.Name, err))
		}
	}
	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return errdefs.NewSoftwareRAIDError("Failed to remove md superblocks: %v", agg).Wrap(agg)
	}
	return nil
}

// hasSuperblock examines device for md metadata.
func (e *Engine) hasSuperblock(ctx context.Context, device string) (bool, error) {
	_, stderr, err := e.exec.Run(ctx, executor.Cmd("mdadm", "--examine", device).WithStandardLocale())
	if err == nil {
		return true, nil
	}
	if strings.Contains(stderr, noSuperblock) || strings.Contains(err.Error(), noSuperblock) {
		return false, nil
	}
	return false, err
}
