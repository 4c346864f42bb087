// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/ironcore-dev/metal-agent/internal/command"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
)

// Command names of the standby operations.
const (
	CommandCacheImage   = "cache_image"
	CommandPrepareImage = "prepare_image"
	CommandRunImage     = "run_image"
	CommandPowerOff     = "power_off"
	CommandSync         = "sync"
)

const chrootIgnored = "ignoring request."

var pathSysrqTrigger = "/proc/sysrq-trigger"

// sysrq maps the shutdown commands to their magic SysRq key.
var sysrq = map[string]string{
	"reboot":   "b",
	"poweroff": "o",
}

// Standby deploys images onto the install device and hands the machine over
// to them.
type Standby struct {
	log        logr.Logger
	exec       executor.Interface
	registry   *hardware.Registry
	downloader *Downloader
	writer     *Writer
	cmdOpts    []command.Option

	// deploy serializes image writes, so the cached image check and the
	// write it guards happen as one step.
	deploy sync.Mutex

	mu             sync.Mutex
	cachedImageID  string
	partitionUUIDs *Partitions
}

// NewStandby returns a Standby. cmdOpts are applied to every asynchronous
// command it starts.
func NewStandby(log logr.Logger, exec executor.Interface, r *hardware.Registry, writer *Writer, cmdOpts ...command.Option) *Standby {
	return &Standby{
		log:        log,
		exec:       exec,
		registry:   r,
		downloader: writer.downloader,
		writer:     writer,
		cmdOpts:    cmdOpts,
	}
}

// CachedImageID returns the id of the image last written by this agent.
func (s *Standby) CachedImageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedImageID
}

func (s *Standby) cached(id string) (bool, *Partitions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedImageID == id, s.partitionUUIDs
}

func (s *Standby) remember(id string, parts *Partitions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedImageID = id
	s.partitionUUIDs = parts
}

func (s *Standby) installDevice(ctx context.Context) (string, error) {
	return hardware.Dispatch(ctx, s.registry, hardware.OpGetOSInstallDevice, func(m hardware.InstallDeviceGetter) (string, error) {
		return m.GetOSInstallDevice(ctx, nil)
	})
}

// CacheImage writes the image to the install device unless it is already
// there. force writes it again anyway.
func (s *Standby) CacheImage(ctx context.Context, info *Info, force bool) (*command.Result, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	params := map[string]any{"image_info": info, "force": force}
	return command.Start(ctx, s.log, CommandCacheImage, params, func(ctx context.Context) (any, error) {
		s.deploy.Lock()
		defer s.deploy.Unlock()

		device, err := s.installDevice(ctx)
		if err != nil {
			return nil, err
		}
		verb := "already present on"
		cached, parts := s.cached(info.ID)
		if !cached || force {
			s.log.Info("Caching image", "id", info.ID, "device", device)
			if parts, err = s.cacheAndWrite(ctx, info, device); err != nil {
				return nil, err
			}
			s.remember(info.ID, parts)
			verb = "cached to"
		}
		return s.message(info, verb, device, parts), nil
	}, s.cmdOpts...), nil
}

// PrepareImage writes the image to the install device, adds the config drive
// and checks the resulting partition table.
func (s *Standby) PrepareImage(ctx context.Context, info *Info, configdrive string) (*command.Result, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	params := map[string]any{"image_info": info, "configdrive": configdrive != ""}
	return command.Start(ctx, s.log, CommandPrepareImage, params, func(ctx context.Context) (any, error) {
		s.deploy.Lock()
		defer s.deploy.Unlock()

		device, err := s.installDevice(ctx)
		if err != nil {
			return nil, err
		}
		cached, parts := s.cached(info.ID)
		switch {
		case info.Streamed():
			if parts, err = s.streamAndWrite(ctx, info, device); err != nil {
				return nil, err
			}
			s.remember(info.ID, parts)
		case !cached:
			if parts, err = s.cacheAndWrite(ctx, info, device); err != nil {
				return nil, err
			}
			s.remember(info.ID, parts)
		default:
			s.log.Info("Image already present", "id", info.ID, "device", device)
		}

		if info.IsWholeDisk() && configdrive != "" {
			if err := s.writer.CreateConfigDrivePartition(ctx, info, device, configdrive); err != nil {
				return nil, err
			}
		}
		if err := s.writer.ValidatePartitions(ctx, device); err != nil {
			return nil, err
		}
		return s.message(info, "written to", device, parts), nil
	}, s.cmdOpts...), nil
}

func (s *Standby) cacheAndWrite(ctx context.Context, info *Info, device string) (*Partitions, error) {
	location, err := s.downloader.DownloadToFile(ctx, info)
	if err != nil {
		return nil, err
	}
	defer s.writer.removeQuietly(location)
	if !info.IsWholeDisk() {
		return s.writer.WorkOnDisk(ctx, info, device, location)
	}
	if err := s.writer.WriteWholeDisk(ctx, info, location, device); err != nil {
		return nil, err
	}
	s.writer.FixGPT(ctx, device)
	return nil, nil
}

// streamAndWrite writes a raw image straight from the network onto the
// install device, or onto the root partition of a partition image.
func (s *Standby) streamAndWrite(ctx context.Context, info *Info, device string) (*Partitions, error) {
	target := device
	var parts *Partitions
	if !info.IsWholeDisk() {
		var err error
		if parts, err = s.writer.WorkOnDisk(ctx, info, device, ""); err != nil {
			return nil, err
		}
		target = parts.Root
	}
	s.log.Info("Streaming raw image", "id", info.ID, "device", target)
	err := s.downloader.Fetch(ctx, info, target, func() (io.WriteCloser, error) {
		return OpenDevice(target)
	})
	if err != nil {
		return nil, err
	}
	if info.IsWholeDisk() {
		s.writer.FixGPT(ctx, device)
	} else {
		parts.RootUUID = s.writer.uuid(ctx, parts.Root)
	}
	return parts, nil
}

// message renders the result of an image operation. Whole disk images are
// identified by their disk signature, partition images by the UUIDs of their
// root and EFI system partitions.
func (s *Standby) message(info *Info, verb, device string, parts *Partitions) string {
	msg := fmt.Sprintf("image (%s) %s device %s", info.ID, verb, device)
	if info.IsWholeDisk() {
		id, err := DiskIdentifier(device)
		if err != nil {
			s.log.V(1).Info("Could not read the disk identifier", "device", device, "error", err.Error())
			return msg
		}
		return msg + " root_uuid=" + id
	}
	if parts == nil {
		return msg
	}
	msg += " root_uuid=" + parts.RootUUID
	if parts.EFISystemPartitionUUID != "" {
		msg += " efi_system_partition_uuid=" + parts.EFISystemPartitionUUID
	}
	return msg
}

// RunImage reboots into the deployed image.
func (s *Standby) RunImage(ctx context.Context) *command.Result {
	return command.Start(ctx, s.log, CommandRunImage, nil, func(ctx context.Context) (any, error) {
		s.log.Info("Rebooting system")
		return nil, s.runShutdown(ctx, "reboot")
	}, s.cmdOpts...)
}

// PowerOff powers the machine off.
func (s *Standby) PowerOff(ctx context.Context) *command.Result {
	return command.Start(ctx, s.log, CommandPowerOff, nil, func(ctx context.Context) (any, error) {
		s.log.Info("Powering off system")
		return nil, s.runShutdown(ctx, "poweroff")
	}, s.cmdOpts...)
}

// Sync flushes the file system buffers.
func (s *Standby) Sync(ctx context.Context) (*command.Result, error) {
	if _, _, err := s.exec.Run(ctx, executor.Cmd("sync")); err != nil {
		return nil, errdefs.NewCommandExecutionError("%v", err).Wrap(err)
	}
	return command.Sync(CommandSync, nil, nil, nil), nil
}

func (s *Standby) runShutdown(ctx context.Context, name string) error {
	key, ok := sysrq[name]
	if !ok {
		return errdefs.NewInvalidCommandParamsError("%s is not a valid shutdown command", name)
	}
	if _, _, err := s.exec.Run(ctx, executor.Cmd("sync")); err != nil {
		return rebootError(err)
	}
	_, stderr, err := s.exec.Run(ctx, executor.Cmd(name).WithStandardLocale())
	if err != nil {
		return rebootError(err)
	}
	if strings.Contains(stderr, chrootIgnored) {
		s.log.Info("Shutdown was ignored in a chroot, using SysRq", "command", name, "key", key)
		if err := os.WriteFile(pathSysrqTrigger, []byte(key), 0o200); err != nil {
			return rebootError(err)
		}
	}
	return nil
}

func rebootError(err error) error {
	var procErr *executor.ProcessExecutionError
	if errors.As(err, &procErr) {
		return errdefs.NewSystemRebootError(procErr.ExitCode, procErr.Stdout, procErr.Stderr).Wrap(err)
	}
	return errdefs.NewSystemRebootError(-1, "", err.Error()).Wrap(err)
}
