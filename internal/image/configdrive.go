// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/probe"
)

const configDriveLabel = "config-2"

// decodeConfigDrive turns a config drive given inline as gzipped base64 or as
// URL into an image file and returns its path.
func (w *Writer) decodeConfigDrive(ctx context.Context, info *Info, data string) (string, error) {
	var raw []byte
	if isURL(data) {
		body, err := w.downloader.Get(ctx, info, data)
		if err != nil {
			return "", err
		}
		raw = body
	} else {
		raw = []byte(data)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		// Config drives fetched from a URL may be plain gzip.
		decoded = raw
	}
	if bytes.HasPrefix(decoded, magicGzip) {
		zr, err := gzip.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return "", errdefs.NewInvalidCommandParamsError("Config drive is not a valid gzip stream: %v", err)
		}
		decoded, err = io.ReadAll(zr)
		if err != nil {
			return "", errdefs.NewInvalidCommandParamsError("Config drive is not a valid gzip stream: %v", err)
		}
	}
	if len(decoded) > configDrivePartMB<<20 {
		return "", errdefs.NewInvalidCommandParamsError(
			"Config drive is %d bytes, it must not exceed %d MiB", len(decoded), configDrivePartMB)
	}

	name := "configdrive"
	if info.NodeUUID != "" {
		name += "-" + info.NodeUUID
	}
	path := filepath.Join(w.opts.Directory, name)
	if err := os.WriteFile(path, decoded, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (w *Writer) writeConfigDrive(ctx context.Context, info *Info, data, partition string) error {
	path, err := w.decodeConfigDrive(ctx, info, data)
	if err != nil {
		return err
	}
	defer w.removeQuietly(path)
	w.log.Info("Writing config drive", "partition", partition)
	return w.run(ctx, partition, executor.Cmd("dd", "if="+path, "of="+partition, "bs=64K", "oflag=direct"))
}

// CreateConfigDrivePartition writes a config drive to the config-2 partition
// of a whole disk image, creating a partition at the end of device when the
// image has none.
func (w *Writer) CreateConfigDrivePartition(ctx context.Context, info *Info, device, data string) error {
	partition, err := w.configDrivePartition(ctx, device)
	if err != nil {
		return err
	}
	if partition == "" {
		if partition, err = w.appendConfigDrivePartition(ctx, device); err != nil {
			return err
		}
	}
	return w.writeConfigDrive(ctx, info, data, partition)
}

// configDrivePartition returns the existing config-2 partition of device.
func (w *Writer) configDrivePartition(ctx context.Context, device string) (string, error) {
	stdout, _, err := w.exec.Run(ctx, executor.Cmd("blkid", "-o", "device", "-t", "LABEL="+configDriveLabel).AcceptExitCodes(0, 2))
	if err != nil {
		return "", imageWriteError(device, err)
	}
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" && line != device && strings.HasPrefix(line, device) {
			w.log.Info("Found existing config drive partition", "partition", line)
			return line, nil
		}
	}
	return "", nil
}

func (w *Writer) appendConfigDrivePartition(ctx context.Context, device string) (string, error) {
	before, err := w.collector.Partitions(ctx, device)
	if err != nil {
		return "", imageWriteError(device, err)
	}
	start := "-" + strconv.Itoa(configDrivePartMB) + "MiB"
	cmd := executor.Cmd("parted", "-a", "optimal", "-s", "--", device, "mkpart", "primary", "fat32", start, "-0")
	if err := w.run(ctx, device, cmd); err != nil {
		return "", err
	}
	w.collector.UdevSettle(ctx)
	if err := w.ValidatePartitions(ctx, device); err != nil {
		return "", err
	}
	after, err := w.collector.Partitions(ctx, device)
	if err != nil {
		return "", imageWriteError(device, err)
	}
	var known []int
	for _, p := range before {
		known = append(known, p.Number)
	}
	for _, p := range after {
		if !slices.Contains(known, p.Number) {
			partition := probe.PartitionDevice(device, p.Number)
			w.log.Info("Created config drive partition", "partition", partition)
			return partition, nil
		}
	}
	return "", errdefs.NewImageWriteError(device, 0, "", "The config drive partition could not be found after creating it")
}
