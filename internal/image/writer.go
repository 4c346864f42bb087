// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ironcore-dev/metal-agent/internal/erase"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/executor"
	"github.com/ironcore-dev/metal-agent/internal/probe"
)

const (
	diskIdentifierOffset = 440
	misplacedGPTHeader   = "Problem: The secondary header's self-pointer indicates that it doesn't reside"
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Writer puts images onto block devices.
type Writer struct {
	log        logr.Logger
	exec       executor.Interface
	collector  *probe.Collector
	downloader *Downloader
	opts       Options
}

func NewWriter(log logr.Logger, exec executor.Interface, collector *probe.Collector, downloader *Downloader) *Writer {
	return &Writer{
		log:        log,
		exec:       exec,
		collector:  collector,
		downloader: downloader,
		opts:       downloader.Options(),
	}
}

func imageWriteError(device string, err error) error {
	var procErr *executor.ProcessExecutionError
	if errors.As(err, &procErr) {
		return errdefs.NewImageWriteError(device, procErr.ExitCode, procErr.Stdout, procErr.Stderr).Wrap(err)
	}
	return errdefs.NewImageWriteError(device, -1, "", err.Error()).Wrap(err)
}

// WriteWholeDisk replaces everything on device with the image cached at
// location.
func (w *Writer) WriteWholeDisk(ctx context.Context, info *Info, location, device string) error {
	if err := erase.DestroyDiskMetadata(ctx, w.exec, device); err != nil {
		return imageWriteError(device, err)
	}
	w.collector.UdevSettle(ctx)
	return w.writeImage(ctx, info, location, device)
}

// writeImage copies raw and compressed raw images onto target and converts
// all other formats with qemu-img.
func (w *Writer) writeImage(ctx context.Context, info *Info, location, target string) error {
	f, err := os.Open(location)
	if err != nil {
		return imageWriteError(target, err)
	}
	defer func() { _ = f.Close() }()

	r, format, err := decompress(f)
	if err != nil {
		return imageWriteError(target, err)
	}
	if c, ok := r.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	if format == "" && info.DiskFormat != FormatRaw {
		w.log.Info("Converting image onto device", "location", location, "device", target)
		cmd := executor.Cmd("qemu-img", "convert", "-t", "directsync", "-O", "host_device", "-W", location, target).
			WithStandardLocale()
		if _, _, err := w.exec.Run(ctx, cmd); err != nil {
			return imageWriteError(target, err)
		}
		return nil
	}

	w.log.Info("Copying image onto device", "location", location, "device", target, "compression", format)
	if err := copyToDevice(target, r); err != nil {
		return imageWriteError(target, err)
	}
	return nil
}

// decompress detects gzip, zstd and lz4 streams by their magic bytes and
// returns a reader of the decompressed data along with the format found.
func decompress(r io.Reader) (io.Reader, string, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	switch {
	case bytes.HasPrefix(head, magicGzip):
		zr, err := gzip.NewReader(br)
		return zr, "gzip", err
	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, "", err
		}
		return zr.IOReadCloser(), "zstd", nil
	case bytes.HasPrefix(head, magicLZ4):
		return lz4.NewReader(br), "lz4", nil
	}
	return br, "", nil
}

func copyToDevice(device string, r io.Reader) error {
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(f, r, make([]byte, chunkSize)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// OpenDevice opens device for a streamed write.
func OpenDevice(device string) (io.WriteCloser, error) {
	return os.OpenFile(device, os.O_WRONLY, 0)
}

// FixGPT moves the backup GPT header to the end of device when the image was
// written to a disk of another size. Failures are only logged.
func (w *Writer) FixGPT(ctx context.Context, device string) {
	stdout, _, err := w.exec.Run(ctx, executor.Cmd("sgdisk", "-v", device).WithStandardLocale())
	if err != nil {
		w.log.V(1).Info("Could not verify the partition table", "device", device, "error", err.Error())
		return
	}
	if !strings.Contains(stdout, misplacedGPTHeader) {
		return
	}
	w.log.Info("Relocating the backup GPT header", "device", device)
	if _, _, err := w.exec.Run(ctx, executor.Cmd("sgdisk", "-e", device)); err != nil {
		w.log.Error(err, "Failed to relocate the backup GPT header", "device", device)
	}
}

// ValidatePartitions makes the kernel re-read the partition table of device
// and fails when it holds no partitions.
func (w *Writer) ValidatePartitions(ctx context.Context, device string) error {
	attempts := max(w.opts.PartitionDetectionAttempts, 1)
	cmd := executor.Cmd("partprobe", device).WithAttempts(attempts, w.opts.PartitionDetectionDelay)
	if _, _, err := w.exec.Run(ctx, cmd); err != nil {
		w.log.Info("Failed to re-read the partition table", "device", device, "error", err.Error())
	}
	partitions, err := w.collector.Partitions(ctx, device)
	if err != nil {
		return imageWriteError(device, err)
	}
	if len(partitions) == 0 {
		return errdefs.NewImageWriteError(device, 0, "", "No partitions found on the device")
	}
	return nil
}

// DiskIdentifier returns the MBR disk signature of device.
func DiskIdentifier(device string) (string, error) {
	f, err := os.Open(device)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, diskIdentifierOffset); err != nil {
		return "", err
	}
	return fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(buf)), nil
}
