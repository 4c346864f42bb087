// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package errdefs defines the error kinds the agent reports to its callers.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason identifies the kind of an Error.
type Reason string

const (
	ReasonCommandExecution             Reason = "CommandExecutionError"
	ReasonInvalidCommandParams         Reason = "InvalidCommandParamsError"
	ReasonDeviceNotFound               Reason = "DeviceNotFound"
	ReasonIncompatibleHardwareMethod   Reason = "IncompatibleHardwareMethodError"
	ReasonHardwareManagerNotFound      Reason = "HardwareManagerNotFound"
	ReasonHardwareManagerMethodMissing Reason = "HardwareManagerMethodNotFound"
	ReasonBlockDevice                  Reason = "BlockDeviceError"
	ReasonBlockDeviceErase             Reason = "BlockDeviceEraseError"
	ReasonSoftwareRAID                 Reason = "SoftwareRAIDError"
	ReasonImageDownload                Reason = "ImageDownloadError"
	ReasonImageChecksum                Reason = "ImageChecksumError"
	ReasonImageWrite                   Reason = "ImageWriteError"
	ReasonSystemReboot                 Reason = "SystemRebootError"
	ReasonVirtualMediaBoot             Reason = "VirtualMediaBootError"
	ReasonLookupNode                   Reason = "LookupNodeError"
	ReasonHeartbeat                    Reason = "HeartbeatError"
	ReasonHeartbeatConflict            Reason = "HeartbeatConflictError"
)

// Error is a failure with a stable Reason, a fixed Message per reason and
// call specific Details.
type Error struct {
	Reason  Reason
	Message string
	Details string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonForError returns the Reason of the first Error in err's chain, or an
// empty Reason.
func ReasonForError(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func newError(reason Reason, code int, message, details string) *Error {
	return &Error{Reason: reason, Code: code, Message: message, Details: details}
}

func NewCommandExecutionError(format string, args ...any) *Error {
	return newError(ReasonCommandExecution, http.StatusInternalServerError,
		"Command execution failed", fmt.Sprintf(format, args...))
}

func NewInvalidCommandParamsError(format string, args ...any) *Error {
	return newError(ReasonInvalidCommandParams, http.StatusBadRequest,
		"Invalid command parameters", fmt.Sprintf(format, args...))
}

func NewDeviceNotFoundError(format string, args ...any) *Error {
	return newError(ReasonDeviceNotFound, http.StatusNotFound,
		"Error finding the disk or partition device to deploy the image onto", fmt.Sprintf(format, args...))
}

// NewIncompatibleHardwareMethodError signals that the manager cannot perform
// the operation on this hardware and dispatch should try the next manager.
func NewIncompatibleHardwareMethodError(format string, args ...any) *Error {
	return newError(ReasonIncompatibleHardwareMethod, http.StatusInternalServerError,
		"HardwareManager method is not compatible with current hardware", fmt.Sprintf(format, args...))
}

func NewHardwareManagerNotFoundError() *Error {
	return newError(ReasonHardwareManagerNotFound, http.StatusInternalServerError,
		"No valid HardwareManager found", "")
}

func NewHardwareManagerMethodNotFoundError(method string) *Error {
	return newError(ReasonHardwareManagerMethodMissing, http.StatusInternalServerError,
		"No HardwareManager found to handle method", "Could not find method: "+method)
}

func NewBlockDeviceError(format string, args ...any) *Error {
	return newError(ReasonBlockDevice, http.StatusInternalServerError,
		"Block device caused unknown error", fmt.Sprintf(format, args...))
}

func NewBlockDeviceEraseError(format string, args ...any) *Error {
	return newError(ReasonBlockDeviceErase, http.StatusInternalServerError,
		"Error erasing block device", fmt.Sprintf(format, args...))
}

func NewSoftwareRAIDError(format string, args ...any) *Error {
	return newError(ReasonSoftwareRAID, http.StatusInternalServerError,
		"Software RAID caused unknown error", fmt.Sprintf(format, args...))
}

// NewImageDownloadError reports a failed download of the image or checksum
// file identified by id.
func NewImageDownloadError(id, details string) *Error {
	return newError(ReasonImageDownload, http.StatusInternalServerError,
		"Error downloading image", fmt.Sprintf("Download of image %s failed: %s", id, details))
}

// NewImageChecksumError reports a digest mismatch between the expected and the
// computed checksum of the image stored at location.
func NewImageChecksumError(location, id, expected, computed string) *Error {
	return newError(ReasonImageChecksum, http.StatusInternalServerError,
		"Error verifying image checksum",
		fmt.Sprintf("Image failed to verify against checksum. location: %s; image ID: %s; image checksum: %s; verification checksum: %s",
			location, id, expected, computed))
}

// NewChecksumFileError reports a checksum manifest that cannot yield a
// checksum for the image.
func NewChecksumFileError(url, format string, args ...any) *Error {
	return newError(ReasonImageChecksum, http.StatusInternalServerError,
		"Error verifying image checksum",
		fmt.Sprintf("Checksum file %s: %s", url, fmt.Sprintf(format, args...)))
}

func NewImageWriteError(device string, exitCode int, stdout, stderr string) *Error {
	return newError(ReasonImageWrite, http.StatusInternalServerError,
		"Error writing image to device",
		fmt.Sprintf("Writing image to device %s failed with exit code %d. stdout: %s. stderr: %s", device, exitCode, stdout, stderr))
}

func NewSystemRebootError(exitCode int, stdout, stderr string) *Error {
	return newError(ReasonSystemReboot, http.StatusInternalServerError,
		"Error rebooting system",
		fmt.Sprintf("Reboot script failed with exit code %d. stdout: %s. stderr: %s", exitCode, stdout, stderr))
}

func NewVirtualMediaBootError(format string, args ...any) *Error {
	return newError(ReasonVirtualMediaBoot, http.StatusInternalServerError,
		"Configuring agent from virtual media failed", fmt.Sprintf(format, args...))
}

func NewLookupNodeError(format string, args ...any) *Error {
	return newError(ReasonLookupNode, http.StatusInternalServerError,
		"Error getting configuration from the registry", fmt.Sprintf(format, args...))
}

func NewHeartbeatError(format string, args ...any) *Error {
	return newError(ReasonHeartbeat, http.StatusInternalServerError,
		"Error heartbeating to agent API", fmt.Sprintf(format, args...))
}

func NewHeartbeatConflictError(format string, args ...any) *Error {
	return newError(ReasonHeartbeatConflict, http.StatusConflict,
		"ConflictError heartbeating to agent API", fmt.Sprintf(format, args...))
}

// Wrap sets err as the cause of e and returns e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func IsDeviceNotFound(err error) bool {
	return ReasonForError(err) == ReasonDeviceNotFound
}

func IsIncompatibleHardwareMethod(err error) bool {
	return ReasonForError(err) == ReasonIncompatibleHardwareMethod
}

func IsHardwareManagerMethodNotFound(err error) bool {
	return ReasonForError(err) == ReasonHardwareManagerMethodMissing
}

func IsBlockDeviceEraseError(err error) bool {
	return ReasonForError(err) == ReasonBlockDeviceErase
}

func IsSoftwareRAIDError(err error) bool {
	return ReasonForError(err) == ReasonSoftwareRAID
}

func IsImageDownloadError(err error) bool {
	return ReasonForError(err) == ReasonImageDownload
}

func IsImageChecksumError(err error) bool {
	return ReasonForError(err) == ReasonImageChecksum
}

func IsInvalidCommandParams(err error) bool {
	return ReasonForError(err) == ReasonInvalidCommandParams
}
