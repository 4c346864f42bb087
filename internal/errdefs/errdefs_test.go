// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package errdefs_test

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Errors", func() {
	It("should render message and details", func() {
		err := errdefs.NewImageDownloadError("fake_id", "URL: http://example.org; time: 1.00 seconds. Error: boom")
		Expect(err.Error()).To(Equal("Error downloading image: Download of image fake_id failed: URL: http://example.org; time: 1.00 seconds. Error: boom"))
		Expect(err.Code).To(Equal(http.StatusInternalServerError))
	})

	It("should render the message alone without details", func() {
		Expect(errdefs.NewHardwareManagerNotFoundError().Error()).To(Equal("No valid HardwareManager found"))
	})

	It("should find the reason through wrapped errors", func() {
		err := fmt.Errorf("erasing /dev/sda: %w", errdefs.NewIncompatibleHardwareMethodError("frozen"))
		Expect(errdefs.IsIncompatibleHardwareMethod(err)).To(BeTrue())
		Expect(errdefs.IsDeviceNotFound(err)).To(BeFalse())
		Expect(errdefs.ReasonForError(errors.New("plain"))).To(BeEmpty())
	})

	It("should unwrap the cause", func() {
		cause := errors.New("exit status 1")
		err := errdefs.NewSoftwareRAIDError("Failed to create md device /dev/md0").Wrap(cause)
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(errdefs.IsSoftwareRAIDError(err)).To(BeTrue())
	})

	It("should carry the image write context", func() {
		err := errdefs.NewImageWriteError("/dev/sda", 1, "out", "err")
		Expect(err.Details).To(Equal("Writing image to device /dev/sda failed with exit code 1. stdout: out. stderr: err"))
		Expect(err.Reason).To(Equal(errdefs.ReasonImageWrite))
	})

	It("should use bad request for invalid parameters", func() {
		err := errdefs.NewInvalidCommandParamsError("Image is missing '%s' field.", "id")
		Expect(err.Code).To(Equal(http.StatusBadRequest))
		Expect(err.Error()).To(Equal("Invalid command parameters: Image is missing 'id' field."))
	})
})
