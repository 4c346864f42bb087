// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
)

func fakeImageInfo() *Info {
	return &Info{
		ID:        "fake_id",
		NodeUUID:  "1be26c0b-03f2-4d2e-ae87-c02d7f33c123",
		URLs:      []string{"http://example.org"},
		Checksum:  "abc123",
		ImageType: TypeWholeDisk,
	}
}

var _ = Describe("Info", func() {
	DescribeTable("validation",
		func(mutate func(*Info), valid bool) {
			info := fakeImageInfo()
			mutate(info)
			err := info.Validate()
			if valid {
				Expect(err).NotTo(HaveOccurred())
				return
			}
			Expect(errdefs.IsInvalidCommandParams(err)).To(BeTrue())
		},
		Entry("legacy checksum", func(*Info) {}, true),
		Entry("new hash fields", func(i *Info) {
			i.OSHashAlgo, i.OSHashValue = "md5", "fake-checksum"
		}, true),
		Entry("new hash fields without md5", func(i *Info) {
			i.Checksum = ""
			i.OSHashAlgo, i.OSHashValue = "sha512", "fake-checksum"
		}, true),
		Entry("missing id", func(i *Info) { i.ID = "" }, false),
		Entry("missing urls", func(i *Info) { i.URLs = nil }, false),
		Entry("empty urls", func(i *Info) { i.URLs = []string{} }, false),
		Entry("blank url", func(i *Info) { i.URLs = []string{" "} }, false),
		Entry("empty checksum", func(i *Info) { i.Checksum = "" }, false),
		Entry("hash algorithm without value", func(i *Info) { i.OSHashAlgo = "sha512" }, false),
		Entry("hash value without algorithm", func(i *Info) { i.OSHashValue = "fake-checksum" }, false),
		Entry("partition image without root size", func(i *Info) { i.ImageType = TypePartition }, false),
		Entry("partition image", func(i *Info) {
			i.ImageType = TypePartition
			i.RootMB = 10
		}, true),
	)

	It("rejects a missing image", func() {
		var info *Info
		Expect(errdefs.IsInvalidCommandParams(info.Validate())).To(BeTrue())
	})

	It("caches the image under its id", func() {
		Expect(fakeImageInfo().Location("/var/cache")).To(Equal(filepath.Join("/var/cache", "fake_id")))
	})

	It("treats everything but partition images as whole disk images", func() {
		info := fakeImageInfo()
		info.ImageType = ""
		Expect(info.IsWholeDisk()).To(BeTrue())
		info.ImageType = TypePartition
		Expect(info.IsWholeDisk()).To(BeFalse())
	})

	It("streams only raw images with streaming enabled", func() {
		info := fakeImageInfo()
		info.StreamRawImages = true
		Expect(info.Streamed()).To(BeFalse())
		info.DiskFormat = FormatRaw
		Expect(info.Streamed()).To(BeTrue())
	})

	It("derives the partition table from the boot mode", func() {
		info := fakeImageInfo()
		info.DeployBootMode = "uefi"
		Expect(info.Label()).To(Equal("gpt"))
		info.DeployBootMode = "bios"
		Expect(info.Label()).To(Equal("msdos"))
		info.DiskLabel = "gpt"
		Expect(info.Label()).To(Equal("gpt"))
	})
})

var _ = Describe("NewHash", func() {
	data := []byte("SpongeBob SquarePants")

	DescribeTable("known algorithms",
		func(algo, expected string) {
			h, ok := NewHash(algo)
			Expect(ok).To(BeTrue())
			h.Write(data)
			Expect(hex.EncodeToString(h.Sum(nil))).To(Equal(expected))
		},
		Entry("sha256", "sha256", func() string { s := sha256.Sum256(data); return hex.EncodeToString(s[:]) }()),
		Entry("upper case", "SHA256", func() string { s := sha256.Sum256(data); return hex.EncodeToString(s[:]) }()),
		Entry("sha3_256", "sha3_256", func() string { s := sha3.Sum256(data); return hex.EncodeToString(s[:]) }()),
		Entry("blake2b", "blake2b", func() string { s := blake2b.Sum512(data); return hex.EncodeToString(s[:]) }()),
		Entry("blake3", "blake3", func() string { s := blake3.Sum256(data); return hex.EncodeToString(s[:]) }()),
		Entry("md5", "md5", md5Hex(data)),
	)

	It("does not know made up algorithms", func() {
		_, ok := NewHash("whirlpool")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("SelectChecksum", func() {
	const (
		checksumURL = "http://example.com/checksum"
		imageURL    = "http://example.com/path/image.img"
		fakeCS      = "019fe036425da1c562f2e9f5299820bf"
	)

	It("accepts a file holding only the checksum", func() {
		Expect(SelectChecksum("fake_id", checksumURL, fakeCS+"\n", imageURL)).To(Equal(fakeCS))
	})

	It("picks the line naming the image", func() {
		body := "\nfoobar  irrelevant file.img\n" + fakeCS + "  image.img\n"
		Expect(SelectChecksum("fake_id", checksumURL, body, imageURL)).To(Equal(fakeCS))
	})

	It("understands binary mode lines", func() {
		Expect(SelectChecksum("fake_id", checksumURL, fakeCS+" *image.img\n", imageURL)).To(Equal(fakeCS))
	})

	It("fails when the image is not listed", func() {
		body := "foobar  irrelevant file.img\n" + fakeCS + "  not-my-image.img\n"
		_, err := SelectChecksum("fake_id", checksumURL, body, imageURL)
		Expect(errdefs.IsImageChecksumError(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("does not contain name image.img")))
	})

	It("fails on an empty file", func() {
		_, err := SelectChecksum("fake_id", checksumURL, " ", imageURL)
		Expect(errdefs.IsImageDownloadError(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("Empty checksum file")))
	})
})
