// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk on fire") }
func (failingWriter) Close() error              { return nil }

var _ = Describe("Downloader", func() {
	var (
		ctx        context.Context
		mux        *http.ServeMux
		server     *httptest.Server
		opts       Options
		downloader *Downloader
		content    []byte
		info       *Info
		requests   atomic.Int32
	)

	newDownloader := func() {
		var err error
		downloader, err = NewDownloader(logr.Discard(), opts)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)
		requests.Store(0)

		content = bytes.Repeat([]byte("some content"), 1000)
		opts = DefaultOptions()
		opts.RetryInterval = time.Millisecond
		opts.Timeout = 5 * time.Second
		opts.Directory = GinkgoT().TempDir()
		newDownloader()

		info = fakeImageInfo()
		info.URLs = []string{server.URL + "/images/image.img"}
		info.Checksum = md5Hex(content)
	})

	serveImage := func() {
		mux.HandleFunc("/images/image.img", func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			_, _ = w.Write(content)
		})
	}

	It("downloads and verifies an image", func() {
		serveImage()
		dl, err := downloader.Open(ctx, info)
		Expect(err).NotTo(HaveOccurred())
		data, err := io.ReadAll(dl)
		Expect(err).NotTo(HaveOccurred())
		Expect(dl.Close()).To(Succeed())
		Expect(data).To(Equal(content))
		Expect(dl.Bytes()).To(BeEquivalentTo(len(content)))
		Expect(dl.Verify("/tmp/image")).To(Succeed())
	})

	It("prefers the os hash over the legacy checksum", func() {
		serveImage()
		sum := sha512.Sum512(content)
		info.Checksum = "not-the-checksum"
		info.OSHashAlgo, info.OSHashValue = "sha512", hex.EncodeToString(sum[:])
		Expect(downloader.Fetch(ctx, info, "/tmp/image", func() (io.WriteCloser, error) {
			return nopWriteCloser{io.Discard}, nil
		})).To(Succeed())
	})

	It("falls back to the legacy checksum for unknown hash algorithms", func() {
		serveImage()
		info.OSHashAlgo, info.OSHashValue = "whirlpool", "whatever"
		Expect(downloader.Fetch(ctx, info, "/tmp/image", func() (io.WriteCloser, error) {
			return nopWriteCloser{io.Discard}, nil
		})).To(Succeed())
	})

	It("rejects unknown hash algorithms without a legacy checksum", func() {
		serveImage()
		info.Checksum = ""
		info.OSHashAlgo, info.OSHashValue = "whirlpool", "whatever"
		_, err := downloader.Open(ctx, info)
		Expect(errdefs.IsInvalidCommandParams(err)).To(BeTrue())
		Expect(requests.Load()).To(BeZero())
	})

	It("reports checksum mismatches", func() {
		serveImage()
		info.Checksum = "invalid-checksum"
		err := downloader.Fetch(ctx, info, "/tmp/image", func() (io.WriteCloser, error) {
			return nopWriteCloser{io.Discard}, nil
		})
		Expect(errdefs.IsImageChecksumError(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("invalid-checksum")))
		Expect(err).To(MatchError(ContainSubstring(md5Hex(content))))
		Expect(requests.Load()).To(BeEquivalentTo(1))
	})

	Context("with a checksum file", func() {
		serveChecksums := func(body string) {
			mux.HandleFunc("/images/checksums", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			info.Checksum = server.URL + "/images/checksums"
		}

		It("uses the checksum listed for the image", func() {
			serveImage()
			serveChecksums("foobar  irrelevant file.img\n" + md5Hex(content) + "  image.img\n")
			Expect(downloader.Fetch(ctx, info, "/tmp/image", func() (io.WriteCloser, error) {
				return nopWriteCloser{io.Discard}, nil
			})).To(Succeed())
		})

		It("uses a bare checksum", func() {
			serveImage()
			serveChecksums(md5Hex(content) + "\n")
			Expect(downloader.Fetch(ctx, info, "/tmp/image", func() (io.WriteCloser, error) {
				return nopWriteCloser{io.Discard}, nil
			})).To(Succeed())
		})

		It("fails when the image is not listed", func() {
			serveImage()
			serveChecksums("foobar  irrelevant file.img\n" + md5Hex(content) + "  other.img\n")
			_, err := downloader.Open(ctx, info)
			Expect(errdefs.IsImageChecksumError(err)).To(BeTrue())
			Expect(requests.Load()).To(BeZero())
		})

		It("fails when the checksum file is missing", func() {
			serveImage()
			info.Checksum = server.URL + "/images/missing"
			_, err := downloader.Open(ctx, info)
			Expect(errdefs.IsImageDownloadError(err)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("Received status code 404")))
		})
	})

	It("does not retry client errors", func() {
		mux.HandleFunc("/images/image.img", func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
		_, err := downloader.Open(ctx, info)
		Expect(errdefs.IsImageDownloadError(err)).To(BeTrue())
		Expect(err).To(MatchError(MatchRegexp(
			`Download of image fake_id failed: URL: http://.*/images/image.img; time: .* seconds. ` +
				`Error: Received status code 401 from http://.*/images/image.img, expected 200. Response body: Unauthorized`)))
		Expect(requests.Load()).To(BeEquivalentTo(1))
	})

	It("retries server errors", func() {
		mux.HandleFunc("/images/image.img", func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			http.Error(w, "Oops", http.StatusInternalServerError)
		})
		_, err := downloader.Open(ctx, info)
		Expect(errdefs.IsImageDownloadError(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("Received status code 500")))
		Expect(err).To(MatchError(ContainSubstring("Response body: Oops")))
		Expect(requests.Load()).To(BeEquivalentTo(3))
	})

	It("succeeds after a transient server error", func() {
		mux.HandleFunc("/images/image.img", func(w http.ResponseWriter, _ *http.Request) {
			if requests.Add(1) == 1 {
				http.Error(w, "Busy", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write(content)
		})
		location, err := downloader.DownloadToFile(ctx, info)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.ReadFile(location)).To(Equal(content))
		Expect(requests.Load()).To(BeEquivalentTo(2))
	})

	It("gives up on a stalled download", func() {
		opts.Timeout = 200 * time.Millisecond
		newDownloader()
		mux.HandleFunc("/images/image.img", func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			_, _ = w.Write([]byte("some"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})
		err := downloader.Fetch(ctx, info, "/tmp/image", func() (io.WriteCloser, error) {
			return nopWriteCloser{io.Discard}, nil
		})
		Expect(errdefs.IsImageDownloadError(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("Timed out reading next chunk")))
		Expect(err).To(MatchError(ContainSubstring("Unable to write image to /tmp/image")))
		Expect(requests.Load()).To(BeEquivalentTo(3))
	})

	It("retries the whole transfer when writing fails", func() {
		serveImage()
		err := downloader.Fetch(ctx, info, "/dev/fake", func() (io.WriteCloser, error) {
			return failingWriter{}, nil
		})
		Expect(errdefs.IsImageDownloadError(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("disk on fire")))
		Expect(requests.Load()).To(BeEquivalentTo(3))
	})

	It("fetches documents without verifying them", func() {
		mux.HandleFunc("/configdrive", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "drive")
		})
		Expect(downloader.Get(ctx, info, server.URL+"/configdrive")).To(Equal([]byte("drive")))
	})

	It("fails on unreadable CA files", func() {
		opts.CAFile = "/does/not/exist"
		_, err := NewDownloader(logr.Discard(), opts)
		Expect(err).To(MatchError(ContainSubstring("failed to read CA file")))
	})
})
