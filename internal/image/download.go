// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/net/http/httpproxy"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/metrics"
)

const (
	chunkSize = 1 << 20
	// maxChecksumFileSize bounds the checksum files read into memory.
	maxChecksumFileSize = 1 << 20
	maxErrorBodySize    = 4 << 10
)

var errStalled = errors.New("stalled")

// Options configure downloads and writes.
type Options struct {
	// Timeout bounds connecting, waiting for response headers and waiting
	// for the next chunk of a response body.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed one.
	Retries       int
	RetryInterval time.Duration
	// Directory holds cached images and decoded config drives.
	Directory                  string
	PartitionDetectionAttempts int
	PartitionDetectionDelay    time.Duration

	Insecure bool
	CAFile   string
	CertFile string
	KeyFile  string
}

func DefaultOptions() Options {
	return Options{
		Timeout:                    60 * time.Second,
		Retries:                    2,
		RetryInterval:              10 * time.Second,
		Directory:                  os.TempDir(),
		PartitionDetectionAttempts: 3,
		PartitionDetectionDelay:    time.Second,
	}
}

// Downloader fetches images over HTTP.
type Downloader struct {
	log  logr.Logger
	opts Options
	tls  *tls.Config
}

// NewDownloader loads the TLS material named in opts.
func NewDownloader(log logr.Logger, opts Options) (*Downloader, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: opts.Insecure} //nolint:gosec
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return &Downloader{log: log, opts: opts, tls: tlsConfig}, nil
}

// Options returns the options of the downloader.
func (d *Downloader) Options() Options {
	return d.opts
}

func (d *Downloader) client(info *Info) *http.Client {
	proxy := httpproxy.FromEnvironment()
	if v := info.Proxies["http"]; v != "" {
		proxy.HTTPProxy = v
	}
	if v := info.Proxies["https"]; v != "" {
		proxy.HTTPSProxy = v
	}
	if info.NoProxy != "" {
		if proxy.NoProxy != "" {
			proxy.NoProxy += ","
		}
		proxy.NoProxy += info.NoProxy
	}
	proxyFunc := proxy.ProxyFunc()

	return &http.Client{Transport: &http.Transport{
		Proxy: func(r *http.Request) (*url.URL, error) {
			return proxyFunc(r.URL)
		},
		DialContext:           (&net.Dialer{Timeout: d.opts.Timeout}).DialContext,
		TLSClientConfig:       d.tls.Clone(),
		TLSHandshakeTimeout:   d.opts.Timeout,
		ResponseHeaderTimeout: d.opts.Timeout,
	}}
}

func (d *Downloader) backoff() wait.Backoff {
	return wait.Backoff{Duration: d.opts.RetryInterval, Factor: 1, Steps: d.opts.Retries + 1}
}

// statusError is a response other than 200 OK.
type statusError struct {
	url  string
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("Received status code %d from %s, expected 200. Response body: %s", e.code, e.url, e.body)
}

// get issues a GET for rawURL, retrying network errors and server errors.
// The returned cancel func ends the request and must be called once the body
// is no longer read.
func (d *Downloader) get(ctx context.Context, client *http.Client, id, rawURL string) (*http.Response, context.Context, context.CancelCauseFunc, error) {
	start := time.Now()
	var (
		resp    *http.Response
		reqCtx  context.Context
		cancel  context.CancelCauseFunc
		lastErr error
	)
	err := wait.ExponentialBackoffWithContext(ctx, d.backoff(), func(ctx context.Context) (bool, error) {
		attemptCtx, attemptCancel := context.WithCancelCause(ctx)
		r, err := d.getOnce(attemptCtx, client, rawURL)
		if err != nil {
			attemptCancel(err)
			metrics.ImageDownloadAttemptsTotal.WithLabelValues("error").Inc()
			lastErr = err
			var se *statusError
			if errors.As(err, &se) && se.code < http.StatusInternalServerError {
				return false, err
			}
			d.log.Info("Unable to download, retrying", "url", rawURL, "error", err.Error())
			return false, nil
		}
		metrics.ImageDownloadAttemptsTotal.WithLabelValues("success").Inc()
		resp, reqCtx, cancel = r, attemptCtx, attemptCancel
		return true, nil
	})
	if wait.Interrupted(err) && lastErr != nil {
		err = lastErr
	}
	if err != nil {
		details := fmt.Sprintf("URL: %s; time: %.2f seconds. Error: %v", rawURL, time.Since(start).Seconds(), err)
		return nil, nil, nil, errdefs.NewImageDownloadError(id, details).Wrap(err)
	}
	return resp, reqCtx, cancel, nil
}

func (d *Downloader) getOnce(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &statusError{url: rawURL, code: resp.StatusCode, body: string(body)}
	}
	return resp, nil
}

// verifier returns a fresh hash and the digest expected from it.
func (d *Downloader) verifier(ctx context.Context, client *http.Client, info *Info) (hash.Hash, string, error) {
	if info.OSHashAlgo != "" && info.OSHashValue != "" {
		if h, ok := NewHash(info.OSHashAlgo); ok {
			return h, info.OSHashValue, nil
		}
		d.log.Info("Unknown hash algorithm, falling back to the legacy checksum", "algorithm", info.OSHashAlgo)
	}
	if info.Checksum == "" {
		return nil, "", errdefs.NewInvalidCommandParamsError(
			"Image %s has no checksum usable for verification, hash algorithm %q is unknown", info.ID, info.OSHashAlgo)
	}
	h, _ := NewHash(legacyHashAlgo)
	if !isURL(info.Checksum) {
		return h, info.Checksum, nil
	}
	expected, err := d.fetchChecksum(ctx, client, info)
	if err != nil {
		return nil, "", err
	}
	return h, expected, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (d *Downloader) fetchChecksum(ctx context.Context, client *http.Client, info *Info) (string, error) {
	d.log.Info("Downloading checksum file", "url", info.Checksum)
	resp, _, cancel, err := d.get(ctx, client, info.ID, info.Checksum)
	if err != nil {
		return "", err
	}
	defer cancel(nil)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChecksumFileSize))
	if err != nil {
		return "", errdefs.NewImageDownloadError(info.ID, fmt.Sprintf("Failed to read checksum file %s: %v", info.Checksum, err)).Wrap(err)
	}
	return SelectChecksum(info.ID, info.Checksum, string(body), info.URLs[0])
}

// SelectChecksum picks the checksum of imageURL from the contents of a
// checksum file. A file holding a single bare checksum applies to any image.
// Other files must list the image by the last path segment of its URL.
func SelectChecksum(id, checksumURL, body, imageURL string) (string, error) {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", errdefs.NewImageDownloadError(id, "Empty checksum file")
	}
	if len(lines) == 1 && !strings.ContainsAny(lines[0], " \t") {
		return lines[0], nil
	}

	name := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		name = u.Path
	}
	name = name[strings.LastIndex(name, "/")+1:]
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// A leading star marks binary mode.
		if strings.TrimPrefix(strings.Join(fields[1:], " "), "*") == name {
			return fields[0], nil
		}
	}
	return "", errdefs.NewChecksumFileError(checksumURL, "does not contain name %s", name)
}

// Open resolves the checksum of info and starts downloading its first URL.
func (d *Downloader) Open(ctx context.Context, info *Info) (*Download, error) {
	client := d.client(info)
	h, expected, err := d.verifier(ctx, client, info)
	if err != nil {
		return nil, err
	}
	rawURL := info.URLs[0]
	d.log.Info("Downloading image", "id", info.ID, "url", rawURL)
	resp, reqCtx, cancel, err := d.get(ctx, client, info.ID, rawURL)
	if err != nil {
		return nil, err
	}
	dl := &Download{
		log:      d.log.WithValues("id", info.ID),
		id:       info.ID,
		url:      rawURL,
		body:     resp.Body,
		ctx:      reqCtx,
		cancel:   cancel,
		timeout:  d.opts.Timeout,
		hash:     h,
		expected: strings.TrimSpace(expected),
		progress: rate.Sometimes{Interval: 10 * time.Second},
	}
	if d.opts.Timeout > 0 {
		dl.stall = time.AfterFunc(d.opts.Timeout, func() { cancel(errStalled) })
		dl.stall.Stop()
	}
	return dl, nil
}

// Download is the body of an image being downloaded. It hashes everything
// read and can be read only once.
type Download struct {
	log      logr.Logger
	id       string
	url      string
	body     io.ReadCloser
	ctx      context.Context
	cancel   context.CancelCauseFunc
	timeout  time.Duration
	// stall cancels the request when a read blocks longer than timeout.
	stall    *time.Timer
	hash     hash.Hash
	expected string
	bytes    int64
	progress rate.Sometimes
}

func (dl *Download) Read(p []byte) (int, error) {
	if dl.stall != nil {
		dl.stall.Reset(dl.timeout)
	}
	n, err := dl.body.Read(p)
	if dl.stall != nil {
		dl.stall.Stop()
	}
	if n > 0 {
		dl.hash.Write(p[:n])
		dl.bytes += int64(n)
		metrics.ImageDownloadBytesTotal.Add(float64(n))
		dl.progress.Do(func() {
			dl.log.Info("Image download in progress", "bytes", dl.bytes)
		})
	}
	if err != nil && err != io.EOF && errors.Is(context.Cause(dl.ctx), errStalled) {
		return n, fmt.Errorf("Timed out reading next chunk from %s after %s", dl.url, dl.timeout)
	}
	return n, err
}

func (dl *Download) Close() error {
	if dl.stall != nil {
		dl.stall.Stop()
	}
	err := dl.body.Close()
	dl.cancel(nil)
	return err
}

// Bytes returns the number of bytes read so far.
func (dl *Download) Bytes() int64 {
	return dl.bytes
}

// Verify compares the digest of everything read with the expected one.
// location names where the image was stored in the error.
func (dl *Download) Verify(location string) error {
	computed := hex.EncodeToString(dl.hash.Sum(nil))
	if !strings.EqualFold(computed, dl.expected) {
		return errdefs.NewImageChecksumError(location, dl.id, dl.expected, computed)
	}
	dl.log.Info("Image verified", "location", location, "bytes", dl.bytes)
	return nil
}

// Fetch downloads info into the writer returned by open, retrying the whole
// transfer when reading or writing fails midway. The digest is verified once
// a transfer completed.
func (d *Downloader) Fetch(ctx context.Context, info *Info, location string, open func() (io.WriteCloser, error)) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, d.backoff(), func(ctx context.Context) (bool, error) {
		dl, err := d.Open(ctx, info)
		if err != nil {
			return false, err
		}
		if err := d.transfer(dl, open); err != nil {
			lastErr = err
			d.log.Info("Image transfer failed, retrying", "id", info.ID, "location", location, "error", err.Error())
			return false, nil
		}
		return true, dl.Verify(location)
	})
	if wait.Interrupted(err) && lastErr != nil {
		details := fmt.Sprintf("Unable to write image to %s. Error: %v", location, lastErr)
		return errdefs.NewImageDownloadError(info.ID, details).Wrap(lastErr)
	}
	return err
}

func (d *Downloader) transfer(dl *Download, open func() (io.WriteCloser, error)) (err error) {
	defer func() { _ = dl.Close() }()
	w, err := open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.CopyBuffer(w, dl, make([]byte, chunkSize))
	return err
}

// DownloadToFile caches info below the configured directory and returns the
// file path.
func (d *Downloader) DownloadToFile(ctx context.Context, info *Info) (string, error) {
	location := info.Location(d.opts.Directory)
	start := time.Now()
	err := d.Fetch(ctx, info, location, func() (io.WriteCloser, error) {
		return os.Create(location)
	})
	if err != nil {
		return "", err
	}
	d.log.Info("Image downloaded", "id", info.ID, "location", location, "seconds", time.Since(start).Seconds())
	return location, nil
}

// Get downloads a small document such as a config drive without verifying
// it.
func (d *Downloader) Get(ctx context.Context, info *Info, rawURL string) ([]byte, error) {
	resp, _, cancel, err := d.get(ctx, d.client(info), info.ID, rawURL)
	if err != nil {
		return nil, err
	}
	defer cancel(nil)
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}
