// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/ironcore-dev/metal-agent/internal/config"
)

var _ = Describe("Load", func() {
	writeConfig := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	It("applies the defaults", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Image.DownloadConnectionTimeout).To(Equal(60 * time.Second))
		Expect(cfg.Image.DownloadConnectionRetries).To(Equal(2))
		Expect(cfg.Image.DownloadConnectionRetryInterval).To(Equal(10 * time.Second))
		Expect(cfg.Image.Directory).To(Equal(os.TempDir()))
		Expect(cfg.Image.PartitionDetectionAttempts).To(Equal(3))
		Expect(cfg.Disk.WaitAttempts).To(Equal(10))
		Expect(cfg.Disk.WaitDelay).To(Equal(3 * time.Second))
		Expect(cfg.Disk.InstallDeviceMinSize).To(Equal("4Gi"))
		Expect(cfg.Agent.HeartbeatInterval).To(Equal(30 * time.Second))
		Expect(cfg.Agent.LookupTimeout).To(Equal(300 * time.Second))
		Expect(cfg.Metrics.BindAddress).To(BeEmpty())
	})

	It("keeps the defaults when the file does not exist", func() {
		cfg, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Disk.WaitAttempts).To(Equal(10))
	})

	It("reads the file", func() {
		cfg, err := config.Load(writeConfig(`
image:
  download_connection_retries: 5
  download_connection_retry_interval: 1m
  directory: /var/cache/images
disk:
  install_device_min_size: 8Gi
agent:
  api_url: http://registry:8080
  heartbeat_interval: 10s
metrics:
  bind_address: :9100
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Image.DownloadConnectionRetries).To(Equal(5))
		Expect(cfg.Image.DownloadConnectionRetryInterval).To(Equal(time.Minute))
		Expect(cfg.Agent.APIURL).To(Equal("http://registry:8080"))
		Expect(cfg.Agent.HeartbeatInterval).To(Equal(10 * time.Second))
		Expect(cfg.Metrics.BindAddress).To(Equal(":9100"))

		opts := cfg.ImageOptions()
		Expect(opts.Retries).To(Equal(5))
		Expect(opts.Directory).To(Equal("/var/cache/images"))
		Expect(cfg.GenericOptions().MinInstallSize.Cmp(resource.MustParse("8Gi"))).To(BeZero())

		agentOpts := cfg.AgentOptions()
		Expect(agentOpts.APIURL).To(Equal("http://registry:8080"))
		Expect(agentOpts.HeartbeatInterval).To(Equal(10 * time.Second))
		Expect(agentOpts.LookupTimeout).To(Equal(300 * time.Second))
		Expect(agentOpts.RequestTimeout).To(Equal(30 * time.Second))
	})

	It("lets the environment override the file", func() {
		GinkgoT().Setenv("METAL_AGENT_DISK_WAIT_ATTEMPTS", "1")
		GinkgoT().Setenv("METAL_AGENT_AGENT_API_URL", "https://other:8443")
		cfg, err := config.Load(writeConfig("disk:\n  wait_attempts: 4\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Disk.WaitAttempts).To(Equal(1))
		Expect(cfg.Agent.APIURL).To(Equal("https://other:8443"))
		Expect(cfg.GenericOptions().DiskWaitAttempts).To(Equal(1))
	})

	It("fails on malformed files", func() {
		_, err := config.Load(writeConfig("image: [unterminated\n"))
		Expect(err).To(MatchError(ContainSubstring("error reading config file")))
	})

	DescribeTable("rejects invalid values",
		func(content, message string) {
			_, err := config.Load(writeConfig(content))
			Expect(err).To(MatchError(ContainSubstring(message)))
		},
		Entry("negative retries", "image:\n  download_connection_retries: -1\n", "must not be negative"),
		Entry("client certificate without key", "image:\n  cert_file: /tmp/cert.pem\n", "must be set together"),
		Entry("bad size", "disk:\n  install_device_min_size: lots\n", "disk.install_device_min_size"),
		Entry("zero heartbeat interval", "agent:\n  heartbeat_interval: 0s\n", "agent.heartbeat_interval must be positive"),
		Entry("relative api url", "agent:\n  api_url: registry\n", "agent.api_url is not an absolute URL"),
	)
})
