// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the agent configuration from defaults, an optional
// YAML file and METAL_AGENT_ prefixed environment variables, in increasing
// order of precedence. METAL_AGENT_IMAGE_DIRECTORY overrides image.directory.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/ironcore-dev/metal-agent/internal/agent"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
	"github.com/ironcore-dev/metal-agent/internal/image"
)

const EnvPrefix = "METAL_AGENT"

type Config struct {
	Image     ImageConfig     `mapstructure:"image"`
	Disk      DiskConfig      `mapstructure:"disk"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ImageConfig struct {
	DownloadConnectionTimeout       time.Duration `mapstructure:"download_connection_timeout"`
	DownloadConnectionRetries       int           `mapstructure:"download_connection_retries"`
	DownloadConnectionRetryInterval time.Duration `mapstructure:"download_connection_retry_interval"`
	// Directory caches downloaded images before they are written.
	Directory                  string        `mapstructure:"directory"`
	PartitionDetectionAttempts int           `mapstructure:"partition_detection_attempts"`
	PartitionDetectionDelay    time.Duration `mapstructure:"partition_detection_delay"`
	Insecure                   bool          `mapstructure:"insecure"`
	CAFile                     string        `mapstructure:"ca_file"`
	CertFile                   string        `mapstructure:"cert_file"`
	KeyFile                    string        `mapstructure:"key_file"`
}

type DiskConfig struct {
	WaitAttempts int           `mapstructure:"wait_attempts"`
	WaitDelay    time.Duration `mapstructure:"wait_delay"`
	// InstallDeviceMinSize is a quantity such as 4Gi.
	InstallDeviceMinSize string `mapstructure:"install_device_min_size"`
}

type InventoryConfig struct {
	LLDPInterval time.Duration `mapstructure:"lldp_interval"`
	// LLDPTimeout of zero skips neighbour discovery.
	LLDPTimeout time.Duration `mapstructure:"lldp_timeout"`
}

type AgentConfig struct {
	APIURL            string        `mapstructure:"api_url"`
	CallbackURL       string        `mapstructure:"callback_url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
}

type MetricsConfig struct {
	// BindAddress of the /metrics listener. Empty disables it.
	BindAddress string `mapstructure:"bind_address"`
}

// Load reads the configuration. An empty path or a missing file leaves the
// defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isFileNotFoundError(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := image.DefaultOptions()
	v.SetDefault("image.download_connection_timeout", defaults.Timeout)
	v.SetDefault("image.download_connection_retries", defaults.Retries)
	v.SetDefault("image.download_connection_retry_interval", defaults.RetryInterval)
	v.SetDefault("image.directory", defaults.Directory)
	v.SetDefault("image.partition_detection_attempts", defaults.PartitionDetectionAttempts)
	v.SetDefault("image.partition_detection_delay", defaults.PartitionDetectionDelay)
	v.SetDefault("image.insecure", false)
	v.SetDefault("image.ca_file", "")
	v.SetDefault("image.cert_file", "")
	v.SetDefault("image.key_file", "")

	v.SetDefault("disk.wait_attempts", 10)
	v.SetDefault("disk.wait_delay", "3s")
	v.SetDefault("disk.install_device_min_size", "4Gi")

	v.SetDefault("inventory.lldp_interval", "1s")
	v.SetDefault("inventory.lldp_timeout", "0s")

	v.SetDefault("agent.api_url", "")
	v.SetDefault("agent.callback_url", "")
	v.SetDefault("agent.heartbeat_interval", "30s")
	v.SetDefault("agent.lookup_timeout", "300s")

	v.SetDefault("metrics.bind_address", "")
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Image.DownloadConnectionRetries < 0 {
		errs = append(errs, fmt.Errorf("image.download_connection_retries must not be negative, got %d", c.Image.DownloadConnectionRetries))
	}
	if (c.Image.CertFile == "") != (c.Image.KeyFile == "") {
		errs = append(errs, errors.New("image.cert_file and image.key_file must be set together"))
	}
	if _, err := resource.ParseQuantity(c.Disk.InstallDeviceMinSize); err != nil {
		errs = append(errs, fmt.Errorf("disk.install_device_min_size: %w", err))
	}
	if c.Agent.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("agent.heartbeat_interval must be positive, got %s", c.Agent.HeartbeatInterval))
	}
	for key, raw := range map[string]string{"agent.api_url": c.Agent.APIURL, "agent.callback_url": c.Agent.CallbackURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s is not an absolute URL: %q", key, raw))
		}
	}
	return errors.Join(errs...)
}

// ImageOptions returns the download and write options.
func (c *Config) ImageOptions() image.Options {
	return image.Options{
		Timeout:                    c.Image.DownloadConnectionTimeout,
		Retries:                    c.Image.DownloadConnectionRetries,
		RetryInterval:              c.Image.DownloadConnectionRetryInterval,
		Directory:                  c.Image.Directory,
		PartitionDetectionAttempts: c.Image.PartitionDetectionAttempts,
		PartitionDetectionDelay:    c.Image.PartitionDetectionDelay,
		Insecure:                   c.Image.Insecure,
		CAFile:                     c.Image.CAFile,
		CertFile:                   c.Image.CertFile,
		KeyFile:                    c.Image.KeyFile,
	}
}

// GenericOptions returns the options of the generic hardware manager.
func (c *Config) GenericOptions() hardware.GenericOptions {
	opts := hardware.DefaultGenericOptions()
	opts.DiskWaitAttempts = c.Disk.WaitAttempts
	opts.DiskWaitDelay = c.Disk.WaitDelay
	if q, err := resource.ParseQuantity(c.Disk.InstallDeviceMinSize); err == nil {
		opts.MinInstallSize = q
	}
	opts.LLDPInterval = c.Inventory.LLDPInterval
	opts.LLDPTimeout = c.Inventory.LLDPTimeout
	return opts
}

// AgentOptions returns the options of the lookup and heartbeat agent.
func (c *Config) AgentOptions() agent.Options {
	opts := agent.DefaultOptions()
	opts.APIURL = c.Agent.APIURL
	opts.CallbackURL = c.Agent.CallbackURL
	opts.HeartbeatInterval = c.Agent.HeartbeatInterval
	opts.LookupTimeout = c.Agent.LookupTimeout
	return opts
}

func isFileNotFoundError(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && errors.Is(pathErr, os.ErrNotExist)
}
