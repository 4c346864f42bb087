// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the prometheus collectors of the agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	EraseDevicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metalagent_erase_devices_total",
			Help: "Number of block devices erased, by outcome",
		},
		[]string{"outcome"},
	)
	ImageDownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metalagent_image_download_bytes_total",
			Help: "Number of image bytes received",
		},
	)
	ImageDownloadAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metalagent_image_download_attempts_total",
			Help: "Number of image download attempts, by result",
		},
		[]string{"result"},
	)
	DispatchFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metalagent_dispatch_fallbacks_total",
			Help: "Number of times a hardware manager declined an operation as incompatible",
		},
		[]string{"operation"},
	)
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metalagent_command_duration_seconds",
			Help:    "Duration of agent commands until they reached a terminal status",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"command", "status"},
	)
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metalagent_heartbeats_total",
			Help: "Number of heartbeats sent to the registry, by result",
		},
		[]string{"result"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		EraseDevicesTotal,
		ImageDownloadBytesTotal,
		ImageDownloadAttemptsTotal,
		DispatchFallbacksTotal,
		CommandDuration,
		HeartbeatsTotal,
	)
}
