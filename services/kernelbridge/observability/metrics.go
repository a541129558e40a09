// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the kernel
// bridge: session lifecycle counters, comm channel activity, and RPC
// latency histograms. Metrics are exposed via /metrics; all operations
// are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian"

const bridgeSubsystem = "kernelbridge"

// BridgeMetrics holds all Prometheus metrics for the kernel bridge.
// Initialize once at startup via NewBridgeMetrics.
type BridgeMetrics struct {
	// SessionsStartedTotal counts session starts by kernel and status.
	// Labels: kernel, status (success, error)
	SessionsStartedTotal *prometheus.CounterVec

	// SessionsActive tracks currently running sessions.
	SessionsActive prometheus.Gauge

	// KernelExitsTotal counts kernel processes that exited on their own.
	// Labels: kernel
	KernelExitsTotal *prometheus.CounterVec

	// CommOpensTotal counts channel open attempts.
	// Labels: target, status (success, timeout, error)
	CommOpensTotal *prometheus.CounterVec

	// ChannelsActive tracks currently open comm channels.
	ChannelsActive prometheus.Gauge

	// RPCDurationSeconds measures request/reply latency.
	// Labels: target, status (success, timeout, error)
	RPCDurationSeconds *prometheus.HistogramVec

	// BridgeClientsActive tracks connected UI WebSocket clients.
	BridgeClientsActive prometheus.Gauge

	// EnvelopesDroppedTotal counts inbound envelopes discarded for lack
	// of a subscribed channel.
	EnvelopesDroppedTotal prometheus.Counter

	// EnvelopesDedupedTotal counts duplicate inbound envelopes that were
	// suppressed.
	EnvelopesDedupedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance used by the service.
var DefaultMetrics = NewBridgeMetrics()

// NewBridgeMetrics registers and returns the bridge metric set.
func NewBridgeMetrics() *BridgeMetrics {
	return &BridgeMetrics{
		SessionsStartedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "sessions_started_total",
			Help:      "Kernel session starts by kernel name and status.",
		}, []string{"kernel", "status"}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "sessions_active",
			Help:      "Currently running kernel sessions.",
		}),
		KernelExitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "kernel_exits_total",
			Help:      "Kernel processes that exited without a shutdown request.",
		}, []string{"kernel"}),
		CommOpensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "comm_opens_total",
			Help:      "Comm channel open attempts by target and status.",
		}, []string{"target", "status"}),
		ChannelsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "channels_active",
			Help:      "Currently open comm channels.",
		}),
		RPCDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "rpc_duration_seconds",
			Help:      "Comm RPC round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target", "status"}),
		BridgeClientsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "bridge_clients_active",
			Help:      "Connected UI WebSocket clients.",
		}),
		EnvelopesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "envelopes_dropped_total",
			Help:      "Inbound envelopes discarded for lack of a subscribed channel.",
		}),
		EnvelopesDedupedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: bridgeSubsystem,
			Name:      "envelopes_deduped_total",
			Help:      "Duplicate inbound envelopes suppressed by the dispatcher.",
		}),
	}
}
