// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package metrics registers the Prometheus collectors instrumenting the
// realtime core: connection lifecycle, fan-out volume, abuse rejections,
// and bus health. Exposed at /metrics by the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive is the live WebSocket connection gauge per project.
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayd_connections_active",
			Help: "Current number of open WebSocket connections",
		},
		[]string{"project"},
	)

	// ConnectionsTotal counts connections accepted over the process lifetime.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_connections_total",
			Help: "Total number of accepted WebSocket connections",
		},
		[]string{"project"},
	)

	// ConnectionsRejected counts connection attempts rejected before
	// registration, by protocol error code.
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_connections_rejected_total",
			Help: "Total number of rejected WebSocket connection attempts",
		},
		[]string{"code"},
	)

	// MessagesDelivered counts event frames delivered to subscribers.
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_messages_delivered_total",
			Help: "Total number of event frames delivered to subscribers",
		},
		[]string{"project"},
	)

	// FanoutRecipients observes the recipient count per fanned-out event.
	FanoutRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayd_fanout_recipients",
			Help:    "Number of local recipients per fanned-out event",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. 16384
		},
	)

	// AbuseRejections counts abuse-limit rejections by guarded action.
	AbuseRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayd_abuse_rejections_total",
			Help: "Total number of abuse limiter rejections",
		},
		[]string{"action"},
	)

	// BusReconnects counts bus session drops that triggered a reconnect.
	BusReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayd_bus_reconnects_total",
			Help: "Total number of cross-node bus reconnect attempts",
		},
	)

	// BusEventsDropped counts malformed bus envelopes that were discarded.
	BusEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayd_bus_events_dropped_total",
			Help: "Total number of malformed bus events dropped",
		},
	)
)
