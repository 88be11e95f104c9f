// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package bus bridges the cross-node event bus to the local fan-out core.
// Every node subscribes to one shared subject; platform producers publish
// event envelopes there and each node delivers to its own connections.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/thejerf/suture/v4"

	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/metrics"
	"github.com/relayforge/relayd/internal/realtime"
)

// Fanout is the local delivery surface the bridge drives. The websocket hub
// implements it; the indirection keeps this package off the transport.
type Fanout interface {
	// RefreshRoles recomputes a user's roles before recipients are resolved.
	RefreshRoles(ctx context.Context, project, userID string)

	// Deliver fans the event out to matching local connections and returns
	// the recipient count.
	Deliver(ev *realtime.Event) int
}

// Config wires a Bridge.
type Config struct {
	URL     string
	Subject string

	// MaxReconnectAttempts bounds consecutive failed sessions before the
	// bridge gives up for good.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// Bridge maintains the bus subscription for this node. It implements
// suture.Service and manages its own bounded reconnect loop; when the
// attempts are exhausted it returns suture.ErrDoNotRestart so the
// supervisor surfaces the outage instead of hammering the bus forever.
type Bridge struct {
	cfg    Config
	fanout Fanout

	// session runs one bus session; replaced in tests.
	session func(ctx context.Context, onConnected func()) error
}

// NewBridge creates the bus bridge for this node.
func NewBridge(cfg Config, fanout Fanout) *Bridge {
	b := &Bridge{cfg: cfg, fanout: fanout}
	b.session = b.run
	return b
}

// Serve runs bus sessions until the context is canceled or the reconnect
// budget is spent. A session that reaches the bus resets the budget, so the
// bound applies to consecutive failures, not the lifetime of the process.
// Each session failure is logged with its lifetime so flapping is
// distinguishable from a dead bus in the logs.
func (b *Bridge) Serve(ctx context.Context) error {
	attempts := 0
	for {
		start := time.Now()
		connected := false
		err := b.session(ctx, func() { connected = true })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
		}
		attempts++

		metrics.BusReconnects.Inc()
		logging.Error().Err(err).
			Int("attempt", attempts).
			Int("maxAttempts", b.cfg.MaxReconnectAttempts).
			Dur("session", time.Since(start)).
			Msg("bus session ended, reconnecting")

		if attempts >= b.cfg.MaxReconnectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.ReconnectDelay):
		}
	}

	logging.Error().
		Int("maxAttempts", b.cfg.MaxReconnectAttempts).
		Msg("bus reconnect attempts exhausted, giving up")
	return fmt.Errorf("bus unreachable after %d attempts: %w",
		b.cfg.MaxReconnectAttempts, suture.ErrDoNotRestart)
}

// run owns one bus session: connect, subscribe, and block until the context
// is canceled or the connection dies. onConnected fires once the
// subscription is established. Reconnect policy lives in Serve, so the
// connection itself never retries.
func (b *Bridge) run(ctx context.Context, onConnected func()) error {
	conn, err := nats.Connect(b.cfg.URL,
		nats.Name("relayd-bus"),
		nats.NoReconnect(),
	)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	closed := make(chan struct{})
	conn.SetClosedHandler(func(*nats.Conn) {
		select {
		case <-closed:
		default:
			close(closed)
		}
	})

	sub, err := conn.Subscribe(b.cfg.Subject, func(msg *nats.Msg) {
		b.handleMessage(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.cfg.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	onConnected()
	logging.Info().
		Str("subject", b.cfg.Subject).
		Msg("bus connected")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return errors.New("bus connection closed")
	}
}

// handleMessage decodes one bus envelope and drives local delivery. A
// malformed envelope is dropped; one producer's bad payload must never take
// the subscription down.
func (b *Bridge) handleMessage(ctx context.Context, data []byte) {
	var ev realtime.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		metrics.BusEventsDropped.Inc()
		logging.Warn().Err(err).Msg("dropping malformed bus event")
		return
	}
	if ev.Project == "" || len(ev.Roles) == 0 {
		metrics.BusEventsDropped.Inc()
		logging.Warn().
			Str("project", ev.Project).
			Msg("dropping bus event without project or roles")
		return
	}

	// Stale role caches are refreshed before recipients are resolved, so a
	// revoked user cannot receive the very event announcing the revocation.
	if ev.PermissionsChanged && ev.UserID != "" {
		b.fanout.RefreshRoles(ctx, ev.Project, ev.UserID)
	}

	n := b.fanout.Deliver(&ev)
	logging.Debug().
		Str("project", ev.Project).
		Int("receivers", n).
		Msg("bus event delivered")
}

// String names the service in supervisor logs.
func (b *Bridge) String() string {
	return "bus-bridge"
}
