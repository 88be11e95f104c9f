// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package bus

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/relayforge/relayd/internal/realtime"
)

// Publisher is the producer side of the bus: platform services embed it to
// publish event envelopes that every node's bridge fans out.
type Publisher struct {
	conn    *nats.Conn
	subject string
	now     func() time.Time
}

// NewPublisher creates a publisher over an established bus connection.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject, now: time.Now}
}

// Publish stamps and publishes one event envelope.
func (p *Publisher) Publish(ev *realtime.Event) error {
	data, err := p.encode(ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing bus event: %w", err)
	}
	return nil
}

// encode validates and marshals the envelope. The timestamp is set here so
// every subscriber sees the producer's clock, not its own.
func (p *Publisher) encode(ev *realtime.Event) ([]byte, error) {
	if ev.Project == "" || len(ev.Roles) == 0 {
		return nil, fmt.Errorf("event must carry a project and at least one role")
	}
	if ev.Data.Timestamp == "" {
		ev.Data.Timestamp = p.now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding bus event: %w", err)
	}
	return data, nil
}
