// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package stats

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/relayforge/relayd/internal/realtime"
)

// Heartbeat emits a fixed low-rate test.event on the reserved tests channel
// of the console project, giving SDK end-to-end tests a connectivity signal
// independent of real traffic. It implements suture.Service.
type Heartbeat struct {
	index    *realtime.Index
	sender   EventSender
	console  string
	interval time.Duration
	now      func() time.Time
}

// NewHeartbeat creates the connectivity heartbeat service.
func NewHeartbeat(index *realtime.Index, sender EventSender, console string, interval time.Duration) *Heartbeat {
	return &Heartbeat{
		index:    index,
		sender:   sender,
		console:  console,
		interval: interval,
		now:      time.Now,
	}
}

// Serve emits the heartbeat until the context is canceled.
func (h *Heartbeat) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.emit()
		}
	}
}

func (h *Heartbeat) emit() {
	if !h.index.HasSubscriber(h.console, realtime.RoleGuests, testsChannel) {
		return
	}

	payload, err := json.Marshal(map[string]string{"response": testEventReport})
	if err != nil {
		return
	}
	ev := &realtime.Event{
		Project: h.console,
		Roles:   []string{realtime.RoleGuests},
		Data: realtime.EventData{
			Timestamp: h.now().UTC().Format(time.RFC3339),
			Events:    []string{testEventName},
			Channels:  []string{testsChannel},
			Payload:   payload,
		},
	}
	if ids := h.index.Subscribers(ev); len(ids) > 0 {
		h.sender.SendEvent(ids, &ev.Data)
	}
}

// String names the service in supervisor logs.
func (h *Heartbeat) String() string {
	return "stats-heartbeat"
}
