// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package bus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/realtime"
)

//nolint:gochecknoinits // silence logging during tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type refreshCall struct {
	project string
	userID  string
}

type fakeFanout struct {
	mu        sync.Mutex
	refreshes []refreshCall
	delivered []realtime.Event
}

func (f *fakeFanout) RefreshRoles(_ context.Context, project, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, refreshCall{project: project, userID: userID})
}

func (f *fakeFanout) Deliver(ev *realtime.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, *ev)
	return 1
}

func newBridge(fanout Fanout) *Bridge {
	return NewBridge(Config{
		URL:                  "nats://127.0.0.1:4222",
		Subject:              "realtime",
		MaxReconnectAttempts: 3,
		ReconnectDelay:       time.Millisecond,
	}, fanout)
}

func TestHandleMessageDelivers(t *testing.T) {
	fanout := &fakeFanout{}
	b := newBridge(fanout)

	raw := `{
		"project": "p1",
		"roles": ["user:42"],
		"channels": ["documents.abc"],
		"data": {
			"timestamp": "2026-08-29T10:00:00Z",
			"events": ["databases.main.collections.tasks.documents.abc.update"],
			"channels": ["documents", "documents.abc"],
			"payload": {"title": "done"}
		}
	}`
	b.handleMessage(context.Background(), []byte(raw))

	require.Len(t, fanout.delivered, 1)
	ev := fanout.delivered[0]
	assert.Equal(t, "p1", ev.Project)
	assert.Equal(t, []string{"user:42"}, ev.Roles)
	assert.Equal(t, []string{"documents.abc"}, ev.MatchChannels(), "envelope channels win over data channels")
	assert.Empty(t, fanout.refreshes)
}

func TestHandleMessageMalformed(t *testing.T) {
	fanout := &fakeFanout{}
	b := newBridge(fanout)

	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"project": `},
		{"missing project", `{"roles":["users"],"data":{}}`},
		{"missing roles", `{"project":"p1","data":{}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b.handleMessage(context.Background(), []byte(tc.raw))
			assert.Empty(t, fanout.delivered)
			assert.Empty(t, fanout.refreshes)
		})
	}
}

func TestHandleMessagePermissionsChanged(t *testing.T) {
	fanout := &fakeFanout{}
	b := newBridge(fanout)

	raw := `{
		"project": "p1",
		"roles": ["user:42"],
		"permissionsChanged": true,
		"userId": "42",
		"data": {"events": ["teams.t1.memberships.m1.update"], "channels": ["memberships"]}
	}`
	b.handleMessage(context.Background(), []byte(raw))

	// Roles are refreshed before delivery so the recipient set reflects the
	// permission change the event announces.
	require.Equal(t, []refreshCall{{project: "p1", userID: "42"}}, fanout.refreshes)
	require.Len(t, fanout.delivered, 1)
}

func TestHandleMessagePermissionsChangedWithoutUser(t *testing.T) {
	fanout := &fakeFanout{}
	b := newBridge(fanout)

	raw := `{"project":"p1","roles":["users"],"permissionsChanged":true,"data":{}}`
	b.handleMessage(context.Background(), []byte(raw))

	assert.Empty(t, fanout.refreshes, "no user to refresh")
	assert.Len(t, fanout.delivered, 1, "the event itself is still delivered")
}

func TestServeGivesUpAfterConsecutiveFailures(t *testing.T) {
	b := newBridge(&fakeFanout{})

	sessions := 0
	b.session = func(context.Context, func()) error {
		sessions++
		return errors.New("connection refused")
	}

	err := b.Serve(context.Background())
	require.ErrorIs(t, err, suture.ErrDoNotRestart)
	assert.Equal(t, 3, sessions)
}

func TestServeResetsBudgetAfterConnect(t *testing.T) {
	b := newBridge(&fakeFanout{})

	// Two failed sessions, then one that reaches the bus before dropping.
	// The connect resets the budget, so two more failures fit before the
	// bridge gives up; without the reset it would stop at the third session.
	sessions := 0
	b.session = func(_ context.Context, onConnected func()) error {
		sessions++
		if sessions == 3 {
			onConnected()
			return errors.New("bus connection closed")
		}
		return errors.New("connection refused")
	}

	err := b.Serve(context.Background())
	require.ErrorIs(t, err, suture.ErrDoNotRestart)
	assert.Equal(t, 5, sessions)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	b := newBridge(&fakeFanout{})

	ctx, cancel := context.WithCancel(context.Background())
	b.session = func(context.Context, func()) error {
		cancel()
		return errors.New("connection refused")
	}

	err := b.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisherEncode(t *testing.T) {
	p := NewPublisher(nil, "realtime")
	p.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	_, err := p.encode(&realtime.Event{Roles: []string{"users"}})
	require.Error(t, err, "missing project must be rejected before publishing")
	_, err = p.encode(&realtime.Event{Project: "p1"})
	require.Error(t, err, "missing roles must be rejected before publishing")

	ev := &realtime.Event{Project: "p1", Roles: []string{"users"}, Channels: []string{"documents"}}
	data, err := p.encode(ev)
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14T22:13:20Z", ev.Data.Timestamp, "producer stamps unset timestamps")

	// The encoded envelope round-trips through the bridge's decode path.
	fanout := &fakeFanout{}
	newBridge(fanout).handleMessage(context.Background(), data)
	require.Len(t, fanout.delivered, 1)
	assert.Equal(t, "p1", fanout.delivered[0].Project)

	// A caller-provided timestamp is preserved.
	ev2 := &realtime.Event{Project: "p1", Roles: []string{"users"}}
	ev2.Data.Timestamp = "2026-01-01T00:00:00Z"
	_, err = p.encode(ev2)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", ev2.Data.Timestamp)
}
