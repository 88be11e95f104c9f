// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package stats

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/realtime"
)

// EventSender delivers an event payload to a set of local connections. The
// websocket hub implements it; the indirection keeps this package off the
// transport.
type EventSender interface {
	SendEvent(ids []realtime.ConnectionID, data *realtime.EventData)
}

// channel and event names on the console project.
const (
	statsChannel    = "project"
	statsEventName  = "stats.connections"
	testsChannel    = "tests"
	testEventName   = "test.event"
	testEventReport = "WS:/v1/realtime:passed"
)

// Aggregator is the periodic stats task every node runs: persist the local
// table to the shared snapshot store, and broadcast the cross-node
// aggregate to admin connections subscribed to the console project channel.
// It implements suture.Service.
type Aggregator struct {
	index     *realtime.Index
	table     *Table
	store     SnapshotStore
	sender    EventSender
	container string
	console   string
	interval  time.Duration
	freshness time.Duration
	now       func() time.Time
}

// AggregatorConfig wires an Aggregator.
type AggregatorConfig struct {
	Index     *realtime.Index
	Table     *Table
	Store     SnapshotStore
	Sender    EventSender
	Container string
	Console   string
	Interval  time.Duration
	Freshness time.Duration
}

// NewAggregator creates the stats aggregation service for this node.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	return &Aggregator{
		index:     cfg.Index,
		table:     cfg.Table,
		store:     cfg.Store,
		sender:    cfg.Sender,
		container: cfg.Container,
		console:   cfg.Console,
		interval:  cfg.Interval,
		freshness: cfg.Freshness,
		now:       time.Now,
	}
}

// Serve runs the aggregation ticks until the context is canceled. Each
// write is a full overwrite of this node's document, so an interrupted tick
// is safe to retry on the next one.
func (a *Aggregator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.persist(ctx)
			a.broadcast(ctx)
		}
	}
}

// persist overwrites this node's snapshot document with the current live
// connection gauges.
func (a *Aggregator) persist(ctx context.Context) {
	payload := a.table.ConnectionsByProject()
	if len(payload) == 0 {
		return
	}

	snap := Snapshot{Container: a.container, Timestamp: a.now(), Value: payload}
	if err := a.store.Put(ctx, snap); err != nil {
		logging.Error().Err(err).
			Str("component", "stats-aggregator").
			Str("action", "persistSnapshot").
			Msg("failed to persist stats snapshot")
	}
}

// broadcast sums all nodes' fresh snapshots and emits one stats.connections
// event per local project to the console project channel, scoped to the
// project's owning team.
func (a *Aggregator) broadcast(ctx context.Context) {
	if !a.index.HasSubscriber(a.console, realtime.RoleUsers, statsChannel) {
		return
	}

	snaps, err := a.store.List(ctx)
	if err != nil {
		logging.Error().Err(err).
			Str("component", "stats-aggregator").
			Str("action", "readSnapshots").
			Msg("failed to read stats snapshots")
		return
	}

	cutoff := a.now().Add(-a.freshness)
	totals := make(map[string]int64)
	for _, snap := range snaps {
		if snap.Timestamp.Before(cutoff) {
			continue
		}
		for project, value := range snap.Value {
			totals[project] += value
		}
	}

	for _, ps := range a.table.Snapshot() {
		total, ok := totals[ps.ProjectID]
		if !ok {
			continue
		}

		payload, err := json.Marshal(map[string]int64{ps.ProjectID: total})
		if err != nil {
			continue
		}
		ev := &realtime.Event{
			Project: a.console,
			Roles:   []string{realtime.RoleTeamPrefix + ps.TeamID},
			Data: realtime.EventData{
				Timestamp: a.now().UTC().Format(time.RFC3339),
				Events:    []string{statsEventName},
				Channels:  []string{statsChannel},
				Payload:   payload,
			},
		}
		if ids := a.index.Subscribers(ev); len(ids) > 0 {
			a.sender.SendEvent(ids, &ev.Data)
		}
	}
}

// String names the service in supervisor logs.
func (a *Aggregator) String() string {
	return "stats-aggregator"
}
