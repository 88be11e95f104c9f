// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package stats tracks per-project connection and message counters and
// aggregates them across nodes through a shared snapshot store.
package stats

import (
	"sort"
	"sync"
)

// ProjectStats are the counters kept per project on this node.
type ProjectStats struct {
	ProjectID        string
	TeamID           string
	Connections      int64 // live gauge
	ConnectionsTotal int64 // lifetime counter
	Messages         int64
}

// Table is the shared in-memory stats table updated by every connection
// handler and read by the aggregator.
type Table struct {
	mu       sync.Mutex
	projects map[string]*ProjectStats
}

// NewTable creates an empty stats table.
func NewTable() *Table {
	return &Table{projects: make(map[string]*ProjectStats)}
}

func (t *Table) get(project string) *ProjectStats {
	ps, ok := t.projects[project]
	if !ok {
		ps = &ProjectStats{ProjectID: project}
		t.projects[project] = ps
	}
	return ps
}

// ConnectionOpened records a successful connection: the project's team id
// for stats role-scoping, plus the live and lifetime counters.
func (t *Table) ConnectionOpened(project, teamID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := t.get(project)
	ps.TeamID = teamID
	ps.Connections++
	ps.ConnectionsTotal++
}

// ConnectionClosed decrements the live connection gauge.
func (t *Table) ConnectionClosed(project string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := t.get(project)
	if ps.Connections > 0 {
		ps.Connections--
	}
}

// AddMessages adds delivered-message counts for the project.
func (t *Table) AddMessages(project string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(project).Messages += n
}

// Snapshot returns a copy of all per-project stats, sorted by project id.
func (t *Table) Snapshot() []ProjectStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ProjectStats, 0, len(t.projects))
	for _, ps := range t.projects {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// ConnectionsByProject returns the live connection gauge per project, the
// payload persisted to the shared snapshot store. Projects that have dropped
// to zero are still reported so other nodes see the decline.
func (t *Table) ConnectionsByProject() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int64, len(t.projects))
	for id, ps := range t.projects {
		out[id] = ps.Connections
	}
	return out
}
