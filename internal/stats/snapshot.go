// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"
)

// Snapshot is one node's shared-store document: its lifetime connection
// counters per project at a point in time. Each node overwrites its own
// document in place; readers ignore stale documents instead of deleting
// them, so a crashed node simply ages out.
type Snapshot struct {
	Container string           `json:"container"`
	Timestamp time.Time        `json:"timestamp"`
	Value     map[string]int64 `json:"value"`
}

// SnapshotStore persists per-node snapshots to storage shared by all nodes.
type SnapshotStore interface {
	// Put overwrites this node's snapshot document.
	Put(ctx context.Context, snap Snapshot) error
	// List returns every node's current snapshot document.
	List(ctx context.Context) ([]Snapshot, error)
}

// KVSnapshotStore stores snapshots in a JetStream key-value bucket, one key
// per container id.
type KVSnapshotStore struct {
	kv jetstream.KeyValue
}

// NewKVSnapshotStore opens (or creates) the shared snapshot bucket.
func NewKVSnapshotStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVSnapshotStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "per-node realtime connection snapshots",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot bucket %s: %w", bucket, err)
	}
	return &KVSnapshotStore{kv: kv}, nil
}

// Put implements SnapshotStore.
func (s *KVSnapshotStore) Put(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if _, err := s.kv.Put(ctx, snap.Container, data); err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", snap.Container, err)
	}
	return nil
}

// List implements SnapshotStore.
func (s *KVSnapshotStore) List(ctx context.Context) ([]Snapshot, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	snaps := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("reading snapshot %s: %w", key, err)
		}
		var snap Snapshot
		if err := json.Unmarshal(entry.Value(), &snap); err != nil {
			// A corrupt document from one node must not break aggregation.
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// MemorySnapshotStore is an in-process SnapshotStore for tests and
// single-node development.
type MemorySnapshotStore struct {
	mu   sync.Mutex
	docs map[string]Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{docs: make(map[string]Snapshot)}
}

// Put implements SnapshotStore.
func (s *MemorySnapshotStore) Put(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := snap
	cp.Value = make(map[string]int64, len(snap.Value))
	for k, v := range snap.Value {
		cp.Value[k] = v
	}
	s.docs[snap.Container] = cp
	return nil
}

// List implements SnapshotStore.
func (s *MemorySnapshotStore) List(_ context.Context) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.docs))
	for _, snap := range s.docs {
		out = append(out, snap)
	}
	return out, nil
}
