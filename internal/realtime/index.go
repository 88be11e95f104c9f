// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package realtime

import (
	"sort"
	"sync"
)

// subKey is the flattened (project, role, channel) composite key. Flattening
// to a single map keyed by this tuple keeps concurrent access to one lock
// and avoids nested-lock ordering bugs in the three-level layout.
type subKey struct {
	project string
	role    string
	channel string
}

// Connection is the registered membership of one open socket: its project,
// current roles, and subscribed channels. Channels map the channel name to
// its channel-scoped extra key (e.g. "account" -> user id), used both for
// matching and for the channel list echoed to the client.
//
// Connections are mutated exclusively through Subscribe/Unsubscribe; readers
// always receive copies.
type Connection struct {
	ID       ConnectionID
	Project  string
	Roles    []string
	Channels map[string]string
}

// Index is the in-memory subscription registry: one entry per
// (project, role, channel) triple mapping to the set of matching local
// connections, plus the per-connection inverse used for cleanup.
//
// It is read on every inbound bus message and written on every
// connect/disconnect/re-auth, so reads take a shared lock and writes are
// scoped to the affected connection's entries only.
type Index struct {
	mu    sync.RWMutex
	subs  map[subKey]map[ConnectionID]struct{}
	conns map[ConnectionID]*Connection
}

// NewIndex creates an empty subscription index.
func NewIndex() *Index {
	return &Index{
		subs:  make(map[subKey]map[ConnectionID]struct{}),
		conns: make(map[ConnectionID]*Connection),
	}
}

// Subscribe replaces all prior membership for the connection with the given
// (project, roles, channels) tuple. The connection is fully unsubscribed
// first, so a role upgrade never leaves stale entries behind. One index
// entry is inserted per (role, channel) pair.
func (ix *Index) Subscribe(project string, id ConnectionID, roles []string, channels map[string]string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(id)

	conn := &Connection{
		ID:       id,
		Project:  project,
		Roles:    append([]string(nil), roles...),
		Channels: make(map[string]string, len(channels)),
	}
	for name, extra := range channels {
		conn.Channels[name] = extra
	}
	ix.conns[id] = conn

	for _, role := range conn.Roles {
		for channel := range conn.Channels {
			key := subKey{project: project, role: role, channel: channel}
			set, ok := ix.subs[key]
			if !ok {
				set = make(map[ConnectionID]struct{})
				ix.subs[key] = set
			}
			set[id] = struct{}{}
		}
	}
}

// Unsubscribe removes the connection from every index entry. It is a safe
// no-op for unknown connections.
func (ix *Index) Unsubscribe(id ConnectionID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

// removeLocked deletes all index entries for the connection. Empty entry
// sets are removed so the index never leaks keys under churn.
// Must be called with ix.mu held for writing.
func (ix *Index) removeLocked(id ConnectionID) {
	conn, ok := ix.conns[id]
	if !ok {
		return
	}
	for _, role := range conn.Roles {
		for channel := range conn.Channels {
			key := subKey{project: conn.Project, role: role, channel: channel}
			if set, ok := ix.subs[key]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(ix.subs, key)
				}
			}
		}
	}
	delete(ix.conns, id)
}

// HasSubscriber reports whether at least one connection matches the given
// project and role. With a channel argument the match is exact; without one
// any channel under (project, role) matches.
func (ix *Index) HasSubscriber(project, role string, channel ...string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(channel) > 0 {
		return len(ix.subs[subKey{project: project, role: role, channel: channel[0]}]) > 0
	}
	for key, set := range ix.subs {
		if key.project == project && key.role == role && len(set) > 0 {
			return true
		}
	}
	return false
}

// Subscribers resolves the de-duplicated set of local connections that may
// receive the event: same project, at least one role in common, and - when
// the event is channel-scoped - at least one channel in common. The result
// is sorted by connection id for deterministic delivery order.
func (ix *Index) Subscribers(ev *Event) []ConnectionID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matched := make(map[ConnectionID]struct{})
	channels := ev.MatchChannels()

	if len(channels) == 0 {
		// Broadcast: channel membership is not consulted, only project and roles.
		for id, conn := range ix.conns {
			if conn.Project != ev.Project {
				continue
			}
			if rolesIntersect(conn.Roles, ev.Roles) {
				matched[id] = struct{}{}
			}
		}
	} else {
		for _, role := range ev.Roles {
			for _, channel := range channels {
				for id := range ix.subs[subKey{project: ev.Project, role: role, channel: channel}] {
					matched[id] = struct{}{}
				}
			}
		}
	}

	ids := make([]ConnectionID, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connection returns a copy of the registered membership for the given
// connection id.
func (ix *Index) Connection(id ConnectionID) (Connection, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	conn, ok := ix.conns[id]
	if !ok {
		return Connection{}, false
	}
	return copyConnection(conn), true
}

// ConnectionsForRole returns every connection in the project currently
// holding the given role. Used to refresh all sockets of a user after a
// permission change, not just an arbitrary one.
func (ix *Index) ConnectionsForRole(project, role string) []Connection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Connection
	for _, conn := range ix.conns {
		if conn.Project != project {
			continue
		}
		for _, r := range conn.Roles {
			if r == role {
				out = append(out, copyConnection(conn))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnectionCount returns the number of registered connections.
func (ix *Index) ConnectionCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.conns)
}

func copyConnection(conn *Connection) Connection {
	out := Connection{
		ID:       conn.ID,
		Project:  conn.Project,
		Roles:    append([]string(nil), conn.Roles...),
		Channels: make(map[string]string, len(conn.Channels)),
	}
	for name, extra := range conn.Channels {
		out.Channels[name] = extra
	}
	return out
}

func rolesIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
