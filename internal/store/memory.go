// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package store

import (
	"context"
	"sync"
)

// Memory is an in-memory UserStore and ProjectStore for tests and
// single-node development. Lookups return copies so callers can never
// mutate stored documents.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]map[string]*User // project -> user id -> user
	projects map[string]*Project
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]map[string]*User),
		projects: make(map[string]*Project),
	}
}

// AddProject registers or replaces a project.
func (m *Memory) AddProject(p *Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Platforms = append([]Platform(nil), p.Platforms...)
	m.projects[p.ID] = &cp
}

// AddUser registers or replaces a user within a project.
func (m *Memory) AddUser(project string, u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users[project] == nil {
		m.users[project] = make(map[string]*User)
	}
	m.users[project][u.ID] = copyUser(u)
}

// GetUser implements UserStore.
func (m *Memory) GetUser(_ context.Context, project, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[project][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetProject implements ProjectStore.
func (m *Memory) GetProject(_ context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Platforms = append([]Platform(nil), p.Platforms...)
	return &cp, nil
}

func copyUser(u *User) *User {
	cp := *u
	cp.Sessions = append([]Session(nil), u.Sessions...)
	cp.Memberships = append([]Membership(nil), u.Memberships...)
	return &cp
}
