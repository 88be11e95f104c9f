// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package store defines the persistence collaborators the realtime core
// consumes: lookup-by-id for users and projects, role resolution, origin
// validation, and session token verification. The platform's real storage
// sits behind these interfaces; the in-memory implementation serves tests
// and development.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up document does not exist.
var ErrNotFound = errors.New("document not found")

// Platform is one entry of a project's origin allow-list.
type Platform struct {
	Name     string `json:"name"`
	Type     string `json:"type"`     // "web" platforms participate in origin checks
	Hostname string `json:"hostname"` // exact, "*", or "*.domain" wildcard
}

// Project is the resolved tenant a connection belongs to.
type Project struct {
	ID        string     `json:"$id"`
	TeamID    string     `json:"teamId"`
	Platforms []Platform `json:"platforms"`
}

// Session is one login session of a user. A session missing from the user's
// list is treated as revoked.
type Session struct {
	ID     string    `json:"$id"`
	Expire time.Time `json:"expire"`
}

// Membership grants a user roles within a team.
type Membership struct {
	ID     string   `json:"$id"`
	TeamID string   `json:"teamId"`
	Roles  []string `json:"roles"`
}

// User is the resolved account behind a connection. A nil user or an empty
// ID represents an anonymous (guest) caller.
type User struct {
	ID          string       `json:"$id"`
	Email       string       `json:"email"`
	Name        string       `json:"name"`
	Status      bool         `json:"status"`
	Sessions    []Session    `json:"sessions"`
	Memberships []Membership `json:"memberships"`
}

// AccountView is the public projection of a user echoed to its own client
// in connected/response frames.
type AccountView struct {
	ID    string `json:"$id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// View returns the public account projection, or nil for anonymous users.
func (u *User) View() *AccountView {
	if u == nil || u.ID == "" {
		return nil
	}
	return &AccountView{ID: u.ID, Email: u.Email, Name: u.Name}
}

// UserStore looks up users by id within a project.
type UserStore interface {
	GetUser(ctx context.Context, project, id string) (*User, error)
}

// ProjectStore looks up projects by id.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*Project, error)
}
