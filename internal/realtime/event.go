// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package realtime

import (
	"github.com/goccy/go-json"
)

// Well-known security roles used for fan-out matching. Per-principal roles
// are composed with the prefixes below (e.g. "user:42", "team:abc").
const (
	RoleGuests = "guests"
	RoleUsers  = "users"
	RoleAdmins = "admins"
	RoleApps   = "apps"

	RoleUserPrefix   = "user:"
	RoleTeamPrefix   = "team:"
	RoleMemberPrefix = "member:"
)

// ConnectionID identifies one open WebSocket connection within this process.
type ConnectionID uint64

// EventData is the client-visible portion of an event. It is passed through
// to subscribers unmodified inside an "event" frame.
type EventData struct {
	Timestamp string          `json:"timestamp,omitempty"`
	Events    []string        `json:"events,omitempty"`
	Channels  []string        `json:"channels,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Event is the envelope published on the cross-node bus. Project, Roles and
// Channels scope delivery; Data is opaque to fan-out.
//
// PermissionsChanged signals that the named user's cached roles may be stale
// and must be recomputed before recipients are resolved.
type Event struct {
	Project            string    `json:"project"`
	Roles              []string  `json:"roles"`
	Channels           []string  `json:"channels,omitempty"`
	PermissionsChanged bool      `json:"permissionsChanged,omitempty"`
	UserID             string    `json:"userId,omitempty"`
	Data               EventData `json:"data"`
}

// MatchChannels returns the channel list used for recipient matching.
// Producers may scope either on the envelope or inside the data block;
// the envelope wins when both are present. An empty result means the
// event is a broadcast to every channel of the matched roles.
func (e *Event) MatchChannels() []string {
	if len(e.Channels) > 0 {
		return e.Channels
	}
	return e.Data.Channels
}
