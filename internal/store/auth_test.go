// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayd/internal/realtime"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestRoles(t *testing.T) {
	assert.Equal(t, []string{realtime.RoleGuests}, Roles(nil))
	assert.Equal(t, []string{realtime.RoleGuests}, Roles(&User{}))

	u := &User{
		ID: "42",
		Memberships: []Membership{
			{ID: "m1", TeamID: "t1", Roles: []string{"owner"}},
			{TeamID: "t2"},
		},
	}
	assert.Equal(t, []string{
		"users", "user:42",
		"team:t1", "team:t1/owner", "member:m1",
		"team:t2",
	}, Roles(u))
}

func TestIsPrivileged(t *testing.T) {
	assert.False(t, IsPrivileged([]string{"users", "user:1"}))
	assert.False(t, IsPrivileged([]string{"guests"}))
	assert.True(t, IsPrivileged([]string{"users", "admins"}))
	assert.True(t, IsPrivileged([]string{"apps"}))
}

func TestValidateOrigin(t *testing.T) {
	platforms := []Platform{
		{Type: "web", Hostname: "app.example.com"},
		{Type: "web", Hostname: "*.preview.example.com"},
		{Type: "flutter-android", Hostname: "ignored.example.com"},
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://app.example.com:3000", true},
		{"https://pr-12.preview.example.com", true},
		{"https://evil.example.com", false},
		{"https://ignored.example.com", false}, // non-web platform does not allow
		{"", true},          // native and server clients send no origin
		{"not a url", true}, // no hostname to check against
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateOrigin(tt.origin, platforms), "origin %q", tt.origin)
	}

	wildcard := []Platform{{Type: "web", Hostname: "*"}}
	assert.True(t, ValidateOrigin("https://anything.example", wildcard))
}

func TestSessionTokenRoundTrip(t *testing.T) {
	v := NewSessionVerifier(testSecret)

	token, err := v.IssueToken("42", "s1", time.Hour)
	require.NoError(t, err)

	userID, sessionID, err := v.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "42", userID)
	assert.Equal(t, "s1", sessionID)
}

func TestSessionDecodeRejectsBadTokens(t *testing.T) {
	v := NewSessionVerifier(testSecret)

	_, _, err := v.Decode("not-a-token")
	assert.Error(t, err)

	other := NewSessionVerifier("ffffffffffffffffffffffffffffffff")
	token, err := other.IssueToken("42", "s1", time.Hour)
	require.NoError(t, err)
	_, _, err = v.Decode(token)
	assert.Error(t, err, "token signed with a different secret must not decode")
}

func TestSessionVerify(t *testing.T) {
	v := NewSessionVerifier(testSecret)
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	u := &User{
		ID: "42",
		Sessions: []Session{
			{ID: "live", Expire: now.Add(time.Hour)},
			{ID: "expired", Expire: now.Add(-time.Hour)},
			{ID: "forever"},
		},
	}

	assert.True(t, v.Verify(u, "live"))
	assert.True(t, v.Verify(u, "forever"))
	assert.False(t, v.Verify(u, "expired"))
	assert.False(t, v.Verify(u, "revoked"), "a session missing from the list is revoked")
	assert.False(t, v.Verify(nil, "live"))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	m.AddProject(&Project{ID: "p1", TeamID: "t1", Platforms: []Platform{{Type: "web", Hostname: "*"}}})
	p, err := m.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "t1", p.TeamID)

	// Mutating the returned copy must not affect the stored document.
	p.Platforms[0].Hostname = "mutated"
	p2, err := m.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "*", p2.Platforms[0].Hostname)

	m.AddUser("p1", &User{ID: "42", Name: "Reader"})
	u, err := m.GetUser(ctx, "p1", "42")
	require.NoError(t, err)
	assert.Equal(t, "Reader", u.Name)

	_, err = m.GetUser(ctx, "p1", "7")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetUser(ctx, "p2", "42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountView(t *testing.T) {
	assert.Nil(t, (*User)(nil).View())
	assert.Nil(t, (&User{}).View())

	view := (&User{ID: "42", Email: "r@example.com", Name: "Reader"}).View()
	require.NotNil(t, view)
	assert.Equal(t, &AccountView{ID: "42", Email: "r@example.com", Name: "Reader"}, view)
}
