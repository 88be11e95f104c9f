// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package store

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relayforge/relayd/internal/realtime"
)

// Roles resolves the effective security roles of a user: guests for
// anonymous callers, otherwise the user's own role plus one role per team
// membership (and per membership role within the team). The order is
// stable so re-subscription is deterministic.
func Roles(u *User) []string {
	if u == nil || u.ID == "" {
		return []string{realtime.RoleGuests}
	}

	roles := []string{
		realtime.RoleUsers,
		realtime.RoleUserPrefix + u.ID,
	}
	for _, m := range u.Memberships {
		roles = append(roles, realtime.RoleTeamPrefix+m.TeamID)
		for _, r := range m.Roles {
			roles = append(roles, realtime.RoleTeamPrefix+m.TeamID+"/"+r)
		}
		if m.ID != "" {
			roles = append(roles, realtime.RoleMemberPrefix+m.ID)
		}
	}
	return roles
}

// IsPrivileged reports whether a role set bypasses abuse checks entirely
// (platform admins and server-side API keys).
func IsPrivileged(roles []string) bool {
	for _, r := range roles {
		if r == realtime.RoleAdmins || r == realtime.RoleApps {
			return true
		}
	}
	return false
}

// ValidateOrigin checks a declared request origin against the union of
// allowed platforms. Only "web" platforms participate; hostnames support an
// exact match, the "*" wildcard, and "*.domain" suffix wildcards. A missing
// or hostless origin passes: native and server-side clients are not
// required to send one, and the check only guards browser contexts.
func ValidateOrigin(origin string, platforms []Platform) bool {
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return true
	}
	hostname := parsed.Hostname()

	for _, p := range platforms {
		if p.Type != "" && p.Type != "web" {
			continue
		}
		switch {
		case p.Hostname == "*":
			return true
		case p.Hostname == hostname:
			return true
		case strings.HasPrefix(p.Hostname, "*."):
			if strings.HasSuffix(hostname, p.Hostname[1:]) {
				return true
			}
		}
	}
	return false
}

// sessionClaims is the payload of a session token.
type sessionClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// SessionVerifier decodes and verifies the session tokens presented in
// "authentication" messages.
type SessionVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewSessionVerifier creates a verifier over the shared HS256 secret.
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret), now: time.Now}
}

// Decode parses and verifies a session token, returning the user and
// session ids it names. Decoding proves only that the token is well formed
// and signed; the session must still be verified against the user document.
func (v *SessionVerifier) Decode(token string) (userID, sessionID string, err error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("decoding session token: %w", err)
	}
	if !parsed.Valid || claims.UserID == "" || claims.SessionID == "" {
		return "", "", errors.New("session token missing identity claims")
	}
	return claims.UserID, claims.SessionID, nil
}

// Verify reports whether the user holds the named session and it has not
// expired or been revoked.
func (v *SessionVerifier) Verify(u *User, sessionID string) bool {
	if u == nil || u.ID == "" {
		return false
	}
	for _, s := range u.Sessions {
		if s.ID != sessionID {
			continue
		}
		return s.Expire.IsZero() || s.Expire.After(v.now())
	}
	return false
}

// IssueToken signs a session token for the given user and session ids.
// Used by tests and by the platform's login path.
func (v *SessionVerifier) IssueToken(userID, sessionID string, ttl time.Duration) (string, error) {
	claims := sessionClaims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(v.now()),
			ExpiresAt: jwt.NewNumericDate(v.now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
