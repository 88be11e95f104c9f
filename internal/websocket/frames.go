// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package websocket

import (
	"github.com/goccy/go-json"

	"github.com/relayforge/relayd/internal/store"
)

// Outbound frame types.
const (
	FrameConnected = "connected"
	FrameEvent     = "event"
	FrameResponse  = "response"
	FrameError     = "error"
)

// MessageTypeAuthentication is the only supported inbound message type.
const MessageTypeAuthentication = "authentication"

// Frame is the outer envelope of every server-to-client message.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ConnectedData is the payload of the "connected" frame sent after a
// successful handshake.
type ConnectedData struct {
	Channels []string           `json:"channels"`
	User     *store.AccountView `json:"user"`
}

// ResponseData is the payload of a "response" frame acknowledging an
// inbound message.
type ResponseData struct {
	To      string             `json:"to"`
	Success bool               `json:"success"`
	User    *store.AccountView `json:"user,omitempty"`
}

// ErrorData is the payload of an "error" frame.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// inboundMessage is the outer envelope of client-to-server messages. Data
// stays raw until the type is known; each supported kind validates its own
// payload schema.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// authenticationPayload is the payload of an "authentication" message.
type authenticationPayload struct {
	Session string `json:"session"`
}

// marshalFrame encodes a frame for the wire. Encoding failures are
// programming errors surfaced at the call site.
func marshalFrame(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}
