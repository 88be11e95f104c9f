// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package websocket owns the connection lifecycle: the open/authenticate/
// close state machine per connection, the per-connection pumps, and frame
// delivery to sets of local connections. All cross-connection state lives
// in the shared registries (subscription index, stats table) injected at
// construction; one connection's handler never touches another connection
// except through their synchronized APIs.
package websocket

import (
	"context"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"github.com/relayforge/relayd/internal/abuse"
	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/metrics"
	"github.com/relayforge/relayd/internal/realtime"
	"github.com/relayforge/relayd/internal/stats"
	"github.com/relayforge/relayd/internal/store"
)

// realtimePath keys the message abuse limiter, mirroring the connect URL.
const realtimePath = "/v1/realtime"

// Config wires a Hub.
type Config struct {
	Index          *realtime.Index
	Table          *stats.Table
	Users          store.UserStore
	Verifier       *store.SessionVerifier
	ConnectLimiter *abuse.Limiter
	MessageLimiter *abuse.Limiter

	// ConsoleProject is exempt from origin validation and hosts the
	// cross-node statistics channels.
	ConsoleProject string

	MaxMessageSize int64
	SendBuffer     int
}

// OpenRequest carries the collaborator-resolved inputs of one connection
// attempt: the project, the (possibly anonymous) user, the declared origin,
// and the raw channel names from the query string.
type OpenRequest struct {
	Project  *store.Project
	Console  *store.Project
	User     *store.User
	Origin   string
	IP       string
	URL      string
	Channels []string
}

// Hub is the connection lifecycle manager. It owns the set of open clients
// and is the only component that mutates connection membership, always
// through the subscription index's atomic operations.
type Hub struct {
	mu      sync.RWMutex
	clients map[realtime.ConnectionID]*Client

	index          *realtime.Index
	table          *stats.Table
	users          store.UserStore
	verifier       *store.SessionVerifier
	connectLimiter *abuse.Limiter
	messageLimiter *abuse.Limiter
	console        string

	maxMessageSize int64
	sendBuffer     int
}

// NewHub creates a hub over the shared registries.
func NewHub(cfg Config) *Hub {
	return &Hub{
		clients:        make(map[realtime.ConnectionID]*Client),
		index:          cfg.Index,
		table:          cfg.Table,
		users:          cfg.Users,
		verifier:       cfg.Verifier,
		connectLimiter: cfg.ConnectLimiter,
		messageLimiter: cfg.MessageLimiter,
		console:        cfg.ConsoleProject,
		maxMessageSize: cfg.MaxMessageSize,
		sendBuffer:     cfg.SendBuffer,
	}
}

// HandleOpen runs the Connecting -> Open transition. On failure the client
// receives an "error" frame and is closed with the error's code; no index
// or stats mutation survives a failed handshake.
func (h *Hub) HandleOpen(c *Client, req OpenRequest) error {
	if err := h.open(c, req); err != nil {
		code := realtime.ErrorCode(err)
		logging.Error().Err(err).
			Int("code", code).
			Str("action", "open").
			Uint64("connection", uint64(c.id)).
			Msg("connection rejected")
		metrics.ConnectionsRejected.WithLabelValues(strconv.Itoa(code)).Inc()

		h.sendError(c, code, err.Error())
		c.closeWithCode(code, err.Error())
		return err
	}
	return nil
}

func (h *Hub) open(c *Client, req OpenRequest) error {
	if req.Project == nil || req.Project.ID == "" {
		return realtime.NewError(realtime.CodePolicyViolation, "Missing or unknown project ID")
	}

	res := h.connectLimiter.Check(map[string]string{"ip": req.IP, "url": req.URL})
	if !res.Allowed {
		metrics.AbuseRejections.WithLabelValues("connect").Inc()
		return realtime.NewError(realtime.CodeTooManyMessages, "Too many requests")
	}

	// Origins are validated against the union of the project's and the
	// console's platforms; the console project itself is exempt.
	platforms := req.Project.Platforms
	if req.Console != nil {
		platforms = append(append([]store.Platform(nil), platforms...), req.Console.Platforms...)
	}
	if !store.ValidateOrigin(req.Origin, platforms) && req.Project.ID != h.console {
		return realtime.Errorf(realtime.CodePolicyViolation,
			"Invalid origin. Register your new client (%s) as a platform on your project console", req.Origin)
	}

	roles := store.Roles(req.User)

	userID := ""
	if req.User != nil {
		userID = req.User.ID
	}
	channels := realtime.ConvertChannels(req.Channels, userID)
	if len(channels) == 0 {
		return realtime.NewError(realtime.CodePolicyViolation, "Missing channels")
	}

	h.index.Subscribe(req.Project.ID, c.id, roles, channels)

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.table.ConnectionOpened(req.Project.ID, req.Project.TeamID)
	metrics.ConnectionsActive.WithLabelValues(req.Project.ID).Inc()
	metrics.ConnectionsTotal.WithLabelValues(req.Project.ID).Inc()

	h.sendFrame(c, Frame{Type: FrameConnected, Data: ConnectedData{
		Channels: realtime.ChannelNames(channels),
		User:     req.User.View(),
	}})

	logging.Info().
		Uint64("connection", uint64(c.id)).
		Str("project", req.Project.ID).
		Int("channels", len(channels)).
		Msg("connection open")
	return nil
}

// HandleMessage runs the Open -> Open transition for one inbound client
// message. Errors are answered with an "error" frame; the socket is closed
// only when the underlying cause is a policy violation.
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	conn, ok := h.index.Connection(c.id)
	if !ok {
		// Message raced the handshake failure; the socket is on its way down.
		return
	}

	if err := h.handleMessage(context.Background(), c, conn, raw); err != nil {
		code := realtime.ErrorCode(err)
		logging.Warn().Err(err).
			Int("code", code).
			Str("action", "message").
			Uint64("connection", uint64(c.id)).
			Msg("message rejected")

		h.sendError(c, code, err.Error())
		if code == realtime.CodePolicyViolation {
			c.closeWithCode(code, err.Error())
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, conn realtime.Connection, raw []byte) error {
	if !store.IsPrivileged(conn.Roles) {
		res := h.messageLimiter.Check(map[string]string{
			"url":        realtimePath,
			"connection": strconv.FormatUint(uint64(c.id), 10),
		})
		if !res.Allowed {
			metrics.AbuseRejections.WithLabelValues("message").Inc()
			return realtime.NewError(realtime.CodeTooManyMessages, "Too many messages")
		}
	}

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || (msg.Type == "" && len(msg.Data) == 0) {
		return realtime.NewError(realtime.CodeMessageFormatInvalid, "Message format is not valid")
	}

	switch msg.Type {
	case MessageTypeAuthentication:
		return h.handleAuthentication(ctx, c, conn, msg.Data)
	default:
		return realtime.NewError(realtime.CodeMessageFormatInvalid, "Message type is not valid")
	}
}

// handleAuthentication upgrades the connection's roles from a session
// token. Channels stay fixed at their connect-time names; only the role
// scoping (and the account channel's user binding) changes.
func (h *Hub) handleAuthentication(ctx context.Context, c *Client, conn realtime.Connection, data []byte) error {
	var payload authenticationPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Session == "" {
		return realtime.NewError(realtime.CodeMessageFormatInvalid, "Payload is not valid")
	}

	userID, sessionID, err := h.verifier.Decode(payload.Session)
	if err != nil {
		return realtime.NewError(realtime.CodeMessageFormatInvalid, "Session is not valid")
	}

	user, err := h.users.GetUser(ctx, conn.Project, userID)
	if err != nil || !h.verifier.Verify(user, sessionID) {
		return realtime.NewError(realtime.CodeMessageFormatInvalid, "Session is not valid")
	}

	roles := store.Roles(user)
	channels := realtime.ConvertChannels(realtime.ChannelNames(conn.Channels), user.ID)
	h.index.Subscribe(conn.Project, c.id, roles, channels)

	h.sendFrame(c, Frame{Type: FrameResponse, Data: ResponseData{
		To:      MessageTypeAuthentication,
		Success: true,
		User:    user.View(),
	}})
	return nil
}

// HandleClose runs the Open -> Closed transition. Unsubscribe runs
// unconditionally; the stats gauge is only touched for connections that
// completed the handshake.
func (h *Hub) HandleClose(c *Client) {
	h.mu.Lock()
	_, registered := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	if registered {
		if conn, ok := h.index.Connection(c.id); ok {
			h.table.ConnectionClosed(conn.Project)
			metrics.ConnectionsActive.WithLabelValues(conn.Project).Dec()
		}
		logging.Info().Uint64("connection", uint64(c.id)).Msg("connection close")
	}

	h.index.Unsubscribe(c.id)
}

// Send delivers one marshaled frame to the given local connections.
func (h *Hub) Send(ids []realtime.ConnectionID, frame Frame) {
	data, err := marshalFrame(frame)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal outbound frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			c.enqueue(data)
		}
	}
}

// SendEvent wraps event data in an "event" frame and delivers it. This is
// the fan-out path used by the bus bridge and the periodic stats tasks.
func (h *Hub) SendEvent(ids []realtime.ConnectionID, data *realtime.EventData) {
	h.Send(ids, Frame{Type: FrameEvent, Data: data})
}

// Deliver resolves an event's local recipients and sends it, returning the
// recipient count. Delivered messages are charged to the event's project.
func (h *Hub) Deliver(ev *realtime.Event) int {
	ids := h.index.Subscribers(ev)
	if len(ids) == 0 {
		return 0
	}

	h.SendEvent(ids, &ev.Data)
	h.table.AddMessages(ev.Project, int64(len(ids)))
	metrics.MessagesDelivered.WithLabelValues(ev.Project).Add(float64(len(ids)))
	metrics.FanoutRecipients.Observe(float64(len(ids)))
	return len(ids)
}

// RefreshRoles recomputes a user's roles from storage and re-subscribes
// every connection of that user, guarding against stale role caches after
// a permission change while sockets stay open.
func (h *Hub) RefreshRoles(ctx context.Context, project, userID string) {
	role := realtime.RoleUserPrefix + userID
	conns := h.index.ConnectionsForRole(project, role)
	if len(conns) == 0 {
		return
	}

	user, err := h.users.GetUser(ctx, project, userID)
	if err != nil {
		logging.Error().Err(err).
			Str("action", "refreshRoles").
			Str("project", project).
			Str("user", userID).
			Msg("failed to reload user for role refresh")
		return
	}

	roles := store.Roles(user)
	for _, conn := range conns {
		channels := realtime.ConvertChannels(realtime.ChannelNames(conn.Channels), userID)
		h.index.Subscribe(project, conn.ID, roles, channels)
	}
}

// ConsoleProject returns the distinguished console project id.
func (h *Hub) ConsoleProject() string {
	return h.console
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every registered connection, used at shutdown.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeWithCode(code, reason)
	}
}

func (h *Hub) sendError(c *Client, code int, message string) {
	h.sendFrame(c, Frame{Type: FrameError, Data: ErrorData{Code: code, Message: message}})
}

func (h *Hub) sendFrame(c *Client, frame Frame) {
	data, err := marshalFrame(frame)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal outbound frame")
		return
	}
	c.enqueue(data)
}
