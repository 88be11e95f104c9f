// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// clientIDCounter hands out process-unique connection ids. Monotonic ids
// keep fan-out iteration and logs deterministic.
var clientIDCounter atomic.Uint64

// Client is the middleman between one WebSocket connection and the hub. Its
// send channel decouples fan-out from slow sockets: the hub enqueues frames
// and the write pump drains them under its own deadline.
type Client struct {
	id   realtime.ConnectionID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	closed   bool
	closeMsg []byte
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   realtime.ConnectionID(clientIDCounter.Add(1)),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.sendBuffer),
	}
}

// ID returns the process-unique connection id.
func (c *Client) ID() realtime.ConnectionID {
	return c.id
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump feeds inbound client messages to the hub. Message handling is
// strictly sequential per connection: the next frame is not read until the
// hub returns.
func (c *Client) readPump() {
	defer func() {
		c.hub.HandleClose(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
				logging.Warn().Err(err).Uint64("connection", uint64(c.id)).Msg("unexpected websocket close")
			}
			return
		}
		c.hub.HandleMessage(c, data)
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Channel closed by closeWithCode after the last queued
				// frame, so the close frame is the final write.
				_ = c.conn.WriteMessage(websocket.CloseMessage, c.closeMsg)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a marshaled frame for delivery. A full buffer drops the
// frame rather than stalling unrelated connections' traffic.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		logging.Warn().Uint64("connection", uint64(c.id)).Msg("send buffer full, dropping frame")
	}
}

// closeWithCode initiates shutdown with the given protocol code. The send
// channel is closed so the write pump emits the close frame only after
// every already-queued frame has reached the wire. Safe to call multiple
// times.
func (c *Client) closeWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeMsg = websocket.FormatCloseMessage(code, reason)
	close(c.send)
}
