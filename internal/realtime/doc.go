// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package realtime holds the core fan-out domain model: the event envelope
// published on the cross-node bus, the subscription index resolving events
// to local connections, channel canonicalization, and the protocol error
// codes shared by the connection lifecycle and the HTTP layer.
//
// The index is the hot path of the whole server: it is consulted for every
// message arriving on the bus. All state in this package is owned by the
// process that created it and synchronized internally; nothing here touches
// the network.
package realtime
