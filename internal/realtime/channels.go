// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package realtime

import (
	"sort"
	"strings"
)

// ChannelAccount is the per-user private channel. It is always scoped to the
// authenticated caller: requesting it stores the caller's user id as the
// channel's extra key, and requesting another user's "account.<id>" variant
// is silently dropped.
const ChannelAccount = "account"

// ConvertChannels parses the raw channel names from the connect query into
// the canonical channel map. Names may be repeated or comma-delimited and
// may carry a ".{id}" scoping suffix (e.g. "documents.doc1"). The map value
// is the channel-scoped extra key; for most channels it is empty.
//
// The returned map is empty (never nil) when no valid channel remains.
func ConvertChannels(raw []string, userID string) map[string]string {
	channels := make(map[string]string)

	for _, entry := range raw {
		for _, name := range strings.Split(entry, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}

			switch {
			case strings.HasPrefix(name, ChannelAccount+"."):
				// Foreign account channels are not subscribable; the caller's
				// own is normalized to the bare "account" channel below.
				if userID != "" && name == ChannelAccount+"."+userID {
					channels[ChannelAccount] = userID
				}
			case name == ChannelAccount:
				channels[ChannelAccount] = userID
			default:
				channels[name] = ""
			}
		}
	}

	return channels
}

// ChannelNames returns the sorted channel names of a channel map, as echoed
// to the client in the "connected" frame.
func ChannelNames(channels map[string]string) []string {
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
