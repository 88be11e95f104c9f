// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertChannels(t *testing.T) {
	tests := []struct {
		name   string
		raw    []string
		userID string
		want   map[string]string
	}{
		{
			name: "plain channels",
			raw:  []string{"documents", "files"},
			want: map[string]string{"documents": "", "files": ""},
		},
		{
			name: "comma delimited with scoping suffixes",
			raw:  []string{"documents.doc1,collections.col1"},
			want: map[string]string{"documents.doc1": "", "collections.col1": ""},
		},
		{
			name:   "account scoped to caller",
			raw:    []string{"account"},
			userID: "42",
			want:   map[string]string{"account": "42"},
		},
		{
			name: "anonymous account keeps empty scope",
			raw:  []string{"account"},
			want: map[string]string{"account": ""},
		},
		{
			name:   "own account suffix normalized",
			raw:    []string{"account.42"},
			userID: "42",
			want:   map[string]string{"account": "42"},
		},
		{
			name:   "foreign account suffix dropped",
			raw:    []string{"account.7", "documents"},
			userID: "42",
			want:   map[string]string{"documents": ""},
		},
		{
			name: "whitespace and empties ignored",
			raw:  []string{" documents , ", "", ","},
			want: map[string]string{"documents": ""},
		},
		{
			name: "no channels",
			raw:  nil,
			want: map[string]string{},
		},
		{
			name: "duplicates collapse",
			raw:  []string{"documents", "documents,documents"},
			want: map[string]string{"documents": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertChannels(tt.raw, tt.userID))
		})
	}
}

func TestChannelNames(t *testing.T) {
	names := ChannelNames(map[string]string{"files": "", "account": "42", "documents": ""})
	assert.Equal(t, []string{"account", "documents", "files"}, names)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodePolicyViolation, ErrorCode(NewError(CodePolicyViolation, "missing channels")))
	assert.Equal(t, CodeInternalError, ErrorCode(assert.AnError))
}
