// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package realtime

import (
	"errors"
	"fmt"
)

// Protocol error codes sent to clients and used as WebSocket close codes.
// CodePolicyViolation doubles as the close code for rejected connections,
// matching RFC 6455 close code 1008.
const (
	CodeInternalError        = 1011
	CodeMessageFormatInvalid = 1003
	CodePolicyViolation      = 1008
	CodeTooManyMessages      = 1013
)

// Error is a protocol-level realtime error carrying a close/error code.
type Error struct {
	code    int
	message string
}

// NewError creates a realtime error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{code: code, message: message}
}

// Errorf creates a realtime error with a formatted message.
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.message
}

// Code returns the protocol error code.
func (e *Error) Code() int {
	return e.code
}

// ErrorCode extracts the protocol code from an error chain. Non-realtime
// errors map to CodeInternalError so infrastructure failures are never
// surfaced to clients with a policy code.
func ErrorCode(err error) int {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.code
	}
	return CodeInternalError
}
