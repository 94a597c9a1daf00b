// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

import (
	"errors"
	"fmt"
)

var (
	ErrPayloadUnderrun = errors.New("less payload than expected")
	ErrPayloadOverrun  = errors.New("more payload than expected")
)

// OverrunError reports bytes left unread after a payload structure was
// parsed completely
type OverrunError struct {
	Read   int
	Length int
}

// Error implements the error interface
func (e *OverrunError) Error() string {
	return fmt.Sprintf("%v (read: %d, length: %d)", ErrPayloadOverrun, e.Read, e.Length)
}

// Unwrap returns ErrPayloadOverrun
func (e *OverrunError) Unwrap() error {
	return ErrPayloadOverrun
}

// ValueError reports a caller supplied field that cannot be encoded. It is
// returned before any payload byte is produced.
type ValueError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValueError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
