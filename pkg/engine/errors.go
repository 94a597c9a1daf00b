// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/transport"
)

var (
	// ErrTransportClosed is terminal: the link is gone and nothing more
	// will arrive
	ErrTransportClosed = transport.ErrClosed

	ErrNoResponse = errors.New("no response from controller")
	ErrStillBusy  = errors.New("controller still busy at deadline")
)

// ConnectionError reports a command the controller did not answer. The
// controller is assumed wedged or disconnected.
type ConnectionError struct {
	Module uint8
	Sub    uint8
	Err    error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error on %s/0x%02X: %v",
		framing.FormatModule(e.Module), e.Sub, e.Err)
}

// Unwrap returns the underlying cause
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an error frame from the controller or, when
// Warning is set, a reply that did not look like the request it answers
type ProtocolError struct {
	Module  uint8
	Sub     uint8
	Code    uint8
	Warning bool
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if e.Warning {
		return fmt.Sprintf("protocol warning: reply sub 0x%02X does not match request %s/0x%02X",
			e.Code, framing.FormatModule(e.Module), e.Sub)
	}
	return fmt.Sprintf("protocol error 0x%02X on %s/0x%02X",
		e.Code, framing.FormatModule(e.Module), e.Sub)
}

// RejectedError reports an ack carrying a non-zero status code
type RejectedError struct {
	Module uint8
	Sub    uint8
	Code   uint8
	NoCode bool
}

// Error implements the error interface
func (e *RejectedError) Error() string {
	name := framing.FormatSub(e.Module, e.Sub)
	if e.NoCode {
		return fmt.Sprintf("%s rejected: no return code", name)
	}
	return fmt.Sprintf("%s rejected with code %d", name, e.Code)
}

// TimeoutError reports a noisy receive that expired without a match
type TimeoutError struct {
	Timeout time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("frame reception timed out after %v", e.Timeout)
}
