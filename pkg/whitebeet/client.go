// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package whitebeet is the command client of a Whitebeet charging
// communication controller.
//
// A Client wraps an engine.Engine and exposes one method per controller
// command, grouped by controller module: system, network configuration,
// control pilot, SLAC and V2G (common, EV and EVSE). Arguments are
// validated before anything is sent and replies are checked for the
// layout the controller documents.
package whitebeet

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
)

// ErrUnexpectedReply is wrapped by every ReplyError
var ErrUnexpectedReply = errors.New("unexpected reply")

// ReplyError reports a reply or notification whose payload does not have
// the documented layout or carries an out of range value
type ReplyError struct {
	Module uint8
	Sub    uint8
	Reason string
}

// Error implements the error interface
func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s", framing.FormatSub(e.Module, e.Sub), e.Reason)
}

// Unwrap returns ErrUnexpectedReply
func (e *ReplyError) Unwrap() error {
	return ErrUnexpectedReply
}

func replyError(moduleID, subID uint8, format string, args ...interface{}) error {
	return &ReplyError{Module: moduleID, Sub: subID, Reason: fmt.Sprintf(format, args...)}
}

func invalidArgument(field, format string, args ...interface{}) error {
	return &message.ValueError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Client issues commands to one controller
type Client struct {
	engine *engine.Engine
	log    *slog.Logger

	version string
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger of the client
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New wraps e without talking to the controller
func New(e *engine.Engine, opts ...Option) *Client {
	c := &Client{
		engine: e,
		log:    slog.Default().With("component", "whitebeet"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open wraps e and brings the controller into a known idle state: pending
// frames are discarded, the firmware version is read, SLAC and the control
// pilot are stopped, and an EVSE left listening is told to stop.
func Open(e *engine.Engine, opts ...Option) (*Client, error) {
	c := New(e, opts...)
	if err := c.handshake(); err != nil {
		return nil, fmt.Errorf("controller handshake: %w", err)
	}
	return c, nil
}

func (c *Client) handshake() error {
	c.engine.DrainAndClear()

	version, err := c.FirmwareVersion()
	if err != nil {
		return err
	}
	c.version = version
	c.log.Info("controller connected", "firmware", version)

	if err := c.SlacStop(); err != nil {
		return err
	}
	if err := c.CPStop(); err != nil {
		return err
	}
	return c.stopListenIfEVSE()
}

func (c *Client) stopListenIfEVSE() error {
	mode, err := c.V2GGetMode()
	if err != nil {
		return err
	}
	if mode == ModeEVSE {
		return c.EVSEStopListen()
	}
	return nil
}

// Close stops an EVSE that is still listening and shuts the transport down.
// The transport is closed even when the controller does not answer.
func (c *Client) Close() error {
	var first error
	if err := c.stopListenIfEVSE(); err != nil && !errors.Is(err, engine.ErrTransportClosed) {
		c.log.Warn("stop listen on close failed", "error", err)
		first = err
	}
	if err := c.engine.Shutdown(); err != nil && first == nil {
		first = err
	}
	return first
}

// Version returns the firmware version read by Open
func (c *Client) Version() string {
	return c.version
}

// Engine returns the engine the client drives
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// ack sends a command that answers with a status code
func (c *Client) ack(moduleID, subID uint8, payload []byte) (*framing.Frame, error) {
	return c.engine.SendAck(moduleID, subID, payload)
}

// ackEncoded sends the payload built by encode as an acked V2G command
func (c *Client) ackEncoded(subID uint8, encode func() ([]byte, error)) error {
	payload, err := encode()
	if err != nil {
		return err
	}
	_, err = c.ack(framing.ModuleV2G, subID, payload)
	return err
}

// status sends a command whose reply status is checked against accepted
// instead of just zero
func (c *Client) status(moduleID, subID uint8, accepted ...uint8) error {
	reply, err := c.engine.SendAndCorrelate(moduleID, subID, nil, c.engine.Timeout())
	if err != nil {
		return err
	}
	if reply.Length() == 0 {
		return &engine.RejectedError{Module: moduleID, Sub: subID, NoCode: true}
	}
	code := reply.Payload()[0]
	for _, a := range accepted {
		if code == a {
			return nil
		}
	}
	return &engine.RejectedError{Module: moduleID, Sub: subID, Code: code}
}

func boolByte(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// okByte encodes a success flag the way the controller expects it,
// 0 for success
func okByte(ok bool) []byte {
	if ok {
		return []byte{0}
	}
	return []byte{1}
}
