// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/sim"
	"github.com/Thermoquad/whitebeet/pkg/whitebeet"
)

// Option configures a session controller
type Option func(*options)

type options struct {
	log      *slog.Logger
	observer Observer
	clock    sim.Clock
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver receives every session event
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithClock drives the battery, charger and schedule models. The default
// is the wall clock.
func WithClock(clock sim.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:      slog.Default().With("component", "session"),
		observer: nopObserver{},
		clock:    sim.SystemClock,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// abortError ends a session with a known reason
type abortError struct {
	reason Reason
	err    error
}

func (e *abortError) Error() string {
	return e.err.Error()
}

func (e *abortError) Unwrap() error {
	return e.err
}

func abort(reason Reason, format string, args ...interface{}) error {
	return &abortError{reason: reason, err: fmt.Errorf(format, args...)}
}

// classify maps an error that ended a session to its reason
func classify(err error) Reason {
	var (
		aborted    *abortError
		connection *engine.ConnectionError
		rejected   *engine.RejectedError
		timeout    *engine.TimeoutError
		value      *message.ValueError
	)
	switch {
	case errors.As(err, &aborted):
		return aborted.reason
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	case errors.Is(err, engine.ErrTransportClosed), errors.As(err, &connection):
		return ReasonConnectionLost
	case errors.As(err, &rejected), errors.As(err, &value):
		return ReasonRejected
	case errors.As(err, &timeout):
		return ReasonTimeout
	default:
		return ReasonPeerError
	}
}

// recoverable reports whether a failed command inside the notification
// loop only affects that exchange
func recoverable(err error) bool {
	var (
		rejected *engine.RejectedError
		protocol *engine.ProtocolError
		timeout  *engine.TimeoutError
		value    *message.ValueError
	)
	return errors.As(err, &rejected) || errors.As(err, &protocol) ||
		errors.As(err, &timeout) || errors.As(err, &value) ||
		errors.Is(err, whitebeet.ErrUnexpectedReply)
}

// controller holds what the EV and EVSE roles share
type controller struct {
	client *whitebeet.Client
	log    *slog.Logger
	obs    Observer
	clock  sim.Clock
	timing Timing

	state  State
	result Result
}

func newController(role Role, client *whitebeet.Client, timing Timing, o options) controller {
	return controller{
		client: client,
		log:    o.log.With("role", role.String()),
		obs:    o.observer,
		clock:  o.clock,
		timing: timing,
		result: Result{Role: role},
	}
}

// State returns the current phase. It must only be read from the goroutine
// calling Run or from an Observer.
func (c *controller) State() State {
	return c.state
}

func (c *controller) emit(e Event) {
	e.Role = c.result.Role
	e.Time = time.Now()
	c.obs.Observe(e)
}

func (c *controller) setState(s State) {
	if s == c.state && s != StateInit {
		return
	}
	c.log.Info("state change", "from", c.state.String(), "to", s.String())
	c.state = s
	c.emit(Event{Kind: EventStateChanged, State: s})
}

// advance moves forward only, so a late notification cannot rewind the
// session
func (c *controller) advance(s State) bool {
	if s <= c.state {
		c.log.Debug("ignoring late transition", "state", c.state.String(), "to", s.String())
		return false
	}
	c.setState(s)
	return true
}

// releaseLink stops SLAC and the control pilot when a session ends before
// V2G was started
func (c *controller) releaseLink() {
	if err := c.client.SlacStop(); err != nil {
		c.log.Warn("teardown: stop SLAC", "error", err)
	}
	if err := c.client.CPStop(); err != nil {
		c.log.Warn("teardown: stop control pilot", "error", err)
	}
}

// sleep waits for d or until ctx is done
func (c *controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tolerate logs a command failure that only affects one exchange and
// passes everything else on
func (c *controller) tolerate(what string, err error) error {
	if err == nil {
		return nil
	}
	if recoverable(err) {
		c.log.Warn("command failed", "command", what, "error", err)
		return nil
	}
	return err
}

// malformed logs a notification payload that could not be parsed
func (c *controller) malformed(name string, payload []byte, err error) {
	c.log.Warn("malformed notification", "notification", name, "payload", fmt.Sprintf("% X", payload), "error", err)
}

func (c *controller) sessionError(code message.SessionErrorCode) {
	se := SessionError{Code: code, At: time.Now()}
	c.result.SessionErrors = append(c.result.SessionErrors, se)
	c.log.Warn("session error", "code", uint8(code), "description", code.String())
	c.emit(Event{Kind: EventSessionError, Err: se})
}

// finish fills in the result once the session loop returned
func (c *controller) finish(err error) (Result, error) {
	c.result.FinalState = c.state
	c.result.EndedAt = time.Now()
	switch {
	case err != nil:
		c.result.Reason = classify(err)
		c.result.Detail = err.Error()
	case len(c.result.SessionErrors) > 0:
		c.result.Reason = ReasonPeerError
		c.result.Detail = c.result.SessionErrors[len(c.result.SessionErrors)-1].Error()
	default:
		c.result.Reason = ReasonCompleted
	}
	c.setState(StateEnd)

	result := c.result
	if err := result.Error(); err != nil {
		c.log.Error("session ended", "reason", result.Reason.String(), "error", err)
	} else {
		c.log.Info("session ended", "reason", result.Reason.String(), "duration", result.Duration())
	}
	c.emit(Event{Kind: EventEnded, Result: &result})
	return result, result.Error()
}
