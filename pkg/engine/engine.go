// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine correlates commands with their replies on a controller
// link.
//
// The engine allocates request ids, keeps a backlog of frames no receive
// call has claimed yet, retries commands the controller reports as busy,
// and bounds every wait with a timeout. It is owned by a single goroutine;
// only Shutdown and Stats may be called from elsewhere.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/transport"
)

// Forever is the timeout of a receive that never expires
const Forever time.Duration = math.MaxInt64

// Defaults
const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = time.Millisecond
)

// Direction tells a Tracer which way a frame travelled
type Direction uint8

const (
	DirectionSent Direction = iota
	DirectionReceived
)

func (d Direction) String() string {
	if d == DirectionSent {
		return "TX"
	}
	return "RX"
}

// Tracer observes every raw frame crossing the link, valid or not
type Tracer interface {
	TraceFrame(dir Direction, raw []byte)
}

// Engine drives one transport
type Engine struct {
	transport transport.Transport
	log       *slog.Logger
	tracer    Tracer

	timeout      time.Duration
	pollInterval time.Duration

	requestID uint8
	backlog   []*framing.Frame

	statsMu sync.Mutex
	stats   *framing.Statistics
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger used for warnings and debug output
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithTracer records every frame sent and received
func WithTracer(t Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithTimeout sets the overall deadline of SendAndCorrelate and SendAck
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithPollInterval sets the sleep between empty transport polls
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// New creates an engine that owns t
func New(t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:    t,
		log:          slog.Default().With("component", "engine"),
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		stats:        framing.NewStatistics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NextRequestID returns the next request id. The first id is 1, 254 wraps
// to 0 and the reserved status id is never returned.
func (e *Engine) NextRequestID() uint8 {
	if e.requestID >= framing.RequestIDMax {
		e.requestID = 0
	} else {
		e.requestID++
	}
	return e.requestID
}

// Timeout returns the default command timeout
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// ReceiveMatching waits up to timeout for a frame accepted by f.
//
// Frames in the backlog are offered first, then the transport is polled.
// Frames f rejects are kept and restored ahead of the untouched backlog
// when the call returns, so no frame is lost or reordered. A timeout of 0
// makes a single pass over everything already available. On expiry a
// noisy call returns *TimeoutError and a silent one returns nil, nil.
func (e *Engine) ReceiveMatching(f Filter, timeout time.Duration, noisy bool) (*framing.Frame, error) {
	return e.ReceiveMatchingContext(context.Background(), f, timeout, noisy)
}

// ReceiveMatchingContext is ReceiveMatching with cancellation checked
// between transport polls
func (e *Engine) ReceiveMatchingContext(ctx context.Context, f Filter, timeout time.Duration, noisy bool) (*framing.Frame, error) {
	var deadline time.Time
	if timeout != Forever {
		deadline = time.Now().Add(timeout)
	}

	remaining := e.backlog
	e.backlog = nil
	var unmatched []*framing.Frame
	defer func() {
		e.backlog = append(unmatched, remaining...)
		e.withStats(func(s *framing.Statistics) { s.RecordBacklog(len(e.backlog)) })
	}()

	if !f.SkipBacklog {
		for len(remaining) > 0 {
			frame := remaining[0]
			remaining = remaining[1:]
			if f.Matches(frame) {
				return frame, nil
			}
			unmatched = append(unmatched, frame)
		}
	}

	for {
		raw, err := e.transport.TryReceive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil, ErrTransportClosed
			}
			return nil, &ConnectionError{Err: err}
		}

		if raw != nil {
			frame := e.decode(raw)
			if frame == nil {
				continue
			}
			if f.Matches(frame) {
				return frame, nil
			}
			unmatched = append(unmatched, frame)
			continue
		}

		if timeout == 0 || (timeout != Forever && time.Now().After(deadline)) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		time.Sleep(e.pollInterval)
	}

	e.withStats(func(s *framing.Statistics) { s.RecordTimeout() })
	if noisy {
		return nil, &TimeoutError{Timeout: timeout}
	}
	return nil, nil
}

// decode validates a raw frame. Invalid frames are counted, logged and
// dropped.
func (e *Engine) decode(raw []byte) *framing.Frame {
	if e.tracer != nil {
		e.tracer.TraceFrame(DirectionReceived, raw)
	}
	frame, err := framing.Decode(raw)
	var anomalies []framing.ValidationError
	if err == nil {
		anomalies = framing.ValidateFrame(frame)
	}
	e.withStats(func(s *framing.Statistics) { s.Update(frame, err, anomalies) })
	if err != nil {
		e.log.Warn("dropped invalid frame", "error", err)
		return nil
	}
	e.log.Debug("received", "frame", framing.FormatFrame(frame))
	return frame
}

// send encodes and writes one frame
func (e *Engine) send(moduleID, subID, requestID uint8, payload []byte) error {
	raw, err := framing.Encode(moduleID, subID, requestID, payload)
	if err != nil {
		return err
	}
	if e.tracer != nil {
		e.tracer.TraceFrame(DirectionSent, raw)
	}
	if err := e.transport.Send(raw); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrTransportClosed
		}
		return &ConnectionError{Module: moduleID, Sub: subID, Err: err}
	}
	e.withStats(func(s *framing.Statistics) { s.RecordSent() })
	e.log.Debug("sent", "module", framing.FormatModule(moduleID),
		"sub", framing.FormatSub(moduleID, subID), "request_id", requestID, "length", len(payload))
	return nil
}

// SendAndCorrelate sends a command and waits for the reply carrying the
// same request id. Busy replies are retried with a fresh request id until
// the timeout expires.
func (e *Engine) SendAndCorrelate(moduleID, subID uint8, payload []byte, timeout time.Duration) (*framing.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		requestID := e.NextRequestID()
		if err := e.send(moduleID, subID, requestID, payload); err != nil {
			return nil, err
		}

		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		reply, err := e.ReceiveMatching(Filter{
			Modules:    []uint8{moduleID, framing.ModuleError},
			RequestIDs: []uint8{requestID},
		}, wait, false)
		if err != nil {
			return nil, err
		}
		if reply == nil {
			return nil, &ConnectionError{Module: moduleID, Sub: subID, Err: ErrNoResponse}
		}

		if reply.IsError() {
			return nil, &ProtocolError{Module: moduleID, Sub: subID, Code: reply.SubID()}
		}
		if reply.SubID() != subID {
			warning := &ProtocolError{Module: moduleID, Sub: subID, Code: reply.SubID(), Warning: true}
			e.log.Warn(warning.Error())
		}

		if reply.IsBusy() {
			e.withStats(func(s *framing.Statistics) { s.RecordBusy() })
			if !time.Now().Before(deadline) {
				return nil, &ConnectionError{Module: moduleID, Sub: subID, Err: ErrStillBusy}
			}
			e.log.Debug("controller busy, retrying", "sub", framing.FormatSub(moduleID, subID))
			time.Sleep(e.pollInterval)
			continue
		}
		return reply, nil
	}
}

// SendAck sends a command whose reply starts with a status code. Any code
// other than accepted is returned as *RejectedError.
func (e *Engine) SendAck(moduleID, subID uint8, payload []byte) (*framing.Frame, error) {
	reply, err := e.SendAndCorrelate(moduleID, subID, payload, e.timeout)
	if err != nil {
		return nil, err
	}
	if reply.Length() == 0 {
		return nil, &RejectedError{Module: moduleID, Sub: subID, NoCode: true}
	}
	if code := reply.Payload()[0]; code != framing.StatusAccepted {
		return nil, &RejectedError{Module: moduleID, Sub: subID, Code: code}
	}
	return reply, nil
}

// HasPending reports whether a frame is queued or in the backlog
func (e *Engine) HasPending() bool {
	return len(e.backlog) > 0 || e.transport.HasPending()
}

// Backlog returns the number of unclaimed frames
func (e *Engine) Backlog() int {
	return len(e.backlog)
}

// DrainAndClear discards every pending frame and empties the backlog
func (e *Engine) DrainAndClear() {
	for e.transport.HasPending() {
		if _, err := e.ReceiveMatching(Filter{Notifications: true, SkipBacklog: true}, 0, false); err != nil {
			break
		}
	}
	if n := len(e.backlog); n > 0 {
		e.log.Debug("cleared backlog", "frames", n)
	}
	e.backlog = nil
}

// Stats returns a snapshot of the frame statistics
func (e *Engine) Stats() framing.Statistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return *e.stats
}

func (e *Engine) withStats(fn func(*framing.Statistics)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	fn(e.stats)
}

// Shutdown closes the transport. Receives in progress return
// ErrTransportClosed.
func (e *Engine) Shutdown() error {
	return e.transport.Shutdown()
}
