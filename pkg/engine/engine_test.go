// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/transport"
)

func raw(t *testing.T, mod, sub, req uint8, payload []byte) []byte {
	t.Helper()
	b, err := framing.Encode(mod, sub, req, payload)
	require.NoError(t, err)
	return b
}

// replyWith answers every command on the same module, sub and request id
func replyWith(payloads ...[]byte) transport.Responder {
	var mu sync.Mutex
	n := 0
	return func(sent []byte) [][]byte {
		frame, err := framing.Decode(sent)
		if err != nil {
			return nil
		}
		mu.Lock()
		payload := payloads[min(n, len(payloads)-1)]
		n++
		mu.Unlock()
		reply, _ := framing.Encode(frame.ModuleID(), frame.SubID(), frame.RequestID(), payload)
		return [][]byte{reply}
	}
}

func newTestEngine(responder transport.Responder, opts ...Option) (*Engine, *transport.Mock) {
	mock := transport.NewMock(responder)
	opts = append([]Option{WithTimeout(200 * time.Millisecond)}, opts...)
	return New(mock, opts...), mock
}

// ============================================================
// Request ID Tests
// ============================================================

func TestNextRequestID_Wraparound(t *testing.T) {
	e, _ := newTestEngine(nil)

	first := e.NextRequestID()
	assert.Equal(t, uint8(1), first)

	previous := first
	for i := 0; i < 600; i++ {
		id := e.NextRequestID()
		require.NotEqual(t, uint8(framing.RequestIDStatus), id)
		if previous == framing.RequestIDMax {
			assert.Equal(t, uint8(0), id, "254 wraps to 0")
		} else {
			assert.Equal(t, previous+1, id)
		}
		previous = id
	}
}

// ============================================================
// ReceiveMatching Tests
// ============================================================

func TestReceiveMatching_BacklogFairness(t *testing.T) {
	e, mock := newTestEngine(nil)
	a := raw(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 7, []byte{0x00})
	b := raw(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 8, []byte{0x00})
	mock.Inject(a, b)

	got, err := e.ReceiveMatching(Filter{RequestIDs: []uint8{8}}, 100*time.Millisecond, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), got.RequestID())
	assert.Equal(t, 1, e.Backlog())

	got, err = e.ReceiveMatching(Filter{}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), got.RequestID())
	assert.Equal(t, 0, e.Backlog())

	got, err = e.ReceiveMatching(Filter{}, 0, false)
	assert.NoError(t, err)
	assert.Nil(t, got, "no frame is duplicated")
}

func TestReceiveMatching_BacklogOrderPreserved(t *testing.T) {
	e, mock := newTestEngine(nil)
	for id := uint8(1); id <= 4; id++ {
		mock.Inject(raw(t, framing.ModuleSLAC, framing.SubSlacStart, id, []byte{0x00}))
	}

	got, err := e.ReceiveMatching(Filter{RequestIDs: []uint8{3}}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.RequestID())

	got, err = e.ReceiveMatching(Filter{RequestIDs: []uint8{2}}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got.RequestID())

	var order []uint8
	for {
		frame, err := e.ReceiveMatching(Filter{}, 0, false)
		require.NoError(t, err)
		if frame == nil {
			break
		}
		order = append(order, frame.RequestID())
	}
	assert.Equal(t, []uint8{1, 4}, order)
}

func TestReceiveMatching_NotificationsReserved(t *testing.T) {
	notification := raw(t, framing.ModuleV2G, framing.SubEVChargingStarted, framing.RequestIDStatus, nil)

	t.Run("empty filter leaves notification in backlog", func(t *testing.T) {
		e, mock := newTestEngine(nil)
		mock.Inject(notification)
		got, err := e.ReceiveMatching(Filter{}, 0, false)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 1, e.Backlog())
	})

	t.Run("notification flag", func(t *testing.T) {
		e, mock := newTestEngine(nil)
		mock.Inject(notification)
		got, err := e.ReceiveMatching(Filter{Notifications: true}, 0, false)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, uint8(framing.SubEVChargingStarted), got.SubID())
	})

	t.Run("sub filter", func(t *testing.T) {
		e, mock := newTestEngine(nil)
		mock.Inject(notification)
		got, err := e.ReceiveMatching(Filter{Subs: []uint8{framing.SubEVChargingStarted}}, 0, false)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("module filter", func(t *testing.T) {
		e, mock := newTestEngine(nil)
		mock.Inject(notification)
		got, err := e.ReceiveMatching(Filter{Modules: []uint8{framing.ModuleV2G}}, 0, false)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestReceiveMatching_OnlyNotifications(t *testing.T) {
	e, mock := newTestEngine(nil)
	mock.Inject(
		raw(t, framing.ModuleV2G, framing.SubV2GStart, framing.RequestIDStatus, []byte{0x00}),
		raw(t, framing.ModuleV2G, 0xCE, framing.RequestIDStatus, nil),
	)
	filter := Filter{
		Modules:           []uint8{framing.ModuleV2G},
		RequestIDs:        []uint8{framing.RequestIDStatus},
		OnlyNotifications: true,
	}

	got, err := e.ReceiveMatching(filter, 0, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint8(0xCE), got.SubID(), "unassigned notification ids pass")
	assert.Equal(t, 1, e.Backlog(), "reply stays in the backlog")
}

func TestReceiveMatching_SubsByModule(t *testing.T) {
	e, mock := newTestEngine(nil)
	mock.Inject(
		raw(t, framing.ModuleSLAC, framing.SubSlacJoinStatus, framing.RequestIDStatus, []byte{1}),
		raw(t, framing.ModuleSLAC, framing.SubSlacMatchSuccess, framing.RequestIDStatus, nil),
	)
	f := Filter{
		Modules:      []uint8{framing.ModuleSLAC},
		SubsByModule: map[uint8][]uint8{framing.ModuleSLAC: {framing.SubSlacMatchSuccess, framing.SubSlacMatchFailed}},
	}
	got, err := e.ReceiveMatching(f, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(framing.SubSlacMatchSuccess), got.SubID())
	assert.Equal(t, 1, e.Backlog())
}

func TestReceiveMatching_Timeout(t *testing.T) {
	e, _ := newTestEngine(nil)

	start := time.Now()
	got, err := e.ReceiveMatching(Filter{}, 30*time.Millisecond, false)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	_, err = e.ReceiveMatching(Filter{}, 10*time.Millisecond, true)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 10*time.Millisecond, timeoutErr.Timeout)
	assert.Equal(t, uint64(2), e.Stats().Timeouts)
}

func TestReceiveMatching_LateArrival(t *testing.T) {
	e, mock := newTestEngine(nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		mock.Inject(raw(t, framing.ModuleControlPilot, framing.SubCPGetState, 5, []byte{0, 1}))
	}()
	got, err := e.ReceiveMatching(Filter{RequestIDs: []uint8{5}}, time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(framing.SubCPGetState), got.SubID())
}

func TestReceiveMatching_TransportClosed(t *testing.T) {
	e, mock := newTestEngine(nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = e.Shutdown()
	}()
	_, err := e.ReceiveMatching(Filter{}, Forever, true)
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, mock.Send([]byte{0}), transport.ErrClosed)
}

func TestReceiveMatching_ContextCancelled(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.ReceiveMatchingContext(ctx, Filter{}, Forever, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceiveMatching_DropsCorruptFrames(t *testing.T) {
	e, mock := newTestEngine(nil)
	corrupt := raw(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 1, []byte{0x00, 0x10})
	corrupt[framing.HeaderSize] ^= 0x01
	valid := raw(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 1, []byte{0x00})
	mock.Inject(corrupt, valid)

	got, err := e.ReceiveMatching(Filter{RequestIDs: []uint8{1}}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, got.Payload())
	assert.Equal(t, uint64(1), e.Stats().ChecksumErrors)
}

// ============================================================
// SendAndCorrelate Tests
// ============================================================

func TestSendAndCorrelate_Reply(t *testing.T) {
	e, mock := newTestEngine(replyWith([]byte{0x00, 0x01}))
	reply, err := e.SendAndCorrelate(framing.ModuleControlPilot, framing.SubCPGetMode, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01}, reply.Payload())
	assert.Equal(t, uint8(1), reply.RequestID())
	assert.Len(t, mock.Sent(), 1)
	assert.Equal(t, uint64(1), e.Stats().FramesSent)
}

func TestSendAndCorrelate_BusyRetry(t *testing.T) {
	e, mock := newTestEngine(replyWith([]byte{0x01}, []byte{0x01}, []byte{0x00}))
	payload := []byte{0x00}

	reply, err := e.SendAndCorrelate(framing.ModuleSLAC, framing.SubSlacStart, payload, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, reply.Payload())

	sent := mock.Sent()
	require.Len(t, sent, 3)
	seen := map[uint8]bool{}
	for _, s := range sent {
		frame, err := framing.Decode(s)
		require.NoError(t, err)
		assert.Equal(t, payload, frame.Payload(), "request resent verbatim")
		assert.False(t, seen[frame.RequestID()], "each attempt uses a new request id")
		seen[frame.RequestID()] = true
	}
	assert.Equal(t, uint64(2), e.Stats().BusyRetries)
}

func TestSendAndCorrelate_BusyUntilDeadline(t *testing.T) {
	e, _ := newTestEngine(replyWith([]byte{0x01}))
	_, err := e.SendAndCorrelate(framing.ModuleSLAC, framing.SubSlacStart, nil, 30*time.Millisecond)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, ErrStillBusy)
}

func TestSendAndCorrelate_NoReply(t *testing.T) {
	e, _ := newTestEngine(nil)
	_, err := e.SendAndCorrelate(framing.ModuleV2G, framing.SubV2GGetMode, nil, 20*time.Millisecond)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, uint8(framing.SubV2GGetMode), connErr.Sub)
}

func TestSendAndCorrelate_ErrorModule(t *testing.T) {
	mock := transport.NewMock(nil)
	mock.SetResponder(func(sent []byte) [][]byte {
		frame, _ := framing.Decode(sent)
		reply, _ := framing.Encode(framing.ModuleError, 0x03, frame.RequestID(), nil)
		return [][]byte{reply}
	})
	e := New(mock)

	_, err := e.SendAndCorrelate(framing.ModuleV2G, framing.SubV2GStart, nil, time.Second)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, uint8(0x03), protoErr.Code)
	assert.False(t, protoErr.Warning)
}

func TestSendAndCorrelate_SubMismatchIsWarning(t *testing.T) {
	mock := transport.NewMock(func(sent []byte) [][]byte {
		frame, _ := framing.Decode(sent)
		reply, _ := framing.Encode(frame.ModuleID(), frame.SubID()+1, frame.RequestID(), []byte{0x00})
		return [][]byte{reply}
	})
	e := New(mock)

	reply, err := e.SendAndCorrelate(framing.ModuleV2G, framing.SubV2GStart, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(framing.SubV2GStop), reply.SubID())
}

func TestSendAndCorrelate_IgnoresOtherRequests(t *testing.T) {
	stale := raw(t, framing.ModuleV2G, framing.SubV2GStart, 9, []byte{0x05})
	mock := transport.NewMock(nil)
	mock.SetResponder(func(sent []byte) [][]byte {
		frame, _ := framing.Decode(sent)
		reply, _ := framing.Encode(frame.ModuleID(), frame.SubID(), frame.RequestID(), []byte{0x00})
		return [][]byte{stale, reply}
	})
	e := New(mock)

	reply, err := e.SendAndCorrelate(framing.ModuleV2G, framing.SubV2GStart, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, reply.Payload())
	assert.Equal(t, 1, e.Backlog(), "stale reply kept for later")
}

func TestSendAndCorrelate_TransportClosed(t *testing.T) {
	e, _ := newTestEngine(nil)
	require.NoError(t, e.Shutdown())
	_, err := e.SendAndCorrelate(framing.ModuleV2G, framing.SubV2GStart, nil, time.Second)
	assert.True(t, errors.Is(err, ErrTransportClosed))
}

// ============================================================
// SendAck Tests
// ============================================================

func TestSendAck(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		code    uint8
		noCode  bool
		ok      bool
	}{
		{name: "accepted", payload: []byte{0x00}, ok: true},
		{name: "accepted with data", payload: []byte{0x00, 0x02}, ok: true},
		{name: "rejected", payload: []byte{0x03}, code: 3},
		{name: "no return code", payload: []byte{}, noCode: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(replyWith(tt.payload))
			reply, err := e.SendAck(framing.ModuleControlPilot, framing.SubCPStart, nil)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.payload, reply.Payload())
				return
			}
			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.code, rejected.Code)
			assert.Equal(t, tt.noCode, rejected.NoCode)
		})
	}
}

// ============================================================
// Drain / Trace Tests
// ============================================================

func TestDrainAndClear(t *testing.T) {
	e, mock := newTestEngine(nil)
	mock.Inject(raw(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 3, []byte{0}))
	_, err := e.ReceiveMatching(Filter{RequestIDs: []uint8{99}}, 0, false)
	require.NoError(t, err)
	require.Equal(t, 1, e.Backlog())

	mock.Inject(
		raw(t, framing.ModuleV2G, framing.SubEVChargingStarted, framing.RequestIDStatus, nil),
		raw(t, framing.ModuleV2G, framing.SubEVChargingStopped, framing.RequestIDStatus, nil),
	)
	require.True(t, e.HasPending())
	e.DrainAndClear()
	assert.False(t, e.HasPending())
	assert.Equal(t, 0, e.Backlog())
}

type recordingTracer struct {
	directions []Direction
}

func (r *recordingTracer) TraceFrame(dir Direction, raw []byte) {
	r.directions = append(r.directions, dir)
}

func TestTracer(t *testing.T) {
	tracer := &recordingTracer{}
	e, _ := newTestEngine(replyWith([]byte{0x00}), WithTracer(tracer))
	_, err := e.SendAck(framing.ModuleSLAC, framing.SubSlacStop, nil)
	require.NoError(t, err)
	assert.Equal(t, []Direction{DirectionSent, DirectionReceived}, tracer.directions)
	assert.Equal(t, "TX", DirectionSent.String())
}
