// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/whitebeet/pkg/framing"
)

func encode(t *testing.T, mod, sub, req byte, payload []byte) []byte {
	t.Helper()
	raw, err := framing.Encode(mod, sub, req, payload)
	require.NoError(t, err)
	return raw
}

// ============================================================
// Queue Tests
// ============================================================

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(4)
	assert.True(t, q.Push([]byte{1}))
	assert.True(t, q.Push([]byte{2}))
	assert.Equal(t, 2, q.Len())

	got, err := q.TryPop()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)
	got, err = q.TryPop()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, got)

	got, err = q.TryPop()
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, uint64(2), q.Pushed())
}

func TestQueue_CloseDrainsFirst(t *testing.T) {
	q := NewQueue(4)
	q.Push([]byte{1})
	q.Close()

	assert.False(t, q.Push([]byte{2}), "push after close is refused")
	got, err := q.TryPop()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)

	_, err = q.TryPop()
	assert.ErrorIs(t, err, ErrClosed)
	q.Close()
}

func TestQueue_CloseReleasesBlockedProducer(t *testing.T) {
	q := NewQueue(1)
	q.Push([]byte{1})

	result := make(chan bool)
	go func() { result <- q.Push([]byte{2}) }()

	q.Close()
	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after close")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue(8)
	const producers, each = 4, 50
	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < each; i++ {
				q.Push([]byte{byte(i)})
			}
		}()
	}

	received := 0
	deadline := time.Now().Add(2 * time.Second)
	for received < producers*each && time.Now().Before(deadline) {
		frame, err := q.TryPop()
		require.NoError(t, err)
		if frame != nil {
			received++
		}
	}
	assert.Equal(t, producers*each, received)
}

// ============================================================
// Stream Tests
// ============================================================

func TestStream_ReceivesFramesAmidNoise(t *testing.T) {
	host, controller := net.Pipe()
	s := NewStream("pipe", host, 16)
	defer s.Shutdown()

	first := encode(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 1, []byte{0x00})
	second := encode(t, framing.ModuleControlPilot, framing.SubCPStateChanged, framing.RequestIDStatus, []byte{0x01})

	go func() {
		stream := append([]byte{0x13, 0x37}, first...)
		stream = append(stream, 0x00)
		stream = append(stream, second...)
		_, _ = controller.Write(stream)
	}()

	var got [][]byte
	require.Eventually(t, func() bool {
		frame, err := s.TryReceive()
		if err != nil {
			return false
		}
		if frame != nil {
			got = append(got, frame)
		}
		return len(got) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
	assert.False(t, s.HasPending())
}

func TestStream_Send(t *testing.T) {
	host, controller := net.Pipe()
	s := NewStream("pipe", host, 16)
	defer s.Shutdown()

	frame := encode(t, framing.ModuleSLAC, framing.SubSlacStop, 3, nil)
	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(frame))
		_, _ = io.ReadFull(controller, buf)
		received <- buf
	}()

	require.NoError(t, s.Send(frame))
	select {
	case got := <-received:
		assert.Equal(t, frame, got)
	case <-time.After(time.Second):
		t.Fatal("frame not written")
	}
}

func TestStream_LinkFailureClosesTransport(t *testing.T) {
	host, controller := net.Pipe()
	s := NewStream("pipe", host, 16)
	defer s.Shutdown()

	require.NoError(t, controller.Close())

	require.Eventually(t, func() bool {
		_, err := s.TryReceive()
		return err == ErrClosed
	}, time.Second, time.Millisecond)
	assert.Error(t, s.Err())
	assert.ErrorIs(t, s.Send([]byte{0xC0}), ErrClosed)
}

func TestStream_ShutdownIsIdempotent(t *testing.T) {
	host, _ := net.Pipe()
	s := NewStream("pipe", host, 16)
	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())

	_, err := s.TryReceive()
	assert.ErrorIs(t, err, ErrClosed)
}

// ============================================================
// Ethernet Payload Tests
// ============================================================

func TestEthernetPayload_Wrap(t *testing.T) {
	frame := encode(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 1, nil)
	wrapped := wrapEthernetPayload(frame)
	assert.Equal(t, []byte{0x00, 0x04, 0x00, byte(len(frame))}, wrapped[:4])
	assert.Equal(t, frame, wrapped[4:])
}

func TestEthernetPayload_Unwrap(t *testing.T) {
	frame := encode(t, framing.ModuleV2G, framing.SubEVChargingStarted, framing.RequestIDStatus, []byte{1, 2, 3})

	padded := append(wrapEthernetPayload(frame), make([]byte, 20)...)
	raw, ok := unwrapEthernetPayload(padded)
	require.True(t, ok)
	assert.Equal(t, frame, raw)

	_, ok = unwrapEthernetPayload(wrapEthernetPayload(frame)[:len(frame)])
	assert.False(t, ok, "truncated frame")

	noise := wrapEthernetPayload(frame)
	noise[4] = 0x00
	_, ok = unwrapEthernetPayload(noise)
	assert.False(t, ok, "missing start marker")

	_, ok = unwrapEthernetPayload([]byte{0x00, 0x04})
	assert.False(t, ok, "short payload")
}

// ============================================================
// Mock Tests
// ============================================================

func TestMock_Responder(t *testing.T) {
	reply := encode(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 1, []byte{0x00})
	m := NewMock(func(frame []byte) [][]byte {
		return [][]byte{reply}
	})

	request := encode(t, framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 1, nil)
	require.NoError(t, m.Send(request))
	assert.True(t, m.HasPending())

	got, err := m.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, reply, got)
	assert.Equal(t, [][]byte{request}, m.Sent())

	require.NoError(t, m.Shutdown())
	assert.ErrorIs(t, m.Send(request), ErrClosed)
	_, err = m.TryReceive()
	assert.ErrorIs(t, err, ErrClosed)
}

var (
	_ Transport = (*Stream)(nil)
	_ Transport = (*Ethernet)(nil)
	_ Transport = (*Mock)(nil)
)
