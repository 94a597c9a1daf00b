// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import "sync"

// mockQueueSize keeps scripted replies from ever blocking a handler
const mockQueueSize = 4096

// Responder produces the raw frames a scripted controller returns for one
// sent frame
type Responder func(frame []byte) [][]byte

// Mock is an in-memory transport driven by a Responder
type Mock struct {
	mu        sync.Mutex
	queue     *Queue
	sent      [][]byte
	responder Responder
}

// NewMock returns a mock transport. responder may be nil.
func NewMock(responder Responder) *Mock {
	return &Mock{
		queue:     NewQueue(mockQueueSize),
		responder: responder,
	}
}

// SetResponder replaces the responder
func (m *Mock) SetResponder(responder Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = responder
}

// Inject queues frames as if the controller had sent them
func (m *Mock) Inject(frames ...[]byte) {
	for _, f := range frames {
		m.queue.Push(f)
	}
}

// Sent returns a copy of every frame sent so far
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// Send records the frame and queues the responder's replies
func (m *Mock) Send(frame []byte) error {
	if m.queue.Closed() {
		return ErrClosed
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)

	m.mu.Lock()
	m.sent = append(m.sent, buf)
	responder := m.responder
	m.mu.Unlock()

	if responder != nil {
		m.Inject(responder(buf)...)
	}
	return nil
}

// TryReceive returns the next queued frame without blocking
func (m *Mock) TryReceive() ([]byte, error) {
	return m.queue.TryPop()
}

// HasPending reports whether a frame is queued
func (m *Mock) HasPending() bool {
	return m.queue.Len() > 0
}

// Shutdown closes the mock. Queued frames remain readable.
func (m *Mock) Shutdown() error {
	m.queue.Close()
	return nil
}
