// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded multi-producer single-consumer frame queue. Producers
// block while it is full; the consumer never blocks.
type Queue struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	pushed    atomic.Uint64
}

// NewQueue creates a queue holding at most size frames
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		frames: make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

// Push appends a frame. It returns false if the queue was closed before
// the frame could be queued.
func (q *Queue) Push(frame []byte) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.frames <- frame:
		q.pushed.Add(1)
		return true
	case <-q.closed:
		return false
	}
}

// TryPop returns the oldest frame, nil, nil when the queue is empty, or
// ErrClosed when it is closed and empty
func (q *Queue) TryPop() ([]byte, error) {
	select {
	case frame := <-q.frames:
		return frame, nil
	default:
	}
	select {
	case <-q.closed:
		return nil, ErrClosed
	default:
		return nil, nil
	}
}

// Len returns the number of queued frames
func (q *Queue) Len() int {
	return len(q.frames)
}

// Pushed returns the number of frames queued since creation
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Close stops accepting frames. Frames already queued can still be
// popped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed reports whether Close was called
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
