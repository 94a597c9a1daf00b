// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport moves raw controller frames between the host and a
// Whitebeet board.
//
// Every adapter runs one background goroutine that turns link-layer input
// into complete raw frames and pushes them onto a bounded Queue. The
// framing engine polls the queue without blocking and decodes the frames
// itself, so checksum failures are visible to it.
package transport

import "errors"

// ErrClosed is returned once a transport has been shut down or its link
// failed and every queued frame has been consumed
var ErrClosed = errors.New("transport closed")

// DefaultQueueSize bounds the number of received frames waiting for the
// engine
const DefaultQueueSize = 256

// Transport is a byte-oriented link carrying complete frames
type Transport interface {
	// Send writes one encoded frame
	Send(frame []byte) error

	// TryReceive returns the next raw frame without blocking. It returns
	// nil, nil when nothing is pending and ErrClosed once the link is
	// gone and drained.
	TryReceive() ([]byte, error)

	// HasPending reports whether TryReceive would return a frame
	HasPending() bool

	// Shutdown stops the background reader and releases the link
	Shutdown() error
}
