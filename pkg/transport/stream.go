// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Thermoquad/whitebeet/pkg/framing"
)

// Stream carries frames over any byte stream. A background goroutine feeds
// every byte through a streaming decoder and queues each complete raw
// frame; bytes outside a frame are skipped.
type Stream struct {
	name  string
	conn  io.ReadWriteCloser
	queue *Queue
	log   *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	errMu   sync.Mutex
	readErr error
}

// NewStream starts reading from conn. name identifies the link in logs.
func NewStream(name string, conn io.ReadWriteCloser, queueSize int) *Stream {
	s := &Stream{
		name:  name,
		conn:  conn,
		queue: NewQueue(queueSize),
		log:   transportLogger(name),
		done:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer s.queue.Close()

	decoder := framing.NewDecoder()
	buf := make([]byte, 1024)
	for {
		n, err := s.conn.Read(buf)
		for _, b := range buf[:n] {
			if raw := decoder.CollectByte(b); raw != nil {
				if !s.queue.Push(raw) {
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.queue.Closed() {
				s.log.Warn("read failed", "error", err)
			}
			s.errMu.Lock()
			s.readErr = err
			s.errMu.Unlock()
			return
		}
		if n == 0 && s.queue.Closed() {
			return
		}
	}
}

// Send writes one encoded frame
func (s *Stream) Send(frame []byte) error {
	if s.queue.Closed() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for written := 0; written < len(frame); {
		n, err := s.conn.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("%s write: %w", s.name, err)
		}
		written += n
	}
	return nil
}

// TryReceive returns the next raw frame without blocking
func (s *Stream) TryReceive() ([]byte, error) {
	return s.queue.TryPop()
}

// HasPending reports whether a frame is queued
func (s *Stream) HasPending() bool {
	return s.queue.Len() > 0
}

// Err returns the error that stopped the reader, if any
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// Shutdown closes the connection and waits for the reader to exit
func (s *Stream) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		s.queue.Close()
		err = s.conn.Close()
		<-s.done
		s.log.Debug("closed")
	})
	return err
}

func transportLogger(name string, attrs ...any) *slog.Logger {
	logger := slog.With("component", "transport", "transport", name)
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
