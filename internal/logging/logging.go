// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging owns the slog configuration of the whitebeet command.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Thermoquad/whitebeet/internal/config"
)

// Manager owns the logger configuration and the optional log file
type Manager struct {
	mu     sync.RWMutex
	out    io.Writer
	logger *slog.Logger
	file   *os.File
}

// NewManager logs at info level to stderr until Configure is called
func NewManager() *Manager {
	return newManager(os.Stderr)
}

func newManager(out io.Writer) *Manager {
	m := &Manager{out: out}
	m.logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return m
}

// Configure replaces the handler and installs it as the slog default. A
// log file, when set, receives a copy of every record.
func (m *Manager) Configure(cfg config.LoggingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	writer := m.out
	if cfg.File != "" {
		file, err := os.OpenFile(filepath.Clean(cfg.File), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		m.file = file
		writer = newFanoutWriter(m.out, file)
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(writer, opts)
	case "text", "":
		h = slog.NewTextHandler(writer, opts)
	default:
		return fmt.Errorf("unsupported log format: %q", cfg.Format)
	}
	m.logger = slog.New(h)
	slog.SetDefault(m.logger)

	return nil
}

// Logger returns a child logger tagged with component
func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

// Close closes the log file, if any
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return err
		}
		m.file = nil
	}

	return nil
}

// ParseLevel accepts debug, info, warn and error in any case
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// fanoutWriter succeeds when at least one destination took the write, so
// a broken terminal does not silence the log file
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}

	return &fanoutWriter{writers: filtered}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	var (
		wroteAny bool
		firstErr error
	)

	for _, dst := range w.writers {
		n, err := dst.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		wroteAny = true
	}

	if wroteAny {
		return len(p), nil
	}
	if firstErr != nil {
		return 0, firstErr
	}

	return len(p), nil
}
