// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package trace records every frame crossing a controller link to a file
// of CBOR records, and reads such files back.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
)

// Record is one traced frame. Raw is the frame as it crossed the link,
// which may be malformed.
type Record struct {
	Time      time.Time        `cbor:"1,keyasint"`
	Direction engine.Direction `cbor:"2,keyasint"`
	Raw       []byte           `cbor:"3,keyasint"`
}

// Frame decodes the raw bytes of the record
func (r *Record) Frame() (*framing.Frame, error) {
	return framing.Decode(r.Raw)
}

// String formats the record for a terminal
func (r *Record) String() string {
	ts := r.Time.Format("15:04:05.000")
	f, err := r.Frame()
	if err != nil {
		return fmt.Sprintf("%s %s INVALID (%v) %s", ts, r.Direction, err, framing.FormatHex(r.Raw))
	}
	line := fmt.Sprintf("%s %s %s req=0x%02X len=%d", ts, r.Direction,
		framing.FormatSub(f.ModuleID(), f.SubID()), f.RequestID(), f.Length())
	if f.Length() > 0 {
		line += "  " + framing.FormatHex(f.Payload())
	}
	return line
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Writer appends records to a stream. It implements engine.Tracer and is
// safe for concurrent use. The first write error is kept and stops
// further writes.
type Writer struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	now    func() time.Time
	count  int
	err    error
}

// NewWriter writes records to w
func NewWriter(w io.Writer) *Writer {
	tw := &Writer{enc: encMode.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

// Create truncates or creates the file at path and writes records to it
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	return NewWriter(f), nil
}

// TraceFrame records raw. It implements engine.Tracer.
func (w *Writer) TraceFrame(dir engine.Direction, raw []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	rec := Record{Time: w.now(), Direction: dir, Raw: append([]byte(nil), raw...)}
	if err := w.enc.Encode(&rec); err != nil {
		w.err = fmt.Errorf("failed to write trace record: %w", err)
		return
	}
	w.count++
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Err returns the first write error
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close closes the underlying file, if any, and returns the first write
// error
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer != nil {
		if err := w.closer.Close(); err != nil && w.err == nil {
			w.err = err
		}
		w.closer = nil
	}
	return w.err
}

// Reader reads records in the order they were written
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads records from r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read trace record: %w", err)
	}
	return &rec, nil
}

// ReadFile returns every record of the trace file at path. Records read
// before a truncated tail are returned along with the error.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var records []Record
	r := NewReader(f)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, *rec)
	}
}
