// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

// Writer appends big-endian fields to a payload. Callers validate before
// writing, the writer itself never fails.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty writer
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) Uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Uint16(v uint16) {
	w.buf = order.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	w.buf = order.AppendUint32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	w.buf = order.AppendUint64(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

func (w *Writer) Quantity(q Quantity) {
	w.buf = append(w.buf, EncodeQuantity(q)...)
}

// OptionalQuantity writes a presence flag followed by q when it is set
func (w *Writer) OptionalQuantity(q *Quantity) {
	if q == nil {
		w.Uint8(0)
		return
	}
	w.Uint8(1)
	w.Quantity(*q)
}

// OptionalUint8 writes a presence flag followed by v when it is set
func (w *Writer) OptionalUint8(v *uint8) {
	if v == nil {
		w.Uint8(0)
		return
	}
	w.Uint8(1)
	w.Uint8(*v)
}

func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes8 writes a 1 byte length followed by b
func (w *Writer) Bytes8(b []byte) {
	w.Uint8(uint8(len(b)))
	w.Raw(b)
}

// Bytes16 writes a 2 byte length followed by b
func (w *Writer) Bytes16(b []byte) {
	w.Uint16(uint16(len(b)))
	w.Raw(b)
}

// String8 writes a 1 byte length prefixed string
func (w *Writer) String8(s string) {
	w.Bytes8([]byte(s))
}

// Bytes returns the accumulated payload
func (w *Writer) Bytes() []byte {
	return w.buf
}
