// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

import (
	"encoding/binary"
	"fmt"
)

var order = binary.BigEndian

// Reader consumes a payload front to back. The first underrun is sticky:
// later reads return zero values and Err and Finalize report it.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader returns a reader over data
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// take returns the next n bytes or nil after recording an underrun
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrPayloadUnderrun, n, r.pos, len(r.data)-r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) Uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) Int8() int8 {
	return int8(r.Uint8())
}

func (r *Reader) Uint16() uint16 {
	if b := r.take(2); b != nil {
		return order.Uint16(b)
	}
	return 0
}

func (r *Reader) Int16() int16 {
	return int16(r.Uint16())
}

func (r *Reader) Uint32() uint32 {
	if b := r.take(4); b != nil {
		return order.Uint32(b)
	}
	return 0
}

func (r *Reader) Uint64() uint64 {
	if b := r.take(8); b != nil {
		return order.Uint64(b)
	}
	return 0
}

// Bool reads one byte and reports whether it equals 1
func (r *Reader) Bool() bool {
	return r.Uint8() == 1
}

// Present reads a presence flag preceding an optional field
func (r *Reader) Present() bool {
	return r.Uint8() != 0
}

func (r *Reader) Quantity() Quantity {
	b := r.take(QuantitySize)
	if b == nil {
		return Quantity{}
	}
	return Quantity{Mantissa: int16(order.Uint16(b)), Exponent: int8(b[2])}
}

// OptionalQuantity reads a presence flag and, when set, a quantity
func (r *Reader) OptionalQuantity() *Quantity {
	if !r.Present() {
		return nil
	}
	q := r.Quantity()
	return &q
}

// OptionalUint8 reads a presence flag and, when set, one byte
func (r *Reader) OptionalUint8() *uint8 {
	if !r.Present() {
		return nil
	}
	v := r.Uint8()
	return &v
}

// Bytes returns a copy of the next n bytes
func (r *Reader) Bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Bytes8 reads a 1 byte length followed by that many bytes
func (r *Reader) Bytes8() []byte {
	return r.Bytes(int(r.Uint8()))
}

// Bytes16 reads a 2 byte length followed by that many bytes
func (r *Reader) Bytes16() []byte {
	return r.Bytes(int(r.Uint16()))
}

// String8 reads a 1 byte length prefixed UTF-8 string
func (r *Reader) String8() string {
	return string(r.Bytes8())
}

// Remaining returns the number of unread bytes
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Err returns the first underrun, if any
func (r *Reader) Err() error {
	return r.err
}

// Finalize checks that the payload was consumed exactly
func (r *Reader) Finalize() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.data) {
		return &OverrunError{Read: r.pos, Length: len(r.data)}
	}
	return nil
}
