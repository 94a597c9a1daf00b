// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"fmt"
	"time"
)

// Decode parses a single raw frame.
//
// The start marker, the declared length, the end marker and the checksum are
// all verified. Bytes following the end marker are ignored, which allows
// padded link-layer payloads to be decoded directly.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) == 0 {
		return nil, ErrTruncated
	}
	if raw[0] != StartOfFrame {
		return nil, ErrStartMarker
	}
	if len(raw) < Overhead {
		return nil, ErrTruncated
	}

	length := int(raw[4])<<8 | int(raw[5])
	total := Overhead + length
	if len(raw) < total {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(raw), total)
	}
	if raw[total-1] != EndOfFrame {
		return nil, ErrEndMarker
	}

	frame := make([]byte, total)
	copy(frame, raw[:total])

	received := frame[total-TrailerSize]
	if !isWildcardChecksum(received) {
		expected := frameChecksum(frame)
		if expected != received {
			return nil, &ChecksumError{Expected: expected, Received: received, Raw: frame}
		}
	}

	payload := make([]byte, length)
	copy(payload, frame[HeaderSize:HeaderSize+length])

	return &Frame{
		moduleID:  frame[1],
		subID:     frame[2],
		requestID: frame[3],
		payload:   payload,
		checksum:  received,
		timestamp: time.Now(),
	}, nil
}

// Decoder implements a streaming frame decoder for byte-oriented links.
// Bytes outside a frame are skipped until the next start marker.
type Decoder struct {
	state  int
	buffer []byte
	length int
}

// NewDecoder creates a new streaming decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateIdle,
		buffer: make([]byte, 0, 256),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.length = 0
}

// GetRawBytes returns the bytes accumulated for the frame in progress
func (d *Decoder) GetRawBytes() []byte {
	return d.buffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if a completed frame fails validation.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	raw := d.CollectByte(b)
	if raw == nil {
		return nil, nil
	}
	return Decode(raw)
}

// CollectByte advances the state machine by one byte without validating
// the result. Once the declared length has been received a copy of the raw
// frame is returned and the decoder is reset.
func (d *Decoder) CollectByte(b byte) []byte {
	switch d.state {
	case stateIdle:
		if b == StartOfFrame {
			d.buffer = append(d.buffer[:0], b)
			d.state = stateHeader
		}
		return nil

	case stateHeader:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) < HeaderSize {
			return nil
		}
		d.length = int(d.buffer[4])<<8 | int(d.buffer[5])
		if d.length == 0 {
			d.state = stateTrailer
		} else {
			d.state = statePayload
		}
		return nil

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) == HeaderSize+d.length {
			d.state = stateTrailer
		}
		return nil

	case stateTrailer:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) < Overhead+d.length {
			return nil
		}
		raw := make([]byte, len(d.buffer))
		copy(raw, d.buffer)
		d.Reset()
		return raw

	default:
		d.Reset()
		return nil
	}
}

// Feed runs every byte of data through the decoder. Completed frames are
// returned in order; frames that fail validation are reported through
// onError when it is non-nil.
func (d *Decoder) Feed(data []byte, onError func(error)) []*Frame {
	var frames []*Frame
	for _, b := range data {
		frame, err := d.DecodeByte(b)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}
