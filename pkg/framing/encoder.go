// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import "fmt"

// Encode builds the wire representation of a frame.
// An empty payload is encoded with a zero length field.
func Encode(moduleID, subID, requestID uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, Overhead+len(payload))
	buf = append(buf, StartOfFrame, moduleID, subID, requestID,
		byte(len(payload)>>8), byte(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, 0x00, EndOfFrame)

	// Checksum slot is still zero here
	buf[len(buf)-TrailerSize] = Checksum(buf)
	return buf, nil
}

// EncodeFrame encodes f and records the computed checksum on it
func EncodeFrame(f *Frame) ([]byte, error) {
	raw, err := Encode(f.moduleID, f.subID, f.requestID, f.payload)
	if err != nil {
		return nil, err
	}
	f.checksum = raw[len(raw)-TrailerSize]
	return raw, nil
}
