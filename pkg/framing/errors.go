// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"errors"
	"fmt"
)

var (
	ErrStartMarker     = errors.New("frame does not begin with start marker")
	ErrEndMarker       = errors.New("frame does not end with end marker")
	ErrTruncated       = errors.New("frame shorter than its declared length")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")
)

// ChecksumError reports a frame whose checksum did not verify. The raw
// frame is kept for diagnostics and is never corrected.
type ChecksumError struct {
	Expected uint8
	Received uint8
	Raw      []byte
}

// Error implements the error interface
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X\n%s",
		e.Expected, e.Received, FormatHex(e.Raw))
}
