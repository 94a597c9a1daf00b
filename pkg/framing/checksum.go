// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

// Checksum computes the frame checksum over data.
//
// data is the complete frame with the checksum slot set to zero, markers
// included. The byte sum is folded to 16 bits, then twice to 8 bits, and
// one's-complemented unless the folded sum is already 0xFF.
func Checksum(data []byte) byte {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	sum = (sum & 0xFFFF) + (sum >> 16)
	sum = (sum & 0xFF) + (sum >> 8)
	sum = (sum & 0xFF) + (sum >> 8)
	if sum != 0xFF {
		sum = ^sum & 0xFF
	}
	return byte(sum)
}

// frameChecksum computes the checksum of an encoded frame, ignoring
// whatever currently sits in its checksum slot.
func frameChecksum(raw []byte) byte {
	idx := len(raw) - TrailerSize
	saved := raw[idx]
	raw[idx] = 0x00
	sum := Checksum(raw)
	raw[idx] = saved
	return sum
}

// isWildcardChecksum reports whether a received checksum is accepted
// without verification.
func isWildcardChecksum(c byte) bool {
	return c == ChecksumWildcard
}
