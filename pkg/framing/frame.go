// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import "time"

// Frame represents a decoded controller frame
type Frame struct {
	moduleID  uint8
	subID     uint8
	requestID uint8
	payload   []byte
	checksum  uint8
	timestamp time.Time
}

// NewFrame creates a new frame with the given fields. The checksum is
// computed when the frame is encoded.
func NewFrame(moduleID, subID, requestID uint8, payload []byte) *Frame {
	return &Frame{
		moduleID:  moduleID,
		subID:     subID,
		requestID: requestID,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// ModuleID returns the frame's module id
func (f *Frame) ModuleID() uint8 {
	return f.moduleID
}

// SubID returns the frame's sub id
func (f *Frame) SubID() uint8 {
	return f.subID
}

// RequestID returns the frame's request id
func (f *Frame) RequestID() uint8 {
	return f.requestID
}

// Payload returns the frame's payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// Length returns the payload length
func (f *Frame) Length() int {
	return len(f.payload)
}

// Checksum returns the checksum carried by the frame
func (f *Frame) Checksum() uint8 {
	return f.checksum
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsNotification reports whether the frame is an asynchronous notification
func (f *Frame) IsNotification() bool {
	return f.subID > NotificationThreshold
}

// IsError reports whether the frame was sent by the framing error module
func (f *Frame) IsError() bool {
	return f.moduleID == ModuleError
}

// IsBusy reports whether the frame is a busy ack
func (f *Frame) IsBusy() bool {
	return len(f.payload) == 1 && f.payload[0] == StatusBusy
}
