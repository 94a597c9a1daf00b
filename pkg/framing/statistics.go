// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Receive counters
	TotalFrames      uint64
	ValidFrames      uint64
	ChecksumErrors   uint64
	DecodeErrors     uint64
	Notifications    uint64
	ErrorFrames      uint64
	MalformedFrames  uint64
	UnknownFrames    uint64
	LengthMismatches uint64

	// Engine counters
	FramesSent       uint64
	BusyRetries      uint64
	Timeouts         uint64
	BacklogHighWater int

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a received frame and its errors
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++

	if decodeErr != nil {
		var checksumErr *ChecksumError
		if errors.As(decodeErr, &checksumErr) {
			s.ChecksumErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if frame != nil && frame.IsNotification() {
		s.Notifications++
	}

	if len(validationErrors) > 0 {
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyErrorFrame:
				s.ErrorFrames++
			case AnomalyUnknownModule, AnomalyUnknownSub:
				s.UnknownFrames++
			case AnomalyLengthMismatch:
				s.LengthMismatches++
				s.MalformedFrames++
			case AnomalyRequestID:
				s.MalformedFrames++
			}
		}
	} else {
		s.ValidFrames++
	}

	s.LastUpdateTime = time.Now()
}

// RecordSent counts a frame written to the transport
func (s *Statistics) RecordSent() {
	s.FramesSent++
}

// RecordBusy counts a busy reply that caused a resend
func (s *Statistics) RecordBusy() {
	s.BusyRetries++
}

// RecordTimeout counts a receive that expired without a match
func (s *Statistics) RecordTimeout() {
	s.Timeouts++
}

// RecordBacklog tracks the largest backlog seen
func (s *Statistics) RecordBacklog(size int) {
	if size > s.BacklogHighWater {
		s.BacklogHighWater = size
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.ChecksumErrors + s.DecodeErrors + s.MalformedFrames + s.ErrorFrames
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent, decodePercent, malformedPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		decodePercent = float64(s.DecodeErrors) * 100.0 / float64(s.TotalFrames)
		malformedPercent = float64(s.MalformedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.FramesSent)
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	result += fmt.Sprintf("Notifications:   %8d\n", s.Notifications)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, decodePercent)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, malformedPercent)
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
	}
	if s.ErrorFrames > 0 {
		result += fmt.Sprintf("Error Frames:    %8d\n", s.ErrorFrames)
	}
	if s.UnknownFrames > 0 {
		result += fmt.Sprintf("Unknown Frames:  %8d\n", s.UnknownFrames)
	}
	if s.BusyRetries > 0 {
		result += fmt.Sprintf("Busy Retries:    %8d\n", s.BusyRetries)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.BacklogHighWater > 0 {
		result += fmt.Sprintf("Backlog Peak:    %8d\n", s.BacklogHighWater)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
