// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides the simplified physical models driven by a charging
// session: the battery of an EV and the power stage of an EVSE.
//
// Neither model is accurate. They exist so that the session controller has
// plausible present values to report and limits to check.
package sim

import (
	"sync"
	"time"
)

// Clock supplies the current time to the models
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock
var SystemClock Clock = systemClock{}

// ManualClock only moves when told to. The zero value starts at the zero
// time.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock stopped at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
