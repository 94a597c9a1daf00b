// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"fmt"
	"math"
	"time"
)

// ChargerConfig describes the power stage of an EVSE. The deltas are the
// regulation slopes in V/ms and A/ms.
type ChargerConfig struct {
	DeltaVoltage float64 `yaml:"delta_voltage"`
	DeltaCurrent float64 `yaml:"delta_current"`

	MinVoltage float64 `yaml:"min_voltage"`
	MaxVoltage float64 `yaml:"max_voltage"`
	MinCurrent float64 `yaml:"min_current"`
	MaxCurrent float64 `yaml:"max_current"`
	MaxPower   float64 `yaml:"max_power"`
}

// DefaultChargerConfig returns a 400 V, 100 A, 25 kW charger
func DefaultChargerConfig() ChargerConfig {
	return ChargerConfig{
		DeltaVoltage: 0.5,
		DeltaCurrent: 0.05,
		MinVoltage:   0,
		MaxVoltage:   400,
		MinCurrent:   0,
		MaxCurrent:   100,
		MaxPower:     25000,
	}
}

// Validate checks the configuration for values the model cannot work with
func (c *ChargerConfig) Validate() error {
	switch {
	case c.DeltaVoltage <= 0 || c.DeltaCurrent <= 0:
		return fmt.Errorf("charger regulation slopes must be positive")
	case c.MaxVoltage <= 0 || c.MinVoltage > c.MaxVoltage:
		return fmt.Errorf("charger voltage range %v..%v is invalid", c.MinVoltage, c.MaxVoltage)
	case c.MaxCurrent <= 0 || c.MinCurrent > c.MaxCurrent:
		return fmt.Errorf("charger current range %v..%v is invalid", c.MinCurrent, c.MaxCurrent)
	case c.MaxPower <= 0:
		return fmt.Errorf("charger max power must be positive, got %v", c.MaxPower)
	}
	return nil
}

// EVLimits are the limits an EV announced for the session
type EVLimits struct {
	MinVoltage float64
	MaxVoltage float64
	MinCurrent float64
	MaxCurrent float64
	MinPower   float64
	MaxPower   float64
}

// Charger ramps its output towards the targets requested by the EV. The
// present values are computed lazily from the time elapsed since they were
// last read. A Charger is not safe for concurrent use.
type Charger struct {
	cfg   ChargerConfig
	clock Clock

	ev EVLimits

	targetVoltage float64
	targetCurrent float64
	stopped       bool

	presentVoltage float64
	presentCurrent float64
	lastVoltage    time.Time
	lastCurrent    time.Time
}

// NewCharger creates a stopped charger from cfg. A nil clock uses the wall
// clock.
func NewCharger(cfg ChargerConfig, clock Clock) *Charger {
	if clock == nil {
		clock = SystemClock
	}
	now := clock.Now()
	return &Charger{
		cfg:         cfg,
		clock:       clock,
		stopped:     true,
		lastVoltage: now,
		lastCurrent: now,
	}
}

// Config returns the configuration the charger was created with
func (c *Charger) Config() ChargerConfig {
	return c.cfg
}

// Start lets the output follow the EV targets
func (c *Charger) Start() {
	c.updateVoltage()
	c.updateCurrent()
	c.stopped = false
}

// Stop ramps the output down to zero and clears the targets
func (c *Charger) Stop() {
	c.updateVoltage()
	c.updateCurrent()
	c.targetVoltage = 0
	c.targetCurrent = 0
	c.stopped = true
}

// Stopped reports whether the charger is ramping down
func (c *Charger) Stopped() bool {
	return c.stopped
}

// SetEVLimits records the limits announced by the EV
func (c *Charger) SetEVLimits(l EVLimits) {
	c.ev = l
}

// EVLimits returns the limits announced by the EV
func (c *Charger) EVLimits() EVLimits {
	return c.ev
}

// SetTargetVoltage sets the voltage requested by the EV. Requests above the
// charger maximum are refused.
func (c *Charger) SetTargetVoltage(v float64) bool {
	if v > c.cfg.MaxVoltage {
		return false
	}
	c.updateVoltage()
	c.targetVoltage = v
	return true
}

// SetTargetCurrent sets the current requested by the EV. Requests above the
// charger maximum are refused.
func (c *Charger) SetTargetCurrent(i float64) bool {
	if i > c.cfg.MaxCurrent {
		return false
	}
	c.updateCurrent()
	c.targetCurrent = i
	return true
}

// PresentVoltage returns the output voltage now
func (c *Charger) PresentVoltage() float64 {
	c.updateVoltage()
	return c.presentVoltage
}

// PresentCurrent returns the output current now
func (c *Charger) PresentCurrent() float64 {
	c.updateCurrent()
	return c.presentCurrent
}

// VoltageLimitExceeded reports whether v is outside the charger range
func (c *Charger) VoltageLimitExceeded(v float64) bool {
	return v > c.cfg.MaxVoltage || v < c.cfg.MinVoltage
}

// CurrentLimitExceeded reports whether i is outside the charger range
func (c *Charger) CurrentLimitExceeded(i float64) bool {
	return i > c.cfg.MaxCurrent || i < c.cfg.MinCurrent
}

// PowerLimitExceeded reports whether p exceeds the charger maximum
func (c *Charger) PowerLimitExceeded(p float64) bool {
	return p > c.cfg.MaxPower
}

func (c *Charger) updateVoltage() {
	now := c.clock.Now()
	step := c.cfg.DeltaVoltage * float64(now.Sub(c.lastVoltage).Milliseconds())
	c.lastVoltage = now
	c.presentVoltage = ramp(c.presentVoltage, c.targetVoltage, step, c.cfg.MinVoltage, c.cfg.MaxVoltage, c.stopped)
}

func (c *Charger) updateCurrent() {
	now := c.clock.Now()
	step := c.cfg.DeltaCurrent * float64(now.Sub(c.lastCurrent).Milliseconds())
	c.lastCurrent = now
	c.presentCurrent = ramp(c.presentCurrent, c.targetCurrent, step, c.cfg.MinCurrent, c.cfg.MaxCurrent, c.stopped)
}

// ramp moves present by at most step towards target without leaving
// lo..hi. A stopped output falls towards zero.
func ramp(present, target, step, lo, hi float64, stopped bool) float64 {
	switch {
	case stopped:
		return math.Max(present-step, 0)
	case target > present:
		return math.Min(present+step, math.Min(hi, target))
	case target < present:
		return math.Max(present-step, math.Max(lo, target))
	default:
		return present
	}
}
