// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"fmt"
	"math"
	"time"
)

// BatteryConfig describes an EV battery and the limits of its charging
// circuitry. Energies are in Wh, voltages in V, currents in A, powers in W.
type BatteryConfig struct {
	Capacity float64 `yaml:"capacity"`
	Level    float64 `yaml:"level"`

	MaxVoltage float64 `yaml:"max_voltage"`
	MaxCurrent float64 `yaml:"max_current"`
	MaxPower   float64 `yaml:"max_power"`

	TargetVoltage      float64 `yaml:"target_voltage"`
	TargetCurrent      float64 `yaml:"target_current"`
	TargetVoltageDelta float64 `yaml:"target_voltage_delta"`

	FullSOC uint8 `yaml:"full_soc"`
	BulkSOC uint8 `yaml:"bulk_soc"`

	MaxVoltageAC float64 `yaml:"max_voltage_ac"`
	MaxCurrentAC float64 `yaml:"max_current_ac"`
	MinCurrentAC float64 `yaml:"min_current_ac"`

	TimeStep time.Duration `yaml:"time_step"`
}

// DefaultBatteryConfig returns a half charged 50 kWh battery
func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{
		Capacity:           50000,
		Level:              25000,
		MaxVoltage:         400,
		MaxCurrent:         100,
		MaxPower:           40000,
		TargetVoltage:      350,
		TargetCurrent:      50,
		TargetVoltageDelta: 10,
		FullSOC:            100,
		BulkSOC:            80,
		MaxVoltageAC:       250,
		MaxCurrentAC:       32,
		MinCurrentAC:       6,
		TimeStep:           time.Second,
	}
}

// Validate checks the configuration for values the model cannot work with
func (c *BatteryConfig) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("battery capacity must be positive, got %v", c.Capacity)
	case c.Level < 0 || c.Level > c.Capacity:
		return fmt.Errorf("battery level %v out of range 0..%v", c.Level, c.Capacity)
	case c.FullSOC > 100 || c.BulkSOC > 100:
		return fmt.Errorf("battery full_soc and bulk_soc must not exceed 100")
	case c.TargetVoltage <= 0:
		return fmt.Errorf("battery target voltage must be positive, got %v", c.TargetVoltage)
	case c.TargetVoltage > c.MaxVoltage:
		return fmt.Errorf("battery target voltage %v exceeds max voltage %v", c.TargetVoltage, c.MaxVoltage)
	case c.TimeStep <= 0:
		return fmt.Errorf("battery time step must be positive, got %v", c.TimeStep)
	}
	return nil
}

// Battery integrates the power delivered by the EVSE while charging.
//
// The present voltage and current are written by whoever observes the EVSE,
// the targets by the session controller. A Battery is not safe for
// concurrent use.
type Battery struct {
	cfg   BatteryConfig
	clock Clock

	level    float64
	full     bool
	charging bool

	presentVoltage float64
	presentCurrent float64
	targetCurrent  float64

	lastTick time.Time
}

// NewBattery creates a battery from cfg. A nil clock uses the wall clock.
func NewBattery(cfg BatteryConfig, clock Clock) *Battery {
	if clock == nil {
		clock = SystemClock
	}
	return &Battery{
		cfg:           cfg,
		clock:         clock,
		level:         cfg.Level,
		full:          cfg.Level >= cfg.Capacity,
		targetCurrent: cfg.TargetCurrent,
	}
}

// Config returns the configuration the battery was created with
func (b *Battery) Config() BatteryConfig {
	return b.cfg
}

// Tick advances the simulation when at least one time step has passed
// since the previous step and reports whether it did
func (b *Battery) Tick() bool {
	now := b.clock.Now()
	if !b.lastTick.IsZero() && now.Sub(b.lastTick) < b.cfg.TimeStep {
		return false
	}
	b.lastTick = now
	if b.charging {
		b.level += b.presentVoltage * b.presentCurrent * b.cfg.TimeStep.Hours()
		if b.level >= b.cfg.Capacity {
			b.level = b.cfg.Capacity
			b.full = true
		}
	}
	return true
}

// SOC returns the state of charge in percent
func (b *Battery) SOC() uint8 {
	soc := math.Floor(b.level / b.cfg.Capacity * 100)
	return uint8(math.Max(0, math.Min(100, soc)))
}

// Level returns the stored energy in Wh
func (b *Battery) Level() float64 {
	return b.level
}

// Full reports whether the battery reached its capacity
func (b *Battery) Full() bool {
	return b.full
}

// EnergyRequest returns the energy in Wh the session asks for, scaled by
// the state of charge
func (b *Battery) EnergyRequest() float64 {
	return math.Floor(b.cfg.Capacity * float64(b.SOC()) / 100)
}

// Charging reports whether energy is flowing into the battery
func (b *Battery) Charging() bool {
	return b.charging
}

// SetCharging starts or stops the energy flow
func (b *Battery) SetCharging(charging bool) {
	b.charging = charging
}

// SetPresent records the voltage and current the EVSE reports
func (b *Battery) SetPresent(voltage, current float64) {
	b.presentVoltage = voltage
	b.presentCurrent = current
}

// PresentVoltage returns the last reported EVSE voltage
func (b *Battery) PresentVoltage() float64 {
	return b.presentVoltage
}

// PresentCurrent returns the last reported EVSE current
func (b *Battery) PresentCurrent() float64 {
	return b.presentCurrent
}

// TargetVoltage returns the voltage the EV asks for
func (b *Battery) TargetVoltage() float64 {
	return b.cfg.TargetVoltage
}

// TargetCurrent returns the current the EV asks for
func (b *Battery) TargetCurrent() float64 {
	return b.targetCurrent
}

// SetTargetCurrent changes the requested current, clamped to 0..MaxCurrent
func (b *Battery) SetTargetCurrent(current float64) {
	b.targetCurrent = math.Max(0, math.Min(current, b.cfg.MaxCurrent))
}

// VoltageInWindow reports whether v lies within the target voltage
// window
func (b *Battery) VoltageInWindow(v float64) bool {
	return v >= b.cfg.TargetVoltage-b.cfg.TargetVoltageDelta &&
		v <= b.cfg.TargetVoltage+b.cfg.TargetVoltageDelta
}
