// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// ============================================================
// Battery Tests
// ============================================================

func TestBattery_TickRespectsTimeStep(t *testing.T) {
	clock := NewManualClock(epoch)
	b := NewBattery(DefaultBatteryConfig(), clock)

	assert.True(t, b.Tick(), "first tick always steps")
	assert.False(t, b.Tick(), "no time has passed")

	clock.Advance(500 * time.Millisecond)
	assert.False(t, b.Tick())

	clock.Advance(500 * time.Millisecond)
	assert.True(t, b.Tick())
}

func TestBattery_ChargesOnlyWhileCharging(t *testing.T) {
	clock := NewManualClock(epoch)
	cfg := DefaultBatteryConfig()
	cfg.Capacity = 1000
	cfg.Level = 500
	cfg.TimeStep = time.Hour
	b := NewBattery(cfg, clock)
	b.SetPresent(100, 1)

	require.True(t, b.Tick())
	assert.Equal(t, 500.0, b.Level(), "not charging")

	b.SetCharging(true)
	clock.Advance(time.Hour)
	require.True(t, b.Tick())
	assert.InDelta(t, 600.0, b.Level(), 1e-9, "100 W for one hour")
	assert.Equal(t, uint8(60), b.SOC())
}

func TestBattery_ClampsAtCapacity(t *testing.T) {
	clock := NewManualClock(epoch)
	cfg := DefaultBatteryConfig()
	cfg.Capacity = 100
	cfg.Level = 99
	cfg.TimeStep = time.Hour
	b := NewBattery(cfg, clock)
	b.SetPresent(350, 50)
	b.SetCharging(true)

	clock.Advance(time.Hour)
	b.Tick()
	assert.Equal(t, 100.0, b.Level())
	assert.Equal(t, uint8(100), b.SOC())
	assert.True(t, b.Full())
}

func TestBattery_EnergyRequest(t *testing.T) {
	b := NewBattery(DefaultBatteryConfig(), nil)
	assert.Equal(t, uint8(50), b.SOC())
	assert.Equal(t, 25000.0, b.EnergyRequest())
}

func TestBattery_TargetCurrentClamped(t *testing.T) {
	b := NewBattery(DefaultBatteryConfig(), nil)
	b.SetTargetCurrent(1000)
	assert.Equal(t, 100.0, b.TargetCurrent())
	b.SetTargetCurrent(-5)
	assert.Equal(t, 0.0, b.TargetCurrent())
}

func TestBattery_VoltageWindow(t *testing.T) {
	b := NewBattery(DefaultBatteryConfig(), nil)
	tests := []struct {
		v    float64
		want bool
	}{
		{339, false},
		{340, true},
		{350, true},
		{360, true},
		{361, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.VoltageInWindow(tt.v), "voltage %v", tt.v)
	}
}

func TestBatteryConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*BatteryConfig)
	}{
		{"zero capacity", func(c *BatteryConfig) { c.Capacity = 0 }},
		{"level above capacity", func(c *BatteryConfig) { c.Level = c.Capacity + 1 }},
		{"full soc above 100", func(c *BatteryConfig) { c.FullSOC = 101 }},
		{"target above max", func(c *BatteryConfig) { c.TargetVoltage = c.MaxVoltage + 1 }},
		{"zero time step", func(c *BatteryConfig) { c.TimeStep = 0 }},
	}

	cfg := DefaultBatteryConfig()
	require.NoError(t, cfg.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBatteryConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// ============================================================
// Charger Tests
// ============================================================

func TestCharger_RampsTowardsTarget(t *testing.T) {
	clock := NewManualClock(epoch)
	c := NewCharger(DefaultChargerConfig(), clock)
	c.Start()
	require.True(t, c.SetTargetVoltage(350))
	require.True(t, c.SetTargetCurrent(50))

	clock.Advance(100 * time.Millisecond)
	assert.InDelta(t, 50.0, c.PresentVoltage(), 1e-9, "0.5 V/ms for 100 ms")
	assert.InDelta(t, 5.0, c.PresentCurrent(), 1e-9, "0.05 A/ms for 100 ms")

	clock.Advance(time.Second)
	assert.Equal(t, 350.0, c.PresentVoltage(), "never overshoots the target")
	assert.Equal(t, 50.0, c.PresentCurrent())
}

func TestCharger_StopRampsDown(t *testing.T) {
	clock := NewManualClock(epoch)
	c := NewCharger(DefaultChargerConfig(), clock)
	c.Start()
	c.SetTargetVoltage(100)
	clock.Advance(time.Second)
	require.Equal(t, 100.0, c.PresentVoltage())

	c.Stop()
	assert.True(t, c.Stopped())
	clock.Advance(100 * time.Millisecond)
	assert.InDelta(t, 50.0, c.PresentVoltage(), 1e-9)
	clock.Advance(time.Second)
	assert.Equal(t, 0.0, c.PresentVoltage())
}

func TestCharger_RefusesTargetsAboveLimits(t *testing.T) {
	c := NewCharger(DefaultChargerConfig(), nil)
	assert.False(t, c.SetTargetVoltage(401))
	assert.False(t, c.SetTargetCurrent(101))
	assert.True(t, c.SetTargetVoltage(400))
}

func TestCharger_LimitChecks(t *testing.T) {
	c := NewCharger(DefaultChargerConfig(), nil)
	assert.True(t, c.VoltageLimitExceeded(450))
	assert.False(t, c.VoltageLimitExceeded(300))
	assert.True(t, c.CurrentLimitExceeded(120))
	assert.True(t, c.PowerLimitExceeded(30000))
	assert.False(t, c.PowerLimitExceeded(25000))
}

func TestChargerConfig_Validate(t *testing.T) {
	cfg := DefaultChargerConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxPower = 0
	assert.Error(t, cfg.Validate())
}
