// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"math"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/sim"
)

// dcViolation returns why the EVSE output must not charge the battery,
// or "" when it may
func dcViolation(b *sim.Battery, voltage, current float64) string {
	cfg := b.Config()
	switch {
	case voltage >= cfg.MaxVoltage:
		return fmt.Sprintf("present voltage %.1f V reaches maximum %.1f V", voltage, cfg.MaxVoltage)
	case !b.VoltageInWindow(voltage):
		return fmt.Sprintf("present voltage %.1f V outside %.1f±%.1f V", voltage, cfg.TargetVoltage, cfg.TargetVoltageDelta)
	case current >= cfg.MaxCurrent:
		return fmt.Sprintf("present current %.1f A reaches maximum %.1f A", current, cfg.MaxCurrent)
	case voltage*current >= cfg.MaxPower:
		return fmt.Sprintf("present power %.0f W reaches maximum %.0f W", voltage*current, cfg.MaxPower)
	}
	return ""
}

// acViolation is dcViolation for the AC supply. RCD set means the
// residual current device tripped.
func acViolation(b *sim.Battery, voltage, current float64, rcd bool) string {
	cfg := b.Config()
	switch {
	case rcd:
		return "residual current device tripped"
	case voltage >= cfg.MaxVoltageAC:
		return fmt.Sprintf("nominal voltage %.1f V reaches AC maximum %.1f V", voltage, cfg.MaxVoltageAC)
	case current >= cfg.MaxCurrentAC:
		return fmt.Sprintf("current %.1f A reaches AC maximum %.1f A", current, cfg.MaxCurrentAC)
	case current < cfg.MinCurrentAC:
		return fmt.Sprintf("current %.1f A below AC minimum %.1f A", current, cfg.MinCurrentAC)
	case voltage*current >= cfg.MaxPower:
		return fmt.Sprintf("power %.0f W reaches maximum %.0f W", voltage*current, cfg.MaxPower)
	}
	return ""
}

// schedule follows the power limits received from the EVSE. Entry start
// offsets are relative to the moment the schedule arrived.
type schedule struct {
	entries []message.ProfileEntry
	anchor  time.Time
	index   int
}

func newSchedule(entries []message.ProfileEntry, now time.Time) *schedule {
	return &schedule{entries: entries, anchor: now}
}

// at returns the power limit in W in effect at now and whether the
// schedule still has one
func (s *schedule) at(now time.Time) (float64, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	elapsed := now.Sub(s.anchor)
	for s.index+1 < len(s.entries) && elapsed >= seconds(s.entries[s.index+1].Start) {
		s.index++
	}
	e := s.entries[s.index]
	if s.index == len(s.entries)-1 && elapsed >= seconds(e.Start)+seconds(e.Interval) {
		return 0, false
	}
	return e.Power.Value(), true
}

func seconds(s uint32) time.Duration {
	return time.Duration(s) * time.Second
}

// scheduledCurrent is the target current the battery may draw under a
// power limit: the configured target, lowered when the limit requires it
func scheduledCurrent(cfg sim.BatteryConfig, power float64) float64 {
	limit := math.Min(power, cfg.MaxPower) / cfg.TargetVoltage
	return math.Min(cfg.TargetCurrent, limit)
}
