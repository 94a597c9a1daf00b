// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/sim"
	"github.com/Thermoquad/whitebeet/pkg/whitebeet"
)

// Timing holds the delays and timeouts of a session. A zero PeerTimeout
// or IdleTimeout waits forever.
type Timing struct {
	SettleDelay      time.Duration `yaml:"settle_delay"`
	PeerPollInterval time.Duration `yaml:"peer_poll_interval"`
	PeerTimeout      time.Duration `yaml:"peer_timeout"`
	MatchDelay       time.Duration `yaml:"match_delay"`
	NotificationWait time.Duration `yaml:"notification_wait"`
	UpdateInterval   time.Duration `yaml:"update_interval"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
}

// DefaultTiming returns the delays the controller firmware expects. SLAC
// needs up to two seconds after start before it answers.
func DefaultTiming() Timing {
	return Timing{
		SettleDelay:      2 * time.Second,
		PeerPollInterval: 100 * time.Millisecond,
		MatchDelay:       5 * time.Second,
		NotificationWait: whitebeet.EVSENotificationPollWait,
		UpdateInterval:   250 * time.Millisecond,
		IdleTimeout:      whitebeet.EVSENotificationWait,
	}
}

// Validate rejects negative durations and busy loops
func (t *Timing) Validate() error {
	for name, d := range map[string]time.Duration{
		"settle_delay":      t.SettleDelay,
		"peer_timeout":      t.PeerTimeout,
		"match_delay":       t.MatchDelay,
		"notification_wait": t.NotificationWait,
		"idle_timeout":      t.IdleTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, d)
		}
	}
	if t.PeerPollInterval <= 0 {
		return fmt.Errorf("peer_poll_interval must be positive, got %v", t.PeerPollInterval)
	}
	if t.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive, got %v", t.UpdateInterval)
	}
	return nil
}

// EV parameters the controller needs that the battery does not model
const (
	evMinVoltage = 220
	evMinCurrent = 1
)

// DefaultDepartureTime is the departure time announced by the EV, in
// seconds from now
const DefaultDepartureTime = 1000000

// EVConfig configures an EV session
type EVConfig struct {
	EVID                []byte
	Protocols           []message.Protocol
	PaymentMethods      []message.PaymentMethod
	EnergyTransferModes []message.EnergyTransferMode
	DepartureTime       uint32
	PortMirror          bool

	Battery sim.BatteryConfig
	Timing  Timing
}

// DefaultEVConfig returns an EV offering DC extended and AC single phase
// charging over both protocols
func DefaultEVConfig() EVConfig {
	return EVConfig{
		EVID:                []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		Protocols:           []message.Protocol{message.ProtocolDIN70121, message.ProtocolISO15118},
		PaymentMethods:      []message.PaymentMethod{message.PaymentExternal},
		EnergyTransferModes: []message.EnergyTransferMode{message.ModeDCExtended, message.ModeACSinglePhase},
		DepartureTime:       DefaultDepartureTime,
		Battery:             sim.DefaultBatteryConfig(),
		Timing:              DefaultTiming(),
	}
}

// Validate checks the configuration before any command is sent
func (c *EVConfig) Validate() error {
	if err := c.Battery.Validate(); err != nil {
		return err
	}
	if err := c.Timing.Validate(); err != nil {
		return err
	}
	wire := message.EVConfig{
		EVID:                c.EVID,
		Protocols:           c.Protocols,
		PaymentMethods:      c.PaymentMethods,
		EnergyTransferModes: c.EnergyTransferModes,
	}
	return wire.Validate()
}

// EVSEConfig configures an EVSE session
type EVSEConfig struct {
	EVSEIDDIN           string
	EVSEIDISO           string
	Protocols           []message.Protocol
	PaymentMethods      []message.PaymentMethod
	EnergyTransferModes []message.EnergyTransferMode
	CertInstallSupport  bool
	CertUpdateSupport   bool
	SDP                 message.SDPConfig

	// Authorize is the answer given to every authorization request
	Authorize bool

	IsolationLevel    uint8
	PeakCurrentRipple float64
	RCD               bool
	NominalVoltageAC  float64
	MaxCurrentAC      float64

	// Schedule is offered to the EV. Empty means DefaultSchedule of the
	// charger power.
	Schedule []message.ScheduleEntry

	Charger sim.ChargerConfig
	Timing  Timing
}

// DefaultEVSEConfig returns a DC charger accepting every EV
func DefaultEVSEConfig() EVSEConfig {
	return EVSEConfig{
		EVSEIDDIN:           "49A80737A45678",
		EVSEIDISO:           "DE*ABC*E*00001*01",
		Protocols:           []message.Protocol{message.ProtocolDIN70121, message.ProtocolISO15118},
		PaymentMethods:      []message.PaymentMethod{message.PaymentExternal},
		EnergyTransferModes: []message.EnergyTransferMode{message.ModeDCCore, message.ModeDCExtended, message.ModeDCComboCore, message.ModeDCUnique},
		SDP:                 message.SDPConfig{AllowUnsecure: true, UnsecurePort: 50000},
		Authorize:           true,
		IsolationLevel:      1,
		PeakCurrentRipple:   2,
		NominalVoltageAC:    230,
		MaxCurrentAC:        32,
		Charger:             sim.DefaultChargerConfig(),
		Timing:              DefaultTiming(),
	}
}

// Validate checks the configuration before any command is sent
func (c *EVSEConfig) Validate() error {
	if err := c.Charger.Validate(); err != nil {
		return err
	}
	if err := c.Timing.Validate(); err != nil {
		return err
	}
	if c.IsolationLevel > 4 {
		return fmt.Errorf("isolation level %d out of range 0..4", c.IsolationLevel)
	}
	wire := message.EVSEConfig{
		EVSEIDDIN:           c.EVSEIDDIN,
		EVSEIDISO:           c.EVSEIDISO,
		Protocols:           c.Protocols,
		PaymentMethods:      c.PaymentMethods,
		EnergyTransferModes: c.EnergyTransferModes,
	}
	if err := wire.Validate(); err != nil {
		return err
	}
	return c.SDP.Validate()
}

// DefaultSchedule offers full power for half an hour, three quarters for
// the next half hour and half power for the rest of the day
func DefaultSchedule(maxPower float64) ([]message.ScheduleEntry, error) {
	var q quantities
	entries := []message.ScheduleEntry{
		{Start: 0, Interval: 1800, Power: q.of(maxPower)},
		{Start: 1800, Interval: 1800, Power: q.of(maxPower * 0.75)},
		{Start: 3600, Interval: 82800, Power: q.of(maxPower * 0.5)},
	}
	return entries, q.err
}

// quantities converts physical values for the wire and remembers the
// first value that could not be converted
type quantities struct {
	err error
}

func (q *quantities) of(v float64) message.Quantity {
	m, err := message.Float(v, 1)
	if err != nil && q.err == nil {
		q.err = err
	}
	return m
}

func (q *quantities) optional(v float64) *message.Quantity {
	m := q.of(v)
	return &m
}
