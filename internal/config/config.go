// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the settings of the whitebeet command. Files are
// YAML; JSON files load unchanged since YAML is a superset of JSON.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/session"
	"github.com/Thermoquad/whitebeet/pkg/sim"
)

// InterfaceType identifies the link to the controller
type InterfaceType string

const (
	InterfaceEthernet  InterfaceType = "eth"
	InterfaceSerial    InterfaceType = "serial"
	InterfaceWebSocket InterfaceType = "ws"
	InterfaceSPI       InterfaceType = "spi"
	InterfaceSim       InterfaceType = "sim"

	DefaultSerialBaud = 115200
)

// LoggingConfig defines runtime logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ConnectionConfig contains the parameters of every link type. Only the
// fields of Type are used.
type ConnectionConfig struct {
	Type        InterfaceType `yaml:"type"`
	Interface   string        `yaml:"interface"`
	MAC         string        `yaml:"mac"`
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	URL         string        `yaml:"url"`
	User        string        `yaml:"user"`
	NoSSLVerify bool          `yaml:"no_ssl_verify"`
}

// EVSection configures the EV role. Enumerations use their numeric codes.
type EVSection struct {
	EVID                string  `yaml:"evid"`
	Protocols           []uint8 `yaml:"protocols"`
	PaymentMethods      []uint8 `yaml:"payment_method"`
	EnergyTransferModes []uint8 `yaml:"energy_transfer_mode"`
	DepartureTime       uint32  `yaml:"departure_time"`
	PortMirror          bool    `yaml:"port_mirror"`
}

// SDPSection configures SECC discovery
type SDPSection struct {
	AllowUnsecure bool   `yaml:"allow_unsecure"`
	UnsecurePort  uint16 `yaml:"unsecure_port"`
	AllowSecure   bool   `yaml:"allow_secure"`
	SecurePort    uint16 `yaml:"secure_port"`
}

// ScheduleEntry is one interval of the offered schedule, power in W
type ScheduleEntry struct {
	Start    uint32  `yaml:"start"`
	Interval uint32  `yaml:"interval"`
	Power    float64 `yaml:"power"`
}

// EVSESection configures the EVSE role
type EVSESection struct {
	EVSEIDDIN           string          `yaml:"evse_id_din"`
	EVSEIDISO           string          `yaml:"evse_id_iso"`
	Protocols           []uint8         `yaml:"protocols"`
	PaymentMethods      []uint8         `yaml:"payment_method"`
	EnergyTransferModes []uint8         `yaml:"energy_transfer_mode"`
	CertInstallSupport  bool            `yaml:"cert_install_support"`
	CertUpdateSupport   bool            `yaml:"cert_update_support"`
	SDP                 SDPSection      `yaml:"sdp"`
	Authorize           bool            `yaml:"authorize"`
	IsolationLevel      uint8           `yaml:"isolation_level"`
	PeakCurrentRipple   float64         `yaml:"peak_current_ripple"`
	RCD                 bool            `yaml:"rcd"`
	NominalVoltageAC    float64         `yaml:"nominal_voltage_ac"`
	MaxCurrentAC        float64         `yaml:"max_current_ac"`
	Schedule            []ScheduleEntry `yaml:"schedule,omitempty"`
}

// TraceConfig enables the CBOR frame trace
type TraceConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig enables the SQLite session history
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Config is the root configuration. A top level mac overrides the one of
// the connection section.
type Config struct {
	MAC        string            `yaml:"mac"`
	Logging    LoggingConfig     `yaml:"logging"`
	Connection ConnectionConfig  `yaml:"connection"`
	Battery    sim.BatteryConfig `yaml:"battery"`
	EV         EVSection         `yaml:"ev"`
	EVSE       EVSESection       `yaml:"evse"`
	Charger    sim.ChargerConfig `yaml:"charger"`
	Session    session.Timing    `yaml:"session"`
	Trace      TraceConfig       `yaml:"trace"`
	Store      StoreConfig       `yaml:"store"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	ev := session.DefaultEVConfig()
	evse := session.DefaultEVSEConfig()
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Connection: ConnectionConfig{
			Type: InterfaceEthernet,
			Baud: DefaultSerialBaud,
		},
		Battery: ev.Battery,
		EV: EVSection{
			EVID:                formatMAC(ev.EVID),
			Protocols:           codes(ev.Protocols),
			PaymentMethods:      codes(ev.PaymentMethods),
			EnergyTransferModes: codes(ev.EnergyTransferModes),
			DepartureTime:       ev.DepartureTime,
		},
		EVSE: EVSESection{
			EVSEIDDIN:           evse.EVSEIDDIN,
			EVSEIDISO:           evse.EVSEIDISO,
			Protocols:           codes(evse.Protocols),
			PaymentMethods:      codes(evse.PaymentMethods),
			EnergyTransferModes: codes(evse.EnergyTransferModes),
			SDP: SDPSection{
				AllowUnsecure: evse.SDP.AllowUnsecure,
				UnsecurePort:  evse.SDP.UnsecurePort,
				AllowSecure:   evse.SDP.AllowSecure,
				SecurePort:    evse.SDP.SecurePort,
			},
			Authorize:         evse.Authorize,
			IsolationLevel:    evse.IsolationLevel,
			PeakCurrentRipple: evse.PeakCurrentRipple,
			NominalVoltageAC:  evse.NominalVoltageAC,
			MaxCurrentAC:      evse.MaxCurrentAC,
		},
		Charger: evse.Charger,
		Session: session.DefaultTiming(),
	}
}

// Load overlays the file at path on Default. A missing file is an error;
// the caller decides whether to fall back.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.FillMissingDefaults()
	return cfg, nil
}

// FillMissingDefaults restores values a file may have zeroed
func (c *Config) FillMissingDefaults() {
	if c.Connection.Type == "" {
		c.Connection.Type = InterfaceEthernet
	}
	if c.Connection.Baud <= 0 {
		c.Connection.Baud = DefaultSerialBaud
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.MAC != "" {
		c.Connection.MAC = c.MAC
	}
}

// Validate checks the connection and both role configurations
func (c *Config) Validate() error {
	switch c.Connection.Type {
	case InterfaceEthernet:
		if strings.TrimSpace(c.Connection.Interface) == "" {
			return errors.New("ethernet interface is required")
		}
	case InterfaceSerial:
		if strings.TrimSpace(c.Connection.Port) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.Baud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case InterfaceWebSocket:
		if !strings.HasPrefix(c.Connection.URL, "ws://") && !strings.HasPrefix(c.Connection.URL, "wss://") {
			return fmt.Errorf("websocket url must start with ws:// or wss://, got %q", c.Connection.URL)
		}
	case InterfaceSPI:
		return errors.New("spi interface is not supported")
	case InterfaceSim:
	default:
		return fmt.Errorf("unknown interface type: %s", c.Connection.Type)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %q", c.Logging.Format)
	}

	ev, err := c.EVConfig()
	if err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("ev: %w", err)
	}
	evse, err := c.EVSEConfig()
	if err != nil {
		return err
	}
	if err := evse.Validate(); err != nil {
		return fmt.Errorf("evse: %w", err)
	}
	return nil
}

// EVConfig converts the file sections to an EV session configuration
func (c *Config) EVConfig() (session.EVConfig, error) {
	evid, err := parseMAC(c.EV.EVID)
	if err != nil {
		return session.EVConfig{}, fmt.Errorf("ev: evid: %w", err)
	}
	return session.EVConfig{
		EVID:                evid,
		Protocols:           enums[message.Protocol](c.EV.Protocols),
		PaymentMethods:      enums[message.PaymentMethod](c.EV.PaymentMethods),
		EnergyTransferModes: enums[message.EnergyTransferMode](c.EV.EnergyTransferModes),
		DepartureTime:       c.EV.DepartureTime,
		PortMirror:          c.EV.PortMirror,
		Battery:             c.Battery,
		Timing:              c.Session,
	}, nil
}

// EVSEConfig converts the file sections to an EVSE session configuration
func (c *Config) EVSEConfig() (session.EVSEConfig, error) {
	var schedule []message.ScheduleEntry
	for i, e := range c.EVSE.Schedule {
		power, err := message.Float(e.Power, 1)
		if err != nil {
			return session.EVSEConfig{}, fmt.Errorf("evse: schedule[%d]: %w", i, err)
		}
		schedule = append(schedule, message.ScheduleEntry{Start: e.Start, Interval: e.Interval, Power: power})
	}
	if len(schedule) > message.MaxProfileEntries {
		return session.EVSEConfig{}, fmt.Errorf("evse: schedule has %d entries, at most %d allowed",
			len(schedule), message.MaxProfileEntries)
	}

	s := c.EVSE
	return session.EVSEConfig{
		EVSEIDDIN:           s.EVSEIDDIN,
		EVSEIDISO:           s.EVSEIDISO,
		Protocols:           enums[message.Protocol](s.Protocols),
		PaymentMethods:      enums[message.PaymentMethod](s.PaymentMethods),
		EnergyTransferModes: enums[message.EnergyTransferMode](s.EnergyTransferModes),
		CertInstallSupport:  s.CertInstallSupport,
		CertUpdateSupport:   s.CertUpdateSupport,
		SDP: message.SDPConfig{
			AllowUnsecure: s.SDP.AllowUnsecure,
			UnsecurePort:  s.SDP.UnsecurePort,
			AllowSecure:   s.SDP.AllowSecure,
			SecurePort:    s.SDP.SecurePort,
		},
		Authorize:         s.Authorize,
		IsolationLevel:    s.IsolationLevel,
		PeakCurrentRipple: s.PeakCurrentRipple,
		RCD:               s.RCD,
		NominalVoltageAC:  s.NominalVoltageAC,
		MaxCurrentAC:      s.MaxCurrentAC,
		Schedule:          schedule,
		Charger:           c.Charger,
		Timing:            c.Session,
	}, nil
}

// Save writes cfg to path through a temporary file
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}

// parseMAC accepts hex with or without colon separators
func parseMAC(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid mac %q: %w", s, err)
	}
	if len(b) != message.EVIDSize {
		return nil, fmt.Errorf("invalid mac %q: want %d bytes, got %d", s, message.EVIDSize, len(b))
	}
	return b, nil
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}

func codes[T ~uint8](values []T) []uint8 {
	out := make([]uint8, len(values))
	for i, v := range values {
		out[i] = uint8(v)
	}
	return out
}

func enums[T ~uint8](values []uint8) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(v)
	}
	return out
}
