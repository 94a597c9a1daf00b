// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

// EVIDSize is the length of an EV id, the MAC address of the vehicle
const EVIDSize = 6

// MaxProfileEntries is the largest charging profile accepted by the
// controller
const MaxProfileEntries = 23

// EVConfig is the V2G configuration of the EV role
type EVConfig struct {
	EVID                []byte
	Protocols           []Protocol
	PaymentMethods      []PaymentMethod
	EnergyTransferModes []EnergyTransferMode
	BatteryCapacity     Quantity
}

// Validate checks every field against the controller limits
func (c *EVConfig) Validate() error {
	if len(c.EVID) != EVIDSize {
		return invalid("evid", "needs %d bytes, got %d", EVIDSize, len(c.EVID))
	}
	if n := len(c.Protocols); n < 1 || n > 2 {
		return invalid("protocols", "needs 1 or 2 entries, got %d", n)
	}
	for _, p := range c.Protocols {
		if p > ProtocolISO15118 {
			return invalid("protocols", "unknown protocol %d", uint8(p))
		}
	}
	if n := len(c.PaymentMethods); n < 1 || n > 2 {
		return invalid("payment_methods", "needs 1 or 2 entries, got %d", n)
	}
	if n := len(c.EnergyTransferModes); n < 1 || n > 6 {
		return invalid("energy_transfer_modes", "needs 1 to 6 entries, got %d", n)
	}
	for _, m := range c.EnergyTransferModes {
		if !m.Valid() {
			return invalid("energy_transfer_modes", "value %d out of range", uint8(m))
		}
	}
	return nil
}

// Encode validates and serializes the configuration
func (c *EVConfig) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := NewWriter()
	w.Raw(c.EVID)
	w.Uint8(uint8(len(c.Protocols)))
	for _, p := range c.Protocols {
		w.Uint8(uint8(p))
	}
	w.Uint8(uint8(len(c.PaymentMethods)))
	for _, m := range c.PaymentMethods {
		w.Uint8(uint8(m))
	}
	w.Uint8(uint8(len(c.EnergyTransferModes)))
	for _, m := range c.EnergyTransferModes {
		w.Uint8(uint8(m))
	}
	w.Quantity(c.BatteryCapacity)
	return w.Bytes(), nil
}

// ParseEVConfigReply parses the reply to the EV get configuration command,
// status byte included
func ParseEVConfigReply(payload []byte) (*EVConfig, error) {
	r := NewReader(payload)
	r.Uint8()
	c := &EVConfig{EVID: r.Bytes(EVIDSize)}
	for i, n := 0, int(r.Uint8()); i < n && r.Err() == nil; i++ {
		c.Protocols = append(c.Protocols, Protocol(r.Uint8()))
	}
	for i, n := 0, int(r.Uint8()); i < n && r.Err() == nil; i++ {
		c.PaymentMethods = append(c.PaymentMethods, PaymentMethod(r.Uint8()))
	}
	for i, n := 0, int(r.Uint8()); i < n && r.Err() == nil; i++ {
		c.EnergyTransferModes = append(c.EnergyTransferModes, EnergyTransferMode(r.Uint8()))
	}
	c.BatteryCapacity = r.Quantity()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return c, nil
}

// EVDCParameters are the DC charging parameters of the EV
type EVDCParameters struct {
	MinVoltage    Quantity
	MinCurrent    Quantity
	MinPower      Quantity
	MaxVoltage    Quantity
	MaxCurrent    Quantity
	MaxPower      Quantity
	SOC           uint8
	Status        uint8
	TargetVoltage Quantity
	TargetCurrent Quantity
	FullSOC       uint8
	BulkSOC       uint8
	EnergyRequest Quantity
	DepartureTime uint32
}

// Encode validates and serializes the parameters
func (p *EVDCParameters) Encode() ([]byte, error) {
	if err := validateSOC(p.SOC, p.Status); err != nil {
		return nil, err
	}
	if p.FullSOC > 100 {
		return nil, invalid("full_soc", "%d exceeds 100", p.FullSOC)
	}
	if p.BulkSOC > 100 {
		return nil, invalid("bulk_soc", "%d exceeds 100", p.BulkSOC)
	}
	w := NewWriter()
	writeLimits(w, p.MinVoltage, p.MinCurrent, p.MinPower, p.MaxVoltage, p.MaxCurrent, p.MaxPower)
	w.Uint8(p.SOC)
	w.Uint8(p.Status)
	w.Quantity(p.TargetVoltage)
	w.Quantity(p.TargetCurrent)
	w.Uint8(p.FullSOC)
	w.Uint8(p.BulkSOC)
	w.Quantity(p.EnergyRequest)
	w.Uint32(p.DepartureTime)
	return w.Bytes(), nil
}

// Update returns the subset of p sent while a session is running
func (p *EVDCParameters) Update() *EVDCUpdate {
	return &EVDCUpdate{
		MinVoltage:    p.MinVoltage,
		MinCurrent:    p.MinCurrent,
		MinPower:      p.MinPower,
		MaxVoltage:    p.MaxVoltage,
		MaxCurrent:    p.MaxCurrent,
		MaxPower:      p.MaxPower,
		SOC:           p.SOC,
		Status:        p.Status,
		TargetVoltage: p.TargetVoltage,
		TargetCurrent: p.TargetCurrent,
	}
}

// EVDCUpdate updates the DC charging parameters during a session
type EVDCUpdate struct {
	MinVoltage    Quantity
	MinCurrent    Quantity
	MinPower      Quantity
	MaxVoltage    Quantity
	MaxCurrent    Quantity
	MaxPower      Quantity
	SOC           uint8
	Status        uint8
	TargetVoltage Quantity
	TargetCurrent Quantity
}

// Encode validates and serializes the update
func (u *EVDCUpdate) Encode() ([]byte, error) {
	if err := validateSOC(u.SOC, u.Status); err != nil {
		return nil, err
	}
	w := NewWriter()
	writeLimits(w, u.MinVoltage, u.MinCurrent, u.MinPower, u.MaxVoltage, u.MaxCurrent, u.MaxPower)
	w.Uint8(u.SOC)
	w.Uint8(u.Status)
	w.Quantity(u.TargetVoltage)
	w.Quantity(u.TargetCurrent)
	return w.Bytes(), nil
}

// EVDCParametersReply is the reply to the EV get DC parameters command.
// The controller does not report the target values.
type EVDCParametersReply struct {
	MinVoltage    Quantity
	MinCurrent    Quantity
	MinPower      Quantity
	MaxVoltage    Quantity
	MaxCurrent    Quantity
	MaxPower      Quantity
	SOC           uint8
	Status        uint8
	FullSOC       uint8
	BulkSOC       uint8
	EnergyRequest Quantity
	DepartureTime uint32
}

// ParseEVDCParametersReply parses the reply, status byte included
func ParseEVDCParametersReply(payload []byte) (*EVDCParametersReply, error) {
	r := NewReader(payload)
	r.Uint8()
	p := &EVDCParametersReply{}
	p.MinVoltage, p.MinCurrent, p.MinPower, p.MaxVoltage, p.MaxCurrent, p.MaxPower = readLimits(r)
	p.SOC = r.Uint8()
	p.Status = r.Uint8()
	p.FullSOC = r.Uint8()
	p.BulkSOC = r.Uint8()
	p.EnergyRequest = r.Quantity()
	p.DepartureTime = r.Uint32()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// EVACParameters are the AC charging parameters of the EV
type EVACParameters struct {
	MinVoltage    Quantity
	MinCurrent    Quantity
	MinPower      Quantity
	MaxVoltage    Quantity
	MaxCurrent    Quantity
	MaxPower      Quantity
	EnergyRequest Quantity
	DepartureTime uint32
}

// Encode serializes the parameters
func (p *EVACParameters) Encode() ([]byte, error) {
	w := NewWriter()
	writeLimits(w, p.MinVoltage, p.MinCurrent, p.MinPower, p.MaxVoltage, p.MaxCurrent, p.MaxPower)
	w.Quantity(p.EnergyRequest)
	w.Uint32(p.DepartureTime)
	return w.Bytes(), nil
}

// EVACUpdate updates the AC charging limits during a session
type EVACUpdate struct {
	MinVoltage Quantity
	MinCurrent Quantity
	MinPower   Quantity
	MaxVoltage Quantity
	MaxCurrent Quantity
	MaxPower   Quantity
}

// Encode serializes the update
func (u *EVACUpdate) Encode() ([]byte, error) {
	w := NewWriter()
	writeLimits(w, u.MinVoltage, u.MinCurrent, u.MinPower, u.MaxVoltage, u.MaxCurrent, u.MaxPower)
	return w.Bytes(), nil
}

// ParseEVACParametersReply parses the reply to the EV get AC parameters
// command, status byte included
func ParseEVACParametersReply(payload []byte) (*EVACParameters, error) {
	r := NewReader(payload)
	r.Uint8()
	p := &EVACParameters{}
	p.MinVoltage, p.MinCurrent, p.MinPower, p.MaxVoltage, p.MaxCurrent, p.MaxPower = readLimits(r)
	p.EnergyRequest = r.Quantity()
	p.DepartureTime = r.Uint32()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// ProfileEntry is one power limit of a charging profile
type ProfileEntry struct {
	Start    uint32
	Interval uint32
	Power    Quantity
}

// ChargingProfile is the charging profile the EV commits to after a
// schedule was received
type ChargingProfile struct {
	ScheduleTupleID uint16
	Entries         []ProfileEntry
}

// Encode validates and serializes the profile
func (p *ChargingProfile) Encode() ([]byte, error) {
	if n := len(p.Entries); n < 1 || n > MaxProfileEntries {
		return nil, invalid("charging_profile_entries", "needs 1 to %d entries, got %d", MaxProfileEntries, n)
	}
	w := NewWriter()
	w.Uint16(p.ScheduleTupleID)
	w.Uint8(uint8(len(p.Entries)))
	for _, e := range p.Entries {
		w.Uint32(e.Start)
		w.Uint32(e.Interval)
		w.Quantity(e.Power)
	}
	return w.Bytes(), nil
}

func validateSOC(soc, status uint8) error {
	if soc > 100 {
		return invalid("soc", "%d exceeds 100", soc)
	}
	if status > 7 {
		return invalid("status", "%d out of range 0..7", status)
	}
	return nil
}

func writeLimits(w *Writer, minV, minI, minP, maxV, maxI, maxP Quantity) {
	w.Quantity(minV)
	w.Quantity(minI)
	w.Quantity(minP)
	w.Quantity(maxV)
	w.Quantity(maxI)
	w.Quantity(maxP)
}

func readLimits(r *Reader) (minV, minI, minP, maxV, maxI, maxP Quantity) {
	return r.Quantity(), r.Quantity(), r.Quantity(), r.Quantity(), r.Quantity(), r.Quantity()
}
