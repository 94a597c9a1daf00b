// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

import "unicode/utf8"

// EVSE field limits
const (
	MaxEVSEIDDINLength     = 32
	MaxEVSEIDISOLength     = 38
	MaxMeterIDLength       = 32
	MaxSignatureLength     = 64
	MaxEXIResponseLength   = 6000
	MaxTariffDescription   = 32
	MaxTariffEntries       = 10
	MaxSignatureIDLength   = 254
	DigestValueSize        = 32
	SignatureValueSize     = 64
	MaxTariffStart         = 16777214
	MaxTariffDuration      = 86400
	MaxConsumptionCosts    = 3
	MaxCostsPerConsumption = 3
	MinSDPPort             = 49152
)

// EVSEConfig is the V2G configuration of the EVSE role
type EVSEConfig struct {
	EVSEIDDIN           string
	EVSEIDISO           string
	Protocols           []Protocol
	PaymentMethods      []PaymentMethod
	EnergyTransferModes []EnergyTransferMode
	CertInstallSupport  bool
	CertUpdateSupport   bool
}

// Validate checks every field against the controller limits
func (c *EVSEConfig) Validate() error {
	if len(c.EVSEIDDIN) > MaxEVSEIDDINLength || !utf8.ValidString(c.EVSEIDDIN) {
		return invalid("evse_id_din", "needs a UTF-8 string of at most %d bytes", MaxEVSEIDDINLength)
	}
	if len(c.EVSEIDISO) > MaxEVSEIDISOLength || !utf8.ValidString(c.EVSEIDISO) {
		return invalid("evse_id_iso", "needs a UTF-8 string of at most %d bytes", MaxEVSEIDISOLength)
	}
	if n := len(c.Protocols); n < 1 || n > 2 {
		return invalid("protocols", "needs 1 or 2 entries, got %d", n)
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
func (c *EVSEConfig) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := NewWriter()
	w.String8(c.EVSEIDDIN)
	w.String8(c.EVSEIDISO)
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
	w.Bool(c.CertInstallSupport)
	w.Bool(c.CertUpdateSupport)
	return w.Bytes(), nil
}

// ParseEVSEConfigReply parses the reply to the EVSE get configuration
// command. The body follows the set command layout.
func ParseEVSEConfigReply(payload []byte) (*EVSEConfig, error) {
	r := NewReader(payload)
	r.Uint8()
	c := &EVSEConfig{
		EVSEIDDIN: r.String8(),
		EVSEIDISO: r.String8(),
	}
	for i, n := 0, int(r.Uint8()); i < n && r.Err() == nil; i++ {
		c.Protocols = append(c.Protocols, Protocol(r.Uint8()))
	}
	for i, n := 0, int(r.Uint8()); i < n && r.Err() == nil; i++ {
		c.PaymentMethods = append(c.PaymentMethods, PaymentMethod(r.Uint8()))
	}
	for i, n := 0, int(r.Uint8()); i < n && r.Err() == nil; i++ {
		c.EnergyTransferModes = append(c.EnergyTransferModes, EnergyTransferMode(r.Uint8()))
	}
	c.CertInstallSupport = r.Bool()
	c.CertUpdateSupport = r.Bool()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return c, nil
}

// EVSEDCParameters are the DC capabilities of the EVSE
type EVSEDCParameters struct {
	IsolationLevel             uint8
	MinVoltage                 Quantity
	MinCurrent                 Quantity
	MaxVoltage                 Quantity
	MaxCurrent                 Quantity
	MaxPower                   Quantity
	CurrentRegulationTolerance *Quantity
	PeakCurrentRipple          Quantity
	Status                     uint8
}

// Encode validates and serializes the parameters
func (p *EVSEDCParameters) Encode() ([]byte, error) {
	if err := validateEVSEStatus(p.IsolationLevel, p.Status); err != nil {
		return nil, err
	}
	w := NewWriter()
	w.Uint8(p.IsolationLevel)
	w.Quantity(p.MinVoltage)
	w.Quantity(p.MinCurrent)
	w.Quantity(p.MaxVoltage)
	w.Quantity(p.MaxCurrent)
	w.Quantity(p.MaxPower)
	w.OptionalQuantity(p.CurrentRegulationTolerance)
	w.Quantity(p.PeakCurrentRipple)
	w.Uint8(p.Status)
	return w.Bytes(), nil
}

// EVSEDCUpdate reports the present output of the EVSE during a session
type EVSEDCUpdate struct {
	IsolationLevel uint8
	PresentVoltage Quantity
	PresentCurrent Quantity
	MaxVoltage     *Quantity
	MaxCurrent     *Quantity
	MaxPower       *Quantity
	Status         uint8
}

// Encode validates and serializes the update
func (u *EVSEDCUpdate) Encode() ([]byte, error) {
	if err := validateEVSEStatus(u.IsolationLevel, u.Status); err != nil {
		return nil, err
	}
	w := NewWriter()
	w.Uint8(u.IsolationLevel)
	w.Quantity(u.PresentVoltage)
	w.Quantity(u.PresentCurrent)
	w.OptionalQuantity(u.MaxVoltage)
	w.OptionalQuantity(u.MaxCurrent)
	w.OptionalQuantity(u.MaxPower)
	w.Uint8(u.Status)
	return w.Bytes(), nil
}

// EVSEDCParametersReply is the reply to the EVSE get DC parameters command
type EVSEDCParametersReply struct {
	EVSEDCParameters
	PresentVoltage *Quantity
	PresentCurrent *Quantity
}

// ParseEVSEDCParametersReply parses the reply, status byte included
func ParseEVSEDCParametersReply(payload []byte) (*EVSEDCParametersReply, error) {
	r := NewReader(payload)
	r.Uint8()
	p := &EVSEDCParametersReply{}
	p.IsolationLevel = r.Uint8()
	p.MinVoltage = r.Quantity()
	p.MinCurrent = r.Quantity()
	p.MaxVoltage = r.Quantity()
	p.MaxCurrent = r.Quantity()
	p.MaxPower = r.Quantity()
	p.CurrentRegulationTolerance = r.OptionalQuantity()
	p.PeakCurrentRipple = r.Quantity()
	p.PresentVoltage = r.OptionalQuantity()
	p.PresentCurrent = r.OptionalQuantity()
	p.Status = r.Uint8()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// EVSEACParameters are the AC capabilities of the EVSE
type EVSEACParameters struct {
	RCD            bool
	NominalVoltage Quantity
	MaxCurrent     Quantity
}

// Encode serializes the parameters
func (p *EVSEACParameters) Encode() ([]byte, error) {
	w := NewWriter()
	w.Bool(p.RCD)
	w.Quantity(p.NominalVoltage)
	w.Quantity(p.MaxCurrent)
	return w.Bytes(), nil
}

// ParseEVSEACParametersReply parses the reply to the EVSE get AC
// parameters command, status byte included
func ParseEVSEACParametersReply(payload []byte) (*EVSEACParameters, error) {
	r := NewReader(payload)
	r.Uint8()
	p := &EVSEACParameters{
		RCD:            r.Bool(),
		NominalVoltage: r.Quantity(),
		MaxCurrent:     r.Quantity(),
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// EVSEACUpdate updates the AC supply state during a session
type EVSEACUpdate struct {
	RCD        bool
	MaxCurrent *Quantity
}

// Encode serializes the update
func (u *EVSEACUpdate) Encode() ([]byte, error) {
	w := NewWriter()
	w.Bool(u.RCD)
	w.OptionalQuantity(u.MaxCurrent)
	return w.Bytes(), nil
}

// SDPConfig configures the SECC discovery protocol server
type SDPConfig struct {
	AllowUnsecure bool
	UnsecurePort  uint16
	AllowSecure   bool
	SecurePort    uint16
}

// Validate checks the enabled ports
func (c *SDPConfig) Validate() error {
	if c.AllowUnsecure && c.UnsecurePort < MinSDPPort {
		return invalid("unsecure_port", "%d out of range %d..65535", c.UnsecurePort, MinSDPPort)
	}
	if c.AllowSecure && c.SecurePort < MinSDPPort {
		return invalid("secure_port", "%d out of range %d..65535", c.SecurePort, MinSDPPort)
	}
	if c.AllowUnsecure && c.AllowSecure && c.UnsecurePort == c.SecurePort {
		return invalid("secure_port", "must differ from unsecure_port")
	}
	return nil
}

// Encode validates and serializes the configuration
func (c *SDPConfig) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := NewWriter()
	w.Bool(c.AllowUnsecure)
	if c.AllowUnsecure {
		w.Uint16(c.UnsecurePort)
	}
	w.Bool(c.AllowSecure)
	if c.AllowSecure {
		w.Uint16(c.SecurePort)
	}
	return w.Bytes(), nil
}

// ParseSDPConfigReply parses the reply to the get SDP config command,
// status byte included
func ParseSDPConfigReply(payload []byte) (*SDPConfig, error) {
	r := NewReader(payload)
	r.Uint8()
	c := &SDPConfig{}
	if c.AllowUnsecure = r.Bool(); c.AllowUnsecure {
		c.UnsecurePort = r.Uint16()
	}
	if c.AllowSecure = r.Bool(); c.AllowSecure {
		c.SecurePort = r.Uint16()
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return c, nil
}

// ScheduleEntry is one power limit of a schedule tuple
type ScheduleEntry struct {
	Start    uint32
	Interval uint32
	Power    Quantity
}

// ScheduleTuple is one schedule offered to the EV
type ScheduleTuple struct {
	ID      uint16
	Entries []ScheduleEntry
}

// Cost is one price component of a consumption cost
type Cost struct {
	Kind       uint8
	Amount     uint32
	Multiplier int8
}

// ConsumptionCost applies costs from a start value onwards
type ConsumptionCost struct {
	StartValue Quantity
	Costs      []Cost
}

// TariffEntry is one interval of a sales tariff
type TariffEntry struct {
	Start            uint32
	Duration         uint32
	PriceLevel       uint8
	ConsumptionCosts []ConsumptionCost
}

// SalesTariff is a signed price table attached to the schedules
type SalesTariff struct {
	ID          uint8
	Description string
	PriceLevels uint8
	Entries     []TariffEntry
	SignatureID string
	DigestValue []byte
}

// Schedules answers a schedule request from the EV
type Schedules struct {
	Code                uint8
	Tuples              []ScheduleTuple
	EnergyToBeDelivered *Quantity
	SalesTariffs        []SalesTariff
	SignatureValue      []byte
}

// Validate checks every field against the controller limits
func (s *Schedules) Validate() error {
	if s.Code > 1 {
		return invalid("code", "%d out of range 0..1", s.Code)
	}
	if len(s.Tuples) > 255 {
		return invalid("schedule_tuples", "at most 255 tuples")
	}
	if len(s.SalesTariffs) == 0 {
		return nil
	}
	if len(s.SalesTariffs) > 255 {
		return invalid("sales_tariff_tuples", "at most 255 tariffs")
	}
	if len(s.SignatureValue) != SignatureValueSize {
		return invalid("signature_value", "needs %d bytes, got %d", SignatureValueSize, len(s.SignatureValue))
	}
	for _, t := range s.SalesTariffs {
		if t.ID == 0 {
			return invalid("sales_tariff_id", "must be 1..255")
		}
		if len(t.Description) > MaxTariffDescription {
			return invalid("sales_tariff_description", "at most %d bytes", MaxTariffDescription)
		}
		if n := len(t.Entries); n < 1 || n > MaxTariffEntries {
			return invalid("sales_tariff_entries", "needs 1 to %d entries, got %d", MaxTariffEntries, n)
		}
		if n := len(t.SignatureID); n < 1 || n > MaxSignatureIDLength {
			return invalid("signature_id", "needs 1 to %d bytes, got %d", MaxSignatureIDLength, n)
		}
		if len(t.DigestValue) != DigestValueSize {
			return invalid("digest_value", "needs %d bytes, got %d", DigestValueSize, len(t.DigestValue))
		}
		for _, e := range t.Entries {
			if e.Start > MaxTariffStart {
				return invalid("time_interval_start", "%d exceeds %d", e.Start, MaxTariffStart)
			}
			if e.Duration > MaxTariffDuration {
				return invalid("time_interval_duration", "%d exceeds %d", e.Duration, MaxTariffDuration)
			}
			if n := len(e.ConsumptionCosts); n < 1 || n > MaxConsumptionCosts {
				return invalid("consumption_costs", "needs 1 to %d entries, got %d", MaxConsumptionCosts, n)
			}
			for _, cc := range e.ConsumptionCosts {
				if n := len(cc.Costs); n < 1 || n > MaxCostsPerConsumption {
					return invalid("costs", "needs 1 to %d entries, got %d", MaxCostsPerConsumption, n)
				}
				for _, c := range cc.Costs {
					if c.Kind > 2 {
						return invalid("kind", "%d out of range 0..2", c.Kind)
					}
					if c.Multiplier < -3 || c.Multiplier > 3 {
						return invalid("amount_multiplier", "%d out of range -3..3", c.Multiplier)
					}
				}
			}
		}
	}
	return nil
}

// Encode validates and serializes the schedules
func (s *Schedules) Encode() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	w := NewWriter()
	w.Uint8(s.Code)
	w.Uint8(uint8(len(s.Tuples)))
	for _, t := range s.Tuples {
		w.Uint16(t.ID)
		w.Uint16(uint16(len(t.Entries)))
		for _, e := range t.Entries {
			w.Uint32(e.Start)
			w.Uint32(e.Interval)
			w.Quantity(e.Power)
		}
	}
	w.OptionalQuantity(s.EnergyToBeDelivered)

	w.Uint8(uint8(len(s.SalesTariffs)))
	if len(s.SalesTariffs) == 0 {
		return w.Bytes(), nil
	}
	for _, t := range s.SalesTariffs {
		w.Uint8(t.ID)
		w.String8(t.Description)
		w.Uint8(t.PriceLevels)
		w.Uint16(uint16(len(t.Entries)))
		for _, e := range t.Entries {
			w.Uint32(e.Start)
			w.Uint32(e.Duration)
			w.Uint8(e.PriceLevel)
			w.Uint8(uint8(len(e.ConsumptionCosts)))
			for _, cc := range e.ConsumptionCosts {
				w.Quantity(cc.StartValue)
				w.Uint8(uint8(len(cc.Costs)))
				for _, c := range cc.Costs {
					w.Uint8(c.Kind)
					w.Uint32(c.Amount)
					w.Uint8(uint8(c.Multiplier))
				}
			}
		}
		w.String8(t.SignatureID)
		w.Bytes8(t.DigestValue)
	}
	w.Bytes8(s.SignatureValue)
	return w.Bytes(), nil
}

// Certificate response status codes
const (
	CertificateOK           = 0
	CertificateFailed       = 1
	CertificateNotSupported = 2
)

// CertificateResponse answers a certificate installation or update request
type CertificateResponse struct {
	Status      uint8
	EXIResponse []byte
}

// Encode validates and serializes the response
func (c *CertificateResponse) Encode() ([]byte, error) {
	if c.Status > CertificateNotSupported {
		return nil, invalid("status", "%d out of range 0..2", c.Status)
	}
	if len(c.EXIResponse) > MaxEXIResponseLength {
		return nil, invalid("exi_response", "at most %d bytes, got %d", MaxEXIResponseLength, len(c.EXIResponse))
	}
	w := NewWriter()
	w.Uint8(c.Status)
	w.Raw(c.EXIResponse)
	return w.Bytes(), nil
}

// MeterReceipt is the meter information sent for a metering receipt
type MeterReceipt struct {
	MeterID   string
	Reading   *uint64
	Signature []byte
	Status    []uint16
	Timestamp *uint64
}

// Encode validates and serializes the receipt
func (m *MeterReceipt) Encode() ([]byte, error) {
	if len(m.MeterID) > MaxMeterIDLength || !utf8.ValidString(m.MeterID) {
		return nil, invalid("meter_id", "needs a UTF-8 string of at most %d bytes", MaxMeterIDLength)
	}
	if len(m.Signature) > MaxSignatureLength {
		return nil, invalid("meter_reading_signature", "at most %d bytes, got %d", MaxSignatureLength, len(m.Signature))
	}
	if len(m.Status) > 255 {
		return nil, invalid("meter_status", "at most 255 entries, got %d", len(m.Status))
	}
	w := NewWriter()
	w.String8(m.MeterID)
	writeOptionalUint64(w, m.Reading)
	w.Bytes8(m.Signature)
	w.Uint8(uint8(len(m.Status)))
	for _, s := range m.Status {
		w.Uint16(s)
	}
	writeOptionalUint64(w, m.Timestamp)
	return w.Bytes(), nil
}

// EncodeSendNotification builds the payload asking the EV to stop or
// renegotiate within timeout seconds
func EncodeSendNotification(renegotiation bool, timeout uint16) []byte {
	w := NewWriter()
	w.Bool(renegotiation)
	w.Uint16(timeout)
	return w.Bytes()
}

func validateEVSEStatus(isolation, status uint8) error {
	if isolation > 4 {
		return invalid("isolation_level", "%d out of range 0..4", isolation)
	}
	if status > 5 {
		return invalid("status", "%d out of range 0..5", status)
	}
	return nil
}

func writeOptionalUint64(w *Writer, v *uint64) {
	if v == nil {
		w.Uint8(0)
		return
	}
	w.Uint8(1)
	w.Uint64(*v)
}
