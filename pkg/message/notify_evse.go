// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

// EVSESessionStartedInfo is carried by the EVSE session started notification
type EVSESessionStartedInfo struct {
	Protocol  Protocol
	SessionID []byte
	EVCCID    []byte
}

func ParseEVSESessionStarted(payload []byte) (*EVSESessionStartedInfo, error) {
	r := NewReader(payload)
	n := &EVSESessionStartedInfo{
		Protocol:  Protocol(r.Uint8()),
		SessionID: r.Bytes(SessionIDSize),
		EVCCID:    r.Bytes8(),
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVSESessionStartedInfo) Encode() []byte {
	w := NewWriter()
	w.Uint8(uint8(n.Protocol))
	w.Raw(fixed(n.SessionID, SessionIDSize))
	w.Bytes8(n.EVCCID)
	return w.Bytes()
}

// PaymentSelectedInfo reports the payment method chosen by the EV. The
// certificate fields are only present for contract payment.
type PaymentSelectedInfo struct {
	Method              PaymentMethod
	ContractCertificate []byte
	MOSubCA1            []byte
	MOSubCA2            []byte
	EMAID               string
}

func ParsePaymentSelected(payload []byte) (*PaymentSelectedInfo, error) {
	r := NewReader(payload)
	n := &PaymentSelectedInfo{Method: PaymentMethod(r.Uint8())}
	if n.Method == PaymentContract {
		n.ContractCertificate = r.Bytes8()
		n.MOSubCA1 = r.Bytes8()
		n.MOSubCA2 = r.Bytes8()
		n.EMAID = r.String8()
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *PaymentSelectedInfo) Encode() []byte {
	w := NewWriter()
	w.Uint8(uint8(n.Method))
	if n.Method == PaymentContract {
		w.Bytes8(n.ContractCertificate)
		w.Bytes8(n.MOSubCA1)
		w.Bytes8(n.MOSubCA2)
		w.String8(n.EMAID)
	}
	return w.Bytes()
}

// TimeoutInfo is carried by requests that must be answered within a
// timeout in milliseconds
type TimeoutInfo struct {
	Timeout uint32
}

// ParseTimeout parses the authorization and cable check requests
func ParseTimeout(payload []byte) (*TimeoutInfo, error) {
	r := NewReader(payload)
	n := &TimeoutInfo{Timeout: r.Uint32()}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *TimeoutInfo) Encode() []byte {
	w := NewWriter()
	w.Uint32(n.Timeout)
	return w.Bytes()
}

// EnergyTransferModeSelectedInfo carries the EV parameters sent with the
// selected energy transfer mode
type EnergyTransferModeSelectedInfo struct {
	DepartureTime *uint32
	EnergyRequest *Quantity
	MaxVoltage    Quantity
	MinCurrent    *Quantity
	MaxCurrent    Quantity
	MaxPower      *Quantity
	Mode          EnergyTransferMode
	Capacity      Quantity
	FullSOC       *uint8
	BulkSOC       *uint8
	Ready         bool
	ErrorCode     uint8
	SOC           uint8
}

func ParseEnergyTransferModeSelected(payload []byte) (*EnergyTransferModeSelectedInfo, error) {
	r := NewReader(payload)
	n := &EnergyTransferModeSelectedInfo{}
	if r.Present() {
		v := r.Uint32()
		n.DepartureTime = &v
	}
	n.EnergyRequest = r.OptionalQuantity()
	n.MaxVoltage = r.Quantity()
	n.MinCurrent = r.OptionalQuantity()
	n.MaxCurrent = r.Quantity()
	n.MaxPower = r.OptionalQuantity()
	n.Mode = EnergyTransferMode(r.Uint8())
	n.Capacity = r.Quantity()
	n.FullSOC = r.OptionalUint8()
	n.BulkSOC = r.OptionalUint8()
	n.Ready = r.Bool()
	n.ErrorCode = r.Uint8()
	n.SOC = r.Uint8()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EnergyTransferModeSelectedInfo) Encode() []byte {
	w := NewWriter()
	if n.DepartureTime != nil {
		w.Uint8(1)
		w.Uint32(*n.DepartureTime)
	} else {
		w.Uint8(0)
	}
	w.OptionalQuantity(n.EnergyRequest)
	w.Quantity(n.MaxVoltage)
	w.OptionalQuantity(n.MinCurrent)
	w.Quantity(n.MaxCurrent)
	w.OptionalQuantity(n.MaxPower)
	w.Uint8(uint8(n.Mode))
	w.Quantity(n.Capacity)
	w.OptionalUint8(n.FullSOC)
	w.OptionalUint8(n.BulkSOC)
	w.Bool(n.Ready)
	w.Uint8(n.ErrorCode)
	w.Uint8(n.SOC)
	return w.Bytes()
}

// RequestSchedulesInfo asks the EVSE for charging schedules
type RequestSchedulesInfo struct {
	Timeout    uint32
	MaxEntries uint16
}

func ParseRequestSchedules(payload []byte) (*RequestSchedulesInfo, error) {
	r := NewReader(payload)
	n := &RequestSchedulesInfo{Timeout: r.Uint32(), MaxEntries: r.Uint16()}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *RequestSchedulesInfo) Encode() []byte {
	w := NewWriter()
	w.Uint32(n.Timeout)
	w.Uint16(n.MaxEntries)
	return w.Bytes()
}

// EVSEDCChargeParametersChangedInfo carries the DC demand of the EV
type EVSEDCChargeParametersChangedInfo struct {
	MaxVoltage             Quantity
	MaxCurrent             Quantity
	MaxPower               *Quantity
	Ready                  bool
	ErrorCode              uint8
	SOC                    uint8
	TargetVoltage          Quantity
	TargetCurrent          Quantity
	FullSOC                *uint8
	BulkSOC                *uint8
	ChargingComplete       bool
	BulkChargingComplete   *bool
	RemainingTimeToFullSOC *Quantity
	RemainingTimeToBulkSOC *Quantity
}

func ParseEVSEDCChargeParametersChanged(payload []byte) (*EVSEDCChargeParametersChangedInfo, error) {
	r := NewReader(payload)
	n := &EVSEDCChargeParametersChangedInfo{}
	n.MaxVoltage = r.Quantity()
	n.MaxCurrent = r.Quantity()
	n.MaxPower = r.OptionalQuantity()
	n.Ready = r.Bool()
	n.ErrorCode = r.Uint8()
	n.SOC = r.Uint8()
	n.TargetVoltage = r.Quantity()
	n.TargetCurrent = r.Quantity()
	n.FullSOC = r.OptionalUint8()
	n.BulkSOC = r.OptionalUint8()
	n.ChargingComplete = r.Bool()
	if r.Present() {
		v := r.Bool()
		n.BulkChargingComplete = &v
	}
	n.RemainingTimeToFullSOC = r.OptionalQuantity()
	n.RemainingTimeToBulkSOC = r.OptionalQuantity()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVSEDCChargeParametersChangedInfo) Encode() []byte {
	w := NewWriter()
	w.Quantity(n.MaxVoltage)
	w.Quantity(n.MaxCurrent)
	w.OptionalQuantity(n.MaxPower)
	w.Bool(n.Ready)
	w.Uint8(n.ErrorCode)
	w.Uint8(n.SOC)
	w.Quantity(n.TargetVoltage)
	w.Quantity(n.TargetCurrent)
	w.OptionalUint8(n.FullSOC)
	w.OptionalUint8(n.BulkSOC)
	w.Bool(n.ChargingComplete)
	if n.BulkChargingComplete != nil {
		w.Uint8(1)
		w.Bool(*n.BulkChargingComplete)
	} else {
		w.Uint8(0)
	}
	w.OptionalQuantity(n.RemainingTimeToFullSOC)
	w.OptionalQuantity(n.RemainingTimeToBulkSOC)
	return w.Bytes()
}

// EVSEACChargeParametersChangedInfo carries the AC demand of the EV
type EVSEACChargeParametersChangedInfo struct {
	MaxVoltage   Quantity
	MinCurrent   Quantity
	MaxCurrent   Quantity
	EnergyAmount Quantity
}

func ParseEVSEACChargeParametersChanged(payload []byte) (*EVSEACChargeParametersChangedInfo, error) {
	r := NewReader(payload)
	n := &EVSEACChargeParametersChangedInfo{
		MaxVoltage:   r.Quantity(),
		MinCurrent:   r.Quantity(),
		MaxCurrent:   r.Quantity(),
		EnergyAmount: r.Quantity(),
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVSEACChargeParametersChangedInfo) Encode() []byte {
	w := NewWriter()
	w.Quantity(n.MaxVoltage)
	w.Quantity(n.MinCurrent)
	w.Quantity(n.MaxCurrent)
	w.Quantity(n.EnergyAmount)
	return w.Bytes()
}

// ChargingProfileEntry is one entry of the profile the EV commits to
type ChargingProfileEntry struct {
	Start uint32
	Power Quantity
}

// RequestStartChargingInfo asks the EVSE to start delivering power
type RequestStartChargingInfo struct {
	Timeout         uint32
	ScheduleTupleID uint16
	Profile         []ChargingProfileEntry
}

func ParseRequestStartCharging(payload []byte) (*RequestStartChargingInfo, error) {
	r := NewReader(payload)
	n := &RequestStartChargingInfo{Timeout: r.Uint32(), ScheduleTupleID: r.Uint16()}
	for i, count := 0, int(r.Uint8()); i < count && r.Err() == nil; i++ {
		n.Profile = append(n.Profile, ChargingProfileEntry{Start: r.Uint32(), Power: r.Quantity()})
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *RequestStartChargingInfo) Encode() []byte {
	w := NewWriter()
	w.Uint32(n.Timeout)
	w.Uint16(n.ScheduleTupleID)
	w.Uint8(uint8(len(n.Profile)))
	for _, e := range n.Profile {
		w.Uint32(e.Start)
		w.Quantity(e.Power)
	}
	return w.Bytes()
}

// RequestStopChargingInfo asks the EVSE to stop delivering power
type RequestStopChargingInfo struct {
	Timeout       uint32
	Renegotiation bool
}

func ParseRequestStopCharging(payload []byte) (*RequestStopChargingInfo, error) {
	r := NewReader(payload)
	n := &RequestStopChargingInfo{Timeout: r.Uint32(), Renegotiation: r.Bool()}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *RequestStopChargingInfo) Encode() []byte {
	w := NewWriter()
	w.Uint32(n.Timeout)
	w.Bool(n.Renegotiation)
	return w.Bytes()
}

// ParseEVSESessionStopped returns the closure type of a stopped session
func ParseEVSESessionStopped(payload []byte) (uint8, error) {
	r := NewReader(payload)
	closure := r.Uint8()
	return closure, r.Finalize()
}

// CertificateRequestInfo carries the EXI encoded certificate installation
// or update request
type CertificateRequestInfo struct {
	Timeout    uint8
	EXIRequest []byte
}

func ParseCertificateRequest(payload []byte) (*CertificateRequestInfo, error) {
	r := NewReader(payload)
	n := &CertificateRequestInfo{Timeout: r.Uint8(), EXIRequest: r.Bytes16()}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *CertificateRequestInfo) Encode() []byte {
	w := NewWriter()
	w.Uint8(n.Timeout)
	w.Bytes16(n.EXIRequest)
	return w.Bytes()
}

// ParseMeteringReceiptStatus reports whether the EV accepted the receipt
func ParseMeteringReceiptStatus(payload []byte) (bool, error) {
	r := NewReader(payload)
	ok := r.Bool()
	return ok, r.Finalize()
}
