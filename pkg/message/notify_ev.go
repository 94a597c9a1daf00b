// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package message

// SessionIDSize is the length of a V2G session id
const SessionIDSize = 8

// EVSessionStartedInfo is carried by the EV session started notification
type EVSessionStartedInfo struct {
	Protocol           Protocol
	SessionID          []byte
	EVSEID             []byte
	PaymentMethod      PaymentMethod
	EnergyTransferMode EnergyTransferMode
}

func ParseEVSessionStarted(payload []byte) (*EVSessionStartedInfo, error) {
	r := NewReader(payload)
	n := &EVSessionStartedInfo{
		Protocol:  Protocol(r.Uint8()),
		SessionID: r.Bytes(SessionIDSize),
		EVSEID:    r.Bytes8(),
	}
	n.PaymentMethod = PaymentMethod(r.Uint8())
	n.EnergyTransferMode = EnergyTransferMode(r.Uint8())
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVSessionStartedInfo) Encode() []byte {
	w := NewWriter()
	w.Uint8(uint8(n.Protocol))
	w.Raw(fixed(n.SessionID, SessionIDSize))
	w.Bytes8(n.EVSEID)
	w.Uint8(uint8(n.PaymentMethod))
	w.Uint8(uint8(n.EnergyTransferMode))
	return w.Bytes()
}

// EVDCChargeParametersChangedInfo reports the present DC state of the EVSE
type EVDCChargeParametersChangedInfo struct {
	MinVoltage                 Quantity
	MinCurrent                 Quantity
	MinPower                   Quantity
	MaxVoltage                 Quantity
	MaxCurrent                 Quantity
	MaxPower                   Quantity
	PresentVoltage             Quantity
	PresentCurrent             Quantity
	Status                     uint8
	IsolationStatus            *uint8
	VoltageLimitAchieved       uint8
	CurrentLimitAchieved       uint8
	PowerLimitAchieved         uint8
	PeakCurrentRipple          Quantity
	CurrentRegulationTolerance *Quantity
	EnergyToBeDelivered        *Quantity
}

func ParseEVDCChargeParametersChanged(payload []byte) (*EVDCChargeParametersChangedInfo, error) {
	r := NewReader(payload)
	n := &EVDCChargeParametersChangedInfo{}
	n.MinVoltage, n.MinCurrent, n.MinPower, n.MaxVoltage, n.MaxCurrent, n.MaxPower = readLimits(r)
	n.PresentVoltage = r.Quantity()
	n.PresentCurrent = r.Quantity()
	n.Status = r.Uint8()
	n.IsolationStatus = r.OptionalUint8()
	n.VoltageLimitAchieved = r.Uint8()
	n.CurrentLimitAchieved = r.Uint8()
	n.PowerLimitAchieved = r.Uint8()
	n.PeakCurrentRipple = r.Quantity()
	n.CurrentRegulationTolerance = r.OptionalQuantity()
	n.EnergyToBeDelivered = r.OptionalQuantity()
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVDCChargeParametersChangedInfo) Encode() []byte {
	w := NewWriter()
	writeLimits(w, n.MinVoltage, n.MinCurrent, n.MinPower, n.MaxVoltage, n.MaxCurrent, n.MaxPower)
	w.Quantity(n.PresentVoltage)
	w.Quantity(n.PresentCurrent)
	w.Uint8(n.Status)
	w.OptionalUint8(n.IsolationStatus)
	w.Uint8(n.VoltageLimitAchieved)
	w.Uint8(n.CurrentLimitAchieved)
	w.Uint8(n.PowerLimitAchieved)
	w.Quantity(n.PeakCurrentRipple)
	w.OptionalQuantity(n.CurrentRegulationTolerance)
	w.OptionalQuantity(n.EnergyToBeDelivered)
	return w.Bytes()
}

// EVACChargeParametersChangedInfo reports the AC supply of the EVSE
type EVACChargeParametersChangedInfo struct {
	NominalVoltage Quantity
	MaxCurrent     Quantity
	RCD            bool
}

func ParseEVACChargeParametersChanged(payload []byte) (*EVACChargeParametersChangedInfo, error) {
	r := NewReader(payload)
	n := &EVACChargeParametersChangedInfo{
		NominalVoltage: r.Quantity(),
		MaxCurrent:     r.Quantity(),
		RCD:            r.Bool(),
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVACChargeParametersChangedInfo) Encode() []byte {
	w := NewWriter()
	w.Quantity(n.NominalVoltage)
	w.Quantity(n.MaxCurrent)
	w.Bool(n.RCD)
	return w.Bytes()
}

// EVScheduleReceivedInfo carries the schedule offered by the EVSE
type EVScheduleReceivedInfo struct {
	TupleCount uint8
	TupleID    uint16
	Entries    []ProfileEntry
}

func ParseEVScheduleReceived(payload []byte) (*EVScheduleReceivedInfo, error) {
	r := NewReader(payload)
	n := &EVScheduleReceivedInfo{
		TupleCount: r.Uint8(),
		TupleID:    r.Uint16(),
	}
	for i, count := 0, int(r.Uint16()); i < count && r.Err() == nil; i++ {
		n.Entries = append(n.Entries, ProfileEntry{
			Start:    r.Uint32(),
			Interval: r.Uint32(),
			Power:    r.Quantity(),
		})
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVScheduleReceivedInfo) Encode() []byte {
	w := NewWriter()
	w.Uint8(n.TupleCount)
	w.Uint16(n.TupleID)
	w.Uint16(uint16(len(n.Entries)))
	for _, e := range n.Entries {
		w.Uint32(e.Start)
		w.Uint32(e.Interval)
		w.Quantity(e.Power)
	}
	return w.Bytes()
}

// Notification types carried by NotificationReceived
const (
	NotificationStopCharging = 0
	NotificationRenegotiate  = 1
)

// EVNotificationReceivedInfo is a stop or renegotiation request from the EVSE
type EVNotificationReceivedInfo struct {
	Type     uint8
	MaxDelay uint16
}

func ParseEVNotificationReceived(payload []byte) (*EVNotificationReceivedInfo, error) {
	r := NewReader(payload)
	n := &EVNotificationReceivedInfo{Type: r.Uint8(), MaxDelay: r.Uint16()}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *EVNotificationReceivedInfo) Encode() []byte {
	w := NewWriter()
	w.Uint8(n.Type)
	w.Uint16(n.MaxDelay)
	return w.Bytes()
}

// ParseSessionError parses the single code byte of a session error
func ParseSessionError(payload []byte) (SessionErrorCode, error) {
	r := NewReader(payload)
	code := SessionErrorCode(r.Uint8())
	return code, r.Finalize()
}

// ParseEmpty checks a notification that carries no payload
func ParseEmpty(payload []byte) error {
	return NewReader(payload).Finalize()
}

// fixed returns b padded or cut to n bytes
func fixed(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}
