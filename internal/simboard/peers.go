// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simboard

import (
	"sync"

	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
)

// cpStateB is the control pilot state of a connected EV
const cpStateB = 1

// peerDutyCycle is the 5% PWM an EVSE applies once it is ready for SLAC
const peerDutyCycle = 50

// EVSEPeerConfig describes the charger the board plays for an EV host
type EVSEPeerConfig struct {
	SessionID []byte
	EVSEID    string
	Protocol  message.Protocol
	Mode      message.EnergyTransferMode
	Schedule  []message.ProfileEntry

	MaxVoltage float64
	MaxCurrent float64
	MaxPower   float64
}

// DefaultEVSEPeerConfig returns a 400 V, 100 A, 25 kW DC charger offering
// a single full power schedule entry
func DefaultEVSEPeerConfig() EVSEPeerConfig {
	return EVSEPeerConfig{
		SessionID:  []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0x00, 0x01},
		EVSEID:     "DE*SIM*E0001",
		Protocol:   message.ProtocolISO15118,
		Mode:       message.ModeDCExtended,
		Schedule:   []message.ProfileEntry{{Start: 0, Interval: 86400, Power: quantity(25000)}},
		MaxVoltage: 400,
		MaxCurrent: 100,
		MaxPower:   25000,
	}
}

// EVSEPeer scripts the charger side of a DC session. The EV host drives
// the session; every command it sends is answered with the notifications a
// cooperative charger would raise.
type EVSEPeer struct {
	board *Board
	cfg   EVSEPeerConfig

	mu            sync.Mutex
	targetVoltage float64
	targetCurrent float64
	charging      bool
}

// AttachEVSE installs the charger script on b
func AttachEVSE(b *Board, cfg EVSEPeerConfig) *EVSEPeer {
	p := &EVSEPeer{board: b, cfg: cfg}
	b.SetDutyCycle(peerDutyCycle)

	b.On(framing.ModuleSLAC, framing.SubSlacStartMatching, func([]byte) [][]byte {
		return [][]byte{SlacResult(true)}
	})
	b.On(framing.ModuleV2G, framing.SubEVSetDCChargingParameters, p.onParameters)
	b.On(framing.ModuleV2G, framing.SubEVUpdateDCChargingParams, p.onParameters)
	b.On(framing.ModuleV2G, framing.SubEVStartSession, p.onStartSession)
	b.On(framing.ModuleV2G, framing.SubEVStartCableCheck, func([]byte) [][]byte {
		return [][]byte{
			Notification(framing.SubEVCableCheckFinished, nil),
			Notification(framing.SubEVPreChargingReady, nil),
		}
	})
	b.On(framing.ModuleV2G, framing.SubEVStartPreCharging, func([]byte) [][]byte {
		p.mu.Lock()
		defer p.mu.Unlock()
		return [][]byte{
			p.parametersChanged(p.targetVoltage, 0),
			Notification(framing.SubEVChargingReady, nil),
		}
	})
	b.On(framing.ModuleV2G, framing.SubEVStartCharging, func([]byte) [][]byte {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.charging = true
		return [][]byte{
			Notification(framing.SubEVChargingStarted, nil),
			p.parametersChanged(p.targetVoltage, p.targetCurrent),
		}
	})
	b.On(framing.ModuleV2G, framing.SubEVStopCharging, func([]byte) [][]byte {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.charging = false
		return [][]byte{
			Notification(framing.SubEVChargingStopped, nil),
			Notification(framing.SubEVPostChargingReady, nil),
		}
	})
	b.On(framing.ModuleV2G, framing.SubEVStopSession, func([]byte) [][]byte {
		return [][]byte{Notification(framing.SubEVSessionStopped, nil)}
	})
	return p
}

// Targets returns the voltage and current last requested by the EV
func (p *EVSEPeer) Targets() (voltage, current float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetVoltage, p.targetCurrent
}

// onParameters records the EV targets. Set and update share the layout up
// to the targets.
func (p *EVSEPeer) onParameters(payload []byte) [][]byte {
	r := message.NewReader(payload)
	r.Bytes(6 * message.QuantitySize)
	r.Uint8()
	r.Uint8()
	voltage := r.Quantity()
	current := r.Quantity()
	if r.Err() != nil {
		p.board.log.Warn("unparsable EV parameters", "error", r.Err())
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.targetVoltage = voltage.Value()
	p.targetCurrent = current.Value()
	if p.charging {
		return [][]byte{p.parametersChanged(p.targetVoltage, p.targetCurrent)}
	}
	return nil
}

func (p *EVSEPeer) onStartSession([]byte) [][]byte {
	started := &message.EVSessionStartedInfo{
		Protocol:           p.cfg.Protocol,
		SessionID:          p.cfg.SessionID,
		EVSEID:             []byte(p.cfg.EVSEID),
		PaymentMethod:      message.PaymentExternal,
		EnergyTransferMode: p.cfg.Mode,
	}
	schedule := &message.EVScheduleReceivedInfo{
		TupleCount: 1,
		TupleID:    1,
		Entries:    p.cfg.Schedule,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return [][]byte{
		Notification(framing.SubEVSessionStarted, started.Encode()),
		p.parametersChanged(0, 0),
		Notification(framing.SubEVScheduleReceived, schedule.Encode()),
		Notification(framing.SubEVCableCheckReady, nil),
	}
}

// parametersChanged builds the DC state notification. Callers hold p.mu.
func (p *EVSEPeer) parametersChanged(voltage, current float64) []byte {
	n := &message.EVDCChargeParametersChangedInfo{
		MaxVoltage:     quantity(p.cfg.MaxVoltage),
		MaxCurrent:     quantity(p.cfg.MaxCurrent),
		MaxPower:       quantity(p.cfg.MaxPower),
		PresentVoltage: quantity(voltage),
		PresentCurrent: quantity(current),
	}
	return Notification(framing.SubEVDCChargeParametersChanged, n.Encode())
}

// EVPeerConfig describes the vehicle the board plays for an EVSE host
type EVPeerConfig struct {
	SessionID []byte
	EVCCID    []byte
	Protocol  message.Protocol
	Mode      message.EnergyTransferMode

	MaxVoltage    float64
	MaxCurrent    float64
	MaxPower      float64
	TargetVoltage float64
	TargetCurrent float64
	VoltageWindow float64
	Capacity      float64
	SOC           uint8

	// ChargingUpdates is the number of DC updates the EV accepts while
	// charging before it asks to stop
	ChargingUpdates int
}

// DefaultEVPeerConfig returns a DC vehicle asking for 350 V and 50 A
func DefaultEVPeerConfig() EVPeerConfig {
	return EVPeerConfig{
		SessionID:       []byte{0xCA, 0xFE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		EVCCID:          []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		Protocol:        message.ProtocolISO15118,
		Mode:            message.ModeDCExtended,
		MaxVoltage:      400,
		MaxCurrent:      100,
		MaxPower:        40000,
		TargetVoltage:   350,
		TargetCurrent:   50,
		VoltageWindow:   10,
		Capacity:        50000,
		SOC:             50,
		ChargingUpdates: 3,
	}
}

// EVPeer scripts the vehicle side of a DC session for an EVSE host
type EVPeer struct {
	board *Board
	cfg   EVPeerConfig

	mu             sync.Mutex
	startRequested bool
	charging       bool
	updates        int
}

// AttachEV installs the vehicle script on b and plugs the vehicle in
func AttachEV(b *Board, cfg EVPeerConfig) *EVPeer {
	p := &EVPeer{board: b, cfg: cfg}
	b.SetCPState(cpStateB)

	b.On(framing.ModuleSLAC, framing.SubSlacStartMatching, func([]byte) [][]byte {
		return [][]byte{SlacResult(true)}
	})
	b.On(framing.ModuleV2G, framing.SubEVSEStartListen, p.onStartListen)
	b.On(framing.ModuleV2G, framing.SubEVSESetSchedules, func([]byte) [][]byte {
		req := &message.TimeoutInfo{Timeout: 60000}
		return [][]byte{Notification(framing.SubEVSERequestCableCheck, req.Encode())}
	})
	b.On(framing.ModuleV2G, framing.SubEVSESetCableCheckFinished, func([]byte) [][]byte {
		return [][]byte{
			Notification(framing.SubEVSEPreChargeStarted, nil),
			p.parametersChanged(),
		}
	})
	b.On(framing.ModuleV2G, framing.SubEVSEUpdateDCChargingParams, p.onUpdate)
	b.On(framing.ModuleV2G, framing.SubEVSEStartCharging, func([]byte) [][]byte {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.charging = true
		return nil
	})
	b.On(framing.ModuleV2G, framing.SubEVSEStopCharging, func([]byte) [][]byte {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.charging = false
		return [][]byte{
			Notification(framing.SubEVSEWeldingDetectionStarted, nil),
			Notification(framing.SubEVSESessionStopped, []byte{0}),
		}
	})
	return p
}

func (p *EVPeer) onStartListen([]byte) [][]byte {
	started := &message.EVSESessionStartedInfo{
		Protocol:  p.cfg.Protocol,
		SessionID: p.cfg.SessionID,
		EVCCID:    p.cfg.EVCCID,
	}
	payment := &message.PaymentSelectedInfo{Method: message.PaymentExternal}
	auth := &message.TimeoutInfo{Timeout: 60000}
	maxPower := quantity(p.cfg.MaxPower)
	mode := &message.EnergyTransferModeSelectedInfo{
		MaxVoltage: quantity(p.cfg.MaxVoltage),
		MaxCurrent: quantity(p.cfg.MaxCurrent),
		MaxPower:   &maxPower,
		Mode:       p.cfg.Mode,
		Capacity:   quantity(p.cfg.Capacity),
		Ready:      true,
		SOC:        p.cfg.SOC,
	}
	schedules := &message.RequestSchedulesInfo{Timeout: 60000, MaxEntries: 12}
	return [][]byte{
		Notification(framing.SubEVSESessionStarted, started.Encode()),
		Notification(framing.SubEVSEPaymentSelected, payment.Encode()),
		Notification(framing.SubEVSERequestAuthorization, auth.Encode()),
		Notification(framing.SubEVSEEnergyTransferModeSelected, mode.Encode()),
		Notification(framing.SubEVSERequestSchedules, schedules.Encode()),
	}
}

// onUpdate asks for power once the precharge voltage is reached and to
// stop after the configured number of updates while charging
func (p *EVPeer) onUpdate(payload []byte) [][]byte {
	r := message.NewReader(payload)
	r.Uint8()
	voltage := r.Quantity().Value()
	if r.Err() != nil {
		p.board.log.Warn("unparsable EVSE update", "error", r.Err())
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.charging {
		p.updates++
		if p.updates == p.cfg.ChargingUpdates {
			stop := &message.RequestStopChargingInfo{Timeout: 60000}
			return [][]byte{Notification(framing.SubEVSERequestStopCharging, stop.Encode())}
		}
		return nil
	}
	if p.startRequested {
		return nil
	}
	if voltage < p.cfg.TargetVoltage-p.cfg.VoltageWindow || voltage > p.cfg.TargetVoltage+p.cfg.VoltageWindow {
		return nil
	}
	p.startRequested = true
	start := &message.RequestStartChargingInfo{
		Timeout:         60000,
		ScheduleTupleID: 1,
		Profile:         []message.ChargingProfileEntry{{Start: 0, Power: quantity(p.cfg.TargetVoltage * p.cfg.TargetCurrent)}},
	}
	return [][]byte{Notification(framing.SubEVSERequestStartCharging, start.Encode())}
}

func (p *EVPeer) parametersChanged() []byte {
	maxPower := quantity(p.cfg.MaxPower)
	n := &message.EVSEDCChargeParametersChangedInfo{
		MaxVoltage:    quantity(p.cfg.MaxVoltage),
		MaxCurrent:    quantity(p.cfg.MaxCurrent),
		MaxPower:      &maxPower,
		Ready:         true,
		SOC:           p.cfg.SOC,
		TargetVoltage: quantity(p.cfg.TargetVoltage),
		TargetCurrent: quantity(p.cfg.TargetCurrent),
	}
	return Notification(framing.SubEVSEDCChargeParametersChanged, n.Encode())
}

// quantity converts a scripted value. Scripted values are finite, so the
// conversion cannot fail.
func quantity(v float64) message.Quantity {
	q, _ := message.Float(v, 1)
	return q
}
