// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/sim"
	"github.com/Thermoquad/whitebeet/pkg/whitebeet"
)

// Control pilot duty cycles of the EVSE in percent
const (
	dutyCycleIdle    = 100
	dutyCycleDigital = 5
)

// EVSE runs a session in the EVSE role
type EVSE struct {
	controller

	cfg     EVSEConfig
	charger *sim.Charger
}

// NewEVSE creates an EVSE session on client. The configuration is
// validated by Run.
func NewEVSE(client *whitebeet.Client, cfg EVSEConfig, opts ...Option) *EVSE {
	o := buildOptions(opts)
	return &EVSE{
		controller: newController(RoleEVSE, client, cfg.Timing, o),
		cfg:        cfg,
		charger:    sim.NewCharger(cfg.Charger, o.clock),
	}
}

// Charger returns the simulated power stage of the session
func (s *EVSE) Charger() *sim.Charger {
	return s.charger
}

// Run drives the session until the EV stops it, an error ends it or ctx
// is done. The error is Result.Error().
func (s *EVSE) Run(ctx context.Context) (Result, error) {
	s.result.StartedAt = time.Now()
	err := s.run(ctx)
	s.charger.Stop()
	return s.finish(err)
}

func (s *EVSE) run(ctx context.Context) (err error) {
	s.setState(StateInit)
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	started := false
	defer func() {
		switch {
		case errors.Is(err, engine.ErrTransportClosed):
		case started:
			s.teardown()
		default:
			s.releaseLink()
		}
	}()
	if err := s.initialize(ctx); err != nil {
		return err
	}

	s.setState(StateAwaitPeerConnected)
	if err := s.awaitEV(ctx); err != nil {
		return err
	}

	s.setState(StateSlacMatching)
	if err := s.match(ctx); err != nil {
		return err
	}

	s.setState(StateSessionStarting)
	started = true
	if err := s.startSession(); err != nil {
		return err
	}
	return s.loop(ctx)
}

func (s *EVSE) initialize(ctx context.Context) error {
	if err := s.client.CPSetMode(whitebeet.ModeEVSE); err != nil {
		return err
	}
	if err := s.client.CPSetDutyCycle(dutyCycleIdle); err != nil {
		return err
	}
	if err := s.client.CPStart(); err != nil {
		return err
	}
	if err := s.client.SlacStart(whitebeet.ModeEVSE); err != nil {
		return err
	}
	return s.sleep(ctx, s.timing.SettleDelay)
}

// awaitEV polls the control pilot until an EV is plugged in
func (s *EVSE) awaitEV(ctx context.Context) error {
	s.log.Info("waiting for EV")
	start := time.Now()
	for {
		state, err := s.client.CPGetState()
		if err != nil {
			return err
		}
		switch {
		case state == whitebeet.CPStateB:
			s.log.Info("EV connected")
			return nil
		case state != whitebeet.CPStateA:
			return abort(ReasonWrongState, "control pilot in state %s while waiting for an EV", state)
		}
		if t := s.timing.PeerTimeout; t > 0 && time.Since(start) >= t {
			return abort(ReasonTimeout, "no EV within %v", t)
		}
		if err := s.sleep(ctx, s.timing.PeerPollInterval); err != nil {
			return err
		}
	}
}

func (s *EVSE) match(ctx context.Context) error {
	s.log.Info("starting SLAC matching")
	if err := s.client.SlacStartMatching(); err != nil {
		return err
	}
	if err := s.client.CPSetDutyCycle(dutyCycleDigital); err != nil {
		return err
	}
	matched, err := s.client.SlacMatched(ctx)
	var timeout *engine.TimeoutError
	switch {
	case errors.As(err, &timeout):
		return &abortError{reason: ReasonSlacFailed, err: err}
	case err != nil:
		return err
	case !matched:
		return abort(ReasonSlacFailed, "SLAC matching failed")
	}
	s.log.Info("SLAC matched")
	return nil
}

func (s *EVSE) startSession() error {
	modes := s.cfg.EnergyTransferModes
	if err := s.client.V2GSetMode(whitebeet.ModeEVSE); err != nil {
		return err
	}
	config := &message.EVSEConfig{
		EVSEIDDIN:           s.cfg.EVSEIDDIN,
		EVSEIDISO:           s.cfg.EVSEIDISO,
		Protocols:           s.cfg.Protocols,
		PaymentMethods:      s.cfg.PaymentMethods,
		EnergyTransferModes: modes,
		CertInstallSupport:  s.cfg.CertInstallSupport,
		CertUpdateSupport:   s.cfg.CertUpdateSupport,
	}
	if err := s.client.EVSESetConfiguration(config); err != nil {
		return err
	}

	var q quantities
	if message.HasDC(modes) {
		charger := s.cfg.Charger
		p := &message.EVSEDCParameters{
			IsolationLevel:    s.cfg.IsolationLevel,
			MinVoltage:        q.of(charger.MinVoltage),
			MinCurrent:        q.of(charger.MinCurrent),
			MaxVoltage:        q.of(charger.MaxVoltage),
			MaxCurrent:        q.of(charger.MaxCurrent),
			MaxPower:          q.of(charger.MaxPower),
			PeakCurrentRipple: q.of(s.cfg.PeakCurrentRipple),
		}
		if q.err != nil {
			return q.err
		}
		if err := s.client.EVSESetDCParameters(p); err != nil {
			return err
		}
	}
	if message.HasAC(modes) {
		p := &message.EVSEACParameters{
			RCD:            s.cfg.RCD,
			NominalVoltage: q.of(s.cfg.NominalVoltageAC),
			MaxCurrent:     q.of(s.cfg.MaxCurrentAC),
		}
		if q.err != nil {
			return q.err
		}
		if err := s.client.EVSESetACParameters(p); err != nil {
			return err
		}
	}

	sdp := s.cfg.SDP
	if err := s.client.EVSESetSDPConfig(&sdp); err != nil {
		return err
	}
	if err := s.client.V2GStart(); err != nil {
		return err
	}
	return s.client.EVSEStartListen()
}

// teardown stops listening and stops V2G. Failures are logged only.
func (s *EVSE) teardown() {
	if err := s.client.EVSEStopListen(); err != nil {
		s.log.Warn("teardown: stop listening", "error", err)
	}
	if err := s.client.V2GStop(); err != nil {
		s.log.Warn("teardown: stop V2G", "error", err)
	}
}

// delivering reports whether the output is regulated towards the EV
// targets
func (s *EVSE) delivering() bool {
	return s.state >= StatePreChargingStarted && s.state <= StateChargingStarted
}

func (s *EVSE) loop(ctx context.Context) error {
	last := time.Now()
	nextUpdate := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.delivering() && !time.Now().Before(nextUpdate) {
			if err := s.updateDC(); err != nil {
				return err
			}
			nextUpdate = time.Now().Add(s.timing.UpdateInterval)
		}

		frame, err := s.client.ReceiveEVSENotification(ctx, s.timing.NotificationWait, false)
		if err != nil {
			return err
		}
		if frame == nil {
			if t := s.timing.IdleTimeout; t > 0 && time.Since(last) >= t {
				return abort(ReasonTimeout, "no notification from EV for %v", t)
			}
			continue
		}
		last = time.Now()

		done, err := s.dispatch(frame)
		if err != nil || done {
			return err
		}
	}
}

// updateDC reports the present charger output to the EV
func (s *EVSE) updateDC() error {
	if !message.HasDC(s.cfg.EnergyTransferModes) {
		return nil
	}
	v, i := s.charger.PresentVoltage(), s.charger.PresentCurrent()
	s.emit(Event{Kind: EventMeasurement, Voltage: v, Current: i})
	var q quantities
	u := &message.EVSEDCUpdate{
		IsolationLevel: s.cfg.IsolationLevel,
		PresentVoltage: q.of(v),
		PresentCurrent: q.of(i),
	}
	if q.err != nil {
		return s.tolerate("update DC parameters", q.err)
	}
	return s.tolerate("update DC parameters", s.client.EVSEUpdateDCParameters(u))
}

func (s *EVSE) schedule(maxEntries uint16) (*message.Schedules, error) {
	entries := s.cfg.Schedule
	if len(entries) == 0 {
		var err error
		if entries, err = DefaultSchedule(s.cfg.Charger.MaxPower); err != nil {
			return nil, err
		}
	}
	if maxEntries > 0 && len(entries) > int(maxEntries) {
		entries = entries[:maxEntries]
	}
	return &message.Schedules{
		Tuples: []message.ScheduleTuple{{ID: 1, Entries: entries}},
	}, nil
}

func (s *EVSE) dispatch(frame *framing.Frame) (bool, error) {
	kind := message.EVSENotificationKind(frame.SubID())
	payload := frame.Payload()
	s.log.Debug("notification", "kind", kind.String())
	s.emit(Event{Kind: EventNotification, Notification: kind.String()})

	switch kind {
	case message.EVSESessionStarted:
		info, err := message.ParseEVSESessionStarted(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.advance(StateSessionStarted)
		s.result.SessionID = info.SessionID
		s.result.PeerID = info.EVCCID
		s.result.Protocol = info.Protocol
		s.log.Info("session started",
			"protocol", info.Protocol.String(),
			"session_id", fmt.Sprintf("%X", info.SessionID),
			"evcc_id", fmt.Sprintf("%X", info.EVCCID))

	case message.EVSEPaymentSelected:
		info, err := message.ParsePaymentSelected(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.log.Info("payment selected", "method", info.Method.String(), "emaid", info.EMAID)

	case message.EVSERequestAuthorization:
		info, err := message.ParseTimeout(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.log.Info("authorization requested", "authorize", s.cfg.Authorize, "timeout_ms", info.Timeout)
		return false, s.tolerate("set authorization status", s.client.EVSESetAuthorizationStatus(s.cfg.Authorize))

	case message.EVSEEnergyTransferModeSelected:
		info, err := message.ParseEnergyTransferModeSelected(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.onModeSelected(info)

	case message.EVSERequestSchedules:
		info, err := message.ParseRequestSchedules(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		sched, err := s.schedule(info.MaxEntries)
		if err != nil {
			return false, s.tolerate("set schedules", err)
		}
		return false, s.tolerate("set schedules", s.client.EVSESetSchedules(sched))

	case message.EVSEDCChargeParametersChanged:
		info, err := message.ParseEVSEDCChargeParametersChanged(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		return false, s.onDCParameters(info)

	case message.EVSEACChargeParametersChanged:
		info, err := message.ParseEVSEACChargeParametersChanged(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		return false, s.onACParameters(info)

	case message.EVSERequestCableCheck:
		if !s.advance(StateCableCheckStarted) {
			return false, nil
		}
		if err := s.client.EVSESetCableCheckFinished(true); err != nil {
			return false, s.tolerate("finish cable check", err)
		}
		s.advance(StateCableCheckFinished)

	case message.EVSEPreChargeStarted:
		s.advance(StatePreChargingStarted)
		s.charger.Start()

	case message.EVSERequestStartCharging:
		if _, err := message.ParseRequestStartCharging(payload); err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		if !s.advance(StateChargingReady) {
			return false, nil
		}
		if err := s.client.EVSEStartCharging(); err != nil {
			return false, s.tolerate("start charging", err)
		}
		s.advance(StateChargingStarted)
		s.result.ChargeCount++

	case message.EVSERequestStopCharging:
		info, err := message.ParseRequestStopCharging(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.log.Info("EV requests stop", "renegotiation", info.Renegotiation)
		s.charger.Stop()
		if err := s.client.EVSEStopCharging(); err != nil {
			return false, s.tolerate("stop charging", err)
		}
		s.advance(StateChargingStopped)

	case message.EVSEWeldingDetectionStarted:
		s.advance(StatePostChargingReady)

	case message.EVSESessionStopped:
		closure, err := message.ParseEVSESessionStopped(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
		}
		s.charger.Stop()
		s.log.Info("session stopped", "closure", closure)
		s.advance(StateSessionStopped)
		return true, nil

	case message.EVSESessionError:
		code, err := message.ParseSessionError(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.sessionError(code)

	case message.EVSECertInstallRequested, message.EVSECertUpdateRequested:
		if _, err := message.ParseCertificateRequest(payload); err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.log.Warn("certificate request not supported", "kind", kind.String())
		resp := &message.CertificateResponse{Status: message.CertificateNotSupported}
		return false, s.tolerate("set certificate response", s.client.EVSESetCertificateResponse(resp))

	case message.EVSEMeteringReceiptStatus:
		ok, err := message.ParseMeteringReceiptStatus(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.log.Info("metering receipt", "accepted", ok)

	default:
		return false, abort(ReasonPeerError, "unsupported notification 0x%02X", frame.SubID())
	}
	return false, nil
}

func (s *EVSE) onModeSelected(info *message.EnergyTransferModeSelectedInfo) {
	s.result.EnergyTransferMode = info.Mode
	s.result.StartSOC = info.SOC
	s.result.FinalSOC = info.SOC
	limits := sim.EVLimits{
		MaxVoltage: info.MaxVoltage.Value(),
		MaxCurrent: info.MaxCurrent.Value(),
	}
	if info.MinCurrent != nil {
		limits.MinCurrent = info.MinCurrent.Value()
	}
	if info.MaxPower != nil {
		limits.MaxPower = info.MaxPower.Value()
	}
	s.charger.SetEVLimits(limits)
	s.log.Info("energy transfer mode selected",
		"mode", info.Mode.String(),
		"soc", info.SOC,
		"max_voltage", limits.MaxVoltage,
		"max_current", limits.MaxCurrent)
}

func (s *EVSE) onDCParameters(info *message.EVSEDCChargeParametersChangedInfo) error {
	tv, ti := info.TargetVoltage.Value(), info.TargetCurrent.Value()
	s.result.FinalSOC = info.SOC
	if !s.charger.SetTargetVoltage(tv) {
		s.log.Warn("target voltage refused", "target", tv, "max", s.cfg.Charger.MaxVoltage)
	}
	if !s.charger.SetTargetCurrent(ti) {
		s.log.Warn("target current refused", "target", ti, "max", s.cfg.Charger.MaxCurrent)
	}
	if s.charger.PowerLimitExceeded(tv * ti) {
		s.log.Warn("requested power exceeds the charger", "power", tv*ti, "max", s.cfg.Charger.MaxPower)
	}
	s.emit(Event{Kind: EventMeasurement, SOC: info.SOC, Voltage: s.charger.PresentVoltage(), Current: s.charger.PresentCurrent()})
	return s.updateDC()
}

func (s *EVSE) onACParameters(info *message.EVSEACChargeParametersChangedInfo) error {
	current := math.Min(s.cfg.MaxCurrentAC, info.MaxCurrent.Value())
	s.log.Info("EV AC demand",
		"max_voltage", info.MaxVoltage.Value(),
		"min_current", info.MinCurrent.Value(),
		"max_current", info.MaxCurrent.Value())
	var q quantities
	u := &message.EVSEACUpdate{RCD: s.cfg.RCD, MaxCurrent: q.optional(current)}
	if q.err != nil {
		return s.tolerate("update AC parameters", q.err)
	}
	return s.tolerate("update AC parameters", s.client.EVSEUpdateACParameters(u))
}
