// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/sim"
	"github.com/Thermoquad/whitebeet/pkg/whitebeet"
)

// Duty cycle range in percent that shows an EVSE offering digital
// communication
const (
	minPeerDutyCycle = 0.1
	maxPeerDutyCycle = 10
)

// EV runs a session in the EV role
type EV struct {
	controller

	cfg     EVConfig
	battery *sim.Battery

	mode      message.EnergyTransferMode
	modeKnown bool
	schedule  *schedule
	exhausted bool

	pendingStart  bool
	stopRequested bool
}

// NewEV creates an EV session on client. The configuration is validated
// by Run.
func NewEV(client *whitebeet.Client, cfg EVConfig, opts ...Option) *EV {
	o := buildOptions(opts)
	return &EV{
		controller: newController(RoleEV, client, cfg.Timing, o),
		cfg:        cfg,
		battery:    sim.NewBattery(cfg.Battery, o.clock),
	}
}

// Battery returns the simulated battery of the session
func (s *EV) Battery() *sim.Battery {
	return s.battery
}

// Run drives the session until the EVSE stops it, an error ends it or
// ctx is done. The error is Result.Error().
func (s *EV) Run(ctx context.Context) (Result, error) {
	s.result.StartedAt = time.Now()
	s.result.StartSOC = s.battery.SOC()
	startLevel := s.battery.Level()

	err := s.run(ctx)

	s.result.FinalSOC = s.battery.SOC()
	s.result.EnergyWh = s.battery.Level() - startLevel
	return s.finish(err)
}

func (s *EV) run(ctx context.Context) (err error) {
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
	if err := s.awaitEVSE(ctx); err != nil {
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

func (s *EV) initialize(ctx context.Context) error {
	if err := s.client.CPSetMode(whitebeet.ModeEV); err != nil {
		return err
	}
	if err := s.client.CPStart(); err != nil {
		return err
	}
	if err := s.client.SlacSetValidationConfiguration(false); err != nil {
		return err
	}
	if err := s.client.SlacStart(whitebeet.ModeEV); err != nil {
		return err
	}
	return s.sleep(ctx, s.timing.SettleDelay)
}

// awaitEVSE polls the duty cycle until an EVSE offers digital
// communication
func (s *EV) awaitEVSE(ctx context.Context) error {
	s.log.Info("waiting for EVSE")
	start := time.Now()
	for {
		dc, err := s.client.CPGetDutyCycle()
		if err != nil {
			return err
		}
		if dc > minPeerDutyCycle && dc < maxPeerDutyCycle {
			s.log.Info("EVSE connected", "duty_cycle", dc)
			return nil
		}
		if t := s.timing.PeerTimeout; t > 0 && time.Since(start) >= t {
			return abort(ReasonTimeout, "no EVSE within %v", t)
		}
		if err := s.sleep(ctx, s.timing.PeerPollInterval); err != nil {
			return err
		}
	}
}

func (s *EV) match(ctx context.Context) error {
	if err := s.sleep(ctx, s.timing.MatchDelay); err != nil {
		return err
	}
	s.log.Info("starting SLAC matching")
	if err := s.client.SlacStartMatching(); err != nil {
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

func (s *EV) startSession() error {
	modes := s.cfg.EnergyTransferModes
	if s.cfg.PortMirror {
		if err := s.client.SetPortMirrorState(true); err != nil {
			return err
		}
	}
	if err := s.client.V2GSetMode(whitebeet.ModeEV); err != nil {
		return err
	}

	var q quantities
	config := &message.EVConfig{
		EVID:                s.cfg.EVID,
		Protocols:           s.cfg.Protocols,
		PaymentMethods:      s.cfg.PaymentMethods,
		EnergyTransferModes: modes,
		BatteryCapacity:     q.of(s.cfg.Battery.Capacity),
	}
	if q.err != nil {
		return q.err
	}
	if err := s.client.EVSetConfiguration(config); err != nil {
		return err
	}

	if message.HasDC(modes) {
		p, err := s.dcParameters()
		if err != nil {
			return err
		}
		if err := s.client.EVSetDCParameters(p); err != nil {
			return err
		}
	}
	if message.HasAC(modes) {
		p, err := s.acParameters()
		if err != nil {
			return err
		}
		if err := s.client.EVSetACParameters(p); err != nil {
			return err
		}
	}

	if err := s.client.V2GStart(); err != nil {
		return err
	}
	if _, err := s.client.CPSetResistorValue(whitebeet.ResistorReady); err != nil {
		return err
	}
	return s.client.EVStartSession()
}

// teardown releases the control pilot and stops V2G. Failures are logged
// only, the session is over either way.
func (s *EV) teardown() {
	if _, err := s.client.CPSetResistorValue(whitebeet.ResistorNotReady); err != nil {
		s.log.Warn("teardown: release control pilot", "error", err)
	}
	if err := s.client.V2GStop(); err != nil {
		s.log.Warn("teardown: stop V2G", "error", err)
	}
}

func (s *EV) dcParameters() (*message.EVDCParameters, error) {
	cfg := s.cfg.Battery
	var q quantities
	p := &message.EVDCParameters{
		MinVoltage:    q.of(evMinVoltage),
		MinCurrent:    q.of(evMinCurrent),
		MinPower:      q.of(evMinVoltage * evMinCurrent),
		MaxVoltage:    q.of(cfg.MaxVoltage),
		MaxCurrent:    q.of(cfg.MaxCurrent),
		MaxPower:      q.of(cfg.MaxPower),
		SOC:           s.battery.SOC(),
		TargetVoltage: q.of(s.battery.TargetVoltage()),
		TargetCurrent: q.of(s.battery.TargetCurrent()),
		FullSOC:       cfg.FullSOC,
		BulkSOC:       cfg.BulkSOC,
		EnergyRequest: q.of(s.battery.EnergyRequest()),
		DepartureTime: s.cfg.DepartureTime,
	}
	return p, q.err
}

func (s *EV) acParameters() (*message.EVACParameters, error) {
	cfg := s.cfg.Battery
	var q quantities
	p := &message.EVACParameters{
		MinVoltage:    q.of(evMinVoltage),
		MinCurrent:    q.of(cfg.MinCurrentAC),
		MinPower:      q.of(evMinVoltage * cfg.MinCurrentAC),
		MaxVoltage:    q.of(cfg.MaxVoltageAC),
		MaxCurrent:    q.of(cfg.MaxCurrentAC),
		MaxPower:      q.of(cfg.MaxPower),
		EnergyRequest: q.of(s.battery.EnergyRequest()),
		DepartureTime: s.cfg.DepartureTime,
	}
	return p, q.err
}

func (s *EV) loop(ctx context.Context) error {
	last := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.battery.Tick() {
			if err := s.step(); err != nil {
				return err
			}
		}

		frame, err := s.client.ReceiveEVNotification(ctx, s.timing.NotificationWait, false)
		if err != nil {
			return err
		}
		if frame == nil {
			if t := s.timing.IdleTimeout; t > 0 && time.Since(last) >= t {
				return abort(ReasonTimeout, "no notification from EVSE for %v", t)
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

// step runs once per battery time step: it follows the schedule, then
// either updates the charge parameters or stops a full battery
func (s *EV) step() error {
	if err := s.followSchedule(); err != nil {
		return err
	}
	soc := s.battery.SOC()
	s.emit(Event{
		Kind:    EventMeasurement,
		SOC:     soc,
		Voltage: s.battery.PresentVoltage(),
		Current: s.battery.PresentCurrent(),
	})
	if soc < s.cfg.Battery.FullSOC {
		if !message.HasDC(s.cfg.EnergyTransferModes) || (s.modeKnown && s.mode.IsAC()) {
			return nil
		}
		p, err := s.dcParameters()
		if err != nil {
			return s.tolerate("update DC parameters", err)
		}
		return s.tolerate("update DC parameters", s.client.EVUpdateDCParameters(p.Update()))
	}
	if s.battery.Charging() {
		return s.requestStop(fmt.Sprintf("battery reached %d%%", soc))
	}
	return nil
}

func (s *EV) followSchedule() error {
	if s.schedule == nil {
		return nil
	}
	power, ok := s.schedule.at(s.clock.Now())
	if !ok {
		if !s.exhausted {
			s.exhausted = true
			s.log.Info("schedule exhausted")
		}
		if s.battery.Charging() {
			return s.requestStop("schedule exhausted")
		}
		return nil
	}
	s.battery.SetTargetCurrent(scheduledCurrent(s.cfg.Battery, power))
	return nil
}

// requestStop asks the EVSE to stop charging, at most once per charging
// period
func (s *EV) requestStop(why string) error {
	if s.stopRequested {
		return nil
	}
	s.stopRequested = true
	s.battery.SetCharging(false)
	s.log.Info("stopping charging", "reason", why)
	return s.tolerate("stop charging", s.client.EVStopCharging(false))
}

// mayCharge evaluates the charge authorization guard on the last present
// values
func (s *EV) mayCharge() (bool, string) {
	if s.exhausted {
		return false, "schedule exhausted"
	}
	v, i := s.battery.PresentVoltage(), s.battery.PresentCurrent()
	if s.modeKnown && s.mode.IsAC() {
		if v >= s.cfg.Battery.MaxVoltageAC || !s.battery.VoltageInWindow(v) {
			return false, fmt.Sprintf("present voltage %.1f V not acceptable for AC", v)
		}
		return true, ""
	}
	if why := dcViolation(s.battery, v, i); why != "" {
		return false, why
	}
	return true, ""
}

func (s *EV) startCharging() error {
	ok, why := s.mayCharge()
	if !ok {
		s.pendingStart = true
		s.log.Info("charging not authorized yet", "reason", why)
		return nil
	}
	s.pendingStart = false
	s.log.Info("starting charging")
	return s.tolerate("start charging", s.client.EVStartCharging())
}

func (s *EV) dispatch(frame *framing.Frame) (bool, error) {
	kind := message.EVNotificationKind(frame.SubID())
	payload := frame.Payload()
	s.log.Debug("notification", "kind", kind.String())
	s.emit(Event{Kind: EventNotification, Notification: kind.String()})

	switch kind {
	case message.EVSessionStarted:
		info, err := message.ParseEVSessionStarted(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.onSessionStarted(info)

	case message.EVDCChargeParametersChanged:
		info, err := message.ParseEVDCChargeParametersChanged(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		return false, s.onDCParameters(info)

	case message.EVACChargeParametersChanged:
		info, err := message.ParseEVACChargeParametersChanged(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		return false, s.onACParameters(info)

	case message.EVScheduleReceived:
		info, err := message.ParseEVScheduleReceived(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		return false, s.onSchedule(info)

	case message.EVCableCheckReady:
		if !s.advance(StateCableCheckReady) {
			return false, nil
		}
		if err := s.client.EVStartCableCheck(); err != nil {
			return false, s.tolerate("start cable check", err)
		}
		s.advance(StateCableCheckStarted)

	case message.EVCableCheckFinished:
		s.advance(StateCableCheckFinished)

	case message.EVPreChargingReady:
		if !s.advance(StatePreChargingReady) {
			return false, nil
		}
		if err := s.client.EVStartPreCharging(); err != nil {
			return false, s.tolerate("start pre-charging", err)
		}
		s.advance(StatePreChargingStarted)

	case message.EVChargingReady:
		if !s.advance(StateChargingReady) {
			return false, nil
		}
		return false, s.startCharging()

	case message.EVChargingStarted:
		s.advance(StateChargingStarted)
		s.battery.SetCharging(true)
		s.pendingStart = false
		s.stopRequested = false
		s.result.ChargeCount++

	case message.EVChargingStopped:
		s.battery.SetCharging(false)
		s.advance(StateChargingStopped)

	case message.EVPostChargingReady:
		if !s.advance(StatePostChargingReady) {
			return false, nil
		}
		return false, s.tolerate("stop session", s.client.EVStopSession())

	case message.EVSessionStopped:
		s.battery.SetCharging(false)
		s.advance(StateSessionStopped)
		return true, nil

	case message.EVNotificationReceived:
		info, err := message.ParseEVNotificationReceived(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		return false, s.onEVSENotification(info)

	case message.EVSessionError:
		code, err := message.ParseSessionError(payload)
		if err != nil {
			s.malformed(kind.String(), payload, err)
			return false, nil
		}
		s.battery.SetCharging(false)
		s.sessionError(code)

	default:
		return false, abort(ReasonPeerError, "unsupported notification 0x%02X", frame.SubID())
	}
	return false, nil
}

func (s *EV) onSessionStarted(info *message.EVSessionStartedInfo) {
	s.advance(StateSessionStarted)
	s.result.SessionID = info.SessionID
	s.result.PeerID = info.EVSEID
	s.result.Protocol = info.Protocol
	s.result.EnergyTransferMode = info.EnergyTransferMode
	s.log.Info("session started",
		"protocol", info.Protocol.String(),
		"session_id", fmt.Sprintf("%X", info.SessionID),
		"evse_id", string(info.EVSEID),
		"payment", info.PaymentMethod.String(),
		"mode", info.EnergyTransferMode.String())

	for _, m := range s.cfg.EnergyTransferModes {
		if m == info.EnergyTransferMode {
			s.mode = m
			s.modeKnown = true
			return
		}
	}
	s.log.Warn("EVSE selected an energy transfer mode we did not offer", "mode", info.EnergyTransferMode.String())
}

func (s *EV) onDCParameters(info *message.EVDCChargeParametersChangedInfo) error {
	v, i := info.PresentVoltage.Value(), info.PresentCurrent.Value()
	s.battery.SetPresent(v, i)
	s.emit(Event{Kind: EventMeasurement, SOC: s.battery.SOC(), Voltage: v, Current: i})

	wasCharging := s.battery.Charging()
	if info.Status != 0 && wasCharging {
		s.log.Warn("EVSE reports status", "status", info.Status)
		s.battery.SetCharging(false)
	}
	if why := dcViolation(s.battery, v, i); why != "" {
		if wasCharging {
			return s.requestStop(why)
		}
		return nil
	}
	if s.pendingStart && s.state == StateChargingReady {
		return s.startCharging()
	}
	return nil
}

func (s *EV) onACParameters(info *message.EVACChargeParametersChangedInfo) error {
	v := info.NominalVoltage.Value()
	i := info.MaxCurrent.Value()
	if s.schedule != nil && v > 0 {
		if power, ok := s.schedule.at(s.clock.Now()); ok && power/v < i {
			i = power / v
		}
	}
	s.battery.SetPresent(v, i)
	s.emit(Event{Kind: EventMeasurement, SOC: s.battery.SOC(), Voltage: v, Current: i})

	if why := acViolation(s.battery, v, i, info.RCD); why != "" {
		if s.battery.Charging() {
			return s.requestStop(why)
		}
		return nil
	}
	if s.pendingStart && s.state == StateChargingReady {
		return s.startCharging()
	}
	return nil
}

func (s *EV) onSchedule(info *message.EVScheduleReceivedInfo) error {
	entries := info.Entries
	if len(entries) > message.MaxProfileEntries {
		entries = entries[:message.MaxProfileEntries]
	}
	s.log.Info("schedule received", "tuple_id", info.TupleID, "entries", len(info.Entries))
	if len(entries) == 0 {
		return nil
	}
	s.schedule = newSchedule(entries, s.clock.Now())
	s.exhausted = false
	if err := s.followSchedule(); err != nil {
		return err
	}
	profile := &message.ChargingProfile{ScheduleTupleID: info.TupleID, Entries: entries}
	return s.tolerate("set charging profile", s.client.EVSetChargingProfile(profile))
}

func (s *EV) onEVSENotification(info *message.EVNotificationReceivedInfo) error {
	switch info.Type {
	case message.NotificationStopCharging:
		s.log.Info("EVSE asks to stop charging", "max_delay", info.MaxDelay)
		if s.battery.Charging() {
			return s.requestStop("EVSE request")
		}
	case message.NotificationRenegotiate:
		s.log.Info("EVSE asks to renegotiate", "max_delay", info.MaxDelay)
		if !message.HasDC(s.cfg.EnergyTransferModes) {
			return nil
		}
		p, err := s.dcParameters()
		if err != nil {
			return s.tolerate("set DC parameters", err)
		}
		return s.tolerate("set DC parameters", s.client.EVSetDCParameters(p))
	default:
		s.log.Warn("unknown EVSE notification type", "type", info.Type)
	}
	return nil
}
