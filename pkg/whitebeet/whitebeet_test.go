// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package whitebeet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/whitebeet/internal/simboard"
	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
)

func newClient(b *simboard.Board) *Client {
	return New(engine.New(b.Transport(), engine.WithTimeout(200*time.Millisecond)))
}

// capture records the payload of every command with the given ids
func capture(b *simboard.Board, moduleID, subID uint8) *[][]byte {
	var payloads [][]byte
	b.On(moduleID, subID, func(p []byte) [][]byte {
		payloads = append(payloads, append([]byte(nil), p...))
		return nil
	})
	return &payloads
}

// ============================================================
// Handshake Tests
// ============================================================

func TestOpen_Handshake(t *testing.T) {
	b := simboard.New()
	b.SetVersion("3.2.0")

	c, err := Open(engine.New(b.Transport()))
	require.NoError(t, err)
	assert.Equal(t, "3.2.0", c.Version())

	assert.Equal(t, 1, b.Count(framing.ModuleSLAC, framing.SubSlacStop))
	assert.Equal(t, 1, b.Count(framing.ModuleControlPilot, framing.SubCPStop))
	assert.Equal(t, []uint8{framing.SubV2GGetMode}, b.Commands(framing.ModuleV2G),
		"no stop listen unless the controller is in EVSE mode")
}

func TestOpen_StopsListeningEVSE(t *testing.T) {
	b := simboard.New()
	b.SetV2GMode(uint8(ModeEVSE))

	_, err := Open(engine.New(b.Transport()))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Count(framing.ModuleV2G, framing.SubEVSEStopListen))
}

func TestOpen_FailsOnRejectedStop(t *testing.T) {
	b := simboard.New()
	b.Reply(framing.ModuleSLAC, framing.SubSlacStop, []byte{0x22})

	_, err := Open(engine.New(b.Transport(), engine.WithTimeout(100*time.Millisecond)))
	var rejected *engine.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, uint8(0x22), rejected.Code)
	assert.Contains(t, err.Error(), "controller handshake")
}

func TestClose_ShutsTransportDown(t *testing.T) {
	b := simboard.New()
	c := newClient(b)
	require.NoError(t, c.Close())

	err := c.V2GStart()
	assert.True(t, errors.Is(err, engine.ErrTransportClosed))
}

// ============================================================
// System and Control Pilot Tests
// ============================================================

func TestFirmwareVersion_Malformed(t *testing.T) {
	b := simboard.New()
	b.Reply(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, []byte{0, 9, 'x'})
	c := newClient(b)

	_, err := c.FirmwareVersion()
	var replyErr *ReplyError
	require.ErrorAs(t, err, &replyErr)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestCPStop_AcceptsNotRunning(t *testing.T) {
	b := simboard.New()
	b.Reply(framing.ModuleControlPilot, framing.SubCPStop, []byte{0x05}, []byte{0x07})
	c := newClient(b)

	assert.NoError(t, c.CPStop())

	err := c.CPStop()
	var rejected *engine.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, uint8(0x07), rejected.Code)
}

func TestCPSetDutyCycle(t *testing.T) {
	b := simboard.New()
	sent := capture(b, framing.ModuleControlPilot, framing.SubCPSetDutyCycle)
	c := newClient(b)

	require.NoError(t, c.CPSetDutyCycle(5))
	require.NoError(t, c.CPSetDutyCycle(100))
	assert.Equal(t, [][]byte{{0x00, 0x32}, {0x03, 0xE8}}, *sent)

	var valueErr *message.ValueError
	assert.ErrorAs(t, c.CPSetDutyCycle(100.1), &valueErr)
	assert.ErrorAs(t, c.CPSetDutyCycle(-1), &valueErr)
	assert.Len(t, *sent, 2, "invalid values never reach the controller")
}

func TestCPGetDutyCycle(t *testing.T) {
	b := simboard.New()
	b.SetDutyCycle(50)
	c := newClient(b)

	dc, err := c.CPGetDutyCycle()
	require.NoError(t, err)
	assert.Equal(t, 5.0, dc)

	b.SetDutyCycle(1001)
	_, err = c.CPGetDutyCycle()
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestCPSetResistorValue(t *testing.T) {
	b := simboard.New()
	c := newClient(b)

	_, err := c.CPSetResistorValue(ResistorReady)
	require.NoError(t, err)
	assert.Equal(t, ResistorReady, b.Resistor())

	_, err = c.CPSetResistorValue(2)
	var valueErr *message.ValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, "resistor_value", valueErr.Field)
}

func TestCPGetState(t *testing.T) {
	b := simboard.New()
	b.SetCPState(uint8(CPStateB))
	c := newClient(b)

	state, err := c.CPGetState()
	require.NoError(t, err)
	assert.Equal(t, CPStateB, state)
	assert.Equal(t, "B", state.String())

	b.SetCPState(9)
	_, err = c.CPGetState()
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestModeValidation(t *testing.T) {
	c := newClient(simboard.New())
	var valueErr *message.ValueError
	assert.ErrorAs(t, c.CPSetMode(ModeUnset), &valueErr)
	assert.ErrorAs(t, c.V2GSetMode(Mode(7)), &valueErr)
}

// ============================================================
// SLAC Tests
// ============================================================

func TestSlacMatched(t *testing.T) {
	tests := []struct {
		name    string
		success bool
	}{
		{"success", true},
		{"failure", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := simboard.New()
			c := newClient(b)
			b.Notify(simboard.SlacResult(tt.success))

			matched, err := c.SlacMatched(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.success, matched)
		})
	}
}

func TestSlacMatched_MalformedNotification(t *testing.T) {
	b := simboard.New()
	c := newClient(b)
	raw, err := framing.Encode(framing.ModuleSLAC, framing.SubSlacMatchSuccess, framing.RequestIDStatus, []byte{1})
	require.NoError(t, err)
	b.Notify(raw)

	_, err = c.SlacMatched(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestSlacMatched_Cancelled(t *testing.T) {
	c := newClient(simboard.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SlacMatched(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSlacJoinNetwork_Validation(t *testing.T) {
	c := newClient(simboard.New())
	var valueErr *message.ValueError
	require.ErrorAs(t, c.SlacJoinNetwork(make([]byte, 6), make([]byte, NMKSize)), &valueErr)
	assert.Equal(t, "nid", valueErr.Field)
	require.ErrorAs(t, c.SlacJoinNetwork(make([]byte, NIDSize), make([]byte, 15)), &valueErr)
	assert.Equal(t, "nmk", valueErr.Field)
	assert.NoError(t, c.SlacJoinNetwork(make([]byte, NIDSize), make([]byte, NMKSize)))
}

// ============================================================
// V2G Tests
// ============================================================

func TestV2GGetMode(t *testing.T) {
	b := simboard.New()
	c := newClient(b)

	mode, err := c.V2GGetMode()
	require.NoError(t, err)
	assert.Equal(t, ModeUnset, mode)

	require.NoError(t, c.V2GSetMode(ModeEV))
	mode, err = c.V2GGetMode()
	require.NoError(t, err)
	assert.Equal(t, ModeEV, mode)
}

func TestReceiveEVNotification_LeavesOtherFrames(t *testing.T) {
	b := simboard.New()
	c := newClient(b)
	b.Notify(
		simboard.Notification(framing.SubEVSESessionStarted, nil),
		simboard.Notification(framing.SubEVChargingReady, nil),
	)

	frame, err := c.ReceiveEVNotification(context.Background(), 50*time.Millisecond, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(framing.SubEVChargingReady), frame.SubID())

	frame, err = c.ReceiveEVSENotification(context.Background(), 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(framing.SubEVSESessionStarted), frame.SubID())

	frame, err = c.ReceiveEVNotification(context.Background(), 0, false)
	assert.NoError(t, err)
	assert.Nil(t, frame, "silent receive returns nothing on expiry")

	_, err = c.ReceiveEVNotification(context.Background(), 0, true)
	var timeout *engine.TimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestEVSetConfiguration_ValidatesBeforeSending(t *testing.T) {
	b := simboard.New()
	c := newClient(b)

	err := c.EVSetConfiguration(&message.EVConfig{EVID: []byte{1, 2, 3}})
	var valueErr *message.ValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, 0, b.Count(framing.ModuleV2G, framing.SubEVSetConfiguration))
}

func TestEVStopCharging_Payload(t *testing.T) {
	b := simboard.New()
	sent := capture(b, framing.ModuleV2G, framing.SubEVStopCharging)
	c := newClient(b)

	require.NoError(t, c.EVStopCharging(false))
	require.NoError(t, c.EVStopCharging(true))
	assert.Equal(t, [][]byte{{0}, {1}}, *sent)
}

func TestEVSE_SuccessFlags(t *testing.T) {
	b := simboard.New()
	auth := capture(b, framing.ModuleV2G, framing.SubEVSESetAuthorizationStatus)
	cable := capture(b, framing.ModuleV2G, framing.SubEVSESetCableCheckFinished)
	c := newClient(b)

	require.NoError(t, c.EVSESetAuthorizationStatus(true))
	require.NoError(t, c.EVSESetAuthorizationStatus(false))
	require.NoError(t, c.EVSESetCableCheckFinished(true))
	assert.Equal(t, [][]byte{{0}, {1}}, *auth, "0 means authorized")
	assert.Equal(t, [][]byte{{0}}, *cable)
}

func TestEVSESendNotification_Payload(t *testing.T) {
	b := simboard.New()
	sent := capture(b, framing.ModuleV2G, framing.SubEVSESendNotification)
	c := newClient(b)

	require.NoError(t, c.EVSESendNotification(true, 300))
	assert.Equal(t, [][]byte{{1, 0x01, 0x2C}}, *sent)
}

func TestEVSEGetSDPConfig(t *testing.T) {
	b := simboard.New()
	b.Reply(framing.ModuleV2G, framing.SubEVSEGetSDPConfig, []byte{0, 1, 0xC3, 0x50, 0})
	c := newClient(b)

	cfg, err := c.EVSEGetSDPConfig()
	require.NoError(t, err)
	assert.True(t, cfg.AllowUnsecure)
	assert.Equal(t, uint16(50000), cfg.UnsecurePort)
	assert.False(t, cfg.AllowSecure)
}
