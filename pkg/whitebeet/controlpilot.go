// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package whitebeet

import (
	"fmt"

	"github.com/Thermoquad/whitebeet/pkg/framing"
)

// Mode is the role a controller service runs in
type Mode uint8

const (
	ModeEV    Mode = 0
	ModeEVSE  Mode = 1
	ModeUnset Mode = 0xFF
)

func (m Mode) String() string {
	switch m {
	case ModeEV:
		return "EV"
	case ModeEVSE:
		return "EVSE"
	case ModeUnset:
		return "unset"
	default:
		return fmt.Sprintf("MODE_%d", uint8(m))
	}
}

func (m Mode) valid() bool {
	return m == ModeEV || m == ModeEVSE
}

// CPState is the IEC 61851 state seen on the control pilot
type CPState uint8

const (
	CPStateA CPState = iota
	CPStateB
	CPStateC
	CPStateD
	CPStateE
	CPStateF
	CPStateUnknown
)

func (s CPState) String() string {
	if s < CPStateUnknown {
		return string(rune('A' + s))
	}
	return "unknown"
}

// Resistor values the EV switches onto the control pilot
const (
	ResistorNotReady uint8 = 0 // state B
	ResistorReady    uint8 = 1 // state C
)

// Reply status of a control pilot stop when the service was not running
const cpStatusNotRunning = 0x05

// CPSetMode selects the control pilot role
func (c *Client) CPSetMode(mode Mode) error {
	if !mode.valid() {
		return invalidArgument("mode", "%s is not EV or EVSE", mode)
	}
	_, err := c.ack(framing.ModuleControlPilot, framing.SubCPSetMode, []byte{uint8(mode)})
	return err
}

// CPGetMode returns the control pilot role, ModeUnset if none was set
func (c *Client) CPGetMode() (Mode, error) {
	reply, err := c.ack(framing.ModuleControlPilot, framing.SubCPGetMode, nil)
	if err != nil {
		return 0, err
	}
	if reply.Length() != 2 {
		return 0, replyError(framing.ModuleControlPilot, framing.SubCPGetMode, "malformed reply with length %d", reply.Length())
	}
	mode := Mode(reply.Payload()[1])
	if !mode.valid() && mode != ModeUnset {
		return 0, replyError(framing.ModuleControlPilot, framing.SubCPGetMode, "invalid mode %d", uint8(mode))
	}
	return mode, nil
}

// CPStart starts the control pilot service
func (c *Client) CPStart() error {
	_, err := c.ack(framing.ModuleControlPilot, framing.SubCPStart, nil)
	return err
}

// CPStop stops the control pilot service. Stopping a service that is not
// running succeeds.
func (c *Client) CPStop() error {
	return c.status(framing.ModuleControlPilot, framing.SubCPStop, framing.StatusAccepted, cpStatusNotRunning)
}

// CPSetDutyCycle sets the PWM duty cycle in percent, 0 to 100. The
// controller resolves it to one permille.
func (c *Client) CPSetDutyCycle(percent float64) error {
	if percent < 0 || percent > 100 {
		return invalidArgument("duty_cycle", "%v out of range 0..100", percent)
	}
	permille := uint16(percent * 10)
	_, err := c.ack(framing.ModuleControlPilot, framing.SubCPSetDutyCycle, []byte{byte(permille >> 8), byte(permille)})
	return err
}

// CPGetDutyCycle returns the measured PWM duty cycle in percent
func (c *Client) CPGetDutyCycle() (float64, error) {
	reply, err := c.ack(framing.ModuleControlPilot, framing.SubCPGetDutyCycle, nil)
	if err != nil {
		return 0, err
	}
	if reply.Length() != 3 {
		return 0, replyError(framing.ModuleControlPilot, framing.SubCPGetDutyCycle, "malformed reply with length %d", reply.Length())
	}
	p := reply.Payload()
	dc := float64(uint16(p[1])<<8|uint16(p[2])) / 10
	if dc > 100 {
		return 0, replyError(framing.ModuleControlPilot, framing.SubCPGetDutyCycle, "invalid duty cycle %v", dc)
	}
	return dc, nil
}

// CPGetResistorValue returns the resistor state of the control pilot,
// 0 to 4
func (c *Client) CPGetResistorValue() (uint8, error) {
	reply, err := c.ack(framing.ModuleControlPilot, framing.SubCPGetResistorValue, nil)
	if err != nil {
		return 0, err
	}
	return resistorReply(framing.SubCPGetResistorValue, reply.Payload())
}

// CPSetResistorValue switches the EV resistor, ResistorNotReady or
// ResistorReady, and returns the resulting resistor state
func (c *Client) CPSetResistorValue(value uint8) (uint8, error) {
	if value > ResistorReady {
		return 0, invalidArgument("resistor_value", "%d out of range 0..1", value)
	}
	reply, err := c.ack(framing.ModuleControlPilot, framing.SubCPSetResistorValue, []byte{value})
	if err != nil {
		return 0, err
	}
	return resistorReply(framing.SubCPSetResistorValue, reply.Payload())
}

func resistorReply(subID uint8, payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, replyError(framing.ModuleControlPilot, subID, "malformed reply with length %d", len(payload))
	}
	if payload[0] > 4 {
		return 0, replyError(framing.ModuleControlPilot, subID, "invalid resistor state %d", payload[0])
	}
	return payload[0], nil
}

// CPGetState returns the state seen on the control pilot
func (c *Client) CPGetState() (CPState, error) {
	reply, err := c.ack(framing.ModuleControlPilot, framing.SubCPGetState, nil)
	if err != nil {
		return 0, err
	}
	if reply.Length() != 2 {
		return 0, replyError(framing.ModuleControlPilot, framing.SubCPGetState, "malformed reply with length %d", reply.Length())
	}
	state := CPState(reply.Payload()[1])
	if state > CPStateUnknown {
		return 0, replyError(framing.ModuleControlPilot, framing.SubCPGetState, "invalid state %d", uint8(state))
	}
	return state, nil
}
