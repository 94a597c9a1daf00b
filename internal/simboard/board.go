// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simboard emulates a Whitebeet controller behind an in-memory
// transport.
//
// The board answers every command with a plausible reply and lets callers
// attach hooks that emit notifications, which is enough to script complete
// charging sessions for tests and for the offline demo mode of the CLI.
package simboard

import (
	"log/slog"
	"sync"

	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/transport"
)

// DefaultVersion is the firmware version the board reports
const DefaultVersion = "3.1.2"

// Hook runs after a command was answered and returns notification frames
// to queue behind the reply
type Hook func(payload []byte) [][]byte

type key uint16

func keyOf(moduleID, subID uint8) key {
	return key(moduleID)<<8 | key(subID)
}

// Board is a scripted controller
type Board struct {
	mu   sync.Mutex
	mock *transport.Mock
	log  *slog.Logger

	version   string
	cpMode    uint8
	cpState   uint8
	dutyCycle uint16
	resistor  uint8
	v2gMode   uint8

	replies map[key][][]byte
	hooks   map[key]Hook
	counts  map[key]int
	order   []key
}

// New returns an idle board with no peer attached
func New() *Board {
	b := &Board{
		log:       slog.Default().With("component", "simboard"),
		version:   DefaultVersion,
		cpMode:    0xFF,
		dutyCycle: 1000,
		v2gMode:   2,
		replies:   make(map[key][][]byte),
		hooks:     make(map[key]Hook),
		counts:    make(map[key]int),
	}
	b.mock = transport.NewMock(b.respond)
	return b
}

// Transport returns the host side of the board
func (b *Board) Transport() *transport.Mock {
	return b.mock
}

// SetVersion changes the reported firmware version
func (b *Board) SetVersion(v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = v
}

// SetDutyCycle sets the PWM duty cycle the EV side measures, in permille
func (b *Board) SetDutyCycle(permille uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dutyCycle = permille
}

// SetCPState sets the control pilot state the EVSE side measures
func (b *Board) SetCPState(state uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cpState = state
}

// SetV2GMode sets the V2G mode reported before the host sets one
func (b *Board) SetV2GMode(mode uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v2gMode = mode
}

// Reply queues reply payloads for a command. Each command consumes one;
// the last one is reused.
func (b *Board) Reply(moduleID, subID uint8, payloads ...[]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[keyOf(moduleID, subID)] = payloads
}

// On attaches a hook to a command
func (b *Board) On(moduleID, subID uint8, hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[keyOf(moduleID, subID)] = hook
}

// Count returns how often a command was received
func (b *Board) Count(moduleID, subID uint8) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[keyOf(moduleID, subID)]
}

// Commands returns the sub ids of every command received on moduleID, in
// order
func (b *Board) Commands(moduleID uint8) []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var subs []uint8
	for _, k := range b.order {
		if uint8(k>>8) == moduleID {
			subs = append(subs, uint8(k))
		}
	}
	return subs
}

// Notify queues a notification as if the controller raised it on its own
func (b *Board) Notify(frames ...[]byte) {
	b.mock.Inject(frames...)
}

// respond is the transport responder
func (b *Board) respond(raw []byte) [][]byte {
	frame, err := framing.Decode(raw)
	if err != nil {
		b.log.Warn("board received invalid frame", "error", err)
		return nil
	}
	k := keyOf(frame.ModuleID(), frame.SubID())

	b.mu.Lock()
	b.counts[k]++
	b.order = append(b.order, k)
	payload := b.replyLocked(k, frame)
	hook := b.hooks[k]
	b.mu.Unlock()

	reply, err := framing.Encode(frame.ModuleID(), frame.SubID(), frame.RequestID(), payload)
	if err != nil {
		return nil
	}
	out := [][]byte{reply}
	if hook != nil {
		out = append(out, hook(frame.Payload())...)
	}
	return out
}

// replyLocked builds the reply payload and applies the command to the
// board state
func (b *Board) replyLocked(k key, frame *framing.Frame) []byte {
	if scripted, ok := b.replies[k]; ok && len(scripted) > 0 {
		payload := scripted[0]
		if len(scripted) > 1 {
			b.replies[k] = scripted[1:]
		}
		return payload
	}

	arg := func() uint8 {
		if frame.Length() == 0 {
			return 0
		}
		return frame.Payload()[0]
	}

	switch k {
	case keyOf(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion):
		return append([]byte{0, uint8(len(b.version))}, b.version...)
	case keyOf(framing.ModuleControlPilot, framing.SubCPSetMode):
		b.cpMode = arg()
	case keyOf(framing.ModuleControlPilot, framing.SubCPGetMode):
		return []byte{0, b.cpMode}
	case keyOf(framing.ModuleControlPilot, framing.SubCPGetDutyCycle):
		return []byte{0, byte(b.dutyCycle >> 8), byte(b.dutyCycle)}
	case keyOf(framing.ModuleControlPilot, framing.SubCPGetState):
		return []byte{0, b.cpState}
	case keyOf(framing.ModuleControlPilot, framing.SubCPSetResistorValue):
		b.resistor = arg()
		return []byte{0}
	case keyOf(framing.ModuleControlPilot, framing.SubCPGetResistorValue):
		return []byte{0}
	case keyOf(framing.ModuleV2G, framing.SubV2GSetMode):
		b.v2gMode = arg()
	case keyOf(framing.ModuleV2G, framing.SubV2GGetMode):
		return []byte{0, b.v2gMode}
	}
	return []byte{framing.StatusAccepted}
}

// Resistor returns the resistor value last set by the host
func (b *Board) Resistor() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resistor
}

// SlacResult returns the SLAC matching result notification
func SlacResult(success bool) []byte {
	sub := uint8(framing.SubSlacMatchFailed)
	if success {
		sub = framing.SubSlacMatchSuccess
	}
	raw, _ := framing.Encode(framing.ModuleSLAC, sub, framing.RequestIDStatus, nil)
	return raw
}

// Notification encodes a V2G notification frame
func Notification(subID uint8, payload []byte) []byte {
	raw, _ := framing.Encode(framing.ModuleV2G, subID, framing.RequestIDStatus, payload)
	return raw
}
