// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session drives one charging attempt through a Whitebeet
// controller, in either the EV or the EVSE role.
//
// A session configures the control pilot and SLAC, waits for the peer,
// matches it, then follows the V2G notifications of the controller until
// the session stops. Teardown always runs, so the controller is never left
// with an open session.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/message"
)

// State is a phase of a charging session
type State uint8

const (
	StateInit State = iota
	StateAwaitPeerConnected
	StateSlacMatching
	StateSessionStarting
	StateSessionStarted
	StateCableCheckReady
	StateCableCheckStarted
	StateCableCheckFinished
	StatePreChargingReady
	StatePreChargingStarted
	StateChargingReady
	StateChargingStarted
	StateChargingStopped
	StatePostChargingReady
	StateSessionStopped
	StateEnd
)

var stateNames = [...]string{
	StateInit:               "Init",
	StateAwaitPeerConnected: "AwaitPeerConnected",
	StateSlacMatching:       "SlacMatching",
	StateSessionStarting:    "SessionStarting",
	StateSessionStarted:     "SessionStarted",
	StateCableCheckReady:    "CableCheckReady",
	StateCableCheckStarted:  "CableCheckStarted",
	StateCableCheckFinished: "CableCheckFinished",
	StatePreChargingReady:   "PreChargingReady",
	StatePreChargingStarted: "PreChargingStarted",
	StateChargingReady:      "ChargingReady",
	StateChargingStarted:    "ChargingStarted",
	StateChargingStopped:    "ChargingStopped",
	StatePostChargingReady:  "PostChargingReady",
	StateSessionStopped:     "SessionStopped",
	StateEnd:                "End",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Role is the side of the charging cable the host plays
type Role uint8

const (
	RoleEV Role = iota
	RoleEVSE
)

func (r Role) String() string {
	if r == RoleEVSE {
		return "EVSE"
	}
	return "EV"
}

// ParseRole accepts EV or EVSE in any case
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(s) {
	case "EV":
		return RoleEV, nil
	case "EVSE":
		return RoleEVSE, nil
	default:
		return 0, fmt.Errorf("unknown role %q, expected EV or EVSE", s)
	}
}

// Reason tells why a session ended
type Reason uint8

const (
	ReasonCompleted Reason = iota
	ReasonTimeout
	ReasonRejected
	ReasonPeerError
	ReasonConnectionLost
	ReasonSlacFailed
	ReasonWrongState
	ReasonCancelled
)

var reasonNames = [...]string{
	ReasonCompleted:      "completed",
	ReasonTimeout:        "timeout",
	ReasonRejected:       "rejected",
	ReasonPeerError:      "peer error",
	ReasonConnectionLost: "connection lost",
	ReasonSlacFailed:     "SLAC failed",
	ReasonWrongState:     "wrong state",
	ReasonCancelled:      "cancelled",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// Err is returned by Run for every reason except ReasonCompleted
var Err = errors.New("session failed")

// Result summarises a finished session
type Result struct {
	Role       Role
	Reason     Reason
	FinalState State
	Detail     string

	SessionID          []byte
	PeerID             []byte
	Protocol           message.Protocol
	EnergyTransferMode message.EnergyTransferMode

	StartedAt time.Time
	EndedAt   time.Time

	StartSOC    uint8
	FinalSOC    uint8
	EnergyWh    float64
	ChargeCount int

	SessionErrors []SessionError
}

// Duration returns how long the session ran
func (r *Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Error describes a failed session; nil when it completed
func (r *Result) Error() error {
	if r.Reason == ReasonCompleted {
		return nil
	}
	if r.Detail == "" {
		return fmt.Errorf("%w: %s in %s", Err, r.Reason, r.FinalState)
	}
	return fmt.Errorf("%w: %s in %s: %s", Err, r.Reason, r.FinalState, r.Detail)
}

// SessionError is an error reported by the peer during the session
type SessionError struct {
	Code message.SessionErrorCode
	At   time.Time
}

// Error implements the error interface
func (e SessionError) Error() string {
	return fmt.Sprintf("session error %d: %s", uint8(e.Code), e.Code)
}
