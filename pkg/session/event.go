// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "time"

// EventKind classifies an Event
type EventKind uint8

const (
	EventStateChanged EventKind = iota
	EventNotification
	EventMeasurement
	EventSessionError
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state"
	case EventNotification:
		return "notification"
	case EventMeasurement:
		return "measurement"
	case EventSessionError:
		return "session_error"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is published while a session runs. Only the fields of its kind
// are set.
type Event struct {
	Kind EventKind
	Role Role
	Time time.Time

	State        State
	Notification string

	SOC     uint8
	Voltage float64
	Current float64

	Err    error
	Result *Result
}

// Observer receives session events. Observe is called on the session
// goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Observe calls f(e)
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
