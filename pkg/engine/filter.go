// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"slices"

	"github.com/Thermoquad/whitebeet/pkg/framing"
)

// Filter selects the frames a receive call accepts. Every non-empty
// criterion must hold.
type Filter struct {
	Modules    []uint8
	Subs       []uint8
	RequestIDs []uint8

	// SubsByModule restricts sub ids per module. Frames from modules
	// without an entry are not restricted. It takes precedence over Subs.
	SubsByModule map[uint8][]uint8

	// Notifications accepts notification frames even when no other
	// criterion names them
	Notifications bool

	// OnlyNotifications rejects replies and other non-notification frames
	OnlyNotifications bool

	// SkipBacklog ignores frames left by earlier calls
	SkipBacklog bool
}

// Matches reports whether f accepts frame
func (f *Filter) Matches(frame *framing.Frame) bool {
	if f.OnlyNotifications && !frame.IsNotification() {
		return false
	}
	if len(f.RequestIDs) > 0 && !slices.Contains(f.RequestIDs, frame.RequestID()) {
		return false
	}
	if len(f.Modules) > 0 && !slices.Contains(f.Modules, frame.ModuleID()) {
		return false
	}
	if subs := f.subsFor(frame.ModuleID()); subs != nil && !slices.Contains(subs, frame.SubID()) {
		return false
	}
	// Notifications are reserved for the session dispatcher unless the
	// caller asked for them in some way
	if frame.IsNotification() && !f.Notifications && !f.OnlyNotifications && !f.hasSubFilter() &&
		len(f.Modules) == 0 && len(f.RequestIDs) == 0 {
		return false
	}
	return true
}

func (f *Filter) subsFor(module uint8) []uint8 {
	if f.SubsByModule != nil {
		return f.SubsByModule[module]
	}
	if len(f.Subs) > 0 {
		return f.Subs
	}
	return nil
}

func (f *Filter) hasSubFilter() bool {
	return len(f.Subs) > 0 || len(f.SubsByModule) > 0
}
