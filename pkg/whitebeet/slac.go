// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package whitebeet

import (
	"context"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
)

// SLAC timing
const (
	// SlacMatchWait bounds the wait for a matching result
	SlacMatchWait = 60 * time.Second

	// SlacMatchTimeout is the matching timeout of the controller. A failure
	// reported after it is a timeout rather than a rejected match.
	SlacMatchTimeout = 49 * time.Second

	// SlacJoinWait bounds the wait for a join result
	SlacJoinWait = 30 * time.Second
)

// Network key sizes
const (
	NIDSize = 7
	NMKSize = 16
)

// Reply status of a SLAC stop when the service was not running
const slacStatusNotRunning = 0x10

// SlacStart starts the SLAC service in the given role
func (c *Client) SlacStart(mode Mode) error {
	if !mode.valid() {
		return invalidArgument("mode", "%s is not EV or EVSE", mode)
	}
	_, err := c.ack(framing.ModuleSLAC, framing.SubSlacStart, []byte{uint8(mode)})
	return err
}

// SlacStop stops the SLAC service. Stopping a service that is not running
// succeeds.
func (c *Client) SlacStop() error {
	return c.status(framing.ModuleSLAC, framing.SubSlacStop, framing.StatusAccepted, slacStatusNotRunning)
}

// SlacStartMatching starts the matching process
func (c *Client) SlacStartMatching() error {
	_, err := c.ack(framing.ModuleSLAC, framing.SubSlacStartMatching, nil)
	return err
}

// SlacMatched waits for the result of the matching process. It returns
// true on success and false when the peer could not be matched. A failure
// reported after SlacMatchTimeout, or no result at all, is a
// *engine.TimeoutError.
func (c *Client) SlacMatched(ctx context.Context) (bool, error) {
	start := time.Now()
	frame, err := c.engine.ReceiveMatchingContext(ctx, engine.Filter{
		Modules:    []uint8{framing.ModuleSLAC},
		Subs:       []uint8{framing.SubSlacMatchSuccess, framing.SubSlacMatchFailed},
		RequestIDs: []uint8{framing.RequestIDStatus},
	}, SlacMatchWait, true)
	if err != nil {
		return false, err
	}
	if frame.Length() != 0 {
		return false, replyError(framing.ModuleSLAC, frame.SubID(), "malformed notification with length %d", frame.Length())
	}
	if frame.SubID() == framing.SubSlacMatchSuccess {
		return true, nil
	}
	if time.Since(start) > SlacMatchTimeout {
		return false, &engine.TimeoutError{Timeout: SlacMatchTimeout}
	}
	return false, nil
}

// SlacJoinNetwork joins the network given by its network id and network
// membership key
func (c *Client) SlacJoinNetwork(nid, nmk []byte) error {
	if len(nid) != NIDSize {
		return invalidArgument("nid", "needs %d bytes, got %d", NIDSize, len(nid))
	}
	if len(nmk) != NMKSize {
		return invalidArgument("nmk", "needs %d bytes, got %d", NMKSize, len(nmk))
	}
	payload := make([]byte, 0, NIDSize+NMKSize)
	payload = append(payload, nid...)
	payload = append(payload, nmk...)
	_, err := c.ack(framing.ModuleSLAC, framing.SubSlacJoinNetwork, payload)
	return err
}

// SlacJoined waits for the result of a join and reports whether it
// succeeded
func (c *Client) SlacJoined(ctx context.Context) (bool, error) {
	frame, err := c.engine.ReceiveMatchingContext(ctx, engine.Filter{
		Modules:    []uint8{framing.ModuleSLAC},
		Subs:       []uint8{framing.SubSlacJoinStatus},
		RequestIDs: []uint8{framing.RequestIDStatus},
	}, SlacJoinWait, true)
	if err != nil {
		return false, err
	}
	if frame.Length() != 1 {
		return false, replyError(framing.ModuleSLAC, framing.SubSlacJoinStatus, "malformed notification with length %d", frame.Length())
	}
	switch frame.Payload()[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, replyError(framing.ModuleSLAC, framing.SubSlacJoinStatus, "invalid status %d", frame.Payload()[0])
	}
}

// SlacSetValidationConfiguration enables or disables the SLAC validation
// step
func (c *Client) SlacSetValidationConfiguration(enabled bool) error {
	_, err := c.ack(framing.ModuleSLAC, framing.SubSlacSetValidationConfig, boolByte(enabled))
	return err
}
