// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package whitebeet

import (
	"context"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
)

// Notification waits
const (
	EVNotificationWait       = time.Second
	EVSENotificationWait     = 30 * time.Second
	EVSENotificationPollWait = 100 * time.Millisecond
)

// v2gModeUnset is how the V2G service reports that no mode was set
const v2gModeUnset = 2

// V2GSetMode selects the V2G role
func (c *Client) V2GSetMode(mode Mode) error {
	if !mode.valid() {
		return invalidArgument("mode", "%s is not EV or EVSE", mode)
	}
	_, err := c.ack(framing.ModuleV2G, framing.SubV2GSetMode, []byte{uint8(mode)})
	return err
}

// V2GGetMode returns the V2G role, ModeUnset if none was set
func (c *Client) V2GGetMode() (Mode, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubV2GGetMode, nil)
	if err != nil {
		return 0, err
	}
	if reply.Length() != 2 {
		return 0, replyError(framing.ModuleV2G, framing.SubV2GGetMode, "malformed reply with length %d", reply.Length())
	}
	switch m := reply.Payload()[1]; m {
	case uint8(ModeEV), uint8(ModeEVSE):
		return Mode(m), nil
	case v2gModeUnset:
		return ModeUnset, nil
	default:
		return 0, replyError(framing.ModuleV2G, framing.SubV2GGetMode, "invalid mode %d", m)
	}
}

// V2GStart starts the V2G service
func (c *Client) V2GStart() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubV2GStart, nil)
	return err
}

// V2GStop stops the V2G service
func (c *Client) V2GStop() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubV2GStop, nil)
	return err
}

// EVSetConfiguration configures the EV role
func (c *Client) EVSetConfiguration(cfg *message.EVConfig) error {
	return c.ackEncoded(framing.SubEVSetConfiguration, cfg.Encode)
}

// EVGetConfiguration reads back the EV configuration
func (c *Client) EVGetConfiguration() (*message.EVConfig, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubEVGetConfiguration, nil)
	if err != nil {
		return nil, err
	}
	cfg, err := message.ParseEVConfigReply(reply.Payload())
	if err != nil {
		return nil, replyError(framing.ModuleV2G, framing.SubEVGetConfiguration, "%v", err)
	}
	return cfg, nil
}

// EVSetDCParameters sets the DC charging parameters before a session
func (c *Client) EVSetDCParameters(p *message.EVDCParameters) error {
	return c.ackEncoded(framing.SubEVSetDCChargingParameters, p.Encode)
}

// EVUpdateDCParameters updates the DC charging parameters during a session
func (c *Client) EVUpdateDCParameters(u *message.EVDCUpdate) error {
	return c.ackEncoded(framing.SubEVUpdateDCChargingParams, u.Encode)
}

// EVGetDCParameters reads back the DC charging parameters
func (c *Client) EVGetDCParameters() (*message.EVDCParametersReply, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubEVGetDCChargingParameters, nil)
	if err != nil {
		return nil, err
	}
	p, err := message.ParseEVDCParametersReply(reply.Payload())
	if err != nil {
		return nil, replyError(framing.ModuleV2G, framing.SubEVGetDCChargingParameters, "%v", err)
	}
	return p, nil
}

// EVSetACParameters sets the AC charging parameters before a session
func (c *Client) EVSetACParameters(p *message.EVACParameters) error {
	return c.ackEncoded(framing.SubEVSetACChargingParameters, p.Encode)
}

// EVUpdateACParameters updates the AC charging limits during a session
func (c *Client) EVUpdateACParameters(u *message.EVACUpdate) error {
	return c.ackEncoded(framing.SubEVUpdateACChargingParams, u.Encode)
}

// EVGetACParameters reads back the AC charging parameters
func (c *Client) EVGetACParameters() (*message.EVACParameters, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubEVGetACChargingParameters, nil)
	if err != nil {
		return nil, err
	}
	p, err := message.ParseEVACParametersReply(reply.Payload())
	if err != nil {
		return nil, replyError(framing.ModuleV2G, framing.SubEVGetACChargingParameters, "%v", err)
	}
	return p, nil
}

// EVSetChargingProfile commits the EV to a charging profile
func (c *Client) EVSetChargingProfile(p *message.ChargingProfile) error {
	return c.ackEncoded(framing.SubEVSetChargingProfile, p.Encode)
}

// EVStartSession starts a V2G session once the data link is established
func (c *Client) EVStartSession() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVStartSession, nil)
	return err
}

// EVStartCableCheck starts the cable check after CableCheckReady
func (c *Client) EVStartCableCheck() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVStartCableCheck, nil)
	return err
}

// EVStartPreCharging starts pre-charging after PreChargingReady
func (c *Client) EVStartPreCharging() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVStartPreCharging, nil)
	return err
}

// EVStartCharging starts charging after ChargingReady
func (c *Client) EVStartCharging() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVStartCharging, nil)
	return err
}

// EVStopCharging stops charging, or pauses it for a renegotiation
func (c *Client) EVStopCharging(renegotiation bool) error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVStopCharging, boolByte(renegotiation))
	return err
}

// EVStopSession stops the session after PostChargingReady
func (c *Client) EVStopSession() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVStopSession, nil)
	return err
}

// ReceiveEVNotification waits up to timeout for the next V2G notification
// of an EV session. Ids the session does not know are returned too.
// A silent wait returns nil, nil on expiry, a noisy one *engine.TimeoutError.
func (c *Client) ReceiveEVNotification(ctx context.Context, timeout time.Duration, noisy bool) (*framing.Frame, error) {
	return c.receiveNotification(ctx, timeout, noisy)
}

// ReceiveEVSENotification waits up to timeout for the next V2G
// notification of an EVSE session
func (c *Client) ReceiveEVSENotification(ctx context.Context, timeout time.Duration, noisy bool) (*framing.Frame, error) {
	return c.receiveNotification(ctx, timeout, noisy)
}

func (c *Client) receiveNotification(ctx context.Context, timeout time.Duration, noisy bool) (*framing.Frame, error) {
	return c.engine.ReceiveMatchingContext(ctx, engine.Filter{
		Modules:           []uint8{framing.ModuleV2G},
		RequestIDs:        []uint8{0x00, framing.RequestIDStatus},
		OnlyNotifications: true,
	}, timeout, noisy)
}
