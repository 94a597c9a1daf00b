// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package whitebeet

import (
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
)

// EVSESetConfiguration configures the EVSE role
func (c *Client) EVSESetConfiguration(cfg *message.EVSEConfig) error {
	return c.ackEncoded(framing.SubEVSESetConfiguration, cfg.Encode)
}

// EVSEGetConfiguration reads back the EVSE configuration
func (c *Client) EVSEGetConfiguration() (*message.EVSEConfig, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubEVSEGetConfiguration, nil)
	if err != nil {
		return nil, err
	}
	cfg, err := message.ParseEVSEConfigReply(reply.Payload())
	if err != nil {
		return nil, replyError(framing.ModuleV2G, framing.SubEVSEGetConfiguration, "%v", err)
	}
	return cfg, nil
}

// EVSESetDCParameters sets the DC capabilities of the EVSE
func (c *Client) EVSESetDCParameters(p *message.EVSEDCParameters) error {
	return c.ackEncoded(framing.SubEVSESetDCChargingParameters, p.Encode)
}

// EVSEUpdateDCParameters reports the present DC output during a session
func (c *Client) EVSEUpdateDCParameters(u *message.EVSEDCUpdate) error {
	return c.ackEncoded(framing.SubEVSEUpdateDCChargingParams, u.Encode)
}

// EVSEGetDCParameters reads back the DC parameters of the EVSE
func (c *Client) EVSEGetDCParameters() (*message.EVSEDCParametersReply, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubEVSEGetDCChargingParameters, nil)
	if err != nil {
		return nil, err
	}
	p, err := message.ParseEVSEDCParametersReply(reply.Payload())
	if err != nil {
		return nil, replyError(framing.ModuleV2G, framing.SubEVSEGetDCChargingParameters, "%v", err)
	}
	return p, nil
}

// EVSESetACParameters sets the AC capabilities of the EVSE
func (c *Client) EVSESetACParameters(p *message.EVSEACParameters) error {
	return c.ackEncoded(framing.SubEVSESetACChargingParameters, p.Encode)
}

// EVSEUpdateACParameters reports the AC supply state during a session
func (c *Client) EVSEUpdateACParameters(u *message.EVSEACUpdate) error {
	return c.ackEncoded(framing.SubEVSEUpdateACChargingParams, u.Encode)
}

// EVSEGetACParameters reads back the AC parameters of the EVSE
func (c *Client) EVSEGetACParameters() (*message.EVSEACParameters, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubEVSEGetACChargingParameters, nil)
	if err != nil {
		return nil, err
	}
	p, err := message.ParseEVSEACParametersReply(reply.Payload())
	if err != nil {
		return nil, replyError(framing.ModuleV2G, framing.SubEVSEGetACChargingParameters, "%v", err)
	}
	return p, nil
}

// EVSESetSDPConfig configures the SECC discovery protocol server
func (c *Client) EVSESetSDPConfig(cfg *message.SDPConfig) error {
	return c.ackEncoded(framing.SubEVSESetSDPConfig, cfg.Encode)
}

// EVSEGetSDPConfig reads back the SDP configuration
func (c *Client) EVSEGetSDPConfig() (*message.SDPConfig, error) {
	reply, err := c.ack(framing.ModuleV2G, framing.SubEVSEGetSDPConfig, nil)
	if err != nil {
		return nil, err
	}
	cfg, err := message.ParseSDPConfigReply(reply.Payload())
	if err != nil {
		return nil, replyError(framing.ModuleV2G, framing.SubEVSEGetSDPConfig, "%v", err)
	}
	return cfg, nil
}

// EVSEStartListen waits for an EV to open a session
func (c *Client) EVSEStartListen() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSEStartListen, nil)
	return err
}

// EVSEStopListen stops waiting for EVs
func (c *Client) EVSEStopListen() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSEStopListen, nil)
	return err
}

// EVSESetAuthorizationStatus answers an authorization request
func (c *Client) EVSESetAuthorizationStatus(authorized bool) error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSESetAuthorizationStatus, okByte(authorized))
	return err
}

// EVSESetSchedules answers a schedule request
func (c *Client) EVSESetSchedules(s *message.Schedules) error {
	return c.ackEncoded(framing.SubEVSESetSchedules, s.Encode)
}

// EVSESetCableCheckFinished reports the result of the isolation test
func (c *Client) EVSESetCableCheckFinished(ok bool) error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSESetCableCheckFinished, okByte(ok))
	return err
}

// EVSEStartCharging accepts a start charging request
func (c *Client) EVSEStartCharging() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSEStartCharging, nil)
	return err
}

// EVSEStopCharging accepts a stop charging request
func (c *Client) EVSEStopCharging() error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSEStopCharging, nil)
	return err
}

// EVSESetCertificateResponse answers a certificate installation or update
// request
func (c *Client) EVSESetCertificateResponse(r *message.CertificateResponse) error {
	return c.ackEncoded(framing.SubEVSESetCertificateResponse, r.Encode)
}

// EVSESetMeterReceipt sends the meter information for a metering receipt
func (c *Client) EVSESetMeterReceipt(m *message.MeterReceipt) error {
	return c.ackEncoded(framing.SubEVSESetMeterReceipt, m.Encode)
}

// EVSESendNotification asks the EV to stop charging or to renegotiate
// within timeout seconds
func (c *Client) EVSESendNotification(renegotiation bool, timeout uint16) error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSESendNotification, message.EncodeSendNotification(renegotiation, timeout))
	return err
}

// EVSESetSessionParameterTimeout sets how long the controller waits for a
// parameter answer, in milliseconds
func (c *Client) EVSESetSessionParameterTimeout(ms uint16) error {
	_, err := c.ack(framing.ModuleV2G, framing.SubEVSESetSessionParamTimeout, []byte{byte(ms >> 8), byte(ms)})
	return err
}
