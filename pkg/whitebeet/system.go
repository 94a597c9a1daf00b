// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package whitebeet

import (
	"unicode/utf8"

	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
)

// FirmwareVersion returns the firmware version string, e.g. "1.2.3"
func (c *Client) FirmwareVersion() (string, error) {
	reply, err := c.ack(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, nil)
	if err != nil {
		return "", err
	}
	r := message.NewReader(reply.Payload())
	r.Uint8()
	version := r.String8()
	if err := r.Finalize(); err != nil {
		return "", replyError(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, "%v", err)
	}
	if !utf8.ValidString(version) {
		return "", replyError(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, "version is not UTF-8")
	}
	return version, nil
}

// SetPortMirrorState mirrors the PLC traffic to the Ethernet port when
// enabled
func (c *Client) SetPortMirrorState(enabled bool) error {
	_, err := c.ack(framing.ModuleNetworkConfig, framing.SubNetworkSetPortMirrorState, boolByte(enabled))
	return err
}
