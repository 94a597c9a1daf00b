// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the UART speed of the controller's host interface
const DefaultBaudRate = 115200

// serialReadTimeout lets the reader notice a shutdown while the line is
// idle
const serialReadTimeout = 100 * time.Millisecond

// OpenSerial opens a UART link to the controller
func OpenSerial(portName string, baudRate int) (*Stream, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}

	transportLogger("serial", "port", portName).Info("opened", "baud", baudRate)
	return NewStream("serial", port, DefaultQueueSize), nil
}
