// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/whitebeet/internal/config"
	"github.com/Thermoquad/whitebeet/internal/simboard"
	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/session"
	"github.com/Thermoquad/whitebeet/pkg/transport"
	"github.com/Thermoquad/whitebeet/pkg/whitebeet"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("WHITEBEET_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openLink opens the transport selected by conn. The simulated link
// answers like a controller wired to a peer of the opposite role.
func openLink(conn config.ConnectionConfig, role session.Role) (transport.Transport, string, error) {
	switch conn.Type {
	case config.InterfaceEthernet:
		if conn.Interface == "" {
			return nil, "", &UserError{Message: "ethernet interface is required", Hint: "pass -i <interface>"}
		}
		mac, err := net.ParseMAC(conn.MAC)
		if err != nil {
			return nil, "", &UserError{Message: "invalid controller MAC address", Hint: "pass -m xx:xx:xx:xx:xx:xx", Err: err}
		}
		t, err := transport.OpenEthernet(conn.Interface, mac)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("Ethernet: %s -> %s", conn.Interface, mac), nil

	case config.InterfaceSerial:
		if conn.Port == "" {
			return nil, "", &UserError{Message: "serial device is required", Hint: "pass -i /dev/ttyUSB0"}
		}
		t, err := transport.OpenSerial(conn.Port, conn.Baud)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("Serial: %s @ %d baud", conn.Port, conn.Baud), nil

	case config.InterfaceWebSocket:
		password := ""
		if conn.User != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		t, err := transport.DialWebSocket(conn.URL, transport.WebSocketOptions{
			Username:      conn.User,
			Password:      password,
			SkipSSLVerify: conn.NoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("WebSocket: %s", conn.URL), nil

	case config.InterfaceSim:
		board := simboard.New()
		peer := "EVSE"
		if role == session.RoleEVSE {
			simboard.AttachEV(board, simboard.DefaultEVPeerConfig())
			peer = "EV"
		} else {
			simboard.AttachEVSE(board, simboard.DefaultEVSEPeerConfig())
		}
		return board.Transport(), fmt.Sprintf("Simulated controller with %s peer", peer), nil

	case config.InterfaceSPI:
		return nil, "", &UserError{Message: "spi interface is not supported", Hint: "use eth, serial, ws or sim"}

	default:
		return nil, "", &UserError{Message: fmt.Sprintf("unknown interface type %q", conn.Type), Hint: "use eth, serial, ws or sim"}
	}
}

// openController opens the link, wraps it in an engine and runs the
// controller handshake. tracer may be nil.
func openController(role session.Role, tracer engine.Tracer) (*whitebeet.Client, string, error) {
	link, info, err := openLink(cfg.Connection, role)
	if err != nil {
		return nil, "", setupError("cannot open connection", "", err)
	}

	opts := []engine.Option{engine.WithLogger(logs.Logger("engine"))}
	if tracer != nil {
		opts = append(opts, engine.WithTracer(tracer))
	}
	e := engine.New(link, opts...)

	client, err := whitebeet.Open(e, whitebeet.WithLogger(logs.Logger("whitebeet")))
	if err != nil {
		_ = e.Shutdown()
		return nil, "", setupError("controller handshake failed", "check that the controller is powered and reachable", err)
	}
	return client, info, nil
}
