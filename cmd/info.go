// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/whitebeet/pkg/session"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show firmware version and controller modes",
	Long: `Connect to the controller, run the handshake and print its firmware
version together with the control pilot and V2G modes and the current
control pilot state.`,
	Example: `  whitebeet info -t eth -i eth0 -m c4:93:00:22:22:24
  whitebeet info -t serial -i /dev/ttyUSB0`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, connInfo, err := openController(session.RoleEV, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Connection: %s\n", connInfo)

	version, err := client.FirmwareVersion()
	if err != nil {
		return withExitCode(ExitSetupFailed, fmt.Errorf("read firmware version: %w", err))
	}
	fmt.Printf("Firmware:   %s\n", version)

	cpMode, err := client.CPGetMode()
	if err != nil {
		return withExitCode(ExitSetupFailed, fmt.Errorf("read control pilot mode: %w", err))
	}
	fmt.Printf("CP mode:    %s\n", cpMode)

	v2gMode, err := client.V2GGetMode()
	if err != nil {
		return withExitCode(ExitSetupFailed, fmt.Errorf("read V2G mode: %w", err))
	}
	fmt.Printf("V2G mode:   %s\n", v2gMode)

	state, err := client.CPGetState()
	if err != nil {
		return withExitCode(ExitSetupFailed, fmt.Errorf("read control pilot state: %w", err))
	}
	fmt.Printf("CP state:   %s\n", state)

	return nil
}
