// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/session"
	"github.com/Thermoquad/whitebeet/pkg/whitebeet"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link by requesting the firmware version",
	Long: `Send firmware version requests to the controller and wait for the replies.

Unlike info, ping does not run the controller handshake, so it leaves the
control pilot, SLAC and V2G untouched. It is useful for verifying:
  - The link is established (Ethernet MAC, serial device, WebSocket bridge)
  - HTTP Basic authentication works
  - Requests and replies are correlated

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 2*time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount <= 0 {
		return setupError("invalid ping count", "use --count 1 or more", nil)
	}

	link, connInfo, err := openLink(cfg.Connection, session.RoleEV)
	if err != nil {
		return setupError("cannot open connection", "", err)
	}
	e := engine.New(link, engine.WithLogger(logs.Logger("engine")), engine.WithTimeout(pingTimeout))
	defer e.Shutdown()
	client := whitebeet.New(e, whitebeet.WithLogger(logs.Logger("whitebeet")))

	fmt.Printf("Whitebeet - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		version, err := client.FirmwareVersion()
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Printf("firmware %s, rtt=%v\n", version, time.Since(startTime).Round(time.Microsecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	stats := e.Stats()
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss, %d busy retries\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100, stats.BusyRetries)

	if failCount > 0 {
		return withExitCode(ExitSessionFailed, fmt.Errorf("%d of %d pings failed", failCount, pingCount))
	}
	return nil
}
