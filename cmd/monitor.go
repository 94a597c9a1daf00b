// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/session"
	"github.com/Thermoquad/whitebeet/pkg/transport"
)

var (
	errorsOnly    bool
	statsInterval int
)

const monitorPollInterval = 10 * time.Millisecond

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display every frame arriving from the controller",
	Long: `Continuously decode and display the frames the controller sends, without
sending anything to it.

Each frame is validated and anomalies are highlighted:
  - Checksum errors and decode failures
  - Unknown modules and sub ids
  - Error module frames
  - Payload lengths that do not match the message
  - Request ids that do not fit the frame kind

Statistics (frame rate, error rate) are printed at a configurable interval
and once more on exit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Only show frames with anomalies")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, 0 disables)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	link, connInfo, err := openLink(cfg.Connection, session.RoleEV)
	if err != nil {
		return setupError("cannot open connection", "", err)
	}
	defer link.Shutdown()

	fmt.Printf("Whitebeet - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	stats := framing.NewStatistics()
	defer func() {
		stats.CalculateRates()
		fmt.Println(stats.String())
	}()

	poll := time.NewTicker(monitorPollInterval)
	defer poll.Stop()

	var statsTick <-chan time.Time
	if statsInterval > 0 {
		ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer ticker.Stop()
		statsTick = ticker.C
	}

	for {
		select {
		case <-stop:
			return nil
		case <-statsTick:
			stats.CalculateRates()
			fmt.Println(stats.String())
		case <-poll.C:
			if err := drainLink(os.Stdout, link, stats); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					fmt.Println("Connection closed")
					return nil
				}
				return withExitCode(ExitSetupFailed, err)
			}
		}
	}
}

// drainLink reads every pending frame from link and reports it
func drainLink(w io.Writer, link transport.Transport, stats *framing.Statistics) error {
	for {
		raw, err := link.TryReceive()
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}

		frame, err := framing.Decode(raw)
		if err != nil {
			stats.Update(nil, err, nil)
			printDecodeError(w, raw, err)
			continue
		}

		validationErrors := framing.ValidateFrame(frame)
		stats.Update(frame, nil, validationErrors)
		if len(validationErrors) > 0 {
			printValidationErrors(w, frame, validationErrors)
		} else if !errorsOnly {
			fmt.Fprint(w, framing.FormatFrame(frame))
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(w io.Writer, raw []byte, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(w, "[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Fprintf(w, "  %s\n\n", framing.FormatHex(raw))
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(w io.Writer, frame *framing.Frame, validationErrors []framing.ValidationError) {
	timestamp := frame.Timestamp().Format("15:04:05.000")

	fmt.Fprintf(w, "[%s] \033[1;33mVALIDATION ERROR:\033[0m %s/%s (0x%02X/0x%02X) req=0x%02X\n",
		timestamp,
		framing.FormatModule(frame.ModuleID()), framing.FormatSub(frame.ModuleID(), frame.SubID()),
		frame.ModuleID(), frame.SubID(), frame.RequestID())

	for i, verr := range validationErrors {
		switch verr.Type {
		case framing.AnomalyErrorFrame, framing.AnomalyLengthMismatch:
			fmt.Fprintf(w, "  Issue %d: \033[1;31m%s\033[0m\n", i+1, verr.Message)
		default:
			fmt.Fprintf(w, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, verr.Message)
		}
		if received, ok := verr.Details["received"].(int); ok {
			if expected, ok := verr.Details["expected"].(int); ok {
				fmt.Fprintf(w, "    Length: received=%d, expected=%d\n", received, expected)
			}
		}
	}

	if len(frame.Payload()) > 0 {
		fmt.Fprintf(w, "  %s\n", framing.FormatHex(frame.Payload()))
	}
	fmt.Fprintln(w)
}
