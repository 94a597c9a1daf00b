// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/trace"
)

var traceStats bool

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Dump a recorded frame trace",
	Long: `Print every frame of a CBOR trace recorded with "run --trace", in the
order it crossed the link. Records that do not decode as frames are shown
with their raw bytes. A trace cut short by a crash is printed up to the
last complete record.`,
	Example: `  whitebeet trace session.cbor
  whitebeet trace --stats session.cbor`,
	Args: cobra.ExactArgs(1),
	RunE: runTraceDump,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().BoolVar(&traceStats, "stats", false, "Print frame statistics after the dump")
}

func runTraceDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(filepath.Clean(args[0]))
	if err != nil {
		return setupError("cannot open trace", "", err)
	}
	defer f.Close()

	stats, err := dumpTrace(os.Stdout, trace.NewReader(f))
	if traceStats {
		stats.CalculateRates()
		fmt.Println()
		fmt.Println(stats.String())
	}
	if err != nil {
		return withExitCode(ExitSetupFailed, fmt.Errorf("read trace %s: %w", args[0], err))
	}
	return nil
}

// dumpTrace prints every record of r and counts the frames it holds
func dumpTrace(w io.Writer, r *trace.Reader) (*framing.Statistics, error) {
	stats := framing.NewStatistics()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		fmt.Fprintln(w, rec.String())

		if rec.Direction == engine.DirectionSent {
			stats.RecordSent()
			continue
		}
		frame, err := rec.Frame()
		if err != nil {
			stats.Update(nil, err, nil)
			continue
		}
		stats.Update(frame, nil, framing.ValidateFrame(frame))
	}
}
