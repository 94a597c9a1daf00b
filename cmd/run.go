// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/whitebeet/internal/bus"
	"github.com/Thermoquad/whitebeet/internal/store"
	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/session"
	"github.com/Thermoquad/whitebeet/pkg/trace"
	"github.com/Thermoquad/whitebeet/pkg/whitebeet"
)

var (
	runRole       string
	runTUI        bool
	runTrace      string
	runHistory    string
	runTimeout    time.Duration
	runPortMirror bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one charging session",
	Long: `Drive the controller through one charging session as the EV or the EVSE.

The session configures the control pilot and SLAC, waits for the peer,
matches it and follows the V2G session until it stops. The process exits
with 0 when the session completed, 1 when it failed and 2 when the
configuration or the connection was unusable.`,
	Example: `  whitebeet run -c ev.yaml -t eth -i eth0 -m c4:93:00:22:22:24 --role EV
  whitebeet run -t sim --role EVSE --tui
  whitebeet run -t serial -i /dev/ttyUSB0 --role EV --trace session.cbor --history history.db`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runRole, "role", "r", "EV", "Role to play: EV or EVSE")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the session dashboard")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "Record every frame to this CBOR trace file")
	runCmd.Flags().StringVar(&runHistory, "history", "", "Record the session result in this SQLite database")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Give up when no peer connects within this time (0 waits forever)")
	runCmd.Flags().BoolVar(&runPortMirror, "port-mirror", false, "Mirror the PLC traffic to the host port (EV only)")
}

// sessionRunner is satisfied by session.EV and session.EVSE
type sessionRunner interface {
	Run(ctx context.Context) (session.Result, error)
}

func runSession(cmd *cobra.Command, _ []string) error {
	role, err := session.ParseRole(runRole)
	if err != nil {
		return setupError("invalid role", "use --role EV or --role EVSE", err)
	}

	flags := cmd.Flags()
	if flags.Changed("trace") {
		cfg.Trace.Path = runTrace
	}
	if flags.Changed("history") {
		cfg.Store.Path = runHistory
	}
	if flags.Changed("timeout") {
		cfg.Session.PeerTimeout = runTimeout
	}
	if flags.Changed("port-mirror") {
		cfg.EV.PortMirror = runPortMirror
	}
	if err := cfg.Validate(); err != nil {
		return setupError("invalid configuration", "", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracer engine.Tracer
	var traceWriter *trace.Writer
	if cfg.Trace.Path != "" {
		traceWriter, err = trace.Create(cfg.Trace.Path)
		if err != nil {
			return setupError("cannot create trace file", "", err)
		}
		tracer = traceWriter
		defer closeTrace(traceWriter)
	}

	client, connInfo, err := openController(role, tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logs.Logger("whitebeet").Warn("close controller", "error", err)
		}
	}()
	logs.Logger("whitebeet").Info("connected", "link", connInfo, "firmware", client.Version())

	events := bus.New(logs.Logger("bus"))
	runner, err := newRunner(client, role, events)
	if err != nil {
		events.Close()
		return setupError("invalid session configuration", "", err)
	}

	var result session.Result
	var runErr error
	if runTUI {
		result, runErr = runDashboard(ctx, runner, events, role, connInfo, client.Version())
	} else {
		fmt.Printf("Whitebeet %s session\n", role)
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Firmware:   %s\n", client.Version())
		fmt.Println("Press Ctrl+C to stop")
		fmt.Println()
		result, runErr = runPrinted(ctx, runner, events)
	}

	if cfg.Store.Path != "" {
		recordHistory(cfg.Store.Path, connInfo, result)
	}

	fmt.Println()
	printResult(os.Stdout, &result)

	if runErr == nil {
		return nil
	}
	if result.Reason == session.ReasonConnectionLost {
		return withExitCode(ExitSetupFailed, runErr)
	}
	return withExitCode(ExitSessionFailed, runErr)
}

func newRunner(client *whitebeet.Client, role session.Role, obs session.Observer) (sessionRunner, error) {
	opts := []session.Option{
		session.WithLogger(logs.Logger("session")),
		session.WithObserver(obs),
	}
	if role == session.RoleEVSE {
		evseCfg, err := cfg.EVSEConfig()
		if err != nil {
			return nil, err
		}
		return session.NewEVSE(client, evseCfg, opts...), nil
	}
	evCfg, err := cfg.EVConfig()
	if err != nil {
		return nil, err
	}
	return session.NewEV(client, evCfg, opts...), nil
}

// runPrinted runs the session and prints its progress as it arrives on
// the bus
func runPrinted(ctx context.Context, runner sessionRunner, events *bus.PubSubBus) (session.Result, error) {
	sub := events.Subscribe(bus.TopicSession)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(os.Stdout, sub)
	}()

	result, err := runner.Run(ctx)

	// Observe is never called once Run returned
	events.Close()
	<-done
	return result, err
}

// printEvents writes one line per event until sub is closed. Measurements
// are only printed when the state of charge changes.
func printEvents(w io.Writer, sub bus.Subscription) {
	lastSOC := -1
	for msg := range sub {
		e, ok := msg.(session.Event)
		if !ok {
			continue
		}
		ts := e.Time.Format("15:04:05")
		switch e.Kind {
		case session.EventStateChanged:
			fmt.Fprintf(w, "[%s] State: %s\n", ts, e.State)
		case session.EventNotification:
			fmt.Fprintf(w, "[%s] Notification: %s\n", ts, e.Notification)
		case session.EventMeasurement:
			if int(e.SOC) == lastSOC {
				continue
			}
			lastSOC = int(e.SOC)
			fmt.Fprintf(w, "[%s] SOC: %d%%  %.1f V  %.1f A\n", ts, e.SOC, e.Voltage, e.Current)
		case session.EventSessionError:
			fmt.Fprintf(w, "[%s] Session error: %v\n", ts, e.Err)
		case session.EventEnded:
			if e.Result != nil {
				fmt.Fprintf(w, "[%s] Session ended: %s\n", ts, e.Result.Reason)
			}
		}
	}
}

func recordHistory(path, link string, result session.Result) {
	log := logs.Logger("store")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := store.Open(ctx, path)
	if err != nil {
		log.Error("open history", "path", path, "error", err)
		return
	}
	defer db.Close()

	id, err := store.NewSessionRepo(db).Record(ctx, link, result)
	if err != nil {
		log.Error("record session", "error", err)
		return
	}
	log.Info("session recorded", "id", id, "path", path)
}

func closeTrace(w *trace.Writer) {
	log := logs.Logger("trace")
	if err := w.Close(); err != nil {
		log.Error("close trace", "error", err)
		return
	}
	log.Info("trace written", "frames", w.Count())
}

// printResult writes the session summary
func printResult(w io.Writer, r *session.Result) {
	fmt.Fprintln(w, "=== Session Summary ===")
	fmt.Fprintf(w, "Role:        %s\n", r.Role)
	fmt.Fprintf(w, "Outcome:     %s\n", r.Reason)
	fmt.Fprintf(w, "Final state: %s\n", r.FinalState)
	if r.Detail != "" {
		fmt.Fprintf(w, "Detail:      %s\n", r.Detail)
	}
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(w, "Duration:    %s\n", r.Duration().Round(time.Millisecond))
	}
	if len(r.SessionID) > 0 {
		fmt.Fprintf(w, "Session ID:  %s\n", strings.ToUpper(hex.EncodeToString(r.SessionID)))
		fmt.Fprintf(w, "Protocol:    %s\n", r.Protocol)
		fmt.Fprintf(w, "Mode:        %s\n", r.EnergyTransferMode)
	}
	if r.Role == session.RoleEV {
		fmt.Fprintf(w, "SOC:         %d%% -> %d%%\n", r.StartSOC, r.FinalSOC)
		fmt.Fprintf(w, "Energy:      %.1f Wh\n", r.EnergyWh)
	}
	fmt.Fprintf(w, "Charges:     %d\n", r.ChargeCount)
	for _, se := range r.SessionErrors {
		fmt.Fprintf(w, "  %s  %v\n", se.At.Format("15:04:05"), se)
	}
}
