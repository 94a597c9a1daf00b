// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/whitebeet/internal/bus"
	"github.com/Thermoquad/whitebeet/internal/config"
	"github.com/Thermoquad/whitebeet/internal/simboard"
	"github.com/Thermoquad/whitebeet/internal/store"
	"github.com/Thermoquad/whitebeet/pkg/engine"
	"github.com/Thermoquad/whitebeet/pkg/framing"
	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/session"
	"github.com/Thermoquad/whitebeet/pkg/trace"
	"github.com/Thermoquad/whitebeet/pkg/transport"
)

// ============================================================
// Error Tests
// ============================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"session failure", withExitCode(ExitSessionFailed, session.Err), ExitSessionFailed},
		{"setup failure", setupError("cannot open connection", "", errors.New("no such device")), ExitSetupFailed},
		{"wrapped", fmt.Errorf("run: %w", withExitCode(ExitSessionFailed, session.Err)), ExitSessionFailed},
		{"flag parsing", errors.New("unknown flag: --bogus"), ExitSetupFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, setupError("invalid role", "use --role EV or --role EVSE", errors.New(`unknown role "X"`)))
	assert.Equal(t, "Error: invalid role: unknown role \"X\"\nHint: use --role EV or --role EVSE\n", buf.String())

	buf.Reset()
	PrintError(&buf, errors.New("plain"))
	assert.Equal(t, "Error: plain\n", buf.String())

	buf.Reset()
	PrintError(&buf, nil)
	assert.Empty(t, buf.String())
}

// ============================================================
// Output Tests
// ============================================================

func TestPrintEvents(t *testing.T) {
	at := time.Date(2025, 1, 2, 10, 11, 12, 0, time.UTC)
	sub := make(bus.Subscription, 8)
	sub <- session.Event{Kind: session.EventStateChanged, Time: at, State: session.StateSlacMatching}
	sub <- session.Event{Kind: session.EventMeasurement, Time: at, SOC: 50, Voltage: 350, Current: 50}
	sub <- session.Event{Kind: session.EventMeasurement, Time: at, SOC: 50, Voltage: 351, Current: 50}
	sub <- session.Event{Kind: session.EventMeasurement, Time: at, SOC: 51, Voltage: 352, Current: 49.5}
	sub <- "not an event"
	sub <- session.Event{Kind: session.EventEnded, Time: at, Result: &session.Result{Reason: session.ReasonCompleted}}
	close(sub)

	var buf bytes.Buffer
	printEvents(&buf, sub)
	assert.Equal(t,
		"[10:11:12] State: SlacMatching\n"+
			"[10:11:12] SOC: 50%  350.0 V  50.0 A\n"+
			"[10:11:12] SOC: 51%  352.0 V  49.5 A\n"+
			"[10:11:12] Session ended: completed\n",
		buf.String())
}

func TestPrintResult(t *testing.T) {
	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	res := &session.Result{
		Role:               session.RoleEV,
		Reason:             session.ReasonPeerError,
		FinalState:         session.StateChargingStarted,
		Detail:             "peer reported session errors",
		SessionID:          []byte{0xCA, 0xFE},
		Protocol:           message.ProtocolISO15118,
		EnergyTransferMode: message.ModeDCExtended,
		StartedAt:          start,
		EndedAt:            start.Add(90 * time.Second),
		StartSOC:           50,
		FinalSOC:           52,
		EnergyWh:           1000,
		SessionErrors:      []session.SessionError{{Code: message.ErrorCodeContactor, At: start.Add(time.Minute)}},
	}

	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Outcome:     peer error\n")
	assert.Contains(t, out, "Final state: ChargingStarted\n")
	assert.Contains(t, out, "Duration:    1m30s\n")
	assert.Contains(t, out, "Session ID:  CAFE\n")
	assert.Contains(t, out, "SOC:         50% -> 52%\n")
	assert.Contains(t, out, "Energy:      1000.0 Wh\n")
	assert.Contains(t, out, "10:01:00")
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{61 * time.Second, "1 minute and 1 second"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2 hours, 3 minutes, and 4 seconds"},
		{time.Hour, "1 hour"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.d), tt.d.String())
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	assert.Equal(t, "No sessions recorded\n", buf.String())

	start := time.Now()
	buf.Reset()
	printHistory(&buf, []store.Entry{{
		ID:            7,
		Link:          "eth0",
		Role:          "EV",
		Reason:        "peer error",
		FinalState:    "ChargingStarted",
		StartedAt:     start,
		EndedAt:       start.Add(time.Minute),
		StartSOC:      40,
		FinalSOC:      45,
		SessionErrors: []message.SessionErrorCode{message.ErrorCodeContactor},
	}})
	out := buf.String()
	assert.Contains(t, out, "OUTCOME")
	assert.Contains(t, out, "peer error")
	assert.Contains(t, out, "40% -> 45%")
	assert.Contains(t, out, "eth0")
}

// ============================================================
// Monitor Tests
// ============================================================

func TestDrainLink(t *testing.T) {
	valid, err := framing.Encode(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 0x01, []byte{0x00, 0x01, '3'})
	require.NoError(t, err)
	unknown, err := framing.Encode(0x77, 0x01, 0x02, nil)
	require.NoError(t, err)

	link := transport.NewMock(nil)
	link.Inject(valid, []byte{0xC0, 0x10}, unknown)

	stats := framing.NewStatistics()
	var buf bytes.Buffer
	require.NoError(t, drainLink(&buf, link, stats))

	assert.Equal(t, uint64(3), stats.TotalFrames)
	assert.Equal(t, uint64(1), stats.ValidFrames)
	assert.Equal(t, uint64(1), stats.DecodeErrors)
	assert.Equal(t, uint64(1), stats.UnknownFrames)

	out := buf.String()
	assert.Contains(t, out, "DECODE ERROR")
	assert.Contains(t, out, "VALIDATION ERROR")
	assert.Contains(t, out, "Unknown module id 0x77")

	require.NoError(t, link.Shutdown())
	assert.ErrorIs(t, drainLink(&buf, link, stats), transport.ErrClosed)
}

// ============================================================
// Trace Tests
// ============================================================

func TestDumpTrace(t *testing.T) {
	sent, err := framing.Encode(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 0x01, nil)
	require.NoError(t, err)
	reply, err := framing.Encode(framing.ModuleSystem, framing.SubSystemGetFirmwareVersion, 0x01, []byte{0x00, 0x01, '3'})
	require.NoError(t, err)

	var file bytes.Buffer
	w := trace.NewWriter(&file)
	w.TraceFrame(engine.DirectionSent, sent)
	w.TraceFrame(engine.DirectionReceived, reply)
	w.TraceFrame(engine.DirectionReceived, []byte{0xC0, 0x00})
	require.NoError(t, w.Err())

	var out bytes.Buffer
	stats, err := dumpTrace(&out, trace.NewReader(&file))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(2), stats.TotalFrames)
	assert.Equal(t, uint64(1), stats.ValidFrames)
	assert.Equal(t, uint64(1), stats.DecodeErrors)

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), " TX ")
	assert.Contains(t, string(lines[1]), " RX ")
	assert.Contains(t, string(lines[2]), "INVALID")
}

// ============================================================
// Dashboard Tests
// ============================================================

func TestDashboard_StopsSessionBeforeQuitting(t *testing.T) {
	cancelled := false
	m := initialDashboardModel(session.RoleEV, "Simulated controller", "3.1.2", func() { cancelled = true })

	next, _ := m.Update(sessionEventMsg(session.Event{Kind: session.EventStateChanged, State: session.StateChargingStarted}))
	next, _ = next.Update(sessionEventMsg(session.Event{Kind: session.EventMeasurement, SOC: 64, Voltage: 350, Current: 50}))
	next, _ = next.Update(sessionEventMsg(session.Event{Kind: session.EventSessionError, Err: errors.New("contactor")}))
	m = next.(dashboardModel)
	assert.Equal(t, session.StateChargingStarted, m.state)
	assert.Equal(t, uint8(64), m.soc)
	assert.Equal(t, 1, m.sessionErrors)
	assert.Contains(t, m.View(), "WHITEBEET EV")
	assert.Contains(t, m.View(), "64%")

	// the first q stops the session and keeps the dashboard open
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(dashboardModel)
	assert.True(t, cancelled)
	assert.True(t, m.quitting)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "STOPPING")

	// the dashboard closes once the session ended
	start := time.Now()
	next, cmd = m.Update(sessionDoneMsg{
		result: session.Result{Role: session.RoleEV, Reason: session.ReasonCancelled, StartedAt: start, EndedAt: start.Add(time.Second)},
		err:    session.Err,
	})
	m = next.(dashboardModel)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "CANCELLED")
}

func TestDashboard_ShowsResultUntilQuit(t *testing.T) {
	m := initialDashboardModel(session.RoleEVSE, "Simulated controller", "3.1.2", func() {})
	start := time.Now()
	next, cmd := m.Update(sessionDoneMsg{
		result: session.Result{Role: session.RoleEVSE, Reason: session.ReasonCompleted, StartedAt: start, EndedAt: start.Add(time.Minute)},
	})
	assert.Nil(t, cmd)
	assert.Contains(t, next.View(), "COMPLETED")
	assert.Contains(t, next.View(), "1 minute")

	_, cmd = next.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

// ============================================================
// Connection Tests
// ============================================================

func TestOpenLink_Errors(t *testing.T) {
	tests := []struct {
		name string
		conn config.ConnectionConfig
		want string
	}{
		{"spi", config.ConnectionConfig{Type: config.InterfaceSPI}, "spi interface is not supported"},
		{"unknown", config.ConnectionConfig{Type: "can"}, `unknown interface type "can"`},
		{"eth without interface", config.ConnectionConfig{Type: config.InterfaceEthernet}, "ethernet interface is required"},
		{"eth bad mac", config.ConnectionConfig{Type: config.InterfaceEthernet, Interface: "eth0", MAC: "nope"}, "invalid controller MAC address"},
		{"serial without port", config.ConnectionConfig{Type: config.InterfaceSerial}, "serial device is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := openLink(tt.conn, session.RoleEV)
			require.Error(t, err)
			var ue *UserError
			require.ErrorAs(t, err, &ue)
			assert.Contains(t, ue.Error(), tt.want)
			assert.NotEmpty(t, ue.Hint)
		})
	}
}

func TestOpenController_Sim(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = config.Default()
	cfg.Connection.Type = config.InterfaceSim

	client, info, err := openController(session.RoleEVSE, nil)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "Simulated controller with EV peer", info)
	assert.Equal(t, simboard.DefaultVersion, client.Version())

	state, err := client.CPGetState()
	require.NoError(t, err)
	assert.Equal(t, "B", state.String())
}

// ============================================================
// End To End Tests
// ============================================================

const fastSimConfig = `
logging:
  level: error
connection:
  type: sim
session:
  settle_delay: 0s
  peer_poll_interval: 1ms
  match_delay: 0s
  notification_wait: 5ms
  update_interval: 2ms
  idle_timeout: 2s
charger:
  delta_voltage: 100
  delta_current: 100
`

func TestRun_SimulatedEVSESession(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "whitebeet.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fastSimConfig), 0o600))
	tracePath := filepath.Join(dir, "session.cbor")
	dbPath := filepath.Join(dir, "history.db")

	rootCmd.SetArgs([]string{"run", "-c", cfgPath, "--role", "EVSE", "--trace", tracePath, "--history", dbPath})
	require.NoError(t, Execute())

	records, err := trace.ReadFile(tracePath)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, engine.DirectionSent, records[0].Direction)

	ctx := context.Background()
	db, err := store.Open(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()
	entries, err := store.NewSessionRepo(db).List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Completed(), entries[0].Detail)
	assert.Equal(t, "EVSE", entries[0].Role)
	assert.Equal(t, "Simulated controller with EV peer", entries[0].Link)
	assert.Equal(t, 1, entries[0].ChargeCount)
}
