// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/whitebeet/internal/bus"
	"github.com/Thermoquad/whitebeet/pkg/session"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// dashboardModel is the Bubble Tea model of the session dashboard
type dashboardModel struct {
	role     session.Role
	connInfo string
	firmware string
	cancel   context.CancelFunc

	// Session progress
	started       time.Time
	state         session.State
	soc           uint8
	hasSOC        bool
	voltage       float64
	current       float64
	sessionErrors int
	result        *session.Result

	eventLog      []eventLogEntry
	maxLogEntries int

	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type dashboardTickMsg time.Time

type sessionEventMsg session.Event

type sessionDoneMsg struct {
	result session.Result
	err    error
}

//////////////////////////////////////////////////////////////
// Running
//////////////////////////////////////////////////////////////

// runDashboard runs the session behind the dashboard. Quitting the
// dashboard cancels the session and waits for its teardown.
func runDashboard(ctx context.Context, runner sessionRunner, events *bus.PubSubBus, role session.Role, connInfo, firmware string) (session.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(initialDashboardModel(role, connInfo, firmware, cancel), tea.WithAltScreen())

	sub := events.Subscribe(bus.TopicSession)
	go func() {
		for msg := range sub {
			if e, ok := msg.(session.Event); ok {
				p.Send(sessionEventMsg(e))
			}
		}
	}()

	done := make(chan sessionDoneMsg, 1)
	go func() {
		result, err := runner.Run(ctx)
		events.Close()
		done <- sessionDoneMsg{result: result, err: err}
		p.Send(sessionDoneMsg{result: result, err: err})
	}()

	if _, err := p.Run(); err != nil {
		logs.Logger("tui").Error("dashboard failed", "error", err)
	}
	cancel()
	out := <-done
	return out.result, out.err
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialDashboardModel(role session.Role, connInfo, firmware string, cancel context.CancelFunc) dashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return dashboardModel{
		role:          role,
		connInfo:      connInfo,
		firmware:      firmware,
		cancel:        cancel,
		started:       time.Now(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 200,
		spinner:       s,
		progress:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		viewport:      viewport.New(76, 10),
		width:         80,
		height:        24,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		dashboardTickCmd(),
		m.spinner.Tick,
	)
}

func dashboardTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return dashboardTickMsg(t)
	})
}

//////////////////////////////////////////////////////////////
// Update
//////////////////////////////////////////////////////////////

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.result != nil || m.quitting {
				return m, tea.Quit
			}
			// The session tears down before the dashboard closes
			m.quitting = true
			m.cancel()
			m.addLogEntry("Stopping session...", false)
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(msg.Width-6, 20)
		m.viewport.Height = max(msg.Height-16, 3)
		m.progress.Width = max(msg.Width-30, 10)
		m.refreshLog()

	case dashboardTickMsg:
		if m.result != nil {
			return m, nil
		}
		return m, dashboardTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionEventMsg:
		m.applyEvent(session.Event(msg))

	case sessionDoneMsg:
		result := msg.result
		m.result = &result
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Session failed: %v", msg.err), true)
		} else {
			m.addLogEntry("Session completed", false)
		}
		if m.quitting {
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *dashboardModel) applyEvent(e session.Event) {
	switch e.Kind {
	case session.EventStateChanged:
		m.state = e.State
		m.addLogEntry(fmt.Sprintf("State: %s", e.State), false)
	case session.EventNotification:
		m.addLogEntry(e.Notification, false)
	case session.EventMeasurement:
		m.soc = e.SOC
		m.hasSOC = true
		m.voltage = e.Voltage
		m.current = e.Current
	case session.EventSessionError:
		m.sessionErrors++
		m.addLogEntry(fmt.Sprintf("Session error: %v", e.Err), true)
	}
}

func (m *dashboardModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
	m.refreshLog()
}

func (m *dashboardModel) refreshLog() {
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	lines := make([]string, 0, len(m.eventLog))
	for _, entry := range m.eventLog {
		line := fmt.Sprintf("%s %s", headerStyle.Render(entry.timestamp.Format("15:04:05")), entry.message)
		if entry.isError {
			line = fmt.Sprintf("%s %s", headerStyle.Render(entry.timestamp.Format("15:04:05")), errorStyle.Render(entry.message))
		}
		lines = append(lines, line)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m dashboardModel) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder

	// Header
	helpText := "q: stop session"
	if m.result != nil {
		helpText = "q: quit"
	}
	s.WriteString(titleStyle.Render(fmt.Sprintf("WHITEBEET %s", m.role)))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | %s", m.connInfo, m.firmware, helpText)))
	s.WriteString("\n\n")

	// Session status
	var status strings.Builder
	switch {
	case m.result != nil && m.result.Reason == session.ReasonCompleted:
		status.WriteString(valueStyle.Render("COMPLETED"))
	case m.result != nil:
		status.WriteString(errorStyle.Render(strings.ToUpper(m.result.Reason.String())))
	case m.quitting:
		status.WriteString(warningStyle.Render("STOPPING..."))
	default:
		status.WriteString(m.spinner.View())
		status.WriteString(" ")
		status.WriteString(valueStyle.Render(m.state.String()))
	}
	status.WriteString("\n")

	elapsed := time.Since(m.started)
	if m.result != nil {
		elapsed = m.result.Duration()
	}
	status.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Elapsed:"), valueStyle.Render(formatUptime(elapsed))))

	if m.hasSOC {
		status.WriteString(fmt.Sprintf("%s %s %s\n",
			labelStyle.Render("SOC:    "),
			m.progress.ViewAs(float64(m.soc)/100),
			valueStyle.Render(fmt.Sprintf("%d%%", m.soc))))
		status.WriteString(fmt.Sprintf("%s %s  %s %s\n",
			labelStyle.Render("Voltage:"), valueStyle.Render(fmt.Sprintf("%.1f V", m.voltage)),
			labelStyle.Render("Current:"), valueStyle.Render(fmt.Sprintf("%.1f A", m.current))))
	}

	errCount := valueStyle.Render("0")
	if m.sessionErrors > 0 {
		errCount = errorStyle.Render(fmt.Sprintf("%d", m.sessionErrors))
	}
	status.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Session errors:"), errCount))

	if m.result != nil && m.result.Role == session.RoleEV {
		status.WriteString(fmt.Sprintf("\n%s %s",
			labelStyle.Render("Energy:"), valueStyle.Render(fmt.Sprintf("%.1f Wh", m.result.EnergyWh))))
	}

	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(status.String()))
	s.WriteString("\n")

	// Event log
	var logBox strings.Builder
	logBox.WriteString(labelStyle.Render("EVENTS"))
	logBox.WriteString("\n")
	if len(m.eventLog) == 0 {
		logBox.WriteString(headerStyle.Render("Waiting for the session to start..."))
	} else {
		logBox.WriteString(m.viewport.View())
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logBox.String()))

	return s.String()
}

// formatUptime formats a duration to human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	seconds %= 60
	minutes %= 60

	parts := []string{}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
