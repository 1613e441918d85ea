// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Messages
type tickMsg time.Time
type frameMsg observation
type connEndMsg struct {
	err error
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// statsBoxHeight is the height of the header and statistics box
const statsBoxHeight = 12

// monitorModel is the traffic monitor terminal UI
type monitorModel struct {
	connInfo      string
	id            sysexconf.ManufacturerID
	showAll       bool
	stats         *trafficStats
	eventLog      []eventLogEntry
	maxLogEntries int
	log           viewport.Model
	follow        bool
	lastFrame     *sysexconf.Frame
	connErr       error
	ended         bool
	width         int
	height        int
	quitting      bool
}

func newMonitorModel(connInfo string, id sysexconf.ManufacturerID, showAll bool) *monitorModel {
	return &monitorModel{
		connInfo:      connInfo,
		id:            id,
		showAll:       showAll,
		stats:         newTrafficStats(),
		maxLogEntries: 500,
		log:           viewport.New(76, 10),
		follow:        true,
		width:         80,
		height:        24,
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "a":
			m.showAll = !m.showAll
			return m, nil
		case "c":
			m.eventLog = nil
			m.refreshLog()
			return m, nil
		case "end", "G":
			m.follow = true
			m.log.GotoBottom()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = max(msg.Width-4, 20)
		m.log.Height = max(msg.Height-statsBoxHeight-4, 5)
		m.refreshLog()

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case frameMsg:
		m.handleFrame(observation(msg))
		return m, nil

	case connEndMsg:
		m.ended = true
		if msg.err != nil && !errors.Is(msg.err, ErrConnectionClosed) {
			m.connErr = msg.err
			m.addLogEntry(fmt.Sprintf("Connection failed: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	m.follow = m.log.AtBottom()
	return m, cmd
}

// handleFrame updates statistics and the event log for one frame
func (m *monitorModel) handleFrame(obs observation) {
	m.stats.Update(obs)
	if obs.err == nil && !obs.foreign {
		m.lastFrame = obs.frame
	}

	switch {
	case obs.isProblem():
		m.addLogEntry(obs.describe(), true)
	case obs.foreign:
	case m.showAll:
		m.addLogEntry(obs.describe(), false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
	m.refreshLog()
}

func (m *monitorModel) refreshLog() {
	var b strings.Builder
	if len(m.eventLog) == 0 {
		b.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message))
		}
	}
	m.log.SetContent(b.String())
	if m.follow {
		m.log.GotoBottom()
	}
}

func (m *monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("SYSEXCONF - TRAFFIC MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | ID %s | Mode: %s | a: toggle mode, c: clear, q: quit",
		m.connInfo, m.id, mode)))
	s.WriteString("\n\n")

	st := m.stats
	var stats strings.Builder
	fmt.Fprintf(&stats, "%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Total)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Valid, percent(st.Valid, st.Total))),
		statsLabelStyle.Render("Error replies:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Errors, percent(st.Errors, st.Total))),
	)
	fmt.Fprintf(&stats, "%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Requests:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Requests)),
		statsLabelStyle.Render("Acks:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Acks)),
		statsLabelStyle.Render("Specials:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Specials)),
	)
	if st.ParseErrors > 0 || st.Foreign > 0 {
		fmt.Fprintf(&stats, "\n%s %s   %s %s",
			statsLabelStyle.Render("Parse errors:"), errorStyle.Render(fmt.Sprintf("%d", st.ParseErrors)),
			statsLabelStyle.Render("Other IDs:"), headerStyle.Render(fmt.Sprintf("%d", st.Foreign)),
		)
	}
	if st.Errors > 0 {
		var parts []string
		for _, status := range sortedStatuses(st.ByStatus) {
			if status.IsError() {
				parts = append(parts, fmt.Sprintf("%s: %d", status, st.ByStatus[status]))
			}
		}
		fmt.Fprintf(&stats, "\n%s", headerStyle.Render(strings.Join(parts, ", ")))
	}
	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	fmt.Fprintf(&stats, "\n%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	)
	if m.lastFrame != nil {
		fmt.Fprintf(&stats, "\n%s %s",
			statsLabelStyle.Render("Last:"), headerStyle.Render(observation{frame: m.lastFrame}.describe()))
	}

	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	label := "Recent Events:"
	if m.ended {
		label += " (connection ended)"
	}
	s.WriteString(statsLabelStyle.Render(label))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 2).Render(m.log.View()))

	return s.String()
}
