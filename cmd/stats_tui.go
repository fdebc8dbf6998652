// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	at      time.Duration // capture time
	message string
	isError bool // true for errors, false for warnings
}

// Stats TUI model
type statsModel struct {
	info           string
	showAll        bool
	stats          *abcc.Statistics
	eventLog       []eventLogEntry
	maxLogEntries  int
	captures       int
	skipped        int
	done           bool
	doneErr        error
	connectionLost bool
	width          int
	height         int
	quitting       bool
}

type tickMsg time.Time

func newStatsModel(info string, showAll bool) statsModel {
	return statsModel{
		info:          info,
		showAll:       showAll,
		stats:         abcc.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m statsModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m statsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.eventLog = m.eventLog[:0]
			m.captures = 0
			m.skipped = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case packetMsg:
		m.stats.Update(msg.packet, msg.res.PacketFrames(msg.packet.Index))
		at := msg.res.Time(msg.packet.Start)
		if issues, isError := packetIssues(msg.res, msg.packet); len(issues) > 0 {
			m.addLogEntry(at, fmt.Sprintf("#%d %s: %s", msg.packet.Index, msg.packet.Type, strings.Join(issues, "; ")), isError)
		} else if m.showAll {
			m.addLogEntry(at, fmt.Sprintf("#%d %s (%d bytes)", msg.packet.Index, msg.packet.Type, msg.packet.Bytes), false)
		}

	case captureMsg:
		m.captures++
		addCapture(m.stats, msg.res)

	case skippedMsg:
		m.skipped++
		m.addLogEntry(0, fmt.Sprintf("SKIPPED: %v", msg.err), true)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(0, fmt.Sprintf("CONNECTION LOST: %v", msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.info = msg.connInfo
		m.addLogEntry(0, "Reconnected to "+msg.connInfo, false)

	case sourceDoneMsg:
		m.done = true
		m.doneErr = msg.err
		if msg.err != nil {
			m.addLogEntry(0, fmt.Sprintf("INPUT ERROR: %v", msg.err), true)
		}
	}

	return m, nil
}

func (m *statsModel) addLogEntry(at time.Duration, message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		at:      at,
		message: message,
		isError: isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m statsModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
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
	s.WriteString(titleStyle.Render("ABCC SPI - FAULT TRACKING"))
	s.WriteString("\n")
	mode := "Faults only"
	if m.showAll {
		mode = "All packets"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("Input: %s | Mode: %s | 'r' reset, 'q' quit", m.info, mode)))
	s.WriteString("\n\n")

	switch {
	case m.connectionLost:
		s.WriteString(warningStyle.Render("RECONNECTING..."))
	case m.doneErr != nil:
		s.WriteString(errorStyle.Render("✗ Input failed"))
	case m.done:
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("✓ Input complete (%d captures)", m.captures)))
	case m.captures == 0:
		s.WriteString(warningStyle.Render("⏳ Waiting for captures..."))
	default:
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("✓ %d captures decoded", m.captures)))
	}
	if m.skipped > 0 {
		s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d messages)", m.skipped)))
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	var validPercent, errorPercent float64
	if st.TotalPackets > 0 {
		validPercent = float64(st.ValidPackets) * 100.0 / float64(st.TotalPackets)
		errorPercent = float64(st.ErrorCount()) * 100.0 / float64(st.TotalPackets)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalPackets)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ErrorCount(), errorPercent)),
	))

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Frames)),
		statsLabelStyle.Render("Messages:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Messages)),
		statsLabelStyle.Render("Transactions:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Transactions)),
	))

	if st.CRCErrors > 0 || st.FragErrors > 0 || st.SettingsErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.CRCErrors)),
			statsLabelStyle.Render("Frag Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.FragErrors)),
			statsLabelStyle.Render("Settings Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.SettingsErrors)),
		))
	}

	if st.Retransmits > 0 || st.Incomplete > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Retransmits:"), warningStyle.Render(fmt.Sprintf("%d", st.Retransmits)),
			statsLabelStyle.Render("Incomplete:"), warningStyle.Render(fmt.Sprintf("%d", st.Incomplete)),
		))
	}

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Captured:"), statsValueStyle.Render(st.Duration.String()),
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Packet types
	if len(st.PacketsByType) > 0 {
		var types []string
		for t := abcc.PacketNull; t <= abcc.PacketCancel; t++ {
			if n := st.PacketsByType[t]; n > 0 {
				style := statsValueStyle
				if t.IsError() {
					style = errorStyle
				}
				types = append(types, fmt.Sprintf("%s %s", headerStyle.Render(t.String()), style.Render(fmt.Sprintf("%d", n))))
			}
		}
		s.WriteString(strings.Join(types, "  "))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 17
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			at := fmt.Sprintf("%12.6fms", float64(entry.at.Nanoseconds())/1e6)
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(at),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(at),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

// runStatsTUI runs fault tracking in TUI mode
func runStatsTUI(ctx context.Context, dec *abcc.Decoder, ep *probeEndpoint, info string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newStatsModel(info, showAll))

	go func() {
		err := streamPackets(ctx, dec, ep, p.Send)
		p.Send(sourceDoneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	if m, ok := final.(statsModel); ok {
		return m.doneErr
	}
	return nil
}
