// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Browse decoded packets in a terminal UI",
	Long: `Decode a capture and browse its packets interactively.

The left panel lists every packet. Press / to filter it by packet type or by
the packet index text built from the --index-* flags. The right panel shows
the frames, messages and index entries of the selected packet.

Keys:
  tab / shift+tab  switch between the list, the detail panel and the jump box
  n / N            next / previous packet carrying an alert
  enter            jump to the packet number typed in the jump box
  q                quit`,
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)
}

func runView(cmd *cobra.Command, args []string) error {
	res, dec, info, err := decodeInput(cmd.Context())
	if err != nil {
		return err
	}

	p := tea.NewProgram(newViewModel(res, dec.Settings(), info), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const listWidth = 34

// Focus states
const (
	focusPacketList = iota
	focusDetail
	focusJumpInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// packetItem is one packet in the browser list
type packetItem struct {
	packet  abcc.Packet
	at      float64 // milliseconds
	alert   bool
	entries []abcc.TabularEntry
}

// Implement list.Item interface
func (p packetItem) Title() string {
	mark := ""
	if p.alert {
		mark = " !"
	}
	return fmt.Sprintf("#%d %s%s", p.packet.Index, p.packet.Type, mark)
}

func (p packetItem) Description() string {
	return fmt.Sprintf("%.6fms  %d bytes", p.at, p.packet.Bytes)
}

func (p packetItem) FilterValue() string {
	parts := []string{strconv.Itoa(p.packet.Index), p.packet.Type.String()}
	for _, e := range p.entries {
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, " ")
}

// viewModel is the Bubble Tea model of the packet browser
type viewModel struct {
	res      *abcc.Results
	settings abcc.Settings
	info     string
	stats    *abcc.Statistics
	messages map[int][]abcc.Message
	items    []packetItem

	packetList   list.Model
	jumpInput    textinput.Model
	focusedField int
	detailOffset int
	status       string

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func packetItems(res *abcc.Results, s abcc.Settings) []packetItem {
	entries := packetEntries(res, s)
	items := make([]packetItem, len(res.Packets))
	for i, p := range res.Packets {
		items[i] = packetItem{
			packet:  p,
			at:      float64(res.Time(p.Start).Nanoseconds()) / 1e6,
			alert:   hasAlert(p, res.PacketFrames(p.Index)),
			entries: entries[p.Index],
		}
	}
	return items
}

func newViewModel(res *abcc.Results, s abcc.Settings, info string) viewModel {
	ti := textinput.New()
	ti.Placeholder = "packet #"
	ti.CharLimit = 9
	ti.Width = 10

	items := packetItems(res, s)
	listItems := make([]list.Item, len(items))
	for i, it := range items {
		listItems[i] = it
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	packetList := list.New(listItems, delegate, listWidth-2, 10)
	packetList.Title = "Packets"
	packetList.SetShowStatusBar(false)
	packetList.SetShowHelp(false)

	return viewModel{
		res:          res,
		settings:     s,
		info:         info,
		stats:        abcc.Compute(res),
		messages:     packetMessages(res),
		items:        items,
		packetList:   packetList,
		jumpInput:    ti,
		focusedField: focusPacketList,
		width:        80,
		height:       24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m viewModel) Init() tea.Cmd {
	return nil
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()
	}

	return m, nil
}

func (m viewModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The list owns every key while its filter is being typed
	if m.packetList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.packetList, cmd = m.packetList.Update(msg)
		m.detailOffset = 0
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil
	}

	if m.focusedField == focusJumpInput {
		switch msg.String() {
		case "enter":
			m.jump(m.jumpInput.Value())
			return m, nil
		case "esc":
			m.cycleFocus(-1)
			return m, nil
		}
		var cmd tea.Cmd
		m.jumpInput, cmd = m.jumpInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "n":
		m.nextAlert(1)
		return m, nil

	case "N":
		m.nextAlert(-1)
		return m, nil
	}

	if m.focusedField == focusDetail {
		switch msg.String() {
		case "up", "k":
			if m.detailOffset > 0 {
				m.detailOffset--
			}
		case "down", "j":
			m.detailOffset++
		case "home", "g":
			m.detailOffset = 0
		}
		return m, nil
	}

	prev := m.packetList.Index()
	var cmd tea.Cmd
	m.packetList, cmd = m.packetList.Update(msg)
	if m.packetList.Index() != prev {
		m.detailOffset = 0
	}
	return m, cmd
}

func (m *viewModel) cycleFocus(delta int) {
	m.setFocus((m.focusedField + delta + focusCount) % focusCount)
}

func (m *viewModel) setFocus(field int) {
	m.focusedField = field
	if m.focusedField == focusJumpInput {
		m.jumpInput.Focus()
	} else {
		m.jumpInput.Blur()
	}
}

// jump selects the packet with the typed index
func (m *viewModel) jump(value string) {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(value, "#")))
	if err != nil || n < 0 || n >= len(m.items) {
		m.status = fmt.Sprintf("no packet %q", value)
		return
	}
	m.packetList.ResetFilter()
	m.packetList.Select(n)
	m.jumpInput.SetValue("")
	m.detailOffset = 0
	m.status = ""
	m.setFocus(focusPacketList)
}

// nextAlert moves the selection to the next packet carrying an alert
func (m *viewModel) nextAlert(dir int) {
	visible := m.packetList.VisibleItems()
	for i := m.packetList.Index() + dir; i >= 0 && i < len(visible); i += dir {
		if it, ok := visible[i].(packetItem); ok && it.alert {
			m.packetList.Select(i)
			m.detailOffset = 0
			m.status = ""
			return
		}
	}
	m.status = "no further alerts"
}

func (m *viewModel) selected() (packetItem, bool) {
	it, ok := m.packetList.SelectedItem().(packetItem)
	return it, ok
}

func (m *viewModel) updateListSize() {
	listHeight := m.height - 8
	if listHeight < 5 {
		listHeight = 5
	}
	m.packetList.SetSize(listWidth-2, listHeight)
}

func (m viewModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
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

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("ABCC SPI VIEWER"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch /=filter n=next alert", m.info)))
	s.WriteString("\n\n")

	// Layout: left panel (packets) | right panel (detail)
	rightWidth := m.width - listWidth - 6
	if rightWidth < 20 {
		rightWidth = 20
	}

	listStyle := boxStyle.Width(listWidth)
	if m.focusedField == focusPacketList {
		listStyle = focusedBoxStyle.Width(listWidth)
	}
	packetPanel := listStyle.Render(m.packetList.View())

	detailStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusDetail {
		detailStyle = focusedBoxStyle.Width(rightWidth)
	}
	detailPanel := detailStyle.Render(m.renderDetail(statsLabelStyle, headerStyle, errorStyle, warningStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, packetPanel, " ", detailPanel))
	s.WriteString("\n")

	s.WriteString(m.renderFooter(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, boxStyle, focusedBoxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

// detailLines renders the selected packet, one string per line
func (m viewModel) detailLines(labelStyle, headerStyle, errorStyle, warningStyle lipgloss.Style) []string {
	it, ok := m.selected()
	if !ok {
		return []string{headerStyle.Render("No packet selected")}
	}
	p := it.packet

	lines := []string{labelStyle.Render(abcc.FormatPacket(m.res, p))}
	if p.Retransmit {
		lines = append(lines, warningStyle.Render("Retransmission of the previous packet"))
	}
	if p.Incomplete {
		lines = append(lines, warningStyle.Render("Packet ended before all fields were sampled"))
	}

	lines = append(lines, "", labelStyle.Render("Frames"))
	for _, f := range m.res.PacketFrames(p.Index) {
		text := fmt.Sprintf("%-4s %s", f.Direction, abcc.FormatFrame(f, framePriority(m.settings, f)))
		if f.Alert() {
			text = errorStyle.Render(text)
		}
		lines = append(lines, text)
	}

	if msgs := m.messages[p.Index]; len(msgs) > 0 {
		lines = append(lines, "", labelStyle.Render("Messages"))
		for _, msg := range msgs {
			text := abcc.FormatMessage(msg)
			if msg.Header.IsError() {
				text = errorStyle.Render(text)
			}
			lines = append(lines, text)
			if len(msg.Data) > 0 {
				for _, row := range strings.Split(abcc.FormatHexBytes(msg.Data), "\n") {
					lines = append(lines, headerStyle.Render("  "+row))
				}
			}
		}
	}

	if len(it.entries) > 0 {
		lines = append(lines, "", labelStyle.Render("Index"))
		for _, e := range it.entries {
			text := fmt.Sprintf("%-4s %s", e.Direction, e.Text)
			if e.Alert {
				text = warningStyle.Render(text)
			}
			lines = append(lines, text)
		}
	}
	return lines
}

func (m viewModel) renderDetail(labelStyle, headerStyle, errorStyle, warningStyle lipgloss.Style) string {
	lines := m.detailLines(labelStyle, headerStyle, errorStyle, warningStyle)

	height := m.height - 8
	if height < 5 {
		height = 5
	}
	offset := m.detailOffset
	if last := len(lines) - height; offset > last {
		offset = last
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + height
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[offset:end], "\n")
}

func (m viewModel) renderFooter(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, boxStyle, focusedBoxStyle lipgloss.Style) string {
	errs := statsValueStyle.Render("0")
	if n := m.stats.ErrorCount(); n > 0 {
		errs = errorStyle.Render(fmt.Sprintf("%d", n))
	}
	mode := "4-wire"
	if m.res.ThreeWire {
		mode = "3-wire"
	}
	stats := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Packets:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		statsLabelStyle.Render("Messages:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Messages)),
		statsLabelStyle.Render("Errors:"), errs,
		statsLabelStyle.Render("Duration:"), statsValueStyle.Render(m.stats.Duration.String()),
		statsLabelStyle.Render("Mode:"), statsValueStyle.Render(mode),
	)

	jumpStyle := boxStyle
	if m.focusedField == focusJumpInput {
		jumpStyle = focusedBoxStyle
	}
	jump := statsLabelStyle.Render("Go to: ")
	if m.focusedField == focusJumpInput {
		jump += m.jumpInput.View()
	} else {
		jump += fmt.Sprintf("[%s]", m.jumpInput.Placeholder)
	}
	if m.status != "" {
		jump += " " + warningStyle.Render(m.status)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(stats), " ", jumpStyle.Render(jump))
}
