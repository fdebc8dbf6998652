// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	tea "github.com/charmbracelet/bubbletea"
)

func demoCapture(t *testing.T) *abcc.Capture {
	t.Helper()
	packets, err := abcc.DemoPackets()
	if err != nil {
		t.Fatal(err)
	}
	return abcc.Simulate(packets, abcc.DefaultSimOptions())
}

func demoResults(t *testing.T) *abcc.Results {
	t.Helper()
	res, err := abcc.NewDecoder(abcc.DefaultSettings()).Decode(t.Context(), demoCapture(t))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func press(m viewModel, keys ...string) viewModel {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(viewModel)
	}
	return m
}

func selectedIndex(t *testing.T, m viewModel) int {
	t.Helper()
	it, ok := m.selected()
	if !ok {
		t.Fatal("no packet selected")
	}
	return it.packet.Index
}

// ============================================================
// Packet Browser Tests
// ============================================================

func TestView_NextAlert(t *testing.T) {
	m := newViewModel(demoResults(t), abcc.DefaultSettings(), "demo")

	first := -1
	for _, it := range m.items {
		if it.alert {
			first = it.packet.Index
			break
		}
	}
	if first <= 0 {
		t.Fatalf("demo capture has no alert after packet 0 (first = %d)", first)
	}

	m = press(m, "n")
	if got := selectedIndex(t, m); got != first {
		t.Fatalf("n selected packet %d, want %d", got, first)
	}

	m = press(m, "n")
	second := selectedIndex(t, m)
	if second <= first || !m.items[second].alert {
		t.Errorf("second n selected packet %d", second)
	}

	m = press(m, "N")
	if got := selectedIndex(t, m); got != first {
		t.Errorf("N selected packet %d, want %d", got, first)
	}
}

func TestView_Jump(t *testing.T) {
	m := newViewModel(demoResults(t), abcc.DefaultSettings(), "demo")

	m = press(m, "tab", "tab")
	if m.focusedField != focusJumpInput {
		t.Fatalf("focus = %d, want jump input", m.focusedField)
	}

	m = press(m, "1", "2", "enter")
	if got := selectedIndex(t, m); got != 12 {
		t.Errorf("jumped to packet %d, want 12", got)
	}
	if m.focusedField != focusPacketList {
		t.Errorf("focus = %d after jump, want packet list", m.focusedField)
	}

	m = press(m, "tab", "tab", "9", "9", "9", "enter")
	if m.status == "" {
		t.Error("jumping past the last packet should set a status")
	}
	if got := selectedIndex(t, m); got != 12 {
		t.Errorf("selection moved to %d on a bad jump", got)
	}
}

func TestView_DetailShowsFrames(t *testing.T) {
	m := newViewModel(demoResults(t), abcc.DefaultSettings(), "demo")
	m = press(m, "tab", "tab", "1", "1", "enter")

	v := m.View()
	if !strings.Contains(v, "CHECKSUM_ERROR") {
		t.Error("detail of packet 11 should name the checksum error")
	}
	if !strings.Contains(v, "ABCC SPI VIEWER") {
		t.Error("missing title")
	}
}

func TestPacketItem_FilterValue(t *testing.T) {
	res := demoResults(t)
	items := packetItems(res, abcc.DefaultSettings())

	found := false
	for _, it := range items {
		if it.packet.Type != abcc.PacketChecksumError {
			continue
		}
		found = true
		fv := it.FilterValue()
		if !strings.Contains(fv, "CHECKSUM_ERROR") || !strings.Contains(fv, "!CRC_ERROR") {
			t.Errorf("filter value %q lacks the type or the indexed error", fv)
		}
		if !strings.HasSuffix(it.Title(), " !") {
			t.Errorf("title %q should mark the alert", it.Title())
		}
	}
	if !found {
		t.Fatal("no checksum error packet")
	}
}
