// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"testing"
	"time"
)

// ============================================================
// Sampler Tests
// ============================================================

func TestSampler_ClocksBytes(t *testing.T) {
	phases := []struct {
		name  string
		phase ClockPhase
	}{
		{"trailing", SampleTrailingEdge},
		{"leading", SampleLeadingEdge},
	}
	polarities := []struct {
		name     string
		polarity ClockPolarity
	}{
		{"idle high", ClockIdleHigh},
		{"idle low", ClockIdleLow},
	}

	for _, ph := range phases {
		for _, pol := range polarities {
			t.Run(ph.name+"/"+pol.name, func(t *testing.T) {
				opts := DefaultSimOptions()
				opts.Settings.ClockPhase = ph.phase
				opts.Settings.ClockPolarity = pol.polarity
				c := Simulate([]SimPacket{{Mosi: []byte{0xA5, 0x01}, Miso: []byte{0x3C, 0x80}}}, opts)

				sp := NewSampler(c, opts.Settings)
				if _, status := sp.NextPacket(); status != ByteOK {
					t.Fatalf("NextPacket status = %s", status)
				}

				want := []ByteSample{{Mosi: 0xA5, Miso: 0x3C}, {Mosi: 0x01, Miso: 0x80}}
				for i, w := range want {
					b, status := sp.NextByte()
					if status != ByteOK {
						t.Fatalf("byte %d status = %s", i, status)
					}
					if b.Mosi != w.Mosi || b.Miso != w.Miso {
						t.Errorf("byte %d = %02X/%02X, want %02X/%02X", i, b.Mosi, b.Miso, w.Mosi, w.Miso)
					}
					if b.Last <= b.First {
						t.Errorf("byte %d spans %d..%d", i, b.First, b.Last)
					}
				}

				if _, status := sp.NextByte(); status != ByteEnd {
					t.Errorf("status after last byte = %s, want END", status)
				}
				if _, status := sp.NextPacket(); status != ByteEOF {
					t.Errorf("status after last packet = %s, want EOF", status)
				}
			})
		}
	}
}

func TestSampler_ThreeWireBursts(t *testing.T) {
	opts := DefaultSimOptions()
	opts.ThreeWire = true
	packets := []SimPacket{
		{Mosi: []byte{0x11}, Miso: []byte{0x22}},
		{Mosi: []byte{0x33}, Miso: []byte{0x44}},
	}
	c := Simulate(packets, opts)

	sp := NewSampler(c, opts.Settings)
	if !sp.ThreeWire() {
		t.Fatal("capture without ENABLE should sample in 3-wire mode")
	}

	for i, p := range packets {
		if _, status := sp.NextPacket(); status != ByteOK {
			t.Fatalf("packet %d status = %s", i, status)
		}
		b, status := sp.NextByte()
		if status != ByteOK || b.Mosi != p.Mosi[0] || b.Miso != p.Miso[0] {
			t.Errorf("packet %d byte = %02X/%02X (%s)", i, b.Mosi, b.Miso, status)
		}
		if _, status := sp.NextByte(); status != ByteEnd {
			t.Errorf("packet %d should end at the idle gap, got %s", i, status)
		}
	}

	if _, status := sp.NextPacket(); status != ByteEOF {
		t.Error("expected EOF after the last burst")
	}
}

func TestSampler_ResetMidByte(t *testing.T) {
	opts := DefaultSimOptions()
	c := Simulate([]SimPacket{{Mosi: []byte{0xFF, 0xFF}, CutAfterBits: 12}}, opts)

	sp := NewSampler(c, opts.Settings)
	sp.NextPacket()
	if _, status := sp.NextByte(); status != ByteOK {
		t.Fatalf("first byte status = %s", status)
	}
	if _, status := sp.NextByte(); status != ByteReset {
		t.Errorf("truncated byte status = %s, want RESET", status)
	}
}

func TestSampler_PolarityMismatch(t *testing.T) {
	opts := DefaultSimOptions()
	c := Simulate([]SimPacket{{Mosi: []byte{0x00}}}, opts)

	s := opts.Settings
	s.ClockPolarity = ClockIdleLow
	sp := NewSampler(c, s)
	if _, status := sp.NextPacket(); status != ByteError {
		t.Errorf("NextPacket status = %s, want ERROR", status)
	}
}

func TestSampler_ClockBetweenWindows(t *testing.T) {
	opts := DefaultSimOptions()
	c := Simulate([]SimPacket{{Mosi: []byte{0x00}}, {Mosi: []byte{0x00}}}, opts)

	// stray pulse between the two ENABLE windows
	end := c.Enable.Transitions[1]
	c.Clock.Transitions = insertEdges(c.Clock.Transitions, end+10, end+11)

	sp := NewSampler(c, opts.Settings)
	if _, status := sp.NextPacket(); status != ByteOK {
		t.Fatalf("first packet status = %s", status)
	}
	sp.NextByte()
	sp.NextByte()
	if _, status := sp.NextPacket(); status != ByteError {
		t.Errorf("second packet status = %s, want ERROR", status)
	}
}

func TestSampler_ClockActiveTooLong(t *testing.T) {
	c := &Capture{
		SampleRate: 10e6,
		Clock:      Channel{Initial: true, Transitions: []int64{100, 200}},
	}
	s := DefaultSettings()

	sp := NewSampler(c, s)
	if _, status := sp.NextPacket(); status != ByteOK {
		t.Fatalf("NextPacket status = %s", status)
	}
	if _, status := sp.NextByte(); status != ByteError {
		t.Errorf("stretched clock status = %s, want ERROR", status)
	}
}

func TestSampler_SkipSingleSampleGap(t *testing.T) {
	c := &Capture{
		SampleRate: 1e6,
		Clock:      Channel{Initial: false, Transitions: []int64{10, 20, 30, 40}},
	}
	s := DefaultSettings()
	s.MinIdleGap = time.Microsecond

	sp := NewSampler(c, s)
	start, status := sp.NextPacket()
	if status != ByteError || start != 10 {
		t.Fatalf("NextPacket = %d %s, want 10 ERROR", start, status)
	}
	sp.SkipPacket()
	if start, _ := sp.NextPacket(); start <= 10 {
		t.Errorf("packet after skip starts at %d, want past 10", start)
	}
}

// insertEdges returns transitions with extra edges merged in order
func insertEdges(transitions []int64, edges ...int64) []int64 {
	out := make([]int64, 0, len(transitions)+len(edges))
	i := 0
	for _, e := range edges {
		for i < len(transitions) && transitions[i] < e {
			out = append(out, transitions[i])
			i++
		}
		out = append(out, e)
	}
	return append(out, transitions[i:]...)
}
