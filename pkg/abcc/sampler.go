// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import "math"

// ByteStatus is the outcome of pulling a packet or byte from the Sampler
type ByteStatus int

const (
	ByteOK    ByteStatus = iota
	ByteError            // sampling fault (clock activity or polarity inconsistent with settings)
	ByteReset            // packet ended mid-byte
	ByteEnd              // packet ended on a byte boundary
	ByteEOF              // capture exhausted
)

func (s ByteStatus) String() string {
	switch s {
	case ByteOK:
		return "OK"
	case ByteError:
		return "ERROR"
	case ByteReset:
		return "RESET"
	case ByteEnd:
		return "END"
	case ByteEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// ByteSample is one byte clocked on both data lines, with the samples of its
// first and last clock edge.
type ByteSample struct {
	Mosi  byte
	Miso  byte
	First int64
	Last  int64
}

// Sampler turns the clock and data channels of a Capture into packets of
// byte pairs. Packets are delimited by ENABLE in 4-wire mode and by clock
// idle gaps in 3-wire mode.
type Sampler struct {
	capture *Capture

	clockIdle    bool
	trailing     bool
	enableActive bool
	threeWire    bool

	minIdleGap     int64
	maxClockActive int64

	cursor    int64
	packetEnd int64 // ENABLE release of the current packet, MaxInt64 if never
	lastClock int64 // last clock edge consumed in the current 3-wire packet
}

// NewSampler creates a sampler positioned at the start of the capture
func NewSampler(c *Capture, s Settings) *Sampler {
	sp := &Sampler{
		capture:        c,
		clockIdle:      s.ClockPolarity == ClockIdleHigh,
		trailing:       s.ClockPhase == SampleTrailingEdge,
		enableActive:   s.EnableActiveHigh,
		threeWire:      s.ThreeWire(c),
		minIdleGap:     c.Samples(s.MinIdleGap),
		maxClockActive: c.Samples(s.MaxClockActiveTime),
		cursor:         -1,
		packetEnd:      math.MaxInt64,
		lastClock:      -1,
	}
	if sp.minIdleGap < 1 {
		sp.minIdleGap = 1
	}
	if sp.maxClockActive < 1 {
		sp.maxClockActive = 1
	}
	return sp
}

// ThreeWire reports whether the sampler delimits packets by idle gaps
func (s *Sampler) ThreeWire() bool {
	return s.threeWire
}

// PacketEnd returns the sample at which the current packet ended, or the
// cursor position if the boundary is not known yet.
func (s *Sampler) PacketEnd() int64 {
	if s.threeWire || s.packetEnd == math.MaxInt64 {
		return s.cursor
	}
	return s.packetEnd
}

// NextPacket advances to the start of the next packet and returns its first
// sample. A ByteError status means the packet opened inconsistently with the
// settings; the caller should report it and call SkipPacket.
func (s *Sampler) NextPacket() (int64, ByteStatus) {
	if s.threeWire {
		return s.nextBurst()
	}
	return s.nextWindow()
}

// SkipPacket moves the cursor past the rest of the current packet
func (s *Sampler) SkipPacket() {
	if !s.threeWire {
		if s.packetEnd != math.MaxInt64 {
			s.cursor = s.packetEnd
		} else if last := s.capture.LastSample(); last > s.cursor {
			// window never closes
			s.cursor = last
		}
		return
	}

	clk := &s.capture.Clock
	prev := s.cursor
	if s.lastClock > prev {
		prev = s.lastClock
	}
	if s.lastClock < 0 {
		// Nothing clocked yet: the leading edge belongs to this burst even
		// when the idle gap is a single sample.
		if lead, ok := clk.NextEdge(prev); ok {
			prev = lead
		}
	}
	for {
		edge, ok := clk.NextEdge(prev)
		if !ok || (prev >= 0 && edge-prev >= s.minIdleGap) {
			s.cursor = prev
			return
		}
		prev = edge
	}
}

func (s *Sampler) nextWindow() (int64, ByteStatus) {
	en := s.capture.Enable
	if en == nil {
		return s.cursor, ByteEOF
	}

	// A capture that opens inside an active window starts mid-packet; the
	// window is skipped along with any window left unfinished by the caller.
	if en.Level(s.cursor) == s.enableActive {
		end, ok := en.NextEdge(s.cursor)
		if !ok {
			return s.cursor, ByteEOF
		}
		s.cursor = end
	}

	start, ok := en.NextEdge(s.cursor)
	if !ok {
		return s.cursor, ByteEOF
	}

	status := ByteOK
	if edge, ok := s.capture.Clock.NextEdge(s.cursor); ok && edge <= start && s.cursor >= 0 {
		status = ByteError
	}
	if s.capture.Clock.Level(start) != s.clockIdle {
		status = ByteError
	}

	s.cursor = start
	s.packetEnd = math.MaxInt64
	if end, ok := en.NextEdge(start); ok {
		s.packetEnd = end
	}
	return start, status
}

func (s *Sampler) nextBurst() (int64, ByteStatus) {
	clk := &s.capture.Clock
	lead, ok := clk.NextEdge(s.cursor)
	if !ok {
		return s.cursor, ByteEOF
	}

	status := ByteOK
	if clk.Level(lead-1) != s.clockIdle {
		status = ByteError
	}
	s.cursor = lead - 1
	s.lastClock = -1
	return lead, status
}

// NextByte clocks the next byte pair of the current packet
func (s *Sampler) NextByte() (ByteSample, ByteStatus) {
	clk := &s.capture.Clock
	var sample ByteSample

	for bit := 0; bit < 8; bit++ {
		lead, ok := clk.NextEdge(s.cursor)
		if !ok || lead >= s.packetEnd {
			return sample, s.cut(bit)
		}
		if s.threeWire && s.lastClock >= 0 && lead-s.lastClock >= s.minIdleGap {
			return sample, s.cut(bit)
		}

		trail, ok := clk.NextEdge(lead)
		if !ok || trail >= s.packetEnd {
			s.cursor = lead
			if s.packetEnd != math.MaxInt64 {
				s.cursor = s.packetEnd
			}
			return sample, ByteReset
		}
		if s.threeWire && trail-lead > s.maxClockActive {
			s.cursor = trail
			s.lastClock = trail
			return sample, ByteError
		}

		at := lead
		if s.trailing {
			at = trail
		}
		sample.Mosi = sample.Mosi<<1 | bit01(s.capture.Mosi.Level(at))
		sample.Miso = sample.Miso<<1 | bit01(s.capture.Miso.Level(at))

		if bit == 0 {
			sample.First = lead
		}
		sample.Last = trail
		s.cursor = trail
		s.lastClock = trail
	}
	return sample, ByteOK
}

// cut ends the current packet after bit bits of an unfinished byte
func (s *Sampler) cut(bit int) ByteStatus {
	if !s.threeWire && s.packetEnd != math.MaxInt64 {
		s.cursor = s.packetEnd
	}
	if bit == 0 {
		return ByteEnd
	}
	return ByteReset
}

func bit01(level bool) byte {
	if level {
		return 1
	}
	return 0
}
