// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"fmt"
	"time"
)

// Statistics summarises a decode pass
type Statistics struct {
	Duration time.Duration

	// Counters
	TotalPackets   uint64
	ValidPackets   uint64
	PacketsByType  map[PacketType]uint64
	Frames         uint64
	Incomplete     uint64
	Retransmits    uint64
	CRCErrors      uint64
	FragErrors     uint64
	SettingsErrors uint64
	Messages       uint64
	Transactions   uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates an empty statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{
		PacketsByType: make(map[PacketType]uint64),
	}
}

// Compute returns the statistics of a results set
func Compute(r *Results) *Statistics {
	s := NewStatistics()
	for _, p := range r.Packets {
		s.Update(p, r.Frames[p.FrameStart:p.FrameEnd])
	}
	s.Messages = uint64(len(r.Messages))
	s.Transactions = uint64(len(r.Transactions))
	s.Duration = r.Duration()
	s.CalculateRates()
	return s
}

// Update counts one packet and its frames
func (s *Statistics) Update(p Packet, frames []Frame) {
	s.TotalPackets++
	s.PacketsByType[p.Type]++
	s.Frames += uint64(len(frames))

	if p.Incomplete {
		s.Incomplete++
	}
	if !p.Type.IsError() && !p.Incomplete {
		s.ValidPackets++
	}

	for _, f := range frames {
		switch f.Event {
		case EventRetransmitWarning:
			// reported on both SPI_CTL and SPI_STS
			if f.Direction == DirMosi {
				s.Retransmits++
			}
		case EventCrcError:
			s.CRCErrors++
		case EventFragmentationError:
			s.FragErrors++
		}
		if f.Flags.Has(FlagSettingsError) {
			s.SettingsErrors++
		}
	}
}

// ErrorCount returns the number of fault events
func (s *Statistics) ErrorCount() uint64 {
	return s.CRCErrors + s.FragErrors + s.SettingsErrors
}

// CalculateRates calculates packet and error rates over the capture duration
func (s *Statistics) CalculateRates() {
	elapsed := s.Duration.Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	var validPercent float64
	if s.TotalPackets > 0 {
		validPercent = float64(s.ValidPackets) * 100.0 / float64(s.TotalPackets)
	}

	result := fmt.Sprintf("=== Statistics (%s) ===\n", s.Duration)
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, validPercent)

	for t := PacketNull; t <= PacketCancel; t++ {
		if n := s.PacketsByType[t]; n > 0 {
			result += fmt.Sprintf("  %-15s %6d\n", t.String()+":", n)
		}
	}

	result += fmt.Sprintf("Frames:          %8d\n", s.Frames)
	result += fmt.Sprintf("Messages:        %8d\n", s.Messages)
	result += fmt.Sprintf("Transactions:    %8d\n", s.Transactions)

	if s.Incomplete > 0 {
		result += fmt.Sprintf("Incomplete:      %8d\n", s.Incomplete)
	}
	if s.Retransmits > 0 {
		result += fmt.Sprintf("Retransmits:     %8d\n", s.Retransmits)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.FragErrors > 0 {
		result += fmt.Sprintf("Frag Errors:     %8d\n", s.FragErrors)
	}
	if s.SettingsErrors > 0 {
		result += fmt.Sprintf("Settings Errors: %8d\n", s.SettingsErrors)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = Statistics{PacketsByType: make(map[PacketType]uint64)}
}
