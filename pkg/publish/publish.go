// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish streams decode results to a remote consumer as CBOR
// records. Every record is one [record_type, payload_map] array written
// with a single Write, so a WebSocket connection carries one record per
// binary message.
package publish

import (
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/fxamacker/cbor/v2"
)

// Record types
const (
	RecordPacket  uint8 = 0x10
	RecordMessage uint8 = 0x11
	RecordSummary uint8 = 0x12
)

// Packet record keys
const (
	KeyPacketIndex      = 1
	KeyPacketType       = 2
	KeyPacketTypeName   = 3
	KeyPacketStart      = 4 // seconds
	KeyPacketEnd        = 5 // seconds
	KeyPacketBytes      = 6
	KeyPacketIncomplete = 7
	KeyPacketRetransmit = 8
	KeyPacketAlerts     = 9
)

// Message record keys
const (
	KeyMsgPacket     = 1
	KeyMsgDirection  = 2
	KeyMsgSourceID   = 3
	KeyMsgObject     = 4
	KeyMsgInstance   = 5
	KeyMsgCommand    = 6
	KeyMsgCommandExt = 7
	KeyMsgData       = 8
	KeyMsgFragments  = 9
)

// Summary record keys
const (
	KeySummaryPackets      = 1
	KeySummaryErrors       = 2
	KeySummaryMessages     = 3
	KeySummaryTransactions = 4
	KeySummaryDuration     = 5 // seconds
)

// Publisher writes records to w. It is safe for concurrent use.
type Publisher struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a publisher writing to w
func New(w io.Writer) *Publisher {
	return &Publisher{w: w}
}

func (p *Publisher) send(recordType uint8, payload map[int]interface{}) error {
	data, err := cbor.Marshal([]interface{}{recordType, payload})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.w.Write(data)
	return err
}

// Packet publishes one packet
func (p *Publisher) Packet(r *abcc.Results, pkt abcc.Packet) error {
	alerts := 0
	for _, f := range r.PacketFrames(pkt.Index) {
		if f.Alert() {
			alerts++
		}
	}
	return p.send(RecordPacket, map[int]interface{}{
		KeyPacketIndex:      pkt.Index,
		KeyPacketType:       uint8(pkt.Type),
		KeyPacketTypeName:   pkt.Type.String(),
		KeyPacketStart:      r.Time(pkt.Start).Seconds(),
		KeyPacketEnd:        r.Time(pkt.End).Seconds(),
		KeyPacketBytes:      pkt.Bytes,
		KeyPacketIncomplete: pkt.Incomplete,
		KeyPacketRetransmit: pkt.Retransmit,
		KeyPacketAlerts:     alerts,
	})
}

// Message publishes one reassembled message
func (p *Publisher) Message(m abcc.Message) error {
	return p.send(RecordMessage, map[int]interface{}{
		KeyMsgPacket:     m.Packet,
		KeyMsgDirection:  uint8(m.Direction),
		KeyMsgSourceID:   m.Header.SourceID,
		KeyMsgObject:     m.Header.Object,
		KeyMsgInstance:   m.Header.Instance,
		KeyMsgCommand:    m.Header.Command,
		KeyMsgCommandExt: m.Header.CommandExt,
		KeyMsgData:       m.Data,
		KeyMsgFragments:  m.Fragments,
	})
}

// Summary publishes the statistics of a decode pass
func (p *Publisher) Summary(s *abcc.Statistics) error {
	return p.send(RecordSummary, map[int]interface{}{
		KeySummaryPackets:      s.TotalPackets,
		KeySummaryErrors:       s.ErrorCount(),
		KeySummaryMessages:     s.Messages,
		KeySummaryTransactions: s.Transactions,
		KeySummaryDuration:     s.Duration.Seconds(),
	})
}

// Results publishes every packet, each followed by the messages it
// completed, and a closing summary.
func (p *Publisher) Results(r *abcc.Results) error {
	next := 0
	for _, pkt := range r.Packets {
		if err := p.Packet(r, pkt); err != nil {
			return err
		}
		for ; next < len(r.Messages) && r.Messages[next].Packet == pkt.Index; next++ {
			if err := p.Message(r.Messages[next]); err != nil {
				return err
			}
		}
	}
	return p.Summary(abcc.Compute(r))
}
