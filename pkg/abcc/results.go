// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import "time"

// Frame is one decoded field of one direction
type Frame struct {
	Direction Direction
	Field     Field
	Data      uint64 // little-endian field value, or error code for FieldError
	Size      int    // bytes covered; zero for error annotations
	Offset    int    // byte offset of the first covered byte within the packet
	Start     int64  // first sample
	End       int64  // last sample
	Flags     FrameFlags
	Event     ErrorEvent
	Packet    int
}

// Alert reports whether the frame carries an error event or fault. Status
// changes and error responses only raise FlagProtoEvent and are not alerts.
func (f Frame) Alert() bool {
	return f.Event != EventNone || f.Flags.Has(FlagSettingsError) || f.Field == FieldError
}

// MessageHeader is the fixed 12 byte header of an ABCC message
type MessageHeader struct {
	Size       uint16 // data bytes following the header
	SourceID   uint8
	Object     uint8
	Instance   uint16
	Command    uint8
	CommandExt uint16
}

// IsCommand reports whether the C bit is set
func (h MessageHeader) IsCommand() bool {
	return h.Command&MsgCmdRequestBit != 0
}

// IsError reports whether the E bit is set
func (h MessageHeader) IsError() bool {
	return h.Command&MsgCmdErrorBit != 0
}

// Code returns the command code without the E and C bits
func (h MessageHeader) Code() uint8 {
	return h.Command & MsgCmdMask
}

// Message is a reassembled message, possibly spanning several packets
type Message struct {
	Direction Direction
	Header    MessageHeader
	Data      []byte
	Packet    int // packet that completed the message
	Fragments int // packets carrying the message
	Start     int64
	End       int64
}

// NetworkTimeInfo is produced once per MISO frame from NET_TIME
type NetworkTimeInfo struct {
	DeltaTime uint32
	NewRdPd   bool
	WrPdValid bool
}

// NetworkTime is a NetworkTimeInfo bound to the packet that carried it
type NetworkTime struct {
	NetworkTimeInfo
	Packet    int
	Timestamp uint32
	Sample    int64
}

// Packet is one classified ENABLE-bounded window
type Packet struct {
	Index      int
	Type       PacketType
	Start      int64
	End        int64
	FrameStart int // index of the first frame
	FrameEnd   int // one past the last frame
	Bytes      int
	Incomplete bool // ended before the frame layout was complete
	Retransmit bool
}

// Transaction pairs a command message with its response
type Transaction struct {
	Command  int // index into Results.Messages
	Response int
	SourceID uint8
	Error    bool
	Start    int64
	End      int64
}

type frameKey struct {
	packet int
	dir    Direction
	field  Field
}

// Results is the output of one decode pass
type Results struct {
	SampleRate   float64
	ThreeWire    bool
	Frames       []Frame
	Packets      []Packet
	Messages     []Message
	Transactions []Transaction
	NetworkTimes []NetworkTime

	index map[frameKey]int
}

func newResults(c *Capture, threeWire bool) *Results {
	return &Results{
		SampleRate: c.SampleRate,
		ThreeWire:  threeWire,
		index:      make(map[frameKey]int),
	}
}

// FrameAt returns the index of the first frame of field in the given packet
// and direction.
func (r *Results) FrameAt(packet int, dir Direction, field Field) (int, bool) {
	if r.index == nil {
		r.reindex()
	}
	i, ok := r.index[frameKey{packet, dir, field}]
	return i, ok
}

// PacketFrames returns the frames of one packet
func (r *Results) PacketFrames(packet int) []Frame {
	if packet < 0 || packet >= len(r.Packets) {
		return nil
	}
	p := r.Packets[packet]
	return r.Frames[p.FrameStart:p.FrameEnd]
}

// Time converts a sample index to the time since capture start
func (r *Results) Time(sample int64) time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(sample) / r.SampleRate * float64(time.Second))
}

// Duration returns the span from the first to the last packet
func (r *Results) Duration() time.Duration {
	if len(r.Packets) == 0 {
		return 0
	}
	return r.Time(r.Packets[len(r.Packets)-1].End) - r.Time(r.Packets[0].Start)
}

// commit appends a finished packet and its frames
func (r *Results) commit(p Packet, frames []Frame) int {
	p.Index = len(r.Packets)
	p.FrameStart = len(r.Frames)
	for _, f := range frames {
		f.Packet = p.Index
		key := frameKey{p.Index, f.Direction, f.Field}
		if _, ok := r.index[key]; !ok {
			r.index[key] = len(r.Frames)
		}
		r.Frames = append(r.Frames, f)
	}
	p.FrameEnd = len(r.Frames)
	r.Packets = append(r.Packets, p)
	return p.Index
}

// reindex rebuilds the FrameAt lookup, used for results loaded from storage
func (r *Results) reindex() {
	r.index = make(map[frameKey]int, len(r.Frames))
	for i, f := range r.Frames {
		key := frameKey{f.Packet, f.Direction, f.Field}
		if _, ok := r.index[key]; !ok {
			r.index[key] = i
		}
	}
}
