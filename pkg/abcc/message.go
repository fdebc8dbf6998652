// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import "slices"

// byteIn is one byte of one direction as fed to the state machines
type byteIn struct {
	value  byte
	first  int64
	last   int64
	offset int
}

// fieldAcc accumulates the little-endian value of a multi-byte field. seg
// counts the bytes seen in the current packet so a field split across
// packets is reported once per packet.
type fieldAcc struct {
	value  uint64
	n      int
	seg    int
	start  int64
	offset int
}

func (a *fieldAcc) add(in byteIn) {
	if a.seg == 0 {
		a.start = in.first
		a.offset = in.offset
	}
	a.value |= uint64(in.value) << (8 * a.n)
	a.n++
	a.seg++
}

func (a fieldAcc) frame(dir Direction, field Field, end int64) Frame {
	f := Frame{
		Direction: dir,
		Field:     field,
		Data:      a.value,
		Size:      a.seg,
		Offset:    a.offset,
		Start:     a.start,
		End:       end,
	}
	if dir == DirMosi {
		f.Flags |= FlagMosi
	}
	return f
}

func byteFrame(dir Direction, field Field, in byteIn) Frame {
	var a fieldAcc
	a.add(in)
	return a.frame(dir, field, in.last)
}

func errorFrame(dir Direction, code byte, event ErrorEvent, offset int, start, end int64) Frame {
	f := Frame{
		Direction: dir,
		Field:     FieldError,
		Data:      uint64(code),
		Offset:    offset,
		Start:     start,
		End:       end,
		Flags:     FlagProtoEvent,
		Event:     event,
	}
	if dir == DirMosi {
		f.Flags |= FlagMosi
	}
	return f
}

// msgOutcome is what the message field of the current packet did
type msgOutcome struct {
	activity  bool // message bytes were carried
	firstFrag bool
	lastFrag  bool
	fragment  bool // message still in flight at the end of the field
	fragError bool
	completed bool
	message   Message
}

// msgState is the message reassembly sub-machine of one direction. It
// persists across packets while a message is fragmented.
type msgState struct {
	field    MsgField
	acc      fieldAcc
	header   MessageHeader
	data     []byte
	dataLeft int
	start    int64
	frags    int

	active    bool // a message is being reassembled
	inFrag    bool
	markFirst bool

	budget      int  // message field bytes left in this frame
	lastFragBit bool // LAST_FRAG of this frame

	pkt msgOutcome
}

// restore returns a copy safe to append to after a rollback or rewind
func (m msgState) restore() msgState {
	m.data = slices.Clip(m.data)
	m.pkt = msgOutcome{}
	return m
}

// cancel drops the message in flight
func (m msgState) cancel() msgState {
	m.active = false
	m.inFrag = false
	m.markFirst = false
	m.field = MsgFieldDataNotValid
	m.data = nil
	return m
}

// beginMessageField prepares the sub-machine for the message field of a
// frame. A message not continued from a previous frame starts fresh.
func beginMessageField(m msgState, budget int, lastFrag bool) msgState {
	m.budget = budget
	m.lastFragBit = lastFrag
	m.pkt.activity = budget > 0
	if budget > 0 && !(m.active && m.inFrag) {
		m = msgState{
			field:       MsgFieldSize,
			active:      true,
			budget:      budget,
			lastFragBit: lastFrag,
			pkt:         m.pkt,
		}
	}
	m.acc.seg = 0
	if m.active && budget > 0 {
		m.frags++
	}
	return m
}

// stepMessage consumes one message field byte
func stepMessage(m msgState, dir Direction, in byteIn, out []Frame) (msgState, []Frame) {
	m.budget--

	if !m.active {
		out = append(out, byteFrame(dir, FieldMsgDataNotValid, in))
	} else {
		if m.acc.n == 0 && m.field == MsgFieldSize {
			m.start = in.first
		}
		m.acc.add(in)
		if m.field == MsgFieldData {
			m.data = append(m.data, in.value)
			m.dataLeft--
		}
		if m.acc.n == msgFields[m.field].size {
			m, out = completeMsgField(m, dir, in, out)
		}
	}

	if m.budget == 0 {
		m, out = endMessageField(m, dir, in, out)
	}
	return m, out
}

func completeMsgField(m msgState, dir Direction, in byteIn, out []Frame) (msgState, []Frame) {
	v := m.acc.value
	end := in.last
	done := false
	next := m.field + 1

	switch m.field {
	case MsgFieldSize:
		m.header.Size = uint16(v)
		m.dataLeft = int(v)
		// Header bytes after the size plus the data must fit the rest of
		// this frame's message field.
		if !m.inFrag && MsgHeaderSize-2+m.dataLeft > m.budget {
			m.inFrag = true
			m.markFirst = true
			m.pkt.firstFrag = true
		}
	case MsgFieldSrcID:
		m.header.SourceID = uint8(v)
	case MsgFieldObject:
		m.header.Object = uint8(v)
	case MsgFieldInstance:
		m.header.Instance = uint16(v)
	case MsgFieldCommand:
		m.header.Command = uint8(v)
	case MsgFieldCmdExt:
		m.header.CommandExt = uint16(v)
		done = m.dataLeft == 0
	case MsgFieldData:
		done = m.dataLeft == 0
		next = MsgFieldData
	}

	f := m.acc.frame(dir, msgFields[m.field].field, end)
	if m.field == MsgFieldCommand && m.header.IsError() {
		f.Flags |= FlagProtoEvent
	}
	f, m = m.fragFlags(f)
	if done && m.inFrag && m.lastFragBit {
		f.Flags |= FlagLastFrag
	}
	out = append(out, f)

	m.acc = fieldAcc{}
	m.field = next
	if done {
		m, out = completeMessage(m, dir, in, out)
	}
	return m, out
}

func (m msgState) fragFlags(f Frame) (Frame, msgState) {
	if m.inFrag {
		f.Flags |= FlagFrag
	}
	if m.markFirst {
		f.Flags |= FlagFirstFrag
		m.markFirst = false
	}
	return f, m
}

func completeMessage(m msgState, dir Direction, in byteIn, out []Frame) (msgState, []Frame) {
	end := in.last
	fragmented := m.inFrag
	m.active = false
	m.inFrag = false
	m.field = MsgFieldDataNotValid

	// A message must complete on the frame claiming the last fragment
	if !m.lastFragBit {
		m.pkt.fragError = true
		out = append(out, errorFrame(dir, ErrorCodeFragmentation, EventFragmentationError, in.offset+1, end, end))
		m.data = nil
		return m, out
	}

	m.pkt.completed = true
	m.pkt.lastFrag = fragmented
	m.pkt.message = Message{
		Direction: dir,
		Header:    m.header,
		Data:      slices.Clone(m.data),
		Fragments: m.frags,
		Start:     m.start,
		End:       end,
	}
	m.data = nil
	return m, out
}

// endMessageField closes the message field of the current frame. A message
// still being reassembled continues in the next frame.
func endMessageField(m msgState, dir Direction, in byteIn, out []Frame) (msgState, []Frame) {
	end := in.last
	if !m.active {
		return m, out
	}

	if !m.inFrag {
		m.inFrag = true
		m.markFirst = true
		m.pkt.firstFrag = true
	}
	if m.acc.seg > 0 {
		var f Frame
		f, m = m.fragFlags(m.acc.frame(dir, msgFields[m.field].field, end))
		out = append(out, f)
		m.acc.seg = 0
	}

	if m.lastFragBit {
		m.pkt.fragError = true
		out = append(out, errorFrame(dir, ErrorCodeFragmentation, EventFragmentationError, in.offset+1, end, end))
		return m.cancel(), out
	}
	m.pkt.fragment = true
	return m, out
}
