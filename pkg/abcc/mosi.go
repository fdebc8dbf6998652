// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

// dirPacket is the per-packet information one direction reports to the
// classifier. It is cleared at every packet start.
type dirPacket struct {
	crcDone    bool
	crcError   bool
	overrun    bool // bytes clocked past the end of the frame
	retransmit bool
	cancel     bool
	statusSeen bool
}

// mosiRun is the run state of the host to module machine
type mosiRun struct {
	state    MosiState
	acc      fieldAcc
	checksum Checksum
	left     int // bytes left in the current variable length field

	msg     msgState
	prevMsg msgState // message state at the start of the last new packet

	ctrl    byte
	msgLen  int // bytes
	pdLen   int // bytes
	appSts  byte
	intMask byte

	lastToggle byte
	haveToggle bool
	lastAppSts byte
	haveAppSts bool

	pkt dirPacket
}

// mosiView is the read-only part of the MOSI run state the MISO machine
// consumes: MISO carries no lengths of its own.
type mosiView struct {
	ctrl       byte
	msgLen     int
	pdLen      int
	retransmit bool
}

func (r *mosiRun) view() mosiView {
	return mosiView{
		ctrl:       r.ctrl,
		msgLen:     r.msgLen,
		pdLen:      r.pdLen,
		retransmit: r.pkt.retransmit,
	}
}

// begin readies the machine for the first byte of a packet
func (r mosiRun) begin() mosiRun {
	r.state = MosiSpiCtrl
	r.acc = fieldAcc{}
	r.checksum.Reset()
	r.left = 0
	r.ctrl, r.msgLen, r.pdLen, r.appSts, r.intMask = 0, 0, 0, 0, 0
	r.pkt = dirPacket{}
	r.msg.pkt = msgOutcome{}
	return r
}

// complete reports whether the frame layout was clocked through the CRC
func (r *mosiRun) complete() bool {
	return r.pkt.crcDone
}

// summary reduces the run state to the classifier input
func (r *mosiRun) summary() dirSummary {
	m := r.msg.pkt
	return dirSummary{
		crcError:   r.pkt.crcError,
		protoError: r.pkt.overrun || m.fragError,
		cancel:     r.pkt.cancel,
		activity:   m.activity,
		fragment:   m.fragment,
		completed:  m.completed,
		errorResp:  m.completed && m.message.Header.IsError(),
		payload:    m.activity || r.pdLen > 0 || r.appSts != 0 || r.intMask != 0,
	}
}

// stepMosi advances the host to module machine by one byte
func stepMosi(r mosiRun, in byteIn, out []Frame) (mosiRun, []Frame) {
	switch r.state {
	case MosiIdle:
		r = r.begin()
	case MosiDone:
		r.pkt.overrun = true
		f := errorFrame(DirMosi, ErrorCodeGeneric, EventNone, in.offset, in.first, in.last)
		f.Size = 1
		return r, append(out, f)
	}

	switch r.state {
	case MosiMsgField:
		r.checksum.Update(in.value)
		if r.ctrl&SpiCtrlM != 0 {
			r.msg, out = stepMessage(r.msg, DirMosi, in, out)
		} else {
			out = append(out, byteFrame(DirMosi, FieldMsgDataNotValid, in))
		}
		r.left--
		if r.left == 0 {
			r = r.enterWritePd()
		}
		return r, out

	case MosiWritePd:
		r.checksum.Update(in.value)
		out = append(out, byteFrame(DirMosi, FieldProcessData, in))
		r.left--
		if r.left == 0 {
			r.state = MosiCrc32
		}
		return r, out
	}

	if r.state != MosiCrc32 && r.state != MosiPad {
		r.checksum.Update(in.value)
	}
	r.acc.add(in)
	if r.acc.n < mosiStates[r.state].size {
		return r, out
	}

	v := r.acc.value
	f := r.acc.frame(DirMosi, mosiStates[r.state].field, in.last)
	r.acc = fieldAcc{}

	switch r.state {
	case MosiSpiCtrl:
		r.ctrl = byte(v)
		f = r.checkToggle(f)
		r.state = MosiReserved1

	case MosiReserved1:
		r.state = MosiMsgLen

	case MosiMsgLen:
		r.msgLen = int(v) * 2
		r.state = MosiPdLen

	case MosiPdLen:
		r.pdLen = int(v) * 2
		r.state = MosiAppStatus

	case MosiAppStatus:
		r.appSts = byte(v)
		if (!r.haveAppSts && statusEventOnFirstPacket) || (r.haveAppSts && r.appSts != r.lastAppSts) {
			f.Flags |= FlagProtoEvent
		}
		r.lastAppSts = r.appSts
		r.haveAppSts = true
		r.pkt.statusSeen = true
		r.state = MosiIntMask

	case MosiIntMask:
		r.intMask = byte(v)
		out = append(out, f)
		return r.enterMsgField(in, out)

	case MosiCrc32:
		r.pkt.crcDone = true
		if !r.checksum.Verify(uint32(v)) {
			r.pkt.crcError = true
			f.Event = EventCrcError
			f.Flags |= FlagProtoEvent
		}
		r.state = MosiPad

	case MosiPad:
		r.state = MosiDone
	}

	return r, append(out, f)
}

// checkToggle compares the toggle bit with the last accepted one. A repeated
// toggle replays the previous packet, so the message state is rewound.
func (r *mosiRun) checkToggle(f Frame) Frame {
	toggle := r.ctrl & SpiCtrlToggle
	if r.haveToggle && toggle == r.lastToggle {
		r.pkt.retransmit = true
		f.Event = EventRetransmitWarning
		f.Flags |= FlagProtoEvent
		r.msg = r.prevMsg.restore()
	} else {
		r.prevMsg = r.msg
	}
	r.lastToggle = toggle
	r.haveToggle = true

	if r.ctrl&SpiCtrlM == 0 && r.ctrl&SpiCtrlLastFrag != 0 && r.msg.inFrag {
		r.msg = r.msg.cancel()
		r.pkt.cancel = true
	}
	return f
}

func (r mosiRun) enterMsgField(in byteIn, out []Frame) (mosiRun, []Frame) {
	r.state = MosiMsgField
	r.left = r.msgLen
	if r.ctrl&SpiCtrlM != 0 {
		r.msg = beginMessageField(r.msg, r.msgLen, r.ctrl&SpiCtrlLastFrag != 0)
		if r.msgLen == 0 {
			r.msg, out = endMessageField(r.msg, DirMosi, in, out)
		}
	}
	if r.left == 0 {
		r = r.enterWritePd()
	}
	return r, out
}

func (r mosiRun) enterWritePd() mosiRun {
	r.state = MosiWritePd
	r.left = r.pdLen
	if r.left == 0 {
		r.state = MosiCrc32
	}
	return r
}
