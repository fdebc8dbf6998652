// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

// misoRun is the run state of the module to host machine
type misoRun struct {
	state    MisoState
	acc      fieldAcc
	checksum Checksum
	left     int

	msg     msgState
	prevMsg msgState

	status byte // SPI_STS of this packet
	anbSts byte
	ledSts uint16

	lastAnbSts    byte
	haveAnbSts    bool
	lastTimestamp uint32
	haveTimestamp bool

	netTime     NetworkTimeInfo
	timestamp   uint32
	netSample   int64
	haveNetTime bool

	pkt dirPacket
}

func (r misoRun) begin() misoRun {
	r.state = MisoReserved1
	r.acc = fieldAcc{}
	r.checksum.Reset()
	r.left = 0
	r.status, r.anbSts, r.ledSts = 0, 0, 0
	r.netTime, r.timestamp, r.haveNetTime = NetworkTimeInfo{}, 0, false
	r.pkt = dirPacket{}
	r.msg.pkt = msgOutcome{}
	return r
}

func (r *misoRun) complete() bool {
	return r.pkt.crcDone
}

func (r *misoRun) summary() dirSummary {
	m := r.msg.pkt
	return dirSummary{
		crcError:   r.pkt.crcError,
		protoError: m.fragError,
		cancel:     r.pkt.cancel,
		activity:   m.activity,
		fragment:   m.fragment,
		completed:  m.completed,
		errorResp:  m.completed && m.message.Header.IsError(),
		payload:    m.activity,
	}
}

// stepMiso advances the module to host machine by one byte. The message and
// process data lengths of the frame come from the MOSI machine, which has
// decoded them by the time MISO reaches its message field.
func stepMiso(r misoRun, mv mosiView, in byteIn, out []Frame) (misoRun, []Frame) {
	switch r.state {
	case MisoIdle:
		r = r.begin()
	case MisoDone:
		// trailing pad clocked while MOSI sends PAD
		return r, out
	}

	switch r.state {
	case MisoMsgField:
		r.checksum.Update(in.value)
		if r.status&SpiStatusM != 0 {
			r.msg, out = stepMessage(r.msg, DirMiso, in, out)
		} else {
			out = append(out, byteFrame(DirMiso, FieldMsgDataNotValid, in))
		}
		r.left--
		if r.left == 0 {
			r = r.enterReadPd(mv)
		}
		return r, out

	case MisoReadPd:
		r.checksum.Update(in.value)
		out = append(out, byteFrame(DirMiso, FieldProcessData, in))
		r.left--
		if r.left == 0 {
			r.state = MisoCrc32
		}
		return r, out
	}

	if r.state != MisoCrc32 {
		r.checksum.Update(in.value)
	}
	r.acc.add(in)
	if r.acc.n < misoStates[r.state].size {
		return r, out
	}

	v := r.acc.value
	f := r.acc.frame(DirMiso, misoStates[r.state].field, in.last)
	r.acc = fieldAcc{}

	switch r.state {
	case MisoReserved1:
		r.state = MisoReserved2

	case MisoReserved2:
		r.state = MisoLedStatus

	case MisoLedStatus:
		r.ledSts = uint16(v)
		r.state = MisoAnbStatus

	case MisoAnbStatus:
		r.anbSts = byte(v)
		if (!r.haveAnbSts && statusEventOnFirstPacket) || (r.haveAnbSts && r.anbSts != r.lastAnbSts) {
			f.Flags |= FlagProtoEvent
		}
		r.lastAnbSts = r.anbSts
		r.haveAnbSts = true
		r.pkt.statusSeen = true
		r.state = MisoSpiStatus

	case MisoSpiStatus:
		r.status = byte(v)
		f = r.checkRetransmit(f, mv)
		r.state = MisoNetTime

	case MisoNetTime:
		ts := uint32(v)
		r.netTime = NetworkTimeInfo{
			NewRdPd:   r.status&SpiStatusNewPd != 0,
			WrPdValid: mv.ctrl&SpiCtrlWrPdValid != 0,
		}
		if r.haveTimestamp {
			r.netTime.DeltaTime = ts - r.lastTimestamp
		}
		r.timestamp = ts
		r.netSample = f.Start
		r.lastTimestamp = ts
		r.haveTimestamp = true
		r.haveNetTime = true
		out = append(out, f)
		return r.enterMsgField(mv, in, out)

	case MisoCrc32:
		r.pkt.crcDone = true
		if !r.checksum.Verify(uint32(v)) {
			r.pkt.crcError = true
			f.Event = EventCrcError
			f.Flags |= FlagProtoEvent
		}
		r.state = MisoDone
	}

	return r, append(out, f)
}

// checkRetransmit mirrors the MOSI toggle decision onto SPI_STS
func (r *misoRun) checkRetransmit(f Frame, mv mosiView) Frame {
	if mv.retransmit {
		r.pkt.retransmit = true
		f.Event = EventRetransmitWarning
		f.Flags |= FlagProtoEvent
		r.msg = r.prevMsg.restore()
	} else {
		r.prevMsg = r.msg
	}

	if r.status&SpiStatusM == 0 && r.status&SpiStatusLastFrag != 0 && r.msg.inFrag {
		r.msg = r.msg.cancel()
		r.pkt.cancel = true
	}
	return f
}

func (r misoRun) enterMsgField(mv mosiView, in byteIn, out []Frame) (misoRun, []Frame) {
	r.state = MisoMsgField
	r.left = mv.msgLen
	if r.status&SpiStatusM != 0 {
		r.msg = beginMessageField(r.msg, mv.msgLen, r.status&SpiStatusLastFrag != 0)
		if mv.msgLen == 0 {
			r.msg, out = endMessageField(r.msg, DirMiso, in, out)
		}
	}
	if r.left == 0 {
		r = r.enterReadPd(mv)
	}
	return r, out
}

func (r misoRun) enterReadPd(mv mosiView) misoRun {
	r.state = MisoReadPd
	r.left = mv.pdLen
	if r.left == 0 {
		r.state = MisoCrc32
	}
	return r
}
