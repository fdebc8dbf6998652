// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"bytes"
	"testing"
)

// feedField runs one message field through the sub-machine
func feedField(m msgState, field []byte, lastFrag bool, offset int) (msgState, []Frame) {
	var out []Frame
	m.pkt = msgOutcome{}
	m = beginMessageField(m, len(field), lastFrag)
	for i, b := range field {
		s := int64(100 * (offset + i))
		m, out = stepMessage(m, DirMosi, byteIn{value: b, first: s, last: s + 80, offset: offset + i}, out)
	}
	return m, out
}

// ============================================================
// Message Sub-machine Tests
// ============================================================

func TestMessage_SingleField(t *testing.T) {
	h := MessageHeader{SourceID: 3, Object: ObjNetwork, Instance: 2, Command: MsgCmdRequestBit | CmdGetAttribute, CommandExt: 7}
	field := make([]byte, 20)
	copy(field, EncodeMessage(h, []byte{0xAB, 0xCD}))

	m, out := feedField(msgState{}, field, true, 8)
	if !m.pkt.completed || m.pkt.fragment || m.pkt.firstFrag {
		t.Fatalf("outcome = %+v", m.pkt)
	}

	got := m.pkt.message
	h.Size = 2
	if got.Header != h {
		t.Errorf("header = %+v, want %+v", got.Header, h)
	}
	if !bytes.Equal(got.Data, []byte{0xAB, 0xCD}) {
		t.Errorf("data = % X", got.Data)
	}
	if got.Fragments != 1 {
		t.Errorf("fragments = %d", got.Fragments)
	}

	// header fields, two data bytes, six unused bytes
	wantFields := []Field{
		FieldMsgSize, FieldMsgReserved1, FieldMsgSrcID, FieldMsgObject, FieldMsgInstance,
		FieldMsgCommand, FieldMsgReserved2, FieldMsgCmdExt, FieldMsgData, FieldMsgData,
	}
	for i, f := range wantFields {
		if out[i].Field != f {
			t.Errorf("frame %d = %s, want %s", i, out[i].Field, f)
		}
	}
	for _, f := range out[len(wantFields):] {
		if f.Field != FieldMsgDataNotValid {
			t.Errorf("trailing frame %s, want MD_NV", f.Field)
		}
	}
	if out[0].Offset != 8 || out[0].Size != 2 {
		t.Errorf("size frame offset=%d size=%d", out[0].Offset, out[0].Size)
	}
	for _, f := range out {
		if f.Flags.Has(FlagFrag) {
			t.Errorf("%s of an unfragmented message flagged as fragment", f.Field)
		}
	}
}

func TestMessage_FieldSplitAcrossFrames(t *testing.T) {
	// 11 byte fields split the message inside CMD_EXT
	msg := EncodeMessage(MessageHeader{SourceID: 1, Command: CmdGetAttribute, CommandExt: 0x1234}, make([]byte, 10))
	frags := Fragments(msg, 11)

	var m msgState
	var out []Frame
	for i, frag := range frags {
		var f []Frame
		m, f = feedField(m, frag, i == len(frags)-1, 0)
		out = append(out, f...)
		if i < len(frags)-1 && !m.pkt.fragment {
			t.Fatalf("frame %d should leave the message in flight", i)
		}
	}

	if !m.pkt.completed || !m.pkt.lastFrag {
		t.Fatalf("outcome = %+v", m.pkt)
	}
	if m.pkt.message.Header.CommandExt != 0x1234 {
		t.Errorf("CMD_EXT = 0x%04X", m.pkt.message.Header.CommandExt)
	}

	// the split field is reported once per frame, one byte each
	var ext []Frame
	for _, f := range out {
		if f.Field == FieldMsgCmdExt {
			ext = append(ext, f)
		}
	}
	if len(ext) != 2 || ext[0].Size != 1 || ext[1].Size != 1 {
		t.Errorf("CMD_EXT frames = %+v", ext)
	}
}

func TestMessage_FirstFragDetectedAtSize(t *testing.T) {
	msg := EncodeMessage(MessageHeader{}, make([]byte, 30))
	m, out := feedField(msgState{}, msg[:16], false, 0)

	if !m.pkt.firstFrag {
		t.Error("oversized message should be flagged as first fragment")
	}
	if !out[0].Flags.Has(FlagFirstFrag) || out[0].Field != FieldMsgSize {
		t.Errorf("first frame = %s flags=%b", out[0].Field, out[0].Flags)
	}
	for _, f := range out[1:] {
		if f.Flags.Has(FlagFirstFrag) {
			t.Errorf("%s also carries FIRST_FRAG", f.Field)
		}
		if !f.Flags.Has(FlagFrag) {
			t.Errorf("%s missing FRAG", f.Field)
		}
	}
}

func TestMessage_InactiveBytes(t *testing.T) {
	m := msgState{}.cancel()
	var out []Frame
	m.budget = 2
	m, out = stepMessage(m, DirMiso, byteIn{value: 1}, out)
	m, out = stepMessage(m, DirMiso, byteIn{value: 2, offset: 1}, out)

	if len(out) != 2 || out[0].Field != FieldMsgDataNotValid || out[1].Offset != 1 {
		t.Errorf("frames = %+v", out)
	}
	if m.pkt.completed || m.pkt.fragError {
		t.Errorf("outcome = %+v", m.pkt)
	}
}

func TestMessage_RestoreDoesNotAlias(t *testing.T) {
	msg := EncodeMessage(MessageHeader{}, make([]byte, 30))
	m, _ := feedField(msgState{}, msg[:16], false, 0)

	saved := m
	m, _ = feedField(m, msg[16:32], false, 0)

	rewound := saved.restore()
	rewound, _ = feedField(rewound, bytes.Repeat([]byte{0xEE}, 16), false, 0)

	if bytes.Contains(m.data, []byte{0xEE}) {
		t.Error("replaying from a restored state overwrote the live message data")
	}
	if rewound.pkt.completed {
		t.Error("restored state should still be in flight")
	}
}
