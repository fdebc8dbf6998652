// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// decodePackets simulates packets and decodes the resulting capture
func decodePackets(t *testing.T, packets []SimPacket, opts SimOptions) *Results {
	t.Helper()
	res, err := NewDecoder(opts.Settings).Decode(context.Background(), Simulate(packets, opts))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return res
}

func nullPacket(t *testing.T) SimPacket {
	t.Helper()
	mosi, err := MosiFrame{}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	miso, err := MisoFrame{}.Encode(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return SimPacket{Mosi: mosi, Miso: miso}
}

func packetTypes(r *Results) []PacketType {
	types := make([]PacketType, len(r.Packets))
	for i, p := range r.Packets {
		types[i] = p.Type
	}
	return types
}

func framesOf(r *Results, packet int, dir Direction) []Frame {
	var out []Frame
	for _, f := range r.PacketFrames(packet) {
		if f.Direction == dir {
			out = append(out, f)
		}
	}
	return out
}

func countEvents(frames []Frame, event ErrorEvent) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func errorCodes(frames []Frame) []uint64 {
	var codes []uint64
	for _, f := range frames {
		if f.Field == FieldError {
			codes = append(codes, f.Data)
		}
	}
	return codes
}

// bigMessage is a 52 byte command that spans four 16 byte message fields
func bigMessage() []byte {
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i + 1)
	}
	return EncodeMessage(MessageHeader{
		SourceID: 9, Object: ObjApplicationData, Instance: 1,
		Command: MsgCmdRequestBit | CmdSetAttribute, CommandExt: 2,
	}, data)
}

// ============================================================
// Packet Scenarios
// ============================================================

func TestDecode_NullPacket(t *testing.T) {
	res := decodePackets(t, []SimPacket{nullPacket(t)}, DefaultSimOptions())

	if len(res.Packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(res.Packets))
	}
	p := res.Packets[0]
	if p.Type != PacketNull || p.Incomplete {
		t.Errorf("packet = %s incomplete=%v", p.Type, p.Incomplete)
	}
	if p.Bytes != 14 {
		t.Errorf("bytes = %d, want 14", p.Bytes)
	}

	for _, f := range res.PacketFrames(0) {
		if f.Alert() {
			t.Errorf("unexpected alert frame %s", FormatFrame(f, PrioritizeTag))
		}
	}

	want := []Field{FieldSpiCtrl, FieldReserved1, FieldMsgLen, FieldPdLen, FieldAppStatus, FieldIntMask, FieldCrc32, FieldPad}
	got := framesOf(res, 0, DirMosi)
	if len(got) != len(want) {
		t.Fatalf("got %d MOSI frames, want %d", len(got), len(want))
	}
	for i, f := range got {
		if f.Field != want[i] {
			t.Errorf("MOSI frame %d = %s, want %s", i, f.Field, want[i])
		}
	}

	miso := framesOf(res, 0, DirMiso)
	if miso[len(miso)-1].Field != FieldCrc32 {
		t.Errorf("last MISO frame = %s, want CRC32", miso[len(miso)-1].Field)
	}
}

func TestDecode_ChecksumError(t *testing.T) {
	// CRC32 occupies bytes 8..11 of an empty MOSI frame
	for i := 8; i < 12; i++ {
		p := nullPacket(t)
		p.Mosi[i] ^= 0x01

		res := decodePackets(t, []SimPacket{p}, DefaultSimOptions())
		if res.Packets[0].Type != PacketChecksumError {
			t.Errorf("flip byte %d: type = %s", i, res.Packets[0].Type)
		}
		if n := countEvents(res.PacketFrames(0), EventCrcError); n != 1 {
			t.Errorf("flip byte %d: %d CRC events, want 1", i, n)
		}
	}
}

func TestDecode_TruncatedPacket(t *testing.T) {
	cut := nullPacket(t)
	cut.CutAfterBits = 24

	res := decodePackets(t, []SimPacket{cut, nullPacket(t)}, DefaultSimOptions())
	if len(res.Packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(res.Packets))
	}
	if !res.Packets[0].Incomplete {
		t.Error("packet 0 should be incomplete")
	}
	if _, ok := res.FrameAt(0, DirMosi, FieldMsgLen); ok {
		t.Error("packet 0 should not report a MSG_LEN frame")
	}
	if p := res.Packets[1]; p.Type != PacketNull || p.Incomplete {
		t.Errorf("packet 1 = %s incomplete=%v", p.Type, p.Incomplete)
	}
}

func TestDecode_EmptyWindowSkipped(t *testing.T) {
	res := decodePackets(t, []SimPacket{{}, nullPacket(t)}, DefaultSimOptions())
	if len(res.Packets) != 1 || res.Packets[0].Type != PacketNull {
		t.Errorf("packets = %v", packetTypes(res))
	}
}

func TestDecode_FragmentedMessage(t *testing.T) {
	bus := NewSimBus(16, 0)
	if err := bus.Send(DirMosi, bigMessage()); err != nil {
		t.Fatal(err)
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	want := []PacketType{PacketFragment, PacketFragment, PacketFragment, PacketCommand}
	if got := packetTypes(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("types = %v, want %v", got, want)
	}

	var first, last, dataBytes int
	firstAt, lastAt := -1, -1
	for i, f := range res.Frames {
		if f.Direction != DirMosi {
			continue
		}
		if f.Flags.Has(FlagFirstFrag) {
			first++
			firstAt = i
		}
		if f.Flags.Has(FlagLastFrag) {
			last++
			lastAt = i
		}
		if f.Field == FieldMsgData {
			dataBytes += f.Size
		}
	}
	if first != 1 || last != 1 || lastAt <= firstAt {
		t.Errorf("first=%d@%d last=%d@%d", first, firstAt, last, lastAt)
	}
	if dataBytes != 40 {
		t.Errorf("message data bytes = %d, want 40", dataBytes)
	}

	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	m := res.Messages[0]
	if m.Fragments != 4 || m.Packet != 3 {
		t.Errorf("fragments=%d packet=%d", m.Fragments, m.Packet)
	}
	if !bytes.Equal(m.Data, bigMessage()[MsgHeaderSize:]) {
		t.Errorf("data = % X", m.Data)
	}
}

func TestDecode_SingleFragmentNeedsLastFrag(t *testing.T) {
	bus := NewSimBus(16, 0)
	msg := EncodeMessage(MessageHeader{SourceID: 1, Command: MsgCmdRequestBit | CmdGetAttribute}, nil)
	if err := bus.Transfer(SimTransfer{MosiMsg: msg, MosiMsgValid: true}); err != nil {
		t.Fatal(err)
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	if res.Packets[0].Type != PacketProtocolError {
		t.Errorf("type = %s, want PROTOCOL_ERROR", res.Packets[0].Type)
	}
	if codes := errorCodes(res.PacketFrames(0)); !reflect.DeepEqual(codes, []uint64{ErrorCodeFragmentation}) {
		t.Errorf("error codes = %v", codes)
	}
	if len(res.Messages) != 0 {
		t.Error("a rejected message should not be recorded")
	}
}

func TestDecode_EarlyLastFrag(t *testing.T) {
	bus := NewSimBus(16, 0)
	frags := Fragments(bigMessage(), 16)
	if err := bus.Transfer(SimTransfer{MosiMsg: frags[0], MosiMsgValid: true, MosiLastFrag: true}); err != nil {
		t.Fatal(err)
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	if res.Packets[0].Type != PacketProtocolError {
		t.Errorf("type = %s, want PROTOCOL_ERROR", res.Packets[0].Type)
	}
	if n := countEvents(res.PacketFrames(0), EventFragmentationError); n != 1 {
		t.Errorf("%d fragmentation events, want 1", n)
	}
}

func TestDecode_CancelledMessage(t *testing.T) {
	bus := NewSimBus(16, 0)
	frags := Fragments(bigMessage(), 16)
	steps := []SimTransfer{
		{MosiMsg: frags[0], MosiMsgValid: true},
		{MosiLastFrag: true},
		{},
	}
	for _, s := range steps {
		if err := bus.Transfer(s); err != nil {
			t.Fatal(err)
		}
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	want := []PacketType{PacketFragment, PacketCancel, PacketNull}
	if got := packetTypes(res); !reflect.DeepEqual(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
	if len(res.Messages) != 0 {
		t.Error("a cancelled message should not be recorded")
	}
}

func TestDecode_CutDuringFragment(t *testing.T) {
	bus := NewSimBus(16, 0)
	frags := Fragments(bigMessage(), 16)
	steps := []SimTransfer{
		{MosiMsg: frags[0], MosiMsgValid: true},
		{MosiMsg: frags[1], MosiMsgValid: true, CutAfterBits: 8 * 12},
		{MosiMsg: frags[1], MosiMsgValid: true, Retransmit: true},
		{MosiMsg: frags[2], MosiMsgValid: true},
		{MosiMsg: frags[3], MosiMsgValid: true, MosiLastFrag: true},
	}
	for _, s := range steps {
		if err := bus.Transfer(s); err != nil {
			t.Fatal(err)
		}
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	cut := res.Packets[1]
	if cut.Type != PacketProtocolError || !cut.Incomplete {
		t.Errorf("cut packet = %s incomplete=%v", cut.Type, cut.Incomplete)
	}
	if codes := errorCodes(res.PacketFrames(1)); !reflect.DeepEqual(codes, []uint64{ErrorCodeEndOfTransfer}) {
		t.Errorf("cut packet error codes = %v", codes)
	}
	if res.Packets[2].Retransmit {
		t.Error("resend after a rolled back packet is not a retransmission")
	}

	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	if !bytes.Equal(res.Messages[0].Data, bigMessage()[MsgHeaderSize:]) {
		t.Errorf("data = % X", res.Messages[0].Data)
	}
}

func TestDecode_RetransmittedFragment(t *testing.T) {
	bus := NewSimBus(16, 0)
	frags := Fragments(bigMessage(), 16)
	steps := []SimTransfer{
		{MosiMsg: frags[0], MosiMsgValid: true},
		{MosiMsg: frags[1], MosiMsgValid: true},
		{MosiMsg: frags[1], MosiMsgValid: true, Retransmit: true},
		{MosiMsg: frags[2], MosiMsgValid: true},
		{MosiMsg: frags[3], MosiMsgValid: true, MosiLastFrag: true},
	}
	for _, s := range steps {
		if err := bus.Transfer(s); err != nil {
			t.Fatal(err)
		}
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	p := res.Packets[2]
	if !p.Retransmit || p.Type != PacketFragment {
		t.Errorf("packet 2 = %s retransmit=%v", p.Type, p.Retransmit)
	}
	if n := countEvents(framesOf(res, 2, DirMosi), EventRetransmitWarning); n != 1 {
		t.Errorf("%d MOSI retransmit warnings, want 1", n)
	}

	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	m := res.Messages[0]
	if !bytes.Equal(m.Data, bigMessage()[MsgHeaderSize:]) {
		t.Errorf("retransmission duplicated data: % X", m.Data)
	}
	if m.Fragments != 4 {
		t.Errorf("fragments = %d, want 4", m.Fragments)
	}
}

func TestDecode_RetransmittedCommand(t *testing.T) {
	bus := NewSimBus(16, 0)
	cmd := EncodeMessage(MessageHeader{SourceID: 1, Command: MsgCmdRequestBit | CmdGetAttribute}, nil)
	steps := []SimTransfer{
		{MosiMsg: cmd, MosiMsgValid: true, MosiLastFrag: true},
		{MosiMsg: cmd, MosiMsgValid: true, MosiLastFrag: true, Retransmit: true},
	}
	for _, s := range steps {
		if err := bus.Transfer(s); err != nil {
			t.Fatal(err)
		}
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	if len(res.Packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(res.Packets))
	}
	if !res.Packets[1].Retransmit {
		t.Error("packet 1 not flagged as a retransmission")
	}
	if n := countEvents(framesOf(res, 1, DirMosi), EventRetransmitWarning); n != 1 {
		t.Errorf("%d MOSI retransmit warnings, want 1", n)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	if res.Messages[0].Packet != 0 {
		t.Errorf("message recorded from packet %d, want 0", res.Messages[0].Packet)
	}
}

func TestDecode_MultiPacket(t *testing.T) {
	bus := NewSimBus(16, 0)
	cmd := EncodeMessage(MessageHeader{SourceID: 1, Command: MsgCmdRequestBit | CmdGetAttribute}, nil)
	rsp := EncodeMessage(MessageHeader{SourceID: 2, Command: CmdGetAttribute}, []byte{1, 2})
	err := bus.Transfer(SimTransfer{
		MosiMsg: cmd, MosiMsgValid: true, MosiLastFrag: true,
		MisoMsg: rsp, MisoMsgValid: true, MisoLastFrag: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	if res.Packets[0].Type != PacketMulti {
		t.Errorf("type = %s, want MULTI", res.Packets[0].Type)
	}
	if len(res.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(res.Messages))
	}
}

func TestDecode_SamplingFaultRecovers(t *testing.T) {
	opts := DefaultSimOptions()
	packets := []SimPacket{nullPacket(t), nullPacket(t), nullPacket(t)}
	c := Simulate(packets, opts)

	// pulse between windows 0 and 1
	end := c.Enable.Transitions[1]
	c.Clock.Transitions = insertEdges(c.Clock.Transitions, end+10, end+11)

	res, err := NewDecoder(opts.Settings).Decode(context.Background(), c)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.Packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(res.Packets))
	}

	fault := res.Packets[1]
	if fault.Type != PacketProtocolError {
		t.Errorf("fault packet type = %s", fault.Type)
	}
	settingsFlag := false
	for _, f := range res.PacketFrames(1) {
		if f.Flags.Has(FlagSettingsError) {
			settingsFlag = true
		}
	}
	if !settingsFlag {
		t.Error("sampling fault should carry the settings error flag")
	}

	if p := res.Packets[2]; p.Type != PacketNull || p.Incomplete {
		t.Errorf("packet after fault = %s incomplete=%v", p.Type, p.Incomplete)
	}
}

func TestDecode_PolarityMismatch(t *testing.T) {
	opts := DefaultSimOptions()
	c := Simulate([]SimPacket{nullPacket(t), nullPacket(t)}, opts)

	s := opts.Settings
	s.ClockPolarity = ClockIdleLow
	res, err := NewDecoder(s).Decode(context.Background(), c)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.Packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(res.Packets))
	}
	for _, p := range res.Packets {
		if p.Type != PacketProtocolError {
			t.Errorf("packet %d = %s, want PROTOCOL_ERROR", p.Index, p.Type)
		}
	}
}

func TestDecode_WrongPolarityBurstsFinish(t *testing.T) {
	c := &Capture{
		SampleRate: 1e6,
		Clock:      Channel{Initial: false, Transitions: []int64{10, 20, 30, 40}},
	}
	s := DefaultSettings()
	s.MinIdleGap = time.Microsecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := NewDecoder(s).Decode(ctx, c)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n := len(res.Packets); n == 0 || n > len(c.Clock.Transitions) {
		t.Fatalf("got %d packets from %d clock edges", n, len(c.Clock.Transitions))
	}
	if res.Packets[0].Type != PacketProtocolError {
		t.Errorf("packet 0 = %s, want PROTOCOL_ERROR", res.Packets[0].Type)
	}
}

func TestDecode_InvalidCapture(t *testing.T) {
	opts := DefaultSimOptions()
	opts.ThreeWire = true
	c := Simulate([]SimPacket{nullPacket(t)}, opts)

	s := DefaultSettings()
	s.Force4Wire = true
	if _, err := NewDecoder(s).Decode(context.Background(), c); !errors.Is(err, ErrNoEnableChannel) {
		t.Errorf("err = %v, want ErrNoEnableChannel", err)
	}

	s = DefaultSettings()
	s.Force3Wire, s.Force4Wire = true, true
	if _, err := NewDecoder(s).Decode(context.Background(), c); !errors.Is(err, ErrWireModeConflict) {
		t.Errorf("err = %v, want ErrWireModeConflict", err)
	}

	var ve *ValidationError
	_, err := NewDecoder(DefaultSettings()).Decode(context.Background(), &Capture{SampleRate: 1e6})
	if !errors.As(err, &ve) || ve.Type != AnomalyNoClock {
		t.Errorf("err = %v, want no clock anomaly", err)
	}
}

func TestDecode_Cancelled(t *testing.T) {
	packets, err := DemoPackets()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewDecoder(DefaultSettings()).Decode(ctx, Simulate(packets, DefaultSimOptions()))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Error("cancelled decode should return partial results")
	}
}

// ============================================================
// Demo Exchange
// ============================================================

func demoResults(t *testing.T, opts SimOptions) *Results {
	t.Helper()
	packets, err := DemoPackets()
	if err != nil {
		t.Fatal(err)
	}
	return decodePackets(t, packets, opts)
}

func TestDecode_Demo(t *testing.T) {
	res := demoResults(t, DefaultSimOptions())

	want := map[int]PacketType{
		2:  PacketCommand,
		3:  PacketResponse,
		4:  PacketFragment,
		5:  PacketFragment,
		6:  PacketFragment,
		7:  PacketCommand,
		8:  PacketErrorResponse,
		9:  PacketCommand,
		11: PacketChecksumError,
	}
	if len(res.Packets) != 16 {
		t.Fatalf("got %d packets, want 16", len(res.Packets))
	}
	for idx, typ := range want {
		if res.Packets[idx].Type != typ {
			t.Errorf("packet %d = %s, want %s", idx, res.Packets[idx].Type, typ)
		}
	}
	if !res.Packets[10].Retransmit {
		t.Error("packet 10 should be a retransmission")
	}
	if !res.Packets[13].Incomplete {
		t.Error("packet 13 should be incomplete")
	}
	for _, idx := range []int{12, 14, 15} {
		if p := res.Packets[idx]; p.Retransmit || p.Incomplete || p.Type.IsError() {
			t.Errorf("packet %d = %s retransmit=%v incomplete=%v", idx, p.Type, p.Retransmit, p.Incomplete)
		}
	}

	if len(res.Messages) != 4 {
		t.Errorf("got %d messages, want 4", len(res.Messages))
	}
	if len(res.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(res.Transactions))
	}
	if res.Transactions[0].Error || !res.Transactions[1].Error {
		t.Errorf("transactions = %+v", res.Transactions)
	}
	if res.Transactions[1].SourceID != 2 {
		t.Errorf("second transaction source = %d", res.Transactions[1].SourceID)
	}
}

func TestDecode_DemoNetworkTime(t *testing.T) {
	res := demoResults(t, DefaultSimOptions())

	if len(res.NetworkTimes) == 0 {
		t.Fatal("no network times recorded")
	}
	if res.NetworkTimes[0].DeltaTime != 0 {
		t.Errorf("first delta = %d, want 0", res.NetworkTimes[0].DeltaTime)
	}
	for _, nt := range res.NetworkTimes {
		if p := res.Packets[nt.Packet]; p.Type.IsError() || p.Incomplete {
			t.Errorf("network time recorded for faulty packet %d (%s)", nt.Packet, p.Type)
		}
	}
}

func TestDecode_NetworkTimeInfo(t *testing.T) {
	bus := NewSimBus(16, 4)
	steps := []SimTransfer{
		{WritePd: []byte{1, 2, 3, 4}},
		{ReadPd: []byte{5, 6, 7, 8}},
	}
	for _, s := range steps {
		if err := bus.Transfer(s); err != nil {
			t.Fatal(err)
		}
	}
	res := decodePackets(t, bus.Packets(), DefaultSimOptions())

	want := []NetworkTimeInfo{
		{DeltaTime: 0, WrPdValid: true},
		{DeltaTime: bus.NetTimeStep, NewRdPd: true},
	}
	if len(res.NetworkTimes) != len(want) {
		t.Fatalf("got %d network times, want %d", len(res.NetworkTimes), len(want))
	}
	for i, w := range want {
		if got := res.NetworkTimes[i].NetworkTimeInfo; got != w {
			t.Errorf("network time %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestDecode_ThreeWireMatchesFourWire(t *testing.T) {
	four := demoResults(t, DefaultSimOptions())

	opts := DefaultSimOptions()
	opts.ThreeWire = true
	three := demoResults(t, opts)

	if !three.ThreeWire {
		t.Error("results should report 3-wire mode")
	}
	if got, want := packetTypes(three), packetTypes(four); !reflect.DeepEqual(got, want) {
		t.Errorf("3-wire types = %v\n4-wire types = %v", got, want)
	}
	if len(three.Messages) != len(four.Messages) {
		t.Errorf("3-wire messages = %d, 4-wire = %d", len(three.Messages), len(four.Messages))
	}
}

// ============================================================
// Properties
// ============================================================

func TestDecode_FramesTilePackets(t *testing.T) {
	res := demoResults(t, DefaultSimOptions())

	for _, p := range res.Packets {
		if p.Incomplete {
			continue
		}
		next := 0
		for _, f := range framesOf(res, p.Index, DirMosi) {
			if f.Size == 0 {
				continue
			}
			if f.Offset != next {
				t.Fatalf("packet %d: %s at offset %d, want %d", p.Index, f.Field, f.Offset, next)
			}
			next += f.Size
		}
		if next != p.Bytes {
			t.Errorf("packet %d: MOSI frames cover %d of %d bytes", p.Index, next, p.Bytes)
		}
	}
}

func TestDecode_FramesWithinPackets(t *testing.T) {
	res := demoResults(t, DefaultSimOptions())

	for _, p := range res.Packets {
		for _, f := range res.PacketFrames(p.Index) {
			if f.Packet != p.Index {
				t.Errorf("frame in packet %d claims packet %d", p.Index, f.Packet)
			}
			if f.Start < p.Start || f.End > p.End || f.End < f.Start {
				t.Errorf("packet %d: %s spans %d..%d outside %d..%d", p.Index, f.Field, f.Start, f.End, p.Start, p.End)
			}
		}
	}
}

func TestDecode_Idempotent(t *testing.T) {
	packets, err := DemoPackets()
	if err != nil {
		t.Fatal(err)
	}
	c := Simulate(packets, DefaultSimOptions())
	d := NewDecoder(DefaultSettings())

	a, err := d.Decode(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Decode(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("decoding the same capture twice gave different results")
	}
}

func TestDecode_Statistics(t *testing.T) {
	res := demoResults(t, DefaultSimOptions())
	stats := Compute(res)

	if stats.TotalPackets != uint64(len(res.Packets)) {
		t.Errorf("total = %d", stats.TotalPackets)
	}
	if stats.CRCErrors != 1 {
		t.Errorf("CRC errors = %d, want 1", stats.CRCErrors)
	}
	if stats.Retransmits != 1 {
		t.Errorf("retransmits = %d, want 1", stats.Retransmits)
	}
	if stats.Incomplete != 1 {
		t.Errorf("incomplete = %d, want 1", stats.Incomplete)
	}
	if stats.Transactions != 2 || stats.Messages != 4 {
		t.Errorf("messages=%d transactions=%d", stats.Messages, stats.Transactions)
	}
}

func TestTabularEntries(t *testing.T) {
	res := demoResults(t, DefaultSimOptions())

	s := DefaultSettings()
	entries := TabularEntries(res, s)

	var errorResp, crc bool
	for _, e := range entries {
		if e.Packet == 8 && e.Alert {
			errorResp = true
		}
		if e.Packet == 11 && e.Alert {
			crc = true
		}
	}
	if !errorResp {
		t.Error("error response should be indexed as an alert")
	}
	if !crc {
		t.Error("CRC error should be indexed")
	}

	s.MessageIndexing = VerbosityDisabled
	s.IndexSourceID = false
	s.IndexErrors = false
	s.IndexAnybusStatus = false
	s.IndexApplStatus = false
	if n := len(TabularEntries(res, s)); n != 0 {
		t.Errorf("disabled indexing produced %d entries", n)
	}
}
