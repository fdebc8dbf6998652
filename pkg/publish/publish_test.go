// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/Thermoquad/abccspi/pkg/capture"
	"github.com/fxamacker/cbor/v2"
)

type record struct {
	typ     uint8
	payload map[int]interface{}
}

func readRecords(t *testing.T, r io.Reader) []record {
	t.Helper()
	var out []record
	dec := cbor.NewDecoder(r)
	for {
		var raw cbor.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return out
			}
			t.Fatalf("Decode: %v", err)
		}
		typ, payload, err := capture.ParseMessage(raw)
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		out = append(out, record{typ, payload})
	}
}

func demoResults(t *testing.T) *abcc.Results {
	t.Helper()
	packets, err := abcc.DemoPackets()
	if err != nil {
		t.Fatal(err)
	}
	res, err := abcc.NewDecoder(abcc.DefaultSettings()).Decode(t.Context(), abcc.Simulate(packets, abcc.DefaultSimOptions()))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// countingWriter records the size of every Write
type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

// ============================================================
// Publisher Tests
// ============================================================

func TestResults(t *testing.T) {
	res := demoResults(t)

	var w countingWriter
	if err := New(&w).Results(res); err != nil {
		t.Fatalf("Results: %v", err)
	}

	want := len(res.Packets) + len(res.Messages) + 1
	if w.writes != want {
		t.Errorf("%d writes, want one per record (%d)", w.writes, want)
	}

	records := readRecords(t, &w.Buffer)
	if len(records) != want {
		t.Fatalf("got %d records, want %d", len(records), want)
	}

	lastPacket := uint64(0)
	messages := 0
	for _, r := range records[:len(records)-1] {
		switch r.typ {
		case RecordPacket:
			lastPacket, _ = capture.GetMapUint(r.payload, KeyPacketIndex)
		case RecordMessage:
			messages++
			if pkt, _ := capture.GetMapUint(r.payload, KeyMsgPacket); pkt != lastPacket {
				t.Errorf("message of packet %d follows packet %d", pkt, lastPacket)
			}
		default:
			t.Errorf("unexpected record type 0x%02X", r.typ)
		}
	}
	if messages != len(res.Messages) {
		t.Errorf("published %d messages, want %d", messages, len(res.Messages))
	}

	summary := records[len(records)-1]
	if summary.typ != RecordSummary {
		t.Fatalf("last record type 0x%02X, want summary", summary.typ)
	}
	if n, _ := capture.GetMapUint(summary.payload, KeySummaryPackets); n != uint64(len(res.Packets)) {
		t.Errorf("summary packets = %d", n)
	}
}

func TestPacket_Fields(t *testing.T) {
	res := demoResults(t)

	// the demo corrupts the checksum of packet 11
	var pkt abcc.Packet
	for _, p := range res.Packets {
		if p.Type == abcc.PacketChecksumError {
			pkt = p
		}
	}

	var buf bytes.Buffer
	if err := New(&buf).Packet(res, pkt); err != nil {
		t.Fatal(err)
	}
	records := readRecords(t, &buf)
	if len(records) != 1 || records[0].typ != RecordPacket {
		t.Fatalf("records = %+v", records)
	}

	p := records[0].payload
	if name, _ := p[KeyPacketTypeName].(string); name != "CHECKSUM_ERROR" {
		t.Errorf("type name = %v", p[KeyPacketTypeName])
	}
	if alerts, _ := capture.GetMapUint(p, KeyPacketAlerts); alerts == 0 {
		t.Error("checksum error packet should carry alerts")
	}
	start, _ := capture.GetMapFloat(p, KeyPacketStart)
	end, _ := capture.GetMapFloat(p, KeyPacketEnd)
	if start <= 0 || end <= start {
		t.Errorf("span %g..%g", start, end)
	}
}

func TestMessage_Data(t *testing.T) {
	m := abcc.Message{
		Direction: abcc.DirMiso,
		Header:    abcc.MessageHeader{SourceID: 7, Object: abcc.ObjAnybus, Instance: 0x0102, Command: abcc.CmdGetAttribute},
		Data:      []byte{0xDE, 0xAD},
		Packet:    3,
	}

	var buf bytes.Buffer
	if err := New(&buf).Message(m); err != nil {
		t.Fatal(err)
	}
	records := readRecords(t, &buf)
	p := records[0].payload

	if data, _ := p[KeyMsgData].([]byte); !bytes.Equal(data, m.Data) {
		t.Errorf("data = %v", p[KeyMsgData])
	}
	if inst, _ := capture.GetMapUint(p, KeyMsgInstance); inst != 0x0102 {
		t.Errorf("instance = 0x%X", inst)
	}
	if dir, _ := capture.GetMapUint(p, KeyMsgDirection); dir != uint64(abcc.DirMiso) {
		t.Errorf("direction = %d", dir)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestResults_StopsOnWriteError(t *testing.T) {
	err := New(failingWriter{}).Results(demoResults(t))
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("err = %v, want ErrClosedPipe", err)
	}
}
