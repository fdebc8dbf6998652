// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"math"
	"time"
)

// SimPacket is the content of one simulated ENABLE window. The shorter of
// Mosi and Miso is zero padded. CutAfterBits, when positive, releases
// ENABLE after that many bits.
type SimPacket struct {
	Mosi         []byte
	Miso         []byte
	CutAfterBits int
}

// SimOptions controls waveform synthesis
type SimOptions struct {
	SampleRate float64 // samples per second
	BitRate    float64 // SPI clock frequency
	Gap        time.Duration
	ThreeWire  bool // omit the ENABLE channel
	Settings   Settings
}

// DefaultSimOptions returns a 1 MHz bus sampled at 10 MHz with the default settings
func DefaultSimOptions() SimOptions {
	return SimOptions{
		SampleRate: 10e6,
		BitRate:    1e6,
		Gap:        20 * time.Microsecond,
		Settings:   DefaultSettings(),
	}
}

type wave struct {
	ch    Channel
	level bool
}

func newWave(level bool) *wave {
	return &wave{ch: Channel{Initial: level}, level: level}
}

func (w *wave) set(t int64, level bool) {
	if level != w.level {
		w.ch.Transitions = append(w.ch.Transitions, t)
		w.level = level
	}
}

// Simulate synthesizes a capture carrying the given packets
func Simulate(packets []SimPacket, opts SimOptions) *Capture {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSimOptions().SampleRate
	}
	if opts.BitRate <= 0 {
		opts.BitRate = DefaultSimOptions().BitRate
	}
	if opts.Gap <= 0 {
		opts.Gap = DefaultSimOptions().Gap
	}

	period := int64(math.Round(opts.SampleRate / opts.BitRate))
	if period < 4 {
		period = 4
	}
	half, quarter := period/2, period/4
	gap := int64(math.Round(opts.Gap.Seconds() * opts.SampleRate))

	idle := opts.Settings.ClockPolarity == ClockIdleHigh
	trailing := opts.Settings.ClockPhase == SampleTrailingEdge
	active := opts.Settings.EnableActiveHigh

	clk := newWave(idle)
	en := newWave(!active)
	mosi := newWave(false)
	miso := newWave(false)

	t := gap
	for _, p := range packets {
		n := len(p.Mosi)
		if len(p.Miso) > n {
			n = len(p.Miso)
		}
		bits := n * 8
		if p.CutAfterBits > 0 && p.CutAfterBits < bits {
			bits = p.CutAfterBits
		}

		en.set(t, active)
		lead := t + period
		end := t + period
		for k := 0; k < bits; k++ {
			at := lead - quarter
			if trailing {
				at = lead + quarter
			}
			mosi.set(at, bitAt(p.Mosi, k))
			miso.set(at, bitAt(p.Miso, k))

			clk.set(lead, !idle)
			clk.set(lead+half, idle)
			end = lead + half + period
			lead += period
		}
		en.set(end, !active)
		t = end + gap
	}

	c := &Capture{
		SampleRate: opts.SampleRate,
		Mosi:       mosi.ch,
		Miso:       miso.ch,
		Clock:      clk.ch,
	}
	if !opts.ThreeWire {
		c.Enable = &en.ch
	}
	return c
}

// bitAt returns bit k of data, MSB first, zero past the end
func bitAt(data []byte, k int) bool {
	i := k / 8
	if i >= len(data) {
		return false
	}
	return data[i]&(0x80>>(k%8)) != 0
}

// SimTransfer describes one packet for SimBus
type SimTransfer struct {
	MosiMsg      []byte
	MosiMsgValid bool
	MosiLastFrag bool
	MisoMsg      []byte
	MisoMsgValid bool
	MisoLastFrag bool
	WritePd      []byte
	ReadPd       []byte

	Retransmit   bool // reuse the previous toggle
	CorruptCRC   bool // flip the MOSI checksum
	CutAfterBits int
}

// SimBus builds consistent packet sequences for Simulate. It owns the toggle
// bit and the network time, and fragments messages over the message field.
type SimBus struct {
	MsgLen      int
	PdLen       int
	AppStatus   byte
	AnbStatus   byte
	NetTimeStep uint32

	toggle  byte
	netTime uint32
	packets []SimPacket
}

// NewSimBus creates a bus with the given message and process data field lengths
func NewSimBus(msgLen, pdLen int) *SimBus {
	return &SimBus{
		MsgLen:      msgLen,
		PdLen:       pdLen,
		AnbStatus:   AnbStateProcessActive,
		NetTimeStep: 1000,
	}
}

// Packets returns the packets built so far
func (b *SimBus) Packets() []SimPacket {
	return b.packets
}

// Transfer appends one packet
func (b *SimBus) Transfer(t SimTransfer) error {
	if !t.Retransmit {
		b.toggle ^= SpiCtrlToggle
	}
	b.netTime += b.NetTimeStep

	ctrl := b.toggle
	if t.MosiMsgValid {
		ctrl |= SpiCtrlM
	}
	if t.MosiLastFrag {
		ctrl |= SpiCtrlLastFrag
	}
	if len(t.WritePd) > 0 {
		ctrl |= SpiCtrlWrPdValid
	}
	mosi, err := MosiFrame{
		Ctrl:      ctrl,
		MsgLen:    b.MsgLen,
		PdLen:     b.PdLen,
		AppStatus: b.AppStatus,
		Msg:       t.MosiMsg,
		Pd:        t.WritePd,
	}.Encode()
	if err != nil {
		return err
	}
	if t.CorruptCRC {
		mosi[len(mosi)-padSize-1] ^= 0xFF
	}

	var sts byte
	if t.MisoMsgValid {
		sts |= SpiStatusM
	}
	if t.MisoLastFrag {
		sts |= SpiStatusLastFrag
	}
	if len(t.ReadPd) > 0 {
		sts |= SpiStatusNewPd
	}
	miso, err := MisoFrame{
		AnbStatus: b.AnbStatus,
		SpiStatus: sts,
		NetTime:   b.netTime,
		Msg:       t.MisoMsg,
		Pd:        t.ReadPd,
	}.Encode(b.MsgLen, b.PdLen)
	if err != nil {
		return err
	}

	b.packets = append(b.packets, SimPacket{Mosi: mosi, Miso: miso, CutAfterBits: t.CutAfterBits})
	return nil
}

// Idle appends n packets without messages
func (b *SimBus) Idle(n int) error {
	for i := 0; i < n; i++ {
		if err := b.Transfer(SimTransfer{}); err != nil {
			return err
		}
	}
	return nil
}

// Send appends the packets carrying msg in one direction, fragmenting it
// when it does not fit the message field.
func (b *SimBus) Send(dir Direction, msg []byte) error {
	frags := Fragments(msg, b.MsgLen)
	for i, frag := range frags {
		last := i == len(frags)-1
		t := SimTransfer{}
		if dir == DirMosi {
			t.MosiMsg, t.MosiMsgValid, t.MosiLastFrag = frag, true, last
		} else {
			t.MisoMsg, t.MisoMsgValid, t.MisoLastFrag = frag, true, last
		}
		if err := b.Transfer(t); err != nil {
			return err
		}
	}
	return nil
}

// DemoPackets returns a short exchange exercising the main packet types
func DemoPackets() ([]SimPacket, error) {
	b := NewSimBus(16, 4)

	steps := []func() error{
		func() error { return b.Idle(2) },
		func() error {
			return b.Send(DirMosi, EncodeMessage(MessageHeader{
				SourceID: 1, Object: ObjAnybus, Instance: 1,
				Command: MsgCmdRequestBit | CmdGetAttribute, CommandExt: 1,
			}, nil))
		},
		func() error {
			return b.Send(DirMiso, EncodeMessage(MessageHeader{
				SourceID: 1, Object: ObjAnybus, Instance: 1,
				Command: CmdGetAttribute, CommandExt: 1,
			}, []byte{0x01, 0x00}))
		},
		func() error {
			data := make([]byte, 40)
			for i := range data {
				data[i] = byte(i)
			}
			return b.Send(DirMosi, EncodeMessage(MessageHeader{
				SourceID: 2, Object: ObjApplicationData, Instance: 3,
				Command: MsgCmdRequestBit | CmdSetAttribute, CommandExt: 5,
			}, data))
		},
		func() error {
			return b.Send(DirMiso, EncodeMessage(MessageHeader{
				SourceID: 2, Object: ObjApplicationData, Instance: 3,
				Command: MsgCmdErrorBit | CmdSetAttribute, CommandExt: 5,
			}, []byte{0x0E}))
		},
		func() error { return b.Transfer(SimTransfer{WritePd: []byte{1, 2, 3, 4}, ReadPd: []byte{5, 6}}) },
		func() error { return b.Transfer(SimTransfer{WritePd: []byte{1, 2, 3, 4}, Retransmit: true}) },
		// faulty packets are repeated with the same toggle
		func() error { return b.Transfer(SimTransfer{CorruptCRC: true}) },
		func() error { return b.Transfer(SimTransfer{Retransmit: true}) },
		func() error { return b.Transfer(SimTransfer{CutAfterBits: 27}) },
		func() error { return b.Transfer(SimTransfer{Retransmit: true}) },
		func() error { return b.Idle(1) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return b.Packets(), nil
}
