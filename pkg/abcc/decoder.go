// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"context"
	"fmt"
	"log/slog"
)

// Decoder decodes captures with a fixed set of settings. A Decoder holds no
// per-capture state and may be reused.
type Decoder struct {
	settings Settings
	log      *slog.Logger
}

// Option configures a Decoder
type Option func(*Decoder)

// WithLogger sets the logger used for debug records about resynchronisation
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDecoder creates a decoder
func NewDecoder(s Settings, opts ...Option) *Decoder {
	d := &Decoder{
		settings: s,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Settings returns the decoder settings
func (d *Decoder) Settings() Settings {
	return d.settings
}

// Decode makes one forward pass over the capture. Protocol faults are
// reported in the results; an error is returned only for an unusable capture
// or cancellation, in which case the results hold every packet completed so far.
func (d *Decoder) Decode(ctx context.Context, c *Capture) (*Results, error) {
	if errs := ValidateCapture(c, d.settings); len(errs) > 0 {
		return nil, fmt.Errorf("invalid capture: %w", &errs[0])
	}

	sp := NewSampler(c, d.settings)
	p := &pass{
		log:     d.log,
		res:     newResults(c, sp.ThreeWire()),
		tracker: newTransactionTracker(),
	}

	for {
		if err := ctx.Err(); err != nil {
			return p.res, err
		}

		start, status := sp.NextPacket()
		if status == ByteEOF {
			break
		}
		if status == ByteError {
			p.frames = p.frames[:0]
			p.samplingFault(start, sp.PacketEnd(), 0)
			sp.SkipPacket()
			continue
		}

		if err := p.packet(ctx, sp, start); err != nil {
			return p.res, err
		}
	}

	d.log.Debug("decode finished",
		"packets", len(p.res.Packets),
		"frames", len(p.res.Frames),
		"messages", len(p.res.Messages))
	return p.res, nil
}

// runPair is the run state of both directions
type runPair struct {
	mosi mosiRun
	miso misoRun
}

func (rp runPair) restore() runPair {
	rp.mosi.msg = rp.mosi.msg.restore()
	rp.mosi.prevMsg = rp.mosi.prevMsg.restore()
	rp.miso.msg = rp.miso.msg.restore()
	rp.miso.prevMsg = rp.miso.prevMsg.restore()
	return rp
}

// pass is the state of one Decode call
type pass struct {
	log     *slog.Logger
	res     *Results
	tracker *transactionTracker

	live   runPair
	backup runPair // state after the last validated packet
	frames []Frame // frames of the packet in progress
}

func (p *pass) packet(ctx context.Context, sp *Sampler, start int64) error {
	p.frames = p.frames[:0]
	p.live.mosi = p.live.mosi.begin()
	p.live.miso = p.live.miso.begin()

	offset := 0
	last := start
	for {
		// A cancelled pass drops the packet in progress
		if err := ctx.Err(); err != nil {
			return err
		}

		b, status := sp.NextByte()
		switch status {
		case ByteOK:
			p.live.mosi, p.frames = stepMosi(p.live.mosi, byteIn{b.Mosi, b.First, b.Last, offset}, p.frames)
			p.live.miso, p.frames = stepMiso(p.live.miso, p.live.mosi.view(), byteIn{b.Miso, b.First, b.Last, offset}, p.frames)
			offset++
			last = b.Last

		case ByteError:
			p.samplingFault(start, sp.PacketEnd(), offset)
			sp.SkipPacket()
			return nil

		default:
			end := sp.PacketEnd()
			if end < last {
				end = last
			}
			p.finish(start, end, offset, status == ByteReset)
			return nil
		}
	}
}

// finish classifies and commits the packet in progress
func (p *pass) finish(start, end int64, bytes int, reset bool) {
	if bytes == 0 && !reset {
		p.log.Debug("empty packet", "start", start)
		return
	}

	pkt := Packet{
		Start:      start,
		End:        end,
		Bytes:      bytes,
		Retransmit: p.live.mosi.pkt.retransmit,
	}

	if reset || !p.live.mosi.complete() || !p.live.miso.complete() {
		pkt.Incomplete = true
		pkt.Type = classify(p.live.mosi.summary(), p.live.miso.summary())
		// Framing faults only surface when they cut a fragmented message
		for _, dir := range []Direction{DirMosi, DirMiso} {
			if p.inFlight(dir) {
				p.frames = append(p.frames, errorFrame(dir, ErrorCodeEndOfTransfer, EventFragmentationError, bytes, end, end))
				pkt.Type = PacketProtocolError
			}
		}
		idx := p.res.commit(pkt, p.frames)
		p.log.Debug("packet ended mid-frame, rolling back", "packet", idx, "bytes", bytes)
		p.live = p.backup.restore()
		return
	}

	ms, ss := p.live.mosi.summary(), p.live.miso.summary()
	pkt.Type = classify(ms, ss)
	idx := p.res.commit(pkt, p.frames)

	if ms.crcError || ss.crcError {
		p.log.Debug("checksum error, rolling back", "packet", idx)
		p.live = p.backup.restore()
		return
	}

	p.record(idx)
	p.backup = p.live
}

func (p *pass) inFlight(dir Direction) bool {
	if dir == DirMosi {
		return p.live.mosi.msg.inFrag
	}
	return p.live.miso.msg.inFrag
}

// record stores what a validated packet completed
func (p *pass) record(idx int) {
	// A retransmission replays messages recorded from the original packet
	replay := p.live.mosi.pkt.retransmit
	outcomes := []msgOutcome{p.live.mosi.msg.pkt, p.live.miso.msg.pkt}
	for _, o := range outcomes {
		if !o.completed || replay {
			continue
		}
		m := o.message
		m.Packet = idx
		p.res.Messages = append(p.res.Messages, m)
		if t, ok := p.tracker.observe(p.res.Messages, len(p.res.Messages)-1); ok {
			p.res.Transactions = append(p.res.Transactions, t)
		}
	}

	if miso := &p.live.miso; miso.haveNetTime {
		p.res.NetworkTimes = append(p.res.NetworkTimes, NetworkTime{
			NetworkTimeInfo: miso.netTime,
			Packet:          idx,
			Timestamp:       miso.timestamp,
			Sample:          miso.netSample,
		})
	}
}

// samplingFault reports a packet the sampler could not clock and forgets
// all protocol state.
func (p *pass) samplingFault(start, end int64, bytes int) {
	if end < start {
		end = start
	}
	f := errorFrame(DirMosi, ErrorCodeGeneric, EventNone, bytes, start, end)
	f.Flags |= FlagSettingsError
	p.frames = append(p.frames, f)

	idx := p.res.commit(Packet{
		Type:       PacketProtocolError,
		Start:      start,
		End:        end,
		Bytes:      bytes,
		Incomplete: true,
	}, p.frames)
	p.log.Debug("sampling fault, resetting", "packet", idx, "sample", start)

	p.live = runPair{}
	p.backup = runPair{}
}
