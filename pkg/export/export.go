// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package export writes decode results as CSV tables
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Thermoquad/abccspi/pkg/abcc"
)

// Type selects one of the export tables
type Type int

const (
	TypeFrames Type = iota
	TypeMessages
	TypeProcessData
)

// ParseType maps a command line name to a Type
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "frames", "all":
		return TypeFrames, nil
	case "messages", "message", "msg":
		return TypeMessages, nil
	case "process", "pd", "process-data":
		return TypeProcessData, nil
	}
	return 0, fmt.Errorf("unknown export type %q (frames, messages, process)", name)
}

// Write exports one table
func Write(w io.Writer, t Type, r *abcc.Results) error {
	switch t {
	case TypeFrames:
		return Frames(w, r)
	case TypeMessages:
		return Messages(w, r)
	case TypeProcessData:
		return ProcessData(w, r)
	}
	return fmt.Errorf("unknown export type %d", t)
}

func seconds(r *abcc.Results, sample int64) string {
	return strconv.FormatFloat(r.Time(sample).Seconds(), 'f', 9, 64)
}

// FormatFlags lists the set frame flags
func FormatFlags(f abcc.FrameFlags) string {
	var parts []string
	if f.Has(abcc.FlagSettingsError) {
		parts = append(parts, "SETTINGS")
	}
	if f.Has(abcc.FlagFirstFrag) {
		parts = append(parts, "FIRST_FRAG")
	}
	if f.Has(abcc.FlagFrag) {
		parts = append(parts, "FRAG")
	}
	if f.Has(abcc.FlagLastFrag) {
		parts = append(parts, "LAST_FRAG")
	}
	if f.Has(abcc.FlagProtoEvent) {
		parts = append(parts, "EVENT")
	}
	return strings.Join(parts, " | ")
}

// Frames writes every decoded frame, one row each
func Frames(w io.Writer, r *abcc.Results) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Time [s]", "Packet", "Packet Type", "Direction", "Field", "Value", "Raw", "Size", "Flags", "Event"})

	for _, p := range r.Packets {
		for _, f := range r.Frames[p.FrameStart:p.FrameEnd] {
			raw := ""
			if f.Size > 0 {
				raw = fmt.Sprintf("0x%0*X", 2*f.Size, f.Data)
			}
			event := ""
			if f.Event != abcc.EventNone {
				event = f.Event.String()
			}
			cw.Write([]string{
				seconds(r, f.Start),
				strconv.Itoa(p.Index),
				p.Type.String(),
				f.Direction.String(),
				f.Field.String(),
				abcc.FormatValue(f.Field, f.Data, f.Size),
				raw,
				strconv.Itoa(f.Size),
				FormatFlags(f.Flags),
				event,
			})
		}
	}

	cw.Flush()
	return cw.Error()
}

// Messages writes every reassembled message with its data in hex
func Messages(w io.Writer, r *abcc.Results) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Time [s]", "Packet", "Direction", "Kind", "Source ID", "Object", "Instance",
		"Command", "Command Ext", "Size", "Fragments", "Error", "Data"})

	for _, m := range r.Messages {
		h := m.Header
		kind := "RSP"
		if h.IsCommand() {
			kind = "CMD"
		}
		errName := ""
		if h.IsError() && len(m.Data) > 0 {
			errName = abcc.ErrorResponseName(m.Data[0])
		}
		cw.Write([]string{
			seconds(r, m.Start),
			strconv.Itoa(m.Packet),
			m.Direction.String(),
			kind,
			fmt.Sprintf("0x%02X", h.SourceID),
			abcc.ObjectName(h.Object),
			fmt.Sprintf("0x%04X", h.Instance),
			abcc.CommandName(h.Command),
			fmt.Sprintf("0x%04X", h.CommandExt),
			strconv.Itoa(int(h.Size)),
			strconv.Itoa(m.Fragments),
			errName,
			hexString(m.Data),
		})
	}

	cw.Flush()
	return cw.Error()
}

// ProcessData writes the valid process data of every packet, one row per
// direction. MOSI data needs WR_PD_VALID and MISO data NEW_PD.
func ProcessData(w io.Writer, r *abcc.Results) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Time [s]", "Packet", "Packet Type", "Direction", "Size", "Data"})

	for _, p := range r.Packets {
		var valid [2]bool
		if i, ok := r.FrameAt(p.Index, abcc.DirMosi, abcc.FieldSpiCtrl); ok {
			valid[abcc.DirMosi] = r.Frames[i].Data&abcc.SpiCtrlWrPdValid != 0
		}
		if i, ok := r.FrameAt(p.Index, abcc.DirMiso, abcc.FieldSpiStatus); ok {
			valid[abcc.DirMiso] = r.Frames[i].Data&abcc.SpiStatusNewPd != 0
		}

		var pd [2][]byte
		var start [2]int64
		for _, f := range r.Frames[p.FrameStart:p.FrameEnd] {
			if f.Field != abcc.FieldProcessData || !valid[f.Direction] {
				continue
			}
			if len(pd[f.Direction]) == 0 {
				start[f.Direction] = f.Start
			}
			pd[f.Direction] = append(pd[f.Direction], byte(f.Data))
		}

		for _, dir := range []abcc.Direction{abcc.DirMosi, abcc.DirMiso} {
			if len(pd[dir]) == 0 {
				continue
			}
			cw.Write([]string{
				seconds(r, start[dir]),
				strconv.Itoa(p.Index),
				p.Type.String(),
				dir.String(),
				strconv.Itoa(len(pd[dir])),
				hexString(pd[dir]),
			})
		}
	}

	cw.Flush()
	return cw.Error()
}

func hexString(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}
