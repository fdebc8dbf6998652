// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"fmt"
	"strings"
)

// FormatSpiCtrl returns the set bits of an SPI_CTL byte
func FormatSpiCtrl(v byte) string {
	parts := []string{}
	if v&SpiCtrlToggle != 0 {
		parts = append(parts, "T")
	}
	if v&SpiCtrlLastFrag != 0 {
		parts = append(parts, "LAST_FRAG")
	}
	if v&SpiCtrlM != 0 {
		parts = append(parts, "M")
	}
	parts = append(parts, fmt.Sprintf("CMDCNT=%d", (v&SpiCtrlCmdCnt)>>1))
	if v&SpiCtrlWrPdValid != 0 {
		parts = append(parts, "WRPD_VALID")
	}
	return strings.Join(parts, " | ")
}

// FormatSpiStatus returns the set bits of an SPI_STS byte
func FormatSpiStatus(v byte) string {
	parts := []string{}
	if v&SpiStatusNewPd != 0 {
		parts = append(parts, "NEW_PD")
	}
	if v&SpiStatusLastFrag != 0 {
		parts = append(parts, "LAST_FRAG")
	}
	if v&SpiStatusM != 0 {
		parts = append(parts, "M")
	}
	parts = append(parts, fmt.Sprintf("CMDCNT=%d", (v&SpiStatusCmdCnt)>>1))
	if v&SpiStatusWrMsgFull != 0 {
		parts = append(parts, "WRMSG_FULL")
	}
	return strings.Join(parts, " | ")
}

// FormatAnbStatus returns the Anybus state and supervision bit
func FormatAnbStatus(v byte) string {
	var state string
	switch v & AnbStatusCodeMask {
	case AnbStateSetup:
		state = "SETUP"
	case AnbStateNwInit:
		state = "NW_INIT"
	case AnbStateWaitProcess:
		state = "WAIT_PROCESS"
	case AnbStateIdle:
		state = "IDLE"
	case AnbStateProcessActive:
		state = "PROCESS_ACTIVE"
	case AnbStateError:
		state = "ERROR"
	case AnbStateException:
		state = "EXCEPTION"
	default:
		state = fmt.Sprintf("STATE_%d", v&AnbStatusCodeMask)
	}
	if v&AnbStatusSupMask != 0 {
		state += " | SUP"
	}
	if v&AnbStatusReservedMask != 0 {
		state += " | RESERVED"
	}
	return state
}

// FormatAppStatus returns the application status name
func FormatAppStatus(v byte) string {
	switch v {
	case AppStatNoError:
		return "NO_ERROR"
	case AppStatNotSynced:
		return "NOT_SYNCED"
	case AppStatSyncCfgErr:
		return "SYNC_CFG_ERR"
	case AppStatReadPdCfgErr:
		return "READ_PD_CFG_ERR"
	case AppStatWritePdCfgErr:
		return "WRITE_PD_CFG_ERR"
	case AppStatSyncLoss:
		return "SYNC_LOSS"
	case AppStatPdDataLoss:
		return "PD_DATA_LOSS"
	case AppStatOutputErr:
		return "OUTPUT_ERR"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", v)
	}
}

// FormatIntMask returns the enabled interrupt sources
func FormatIntMask(v byte) string {
	names := []struct {
		bit  byte
		name string
	}{
		{IntMaskSyncIEn, "SYNCIEN"},
		{IntMaskStatusIEn, "STATUSIEN"},
		{IntMaskAnbRIEn, "ANBRIEN"},
		{IntMaskWrMsgIEn, "WRMSGIEN"},
		{IntMaskRdMsgIEn, "RDMSGIEN"},
		{IntMaskRdPdIEn, "RDPDIEN"},
	}
	parts := []string{}
	for _, n := range names {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, " | ")
}

// ObjectName returns the name of a known object number
func ObjectName(obj uint8) string {
	switch obj {
	case ObjAnybus:
		return "Anybus"
	case ObjDiagnostic:
		return "Diagnostic"
	case ObjNetwork:
		return "Network"
	case ObjNetworkConfig:
		return "Network Configuration"
	case ObjFileSystemInterface:
		return "File System Interface"
	case ObjApplicationData:
		return "Application Data"
	case ObjApplication:
		return "Application"
	default:
		return fmt.Sprintf("Object 0x%02X", obj)
	}
}

// CommandName returns the name of a command byte without its E and C bits
func CommandName(cmd uint8) string {
	switch cmd & MsgCmdMask {
	case CmdGetAttribute:
		return "Get_Attribute"
	case CmdSetAttribute:
		return "Set_Attribute"
	case CmdCreate:
		return "Create"
	case CmdDelete:
		return "Delete"
	case CmdReset:
		return "Reset"
	case CmdGetEnumString:
		return "Get_Enum_String"
	case CmdGetIndexedAttribute:
		return "Get_Indexed_Attribute"
	case CmdSetIndexedAttribute:
		return "Set_Indexed_Attribute"
	default:
		return fmt.Sprintf("Command 0x%02X", cmd&MsgCmdMask)
	}
}

var errorResponseNames = map[uint8]string{
	0x01: "Invalid message destination",
	0x02: "Command not supported",
	0x03: "Invalid CmdExt[0]",
	0x04: "Invalid CmdExt[1]",
	0x05: "Attribute not settable",
	0x06: "Attribute not gettable",
	0x07: "Too much data",
	0x08: "Not enough data",
	0x09: "Out of range",
	0x0A: "Invalid state",
	0x0B: "Out of resources",
	0x0C: "Segmentation failure",
	0x0D: "Segmentation buffer overflow",
	0x0E: "Value too high",
	0x0F: "Value too low",
	0x10: "Controlled from other channel",
	0x11: "Message channel too small",
	0x12: "General error",
	0x13: "Protected access",
	0x14: "Data not available",
	0xFF: "Object specific error",
}

// ErrorResponseName returns the meaning of the first data byte of an error response
func ErrorResponseName(code uint8) string {
	if name, ok := errorResponseNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown error 0x%02X", code)
}

// ErrorCodeName returns the meaning of a FieldError frame code
func ErrorCodeName(code uint64) string {
	switch code {
	case ErrorCodeGeneric:
		return "Generic error"
	case ErrorCodeFragmentation:
		return "Fragmentation error"
	case ErrorCodeEndOfTransfer:
		return "Unexpected end of transfer"
	default:
		return fmt.Sprintf("Error 0x%02X", code)
	}
}

// FormatValue returns the labelled value of a field
func FormatValue(field Field, data uint64, size int) string {
	switch field {
	case FieldSpiCtrl:
		return FormatSpiCtrl(byte(data))
	case FieldSpiStatus:
		return FormatSpiStatus(byte(data))
	case FieldAnbStatus:
		return FormatAnbStatus(byte(data))
	case FieldAppStatus:
		return FormatAppStatus(byte(data))
	case FieldIntMask:
		return FormatIntMask(byte(data))
	case FieldMsgLen, FieldPdLen:
		return fmt.Sprintf("%d words", data)
	case FieldMsgSize:
		return fmt.Sprintf("%d bytes", data)
	case FieldMsgObject:
		return ObjectName(uint8(data))
	case FieldMsgCommand:
		cmd := uint8(data)
		s := CommandName(cmd)
		if cmd&MsgCmdRequestBit != 0 {
			s += " (command)"
		} else {
			s += " (response)"
		}
		if cmd&MsgCmdErrorBit != 0 {
			s += " ERROR"
		}
		return s
	case FieldNetTime:
		return fmt.Sprintf("%d", uint32(data))
	case FieldError:
		return ErrorCodeName(data)
	}
	return formatHex(data, size)
}

func formatHex(data uint64, size int) string {
	if size <= 0 {
		size = 1
	}
	return fmt.Sprintf("0x%0*X", size*2, data)
}

// FormatFrame formats a frame as bubble text. priority selects whether the
// value or the field tag leads for message and process data bytes.
func FormatFrame(f Frame, priority DataPriority) string {
	tag := f.Field.String()
	value := FormatValue(f.Field, f.Data, f.Size)

	var b strings.Builder
	if priority == PrioritizeData && (f.Field == FieldMsgData || f.Field == FieldProcessData) {
		fmt.Fprintf(&b, "%s %s", value, tag)
	} else {
		fmt.Fprintf(&b, "%s: %s", tag, value)
	}

	if f.Event != EventNone {
		fmt.Fprintf(&b, " [%s]", f.Event)
	}
	if f.Flags.Has(FlagSettingsError) {
		b.WriteString(" [SETTINGS]")
	}
	if f.Flags.Has(FlagFirstFrag) {
		b.WriteString(" [FIRST_FRAG]")
	} else if f.Flags.Has(FlagLastFrag) {
		b.WriteString(" [LAST_FRAG]")
	} else if f.Flags.Has(FlagFrag) {
		b.WriteString(" [FRAG]")
	}
	if f.Flags.Has(FlagProtoEvent) && f.Event == EventNone && f.Field != FieldError {
		b.WriteString(" !")
	}
	return b.String()
}

// FormatPacket formats a packet header line
func FormatPacket(r *Results, p Packet) string {
	result := fmt.Sprintf("[%12.6fms] #%-5d %-14s bytes=%-4d frames=%d",
		float64(r.Time(p.Start).Nanoseconds())/1e6, p.Index, p.Type, p.Bytes, p.FrameEnd-p.FrameStart)
	if p.Incomplete {
		result += " INCOMPLETE"
	}
	if p.Retransmit {
		result += " RETRANSMIT"
	}
	return result
}

// FormatMessage formats a reassembled message
func FormatMessage(m Message) string {
	h := m.Header
	kind := "RSP"
	if h.IsCommand() {
		kind = "CMD"
	}
	if h.IsError() {
		kind = "ERR"
	}
	result := fmt.Sprintf("%s %s %s src=0x%02X obj=%s inst=0x%04X ext=0x%04X size=%d",
		m.Direction, kind, CommandName(h.Command), h.SourceID, ObjectName(h.Object), h.Instance, h.CommandExt, h.Size)
	if m.Fragments > 1 {
		result += fmt.Sprintf(" fragments=%d", m.Fragments)
	}
	if h.IsError() && len(m.Data) > 0 {
		result += fmt.Sprintf(" (%s)", ErrorResponseName(m.Data[0]))
	}
	return result
}

// FormatHexBytes formats data as rows of 16 hex bytes
func FormatHexBytes(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	return strings.TrimRight(b.String(), " ")
}

// TabularEntry is one line of the searchable packet index
type TabularEntry struct {
	Packet    int
	Direction Direction
	Text      string
	Alert     bool
}

// TabularEntries builds the packet index selected by the indexing settings
func TabularEntries(r *Results, s Settings) []TabularEntry {
	var entries []TabularEntry

	byPacket := make(map[int][]Message)
	for _, m := range r.Messages {
		byPacket[m.Packet] = append(byPacket[m.Packet], m)
	}
	netTimes := make(map[int]NetworkTime)
	for _, nt := range r.NetworkTimes {
		netTimes[nt.Packet] = nt
	}

	for _, p := range r.Packets {
		for _, f := range r.Frames[p.FrameStart:p.FrameEnd] {
			switch {
			case s.IndexErrors && (f.Event != EventNone || f.Field == FieldError):
				text := f.Event.String()
				if f.Field == FieldError {
					text = ErrorCodeName(f.Data)
				}
				entries = append(entries, TabularEntry{p.Index, f.Direction, "!" + text, true})
			case s.IndexAnybusStatus && f.Field == FieldAnbStatus && f.Flags.Has(FlagProtoEvent):
				entries = append(entries, TabularEntry{p.Index, f.Direction, "ANB_STS: " + FormatAnbStatus(byte(f.Data)), false})
			case s.IndexApplStatus && f.Field == FieldAppStatus && f.Flags.Has(FlagProtoEvent):
				entries = append(entries, TabularEntry{p.Index, f.Direction, "APP_STS: " + FormatAppStatus(byte(f.Data)), false})
			}
		}

		for _, m := range byPacket[p.Index] {
			if text := messageEntry(m, s); text != "" {
				entries = append(entries, TabularEntry{p.Index, m.Direction, text, m.Header.IsError()})
			}
		}

		if nt, ok := netTimes[p.Index]; ok && indexTimestamp(nt, s.TimestampIndexing) {
			entries = append(entries, TabularEntry{p.Index, DirMiso, fmt.Sprintf("NET_TIME: %d (+%d)", nt.Timestamp, nt.DeltaTime), false})
		}
	}
	return entries
}

func messageEntry(m Message, s Settings) string {
	h := m.Header
	var parts []string
	switch s.MessageIndexing {
	case VerbosityCompact:
		parts = append(parts, CommandName(h.Command), ObjectName(h.Object))
	case VerbosityDetailed:
		parts = append(parts, FormatValue(FieldMsgCommand, uint64(h.Command), 1), ObjectName(h.Object),
			fmt.Sprintf("Inst 0x%04X", h.Instance), fmt.Sprintf("Ext 0x%04X", h.CommandExt),
			fmt.Sprintf("Size %d", h.Size))
	}
	if s.IndexSourceID {
		parts = append(parts, fmt.Sprintf("Src 0x%02X", h.SourceID))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ", ")
}

func indexTimestamp(nt NetworkTime, mode TimestampIndexing) bool {
	switch mode {
	case TimestampAllPackets:
		return true
	case TimestampWrPdValid:
		return nt.WrPdValid
	case TimestampNewRdPd:
		return nt.NewRdPd
	default:
		return false
	}
}
