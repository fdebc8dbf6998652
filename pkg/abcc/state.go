// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import "fmt"

// Direction of a byte stream on the bus
type Direction uint8

const (
	DirMosi Direction = iota // host to module
	DirMiso                  // module to host
)

func (d Direction) String() string {
	if d == DirMosi {
		return "MOSI"
	}
	return "MISO"
}

// Field identifies the decoded field a Frame carries
type Field uint8

const (
	FieldSpiCtrl Field = iota
	FieldReserved1
	FieldReserved2
	FieldMsgLen
	FieldPdLen
	FieldAppStatus
	FieldIntMask
	FieldLedStatus
	FieldAnbStatus
	FieldSpiStatus
	FieldNetTime
	FieldMsgSize
	FieldMsgReserved1
	FieldMsgSrcID
	FieldMsgObject
	FieldMsgInstance
	FieldMsgCommand
	FieldMsgReserved2
	FieldMsgCmdExt
	FieldMsgData
	FieldMsgDataNotValid
	FieldProcessData
	FieldCrc32
	FieldPad
	FieldError
)

var fieldTags = [...]string{
	FieldSpiCtrl:         "SPI_CTL",
	FieldReserved1:       "RES1",
	FieldReserved2:       "RES2",
	FieldMsgLen:          "MSG_LEN",
	FieldPdLen:           "PD_LEN",
	FieldAppStatus:       "APP_STS",
	FieldIntMask:         "INT_MSK",
	FieldLedStatus:       "LED_STS",
	FieldAnbStatus:       "ANB_STS",
	FieldSpiStatus:       "SPI_STS",
	FieldNetTime:         "NET_TIME",
	FieldMsgSize:         "MD_SIZE",
	FieldMsgReserved1:    "MD_RES1",
	FieldMsgSrcID:        "SRC_ID",
	FieldMsgObject:       "OBJ",
	FieldMsgInstance:     "INST",
	FieldMsgCommand:      "CMD",
	FieldMsgReserved2:    "MD_RES2",
	FieldMsgCmdExt:       "CMD_EXT",
	FieldMsgData:         "MD",
	FieldMsgDataNotValid: "MD_NV",
	FieldProcessData:     "PD",
	FieldCrc32:           "CRC32",
	FieldPad:             "PAD",
	FieldError:           "ERROR",
}

func (f Field) String() string {
	if int(f) < len(fieldTags) {
		return fieldTags[f]
	}
	return fmt.Sprintf("FIELD(%d)", uint8(f))
}

// IsMessage reports whether the field belongs to the message field
func (f Field) IsMessage() bool {
	return f >= FieldMsgSize && f <= FieldMsgDataNotValid
}

// MosiState is the byte position of the host to module machine
type MosiState uint8

const (
	MosiIdle MosiState = iota
	MosiSpiCtrl
	MosiReserved1
	MosiMsgLen
	MosiPdLen
	MosiAppStatus
	MosiIntMask
	MosiMsgField
	MosiWritePd
	MosiCrc32
	MosiPad
	MosiDone
)

// Fixed field sizes and tags by state; variable fields have size 0
var mosiStates = [...]struct {
	field Field
	size  int
}{
	MosiIdle:      {FieldError, 0},
	MosiSpiCtrl:   {FieldSpiCtrl, 1},
	MosiReserved1: {FieldReserved1, 1},
	MosiMsgLen:    {FieldMsgLen, 2},
	MosiPdLen:     {FieldPdLen, 2},
	MosiAppStatus: {FieldAppStatus, 1},
	MosiIntMask:   {FieldIntMask, 1},
	MosiMsgField:  {FieldMsgData, 0},
	MosiWritePd:   {FieldProcessData, 0},
	MosiCrc32:     {FieldCrc32, crcSize},
	MosiPad:       {FieldPad, padSize},
	MosiDone:      {FieldError, 0},
}

func (s MosiState) String() string {
	switch s {
	case MosiIdle:
		return "IDLE"
	case MosiDone:
		return "DONE"
	case MosiMsgField:
		return "WR_MSG"
	case MosiWritePd:
		return "WR_PD"
	}
	if int(s) < len(mosiStates) {
		return mosiStates[s].field.String()
	}
	return fmt.Sprintf("MOSI(%d)", uint8(s))
}

// MisoState is the byte position of the module to host machine
type MisoState uint8

const (
	MisoIdle MisoState = iota
	MisoReserved1
	MisoReserved2
	MisoLedStatus
	MisoAnbStatus
	MisoSpiStatus
	MisoNetTime
	MisoMsgField
	MisoReadPd
	MisoCrc32
	MisoDone
)

var misoStates = [...]struct {
	field Field
	size  int
}{
	MisoIdle:      {FieldError, 0},
	MisoReserved1: {FieldReserved1, 1},
	MisoReserved2: {FieldReserved2, 1},
	MisoLedStatus: {FieldLedStatus, 2},
	MisoAnbStatus: {FieldAnbStatus, 1},
	MisoSpiStatus: {FieldSpiStatus, 1},
	MisoNetTime:   {FieldNetTime, 4},
	MisoMsgField:  {FieldMsgData, 0},
	MisoReadPd:    {FieldProcessData, 0},
	MisoCrc32:     {FieldCrc32, crcSize},
	MisoDone:      {FieldError, 0},
}

func (s MisoState) String() string {
	switch s {
	case MisoIdle:
		return "IDLE"
	case MisoDone:
		return "DONE"
	case MisoMsgField:
		return "RD_MSG"
	case MisoReadPd:
		return "RD_PD"
	}
	if int(s) < len(misoStates) {
		return misoStates[s].field.String()
	}
	return fmt.Sprintf("MISO(%d)", uint8(s))
}

// MsgField is the position of the message reassembly sub-machine
type MsgField uint8

const (
	MsgFieldSize MsgField = iota
	MsgFieldReserved1
	MsgFieldSrcID
	MsgFieldObject
	MsgFieldInstance
	MsgFieldCommand
	MsgFieldReserved2
	MsgFieldCmdExt
	MsgFieldData
	MsgFieldDataNotValid
)

var msgFields = [...]struct {
	field Field
	size  int
}{
	MsgFieldSize:         {FieldMsgSize, 2},
	MsgFieldReserved1:    {FieldMsgReserved1, 2},
	MsgFieldSrcID:        {FieldMsgSrcID, 1},
	MsgFieldObject:       {FieldMsgObject, 1},
	MsgFieldInstance:     {FieldMsgInstance, 2},
	MsgFieldCommand:      {FieldMsgCommand, 1},
	MsgFieldReserved2:    {FieldMsgReserved2, 1},
	MsgFieldCmdExt:       {FieldMsgCmdExt, 2},
	MsgFieldData:         {FieldMsgData, 1},
	MsgFieldDataNotValid: {FieldMsgDataNotValid, 1},
}

func (m MsgField) String() string {
	if int(m) < len(msgFields) {
		return msgFields[m].field.String()
	}
	return fmt.Sprintf("MSG(%d)", uint8(m))
}

// PacketType classifies one ENABLE-bounded packet
type PacketType uint8

const (
	PacketNull PacketType = iota
	PacketCommand
	PacketResponse
	PacketFragment
	PacketErrorResponse
	PacketProtocolError
	PacketChecksumError
	PacketMulti
	PacketMultiError
	PacketCancel
)

var packetTypeNames = [...]string{
	PacketNull:          "NULL",
	PacketCommand:       "COMMAND",
	PacketResponse:      "RESPONSE",
	PacketFragment:      "FRAGMENT",
	PacketErrorResponse: "ERROR_RESPONSE",
	PacketProtocolError: "PROTOCOL_ERROR",
	PacketChecksumError: "CHECKSUM_ERROR",
	PacketMulti:         "MULTI",
	PacketMultiError:    "MULTI_ERROR",
	PacketCancel:        "CANCEL",
}

func (t PacketType) String() string {
	if int(t) < len(packetTypeNames) {
		return packetTypeNames[t]
	}
	return fmt.Sprintf("PACKET(%d)", uint8(t))
}

// IsError reports whether the packet type signals a fault or error response
func (t PacketType) IsError() bool {
	switch t {
	case PacketErrorResponse, PacketProtocolError, PacketChecksumError, PacketMultiError:
		return true
	}
	return false
}

// ErrorEvent is the alert kind attached to a frame
type ErrorEvent uint8

const (
	EventNone ErrorEvent = iota
	EventRetransmitWarning
	EventCrcError
	EventFragmentationError
)

func (e ErrorEvent) String() string {
	switch e {
	case EventNone:
		return "NONE"
	case EventRetransmitWarning:
		return "RETRANSMIT"
	case EventCrcError:
		return "CRC_ERROR"
	case EventFragmentationError:
		return "FRAGMENTATION_ERROR"
	default:
		return fmt.Sprintf("EVENT(%d)", uint8(e))
	}
}

// FrameFlags are the alert and context bits of a Frame
type FrameFlags uint8

const (
	FlagSettingsError FrameFlags = 1 << 0 // sampling fault (CPOL, CPHA, ENABLE level)
	FlagMosi          FrameFlags = 1 << 1 // set for host to module frames
	FlagFirstFrag     FrameFlags = 1 << 2 // first frame of a fragmented message
	FlagFrag          FrameFlags = 1 << 3 // fragmented message in progress
	FlagLastFrag      FrameFlags = 1 << 4 // frame exhausting a fragmented message
	FlagProtoEvent    FrameFlags = 1 << 5 // protocol event on this field
)

// Has reports whether all bits of f are set
func (ff FrameFlags) Has(f FrameFlags) bool {
	return ff&f == f
}
