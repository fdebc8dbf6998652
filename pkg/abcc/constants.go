// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package abcc decodes the Anybus CompactCom (ABCC) SPI protocol from
// captured MOSI, MISO, CLOCK and ENABLE signals.
//
// The decoder makes a single forward pass over a Capture. Each SPI clock
// byte is fed to two byte-position state machines (host to module and module
// to host) that share a message reassembly sub-machine. Completed fields are
// reported as Frames, grouped into classified Packets, and command/response
// message pairs are reported as Transactions.
package abcc

import "time"

// SPI control byte (MOSI, SPI_CTL)
const (
	SpiCtrlWrPdValid = 0x01
	SpiCtrlCmdCnt    = 0x06
	SpiCtrlM         = 0x08
	SpiCtrlLastFrag  = 0x10
	SpiCtrlToggle    = 0x80
)

// SPI status byte (MISO, SPI_STS)
const (
	SpiStatusWrMsgFull = 0x01
	SpiStatusCmdCnt    = 0x06
	SpiStatusM         = 0x08
	SpiStatusLastFrag  = 0x10
	SpiStatusNewPd     = 0x20
)

// Anybus status byte (MISO, ANB_STS)
const (
	AnbStatusReservedMask = 0xF0
	AnbStatusSupMask      = 0x08
	AnbStatusCodeMask     = 0x07
)

// Anybus states (ANB_STS code bits)
const (
	AnbStateSetup         = 0x00
	AnbStateNwInit        = 0x01
	AnbStateWaitProcess   = 0x02
	AnbStateIdle          = 0x03
	AnbStateProcessActive = 0x04
	AnbStateError         = 0x05
	AnbStateException     = 0x07
)

// Application status values (MOSI, APP_STS)
const (
	AppStatNoError       = 0x00
	AppStatNotSynced     = 0x01
	AppStatSyncCfgErr    = 0x02
	AppStatReadPdCfgErr  = 0x03
	AppStatWritePdCfgErr = 0x04
	AppStatSyncLoss      = 0x05
	AppStatPdDataLoss    = 0x06
	AppStatOutputErr     = 0x07
)

// Interrupt mask bits (MOSI, INT_MSK)
const (
	IntMaskRdPdIEn   = 0x01
	IntMaskRdMsgIEn  = 0x02
	IntMaskWrMsgIEn  = 0x04
	IntMaskAnbRIEn   = 0x08
	IntMaskStatusIEn = 0x10
	IntMaskSyncIEn   = 0x40
)

// Message header
const (
	MsgHeaderSize = 12

	MsgCmdErrorBit   = 0x80
	MsgCmdRequestBit = 0x40
	MsgCmdMask       = 0x3F
)

// Message commands
const (
	CmdGetAttribute        = 0x01
	CmdSetAttribute        = 0x02
	CmdCreate              = 0x03
	CmdDelete              = 0x04
	CmdReset               = 0x05
	CmdGetEnumString       = 0x06
	CmdGetIndexedAttribute = 0x07
	CmdSetIndexedAttribute = 0x08
)

// Object numbers
const (
	ObjAnybus              = 0x01
	ObjDiagnostic          = 0x02
	ObjNetwork             = 0x03
	ObjNetworkConfig       = 0x04
	ObjFileSystemInterface = 0x0A
	ObjApplicationData     = 0xFE
	ObjApplication         = 0xFF
)

// Error frame codes, carried as the data of a FieldError frame.
const (
	ErrorCodeGeneric       = 0x80
	ErrorCodeFragmentation = 0x81
	ErrorCodeEndOfTransfer = 0x82
)

// Frame layout sizes in bytes
const (
	mosiHeaderSize = 8
	misoHeaderSize = 10
	crcSize        = 4
	padSize        = 2
)

// Sampler defaults
const (
	DefaultMinIdleGap         = 10 * time.Microsecond
	DefaultMaxClockActiveTime = 5 * time.Microsecond
)

// Event policy. The first validated packet of a capture always raises a
// status event for APP_STS and ANB_STS; afterwards only changes do.
const statusEventOnFirstPacket = true
