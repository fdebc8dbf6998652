// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"encoding/binary"
	"fmt"
)

// MosiFrame is a host to module frame before encoding.
// MsgLen and PdLen are in bytes and must be even.
type MosiFrame struct {
	Ctrl      byte
	MsgLen    int
	PdLen     int
	AppStatus byte
	IntMask   byte
	Msg       []byte // message field, zero padded to MsgLen
	Pd        []byte // process data, zero padded to PdLen
}

// Encode returns the wire bytes including CRC32 and pad
func (f MosiFrame) Encode() ([]byte, error) {
	if err := checkLengths(f.MsgLen, f.PdLen, len(f.Msg), len(f.Pd)); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, mosiHeaderSize+f.MsgLen+f.PdLen+crcSize+padSize)
	buf = append(buf, f.Ctrl, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(f.MsgLen/2))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(f.PdLen/2))
	buf = append(buf, f.AppStatus, f.IntMask)
	buf = appendPadded(buf, f.Msg, f.MsgLen)
	buf = appendPadded(buf, f.Pd, f.PdLen)
	buf = AppendCRC32(buf)
	buf = append(buf, 0, 0)
	return buf, nil
}

// MisoFrame is a module to host frame before encoding. Its field lengths
// are dictated by the MOSI frame it is clocked against.
type MisoFrame struct {
	LedStatus uint16
	AnbStatus byte
	SpiStatus byte
	NetTime   uint32
	Msg       []byte
	Pd        []byte
}

// Encode returns the wire bytes for the given message and process data
// lengths. The result is as long as the matching MOSI frame.
func (f MisoFrame) Encode(msgLen, pdLen int) ([]byte, error) {
	if err := checkLengths(msgLen, pdLen, len(f.Msg), len(f.Pd)); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, misoHeaderSize+msgLen+pdLen+crcSize)
	buf = append(buf, 0, 0)
	buf = binary.LittleEndian.AppendUint16(buf, f.LedStatus)
	buf = append(buf, f.AnbStatus, f.SpiStatus)
	buf = binary.LittleEndian.AppendUint32(buf, f.NetTime)
	buf = appendPadded(buf, f.Msg, msgLen)
	buf = appendPadded(buf, f.Pd, pdLen)
	return AppendCRC32(buf), nil
}

// EncodeMessage returns a message with its header; Size is taken from data
func EncodeMessage(h MessageHeader, data []byte) []byte {
	buf := make([]byte, 0, MsgHeaderSize+len(data))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(data)))
	buf = append(buf, 0, 0, h.SourceID, h.Object)
	buf = binary.LittleEndian.AppendUint16(buf, h.Instance)
	buf = append(buf, h.Command, 0)
	buf = binary.LittleEndian.AppendUint16(buf, h.CommandExt)
	return append(buf, data...)
}

// Fragments splits an encoded message over message fields of msgLen bytes
func Fragments(msg []byte, msgLen int) [][]byte {
	if msgLen <= 0 {
		return nil
	}
	var out [][]byte
	for len(msg) > msgLen {
		out = append(out, msg[:msgLen])
		msg = msg[msgLen:]
	}
	return append(out, msg)
}

func checkLengths(msgLen, pdLen, msg, pd int) error {
	if msgLen%2 != 0 || pdLen%2 != 0 {
		return fmt.Errorf("field lengths must be whole words: msg %d, pd %d", msgLen, pdLen)
	}
	if msgLen > 0xFFFF*2 || pdLen > 0xFFFF*2 {
		return fmt.Errorf("field length too large: msg %d, pd %d", msgLen, pdLen)
	}
	if msg > msgLen {
		return fmt.Errorf("message field overflow: %d bytes (max %d)", msg, msgLen)
	}
	if pd > pdLen {
		return fmt.Errorf("process data overflow: %d bytes (max %d)", pd, pdLen)
	}
	return nil
}

func appendPadded(buf, data []byte, n int) []byte {
	buf = append(buf, data...)
	for i := len(data); i < n; i++ {
		buf = append(buf, 0)
	}
	return buf
}
