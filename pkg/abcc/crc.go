// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"encoding/binary"
	"hash/crc32"
)

// Checksum is the running CRC-32 of one ABCC SPI frame.
//
// The ABCC uses the reflected CRC-32 (polynomial 0x04C11DB7, processed as
// 0xEDB88320), seeded with 0xFFFFFFFF and complemented on output. The zero
// value is a reset checksum.
type Checksum struct {
	crc uint32
}

// Reset restarts the accumulator
func (c *Checksum) Reset() {
	c.crc = 0
}

// Update folds one byte into the accumulator
func (c *Checksum) Update(b byte) {
	buf := [1]byte{b}
	c.crc = crc32.Update(c.crc, crc32.IEEETable, buf[:])
}

// Value returns the current CRC-32
func (c Checksum) Value() uint32 {
	return c.crc
}

// Verify compares the accumulator against a trailer read from the stream.
// The trailer is the little-endian value of the four CRC32 field bytes.
func (c Checksum) Verify(trailer uint32) bool {
	return c.crc == trailer
}

// CRC32 computes the ABCC SPI checksum of data
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// AppendCRC32 appends the little-endian CRC32 trailer of data to data
func AppendCRC32(data []byte) []byte {
	return binary.LittleEndian.AppendUint32(data, CRC32(data))
}
