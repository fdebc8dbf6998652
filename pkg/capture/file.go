// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores and loads the four-channel captures consumed by
// the abcc decoder: a CBOR container, the probe stream protocol and Saleae
// Logic binary digital exports.
package capture

import (
	"fmt"
	"os"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the container version written by Encode
const FormatVersion = 1

type channelRecord struct {
	Initial     bool    `cbor:"1,keyasint"`
	Transitions []int64 `cbor:"2,keyasint"`
}

type fileRecord struct {
	Version    uint           `cbor:"1,keyasint"`
	SampleRate float64        `cbor:"2,keyasint"`
	Mosi       channelRecord  `cbor:"3,keyasint"`
	Miso       channelRecord  `cbor:"4,keyasint"`
	Clock      channelRecord  `cbor:"5,keyasint"`
	Enable     *channelRecord `cbor:"6,keyasint,omitempty"`
}

func toRecord(ch abcc.Channel) channelRecord {
	return channelRecord{Initial: ch.Initial, Transitions: ch.Transitions}
}

func (r channelRecord) channel() abcc.Channel {
	return abcc.Channel{Initial: r.Initial, Transitions: r.Transitions}
}

// Encode serializes a capture into the CBOR container
func Encode(c *abcc.Capture) ([]byte, error) {
	rec := fileRecord{
		Version:    FormatVersion,
		SampleRate: c.SampleRate,
		Mosi:       toRecord(c.Mosi),
		Miso:       toRecord(c.Miso),
		Clock:      toRecord(c.Clock),
	}
	if c.Enable != nil {
		en := toRecord(*c.Enable)
		rec.Enable = &en
	}
	data, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode capture: %w", err)
	}
	return data, nil
}

// Decode parses a CBOR container
func Decode(data []byte) (*abcc.Capture, error) {
	var rec fileRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	if rec.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported capture version %d", rec.Version)
	}

	c := &abcc.Capture{
		SampleRate: rec.SampleRate,
		Mosi:       rec.Mosi.channel(),
		Miso:       rec.Miso.channel(),
		Clock:      rec.Clock.channel(),
	}
	if rec.Enable != nil {
		en := rec.Enable.channel()
		c.Enable = &en
	}
	return c, nil
}

// Save writes a capture to path
func Save(path string, c *abcc.Capture) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a capture from path
func Load(path string) (*abcc.Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
