// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/soypat/saleae"
)

// Saleae digital export header layout: 16 byte file header, initial state,
// begin and end times, transition count.
const (
	saleaeHeaderSize   = 44
	saleaeInitialState = 16
	saleaeCount        = 36
)

// SaleaeFiles names the per-channel binary exports of one capture. Enable
// is empty for 3-wire captures.
type SaleaeFiles struct {
	Mosi   string
	Miso   string
	Clock  string
	Enable string
}

// SaleaeDir returns the conventional file names inside dir
func SaleaeDir(dir string, enable bool) SaleaeFiles {
	f := SaleaeFiles{
		Mosi:  filepath.Join(dir, "digital_mosi.bin"),
		Miso:  filepath.Join(dir, "digital_miso.bin"),
		Clock: filepath.Join(dir, "digital_clock.bin"),
	}
	if enable {
		f.Enable = filepath.Join(dir, "digital_enable.bin")
	}
	return f
}

// LoadSaleae reads the binary digital exports of a capture and resamples
// their transition times at sampleRate.
func LoadSaleae(files SaleaeFiles, sampleRate float64) (*abcc.Capture, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %g", sampleRate)
	}

	paths := []string{files.Mosi, files.Miso, files.Clock}
	if files.Enable != "" {
		paths = append(paths, files.Enable)
	}

	digital := make([]*saleae.DigitalFile, len(paths))
	for i, p := range paths {
		df, err := readDigital(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		digital[i] = df
	}

	begin := math.Inf(1)
	for _, df := range digital {
		begin = math.Min(begin, df.Header.Begin)
	}

	c := &abcc.Capture{
		SampleRate: sampleRate,
		Mosi:       resample(digital[0], begin, sampleRate),
		Miso:       resample(digital[1], begin, sampleRate),
		Clock:      resample(digital[2], begin, sampleRate),
	}
	if len(digital) == 4 {
		en := resample(digital[3], begin, sampleRate)
		c.Enable = &en
	}
	return c, nil
}

func readDigital(path string) (*saleae.DigitalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < saleaeHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}

	// the reader cannot represent a channel that never toggles
	if binary.LittleEndian.Uint64(data[saleaeCount:]) == 0 {
		df := &saleae.DigitalFile{}
		df.Header.InitialState = binary.LittleEndian.Uint32(data[saleaeInitialState:])
		df.Header.Begin = math.Float64frombits(binary.LittleEndian.Uint64(data[saleaeInitialState+4:]))
		df.Header.End = math.Float64frombits(binary.LittleEndian.Uint64(data[saleaeInitialState+12:]))
		return df, nil
	}
	return saleae.ReadDigitalFile(bytes.NewReader(data))
}

// resample converts transition times in seconds to strictly increasing
// sample indices. Pulses shorter than one sample collapse.
func resample(df *saleae.DigitalFile, begin, rate float64) abcc.Channel {
	ch := abcc.Channel{Initial: df.Header.InitialState != 0}
	for _, t := range df.Data {
		s := int64(math.Round((t - begin) * rate))
		if n := len(ch.Transitions); n > 0 && s <= ch.Transitions[n-1] {
			ch.Transitions = ch.Transitions[:n-1]
			continue
		}
		ch.Transitions = append(ch.Transitions, s)
	}
	return ch
}

// SaveSaleae writes a capture as Saleae binary digital exports. Every
// channel must have at least one transition.
func SaveSaleae(files SaleaeFiles, c *abcc.Capture) error {
	type output struct {
		path string
		ch   *abcc.Channel
		name string
	}
	outputs := []output{
		{files.Mosi, &c.Mosi, "MOSI"},
		{files.Miso, &c.Miso, "MISO"},
		{files.Clock, &c.Clock, "CLOCK"},
	}
	if c.Enable != nil {
		if files.Enable == "" {
			return fmt.Errorf("no ENABLE file for a 4-wire capture")
		}
		outputs = append(outputs, output{files.Enable, c.Enable, "ENABLE"})
	}

	end := float64(c.LastSample()) / c.SampleRate
	for _, o := range outputs {
		if len(o.ch.Transitions) == 0 {
			return fmt.Errorf("%s never toggles and cannot be exported", o.name)
		}
		df := saleae.DigitalFile{
			Header: saleae.DigitalHeader{
				Info: saleae.FileHeader{
					Type: saleae.FileTypeDigital,
				},
				End:            end,
				NumTransitions: uint64(len(o.ch.Transitions)),
			},
			Data: make([]float64, len(o.ch.Transitions)),
		}
		if o.ch.Initial {
			df.Header.InitialState = 1
		}
		for i, s := range o.ch.Transitions {
			df.Data[i] = float64(s) / c.SampleRate
		}

		if err := writeDigital(o.path, &df); err != nil {
			return fmt.Errorf("%s: %w", o.path, err)
		}
	}
	return nil
}

func writeDigital(path string, df *saleae.DigitalFile) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := df.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
