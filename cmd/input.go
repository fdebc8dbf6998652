// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/Thermoquad/abccspi/pkg/capture"
)

// errNoCapture is returned when no capture input flag is set
var errNoCapture = errors.New("either --capture or --saleae-dir must be specified")

var (
	verbosityNames = map[string]abcc.Verbosity{
		"disabled": abcc.VerbosityDisabled,
		"compact":  abcc.VerbosityCompact,
		"detailed": abcc.VerbosityDetailed,
	}
	timestampNames = map[string]abcc.TimestampIndexing{
		"disabled":    abcc.TimestampDisabled,
		"all":         abcc.TimestampAllPackets,
		"wr-pd-valid": abcc.TimestampWrPdValid,
		"new-rd-pd":   abcc.TimestampNewRdPd,
	}
	priorityNames = map[string]abcc.DataPriority{
		"data": abcc.PrioritizeData,
		"tag":  abcc.PrioritizeTag,
	}
	logLevels = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

func lookup[T any](flag, value string, names map[string]T) (T, error) {
	v, ok := names[strings.ToLower(value)]
	if !ok {
		return v, fmt.Errorf("invalid --%s value %q", flag, value)
	}
	return v, nil
}

// buildSettings collects the decoder settings from the flags
func buildSettings() (abcc.Settings, error) {
	s := abcc.DefaultSettings()

	switch clockPolarity {
	case 0:
		s.ClockPolarity = abcc.ClockIdleLow
	case 1:
		s.ClockPolarity = abcc.ClockIdleHigh
	default:
		return s, fmt.Errorf("--cpol must be 0 or 1, got %d", clockPolarity)
	}
	switch clockPhase {
	case 0:
		s.ClockPhase = abcc.SampleLeadingEdge
	case 1:
		s.ClockPhase = abcc.SampleTrailingEdge
	default:
		return s, fmt.Errorf("--cpha must be 0 or 1, got %d", clockPhase)
	}

	s.EnableActiveHigh = enableActiveHigh
	s.Force3Wire = force3Wire
	s.Force4Wire = force4Wire
	s.MinIdleGap = minIdleGap
	s.MaxClockActiveTime = maxClockActive
	s.IndexSourceID = indexSourceID
	s.IndexErrors = indexErrors
	s.IndexAnybusStatus = indexAnybusStatus
	s.IndexApplStatus = indexApplStatus

	var err error
	if s.MessageIndexing, err = lookup("index-messages", indexMessages, verbosityNames); err != nil {
		return s, err
	}
	if s.TimestampIndexing, err = lookup("index-timestamps", indexTimestamps, timestampNames); err != nil {
		return s, err
	}
	if s.MsgDataPriority, err = lookup("msg-priority", msgDataPriority, priorityNames); err != nil {
		return s, err
	}
	if s.ProcessDataPriority, err = lookup("pd-priority", pdDataPriority, priorityNames); err != nil {
		return s, err
	}

	return s, s.Validate()
}

// newLogger returns the decoder logger selected by --log-level
func newLogger() (*slog.Logger, error) {
	level, err := lookup("log-level", logLevel, logLevels)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadCapture reads the capture selected by the input flags
func loadCapture() (*abcc.Capture, string, error) {
	if captureFile != "" {
		c, err := capture.Load(captureFile)
		if err != nil {
			return nil, "", err
		}
		return c, fmt.Sprintf("CBOR: %s", captureFile), nil
	}

	if saleaeDir != "" {
		if sampleRate <= 0 {
			return nil, "", fmt.Errorf("--sample-rate is required with --saleae-dir")
		}
		enable := !force3Wire
		if _, err := os.Stat(capture.SaleaeDir(saleaeDir, true).Enable); err != nil {
			enable = false
		}
		c, err := capture.LoadSaleae(capture.SaleaeDir(saleaeDir, enable), sampleRate)
		if err != nil {
			return nil, "", err
		}
		return c, fmt.Sprintf("Saleae: %s @ %.0f Hz", saleaeDir, sampleRate), nil
	}

	return nil, "", errNoCapture
}

// newDecoder builds a decoder from the settings and log level flags
func newDecoder() (*abcc.Decoder, error) {
	settings, err := buildSettings()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return abcc.NewDecoder(settings, abcc.WithLogger(logger)), nil
}

// decodeInput loads and decodes the capture selected by the input flags
func decodeInput(ctx context.Context) (*abcc.Results, *abcc.Decoder, string, error) {
	dec, err := newDecoder()
	if err != nil {
		return nil, nil, "", err
	}
	c, info, err := loadCapture()
	if err != nil {
		return nil, nil, "", err
	}
	res, err := dec.Decode(ctx, c)
	if err != nil {
		return nil, nil, "", err
	}
	return res, dec, info, nil
}

// framePriority returns the display priority configured for a frame's field
func framePriority(s abcc.Settings, f abcc.Frame) abcc.DataPriority {
	if f.Field == abcc.FieldProcessData {
		return s.ProcessDataPriority
	}
	return s.MsgDataPriority
}
