// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"errors"
	"fmt"
	"time"
)

// ClockPolarity is the idle level of the SPI clock (CPOL)
type ClockPolarity int

const (
	ClockIdleLow ClockPolarity = iota
	ClockIdleHigh
)

// ClockPhase selects the clock edge data is sampled on (CPHA)
type ClockPhase int

const (
	SampleLeadingEdge ClockPhase = iota
	SampleTrailingEdge
)

// Verbosity controls how message headers are indexed in tabular results
type Verbosity int

const (
	VerbosityDisabled Verbosity = iota
	VerbosityCompact
	VerbosityDetailed
)

// TimestampIndexing selects which network timestamps are indexed
type TimestampIndexing int

const (
	TimestampDisabled TimestampIndexing = iota
	TimestampAllPackets
	TimestampWrPdValid
	TimestampNewRdPd
)

// DataPriority selects whether data or the field tag leads in bubble text
type DataPriority int

const (
	PrioritizeData DataPriority = iota
	PrioritizeTag
)

var (
	// ErrWireModeConflict is returned when both 3-wire and 4-wire mode are forced
	ErrWireModeConflict = errors.New("3-wire and 4-wire mode are mutually exclusive")
	// ErrNoEnableChannel is returned when 4-wire mode is forced without an ENABLE channel
	ErrNoEnableChannel = errors.New("4-wire mode requires an ENABLE channel")
	// ErrEmptyCapture is returned when the capture has no clock activity
	ErrEmptyCapture = errors.New("capture contains no clock transitions")
)

// Settings configures the sampler and the tabular indexing
type Settings struct {
	ClockPolarity    ClockPolarity
	ClockPhase       ClockPhase
	EnableActiveHigh bool

	Force3Wire bool
	Force4Wire bool

	MinIdleGap         time.Duration
	MaxClockActiveTime time.Duration

	MessageIndexing     Verbosity
	TimestampIndexing   TimestampIndexing
	IndexSourceID       bool
	IndexErrors         bool
	IndexAnybusStatus   bool
	IndexApplStatus     bool
	MsgDataPriority     DataPriority
	ProcessDataPriority DataPriority
}

// DefaultSettings returns SPI mode 3 with an active-low ENABLE, which is what
// the ABCC uses, and detailed indexing of everything except timestamps.
func DefaultSettings() Settings {
	return Settings{
		ClockPolarity:       ClockIdleHigh,
		ClockPhase:          SampleTrailingEdge,
		MinIdleGap:          DefaultMinIdleGap,
		MaxClockActiveTime:  DefaultMaxClockActiveTime,
		MessageIndexing:     VerbosityDetailed,
		TimestampIndexing:   TimestampDisabled,
		IndexSourceID:       true,
		IndexErrors:         true,
		IndexAnybusStatus:   true,
		IndexApplStatus:     true,
		MsgDataPriority:     PrioritizeTag,
		ProcessDataPriority: PrioritizeTag,
	}
}

// Validate checks the settings on their own
func (s Settings) Validate() error {
	if s.Force3Wire && s.Force4Wire {
		return ErrWireModeConflict
	}
	if s.MinIdleGap <= 0 {
		return fmt.Errorf("minimum idle gap must be positive, got %v", s.MinIdleGap)
	}
	if s.MaxClockActiveTime <= 0 {
		return fmt.Errorf("maximum clock active time must be positive, got %v", s.MaxClockActiveTime)
	}
	return nil
}

// ThreeWire reports whether packets are delimited by idle gaps instead of ENABLE
func (s Settings) ThreeWire(c *Capture) bool {
	if s.Force3Wire {
		return true
	}
	if s.Force4Wire {
		return false
	}
	return c.Enable == nil
}

// AnomalyType represents the kinds of capture validation failures
type AnomalyType int

const (
	AnomalySampleRate AnomalyType = iota
	AnomalyNoClock
	AnomalyUnsorted
	AnomalyMissingEnable
	AnomalySettings
)

// ValidationError describes one problem found in a capture or its settings
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Unwrap returns the sentinel behind the anomaly, if any
func (v *ValidationError) Unwrap() error {
	return v.Err
}

// ValidateCapture checks a capture against the settings it will be decoded with.
// Returns a slice of validation errors (empty if the capture is usable).
func ValidateCapture(c *Capture, s Settings) []ValidationError {
	errs := []ValidationError{}

	if err := s.Validate(); err != nil {
		errs = append(errs, ValidationError{
			Type:    AnomalySettings,
			Message: err.Error(),
			Err:     err,
		})
	}

	if c.SampleRate <= 0 {
		errs = append(errs, ValidationError{
			Type:    AnomalySampleRate,
			Message: fmt.Sprintf("invalid sample rate %g", c.SampleRate),
			Details: map[string]interface{}{"sample_rate": c.SampleRate},
		})
	}

	if len(c.Clock.Transitions) == 0 {
		errs = append(errs, ValidationError{
			Type:    AnomalyNoClock,
			Message: ErrEmptyCapture.Error(),
			Err:     ErrEmptyCapture,
		})
	}

	if s.Force4Wire && c.Enable == nil {
		errs = append(errs, ValidationError{
			Type:    AnomalyMissingEnable,
			Message: ErrNoEnableChannel.Error(),
			Err:     ErrNoEnableChannel,
		})
	}

	named := []struct {
		name string
		ch   *Channel
	}{
		{"MOSI", &c.Mosi},
		{"MISO", &c.Miso},
		{"CLOCK", &c.Clock},
		{"ENABLE", c.Enable},
	}
	for _, n := range named {
		if n.ch == nil {
			continue
		}
		for i := 1; i < len(n.ch.Transitions); i++ {
			if n.ch.Transitions[i] <= n.ch.Transitions[i-1] {
				errs = append(errs, ValidationError{
					Type:    AnomalyUnsorted,
					Message: fmt.Sprintf("%s transitions not increasing at index %d", n.name, i),
					Details: map[string]interface{}{"channel": n.name, "index": i},
				})
				break
			}
		}
	}

	return errs
}
