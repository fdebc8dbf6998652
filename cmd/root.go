// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"time"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/spf13/cobra"
)

var (
	// Probe connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Capture input flags
	captureFile string
	saleaeDir   string
	sampleRate  float64

	// SPI settings flags
	clockPolarity    int
	clockPhase       int
	enableActiveHigh bool
	force3Wire       bool
	force4Wire       bool
	minIdleGap       time.Duration
	maxClockActive   time.Duration

	// Indexing flags
	indexMessages     string
	indexTimestamps   string
	indexSourceID     bool
	indexErrors       bool
	indexAnybusStatus bool
	indexApplStatus   bool
	msgDataPriority   string
	pdDataPriority    string

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "abccspi",
	Short: "ABCC SPI Protocol Analyzer",
	Long: `abccspi - A CLI tool for decoding Anybus CompactCom SPI traffic from
logic analyzer captures.

A capture holds the MOSI, MISO, CLOCK and (for 4-wire buses) ENABLE lines.
Captures are read from a CBOR capture file or from Saleae binary digital
exports, and can be received from a capture probe.

Capture input:
  CBOR file: --capture capture.cbor
  Saleae:    --saleae-dir ./export --sample-rate 50e6

Probe connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the ABCC_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	defaults := abcc.DefaultSettings()
	pf := rootCmd.PersistentFlags()

	// Probe connection flags
	pf.StringVarP(&portName, "port", "p", "", "Serial port device of the capture probe")
	pf.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Capture input flags
	pf.StringVarP(&captureFile, "capture", "c", "", "CBOR capture file")
	pf.StringVar(&saleaeDir, "saleae-dir", "", "Directory holding digital_{mosi,miso,clock,enable}.bin exports")
	pf.Float64Var(&sampleRate, "sample-rate", 0, "Sample rate the Saleae exports are resampled at (Hz)")

	// SPI settings flags
	pf.IntVar(&clockPolarity, "cpol", int(defaults.ClockPolarity), "Clock idle level (0 low, 1 high)")
	pf.IntVar(&clockPhase, "cpha", int(defaults.ClockPhase), "Sampling edge (0 leading, 1 trailing)")
	pf.BoolVar(&enableActiveHigh, "enable-active-high", defaults.EnableActiveHigh, "ENABLE is active high")
	pf.BoolVar(&force3Wire, "3wire", false, "Delimit packets by clock idle gaps even if ENABLE is present")
	pf.BoolVar(&force4Wire, "4wire", false, "Require the ENABLE channel")
	pf.DurationVar(&minIdleGap, "min-idle-gap", defaults.MinIdleGap, "Clock idle time separating 3-wire packets")
	pf.DurationVar(&maxClockActive, "max-clock-active", defaults.MaxClockActiveTime, "Longest clock active phase in 3-wire mode")

	// Indexing flags
	pf.StringVar(&indexMessages, "index-messages", "detailed", "Message header indexing (disabled, compact, detailed)")
	pf.StringVar(&indexTimestamps, "index-timestamps", "disabled", "Network time indexing (disabled, all, wr-pd-valid, new-rd-pd)")
	pf.BoolVar(&indexSourceID, "index-source-id", defaults.IndexSourceID, "Index message source IDs")
	pf.BoolVar(&indexErrors, "index-errors", defaults.IndexErrors, "Index error events")
	pf.BoolVar(&indexAnybusStatus, "index-anybus-status", defaults.IndexAnybusStatus, "Index Anybus status changes")
	pf.BoolVar(&indexApplStatus, "index-appl-status", defaults.IndexApplStatus, "Index application status changes")
	pf.StringVar(&msgDataPriority, "msg-priority", "tag", "Message data display priority (data, tag)")
	pf.StringVar(&pdDataPriority, "pd-priority", "tag", "Process data display priority (data, tag)")

	pf.StringVar(&logLevel, "log-level", "warn", "Decoder log level (debug, info, warn, error)")
}

// Execute runs the root command. Long running commands stop when ctx is done.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
