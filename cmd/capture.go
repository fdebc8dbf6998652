// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/Thermoquad/abccspi/pkg/capture"
	"github.com/spf13/cobra"
)

var (
	captureTimeout int
	captureOutput  string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Receive one capture from a capture probe",
	Long: `Wait for a capture streamed by a probe over serial or WebSocket.

The probe sends a CAPTURE_BEGIN message, CHANNEL_DATA chunks and a
CAPTURE_END message, each a CBOR array. Malformed messages are skipped.
The received capture is written to --output and summarised on stdout.

Exit codes:
  0 - Capture received before timeout
  1 - Timeout reached without receiving a capture
  2 - Connection or stream error`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().IntVar(&captureTimeout, "timeout", 10, "Timeout in seconds to wait for a capture")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "capture.cbor", "CBOR capture file to write")
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	skipped := 0
	src := NewCaptureSource(conn, connInfo, func(error) { skipped++ })
	defer src.Close()

	fmt.Printf("ABCC SPI - Capture\n")
	fmt.Printf("Connection: %s\n", src)
	fmt.Printf("Timeout: %d seconds\n", captureTimeout)
	fmt.Printf("Waiting for capture...\n\n")

	captureChan := make(chan *abcc.Capture, 1)
	errChan := make(chan error, 1)

	go func() {
		c, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("probe closed the stream before a capture: %w", io.ErrUnexpectedEOF)
		}
		if err != nil {
			errChan <- err
			return
		}
		if skipped > 0 {
			fmt.Printf("(skipped %d malformed messages)\n", skipped)
		}
		captureChan <- c
	}()

	select {
	case c := <-captureChan:
		if err := capture.Save(captureOutput, c); err != nil {
			fmt.Fprintf(os.Stderr, "Save error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("SUCCESS: Received capture\n")
		fmt.Printf("  Sample rate: %.0f Hz\n", c.SampleRate)
		fmt.Printf("  Duration: %s\n", c.Time(c.LastSample()))
		fmt.Printf("  Clock edges: %d\n", len(c.Clock.Transitions))
		fmt.Printf("  ENABLE: %t\n", c.Enable != nil)
		fmt.Printf("  Saved to: %s\n", captureOutput)
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Stream error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(captureTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No capture received within %d seconds\n", captureTimeout)
		os.Exit(1)
	}

	return nil
}
