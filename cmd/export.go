// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/abccspi/pkg/export"
	"github.com/spf13/cobra"
)

var (
	exportType   string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export decoded results as CSV",
	Long: `Decode a capture and write one of the result tables as CSV.

Tables:
  frames   - every decoded frame with its packet, field, value and flags
  messages - every reassembled message with its header and data
  process  - write and read process data of packets flagging it valid

The table is written to stdout unless --output is given.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportType, "type", "t", "frames", "Table to export (frames, messages, process)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	t, err := export.ParseType(exportType)
	if err != nil {
		return err
	}

	res, _, _, err := decodeInput(cmd.Context())
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		w = f
	}

	if err := export.Write(w, t, res); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if exportOutput != "" {
		fmt.Fprintf(os.Stderr, "Exported %s to %s\n", exportType, exportOutput)
	}
	return nil
}
