// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/Thermoquad/abccspi/pkg/capture"
	"github.com/spf13/cobra"
)

var (
	simOutput     string
	simSaleaeOut  string
	simSampleRate float64
	simBitRate    float64
	simThreeWire  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write a synthetic demo capture",
	Long: `Generate a capture of a simulated ABCC SPI bus.

The demo traffic covers idle packets, a command and its response, a
fragmented write, an error response, process data, a checksum error, a
truncated packet and the retransmissions that follow them. It is written as
a CBOR capture file and optionally as Saleae binary digital exports.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	defaults := abcc.DefaultSimOptions()
	simulateCmd.Flags().StringVarP(&simOutput, "output", "o", "demo.cbor", "CBOR capture file to write")
	simulateCmd.Flags().StringVar(&simSaleaeOut, "saleae-out", "", "Also write Saleae binary exports into this directory")
	simulateCmd.Flags().Float64Var(&simSampleRate, "sim-sample-rate", defaults.SampleRate, "Simulated sample rate (Hz)")
	simulateCmd.Flags().Float64Var(&simBitRate, "sim-bit-rate", defaults.BitRate, "Simulated SPI bit rate (Hz)")
	simulateCmd.Flags().BoolVar(&simThreeWire, "sim-3wire", false, "Omit the ENABLE channel")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	packets, err := abcc.DemoPackets()
	if err != nil {
		return err
	}

	settings, err := buildSettings()
	if err != nil {
		return err
	}

	opts := abcc.DefaultSimOptions()
	opts.Settings = settings
	opts.SampleRate = simSampleRate
	opts.BitRate = simBitRate
	opts.ThreeWire = simThreeWire
	c := abcc.Simulate(packets, opts)

	if err := capture.Save(simOutput, c); err != nil {
		return err
	}
	fmt.Printf("Wrote %d packets (%d samples) to %s\n", len(packets), c.LastSample()+1, simOutput)

	if simSaleaeOut != "" {
		if err := os.MkdirAll(simSaleaeOut, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", simSaleaeOut, err)
		}
		if err := capture.SaveSaleae(capture.SaleaeDir(simSaleaeOut, c.Enable != nil), c); err != nil {
			return err
		}
		fmt.Printf("Wrote Saleae exports to %s (use --sample-rate %.0f)\n", simSaleaeOut, c.SampleRate)
	}

	return nil
}
