// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// abccspi - ABCC SPI Protocol Analyzer
//
// A CLI tool for decoding Anybus CompactCom SPI traffic from logic analyzer
// captures in human-readable format.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/abccspi/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
