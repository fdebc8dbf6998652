// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll        bool
	statsInterval  int
	useTUI         bool
	reconnectProbe bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Track packet faults and decode statistics",
	Long: `Decode captures and track protocol faults with running statistics.

Captures come from --capture or --saleae-dir, or are received one after
another from a capture probe given by --port or --url. Every decoded packet
is counted and faults are reported:
  - Checksum errors
  - Fragmentation errors
  - Retransmissions and incomplete packets
  - Sampling faults (settings errors)
  - Error responses

By default, only faulty packets are displayed. Use --show-all to display
every packet. Statistics summaries are printed at the --stats-interval.

A dropped probe connection is reopened with exponential backoff unless
--reconnect=false is given.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just faults)")
	statsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	statsCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	statsCmd.Flags().BoolVar(&reconnectProbe, "reconnect", true, "Reconnect to the probe when the connection drops")
}

// packetMsg carries one decoded packet
type packetMsg struct {
	res    *abcc.Results
	packet abcc.Packet
}

// captureMsg is sent after every packet of a capture has been sent
type captureMsg struct {
	res *abcc.Results
}

// sourceDoneMsg ends the packet source
type sourceDoneMsg struct {
	err error
}

// skippedMsg reports a malformed probe message
type skippedMsg struct {
	err error
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive, got %d", statsInterval)
	}

	dec, err := newDecoder()
	if err != nil {
		return err
	}

	// The probe password is prompted for before the TUI takes the terminal
	var ep *probeEndpoint
	var info string
	if hasConnection() {
		if ep, err = newProbeEndpoint(); err != nil {
			return err
		}
		info = ep.String()
	} else if info, err = inputInfo(); err != nil {
		return err
	}

	if useTUI {
		return runStatsTUI(cmd.Context(), dec, ep, info)
	}
	return runStatsText(cmd.Context(), dec, ep, info)
}

// inputInfo describes the capture input flags
func inputInfo() (string, error) {
	switch {
	case captureFile != "":
		return captureFile, nil
	case saleaeDir != "":
		return saleaeDir, nil
	}
	return "", errNoCapture
}

// streamPackets decodes the selected captures and sends every packet,
// followed by a captureMsg per capture. Captures come from the probe at ep,
// or from the capture input flags when ep is nil. It returns when the input
// is exhausted or ctx is cancelled.
func streamPackets(ctx context.Context, dec *abcc.Decoder, ep *probeEndpoint, send func(tea.Msg)) error {
	emit := func(res *abcc.Results) {
		for _, p := range res.Packets {
			send(packetMsg{res: res, packet: p})
		}
		send(captureMsg{res: res})
	}

	if ep != nil {
		return newProbeReader(ep.Dial, dec, send, reconnectProbe).run(ctx, emit)
	}

	c, _, err := loadCapture()
	if err != nil {
		return err
	}
	res, err := dec.Decode(ctx, c)
	if err != nil {
		return err
	}
	emit(res)
	return nil
}

// addCapture folds the capture totals into the running statistics
func addCapture(stats *abcc.Statistics, res *abcc.Results) {
	stats.Messages += uint64(len(res.Messages))
	stats.Transactions += uint64(len(res.Transactions))
	stats.Duration += res.Duration()
	stats.CalculateRates()
}

// packetIssues lists the faults of a packet. The second result is true
// when the packet is an error rather than a warning.
func packetIssues(res *abcc.Results, p abcc.Packet) ([]string, bool) {
	var issues []string
	for _, f := range res.PacketFrames(p.Index) {
		switch {
		case f.Field == abcc.FieldError:
			issues = append(issues, fmt.Sprintf("%s %s", f.Direction, abcc.ErrorCodeName(f.Data)))
		case f.Event != abcc.EventNone:
			issues = append(issues, fmt.Sprintf("%s %s in %s", f.Direction, f.Event, f.Field))
		}
	}
	for _, m := range res.Messages {
		if m.Packet == p.Index && m.Header.IsError() && len(m.Data) > 0 {
			issues = append(issues, fmt.Sprintf("%s error response: %s", m.Direction, abcc.ErrorResponseName(m.Data[0])))
		}
	}
	if p.Incomplete {
		issues = append(issues, "packet ended early")
	}
	if p.Retransmit {
		issues = append(issues, "retransmission")
	}
	return issues, p.Type.IsError()
}

// printPacketIssues prints the faults of a packet in highlighted format
func printPacketIssues(res *abcc.Results, p abcc.Packet, issues []string, isError bool) {
	at := res.Time(p.Start)
	color := "\033[1;33m"
	if isError {
		color = "\033[1;31m"
	}
	fmt.Printf("[%s] %s%s:\033[0m packet #%d, %d bytes\n", at, color, p.Type, p.Index, p.Bytes)
	for i, issue := range issues {
		fmt.Printf("  Issue %d: %s%s\033[0m\n", i+1, color, issue)
	}
	fmt.Println()
}

// runStatsText runs fault tracking in text mode
func runStatsText(ctx context.Context, dec *abcc.Decoder, ep *probeEndpoint, info string) error {
	fmt.Printf("ABCC SPI - Fault Tracking\n")
	fmt.Printf("Input: %s\n", info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Faults only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := abcc.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	events := make(chan tea.Msg, 64)
	go func() {
		err := streamPackets(ctx, dec, ep, func(msg tea.Msg) { events <- msg })
		events <- sourceDoneMsg{err: err}
	}()

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case packetMsg:
				stats.Update(ev.packet, ev.res.PacketFrames(ev.packet.Index))
				if issues, isError := packetIssues(ev.res, ev.packet); len(issues) > 0 {
					printPacketIssues(ev.res, ev.packet, issues, isError)
				} else if showAll {
					fmt.Println(abcc.FormatPacket(ev.res, ev.packet))
				}

			case captureMsg:
				addCapture(stats, ev.res)
				if ep != nil {
					fmt.Printf("[CAPTURE] %d packets over %s\n\n", len(ev.res.Packets), ev.res.Duration())
				}

			case skippedMsg:
				log.Printf("Skipped: %v", ev.err)

			case connectionLostMsg:
				log.Printf("Connection lost: %v, reconnecting", ev.err)

			case reconnectedMsg:
				log.Printf("Reconnected: %s", ev.connInfo)

			case sourceDoneMsg:
				fmt.Println()
				fmt.Print(stats.String())
				return ev.err
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
