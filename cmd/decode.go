// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/Thermoquad/abccspi/pkg/publish"
	"github.com/spf13/cobra"
)

var (
	showFrames   bool
	showMessages bool
	showIndex    bool
	errorsOnly   bool
	publishTo    bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a capture and print its packets",
	Long: `Decode an ABCC SPI capture and print one line per packet.

Each packet line shows the start time, packet index, packet type, byte count
and frame count. Faulty packets are highlighted. Use --frames to list the
decoded fields of every packet, --messages to print reassembled messages and
--index to print the searchable packet index built from the --index-* flags.

With --publish the results are also streamed as CBOR records to the probe
connection given by --port or --url.`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&showFrames, "frames", false, "Print the frames of every packet")
	decodeCmd.Flags().BoolVar(&showMessages, "messages", true, "Print reassembled messages")
	decodeCmd.Flags().BoolVar(&showIndex, "index", false, "Print the packet index")
	decodeCmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Only print packets that carry an alert")
	decodeCmd.Flags().BoolVar(&publishTo, "publish", false, "Publish results to the probe connection")
}

func runDecode(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	res, dec, info, err := decodeInput(ctx)
	if err != nil {
		return err
	}
	settings := dec.Settings()

	fmt.Printf("ABCC SPI Decoder\n")
	fmt.Printf("Input: %s\n", info)
	if res.ThreeWire {
		fmt.Printf("Mode: 3-wire\n\n")
	} else {
		fmt.Printf("Mode: 4-wire\n\n")
	}

	messages := packetMessages(res)
	var entries map[int][]abcc.TabularEntry
	if showIndex {
		entries = packetEntries(res, settings)
	}

	for _, p := range res.Packets {
		frames := res.PacketFrames(p.Index)
		if errorsOnly && !hasAlert(p, frames) {
			continue
		}

		printPacket(res, p)
		if showFrames {
			for _, f := range frames {
				printFrame(f, settings)
			}
		}
		if showMessages {
			for _, m := range messages[p.Index] {
				fmt.Printf("    %s\n", abcc.FormatMessage(m))
				if len(m.Data) > 0 {
					for _, line := range strings.Split(abcc.FormatHexBytes(m.Data), "\n") {
						fmt.Printf("      %s\n", line)
					}
				}
			}
		}
		for _, e := range entries[p.Index] {
			printEntry(e)
		}
	}

	fmt.Println()
	fmt.Print(abcc.Compute(res).String())

	if publishTo {
		conn, connInfo, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := publish.New(conn).Results(res); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		log.Printf("Published %d packets to %s", len(res.Packets), connInfo)
	}

	return nil
}

// packetMessages groups messages by the packet that completed them
func packetMessages(res *abcc.Results) map[int][]abcc.Message {
	out := make(map[int][]abcc.Message)
	for _, m := range res.Messages {
		out[m.Packet] = append(out[m.Packet], m)
	}
	return out
}

// packetEntries groups the tabular index by packet
func packetEntries(res *abcc.Results, s abcc.Settings) map[int][]abcc.TabularEntry {
	out := make(map[int][]abcc.TabularEntry)
	for _, e := range abcc.TabularEntries(res, s) {
		out[e.Packet] = append(out[e.Packet], e)
	}
	return out
}

// hasAlert reports whether a packet is faulty or holds an alert frame
func hasAlert(p abcc.Packet, frames []abcc.Frame) bool {
	if p.Type.IsError() || p.Incomplete || p.Retransmit {
		return true
	}
	for _, f := range frames {
		if f.Alert() {
			return true
		}
	}
	return false
}

// packetColor returns the ANSI color sequence for a packet line
func packetColor(p abcc.Packet) string {
	switch {
	case p.Type.IsError():
		return "\033[1;31m"
	case p.Incomplete || p.Retransmit:
		return "\033[1;33m"
	case p.Type == abcc.PacketNull:
		return "\033[2m"
	default:
		return "\033[1;32m"
	}
}

// printPacket prints a packet header line
func printPacket(res *abcc.Results, p abcc.Packet) {
	fmt.Printf("%s%s\033[0m\n", packetColor(p), abcc.FormatPacket(res, p))
}

// printFrame prints one decoded frame, highlighting alerts
func printFrame(f abcc.Frame, s abcc.Settings) {
	text := abcc.FormatFrame(f, framePriority(s, f))
	if f.Alert() {
		fmt.Printf("    %-4s \033[1;31m%s\033[0m\n", f.Direction, text)
		return
	}
	fmt.Printf("    %-4s %s\n", f.Direction, text)
}

// printEntry prints one packet index entry
func printEntry(e abcc.TabularEntry) {
	if e.Alert {
		fmt.Printf("    \033[1;33m> %s %s\033[0m\n", e.Direction, e.Text)
		return
	}
	fmt.Printf("    > %s %s\n", e.Direction, e.Text)
}
