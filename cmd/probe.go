// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	tea "github.com/charmbracelet/bubbletea"
)

// connectionLostMsg reports that the probe connection dropped
type connectionLostMsg struct {
	err error
}

// reconnectedMsg reports a restored probe connection
type reconnectedMsg struct {
	connInfo string
}

// probeReader receives captures from a capture probe and decodes them. With
// reconnect set, a dropped connection is reopened with exponential backoff.
type probeReader struct {
	open       func(context.Context) (Connection, string, error)
	dec        *abcc.Decoder
	send       func(tea.Msg)
	reconnect  bool
	backoff    time.Duration
	maxBackoff time.Duration
}

func newProbeReader(open func(context.Context) (Connection, string, error), dec *abcc.Decoder, send func(tea.Msg), reconnect bool) *probeReader {
	return &probeReader{
		open:       open,
		dec:        dec,
		send:       send,
		reconnect:  reconnect,
		backoff:    1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// run reads captures until ctx is done, or until the connection ends when
// reconnection is disabled
func (pr *probeReader) run(ctx context.Context, emit func(*abcc.Results)) error {
	conn, connInfo, err := pr.open(ctx)
	if err != nil {
		return err
	}

	for {
		src := NewCaptureSource(conn, connInfo, func(err error) {
			pr.send(skippedMsg{err: err})
		})
		err := pr.readCaptures(ctx, src, emit)
		src.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !pr.reconnect {
			return err
		}

		if err == nil {
			err = io.EOF
		}
		pr.send(connectionLostMsg{err: err})
		conn, connInfo, err = pr.reopen(ctx)
		if err != nil {
			// Shutdown requested during reconnect
			return nil
		}
		pr.send(reconnectedMsg{connInfo: connInfo})
	}
}

// readCaptures decodes captures from src until it fails. A clean end of
// stream returns nil.
func (pr *probeReader) readCaptures(ctx context.Context, src *CaptureSource, emit func(*abcc.Results)) error {
	for {
		c, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := pr.dec.Decode(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// An unusable capture does not end the session
			pr.send(skippedMsg{err: err})
			continue
		}
		emit(res)
	}
}

// reopen retries the connection with exponential backoff until it succeeds
// or ctx is done
func (pr *probeReader) reopen(ctx context.Context) (Connection, string, error) {
	backoff := pr.backoff
	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff):
		}

		conn, connInfo, err := pr.open(ctx)
		if err == nil {
			return conn, connInfo, nil
		}

		backoff *= 2
		if backoff > pr.maxBackoff {
			backoff = pr.maxBackoff
		}
	}
}
