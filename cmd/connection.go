// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/Thermoquad/abccspi/pkg/capture"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// PasswordEnv holds the probe password for WebSocket basic auth
const PasswordEnv = "ABCC_PASSWORD"

var (
	// ErrConnectionClosed is returned by reads after the probe connection ended
	ErrConnectionClosed = errors.New("probe connection closed")

	errNoProbe = errors.New("either --port or --url must be specified")
)

// Connection is a byte stream to a capture probe
type Connection interface {
	io.ReadWriteCloser
}

//////////////////////////////////////////////////////////////
// Capture Source
//////////////////////////////////////////////////////////////

// CaptureSource yields the captures a probe streams over one connection
type CaptureSource struct {
	conn   Connection
	info   string
	stream *capture.StreamReader
}

// NewCaptureSource reads captures from conn. Malformed probe messages are
// passed to skip, when non-nil, and dropped.
func NewCaptureSource(conn Connection, info string, skip func(error)) *CaptureSource {
	return &CaptureSource{
		conn:   conn,
		info:   info,
		stream: capture.NewStreamReader(conn, skip),
	}
}

// Next blocks until the probe completes a capture. It returns io.EOF when
// the probe ends the stream between captures, and ctx.Err() when ctx is done
// first; the connection is closed in that case.
func (cs *CaptureSource) Next(ctx context.Context) (*abcc.Capture, error) {
	stop := context.AfterFunc(ctx, func() { cs.conn.Close() })
	defer stop()

	c, err := cs.stream.Next()
	switch {
	case err == nil:
		return c, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrConnectionClosed):
		return nil, io.EOF
	}
	return nil, err
}

// Close closes the underlying connection
func (cs *CaptureSource) Close() error {
	return cs.conn.Close()
}

func (cs *CaptureSource) String() string {
	return cs.info
}

//////////////////////////////////////////////////////////////
// Probe Endpoint
//////////////////////////////////////////////////////////////

// probeEndpoint is where a capture probe is reached, resolved once from the
// connection flags so a reconnect does not prompt again
type probeEndpoint struct {
	port     string
	baud     int
	url      string
	username string
	password string
	insecure bool
}

func newProbeEndpoint() (*probeEndpoint, error) {
	if !hasConnection() {
		return nil, errNoProbe
	}
	ep := &probeEndpoint{
		port:     portName,
		baud:     baudRate,
		url:      wsURL,
		username: wsUsername,
		insecure: wsNoSSLVerify,
	}
	if ep.url != "" && ep.username != "" {
		pw, err := GetPassword()
		if err != nil {
			return nil, err
		}
		ep.password = pw
	}
	return ep, nil
}

func (ep *probeEndpoint) String() string {
	if ep.url != "" {
		return "WebSocket: " + ep.url
	}
	return fmt.Sprintf("Serial: %s @ %d baud", ep.port, ep.baud)
}

// Dial opens a connection to the probe
func (ep *probeEndpoint) Dial(ctx context.Context) (Connection, string, error) {
	if ep.url != "" {
		conn, err := OpenWebSocketConnection(ctx, ep.url, ep.username, ep.password, ep.insecure)
		if err != nil {
			return nil, "", err
		}
		return conn, ep.String(), nil
	}

	conn, err := OpenSerialConnection(ep.port, ep.baud)
	if err != nil {
		return nil, "", err
	}
	return conn, ep.String(), nil
}

// hasConnection reports whether a probe connection flag is set
func hasConnection() bool {
	return wsURL != "" || portName != ""
}

// OpenConnection connects to the probe selected by --port or --url
func OpenConnection(ctx context.Context) (Connection, string, error) {
	ep, err := newProbeEndpoint()
	if err != nil {
		return nil, "", err
	}
	return ep.Dial(ctx)
}

//////////////////////////////////////////////////////////////
// Transports
//////////////////////////////////////////////////////////////

// OpenSerialConnection opens the serial port of a probe, 8N1
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// WebSocketConnection reads the binary messages of a WebSocket as one byte
// stream; text messages are ignored. Every Write is one binary message.
type WebSocketConnection struct {
	conn   *websocket.Conn
	msg    io.Reader // binary message being read
	closed bool
}

// NewWebSocketConnection wraps an established WebSocket
func NewWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	return &WebSocketConnection{conn: conn}
}

// Read returns io.EOF once when the peer closes normally and
// ErrConnectionClosed on every later call.
func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for {
		if w.closed {
			return 0, ErrConnectionClosed
		}

		if w.msg != nil {
			n, err := w.msg.Read(p)
			if errors.Is(err, io.EOF) {
				w.msg = nil
				if n == 0 {
					continue
				}
				err = nil
			}
			return n, err
		}

		typ, r, err := w.conn.NextReader()
		if err != nil {
			w.closed = true
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if typ == websocket.BinaryMessage {
			w.msg = r
		}
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the socket
func (w *WebSocketConnection) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}

func basicAuth(username, password string) http.Header {
	h := http.Header{}
	if username != "" && password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		h.Set("Authorization", "Basic "+token)
	}
	return h
}

// OpenWebSocketConnection dials a probe over ws:// or wss://
func OpenWebSocketConnection(ctx context.Context, rawURL, username, password string, insecure bool) (*WebSocketConnection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, basicAuth(username, password))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return NewWebSocketConnection(conn), nil
}

// GetPassword reads the probe password from PasswordEnv, from the terminal
// without echo, or as one line of piped input
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
