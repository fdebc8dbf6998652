// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/Thermoquad/abccspi/pkg/abcc"
	"github.com/fxamacker/cbor/v2"
)

// Probe stream message types. Every message is a CBOR array
// [msg_type, payload_map]; payload is nil for MsgCaptureEnd.
const (
	MsgCaptureBegin uint8 = 0x01 // {1: sample_rate, 2: enable_present}
	MsgChannelData  uint8 = 0x02 // {1: channel, 2: initial_level, 3: [transitions]}
	MsgCaptureEnd   uint8 = 0x03
)

// Probe stream payload keys
const (
	KeySampleRate    = 1
	KeyEnablePresent = 2

	KeyChannel     = 1
	KeyInitial     = 2
	KeyTransitions = 3
)

// Probe channel numbers
const (
	ChannelMosi = iota
	ChannelMiso
	ChannelClock
	ChannelEnable
)

// ErrNotStarted is returned for channel data or end markers before MsgCaptureBegin
var ErrNotStarted = errors.New("capture data before capture begin")

// ParseMessage parses a probe stream message: [msg_type, payload_map]
// Returns the message type and decoded payload map (nil for empty payloads)
func ParseMessage(data []byte) (msgType uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return 0, nil, fmt.Errorf("message type out of range: %d", v)
		}
		msgType = uint8(v)
	default:
		return 0, nil, fmt.Errorf("expected uint for message type, got %T", msg[0])
	}

	if msg[1] == nil {
		return msgType, nil, nil
	}

	switch v := msg[1].(type) {
	case map[interface{}]interface{}:
		payload = make(map[int]interface{})
		for key, val := range v {
			switch k := key.(type) {
			case uint64:
				payload[int(k)] = val
			case int64:
				payload[int(k)] = val
			default:
				return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
			}
		}
	default:
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}

	return msgType, payload, nil
}

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapFloat extracts a float64 from a CBOR map by key
func GetMapFloat(m map[int]interface{}, key int) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	val, ok := v.(bool)
	return val, ok
}

// GetMapSamples extracts an array of sample indices from a CBOR map by key
func GetMapSamples(m map[int]interface{}, key int) ([]int64, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	if v == nil {
		return nil, true
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]int64, len(arr))
	for i, e := range arr {
		switch val := e.(type) {
		case uint64:
			out[i] = int64(val)
		case int64:
			out[i] = val
		default:
			return nil, false
		}
	}
	return out, true
}

// Assembler rebuilds a Capture from probe stream messages. Channel data may
// arrive in any number of chunks; chunks of one channel must be in order.
type Assembler struct {
	capture *abcc.Capture
}

// Feed processes one message. It returns the finished capture on
// MsgCaptureEnd and nil otherwise.
func (a *Assembler) Feed(msgType uint8, payload map[int]interface{}) (*abcc.Capture, error) {
	switch msgType {
	case MsgCaptureBegin:
		rate, ok := GetMapFloat(payload, KeySampleRate)
		if !ok || rate <= 0 {
			return nil, fmt.Errorf("capture begin without a valid sample rate")
		}
		a.capture = &abcc.Capture{SampleRate: rate}
		if enable, _ := GetMapBool(payload, KeyEnablePresent); enable {
			a.capture.Enable = &abcc.Channel{}
		}
		return nil, nil

	case MsgChannelData:
		if a.capture == nil {
			return nil, ErrNotStarted
		}
		ch, err := a.channel(payload)
		if err != nil {
			return nil, err
		}
		if initial, ok := GetMapBool(payload, KeyInitial); ok {
			ch.Initial = initial
		}
		samples, ok := GetMapSamples(payload, KeyTransitions)
		if !ok {
			return nil, fmt.Errorf("channel data without transitions")
		}
		ch.Transitions = append(ch.Transitions, samples...)
		return nil, nil

	case MsgCaptureEnd:
		if a.capture == nil {
			return nil, ErrNotStarted
		}
		c := a.capture
		a.capture = nil
		return c, nil

	default:
		return nil, fmt.Errorf("unknown probe message type 0x%02X", msgType)
	}
}

func (a *Assembler) channel(payload map[int]interface{}) (*abcc.Channel, error) {
	n, ok := GetMapUint(payload, KeyChannel)
	if !ok {
		return nil, fmt.Errorf("channel data without channel number")
	}
	switch n {
	case ChannelMosi:
		return &a.capture.Mosi, nil
	case ChannelMiso:
		return &a.capture.Miso, nil
	case ChannelClock:
		return &a.capture.Clock, nil
	case ChannelEnable:
		if a.capture.Enable == nil {
			return nil, fmt.Errorf("ENABLE data in a 3-wire capture")
		}
		return a.capture.Enable, nil
	}
	return nil, fmt.Errorf("invalid channel number %d", n)
}

// StreamReader reads successive captures from a probe stream
type StreamReader struct {
	dec  *cbor.Decoder
	a    Assembler
	skip func(error)
}

// NewStreamReader creates a reader of probe messages from r. Malformed
// messages are reported through skip, when non-nil, and ignored.
func NewStreamReader(r io.Reader, skip func(error)) *StreamReader {
	return &StreamReader{dec: cbor.NewDecoder(r), skip: skip}
}

// Next reads messages until a capture is complete. It returns io.EOF when
// the stream ends between captures and io.ErrUnexpectedEOF when it ends
// inside one.
func (sr *StreamReader) Next() (*abcc.Capture, error) {
	for {
		var raw cbor.RawMessage
		if err := sr.dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) && sr.a.capture != nil {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		msgType, payload, err := ParseMessage(raw)
		if err == nil {
			var c *abcc.Capture
			c, err = sr.a.Feed(msgType, payload)
			if c != nil {
				return c, nil
			}
		}
		if err != nil && sr.skip != nil {
			sr.skip(err)
		}
	}
}

// ReadStream reads probe messages from r until one capture is complete.
// Malformed messages are reported through skip, when non-nil, and ignored.
func ReadStream(r io.Reader, skip func(error)) (*abcc.Capture, error) {
	c, err := NewStreamReader(r, skip).Next()
	if errors.Is(err, io.EOF) {
		return nil, io.ErrUnexpectedEOF
	}
	return c, err
}

// WriteStream sends a capture as probe messages, splitting each channel into
// chunks of at most chunk transitions.
func WriteStream(w io.Writer, c *abcc.Capture, chunk int) error {
	if chunk <= 0 {
		chunk = 1024
	}
	enc := cbor.NewEncoder(w)

	begin := map[int]interface{}{
		KeySampleRate:    c.SampleRate,
		KeyEnablePresent: c.Enable != nil,
	}
	if err := enc.Encode([]interface{}{MsgCaptureBegin, begin}); err != nil {
		return err
	}

	chans := []*abcc.Channel{&c.Mosi, &c.Miso, &c.Clock, c.Enable}
	for n, ch := range chans {
		if ch == nil {
			continue
		}
		first := true
		for start := 0; first || start < len(ch.Transitions); start += chunk {
			end := start + chunk
			if end > len(ch.Transitions) {
				end = len(ch.Transitions)
			}
			payload := map[int]interface{}{
				KeyChannel:     n,
				KeyTransitions: ch.Transitions[start:end],
			}
			if first {
				payload[KeyInitial] = ch.Initial
				first = false
			}
			if err := enc.Encode([]interface{}{MsgChannelData, payload}); err != nil {
				return err
			}
		}
	}

	return enc.Encode([]interface{}{MsgCaptureEnd, nil})
}
