// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

import (
	"math"
	"sort"
	"time"
)

// Channel is one captured binary signal: its level at sample zero and the
// sample indices at which it toggled. Transitions must be strictly increasing.
type Channel struct {
	Initial     bool
	Transitions []int64
}

// Level returns the signal level at sample s, after any transition at s
func (c *Channel) Level(s int64) bool {
	n := sort.Search(len(c.Transitions), func(i int) bool {
		return c.Transitions[i] > s
	})
	return c.Initial != (n%2 == 1)
}

// NextEdge returns the first transition strictly after sample s
func (c *Channel) NextEdge(s int64) (int64, bool) {
	i := sort.Search(len(c.Transitions), func(i int) bool {
		return c.Transitions[i] > s
	})
	if i == len(c.Transitions) {
		return 0, false
	}
	return c.Transitions[i], true
}

// LastEdge returns the final transition of the channel
func (c *Channel) LastEdge() (int64, bool) {
	if len(c.Transitions) == 0 {
		return 0, false
	}
	return c.Transitions[len(c.Transitions)-1], true
}

// Capture is the four-channel input of the decoder. Enable is nil for
// 3-wire captures.
type Capture struct {
	SampleRate float64 // samples per second

	Mosi   Channel
	Miso   Channel
	Clock  Channel
	Enable *Channel
}

// Samples converts a duration to a sample count at the capture rate
func (c *Capture) Samples(d time.Duration) int64 {
	return int64(math.Round(d.Seconds() * c.SampleRate))
}

// Time converts a sample index to the time since capture start
func (c *Capture) Time(s int64) time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s) / c.SampleRate * float64(time.Second))
}

// LastSample returns the latest transition over all channels
func (c *Capture) LastSample() int64 {
	var last int64
	chans := []*Channel{&c.Mosi, &c.Miso, &c.Clock, c.Enable}
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		if e, ok := ch.LastEdge(); ok && e > last {
			last = e
		}
	}
	return last
}
