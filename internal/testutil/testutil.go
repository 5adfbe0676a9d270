// Package testutil holds helpers shared by tests across packages: a
// hardware-free audio backend and small signal generators.
package testutil

import (
	"errors"
	"math"
	"sync"

	"github.com/troubadour-audio/troubadour/engine"
)

// FakeBackend implements engine.Backend without hardware. Tests push
// capture data with PushCapture and pull playback data with
// PullPlayback.
type FakeBackend struct {
	Rate        int
	FailDevices map[string]bool

	mu        sync.Mutex
	captures  map[string]*fakeStream
	playbacks map[string]*fakeStream
}

type fakeStream struct {
	rate   int
	onData func([]float32)
	fill   func([]float32)
	closed bool
}

func (s *fakeStream) SampleRate() int { return s.rate }
func (s *fakeStream) Close() error    { s.closed = true; return nil }

// NewFakeBackend creates a backend whose devices all run at rate.
func NewFakeBackend(rate int) *FakeBackend {
	return &FakeBackend{
		Rate:        rate,
		FailDevices: make(map[string]bool),
		captures:    make(map[string]*fakeStream),
		playbacks:   make(map[string]*fakeStream),
	}
}

func (b *FakeBackend) OpenCapture(deviceID string, _, _ int, onData func([]float32), _ func()) (engine.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailDevices[deviceID] {
		return nil, errors.New("device unavailable")
	}
	s := &fakeStream{rate: b.Rate, onData: onData}
	b.captures[deviceID] = s
	return s, nil
}

func (b *FakeBackend) OpenPlayback(deviceID string, _, _ int, fill func([]float32), _ func()) (engine.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailDevices[deviceID] {
		return nil, errors.New("device unavailable")
	}
	s := &fakeStream{rate: b.Rate, fill: fill}
	b.playbacks[deviceID] = s
	return s, nil
}

// PushCapture feeds samples into an open capture stream as if the
// hardware callback delivered them. Returns false when the device has
// no stream.
func (b *FakeBackend) PushCapture(deviceID string, samples []float32) bool {
	b.mu.Lock()
	s := b.captures[deviceID]
	b.mu.Unlock()
	if s == nil || s.closed {
		return false
	}
	s.onData(samples)
	return true
}

// PullPlayback drains an open playback stream as if the hardware
// callback requested out. Returns false when the device has no stream.
func (b *FakeBackend) PullPlayback(deviceID string, out []float32) bool {
	b.mu.Lock()
	s := b.playbacks[deviceID]
	b.mu.Unlock()
	if s == nil || s.closed {
		return false
	}
	s.fill(out)
	return true
}

// CaptureOpen reports whether a capture stream is currently open.
func (b *FakeBackend) CaptureOpen(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.captures[deviceID]
	return s != nil && !s.closed
}

// PlaybackOpen reports whether a playback stream is currently open.
func (b *FakeBackend) PlaybackOpen(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.playbacks[deviceID]
	return s != nil && !s.closed
}

// Const returns a block of n samples at the given value.
func Const(value float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// ApproxDB reports whether two dB values agree within tol.
func ApproxDB(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
