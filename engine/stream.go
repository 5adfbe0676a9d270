package engine

import (
	"sync/atomic"

	"github.com/troubadour-audio/troubadour/dsp"
	"github.com/troubadour-audio/troubadour/mixer"
	"github.com/troubadour-audio/troubadour/ring"
)

// StreamState is the lifecycle of one device stream.
type StreamState int32

const (
	StreamUnassigned StreamState = iota
	StreamOpening
	StreamRunning
	StreamClosing
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamUnassigned:
		return "unassigned"
	case StreamOpening:
		return "opening"
	case StreamRunning:
		return "running"
	case StreamClosing:
		return "closing"
	case StreamFailed:
		return "failed"
	}
	return "unknown"
}

// ringCapacity sizes a ring before the device rate is known: four
// engine frames of samples at the highest supported rate ratio, so one
// missed processing tick never drops audio. The ring must exist before
// the stream opens because the callback captures it.
func ringCapacity(frameLen, channels int) int {
	return frameLen * channels * 4 * 5
}

// xrunCounter accumulates ring pressure from the realtime side; the
// engine tick drains it into the metrics hook outside the callback.
type xrunCounter struct {
	n atomic.Uint64
}

func (x *xrunCounter) add(n int) {
	if n > 0 {
		x.n.Add(uint64(n))
	}
}

func (x *xrunCounter) drain() int {
	return int(x.n.Swap(0))
}

// captureStream owns one capture device: the realtime callback writes
// into the ring, the engine tick drains and resamples. The engine
// thread is the only reader, the callback the only writer.
type captureStream struct {
	deviceID string
	state    StreamState
	stream   Stream
	buf      *ring.Buffer
	rs       *dsp.Resampler

	// staging buffers reused every tick, device rate and engine rate
	readBuf []float32
	engBuf  []float32

	// channels fed by this device; they all receive the same block
	channels []mixer.ChannelID

	overrun  xrunCounter
	underrun xrunCounter

	// dead is set by the backend's stop callback when the stream died
	// outside Close; the next tick fails the stream. closing
	// suppresses the callback during an orderly Close.
	dead    atomic.Bool
	closing atomic.Bool
}

// playbackStream owns one playback device: the engine tick resamples
// the device's bus mix into the ring, the realtime callback drains it.
type playbackStream struct {
	deviceID string
	state    StreamState
	stream   Stream
	buf      *ring.Buffer
	rs       *dsp.Resampler

	// mix holds the engine-rate sum of every bus assigned to this
	// device, reused every tick.
	mix []float32

	underrun xrunCounter
	overrun  xrunCounter

	dead    atomic.Bool
	closing atomic.Bool
}

// playerSlot adapts a file player to the capture path: same ring
// discipline, the producer is the player's pump goroutine.
type playerSlot struct {
	path    string
	player  filePlayer
	rs      *dsp.Resampler
	readBuf []float32
	engBuf  []float32
}

// filePlayer is the subset of source.Player the engine consumes,
// injectable in tests.
type filePlayer interface {
	Rate() int
	Ring() *ring.Buffer
	Err() error
	Close() error
}
