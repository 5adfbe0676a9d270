// Package engine runs the realtime side of the mixer: it owns the
// device streams, the rings between hardware callbacks and the
// processing tick, the sample-rate reconciliation, and the mixer graph
// itself. The control surface mutates the graph through the typed
// methods in commands.go; the tick reads it under the same mutex.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/troubadour-audio/troubadour/dsp"
	"github.com/troubadour-audio/troubadour/mixer"
	"github.com/troubadour-audio/troubadour/ring"
	"github.com/troubadour-audio/troubadour/source"
)

// DeviceError reports a device that could not be opened or whose
// stream failed. The offending assignment has been cleared.
type DeviceError struct {
	DeviceID string
	Op       string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.DeviceID, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// validRates is the supported engine rate set.
var validRates = map[int]bool{44100: true, 48000: true, 88200: true, 96000: true, 192000: true}

// Config fixes the engine's processing format.
type Config struct {
	// SampleRate is the engine rate everything is mixed at. One of
	// 44100, 48000, 88200, 96000, 192000.
	SampleRate int

	// FrameLength is frames per processing tick, a power of two in
	// [64, 4096].
	FrameLength int

	// Channels is the interleaved channel count, 1 or 2.
	Channels int

	// MeterDecay is the peak-hold decay in dB/s.
	MeterDecay float64
}

func (c *Config) validate() error {
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if !validRates[c.SampleRate] {
		return &mixer.ValidationError{Field: "sample-rate", Reason: "unsupported rate"}
	}
	if c.FrameLength == 0 {
		c.FrameLength = 512
	}
	if c.FrameLength < 64 || c.FrameLength > 4096 || c.FrameLength&(c.FrameLength-1) != 0 {
		return &mixer.ValidationError{Field: "frames-per-block", Reason: "must be a power of two in [64, 4096]"}
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.Channels != 1 && c.Channels != 2 {
		return &mixer.ValidationError{Field: "channels", Reason: "must be 1 or 2"}
	}
	if c.MeterDecay == 0 {
		c.MeterDecay = dsp.DefaultPeakDecayDBPerSec
	}
	return nil
}

// TickPeriod is the processing interval: FrameLength / SampleRate.
func (c Config) TickPeriod() time.Duration {
	return time.Duration(float64(c.FrameLength) / float64(c.SampleRate) * float64(time.Second))
}

// Engine ties the graph to the hardware. One mutex guards the graph,
// meters, and effects table; the control surface and the tick goroutine
// are its only contenders. Realtime callbacks never touch it.
type Engine struct {
	cfg     Config
	backend Backend
	reg     *source.Registry
	hook    MetricsHook
	ctrs    *Counters

	mu      sync.Mutex
	graph   *mixer.Graph
	meters  *mixer.MeterTable
	effects map[mixer.ChannelID]*dsp.Chain
	version uint64

	captures  map[string]*captureStream
	playbacks map[string]*playbackStream
	players   map[mixer.ChannelID]*playerSlot

	// per-tick working memory, engine rate
	inputs  map[mixer.ChannelID][]float32
	busOut  map[mixer.BusID][]float32
	scratch []float32

	events chan Event

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a stopped engine. backend may be nil when no hardware
// will ever be assigned (tests, offline rendering).
func New(cfg Config, backend Backend, reg *source.Registry, hooks ...MetricsHook) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = source.DefaultRegistry()
	}
	ctrs := &Counters{}
	all := append(multiHook{ctrs}, hooks...)
	return &Engine{
		cfg:       cfg,
		backend:   backend,
		reg:       reg,
		hook:      all,
		ctrs:      ctrs,
		graph:     mixer.NewGraph(),
		meters:    mixer.NewMeterTable(cfg.MeterDecay),
		effects:   make(map[mixer.ChannelID]*dsp.Chain),
		captures:  make(map[string]*captureStream),
		playbacks: make(map[string]*playbackStream),
		players:   make(map[mixer.ChannelID]*playerSlot),
		inputs:    make(map[mixer.ChannelID][]float32),
		busOut:    make(map[mixer.BusID][]float32),
		scratch:   make([]float32, cfg.FrameLength*cfg.Channels),
		events:    make(chan Event, 64),
	}, nil
}

// Config returns the engine's processing format.
func (e *Engine) Config() Config { return e.cfg }

// Counters exposes the aggregated health metrics.
func (e *Engine) Counters() *Counters { return e.ctrs }

// Events returns the asynchronous notification stream. Undrained
// events are dropped, not queued forever.
func (e *Engine) Events() <-chan Event { return e.events }

// Start launches the processing tick.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("engine is already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(e.stop, e.done)
	return nil
}

// Stop halts the tick and tears down every stream: playback streams
// first, then capture streams, then file players.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ps := range e.playbacks {
		e.closePlaybackLocked(ps)
		delete(e.playbacks, id)
	}
	for id, cs := range e.captures {
		e.closeCaptureLocked(cs)
		delete(e.captures, id)
	}
	for id, slot := range e.players {
		slot.player.Close()
		delete(e.players, id)
	}
}

func (e *Engine) run(stop, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine thread panicked", "panic", r)
			e.emit(FatalEvent{Err: fmt.Sprint(r)})
		}
	}()

	// The tick competes with OS realtime audio threads; pinning it to
	// one OS thread keeps scheduling jitter down.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(e.cfg.TickPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick runs one processing pass: drain input rings, resample, evaluate
// the graph, resample per output device, fill output rings. Exported
// so offline callers and tests can drive the engine without the timer.
func (e *Engine) Tick() {
	start := time.Now()
	period := e.cfg.TickPeriod()

	e.mu.Lock()
	e.checkDeadStreamsLocked()
	e.gatherInputsLocked()
	e.graph.Process(e.inputs, e.effects, e.meters, e.busOut, e.scratch, period)
	e.deliverOutputsLocked()
	e.drainXrunsLocked()
	e.mu.Unlock()

	e.hook.OnTick(time.Since(start))
}

// gatherInputsLocked fills e.inputs with one engine-rate block per fed
// channel. Channels sharing a capture device share the same block; the
// graph copies before processing.
func (e *Engine) gatherInputsLocked() {
	for id := range e.inputs {
		delete(e.inputs, id)
	}
	for _, cs := range e.captures {
		if cs.state != StreamRunning || len(cs.channels) == 0 {
			continue
		}
		block := resampleFromRing(e.cfg, cs.buf, cs.rs, cs.readBuf, cs.engBuf, &cs.underrun)
		for _, ch := range cs.channels {
			e.inputs[ch] = block
		}
	}
	for ch, slot := range e.players {
		block := resampleFromRing(e.cfg, slot.player.Ring(), slot.rs, slot.readBuf, slot.engBuf, nil)
		e.inputs[ch] = block
	}
}

// resampleFromRing drains one engine tick's worth of device-rate
// samples and converts them to the engine rate. Short reads zero-fill
// and count as underrun.
func resampleFromRing(cfg Config, buf *ring.Buffer, rs *dsp.Resampler, readBuf, engBuf []float32, underrun *xrunCounter) []float32 {
	need := rs.InputFramesFor(cfg.FrameLength) * cfg.Channels
	if need > len(readBuf) {
		need = len(readBuf)
	}
	staging := readBuf[:need]
	n := buf.Read(staging)
	if n < need {
		for i := n; i < need; i++ {
			staging[i] = 0
		}
		if underrun != nil {
			underrun.add(need - n)
		}
	}

	out := rs.Process(staging)
	c := copy(engBuf, out)
	for i := c; i < len(engBuf); i++ {
		engBuf[i] = 0
	}
	return engBuf
}

// deliverOutputsLocked sums each playback device's buses at the engine
// rate, resamples to the device rate, clips, and writes the ring.
func (e *Engine) deliverOutputsLocked() {
	for devID, ps := range e.playbacks {
		if ps.state != StreamRunning {
			continue
		}
		for i := range ps.mix {
			ps.mix[i] = 0
		}
		for _, b := range e.graph.Buses() {
			if b.OutputDevice != devID {
				continue
			}
			bus := e.busOut[b.ID]
			for i := range bus {
				ps.mix[i] += bus[i]
			}
		}

		block := ps.rs.Process(ps.mix)
		// Clipping happens only here, at the device boundary.
		for i, s := range block {
			if s > 1 {
				block[i] = 1
			} else if s < -1 {
				block[i] = -1
			}
		}
		n := ps.buf.Write(block)
		ps.overrun.add(len(block) - n)
	}
}

// drainXrunsLocked moves the realtime counters into the metrics hook.
func (e *Engine) drainXrunsLocked() {
	for devID, cs := range e.captures {
		if n := cs.overrun.drain(); n > 0 {
			e.hook.OnOverrun(devID, n)
		}
		if n := cs.underrun.drain(); n > 0 {
			e.hook.OnUnderrun(devID, n)
		}
	}
	for devID, ps := range e.playbacks {
		if n := ps.underrun.drain(); n > 0 {
			e.hook.OnUnderrun(devID, n)
		}
		if n := ps.overrun.drain(); n > 0 {
			e.hook.OnOverrun(devID, n)
		}
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}
