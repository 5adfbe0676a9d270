package engine

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// MetricsHook allows callers to observe key events and durations in
// the engine. Implementers can log, aggregate metrics, or emit traces.
// All methods are optional; hooks are invoked from the engine thread
// and must not block.
type MetricsHook interface {
	// Tick lifecycle
	OnTick(duration time.Duration)

	// Ring pressure, counted per device
	OnOverrun(deviceID string, droppedSamples int)
	OnUnderrun(deviceID string, missingSamples int)

	// Stream lifecycle
	OnStreamState(deviceID string, from, to StreamState)
}

// NopHook ignores every event. Embed it to implement only part of the
// interface.
type NopHook struct{}

func (NopHook) OnTick(time.Duration)                       {}
func (NopHook) OnOverrun(string, int)                      {}
func (NopHook) OnUnderrun(string, int)                     {}
func (NopHook) OnStreamState(string, StreamState, StreamState) {}

// Counters aggregates engine health numbers for the UI: tick count,
// worst-case tick duration, and overrun/underrun sample totals across
// all devices (not broken down per device). Safe for concurrent reads.
type Counters struct {
	ticks        atomic.Uint64
	maxTickNanos atomic.Int64
	overruns     atomic.Uint64
	underruns    atomic.Uint64
}

func (c *Counters) OnTick(d time.Duration) {
	c.ticks.Add(1)
	for {
		prev := c.maxTickNanos.Load()
		if int64(d) <= prev || c.maxTickNanos.CompareAndSwap(prev, int64(d)) {
			return
		}
	}
}

func (c *Counters) OnOverrun(_ string, dropped int)  { c.overruns.Add(uint64(dropped)) }
func (c *Counters) OnUnderrun(_ string, missing int) { c.underruns.Add(uint64(missing)) }
func (c *Counters) OnStreamState(string, StreamState, StreamState) {}

// Ticks returns the number of completed processing ticks.
func (c *Counters) Ticks() uint64 { return c.ticks.Load() }

// MaxTick returns the longest observed tick duration.
func (c *Counters) MaxTick() time.Duration { return time.Duration(c.maxTickNanos.Load()) }

// Overruns returns the total samples dropped on full rings.
func (c *Counters) Overruns() uint64 { return c.overruns.Load() }

// Underruns returns the total samples zero-filled on empty rings.
func (c *Counters) Underruns() uint64 { return c.underruns.Load() }

// LogHook reports xruns through slog, rate-limited so a wedged device
// cannot flood the log from every tick.
type LogHook struct {
	NopHook
	minGap time.Duration

	lastOver  atomic.Int64
	lastUnder atomic.Int64
}

// NewLogHook creates a hook that logs at most one overrun and one
// underrun message per minGap.
func NewLogHook(minGap time.Duration) *LogHook {
	if minGap <= 0 {
		minGap = time.Second
	}
	return &LogHook{minGap: minGap}
}

func (h *LogHook) OnOverrun(deviceID string, dropped int) {
	if h.allow(&h.lastOver) {
		slog.Warn("ring overrun", "device", deviceID, "dropped", dropped)
	}
}

func (h *LogHook) OnUnderrun(deviceID string, missing int) {
	if h.allow(&h.lastUnder) {
		slog.Warn("ring underrun", "device", deviceID, "missing", missing)
	}
}

func (h *LogHook) OnStreamState(deviceID string, from, to StreamState) {
	slog.Info("stream state", "device", deviceID, "from", from, "to", to)
}

func (h *LogHook) allow(last *atomic.Int64) bool {
	now := time.Now().UnixNano()
	prev := last.Load()
	if now-prev < int64(h.minGap) {
		return false
	}
	return last.CompareAndSwap(prev, now)
}

// multiHook fans events out to several hooks.
type multiHook []MetricsHook

func (m multiHook) OnTick(d time.Duration) {
	for _, h := range m {
		h.OnTick(d)
	}
}

func (m multiHook) OnOverrun(id string, n int) {
	for _, h := range m {
		h.OnOverrun(id, n)
	}
}

func (m multiHook) OnUnderrun(id string, n int) {
	for _, h := range m {
		h.OnUnderrun(id, n)
	}
}

func (m multiHook) OnStreamState(id string, from, to StreamState) {
	for _, h := range m {
		h.OnStreamState(id, from, to)
	}
}
