package dsp

import (
	"fmt"
	"math"
)

// Effect processes a block of samples in place. Implementations keep
// their own state and must be cheap enough for the engine tick.
type Effect interface {
	Process(buf []float32)
	Reset()
}

// EffectConfig describes one entry of a channel's effects chain. Params
// are effect-specific and clamped into range when the effect is built.
type EffectConfig struct {
	Type   string             `json:"type" toml:"type"`
	Params map[string]float64 `json:"params,omitempty" toml:"params,omitempty"`
}

// Effect type identifiers.
const (
	EffectTrim       = "trim"
	EffectNoiseGate  = "noise_gate"
	EffectCompressor = "compressor"
)

// Chain is an ordered list of effects applied in sequence.
type Chain struct {
	effects []Effect
}

// BuildChain constructs the processors for a list of configurations.
// Unknown effect types are an error; the chain is all-or-nothing.
func BuildChain(configs []EffectConfig, sampleRate int) (*Chain, error) {
	c := &Chain{}
	for i, cfg := range configs {
		eff, err := buildEffect(cfg, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		c.effects = append(c.effects, eff)
	}
	return c, nil
}

func buildEffect(cfg EffectConfig, sampleRate int) (Effect, error) {
	p := func(key string, def float64) float64 {
		if v, ok := cfg.Params[key]; ok {
			return v
		}
		return def
	}
	switch cfg.Type {
	case EffectTrim:
		return NewTrim(p("gain_db", 0)), nil
	case EffectNoiseGate:
		return NewNoiseGate(p("threshold_db", -50)), nil
	case EffectCompressor:
		return NewCompressor(sampleRate,
			p("threshold_db", -18),
			p("ratio", 4),
			p("attack_ms", 10),
			p("release_ms", 100),
			p("makeup_db", 0)), nil
	default:
		return nil, fmt.Errorf("unknown effect type %q", cfg.Type)
	}
}

// Process runs every effect over buf in order.
func (c *Chain) Process(buf []float32) {
	if c == nil {
		return
	}
	for _, e := range c.effects {
		e.Process(buf)
	}
}

// Reset clears the state of every effect in the chain.
func (c *Chain) Reset() {
	if c == nil {
		return
	}
	for _, e := range c.effects {
		e.Reset()
	}
}

// Len returns the number of effects in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.effects)
}

// Trim applies a fixed gain.
type Trim struct {
	gain float32
}

// NewTrim creates a trim stage; gainDB is clamped to [-60, +18].
func NewTrim(gainDB float64) *Trim {
	return &Trim{gain: dbToGain(clamp(gainDB, -60, 18))}
}

func (t *Trim) Process(buf []float32) {
	for i := range buf {
		buf[i] *= t.gain
	}
}

func (t *Trim) Reset() {}

// NoiseGate zeroes samples below an absolute amplitude threshold. The
// comparison is branchless per sample to keep the inner loop flat.
type NoiseGate struct {
	threshold float32
}

// NewNoiseGate creates a gate; thresholdDB is clamped to [-80, 0].
func NewNoiseGate(thresholdDB float64) *NoiseGate {
	return &NoiseGate{threshold: dbToGain(clamp(thresholdDB, -80, 0))}
}

func (g *NoiseGate) Process(buf []float32) {
	th := g.threshold
	for i, s := range buf {
		abs := s
		if abs < 0 {
			abs = -abs
		}
		var keep float32
		if abs >= th {
			keep = 1
		}
		buf[i] = s * keep
	}
}

func (g *NoiseGate) Reset() {}

// Compressor is a feed-forward compressor with an exponential envelope
// follower. Parameters are fixed at construction; the control plane
// rebuilds the chain when configuration changes.
type Compressor struct {
	threshold float32 // linear
	ratio     float32
	attack    float32 // per-sample envelope coefficients
	release   float32
	makeup    float32
	envelope  float32
}

// NewCompressor creates a compressor. thresholdDB is clamped to
// [-60, 0], ratio to [1, 20], attack to [0.1, 500] ms, release to
// [1, 2000] ms, makeupDB to [0, 24].
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float64) *Compressor {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	coeff := func(ms float64) float32 {
		return float32(math.Exp(-1 / (ms / 1000 * float64(sampleRate))))
	}
	return &Compressor{
		threshold: dbToGain(clamp(thresholdDB, -60, 0)),
		ratio:     float32(clamp(ratio, 1, 20)),
		attack:    coeff(clamp(attackMs, 0.1, 500)),
		release:   coeff(clamp(releaseMs, 1, 2000)),
		makeup:    dbToGain(clamp(makeupDB, 0, 24)),
	}
}

func (c *Compressor) Process(buf []float32) {
	for i, s := range buf {
		abs := s
		if abs < 0 {
			abs = -abs
		}

		// Envelope follower: fast rise, slow fall.
		coeff := c.release
		if abs > c.envelope {
			coeff = c.attack
		}
		c.envelope = coeff*c.envelope + (1-coeff)*abs

		gain := float32(1)
		if c.envelope > c.threshold {
			over := c.envelope / c.threshold
			compressed := float32(math.Pow(float64(over), float64(1/c.ratio-1)))
			gain = compressed
		}
		buf[i] = s * gain * c.makeup
	}
}

func (c *Compressor) Reset() {
	c.envelope = 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dbToGain(db float64) float32 {
	if db <= -60 {
		return 0
	}
	return float32(math.Pow(10, db/20))
}
