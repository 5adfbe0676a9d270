package dsp

// Resampler converts interleaved blocks of samples from a source rate
// to a destination rate using linear interpolation between adjacent
// source frames. A fractional phase and the last source frame are
// carried across calls so successive blocks join without clicks.
//
// Linear interpolation is intentional: at the block sizes and rate
// ratios the mixer runs, it stays well under the latency budget and the
// artifacts sit below the meter floor.
type Resampler struct {
	srcRate  int
	dstRate  int
	channels int
	step     float64 // source frames advanced per output frame

	// phase is the current read position in source frames, where 0 is
	// the held frame from the previous call and 1 is the first frame of
	// the current block.
	phase  float64
	last   [2]float32
	primed bool

	out []float32
}

// NewResampler creates a resampler for interleaved audio with the given
// channel count (1 or 2).
func NewResampler(srcRate, dstRate, channels int) *Resampler {
	if channels != 1 && channels != 2 {
		channels = 2
	}
	return &Resampler{
		srcRate:  srcRate,
		dstRate:  dstRate,
		channels: channels,
		step:     float64(srcRate) / float64(dstRate),
	}
}

// SourceRate returns the configured source sample rate.
func (r *Resampler) SourceRate() int { return r.srcRate }

// DestinationRate returns the configured destination sample rate.
func (r *Resampler) DestinationRate() int { return r.dstRate }

// Process converts one interleaved block. When the rates match the
// input slice is returned as-is. Otherwise the returned slice is owned
// by the resampler and valid until the next call.
func (r *Resampler) Process(in []float32) []float32 {
	if r.srcRate == r.dstRate {
		return in
	}

	ch := r.channels
	frames := len(in) / ch
	if frames == 0 {
		return nil
	}

	if !r.primed {
		// Seed the held frame with the first input frame; phase 0 then
		// reproduces it exactly, which is the least surprising start.
		for c := 0; c < ch; c++ {
			r.last[c] = in[c]
		}
		r.primed = true
	}

	// Upper bound on output frames for this call.
	need := int(float64(frames)/r.step) + 2
	if cap(r.out) < need*ch {
		r.out = make([]float32, 0, need*ch)
	}
	r.out = r.out[:0]

	// Positions are phase + k*step rather than a running sum, so rounding
	// does not drift and the count matches OutputFrames.
	pos := r.phase
	k := 0
	for pos < float64(frames) {
		i := int(pos)
		frac := float32(pos - float64(i))
		for c := 0; c < ch; c++ {
			var s0 float32
			if i == 0 {
				s0 = r.last[c]
			} else {
				s0 = in[(i-1)*ch+c]
			}
			s1 := in[i*ch+c]
			r.out = append(r.out, s0+(s1-s0)*frac)
		}
		k++
		pos = r.phase + float64(k)*r.step
	}

	r.phase = pos - float64(frames)
	for c := 0; c < ch; c++ {
		r.last[c] = in[(frames-1)*ch+c]
	}
	return r.out
}

// OutputFrames reports how many frames the next Process call will
// produce for an input of the given frame count, given the current
// phase. Deterministic so callers can size ring reads exactly.
func (r *Resampler) OutputFrames(inputFrames int) int {
	if r.srcRate == r.dstRate {
		return inputFrames
	}
	span := float64(inputFrames) - r.phase
	if span <= 0 {
		return 0
	}
	// Number of grid points phase + k*step strictly below inputFrames.
	n := int(span / r.step)
	if r.phase+float64(n)*r.step < float64(inputFrames) {
		n++
	}
	return n
}

// InputFramesFor returns roughly how many source frames are needed to
// produce outputFrames destination frames from the current phase.
func (r *Resampler) InputFramesFor(outputFrames int) int {
	if r.srcRate == r.dstRate {
		return outputFrames
	}
	need := r.phase + float64(outputFrames)*r.step
	n := int(need)
	if float64(n) < need {
		n++
	}
	return n
}

// Reset clears the carried phase and held frame.
func (r *Resampler) Reset() {
	r.phase = 0
	r.primed = false
	r.last = [2]float32{}
}
