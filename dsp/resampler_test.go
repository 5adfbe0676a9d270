package dsp

import (
	"math"
	"math/rand"
	"testing"
)

func TestResamplerIdentity(t *testing.T) {
	r := NewResampler(48000, 48000, 2)
	in := []float32{1, 2, 3, 4, 5, 6}
	out := r.Process(in)
	if &out[0] != &in[0] {
		t.Error("same-rate resampler should pass the input through")
	}
}

func TestResamplerOutputLength(t *testing.T) {
	// Property: output frame count within 1 of round(N * dst / src),
	// across rate pairs and block sizes, with phase carried.
	rates := []int{44100, 48000, 88200, 96000, 192000}
	sizes := []int{64, 128, 512, 1000}

	for _, src := range rates {
		for _, dst := range rates {
			if src == dst {
				continue
			}
			r := NewResampler(src, dst, 2)
			for _, frames := range sizes {
				in := make([]float32, frames*2)
				out := r.Process(in)
				got := len(out) / 2
				want := float64(frames) * float64(dst) / float64(src)
				if math.Abs(float64(got)-want) > 1 {
					t.Errorf("%d->%d, %d frames: got %d out frames, want %.2f±1",
						src, dst, frames, got, want)
				}
			}
		}
	}
}

func TestResamplerFirstCallLength(t *testing.T) {
	// With zero phase the contract is exactly ceil(N * dst / src).
	r := NewResampler(44100, 48000, 2)
	const frames = 441
	out := r.Process(make([]float32, frames*2))
	want := int(math.Ceil(441.0 * 48000 / 44100))
	if got := len(out) / 2; got != want {
		t.Errorf("got %d frames, want %d", got, want)
	}
}

func TestResamplerOutputFramesPrediction(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := NewResampler(96000, 48000, 2)
	for i := 0; i < 50; i++ {
		frames := 32 + rng.Intn(500)
		predicted := r.OutputFrames(frames)
		out := r.Process(make([]float32, frames*2))
		if got := len(out) / 2; got != predicted {
			t.Fatalf("call %d: OutputFrames predicted %d, Process produced %d", i, predicted, got)
		}
	}
}

func TestResamplerContinuity(t *testing.T) {
	// Resampling a ramp in two chunks must produce a monotonic ramp
	// with no discontinuity at the chunk boundary.
	r := NewResampler(48000, 44100, 1)

	const frames = 200
	ramp := make([]float32, frames)
	for i := range ramp {
		ramp[i] = float32(i)
	}

	var joined []float32
	joined = append(joined, r.Process(ramp[:frames/2])...)
	joined = append(joined, r.Process(ramp[frames/2:])...)

	for i := 1; i < len(joined); i++ {
		delta := joined[i] - joined[i-1]
		if delta < 0 || delta > 2.5 {
			t.Fatalf("ramp discontinuity at %d: %v -> %v", i, joined[i-1], joined[i])
		}
	}
}

func TestResamplerUpsampleInterpolates(t *testing.T) {
	r := NewResampler(48000, 96000, 1)
	out := r.Process([]float32{0, 1})
	// Doubling the rate must place interpolated values between the
	// source samples, all within [0, 1].
	for i, s := range out {
		if s < 0 || s > 1 {
			t.Errorf("out[%d] = %v, outside source range", i, s)
		}
	}
}

func TestResamplerReset(t *testing.T) {
	r := NewResampler(44100, 48000, 2)
	r.Process(make([]float32, 100))
	r.Reset()
	if r.phase != 0 || r.primed {
		t.Error("Reset did not clear phase and held frame")
	}

	// After reset the first-call length contract holds again.
	out := r.Process(make([]float32, 441*2))
	want := int(math.Ceil(441.0 * 48000 / 44100))
	if got := len(out) / 2; got != want {
		t.Errorf("post-reset: got %d frames, want %d", got, want)
	}
}

func TestResamplerInputFramesFor(t *testing.T) {
	r := NewResampler(44100, 48000, 2)
	need := r.InputFramesFor(512)
	// 512 output frames at 44.1->48 needs about 470 input frames.
	if need < 469 || need > 472 {
		t.Errorf("InputFramesFor(512) = %d, want ~470", need)
	}
}
