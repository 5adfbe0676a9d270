package mixer

import (
	"math"
	"math/rand"
	"testing"
)

func TestParseDecibelsClamping(t *testing.T) {
	tests := []struct {
		in   float64
		want Decibels
	}{
		{0, 0},
		{-6, -6},
		{18, 18},
		{-60, -60},
		{-100, -60},
		{100, 18},
		{18.01, 18},
		{-60.01, -60},
	}
	for _, tt := range tests {
		got, err := ParseDecibels(tt.in)
		if err != nil {
			t.Errorf("ParseDecibels(%v): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDecibels(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDecibelsRejectsNonFinite(t *testing.T) {
	for _, in := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := ParseDecibels(in)
		if err == nil {
			t.Errorf("ParseDecibels(%v): expected ValidationError", in)
			continue
		}
		if _, ok := err.(*ValidationError); !ok {
			t.Errorf("ParseDecibels(%v): error type %T, want *ValidationError", in, err)
		}
	}
}

// Property 2: for finite d, parse-then-read yields clamp(d, -60, +18)
// at the float32 precision Decibels stores.
func TestParseDecibelsClampProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		d := (rng.Float64() - 0.5) * 400
		got, err := ParseDecibels(d)
		if err != nil {
			t.Fatalf("ParseDecibels(%v): %v", d, err)
		}
		want := float64(float32(math.Max(-60, math.Min(18, d))))
		if math.Abs(float64(got)-want) > 1e-6 {
			t.Fatalf("ParseDecibels(%v) = %v, want %v", d, got, want)
		}
	}
}

func TestGainConversion(t *testing.T) {
	tests := []struct {
		db   Decibels
		want float64
		tol  float64
	}{
		{0, 1.0, 0.001},
		{-6, 0.501, 0.001},
		{-20, 0.1, 0.001},
		{6, 1.995, 0.001},
		{18, 7.943, 0.01},
		{-60, 0, 0}, // exactly zero, not 10^-3
	}
	for _, tt := range tests {
		if got := float64(tt.db.Gain()); math.Abs(got-tt.want) > tt.tol {
			t.Errorf("(%v dB).Gain() = %v, want %v", tt.db, got, tt.want)
		}
	}
}

func TestGainToDecibels(t *testing.T) {
	if got := GainToDecibels(1.0); math.Abs(float64(got)) > 0.001 {
		t.Errorf("GainToDecibels(1.0) = %v, want 0", got)
	}
	if got := GainToDecibels(0.5); math.Abs(float64(got)+6.02) > 0.01 {
		t.Errorf("GainToDecibels(0.5) = %v, want -6.02", got)
	}
	if got := GainToDecibels(0); got != MinDecibels {
		t.Errorf("GainToDecibels(0) = %v, want %v", got, MinDecibels)
	}
	if got := GainToDecibels(-1); got != MinDecibels {
		t.Errorf("GainToDecibels(-1) = %v, want %v", got, MinDecibels)
	}
}

func TestGainRoundTrip(t *testing.T) {
	for _, db := range []float64{-59, -40, -20, -6.02, 0, 3, 12, 18} {
		d := ClampDecibels(db)
		back := GainToDecibels(float64(d.Gain()))
		if math.Abs(float64(back)-db) > 0.01 {
			t.Errorf("round trip of %v dB = %v", db, back)
		}
	}
}
