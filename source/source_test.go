package source

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func sleepShort() { time.Sleep(10 * time.Millisecond) }

// writeTestWAV renders a mono 16-bit PCM sine to a temp file and
// returns its path.
func writeTestWAV(t *testing.T, frames, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           make([]int, frames),
	}
	for i := range buf.Data {
		buf.Data[i] = int(16000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegistryUnknownFormat(t *testing.T) {
	reg := DefaultRegistry()
	if _, err := reg.Open("clip.flac"); err == nil {
		t.Error("expected error for unregistered format")
	}
}

func TestRegistryMissingFile(t *testing.T) {
	reg := DefaultRegistry()
	if _, err := reg.Open(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	const frames = 4800
	path := writeTestWAV(t, frames, 48000)

	src, err := DefaultRegistry().Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if src.SampleRate() != 48000 {
		t.Errorf("SampleRate = %d, want 48000", src.SampleRate())
	}
	if src.Channels() != 1 {
		t.Errorf("Channels = %d, want 1", src.Channels())
	}

	var total int
	var peak float32
	buf := make([]float32, 512)
	for {
		n, err := src.ReadSamples(buf)
		for _, s := range buf[:n] {
			if s > peak {
				peak = s
			}
			if s < -1 || s > 1 {
				t.Fatalf("sample %v out of [-1, 1]", s)
			}
		}
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if total != frames {
		t.Errorf("read %d samples, want %d", total, frames)
	}
	// 16000/32768 amplitude sine peaks near 0.49.
	if peak < 0.45 || peak > 0.5 {
		t.Errorf("peak = %v, want ~0.488", peak)
	}
}

func TestPlayerPumpsMonoAsStereo(t *testing.T) {
	const frames = 2000
	path := writeTestWAV(t, frames, 48000)

	p, err := NewPlayer(DefaultRegistry(), path, 8192, false)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if p.Rate() != 48000 {
		t.Errorf("Rate = %d, want 48000", p.Rate())
	}

	// Drain until the whole file arrived: mono upmixed to stereo.
	got := make([]float32, 0, frames*2)
	buf := make([]float32, 1024)
	deadline := 200 // * 10ms
	for len(got) < frames*2 && deadline > 0 {
		n := p.Ring().Read(buf)
		got = append(got, buf[:n]...)
		if n == 0 {
			deadline--
			sleepShort()
		}
	}
	if len(got) < frames*2 {
		t.Fatalf("drained %d samples, want %d", len(got), frames*2)
	}
	for i := 0; i+1 < len(got); i += 2 {
		if got[i] != got[i+1] {
			t.Fatalf("frame %d not duplicated across stereo pair: %v vs %v", i/2, got[i], got[i+1])
		}
	}
	if err := p.Err(); err != nil {
		t.Errorf("player error: %v", err)
	}
}

func TestPlayerLoopRestarts(t *testing.T) {
	const frames = 500
	path := writeTestWAV(t, frames, 48000)

	p, err := NewPlayer(DefaultRegistry(), path, 2048, true)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// A looping player must deliver more samples than one pass holds.
	var total int
	buf := make([]float32, 512)
	deadline := 400
	for total < frames*2*3 && deadline > 0 {
		n := p.Ring().Read(buf)
		total += n
		if n == 0 {
			deadline--
			sleepShort()
		}
	}
	if total < frames*2*3 {
		t.Fatalf("looping player produced %d samples, want at least %d", total, frames*2*3)
	}
}
