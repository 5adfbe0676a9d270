package source

import (
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// MP3Decoder decodes MPEG layer-3 files. go-mp3 always produces
// 16-bit little-endian stereo.
type MP3Decoder struct{}

type mp3Source struct {
	dec        *mp3.Decoder
	sampleRate int
	buf        []byte
}

// Decode prepares a streaming source.
func (MP3Decoder) Decode(f *os.File) (Source, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	return &mp3Source{
		dec:        dec,
		sampleRate: dec.SampleRate(),
	}, nil
}

func (s *mp3Source) SampleRate() int { return s.sampleRate }
func (s *mp3Source) Channels() int   { return 2 }
func (s *mp3Source) Close() error    { return nil }

func (s *mp3Source) ReadSamples(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]

	n, err := s.dec.Read(s.buf)
	if n == 0 && err != nil {
		return 0, err
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
		dst[i] = float32(v) / 32768.0
	}
	return samples, err
}
