package source

import (
	"os"

	"github.com/jfreymuth/oggvorbis"
)

// VorbisDecoder decodes Ogg Vorbis files.
type VorbisDecoder struct{}

type vorbisSource struct {
	dec *oggvorbis.Reader
}

// Decode prepares a streaming source.
func (VorbisDecoder) Decode(f *os.File) (Source, error) {
	dec, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, err
	}
	return &vorbisSource{dec: dec}, nil
}

func (s *vorbisSource) SampleRate() int { return s.dec.SampleRate() }
func (s *vorbisSource) Channels() int   { return s.dec.Channels() }
func (s *vorbisSource) Close() error    { return nil }

func (s *vorbisSource) ReadSamples(dst []float32) (int, error) {
	// oggvorbis reads already-interleaved float32 samples.
	return s.dec.Read(dst)
}
