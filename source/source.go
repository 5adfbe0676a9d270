// Package source provides streaming PCM sources for channel playback:
// a channel can be fed from an audio file instead of a capture device.
// Decoders are registered per format; a Player pumps a decoded source
// into the channel's input ring off the realtime path.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Source is a stream of interleaved float32 PCM in [-1, 1].
type Source interface {
	// SampleRate of the stream in Hz.
	SampleRate() int
	// Channels count (1 = mono, 2 = stereo).
	Channels() int
	// ReadSamples fills dst with interleaved samples and returns the
	// number of float32 values written. io.EOF with n == 0 ends the
	// stream.
	ReadSamples(dst []float32) (int, error)
	// Close releases any resources.
	Close() error
}

// Decoder constructs a Source from an open file.
type Decoder interface {
	Decode(f *os.File) (Source, error)
}

// Registry maps file extensions to decoders.
type Registry struct {
	mtx    sync.Mutex
	codecs map[string]Decoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry returns a registry with every built-in format.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", WAVDecoder{})
	r.Register("mp3", MP3Decoder{})
	r.Register("ogg", VorbisDecoder{})
	return r
}

// Register adds or replaces the decoder for an extension (without dot).
func (r *Registry) Register(ext string, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.codecs[strings.ToLower(ext)] = d
}

// Get returns the decoder for an extension.
func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	d, ok := r.codecs[strings.ToLower(ext)]
	return d, ok
}

// Open decodes the file at path, choosing the decoder by extension.
// The returned source owns the file handle.
func (r *Registry) Open(path string) (Source, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	dec, ok := r.Get(ext)
	if !ok {
		return nil, fmt.Errorf("unsupported audio format %q", ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := dec.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &closingSource{Source: src, f: f}, nil
}

// closingSource closes the underlying file together with the source.
type closingSource struct {
	Source
	f *os.File
}

func (c *closingSource) Close() error {
	err := c.Source.Close()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}
