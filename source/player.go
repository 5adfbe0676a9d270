package source

import (
	"io"
	"sync"
	"time"

	"github.com/troubadour-audio/troubadour/ring"
)

// playerChunk is the pump's read granularity in frames.
const playerChunk = 1024

// Player streams a decoded file into a ring buffer on its own
// goroutine, so the engine tick can consume file audio exactly like
// capture audio: read the ring, resample, feed the graph. Mono files
// are upmixed to stereo; the engine always sees interleaved stereo at
// the file's native rate.
type Player struct {
	reg  *Registry
	path string
	loop bool

	src  Source
	rate int
	buf  *ring.Buffer

	stop chan struct{}
	done chan struct{}
	err  atomicError
}

type atomicError struct {
	err error
	m   sync.Mutex
}

func (a *atomicError) TryStore(err error) {
	a.m.Lock()
	defer a.m.Unlock()
	if a.err == nil {
		a.err = err
	}
}

func (a *atomicError) Load() error {
	a.m.Lock()
	defer a.m.Unlock()
	return a.err
}

// NewPlayer opens the file and starts pumping. ringFrames is the ring
// capacity in stereo frames; it should cover at least four engine
// blocks at the file's rate.
func NewPlayer(reg *Registry, path string, ringFrames int, loop bool) (*Player, error) {
	src, err := reg.Open(path)
	if err != nil {
		return nil, err
	}
	p := &Player{
		reg:  reg,
		path: path,
		loop: loop,
		src:  src,
		rate: src.SampleRate(),
		buf:  ring.New(ringFrames * 2),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.pump()
	return p, nil
}

// Rate returns the file's native sample rate.
func (p *Player) Rate() int { return p.rate }

// Ring returns the buffer the engine reads stereo samples from.
func (p *Player) Ring() *ring.Buffer { return p.buf }

// Err returns the first error the pump hit, if any.
func (p *Player) Err() error { return p.err.Load() }

// Close stops the pump and releases the source.
func (p *Player) Close() error {
	close(p.stop)
	<-p.done
	return p.src.Close()
}

func (p *Player) pump() {
	defer close(p.done)

	raw := make([]float32, playerChunk*2)
	stereo := make([]float32, playerChunk*2)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		read := raw
		if p.src.Channels() == 1 {
			read = raw[:playerChunk]
		}
		n, err := p.src.ReadSamples(read)

		if n > 0 {
			out := raw[:n]
			if p.src.Channels() == 1 {
				for i := 0; i < n; i++ {
					stereo[2*i] = raw[i]
					stereo[2*i+1] = raw[i]
				}
				out = stereo[:n*2]
			}
			p.writeAll(out)
		}

		if err != nil {
			if err == io.EOF {
				if p.loop && p.reopen() {
					continue
				}
				return
			}
			p.err.TryStore(err)
			return
		}
	}
}

// writeAll pushes a block into the ring, waiting out a full ring. The
// pump is the only producer, so occupancy only shrinks while we sleep.
func (p *Player) writeAll(block []float32) {
	for len(block) > 0 {
		n := p.buf.Write(block)
		block = block[n:]
		if len(block) == 0 {
			return
		}
		select {
		case <-p.stop:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// reopen restarts the file for looped playback.
func (p *Player) reopen() bool {
	p.src.Close()
	src, err := p.reg.Open(p.path)
	if err != nil {
		p.err.TryStore(err)
		return false
	}
	p.src = src
	return true
}
