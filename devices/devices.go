// Package devices enumerates the host's audio hardware through
// miniaudio (via malgo) and exposes a capability-oriented view of it.
// The stream manager consumes the raw malgo identifiers; everything
// above it deals in the stable string ids defined here.
package devices

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/troubadour-audio/troubadour/mixer"
)

// AudioDevice describes one hardware endpoint. A device that can both
// capture and play appears once with both channel counts set.
type AudioDevice struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	InputChannels   int    `json:"inputChannels"`
	OutputChannels  int    `json:"outputChannels"`
	IsDefaultInput  bool   `json:"isDefaultInput"`
	IsDefaultOutput bool   `json:"isDefaultOutput"`
}

// CanInput reports whether the device can capture audio.
func (d AudioDevice) CanInput() bool { return d.InputChannels > 0 }

// CanOutput reports whether the device can play audio.
func (d AudioDevice) CanOutput() bool { return d.OutputChannels > 0 }

// IsInputOutput reports whether the device is full duplex.
func (d AudioDevice) IsInputOutput() bool { return d.CanInput() && d.CanOutput() }

// Enumerator owns the malgo context and answers device queries. One
// enumerator serves the whole process; streams borrow its context.
type Enumerator struct {
	ctx *malgo.AllocatedContext

	mu sync.Mutex
}

// NewEnumerator initializes the audio backend. Failure here is fatal
// for the process (no audio subsystem).
func NewEnumerator() (*Enumerator, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, err
	}
	return &Enumerator{ctx: ctx}, nil
}

// Context exposes the underlying malgo context for stream creation.
func (e *Enumerator) Context() malgo.Context {
	return e.ctx.Context
}

// Close tears down the audio backend. All streams must be closed
// first; device handles drop after the streams that use them.
func (e *Enumerator) Close() error {
	if err := e.ctx.Uninit(); err != nil {
		return err
	}
	e.ctx.Free()
	return nil
}

// List returns every known device, duplex devices merged into a single
// entry keyed by id.
func (e *Enumerator) List() ([]AudioDevice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	captures, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	playbacks, err := e.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*AudioDevice)
	var order []string

	for _, info := range captures {
		id := info.ID.String()
		d := &AudioDevice{
			ID:             id,
			Name:           info.Name(),
			InputChannels:  2,
			IsDefaultInput: info.IsDefault != 0,
		}
		byID[id] = d
		order = append(order, id)
	}
	for _, info := range playbacks {
		id := info.ID.String()
		if d, ok := byID[id]; ok {
			d.OutputChannels = 2
			d.IsDefaultOutput = info.IsDefault != 0
			continue
		}
		byID[id] = &AudioDevice{
			ID:              id,
			Name:            info.Name(),
			OutputChannels:  2,
			IsDefaultOutput: info.IsDefault != 0,
		}
		order = append(order, id)
	}

	out := make([]AudioDevice, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// InputDevices returns only capture-capable devices.
func (e *Enumerator) InputDevices() ([]AudioDevice, error) {
	return e.filtered(AudioDevice.CanInput)
}

// OutputDevices returns only playback-capable devices.
func (e *Enumerator) OutputDevices() ([]AudioDevice, error) {
	return e.filtered(AudioDevice.CanOutput)
}

func (e *Enumerator) filtered(keep func(AudioDevice) bool) ([]AudioDevice, error) {
	all, err := e.List()
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, d := range all {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// FindCapture resolves a device id to its malgo identity for stream
// creation. Returns a NotFoundError when the id is unknown.
func (e *Enumerator) FindCapture(id string) (malgo.DeviceInfo, error) {
	return e.find(malgo.Capture, id)
}

// FindPlayback resolves a device id for playback stream creation.
func (e *Enumerator) FindPlayback(id string) (malgo.DeviceInfo, error) {
	return e.find(malgo.Playback, id)
}

func (e *Enumerator) find(kind malgo.DeviceType, id string) (malgo.DeviceInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos, err := e.ctx.Devices(kind)
	if err != nil {
		return malgo.DeviceInfo{}, err
	}
	for _, info := range infos {
		if info.ID.String() == id {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, &mixer.NotFoundError{Kind: "device", ID: id}
}
