package engine

import (
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/troubadour-audio/troubadour/devices"
)

// Backend opens hardware streams. The indirection keeps the engine
// testable without audio hardware; production uses the malgo backend,
// tests inject a fake.
type Backend interface {
	// OpenCapture starts delivering interleaved float32 blocks from
	// the device to onData, called on a backend-owned realtime thread.
	// onStop fires when the stream dies outside Close, e.g. the device
	// disappeared; it may run on any thread and must not block.
	OpenCapture(deviceID string, channels, periodFrames int, onData func(samples []float32), onStop func()) (Stream, error)

	// OpenPlayback starts pulling interleaved float32 blocks for the
	// device through fill, called on a backend-owned realtime thread.
	OpenPlayback(deviceID string, channels, periodFrames int, fill func(out []float32), onStop func()) (Stream, error)
}

// Stream is one running hardware stream.
type Stream interface {
	// SampleRate is the device's native rate the stream runs at.
	SampleRate() int
	// Close stops the stream and releases the device.
	Close() error
}

// malgoBackend opens real device streams on the enumerator's context.
type malgoBackend struct {
	enum *devices.Enumerator
}

// NewMalgoBackend creates the production backend.
func NewMalgoBackend(enum *devices.Enumerator) Backend {
	return &malgoBackend{enum: enum}
}

type malgoStream struct {
	dev  *malgo.Device
	rate int
}

func (s *malgoStream) SampleRate() int { return s.rate }

func (s *malgoStream) Close() error {
	s.dev.Uninit()
	return nil
}

func (b *malgoBackend) OpenCapture(deviceID string, channels, periodFrames int, onData func([]float32), onStop func()) (Stream, error) {
	info, err := b.enum.FindCapture(deviceID)
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.Capture.DeviceID = info.ID.Pointer()
	cfg.PeriodSizeInFrames = uint32(periodFrames)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			onData(samplesView(input, int(frameCount)*channels))
		},
		Stop: onStop,
	}
	dev, err := malgo.InitDevice(b.enum.Context(), cfg, callbacks)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, err
	}
	return &malgoStream{dev: dev, rate: int(dev.SampleRate())}, nil
}

func (b *malgoBackend) OpenPlayback(deviceID string, channels, periodFrames int, fill func([]float32), onStop func()) (Stream, error) {
	info, err := b.enum.FindPlayback(deviceID)
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(channels)
	cfg.Playback.DeviceID = info.ID.Pointer()
	cfg.PeriodSizeInFrames = uint32(periodFrames)

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			fill(samplesView(output, int(frameCount)*channels))
		},
		Stop: onStop,
	}
	dev, err := malgo.InitDevice(b.enum.Context(), cfg, callbacks)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, err
	}
	return &malgoStream{dev: dev, rate: int(dev.SampleRate())}, nil
}

// samplesView reinterprets malgo's byte buffer as float32 samples
// without copying or allocating; the view is only valid inside the
// callback.
func samplesView(raw []byte, samples int) []float32 {
	if len(raw) == 0 || samples == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), samples)
}
