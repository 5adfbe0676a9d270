// Package troubadour is a virtual audio mixer: capture from multiple
// input devices, per-channel gain/mute/solo and effects, summing onto
// named buses, and delivery to output devices, with an engine built
// around lock-free rings and a versioned-snapshot control surface.
//
// This package is the high-level API. The Mixer facade wires the
// engine, device enumeration, configuration, and presets together;
// the Dispatcher serializes the command surface for UI transports.
package troubadour

import (
	"log/slog"
	"time"

	"github.com/troubadour-audio/troubadour/config"
	"github.com/troubadour-audio/troubadour/devices"
	"github.com/troubadour-audio/troubadour/dsp"
	"github.com/troubadour-audio/troubadour/engine"
	"github.com/troubadour-audio/troubadour/mixer"
	"github.com/troubadour-audio/troubadour/source"
)

// Snapshot is the immutable, versioned state readers consume.
type Snapshot = mixer.Snapshot

// Options configures a Mixer. The zero value works: default config
// path, real audio backend, rate-limited xrun logging.
type Options struct {
	// ConfigPath locates the TOML document. Defaults to
	// "troubadour.toml" in the working directory.
	ConfigPath string

	// Backend overrides the audio backend, for tests and offline use.
	// When nil the real miniaudio backend is used and enumeration is
	// available.
	Backend engine.Backend

	// Hooks receive engine metrics in addition to the built-ins.
	Hooks []engine.MetricsHook
}

// Mixer owns the engine and its collaborators.
type Mixer struct {
	eng     *engine.Engine
	enum    *devices.Enumerator
	conf    *config.Manager
	presets *config.PresetManager
	watcher *config.Watcher
}

// New builds the mixer: loads (or defaults) the configuration, brings
// up the audio backend, applies the persisted topology, and starts
// watching the preset directory.
func New(opts Options) (*Mixer, error) {
	path := opts.ConfigPath
	if path == "" {
		path = "troubadour.toml"
	}
	conf, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	doc := conf.Current()

	m := &Mixer{conf: conf}

	backend := opts.Backend
	if backend == nil {
		enum, err := devices.NewEnumerator()
		if err != nil {
			conf.Close()
			return nil, err
		}
		m.enum = enum
		backend = engine.NewMalgoBackend(enum)
	}

	hooks := append([]engine.MetricsHook{engine.NewLogHook(time.Second)}, opts.Hooks...)
	eng, err := engine.New(engine.Config{
		SampleRate:  doc.App.PreferredRate,
		FrameLength: doc.App.FramesPerBlock,
		Channels:    doc.Audio.Channels,
		MeterDecay:  doc.App.MeterDecay,
	}, backend, source.DefaultRegistry(), hooks...)
	if err != nil {
		m.teardown()
		return nil, err
	}
	m.eng = eng

	// The persisted topology loads best-effort: a missing device
	// clears its assignment and flags the entity rather than failing
	// startup.
	if _, err := eng.LoadSnapshot(config.ToSnapshot(doc)); err != nil {
		slog.Warn("persisted mixer state rejected, starting empty", "error", err)
	}

	presets, err := config.NewPresetManager(doc.App.PresetDirectory)
	if err != nil {
		m.teardown()
		return nil, err
	}
	m.presets = presets

	watcher, err := config.NewWatcher(presets.Dir(), func(name string) {
		eng.InvalidateSnapshot("preset directory changed")
	})
	if err != nil {
		slog.Warn("preset watcher unavailable", "error", err)
	} else {
		m.watcher = watcher
	}

	return m, nil
}

// Start launches the processing loop.
func (m *Mixer) Start() error { return m.eng.Start() }

// Close shuts everything down in drop order: engine (playback before
// capture streams), watcher, config flush, device handles last.
func (m *Mixer) Close() error {
	if m.eng != nil {
		m.eng.Stop()
	}
	return m.teardown()
}

func (m *Mixer) teardown() error {
	var first error
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil && first == nil {
			first = err
		}
		m.watcher = nil
	}
	if m.conf != nil {
		if err := m.conf.Close(); err != nil && first == nil {
			first = err
		}
		m.conf = nil
	}
	if m.enum != nil {
		if err := m.enum.Close(); err != nil && first == nil {
			first = err
		}
		m.enum = nil
	}
	return first
}

// Engine exposes the underlying engine for advanced callers.
func (m *Mixer) Engine() *engine.Engine { return m.eng }

// Events surfaces device errors and snapshot invalidations.
func (m *Mixer) Events() <-chan engine.Event { return m.eng.Events() }

// GetSnapshot publishes the current state. Never fails.
func (m *Mixer) GetSnapshot() Snapshot { return m.eng.Snapshot() }

// ListAudioDevices returns every device, or an empty list when no
// hardware backend is attached.
func (m *Mixer) ListAudioDevices() ([]devices.AudioDevice, error) {
	if m.enum == nil {
		return nil, nil
	}
	return m.enum.List()
}

// ListInputDevices returns capture-capable devices.
func (m *Mixer) ListInputDevices() ([]devices.AudioDevice, error) {
	if m.enum == nil {
		return nil, nil
	}
	return m.enum.InputDevices()
}

// ListOutputDevices returns playback-capable devices.
func (m *Mixer) ListOutputDevices() ([]devices.AudioDevice, error) {
	if m.enum == nil {
		return nil, nil
	}
	return m.enum.OutputDevices()
}

// AddChannel validates and inserts a channel.
func (m *Mixer) AddChannel(id, name string) (uint64, error) {
	cid, err := mixer.ParseChannelID(id)
	if err != nil {
		return 0, err
	}
	if err := mixer.ValidateName(name); err != nil {
		return 0, err
	}
	return m.eng.AddChannel(cid, name)
}

// RemoveChannel deletes a channel.
func (m *Mixer) RemoveChannel(id string) (uint64, error) {
	return m.eng.RemoveChannel(mixer.ChannelID(id))
}

// SetChannelName renames a channel.
func (m *Mixer) SetChannelName(id, name string) (uint64, error) {
	if err := mixer.ValidateName(name); err != nil {
		return 0, err
	}
	return m.eng.RenameChannel(mixer.ChannelID(id), name)
}

// SetVolume updates channel gain; non-finite input is rejected,
// out-of-range input clamped.
func (m *Mixer) SetVolume(id string, volumeDB float64) (uint64, error) {
	db, err := mixer.ParseDecibels(volumeDB)
	if err != nil {
		return 0, err
	}
	return m.eng.SetChannelVolume(mixer.ChannelID(id), db)
}

// ToggleMute flips a channel's mute flag, returning the new state.
func (m *Mixer) ToggleMute(id string) (bool, uint64, error) {
	return m.eng.ToggleChannelMute(mixer.ChannelID(id))
}

// ToggleSolo flips a channel's solo flag, returning the new state.
func (m *Mixer) ToggleSolo(id string) (bool, uint64, error) {
	return m.eng.ToggleChannelSolo(mixer.ChannelID(id))
}

// SetChannelInputDevice assigns or clears a capture device.
func (m *Mixer) SetChannelInputDevice(id, deviceID string) (uint64, error) {
	return m.eng.SetChannelInputDevice(mixer.ChannelID(id), deviceID)
}

// GetChannelInputDevice reads the assignment.
func (m *Mixer) GetChannelInputDevice(id string) (string, error) {
	return m.eng.ChannelInputDevice(mixer.ChannelID(id))
}

// SetChannelSource assigns or clears a playback file for a channel.
func (m *Mixer) SetChannelSource(id, path string) (uint64, error) {
	return m.eng.SetChannelSource(mixer.ChannelID(id), path)
}

// SetChannelBuses replaces a channel's bus membership.
func (m *Mixer) SetChannelBuses(id string, busIDs []string) (uint64, error) {
	buses := make([]mixer.BusID, 0, len(busIDs))
	for _, raw := range busIDs {
		bid, err := mixer.ParseBusID(raw)
		if err != nil {
			return 0, err
		}
		buses = append(buses, bid)
	}
	return m.eng.SetChannelBuses(mixer.ChannelID(id), buses)
}

// GetChannelBuses reads a channel's membership.
func (m *Mixer) GetChannelBuses(id string) ([]string, error) {
	buses, err := m.eng.ChannelBuses(mixer.ChannelID(id))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(buses))
	for i, b := range buses {
		out[i] = string(b)
	}
	return out, nil
}

// SetChannelEffects replaces a channel's effects chain.
func (m *Mixer) SetChannelEffects(id string, effects []dsp.EffectConfig) (uint64, error) {
	return m.eng.SetChannelEffects(mixer.ChannelID(id), effects)
}

// AddBus validates and inserts a bus.
func (m *Mixer) AddBus(id, name string) (uint64, error) {
	bid, err := mixer.ParseBusID(id)
	if err != nil {
		return 0, err
	}
	if err := mixer.ValidateName(name); err != nil {
		return 0, err
	}
	return m.eng.AddBus(bid, name)
}

// RemoveBus deletes a bus, pruning member channels.
func (m *Mixer) RemoveBus(id string) (uint64, error) {
	return m.eng.RemoveBus(mixer.BusID(id))
}

// SetBusOutputDevice assigns or clears a playback device.
func (m *Mixer) SetBusOutputDevice(id, deviceID string) (uint64, error) {
	return m.eng.SetBusOutputDevice(mixer.BusID(id), deviceID)
}

// SetBusVolume updates bus gain.
func (m *Mixer) SetBusVolume(id string, volumeDB float64) (uint64, error) {
	db, err := mixer.ParseDecibels(volumeDB)
	if err != nil {
		return 0, err
	}
	return m.eng.SetBusVolume(mixer.BusID(id), db)
}

// ToggleBusMute flips a bus's mute flag, returning the new state.
func (m *Mixer) ToggleBusMute(id string) (bool, uint64, error) {
	return m.eng.ToggleBusMute(mixer.BusID(id))
}

// LoadSnapshot replaces the whole graph atomically.
func (m *Mixer) LoadSnapshot(snap Snapshot) (uint64, error) {
	return m.eng.LoadSnapshot(snap)
}

// LoadConfig re-reads the config file and applies its mixer section.
func (m *Mixer) LoadConfig() (uint64, error) {
	doc, err := config.Load(m.conf.Path())
	if err != nil {
		return 0, err
	}
	m.conf.Update(doc)
	return m.eng.LoadSnapshot(config.ToSnapshot(doc))
}

// SaveConfig persists the live state to the config file.
func (m *Mixer) SaveConfig() error {
	doc := config.FromSnapshot(m.eng.Snapshot(), m.conf.Current())
	m.conf.Update(doc)
	return m.conf.Flush()
}

// ListPresets returns the preset name stems.
func (m *Mixer) ListPresets() ([]string, error) {
	return m.presets.List()
}

// SavePreset stores the live state under a preset name.
func (m *Mixer) SavePreset(name string) error {
	doc := config.FromSnapshot(m.eng.Snapshot(), m.conf.Current())
	return m.presets.Save(name, doc)
}

// LoadPreset applies a stored preset to the engine.
func (m *Mixer) LoadPreset(name string) (uint64, error) {
	doc, err := m.presets.Load(name)
	if err != nil {
		return 0, err
	}
	return m.eng.LoadSnapshot(config.ToSnapshot(doc))
}

// DeletePreset removes a stored preset.
func (m *Mixer) DeletePreset(name string) error {
	return m.presets.Delete(name)
}
