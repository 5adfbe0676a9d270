// Package config persists engine state as a TOML document and manages
// the preset directory. The document round-trips any snapshot the
// engine can emit; loading clamps legacy values into today's ranges
// instead of rejecting them.
package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/troubadour-audio/troubadour/dsp"
	"github.com/troubadour-audio/troubadour/mixer"
)

// Defaults for a file that omits the [app] section.
const (
	DefaultPreferredRate   = 48000
	DefaultFramesPerBlock  = 512
	DefaultMeterDecay      = 12.0
	DefaultPresetDirectory = "presets"
)

// File is the on-disk document.
type File struct {
	App   AppSettings   `toml:"app"`
	Audio AudioSettings `toml:"audio"`
	Mixer MixerSection  `toml:"mixer"`
}

// AppSettings is the [app] section: engine-wide settings.
type AppSettings struct {
	PreferredRate           int     `toml:"preferred-rate"`
	FramesPerBlock          int     `toml:"frames-per-block"`
	MeterDecay              float64 `toml:"meter-decay"`
	PresetDirectory         string  `toml:"preset-directory"`
	AutoSaveIntervalSeconds int     `toml:"auto-save-interval-seconds"`
}

// AudioSettings is the [audio] section: preferred devices and the
// stream configuration.
type AudioSettings struct {
	PreferredInputDevice  string `toml:"preferred-input-device"`
	PreferredOutputDevice string `toml:"preferred-output-device"`
	SampleRate            int    `toml:"sample-rate"`
	Channels              int    `toml:"channels"`
	Format                string `toml:"format"`
	BufferSize            int    `toml:"buffer-size"`
}

// MixerSection holds the [[mixer.channels]] and [[mixer.buses]]
// entries.
type MixerSection struct {
	Channels []ChannelEntry `toml:"channels"`
	Buses    []BusEntry     `toml:"buses"`
}

// ChannelEntry is one [[mixer.channels]] table.
type ChannelEntry struct {
	ID          string             `toml:"id"`
	Name        string             `toml:"name"`
	VolumeDB    float64            `toml:"volume_db"`
	Muted       bool               `toml:"muted"`
	Solo        bool               `toml:"solo"`
	InputDevice string             `toml:"input_device,omitempty"`
	Source      string             `toml:"source,omitempty"`
	BusIDs      []string           `toml:"bus_ids"`
	Effects     []dsp.EffectConfig `toml:"effects,omitempty"`
}

// BusEntry is one [[mixer.buses]] table.
type BusEntry struct {
	ID           string  `toml:"id"`
	Name         string  `toml:"name"`
	VolumeDB     float64 `toml:"volume_db"`
	Muted        bool    `toml:"muted"`
	OutputDevice string  `toml:"output_device,omitempty"`
}

// Default returns the configuration used when no file exists yet: the
// startup topology is three inputs plus master, buses A1 and A2, every
// input routed to A1.
func Default() File {
	f := File{
		App: AppSettings{
			PreferredRate:   DefaultPreferredRate,
			FramesPerBlock:  DefaultFramesPerBlock,
			MeterDecay:      DefaultMeterDecay,
			PresetDirectory: DefaultPresetDirectory,
		},
		Audio: AudioSettings{
			SampleRate: DefaultPreferredRate,
			Channels:   2,
			Format:     "f32",
			BufferSize: DefaultFramesPerBlock,
		},
	}
	f.Mixer.Buses = []BusEntry{
		{ID: "A1", Name: "A1"},
		{ID: "A2", Name: "A2"},
	}
	for i := 1; i <= 3; i++ {
		id := "input-" + string(rune('0'+i))
		f.Mixer.Channels = append(f.Mixer.Channels, ChannelEntry{
			ID:     id,
			Name:   "Input " + string(rune('0'+i)),
			BusIDs: []string{"A1"},
		})
	}
	f.Mixer.Channels = append(f.Mixer.Channels, ChannelEntry{
		ID:   "master",
		Name: "Master",
	})
	f.normalize()
	return f
}

// normalize fills zero-valued settings with defaults and clamps every
// dB field. Legacy presets saved with a narrower or wider volume range
// load by clamping.
func (f *File) normalize() {
	if f.App.PreferredRate == 0 {
		f.App.PreferredRate = DefaultPreferredRate
	}
	if f.App.FramesPerBlock == 0 {
		f.App.FramesPerBlock = DefaultFramesPerBlock
	}
	if f.App.MeterDecay == 0 {
		f.App.MeterDecay = DefaultMeterDecay
	}
	if f.App.PresetDirectory == "" {
		f.App.PresetDirectory = DefaultPresetDirectory
	}
	if f.Audio.SampleRate == 0 {
		f.Audio.SampleRate = f.App.PreferredRate
	}
	if f.Audio.Channels == 0 {
		f.Audio.Channels = 2
	}
	if f.Audio.Format == "" {
		f.Audio.Format = "f32"
	}
	if f.Audio.BufferSize == 0 {
		f.Audio.BufferSize = f.App.FramesPerBlock
	}
	for i := range f.Mixer.Channels {
		c := &f.Mixer.Channels[i]
		c.VolumeDB = float64(mixer.ClampDecibels(c.VolumeDB))
		if c.BusIDs == nil {
			c.BusIDs = []string{}
		}
	}
	for i := range f.Mixer.Buses {
		b := &f.Mixer.Buses[i]
		b.VolumeDB = float64(mixer.ClampDecibels(b.VolumeDB))
	}
}

// Load reads and normalizes a document.
func Load(path string) (File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return File{}, err
	}
	f.normalize()
	return f, nil
}

// Save writes the document, creating parent directories as needed.
// The write goes through a temp file and rename so a crash never
// leaves a half-written config.
func Save(path string, f File) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// FromSnapshot converts engine state to a document, carrying app and
// audio settings over from the previous document.
func FromSnapshot(snap mixer.Snapshot, prev File) File {
	f := File{App: prev.App, Audio: prev.Audio}
	for _, c := range snap.Channels {
		f.Mixer.Channels = append(f.Mixer.Channels, ChannelEntry{
			ID:          c.ID,
			Name:        c.Name,
			VolumeDB:    c.VolumeDB,
			Muted:       c.Muted,
			Solo:        c.Solo,
			InputDevice: c.InputDevice,
			Source:      c.Source,
			BusIDs:      c.BusIDs,
			Effects:     c.Effects,
		})
	}
	for _, b := range snap.Buses {
		f.Mixer.Buses = append(f.Mixer.Buses, BusEntry{
			ID:           b.ID,
			Name:         b.Name,
			VolumeDB:     b.VolumeDB,
			Muted:        b.Muted,
			OutputDevice: b.OutputDevice,
		})
	}
	return f
}

// ToSnapshot converts a document to the snapshot shape load-snapshot
// accepts. The version is zero; the engine stamps its own.
func ToSnapshot(f File) mixer.Snapshot {
	var snap mixer.Snapshot
	for _, c := range f.Mixer.Channels {
		snap.Channels = append(snap.Channels, mixer.ChannelSnapshot{
			ID:          c.ID,
			Name:        c.Name,
			VolumeDB:    c.VolumeDB,
			Muted:       c.Muted,
			Solo:        c.Solo,
			InputDevice: c.InputDevice,
			Source:      c.Source,
			BusIDs:      c.BusIDs,
			Effects:     c.Effects,
		})
	}
	for _, b := range f.Mixer.Buses {
		snap.Buses = append(snap.Buses, mixer.BusSnapshot{
			ID:           b.ID,
			Name:         b.Name,
			VolumeDB:     b.VolumeDB,
			Muted:        b.Muted,
			OutputDevice: b.OutputDevice,
		})
	}
	return snap
}
