package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/troubadour-audio/troubadour/mixer"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	f := Default()
	f.App.AutoSaveIntervalSeconds = 30
	f.Audio.PreferredInputDevice = "usb-mic"
	f.Mixer.Channels[0].VolumeDB = -6.5
	f.Mixer.Channels[0].Muted = true
	f.Mixer.Channels[1].Solo = true
	f.Mixer.Channels[1].InputDevice = "usb-mic"
	f.Mixer.Buses[0].OutputDevice = "speakers"
	f.Mixer.Buses[1].VolumeDB = -12

	path := filepath.Join(t.TempDir(), "troubadour.toml")
	if err := Save(path, f); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f, got) {
		t.Errorf("round trip differs:\nsaved  %+v\nloaded %+v", f, got)
	}
}

func TestLoadHandWrittenDocument(t *testing.T) {
	doc := `
[app]
preferred-rate = 96000
frames-per-block = 256
meter-decay = 12.0
preset-directory = "presets"
auto-save-interval-seconds = 60

[audio]
preferred-input-device = "mic-1"
preferred-output-device = "out-1"
sample-rate = 96000
channels = 2
format = "f32"
buffer-size = 256

[[mixer.channels]]
id = "mic"
name = "Mic"
volume_db = -6.0
muted = false
solo = true
input_device = "mic-1"
bus_ids = ["A1", "A2"]

[[mixer.buses]]
id = "A1"
name = "Speakers"
volume_db = 0.0
muted = false
output_device = "out-1"

[[mixer.buses]]
id = "A2"
name = "Stream"
volume_db = -3.0
muted = true
`
	path := filepath.Join(t.TempDir(), "cfg.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.App.PreferredRate != 96000 || f.App.FramesPerBlock != 256 {
		t.Errorf("app section: %+v", f.App)
	}
	if len(f.Mixer.Channels) != 1 || len(f.Mixer.Buses) != 2 {
		t.Fatalf("mixer section: %d channels, %d buses", len(f.Mixer.Channels), len(f.Mixer.Buses))
	}
	c := f.Mixer.Channels[0]
	if c.ID != "mic" || !c.Solo || c.VolumeDB != -6 || len(c.BusIDs) != 2 {
		t.Errorf("channel entry: %+v", c)
	}
	if f.Mixer.Buses[1].Muted != true || f.Mixer.Buses[1].VolumeDB != -3 {
		t.Errorf("bus entry: %+v", f.Mixer.Buses[1])
	}
}

func TestLoadClampsLegacyVolumes(t *testing.T) {
	doc := `
[[mixer.channels]]
id = "old"
name = "Old"
volume_db = -90.0

[[mixer.buses]]
id = "A1"
name = "A1"
volume_db = 30.0
`
	path := filepath.Join(t.TempDir(), "legacy.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Mixer.Channels[0].VolumeDB != -60 {
		t.Errorf("legacy channel volume = %v, want -60", f.Mixer.Channels[0].VolumeDB)
	}
	if f.Mixer.Buses[0].VolumeDB != 18 {
		t.Errorf("legacy bus volume = %v, want 18", f.Mixer.Buses[0].VolumeDB)
	}
}

func TestSnapshotConversion(t *testing.T) {
	g := mixer.NewGraph()
	g.AddBus("A1", "Main")
	g.AddChannel("mic", "Mic")
	g.SetChannelBuses("mic", []mixer.BusID{"A1"})
	g.SetChannelVolume("mic", -6)
	snap := g.Snapshot(3, mixer.NewMeterTable(12))

	f := FromSnapshot(snap, Default())
	back := ToSnapshot(f)

	rebuilt, err := mixer.FromSnapshot(back)
	if err != nil {
		t.Fatal(err)
	}
	c := rebuilt.Channel("mic")
	if c == nil || c.Gain != -6 || !c.RoutedTo("A1") {
		t.Errorf("snapshot conversion lost channel state: %+v", c)
	}
	if rebuilt.Channel("master") == nil {
		t.Error("master lost in conversion")
	}
}

func TestPresetManager(t *testing.T) {
	pm, err := NewPresetManager(filepath.Join(t.TempDir(), "presets"))
	if err != nil {
		t.Fatal(err)
	}

	names, err := pm.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("fresh dir lists %v", names)
	}

	if err := pm.Save("streaming", Default()); err != nil {
		t.Fatal(err)
	}
	if err := pm.Save("recording", Default()); err != nil {
		t.Fatal(err)
	}

	names, _ = pm.List()
	want := []string{"recording", "streaming"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List = %v, want %v", names, want)
	}

	if _, err := pm.Load("streaming"); err != nil {
		t.Errorf("Load: %v", err)
	}
	if _, err := pm.Load("gone"); err == nil {
		t.Error("Load of missing preset: expected NotFoundError")
	} else if _, ok := err.(*mixer.NotFoundError); !ok {
		t.Errorf("Load error type %T, want *mixer.NotFoundError", err)
	}

	if err := pm.Delete("streaming"); err != nil {
		t.Fatal(err)
	}
	names, _ = pm.List()
	if !reflect.DeepEqual(names, []string{"recording"}) {
		t.Errorf("List after delete = %v", names)
	}

	if err := pm.Delete("gone"); err == nil {
		t.Error("Delete of missing preset: expected error")
	}
}

func TestPresetNameValidation(t *testing.T) {
	pm, err := NewPresetManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"", "../escape", "a/b", "dot.name"} {
		if err := pm.Save(bad, Default()); err == nil {
			t.Errorf("Save(%q): expected validation error", bad)
		}
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	events := make(chan string, 8)
	w, err := NewWatcher(dir, func(name string) { events <- name })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "new.toml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-events:
		if filepath.Base(name) != "new.toml" {
			t.Errorf("event for %q, want new.toml", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no watcher event within 2s")
	}
}

func TestManagerFlushOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	// Nothing dirty yet: no file appears.
	if err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Flush wrote a clean document")
	}

	f := m.Current()
	f.App.PreferredRate = 96000
	m.Update(f)
	if err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.App.PreferredRate != 96000 {
		t.Errorf("flushed rate = %d, want 96000", got.App.PreferredRate)
	}
}
