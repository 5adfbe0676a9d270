package troubadour

import (
	"encoding/json"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/troubadour-audio/troubadour/internal/testutil"
)

func newTestMixer(t *testing.T) (*Mixer, *testutil.FakeBackend) {
	t.Helper()
	dir := t.TempDir()
	backend := testutil.NewFakeBackend(48000)
	m, err := New(Options{
		ConfigPath: filepath.Join(dir, "troubadour.toml"),
		Backend:    backend,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m, backend
}

func handle(t *testing.T, d *Dispatcher, kind string, params any) Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		raw = b
	}
	return d.Handle(Request{Kind: kind, Params: raw})
}

func TestDefaultTopology(t *testing.T) {
	m, _ := newTestMixer(t)
	snap := m.GetSnapshot()

	// Default startup: input-1..3 + master, buses A1 and A2.
	if len(snap.Channels) != 4 {
		t.Fatalf("%d channels, want 4", len(snap.Channels))
	}
	if len(snap.Buses) != 2 {
		t.Fatalf("%d buses, want 2", len(snap.Buses))
	}
	var master int
	for _, c := range snap.Channels {
		if c.IsMaster {
			master++
		}
	}
	if master != 1 {
		t.Errorf("%d master channels, want 1", master)
	}
}

func TestDispatcherCommandFlow(t *testing.T) {
	m, _ := newTestMixer(t)
	d := NewDispatcher(m)

	res := handle(t, d, KindAddChannel, addParams{ID: "mic", Name: "Mic"})
	if !res.OK {
		t.Fatalf("add-channel failed: %+v", res.Error)
	}

	res = handle(t, d, KindSetVolume, volumeParams{ChannelID: "mic", VolumeDB: -6})
	if !res.OK {
		t.Fatalf("set-volume failed: %+v", res.Error)
	}

	res = handle(t, d, KindToggleMute, channelParams{ChannelID: "mic"})
	if !res.OK || res.Result != true {
		t.Fatalf("toggle-mute = %+v, want muted true", res)
	}

	res = handle(t, d, KindSetChannelBuses, channelBusesParams{ChannelID: "mic", BusIDs: []string{"A1", "A2"}})
	if !res.OK {
		t.Fatalf("set-channel-buses failed: %+v", res.Error)
	}

	res = handle(t, d, KindGetChannelBuses, channelParams{ChannelID: "mic"})
	if !res.OK {
		t.Fatal("get-channel-buses failed")
	}
	if buses := res.Result.([]string); len(buses) != 2 {
		t.Errorf("buses = %v, want 2 entries", buses)
	}

	res = handle(t, d, KindGetChannels, nil)
	if !res.OK {
		t.Fatal("get-channels failed")
	}
}

func TestDispatcherErrors(t *testing.T) {
	m, _ := newTestMixer(t)
	d := NewDispatcher(m)

	tests := []struct {
		name     string
		kind     string
		params   any
		wantKind string
	}{
		{"unknown kind", "reticulate-splines", nil, ErrKindValidation},
		{"bad id", KindAddChannel, addParams{ID: "no spaces!", Name: "X"}, ErrKindValidation},
		{"duplicate id", KindAddChannel, addParams{ID: "input-1", Name: "X"}, ErrKindConflict},
		{"absent channel", KindToggleMute, channelParams{ChannelID: "ghost"}, ErrKindNotFound},
		{"remove master", KindRemoveChannel, channelParams{ChannelID: "master"}, ErrKindConflict},
		{"unknown bus", KindSetChannelBuses, channelBusesParams{ChannelID: "input-1", BusIDs: []string{"A9"}}, ErrKindNotFound},
		{"absent preset", KindLoadPreset, presetParams{Name: "ghost"}, ErrKindNotFound},
		{"missing params", KindSetVolume, nil, ErrKindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := handle(t, d, tt.kind, tt.params)
			if res.OK {
				t.Fatal("expected failure")
			}
			if res.Error.Kind != tt.wantKind {
				t.Errorf("error kind %q, want %q (%s)", res.Error.Kind, tt.wantKind, res.Error.Message)
			}
		})
	}
}

func TestNonFiniteVolumeRejected(t *testing.T) {
	m, _ := newTestMixer(t)
	d := NewDispatcher(m)

	// NaN doesn't survive JSON; exercise the typed path.
	if _, err := m.SetVolume("input-1", nan()); err == nil {
		t.Error("expected ValidationError for NaN volume")
	}

	res := handle(t, d, KindSetVolume, volumeParams{ChannelID: "input-1", VolumeDB: -200})
	if !res.OK {
		t.Fatalf("clamped volume rejected: %+v", res.Error)
	}
	for _, c := range m.GetSnapshot().Channels {
		if c.ID == "input-1" && c.VolumeDB != -60 {
			t.Errorf("volume = %v, want clamped -60", c.VolumeDB)
		}
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestHandleJSON(t *testing.T) {
	m, _ := newTestMixer(t)
	d := NewDispatcher(m)

	out := d.HandleJSON([]byte(`{"kind":"add-channel","params":{"id":"mic","name":"Mic"}}`))
	var res Response
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("response: %+v", res)
	}

	out = d.HandleJSON([]byte(`{not json`))
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Error.Kind != ErrKindValidation {
		t.Errorf("malformed request response: %+v", res)
	}
}

func TestPresetLifecycle(t *testing.T) {
	m, _ := newTestMixer(t)
	d := NewDispatcher(m)

	if !handle(t, d, KindAddChannel, addParams{ID: "mic", Name: "Mic"}).OK {
		t.Fatal("add-channel failed")
	}
	if !handle(t, d, KindSavePreset, presetParams{Name: "live"}).OK {
		t.Fatal("save-preset failed")
	}

	res := handle(t, d, KindListPresets, nil)
	if !res.OK {
		t.Fatal("list-presets failed")
	}
	if names := res.Result.([]string); len(names) != 1 || names[0] != "live" {
		t.Fatalf("presets = %v, want [live]", names)
	}

	// Mutate away from the preset, then restore.
	handle(t, d, KindRemoveChannel, channelParams{ChannelID: "mic"})
	if !handle(t, d, KindLoadPreset, presetParams{Name: "live"}).OK {
		t.Fatal("load-preset failed")
	}
	if _, err := m.GetChannelInputDevice("mic"); err != nil {
		t.Error("preset load did not restore channel mic")
	}

	if !handle(t, d, KindDeletePreset, presetParams{Name: "live"}).OK {
		t.Fatal("delete-preset failed")
	}
}

func TestSaveThenLoadConfigRoundTrip(t *testing.T) {
	m, _ := newTestMixer(t)

	if _, err := m.AddChannel("mic", "Mic"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetVolume("mic", -7.5); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveConfig(); err != nil {
		t.Fatal(err)
	}

	// Drift the live state, then reload from disk.
	if _, err := m.SetVolume("mic", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadConfig(); err != nil {
		t.Fatal(err)
	}
	for _, c := range m.GetSnapshot().Channels {
		if c.ID == "mic" && c.VolumeDB != -7.5 {
			t.Errorf("reloaded volume = %v, want -7.5", c.VolumeDB)
		}
	}
}

// Property 1: under random command sequences, every routed bus id
// exists in the bus table.
func TestRoutingInvariantUnderRandomCommands(t *testing.T) {
	m, _ := newTestMixer(t)
	d := NewDispatcher(m)
	rng := rand.New(rand.NewSource(99))

	chIDs := []string{"c1", "c2", "c3"}
	busIDs := []string{"A1", "A2", "B1", "B2"}

	for i := 0; i < 500; i++ {
		switch rng.Intn(6) {
		case 0:
			handle(t, d, KindAddChannel, addParams{ID: chIDs[rng.Intn(len(chIDs))], Name: "C"})
		case 1:
			handle(t, d, KindRemoveChannel, channelParams{ChannelID: chIDs[rng.Intn(len(chIDs))]})
		case 2:
			id := busIDs[rng.Intn(len(busIDs))]
			m.AddBus(id, id)
		case 3:
			m.RemoveBus(busIDs[rng.Intn(len(busIDs))])
		case 4:
			n := rng.Intn(3)
			set := make([]string, 0, n)
			for j := 0; j < n; j++ {
				set = append(set, busIDs[rng.Intn(len(busIDs))])
			}
			handle(t, d, KindSetChannelBuses, channelBusesParams{
				ChannelID: chIDs[rng.Intn(len(chIDs))],
				BusIDs:    dedupe(set),
			})
		case 5:
			handle(t, d, KindSetVolume, volumeParams{
				ChannelID: chIDs[rng.Intn(len(chIDs))],
				VolumeDB:  rng.Float64()*100 - 80,
			})
		}

		snap := m.GetSnapshot()
		buses := make(map[string]bool, len(snap.Buses))
		for _, b := range snap.Buses {
			buses[b.ID] = true
		}
		for _, c := range snap.Channels {
			for _, b := range c.BusIDs {
				if !buses[b] {
					t.Fatalf("step %d: channel %s routes to unknown bus %s", i, c.ID, b)
				}
			}
		}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool)
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Property 7 at the public surface: version strictly increases across
// a mutation, holds steady without one.
func TestSnapshotVersionContract(t *testing.T) {
	m, _ := newTestMixer(t)

	v1 := m.GetSnapshot().Version
	v2 := m.GetSnapshot().Version
	if v1 != v2 {
		t.Errorf("no mutation but versions %d != %d", v1, v2)
	}

	retVersion, err := m.AddChannel("mic", "Mic")
	if err != nil {
		t.Fatal(err)
	}
	v3 := m.GetSnapshot().Version
	if v3 < retVersion || v3 <= v1 {
		t.Errorf("version did not advance: before %d, returned %d, after %d", v1, retVersion, v3)
	}
}

func TestEndToEndThroughFacade(t *testing.T) {
	m, backend := newTestMixer(t)

	if _, err := m.SetChannelInputDevice("input-1", "mic-dev"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetBusOutputDevice("A1", "spk-dev"); err != nil {
		t.Fatal(err)
	}

	backend.PushCapture("mic-dev", testutil.Const(0.5, 512*2))
	m.Engine().Tick()

	out := make([]float32, 512*2)
	if !backend.PullPlayback("spk-dev", out) {
		t.Fatal("playback stream missing")
	}
	if out[0] != 0.5 {
		t.Errorf("end-to-end sample = %v, want 0.5", out[0])
	}

	// The channel meter shows up in the snapshot.
	for _, c := range m.GetSnapshot().Channels {
		if c.ID == "input-1" && !testutil.ApproxDB(c.LevelDB, -6.02, 0.1) {
			t.Errorf("input-1 level = %v dB, want ~-6.02", c.LevelDB)
		}
	}
}
