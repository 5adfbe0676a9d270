package mixer

import (
	"github.com/troubadour-audio/troubadour/dsp"
)

// Snapshot is an immutable copy of the engine's observable state,
// versioned by a monotonically increasing counter. A given version's
// contents never change; readers keep it as long as they like.
type Snapshot struct {
	Version  uint64            `json:"version"`
	Channels []ChannelSnapshot `json:"channels"`
	Buses    []BusSnapshot     `json:"buses"`
}

// ChannelSnapshot carries one channel's attributes and observables.
type ChannelSnapshot struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	VolumeDB    float64            `json:"volumeDb"`
	Muted       bool               `json:"muted"`
	Solo        bool               `json:"solo"`
	IsMaster    bool               `json:"isMaster"`
	InputDevice string             `json:"inputDevice,omitempty"`
	Source      string             `json:"source,omitempty"`
	BusIDs      []string           `json:"busIds"`
	Effects     []dsp.EffectConfig `json:"effects,omitempty"`
	LevelDB     float64            `json:"levelDb"`
	PeakDB      float64            `json:"peakDb"`
	DeviceErr   string             `json:"deviceError,omitempty"`
}

// BusSnapshot carries one bus's attributes and observables.
type BusSnapshot struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	VolumeDB     float64 `json:"volumeDb"`
	Muted        bool    `json:"muted"`
	OutputDevice string  `json:"outputDevice,omitempty"`
	LevelDB      float64 `json:"levelDb"`
	PeakDB       float64 `json:"peakDb"`
	DeviceErr    string  `json:"deviceError,omitempty"`
}

// Snapshot copies the graph's state at the given version. Meter
// readings reflect the block processed strictly before the call.
func (g *Graph) Snapshot(version uint64, meters *MeterTable) Snapshot {
	snap := Snapshot{Version: version}
	for _, c := range g.Channels() {
		cs := ChannelSnapshot{
			ID:          string(c.ID),
			Name:        c.Name,
			VolumeDB:    float64(c.Gain),
			Muted:       c.Muted,
			Solo:        c.Solo,
			IsMaster:    c.IsMaster,
			InputDevice: c.InputDevice,
			Source:      c.Source,
			Effects:     append([]dsp.EffectConfig(nil), c.Effects...),
			DeviceErr:   c.DeviceErr,
		}
		for _, b := range c.BusIDs() {
			cs.BusIDs = append(cs.BusIDs, string(b))
		}
		if m := meters.Channel(c.ID); m != nil {
			cs.LevelDB = float64(m.Level())
			cs.PeakDB = float64(m.Peak())
		}
		snap.Channels = append(snap.Channels, cs)
	}
	for _, b := range g.Buses() {
		bs := BusSnapshot{
			ID:           string(b.ID),
			Name:         b.Name,
			VolumeDB:     float64(b.Gain),
			Muted:        b.Muted,
			OutputDevice: b.OutputDevice,
			DeviceErr:    b.DeviceErr,
		}
		if m := meters.Bus(b.ID); m != nil {
			bs.LevelDB = float64(m.Level())
			bs.PeakDB = float64(m.Peak())
		}
		snap.Buses = append(snap.Buses, bs)
	}
	return snap
}

// FromSnapshot rebuilds a graph from a snapshot, validating ids,
// names, and routing. dB values are clamped (legacy presets may carry
// narrower or wider ranges). Observables in the snapshot are ignored;
// meters restart from the floor.
func FromSnapshot(snap Snapshot) (*Graph, error) {
	g := &Graph{
		channels: make(map[ChannelID]*Channel),
		buses:    make(map[BusID]*Bus),
	}

	for _, bs := range snap.Buses {
		id, err := ParseBusID(bs.ID)
		if err != nil {
			return nil, err
		}
		if err := ValidateName(bs.Name); err != nil {
			return nil, err
		}
		b, err := g.AddBus(id, bs.Name)
		if err != nil {
			return nil, err
		}
		b.Gain = ClampDecibels(bs.VolumeDB)
		b.Muted = bs.Muted
		b.OutputDevice = bs.OutputDevice
	}

	sawMaster := false
	for _, cs := range snap.Channels {
		id, err := ParseChannelID(cs.ID)
		if err != nil {
			return nil, err
		}
		if err := ValidateName(cs.Name); err != nil {
			return nil, err
		}
		c, err := g.AddChannel(id, cs.Name)
		if err != nil {
			return nil, err
		}
		c.Gain = ClampDecibels(cs.VolumeDB)
		c.Muted = cs.Muted
		c.Solo = cs.Solo
		c.InputDevice = cs.InputDevice
		c.Source = cs.Source
		c.Effects = append([]dsp.EffectConfig(nil), cs.Effects...)
		buses := make([]BusID, 0, len(cs.BusIDs))
		for _, raw := range cs.BusIDs {
			bid, err := ParseBusID(raw)
			if err != nil {
				return nil, err
			}
			buses = append(buses, bid)
		}
		if err := g.SetChannelBuses(id, buses); err != nil {
			return nil, err
		}
		if c.IsMaster {
			sawMaster = true
		}
	}

	// The master channel exists for the engine's entire lifetime; a
	// snapshot without one gets the default.
	if !sawMaster {
		master := NewChannel(MasterID, "Master")
		g.channels[master.ID] = master
		g.chOrder = append(g.chOrder, master.ID)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
