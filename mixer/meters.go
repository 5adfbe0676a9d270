package mixer

import "github.com/troubadour-audio/troubadour/dsp"

// MeterTable holds the level meters for every channel and bus. It
// lives outside the Graph so snapshot assembly can copy graph state
// without touching meter internals, and so meters survive
// load-snapshot topology swaps for entities that persist.
type MeterTable struct {
	decay    float64
	channels map[ChannelID]*dsp.Meter
	buses    map[BusID]*dsp.Meter
}

// NewMeterTable creates a table whose meters decay their peaks at
// decayDBPerSec.
func NewMeterTable(decayDBPerSec float64) *MeterTable {
	return &MeterTable{
		decay:    decayDBPerSec,
		channels: make(map[ChannelID]*dsp.Meter),
		buses:    make(map[BusID]*dsp.Meter),
	}
}

// Channel returns the meter for a channel, creating it on first use.
func (t *MeterTable) Channel(id ChannelID) *dsp.Meter {
	m, ok := t.channels[id]
	if !ok {
		m = dsp.NewMeter(t.decay)
		t.channels[id] = m
	}
	return m
}

// Bus returns the meter for a bus, creating it on first use.
func (t *MeterTable) Bus(id BusID) *dsp.Meter {
	m, ok := t.buses[id]
	if !ok {
		m = dsp.NewMeter(t.decay)
		t.buses[id] = m
	}
	return m
}

// RemoveChannel drops a channel's meter.
func (t *MeterTable) RemoveChannel(id ChannelID) {
	delete(t.channels, id)
}

// RemoveBus drops a bus's meter.
func (t *MeterTable) RemoveBus(id BusID) {
	delete(t.buses, id)
}

// Prune drops meters for entities no longer present in the graph.
func (t *MeterTable) Prune(g *Graph) {
	for id := range t.channels {
		if g.Channel(id) == nil {
			delete(t.channels, id)
		}
	}
	for id := range t.buses {
		if g.Bus(id) == nil {
			delete(t.buses, id)
		}
	}
}
