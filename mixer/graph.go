package mixer

import (
	"sort"
	"time"

	"github.com/troubadour-audio/troubadour/dsp"
)

// Graph owns the channel table, the bus table, and the routing edges
// between them (stored as each channel's bus membership). Mutations are
// pure and synchronous; Process is the single hot-path operation.
//
// The graph is not safe for concurrent use. The engine serializes
// access: commands apply between processing ticks under one mutex.
type Graph struct {
	channels map[ChannelID]*Channel
	buses    map[BusID]*Bus

	// Iteration order for deterministic processing and snapshots.
	chOrder  []ChannelID
	busOrder []BusID
}

// NewGraph creates an empty graph with a master channel, which exists
// for the engine's entire lifetime.
func NewGraph() *Graph {
	g := &Graph{
		channels: make(map[ChannelID]*Channel),
		buses:    make(map[BusID]*Bus),
	}
	master := NewChannel(MasterID, "Master")
	g.channels[master.ID] = master
	g.chOrder = append(g.chOrder, master.ID)
	return g
}

// Channel returns the channel with the given id, or nil.
func (g *Graph) Channel(id ChannelID) *Channel {
	return g.channels[id]
}

// Bus returns the bus with the given id, or nil.
func (g *Graph) Bus(id BusID) *Bus {
	return g.buses[id]
}

// Channels returns the channels in insertion order.
func (g *Graph) Channels() []*Channel {
	out := make([]*Channel, 0, len(g.chOrder))
	for _, id := range g.chOrder {
		out = append(out, g.channels[id])
	}
	return out
}

// Buses returns the buses in insertion order.
func (g *Graph) Buses() []*Bus {
	out := make([]*Bus, 0, len(g.busOrder))
	for _, id := range g.busOrder {
		out = append(out, g.buses[id])
	}
	return out
}

// AnySolo reports whether any unmuted channel has solo set.
func (g *Graph) AnySolo() bool {
	for _, c := range g.channels {
		if c.Solo && !c.Muted {
			return true
		}
	}
	return false
}

// AddChannel inserts a channel with default settings.
func (g *Graph) AddChannel(id ChannelID, name string) (*Channel, error) {
	if _, exists := g.channels[id]; exists {
		return nil, &ConflictError{Kind: "channel", ID: string(id), Reason: "id already exists"}
	}
	c := NewChannel(id, name)
	if c.IsMaster && g.masterChannel() != nil {
		return nil, &ConflictError{Kind: "channel", ID: string(id), Reason: "a master channel already exists"}
	}
	g.channels[id] = c
	g.chOrder = append(g.chOrder, id)
	return c, nil
}

// RemoveChannel deletes a channel and its routing edges. The master
// channel cannot be removed.
func (g *Graph) RemoveChannel(id ChannelID) error {
	c, ok := g.channels[id]
	if !ok {
		return &NotFoundError{Kind: "channel", ID: string(id)}
	}
	if c.IsMaster {
		return &ConflictError{Kind: "channel", ID: string(id), Reason: "master channel cannot be removed"}
	}
	delete(g.channels, id)
	for i, cid := range g.chOrder {
		if cid == id {
			g.chOrder = append(g.chOrder[:i], g.chOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RenameChannel updates the display name. Master status is fixed at
// creation; renaming never grants or revokes it.
func (g *Graph) RenameChannel(id ChannelID, name string) error {
	c, ok := g.channels[id]
	if !ok {
		return &NotFoundError{Kind: "channel", ID: string(id)}
	}
	c.Name = name
	return nil
}

// SetChannelInput assigns or clears (empty string) the capture device.
// Device existence is the engine's concern; the graph stores the id.
func (g *Graph) SetChannelInput(id ChannelID, deviceID string) error {
	c, ok := g.channels[id]
	if !ok {
		return &NotFoundError{Kind: "channel", ID: string(id)}
	}
	c.InputDevice = deviceID
	c.DeviceErr = ""
	return nil
}

// SetChannelSource assigns or clears a playback file for the channel.
func (g *Graph) SetChannelSource(id ChannelID, path string) error {
	c, ok := g.channels[id]
	if !ok {
		return &NotFoundError{Kind: "channel", ID: string(id)}
	}
	c.Source = path
	return nil
}

// SetChannelBuses replaces the channel's bus membership. Every bus in
// the new set must exist.
func (g *Graph) SetChannelBuses(id ChannelID, buses []BusID) error {
	c, ok := g.channels[id]
	if !ok {
		return &NotFoundError{Kind: "channel", ID: string(id)}
	}
	for _, b := range buses {
		if _, ok := g.buses[b]; !ok {
			return &NotFoundError{Kind: "bus", ID: string(b)}
		}
	}
	c.Buses = make(map[BusID]struct{}, len(buses))
	for _, b := range buses {
		c.Buses[b] = struct{}{}
	}
	return nil
}

// SetChannelVolume updates channel gain. The value is already clamped
// by the Decibels type.
func (g *Graph) SetChannelVolume(id ChannelID, db Decibels) error {
	c, ok := g.channels[id]
	if !ok {
		return &NotFoundError{Kind: "channel", ID: string(id)}
	}
	c.Gain = db
	return nil
}

// ToggleChannelMute flips the mute flag, returning the new state.
func (g *Graph) ToggleChannelMute(id ChannelID) (bool, error) {
	c, ok := g.channels[id]
	if !ok {
		return false, &NotFoundError{Kind: "channel", ID: string(id)}
	}
	c.Muted = !c.Muted
	return c.Muted, nil
}

// ToggleChannelSolo flips the solo flag, returning the new state. Solo
// is not exclusive; any number of channels may solo at once.
func (g *Graph) ToggleChannelSolo(id ChannelID) (bool, error) {
	c, ok := g.channels[id]
	if !ok {
		return false, &NotFoundError{Kind: "channel", ID: string(id)}
	}
	c.Solo = !c.Solo
	return c.Solo, nil
}

// SetChannelEffects replaces the channel's effects chain configuration.
func (g *Graph) SetChannelEffects(id ChannelID, effects []dsp.EffectConfig) error {
	c, ok := g.channels[id]
	if !ok {
		return &NotFoundError{Kind: "channel", ID: string(id)}
	}
	c.Effects = append([]dsp.EffectConfig(nil), effects...)
	return nil
}

// AddBus inserts a bus with default settings.
func (g *Graph) AddBus(id BusID, name string) (*Bus, error) {
	if _, exists := g.buses[id]; exists {
		return nil, &ConflictError{Kind: "bus", ID: string(id), Reason: "id already exists"}
	}
	b := NewBus(id, name)
	g.buses[id] = b
	g.busOrder = append(g.busOrder, id)
	return b, nil
}

// RemoveBus deletes a bus and prunes it from every channel's
// membership. Removing a bus that channels still reference is allowed;
// the members are silently pruned.
func (g *Graph) RemoveBus(id BusID) error {
	if _, ok := g.buses[id]; !ok {
		return &NotFoundError{Kind: "bus", ID: string(id)}
	}
	delete(g.buses, id)
	for i, bid := range g.busOrder {
		if bid == id {
			g.busOrder = append(g.busOrder[:i], g.busOrder[i+1:]...)
			break
		}
	}
	for _, c := range g.channels {
		delete(c.Buses, id)
	}
	return nil
}

// SetBusOutput assigns or clears (empty string) the playback device.
func (g *Graph) SetBusOutput(id BusID, deviceID string) error {
	b, ok := g.buses[id]
	if !ok {
		return &NotFoundError{Kind: "bus", ID: string(id)}
	}
	b.OutputDevice = deviceID
	b.DeviceErr = ""
	return nil
}

// SetBusVolume updates bus gain.
func (g *Graph) SetBusVolume(id BusID, db Decibels) error {
	b, ok := g.buses[id]
	if !ok {
		return &NotFoundError{Kind: "bus", ID: string(id)}
	}
	b.Gain = db
	return nil
}

// ToggleBusMute flips the bus mute flag, returning the new state.
func (g *Graph) ToggleBusMute(id BusID) (bool, error) {
	b, ok := g.buses[id]
	if !ok {
		return false, &NotFoundError{Kind: "bus", ID: string(id)}
	}
	b.Muted = !b.Muted
	return b.Muted, nil
}

func (g *Graph) masterChannel() *Channel {
	for _, c := range g.channels {
		if c.IsMaster {
			return c
		}
	}
	return nil
}

// Validate checks the structural invariants: routed buses exist, ids
// are unique by construction, at most one master.
func (g *Graph) Validate() error {
	masters := 0
	for _, c := range g.channels {
		if c.IsMaster {
			masters++
		}
		for b := range c.Buses {
			if _, ok := g.buses[b]; !ok {
				return &ValidationError{
					Field:  "bus_ids",
					Reason: "channel " + string(c.ID) + " routes to unknown bus " + string(b),
				}
			}
		}
	}
	if masters > 1 {
		return &ValidationError{Field: "channels", Reason: "more than one master channel"}
	}
	return nil
}

// Process evaluates the graph for one tick.
//
// inputs maps channel ids to their current input block, already
// resampled to the engine rate. effects holds the per-channel DSP
// state, externalized so the control plane can rebuild a chain without
// copying the graph. out is the set of per-bus output buffers owned by
// the caller and reused across ticks; Process zeroes and fills them.
// scratch must hold one engine block and is clobbered.
//
// Inputs with no matching channel are ignored (a device arrival may
// race channel creation). Channels with no input decay their meters.
func (g *Graph) Process(
	inputs map[ChannelID][]float32,
	effects map[ChannelID]*dsp.Chain,
	meters *MeterTable,
	out map[BusID][]float32,
	scratch []float32,
	elapsed time.Duration,
) {
	frameLen := len(scratch)
	anySolo := g.AnySolo()

	// Bus buffers: one per bus, zeroed. Allocation only happens right
	// after a topology change.
	for _, id := range g.busOrder {
		buf, ok := out[id]
		if !ok || len(buf) != frameLen {
			buf = make([]float32, frameLen)
			out[id] = buf
		} else {
			for i := range buf {
				buf[i] = 0
			}
		}
	}
	for id := range out {
		if _, ok := g.buses[id]; !ok {
			delete(out, id)
		}
	}

	for _, cid := range g.chOrder {
		c := g.channels[cid]
		input, ok := inputs[cid]
		if !ok {
			meters.Channel(cid).UpdateSilence(elapsed)
			continue
		}
		if !c.IsAudible(anySolo) {
			meters.Channel(cid).UpdateSilence(elapsed)
			continue
		}

		n := copy(scratch, input)
		for i := n; i < frameLen; i++ {
			scratch[i] = 0
		}

		if chain := effects[cid]; chain != nil {
			chain.Process(scratch)
		}

		gain := c.Gain.Gain()
		for i := range scratch {
			scratch[i] *= gain
		}

		meters.Channel(cid).Update(scratch, elapsed)

		for bid := range c.Buses {
			buf := out[bid]
			if buf == nil {
				continue
			}
			for i := range scratch {
				buf[i] += scratch[i]
			}
		}
	}

	for _, bid := range g.busOrder {
		b := g.buses[bid]
		buf := out[bid]
		gain := b.EffectiveGain()
		if gain != 1 {
			for i := range buf {
				buf[i] *= gain
			}
		}
		meters.Bus(bid).Update(buf, elapsed)
	}
}

func sortedBusIDs(set map[BusID]struct{}) []BusID {
	ids := make([]BusID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
