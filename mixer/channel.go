package mixer

import (
	"strings"

	"github.com/troubadour-audio/troubadour/dsp"
)

// MasterID is the distinguished id of the master channel. A channel is
// also master when its display name equals "master" case-insensitively.
const MasterID ChannelID = "master"

// Channel is an input-side mixer strip: gain, mute, solo, an ordered
// effects chain, and the set of buses it feeds. The master channel uses
// the same shape so the UI can treat every strip uniformly.
type Channel struct {
	ID       ChannelID
	Name     string
	Gain     Decibels
	Muted    bool
	Solo     bool
	IsMaster bool

	// InputDevice is the id of the capture device feeding this
	// channel, empty when unassigned.
	InputDevice string

	// Source is a playback file path; when set the channel is fed from
	// a file player instead of a capture device.
	Source string

	// Effects is the configured chain; processors are built outside
	// the graph so processing never copies channel state.
	Effects []dsp.EffectConfig

	// Buses is the channel's membership in the routing matrix.
	Buses map[BusID]struct{}

	// DeviceErr flags a failed input stream so the UI can badge the
	// strip. Cleared when the assignment changes.
	DeviceErr string
}

// NewChannel creates a channel with defaults: unity gain, not muted,
// not solo, no bus membership.
func NewChannel(id ChannelID, name string) *Channel {
	return &Channel{
		ID:       id,
		Name:     name,
		Gain:     UnityGain,
		IsMaster: id == MasterID || strings.EqualFold(name, string(MasterID)),
		Buses:    make(map[BusID]struct{}),
	}
}

// IsAudible reports whether the channel contributes signal given the
// global solo state. Mute always wins; with any solo active, only solo
// channels pass.
func (c *Channel) IsAudible(anySolo bool) bool {
	if c.Muted {
		return false
	}
	if anySolo && !c.Solo {
		return false
	}
	return true
}

// RoutedTo reports bus membership.
func (c *Channel) RoutedTo(bus BusID) bool {
	_, ok := c.Buses[bus]
	return ok
}

// BusIDs returns the membership as a sorted slice copy.
func (c *Channel) BusIDs() []BusID {
	return sortedBusIDs(c.Buses)
}
