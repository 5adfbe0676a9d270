package mixer

// Bus is a named summing point. Channels route onto it; the summed
// signal gets the bus gain and mute, then goes to the assigned output
// device. A bus with no device is still summed and metered.
type Bus struct {
	ID    BusID
	Name  string
	Gain  Decibels
	Muted bool

	// OutputDevice is the id of the playback device this bus feeds,
	// empty when unassigned.
	OutputDevice string

	// DeviceErr flags a failed output stream, mirroring Channel.DeviceErr.
	DeviceErr string
}

// NewBus creates a bus with defaults: unity gain, not muted, no device.
func NewBus(id BusID, name string) *Bus {
	return &Bus{ID: id, Name: name, Gain: UnityGain}
}

// EffectiveGain returns the linear gain to apply to the summed signal:
// zero when muted.
func (b *Bus) EffectiveGain() float32 {
	if b.Muted {
		return 0
	}
	return b.Gain.Gain()
}
