package engine

import (
	"log/slog"

	"github.com/troubadour-audio/troubadour/dsp"
	"github.com/troubadour-audio/troubadour/mixer"
	"github.com/troubadour-audio/troubadour/ring"
	"github.com/troubadour-audio/troubadour/source"
)

// Every mutator applies atomically between processing ticks (the graph
// mutex serializes against Tick) and stamps a new snapshot version on
// success. Failures leave the graph untouched and the version as-is,
// with one exception: a device or file that fails to open clears the
// assignment, flags the entity, and bumps the version even though the
// command returns a DeviceError.

func (e *Engine) bumpLocked() uint64 {
	e.version++
	return e.version
}

// Snapshot publishes the current state under the graph mutex. Meter
// values reflect the block processed strictly before this call.
func (e *Engine) Snapshot() mixer.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Snapshot(e.version, e.meters)
}

// AddChannel inserts a channel with defaults.
func (e *Engine) AddChannel(id mixer.ChannelID, name string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.graph.AddChannel(id, name); err != nil {
		return 0, err
	}
	return e.bumpLocked(), nil
}

// RemoveChannel deletes a channel, prunes its routing edges, and tears
// down its input stream if it was the device's last user.
func (e *Engine) RemoveChannel(id mixer.ChannelID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.RemoveChannel(id); err != nil {
		return 0, err
	}
	e.meters.RemoveChannel(id)
	delete(e.effects, id)
	e.reconcileLocked()
	return e.bumpLocked(), nil
}

// RenameChannel updates a channel's display name.
func (e *Engine) RenameChannel(id mixer.ChannelID, name string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.RenameChannel(id, name); err != nil {
		return 0, err
	}
	return e.bumpLocked(), nil
}

// SetChannelInputDevice assigns or clears (empty id) the capture
// device. The stream opens here; an unopenable device fails the
// command, clears the assignment, and flags the channel.
func (e *Engine) SetChannelInputDevice(id mixer.ChannelID, deviceID string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.SetChannelInput(id, deviceID); err != nil {
		return 0, err
	}
	e.reconcileLocked()
	if c := e.graph.Channel(id); deviceID != "" && c.InputDevice == "" {
		return 0, &DeviceError{DeviceID: deviceID, Op: "open capture", Err: errDeviceFailed(c.DeviceErr)}
	}
	return e.bumpLocked(), nil
}

// ChannelInputDevice reads a channel's device assignment.
func (e *Engine) ChannelInputDevice(id mixer.ChannelID) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.graph.Channel(id)
	if c == nil {
		return "", &mixer.NotFoundError{Kind: "channel", ID: string(id)}
	}
	return c.InputDevice, nil
}

// SetChannelSource assigns or clears a playback file feeding the
// channel. The file is opened here; decode failures fail the command.
func (e *Engine) SetChannelSource(id mixer.ChannelID, path string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.SetChannelSource(id, path); err != nil {
		return 0, err
	}
	e.reconcileLocked()
	if c := e.graph.Channel(id); path != "" && c.Source == "" {
		return 0, &DeviceError{DeviceID: path, Op: "open source", Err: errDeviceFailed(c.DeviceErr)}
	}
	return e.bumpLocked(), nil
}

// SetChannelBuses replaces a channel's bus membership.
func (e *Engine) SetChannelBuses(id mixer.ChannelID, buses []mixer.BusID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.SetChannelBuses(id, buses); err != nil {
		return 0, err
	}
	return e.bumpLocked(), nil
}

// ChannelBuses reads a channel's bus membership.
func (e *Engine) ChannelBuses(id mixer.ChannelID) ([]mixer.BusID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.graph.Channel(id)
	if c == nil {
		return nil, &mixer.NotFoundError{Kind: "channel", ID: string(id)}
	}
	return c.BusIDs(), nil
}

// SetChannelVolume updates channel gain.
func (e *Engine) SetChannelVolume(id mixer.ChannelID, db mixer.Decibels) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.SetChannelVolume(id, db); err != nil {
		return 0, err
	}
	return e.bumpLocked(), nil
}

// ToggleChannelMute flips a channel's mute flag.
func (e *Engine) ToggleChannelMute(id mixer.ChannelID) (bool, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	muted, err := e.graph.ToggleChannelMute(id)
	if err != nil {
		return false, 0, err
	}
	return muted, e.bumpLocked(), nil
}

// ToggleChannelSolo flips a channel's solo flag.
func (e *Engine) ToggleChannelSolo(id mixer.ChannelID) (bool, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	solo, err := e.graph.ToggleChannelSolo(id)
	if err != nil {
		return false, 0, err
	}
	return solo, e.bumpLocked(), nil
}

// SetChannelEffects replaces a channel's effects chain. The chain is
// rebuilt here; an invalid configuration fails the command without
// touching the running chain.
func (e *Engine) SetChannelEffects(id mixer.ChannelID, configs []dsp.EffectConfig) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	chain, err := dsp.BuildChain(configs, e.cfg.SampleRate)
	if err != nil {
		return 0, &mixer.ValidationError{Field: "effects", Reason: err.Error()}
	}
	if err := e.graph.SetChannelEffects(id, configs); err != nil {
		return 0, err
	}
	if chain.Len() == 0 {
		delete(e.effects, id)
	} else {
		e.effects[id] = chain
	}
	return e.bumpLocked(), nil
}

// AddBus inserts a bus with defaults.
func (e *Engine) AddBus(id mixer.BusID, name string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.graph.AddBus(id, name); err != nil {
		return 0, err
	}
	return e.bumpLocked(), nil
}

// RemoveBus deletes a bus, pruning member channels, and tears down its
// output stream if it was the device's last user.
func (e *Engine) RemoveBus(id mixer.BusID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.RemoveBus(id); err != nil {
		return 0, err
	}
	e.meters.RemoveBus(id)
	e.reconcileLocked()
	return e.bumpLocked(), nil
}

// SetBusOutputDevice assigns or clears (empty id) the playback device.
func (e *Engine) SetBusOutputDevice(id mixer.BusID, deviceID string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.SetBusOutput(id, deviceID); err != nil {
		return 0, err
	}
	e.reconcileLocked()
	if b := e.graph.Bus(id); deviceID != "" && b.OutputDevice == "" {
		return 0, &DeviceError{DeviceID: deviceID, Op: "open playback", Err: errDeviceFailed(b.DeviceErr)}
	}
	return e.bumpLocked(), nil
}

// SetBusVolume updates bus gain.
func (e *Engine) SetBusVolume(id mixer.BusID, db mixer.Decibels) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.SetBusVolume(id, db); err != nil {
		return 0, err
	}
	return e.bumpLocked(), nil
}

// ToggleBusMute flips a bus's mute flag.
func (e *Engine) ToggleBusMute(id mixer.BusID) (bool, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	muted, err := e.graph.ToggleBusMute(id)
	if err != nil {
		return false, 0, err
	}
	return muted, e.bumpLocked(), nil
}

// LoadSnapshot replaces the whole graph atomically and reconciles
// streams against the new topology. A snapshot that fails validation
// leaves everything untouched.
func (e *Engine) LoadSnapshot(snap mixer.Snapshot) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := mixer.FromSnapshot(snap)
	if err != nil {
		return 0, err
	}

	// Rebuild every effects chain before committing anything.
	effects := make(map[mixer.ChannelID]*dsp.Chain)
	for _, c := range g.Channels() {
		if len(c.Effects) == 0 {
			continue
		}
		chain, err := dsp.BuildChain(c.Effects, e.cfg.SampleRate)
		if err != nil {
			return 0, &mixer.ValidationError{Field: "effects", Reason: err.Error()}
		}
		effects[c.ID] = chain
	}

	e.graph = g
	e.effects = effects
	e.meters.Prune(g)
	e.reconcileLocked()
	v := e.bumpLocked()
	e.emit(SnapshotInvalidatedEvent{Reason: "snapshot loaded"})
	return v, nil
}

// errDeviceFailed wraps the stored entity flag as an error value.
type deviceFailure string

func (d deviceFailure) Error() string { return string(d) }

func errDeviceFailed(msg string) error {
	if msg == "" {
		msg = "stream failed"
	}
	return deviceFailure(msg)
}

// checkDeadStreamsLocked fails any stream whose device stopped outside
// an orderly close: the stream is released, the assignment cleared, the
// entity flagged, and a device-error event raised.
func (e *Engine) checkDeadStreamsLocked() {
	for devID, cs := range e.captures {
		if !cs.dead.Load() {
			continue
		}
		delete(e.captures, devID)
		cs.closing.Store(true)
		if cs.stream != nil {
			cs.stream.Close()
		}
		e.failCaptureLocked(cs, errDeviceFailed("device stopped"))
	}
	for devID, ps := range e.playbacks {
		if !ps.dead.Load() {
			continue
		}
		delete(e.playbacks, devID)
		ps.closing.Store(true)
		if ps.stream != nil {
			ps.stream.Close()
		}
		e.failPlaybackLocked(ps, errDeviceFailed("device stopped"))
	}
}

// reconcileLocked makes the live stream set match the graph: open
// streams for newly assigned devices, close streams nothing references,
// and keep shared-device channel lists current.
func (e *Engine) reconcileLocked() {
	// Capture streams, one per assigned input device.
	wantCapture := make(map[string][]mixer.ChannelID)
	for _, c := range e.graph.Channels() {
		if c.InputDevice != "" {
			wantCapture[c.InputDevice] = append(wantCapture[c.InputDevice], c.ID)
		}
	}
	for devID, cs := range e.captures {
		if chs, ok := wantCapture[devID]; ok {
			cs.channels = chs
			continue
		}
		e.closeCaptureLocked(cs)
		delete(e.captures, devID)
	}
	for devID, chs := range wantCapture {
		if _, ok := e.captures[devID]; !ok {
			e.openCaptureLocked(devID, chs)
		}
	}

	// Playback streams, one per assigned output device.
	wantPlayback := make(map[string]bool)
	for _, b := range e.graph.Buses() {
		if b.OutputDevice != "" {
			wantPlayback[b.OutputDevice] = true
		}
	}
	for devID, ps := range e.playbacks {
		if wantPlayback[devID] {
			continue
		}
		e.closePlaybackLocked(ps)
		delete(e.playbacks, devID)
	}
	for devID := range wantPlayback {
		if _, ok := e.playbacks[devID]; !ok {
			e.openPlaybackLocked(devID)
		}
	}

	// File players, one per channel with a source path.
	for id, slot := range e.players {
		c := e.graph.Channel(id)
		if c != nil && c.Source == slot.path {
			continue
		}
		slot.player.Close()
		delete(e.players, id)
	}
	for _, c := range e.graph.Channels() {
		if c.Source == "" {
			continue
		}
		if _, ok := e.players[c.ID]; ok {
			continue
		}
		e.openPlayerLocked(c)
	}
}

func (e *Engine) openCaptureLocked(devID string, chs []mixer.ChannelID) {
	cs := &captureStream{
		deviceID: devID,
		state:    StreamOpening,
		channels: chs,
		buf:      ring.New(ringCapacity(e.cfg.FrameLength, e.cfg.Channels)),
	}
	e.hook.OnStreamState(devID, StreamUnassigned, StreamOpening)

	if e.backend == nil {
		e.failCaptureLocked(cs, errDeviceFailed("no audio backend"))
		return
	}
	stream, err := e.backend.OpenCapture(devID, e.cfg.Channels, e.cfg.FrameLength, func(samples []float32) {
		n := cs.buf.Write(samples)
		cs.overrun.add(len(samples) - n)
	}, func() {
		if !cs.closing.Load() {
			cs.dead.Store(true)
		}
	})
	if err != nil {
		e.failCaptureLocked(cs, err)
		return
	}

	cs.stream = stream
	cs.rs = dsp.NewResampler(stream.SampleRate(), e.cfg.SampleRate, e.cfg.Channels)
	cs.readBuf = make([]float32, (cs.rs.InputFramesFor(e.cfg.FrameLength)+4)*e.cfg.Channels)
	cs.engBuf = make([]float32, e.cfg.FrameLength*e.cfg.Channels)
	cs.state = StreamRunning
	e.hook.OnStreamState(devID, StreamOpening, StreamRunning)
	e.captures[devID] = cs
}

// failCaptureLocked clears the assignment on every channel that wanted
// the device and flags them, so the control plane can retry.
func (e *Engine) failCaptureLocked(cs *captureStream, err error) {
	cs.state = StreamFailed
	e.hook.OnStreamState(cs.deviceID, StreamOpening, StreamFailed)
	slog.Error("capture stream failed", "device", cs.deviceID, "error", err)
	e.version++ // the cleared assignments are new observable state
	for _, id := range cs.channels {
		if c := e.graph.Channel(id); c != nil {
			c.InputDevice = ""
			c.DeviceErr = err.Error()
			e.emit(DeviceErrorEvent{
				EntityKind: "channel",
				EntityID:   string(id),
				DeviceID:   cs.deviceID,
				Err:        err.Error(),
			})
		}
	}
	e.hook.OnStreamState(cs.deviceID, StreamFailed, StreamUnassigned)
}

func (e *Engine) closeCaptureLocked(cs *captureStream) {
	cs.closing.Store(true)
	cs.state = StreamClosing
	e.hook.OnStreamState(cs.deviceID, StreamRunning, StreamClosing)
	if cs.stream != nil {
		cs.stream.Close()
	}
	cs.state = StreamUnassigned
	e.hook.OnStreamState(cs.deviceID, StreamClosing, StreamUnassigned)
}

func (e *Engine) openPlaybackLocked(devID string) {
	ps := &playbackStream{
		deviceID: devID,
		state:    StreamOpening,
		buf:      ring.New(ringCapacity(e.cfg.FrameLength, e.cfg.Channels)),
	}
	e.hook.OnStreamState(devID, StreamUnassigned, StreamOpening)

	if e.backend == nil {
		e.failPlaybackLocked(ps, errDeviceFailed("no audio backend"))
		return
	}
	stream, err := e.backend.OpenPlayback(devID, e.cfg.Channels, e.cfg.FrameLength, func(out []float32) {
		n := ps.buf.Read(out)
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		ps.underrun.add(len(out) - n)
	}, func() {
		if !ps.closing.Load() {
			ps.dead.Store(true)
		}
	})
	if err != nil {
		e.failPlaybackLocked(ps, err)
		return
	}

	ps.stream = stream
	ps.rs = dsp.NewResampler(e.cfg.SampleRate, stream.SampleRate(), e.cfg.Channels)
	ps.mix = make([]float32, e.cfg.FrameLength*e.cfg.Channels)
	ps.state = StreamRunning
	e.hook.OnStreamState(devID, StreamOpening, StreamRunning)
	e.playbacks[devID] = ps
}

func (e *Engine) failPlaybackLocked(ps *playbackStream, err error) {
	ps.state = StreamFailed
	e.hook.OnStreamState(ps.deviceID, StreamOpening, StreamFailed)
	slog.Error("playback stream failed", "device", ps.deviceID, "error", err)
	e.version++
	for _, b := range e.graph.Buses() {
		if b.OutputDevice != ps.deviceID {
			continue
		}
		b.OutputDevice = ""
		b.DeviceErr = err.Error()
		e.emit(DeviceErrorEvent{
			EntityKind: "bus",
			EntityID:   string(b.ID),
			DeviceID:   ps.deviceID,
			Err:        err.Error(),
		})
	}
	e.hook.OnStreamState(ps.deviceID, StreamFailed, StreamUnassigned)
}

func (e *Engine) closePlaybackLocked(ps *playbackStream) {
	ps.closing.Store(true)
	ps.state = StreamClosing
	e.hook.OnStreamState(ps.deviceID, StreamRunning, StreamClosing)
	if ps.stream != nil {
		ps.stream.Close()
	}
	ps.state = StreamUnassigned
	e.hook.OnStreamState(ps.deviceID, StreamClosing, StreamUnassigned)
}

func (e *Engine) openPlayerLocked(c *mixer.Channel) {
	player, err := source.NewPlayer(e.reg, c.Source, ringCapacity(e.cfg.FrameLength, e.cfg.Channels), true)
	if err != nil {
		slog.Error("file source failed", "channel", c.ID, "path", c.Source, "error", err)
		path := c.Source
		c.Source = ""
		c.DeviceErr = err.Error()
		e.version++
		e.emit(DeviceErrorEvent{
			EntityKind: "channel",
			EntityID:   string(c.ID),
			DeviceID:   path,
			Err:        err.Error(),
		})
		return
	}
	rs := dsp.NewResampler(player.Rate(), e.cfg.SampleRate, e.cfg.Channels)
	e.players[c.ID] = &playerSlot{
		path:    c.Source,
		player:  player,
		rs:      rs,
		readBuf: make([]float32, (rs.InputFramesFor(e.cfg.FrameLength)+4)*e.cfg.Channels),
		engBuf:  make([]float32, e.cfg.FrameLength*e.cfg.Channels),
	}
}
