package troubadour

import (
	"encoding/json"
	"fmt"
)

// Command kinds recognized on the wire. The set is closed: anything
// else is a ValidationError.
const (
	KindListAudioDevices      = "list-audio-devices"
	KindListInputDevices      = "list-input-devices"
	KindListOutputDevices     = "list-output-devices"
	KindGetChannels           = "get-channels"
	KindGetBuses              = "get-buses"
	KindAddChannel            = "add-channel"
	KindRemoveChannel         = "remove-channel"
	KindSetVolume             = "set-volume"
	KindToggleMute            = "toggle-mute"
	KindToggleSolo            = "toggle-solo"
	KindSetChannelInputDevice = "set-channel-input-device"
	KindGetChannelInputDevice = "get-channel-input-device"
	KindSetChannelBuses       = "set-channel-buses"
	KindGetChannelBuses       = "get-channel-buses"
	KindSetBusOutputDevice    = "set-bus-output-device"
	KindSetBusVolume          = "set-bus-volume"
	KindToggleBusMute         = "toggle-bus-mute"
	KindLoadConfig            = "load-config"
	KindSaveConfig            = "save-config"
	KindListPresets           = "list-presets"
	KindLoadPreset            = "load-preset"
	KindSavePreset            = "save-preset"
	KindDeletePreset          = "delete-preset"
)

// Request is one tagged command from a UI transport.
type Request struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries either a result payload or a typed error.
type Response struct {
	OK      bool           `json:"ok"`
	Version uint64         `json:"version,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

// ResponseError is the wire form of a typed failure.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Dispatcher serializes the command surface over the Mixer: it decodes
// tagged requests, runs them, and wraps results or typed errors in a
// response envelope. One dispatcher serves any number of transports;
// commands apply in the order they arrive.
type Dispatcher struct {
	mixer *Mixer
}

// NewDispatcher creates a dispatcher over the mixer.
func NewDispatcher(m *Mixer) *Dispatcher {
	return &Dispatcher{mixer: m}
}

// Parameter shapes. All fields are primitives or lists of primitives.

type channelParams struct {
	ChannelID string `json:"channelId"`
}

type busParams struct {
	BusID string `json:"busId"`
}

type addParams struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type volumeParams struct {
	ChannelID string  `json:"channelId"`
	VolumeDB  float64 `json:"volumeDb"`
}

type busVolumeParams struct {
	BusID    string  `json:"busId"`
	VolumeDB float64 `json:"volumeDb"`
}

type channelDeviceParams struct {
	ChannelID string `json:"channelId"`
	DeviceID  string `json:"deviceId,omitempty"`
}

type busDeviceParams struct {
	BusID    string `json:"busId"`
	DeviceID string `json:"deviceId,omitempty"`
}

type channelBusesParams struct {
	ChannelID string   `json:"channelId"`
	BusIDs    []string `json:"busIds"`
}

type presetParams struct {
	Name string `json:"name"`
}

// Handle runs one request to completion and returns its response.
func (d *Dispatcher) Handle(req Request) Response {
	res, version, err := d.execute(req)
	if err != nil {
		return Response{Error: &ResponseError{Kind: ErrorKind(err), Message: err.Error()}}
	}
	return Response{OK: true, Version: version, Result: res}
}

// HandleJSON is Handle for byte-oriented transports.
func (d *Dispatcher) HandleJSON(raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		out, _ := json.Marshal(Response{Error: &ResponseError{
			Kind:    ErrKindValidation,
			Message: "malformed request: " + err.Error(),
		}})
		return out
	}
	out, _ := json.Marshal(d.Handle(req))
	return out
}

func (d *Dispatcher) execute(req Request) (any, uint64, error) {
	m := d.mixer
	switch req.Kind {
	case KindListAudioDevices:
		list, err := m.ListAudioDevices()
		return list, 0, err

	case KindListInputDevices:
		list, err := m.ListInputDevices()
		return list, 0, err

	case KindListOutputDevices:
		list, err := m.ListOutputDevices()
		return list, 0, err

	case KindGetChannels:
		snap := m.GetSnapshot()
		return snap.Channels, snap.Version, nil

	case KindGetBuses:
		snap := m.GetSnapshot()
		return snap.Buses, snap.Version, nil

	case KindAddChannel:
		var p addParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.AddChannel(p.ID, p.Name)
		return nil, v, err

	case KindRemoveChannel:
		var p channelParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.RemoveChannel(p.ChannelID)
		return nil, v, err

	case KindSetVolume:
		var p volumeParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.SetVolume(p.ChannelID, p.VolumeDB)
		return nil, v, err

	case KindToggleMute:
		var p channelParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		muted, v, err := m.ToggleMute(p.ChannelID)
		return muted, v, err

	case KindToggleSolo:
		var p channelParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		solo, v, err := m.ToggleSolo(p.ChannelID)
		return solo, v, err

	case KindSetChannelInputDevice:
		var p channelDeviceParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.SetChannelInputDevice(p.ChannelID, p.DeviceID)
		return nil, v, err

	case KindGetChannelInputDevice:
		var p channelParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		dev, err := m.GetChannelInputDevice(p.ChannelID)
		return dev, 0, err

	case KindSetChannelBuses:
		var p channelBusesParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.SetChannelBuses(p.ChannelID, p.BusIDs)
		return nil, v, err

	case KindGetChannelBuses:
		var p channelParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		buses, err := m.GetChannelBuses(p.ChannelID)
		return buses, 0, err

	case KindSetBusOutputDevice:
		var p busDeviceParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.SetBusOutputDevice(p.BusID, p.DeviceID)
		return nil, v, err

	case KindSetBusVolume:
		var p busVolumeParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.SetBusVolume(p.BusID, p.VolumeDB)
		return nil, v, err

	case KindToggleBusMute:
		var p busParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		muted, v, err := m.ToggleBusMute(p.BusID)
		return muted, v, err

	case KindLoadConfig:
		v, err := m.LoadConfig()
		return nil, v, err

	case KindSaveConfig:
		return nil, 0, m.SaveConfig()

	case KindListPresets:
		names, err := m.ListPresets()
		return names, 0, err

	case KindLoadPreset:
		var p presetParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		v, err := m.LoadPreset(p.Name)
		return nil, v, err

	case KindSavePreset:
		var p presetParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		return nil, 0, m.SavePreset(p.Name)

	case KindDeletePreset:
		var p presetParams
		if err := decode(req.Params, &p); err != nil {
			return nil, 0, err
		}
		return nil, 0, m.DeletePreset(p.Name)

	default:
		return nil, 0, &ValidationError{
			Field:  "kind",
			Reason: fmt.Sprintf("unknown command kind %q", req.Kind),
		}
	}
}

func decode(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return &ValidationError{Field: "params", Reason: "missing parameters"}
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &ValidationError{Field: "params", Reason: err.Error()}
	}
	return nil
}
