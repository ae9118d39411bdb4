package dispatch

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

// failure shapes a handler error as the {success:false} payload the admin
// side of the protocol expects.
func failure(name string, err error) CommandResult {
	return CommandResult{Name: name, Payload: map[string]any{
		"success": false,
		"error":   err.Error(),
	}}
}

func (d *Dispatcher) handleGetConfig(context.Context, Request) CommandResult {
	return CommandResult{Name: "getconfig", Payload: map[string]any{
		"crc32":      d.orchestrator.CRC(),
		"extensions": d.orchestrator.Extensions(),
	}}
}

func (d *Dispatcher) handleSetConfig(ctx context.Context, req Request) CommandResult {
	if len(req.Segments) < 4 {
		return failure("setconfig", apperrors.NewConfigInvalid("missing payload", nil))
	}
	raw, err := DecodeURLSafeBase64(req.Segments[3])
	if err != nil {
		return failure("setconfig", apperrors.NewConfigInvalid("payload is not base64", nil))
	}
	crc, extensions, err := d.orchestrator.ProcessAudioServerConfig(ctx, raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("setconfig rejected")
		return failure("setconfig", err)
	}
	return CommandResult{Name: "setconfig", Payload: map[string]any{
		"crc32":      crc,
		"extensions": extensions,
	}}
}

func (d *Dispatcher) handleSetConfigTimestamp(_ context.Context, req Request) CommandResult {
	if len(req.Segments) < 4 {
		return failure("setconfigtimestamp", apperrors.NewConfigInvalid("missing timestamp", nil))
	}
	timestamp, err := strconv.ParseInt(req.Segments[3], 10, 64)
	if err != nil {
		return failure("setconfigtimestamp", apperrors.NewConfigInvalid("timestamp is not numeric", nil))
	}
	if err := d.orchestrator.SetConfigTimestamp(timestamp); err != nil {
		return failure("setconfigtimestamp", err)
	}
	return CommandResult{Name: "setconfigtimestamp", Payload: true}
}

// volumeEntry is the wire shape of one per-zone preset record.
type volumeEntry struct {
	PlayerID int  `json:"playerid"`
	Default  *int `json:"default,omitempty"`
	Max      *int `json:"max,omitempty"`
	Alarm    *int `json:"alarm,omitempty"`
	Fire     *int `json:"fire,omitempty"`
	Bell     *int `json:"bell,omitempty"`
	Buzzer   *int `json:"buzzer,omitempty"`
	TTS      *int `json:"tts,omitempty"`
}

func (e volumeEntry) presets() zone.VolumePresets {
	return zone.VolumePresets{
		Default: e.Default,
		Max:     e.Max,
		Alarm:   e.Alarm,
		Fire:    e.Fire,
		Bell:    e.Bell,
		Buzzer:  e.Buzzer,
		TTS:     e.TTS,
	}
}

func (d *Dispatcher) handleVolumes(_ context.Context, req Request) CommandResult {
	if len(req.Segments) < 4 {
		return failure("volumes", apperrors.NewConfigInvalid("missing payload", nil))
	}
	raw, err := DecodeURLSafeBase64(req.Segments[3])
	if err != nil {
		return failure("volumes", apperrors.NewConfigInvalid("payload is not base64", nil))
	}
	var entries []volumeEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return failure("volumes", apperrors.NewConfigInvalid("payload is not a volume list", nil))
	}
	for _, entry := range entries {
		if err := d.orchestrator.SetEventVolumes(entry.PlayerID, entry.presets()); err != nil {
			d.logger.Warn().Err(err).Int("zone", entry.PlayerID).Msg("volume presets rejected")
		}
	}
	return CommandResult{Name: "volumes", Payload: true}
}

func (d *Dispatcher) handleDefaultVolume(_ context.Context, req Request) CommandResult {
	id, volume, err := zoneAndValue(req)
	if err != nil {
		return failure("defaultvolume", err)
	}
	if err := d.orchestrator.SetDefaultVolume(id, volume); err != nil {
		return failure("defaultvolume", err)
	}
	if err := d.registry.ApplyStoredVolumePreset(id, true); err != nil {
		d.logger.Warn().Err(err).Int("zone", id).Msg("applying default volume failed")
	}
	return CommandResult{Name: "defaultvolume", Payload: true}
}

func (d *Dispatcher) handleMaxVolume(_ context.Context, req Request) CommandResult {
	id, volume, err := zoneAndValue(req)
	if err != nil {
		return failure("maxvolume", err)
	}
	if err := d.orchestrator.SetMaxVolume(id, volume); err != nil {
		return failure("maxvolume", err)
	}
	return CommandResult{Name: "maxvolume", Payload: true}
}

func (d *Dispatcher) handleEventVolumes(_ context.Context, req Request) CommandResult {
	if len(req.Segments) < 5 {
		return failure("eventvolumes", apperrors.NewConfigInvalid("missing zone or payload", nil))
	}
	id, err := strconv.Atoi(req.Segments[3])
	if err != nil {
		return failure("eventvolumes", apperrors.NewConfigInvalid("zone id is not numeric", nil))
	}
	raw, err := DecodeURLSafeBase64(req.Segments[4])
	if err != nil {
		return failure("eventvolumes", apperrors.NewConfigInvalid("payload is not base64", nil))
	}
	var entry volumeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return failure("eventvolumes", apperrors.NewConfigInvalid("payload is not a preset record", nil))
	}
	if err := d.orchestrator.SetEventVolumes(id, entry.presets()); err != nil {
		return failure("eventvolumes", err)
	}
	return CommandResult{Name: "eventvolumes", Payload: true}
}

// PlayerNameUpdate is one rename record of the playername command.
type PlayerNameUpdate struct {
	PlayerID int    `json:"playerid"`
	Name     string `json:"name"`
}

// ParsePlayerNameUpdates decodes a playername payload. It round-trips with
// SerializePlayerNameUpdates.
func ParsePlayerNameUpdates(raw []byte) ([]PlayerNameUpdate, error) {
	var updates []PlayerNameUpdate
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, apperrors.NewConfigInvalid("payload is not a rename list", nil)
	}
	return updates, nil
}

func SerializePlayerNameUpdates(updates []PlayerNameUpdate) []byte {
	encoded, _ := json.Marshal(updates)
	return encoded
}

func (d *Dispatcher) handlePlayerName(_ context.Context, req Request) CommandResult {
	if len(req.Segments) < 4 {
		return failure("playername", apperrors.NewConfigInvalid("missing payload", nil))
	}
	raw, err := DecodeURLSafeBase64(req.Segments[3])
	if err != nil {
		return failure("playername", apperrors.NewConfigInvalid("payload is not base64", nil))
	}
	updates, err := ParsePlayerNameUpdates(raw)
	if err != nil {
		return failure("playername", err)
	}
	for _, update := range updates {
		if err := d.registry.UpdateZonePlayerName(update.PlayerID, update.Name); err != nil {
			d.logger.Warn().Err(err).Int("zone", update.PlayerID).Msg("rename failed")
		}
	}
	return CommandResult{Name: "playername", Payload: true}
}

func zoneAndValue(req Request) (int, int, error) {
	if len(req.Segments) < 5 {
		return 0, 0, apperrors.NewConfigInvalid("missing zone or value", nil)
	}
	id, err := strconv.Atoi(req.Segments[3])
	if err != nil {
		return 0, 0, apperrors.NewConfigInvalid("zone id is not numeric", nil)
	}
	value, err := strconv.Atoi(req.Segments[4])
	if err != nil {
		return 0, 0, apperrors.NewConfigInvalid("value is not numeric", nil)
	}
	return id, value, nil
}
