package zone

import "encoding/json"

// AudioEventEntry is one player entry of an audio_event broadcast, projected
// to the Loxone event schema.
type AudioEventEntry struct {
	PlayerID   int    `json:"playerid"`
	Mode       string `json:"mode"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	AudioPath  string `json:"audiopath"`
	CoverURL   string `json:"coverurl"`
	AudioType  int    `json:"audiotype"`
	Duration   int64  `json:"duration"`
	DurationMs int64  `json:"duration_ms"`
	Time       int64  `json:"time"`
	PositionMs int64  `json:"position_ms"`
	Volume     int    `json:"volume"`
	PlRepeat   int    `json:"plrepeat"`
	PlShuffle  bool   `json:"plshuffle"`
	QIndex     int    `json:"qindex"`
	Power      string `json:"power"`
	Type       int    `json:"type"`
	Station    string `json:"station"`
	Parent     any    `json:"parent"`
	SourceName string `json:"sourceName"`
	IconType   int    `json:"icontype"`
}

// AudioQueueEventEntry is one entry of an audio_queue_event broadcast.
type AudioQueueEventEntry struct {
	PlayerID     int `json:"playerid"`
	QueueSize    int `json:"queuesize"`
	Restrictions int `json:"restrictions"`
}

// SyncEventPlayer is one member inside an audio_sync_event group.
type SyncEventPlayer struct {
	ID       string `json:"id"`
	PlayerID int    `json:"playerid"`
}

// AudioSyncEventEntry is one group of an audio_sync_event broadcast.
type AudioSyncEventEntry struct {
	Group        string            `json:"group"`
	MasterVolume int               `json:"mastervolume"`
	Players      []SyncEventPlayer `json:"players"`
	Type         string            `json:"type"`
}

// projectAudioEvent builds the event entry for one zone.
func projectAudioEvent(z *Zone) AudioEventEntry {
	power := "on"
	if z.State.Mode == ModeOff {
		power = "off"
	}
	return AudioEventEntry{
		PlayerID:   z.ID,
		Mode:       z.State.Mode,
		Name:       z.Name,
		Title:      z.State.Title,
		Artist:     z.State.Artist,
		Album:      z.State.Album,
		AudioPath:  z.State.AudioPath,
		CoverURL:   z.State.CoverURL,
		AudioType:  2,
		Duration:   z.State.DurationMs / 1000,
		DurationMs: z.State.DurationMs,
		Time:       z.State.PositionMs / 1000,
		PositionMs: z.State.PositionMs,
		Volume:     z.State.Volume,
		PlRepeat:   repeatToWire(z.State.Repeat),
		PlShuffle:  z.State.Shuffle,
		QIndex:     z.State.QIndex,
		Power:      power,
		Type:       2,
		Station:    z.State.Station,
		Parent:     nil,
		SourceName: z.Source,
		IconType:   0,
	}
}

// StatusEntry projects a zone copy to its event-schema view, used by the
// status command.
func StatusEntry(z Zone) AudioEventEntry {
	return projectAudioEvent(&z)
}

// repeatToWire maps repeat modes onto the Loxone wire encoding.
func repeatToWire(repeat string) int {
	switch repeat {
	case RepeatQueue:
		return 1
	case RepeatTrack:
		return 3
	default:
		return 0
	}
}

// RepeatFromWire is the inverse of repeatToWire, used when parsing commands.
func RepeatFromWire(value string) string {
	switch value {
	case "1":
		return RepeatQueue
	case "3":
		return RepeatTrack
	case RepeatTrack, RepeatQueue:
		return value
	default:
		return RepeatOff
	}
}

func marshalEvent(name string, entries any) string {
	message, _ := json.Marshal(map[string]any{name: entries})
	return string(message)
}
