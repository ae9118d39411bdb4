// Package zone owns the registry of playback zones keyed by player id and
// projects zone state into the event messages the MiniServer expects.
package zone

import (
	"strings"

	"github.com/loxgrid/audioserver-bridge/internal/backend"
)

// PlayMode is the zone transport state.
const (
	ModePlay  = "play"
	ModePause = "pause"
	ModeStop  = "stop"
	ModeOff   = "off"
)

// Repeat modes.
const (
	RepeatOff   = "off"
	RepeatTrack = "track"
	RepeatQueue = "queue"
)

// PlayerState is the mutable playback state of a zone.
type PlayerState struct {
	Mode       string
	Title      string
	Artist     string
	Album      string
	CoverURL   string
	AudioPath  string
	Volume     int
	Repeat     string
	Shuffle    bool
	DurationMs int64
	PositionMs int64
	QIndex     int
	Station    string
}

// QueueItem is one entry of a zone queue.
type QueueItem struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	AudioPath string `json:"audiopath"`
	CoverURL  string `json:"coverurl"`
	QIndex    int    `json:"qindex"`
}

// Queue is the ordered queue of a zone.
type Queue struct {
	Items   []QueueItem `json:"items"`
	Shuffle bool        `json:"shuffle"`
	Total   int         `json:"totalitems"`
}

// VolumePresets are the per-zone configured volumes. Nil means unset.
// Max, when set, caps every other preset and the live volume.
type VolumePresets struct {
	Default *int `json:"default,omitempty"`
	Max     *int `json:"max,omitempty"`
	Alarm   *int `json:"alarm,omitempty"`
	Fire    *int `json:"fire,omitempty"`
	Bell    *int `json:"bell,omitempty"`
	Buzzer  *int `json:"buzzer,omitempty"`
	TTS     *int `json:"tts,omitempty"`
}

// PresetFor returns the preset volume for an alert type, falling back to the
// default preset, then to def.
func (v VolumePresets) PresetFor(alertType string, def int) int {
	var preset *int
	switch alertType {
	case "alarm":
		preset = v.Alarm
	case "firealarm", "fire":
		preset = v.Fire
	case "bell":
		preset = v.Bell
	case "buzzer":
		preset = v.Buzzer
	case "tts":
		preset = v.TTS
	}
	if preset == nil {
		preset = v.Default
	}
	value := def
	if preset != nil {
		value = *preset
	}
	return v.Cap(value)
}

// Cap clamps v to [0,100] and to the max preset when present.
func (v VolumePresets) Cap(volume int) int {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	if v.Max != nil && volume > *v.Max {
		volume = *v.Max
	}
	return volume
}

// Zone is one addressable audio output.
type Zone struct {
	ID      int
	UUID    string
	Name    string
	Source  string
	Binding backend.Binding
	Volumes VolumePresets

	State PlayerState
	Queue Queue

	handle       backend.Backend
	Connected    bool
	ConnectError string
}

// Status is the admin-facing view of a zone.
type Status struct {
	ID           int    `json:"id"`
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	Source       string `json:"source"`
	Backend      string `json:"backend"`
	Host         string `json:"ip"`
	MAPlayerID   string `json:"maPlayerId,omitempty"`
	Connected    bool   `json:"connected"`
	ConnectError string `json:"connectError,omitempty"`
	Mode         string `json:"mode"`
	Title        string `json:"title"`
	Volume       int    `json:"volume"`
}

// ConfigPlayer is one player the MiniServer declares in its music config.
type ConfigPlayer struct {
	ID            int
	UUID          string
	Name          string
	ChannelSerial string
}

// SourceInfo maps an AudioServer or Extension serial to its display name.
type SourceInfo struct {
	Serial string
	Name   string
}

// Override is one admin-config zone entry layered over the MiniServer
// declaration.
type Override struct {
	ID         int            `json:"id"`
	Backend    backend.Kind   `json:"backend"`
	IP         string         `json:"ip"`
	Name       string         `json:"name,omitempty"`
	MAPlayerID string         `json:"maPlayerId,omitempty"`
	Source     string         `json:"source,omitempty"`
	Volumes    *VolumePresets `json:"volumes,omitempty"`
}

// ConfigSnapshot is everything the registry needs to (re)build its zone set.
type ConfigSnapshot struct {
	Players   []ConfigPlayer
	Sources   []SourceInfo
	Overrides []Override
}

// ResolveSource maps a channel serial to its AudioServer/Extension name.
// The serial is case-normalised; an unknown serial maps to itself.
func (s ConfigSnapshot) ResolveSource(channelSerial string) string {
	serial := NormalizeSerial(channelSerial)
	if serial == "" {
		return ""
	}
	for _, source := range s.Sources {
		if NormalizeSerial(source.Serial) == serial {
			return source.Name
		}
	}
	return serial
}

// NormalizeSerial upper-cases a serial and strips separators. The channel
// form "<serial>#<index>" is reduced to the serial part.
func NormalizeSerial(serial string) string {
	if at := strings.IndexByte(serial, '#'); at >= 0 {
		serial = serial[:at]
	}
	serial = strings.ToUpper(serial)
	serial = strings.ReplaceAll(serial, ":", "")
	return strings.ReplaceAll(serial, "-", "")
}
