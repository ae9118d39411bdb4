// Package msconfig owns the MiniServer-facing configuration: the admin
// config on disk, the music cache, and the derivation of the zone topology
// from setconfig payloads.
package msconfig

import (
	"encoding/json"

	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

// MiniserverInfo identifies the paired MiniServer.
type MiniserverInfo struct {
	IP       string `json:"ip,omitempty"`
	Serial   string `json:"serial,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AudioServerInfo is the emulated appliance identity plus pairing state.
type AudioServerInfo struct {
	MAC            string          `json:"mac"`
	MacID          string          `json:"macId"`
	Name           string          `json:"name,omitempty"`
	Paired         bool            `json:"paired"`
	MusicCRC       string          `json:"musicCRC,omitempty"`
	MusicTimestamp *int64          `json:"musicTimestamp,omitempty"`
	MusicCFG       json.RawMessage `json:"musicCFG,omitempty"`
}

// ProviderConfig selects the media provider and its options.
type ProviderConfig struct {
	Type    string            `json:"type,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// LoggingConfig mirrors the admin-selectable log levels.
type LoggingConfig struct {
	ConsoleLevel string `json:"consoleLevel,omitempty"`
	FileLevel    string `json:"fileLevel,omitempty"`
}

// AdminConfig is the JSON document persisted in the admin dir.
type AdminConfig struct {
	Miniserver    MiniserverInfo  `json:"miniserver"`
	AudioServer   AudioServerInfo `json:"audioserver"`
	Zones         []zone.Override `json:"zones"`
	MediaProvider ProviderConfig  `json:"mediaProvider"`
	Logging       LoggingConfig   `json:"logging"`
}

// MusicCache is the on-disk copy of the last-known MiniServer music config.
type MusicCache struct {
	CRC32     string          `json:"crc32"`
	MusicCFG  json.RawMessage `json:"musicCFG"`
	Timestamp *int64          `json:"timestamp,omitempty"`
}

// Extension is one secondary AudioServer contributing zones.
type Extension struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
}

// setconfig payload schema, after casing normalisation. The top level maps
// macID to the entry describing that AudioServer.
type msEntry struct {
	Name       string        `json:"name"`
	UUID       string        `json:"uuid"`
	Players    []msPlayer    `json:"players"`
	Extensions []msExtension `json:"extensions"`
}

type msPlayer struct {
	PlayerID int        `json:"playerid"`
	UUID     string     `json:"uuid"`
	Name     string     `json:"name"`
	Outputs  []msOutput `json:"outputs"`
}

type msOutput struct {
	Channels []string `json:"channels"`
}

type msExtension struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
}

// firstChannelSerial picks the serial of the first non-empty channel id.
func (p msPlayer) firstChannelSerial() string {
	for _, output := range p.Outputs {
		for _, channel := range output.Channels {
			if channel != "" {
				return channel
			}
		}
	}
	return ""
}
