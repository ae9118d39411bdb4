package msconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
	"github.com/loxgrid/audioserver-bridge/internal/config"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

const (
	adminConfigFile = "config.json"
	musicCacheFile  = "music-cache.json"
)

// Registry is the slice of the zone registry the orchestrator drives.
type Registry interface {
	ApplyConfigSnapshot(ctx context.Context, snapshot zone.ConfigSnapshot) []zone.Override
	SetZoneVolumes(id int, volumes zone.VolumePresets) error
	PatchZoneVolumes(id int, patch zone.VolumePresets) error
}

// Orchestrator owns the admin config and pairing state. It is the single
// writer of both on-disk documents.
type Orchestrator struct {
	mu       sync.Mutex
	cfg      config.Config
	admin    AdminConfig
	registry Registry
	logger   zerolog.Logger
}

func NewOrchestrator(cfg config.Config, registry Registry, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With().Str("component", "msconfig").Logger(),
	}
}

// InitializeConfig seeds runtime state on startup: admin config from disk,
// then the music cache if present. It never contacts the MiniServer; the
// miniserver pairing source is driven separately by the caller.
func (o *Orchestrator) InitializeConfig(ctx context.Context) error {
	if err := o.LoadAdminConfig(); err != nil {
		return err
	}
	o.applyAdminDefaults()

	if err := o.SeedAudioServerFromCache(ctx); err != nil {
		o.logger.Info().Err(err).Msg("no usable music cache, waiting for setconfig")
	}
	return nil
}

// LoadAdminConfig reads the admin config document. A missing file yields an
// empty config.
func (o *Orchestrator) LoadAdminConfig() error {
	path := filepath.Join(o.cfg.AdminDir, adminConfigFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		o.mu.Lock()
		o.admin = AdminConfig{}
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	var admin AdminConfig
	if err := json.Unmarshal(raw, &admin); err != nil {
		return apperrors.NewConfigInvalid(fmt.Sprintf("admin config unreadable: %v", err), nil)
	}
	o.mu.Lock()
	o.admin = admin
	o.mu.Unlock()
	return nil
}

// SaveAdminConfig writes the admin config atomically (temp file then rename).
func (o *Orchestrator) SaveAdminConfig() error {
	o.mu.Lock()
	admin := o.admin
	o.mu.Unlock()

	encoded, err := json.MarshalIndent(admin, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.cfg.AdminDir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(o.cfg.AdminDir, adminConfigFile), encoded, 0o644)
}

// applyAdminDefaults fills runtime fields the admin config leaves empty:
// the appliance identity and the audio-server IP derived from a local
// interface when none is configured.
func (o *Orchestrator) applyAdminDefaults() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.admin.AudioServer.MAC == "" {
		o.admin.AudioServer.MAC = o.cfg.AudioServerMAC
	}
	o.admin.AudioServer.MacID = zone.NormalizeSerial(o.admin.AudioServer.MAC)

	if o.admin.AudioServer.Name == "" {
		o.admin.AudioServer.Name = "AudioServer"
	}
	if o.admin.MediaProvider.Type == "" {
		o.admin.MediaProvider.Type = o.cfg.MediaProvider
	}
	if len(o.admin.MediaProvider.Options) == 0 {
		o.admin.MediaProvider.Options = o.cfg.ProviderOptions
	}
}

// LocalIP returns the configured audio-server IP, falling back to the
// address of the default route interface.
func (o *Orchestrator) LocalIP() string {
	if o.cfg.AudioServerIP != "" {
		return o.cfg.AudioServerIP
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// MacID returns the canonical appliance id.
func (o *Orchestrator) MacID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.admin.AudioServer.MacID != "" {
		return o.admin.AudioServer.MacID
	}
	return o.cfg.MacID()
}

// CRC returns the current music config CRC, empty when unpaired.
func (o *Orchestrator) CRC() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.admin.AudioServer.MusicCRC
}

// Paired reports whether a music config has been applied.
func (o *Orchestrator) Paired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.admin.AudioServer.Paired
}

// Miniserver returns the paired MiniServer record.
func (o *Orchestrator) Miniserver() MiniserverInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.admin.Miniserver
}

// Extensions lists the declared extensions of the current music config.
func (o *Orchestrator) Extensions() []Extension {
	o.mu.Lock()
	raw := o.admin.AudioServer.MusicCFG
	macID := o.admin.AudioServer.MacID
	o.mu.Unlock()

	entry, err := entryForMac(raw, macID)
	if err != nil {
		return []Extension{}
	}
	extensions := make([]Extension, 0, len(entry.Extensions))
	for _, extension := range entry.Extensions {
		extensions = append(extensions, Extension{
			Serial: zone.NormalizeSerial(extension.Serial),
			Name:   extension.Name,
		})
	}
	return extensions
}

// ZoneOverrides returns a copy of the admin zone entries.
func (o *Orchestrator) ZoneOverrides() []zone.Override {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]zone.Override(nil), o.admin.Zones...)
}

// ProcessAudioServerConfig normalises and applies one setconfig payload.
// When the CRC is unchanged the call is a no-op. Otherwise the music cache
// is rewritten, the registry reseeded, and newly created default zone
// entries merged into the admin config.
func (o *Orchestrator) ProcessAudioServerConfig(ctx context.Context, raw []byte) (string, []Extension, error) {
	canonical, err := canonicalize(raw)
	if err != nil {
		return "", nil, apperrors.NewConfigInvalid("setconfig payload is not JSON", nil)
	}
	crc := ComputeCRC32(canonical)

	o.mu.Lock()
	macID := o.admin.AudioServer.MacID
	unchanged := crc == o.admin.AudioServer.MusicCRC && o.admin.AudioServer.Paired
	timestamp := o.admin.AudioServer.MusicTimestamp
	o.mu.Unlock()
	if macID == "" {
		macID = o.cfg.MacID()
	}
	if unchanged {
		o.logger.Debug().Str("crc32", crc).Msg("setconfig with unchanged crc, skipping")
		return crc, o.Extensions(), nil
	}

	entry, err := entryForMac(canonical, macID)
	if err != nil {
		return "", nil, err
	}

	o.mu.Lock()
	o.admin.AudioServer.MacID = macID
	o.admin.AudioServer.MusicCFG = canonical
	o.admin.AudioServer.MusicCRC = crc
	o.admin.AudioServer.Paired = true
	if entry.Name != "" {
		o.admin.AudioServer.Name = entry.Name
	}
	o.mu.Unlock()

	if err := o.writeMusicCache(MusicCache{CRC32: crc, MusicCFG: canonical, Timestamp: timestamp}); err != nil {
		o.logger.Error().Err(err).Msg("music cache write failed")
	}

	extensions := o.reseedRegistry(ctx, entry)
	if err := o.SaveAdminConfig(); err != nil {
		o.logger.Error().Err(err).Msg("admin config write failed")
	}
	return crc, extensions, nil
}

// reseedRegistry builds the config snapshot for one entry and applies it.
func (o *Orchestrator) reseedRegistry(ctx context.Context, entry msEntry) []Extension {
	o.mu.Lock()
	overrides := append([]zone.Override(nil), o.admin.Zones...)
	serverName := o.admin.AudioServer.Name
	macID := o.admin.AudioServer.MacID
	o.mu.Unlock()

	sources := []zone.SourceInfo{{Serial: macID, Name: serverName}}
	extensions := make([]Extension, 0, len(entry.Extensions))
	for _, extension := range entry.Extensions {
		serial := zone.NormalizeSerial(extension.Serial)
		sources = append(sources, zone.SourceInfo{Serial: serial, Name: extension.Name})
		extensions = append(extensions, Extension{Serial: serial, Name: extension.Name})
	}

	players := make([]zone.ConfigPlayer, 0, len(entry.Players))
	for _, player := range entry.Players {
		players = append(players, zone.ConfigPlayer{
			ID:            player.PlayerID,
			UUID:          player.UUID,
			Name:          player.Name,
			ChannelSerial: player.firstChannelSerial(),
		})
	}

	changed := o.registry.ApplyConfigSnapshot(ctx, zone.ConfigSnapshot{
		Players:   players,
		Sources:   sources,
		Overrides: overrides,
	})

	if len(changed) > 0 {
		o.mu.Lock()
		o.admin.Zones, _ = MergeZoneConfigEntries(o.admin.Zones, changed)
		// Existing entries pick up a source name derived from the channel
		// serial; admin-set names are never overwritten.
		for _, entry := range changed {
			for i := range o.admin.Zones {
				if o.admin.Zones[i].ID == entry.ID && o.admin.Zones[i].Source == "" {
					o.admin.Zones[i].Source = entry.Source
				}
			}
		}
		o.mu.Unlock()
	}
	return extensions
}

// SetConfigTimestamp records the MiniServer-provided timestamp and rewrites
// the cache when it changed.
func (o *Orchestrator) SetConfigTimestamp(timestamp int64) error {
	o.mu.Lock()
	current := o.admin.AudioServer.MusicTimestamp
	if current != nil && *current == timestamp {
		o.mu.Unlock()
		return nil
	}
	o.admin.AudioServer.MusicTimestamp = &timestamp
	cache := MusicCache{
		CRC32:     o.admin.AudioServer.MusicCRC,
		MusicCFG:  o.admin.AudioServer.MusicCFG,
		Timestamp: &timestamp,
	}
	o.mu.Unlock()

	if err := o.writeMusicCache(cache); err != nil {
		return err
	}
	return o.SaveAdminConfig()
}

// Timestamp returns the cached music timestamp, zero when unset.
func (o *Orchestrator) Timestamp() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.admin.AudioServer.MusicTimestamp == nil {
		return 0
	}
	return *o.admin.AudioServer.MusicTimestamp
}

// SeedAudioServerFromCache merges the cached music config into runtime and
// marks the appliance paired.
func (o *Orchestrator) SeedAudioServerFromCache(ctx context.Context) error {
	cache, err := o.readMusicCache()
	if err != nil {
		return err
	}

	macID := o.MacID()
	entry, err := entryForMac(cache.MusicCFG, macID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.admin.AudioServer.MusicCFG = cache.MusicCFG
	o.admin.AudioServer.MusicCRC = cache.CRC32
	o.admin.AudioServer.MusicTimestamp = cache.Timestamp
	o.admin.AudioServer.Paired = true
	o.mu.Unlock()

	o.reseedRegistry(ctx, entry)
	o.logger.Info().Str("crc32", cache.CRC32).Msg("seeded from music cache")
	return nil
}

// UpdateZoneOverride replaces or inserts one admin zone entry and persists.
func (o *Orchestrator) UpdateZoneOverride(override zone.Override) error {
	o.mu.Lock()
	replaced := false
	for i := range o.admin.Zones {
		if o.admin.Zones[i].ID == override.ID {
			o.admin.Zones[i] = override
			replaced = true
			break
		}
	}
	if !replaced {
		o.admin.Zones = append(o.admin.Zones, override)
	}
	o.mu.Unlock()
	return o.SaveAdminConfig()
}

// SetDefaultVolume stores a zone's default preset and pushes it to the registry.
func (o *Orchestrator) SetDefaultVolume(id, volume int) error {
	return o.patchVolumes(id, zone.VolumePresets{Default: &volume})
}

// SetMaxVolume stores a zone's volume cap.
func (o *Orchestrator) SetMaxVolume(id, volume int) error {
	return o.patchVolumes(id, zone.VolumePresets{Max: &volume})
}

// SetEventVolumes stores the alert presets of one zone.
func (o *Orchestrator) SetEventVolumes(id int, patch zone.VolumePresets) error {
	return o.patchVolumes(id, patch)
}

func (o *Orchestrator) patchVolumes(id int, patch zone.VolumePresets) error {
	if err := o.registry.PatchZoneVolumes(id, patch); err != nil {
		return err
	}

	o.mu.Lock()
	for i := range o.admin.Zones {
		if o.admin.Zones[i].ID != id {
			continue
		}
		merged := zone.VolumePresets{}
		if o.admin.Zones[i].Volumes != nil {
			merged = *o.admin.Zones[i].Volumes
		}
		mergePresets(&merged, patch)
		o.admin.Zones[i].Volumes = &merged
		break
	}
	o.mu.Unlock()
	return o.SaveAdminConfig()
}

func mergePresets(dst *zone.VolumePresets, patch zone.VolumePresets) {
	if patch.Default != nil {
		dst.Default = patch.Default
	}
	if patch.Max != nil {
		dst.Max = patch.Max
	}
	if patch.Alarm != nil {
		dst.Alarm = patch.Alarm
	}
	if patch.Fire != nil {
		dst.Fire = patch.Fire
	}
	if patch.Bell != nil {
		dst.Bell = patch.Bell
	}
	if patch.Buzzer != nil {
		dst.Buzzer = patch.Buzzer
	}
	if patch.TTS != nil {
		dst.TTS = patch.TTS
	}
}

// writeMusicCache persists the cache atomically.
func (o *Orchestrator) writeMusicCache(cache MusicCache) error {
	encoded, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.cfg.AdminDir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(o.cfg.AdminDir, musicCacheFile), encoded, 0o644)
}

func (o *Orchestrator) readMusicCache() (MusicCache, error) {
	raw, err := os.ReadFile(filepath.Join(o.cfg.AdminDir, musicCacheFile))
	if err != nil {
		return MusicCache{}, err
	}
	var cache MusicCache
	if err := json.Unmarshal(raw, &cache); err != nil {
		return MusicCache{}, apperrors.NewConfigInvalid(fmt.Sprintf("music cache unreadable: %v", err), nil)
	}
	if len(cache.MusicCFG) == 0 {
		return MusicCache{}, apperrors.NewConfigInvalid("music cache carries no musicCFG", nil)
	}
	return cache, nil
}

// ComputeCRC32 hashes the canonical bytes the way the MiniServer does:
// CRC-32 (IEEE) over the UTF-8 serialisation, lower-case hex, no padding.
func ComputeCRC32(canonical []byte) string {
	return fmt.Sprintf("%x", crc32.ChecksumIEEE(canonical))
}

// canonicalize reparses raw JSON with lower-cased object keys and reserialises
// it deterministically. The MiniServer payload mixes key casings; this is the
// config boundary where they are normalised.
func canonicalize(raw []byte) ([]byte, error) {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	return json.Marshal(lowerKeys(parsed))
}

func lowerKeys(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		lowered := make(map[string]any, len(typed))
		for key, inner := range typed {
			lowered[strings.ToLower(key)] = lowerKeys(inner)
		}
		return lowered
	case []any:
		for i := range typed {
			typed[i] = lowerKeys(typed[i])
		}
		return typed
	default:
		return value
	}
}

// entryForMac finds the AudioServer entry matching macID in the canonical
// payload. Keys are matched serial-normalised.
func entryForMac(canonical []byte, macID string) (msEntry, error) {
	if len(canonical) == 0 {
		return msEntry{}, apperrors.NewConfigInvalid("empty music config", nil)
	}
	var payload map[string]msEntry
	if err := json.Unmarshal(canonical, &payload); err != nil {
		return msEntry{}, apperrors.NewConfigInvalid("music config lacks the expected top-level structure", nil)
	}
	want := zone.NormalizeSerial(macID)
	for key, entry := range payload {
		if zone.NormalizeSerial(key) == want {
			return entry, nil
		}
	}
	return msEntry{}, apperrors.NewConfigInvalid(
		fmt.Sprintf("no music config entry matches macID %s", macID),
		map[string]any{"macId": macID},
	)
}
