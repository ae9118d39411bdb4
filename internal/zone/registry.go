package zone

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
	"github.com/loxgrid/audioserver-bridge/internal/backend"
	"github.com/loxgrid/audioserver-bridge/internal/groups"
)

// Broadcaster is the event fan-out the registry publishes through.
type Broadcaster interface {
	Broadcast(message string)
}

// BackendFactory materialises a backend for a binding. Swappable in tests.
type BackendFactory func(binding backend.Binding, sink backend.EventSink, timeout time.Duration, logger zerolog.Logger) (backend.Backend, error)

// Registry owns the zone table. It is the only writer of zone state and the
// only emitter of audio events. Backend RPCs are always dispatched after the
// registry lock is released.
type Registry struct {
	mu       sync.Mutex
	zones    map[int]*Zone
	snapshot ConfigSnapshot

	bus     Broadcaster
	tracker *groups.Tracker
	factory BackendFactory
	timeout time.Duration
	logger  zerolog.Logger
}

func NewRegistry(bus Broadcaster, tracker *groups.Tracker, timeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		zones:   make(map[int]*Zone),
		bus:     bus,
		tracker: tracker,
		factory: backend.New,
		timeout: timeout,
		logger:  logger.With().Str("component", "zone").Logger(),
	}
}

// SetBackendFactory replaces the backend constructor. Test hook.
func (r *Registry) SetBackendFactory(factory BackendFactory) {
	r.factory = factory
}

// ApplyConfigSnapshot atomically replaces the registry content with the zones
// the snapshot declares. Zones removed from the config are cleaned up; every
// declared player gets exactly one zone. Players without an admin override
// get a default dummy entry (ip 127.0.0.1). The created defaults, plus
// existing overrides whose source name was newly derived from the channel
// serial, are returned so the orchestrator can persist them.
func (r *Registry) ApplyConfigSnapshot(ctx context.Context, snapshot ConfigSnapshot) []Override {
	overridesByID := make(map[int]Override, len(snapshot.Overrides))
	for _, override := range snapshot.Overrides {
		overridesByID[override.ID] = override
	}

	var changed []Override
	fresh := make(map[int]*Zone, len(snapshot.Players))
	for _, player := range snapshot.Players {
		override, ok := overridesByID[player.ID]
		if !ok {
			override = Override{
				ID:      player.ID,
				Backend: backend.KindDummy,
				IP:      "127.0.0.1",
				Source:  snapshot.ResolveSource(player.ChannelSerial),
			}
			changed = append(changed, override)
		} else if override.Source == "" {
			if derived := snapshot.ResolveSource(player.ChannelSerial); derived != "" {
				override.Source = derived
				changed = append(changed, override)
			}
		}
		fresh[player.ID] = r.buildZone(player, override, snapshot)
	}

	r.mu.Lock()
	old := r.zones
	r.zones = fresh
	r.snapshot = snapshot
	r.mu.Unlock()

	for _, zone := range old {
		r.cleanupHandle(zone)
	}
	for _, zone := range fresh {
		r.initializeZone(ctx, zone.ID)
	}

	r.logger.Info().Int("zones", len(fresh)).Msg("config snapshot applied")
	return changed
}

// SetupZoneByID re-resolves one zone against the current snapshot. Used after
// admin-driven zone edits.
func (r *Registry) SetupZoneByID(ctx context.Context, id int, override Override) error {
	r.mu.Lock()
	existing, ok := r.zones[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NewZoneNotFound(id)
	}
	snapshot := r.snapshot
	player := ConfigPlayer{ID: id, UUID: existing.UUID, Name: existing.Name, ChannelSerial: ""}
	for _, candidate := range snapshot.Players {
		if candidate.ID == id {
			player = candidate
			break
		}
	}
	r.mu.Unlock()

	r.cleanupHandle(existing)
	rebuilt := r.buildZone(player, override, snapshot)
	rebuilt.State = existing.State
	rebuilt.Queue = existing.Queue

	r.mu.Lock()
	r.zones[id] = rebuilt
	r.mu.Unlock()

	r.initializeZone(ctx, id)
	return nil
}

func (r *Registry) buildZone(player ConfigPlayer, override Override, snapshot ConfigSnapshot) *Zone {
	name := player.Name
	if override.Name != "" {
		name = override.Name
	}
	source := override.Source
	if source == "" {
		source = snapshot.ResolveSource(player.ChannelSerial)
	}

	zone := &Zone{
		ID:     player.ID,
		UUID:   player.UUID,
		Name:   name,
		Source: source,
		Binding: backend.Binding{
			PlayerID:   player.ID,
			Kind:       override.Backend,
			Host:       override.IP,
			MAPlayerID: override.MAPlayerID,
		},
		State: PlayerState{Mode: ModeStop, Repeat: RepeatOff},
	}
	if override.Volumes != nil {
		zone.Volumes = *override.Volumes
	}
	if preset := zone.Volumes.Default; preset != nil {
		zone.State.Volume = zone.Volumes.Cap(*preset)
	}
	return zone
}

// initializeZone creates and initialises the backend handle for one zone.
// Initialization failures downgrade the zone to configured-but-disconnected.
func (r *Registry) initializeZone(ctx context.Context, id int) {
	r.mu.Lock()
	zone, ok := r.zones[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	binding := zone.Binding
	r.mu.Unlock()

	// Dummy zones carry a handle but are never marked connected.
	handle, err := r.factory(binding, r, r.timeout, r.logger)
	if err == nil {
		err = handle.Initialize(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	zone, ok = r.zones[id]
	if !ok || zone.Binding != binding {
		// Zone replaced while we were connecting.
		if err == nil {
			handle.Cleanup()
		}
		return
	}
	if err != nil {
		zone.handle = nil
		zone.Connected = false
		zone.ConnectError = err.Error()
		r.logger.Warn().Int("playerid", id).Err(err).Msg("backend initialization failed")
		return
	}
	zone.handle = handle
	zone.Connected = binding.Kind != backend.KindDummy && binding.Kind != ""
	zone.ConnectError = ""
	if binding.Kind == backend.KindMusicAssistant && binding.MAPlayerID == "" {
		zone.Connected = false
		zone.ConnectError = "no Music Assistant player assigned"
	}
}

// handleFor validates the zone and returns a local copy of its backend handle.
func (r *Registry) handleFor(id int) (backend.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	zone, ok := r.zones[id]
	if !ok {
		return nil, apperrors.NewZoneNotFound(id)
	}
	if zone.Binding.Kind == backend.KindMusicAssistant && zone.Binding.MAPlayerID == "" {
		return nil, apperrors.NewZoneNotConfigured(id, "no Music Assistant player assigned")
	}
	if zone.handle == nil {
		return nil, apperrors.NewBackendUnreachable(fmt.Sprintf("zone %d has no connected backend", id))
	}
	return zone.handle, nil
}

// SendCommandToZone validates the zone and delegates the command to its
// backend. Volume parameters are translated between absolute targets and the
// signed deltas backends expect.
func (r *Registry) SendCommandToZone(ctx context.Context, id int, command backend.Command, params ...string) error {
	if command == backend.CmdVolume {
		return r.sendVolume(ctx, id, firstParam(params))
	}

	handle, err := r.handleFor(id)
	if err != nil {
		return err
	}
	if err := handle.SendCommand(ctx, command, params...); err != nil {
		return err
	}
	r.applyOptimisticState(id, command, params)
	return nil
}

// sendVolume accepts "+5", "-5" (delta) or "35" (absolute target), sends the
// delta to the backend, and updates the cached volume on success.
func (r *Registry) sendVolume(ctx context.Context, id int, param string) error {
	r.mu.Lock()
	zone, ok := r.zones[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NewZoneNotFound(id)
	}
	current := zone.State.Volume
	presets := zone.Volumes
	r.mu.Unlock()

	value, err := strconv.Atoi(param)
	if err != nil {
		return apperrors.NewDispatchFailed(fmt.Sprintf("volume requires a number, got %q", param))
	}

	var target int
	if strings.HasPrefix(param, "+") || strings.HasPrefix(param, "-") {
		target = presets.Cap(current + value)
	} else {
		target = presets.Cap(value)
	}
	delta := target - current

	handle, err := r.handleFor(id)
	if err != nil {
		return err
	}
	if err := handle.SendCommand(ctx, backend.CmdVolume, strconv.Itoa(delta)); err != nil {
		return err
	}

	update := backend.StatusUpdate{Volume: &target}
	r.ZoneStatusUpdate(id, update)
	return nil
}

// applyOptimisticState mirrors transport commands into the zone state; the
// zone's reported mode is authoritative over later backend echoes.
func (r *Registry) applyOptimisticState(id int, command backend.Command, params []string) {
	update := backend.StatusUpdate{}
	switch command {
	case backend.CmdPlay, backend.CmdResume:
		mode := ModePlay
		update.Mode = &mode
	case backend.CmdPause:
		mode := ModePause
		update.Mode = &mode
	case backend.CmdStop:
		mode := ModeStop
		update.Mode = &mode
	case backend.CmdOff:
		mode := ModeOff
		update.Mode = &mode
	case backend.CmdOn:
		mode := ModeStop
		update.Mode = &mode
	case backend.CmdRepeat:
		repeat := RepeatFromWire(firstParam(params))
		update.Repeat = &repeat
	case backend.CmdShuffle:
		shuffle := firstParam(params) == "1" || firstParam(params) == "true"
		update.Shuffle = &shuffle
	default:
		return
	}
	r.ZoneStatusUpdate(id, update)
}

// SendGroupCommandToZone parses "leader,m1,m2,..." and delegates the group
// command to the leader's backend.
func (r *Registry) SendGroupCommandToZone(ctx context.Context, command backend.Command, groupType, members string) error {
	ids, err := ParsePlayerIDs(members)
	if err != nil || len(ids) == 0 {
		return apperrors.NewDispatchFailed(fmt.Sprintf("invalid group member list %q", members))
	}
	leaderID := ids[0]

	r.mu.Lock()
	leader, ok := r.zones[leaderID]
	if !ok {
		r.mu.Unlock()
		return apperrors.NewZoneNotFound(leaderID)
	}
	leaderExternal := externalIDFor(leader)
	others := make([]string, 0, len(ids)-1)
	for _, id := range ids[1:] {
		if member, ok := r.zones[id]; ok {
			others = append(others, externalIDFor(member))
		}
	}
	r.mu.Unlock()

	handle, err := r.handleFor(leaderID)
	if err != nil {
		return err
	}
	return handle.SendGroupCommand(ctx, command, groupType, leaderExternal, others...)
}

// externalIDFor picks the identifier the backend knows the zone by: the
// assigned Music Assistant player, else the device host so device-addressed
// backends can reach group members directly.
func externalIDFor(z *Zone) string {
	if z.Binding.MAPlayerID != "" {
		return z.Binding.MAPlayerID
	}
	if z.Binding.Host != "" {
		return z.Binding.Host
	}
	return strconv.Itoa(z.ID)
}

// ZoneStatusUpdate merges a partial state update and broadcasts one
// audio_event with the full projected state. Implements backend.EventSink.
func (r *Registry) ZoneStatusUpdate(id int, update backend.StatusUpdate) {
	r.mu.Lock()
	zone, ok := r.zones[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	mergeState(&zone.State, zone.Volumes, update)
	entry := projectAudioEvent(zone)
	r.mu.Unlock()

	r.bus.Broadcast(marshalEvent("audio_event", []AudioEventEntry{entry}))
}

// ZoneQueueUpdate broadcasts one audio_queue_event. Implements backend.EventSink.
func (r *Registry) ZoneQueueUpdate(id int, queueSize int) {
	r.mu.Lock()
	zone, ok := r.zones[id]
	if ok {
		zone.Queue.Total = queueSize
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.bus.Broadcast(marshalEvent("audio_queue_event", []AudioQueueEventEntry{{
		PlayerID:     id,
		QueueSize:    queueSize,
		Restrictions: 1,
	}}))
}

// UpdateZoneGroup broadcasts one audio_sync_event derived from the group
// tracker: every current group with its members and master volume.
func (r *Registry) UpdateZoneGroup() {
	all := r.tracker.All()
	entries := make([]AudioSyncEventEntry, 0, len(all))

	r.mu.Lock()
	for _, group := range all {
		players := make([]SyncEventPlayer, 0, len(group.Members))
		master := 0
		for _, member := range group.Members {
			zone, ok := r.zones[member]
			if !ok {
				continue
			}
			players = append(players, SyncEventPlayer{ID: zone.UUID, PlayerID: member})
			if zone.State.Volume > master {
				master = zone.State.Volume
			}
		}
		sort.Slice(players, func(i, j int) bool { return players[i].PlayerID < players[j].PlayerID })
		entries = append(entries, AudioSyncEventEntry{
			Group:        group.ExternalID,
			MasterVolume: master,
			Players:      players,
			Type:         string(group.Source),
		})
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Group < entries[j].Group })
	r.bus.Broadcast(marshalEvent("audio_sync_event", entries))
}

// ApplyStoredVolumePreset writes the stored default (or buzzer) preset into
// the zone state and optionally emits an audio_event.
func (r *Registry) ApplyStoredVolumePreset(id int, emitEvent bool) error {
	r.mu.Lock()
	zone, ok := r.zones[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NewZoneNotFound(id)
	}
	preset := zone.Volumes.Default
	if preset == nil {
		preset = zone.Volumes.Buzzer
	}
	if preset != nil {
		zone.State.Volume = zone.Volumes.Cap(*preset)
	}
	entry := projectAudioEvent(zone)
	r.mu.Unlock()

	if emitEvent && preset != nil {
		r.bus.Broadcast(marshalEvent("audio_event", []AudioEventEntry{entry}))
	}
	return nil
}

// MasterVolumeUpdate is one per-member outcome of a master volume fan-out.
type MasterVolumeUpdate struct {
	PlayerID int `json:"playerid"`
	Volume   int `json:"volume"`
}

// MasterVolumeSkip is one member that could not be adjusted.
type MasterVolumeSkip struct {
	PlayerID int    `json:"playerid"`
	Reason   string `json:"reason"`
}

// MasterVolumeResult is the outcome of ApplyMasterVolumeToGroup.
type MasterVolumeResult struct {
	GroupID      string               `json:"group"`
	TargetVolume int                  `json:"target"`
	Updates      []MasterVolumeUpdate `json:"updated"`
	Skipped      []MasterVolumeSkip   `json:"skipped"`
}

// ApplyMasterVolumeToGroup drives every member of the leader's group to the
// target volume. Per-member backend calls run sequentially so the last write
// wins within the group.
func (r *Registry) ApplyMasterVolumeToGroup(ctx context.Context, leaderID, target int) (MasterVolumeResult, error) {
	group, ok := r.tracker.GetByZone(leaderID)
	if !ok {
		// An ungrouped zone is treated as a group of one.
		group = groups.Group{Leader: leaderID, Members: []int{leaderID}}
	}

	if target < 0 {
		target = 0
	}
	if target > 100 {
		target = 100
	}

	result := MasterVolumeResult{GroupID: group.ExternalID, TargetVolume: target}
	for _, member := range group.Members {
		r.mu.Lock()
		zone, ok := r.zones[member]
		var current int
		var capped int
		if ok {
			current = zone.State.Volume
			capped = zone.Volumes.Cap(target)
		}
		r.mu.Unlock()

		if !ok {
			result.Skipped = append(result.Skipped, MasterVolumeSkip{PlayerID: member, Reason: "unknown-zone"})
			continue
		}

		delta := capped - current
		handle, err := r.handleFor(member)
		if err != nil {
			result.Skipped = append(result.Skipped, MasterVolumeSkip{PlayerID: member, Reason: "dispatch-failed"})
			continue
		}
		if err := handle.SendCommand(ctx, backend.CmdVolume, strconv.Itoa(delta)); err != nil {
			result.Skipped = append(result.Skipped, MasterVolumeSkip{PlayerID: member, Reason: "dispatch-failed"})
			continue
		}

		r.ZoneStatusUpdate(member, backend.StatusUpdate{Volume: &capped})
		result.Updates = append(result.Updates, MasterVolumeUpdate{PlayerID: member, Volume: capped})
	}

	r.UpdateZoneGroup()
	return result, nil
}

// UpdateZonePlayerName renames a zone and re-broadcasts its state.
func (r *Registry) UpdateZonePlayerName(id int, name string) error {
	r.mu.Lock()
	zone, ok := r.zones[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NewZoneNotFound(id)
	}
	zone.Name = name
	entry := projectAudioEvent(zone)
	r.mu.Unlock()

	r.bus.Broadcast(marshalEvent("audio_event", []AudioEventEntry{entry}))
	return nil
}

// SetZoneVolumes replaces the stored volume presets of a zone.
func (r *Registry) SetZoneVolumes(id int, volumes VolumePresets) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	zone, ok := r.zones[id]
	if !ok {
		return apperrors.NewZoneNotFound(id)
	}
	zone.Volumes = volumes
	zone.State.Volume = volumes.Cap(zone.State.Volume)
	return nil
}

// PatchZoneVolumes applies a partial preset update, keeping unset fields.
func (r *Registry) PatchZoneVolumes(id int, patch VolumePresets) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	zone, ok := r.zones[id]
	if !ok {
		return apperrors.NewZoneNotFound(id)
	}
	merged := zone.Volumes
	if patch.Default != nil {
		merged.Default = patch.Default
	}
	if patch.Max != nil {
		merged.Max = patch.Max
	}
	if patch.Alarm != nil {
		merged.Alarm = patch.Alarm
	}
	if patch.Fire != nil {
		merged.Fire = patch.Fire
	}
	if patch.Bell != nil {
		merged.Bell = patch.Bell
	}
	if patch.Buzzer != nil {
		merged.Buzzer = patch.Buzzer
	}
	if patch.TTS != nil {
		merged.TTS = patch.TTS
	}
	zone.Volumes = merged
	zone.State.Volume = merged.Cap(zone.State.Volume)
	return nil
}

// GetZone returns a copy of one zone.
func (r *Registry) GetZone(id int) (Zone, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	zone, ok := r.zones[id]
	if !ok {
		return Zone{}, false
	}
	return *zone, true
}

// SetZoneQueue replaces a zone's queue snapshot.
func (r *Registry) SetZoneQueue(id int, queue Queue) error {
	r.mu.Lock()
	zone, ok := r.zones[id]
	if ok {
		zone.Queue = queue
	}
	r.mu.Unlock()
	if !ok {
		return apperrors.NewZoneNotFound(id)
	}
	r.ZoneQueueUpdate(id, queue.Total)
	return nil
}

// FindQueueIndex returns the queue index of the item with the given
// audiopath, or -1. The registry is the authority for queue contents.
func (r *Registry) FindQueueIndex(id int, audioPath string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	zone, ok := r.zones[id]
	if !ok {
		return -1
	}
	for _, item := range zone.Queue.Items {
		if item.AudioPath == audioPath {
			return item.QIndex
		}
	}
	return -1
}

// GetZoneStatuses is the admin snapshot view.
func (r *Registry) GetZoneStatuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make([]Status, 0, len(r.zones))
	for _, zone := range r.zones {
		statuses = append(statuses, Status{
			ID:           zone.ID,
			UUID:         zone.UUID,
			Name:         zone.Name,
			Source:       zone.Source,
			Backend:      string(zone.Binding.Kind),
			Host:         zone.Binding.Host,
			MAPlayerID:   zone.Binding.MAPlayerID,
			Connected:    zone.Connected,
			ConnectError: zone.ConnectError,
			Mode:         zone.State.Mode,
			Title:        zone.State.Title,
			Volume:       zone.State.Volume,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// IDs returns the ids of all registered zones, ascending.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.zones))
	for id := range r.zones {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CleanupAll releases every backend handle. Used on shutdown.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	zones := make([]*Zone, 0, len(r.zones))
	for _, zone := range r.zones {
		zones = append(zones, zone)
	}
	r.mu.Unlock()

	for _, zone := range zones {
		r.cleanupHandle(zone)
	}
}

// cleanupHandle releases one zone's backend. Cleanup errors never propagate.
func (r *Registry) cleanupHandle(z *Zone) {
	r.mu.Lock()
	handle := z.handle
	z.handle = nil
	z.Connected = false
	r.mu.Unlock()
	if handle != nil {
		handle.Cleanup()
	}
}

// mergeState folds a partial update into state, clamping volume to [0,100]
// and the max preset.
func mergeState(state *PlayerState, presets VolumePresets, update backend.StatusUpdate) {
	if update.Mode != nil {
		state.Mode = *update.Mode
	}
	if update.Title != nil {
		state.Title = *update.Title
	}
	if update.Artist != nil {
		state.Artist = *update.Artist
	}
	if update.Album != nil {
		state.Album = *update.Album
	}
	if update.CoverURL != nil {
		state.CoverURL = *update.CoverURL
	}
	if update.AudioPath != nil {
		state.AudioPath = *update.AudioPath
	}
	if update.Station != nil {
		state.Station = *update.Station
	}
	if update.Volume != nil {
		state.Volume = presets.Cap(*update.Volume)
	}
	if update.Repeat != nil {
		state.Repeat = *update.Repeat
	}
	if update.Shuffle != nil {
		state.Shuffle = *update.Shuffle
	}
	if update.DurationMs != nil {
		state.DurationMs = *update.DurationMs
	}
	if update.PositionMs != nil {
		state.PositionMs = *update.PositionMs
	}
	if update.QIndex != nil {
		state.QIndex = *update.QIndex
	}
}

// ParsePlayerIDs splits a comma-separated id list.
func ParsePlayerIDs(csv string) ([]int, error) {
	parts := strings.Split(csv, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid player id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func firstParam(params []string) string {
	if len(params) == 0 {
		return ""
	}
	return params[0]
}
