package zone

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
	"github.com/loxgrid/audioserver-bridge/internal/backend"
	"github.com/loxgrid/audioserver-bridge/internal/groups"
)

type fakeBackend struct {
	mu       sync.Mutex
	binding  backend.Binding
	commands []sentCommand
	cleaned  bool
	failNext error
}

type sentCommand struct {
	command backend.Command
	params  []string
}

func (b *fakeBackend) Initialize(context.Context) error { return nil }

func (b *fakeBackend) SendCommand(_ context.Context, command backend.Command, params ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	b.commands = append(b.commands, sentCommand{command: command, params: params})
	return nil
}

func (b *fakeBackend) SendGroupCommand(_ context.Context, command backend.Command, groupType, leader string, others ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	params := append([]string{groupType, leader}, others...)
	b.commands = append(b.commands, sentCommand{command: command, params: params})
	return nil
}

func (b *fakeBackend) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleaned = true
}

func (b *fakeBackend) Kind() backend.Kind { return b.binding.Kind }

func (b *fakeBackend) sent() []sentCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]sentCommand, len(b.commands))
	copy(out, b.commands)
	return out
}

type captureBus struct {
	mu       sync.Mutex
	messages []string
}

func (b *captureBus) Broadcast(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message)
}

func (b *captureBus) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *captureBus) last(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.messages)
	return b.messages[len(b.messages)-1]
}

// newTestRegistry builds a registry with a capturing backend per player.
func newTestRegistry(t *testing.T) (*Registry, *captureBus, *groups.Tracker, map[int]*fakeBackend) {
	t.Helper()
	bus := &captureBus{}
	tracker := groups.NewTracker()
	registry := NewRegistry(bus, tracker, time.Second, zerolog.Nop())

	backends := map[int]*fakeBackend{}
	var mu sync.Mutex
	registry.SetBackendFactory(func(binding backend.Binding, _ backend.EventSink, _ time.Duration, _ zerolog.Logger) (backend.Backend, error) {
		b := &fakeBackend{binding: binding}
		mu.Lock()
		backends[binding.PlayerID] = b
		mu.Unlock()
		return b, nil
	})
	return registry, bus, tracker, backends
}

func intPtr(v int) *int { return &v }

func sonosSnapshot(ids ...int) ConfigSnapshot {
	snapshot := ConfigSnapshot{}
	for _, id := range ids {
		snapshot.Players = append(snapshot.Players, ConfigPlayer{
			ID:   id,
			UUID: "uuid-" + string(rune('a'+id)),
			Name: "Zone",
		})
		snapshot.Overrides = append(snapshot.Overrides, Override{
			ID:      id,
			Backend: backend.KindSonos,
			IP:      "192.168.1.50",
		})
	}
	return snapshot
}

func setVolume(r *Registry, id, volume int) {
	r.ZoneStatusUpdate(id, backend.StatusUpdate{Volume: &volume})
}

func TestApplyConfigSnapshotCreatesDefaultOverrides(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)

	snapshot := ConfigSnapshot{
		Players: []ConfigPlayer{
			{ID: 1, UUID: "u1", Name: "Kitchen"},
			{ID: 2, UUID: "u2", Name: "Office"},
		},
		Overrides: []Override{{ID: 1, Backend: backend.KindSonos, IP: "192.168.1.50"}},
	}
	created := registry.ApplyConfigSnapshot(context.Background(), snapshot)

	require.Len(t, created, 1)
	require.Equal(t, 2, created[0].ID)
	require.Equal(t, backend.KindDummy, created[0].Backend)
	require.Equal(t, "127.0.0.1", created[0].IP)

	require.Equal(t, []int{1, 2}, registry.IDs())

	sonosZone, ok := registry.GetZone(1)
	require.True(t, ok)
	require.True(t, sonosZone.Connected)

	dummyZone, ok := registry.GetZone(2)
	require.True(t, ok)
	require.False(t, dummyZone.Connected)
}

func TestApplyConfigSnapshotDerivesSourceNames(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)

	snapshot := ConfigSnapshot{
		Players: []ConfigPlayer{
			{ID: 1, UUID: "u1", Name: "Kitchen", ChannelSerial: "504F94FF1BB3#1"},
			{ID: 2, UUID: "u2", Name: "Office", ChannelSerial: "AABBCC001122#1"},
		},
		Sources: []SourceInfo{
			{Serial: "504F94FF1BB3", Name: "AudioServer"},
			{Serial: "AABBCC001122", Name: "Stereo Extension"},
		},
		Overrides: []Override{{ID: 1, Backend: backend.KindSonos, IP: "192.168.1.50"}},
	}
	changed := registry.ApplyConfigSnapshot(context.Background(), snapshot)

	require.Len(t, changed, 2)
	byID := map[int]Override{}
	for _, override := range changed {
		byID[override.ID] = override
	}
	// The existing entry keeps its backend and gains the derived source.
	require.Equal(t, backend.KindSonos, byID[1].Backend)
	require.Equal(t, "AudioServer", byID[1].Source)
	require.Equal(t, backend.KindDummy, byID[2].Backend)
	require.Equal(t, "Stereo Extension", byID[2].Source)

	// Once the derived sources are persisted, re-applying reports nothing.
	snapshot.Overrides = changed
	require.Empty(t, registry.ApplyConfigSnapshot(context.Background(), snapshot))
}

func TestApplyConfigSnapshotReplacesZoneSet(t *testing.T) {
	registry, _, _, backends := newTestRegistry(t)

	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(1, 2, 3))
	require.Equal(t, []int{1, 2, 3}, registry.IDs())
	removed := backends[1]

	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(2, 3, 4))
	require.Equal(t, []int{2, 3, 4}, registry.IDs())

	_, ok := registry.GetZone(1)
	require.False(t, ok)
	require.True(t, removed.cleaned)
}

func TestSendVolumeDelta(t *testing.T) {
	registry, bus, _, backends := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(7))
	setVolume(registry, 7, 40)

	require.NoError(t, registry.SendCommandToZone(context.Background(), 7, backend.CmdVolume, "-5"))

	sent := backends[7].sent()
	require.NotEmpty(t, sent)
	require.Equal(t, backend.CmdVolume, sent[len(sent)-1].command)
	require.Equal(t, []string{"-5"}, sent[len(sent)-1].params)

	z, _ := registry.GetZone(7)
	require.Equal(t, 35, z.State.Volume)

	var event struct {
		Entries []struct {
			PlayerID int `json:"playerid"`
			Volume   int `json:"volume"`
		} `json:"audio_event"`
	}
	require.NoError(t, json.Unmarshal([]byte(bus.last(t)), &event))
	require.Len(t, event.Entries, 1)
	require.Equal(t, 7, event.Entries[0].PlayerID)
	require.Equal(t, 35, event.Entries[0].Volume)
}

func TestSendVolumeAbsoluteRespectsMaxPreset(t *testing.T) {
	registry, _, _, backends := newTestRegistry(t)
	snapshot := sonosSnapshot(5)
	snapshot.Overrides[0].Volumes = &VolumePresets{Max: intPtr(50)}
	registry.ApplyConfigSnapshot(context.Background(), snapshot)
	setVolume(registry, 5, 30)

	require.NoError(t, registry.SendCommandToZone(context.Background(), 5, backend.CmdVolume, "80"))

	sent := backends[5].sent()
	// Capped to 50, so the delta from 30 is +20.
	require.Equal(t, []string{"20"}, sent[len(sent)-1].params)

	z, _ := registry.GetZone(5)
	require.Equal(t, 50, z.State.Volume)
}

func TestVolumeStaysWithinBounds(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(3))
	setVolume(registry, 3, 90)

	require.NoError(t, registry.SendCommandToZone(context.Background(), 3, backend.CmdVolume, "+40"))
	z, _ := registry.GetZone(3)
	require.Equal(t, 100, z.State.Volume)

	require.NoError(t, registry.SendCommandToZone(context.Background(), 3, backend.CmdVolume, "-300"))
	z, _ = registry.GetZone(3)
	require.Equal(t, 0, z.State.Volume)
}

func TestSendVolumeRejectsNonNumeric(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(1))

	err := registry.SendCommandToZone(context.Background(), 1, backend.CmdVolume, "loud")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeDispatchFailed, apperrors.CodeOf(err))
}

func TestUnassignedMusicAssistantZoneIsNotConfigured(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)
	snapshot := ConfigSnapshot{
		Players:   []ConfigPlayer{{ID: 9, UUID: "u9", Name: "Bath"}},
		Overrides: []Override{{ID: 9, Backend: backend.KindMusicAssistant, IP: "192.168.1.60"}},
	}
	registry.ApplyConfigSnapshot(context.Background(), snapshot)

	z, ok := registry.GetZone(9)
	require.True(t, ok)
	require.False(t, z.Connected)

	err := registry.SendCommandToZone(context.Background(), 9, backend.CmdPlay)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeZoneNotConfigured, apperrors.CodeOf(err))
}

func TestZoneNotFound(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)
	err := registry.SendCommandToZone(context.Background(), 42, backend.CmdPlay)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrorCodeZoneNotFound, apperrors.CodeOf(err))
}

func TestTransportCommandUpdatesMode(t *testing.T) {
	registry, _, _, backends := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(2))

	require.NoError(t, registry.SendCommandToZone(context.Background(), 2, backend.CmdPlay))
	z, _ := registry.GetZone(2)
	require.Equal(t, ModePlay, z.State.Mode)

	require.NoError(t, registry.SendCommandToZone(context.Background(), 2, backend.CmdPause))
	z, _ = registry.GetZone(2)
	require.Equal(t, ModePause, z.State.Mode)

	sent := backends[2].sent()
	require.Equal(t, backend.CmdPlay, sent[0].command)
	require.Equal(t, backend.CmdPause, sent[1].command)
}

func TestMasterVolumeFanOut(t *testing.T) {
	registry, _, tracker, backends := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(3, 4, 5))
	setVolume(registry, 3, 40)
	setVolume(registry, 4, 80)
	setVolume(registry, 5, 50)
	tracker.Upsert(3, []int{3, 4, 5}, string(backend.KindSonos), "grp-3", groups.SourceManual)

	result, err := registry.ApplyMasterVolumeToGroup(context.Background(), 3, 60)
	require.NoError(t, err)
	require.Equal(t, "grp-3", result.GroupID)
	require.Equal(t, 60, result.TargetVolume)
	require.Len(t, result.Updates, 3)
	require.Empty(t, result.Skipped)
	for _, update := range result.Updates {
		require.Equal(t, 60, update.Volume)
	}

	// Each member receives the delta from its own volume to the target.
	deltas := map[int]string{3: "20", 4: "-20", 5: "10"}
	for id, expected := range deltas {
		sent := backends[id].sent()
		require.NotEmpty(t, sent)
		last := sent[len(sent)-1]
		require.Equal(t, backend.CmdVolume, last.command)
		require.Equal(t, []string{expected}, last.params)
	}
}

func TestMasterVolumeUngroupedZoneIsGroupOfOne(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(6))
	setVolume(registry, 6, 20)

	result, err := registry.ApplyMasterVolumeToGroup(context.Background(), 6, 55)
	require.NoError(t, err)
	require.Len(t, result.Updates, 1)
	require.Equal(t, 6, result.Updates[0].PlayerID)
	require.Equal(t, 55, result.Updates[0].Volume)
}

func TestMasterVolumeSkipsUnknownMembers(t *testing.T) {
	registry, _, tracker, _ := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(1))
	tracker.Upsert(1, []int{1, 99}, string(backend.KindSonos), "grp-1", groups.SourceManual)

	result, err := registry.ApplyMasterVolumeToGroup(context.Background(), 1, 30)
	require.NoError(t, err)
	require.Len(t, result.Updates, 1)
	require.Len(t, result.Skipped, 1)
	require.Equal(t, 99, result.Skipped[0].PlayerID)
	require.Equal(t, "unknown-zone", result.Skipped[0].Reason)
}

func TestUpdateZoneGroupBroadcastsSyncEvent(t *testing.T) {
	registry, bus, tracker, _ := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(1, 2))
	setVolume(registry, 1, 30)
	setVolume(registry, 2, 70)
	tracker.Upsert(1, []int{1, 2}, string(backend.KindSonos), "grp-1", groups.SourceManual)

	registry.UpdateZoneGroup()

	var event struct {
		Entries []struct {
			Group        string `json:"group"`
			MasterVolume int    `json:"mastervolume"`
			Players      []struct {
				PlayerID int `json:"playerid"`
			} `json:"players"`
			Type string `json:"type"`
		} `json:"audio_sync_event"`
	}
	require.NoError(t, json.Unmarshal([]byte(bus.last(t)), &event))
	require.Len(t, event.Entries, 1)
	require.Equal(t, "grp-1", event.Entries[0].Group)
	require.Equal(t, 70, event.Entries[0].MasterVolume)
	require.Equal(t, "manual", event.Entries[0].Type)
	require.Len(t, event.Entries[0].Players, 2)
	require.Equal(t, 1, event.Entries[0].Players[0].PlayerID)
	require.Equal(t, 2, event.Entries[0].Players[1].PlayerID)
}

func TestApplyStoredVolumePreset(t *testing.T) {
	registry, bus, _, _ := newTestRegistry(t)
	snapshot := sonosSnapshot(4)
	snapshot.Overrides[0].Volumes = &VolumePresets{Default: intPtr(25)}
	registry.ApplyConfigSnapshot(context.Background(), snapshot)
	setVolume(registry, 4, 90)

	before := len(bus.all())
	require.NoError(t, registry.ApplyStoredVolumePreset(4, true))

	z, _ := registry.GetZone(4)
	require.Equal(t, 25, z.State.Volume)
	require.Greater(t, len(bus.all()), before)
}

func TestStatusUpdateCarriesStation(t *testing.T) {
	registry, bus, _, _ := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(6))

	station := "Radio 1"
	registry.ZoneStatusUpdate(6, backend.StatusUpdate{Station: &station})

	var event struct {
		Entries []struct {
			Station string `json:"station"`
		} `json:"audio_event"`
	}
	require.NoError(t, json.Unmarshal([]byte(bus.last(t)), &event))
	require.Equal(t, "Radio 1", event.Entries[0].Station)

	// Partial updates leave the station untouched.
	setVolume(registry, 6, 30)
	require.NoError(t, json.Unmarshal([]byte(bus.last(t)), &event))
	require.Equal(t, "Radio 1", event.Entries[0].Station)
}

func TestQueueUpdateBroadcastsQueueEvent(t *testing.T) {
	registry, bus, _, _ := newTestRegistry(t)
	registry.ApplyConfigSnapshot(context.Background(), sonosSnapshot(8))

	queue := Queue{
		Items: []QueueItem{
			{Title: "One", AudioPath: "track:1", QIndex: 0},
			{Title: "Two", AudioPath: "track:2", QIndex: 1},
		},
		Total: 2,
	}
	require.NoError(t, registry.SetZoneQueue(8, queue))

	var event struct {
		Entries []struct {
			PlayerID     int `json:"playerid"`
			QueueSize    int `json:"queuesize"`
			Restrictions int `json:"restrictions"`
		} `json:"audio_queue_event"`
	}
	require.NoError(t, json.Unmarshal([]byte(bus.last(t)), &event))
	require.Len(t, event.Entries, 1)
	require.Equal(t, 8, event.Entries[0].PlayerID)
	require.Equal(t, 2, event.Entries[0].QueueSize)
	require.Equal(t, 1, event.Entries[0].Restrictions)

	require.Equal(t, 1, registry.FindQueueIndex(8, "track:2"))
	require.Equal(t, -1, registry.FindQueueIndex(8, "track:9"))
	require.Equal(t, -1, registry.FindQueueIndex(99, "track:1"))
}

func TestSendGroupCommandUsesLeaderBackend(t *testing.T) {
	registry, _, _, backends := newTestRegistry(t)
	snapshot := sonosSnapshot(1, 2, 3)
	for i := range snapshot.Overrides {
		snapshot.Overrides[i].IP = fmt.Sprintf("192.168.1.%d", 50+i)
	}
	registry.ApplyConfigSnapshot(context.Background(), snapshot)

	require.NoError(t, registry.SendGroupCommandToZone(context.Background(), backend.CmdGroupJoinMany, "dynamic", "1,2,3"))

	// The leader's backend carries the command; members are identified by
	// their device hosts so it can address them.
	sent := backends[1].sent()
	require.Len(t, sent, 1)
	require.Equal(t, backend.CmdGroupJoinMany, sent[0].command)
	require.Equal(t, []string{"dynamic", "192.168.1.50", "192.168.1.51", "192.168.1.52"}, sent[0].params)
	require.Empty(t, backends[2].sent())
}

func TestPatchZoneVolumesKeepsUnsetFields(t *testing.T) {
	registry, _, _, _ := newTestRegistry(t)
	snapshot := sonosSnapshot(2)
	snapshot.Overrides[0].Volumes = &VolumePresets{Default: intPtr(30), Alarm: intPtr(80)}
	registry.ApplyConfigSnapshot(context.Background(), snapshot)

	require.NoError(t, registry.PatchZoneVolumes(2, VolumePresets{Max: intPtr(40)}))

	z, _ := registry.GetZone(2)
	require.Equal(t, 30, *z.Volumes.Default)
	require.Equal(t, 80, *z.Volumes.Alarm)
	require.Equal(t, 40, *z.Volumes.Max)
	// Live volume re-capped against the new max.
	require.LessOrEqual(t, z.State.Volume, 40)
}

func TestParsePlayerIDs(t *testing.T) {
	ids, err := ParsePlayerIDs("1,2,3")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, ids)

	ids, err = ParsePlayerIDs(" 4 , 5 ,")
	require.NoError(t, err)
	require.Equal(t, []int{4, 5}, ids)

	_, err = ParsePlayerIDs("1,x")
	require.Error(t, err)
}

func TestPresetForFallsBackToDefault(t *testing.T) {
	presets := VolumePresets{Default: intPtr(30), Bell: intPtr(70), Max: intPtr(60)}
	require.Equal(t, 60, presets.PresetFor("bell", 10))
	require.Equal(t, 30, presets.PresetFor("alarm", 10))
	require.Equal(t, 10, VolumePresets{}.PresetFor("alarm", 10))
}
