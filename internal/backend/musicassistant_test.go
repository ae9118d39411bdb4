package backend

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	ids     []int
	updates []StatusUpdate
}

func (s *captureSink) ZoneStatusUpdate(playerID int, update StatusUpdate) {
	s.ids = append(s.ids, playerID)
	s.updates = append(s.updates, update)
}

func (s *captureSink) ZoneQueueUpdate(int, int) {}

func newTestMA(sink EventSink) *MusicAssistant {
	binding := Binding{PlayerID: 5, Kind: KindMusicAssistant, Host: "10.0.0.3", MAPlayerID: "ma_5"}
	return NewMusicAssistant(binding, sink, time.Second, zerolog.Nop())
}

func playerEvent(payload string) maIncoming {
	return maIncoming{Event: "player_updated", Data: json.RawMessage(payload)}
}

func TestPlayerEventProjectsRadioStation(t *testing.T) {
	sink := &captureSink{}
	m := newTestMA(sink)

	m.handleEvent(playerEvent(`{
		"player_id": "ma_5",
		"state": "playing",
		"volume_level": 35,
		"current_media": {"title": "Radio Paradise", "uri": "radio://1", "media_type": "radio"}
	}`))

	require.Len(t, sink.updates, 1)
	require.Equal(t, 5, sink.ids[0])
	update := sink.updates[0]
	require.NotNil(t, update.Station)
	require.Equal(t, "Radio Paradise", *update.Station)
	require.Equal(t, "play", *update.Mode)
	require.Equal(t, 35, *update.Volume)
}

func TestPlayerEventClearsStationForTracks(t *testing.T) {
	sink := &captureSink{}
	m := newTestMA(sink)

	m.handleEvent(playerEvent(`{
		"player_id": "ma_5",
		"state": "playing",
		"current_media": {"title": "Some Song", "artist": "Some Band", "uri": "track://9", "media_type": "track"}
	}`))

	require.Len(t, sink.updates, 1)
	update := sink.updates[0]
	require.NotNil(t, update.Station)
	require.Empty(t, *update.Station)
	require.Equal(t, "Some Song", *update.Title)
}

func TestPlayerEventIgnoresOtherPlayers(t *testing.T) {
	sink := &captureSink{}
	m := newTestMA(sink)

	m.handleEvent(playerEvent(`{"player_id": "ma_other", "state": "playing"}`))
	require.Empty(t, sink.updates)
}
