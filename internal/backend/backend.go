// Package backend defines the capability contract every media backend must
// satisfy, plus the concrete Null, Music Assistant, Sonos and Beolink
// implementations.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind tags the media system behind a zone.
type Kind string

const (
	KindDummy          Kind = "DummyBackend"
	KindMusicAssistant Kind = "MusicAssistantBackend"
	KindSonos          Kind = "SonosBackend"
	KindBeolink        Kind = "BeolinkBackend"
)

// Command is the vocabulary the zone layer emits to backends.
type Command string

const (
	CmdOn           Command = "on"
	CmdOff          Command = "off"
	CmdPlay         Command = "play"
	CmdResume       Command = "resume"
	CmdPause        Command = "pause"
	CmdStop         Command = "stop"
	CmdQueuePlus    Command = "queueplus"
	CmdQueueMinus   Command = "queueminus"
	CmdQueue        Command = "queue"
	CmdVolume       Command = "volume"
	CmdRepeat       Command = "repeat"
	CmdShuffle      Command = "shuffle"
	CmdPosition     Command = "position"
	CmdServicePlay  Command = "serviceplay"
	CmdPlaylistPlay Command = "playlistplay"
	CmdAnnounce     Command = "announce"

	CmdGroupJoinMany  Command = "groupJoinMany"
	CmdGroupLeaveMany Command = "groupLeaveMany"
	CmdGroupLeave     Command = "groupLeave"
)

// StatusUpdate is the partial zone state a backend reports. Nil fields are
// left untouched when merged.
type StatusUpdate struct {
	Mode       *string
	Title      *string
	Artist     *string
	Album      *string
	CoverURL   *string
	AudioPath  *string
	Station    *string
	Volume     *int
	Repeat     *string
	Shuffle    *bool
	DurationMs *int64
	PositionMs *int64
	QIndex     *int
}

// EventSink receives state changes a backend observes. The zone registry
// implements it; backends never reference the registry directly.
type EventSink interface {
	ZoneStatusUpdate(playerID int, update StatusUpdate)
	ZoneQueueUpdate(playerID int, queueSize int)
}

// Backend is the capability port each media backend satisfies.
type Backend interface {
	// Initialize establishes the backend session. Fails with
	// BACKEND_UNREACHABLE when the host cannot be contacted.
	Initialize(ctx context.Context) error
	// SendCommand dispatches one transport/queue/volume command. Volume is
	// always a signed delta on the wire.
	SendCommand(ctx context.Context, command Command, params ...string) error
	// SendGroupCommand dispatches a grouping command for the leader and the
	// listed followers.
	SendGroupCommand(ctx context.Context, command Command, groupType string, leader string, others ...string) error
	// Cleanup releases resources. Safe to call repeatedly.
	Cleanup()
	// Kind reports the backend tag.
	Kind() Kind
}

// Announcer is the optional announcement capability (Music Assistant only).
type Announcer interface {
	Announce(ctx context.Context, url string) error
}

// PlayerInfo describes one player a backend host exposes, for discovery.
type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Binding carries everything needed to materialise a backend for one zone.
type Binding struct {
	PlayerID   int
	Kind       Kind
	Host       string
	MAPlayerID string
}

// New materialises a backend instance for the binding.
func New(binding Binding, sink EventSink, timeout time.Duration, logger zerolog.Logger) (Backend, error) {
	logger = logger.With().Int("playerid", binding.PlayerID).Str("backend", string(binding.Kind)).Logger()
	switch binding.Kind {
	case KindDummy, "":
		return NewDummy(binding.PlayerID, logger), nil
	case KindMusicAssistant:
		return NewMusicAssistant(binding, sink, timeout, logger), nil
	case KindSonos:
		return NewSonos(binding, sink, timeout, logger), nil
	case KindBeolink:
		return NewBeolink(binding, sink, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", binding.Kind)
	}
}

// GetPlayers enumerates the players a backend host exposes. Used by the admin
// surface for zone assignment.
func GetPlayers(ctx context.Context, kind Kind, host string, timeout time.Duration) ([]PlayerInfo, error) {
	switch kind {
	case KindMusicAssistant:
		return musicAssistantPlayers(ctx, host, timeout)
	case KindSonos:
		return sonosPlayers(ctx, host, timeout)
	case KindBeolink:
		return beolinkPlayers(ctx, host, timeout)
	default:
		return []PlayerInfo{}, nil
	}
}
