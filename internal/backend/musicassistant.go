package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
)

const maWebsocketPort = 8095

// MusicAssistant speaks the Music Assistant JSON-RPC-over-websocket API.
// One connection per zone; requests are matched to responses through a
// pending map keyed by message id.
type MusicAssistant struct {
	binding Binding
	sink    EventSink
	timeout time.Duration
	logger  zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan maResult
	messageID uint64
	closed    bool
}

type maRequest struct {
	MessageID string         `json:"message_id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
}

type maResult struct {
	result json.RawMessage
	err    error
}

type maIncoming struct {
	MessageID string          `json:"message_id,omitempty"`
	Event     string          `json:"event,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func NewMusicAssistant(binding Binding, sink EventSink, timeout time.Duration, logger zerolog.Logger) *MusicAssistant {
	return &MusicAssistant{
		binding: binding,
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]chan maResult),
	}
}

func (m *MusicAssistant) Kind() Kind { return KindMusicAssistant }

// Initialize dials the websocket API and starts the event reader.
func (m *MusicAssistant) Initialize(ctx context.Context) error {
	url := fmt.Sprintf("ws://%s:%d/ws", m.binding.Host, maWebsocketPort)
	dialer := websocket.Dialer{HandshakeTimeout: m.timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("music assistant at %s: %v", m.binding.Host, err))
	}

	m.mu.Lock()
	m.conn = conn
	m.closed = false
	m.mu.Unlock()

	go m.readLoop(conn)
	m.logger.Info().Str("host", m.binding.Host).Msg("music assistant session established")
	return nil
}

func (m *MusicAssistant) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		var incoming maIncoming
		if err := json.Unmarshal(raw, &incoming); err != nil {
			m.logger.Warn().Err(err).Msg("unparseable message from music assistant")
			continue
		}

		switch {
		case incoming.MessageID != "":
			m.resolvePending(incoming)
		case incoming.Event != "":
			m.handleEvent(incoming)
		}
	}
}

func (m *MusicAssistant) resolvePending(incoming maIncoming) {
	m.mu.Lock()
	ch, ok := m.pending[incoming.MessageID]
	if ok {
		delete(m.pending, incoming.MessageID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if incoming.Error != "" {
		ch <- maResult{err: apperrors.NewDispatchFailed(incoming.Error)}
		return
	}
	ch <- maResult{result: incoming.Result}
}

// maPlayerEvent is the slice of a player_updated event the bridge consumes.
type maPlayerEvent struct {
	PlayerID    string `json:"player_id"`
	State       string `json:"state"`
	VolumeLevel *int   `json:"volume_level"`
	CurrentMedia *struct {
		Title     string `json:"title"`
		Artist    string `json:"artist"`
		Album     string `json:"album"`
		ImageURL  string `json:"image_url"`
		URI       string `json:"uri"`
		Duration  int64  `json:"duration"`
		MediaType string `json:"media_type"`
	} `json:"current_media"`
	ElapsedTime *float64 `json:"elapsed_time"`
}

func (m *MusicAssistant) handleEvent(incoming maIncoming) {
	if incoming.Event != "player_updated" || m.sink == nil {
		return
	}

	var event maPlayerEvent
	if err := json.Unmarshal(incoming.Data, &event); err != nil || event.PlayerID != m.binding.MAPlayerID {
		return
	}

	update := StatusUpdate{}
	if mode := maStateToMode(event.State); mode != "" {
		update.Mode = &mode
	}
	if event.VolumeLevel != nil {
		update.Volume = event.VolumeLevel
	}
	if event.CurrentMedia != nil {
		update.Title = &event.CurrentMedia.Title
		update.Artist = &event.CurrentMedia.Artist
		update.Album = &event.CurrentMedia.Album
		update.CoverURL = &event.CurrentMedia.ImageURL
		update.AudioPath = &event.CurrentMedia.URI
		// Radio streams report the station name as the media title; any
		// other media type clears the station.
		station := ""
		if event.CurrentMedia.MediaType == "radio" {
			station = event.CurrentMedia.Title
		}
		update.Station = &station
		durationMs := event.CurrentMedia.Duration * 1000
		update.DurationMs = &durationMs
	}
	if event.ElapsedTime != nil {
		positionMs := int64(*event.ElapsedTime * 1000)
		update.PositionMs = &positionMs
	}
	m.sink.ZoneStatusUpdate(m.binding.PlayerID, update)
}

func maStateToMode(state string) string {
	switch state {
	case "playing":
		return "play"
	case "paused":
		return "pause"
	case "idle":
		return "stop"
	case "off":
		return "off"
	}
	return ""
}

func (m *MusicAssistant) handleDisconnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.conn = nil
	for id, ch := range m.pending {
		ch <- maResult{err: apperrors.NewBackendUnreachable("music assistant disconnected")}
		delete(m.pending, id)
	}
	m.logger.Warn().Err(err).Msg("music assistant connection lost")
}

// call sends one request and waits for its response.
func (m *MusicAssistant) call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return nil, apperrors.NewBackendUnreachable("music assistant not connected")
	}
	id := strconv.FormatUint(atomic.AddUint64(&m.messageID, 1), 10)
	ch := make(chan maResult, 1)
	m.pending[id] = ch
	err := conn.WriteJSON(maRequest{MessageID: id, Command: command, Args: args})
	m.mu.Unlock()

	if err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, apperrors.NewBackendUnreachable(fmt.Sprintf("write to music assistant: %v", err))
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		m.dropPending(id)
		return nil, ctx.Err()
	case <-timer.C:
		m.dropPending(id)
		return nil, apperrors.NewDispatchFailed("music assistant request timed out")
	case result := <-ch:
		return result.result, result.err
	}
}

func (m *MusicAssistant) dropPending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// SendCommand maps the zone command vocabulary onto Music Assistant RPCs.
func (m *MusicAssistant) SendCommand(ctx context.Context, command Command, params ...string) error {
	playerArgs := map[string]any{"player_id": m.binding.MAPlayerID}
	queueArgs := map[string]any{"queue_id": m.binding.MAPlayerID}

	var err error
	switch command {
	case CmdOn:
		playerArgs["powered"] = true
		_, err = m.call(ctx, "players/cmd/power", playerArgs)
	case CmdOff:
		playerArgs["powered"] = false
		_, err = m.call(ctx, "players/cmd/power", playerArgs)
	case CmdPlay, CmdResume:
		_, err = m.call(ctx, "players/cmd/play", playerArgs)
	case CmdPause:
		_, err = m.call(ctx, "players/cmd/pause", playerArgs)
	case CmdStop:
		_, err = m.call(ctx, "players/cmd/stop", playerArgs)
	case CmdQueuePlus:
		_, err = m.call(ctx, "players/cmd/next", playerArgs)
	case CmdQueueMinus:
		_, err = m.call(ctx, "players/cmd/previous", playerArgs)
	case CmdVolume:
		delta, convErr := firstInt(params)
		if convErr != nil {
			return convErr
		}
		playerArgs["delta"] = delta
		_, err = m.call(ctx, "players/cmd/volume_adjust", playerArgs)
	case CmdRepeat:
		queueArgs["repeat_mode"] = maRepeatMode(first(params))
		_, err = m.call(ctx, "player_queues/repeat", queueArgs)
	case CmdShuffle:
		queueArgs["shuffle_enabled"] = first(params) == "1" || first(params) == "true"
		_, err = m.call(ctx, "player_queues/shuffle", queueArgs)
	case CmdPosition:
		seconds, convErr := firstInt(params)
		if convErr != nil {
			return convErr
		}
		playerArgs["position"] = seconds
		_, err = m.call(ctx, "players/cmd/seek", playerArgs)
	case CmdQueue:
		err = m.sendQueueCommand(ctx, queueArgs, params)
	case CmdServicePlay, CmdPlaylistPlay:
		err = m.playMedia(ctx, first(params))
	case CmdAnnounce:
		err = m.announcePayload(ctx, first(params))
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("music assistant does not handle %q", command))
	}
	return err
}

func (m *MusicAssistant) sendQueueCommand(ctx context.Context, queueArgs map[string]any, params []string) error {
	if len(params) == 0 {
		return apperrors.NewDispatchFailed("queue command requires a subcommand")
	}
	switch params[0] {
	case "play":
		index, err := strconv.Atoi(first(params[1:]))
		if err != nil {
			return apperrors.NewDispatchFailed("queue play requires a numeric index")
		}
		queueArgs["index"] = index
		_, err = m.call(ctx, "player_queues/play_index", queueArgs)
		return err
	case "clear":
		_, err := m.call(ctx, "player_queues/clear", queueArgs)
		return err
	case "remove":
		queueArgs["item_id_or_index"] = first(params[1:])
		_, err := m.call(ctx, "player_queues/delete_item", queueArgs)
		return err
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("unknown queue subcommand %q", params[0]))
	}
}

// playMedia accepts the serviceplay/playlistplay JSON payload and forwards
// the contained uri(s).
func (m *MusicAssistant) playMedia(ctx context.Context, payload string) error {
	var media struct {
		URI     string   `json:"uri"`
		URIs    []string `json:"uris"`
		Shuffle bool     `json:"shuffle"`
	}
	if err := json.Unmarshal([]byte(payload), &media); err != nil {
		return apperrors.NewDispatchFailed("malformed media payload")
	}
	uris := media.URIs
	if len(uris) == 0 && media.URI != "" {
		uris = []string{media.URI}
	}
	if len(uris) == 0 {
		return apperrors.NewDispatchFailed("media payload carries no uri")
	}

	if media.Shuffle {
		if err := m.SendCommand(ctx, CmdShuffle, "1"); err != nil {
			m.logger.Warn().Err(err).Msg("shuffle before play failed")
		}
	}
	_, err := m.call(ctx, "player_queues/play_media", map[string]any{
		"queue_id": m.binding.MAPlayerID,
		"media":    uris,
		"option":   "replace",
	})
	return err
}

// announcePayload plays a one-shot announcement. Only the url survives;
// richer metadata in the payload is discarded.
func (m *MusicAssistant) announcePayload(ctx context.Context, payload string) error {
	var announcement struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(payload), &announcement); err != nil || announcement.URL == "" {
		return apperrors.NewDispatchFailed("announce payload requires a url")
	}
	return m.Announce(ctx, announcement.URL)
}

// Announce implements the optional Announcer capability.
func (m *MusicAssistant) Announce(ctx context.Context, url string) error {
	_, err := m.call(ctx, "players/cmd/play_announcement", map[string]any{
		"player_id": m.binding.MAPlayerID,
		"url":       url,
	})
	return err
}

// SendGroupCommand maps group operations onto Music Assistant grouping RPCs.
func (m *MusicAssistant) SendGroupCommand(ctx context.Context, command Command, groupType string, leader string, others ...string) error {
	switch command {
	case CmdGroupJoinMany:
		_, err := m.call(ctx, "players/cmd/group_many", map[string]any{
			"target_player": leader,
			"child_player_ids": others,
		})
		return err
	case CmdGroupLeaveMany:
		_, err := m.call(ctx, "players/cmd/ungroup_many", map[string]any{
			"player_ids": append([]string{leader}, others...),
		})
		return err
	case CmdGroupLeave:
		_, err := m.call(ctx, "players/cmd/ungroup", map[string]any{"player_id": leader})
		return err
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("unknown group command %q", command))
	}
}

// Cleanup closes the websocket session. Safe to call repeatedly.
func (m *MusicAssistant) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	for id, ch := range m.pending {
		ch <- maResult{err: apperrors.NewBackendUnreachable("backend cleaned up")}
		delete(m.pending, id)
	}
}

// musicAssistantPlayers enumerates players over the plain HTTP API.
func musicAssistantPlayers(ctx context.Context, host string, timeout time.Duration) ([]PlayerInfo, error) {
	url := fmt.Sprintf("http://%s:%d/api/players", host, maWebsocketPort)
	var players []struct {
		PlayerID string `json:"player_id"`
		Name     string `json:"name"`
	}
	if err := getJSON(ctx, url, timeout, &players); err != nil {
		return nil, err
	}
	result := make([]PlayerInfo, 0, len(players))
	for _, player := range players {
		result = append(result, PlayerInfo{ID: player.PlayerID, Name: player.Name})
	}
	return result, nil
}

// getJSON fetches a JSON document with a bounded timeout.
func getJSON(ctx context.Context, url string, timeout time.Duration, target any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return apperrors.NewBackendUnreachable(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewDispatchFailed(fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, url))
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func first(params []string) string {
	if len(params) == 0 {
		return ""
	}
	return params[0]
}

func firstInt(params []string) (int, error) {
	value, err := strconv.Atoi(first(params))
	if err != nil {
		return 0, apperrors.NewDispatchFailed("numeric parameter required")
	}
	return value, nil
}

func maRepeatMode(mode string) string {
	switch mode {
	case "track":
		return "one"
	case "queue":
		return "all"
	default:
		return "off"
	}
}
