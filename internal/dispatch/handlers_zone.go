package dispatch

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
	"github.com/loxgrid/audioserver-bridge/internal/backend"
	"github.com/loxgrid/audioserver-bridge/internal/fade"
	"github.com/loxgrid/audioserver-bridge/internal/provider"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

var zoneVerbs = map[string]backend.Command{
	"on":         backend.CmdOn,
	"off":        backend.CmdOff,
	"play":       backend.CmdPlay,
	"resume":     backend.CmdResume,
	"pause":      backend.CmdPause,
	"queueminus": backend.CmdQueueMinus,
	"queueplus":  backend.CmdQueuePlus,
	"queue":      backend.CmdQueue,
	"volume":     backend.CmdVolume,
	"repeat":     backend.CmdRepeat,
	"shuffle":    backend.CmdShuffle,
	"position":   backend.CmdPosition,
}

func (d *Dispatcher) handleStatus(_ context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	z, ok := d.registry.GetZone(id)
	if !ok {
		d.logger.Warn().Int("zone", id).Msg("status for unknown zone")
		return EmptyResult("status")
	}
	return CommandResult{Name: "status", Payload: []any{zone.StatusEntry(z)}}
}

func (d *Dispatcher) handleGetQueue(_ context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	z, ok := d.registry.GetZone(id)
	if !ok {
		return EmptyResult("getqueue")
	}
	items := z.Queue.Items
	if items == nil {
		items = []zone.QueueItem{}
	}
	return CommandResult{Name: "getqueue", Payload: []any{map[string]any{
		"id":         id,
		"items":      items,
		"shuffle":    z.Queue.Shuffle,
		"start":      0,
		"totalitems": z.Queue.Total,
	}}}
}

func (d *Dispatcher) handleRecent(_ context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	if req.Matches[2] == "clear" {
		if err := d.recents.Clear(id); err != nil {
			return failure("recent", err)
		}
		return CommandResult{Name: "recent", Payload: true}
	}
	recents, err := d.recents.ListByZone(id, 30)
	if err != nil {
		return failure("recent", err)
	}
	if recents == nil {
		recents = []provider.Recent{}
	}
	return CommandResult{Name: "recent", Payload: recents}
}

func (d *Dispatcher) handleServicePlay(ctx context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	service, user, stationID := req.Matches[2], req.Matches[3], req.Matches[4]

	resolved, err := d.provider.ResolveStation(ctx, service, user, stationID)
	if err != nil {
		return failure("serviceplay", err)
	}
	if err := d.registry.SendCommandToZone(ctx, id, backend.CmdServicePlay, resolved.URI); err != nil {
		return d.zoneFailure("serviceplay", id, err)
	}
	d.recordPlay(id, resolved.Name, resolved.URI)
	return CommandResult{Name: "serviceplay", Payload: []any{}}
}

func (d *Dispatcher) handlePlaylistPlay(ctx context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	path, query := splitQuery(req.Matches[2])

	resolved, err := d.provider.ResolvePlaylist(ctx, path, query.Get("item"))
	if err != nil {
		return failure("playlist", err)
	}
	if err := d.registry.SendCommandToZone(ctx, id, backend.CmdPlaylistPlay, playbackParams(resolved, query.Has("shuffle"))...); err != nil {
		return d.zoneFailure("playlist", id, err)
	}
	d.recordPlay(id, resolved.Name, resolved.URI)
	return CommandResult{Name: "playlist", Payload: []any{}}
}

func (d *Dispatcher) handleLibraryPlay(ctx context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	rest := req.Matches[2]

	shuffle := false
	if trimmed, ok := strings.CutSuffix(rest, "/shuffle"); ok {
		rest, shuffle = trimmed, true
	} else if trimmed, ok := strings.CutSuffix(rest, "/noshuffle"); ok {
		rest = trimmed
	}
	mediaID := rest
	if before, _, found := strings.Cut(rest, "/parentid/"); found {
		mediaID = before
	}

	// A track already sitting in the queue jumps there instead of
	// restarting the playlist.
	if qindex := d.registry.FindQueueIndex(id, mediaID); qindex >= 0 {
		if err := d.registry.SendCommandToZone(ctx, id, backend.CmdQueue, "play", strconv.Itoa(qindex)); err != nil {
			return d.zoneFailure("library", id, err)
		}
		return CommandResult{Name: "library", Payload: []any{}}
	}

	resolved, err := d.provider.ResolveMediaItem(ctx, mediaID)
	if err != nil {
		return failure("library", err)
	}
	if err := d.registry.SendCommandToZone(ctx, id, backend.CmdPlaylistPlay, playbackParams(resolved, shuffle)...); err != nil {
		return d.zoneFailure("library", id, err)
	}
	d.recordPlay(id, resolved.Name, resolved.URI)
	return CommandResult{Name: "library", Payload: []any{}}
}

func (d *Dispatcher) handlePlayURL(ctx context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	uri, query := splitQuery(req.Matches[2])

	var resolved provider.Resolved
	var err error
	if playlistID := query.Get("playlistId"); playlistID != "" {
		resolved, err = d.provider.ResolvePlaylist(ctx, playlistID, query.Get("item"))
	} else {
		resolved, err = d.provider.ResolveMediaItem(ctx, uri)
	}
	if err != nil {
		return failure("playurl", err)
	}
	shuffle := query.Get("shuffle") == "1" || strings.EqualFold(query.Get("shuffle"), "true")
	if err := d.registry.SendCommandToZone(ctx, id, backend.CmdPlaylistPlay, playbackParams(resolved, shuffle)...); err != nil {
		return d.zoneFailure("playurl", id, err)
	}
	d.recordPlay(id, resolved.Name, resolved.URI)
	return CommandResult{Name: "playurl", Payload: []any{}}
}

func (d *Dispatcher) handleRoomFavPlay(ctx context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	slot := zoneID(req.Matches[2])
	shuffle := req.Matches[4] != ""

	favorite, err := d.favorites.GetBySlot(id, slot)
	if err != nil {
		return failure("roomfav", err)
	}
	if favorite == nil {
		return failure("roomfav", apperrors.NewConfigInvalid("no favourite at slot "+req.Matches[2], nil))
	}

	resolved, err := d.provider.ResolveMediaItem(ctx, favorite.AudioPath)
	if err != nil {
		return failure("roomfav", err)
	}
	if err := d.registry.SendCommandToZone(ctx, id, backend.CmdPlaylistPlay, playbackParams(resolved, shuffle)...); err != nil {
		return d.zoneFailure("roomfav", id, err)
	}
	d.recordPlay(id, favorite.Name, favorite.AudioPath)
	d.fadeInToPreset(id)
	return CommandResult{Name: "roomfav", Payload: []any{}}
}

// fadeInToPreset ramps a zone from silence to its default preset after a
// favourite starts.
func (d *Dispatcher) fadeInToPreset(id int) {
	z, ok := d.registry.GetZone(id)
	if !ok || z.Volumes.Default == nil {
		return
	}
	target := z.Volumes.Cap(*z.Volumes.Default)
	d.fader.Schedule("roomfav:"+strconv.Itoa(id), 0, target, fade.DefaultDuration,
		func(volume int) error {
			return d.registry.SendCommandToZone(context.Background(), id, backend.CmdVolume, strconv.Itoa(volume))
		}, nil)
}

func (d *Dispatcher) handleMasterVolume(ctx context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	target, _ := strconv.Atoi(req.Matches[2])

	result, err := d.registry.ApplyMasterVolumeToGroup(ctx, id, target)
	if err != nil {
		return d.zoneFailure("mastervolume", id, err)
	}
	return CommandResult{Name: "mastervolume", Payload: result}
}

func (d *Dispatcher) handleZoneVerb(ctx context.Context, req Request) CommandResult {
	id := zoneID(req.Matches[1])
	verb := req.Matches[2]

	if verb == "test" {
		return CommandResult{Name: "test", Payload: []any{}}
	}

	var params []string
	if req.Matches[3] != "" {
		params = strings.Split(req.Matches[3], "/")
	}
	if err := d.registry.SendCommandToZone(ctx, id, zoneVerbs[verb], params...); err != nil {
		return d.zoneFailure(verb, id, err)
	}
	return CommandResult{Name: verb, Payload: []any{}}
}

// handleLibraryAlias rewrites albums:/artists:/tracks: shorthands onto the
// library route and re-dispatches.
func (d *Dispatcher) handleLibraryAlias(ctx context.Context, req Request) CommandResult {
	rewritten := "audio/" + req.Matches[1] + "/library/play/" + req.Matches[2]
	result, matched := d.router.Dispatch(ctx, rewritten)
	if !matched {
		return EmptyResult("library")
	}
	return result
}

// zoneFailure logs a per-zone dispatch error and shapes the response: unknown
// zones answer with the empty envelope, everything else with {success:false}.
func (d *Dispatcher) zoneFailure(name string, id int, err error) CommandResult {
	if apperrors.Is(err, apperrors.ErrorCodeZoneNotFound) {
		d.logger.Warn().Int("zone", id).Msg("command for unknown zone")
		return EmptyResult(name)
	}
	d.logger.Warn().Err(err).Int("zone", id).Str("handler", name).Msg("zone command failed")
	return failure(name, err)
}

func (d *Dispatcher) recordPlay(id int, title, audioPath string) {
	if title == "" {
		title = audioPath
	}
	if err := d.recents.Record(id, title, audioPath, ""); err != nil {
		d.logger.Warn().Err(err).Int("zone", id).Msg("recording recent play failed")
	}
}

func playbackParams(resolved provider.Resolved, shuffle bool) []string {
	params := []string{}
	if len(resolved.URIs) > 0 {
		params = append(params, resolved.URIs...)
	} else if resolved.URI != "" {
		params = append(params, resolved.URI)
	}
	if shuffle || resolved.Shuffle {
		params = append(params, "shuffle")
	}
	return params
}

// splitQuery separates the query-string tail some play commands carry.
func splitQuery(raw string) (string, url.Values) {
	path, rawQuery, _ := strings.Cut(raw, "?")
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path, url.Values{}
	}
	return path, values
}
