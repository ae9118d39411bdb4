package dispatch

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
)

const (
	defaultBrowseLimit = 50
	defaultFavsLimit   = 10
)

// pageArgs reads optional offset/limit path segments starting at index.
func pageArgs(segments []string, index, defaultLimit int) (offset, limit int) {
	limit = defaultLimit
	if len(segments) > index {
		if n, err := strconv.Atoi(segments[index]); err == nil {
			offset = n
		}
	}
	if len(segments) > index+1 {
		if n, err := strconv.Atoi(segments[index+1]); err == nil && n > 0 {
			limit = n
		}
	}
	return offset, limit
}

func (d *Dispatcher) handleGetMediaFolder(ctx context.Context, req Request) CommandResult {
	folderID := ""
	if len(req.Segments) > 3 {
		folderID = req.Segments[3]
	}
	offset, limit := pageArgs(req.Segments, 4, defaultBrowseLimit)
	page, err := d.provider.GetMediaFolder(ctx, folderID, offset, limit)
	if err != nil {
		return failure("getmediafolder", err)
	}
	return CommandResult{Name: "getmediafolder", Payload: []any{page}}
}

func (d *Dispatcher) handleGetRadios(ctx context.Context, _ Request) CommandResult {
	radios, err := d.provider.GetRadios(ctx)
	if err != nil {
		return failure("getradios", err)
	}
	return CommandResult{Name: "getradios", Payload: radios}
}

func (d *Dispatcher) handleGetPlaylists(ctx context.Context, req Request) CommandResult {
	offset, limit := pageArgs(req.Segments, 3, defaultBrowseLimit)
	page, err := d.provider.GetPlaylists(ctx, offset, limit)
	if err != nil {
		return failure("getplaylists2", err)
	}
	return CommandResult{Name: "getplaylists2", Payload: []any{page}}
}

func (d *Dispatcher) handleGetServiceFolder(ctx context.Context, req Request) CommandResult {
	if len(req.Segments) < 6 {
		return failure("getservicefolder", apperrors.NewConfigInvalid("missing service, user or folder", nil))
	}
	service, user, folderID := req.Segments[3], req.Segments[4], req.Segments[5]
	offset, limit := pageArgs(req.Segments, 6, defaultBrowseLimit)
	page, err := d.provider.GetServiceFolder(ctx, service, user, folderID, offset, limit)
	if err != nil {
		return failure("getservicefolder", err)
	}
	return CommandResult{Name: "getservicefolder", Payload: []any{page}}
}

func (d *Dispatcher) handleGlobalSearch(ctx context.Context, req Request) CommandResult {
	if len(req.Segments) < 4 {
		return failure("globalsearch", apperrors.NewConfigInvalid("missing query", nil))
	}
	results, err := d.provider.GlobalSearch(ctx, req.Segments[len(req.Segments)-1], defaultBrowseLimit)
	if err != nil {
		return failure("globalsearch", err)
	}
	return CommandResult{Name: "globalsearch", Payload: results}
}

func (d *Dispatcher) handleGetAvailableServices(ctx context.Context, _ Request) CommandResult {
	services, err := d.provider.GetAvailableServices(ctx)
	if err != nil {
		return failure("getavailableservices", err)
	}
	return CommandResult{Name: "getavailableservices", Payload: services}
}

func (d *Dispatcher) handleScanStatus(ctx context.Context, _ Request) CommandResult {
	scanning, err := d.provider.ScanStatus(ctx)
	if err != nil {
		return failure("scanstatus", err)
	}
	return CommandResult{Name: "scanstatus", Payload: []any{map[string]int{"scanning": scanning}}}
}

func (d *Dispatcher) handleGetRoomFavs(_ context.Context, req Request) CommandResult {
	if len(req.Segments) < 4 {
		return failure("getroomfavs", apperrors.NewConfigInvalid("missing zone", nil))
	}
	id, err := strconv.Atoi(req.Segments[3])
	if err != nil {
		return failure("getroomfavs", apperrors.NewConfigInvalid("zone id is not numeric", nil))
	}
	offset, limit := pageArgs(req.Segments, 4, defaultFavsLimit)
	favorites, total, err := d.favorites.ListByZone(id, offset, limit)
	if err != nil {
		return failure("getroomfavs", err)
	}
	items := make([]map[string]any, 0, len(favorites))
	for _, favorite := range favorites {
		items = append(items, map[string]any{
			"id":        favorite.Slot,
			"slot":      favorite.Slot,
			"name":      favorite.Name,
			"audiopath": favorite.AudioPath,
			"coverurl":  favorite.CoverURL,
			"plus":      false,
		})
	}
	return CommandResult{Name: "getroomfavs", Payload: []any{map[string]any{
		"id":         id,
		"start":      offset,
		"totalitems": total,
		"items":      items,
	}}}
}

// roomFavPayload is the base64 record of a roomfavs add action.
type roomFavPayload struct {
	Name      string `json:"name"`
	AudioPath string `json:"audiopath"`
	CoverURL  string `json:"coverurl"`
	Provider  string `json:"provider"`
}

func (d *Dispatcher) handleRoomFavs(_ context.Context, req Request) CommandResult {
	if len(req.Segments) < 5 {
		return failure("roomfavs", apperrors.NewConfigInvalid("missing zone or action", nil))
	}
	id, err := strconv.Atoi(req.Segments[3])
	if err != nil {
		return failure("roomfavs", apperrors.NewConfigInvalid("zone id is not numeric", nil))
	}
	action := req.Segments[4]
	args := req.Segments[5:]

	switch action {
	case "add":
		if len(args) < 1 {
			return failure("roomfavs", apperrors.NewConfigInvalid("missing favourite payload", nil))
		}
		raw, err := DecodeURLSafeBase64(args[0])
		if err != nil {
			return failure("roomfavs", apperrors.NewConfigInvalid("payload is not base64", nil))
		}
		var payload roomFavPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return failure("roomfavs", apperrors.NewConfigInvalid("payload is not a favourite record", nil))
		}
		favorite, err := d.favorites.Add(id, payload.Name, payload.AudioPath, payload.CoverURL, payload.Provider)
		if err != nil {
			return failure("roomfavs", err)
		}
		return CommandResult{Name: "roomfavs", Payload: favorite}

	case "delete":
		slot, err := intArg(args, 0)
		if err != nil {
			return failure("roomfavs", err)
		}
		if err := d.favorites.Delete(id, slot); err != nil {
			return failure("roomfavs", err)
		}

	case "reorder":
		from, err := intArg(args, 0)
		if err != nil {
			return failure("roomfavs", err)
		}
		to, err := intArg(args, 1)
		if err != nil {
			return failure("roomfavs", err)
		}
		if err := d.favorites.Reorder(id, from, to); err != nil {
			return failure("roomfavs", err)
		}

	case "copy":
		slot, err := intArg(args, 0)
		if err != nil {
			return failure("roomfavs", err)
		}
		target, err := intArg(args, 1)
		if err != nil {
			return failure("roomfavs", err)
		}
		if _, err := d.favorites.CopyToZone(id, slot, target); err != nil {
			return failure("roomfavs", err)
		}

	case "setid":
		slot, err := intArg(args, 0)
		if err != nil {
			return failure("roomfavs", err)
		}
		newSlot, err := intArg(args, 1)
		if err != nil {
			return failure("roomfavs", err)
		}
		if err := d.favorites.SetSlot(id, slot, newSlot); err != nil {
			return failure("roomfavs", err)
		}

	default:
		return failure("roomfavs", apperrors.NewConfigInvalid("unknown action "+action, nil))
	}
	return CommandResult{Name: "roomfavs", Payload: true}
}

func intArg(args []string, index int) (int, error) {
	if len(args) <= index {
		return 0, apperrors.NewConfigInvalid("missing argument", nil)
	}
	value, err := strconv.Atoi(args[index])
	if err != nil {
		return 0, apperrors.NewConfigInvalid("argument is not numeric", nil)
	}
	return value, nil
}
