package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
)

const beolinkPort = 8080

// Beolink drives a Bang & Olufsen product through the BeoRemote One REST API.
type Beolink struct {
	binding Binding
	sink    EventSink
	client  *http.Client
	logger  zerolog.Logger
}

func NewBeolink(binding Binding, sink EventSink, timeout time.Duration, logger zerolog.Logger) *Beolink {
	return &Beolink{
		binding: binding,
		sink:    sink,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (b *Beolink) Kind() Kind { return KindBeolink }

// Initialize checks that the device answers on its BeoDevice descriptor.
func (b *Beolink) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url("/BeoDevice"), nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("beolink at %s: %v", b.binding.Host, err))
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("beolink at %s answered %d", b.binding.Host, resp.StatusCode))
	}
	b.logger.Info().Str("host", b.binding.Host).Msg("beolink device reachable")
	return nil
}

func (b *Beolink) SendCommand(ctx context.Context, command Command, params ...string) error {
	switch command {
	case CmdPlay, CmdResume, CmdOn:
		return b.post(ctx, "/BeoZone/Zone/Stream/Play", nil)
	case CmdPause:
		return b.post(ctx, "/BeoZone/Zone/Stream/Pause", nil)
	case CmdStop, CmdOff:
		return b.post(ctx, "/BeoZone/Zone/Stream/Stop", nil)
	case CmdQueuePlus:
		return b.post(ctx, "/BeoZone/Zone/Stream/Forward", nil)
	case CmdQueueMinus:
		return b.post(ctx, "/BeoZone/Zone/Stream/Backward", nil)
	case CmdVolume:
		delta, err := firstInt(params)
		if err != nil {
			return err
		}
		return b.put(ctx, "/BeoZone/Zone/Sound/Volume/Speaker/Level", map[string]any{"relative": delta})
	case CmdRepeat:
		return b.put(ctx, "/BeoZone/Zone/PlayQueue/Repeat", map[string]any{"repeat": beolinkRepeat(first(params))})
	case CmdShuffle:
		random := first(params) == "1" || first(params) == "true"
		return b.put(ctx, "/BeoZone/Zone/PlayQueue/Random", map[string]any{"random": random})
	case CmdServicePlay, CmdPlaylistPlay:
		return b.playMedia(ctx, first(params))
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("beolink does not handle %q", command))
	}
}

func (b *Beolink) playMedia(ctx context.Context, payload string) error {
	var media struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal([]byte(payload), &media); err != nil || media.URI == "" {
		return apperrors.NewDispatchFailed("media payload requires a uri")
	}
	return b.post(ctx, "/BeoZone/Zone/PlayQueue", map[string]any{
		"playQueueItem": map[string]any{"behaviour": "planned", "station": map[string]any{"url": media.URI}},
	})
}

func (b *Beolink) SendGroupCommand(ctx context.Context, command Command, groupType string, leader string, others ...string) error {
	switch command {
	case CmdGroupJoinMany:
		return b.post(ctx, "/BeoZone/Zone/Device/OneWayJoin", map[string]any{"listener": others})
	case CmdGroupLeave, CmdGroupLeaveMany:
		return b.post(ctx, "/BeoZone/Zone/Device/OneWayJoin/Release", nil)
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("unknown group command %q", command))
	}
}

func (b *Beolink) Cleanup() {}

func (b *Beolink) url(path string) string {
	return fmt.Sprintf("http://%s:%d%s", b.binding.Host, beolinkPort, path)
}

func (b *Beolink) post(ctx context.Context, path string, body map[string]any) error {
	return b.send(ctx, http.MethodPost, path, body)
}

func (b *Beolink) put(ctx context.Context, path string, body map[string]any) error {
	return b.send(ctx, http.MethodPut, path, body)
}

func (b *Beolink) send(ctx context.Context, method, path string, body map[string]any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.url(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("beolink %s %s: %v", method, path, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperrors.NewDispatchFailed(fmt.Sprintf("beolink rejected %s with status %d", path, resp.StatusCode))
	}
	return nil
}

func beolinkRepeat(repeat string) string {
	switch repeat {
	case "track":
		return "repeatCurrentItem"
	case "queue":
		return "repeatAll"
	default:
		return "repeatOff"
	}
}

// beolinkPlayers lists the single zone a BeoLink device exposes.
func beolinkPlayers(ctx context.Context, host string, timeout time.Duration) ([]PlayerInfo, error) {
	url := fmt.Sprintf("http://%s:%d/BeoDevice", host, beolinkPort)
	var device struct {
		BeoDevice struct {
			ProductFriendlyName struct {
				Name string `json:"productFriendlyName"`
			} `json:"productFriendlyName"`
			ProductID struct {
				SerialNumber string `json:"serialNumber"`
			} `json:"productId"`
		} `json:"beoDevice"`
	}
	if err := getJSON(ctx, url, timeout, &device); err != nil {
		return nil, err
	}
	name := device.BeoDevice.ProductFriendlyName.Name
	if name == "" {
		name = host
	}
	return []PlayerInfo{{ID: device.BeoDevice.ProductID.SerialNumber, Name: name}}, nil
}
