package backend

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
)

const sonosSoapPort = 1400

// Sonos drives a Sonos player through its local UPnP control endpoints.
// Each command is one SOAP POST; there is no persistent session.
type Sonos struct {
	binding Binding
	sink    EventSink
	client  *http.Client
	logger  zerolog.Logger
}

func NewSonos(binding Binding, sink EventSink, timeout time.Duration, logger zerolog.Logger) *Sonos {
	return &Sonos{
		binding: binding,
		sink:    sink,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *Sonos) Kind() Kind { return KindSonos }

// Initialize probes the device description endpoint to verify reachability.
func (s *Sonos) Initialize(ctx context.Context) error {
	url := fmt.Sprintf("http://%s:%d/xml/device_description.xml", s.binding.Host, sonosSoapPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("sonos at %s: %v", s.binding.Host, err))
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("sonos at %s answered %d", s.binding.Host, resp.StatusCode))
	}
	s.logger.Info().Str("host", s.binding.Host).Msg("sonos device reachable")
	return nil
}

func (s *Sonos) SendCommand(ctx context.Context, command Command, params ...string) error {
	switch command {
	case CmdPlay, CmdResume, CmdOn:
		return s.avTransport(ctx, "Play", map[string]string{"Speed": "1"})
	case CmdPause:
		return s.avTransport(ctx, "Pause", nil)
	case CmdStop, CmdOff:
		return s.avTransport(ctx, "Stop", nil)
	case CmdQueuePlus:
		return s.avTransport(ctx, "Next", nil)
	case CmdQueueMinus:
		return s.avTransport(ctx, "Previous", nil)
	case CmdVolume:
		delta, err := firstInt(params)
		if err != nil {
			return err
		}
		return s.renderingControl(ctx, "SetRelativeVolume", map[string]string{
			"Channel":    "Master",
			"Adjustment": strconv.Itoa(delta),
		})
	case CmdRepeat:
		return s.avTransport(ctx, "SetPlayMode", map[string]string{"NewPlayMode": sonosPlayMode(first(params))})
	case CmdShuffle:
		mode := "NORMAL"
		if first(params) == "1" || first(params) == "true" {
			mode = "SHUFFLE_NOREPEAT"
		}
		return s.avTransport(ctx, "SetPlayMode", map[string]string{"NewPlayMode": mode})
	case CmdPosition:
		seconds, err := firstInt(params)
		if err != nil {
			return err
		}
		return s.avTransport(ctx, "Seek", map[string]string{
			"Unit":   "REL_TIME",
			"Target": formatSonosTime(seconds),
		})
	case CmdQueue:
		return s.queueCommand(ctx, params)
	case CmdServicePlay, CmdPlaylistPlay:
		return s.playMedia(ctx, first(params))
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("sonos does not handle %q", command))
	}
}

func (s *Sonos) queueCommand(ctx context.Context, params []string) error {
	if len(params) == 0 {
		return apperrors.NewDispatchFailed("queue command requires a subcommand")
	}
	switch params[0] {
	case "play":
		// Sonos queue tracks are 1-based.
		index, err := strconv.Atoi(first(params[1:]))
		if err != nil {
			return apperrors.NewDispatchFailed("queue play requires a numeric index")
		}
		return s.avTransport(ctx, "Seek", map[string]string{
			"Unit":   "TRACK_NR",
			"Target": strconv.Itoa(index + 1),
		})
	case "clear":
		return s.avTransport(ctx, "RemoveAllTracksFromQueue", nil)
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("unknown queue subcommand %q", params[0]))
	}
}

func (s *Sonos) playMedia(ctx context.Context, payload string) error {
	var media struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal([]byte(payload), &media); err != nil || media.URI == "" {
		return apperrors.NewDispatchFailed("media payload requires a uri")
	}
	if err := s.avTransport(ctx, "SetAVTransportURI", map[string]string{
		"CurrentURI":         media.URI,
		"CurrentURIMetaData": "",
	}); err != nil {
		return err
	}
	return s.avTransport(ctx, "Play", map[string]string{"Speed": "1"})
}

func (s *Sonos) SendGroupCommand(ctx context.Context, command Command, groupType string, leader string, others ...string) error {
	switch command {
	case CmdGroupJoinMany:
		// The join is posted to each follower device; it tunes the follower
		// to the leader's stream.
		for _, follower := range others {
			if err := s.soapCallHost(ctx, follower, "/MediaRenderer/AVTransport/Control",
				"urn:schemas-upnp-org:service:AVTransport:1", "SetAVTransportURI", map[string]string{
					"CurrentURI":         "x-rincon:" + leader,
					"CurrentURIMetaData": "",
				}); err != nil {
				s.logger.Warn().Str("follower", follower).Err(err).Msg("group join failed")
				return err
			}
		}
		return nil
	case CmdGroupLeave, CmdGroupLeaveMany:
		return s.avTransport(ctx, "BecomeCoordinatorOfStandaloneGroup", nil)
	default:
		return apperrors.NewDispatchFailed(fmt.Sprintf("unknown group command %q", command))
	}
}

func (s *Sonos) Cleanup() {}

func (s *Sonos) avTransport(ctx context.Context, action string, args map[string]string) error {
	return s.soapCall(ctx, "/MediaRenderer/AVTransport/Control",
		"urn:schemas-upnp-org:service:AVTransport:1", action, args)
}

func (s *Sonos) renderingControl(ctx context.Context, action string, args map[string]string) error {
	return s.soapCall(ctx, "/MediaRenderer/RenderingControl/Control",
		"urn:schemas-upnp-org:service:RenderingControl:1", action, args)
}

// soapCall issues one UPnP SOAP action against this player.
func (s *Sonos) soapCall(ctx context.Context, path, service, action string, args map[string]string) error {
	return s.soapCallHost(ctx, s.binding.Host, path, service, action, args)
}

// soapCallHost issues one UPnP SOAP action against an arbitrary device.
// InstanceID 0 addresses the player itself.
func (s *Sonos) soapCallHost(ctx context.Context, host, path, service, action string, args map[string]string) error {
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	body.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&body, `<u:%s xmlns:u="%s"><InstanceID>0</InstanceID>`, action, service)
	for key, value := range args {
		var escaped strings.Builder
		_ = xml.EscapeText(&escaped, []byte(value))
		fmt.Fprintf(&body, "<%s>%s</%s>", key, escaped.String(), key)
	}
	fmt.Fprintf(&body, "</u:%s></s:Body></s:Envelope>", action)

	url := fmt.Sprintf("http://%s:%d%s", host, sonosSoapPort, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf("%q", service+"#"+action))

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("sonos %s: %v", action, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewDispatchFailed(fmt.Sprintf("sonos rejected %s with status %d", action, resp.StatusCode))
	}
	return nil
}

func sonosPlayMode(repeat string) string {
	switch repeat {
	case "track":
		return "REPEAT_ONE"
	case "queue":
		return "REPEAT_ALL"
	default:
		return "NORMAL"
	}
}

func formatSonosTime(seconds int) string {
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// sonosPlayers reads the household topology from one device.
func sonosPlayers(ctx context.Context, host string, timeout time.Duration) ([]PlayerInfo, error) {
	url := fmt.Sprintf("http://%s:%d/status/topology", host, sonosSoapPort)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apperrors.NewBackendUnreachable(err.Error())
	}
	defer resp.Body.Close()

	var topology struct {
		Players []struct {
			UUID string `xml:"uuid,attr"`
			Name string `xml:",chardata"`
		} `xml:"ZonePlayers>ZonePlayer"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&topology); err != nil {
		return nil, err
	}
	players := make([]PlayerInfo, 0, len(topology.Players))
	for _, player := range topology.Players {
		players = append(players, PlayerInfo{ID: player.UUID, Name: strings.TrimSpace(player.Name)})
	}
	return players, nil
}
