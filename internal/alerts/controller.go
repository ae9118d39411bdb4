package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/backend"
	"github.com/loxgrid/audioserver-bridge/internal/fade"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

// Per-target outcome statuses. "ok" means the alert reached the zone.
const (
	StatusOK                = "ok"
	SkipInvalidZone         = "invalid-zone"
	SkipUnknownZone         = "unknown-zone"
	SkipDispatchFailed      = "dispatch-failed"
	SkipRepeatFailed        = "repeat-failed"
	SkipRepeatRestoreFailed = "repeat-restore-failed"
	SkipPauseFailed         = "pause-failed"
	SkipNoTargets           = "no-targets"
	SkipMediaUnavailable    = "media-unavailable"
)

// Zones is the slice of the registry the alert controller needs.
type Zones interface {
	GetZone(id int) (zone.Zone, bool)
	SendCommandToZone(ctx context.Context, id int, command backend.Command, params ...string) error
}

// TargetResult reports one zone's outcome.
type TargetResult struct {
	PlayerID int    `json:"playerid"`
	Status   string `json:"status"`
}

// Result is the dispatcher-facing payload of one alert request.
type Result struct {
	Type    string         `json:"type"`
	Action  string         `json:"action"`
	Targets []TargetResult `json:"targets"`
}

// snapshot is the saved per-(zone,type) state needed to undo an alert.
type snapshot struct {
	zoneID         int
	alertType      string
	originalVolume int
	savedRepeat    string
	looping        bool
	fading         bool
}

// Controller runs the alert state machine, one entry per (zone, type).
type Controller struct {
	mu     sync.Mutex
	active map[string]*snapshot

	zones  Zones
	fader  *fade.Controller
	media  Media
	logger zerolog.Logger
}

func NewController(zones Zones, fader *fade.Controller, media Media, logger zerolog.Logger) *Controller {
	return &Controller{
		active: make(map[string]*snapshot),
		zones:  zones,
		fader:  fader,
		media:  media,
		logger: logger.With().Str("component", "alerts").Logger(),
	}
}

func alertKey(zoneID int, alertType string) string {
	return fmt.Sprintf("%d:%s", zoneID, alertType)
}

// Start fires an alert at every target zone. The payload is the TTS text for
// type tts and ignored otherwise.
func (c *Controller) Start(ctx context.Context, alertType string, targets []int, payload string, options Options) Result {
	result := Result{Type: alertType, Action: "start"}
	if len(targets) == 0 {
		result.Targets = append(result.Targets, TargetResult{Status: SkipNoTargets})
		return result
	}

	mediaURL, ok := c.resolveMedia(alertType, payload)
	if !ok {
		for _, id := range targets {
			result.Targets = append(result.Targets, TargetResult{PlayerID: id, Status: SkipMediaUnavailable})
		}
		return result
	}

	for _, id := range targets {
		result.Targets = append(result.Targets, TargetResult{
			PlayerID: id,
			Status:   c.startOne(ctx, id, alertType, mediaURL, options),
		})
	}
	return result
}

func (c *Controller) resolveMedia(alertType, payload string) (string, bool) {
	if alertType == TypeTTS {
		lang, text := ParseTTS(payload)
		if text == "" {
			return "", false
		}
		return c.media.TTSURL(lang, text), true
	}
	return c.media.AlertURL(alertType)
}

func (c *Controller) startOne(ctx context.Context, id int, alertType, mediaURL string, options Options) string {
	if id <= 0 {
		return SkipInvalidZone
	}
	z, ok := c.zones.GetZone(id)
	if !ok {
		return SkipUnknownZone
	}

	looping := isLooping(alertType)
	targetVolume := z.Volumes.PresetFor(alertType, z.State.Volume)

	snap := &snapshot{
		zoneID:         id,
		alertType:      alertType,
		originalVolume: z.State.Volume,
		looping:        looping,
		fading:         options.Fading,
	}

	if options.Fading {
		// Prime to silence before the media starts.
		if err := c.zones.SendCommandToZone(ctx, id, backend.CmdVolume, "-100"); err != nil {
			c.logger.Warn().Err(err).Int("zone", id).Msg("volume prime failed")
		}
	}

	if err := c.dispatchPlayback(ctx, id, z, alertType, mediaURL, looping); err != nil {
		return SkipDispatchFailed
	}

	if options.Fading {
		// Backends may reset volume on play; force silence again.
		if err := c.zones.SendCommandToZone(ctx, id, backend.CmdVolume, "-100"); err != nil {
			c.logger.Warn().Err(err).Int("zone", id).Msg("volume re-prime failed")
		}
	}

	if looping {
		snap.savedRepeat = z.State.Repeat
		if err := c.zones.SendCommandToZone(ctx, id, backend.CmdRepeat, zone.RepeatTrack); err != nil {
			c.store(snap)
			return SkipRepeatFailed
		}
	}

	if options.Fading {
		c.fader.Schedule(alertKey(id, alertType), 0, targetVolume, options.FadeDuration,
			func(volume int) error {
				return c.zones.SendCommandToZone(context.Background(), id, backend.CmdVolume, strconv.Itoa(volume))
			}, nil)
	} else if targetVolume != z.State.Volume {
		if err := c.zones.SendCommandToZone(ctx, id, backend.CmdVolume, strconv.Itoa(targetVolume)); err != nil {
			c.logger.Warn().Err(err).Int("zone", id).Msg("alert volume set failed")
		}
	}

	c.store(snap)
	return StatusOK
}

// dispatchPlayback picks announce for Music Assistant zones running a
// non-looping alert, serviceplay everywhere else.
func (c *Controller) dispatchPlayback(ctx context.Context, id int, z zone.Zone, alertType, mediaURL string, looping bool) error {
	if z.Binding.Kind == backend.KindMusicAssistant && !looping {
		payload, _ := json.Marshal(map[string]string{"url": mediaURL})
		return c.zones.SendCommandToZone(ctx, id, backend.CmdAnnounce, string(payload))
	}
	return c.zones.SendCommandToZone(ctx, id, backend.CmdServicePlay, mediaURL)
}

func (c *Controller) store(snap *snapshot) {
	c.mu.Lock()
	c.active[alertKey(snap.zoneID, snap.alertType)] = snap
	c.mu.Unlock()
}

// Stop ends an alert on the target zones. With no explicit targets every
// zone with an active alert of this type is stopped.
func (c *Controller) Stop(ctx context.Context, alertType string, targets []int) Result {
	result := Result{Type: alertType, Action: "stop"}

	if len(targets) == 0 {
		targets = c.activeZones(alertType)
	}
	if len(targets) == 0 {
		result.Targets = append(result.Targets, TargetResult{Status: SkipNoTargets})
		return result
	}

	for _, id := range targets {
		result.Targets = append(result.Targets, TargetResult{
			PlayerID: id,
			Status:   c.stopOne(ctx, id, alertType),
		})
	}
	return result
}

func (c *Controller) activeZones(alertType string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int
	for _, snap := range c.active {
		if snap.alertType == alertType {
			ids = append(ids, snap.zoneID)
		}
	}
	return ids
}

func (c *Controller) stopOne(ctx context.Context, id int, alertType string) string {
	key := alertKey(id, alertType)

	c.mu.Lock()
	snap, exists := c.active[key]
	delete(c.active, key)
	c.mu.Unlock()

	c.fader.Cancel(key)
	if !exists {
		return SkipUnknownZone
	}

	status := StatusOK
	if snap.looping {
		restored := snap.savedRepeat
		if restored == "" {
			restored = zone.RepeatOff
		}
		if err := c.zones.SendCommandToZone(ctx, id, backend.CmdRepeat, restored); err != nil {
			status = SkipRepeatRestoreFailed
		}
	}

	if snap.fading {
		z, ok := c.zones.GetZone(id)
		from := snap.originalVolume
		if ok {
			from = z.State.Volume
		}
		original := snap.originalVolume
		// The ramp-out always runs over the default duration; the start-side
		// fadingTime does not carry over to stop.
		c.fader.Schedule(key, from, 0, fade.DefaultDuration,
			func(volume int) error {
				return c.zones.SendCommandToZone(context.Background(), id, backend.CmdVolume, strconv.Itoa(volume))
			},
			func() {
				if err := c.zones.SendCommandToZone(context.Background(), id, backend.CmdPause); err != nil {
					c.logger.Warn().Err(err).Int("zone", id).Msg("pause after fade-out failed")
				}
				if err := c.zones.SendCommandToZone(context.Background(), id, backend.CmdVolume, strconv.Itoa(original)); err != nil {
					c.logger.Warn().Err(err).Int("zone", id).Msg("volume restore failed")
				}
			})
		return status
	}

	if err := c.zones.SendCommandToZone(ctx, id, backend.CmdPause); err != nil {
		if status == StatusOK {
			status = SkipPauseFailed
		}
	}
	return status
}

// StopAll cancels every active alert, used during shutdown.
func (c *Controller) StopAll(ctx context.Context) {
	c.mu.Lock()
	snaps := make([]*snapshot, 0, len(c.active))
	for _, snap := range c.active {
		snaps = append(snaps, snap)
	}
	c.mu.Unlock()

	for _, snap := range snaps {
		c.stopOne(ctx, snap.zoneID, snap.alertType)
	}
}
