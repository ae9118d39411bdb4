package dispatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/alerts"
	"github.com/loxgrid/audioserver-bridge/internal/fade"
	"github.com/loxgrid/audioserver-bridge/internal/groups"
	"github.com/loxgrid/audioserver-bridge/internal/msconfig"
	"github.com/loxgrid/audioserver-bridge/internal/provider"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

// Dispatcher owns the route table and the collaborators the handlers drive.
type Dispatcher struct {
	router       *Router
	registry     *zone.Registry
	tracker      *groups.Tracker
	orchestrator *msconfig.Orchestrator
	provider     provider.MediaProvider
	favorites    *provider.FavoritesRepository
	recents      *provider.RecentsRepository
	alerts       *alerts.Controller
	fader        *fade.Controller
	secure       *secureStub
	logger       zerolog.Logger
	mac          string
}

type Deps struct {
	Registry     *zone.Registry
	Tracker      *groups.Tracker
	Orchestrator *msconfig.Orchestrator
	Provider     provider.MediaProvider
	Favorites    *provider.FavoritesRepository
	Recents      *provider.RecentsRepository
	Alerts       *alerts.Controller
	Fader        *fade.Controller
	MAC          string
	Logger       zerolog.Logger
}

func New(deps Deps) (*Dispatcher, error) {
	secure, err := newSecureStub()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		router:       NewRouter(),
		registry:     deps.Registry,
		tracker:      deps.Tracker,
		orchestrator: deps.Orchestrator,
		provider:     deps.Provider,
		favorites:    deps.Favorites,
		recents:      deps.Recents,
		alerts:       deps.Alerts,
		fader:        deps.Fader,
		secure:       secure,
		logger:       deps.Logger.With().Str("component", "dispatch").Logger(),
		mac:          deps.MAC,
	}
	d.registerRoutes()
	return d, nil
}

func (d *Dispatcher) registerRoutes() {
	r := d.router

	r.Prefix("secure/info/pairing", d.handleSecurePairing)
	r.Prefix("secure/hello", d.handleSecureHello)
	r.Prefix("secure/authenticate", d.handleSecureAuthenticate)
	r.Prefix("secure/init", d.handleSecureInit)

	r.Prefix("audio/cfg/miniservertime", stub("miniservertime", true))
	r.Prefix("audio/cfg/ready", stub("ready", map[string]any{"session": int64(547541322864)}))
	r.Prefix("audio/cfg/getconfig", d.handleGetConfig)
	r.Prefix("audio/cfg/getkey", d.handleGetKey)
	r.Prefix("audio/cfg/setconfigtimestamp", d.handleSetConfigTimestamp)
	r.Prefix("audio/cfg/setconfig", d.handleSetConfig)
	r.Prefix("audio/cfg/volumes", d.handleVolumes)
	r.Prefix("audio/cfg/defaultvolume", d.handleDefaultVolume)
	r.Prefix("audio/cfg/maxvolume", d.handleMaxVolume)
	r.Prefix("audio/cfg/eventvolumes", d.handleEventVolumes)
	r.Prefix("audio/cfg/playername", d.handlePlayerName)
	r.Prefix("audio/cfg/playeropts", stub("playeropts", []any{}))
	r.Prefix("audio/cfg/speakertype", stub("speakertype", []any{}))
	r.Prefix("audio/cfg/groupopts", stub("groupopts", []any{}))
	r.Prefix("audio/cfg/getmediafolder", d.handleGetMediaFolder)
	r.Prefix("audio/cfg/getradios", d.handleGetRadios)
	r.Prefix("audio/cfg/getplaylists2", d.handleGetPlaylists)
	r.Prefix("audio/cfg/getservicefolder", d.handleGetServiceFolder)
	r.Prefix("audio/cfg/globalsearch", d.handleGlobalSearch)
	r.Prefix("audio/cfg/getavailableservices", d.handleGetAvailableServices)
	r.Prefix("audio/cfg/scanstatus", d.handleScanStatus)
	r.Prefix("audio/cfg/getroomfavs", d.handleGetRoomFavs)
	r.Prefix("audio/cfg/roomfavs", d.handleRoomFavs)
	r.Prefix("audio/cfg/dgroup/update", d.handleDGroupUpdate)

	r.Regex("audio", `audio/grouped/volume/([^/]+)/([0-9,]+)$`, d.handleGroupedVolume)
	r.Regex("audio", `audio/grouped/(pause|play|resume|stop)/([0-9,]+)$`, d.handleGroupedTransport)
	r.Regex("audio", `audio/grouped/([a-z]+)(?:/(.*))?$`, d.handleGroupedAlert)

	r.Regex("audio", `audio/(\d+)/status$`, d.handleStatus)
	r.Regex("audio", `audio/(\d+)/getqueue$`, d.handleGetQueue)
	r.Regex("audio", `audio/(\d+)/recent(?:/(.*))?$`, d.handleRecent)
	r.Regex("audio", `audio/(\d+)/serviceplay/([^/]+)/([^/]+)/(.+)$`, d.handleServicePlay)
	r.Regex("audio", `audio/(\d+)/playlist/play/(.+)$`, d.handlePlaylistPlay)
	r.Regex("audio", `audio/(\d+)/library/play/(.+)$`, d.handleLibraryPlay)
	r.Regex("audio", `audio/(\d+)/playurl/(.+)$`, d.handlePlayURL)
	r.Regex("audio", `audio/(\d+)/roomfav/play/(\d+)/([^/]+)(/shuffle)?$`, d.handleRoomFavPlay)
	r.Regex("audio", `audio/(\d+)/mastervolume/(-?\d+)$`, d.handleMasterVolume)
	r.Regex("audio", `audio/(\d+)/(on|off|play|resume|pause|queueminus|queueplus|queue|volume|repeat|shuffle|position|test)(?:/(.*))?$`, d.handleZoneVerb)
	r.Regex("audio", `audio/(\d+)/((?:albums|artists|tracks):.+)$`, d.handleLibraryAlias)
}

// Handle resolves a command URL to its serialised response. It never panics
// or errors outward; unroutable commands yield the empty envelope.
func (d *Dispatcher) Handle(ctx context.Context, url string) string {
	trimmed := strings.Trim(strings.TrimSpace(url), "/")

	result, matched := d.router.Dispatch(ctx, trimmed)
	if !matched {
		d.logger.Info().Str("command", SanitizeCommand(trimmed)).Msg("unknown command")
		result = EmptyResult(lastAlphaSegment(trimmed))
	} else {
		d.logger.Debug().Str("command", SanitizeCommand(trimmed)).Msg("dispatched")
	}
	return Serialize(result, trimmed)
}

// stub builds a fixed-payload handler.
func stub(name string, payload any) Handler {
	return func(context.Context, Request) CommandResult {
		return CommandResult{Name: name, Payload: payload}
	}
}

// zoneID parses the captured zone segment of a regex route.
func zoneID(capture string) int {
	id, _ := strconv.Atoi(capture)
	return id
}
