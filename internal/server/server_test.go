package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/loxgrid/audioserver-bridge/internal/alerts"
	"github.com/loxgrid/audioserver-bridge/internal/broadcast"
	"github.com/loxgrid/audioserver-bridge/internal/config"
	"github.com/loxgrid/audioserver-bridge/internal/db"
	"github.com/loxgrid/audioserver-bridge/internal/dispatch"
	"github.com/loxgrid/audioserver-bridge/internal/fade"
	"github.com/loxgrid/audioserver-bridge/internal/groups"
	"github.com/loxgrid/audioserver-bridge/internal/msconfig"
	"github.com/loxgrid/audioserver-bridge/internal/provider"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

func newTestServer(t *testing.T) (*Server, *broadcast.Bus) {
	t.Helper()

	bus := broadcast.NewBus(zerolog.Nop())
	tracker := groups.NewTracker()
	registry := zone.NewRegistry(bus, tracker, time.Second, zerolog.Nop())

	cfg := config.Config{AdminDir: t.TempDir(), AudioServerMAC: "50:4F:94:FF:1B:B3"}
	orchestrator := msconfig.NewOrchestrator(cfg, registry, zerolog.Nop())

	pair, err := db.Init(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })

	fader := fade.NewController(zerolog.Nop())
	alertCtrl := alerts.NewController(registry, fader, alerts.NewStaticMedia("http://127.0.0.1:7091"), zerolog.Nop())

	dispatcher, err := dispatch.New(dispatch.Deps{
		Registry:     registry,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Provider:     provider.NullProvider{},
		Favorites:    provider.NewFavoritesRepository(pair),
		Recents:      provider.NewRecentsRepository(pair),
		Alerts:       alertCtrl,
		Fader:        fader,
		MAC:          cfg.AudioServerMAC,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	return New(dispatcher, bus, cfg.MacID(), zerolog.Nop()), bus
}

func wsURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http")
}

func TestHTTPCommandEnvelope(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.AppHandler())
	defer ts.Close()

	response, err := http.Get(ts.URL + "/foo/bar/baz")
	require.NoError(t, err)
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"baz_result": [], "command": "foo/bar/baz"}`, string(body))
	require.Equal(t, "application/json", response.Header.Get("Content-Type"))
}

func TestWebSocketBannerAndDispatch(t *testing.T) {
	s, bus := newTestServer(t)
	ts := httptest.NewServer(s.AppHandler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, banner, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, BannerAppHTTP(), string(banner))
	require.Contains(t, string(banner), "LWSS V 16.1.10.01")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("/foo/bar/baz")))
	_, response, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"baz_result": [], "command": "foo/bar/baz"}`, string(response))

	require.Eventually(t, func() bool { return bus.PeerCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMsBannerCarriesMacID(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.MsHandler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, banner, err := conn.ReadMessage()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(banner), "MINISERVER V LWSS V 16.1.10.01 504F94FF1BB3 "))
}

func TestBroadcastReachesWebSocketPeer(t *testing.T) {
	s, bus := newTestServer(t)
	ts := httptest.NewServer(s.AppHandler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage() // banner
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bus.PeerCount() == 1 }, time.Second, 10*time.Millisecond)
	bus.Broadcast(`{"audio_event": []}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"audio_event": []}`, string(message))
}

func TestShutdownClosesPeers(t *testing.T) {
	s, bus := newTestServer(t)
	ts := httptest.NewServer(s.AppHandler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage() // banner
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bus.PeerCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.CloseAll(websocket.CloseNormalClosure, "Server shutting down")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close frame, got %v", err)
	require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	require.Equal(t, "Server shutting down", closeErr.Text)
}
