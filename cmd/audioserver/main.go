package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/alerts"
	"github.com/loxgrid/audioserver-bridge/internal/broadcast"
	"github.com/loxgrid/audioserver-bridge/internal/config"
	"github.com/loxgrid/audioserver-bridge/internal/db"
	"github.com/loxgrid/audioserver-bridge/internal/dispatch"
	"github.com/loxgrid/audioserver-bridge/internal/fade"
	"github.com/loxgrid/audioserver-bridge/internal/groups"
	"github.com/loxgrid/audioserver-bridge/internal/heartbeat"
	"github.com/loxgrid/audioserver-bridge/internal/logx"
	"github.com/loxgrid/audioserver-bridge/internal/msconfig"
	"github.com/loxgrid/audioserver-bridge/internal/provider"
	"github.com/loxgrid/audioserver-bridge/internal/server"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	logger, closeLogs := logx.New(logx.Options{
		ConsoleLevel: cfg.ConsoleLogLevel,
		FileLevel:    cfg.FileLogLevel,
		FilePath:     cfg.LogFile,
		MaxBytes:     cfg.LogMaxBytes,
	})
	defer func() {
		if err := closeLogs(); err != nil {
			fmt.Fprintf(os.Stderr, "log close error: %v\n", err)
		}
	}()

	dbPath := cfg.SQLiteDBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.AdminDir, "bridge.db")
	}
	pair, err := db.Init(dbPath)
	if err != nil {
		logger.Error().Err(err).Str("path", dbPath).Msg("database init failed")
		return 1
	}
	defer pair.Close()

	mediaProvider, err := provider.New(cfg.MediaProvider, cfg.ProviderOptions)
	if err != nil {
		logger.Error().Err(err).Msg("media provider init failed")
		return 1
	}

	bus := broadcast.NewBus(logger)
	tracker := groups.NewTracker()
	registry := zone.NewRegistry(bus, tracker, time.Duration(cfg.BackendTimeoutMs)*time.Millisecond, logger)

	orchestrator := msconfig.NewOrchestrator(cfg, registry, logger)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orchestrator.InitializeConfig(startupCtx); err != nil {
		cancelStartup()
		logger.Error().Err(err).Msg("config initialization failed")
		return 1
	}
	if cfg.PairingSource == config.PairingSourceMiniserver {
		if err := orchestrator.FetchFromMiniserver(startupCtx); err != nil {
			logger.Warn().Err(err).Msg("miniserver pairing failed, continuing with cached state")
		}
	}
	cancelStartup()

	fader := fade.NewController(logger)
	soundBase := fmt.Sprintf("http://%s:%s", orchestrator.LocalIP(), cfg.AppHTTPPort)
	alertCtrl := alerts.NewController(registry, fader, alerts.NewStaticMedia(soundBase), logger)

	dispatcher, err := dispatch.New(dispatch.Deps{
		Registry:     registry,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Provider:     mediaProvider,
		Favorites:    provider.NewFavoritesRepository(pair),
		Recents:      provider.NewRecentsRepository(pair),
		Alerts:       alertCtrl,
		Fader:        fader,
		MAC:          cfg.AudioServerMAC,
		Logger:       logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("dispatcher init failed")
		return 1
	}

	emitter := heartbeat.NewEmitter(bus, orchestrator, cfg.HeartbeatSpec, logger)
	if err := emitter.Start(); err != nil {
		logger.Error().Err(err).Msg("heartbeat start failed")
		return 1
	}

	srv := server.New(dispatcher, bus, orchestrator.MacID(), logger)
	appServer := newHTTPServer(cfg.AppHTTPPort, srv.AppHandler())
	msServer := newHTTPServer(cfg.MsHTTPPort, srv.MsHandler())

	errCh := make(chan error, 2)
	go serve(appServer, "app", logger, errCh)
	go serve(msServer, "miniserver", logger, errCh)
	logger.Info().
		Str("appPort", cfg.AppHTTPPort).
		Str("msPort", cfg.MsHTTPPort).
		Str("macId", orchestrator.MacID()).
		Msg("audioserver bridge listening")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("listener failed")
		shutdown(emitter, bus, fader, alertCtrl, registry, appServer, msServer, logger)
		return 1
	}

	shutdown(emitter, bus, fader, alertCtrl, registry, appServer, msServer, logger)
	return 0
}

func newHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serve(srv *http.Server, name string, logger zerolog.Logger, errCh chan<- error) {
	logger.Debug().Str("listener", name).Str("addr", srv.Addr).Msg("listener starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errCh <- err
	}
}

// shutdown tears the process down in a fixed order: heartbeat first, then
// peers, then backends, then listeners.
func shutdown(
	emitter *heartbeat.Emitter,
	bus *broadcast.Bus,
	fader *fade.Controller,
	alertCtrl *alerts.Controller,
	registry *zone.Registry,
	appServer, msServer *http.Server,
	logger zerolog.Logger,
) {
	emitter.Stop()
	alertCtrl.StopAll(context.Background())
	fader.CancelAll()
	bus.CloseAll(websocket.CloseNormalClosure, "Server shutting down")
	registry.CleanupAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := appServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("app listener shutdown error")
	}
	if err := msServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("miniserver listener shutdown error")
	}
	logger.Info().Msg("shutdown complete")
}
