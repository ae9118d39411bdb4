// Package server exposes the command dispatcher over the two Loxone
// listener ports, speaking plain HTTP and WebSocket on both.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/broadcast"
	"github.com/loxgrid/audioserver-bridge/internal/dispatch"
)

const (
	versionBanner = "LWSS V 16.1.10.01"
	sessionToken  = "8WahwAfULwEQce9Yu0qIE9L7QMkXFHbi0M9ch9vKcgYArPPojXHpSiNcq0fT3lqL"
)

// BannerAppHTTP is sent to every peer connecting on the app port.
func BannerAppHTTP() string {
	return fmt.Sprintf("%s | ~API:1.6~ | Session-Token: %s", versionBanner, sessionToken)
}

// BannerMsHTTP is sent on the MiniServer port and carries the appliance id.
func BannerMsHTTP(macID string) string {
	return fmt.Sprintf("MINISERVER V %s %s | ~API:1.6~ | Session-Token: %s", versionBanner, macID, sessionToken)
}

// Server shares one dispatcher between both listener ports.
type Server struct {
	dispatcher *dispatch.Dispatcher
	bus        *broadcast.Bus
	macID      string
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

func New(dispatcher *dispatch.Dispatcher, bus *broadcast.Bus, macID string, logger zerolog.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		bus:        bus,
		macID:      macID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The MiniServer sends no Origin header; the app may.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// AppHandler is the handler for the app port (7091).
func (s *Server) AppHandler() http.Handler {
	return s.handler("app", BannerAppHTTP())
}

// MsHandler is the handler for the MiniServer port (7095).
func (s *Server) MsHandler() http.Handler {
	return s.handler("miniserver", BannerMsHTTP(s.macID))
}

func (s *Server) handler(port, banner string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(s.requestLogger(port))
	router.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.serveWebSocket(w, r, port, banner)
			return
		}
		s.serveHTTP(w, r)
	})
	return router
}

// requestLogger logs one line per plain HTTP command. WebSocket traffic is
// logged by the dispatcher per message.
func (s *Server) requestLogger(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if websocket.IsWebSocketUpgrade(r) {
				return
			}
			s.logger.Debug().
				Str("port", port).
				Str("command", dispatch.SanitizeCommand(strings.TrimPrefix(r.URL.RequestURI(), "/"))).
				Dur("elapsed", time.Since(start)).
				Msg("http command")
		})
	}
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	command := strings.TrimPrefix(r.URL.RequestURI(), "/")
	response := s.dispatcher.Handle(r.Context(), command)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(response))
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, port, banner string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("port", port).Msg("websocket upgrade failed")
		return
	}

	peer := broadcast.NewWSPeer(conn, fmt.Sprintf("%s:%s", port, r.RemoteAddr))
	s.bus.Register(peer)

	if err := peer.Send(banner); err != nil {
		s.bus.Unregister(peer)
		peer.Close(websocket.CloseGoingAway, "banner write failed")
		return
	}

	go s.readLoop(conn, peer)
}

// readLoop treats every text frame as a command URL and answers on the same
// peer. Binary and control frames are ignored.
func (s *Server) readLoop(conn *websocket.Conn, peer *broadcast.WSPeer) {
	defer s.bus.Unregister(peer)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Str("peer", peer.Name()).Err(err).Msg("peer read ended")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		command := strings.TrimPrefix(strings.TrimSpace(string(payload)), "/")
		response := s.dispatcher.Handle(context.Background(), command)
		if err := peer.Send(response); err != nil {
			return
		}
	}
}
