// Package broadcast owns the set of connected WebSocket peers and fans
// event messages out to all of them.
package broadcast

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Peer is one connected event client.
type Peer interface {
	// Send writes one text message to the peer.
	Send(message string) error
	// Close tears the peer down with a close code and reason.
	Close(code int, reason string)
	// Name identifies the peer in logs.
	Name() string
}

// WSPeer adapts a gorilla connection to Peer. Writes are serialized through
// the peer's own mutex; gorilla connections do not allow concurrent writers.
type WSPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
	name string
}

// NewWSPeer wraps an upgraded connection. name is used only for logging.
func NewWSPeer(conn *websocket.Conn, name string) *WSPeer {
	return &WSPeer{conn: conn, name: name}
}

func (p *WSPeer) Send(message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (p *WSPeer) Close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = p.conn.Close()
}

func (p *WSPeer) Name() string { return p.name }

// Bus delivers serialized events to every registered peer, best effort.
// Slow or broken peers are dropped, never waited on.
type Bus struct {
	mu     sync.RWMutex
	peers  map[Peer]struct{}
	logger zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		peers:  make(map[Peer]struct{}),
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// Register adds the peer to the broadcast set.
func (b *Bus) Register(peer Peer) {
	b.mu.Lock()
	b.peers[peer] = struct{}{}
	total := len(b.peers)
	b.mu.Unlock()
	b.logger.Debug().Str("peer", peer.Name()).Int("total", total).Msg("peer registered")
}

// Unregister removes the peer. Idempotent.
func (b *Bus) Unregister(peer Peer) {
	b.mu.Lock()
	_, present := b.peers[peer]
	delete(b.peers, peer)
	total := len(b.peers)
	b.mu.Unlock()
	if present {
		b.logger.Debug().Str("peer", peer.Name()).Int("total", total).Msg("peer unregistered")
	}
}

// PeerCount returns the number of registered peers.
func (b *Bus) PeerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

// Broadcast delivers message to every peer. Delivery iterates a snapshot so
// peers may join or leave mid-broadcast. A peer whose write fails is
// unregistered; remaining peers are unaffected.
func (b *Bus) Broadcast(message string) {
	b.mu.RLock()
	snapshot := make([]Peer, 0, len(b.peers))
	for peer := range b.peers {
		snapshot = append(snapshot, peer)
	}
	b.mu.RUnlock()

	for _, peer := range snapshot {
		if err := peer.Send(message); err != nil {
			b.logger.Warn().Str("peer", peer.Name()).Err(err).Msg("dropping peer after failed delivery")
			b.Unregister(peer)
		}
	}
}

// CloseAll closes every peer with the given code and reason and empties the set.
func (b *Bus) CloseAll(code int, reason string) {
	b.mu.Lock()
	snapshot := make([]Peer, 0, len(b.peers))
	for peer := range b.peers {
		snapshot = append(snapshot, peer)
	}
	b.peers = make(map[Peer]struct{})
	b.mu.Unlock()

	for _, peer := range snapshot {
		peer.Close(code, reason)
	}
}
