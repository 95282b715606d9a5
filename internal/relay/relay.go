// Package relay implements the clipsync relay server: it authenticates each
// incoming connection against the shared secret, keeps the set of live
// sessions, and fans every accepted clipboard push out to all other
// authenticated sessions — never back to the origin.
//
// Failure isolation is per connection: a malformed, slow, or hostile client
// is disconnected (or has stale broadcasts dropped) without affecting the
// others. The only cross-session state is the session set and the bounded
// history log, both internally synchronized.
package relay

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"go.clipsync.dev/clipsync/internal/crypto"
	"go.clipsync.dev/clipsync/internal/history"
	"go.clipsync.dev/clipsync/internal/item"
	"go.clipsync.dev/clipsync/internal/protocol"
)

// Options configures a Server.
type Options struct {
	// Secret is the shared secret clients must prove knowledge of. Empty
	// disables verification (open relay) — frames are then also unencrypted.
	Secret string
	// HistoryCapacity bounds the relay-side history log replayed to newly
	// joined devices. <=0 selects history.DefaultCapacity.
	HistoryCapacity int
	// MaxImageBytes bounds accepted image payloads. <=0 selects the item
	// package default.
	MaxImageBytes int
	// QueueSize bounds each peer's outbound queue. <=0 selects 64.
	QueueSize int
}

// Server is the relay.
type Server struct {
	secretHash []byte // SHA-256 of the secret; nil when auth is disabled
	key        *[32]byte
	hist       *history.Log
	maxImage   int
	queueSize  int

	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	drops atomic.Uint64
}

// NewServer returns a Server ready to Serve.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		hist:      history.New(opts.HistoryCapacity),
		maxImage:  opts.MaxImageBytes,
		queueSize: opts.QueueSize,
		peers:     make(map[string]*peer),
	}
	if s.queueSize <= 0 {
		s.queueSize = 64
	}
	if opts.Secret != "" {
		sum := sha256.Sum256([]byte(opts.Secret))
		s.secretHash = sum[:]
		key, err := crypto.DeriveKey(opts.Secret)
		if err != nil {
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		p := newPeer(conn, s)
		go p.serve()
	}
}

// Close disconnects all peers. The caller closes the listener.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// PeerCount returns the number of authenticated sessions.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Drops returns the total number of broadcasts dropped on full queues.
func (s *Server) Drops() uint64 { return s.drops.Load() }

// History returns the relay's retained history, newest first.
func (s *Server) History() []item.Item { return s.hist.Snapshot() }

// checkSecret compares the client-supplied hash against the configured
// secret in constant time.
func (s *Server) checkSecret(hexHash string) bool {
	if s.secretHash == nil {
		return true
	}
	sum, err := hex.DecodeString(hexHash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(sum, s.secretHash) == 1
}

func (s *Server) register(p *peer) {
	s.mu.Lock()
	s.peers[p.id] = p
	total := len(s.peers)
	s.mu.Unlock()

	slog.Info("peer registered", "peer", p.id, "device", p.deviceID, "total", total)
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	delete(s.peers, p.id)
	total := len(s.peers)
	s.mu.Unlock()

	slog.Info("peer unregistered", "peer", p.id, "device", p.deviceID, "total", total)
}

// accept records an accepted push and fans it out to every authenticated
// peer except the origin. Returns false when the item id was already
// retained (duplicate push) — the caller still acks, but nothing is
// re-broadcast.
func (s *Server) accept(it item.Item, originID string) bool {
	if !s.hist.Insert(it) {
		return false
	}

	s.mu.RLock()
	targets := make([]*peer, 0, len(s.peers))
	for id, p := range s.peers {
		if id == originID {
			continue
		}
		targets = append(targets, p)
	}
	s.mu.RUnlock()

	msg := &protocol.Message{Type: protocol.TypePush, Item: &it}
	for _, t := range targets {
		t.send(msg)
	}
	return true
}
