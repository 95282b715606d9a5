// Package session owns one authenticated client connection to the relay:
// dialing, the auth handshake, the read/write/keepalive loops, and the
// explicit state machine the rest of the engine observes.
//
// A Session is single-use. Failed is terminal per attempt; retry and backoff
// policy belong to the engine, which creates a fresh Session per attempt.
// Failures never cross the handler boundary as panics — every outcome is a
// state transition with an optional error reason.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.clipsync.dev/clipsync/internal/crypto"
	"go.clipsync.dev/clipsync/internal/item"
	"go.clipsync.dev/clipsync/internal/protocol"
	"go.clipsync.dev/clipsync/internal/wire"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StatePaused
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrAuthRejected means the relay refused the shared secret (or the
	// handshake timed out). Not retried automatically — the user must
	// correct the credential.
	ErrAuthRejected = errors.New("auth rejected")
	// ErrNotConnected is returned by Send when the session cannot carry
	// outbound pushes (not yet connected, paused, or already closed).
	ErrNotConnected = errors.New("session not connected")
)

const (
	dialTimeout     = 10 * time.Second
	authTimeout     = 10 * time.Second
	pingInterval    = 15 * time.Second
	watchdogTimeout = 45 * time.Second
	watchdogCheck   = 5 * time.Second
	sendBuffer      = 16
)

// Handler receives session callbacks. Calls are made from session
// goroutines; implementations must not block for long.
type Handler interface {
	// StateChanged reports every transition. reason is non-nil for Failed
	// and for a Disconnected caused by a transport error.
	StateChanged(s State, reason error)
	// PushReceived delivers one remote clipboard item.
	PushReceived(it item.Item)
	// HistoryReceived delivers the relay's retained history, newest first.
	HistoryReceived(items []item.Item)
}

// Session is one client connection attempt.
type Session struct {
	deviceID string
	handler  Handler

	mu     sync.Mutex
	state  State
	conn   *wire.Conn
	sendCh chan *protocol.Message
	closed bool // user-initiated Close

	readerDone chan struct{}
	lastRecv   atomic.Int64
}

// New returns an unopened Session.
func New(deviceID string, h Handler) *Session {
	return &Session{
		deviceID:   deviceID,
		handler:    h,
		state:      StateDisconnected,
		sendCh:     make(chan *protocol.Message, sendBuffer),
		readerDone: make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session's loops have exited (after Connected was
// reached). It never closes for a session that failed during Open.
func (s *Session) Done() <-chan struct{} { return s.readerDone }

func (s *Session) setState(next State, reason error) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.handler.StateChanged(next, reason)
}

// Open dials serverURL, authenticates with sharedSecret, and on success
// starts the receive/send/keepalive loops before returning. Cancelling ctx
// aborts the attempt. The secret itself never goes on the wire: frames are
// encrypted with a key derived from it and the handshake carries its hash.
func (s *Session) Open(ctx context.Context, serverURL, sharedSecret string) error {
	addr := normalizeAddr(serverURL)

	s.setState(StateConnecting, nil)

	dialer := net.Dialer{Timeout: dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("connect %s: %w", addr, err)
		s.setState(StateFailed, err)
		return err
	}

	// A concurrent Close (or ctx cancellation) must abort the handshake
	// deterministically: both paths close the raw connection.
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	var key *[32]byte
	if sharedSecret != "" {
		key, err = crypto.DeriveKey(sharedSecret)
		if err != nil {
			_ = raw.Close()
			s.setState(StateFailed, err)
			return err
		}
	}
	wc := wire.New(raw, key)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = raw.Close()
		s.setState(StateDisconnected, nil)
		return ErrNotConnected
	}
	s.conn = wc
	s.mu.Unlock()

	s.setState(StateAuthenticating, nil)

	if err := wc.WriteMsg(&protocol.Message{
		Type:       protocol.TypeAuth,
		SecretHash: crypto.HashSecret(sharedSecret),
		DeviceID:   s.deviceID,
	}); err != nil {
		err = fmt.Errorf("auth send: %w", err)
		_ = wc.Close()
		s.setState(StateFailed, err)
		return err
	}

	wc.SetReadDeadline(authTimeout)
	reply, err := wc.ReadMsg()
	wc.SetReadDeadline(0)
	if err != nil {
		_ = wc.Close()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			err = fmt.Errorf("%w: handshake timeout", ErrAuthRejected)
		} else {
			err = fmt.Errorf("auth read: %w", err)
		}
		s.setState(StateFailed, err)
		return err
	}

	switch {
	case reply.Type == protocol.TypeAuthResult && reply.OK:
		// authenticated
	case reply.Type == protocol.TypeAuthResult:
		_ = wc.Close()
		err = ErrAuthRejected
		if reply.Reason != "" {
			err = fmt.Errorf("%w: %s", ErrAuthRejected, reply.Reason)
		}
		s.setState(StateFailed, err)
		return err
	case reply.Type == protocol.TypeError:
		_ = wc.Close()
		err = fmt.Errorf("%w: %s", ErrAuthRejected, reply.Error)
		s.setState(StateFailed, err)
		return err
	default:
		_ = wc.Close()
		err = &protocol.Error{Reason: fmt.Sprintf("unexpected %s during handshake", reply.Type)}
		s.setState(StateFailed, err)
		return err
	}

	s.lastRecv.Store(time.Now().UnixNano())
	s.setState(StateConnected, nil)

	go s.writeLoop(wc)
	go s.watchdog()
	go s.readLoop(wc)

	return nil
}

// Send queues one clipboard item for delivery. Refused while paused or not
// connected.
func (s *Session) Send(it item.Item) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()
	s.enqueue(&protocol.Message{Type: protocol.TypePush, Item: &it})
	return nil
}

// SetPaused toggles outbound sync. While paused, inbound pushes keep flowing
// to the handler; Send is refused. The relay is informed via STATUS.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	var next State
	switch {
	case paused && s.state == StateConnected:
		next = StatePaused
	case !paused && s.state == StatePaused:
		next = StateConnected
	default:
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	s.handler.StateChanged(next, nil)
	s.enqueue(&protocol.Message{Type: protocol.TypeStatus, Paused: paused})
}

// Close tears the session down. Safe to call at any point, including during
// an in-flight Open; idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Session) enqueue(msg *protocol.Message) {
	select {
	case s.sendCh <- msg:
	default:
		slog.Warn("session send queue full, dropping", "type", msg.Type)
	}
}

func (s *Session) writeLoop(wc *wire.Conn) {
	for {
		select {
		case msg := <-s.sendCh:
			if err := wc.WriteMsg(msg); err != nil {
				slog.Error("session write failed", "err", err)
				_ = wc.Close()
				return
			}
		case <-s.readerDone:
			return
		}
	}
}

func (s *Session) watchdog() {
	ticker := time.NewTicker(watchdogCheck)
	defer ticker.Stop()
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	for {
		select {
		case <-s.readerDone:
			return
		case <-pinger.C:
			s.enqueue(&protocol.Message{Type: protocol.TypePing})
		case <-ticker.C:
			age := time.Since(time.Unix(0, s.lastRecv.Load()))
			if age > watchdogTimeout {
				slog.Warn("relay silent too long, closing", "silent_for", age.Round(time.Second))
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
		}
	}
}

func (s *Session) readLoop(wc *wire.Conn) {
	var readErr error
	defer func() {
		close(s.readerDone)
		_ = wc.Close()

		s.mu.Lock()
		userClosed := s.closed
		s.state = StateDisconnected
		s.mu.Unlock()

		if userClosed {
			s.handler.StateChanged(StateDisconnected, nil)
		} else {
			s.handler.StateChanged(StateDisconnected, readErr)
		}
	}()

	for {
		msg, err := wc.ReadMsg()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				readErr = err
				slog.Info("relay connection closed", "err", err)
			}
			return
		}
		s.lastRecv.Store(time.Now().UnixNano())

		if !msg.Known() {
			slog.Debug("ignoring unknown message type", "type", msg.Type)
			continue
		}

		switch msg.Type {
		case protocol.TypePush:
			s.handler.PushReceived(*msg.Item)

		case protocol.TypeHistory:
			s.handler.HistoryReceived(msg.Items)

		case protocol.TypeAck:
			slog.Debug("push acknowledged", "id", msg.ID)

		case protocol.TypePing:
			s.enqueue(&protocol.Message{Type: protocol.TypePong})

		case protocol.TypePong:
			// lastRecv update above is all the pong needs to do

		case protocol.TypeError:
			slog.Error("relay error", "error", msg.Error)
			readErr = fmt.Errorf("relay error: %s", msg.Error)
			return

		default:
			slog.Debug("ignoring message", "type", msg.Type)
		}
	}
}

// normalizeAddr strips an optional scheme prefix so both "host:port" and
// "tcp://host:port" work as a server URL.
func normalizeAddr(serverURL string) string {
	if i := strings.Index(serverURL, "://"); i >= 0 {
		return serverURL[i+3:]
	}
	return serverURL
}
