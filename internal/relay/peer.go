package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.clipsync.dev/clipsync/internal/item"
	"go.clipsync.dev/clipsync/internal/protocol"
	"go.clipsync.dev/clipsync/internal/wire"
)

const (
	authTimeout = 10 * time.Second
	// idleTimeout closes connections whose client has gone silent; clients
	// ping every 15s, so three missed intervals means the peer is gone.
	idleTimeout = 60 * time.Second
)

// peer is one server-side session: a single connection plus its independent
// outbound queue, so a slow receiver cannot stall the broadcaster.
type peer struct {
	id       string
	deviceID string
	conn     *wire.Conn
	srv      *Server

	sendCh chan *protocol.Message
	done   chan struct{}
	once   sync.Once

	// wmu serializes frame writes: the write loop and the read loop's error
	// replies share the connection, and wire.Conn expects one writer.
	wmu sync.Mutex

	paused bool
	mu     sync.Mutex
}

func newPeer(conn net.Conn, srv *Server) *peer {
	return &peer{
		id:     conn.RemoteAddr().String(),
		conn:   wire.New(conn, srv.key),
		srv:    srv,
		sendCh: make(chan *protocol.Message, srv.queueSize),
		done:   make(chan struct{}),
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *peer) write(msg *protocol.Message) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteMsg(msg)
}

// send queues msg for delivery. When the queue is full the oldest
// undelivered broadcast is dropped and counted — on a clipboard stream new
// data always beats stale data.
func (p *peer) send(msg *protocol.Message) {
	select {
	case p.sendCh <- msg:
		return
	default:
	}
	select {
	case <-p.sendCh:
		p.srv.drops.Add(1)
		slog.Debug("peer queue full, dropped oldest", "peer", p.id)
	default:
	}
	select {
	case p.sendCh <- msg:
	default:
		p.srv.drops.Add(1)
		slog.Debug("peer queue full, dropped message", "peer", p.id)
	}
}

// serve runs the handshake and then the read loop; the write loop runs in
// its own goroutine. Every exit path closes the connection.
func (p *peer) serve() {
	defer p.close()
	log := slog.With("peer", p.id)

	// The very first frame must be AUTH; anything else — or silence — ends
	// the connection before it can touch the session set.
	p.conn.SetReadDeadline(authTimeout)
	msg, err := p.conn.ReadMsg()
	if err != nil {
		log.Warn("handshake read failed", "err", err)
		return
	}
	p.conn.SetReadDeadline(0)

	if msg.Type != protocol.TypeAuth {
		log.Warn("message before auth, closing", "type", msg.Type)
		_ = p.write(&protocol.Message{Type: protocol.TypeError, Error: "auth required"})
		return
	}
	if !p.srv.checkSecret(msg.SecretHash) {
		log.Warn("auth rejected")
		_ = p.write(&protocol.Message{Type: protocol.TypeAuthResult, OK: false, Reason: "auth_rejected"})
		return
	}

	p.deviceID = msg.DeviceID
	if p.deviceID == "" {
		p.deviceID = p.id
	}
	log = log.With("device", p.deviceID)

	if err := p.write(&protocol.Message{Type: protocol.TypeAuthResult, OK: true}); err != nil {
		log.Warn("auth result write failed", "err", err)
		return
	}
	// Replay retained history so a newly joined device catches up.
	if err := p.write(&protocol.Message{Type: protocol.TypeHistory, Items: p.srv.hist.Snapshot()}); err != nil {
		log.Warn("history write failed", "err", err)
		return
	}
	log.Info("authenticated")

	p.srv.register(p)
	defer p.srv.unregister(p)

	go p.writeLoop(log)

	for {
		p.conn.SetReadDeadline(idleTimeout)
		msg, err := p.conn.ReadMsg()
		if err != nil {
			var perr *protocol.Error
			switch {
			case errors.As(err, &perr):
				// Malformed input: this peer is not trusted further.
				log.Warn("protocol error, closing", "err", err)
				_ = p.write(&protocol.Message{Type: protocol.TypeError, Error: perr.Reason})
			case errors.Is(err, wire.ErrFrameTooLarge):
				log.Warn("oversized frame, closing")
				_ = p.write(&protocol.Message{Type: protocol.TypeError, Error: "frame too large"})
			case !errors.Is(err, net.ErrClosed):
				log.Info("connection closed", "err", err)
			}
			return
		}

		if !msg.Known() {
			log.Debug("ignoring unknown message type", "type", msg.Type)
			continue
		}

		switch msg.Type {
		case protocol.TypePush:
			p.handlePush(log, msg.Item)

		case protocol.TypeStatus:
			p.mu.Lock()
			p.paused = msg.Paused
			p.mu.Unlock()
			log.Debug("peer sync status", "paused", msg.Paused)

		case protocol.TypeHistoryReq:
			p.send(&protocol.Message{Type: protocol.TypeHistory, Items: p.srv.hist.Snapshot()})

		case protocol.TypePing:
			p.send(&protocol.Message{Type: protocol.TypePong})

		case protocol.TypePong:
			// read deadline reset above is all that matters

		default:
			log.Debug("ignoring message", "type", msg.Type)
		}
	}
}

func (p *peer) handlePush(log *slog.Logger, it *item.Item) {
	if err := it.Validate(p.srv.maxImage); err != nil {
		// Invalid payloads are rejected, never queued; the sender learns
		// why but the connection survives (unlike a protocol error).
		log.Warn("push rejected", "id", it.ID, "err", err)
		p.send(&protocol.Message{Type: protocol.TypeError, Error: err.Error()})
		return
	}
	if p.srv.accept(*it, p.id) {
		log.Debug("push accepted", "id", it.ID, "kind", it.Kind)
	} else {
		log.Debug("duplicate push", "id", it.ID)
	}
	p.send(&protocol.Message{Type: protocol.TypeAck, ID: it.ID})
}

func (p *peer) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.sendCh:
			if err := p.write(msg); err != nil {
				log.Debug("write failed, closing", "err", err)
				p.close()
				return
			}
		}
	}
}
