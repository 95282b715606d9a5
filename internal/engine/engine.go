// Package engine implements the client-side sync engine: it owns the local
// clipboard watcher, the history log, and one session to the relay, and it
// mediates between them so that local and remote changes never loop, echo,
// or duplicate.
//
// The engine is headless: everything the UI layer needs arrives through a
// notify.Notifier, and the engine works identically with none attached.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.clipsync.dev/clipsync/internal/clip"
	"go.clipsync.dev/clipsync/internal/config"
	"go.clipsync.dev/clipsync/internal/history"
	"go.clipsync.dev/clipsync/internal/item"
	"go.clipsync.dev/clipsync/internal/notify"
	"go.clipsync.dev/clipsync/internal/session"
)

const (
	// DefaultDisplayWindow bounds the history-loaded event; the store
	// capacity is independent and usually larger.
	DefaultDisplayWindow = 20

	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
)

// ErrAlreadyConnected is returned by Connect when a session is already live.
var ErrAlreadyConnected = errors.New("already connected")

// Options configures an Engine. Zero values select defaults.
type Options struct {
	// DeviceID identifies this device in item origins. Default: a fresh
	// "device-<uuid>" per engine, like every run is a new device.
	DeviceID string
	// HistoryCapacity bounds the local history store.
	HistoryCapacity int
	// DisplayWindow bounds the history-loaded event.
	DisplayWindow int
	// MaxImageBytes bounds outbound image payloads.
	MaxImageBytes int
	// ReconnectMin / ReconnectMax bound the backoff after an unexpected
	// drop: delay starts at min and doubles up to max, retrying until
	// Disconnect.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Source is the clipboard capability. Default: clip.System().
	Source clip.Source
	// Notifier receives UI events. Default: notify.Nop{}.
	Notifier notify.Notifier
	// Config, when set, is read by AutoConnect and updated by the setter
	// passthroughs; a successful manual Connect persists its parameters.
	Config *config.Store
}

// Engine is the client sync engine.
type Engine struct {
	deviceID string
	assigner *item.Assigner
	hist     *history.Log
	src      clip.Source
	notifier notify.Notifier
	cfg      *config.Store

	displayWindow int
	maxImage      int
	reconnectMin  time.Duration
	reconnectMax  time.Duration

	mu          sync.Mutex
	sess        *session.Session
	ctx         context.Context    // live from Connect until Disconnect
	cancel      context.CancelFunc // cancels watcher, reconnect, open
	serverURL   string
	secret      string
	paused      bool
	retrying    bool
	userClosed  bool
	lastContent clip.Content
	hasLast     bool
}

// New returns an Engine. The caller owns the Source's lifetime.
func New(opts Options) *Engine {
	if opts.DeviceID == "" {
		opts.DeviceID = "device-" + uuid.NewString()
	}
	if opts.DisplayWindow <= 0 {
		opts.DisplayWindow = DefaultDisplayWindow
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = defaultReconnectMin
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = defaultReconnectMax
	}
	if opts.Source == nil {
		opts.Source = clip.System()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Engine{
		deviceID:      opts.DeviceID,
		assigner:      item.NewAssigner(opts.DeviceID),
		hist:          history.New(opts.HistoryCapacity),
		src:           opts.Source,
		notifier:      opts.Notifier,
		cfg:           opts.Config,
		displayWindow: opts.DisplayWindow,
		maxImage:      opts.MaxImageBytes,
		reconnectMin:  opts.ReconnectMin,
		reconnectMax:  opts.ReconnectMax,
	}
}

// DeviceID returns this engine's device identity.
func (e *Engine) DeviceID() string { return e.deviceID }

// History returns the local history snapshot, newest first.
func (e *Engine) History() []item.Item { return e.hist.Snapshot() }

// Connect opens a session to the relay. On success the relay's history is
// merged and replayed as a history-loaded event, and the engine starts
// watching the clipboard source. The connection parameters are persisted
// when a config store is attached.
func (e *Engine) Connect(serverURL, sharedSecret string) error {
	e.mu.Lock()
	if e.sess != nil && e.sess.State() != session.StateDisconnected && e.sess.State() != session.StateFailed {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	// Retire any previous connection context first: a reconnect loop or
	// watcher left over from an earlier attempt must not outlive this one,
	// or the engine would end up driving two sessions at once.
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.ctx, e.cancel = ctx, cancel
	e.serverURL, e.secret = serverURL, sharedSecret
	e.userClosed = false
	e.retrying = false
	e.mu.Unlock()

	if err := e.open(ctx); err != nil {
		cancel()
		return err
	}

	if e.cfg != nil {
		if err := e.cfg.SetConnection(serverURL, sharedSecret); err != nil {
			slog.Warn("could not persist connection settings", "err", err)
		}
	}

	go e.watchClipboard(ctx)
	return nil
}

// AutoConnect makes one connection attempt iff the config supplies both a
// server URL and a shared secret. Failure is logged, not surfaced: unlike a
// manual Connect, startup should not greet the user with an error for a
// relay that happens to be down.
func (e *Engine) AutoConnect() {
	if e.cfg == nil {
		return
	}
	c := e.cfg.Get()
	if !c.Configured() {
		slog.Info("auto-connect skipped, not configured")
		return
	}
	if err := e.Connect(c.ServerURL, c.SharedSecret); err != nil {
		slog.Warn("auto-connect failed", "server", c.ServerURL, "err", err)
	}
}

// Disconnect tears the session down, cancelling any in-flight connect
// attempt or pending reconnect backoff. Idempotent.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.userClosed = true
	wasRetrying := e.retrying
	e.retrying = false
	sess := e.sess
	cancel := e.cancel
	e.sess = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
	} else if wasRetrying {
		// No live session to report the transition; tell the UI the retry
		// loop is gone.
		e.notifier.OnConnectionStatus(notify.ConnectionStatus{Connected: false})
	}
}

// ToggleSync pauses or resumes outbound sync. Inbound items keep flowing to
// the history, the notifier, and the local clipboard while paused.
func (e *Engine) ToggleSync(paused bool) {
	e.mu.Lock()
	e.paused = paused
	sess := e.sess
	e.mu.Unlock()
	if sess != nil {
		sess.SetPaused(paused)
	}
	slog.Info("sync toggled", "paused", paused)
}

// Paused reports whether outbound sync is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Connected reports whether the session currently carries sync traffic.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return false
	}
	st := sess.State()
	return st == session.StateConnected || st == session.StatePaused
}

// Status is a snapshot for the status surface.
type Status struct {
	Connected  bool   `json:"connected"`
	Paused     bool   `json:"paused"`
	Retrying   bool   `json:"retrying"`
	ServerURL  string `json:"server_url,omitempty"`
	DeviceID   string `json:"device_id"`
	HistoryLen int    `json:"history_len"`
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	connected := e.Connected()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Connected:  connected,
		Paused:     e.paused,
		Retrying:   e.retrying,
		ServerURL:  e.serverURL,
		DeviceID:   e.deviceID,
		HistoryLen: e.hist.Len(),
	}
}

// GetConfig returns the persisted configuration value, or the zero value
// when no store is attached.
func (e *Engine) GetConfig() config.Config {
	if e.cfg == nil {
		return config.Config{}
	}
	return e.cfg.Get()
}

// SetAutostart persists the autostart flag.
func (e *Engine) SetAutostart(enabled bool) error {
	if e.cfg == nil {
		return errors.New("no config store attached")
	}
	return e.cfg.SetAutostart(enabled)
}

// SetStartMinimized persists the start-minimized flag.
func (e *Engine) SetStartMinimized(enabled bool) error {
	if e.cfg == nil {
		return errors.New("no config store attached")
	}
	return e.cfg.SetStartMinimized(enabled)
}

// open runs one session attempt; the session reports back through the
// handler methods below.
func (e *Engine) open(ctx context.Context) error {
	sess := session.New(e.deviceID, (*handler)(e))
	e.mu.Lock()
	if e.ctx != ctx {
		// A newer Connect superseded this attempt while it was pending.
		e.mu.Unlock()
		return context.Canceled
	}
	e.sess = sess
	paused := e.paused
	url, secret := e.serverURL, e.secret
	e.mu.Unlock()

	if err := sess.Open(ctx, url, secret); err != nil {
		return err
	}
	if paused {
		sess.SetPaused(true)
	}
	return nil
}

// reconnectLoop retries with doubling backoff until it succeeds, auth is
// rejected, or ctx is cancelled by Disconnect.
func (e *Engine) reconnectLoop(ctx context.Context) {
	delay := e.reconnectMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		e.mu.Lock()
		server := e.serverURL
		e.mu.Unlock()
		slog.Info("reconnecting", "server", server)
		err := e.open(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			e.mu.Lock()
			e.retrying = false
			e.mu.Unlock()
			return
		}
		if errors.Is(err, session.ErrAuthRejected) {
			// Credentials are wrong; retrying cannot fix that.
			e.mu.Lock()
			e.retrying = false
			e.mu.Unlock()
			e.notifier.OnConnectionStatus(notify.ConnectionStatus{Connected: false, Err: err.Error()})
			return
		}
		slog.Warn("reconnect failed", "err", err, "retry_in", delay)
		e.notifier.OnConnectionStatus(notify.ConnectionStatus{
			Connected: false, Err: err.Error(), Retrying: true,
		})
		if delay < e.reconnectMax {
			delay *= 2
			if delay > e.reconnectMax {
				delay = e.reconnectMax
			}
		}
	}
}

// watchClipboard forwards local clipboard changes into the sync path until
// ctx is cancelled.
func (e *Engine) watchClipboard(ctx context.Context) {
	slog.Info("watching clipboard", "backend", e.src.Name())
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.src.Watch():
			c, ok, err := e.src.Read()
			if err != nil {
				slog.Error("clipboard read failed", "err", err)
				continue
			}
			if !ok {
				continue
			}
			e.onLocalChange(c)
		}
	}
}

// onLocalChange is the local-clipboard-change path: stamp identity, record,
// and push unless paused.
func (e *Engine) onLocalChange(c clip.Content) {
	e.mu.Lock()
	if e.hasLast && c.Equal(e.lastContent) {
		// Either our own write of a remote item, or a duplicate poll.
		e.mu.Unlock()
		return
	}
	e.lastContent, e.hasLast = c, true
	paused := e.paused
	sess := e.sess
	e.mu.Unlock()

	it := e.assigner.Assign(itemOf(c))
	if err := it.Validate(e.maxImage); err != nil {
		if errors.Is(err, item.ErrPayloadTooLarge) {
			slog.Warn("local clipboard item rejected", "err", err)
		}
		return
	}
	if !e.hist.Insert(it) {
		return
	}

	if paused || sess == nil {
		return
	}
	if err := sess.Send(it); err != nil {
		slog.Debug("push skipped", "err", err)
	} else {
		slog.Debug("local clipboard pushed", "id", it.ID, "kind", it.Kind)
	}
}

// handler adapts Engine to session.Handler without widening the Engine API.
type handler Engine

func (h *handler) engine() *Engine { return (*Engine)(h) }

// StateChanged observes session transitions and drives the notifier and the
// reconnect policy.
func (h *handler) StateChanged(s session.State, reason error) {
	e := h.engine()
	switch s {
	case session.StateConnected:
		e.notifier.OnConnectionStatus(notify.ConnectionStatus{Connected: true})

	case session.StateDisconnected:
		e.mu.Lock()
		userClosed := e.userClosed
		ctx := e.ctx
		cur := e.sess
		e.mu.Unlock()

		if userClosed {
			e.notifier.OnConnectionStatus(notify.ConnectionStatus{Connected: false})
			return
		}
		// Recovery belongs to whatever is newest: skip if a fresh session has
		// already taken over (this event is from a superseded one).
		if cur != nil {
			switch cur.State() {
			case session.StateConnecting, session.StateAuthenticating,
				session.StateConnected, session.StatePaused:
				return
			}
		}
		if reason == nil {
			// Clean close without Disconnect(): treat like a drop.
			reason = errors.New("connection closed")
		}
		e.mu.Lock()
		e.retrying = true
		e.mu.Unlock()
		e.notifier.OnConnectionStatus(notify.ConnectionStatus{
			Connected: false, Err: reason.Error(), Retrying: true,
		})
		go e.reconnectLoop(ctx)

	case session.StatePaused, session.StateConnecting, session.StateAuthenticating, session.StateFailed:
		// Pause is engine-initiated (the UI already knows), and the
		// connecting/failed phases are reported by Connect/reconnectLoop.
	}
}

// PushReceived is the remote-push path: suppress echoes, record, notify,
// and mirror into the local clipboard.
func (h *handler) PushReceived(it item.Item) {
	e := h.engine()
	if it.OriginDeviceID == e.deviceID {
		// The relay never echoes, but a hostile or buggy one might.
		slog.Debug("discarding echoed item", "id", it.ID)
		return
	}
	if err := it.Validate(e.maxImage); err != nil {
		slog.Warn("remote item rejected", "id", it.ID, "err", err)
		return
	}
	if !e.hist.Insert(it) {
		return
	}

	e.notifier.OnClipboardReceived(notify.ClipboardReceived{Item: it, Timestamp: it.CreatedAt})

	c := contentOf(it)
	e.mu.Lock()
	e.lastContent, e.hasLast = c, true
	e.mu.Unlock()
	if err := e.src.Write(c); err != nil {
		slog.Error("clipboard write failed", "err", err)
	} else {
		slog.Debug("clipboard updated from remote", "id", it.ID, "origin", it.OriginDeviceID)
	}
}

// HistoryReceived merges the relay's retained history (sent right after
// auth) and replays the merged snapshot as a history-loaded event.
func (h *handler) HistoryReceived(items []item.Item) {
	e := h.engine()
	// items arrive newest first; insert oldest first to preserve order.
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Validate(e.maxImage) != nil {
			continue
		}
		e.hist.Insert(it)
	}

	snap := e.hist.Snapshot()
	if len(snap) > e.displayWindow {
		snap = snap[:e.displayWindow]
	}
	e.notifier.OnHistoryLoaded(notify.HistoryLoaded{Items: snap})
	slog.Info("history loaded", "items", len(snap))
}

func itemOf(c clip.Content) item.Item {
	switch c.Kind {
	case item.KindImage:
		return item.Image(c.Data, c.MIME)
	default:
		return item.Text(c.Text)
	}
}

func contentOf(it item.Item) clip.Content {
	switch it.Kind {
	case item.KindImage:
		return clip.Content{Kind: item.KindImage, Data: it.Data, MIME: it.MIME}
	default:
		return clip.Content{Kind: item.KindText, Text: it.Text}
	}
}

// String implements fmt.Stringer for log friendliness.
func (s Status) String() string {
	return fmt.Sprintf("connected=%t paused=%t retrying=%t history=%d",
		s.Connected, s.Paused, s.Retrying, s.HistoryLen)
}
