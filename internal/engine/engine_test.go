package engine

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.clipsync.dev/clipsync/internal/clip"
	"go.clipsync.dev/clipsync/internal/config"
	"go.clipsync.dev/clipsync/internal/item"
	"go.clipsync.dev/clipsync/internal/notify"
	"go.clipsync.dev/clipsync/internal/relay"
)

// recNotifier records events on channels for assertion.
type recNotifier struct {
	statuses chan notify.ConnectionStatus
	clips    chan notify.ClipboardReceived
	hists    chan notify.HistoryLoaded
}

func newRecNotifier() *recNotifier {
	return &recNotifier{
		statuses: make(chan notify.ConnectionStatus, 64),
		clips:    make(chan notify.ClipboardReceived, 64),
		hists:    make(chan notify.HistoryLoaded, 64),
	}
}

func (n *recNotifier) OnConnectionStatus(s notify.ConnectionStatus)   { n.statuses <- s }
func (n *recNotifier) OnClipboardReceived(c notify.ClipboardReceived) { n.clips <- c }
func (n *recNotifier) OnHistoryLoaded(h notify.HistoryLoaded)         { n.hists <- h }

func (n *recNotifier) waitStatus(t *testing.T, match func(notify.ConnectionStatus) bool) notify.ConnectionStatus {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-n.statuses:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for connection status")
		}
	}
}

func startRelay(t *testing.T, secret string) string {
	t.Helper()
	srv, err := relay.NewServer(relay.Options{Secret: secret})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		srv.Close()
		ln.Close()
	})
	return ln.Addr().String()
}

// device bundles an engine with its fakes.
type device struct {
	eng *Engine
	src *clip.Memory
	not *recNotifier
}

func newDevice(t *testing.T, name string) *device {
	t.Helper()
	src := clip.NewMemory(name)
	not := newRecNotifier()
	eng := New(Options{
		DeviceID:     name,
		Source:       src,
		Notifier:     not,
		ReconnectMin: 20 * time.Millisecond,
		ReconnectMax: 100 * time.Millisecond,
	})
	t.Cleanup(eng.Disconnect)
	return &device{eng: eng, src: src, not: not}
}

func (d *device) connect(t *testing.T, addr, secret string) {
	t.Helper()
	require.NoError(t, d.eng.Connect(addr, secret))
	d.not.waitStatus(t, func(s notify.ConnectionStatus) bool { return s.Connected })
	<-d.not.hists // history replay on join
}

func clipText(src *clip.Memory) string {
	c, ok, err := src.Read()
	if err != nil || !ok || c.Kind != item.KindText {
		return ""
	}
	return c.Text
}

func TestLocalCopySyncsToOtherDevice(t *testing.T) {
	addr := startRelay(t, "s3")
	a := newDevice(t, "dev-a")
	b := newDevice(t, "dev-b")
	a.connect(t, addr, "s3")
	b.connect(t, addr, "s3")

	a.src.Set(clip.Content{Kind: item.KindText, Text: "shared text"})

	require.Eventually(t, func() bool {
		return clipText(b.src) == "shared text"
	}, 5*time.Second, 10*time.Millisecond, "remote item never reached the other clipboard")

	// The receiving side heard about it, with the true origin attached.
	select {
	case ev := <-b.not.clips:
		assert.Equal(t, "dev-a", ev.Item.OriginDeviceID)
		assert.Equal(t, "shared text", ev.Item.Text)
	case <-time.After(time.Second):
		t.Fatal("no clipboard-received event")
	}

	// Both histories retain it once.
	require.Eventually(t, func() bool { return len(b.eng.History()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Len(t, a.eng.History(), 1)
}

func TestOwnCopyNeverEchoesBack(t *testing.T) {
	addr := startRelay(t, "s3")
	a := newDevice(t, "dev-a")
	b := newDevice(t, "dev-b")
	a.connect(t, addr, "s3")
	b.connect(t, addr, "s3")

	a.src.Set(clip.Content{Kind: item.KindText, Text: "mine"})

	require.Eventually(t, func() bool {
		return clipText(b.src) == "mine"
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case ev := <-a.not.clips:
		t.Fatalf("origin device received its own item back: %v", ev.Item.ID)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Len(t, a.eng.History(), 1, "echo must not duplicate history")
}

func TestPauseSuppressesOutboundButNotInbound(t *testing.T) {
	addr := startRelay(t, "s3")
	a := newDevice(t, "dev-a")
	b := newDevice(t, "dev-b")
	a.connect(t, addr, "s3")
	b.connect(t, addr, "s3")

	a.eng.ToggleSync(true)
	assert.True(t, a.eng.Paused())

	a.src.Set(clip.Content{Kind: item.KindText, Text: "held"})
	select {
	case <-b.not.clips:
		t.Fatal("paused device must not push")
	case <-time.After(300 * time.Millisecond):
	}
	// Recorded locally even while paused.
	assert.Len(t, a.eng.History(), 1)

	// Inbound still flows to the paused device.
	b.src.Set(clip.Content{Kind: item.KindText, Text: "incoming"})
	require.Eventually(t, func() bool {
		return clipText(a.src) == "incoming"
	}, 5*time.Second, 10*time.Millisecond, "paused device must still receive")

	// Resume: new local copies flow again.
	a.eng.ToggleSync(false)
	a.src.Set(clip.Content{Kind: item.KindText, Text: "released"})
	require.Eventually(t, func() bool {
		return clipText(b.src) == "released"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHistoryLoadedOnConnect(t *testing.T) {
	addr := startRelay(t, "s3")
	early := newDevice(t, "dev-early")
	early.connect(t, addr, "s3")
	early.src.Set(clip.Content{Kind: item.KindText, Text: "before you joined"})
	require.Eventually(t, func() bool { return len(early.eng.History()) == 1 }, time.Second, 10*time.Millisecond)

	late := newDevice(t, "dev-late")
	require.NoError(t, late.eng.Connect(addr, "s3"))
	select {
	case ev := <-late.not.hists:
		require.Len(t, ev.Items, 1)
		assert.Equal(t, "before you joined", ev.Items[0].Text)
	case <-time.After(5 * time.Second):
		t.Fatal("no history-loaded event")
	}
	assert.Len(t, late.eng.History(), 1)
}

func TestReconnectAfterDrop(t *testing.T) {
	srv, err := relay.NewServer(relay.Options{Secret: "s3"})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() { _ = srv.Serve(ln) }()

	a := newDevice(t, "dev-a")
	a.connect(t, addr, "s3")

	// Kill the relay out from under the client.
	srv.Close()
	ln.Close()

	st := a.not.waitStatus(t, func(s notify.ConnectionStatus) bool { return !s.Connected })
	assert.True(t, st.Retrying, "unexpected drop must enter the retry loop")

	// Bring a relay back on the same address; the backoff loop finds it.
	var ln2 net.Listener
	require.Eventually(t, func() bool {
		ln2, err = net.Listen("tcp", addr)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "could not rebind relay address")
	srv2, err := relay.NewServer(relay.Options{Secret: "s3"})
	require.NoError(t, err)
	go func() { _ = srv2.Serve(ln2) }()
	t.Cleanup(func() {
		srv2.Close()
		ln2.Close()
	})

	a.not.waitStatus(t, func(s notify.ConnectionStatus) bool { return s.Connected })
	assert.True(t, a.eng.Connected())
}

func TestConnectDuringRetryKeepsSingleSession(t *testing.T) {
	srv1, err := relay.NewServer(relay.Options{Secret: "s3"})
	require.NoError(t, err)
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv1.Serve(ln1) }()

	a := newDevice(t, "dev-a")
	a.connect(t, ln1.Addr().String(), "s3")

	srv1.Close()
	ln1.Close()
	a.not.waitStatus(t, func(s notify.ConnectionStatus) bool { return s.Retrying })

	// Manual reconnect to a different relay while the backoff loop is still
	// pending. The abandoned loop must not wake up later and open a second
	// session.
	srv2, err := relay.NewServer(relay.Options{Secret: "s3"})
	require.NoError(t, err)
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv2.Serve(ln2) }()
	t.Cleanup(func() {
		srv2.Close()
		ln2.Close()
	})

	require.NoError(t, a.eng.Connect(ln2.Addr().String(), "s3"))
	a.not.waitStatus(t, func(s notify.ConnectionStatus) bool { return s.Connected })
	require.Eventually(t, func() bool { return srv2.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Outwait several backoff intervals; the peer count must hold at one.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, srv2.PeerCount(), "stale reconnect loop opened a second session")
	assert.True(t, a.eng.Connected())
}

func TestDisconnectStopsRetry(t *testing.T) {
	srv, err := relay.NewServer(relay.Options{Secret: "s3"})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	a := newDevice(t, "dev-a")
	a.connect(t, ln.Addr().String(), "s3")

	srv.Close()
	ln.Close()
	a.not.waitStatus(t, func(s notify.ConnectionStatus) bool { return s.Retrying })

	a.eng.Disconnect()
	require.Eventually(t, func() bool {
		st := a.eng.Status()
		return !st.Connected && !st.Retrying
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnectAuthRejected(t *testing.T) {
	addr := startRelay(t, "right")
	a := newDevice(t, "dev-a")
	err := a.eng.Connect(addr, "wrong")
	require.Error(t, err)
	assert.False(t, a.eng.Connected())
}

func TestOversizedLocalImageNotPushed(t *testing.T) {
	addr := startRelay(t, "s3")
	src := clip.NewMemory("dev-a")
	not := newRecNotifier()
	eng := New(Options{DeviceID: "dev-a", Source: src, Notifier: not, MaxImageBytes: 16})
	t.Cleanup(eng.Disconnect)
	require.NoError(t, eng.Connect(addr, "s3"))
	not.waitStatus(t, func(s notify.ConnectionStatus) bool { return s.Connected })

	src.Set(clip.Content{Kind: item.KindImage, Data: make([]byte, 64), MIME: "image/png"})
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, eng.History(), "rejected payloads must not enter history")
}

func TestConnectPersistsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := config.Open(path)
	require.NoError(t, err)

	addr := startRelay(t, "s3")
	src := clip.NewMemory("dev-a")
	eng := New(Options{DeviceID: "dev-a", Source: src, Config: store})
	t.Cleanup(eng.Disconnect)
	require.NoError(t, eng.Connect(addr, "s3"))

	got := eng.GetConfig()
	assert.Equal(t, addr, got.ServerURL)
	assert.Equal(t, "s3", got.SharedSecret)

	require.NoError(t, eng.SetAutostart(true))
	require.NoError(t, eng.SetStartMinimized(true))
	reloaded, err := config.Open(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Get().Autostart)
	assert.True(t, reloaded.Get().StartMinimized)
}

func TestAutoConnectSkippedWhenUnconfigured(t *testing.T) {
	store, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	eng := New(Options{DeviceID: "dev-a", Source: clip.NewMemory("dev-a"), Config: store})
	eng.AutoConnect()
	assert.False(t, eng.Connected())
}
