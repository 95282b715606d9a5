//go:build cgo && (darwin || linux || windows)

package clip

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"golang.design/x/clipboard"

	"go.clipsync.dev/clipsync/internal/item"
)

const pollInterval = 500 * time.Millisecond

// System returns the system clipboard backend, falling back to an in-memory
// clipboard when the platform clipboard is unavailable (e.g. no display).
func System() Source {
	if err := clipboard.Init(); err != nil {
		slog.Warn("system clipboard unavailable, using memory backend", "err", err)
		return NewMemory("memory-fallback")
	}
	s := &system{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go s.poll()
	return s
}

// system wraps golang.design/x/clipboard. Change detection is poll-based:
// the library's Watch stream delivers content, but polling keeps the
// behavior uniform across platforms without a per-format subscription.
type system struct {
	notify chan struct{}
	stop   chan struct{}

	mu       sync.Mutex
	lastText []byte
	lastImg  []byte
	closed   bool
}

func (s *system) Name() string { return "system" }

func (s *system) Read() (Content, bool, error) {
	if txt := clipboard.Read(clipboard.FmtText); len(txt) > 0 {
		return Content{Kind: item.KindText, Text: string(txt)}, true, nil
	}
	if img := clipboard.Read(clipboard.FmtImage); len(img) > 0 {
		return Content{Kind: item.KindImage, Data: img, MIME: "image/png"}, true, nil
	}
	return Content{}, false, nil
}

func (s *system) Write(c Content) error {
	switch c.Kind {
	case item.KindText:
		done := clipboard.Write(clipboard.FmtText, []byte(c.Text))
		s.remember([]byte(c.Text), nil)
		_ = done
	case item.KindImage:
		done := clipboard.Write(clipboard.FmtImage, c.Data)
		s.remember(nil, c.Data)
		_ = done
	}
	return nil
}

func (s *system) Watch() <-chan struct{} { return s.notify }

func (s *system) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
}

// remember records what we just wrote so the poller does not report our own
// write back as a change.
func (s *system) remember(text, img []byte) {
	s.mu.Lock()
	s.lastText = text
	s.lastImg = img
	s.mu.Unlock()
}

func (s *system) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		text := clipboard.Read(clipboard.FmtText)
		img := clipboard.Read(clipboard.FmtImage)

		s.mu.Lock()
		changed := !bytes.Equal(text, s.lastText) || !bytes.Equal(img, s.lastImg)
		if changed {
			s.lastText = text
			s.lastImg = img
		}
		s.mu.Unlock()

		if changed && (len(text) > 0 || len(img) > 0) {
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
	}
}
