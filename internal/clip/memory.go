package clip

import "sync"

// Memory is an in-process Source. Tests drive it via Set; headless runs use
// it as a stand-in so the engine works without a system clipboard.
type Memory struct {
	name   string
	mu     sync.Mutex
	cur    Content
	has    bool
	notify chan struct{}
}

// NewMemory returns an empty memory clipboard.
func NewMemory(name string) *Memory {
	if name == "" {
		name = "memory"
	}
	return &Memory{name: name, notify: make(chan struct{}, 1)}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Read() (Content, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, m.has, nil
}

// Write replaces the contents without signalling the watcher: it models the
// engine writing a remote item into the clipboard, which must not be
// re-detected as a local change.
func (m *Memory) Write(c Content) error {
	m.mu.Lock()
	m.cur = c
	m.has = !c.Empty()
	m.mu.Unlock()
	return nil
}

// Set replaces the contents and signals the watcher, like a user copy.
func (m *Memory) Set(c Content) {
	m.mu.Lock()
	m.cur = c
	m.has = !c.Empty()
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Watch() <-chan struct{} { return m.notify }

func (m *Memory) Close() {}
