// Package config persists the small set of settings the sync engine needs:
// server URL, shared secret, and the autostart / start-minimized flags.
//
// The file is pretty-printed JSON under the user config dir. Every field is
// optional — a missing file or a missing field means "not configured", never
// an error. The engine treats the loaded value as read-only; mutation goes
// through Store setters, which persist immediately.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Config is the persisted configuration value, read-only to the core.
type Config struct {
	ServerURL      string `json:"server_url,omitempty"`
	SharedSecret   string `json:"shared_secret,omitempty"`
	Autostart      bool   `json:"autostart"`
	StartMinimized bool   `json:"start_minimized"`
}

// Configured reports whether both connection settings are present, which is
// what auto-connect requires.
func (c Config) Configured() bool {
	return c.ServerURL != "" && c.SharedSecret != ""
}

// DefaultPath returns the platform config file location
// (<user config dir>/clipsync/config.json).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(dir, "clipsync", "config.json"), nil
}

// Store binds a Config to its file.
type Store struct {
	mu   sync.Mutex
	path string
	cur  Config
}

// Open loads the config at path, tolerating a missing file.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("config read: %w", err)
	}
	if err := json.Unmarshal(b, &s.cur); err != nil {
		return nil, fmt.Errorf("config parse %s: %w", path, err)
	}
	return s, nil
}

// Get returns the current configuration value.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// SetConnection updates and persists the server URL and shared secret.
func (s *Store) SetConnection(serverURL, sharedSecret string) error {
	return s.update(func(c *Config) {
		c.ServerURL = serverURL
		c.SharedSecret = sharedSecret
	})
}

// SetAutostart updates and persists the autostart flag.
func (s *Store) SetAutostart(enabled bool) error {
	return s.update(func(c *Config) { c.Autostart = enabled })
}

// SetStartMinimized updates and persists the start-minimized flag.
func (s *Store) SetStartMinimized(enabled bool) error {
	return s.update(func(c *Config) { c.StartMinimized = enabled })
}

func (s *Store) update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	fn(&next)
	if err := write(s.path, next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

func write(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config dir: %w", err)
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config encode: %w", err)
	}
	// Secret lives in this file: keep it owner-readable only.
	if err := os.WriteFile(path, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("config write: %w", err)
	}
	return nil
}
