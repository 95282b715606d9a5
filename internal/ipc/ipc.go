// Package ipc exposes a tiny local status socket so `clipsync status` can
// query a running client daemon. One unix socket, one request shape: connect,
// read a JSON status document, done.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

const queryTimeout = 2 * time.Second

// SocketPath returns the status socket location. CLIPSYNC_SOCKET overrides;
// otherwise the runtime dir is preferred over the temp dir.
func SocketPath() string {
	if p := os.Getenv("CLIPSYNC_SOCKET"); p != "" {
		return p
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipsync.sock")
	}
	return filepath.Join(os.TempDir(), "clipsync.sock")
}

// IsRunning reports whether a daemon answers on the socket.
func IsRunning(path string) bool {
	conn, err := net.DialTimeout("unix", path, queryTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Listen binds the status socket, clearing a stale file left by a previous
// run that died without cleanup. It refuses to steal the socket from a live
// daemon.
func Listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if IsRunning(path) {
			return nil, fmt.Errorf("another clipsync client is already running on %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("stale socket %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", path)
}

// Serve answers each connection with one JSON document produced by status,
// until the listener closes. Meant to run as a goroutine.
func Serve(ln net.Listener, status func() any) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Warn("status socket accept failed", "err", err)
			}
			return
		}
		go func() {
			defer conn.Close()
			_ = conn.SetWriteDeadline(time.Now().Add(queryTimeout))
			if err := json.NewEncoder(conn).Encode(status()); err != nil {
				slog.Debug("status write failed", "err", err)
			}
		}()
	}
}

// Query connects to the socket and returns the daemon's status document.
func Query(path string) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", path, queryTimeout)
	if err != nil {
		return nil, fmt.Errorf("no client running (dial %s: %w)", path, err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(queryTimeout))

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return nil, fmt.Errorf("status read: %w", err)
	}
	return raw, nil
}
