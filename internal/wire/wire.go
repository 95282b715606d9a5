// Package wire handles reading and writing length-prefixed protocol frames
// over a net.Conn, with optional NaCl secretbox encryption.
//
// Wire format:
//
//	[ 4-byte big-endian payload length ][ payload ]
//
// Unencrypted, the payload is one JSON message. Encrypted, it is
// nonce+ciphertext of that JSON. The length prefix is validated against
// MaxFrameSize before any payload buffer is allocated, so a hostile peer
// cannot force a large allocation with a forged header.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.clipsync.dev/clipsync/internal/crypto"
	"go.clipsync.dev/clipsync/internal/protocol"
)

const (
	// MaxFrameSize is the largest frame payload we will read (16 MiB).
	MaxFrameSize = 16 * 1024 * 1024

	headerSize    = 4
	writeDeadline = 5 * time.Second
)

// ErrFrameTooLarge is returned when a frame header announces a payload
// larger than MaxFrameSize. The connection is no longer usable.
var ErrFrameTooLarge = errors.New("frame too large")

// Conn wraps a net.Conn with length-prefixed framing and optional encryption.
// Reads and writes must each come from a single goroutine.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	key  *[32]byte // nil = no encryption
}

// New wraps conn. If key is non-nil every frame payload is encrypted with
// NaCl secretbox before being written and decrypted after being read.
func New(conn net.Conn, key *[32]byte) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
		key:  key,
	}
}

// Underlying returns the underlying net.Conn.
func (c *Conn) Underlying() net.Conn { return c.conn }

// SetReadDeadline sets or clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteMsg serialises msg, optionally encrypts it, and writes one frame.
func (c *Conn) WriteMsg(msg *protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if c.key != nil {
		payload, err = crypto.Seal(payload, c.key)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err = c.conn.Write(frame)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadMsg reads one frame, optionally decrypts it, and deserialises the
// payload into a Message.
func (c *Conn) ReadMsg() (*protocol.Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.br, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if n == 0 {
		return nil, &protocol.Error{Reason: "empty frame"}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return nil, err
	}

	if c.key != nil {
		plain, err := crypto.Open(payload, c.key)
		if err != nil {
			return nil, &protocol.Error{Reason: err.Error()}
		}
		payload = plain
	}
	return protocol.Decode(payload)
}
