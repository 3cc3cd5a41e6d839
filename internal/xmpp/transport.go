// Package xmpp implements the client side of Riot's XMPP-flavoured chat
// protocol: a framed transport over a persistent TLS socket, the strictly
// ordered login handshake, and a stanza reader that reassembles complete
// top-level elements from raw reads.
package xmpp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

const (
	// ChatPort is the TLS port the chat servers listen on.
	ChatPort = 5223

	connectTimeout = 30 * time.Second
	writeTimeout   = 15 * time.Second

	// readChunkSize is the per-read buffer size for the steady-state loop.
	readChunkSize = 4096
)

// Transport is a framed reader/writer over a persistent connection. The wire
// protocol has no length prefix; stanzas are delimited only by well-known
// closing tags, so ReadUntil accumulates raw bytes until the buffer tail
// matches the requested marker.
type Transport struct {
	conn    net.Conn
	pending []byte
}

// Connect dials the chat server over TLS and wraps the connection.
func Connect(ctx context.Context, host string, port int) (*Transport, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: connectTimeout},
		Config:    &tls.Config{ServerName: host},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chat server at %s: %w", addr, err)
	}

	return NewTransport(conn), nil
}

// NewTransport wraps an established connection. Split out from Connect so
// tests can drive the transport over an in-memory pipe.
func NewTransport(conn net.Conn) *Transport {
	return &Transport{conn: conn}
}

// Send writes the full payload before returning.
func (t *Transport) Send(payload []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := t.conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write to chat server: %w", err)
	}
	return nil
}

// ReadUntil accumulates reads until the buffered tail matches marker, then
// returns everything read so far. Bytes past the marker (the prefix of a
// following stanza arriving in the same read) stay pending for the next
// call, so nothing received is ever discarded.
func (t *Transport) ReadUntil(marker []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	if len(t.pending) > 0 {
		buf = append(buf, t.pending...)
		t.pending = nil
	}

	for {
		if idx := bytes.Index(buf, marker); idx >= 0 {
			end := idx + len(marker)
			t.pending = append(t.pending, buf[end:]...)
			return buf[:end], nil
		}

		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, err := t.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("read waiting for %q: %w", marker, err)
		}
	}
}

// Read returns the next chunk of raw bytes, honoring the given deadline.
// Any bytes left over from a previous ReadUntil are returned first.
func (t *Transport) Read(deadline time.Time) ([]byte, error) {
	if len(t.pending) > 0 {
		out := t.pending
		t.pending = nil
		return out, nil
	}

	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	chunk := make([]byte, readChunkSize)
	n, err := t.conn.Read(chunk)
	if n > 0 {
		return chunk[:n], err
	}
	return nil, err
}

// Close tears down the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
