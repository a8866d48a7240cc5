// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Transport is the byte channel the protocol engine runs over. The engine
// only ever needs "write bytes" and "read up to N bytes with a timeout"; the
// concrete channel (serial port, PTY, TCP socket, WebSocket bridge) is owned
// by the caller.
//
// Read must return (0, nil) or a timeout error when the configured read
// timeout elapses with no data, rather than blocking forever.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds every subsequent Read. Zero means block.
	SetReadTimeout(d time.Duration) error
}

// NetTransport adapts a net.Conn (TCP socket, net.Pipe test link) to the
// Transport interface using read deadlines.
type NetTransport struct {
	conn    net.Conn
	timeout time.Duration
}

// NewNetTransport wraps an established net.Conn.
func NewNetTransport(conn net.Conn) *NetTransport {
	return &NetTransport{conn: conn}
}

func (t *NetTransport) Read(p []byte) (int, error) {
	if t.timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, err
		}
	}
	n, err := t.conn.Read(p)
	if err != nil && isTimeout(err) {
		// Normalize deadline expiry to the serial-port convention: no data,
		// no hard error. The framer converts this to ErrTimeout itself.
		return n, nil
	}
	return n, err
}

func (t *NetTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *NetTransport) Close() error { return t.conn.Close() }

// SetReadTimeout implements Transport.
func (t *NetTransport) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
