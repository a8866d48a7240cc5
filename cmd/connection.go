// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/velobahn/veloctl/pkg/vlink"
)

// SerialTransport wraps a serial port as a vlink.Transport.
type SerialTransport struct {
	port serial.Port
}

func (s *SerialTransport) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialTransport) Close() error                { return s.port.Close() }

// SetReadTimeout implements vlink.Transport. The serial layer already uses
// the (0, nil) convention for an expired timeout.
func (s *SerialTransport) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

// ErrConnectionClosed is returned when reading from a closed WebSocket bridge.
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketTransport adapts a WebSocket byte bridge to vlink.Transport. A
// dedicated reader goroutine pumps binary messages into a channel so read
// timeouts never poison the underlying WebSocket read loop.
type WebSocketTransport struct {
	conn    *websocket.Conn
	msgs    chan []byte
	readErr chan error
	buf     []byte
	timeout time.Duration
}

// NewWebSocketTransport starts the reader pump over an established connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:    conn,
		msgs:    make(chan []byte, 16),
		readErr: make(chan error, 1),
	}
	go t.pump()
	return t
}

func (w *WebSocketTransport) pump() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr <- err
			close(w.msgs)
			return
		}
		// Only binary messages carry VLink bytes.
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.msgs <- data
	}
}

func (w *WebSocketTransport) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	var timer <-chan time.Time
	if w.timeout > 0 {
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case data, ok := <-w.msgs:
		if !ok {
			return 0, ErrConnectionClosed
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-timer:
		return 0, nil // timeout, serial convention
	}
}

func (w *WebSocketTransport) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketTransport) Close() error { return w.conn.Close() }

// SetReadTimeout implements vlink.Transport.
func (w *WebSocketTransport) SetReadTimeout(d time.Duration) error {
	w.timeout = d
	return nil
}

// OpenSerialTransport opens a serial port in 8N1 mode.
func OpenSerialTransport(device string, baud int) (vlink.Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", device, err)
	}

	return &SerialTransport{port: port}, nil
}

// OpenTCPTransport dials a TCP bridge.
func OpenTCPTransport(hostport string) (vlink.Transport, error) {
	conn, err := net.DialTimeout("tcp", hostport, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", hostport, err)
	}
	return vlink.NewNetTransport(conn), nil
}

// OpenWebSocketTransport dials a WebSocket byte bridge with HTTP Basic auth.
func OpenWebSocketTransport(wsURL, username, password string, skipSSLVerify bool) (vlink.Transport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return NewWebSocketTransport(conn), nil
}

// GetPassword retrieves the bridge password from the environment or prompts.
func GetPassword() (string, error) {
	if pw := os.Getenv("VELOCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenTransport opens the connection selected by --addr. The transport kind
// is chosen by address syntax: ws:// or wss:// URLs dial a WebSocket bridge,
// host:port dials TCP, anything else opens a serial device.
func OpenTransport() (vlink.Transport, string, error) {
	if address == "" {
		return nil, "", fmt.Errorf("--addr must be specified (device path, host:port, or ws:// URL)")
	}

	switch {
	case strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://"):
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		t, err := OpenWebSocketTransport(address, wsUsername, password, wsNoVerify)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("WebSocket: %s", address), nil

	case looksLikeHostPort(address):
		t, err := OpenTCPTransport(address)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("TCP: %s", address), nil

	default:
		t, err := OpenSerialTransport(address, baudRate)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("Serial: %s @ %d baud", address, baudRate), nil
	}
}

// looksLikeHostPort reports whether the address parses as host:port and is
// not a filesystem path.
func looksLikeHostPort(addr string) bool {
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, ".") {
		return false
	}
	_, _, err := net.SplitHostPort(addr)
	return err == nil
}

// openClient opens the configured transport and wraps it in a protocol
// client with the configured timeout.
func openClient() (*vlink.Client, vlink.Transport, string, error) {
	t, info, err := OpenTransport()
	if err != nil {
		return nil, nil, "", err
	}
	c := vlink.NewClient(t)
	c.SetTimeout(cmdTimeout)
	return c, t, info, nil
}
