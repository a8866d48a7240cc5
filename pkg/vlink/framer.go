// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"fmt"
	"time"
)

// Framer reads and writes VLink frames over a Transport. It is the only unit
// that knows the wire byte layout.
//
// On a start-of-frame mismatch the reader discards exactly one byte and
// retries, which recovers frame alignment after stray bytes without throwing
// away a following valid frame. A checksum mismatch consumes the corrupted
// frame and returns ErrChecksum; the caller decides whether to retry the
// whole exchange.
type Framer struct {
	t     Transport
	stats *Stats
}

// NewFramer creates a framer over the given transport.
func NewFramer(t Transport) *Framer {
	return &Framer{t: t, stats: NewStats()}
}

// Stats returns the link statistics accumulated by this framer.
func (f *Framer) Stats() *Stats { return f.stats }

// WriteFrame encodes and transmits one frame.
func (f *Framer) WriteFrame(cmd byte, payload []byte) error {
	data, err := EncodeFrame(cmd, payload)
	if err != nil {
		return err
	}
	if _, err := f.t.Write(data); err != nil {
		return fmt.Errorf("vlink: frame write: %w", err)
	}
	f.stats.CountSent()
	return nil
}

// ReadFrame reads exactly one frame, blocking up to timeout. It returns
// ErrTimeout when no complete frame arrives in time and ErrChecksum when a
// frame arrives corrupted. Transport failures are surfaced wrapped; they do
// not disturb resynchronization on the next call.
func (f *Framer) ReadFrame(timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)

	var hdr [2]byte
	for {
		b, err := f.readByte(deadline)
		if err != nil {
			return nil, err
		}
		if b != SOF {
			// Resynchronize by discarding one byte, never the whole buffer.
			f.stats.CountDiscarded()
			continue
		}

		if err := f.readExact(hdr[:], deadline); err != nil {
			return nil, err
		}
		cmd, n := hdr[0], int(hdr[1])

		payload := make([]byte, n)
		if err := f.readExact(payload, deadline); err != nil {
			return nil, err
		}

		sum, err := f.readByte(deadline)
		if err != nil {
			return nil, err
		}
		if sum != Checksum(cmd, payload) {
			f.stats.CountChecksumError()
			return nil, fmt.Errorf("%w: cmd 0x%02X len %d", ErrChecksum, cmd, n)
		}

		f.stats.CountReceived()
		return NewFrame(cmd, payload), nil
	}
}

func (f *Framer) readByte(deadline time.Time) (byte, error) {
	var buf [1]byte
	if err := f.readExact(buf[:], deadline); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// readExact fills buf from the transport before the deadline. Transports
// signal an expired read timeout with (0, nil), matching the serial-port
// convention.
func (f *Framer) readExact(buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			f.stats.CountTimeout()
			return fmt.Errorf("%w after %d/%d bytes", ErrTimeout, got, len(buf))
		}
		if err := f.t.SetReadTimeout(remaining); err != nil {
			return fmt.Errorf("vlink: set read timeout: %w", err)
		}
		n, err := f.t.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("vlink: frame read after %d/%d bytes: %w", got, len(buf), err)
		}
		got += n
	}
	return nil
}
