// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import "time"

// Frame represents one decoded VLink wire frame. Frames are constructed per
// exchange and discarded after decode; they are never persisted.
type Frame struct {
	cmd       byte
	payload   []byte
	timestamp time.Time
}

// NewFrame creates a frame with the given command and payload.
func NewFrame(cmd byte, payload []byte) *Frame {
	return &Frame{cmd: cmd, payload: payload, timestamp: time.Now()}
}

// Cmd returns the frame's command byte.
func (f *Frame) Cmd() byte { return f.cmd }

// Payload returns the frame's payload bytes.
func (f *Frame) Payload() []byte { return f.payload }

// Timestamp returns the frame's decode timestamp.
func (f *Frame) Timestamp() time.Time { return f.timestamp }

// IsResponse returns true if the frame carries the response flag.
func (f *Frame) IsResponse() bool { return f.cmd&ResponseFlag != 0 }

// IsPush returns true if the frame is an unsolicited telemetry push.
func (f *Frame) IsPush() bool { return f.cmd == CmdTelemetryPush }

// Checksum computes the frame checksum: bitwise NOT of the XOR over
// sof, cmd, len and every payload byte.
func Checksum(cmd byte, payload []byte) byte {
	x := byte(SOF) ^ cmd ^ byte(len(payload))
	for _, b := range payload {
		x ^= b
	}
	return ^x
}

// EncodeFrame builds the wire representation of one frame:
//
//	[0x55][cmd][len][payload...][checksum]
//
// Fails with ErrPayloadTooLarge when the payload exceeds 255 bytes.
func EncodeFrame(cmd byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 0, headerSize+len(payload)+1)
	out = append(out, SOF, cmd, byte(len(payload)))
	out = append(out, payload...)
	out = append(out, Checksum(cmd, payload))
	return out, nil
}

// MustEncodeFrame encodes a frame and panics on error. Only for payloads whose
// size is known to be in range by construction.
func MustEncodeFrame(cmd byte, payload []byte) []byte {
	data, err := EncodeFrame(cmd, payload)
	if err != nil {
		panic("vlink: encode error: " + err.Error())
	}
	return data
}
