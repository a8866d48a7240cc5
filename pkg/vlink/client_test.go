// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// scriptTransport feeds pre-queued frames to the client and records what the
// client wrote. Reads follow the (0, nil) timeout convention.
type scriptTransport struct {
	reads  bytes.Buffer
	writes [][]byte
}

func (t *scriptTransport) queue(cmd byte, payload []byte) {
	t.reads.Write(MustEncodeFrame(cmd, payload))
}

func (t *scriptTransport) Read(p []byte) (int, error) {
	if t.reads.Len() == 0 {
		return 0, nil
	}
	return t.reads.Read(p)
}

func (t *scriptTransport) Write(p []byte) (int, error) {
	t.writes = append(t.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (t *scriptTransport) Close() error                       { return nil }
func (t *scriptTransport) SetReadTimeout(time.Duration) error { return nil }

func newScriptedClient() (*Client, *scriptTransport) {
	tr := &scriptTransport{}
	c := NewClient(tr)
	c.SetTimeout(100 * time.Millisecond)
	return c, tr
}

// ============================================================
// Exchange basics
// ============================================================

func TestClient_PingExchange(t *testing.T) {
	c, tr := newScriptedClient()
	tr.queue(CmdPing|ResponseFlag, EncodePingInfo(PingInfo{ProtoVersion: 3, UptimeMs: 12345}))

	info, err := c.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if info.ProtoVersion != 3 || info.UptimeMs != 12345 {
		t.Errorf("info = %+v", info)
	}

	if len(tr.writes) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(tr.writes))
	}
	if want := MustEncodeFrame(CmdPing, nil); !bytes.Equal(tr.writes[0], want) {
		t.Errorf("request = % X, want % X", tr.writes[0], want)
	}
	if got := c.Stats().Snapshot().Exchanges; got != 1 {
		t.Errorf("Exchanges = %d, want 1", got)
	}
}

func TestClient_Timeout(t *testing.T) {
	c, _ := newScriptedClient()
	c.SetTimeout(30 * time.Millisecond)

	if _, err := c.Ping(); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestClient_UnexpectedFrame(t *testing.T) {
	c, tr := newScriptedClient()
	// Response to a different command.
	tr.queue(CmdStateDump|ResponseFlag, make([]byte, StateSize))

	if _, err := c.Ping(); !errors.Is(err, ErrUnexpectedFrame) {
		t.Errorf("err = %v, want ErrUnexpectedFrame", err)
	}
}

func TestClient_PushWithoutStreamingIsUnexpected(t *testing.T) {
	c, tr := newScriptedClient()
	tr.queue(CmdTelemetryPush, make([]byte, TelemetryFrameSize))
	tr.queue(CmdPing|ResponseFlag, EncodePingInfo(PingInfo{ProtoVersion: 3}))

	if _, err := c.Ping(); !errors.Is(err, ErrUnexpectedFrame) {
		t.Errorf("err = %v, want ErrUnexpectedFrame", err)
	}
}

func TestClient_LengthMismatch(t *testing.T) {
	c, tr := newScriptedClient()
	tr.queue(CmdPing|ResponseFlag, []byte{3, 0, 0}) // 3 bytes, want 5

	if _, err := c.Ping(); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("err = %v, want ErrLengthMismatch", err)
	}
}

// ============================================================
// Status rejections
// ============================================================

func TestClient_StatusReject(t *testing.T) {
	c, tr := newScriptedClient()
	tr.queue(CmdConfigCommit|ResponseFlag, []byte{CfgErrNothing})

	err := c.ConfigCommit(false)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Cmd != CmdConfigCommit || se.Code != CfgErrNothing {
		t.Errorf("StatusError = %+v", se)
	}
	if got := c.Stats().Snapshot().StatusRejects; got != 1 {
		t.Errorf("StatusRejects = %d, want 1", got)
	}
}

func TestStatusReason_Names(t *testing.T) {
	tests := []struct {
		cmd  byte
		code byte
		want string
	}{
		{CmdConfigStage, CfgErrSequence, "bad sequence"},
		{CmdBusInject, BusErrBlockedMoving, "blocked: vehicle moving"},
		{CmdBleExchange, BleErrBadState, "bad link state"},
		{CmdAbSetPending, AbErrPending, "pending transition exists"},
		{CmdPing, StatusUnknownCmd, "unknown command"},
	}
	for _, tt := range tests {
		if got := StatusReason(tt.cmd, tt.code); got != tt.want {
			t.Errorf("StatusReason(0x%02X, 0x%02X) = %q, want %q", tt.cmd, tt.code, got, tt.want)
		}
	}
}

// ============================================================
// Streaming mode
// ============================================================

func TestClient_SkipsPushesWhileStreaming(t *testing.T) {
	c, tr := newScriptedClient()

	tr.queue(CmdStreamPeriod|ResponseFlag, []byte{StatusOK})
	if err := c.SetStreamPeriod(100); err != nil {
		t.Fatalf("SetStreamPeriod: %v", err)
	}
	if !c.Streaming() {
		t.Fatal("client should report streaming")
	}

	// Two pushes land before the response of the next exchange; both must
	// be skipped, not surfaced as protocol violations.
	tr.queue(CmdTelemetryPush, make([]byte, TelemetryFrameSize))
	tr.queue(CmdTelemetryPush, make([]byte, TelemetryFrameSize))
	tr.queue(CmdPing|ResponseFlag, EncodePingInfo(PingInfo{ProtoVersion: 3}))

	if _, err := c.Ping(); err != nil {
		t.Fatalf("Ping during stream: %v", err)
	}

	tr.queue(CmdStreamPeriod|ResponseFlag, []byte{StatusOK})
	if err := c.SetStreamPeriod(0); err != nil {
		t.Fatalf("stop stream: %v", err)
	}
	if c.Streaming() {
		t.Error("client should report stream stopped")
	}
}

func TestClient_ReadStreamFrame(t *testing.T) {
	c, tr := newScriptedClient()

	// A stale response from an abandoned exchange precedes the push; it is
	// framing noise here, not an error.
	tr.queue(CmdStateDump|ResponseFlag, make([]byte, StateSize))
	tr.queue(CmdTelemetryPush, EncodeTelemetryFrame(TelemetryFrame{UptimeMs: 777, SpeedCmS: 321}))

	tf, err := c.ReadStreamFrame(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadStreamFrame: %v", err)
	}
	if tf.UptimeMs != 777 || tf.SpeedCmS != 321 {
		t.Errorf("frame = %+v", tf)
	}
}

func TestClient_ReadStreamFrame_Timeout(t *testing.T) {
	c, _ := newScriptedClient()
	if _, err := c.ReadStreamFrame(30 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

// ============================================================
// Request encodings
// ============================================================

func TestClient_SetStateRequestLayout(t *testing.T) {
	c, tr := newScriptedClient()
	tr.queue(CmdStateSet|ResponseFlag, []byte{StatusOK})

	if err := c.SetState(FieldCruiseCmS, 0x01020304); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	want := MustEncodeFrame(CmdStateSet, []byte{FieldCruiseCmS, 0x01, 0x02, 0x03, 0x04})
	if !bytes.Equal(tr.writes[0], want) {
		t.Errorf("request = % X, want % X", tr.writes[0], want)
	}
}

func TestClient_EventReadRequestLayout(t *testing.T) {
	c, tr := newScriptedClient()
	tr.queue(CmdEventRead|ResponseFlag, []byte{0})

	if _, err := c.EventRead(0xDEADBEEF, 12); err != nil {
		t.Fatalf("EventRead: %v", err)
	}
	want := MustEncodeFrame(CmdEventRead, []byte{0xDE, 0xAD, 0xBE, 0xEF, 12})
	if !bytes.Equal(tr.writes[0], want) {
		t.Errorf("request = % X, want % X", tr.writes[0], want)
	}
}

func TestClient_BusInjectRejectsOversizeLocally(t *testing.T) {
	c, tr := newScriptedClient()
	err := c.BusInject(1, 0, make([]byte, MaxCaptureData+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
	if len(tr.writes) != 0 {
		t.Error("oversize inject must not reach the wire")
	}
}
