// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"bytes"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ============================================================
// Write / read roundtrip
// ============================================================

func TestArchive_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewArchiveWriter(&buf, "/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}

	tele := TelemetryFrame{UptimeMs: 1000, SpeedCmS: 250, BatteryMV: 36400}
	ev := EventRecord{TimestampMs: 1020, Type: EventBrakeOveride, SpeedCmS: 250}
	slog := StreamLogRecord{TimestampMs: 1050, SpeedCmS: 240, ThrottleMV: 1800}

	if err := w.WriteTelemetry(tele); err != nil {
		t.Fatalf("WriteTelemetry: %v", err)
	}
	if err := w.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteStreamLog(slog); err != nil {
		t.Fatalf("WriteStreamLog: %v", err)
	}
	if w.Count() != 3 {
		t.Errorf("Count = %d, want 3", w.Count())
	}

	hdr, entries, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if hdr.Magic != ArchiveMagic || hdr.Version != ArchiveVersion {
		t.Errorf("header = %+v", hdr)
	}
	if hdr.Address != "/dev/ttyUSB0" {
		t.Errorf("address = %q", hdr.Address)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	if entries[0].Telemetry == nil || *entries[0].Telemetry != tele {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[0].Event != nil || entries[0].StreamLog != nil {
		t.Error("entry 0 must carry exactly one record kind")
	}
	if entries[1].Event == nil || *entries[1].Event != ev {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if entries[2].StreamLog == nil || *entries[2].StreamLog != slog {
		t.Errorf("entry 2 = %+v", entries[2])
	}
}

func TestArchive_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewArchiveWriter(&buf, ""); err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}

	_, entries, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

// ============================================================
// Rejection paths
// ============================================================

func TestReadArchive_RejectsWrongMagic(t *testing.T) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(ArchiveHeader{Magic: "NOPE", Version: 1, Created: time.Now()}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, _, err := ReadArchive(&buf); err == nil {
		t.Error("expected error for wrong magic")
	}
}

func TestReadArchive_RejectsNewerVersion(t *testing.T) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	hdr := ArchiveHeader{Magic: ArchiveMagic, Version: ArchiveVersion + 1, Created: time.Now()}
	if err := enc.Encode(hdr); err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, _, err := ReadArchive(&buf); err == nil {
		t.Error("expected error for newer archive version")
	}
}
