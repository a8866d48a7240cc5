// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Session archives store captured telemetry and event records as a CBOR
// sequence: one header document followed by any number of entries. The
// format is self-describing so archives survive record-schema growth.

// ArchiveMagic identifies a veloctl session archive.
const ArchiveMagic = "VLNK"

// ArchiveVersion is the current archive format revision.
const ArchiveVersion = 1

// ArchiveHeader is the first document in every archive.
type ArchiveHeader struct {
	Magic   string    `cbor:"magic"`
	Version int       `cbor:"version"`
	Created time.Time `cbor:"created"`
	Address string    `cbor:"address,omitempty"`
}

// ArchiveEntry is one captured record. Exactly one of Telemetry and Event is
// set.
type ArchiveEntry struct {
	WallTime  time.Time        `cbor:"t"`
	Telemetry *TelemetryFrame  `cbor:"tele,omitempty"`
	Event     *EventRecord     `cbor:"event,omitempty"`
	StreamLog *StreamLogRecord `cbor:"slog,omitempty"`
}

// ArchiveWriter appends CBOR entries to an archive stream.
type ArchiveWriter struct {
	enc   *cbor.Encoder
	count int
}

// NewArchiveWriter writes the archive header and returns a writer for
// entries. The address is recorded for later provenance, it is not
// interpreted.
func NewArchiveWriter(w io.Writer, address string) (*ArchiveWriter, error) {
	enc := cbor.NewEncoder(w)
	hdr := ArchiveHeader{
		Magic:   ArchiveMagic,
		Version: ArchiveVersion,
		Created: time.Now().UTC(),
		Address: address,
	}
	if err := enc.Encode(hdr); err != nil {
		return nil, fmt.Errorf("vlink: archive header: %w", err)
	}
	return &ArchiveWriter{enc: enc}, nil
}

// WriteTelemetry appends one telemetry push frame.
func (w *ArchiveWriter) WriteTelemetry(t TelemetryFrame) error {
	return w.write(ArchiveEntry{WallTime: time.Now().UTC(), Telemetry: &t})
}

// WriteEvent appends one event record.
func (w *ArchiveWriter) WriteEvent(e EventRecord) error {
	return w.write(ArchiveEntry{WallTime: time.Now().UTC(), Event: &e})
}

// WriteStreamLog appends one stream log record.
func (w *ArchiveWriter) WriteStreamLog(r StreamLogRecord) error {
	return w.write(ArchiveEntry{WallTime: time.Now().UTC(), StreamLog: &r})
}

func (w *ArchiveWriter) write(e ArchiveEntry) error {
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("vlink: archive entry: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of entries written.
func (w *ArchiveWriter) Count() int { return w.count }

// ReadArchive decodes a whole archive stream.
func ReadArchive(r io.Reader) (ArchiveHeader, []ArchiveEntry, error) {
	dec := cbor.NewDecoder(r)

	var hdr ArchiveHeader
	if err := dec.Decode(&hdr); err != nil {
		return ArchiveHeader{}, nil, fmt.Errorf("vlink: archive header: %w", err)
	}
	if hdr.Magic != ArchiveMagic {
		return ArchiveHeader{}, nil, fmt.Errorf("vlink: not a session archive (magic %q)", hdr.Magic)
	}
	if hdr.Version > ArchiveVersion {
		return ArchiveHeader{}, nil, fmt.Errorf("vlink: archive version %d newer than supported %d", hdr.Version, ArchiveVersion)
	}

	var entries []ArchiveEntry
	for {
		var e ArchiveEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return hdr, entries, fmt.Errorf("vlink: archive entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
	return hdr, entries, nil
}
