// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// CrashDump is the one-shot fault snapshot plus an embedded ring of the most
// recent event records captured at fault time. The firmware writes it once on
// a hard fault (or an injected test trigger); reading never consumes it and
// only CmdCrashClear empties it.
//
//	off  field
//	  0  Magic        u32  (CrashMagic; 0 = no dump present)
//	  4  Version      u8
//	  5  Flags        u8
//	  6  Sequence     u16
//	  8  TimestampMs  u32
//	 12  PC           u32
//	 16  LR           u32
//	 20  SP           u32
//	 24  PSR          u32
//	 28  CFSR         u32
//	 32  HFSR         u32
//	 36  EventCount   u8
//	 37  reserved     3 bytes
//	 40  Events       CrashEventRingSize x EventRecord
//	120  CRC32        u32  (whole block, CRC field zeroed during the pass)
type CrashDump struct {
	Magic       uint32
	Version     uint8
	Flags       uint8
	Sequence    uint16
	TimestampMs uint32

	PC   uint32
	LR   uint32
	SP   uint32
	PSR  uint32
	CFSR uint32
	HFSR uint32

	Events []EventRecord

	CRC32 uint32
	// CRCOK reports whether the stored CRC matched the block. Callers must
	// check it before trusting register fields; a corrupt dump is reported
	// as present-but-invalid, never silently discarded.
	CRCOK bool
}

// Crash dump constants.
const (
	CrashMagic         = 0x43524D31
	CrashDumpVersion   = 1
	CrashEventRingSize = 4
	CrashDumpSize      = 124

	crashEventsOffset = 40
	crashCRCOffset    = 120
)

// Present reports whether a dump has been written since the last clear.
func (d *CrashDump) Present() bool { return d.Magic != 0 }

// CrashCRC computes the block CRC32 with the CRC field zeroed.
func CrashCRC(p []byte) uint32 {
	if len(p) < CrashDumpSize {
		return 0
	}
	scratch := append([]byte(nil), p[:CrashDumpSize]...)
	for i := crashCRCOffset; i < crashCRCOffset+4; i++ {
		scratch[i] = 0
	}
	return crc32.ChecksumIEEE(scratch)
}

// DecodeCrashDump decodes a crash dump block and verifies its CRC.
func DecodeCrashDump(p []byte) (CrashDump, error) {
	if len(p) < CrashDumpSize {
		return CrashDump{}, fmt.Errorf("%w: crash dump %d bytes", ErrShortPayload, len(p))
	}
	d := CrashDump{
		Magic:       binary.BigEndian.Uint32(p[0:4]),
		Version:     p[4],
		Flags:       p[5],
		Sequence:    binary.BigEndian.Uint16(p[6:8]),
		TimestampMs: binary.BigEndian.Uint32(p[8:12]),
		PC:          binary.BigEndian.Uint32(p[12:16]),
		LR:          binary.BigEndian.Uint32(p[16:20]),
		SP:          binary.BigEndian.Uint32(p[20:24]),
		PSR:         binary.BigEndian.Uint32(p[24:28]),
		CFSR:        binary.BigEndian.Uint32(p[28:32]),
		HFSR:        binary.BigEndian.Uint32(p[32:36]),
		CRC32:       binary.BigEndian.Uint32(p[crashCRCOffset : crashCRCOffset+4]),
	}
	n := int(p[36])
	if n > CrashEventRingSize {
		n = CrashEventRingSize
	}
	for i := 0; i < n; i++ {
		rec, err := DecodeEventRecord(p[crashEventsOffset+i*EventRecordSize:])
		if err != nil {
			return CrashDump{}, err
		}
		d.Events = append(d.Events, rec)
	}
	d.CRCOK = d.CRC32 == CrashCRC(p)
	return d, nil
}

// EncodeCrashDump serializes a dump block, recomputing the CRC field.
func EncodeCrashDump(d CrashDump) []byte {
	p := make([]byte, CrashDumpSize)
	binary.BigEndian.PutUint32(p[0:4], d.Magic)
	p[4] = d.Version
	p[5] = d.Flags
	binary.BigEndian.PutUint16(p[6:8], d.Sequence)
	binary.BigEndian.PutUint32(p[8:12], d.TimestampMs)
	binary.BigEndian.PutUint32(p[12:16], d.PC)
	binary.BigEndian.PutUint32(p[16:20], d.LR)
	binary.BigEndian.PutUint32(p[20:24], d.SP)
	binary.BigEndian.PutUint32(p[24:28], d.PSR)
	binary.BigEndian.PutUint32(p[28:32], d.CFSR)
	binary.BigEndian.PutUint32(p[32:36], d.HFSR)
	n := len(d.Events)
	if n > CrashEventRingSize {
		n = CrashEventRingSize
	}
	p[36] = byte(n)
	for i := 0; i < n; i++ {
		copy(p[crashEventsOffset+i*EventRecordSize:], EncodeEventRecord(d.Events[i]))
	}
	binary.BigEndian.PutUint32(p[crashCRCOffset:], CrashCRC(p))
	return p
}
