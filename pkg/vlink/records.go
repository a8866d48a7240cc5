// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"encoding/binary"
	"fmt"
)

// All structured payloads use big-endian fixed-width integers. Every layout
// in this file is the pinned wire schema: offsets are explicit, never derived
// from struct packing.

// PingInfo is the response payload of CmdPing.
type PingInfo struct {
	ProtoVersion uint8
	UptimeMs     uint32
}

// PingInfoSize is the ping response payload size.
const PingInfoSize = 5

// DecodePingInfo decodes a ping response payload.
func DecodePingInfo(p []byte) (PingInfo, error) {
	if len(p) < PingInfoSize {
		return PingInfo{}, fmt.Errorf("%w: ping info %d bytes", ErrShortPayload, len(p))
	}
	return PingInfo{
		ProtoVersion: p[0],
		UptimeMs:     binary.BigEndian.Uint32(p[1:5]),
	}, nil
}

// EncodePingInfo encodes a ping response payload.
func EncodePingInfo(v PingInfo) []byte {
	p := make([]byte, PingInfoSize)
	p[0] = v.ProtoVersion
	binary.BigEndian.PutUint32(p[1:5], v.UptimeMs)
	return p
}

// State is the live vehicle state snapshot returned by CmdStateDump.
type State struct {
	DriveMode       uint8
	AssistLevel     uint8
	SpeedCmS        uint16 // cm/s
	BatteryMV       uint16
	MotorCurrentMA  int16
	ControllerTempC int8
	Flags           uint8
	OdometerM       uint32
	ErrorCode       uint16
}

// StateSize is the state dump payload size.
const StateSize = 16

// Moving reports the moving flag.
func (s State) Moving() bool { return s.Flags&FlagMoving != 0 }

// Braking reports the brake flag.
func (s State) Braking() bool { return s.Flags&FlagBrake != 0 }

// DecodeState decodes a state dump payload.
func DecodeState(p []byte) (State, error) {
	if len(p) < StateSize {
		return State{}, fmt.Errorf("%w: state %d bytes", ErrShortPayload, len(p))
	}
	return State{
		DriveMode:       p[0],
		AssistLevel:     p[1],
		SpeedCmS:        binary.BigEndian.Uint16(p[2:4]),
		BatteryMV:       binary.BigEndian.Uint16(p[4:6]),
		MotorCurrentMA:  int16(binary.BigEndian.Uint16(p[6:8])),
		ControllerTempC: int8(p[8]),
		Flags:           p[9],
		OdometerM:       binary.BigEndian.Uint32(p[10:14]),
		ErrorCode:       binary.BigEndian.Uint16(p[14:16]),
	}, nil
}

// EncodeState encodes a state dump payload.
func EncodeState(s State) []byte {
	p := make([]byte, StateSize)
	p[0] = s.DriveMode
	p[1] = s.AssistLevel
	binary.BigEndian.PutUint16(p[2:4], s.SpeedCmS)
	binary.BigEndian.PutUint16(p[4:6], s.BatteryMV)
	binary.BigEndian.PutUint16(p[6:8], uint16(s.MotorCurrentMA))
	p[8] = byte(s.ControllerTempC)
	p[9] = s.Flags
	binary.BigEndian.PutUint32(p[10:14], s.OdometerM)
	binary.BigEndian.PutUint16(p[14:16], s.ErrorCode)
	return p
}

// TelemetryFrame is the payload of an unsolicited telemetry push frame.
type TelemetryFrame struct {
	UptimeMs        uint32
	SpeedCmS        uint16
	BatteryMV       uint16
	MotorCurrentMA  int16
	ControllerTempC int8
	Flags           uint8
}

// TelemetryFrameSize is the telemetry push payload size.
const TelemetryFrameSize = 12

// DecodeTelemetryFrame decodes a telemetry push payload.
func DecodeTelemetryFrame(p []byte) (TelemetryFrame, error) {
	if len(p) < TelemetryFrameSize {
		return TelemetryFrame{}, fmt.Errorf("%w: telemetry %d bytes", ErrShortPayload, len(p))
	}
	return TelemetryFrame{
		UptimeMs:        binary.BigEndian.Uint32(p[0:4]),
		SpeedCmS:        binary.BigEndian.Uint16(p[4:6]),
		BatteryMV:       binary.BigEndian.Uint16(p[6:8]),
		MotorCurrentMA:  int16(binary.BigEndian.Uint16(p[8:10])),
		ControllerTempC: int8(p[10]),
		Flags:           p[11],
	}, nil
}

// EncodeTelemetryFrame encodes a telemetry push payload.
func EncodeTelemetryFrame(t TelemetryFrame) []byte {
	p := make([]byte, TelemetryFrameSize)
	binary.BigEndian.PutUint32(p[0:4], t.UptimeMs)
	binary.BigEndian.PutUint16(p[4:6], t.SpeedCmS)
	binary.BigEndian.PutUint16(p[6:8], t.BatteryMV)
	binary.BigEndian.PutUint16(p[8:10], uint16(t.MotorCurrentMA))
	p[10] = byte(t.ControllerTempC)
	p[11] = t.Flags
	return p
}

// DebugState is the growing diagnostic snapshot returned by CmdDebugState.
//
// The struct has gained field groups across firmware revisions. Each group is
// gated by the minimum (version, payload length) that introduced it; omitted
// trailing groups decode as zero and are never fabricated from heuristics.
type DebugState struct {
	// Group 1 - present since version 1, 12 bytes.
	Version     uint8
	ResetReason uint8
	BootCount   uint16
	UptimeMs    uint32
	LoopHz      uint16
	FreeStack   uint16

	// Group 2 - present since version 2, 20 bytes.
	PWMDuty           uint16
	HallErrors        uint16
	I2CErrors         uint16
	CruiseSetpointCmS uint16

	// Group 3 - present since version 3, 28 bytes.
	BoostActive    uint8
	BoostBudgetJ   uint16
	BoostCooldownS uint8
	ThrottleMV     uint16
	AssistCurveIdx uint8
	Reserved       uint8
}

// Debug state field-group gates.
const (
	DebugStateBaseSize = 12
	debugStateV2Size   = 20
	debugStateV3Size   = 28
)

// debugStateGroups is the ordered list of field groups: the decoder walks it
// in order and stops at the first gate the payload does not satisfy.
var debugStateGroups = []struct {
	minVersion uint8
	minLen     int
	decode     func(*DebugState, []byte)
}{
	{1, DebugStateBaseSize, func(d *DebugState, p []byte) {
		d.ResetReason = p[1]
		d.BootCount = binary.BigEndian.Uint16(p[2:4])
		d.UptimeMs = binary.BigEndian.Uint32(p[4:8])
		d.LoopHz = binary.BigEndian.Uint16(p[8:10])
		d.FreeStack = binary.BigEndian.Uint16(p[10:12])
	}},
	{2, debugStateV2Size, func(d *DebugState, p []byte) {
		d.PWMDuty = binary.BigEndian.Uint16(p[12:14])
		d.HallErrors = binary.BigEndian.Uint16(p[14:16])
		d.I2CErrors = binary.BigEndian.Uint16(p[16:18])
		d.CruiseSetpointCmS = binary.BigEndian.Uint16(p[18:20])
	}},
	{3, debugStateV3Size, func(d *DebugState, p []byte) {
		d.BoostActive = p[20]
		d.BoostBudgetJ = binary.BigEndian.Uint16(p[21:23])
		d.BoostCooldownS = p[23]
		d.ThrottleMV = binary.BigEndian.Uint16(p[24:26])
		d.AssistCurveIdx = p[26]
		d.Reserved = p[27]
	}},
}

// DecodeDebugState decodes a debug state payload, tolerating trailing-field
// growth across firmware versions.
func DecodeDebugState(p []byte) (DebugState, error) {
	if len(p) < DebugStateBaseSize {
		return DebugState{}, fmt.Errorf("%w: debug state %d bytes", ErrShortPayload, len(p))
	}
	d := DebugState{Version: p[0]}
	for _, g := range debugStateGroups {
		if d.Version < g.minVersion || len(p) < g.minLen {
			break
		}
		g.decode(&d, p)
	}
	return d, nil
}

// EncodeDebugState encodes a debug state payload at the struct's declared
// version, emitting only the field groups that version carries.
func EncodeDebugState(d DebugState) []byte {
	size := DebugStateBaseSize
	if d.Version >= 2 {
		size = debugStateV2Size
	}
	if d.Version >= 3 {
		size = debugStateV3Size
	}
	p := make([]byte, size)
	p[0] = d.Version
	p[1] = d.ResetReason
	binary.BigEndian.PutUint16(p[2:4], d.BootCount)
	binary.BigEndian.PutUint32(p[4:8], d.UptimeMs)
	binary.BigEndian.PutUint16(p[8:10], d.LoopHz)
	binary.BigEndian.PutUint16(p[10:12], d.FreeStack)
	if d.Version >= 2 {
		binary.BigEndian.PutUint16(p[12:14], d.PWMDuty)
		binary.BigEndian.PutUint16(p[14:16], d.HallErrors)
		binary.BigEndian.PutUint16(p[16:18], d.I2CErrors)
		binary.BigEndian.PutUint16(p[18:20], d.CruiseSetpointCmS)
	}
	if d.Version >= 3 {
		p[20] = d.BoostActive
		binary.BigEndian.PutUint16(p[21:23], d.BoostBudgetJ)
		p[23] = d.BoostCooldownS
		binary.BigEndian.PutUint16(p[24:26], d.ThrottleMV)
		p[26] = d.AssistCurveIdx
		p[27] = d.Reserved
	}
	return p
}

// RingSummary describes one ring-buffer subsystem. Offset arithmetic for
// reads is done against Seq: the producer counter never resets, so
// Seq - Count is the oldest record still held.
type RingSummary struct {
	Count      uint16
	Capacity   uint16
	Head       uint16
	RecordSize uint8
	Enabled    bool
	Seq        uint32
}

// RingSummarySize is the common ring summary payload size. Subsystems may
// append fields after it (probe channel, stream log period, bus arm state).
const RingSummarySize = 12

// OldestSeq returns the absolute producer index of the oldest held record.
func (r RingSummary) OldestSeq() uint32 {
	return r.Seq - uint32(r.Count)
}

// DecodeRingSummary decodes the common summary prefix.
func DecodeRingSummary(p []byte) (RingSummary, error) {
	if len(p) < RingSummarySize {
		return RingSummary{}, fmt.Errorf("%w: ring summary %d bytes", ErrShortPayload, len(p))
	}
	return RingSummary{
		Count:      binary.BigEndian.Uint16(p[0:2]),
		Capacity:   binary.BigEndian.Uint16(p[2:4]),
		Head:       binary.BigEndian.Uint16(p[4:6]),
		RecordSize: p[6],
		Enabled:    p[7] != 0,
		Seq:        binary.BigEndian.Uint32(p[8:12]),
	}, nil
}

// EncodeRingSummary encodes the common summary prefix.
func EncodeRingSummary(r RingSummary) []byte {
	p := make([]byte, RingSummarySize)
	binary.BigEndian.PutUint16(p[0:2], r.Count)
	binary.BigEndian.PutUint16(p[2:4], r.Capacity)
	binary.BigEndian.PutUint16(p[4:6], r.Head)
	p[6] = r.RecordSize
	if r.Enabled {
		p[7] = 1
	}
	binary.BigEndian.PutUint32(p[8:12], r.Seq)
	return p
}

// EventRecord is one fixed-size event log entry.
type EventRecord struct {
	TimestampMs    uint32
	Type           uint8
	Flags          uint8
	SpeedCmS       uint16
	BatteryMV      uint16
	MotorCurrentMA int16
	ErrorCode      uint16
	Arg            uint32
}

// EventRecordSize is the event record wire size.
const EventRecordSize = 20

// DecodeEventRecord decodes one event record.
func DecodeEventRecord(p []byte) (EventRecord, error) {
	if len(p) < EventRecordSize {
		return EventRecord{}, fmt.Errorf("%w: event record %d bytes", ErrShortPayload, len(p))
	}
	return EventRecord{
		TimestampMs:    binary.BigEndian.Uint32(p[0:4]),
		Type:           p[4],
		Flags:          p[5],
		SpeedCmS:       binary.BigEndian.Uint16(p[6:8]),
		BatteryMV:      binary.BigEndian.Uint16(p[8:10]),
		MotorCurrentMA: int16(binary.BigEndian.Uint16(p[10:12])),
		ErrorCode:      binary.BigEndian.Uint16(p[12:14]),
		Arg:            binary.BigEndian.Uint32(p[14:18]),
	}, nil
}

// EncodeEventRecord encodes one event record. The two trailing bytes are
// reserved and always zero.
func EncodeEventRecord(e EventRecord) []byte {
	p := make([]byte, EventRecordSize)
	binary.BigEndian.PutUint32(p[0:4], e.TimestampMs)
	p[4] = e.Type
	p[5] = e.Flags
	binary.BigEndian.PutUint16(p[6:8], e.SpeedCmS)
	binary.BigEndian.PutUint16(p[8:10], e.BatteryMV)
	binary.BigEndian.PutUint16(p[10:12], uint16(e.MotorCurrentMA))
	binary.BigEndian.PutUint16(p[12:14], e.ErrorCode)
	binary.BigEndian.PutUint32(p[14:18], e.Arg)
	return p
}

// DecodeEventRecords decodes a CmdEventRead response: count byte followed by
// that many fixed-size records.
func DecodeEventRecords(p []byte) ([]EventRecord, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("%w: event read response empty", ErrShortPayload)
	}
	n := int(p[0])
	if len(p) < 1+n*EventRecordSize {
		return nil, fmt.Errorf("%w: event read claims %d records in %d bytes", ErrShortPayload, n, len(p))
	}
	out := make([]EventRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := DecodeEventRecord(p[1+i*EventRecordSize:])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// StreamLogRecord is one fixed-size sampled telemetry entry.
type StreamLogRecord struct {
	TimestampMs     uint32
	Kind            uint8
	SpeedCmS        uint16
	BatteryMV       uint16
	MotorCurrentMA  int16
	ControllerTempC int8
	Flags           uint8
	ThrottleMV      uint16
	OdoDeltaM       uint16
}

// StreamLogRecordSize is the stream log record wire size.
const StreamLogRecordSize = 20

// DecodeStreamLogRecord decodes one stream log record.
func DecodeStreamLogRecord(p []byte) (StreamLogRecord, error) {
	if len(p) < StreamLogRecordSize {
		return StreamLogRecord{}, fmt.Errorf("%w: stream log record %d bytes", ErrShortPayload, len(p))
	}
	return StreamLogRecord{
		TimestampMs:     binary.BigEndian.Uint32(p[0:4]),
		Kind:            p[4],
		SpeedCmS:        binary.BigEndian.Uint16(p[6:8]),
		BatteryMV:       binary.BigEndian.Uint16(p[8:10]),
		MotorCurrentMA:  int16(binary.BigEndian.Uint16(p[10:12])),
		ControllerTempC: int8(p[12]),
		Flags:           p[13],
		ThrottleMV:      binary.BigEndian.Uint16(p[14:16]),
		OdoDeltaM:       binary.BigEndian.Uint16(p[16:18]),
	}, nil
}

// EncodeStreamLogRecord encodes one stream log record. Byte 5 and the two
// trailing bytes are reserved.
func EncodeStreamLogRecord(r StreamLogRecord) []byte {
	p := make([]byte, StreamLogRecordSize)
	binary.BigEndian.PutUint32(p[0:4], r.TimestampMs)
	p[4] = r.Kind
	binary.BigEndian.PutUint16(p[6:8], r.SpeedCmS)
	binary.BigEndian.PutUint16(p[8:10], r.BatteryMV)
	binary.BigEndian.PutUint16(p[10:12], uint16(r.MotorCurrentMA))
	p[12] = byte(r.ControllerTempC)
	p[13] = r.Flags
	binary.BigEndian.PutUint16(p[14:16], r.ThrottleMV)
	binary.BigEndian.PutUint16(p[16:18], r.OdoDeltaM)
	return p
}

// DecodeStreamLogRecords decodes a CmdStreamLogRead response.
func DecodeStreamLogRecords(p []byte) ([]StreamLogRecord, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("%w: stream log read response empty", ErrShortPayload)
	}
	n := int(p[0])
	if len(p) < 1+n*StreamLogRecordSize {
		return nil, fmt.Errorf("%w: stream log read claims %d records in %d bytes", ErrShortPayload, n, len(p))
	}
	out := make([]StreamLogRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := DecodeStreamLogRecord(p[1+i*StreamLogRecordSize:])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// BusCaptureRecord is one variable-length captured bus frame.
type BusCaptureRecord struct {
	DtMs  uint16 // delta since the previous captured frame
	BusID uint8
	Flags uint8 // bit0 injected, bit1 replayed
	Data  []byte
}

// Bus capture record flags.
const (
	BusFlagInjected = 1 << 0
	BusFlagReplayed = 1 << 1
)

const busRecordHeaderSize = 5

// EncodeBusCaptureRecord encodes one bus capture record:
// dt(2) + bus(1) + flags(1) + len(1) + data.
func EncodeBusCaptureRecord(r BusCaptureRecord) []byte {
	p := make([]byte, 0, busRecordHeaderSize+len(r.Data))
	var dt [2]byte
	binary.BigEndian.PutUint16(dt[:], r.DtMs)
	p = append(p, dt[0], dt[1], r.BusID, r.Flags, byte(len(r.Data)))
	return append(p, r.Data...)
}

// DecodeBusCaptureRecords decodes a CmdBusRead response: count byte followed
// by variable-length records.
func DecodeBusCaptureRecords(p []byte) ([]BusCaptureRecord, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("%w: bus read response empty", ErrShortPayload)
	}
	n := int(p[0])
	out := make([]BusCaptureRecord, 0, n)
	off := 1
	for i := 0; i < n; i++ {
		if len(p) < off+busRecordHeaderSize {
			return nil, fmt.Errorf("%w: bus record %d header", ErrShortPayload, i)
		}
		dlen := int(p[off+4])
		if len(p) < off+busRecordHeaderSize+dlen {
			return nil, fmt.Errorf("%w: bus record %d data", ErrShortPayload, i)
		}
		rec := BusCaptureRecord{
			DtMs:  binary.BigEndian.Uint16(p[off : off+2]),
			BusID: p[off+2],
			Flags: p[off+3],
			Data:  append([]byte(nil), p[off+5:off+5+dlen]...),
		}
		out = append(out, rec)
		off += busRecordHeaderSize + dlen
	}
	return out, nil
}

// BleMitmRecord is one direction-tagged captured radio-link payload.
type BleMitmRecord struct {
	DtMs uint16
	Dir  uint8
	Data []byte
}

const bleRecordHeaderSize = 4

// EncodeBleMitmRecord encodes one MITM capture record:
// dt(2) + dir(1) + len(1) + data.
func EncodeBleMitmRecord(r BleMitmRecord) []byte {
	p := make([]byte, 0, bleRecordHeaderSize+len(r.Data))
	var dt [2]byte
	binary.BigEndian.PutUint16(dt[:], r.DtMs)
	p = append(p, dt[0], dt[1], r.Dir, byte(len(r.Data)))
	return append(p, r.Data...)
}

// MitmCapture is the decoded CmdMitmRead response: header metadata plus the
// record list. Base is the absolute producer offset of the first returned
// record; a reader that fell behind a wrap resumes from it.
type MitmCapture struct {
	Magic   uint16
	Version uint8
	MaxLen  uint8
	Base    uint32
	Records []BleMitmRecord
}

// MitmCaptureHeaderSize is the fixed header before the record list.
const MitmCaptureHeaderSize = 9

// DecodeMitmCapture decodes a CmdMitmRead response.
func DecodeMitmCapture(p []byte) (MitmCapture, error) {
	if len(p) < MitmCaptureHeaderSize {
		return MitmCapture{}, fmt.Errorf("%w: mitm capture header %d bytes", ErrShortPayload, len(p))
	}
	cap := MitmCapture{
		Magic:   binary.BigEndian.Uint16(p[0:2]),
		Version: p[2],
		MaxLen:  p[3],
		Base:    binary.BigEndian.Uint32(p[4:8]),
	}
	n := int(p[8])
	off := MitmCaptureHeaderSize
	for i := 0; i < n; i++ {
		if len(p) < off+bleRecordHeaderSize {
			return MitmCapture{}, fmt.Errorf("%w: mitm record %d header", ErrShortPayload, i)
		}
		dlen := int(p[off+3])
		if len(p) < off+bleRecordHeaderSize+dlen {
			return MitmCapture{}, fmt.Errorf("%w: mitm record %d data", ErrShortPayload, i)
		}
		cap.Records = append(cap.Records, BleMitmRecord{
			DtMs: binary.BigEndian.Uint16(p[off : off+2]),
			Dir:  p[off+2],
			Data: append([]byte(nil), p[off+4:off+4+dlen]...),
		})
		off += bleRecordHeaderSize + dlen
	}
	return cap, nil
}

// AbStatus describes the A/B firmware-slot scheme. Not a ring: a small
// mutable record with at most one pending-activation transition at a time.
type AbStatus struct {
	ActiveSlot   uint8
	PendingSlot  uint8 // AbSlotNone when no transition is staged
	LastGoodSlot uint8
	Flags        uint8
	BuildID      uint64
}

// AbStatusSize is the A/B status payload size.
const AbStatusSize = 12

// DecodeAbStatus decodes an A/B status payload.
func DecodeAbStatus(p []byte) (AbStatus, error) {
	if len(p) < AbStatusSize {
		return AbStatus{}, fmt.Errorf("%w: ab status %d bytes", ErrShortPayload, len(p))
	}
	return AbStatus{
		ActiveSlot:   p[0],
		PendingSlot:  p[1],
		LastGoodSlot: p[2],
		Flags:        p[3],
		BuildID:      binary.BigEndian.Uint64(p[4:12]),
	}, nil
}

// EncodeAbStatus encodes an A/B status payload.
func EncodeAbStatus(s AbStatus) []byte {
	p := make([]byte, AbStatusSize)
	p[0] = s.ActiveSlot
	p[1] = s.PendingSlot
	p[2] = s.LastGoodSlot
	p[3] = s.Flags
	binary.BigEndian.PutUint64(p[4:12], s.BuildID)
	return p
}

// ProbeSummary is the CmdProbeSummary response: the common ring summary plus
// the selected channel.
type ProbeSummary struct {
	RingSummary
	Channel uint8
}

// DecodeProbeSummary decodes a probe summary payload.
func DecodeProbeSummary(p []byte) (ProbeSummary, error) {
	rs, err := DecodeRingSummary(p)
	if err != nil {
		return ProbeSummary{}, err
	}
	if len(p) < RingSummarySize+1 {
		return ProbeSummary{}, fmt.Errorf("%w: probe summary %d bytes", ErrShortPayload, len(p))
	}
	return ProbeSummary{RingSummary: rs, Channel: p[RingSummarySize]}, nil
}

// DecodeProbeSamples decodes a CmdProbeRead response: count byte followed by
// big-endian u16 samples.
func DecodeProbeSamples(p []byte) ([]uint16, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("%w: probe read response empty", ErrShortPayload)
	}
	n := int(p[0])
	if len(p) < 1+2*n {
		return nil, fmt.Errorf("%w: probe read claims %d samples in %d bytes", ErrShortPayload, n, len(p))
	}
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(p[1+2*i:])
	}
	return out, nil
}

// StreamLogSummary is the CmdStreamLogSummary response: the common ring
// summary plus the sampling period.
type StreamLogSummary struct {
	RingSummary
	PeriodMs uint16
}

// DecodeStreamLogSummary decodes a stream log summary payload.
func DecodeStreamLogSummary(p []byte) (StreamLogSummary, error) {
	rs, err := DecodeRingSummary(p)
	if err != nil {
		return StreamLogSummary{}, err
	}
	if len(p) < RingSummarySize+2 {
		return StreamLogSummary{}, fmt.Errorf("%w: stream log summary %d bytes", ErrShortPayload, len(p))
	}
	return StreamLogSummary{
		RingSummary: rs,
		PeriodMs:    binary.BigEndian.Uint16(p[RingSummarySize:]),
	}, nil
}

// BusSummary is the CmdBusSummary response: the common ring summary plus the
// arm state and per-record payload cap.
type BusSummary struct {
	RingSummary
	Armed  bool
	MaxLen uint8
}

// DecodeBusSummary decodes a bus capture summary payload.
func DecodeBusSummary(p []byte) (BusSummary, error) {
	rs, err := DecodeRingSummary(p)
	if err != nil {
		return BusSummary{}, err
	}
	if len(p) < RingSummarySize+2 {
		return BusSummary{}, fmt.Errorf("%w: bus summary %d bytes", ErrShortPayload, len(p))
	}
	return BusSummary{
		RingSummary: rs,
		Armed:       p[RingSummarySize] != 0,
		MaxLen:      p[RingSummarySize+1],
	}, nil
}
