// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package firmware

import (
	"encoding/binary"

	"github.com/velobahn/veloctl/pkg/vlink"
)

// Per-read record clamps keep every response payload under the frame cap.
const (
	maxEventsPerRead = 12 // 1 + 12*20 = 241 bytes
	maxStreamPerRead = 12
	maxProbePerRead  = 64 // 1 + 64*2 = 129 bytes
	maxBusPerRead    = 10 // worst case 1 + 10*21 = 211 bytes
	maxMitmPerRead   = 10
)

// badRequest is the generic reason code for malformed single-status requests.
const badRequest byte = 0x01

// handleFrame dispatches one request and returns the response payload. A nil
// return suppresses the response (never used today; pushes go out from tick).
func (e *Engine) handleFrame(cmd byte, p []byte) []byte {
	switch cmd {
	case vlink.CmdPing:
		return vlink.EncodePingInfo(vlink.PingInfo{
			ProtoVersion: vlink.ProtocolVersion,
			UptimeMs:     e.uptimeMs(),
		})

	case vlink.CmdStateDump:
		return vlink.EncodeState(e.vehicle.Snapshot(e.stateFlags()))

	case vlink.CmdStateSet:
		return []byte{e.handleStateSet(p)}

	case vlink.CmdStreamPeriod:
		if len(p) < 2 {
			return []byte{badRequest}
		}
		e.streamPeriod = binary.BigEndian.Uint16(p)
		e.streamDue = timeNow()
		return []byte{vlink.StatusOK}

	case vlink.CmdRebootLoader:
		return []byte{vlink.StatusOK} // restart happens after this frame leaves

	case vlink.CmdDebugState:
		return vlink.EncodeDebugState(e.debugState())

	case vlink.CmdProbeSummary:
		sum := e.ringSummary(e.probe.Count(), e.probe.Capacity(), e.probe.Head(), 2, e.probeOn, e.probe.Seq())
		return append(sum, e.probeChannel)

	case vlink.CmdProbeRead:
		offset, limit, ok := decodeReadReq(p)
		if !ok {
			return []byte{0} // empty sample list
		}
		if limit > maxProbePerRead {
			limit = maxProbePerRead
		}
		_, samples := e.probe.Snapshot(offset, limit)
		out := []byte{byte(len(samples))}
		for _, s := range samples {
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], s)
			out = append(out, b[0], b[1])
		}
		return out

	case vlink.CmdProbeSelect:
		if len(p) < 4 {
			return []byte{badRequest}
		}
		if p[0] > vlink.ProbeTemp {
			return []byte{badRequest}
		}
		e.probeChannel = p[0]
		e.probePeriod = binary.BigEndian.Uint16(p[1:3])
		e.probeOn = p[3] != 0 && e.probePeriod > 0
		e.probeDue = timeNow()
		return []byte{vlink.StatusOK}

	case vlink.CmdConfigGet:
		return e.config.committed.Encode(false)

	case vlink.CmdConfigStage:
		code := e.config.stage(p)
		if code != vlink.StatusOK {
			e.appendEvent(vlink.EventConfigReject, 0, uint32(code))
		}
		return []byte{code}

	case vlink.CmdConfigCommit:
		code, committed := e.config.commit()
		if committed {
			e.streamLogPeriod = e.config.committed.LogPeriodMs
			if len(p) >= 1 && p[0] != 0 {
				e.pendingReboot = true
			}
		}
		return []byte{code}

	case vlink.CmdEventSummary:
		return e.ringSummary(e.events.Count(), e.events.Capacity(), e.events.Head(),
			vlink.EventRecordSize, true, e.events.Seq())

	case vlink.CmdEventRead:
		offset, limit, ok := decodeReadReq(p)
		if !ok {
			return []byte{0}
		}
		if limit > maxEventsPerRead {
			limit = maxEventsPerRead
		}
		_, recs := e.events.Snapshot(offset, limit)
		out := []byte{byte(len(recs))}
		for _, r := range recs {
			out = append(out, vlink.EncodeEventRecord(r)...)
		}
		return out

	case vlink.CmdEventMark:
		if len(p) < 2 {
			return []byte{badRequest}
		}
		e.appendEvent(p[0], p[1], 0)
		return []byte{vlink.StatusOK}

	case vlink.CmdStreamLogSummary:
		sum := e.ringSummary(e.streamLog.Count(), e.streamLog.Capacity(), e.streamLog.Head(),
			vlink.StreamLogRecordSize, e.streamLogOn, e.streamLog.Seq())
		var per [2]byte
		binary.BigEndian.PutUint16(per[:], e.streamLogPeriod)
		return append(sum, per[0], per[1])

	case vlink.CmdStreamLogRead:
		offset, limit, ok := decodeReadReq(p)
		if !ok {
			return []byte{0}
		}
		if limit > maxStreamPerRead {
			limit = maxStreamPerRead
		}
		_, recs := e.streamLog.Snapshot(offset, limit)
		out := []byte{byte(len(recs))}
		for _, r := range recs {
			out = append(out, vlink.EncodeStreamLogRecord(r)...)
		}
		return out

	case vlink.CmdStreamLogControl:
		return []byte{e.handleStreamLogControl(p)}

	case vlink.CmdBusSummary:
		sum := e.ringSummary(e.bus.Count(), e.bus.Capacity(), e.bus.Head(), 0, e.busOn, e.bus.Seq())
		armed := byte(0)
		if e.busArmed {
			armed = 1
		}
		return append(sum, armed, vlink.MaxCaptureData)

	case vlink.CmdBusRead:
		offset, limit, ok := decodeReadReq(p)
		if !ok {
			return []byte{0}
		}
		if limit > maxBusPerRead {
			limit = maxBusPerRead
		}
		_, recs := e.bus.Snapshot(offset, limit)
		out := []byte{byte(len(recs))}
		for _, r := range recs {
			out = append(out, vlink.EncodeBusCaptureRecord(r)...)
		}
		return out

	case vlink.CmdBusControl:
		if len(p) < 2 {
			return []byte{vlink.BusErrBadLength}
		}
		e.busOn = p[0] != 0
		if p[1] != 0 {
			e.bus.Reset()
			e.busLast = zeroTime
		}
		if !e.busOn {
			e.cancelReplay("capture disabled")
		}
		return []byte{vlink.StatusOK}

	case vlink.CmdBusInject:
		return []byte{e.handleBusInject(p)}

	case vlink.CmdBusMonitor:
		rec, ok := e.bus.Latest()
		if !ok {
			return []byte{vlink.BusErrEmpty}
		}
		out := []byte{vlink.StatusOK, 1}
		return append(out, vlink.EncodeBusCaptureRecord(rec)...)

	case vlink.CmdBusArm:
		if len(p) < 1 {
			return []byte{vlink.BusErrBadLength}
		}
		e.busArmed = p[0] != 0
		return []byte{vlink.StatusOK}

	case vlink.CmdBusReplay:
		return []byte{e.handleBusReplay(p)}

	case vlink.CmdBleExchange:
		return e.handleBleExchange(p)

	case vlink.CmdAbStatus:
		return vlink.EncodeAbStatus(e.ab)

	case vlink.CmdAbSetPending:
		return []byte{e.handleAbSetPending(p)}

	case vlink.CmdMitmControl:
		return []byte{e.handleMitmControl(p)}

	case vlink.CmdMitmRead:
		return e.handleMitmRead(p)

	case vlink.CmdCrashRead:
		if e.crash == nil {
			return make([]byte, vlink.CrashDumpSize) // magic 0 = no dump
		}
		return append([]byte(nil), e.crash...)

	case vlink.CmdCrashClear:
		e.crash = nil
		return []byte{vlink.StatusOK}

	case vlink.CmdCrashTrigger:
		e.appendEvent(vlink.EventFaultInject, 0, crashSitePC)
		e.writeCrashDump(crashSitePC+12, 0x01)
		out := []byte{vlink.StatusOK, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(out[1:5], crashSitePC)
		return out

	default:
		e.log.Warn().Uint8("cmd", cmd).Msg("unknown command")
		return []byte{vlink.StatusUnknownCmd}
	}
}

// stateFlags adds the engine-level flag bits the vehicle model does not own.
func (e *Engine) stateFlags() uint8 {
	var f uint8
	if e.config.committed.StreetMode != 0 {
		f |= vlink.FlagStreetMode
	}
	return f
}

func (e *Engine) debugState() vlink.DebugState {
	return vlink.DebugState{
		Version:           vlink.ProtocolVersion,
		ResetReason:       e.resetReason,
		BootCount:         e.bootCount,
		UptimeMs:          e.uptimeMs(),
		LoopHz:            1000 / vehicleStepMs,
		FreeStack:         0x0800,
		CruiseSetpointCmS: e.vehicle.CruiseCmS,
		ThrottleMV:        e.vehicle.ThrottleMV,
		AssistCurveIdx:    e.config.committed.ActiveProfile,
	}
}

// handleStateSet mutates one live state field. A brake press edge cancels
// cruise and any active bus replay and lands in the event log.
func (e *Engine) handleStateSet(p []byte) byte {
	if len(p) < 5 {
		return badRequest
	}
	field, value := p[0], binary.BigEndian.Uint32(p[1:5])
	v := e.vehicle

	switch field {
	case vlink.FieldDriveMode:
		v.DriveMode = uint8(value)
	case vlink.FieldAssistLevel:
		v.AssistLevel = uint8(value)
	case vlink.FieldCruiseCmS:
		if v.Brake {
			return badRequest // cruise cannot engage against a held brake
		}
		v.CruiseCmS = uint16(value)
		v.CruiseActive = value > 0
	case vlink.FieldBrake:
		pressed := value != 0
		if pressed && !v.Brake {
			e.appendEvent(vlink.EventBrakeOveride, 0, 0)
			if v.CruiseActive {
				v.CruiseActive = false
				e.appendEvent(vlink.EventCruiseCancel, 0, 0)
			}
			e.cancelReplay("brake")
		}
		v.Brake = pressed
	case vlink.FieldSpeedCmS:
		v.SpeedCmS = uint16(value)
		v.SpeedOverride = true
	default:
		return badRequest
	}
	return vlink.StatusOK
}

func (e *Engine) handleStreamLogControl(p []byte) byte {
	if len(p) < 4 {
		return badRequest
	}
	enable := p[0] != 0
	period := binary.BigEndian.Uint16(p[1:3])
	if p[3] != 0 {
		e.streamLog.Reset()
	}
	if period == 0 {
		period = e.config.committed.LogPeriodMs
	}
	if period < vlink.LogPeriodFloorMs {
		period = vlink.LogPeriodFloorMs
	}
	e.streamLogPeriod = period
	e.streamLogOn = enable
	e.streamLogDue = timeNow()
	return vlink.StatusOK
}

// handleBusInject transmits a frame onto the bus and records it. Refused
// outright while the vehicle is moving: injected frames reach the real
// drivetrain controllers.
func (e *Engine) handleBusInject(p []byte) byte {
	if len(p) < 4 {
		return vlink.BusErrBadLength
	}
	dlen := int(p[3])
	if dlen > vlink.MaxCaptureData || len(p) < 4+dlen {
		return vlink.BusErrBadLength
	}
	if !e.busOn {
		return vlink.BusErrDisabled
	}
	if e.replay.active {
		return vlink.BusErrReplayActive
	}
	if e.vehicle.Moving() {
		e.log.Warn().Uint16("speed", e.vehicle.SpeedCmS).Msg("bus inject blocked while moving")
		return vlink.BusErrBlockedMoving
	}
	e.appendBusRecord(vlink.BusCaptureRecord{
		BusID: p[0],
		Flags: vlink.BusFlagInjected,
		Data:  append([]byte(nil), p[4:4+dlen]...),
	})
	return vlink.StatusOK
}

func (e *Engine) handleBusReplay(p []byte) byte {
	if len(p) < 7 {
		return vlink.BusErrBadLength
	}
	if !e.busOn {
		return vlink.BusErrDisabled
	}
	if e.replay.active {
		return vlink.BusErrReplayActive
	}
	if e.vehicle.Moving() {
		return vlink.BusErrBlockedMoving
	}
	if e.bus.Count() == 0 {
		return vlink.BusErrEmpty
	}
	offset := binary.BigEndian.Uint32(p[0:4])
	count := int(p[4])
	rateMs := binary.BigEndian.Uint16(p[5:7])
	if offset < e.bus.OldestSeq() || offset >= e.bus.Seq() {
		return vlink.BusErrBadOffset
	}
	if count == 0 {
		return vlink.StatusOK // zero-length replay is a no-op
	}
	if rateMs == 0 {
		rateMs = 10
	}
	e.replay.active = true
	e.replay.next = offset
	e.replay.remaining = count
	e.replay.rateMs = rateMs
	e.replay.due = timeNow()
	e.log.Info().Uint32("offset", offset).Int("count", count).Msg("bus replay started")
	return vlink.StatusOK
}

// handleBleExchange passes raw bytes through the connected radio link and
// returns the peer's reply. The simulated peer answers every write with the
// same bytes bitwise inverted, which is enough for loopback verification.
func (e *Engine) handleBleExchange(p []byte) []byte {
	if !e.mitm.enabled {
		return []byte{vlink.BleErrDisabled}
	}
	if e.mitm.state != vlink.MitmConnected {
		return []byte{vlink.BleErrBadState}
	}
	if len(p) < 1 {
		return []byte{vlink.BleErrBadLength}
	}
	dlen := int(p[0])
	if dlen > vlink.MaxCaptureData || len(p) < 1+dlen {
		return []byte{vlink.BleErrBadLength}
	}
	data := p[1 : 1+dlen]

	reply := make([]byte, dlen)
	for i, b := range data {
		reply[i] = ^b
	}
	e.appendMitmRecord(vlink.DirCentralToPeripheral, data)
	e.appendMitmRecord(vlink.DirPeripheralToCentral, reply)

	out := []byte{vlink.StatusOK, byte(len(reply))}
	return append(out, reply...)
}

func (e *Engine) handleAbSetPending(p []byte) byte {
	if len(p) < 1 {
		return vlink.AbErrBadSlot
	}
	slot := p[0]
	if slot == vlink.AbSlotNone {
		e.ab.PendingSlot = vlink.AbSlotNone
		return vlink.StatusOK
	}
	if slot > 1 {
		return vlink.AbErrBadSlot
	}
	if e.ab.PendingSlot != vlink.AbSlotNone && e.ab.PendingSlot != slot {
		return vlink.AbErrPending
	}
	e.ab.PendingSlot = slot
	e.log.Info().Uint8("slot", slot).Msg("firmware slot staged for next restart")
	return vlink.StatusOK
}

// mitmTransitions is the closed set of legal link state transitions.
var mitmTransitions = map[[2]uint8]uint8{
	{vlink.MitmOff, vlink.MitmEvAdvertise}:        vlink.MitmAdvertising,
	{vlink.MitmOff, vlink.MitmEvScan}:             vlink.MitmScanning,
	{vlink.MitmAdvertising, vlink.MitmEvConnect}:  vlink.MitmConnected,
	{vlink.MitmScanning, vlink.MitmEvConnect}:     vlink.MitmConnected,
	{vlink.MitmConnected, vlink.MitmEvDisconnect}: vlink.MitmOff,
}

func (e *Engine) handleMitmControl(p []byte) byte {
	if len(p) < 3 {
		return vlink.BleErrBadLength
	}
	enable, event := p[0] != 0, p[1]
	dlen := int(p[2])
	if dlen > vlink.MaxCaptureData || len(p) < 3+dlen {
		return vlink.BleErrBadLength
	}
	data := p[3 : 3+dlen]

	if !enable {
		e.mitm.enabled = false
		e.mitm.state = vlink.MitmOff
		return vlink.StatusOK
	}
	e.mitm.enabled = true

	switch event {
	case vlink.MitmEvOff:
		e.mitm.state = vlink.MitmOff
		return vlink.StatusOK
	case vlink.MitmEvRx, vlink.MitmEvTx:
		if e.mitm.state != vlink.MitmConnected {
			return vlink.BleErrBadState
		}
		if dlen == 0 {
			return vlink.BleErrBadPayload
		}
		dir := uint8(vlink.DirCentralToPeripheral)
		if event == vlink.MitmEvTx {
			dir = vlink.DirPeripheralToCentral
		}
		e.appendMitmRecord(dir, data)
		return vlink.StatusOK
	default:
		next, ok := mitmTransitions[[2]uint8{e.mitm.state, event}]
		if !ok {
			return vlink.BleErrBadState
		}
		if dlen != 0 {
			return vlink.BleErrBadPayload
		}
		e.mitm.state = next
		return vlink.StatusOK
	}
}

func (e *Engine) handleMitmRead(p []byte) []byte {
	offset, limit, ok := decodeReadReq(p)
	if !ok {
		offset, limit = e.mitm.ring.OldestSeq(), maxMitmPerRead
	}
	if limit > maxMitmPerRead {
		limit = maxMitmPerRead
	}
	base, recs := e.mitm.ring.Snapshot(offset, limit)

	out := make([]byte, vlink.MitmCaptureHeaderSize)
	binary.BigEndian.PutUint16(out[0:2], vlink.MitmCaptureMagic)
	out[2] = vlink.MitmCaptureVersion
	out[3] = vlink.MaxCaptureData
	binary.BigEndian.PutUint32(out[4:8], base)
	out[8] = byte(len(recs))
	for _, r := range recs {
		out = append(out, vlink.EncodeBleMitmRecord(r)...)
	}
	return out
}

func (e *Engine) appendMitmRecord(dir uint8, data []byte) {
	rec := vlink.BleMitmRecord{Dir: dir, Data: append([]byte(nil), data...)}
	now := timeNow()
	if !e.mitm.last.IsZero() {
		dt := now.Sub(e.mitm.last).Milliseconds()
		if dt > 0xFFFF {
			dt = 0xFFFF
		}
		rec.DtMs = uint16(dt)
	}
	e.mitm.last = now
	e.mitm.ring.Push(rec)
}

// ringSummary builds the common 12-byte summary prefix.
func (e *Engine) ringSummary(count, capacity, head int, recSize uint8, enabled bool, seq uint32) []byte {
	return vlink.EncodeRingSummary(vlink.RingSummary{
		Count:      uint16(count),
		Capacity:   uint16(capacity),
		Head:       uint16(head),
		RecordSize: recSize,
		Enabled:    enabled,
		Seq:        seq,
	})
}

// decodeReadReq parses the common offset+limit read request.
func decodeReadReq(p []byte) (offset uint32, limit int, ok bool) {
	if len(p) < 5 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(p[0:4]), int(p[4]), true
}
