// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

// Package firmware implements the firmware-side VLink protocol engine: the
// command dispatcher, the ring-buffer subsystems behind the richer commands,
// the config transaction manager and the crash-dump store. It backs the
// `veloctl sim` command and the integration tests; on a real vehicle this
// role is played by the embedded image.
package firmware

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/velobahn/veloctl/pkg/ring"
	"github.com/velobahn/veloctl/pkg/vlink"
)

// Ring capacities. Fixed at build time, never growing.
const (
	eventLogCapacity  = 64
	streamLogCapacity = 128
	probeCapacity     = 256
	busCapacity       = 32
	mitmCapacity      = 32
)

// Serve-loop timing.
const (
	pollInterval  = 5 * time.Millisecond
	vehicleStepMs = 20
	busChatterMs  = 150 // simulated sniffed bus heartbeat period
)

// timeNow is indirected for tests that pin the clock.
var timeNow = time.Now

var zeroTime time.Time

// crashSitePC is the address window base reported by the crash trigger; the
// captured PC lands within crashPCWindow bytes of it.
const (
	crashSitePC   = 0x080041C0
	crashPCWindow = 32
)

// Reset reasons recorded with boot events.
const (
	ResetPowerOn   = 0x01
	ResetCommanded = 0x02
	ResetCrash     = 0x03
)

// Options configures an Engine.
type Options struct {
	Log     zerolog.Logger
	BuildID uint64
}

// Engine is one firmware instance: all protocol-visible state plus the serve
// loop that speaks VLink over a transport. All mutation happens on the serve
// goroutine, either in response to a command or from the periodic tick, so
// no internal locking is needed.
type Engine struct {
	log zerolog.Logger

	vehicle *Vehicle
	config  *configManager

	events *ring.Buffer[vlink.EventRecord]

	streamLog       *ring.Buffer[vlink.StreamLogRecord]
	streamLogOn     bool
	streamLogPeriod uint16
	streamLogDue    time.Time

	probe        *ring.Buffer[uint16]
	probeChannel uint8
	probePeriod  uint16
	probeOn      bool
	probeDue     time.Time

	bus        *ring.Buffer[vlink.BusCaptureRecord]
	busOn      bool
	busArmed   bool
	busLast    time.Time
	busChatter time.Time

	replay struct {
		active    bool
		next      uint32
		remaining int
		rateMs    uint16
		due       time.Time
	}

	mitm struct {
		enabled bool
		state   uint8
		ring    *ring.Buffer[vlink.BleMitmRecord]
		last    time.Time
	}

	crash []byte // encoded dump block, nil when empty
	ab    vlink.AbStatus

	streamPeriod uint16 // telemetry push period, 0 = idle
	streamDue    time.Time

	// pendingReboot is set by a commit request that asked for a restart;
	// the restart happens only after the acknowledgement is on the wire.
	pendingReboot bool

	bootAt      time.Time
	bootCount   uint16
	resetReason uint8
	crashSeq    uint16
	vehicleDue  time.Time
}

// New creates an engine in its power-on state.
func New(opts Options) *Engine {
	now := time.Now()
	e := &Engine{
		log:       opts.Log,
		vehicle:   NewVehicle(),
		config:    newConfigManager(opts.Log),
		events:    ring.New[vlink.EventRecord](eventLogCapacity),
		streamLog: ring.New[vlink.StreamLogRecord](streamLogCapacity),
		probe:     ring.New[uint16](probeCapacity),
		bus:       ring.New[vlink.BusCaptureRecord](busCapacity),
		ab: vlink.AbStatus{
			ActiveSlot:   0,
			PendingSlot:  vlink.AbSlotNone,
			LastGoodSlot: 0,
			BuildID:      opts.BuildID,
		},
		bootAt:      now,
		bootCount:   1,
		resetReason: ResetPowerOn,
	}
	e.mitm.ring = ring.New[vlink.BleMitmRecord](mitmCapacity)
	e.streamLogPeriod = e.config.committed.LogPeriodMs
	e.appendEvent(vlink.EventBoot, 0, uint32(ResetPowerOn))
	return e
}

// uptimeMs returns milliseconds since the last (simulated) reset.
func (e *Engine) uptimeMs() uint32 {
	return uint32(time.Since(e.bootAt).Milliseconds())
}

// appendEvent records an event with a snapshot of the vehicle state.
func (e *Engine) appendEvent(typ uint8, flags uint8, arg uint32) {
	e.events.Push(vlink.EventRecord{
		TimestampMs:    e.uptimeMs(),
		Type:           typ,
		Flags:          flags | e.vehicle.Flags(),
		SpeedCmS:       e.vehicle.SpeedCmS,
		BatteryMV:      e.vehicle.BatteryMV,
		MotorCurrentMA: e.vehicle.MotorCurrentMA,
		ErrorCode:      e.vehicle.ErrorCode,
		Arg:            arg,
	})
}

// Serve speaks the protocol over the transport until it fails or closes.
// Reads use a short timeout so stream pushes, sampling and the vehicle model
// keep advancing between commands; the link stays half-duplex throughout.
func (e *Engine) Serve(t vlink.Transport) error {
	fr := vlink.NewFramer(t)
	now := time.Now()
	e.vehicleDue = now.Add(vehicleStepMs * time.Millisecond)
	e.busChatter = now.Add(busChatterMs * time.Millisecond)

	for {
		f, err := fr.ReadFrame(pollInterval)
		switch {
		case err == nil:
			resp := e.handleFrame(f.Cmd(), f.Payload())
			if resp != nil {
				if werr := fr.WriteFrame(f.Cmd()|vlink.ResponseFlag, resp); werr != nil {
					return werr
				}
			}
			e.afterResponse(f.Cmd(), resp)
		case errors.Is(err, vlink.ErrTimeout):
			// Idle slice: advance the world.
		case errors.Is(err, vlink.ErrChecksum):
			e.log.Warn().Err(err).Msg("dropping corrupted frame")
		default:
			return err
		}

		if err := e.tick(fr); err != nil {
			return err
		}
	}
}

// afterResponse performs side effects that must happen strictly after the
// acknowledgement left the engine, such as commanded restarts.
func (e *Engine) afterResponse(cmd byte, resp []byte) {
	ok := len(resp) > 0 && resp[0] == vlink.StatusOK
	switch {
	case cmd == vlink.CmdRebootLoader && ok:
		e.reboot(ResetCommanded)
	case cmd == vlink.CmdConfigCommit && ok && e.pendingReboot:
		e.pendingReboot = false
		e.reboot(ResetCommanded)
	}
}

// reboot simulates a controlled restart: uptime restarts, the boot counter
// advances, a staged A/B transition is applied and a boot event is logged.
// Committed config and ring contents survive (they live in retained memory).
func (e *Engine) reboot(reason uint8) {
	e.bootAt = time.Now()
	e.bootCount++
	e.resetReason = reason
	e.streamPeriod = 0
	e.replay.active = false

	if e.ab.PendingSlot != vlink.AbSlotNone {
		e.ab.LastGoodSlot = e.ab.ActiveSlot
		e.ab.ActiveSlot = e.ab.PendingSlot
		e.ab.PendingSlot = vlink.AbSlotNone
		e.log.Info().Uint8("slot", e.ab.ActiveSlot).Msg("activated pending firmware slot")
	}

	e.appendEvent(vlink.EventBoot, 0, uint32(reason))
	e.log.Info().Uint8("reason", reason).Uint16("boot", e.bootCount).Msg("reboot")
}

// tick advances the vehicle model, sampling, bus chatter, replay and the
// telemetry push stream.
func (e *Engine) tick(fr *vlink.Framer) error {
	now := time.Now()

	for !now.Before(e.vehicleDue) {
		e.vehicle.Step(vehicleStepMs)
		e.vehicleDue = e.vehicleDue.Add(vehicleStepMs * time.Millisecond)
	}

	if e.streamLogOn && !now.Before(e.streamLogDue) {
		e.sampleStreamLog()
		e.streamLogDue = now.Add(time.Duration(e.streamLogPeriod) * time.Millisecond)
	}

	if e.probeOn && !now.Before(e.probeDue) {
		e.probe.Push(e.vehicle.Sample(e.probeChannel))
		e.probeDue = now.Add(time.Duration(e.probePeriod) * time.Millisecond)
	}

	if e.busOn && !now.Before(e.busChatter) {
		e.appendBusRecord(vlink.BusCaptureRecord{
			BusID: 0x01, // controller <-> display heartbeat
			Data:  []byte{0xA5, e.vehicle.DriveMode, byte(e.vehicle.SpeedCmS >> 8), byte(e.vehicle.SpeedCmS)},
		})
		e.busChatter = now.Add(busChatterMs * time.Millisecond)
	}

	e.stepReplay(now)

	if e.streamPeriod > 0 && !now.Before(e.streamDue) {
		if err := fr.WriteFrame(vlink.CmdTelemetryPush, vlink.EncodeTelemetryFrame(e.telemetry())); err != nil {
			return err
		}
		e.streamDue = now.Add(time.Duration(e.streamPeriod) * time.Millisecond)
	}

	return nil
}

func (e *Engine) telemetry() vlink.TelemetryFrame {
	return vlink.TelemetryFrame{
		UptimeMs:        e.uptimeMs(),
		SpeedCmS:        e.vehicle.SpeedCmS,
		BatteryMV:       e.vehicle.BatteryMV,
		MotorCurrentMA:  e.vehicle.MotorCurrentMA,
		ControllerTempC: e.vehicle.TempC,
		Flags:           e.vehicle.Flags(),
	}
}

func (e *Engine) sampleStreamLog() {
	e.streamLog.Push(vlink.StreamLogRecord{
		TimestampMs:     e.uptimeMs(),
		Kind:            0,
		SpeedCmS:        e.vehicle.SpeedCmS,
		BatteryMV:       e.vehicle.BatteryMV,
		MotorCurrentMA:  e.vehicle.MotorCurrentMA,
		ControllerTempC: e.vehicle.TempC,
		Flags:           e.vehicle.Flags(),
		ThrottleMV:      e.vehicle.ThrottleMV,
	})
}

// appendBusRecord stamps the inter-frame delta and honors the single-shot
// arm policy: an armed capture stops recording once full instead of
// overwriting the oldest record.
func (e *Engine) appendBusRecord(rec vlink.BusCaptureRecord) bool {
	if e.busArmed && e.bus.Count() == e.bus.Capacity() {
		return false
	}
	now := time.Now()
	if !e.busLast.IsZero() {
		dt := now.Sub(e.busLast).Milliseconds()
		if dt > 0xFFFF {
			dt = 0xFFFF
		}
		rec.DtMs = uint16(dt)
	}
	e.busLast = now
	e.bus.Push(rec)
	return true
}

// stepReplay re-emits one captured frame per rate interval. A brake edge
// cancels the whole replay (see handleStateSet); running off the end of the
// capture or the requested count stops it.
func (e *Engine) stepReplay(now time.Time) {
	if !e.replay.active || now.Before(e.replay.due) {
		return
	}
	rec, ok := e.bus.At(e.replay.next)
	if !ok || e.replay.remaining == 0 {
		e.replay.active = false
		return
	}
	out := vlink.BusCaptureRecord{
		BusID: rec.BusID,
		Flags: rec.Flags | vlink.BusFlagReplayed,
		Data:  append([]byte(nil), rec.Data...),
	}
	e.appendBusRecord(out)
	e.replay.next++
	e.replay.remaining--
	if e.replay.remaining == 0 {
		e.replay.active = false
		e.log.Debug().Msg("bus replay complete")
		return
	}
	e.replay.due = now.Add(time.Duration(e.replay.rateMs) * time.Millisecond)
}

// cancelReplay stops an active replay, logging why.
func (e *Engine) cancelReplay(reason string) {
	if !e.replay.active {
		return
	}
	e.replay.active = false
	e.log.Info().Str("reason", reason).Msg("bus replay cancelled")
}

// writeCrashDump builds and stores the crash block: fault registers plus the
// most recent event records, the whole block CRC-sealed.
func (e *Engine) writeCrashDump(pc uint32, flags uint8) {
	e.crashSeq++
	d := vlink.CrashDump{
		Magic:       vlink.CrashMagic,
		Version:     vlink.CrashDumpVersion,
		Flags:       flags,
		Sequence:    e.crashSeq,
		TimestampMs: e.uptimeMs(),
		PC:          pc,
		LR:          pc - 8,
		SP:          0x20004F00,
		PSR:         0x2100000B,
		CFSR:        0x00008200,
		HFSR:        0x40000000,
	}
	// Embed the freshest events, oldest first.
	n := e.events.Count()
	if n > vlink.CrashEventRingSize {
		n = vlink.CrashEventRingSize
	}
	base := e.events.Seq() - uint32(n)
	for i := 0; i < n; i++ {
		if rec, ok := e.events.At(base + uint32(i)); ok {
			d.Events = append(d.Events, rec)
		}
	}
	e.crash = vlink.EncodeCrashDump(d)
	e.log.Warn().Uint32("pc", pc).Uint16("seq", e.crashSeq).Msg("crash dump written")
}
