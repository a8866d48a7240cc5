// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package firmware

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/velobahn/veloctl/pkg/vlink"
)

const testBuildID = 0x56454C4F32303236

// newTestLink starts an engine serving one loopback TCP connection and
// returns a client talking to it. TCP (rather than an in-memory pipe) gives
// the push stream somewhere to buffer while the client is busy writing.
func newTestLink(t *testing.T) *vlink.Client {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	engine := New(Options{Log: zerolog.Nop(), BuildID: testBuildID})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		engine.Serve(vlink.NewNetTransport(conn))
		conn.Close()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		ln.Close()
	})

	return vlink.NewClient(vlink.NewNetTransport(conn))
}

// wantStatus asserts that err is a *StatusError carrying the given code.
func wantStatus(t *testing.T, err error, code byte) {
	t.Helper()
	var se *vlink.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError code 0x%02X", err, code)
	}
	if se.Code != code {
		t.Fatalf("status code = 0x%02X (%s), want 0x%02X", se.Code, se.Error(), code)
	}
}

// readAllEvents pages the whole event log.
func readAllEvents(t *testing.T, c *vlink.Client) []vlink.EventRecord {
	t.Helper()
	sum, err := c.EventSummary()
	if err != nil {
		t.Fatalf("EventSummary: %v", err)
	}
	var out []vlink.EventRecord
	offset := sum.OldestSeq()
	for offset < sum.Seq {
		recs, err := c.EventRead(offset, 12)
		if err != nil {
			t.Fatalf("EventRead(%d): %v", offset, err)
		}
		if len(recs) == 0 {
			break
		}
		out = append(out, recs...)
		offset += uint32(len(recs))
	}
	return out
}

func countEvents(events []vlink.EventRecord, typ uint8) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// ============================================================
// Link basics
// ============================================================

func TestEngine_Ping(t *testing.T) {
	c := newTestLink(t)

	info, err := c.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if info.ProtoVersion != vlink.ProtocolVersion {
		t.Errorf("ProtoVersion = %d, want %d", info.ProtoVersion, vlink.ProtocolVersion)
	}
	if info.UptimeMs > 60_000 {
		t.Errorf("UptimeMs = %d, want a fresh boot", info.UptimeMs)
	}
}

func TestEngine_UnknownCommand(t *testing.T) {
	c := newTestLink(t)

	resp, err := c.Call(0x7E, nil, -1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(resp) != 1 || resp[0] != vlink.StatusUnknownCmd {
		t.Errorf("resp = % X, want unknown-command status", resp)
	}
}

func TestEngine_BootEventLogged(t *testing.T) {
	c := newTestLink(t)

	events := readAllEvents(t, c)
	if len(events) == 0 {
		t.Fatal("event log empty after boot")
	}
	if events[0].Type != vlink.EventBoot || events[0].Arg != ResetPowerOn {
		t.Errorf("first event = %+v, want power-on boot", events[0])
	}
}

// ============================================================
// Live state
// ============================================================

func TestEngine_StateSetAndDump(t *testing.T) {
	c := newTestLink(t)

	if err := c.SetState(vlink.FieldAssistLevel, 4); err != nil {
		t.Fatalf("set assist: %v", err)
	}
	if err := c.SetState(vlink.FieldSpeedCmS, 300); err != nil {
		t.Fatalf("set speed: %v", err)
	}

	s, err := c.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if s.AssistLevel != 4 {
		t.Errorf("AssistLevel = %d, want 4", s.AssistLevel)
	}
	if s.SpeedCmS != 300 {
		t.Errorf("SpeedCmS = %d, want 300 (override)", s.SpeedCmS)
	}
	if !s.Moving() {
		t.Error("300 cm/s should set the moving flag")
	}
}

func TestEngine_StateSetUnknownField(t *testing.T) {
	c := newTestLink(t)
	wantStatus(t, c.SetState(0x7F, 1), 0x01)
}

func TestEngine_BrakeEdgeCancelsCruise(t *testing.T) {
	c := newTestLink(t)

	if err := c.SetState(vlink.FieldCruiseCmS, 400); err != nil {
		t.Fatalf("engage cruise: %v", err)
	}

	if err := c.SetState(vlink.FieldBrake, 1); err != nil {
		t.Fatalf("brake: %v", err)
	}

	s, err := c.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !s.Braking() {
		t.Error("brake flag not set")
	}
	if s.Flags&vlink.FlagCruise != 0 {
		t.Error("cruise still engaged after brake edge")
	}

	events := readAllEvents(t, c)
	if countEvents(events, vlink.EventBrakeOveride) != 1 {
		t.Error("brake override event missing")
	}
	if countEvents(events, vlink.EventCruiseCancel) != 1 {
		t.Error("cruise cancel event missing")
	}

	// Held brake: no second edge event, and cruise cannot re-engage.
	if err := c.SetState(vlink.FieldBrake, 1); err != nil {
		t.Fatalf("brake again: %v", err)
	}
	if countEvents(readAllEvents(t, c), vlink.EventBrakeOveride) != 1 {
		t.Error("level-triggered brake logged a second edge event")
	}
	wantStatus(t, c.SetState(vlink.FieldCruiseCmS, 300), 0x01)
}

func TestEngine_DebugState(t *testing.T) {
	c := newTestLink(t)

	d, err := c.DebugState()
	if err != nil {
		t.Fatalf("DebugState: %v", err)
	}
	if d.Version != vlink.ProtocolVersion {
		t.Errorf("Version = %d, want %d", d.Version, vlink.ProtocolVersion)
	}
	if d.BootCount != 1 {
		t.Errorf("BootCount = %d, want 1", d.BootCount)
	}
	if d.ResetReason != ResetPowerOn {
		t.Errorf("ResetReason = %d, want power-on", d.ResetReason)
	}
	if d.LoopHz != 50 {
		t.Errorf("LoopHz = %d, want 50", d.LoopHz)
	}
}

// ============================================================
// Config transaction
// ============================================================

func TestEngine_ConfigTransaction(t *testing.T) {
	c := newTestLink(t)

	cfg, err := c.ConfigGet()
	if err != nil {
		t.Fatalf("ConfigGet: %v", err)
	}
	if cfg.Sequence != 0 || cfg.WheelCircMM != 2150 {
		t.Fatalf("boot config = %+v", cfg)
	}

	// Commit with nothing staged.
	wantStatus(t, c.ConfigCommit(false), vlink.CfgErrNothing)

	// Replayed sequence is rejected and audited.
	stale := cfg
	stale.WheelCircMM = 2200
	wantStatus(t, c.ConfigStage(stale), vlink.CfgErrSequence)

	events := readAllEvents(t, c)
	found := false
	for _, e := range events {
		if e.Type == vlink.EventConfigReject && e.Arg == vlink.CfgErrSequence {
			found = true
		}
	}
	if !found {
		t.Error("config reject not recorded in the event log")
	}

	// A rejected stage leaves nothing staged behind.
	wantStatus(t, c.ConfigCommit(false), vlink.CfgErrNothing)

	// Proper sequence: committed+1.
	next := cfg
	next.WheelCircMM = 2200
	next.Sequence = cfg.Sequence + 1
	if err := c.ConfigStage(next); err != nil {
		t.Fatalf("stage: %v", err)
	}

	// Staged is invisible until commit.
	if got, _ := c.ConfigGet(); got.WheelCircMM != 2150 {
		t.Errorf("staged blob leaked into config-get: %d", got.WheelCircMM)
	}

	if err := c.ConfigCommit(false); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := c.ConfigGet()
	if err != nil {
		t.Fatalf("ConfigGet: %v", err)
	}
	if got.WheelCircMM != 2200 || got.Sequence != 1 {
		t.Errorf("committed config = %+v", got)
	}

	// A sequence gap is rejected too.
	gap := got
	gap.Sequence = got.Sequence + 2
	wantStatus(t, c.ConfigStage(gap), vlink.CfgErrSequence)
}

func TestEngine_ConfigStageCRCMismatch(t *testing.T) {
	c := newTestLink(t)

	cfg, err := c.ConfigGet()
	if err != nil {
		t.Fatalf("ConfigGet: %v", err)
	}
	cfg.Sequence++
	raw := cfg.Encode(true)
	raw[8] ^= 0x01 // corrupt a data byte after sealing the CRC

	// Raw call: ConfigStage would recompute the CRC and hide the corruption.
	resp, err := c.Call(vlink.CmdConfigStage, raw, 1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp[0] != vlink.CfgErrCRC {
		t.Errorf("status = 0x%02X, want CfgErrCRC", resp[0])
	}
}

func TestEngine_ConfigValidationRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*vlink.ConfigBlob)
		want   byte
	}{
		{"range", func(b *vlink.ConfigBlob) { b.WheelCircMM = 100 }, vlink.CfgErrRange},
		{"curve", func(b *vlink.ConfigBlob) { b.CurvePoints[1].X = 0 }, vlink.CfgErrCurve},
		{"log floor", func(b *vlink.ConfigBlob) { b.LogPeriodMs = 20 }, vlink.CfgErrLogFloor},
		{"street policy", func(b *vlink.ConfigBlob) { b.StreetMode = 1 }, vlink.CfgErrPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestLink(t)
			cfg, err := c.ConfigGet()
			if err != nil {
				t.Fatalf("ConfigGet: %v", err)
			}
			cfg.Sequence++
			tt.mutate(&cfg)
			wantStatus(t, c.ConfigStage(cfg), tt.want)
		})
	}
}

func TestEngine_ConfigCommitWithRebootRestartsAfterAck(t *testing.T) {
	c := newTestLink(t)

	cfg, err := c.ConfigGet()
	if err != nil {
		t.Fatalf("ConfigGet: %v", err)
	}
	cfg.Sequence++
	cfg.MaxSpeedKmh = 40
	if err := c.ConfigStage(cfg); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := c.ConfigCommit(true); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// The ack preceded the restart, and the link survived it.
	d, err := c.DebugState()
	if err != nil {
		t.Fatalf("DebugState after reboot: %v", err)
	}
	if d.BootCount != 2 || d.ResetReason != ResetCommanded {
		t.Errorf("BootCount/ResetReason = %d/%d, want 2/commanded", d.BootCount, d.ResetReason)
	}

	// The commit survived the restart.
	if got, _ := c.ConfigGet(); got.MaxSpeedKmh != 40 {
		t.Errorf("MaxSpeedKmh after reboot = %d, want 40", got.MaxSpeedKmh)
	}
}

// ============================================================
// Telemetry stream
// ============================================================

func TestEngine_StreamPushAndStop(t *testing.T) {
	c := newTestLink(t)

	if err := c.SetStreamPeriod(50); err != nil {
		t.Fatalf("start stream: %v", err)
	}

	var frames []vlink.TelemetryFrame
	start := time.Now()
	for len(frames) < 4 {
		tf, err := c.ReadStreamFrame(time.Second)
		if err != nil {
			t.Fatalf("ReadStreamFrame: %v", err)
		}
		frames = append(frames, tf)
	}
	elapsed := time.Since(start)

	// Four frames at 50 ms spacing (the first is immediate).
	if elapsed < 100*time.Millisecond {
		t.Errorf("4 frames arrived in %v, faster than the period allows", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("4 frames took %v", elapsed)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].UptimeMs < frames[i-1].UptimeMs {
			t.Errorf("uptime went backwards: %d -> %d", frames[i-1].UptimeMs, frames[i].UptimeMs)
		}
	}

	// Stop: the exchange completes even with pushes in flight, and the
	// stream then actually stops.
	if err := c.SetStreamPeriod(0); err != nil {
		t.Fatalf("stop stream: %v", err)
	}
	if _, err := c.ReadStreamFrame(300 * time.Millisecond); !errors.Is(err, vlink.ErrTimeout) {
		t.Errorf("read after stop = %v, want ErrTimeout", err)
	}
}

// ============================================================
// Event log
// ============================================================

func TestEngine_EventMarkAndRead(t *testing.T) {
	c := newTestLink(t)

	if err := c.EventMark(vlink.EventMarker, 0x07); err != nil {
		t.Fatalf("EventMark: %v", err)
	}

	events := readAllEvents(t, c)
	var marker *vlink.EventRecord
	for i := range events {
		if events[i].Type == vlink.EventMarker {
			marker = &events[i]
		}
	}
	if marker == nil {
		t.Fatal("marker event not found")
	}
	if marker.Flags&0x07 != 0x07 {
		t.Errorf("marker flags = 0x%02X, want 0x07 set", marker.Flags)
	}
	if marker.BatteryMV != 36500 {
		t.Errorf("marker battery snapshot = %d, want 36500", marker.BatteryMV)
	}
}

// ============================================================
// Stream log
// ============================================================

func TestEngine_StreamLogSampling(t *testing.T) {
	c := newTestLink(t)

	if err := c.StreamLogControl(true, 50, true); err != nil {
		t.Fatalf("StreamLogControl: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := c.StreamLogControl(false, 0, false); err != nil {
		t.Fatalf("stop: %v", err)
	}

	sum, err := c.StreamLogSummary()
	if err != nil {
		t.Fatalf("StreamLogSummary: %v", err)
	}
	if sum.Count < 3 {
		t.Errorf("sampled %d records in 300ms at 50ms, want >= 3", sum.Count)
	}
	if sum.RecordSize != vlink.StreamLogRecordSize {
		t.Errorf("RecordSize = %d, want %d", sum.RecordSize, vlink.StreamLogRecordSize)
	}

	recs, err := c.StreamLogRead(sum.OldestSeq(), 12)
	if err != nil {
		t.Fatalf("StreamLogRead: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("no records read back")
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].TimestampMs < recs[i-1].TimestampMs {
			t.Errorf("timestamps not monotonic: %d -> %d", recs[i-1].TimestampMs, recs[i].TimestampMs)
		}
	}
}

func TestEngine_StreamLogPeriodRules(t *testing.T) {
	c := newTestLink(t)

	// Below the floor: clamped.
	if err := c.StreamLogControl(true, 10, false); err != nil {
		t.Fatalf("StreamLogControl: %v", err)
	}
	sum, err := c.StreamLogSummary()
	if err != nil {
		t.Fatalf("StreamLogSummary: %v", err)
	}
	if sum.PeriodMs != vlink.LogPeriodFloorMs {
		t.Errorf("PeriodMs = %d, want clamped to %d", sum.PeriodMs, vlink.LogPeriodFloorMs)
	}

	// Zero: falls back to the committed config period.
	if err := c.StreamLogControl(true, 0, false); err != nil {
		t.Fatalf("StreamLogControl: %v", err)
	}
	sum, err = c.StreamLogSummary()
	if err != nil {
		t.Fatalf("StreamLogSummary: %v", err)
	}
	if sum.PeriodMs != 100 {
		t.Errorf("PeriodMs = %d, want committed default 100", sum.PeriodMs)
	}
}

// ============================================================
// Signal probe
// ============================================================

func TestEngine_ProbeSampling(t *testing.T) {
	c := newTestLink(t)

	if err := c.ProbeSelect(vlink.ProbeBattery, 20, true); err != nil {
		t.Fatalf("ProbeSelect: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	sum, err := c.ProbeSummary()
	if err != nil {
		t.Fatalf("ProbeSummary: %v", err)
	}
	if sum.Channel != vlink.ProbeBattery {
		t.Errorf("Channel = %d, want battery", sum.Channel)
	}
	if sum.Count < 3 {
		t.Errorf("sampled %d values, want >= 3", sum.Count)
	}

	samples, err := c.ProbeRead(sum.OldestSeq(), 64)
	if err != nil {
		t.Fatalf("ProbeRead: %v", err)
	}
	if len(samples) == 0 {
		t.Fatal("no samples read back")
	}
	for i, s := range samples {
		if s != 36500 {
			t.Errorf("sample %d = %d, want 36500", i, s)
		}
	}

	// Stop retains the channel selection.
	if err := c.ProbeSelect(sum.Channel, 0, false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	sum, err = c.ProbeSummary()
	if err != nil {
		t.Fatalf("ProbeSummary: %v", err)
	}
	if sum.Enabled {
		t.Error("probe still enabled after stop")
	}
	if sum.Channel != vlink.ProbeBattery {
		t.Errorf("channel lost on stop: %d", sum.Channel)
	}
}

func TestEngine_ProbeSelectRejectsBadChannel(t *testing.T) {
	c := newTestLink(t)
	wantStatus(t, c.ProbeSelect(0x09, 50, true), 0x01)
}

// ============================================================
// Bus capture
// ============================================================

func TestEngine_BusInjectGating(t *testing.T) {
	c := newTestLink(t)

	// Capture disabled.
	wantStatus(t, c.BusInject(1, 0, []byte{0xDE, 0xAD}), vlink.BusErrDisabled)

	if err := c.BusControl(true, true); err != nil {
		t.Fatalf("BusControl: %v", err)
	}
	if err := c.BusInject(1, 0, []byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("inject while stationary: %v", err)
	}

	rec, err := c.BusMonitor()
	if err != nil {
		t.Fatalf("BusMonitor: %v", err)
	}
	if rec.Flags&vlink.BusFlagInjected == 0 {
		t.Error("latest record missing injected flag")
	}
	if rec.BusID != 1 || len(rec.Data) != 2 || rec.Data[0] != 0xDE {
		t.Errorf("record = %+v", rec)
	}

	// The safety gate: injection refused in motion.
	if err := c.SetState(vlink.FieldSpeedCmS, 300); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	wantStatus(t, c.BusInject(1, 0, []byte{0x01}), vlink.BusErrBlockedMoving)

	if err := c.SetState(vlink.FieldSpeedCmS, 0); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.BusInject(1, 0, []byte{0x01}); err != nil {
		t.Fatalf("inject after stopping: %v", err)
	}
}

func TestEngine_BusMonitorEmpty(t *testing.T) {
	c := newTestLink(t)
	_, err := c.BusMonitor()
	wantStatus(t, err, vlink.BusErrEmpty)
}

func TestEngine_BusArmedCaptureStopsWhenFull(t *testing.T) {
	c := newTestLink(t)

	if err := c.BusControl(true, true); err != nil {
		t.Fatalf("BusControl: %v", err)
	}
	if err := c.BusArm(true); err != nil {
		t.Fatalf("BusArm: %v", err)
	}

	for i := 0; i < busCapacity+8; i++ {
		if err := c.BusInject(1, 0, []byte{byte(i)}); err != nil {
			t.Fatalf("inject %d: %v", i, err)
		}
	}

	s1, err := c.BusSummary()
	if err != nil {
		t.Fatalf("BusSummary: %v", err)
	}
	if s1.Count != busCapacity {
		t.Errorf("Count = %d, want full at %d", s1.Count, busCapacity)
	}
	if !s1.Armed {
		t.Error("summary should report armed")
	}

	// Armed and full: new records are dropped, the producer counter holds.
	if err := c.BusInject(1, 0, []byte{0xFF}); err != nil {
		t.Fatalf("inject into full armed capture: %v", err)
	}
	s2, err := c.BusSummary()
	if err != nil {
		t.Fatalf("BusSummary: %v", err)
	}
	if s2.Seq != s1.Seq {
		t.Errorf("Seq advanced on a full armed capture: %d -> %d", s1.Seq, s2.Seq)
	}

	// Disarmed: rolling again, oldest evicted.
	if err := c.BusArm(false); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	if err := c.BusInject(1, 0, []byte{0xFF}); err != nil {
		t.Fatalf("inject after disarm: %v", err)
	}
	s3, err := c.BusSummary()
	if err != nil {
		t.Fatalf("BusSummary: %v", err)
	}
	// Background bus chatter may land here too, so only the direction of
	// the producer counter is asserted.
	if s3.Seq <= s2.Seq {
		t.Errorf("Seq did not advance after disarm: %d -> %d", s2.Seq, s3.Seq)
	}
	if s3.Count != busCapacity {
		t.Errorf("Count = %d, want %d", s3.Count, busCapacity)
	}
}

func TestEngine_BusReplay(t *testing.T) {
	c := newTestLink(t)

	if err := c.BusControl(true, true); err != nil {
		t.Fatalf("BusControl: %v", err)
	}
	payloads := [][]byte{{0x11}, {0x22}, {0x33}}
	for _, p := range payloads {
		if err := c.BusInject(2, 0, p); err != nil {
			t.Fatalf("inject: %v", err)
		}
	}

	sum, err := c.BusSummary()
	if err != nil {
		t.Fatalf("BusSummary: %v", err)
	}

	// Bad offset first.
	wantStatus(t, c.BusReplay(sum.Seq+10, 3, 10), vlink.BusErrBadOffset)

	// Zero count is a no-op.
	if err := c.BusReplay(sum.OldestSeq(), 0, 10); err != nil {
		t.Fatalf("zero-count replay: %v", err)
	}

	if err := c.BusReplay(sum.OldestSeq(), 3, 10); err != nil {
		t.Fatalf("BusReplay: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	recs, err := c.BusRead(sum.OldestSeq(), 10)
	if err != nil {
		t.Fatalf("BusRead: %v", err)
	}
	replayed := 0
	for _, r := range recs {
		if r.Flags&vlink.BusFlagReplayed != 0 {
			replayed++
		}
	}
	if replayed != 3 {
		t.Errorf("replayed %d records, want 3", replayed)
	}
}

func TestEngine_BusReplayCancelledByBrake(t *testing.T) {
	c := newTestLink(t)

	if err := c.BusControl(true, true); err != nil {
		t.Fatalf("BusControl: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.BusInject(1, 0, []byte{byte(i)}); err != nil {
			t.Fatalf("inject: %v", err)
		}
	}
	sum, err := c.BusSummary()
	if err != nil {
		t.Fatalf("BusSummary: %v", err)
	}

	// Slow replay, then a brake edge before it can finish.
	if err := c.BusReplay(sum.OldestSeq(), 3, 400); err != nil {
		t.Fatalf("BusReplay: %v", err)
	}
	if err := c.SetState(vlink.FieldBrake, 1); err != nil {
		t.Fatalf("brake: %v", err)
	}
	time.Sleep(900 * time.Millisecond)

	recs, err := c.BusRead(sum.OldestSeq(), 10)
	if err != nil {
		t.Fatalf("BusRead: %v", err)
	}
	replayed := 0
	for _, r := range recs {
		if r.Flags&vlink.BusFlagReplayed != 0 {
			replayed++
		}
	}
	if replayed >= 3 {
		t.Errorf("replay ran to completion (%d records) despite the brake edge", replayed)
	}
}

func TestEngine_BusReplayGating(t *testing.T) {
	c := newTestLink(t)

	// Disabled.
	wantStatus(t, c.BusReplay(0, 1, 10), vlink.BusErrDisabled)

	if err := c.BusControl(true, true); err != nil {
		t.Fatalf("BusControl: %v", err)
	}
	// Empty capture.
	wantStatus(t, c.BusReplay(0, 1, 10), vlink.BusErrEmpty)

	if err := c.BusInject(1, 0, []byte{0x01}); err != nil {
		t.Fatalf("inject: %v", err)
	}
	// Moving.
	if err := c.SetState(vlink.FieldSpeedCmS, 300); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	sum, _ := c.BusSummary()
	wantStatus(t, c.BusReplay(sum.OldestSeq(), 1, 10), vlink.BusErrBlockedMoving)
}

// ============================================================
// Crash dump
// ============================================================

func TestEngine_CrashDumpLifecycle(t *testing.T) {
	c := newTestLink(t)

	d, err := c.CrashRead()
	if err != nil {
		t.Fatalf("CrashRead: %v", err)
	}
	if d.Present() {
		t.Fatal("fresh engine should have no crash dump")
	}

	hint, err := c.CrashTrigger()
	if err != nil {
		t.Fatalf("CrashTrigger: %v", err)
	}

	d, err = c.CrashRead()
	if err != nil {
		t.Fatalf("CrashRead: %v", err)
	}
	if !d.Present() {
		t.Fatal("dump missing after trigger")
	}
	if !d.CRCOK {
		t.Error("dump CRC invalid")
	}
	if d.PC < hint || d.PC >= hint+crashPCWindow {
		t.Errorf("PC 0x%08X outside [0x%08X, 0x%08X)", d.PC, hint, hint+crashPCWindow)
	}
	if d.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", d.Sequence)
	}
	if len(d.Events) == 0 {
		t.Fatal("no embedded events")
	}
	last := d.Events[len(d.Events)-1]
	if last.Type != vlink.EventFaultInject {
		t.Errorf("freshest embedded event = %+v, want fault inject", last)
	}

	// Reading never consumes; clearing does.
	if d2, _ := c.CrashRead(); !d2.Present() {
		t.Error("read consumed the dump")
	}
	if err := c.CrashClear(); err != nil {
		t.Fatalf("CrashClear: %v", err)
	}
	if d3, _ := c.CrashRead(); d3.Present() {
		t.Error("dump survived clear")
	}

	// Clear is idempotent; sequence keeps counting across dumps.
	if err := c.CrashClear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := c.CrashTrigger(); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if d4, _ := c.CrashRead(); d4.Sequence != 2 {
		t.Errorf("Sequence after second trigger = %d, want 2", d4.Sequence)
	}
}

// ============================================================
// A/B firmware slots
// ============================================================

func TestEngine_AbSlotLifecycle(t *testing.T) {
	c := newTestLink(t)

	s, err := c.AbStatus()
	if err != nil {
		t.Fatalf("AbStatus: %v", err)
	}
	if s.ActiveSlot != 0 || s.PendingSlot != vlink.AbSlotNone {
		t.Fatalf("boot status = %+v", s)
	}
	if s.BuildID != testBuildID {
		t.Errorf("BuildID = 0x%X, want 0x%X", s.BuildID, testBuildID)
	}

	wantStatus(t, c.AbSetPending(2), vlink.AbErrBadSlot)

	if err := c.AbSetPending(1); err != nil {
		t.Fatalf("stage slot 1: %v", err)
	}
	// Re-staging the same slot is fine; a different one is not.
	if err := c.AbSetPending(1); err != nil {
		t.Fatalf("re-stage slot 1: %v", err)
	}
	wantStatus(t, c.AbSetPending(0), vlink.AbErrPending)

	// Clear, then stage again and restart to apply.
	if err := c.AbSetPending(vlink.AbSlotNone); err != nil {
		t.Fatalf("clear pending: %v", err)
	}
	if err := c.AbSetPending(1); err != nil {
		t.Fatalf("stage slot 1: %v", err)
	}
	if err := c.RebootToBootloader(); err != nil {
		t.Fatalf("reboot: %v", err)
	}

	s, err = c.AbStatus()
	if err != nil {
		t.Fatalf("AbStatus after reboot: %v", err)
	}
	if s.ActiveSlot != 1 || s.PendingSlot != vlink.AbSlotNone || s.LastGoodSlot != 0 {
		t.Errorf("post-reboot status = %+v", s)
	}

	d, err := c.DebugState()
	if err != nil {
		t.Fatalf("DebugState: %v", err)
	}
	if d.BootCount != 2 || d.ResetReason != ResetCommanded {
		t.Errorf("BootCount/ResetReason = %d/%d", d.BootCount, d.ResetReason)
	}
}

// ============================================================
// BLE MITM
// ============================================================

func TestEngine_MitmStateMachine(t *testing.T) {
	c := newTestLink(t)

	// Everything is refused while disabled.
	_, err := c.BleExchange([]byte{0x01})
	wantStatus(t, err, vlink.BleErrDisabled)

	// Off -> Connected is not a legal transition.
	wantStatus(t, c.MitmControl(true, vlink.MitmEvConnect, nil), vlink.BleErrBadState)

	if err := c.MitmControl(true, vlink.MitmEvAdvertise, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := c.MitmControl(true, vlink.MitmEvConnect, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Transition events must not carry data.
	wantStatus(t, c.MitmControl(true, vlink.MitmEvDisconnect, []byte{1}), vlink.BleErrBadPayload)

	// RX/TX feed the capture; empty payloads are rejected.
	if err := c.MitmControl(true, vlink.MitmEvRx, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("rx: %v", err)
	}
	wantStatus(t, c.MitmControl(true, vlink.MitmEvTx, nil), vlink.BleErrBadPayload)

	if err := c.MitmControl(true, vlink.MitmEvDisconnect, nil); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	_, err = c.BleExchange([]byte{0x01})
	wantStatus(t, err, vlink.BleErrBadState)
}

func TestEngine_BleExchangeAndCapture(t *testing.T) {
	c := newTestLink(t)

	if err := c.MitmControl(true, vlink.MitmEvScan, nil); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := c.MitmControl(true, vlink.MitmEvConnect, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sent := []byte{0x0F, 0xF0, 0x55}
	reply, err := c.BleExchange(sent)
	if err != nil {
		t.Fatalf("BleExchange: %v", err)
	}
	if len(reply) != len(sent) {
		t.Fatalf("reply %d bytes, want %d", len(reply), len(sent))
	}
	for i := range sent {
		if reply[i] != ^sent[i] {
			t.Errorf("reply[%d] = 0x%02X, want 0x%02X", i, reply[i], ^sent[i])
		}
	}

	// Both directions landed in the capture.
	cap, err := c.MitmRead(0, 10)
	if err != nil {
		t.Fatalf("MitmRead: %v", err)
	}
	if cap.Magic != vlink.MitmCaptureMagic {
		t.Errorf("Magic = 0x%04X", cap.Magic)
	}
	if cap.Base != 0 {
		t.Errorf("Base = %d, want 0", cap.Base)
	}
	if len(cap.Records) != 2 {
		t.Fatalf("captured %d records, want 2", len(cap.Records))
	}
	if cap.Records[0].Dir != vlink.DirCentralToPeripheral {
		t.Errorf("record 0 dir = %d", cap.Records[0].Dir)
	}
	if cap.Records[1].Dir != vlink.DirPeripheralToCentral {
		t.Errorf("record 1 dir = %d", cap.Records[1].Dir)
	}
	for i := range sent {
		if cap.Records[0].Data[i] != sent[i] {
			t.Errorf("captured tx byte %d = 0x%02X, want 0x%02X", i, cap.Records[0].Data[i], sent[i])
		}
	}

	// Disable resets the link state.
	if err := c.MitmControl(false, 0, nil); err != nil {
		t.Fatalf("disable: %v", err)
	}
	_, err = c.BleExchange([]byte{0x01})
	wantStatus(t, err, vlink.BleErrDisabled)
}
