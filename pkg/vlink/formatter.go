// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"fmt"
	"strings"
)

// FormatFrame formats a raw frame into a one-line human-readable string.
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp().Format("15:04:05.000")
	return fmt.Sprintf("[%s] %s (0x%02X) len=%d % X",
		timestamp, FormatCommand(f.Cmd()), f.Cmd(), len(f.Payload()), f.Payload())
}

// FormatCommand returns the human-readable name for a command byte.
// Response bytes resolve to their request name with a _RESP suffix.
func FormatCommand(cmd byte) string {
	if cmd == CmdTelemetryPush {
		return "TELEMETRY_PUSH"
	}
	if cmd&ResponseFlag != 0 {
		base := FormatCommand(cmd &^ ResponseFlag)
		if base != "UNKNOWN" {
			return base + "_RESP"
		}
		return base
	}
	switch cmd {
	case CmdPing:
		return "PING"
	case CmdStateDump:
		return "STATE_DUMP"
	case CmdStateSet:
		return "STATE_SET"
	case CmdStreamPeriod:
		return "STREAM_PERIOD"
	case CmdRebootLoader:
		return "REBOOT_LOADER"
	case CmdProbeSummary:
		return "PROBE_SUMMARY"
	case CmdDebugState:
		return "DEBUG_STATE"
	case CmdProbeRead:
		return "PROBE_READ"
	case CmdProbeSelect:
		return "PROBE_SELECT"
	case CmdConfigGet:
		return "CONFIG_GET"
	case CmdConfigStage:
		return "CONFIG_STAGE"
	case CmdConfigCommit:
		return "CONFIG_COMMIT"
	case CmdEventSummary:
		return "EVENT_SUMMARY"
	case CmdEventRead:
		return "EVENT_READ"
	case CmdEventMark:
		return "EVENT_MARK"
	case CmdStreamLogSummary:
		return "STREAMLOG_SUMMARY"
	case CmdStreamLogRead:
		return "STREAMLOG_READ"
	case CmdStreamLogControl:
		return "STREAMLOG_CONTROL"
	case CmdCrashRead:
		return "CRASH_READ"
	case CmdCrashClear:
		return "CRASH_CLEAR"
	case CmdCrashTrigger:
		return "CRASH_TRIGGER"
	case CmdBusSummary:
		return "BUS_SUMMARY"
	case CmdBusRead:
		return "BUS_READ"
	case CmdBusControl:
		return "BUS_CONTROL"
	case CmdBusInject:
		return "BUS_INJECT"
	case CmdBusMonitor:
		return "BUS_MONITOR"
	case CmdBusArm:
		return "BUS_ARM"
	case CmdBusReplay:
		return "BUS_REPLAY"
	case CmdBleExchange:
		return "BLE_EXCHANGE"
	case CmdAbStatus:
		return "AB_STATUS"
	case CmdAbSetPending:
		return "AB_SET_PENDING"
	case CmdMitmControl:
		return "MITM_CONTROL"
	case CmdMitmRead:
		return "MITM_READ"
	default:
		return "UNKNOWN"
	}
}

// FormatEventType returns the human-readable name for an event record type.
func FormatEventType(typ uint8) string {
	switch typ {
	case EventBoot:
		return "BOOT"
	case EventBrakeOveride:
		return "BRAKE_OVERRIDE"
	case EventCruiseCancel:
		return "CRUISE_CANCEL"
	case EventConfigReject:
		return "CONFIG_REJECT"
	case EventFaultInject:
		return "FAULT_INJECT"
	case EventMarker:
		return "MARKER"
	default:
		return fmt.Sprintf("TYPE_%02X", typ)
	}
}

// FormatFlags renders the shared state flag bits.
func FormatFlags(flags uint8) string {
	var parts []string
	if flags&FlagMoving != 0 {
		parts = append(parts, "moving")
	}
	if flags&FlagBrake != 0 {
		parts = append(parts, "brake")
	}
	if flags&FlagCruise != 0 {
		parts = append(parts, "cruise")
	}
	if flags&FlagStreetMode != 0 {
		parts = append(parts, "street")
	}
	if flags&FlagBoost != 0 {
		parts = append(parts, "boost")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// FormatState renders a live state snapshot.
func FormatState(s State) string {
	return fmt.Sprintf("mode=%d assist=%d speed=%.1fkm/h batt=%.2fV current=%.2fA temp=%d°C odo=%dm err=0x%04X flags=%s",
		s.DriveMode, s.AssistLevel,
		float64(s.SpeedCmS)*0.036,
		float64(s.BatteryMV)/1000,
		float64(s.MotorCurrentMA)/1000,
		s.ControllerTempC, s.OdometerM, s.ErrorCode, FormatFlags(s.Flags))
}

// FormatTelemetry renders one telemetry push frame.
func FormatTelemetry(t TelemetryFrame) string {
	return fmt.Sprintf("t=%8dms speed=%.1fkm/h batt=%.2fV current=%.2fA temp=%d°C flags=%s",
		t.UptimeMs,
		float64(t.SpeedCmS)*0.036,
		float64(t.BatteryMV)/1000,
		float64(t.MotorCurrentMA)/1000,
		t.ControllerTempC, FormatFlags(t.Flags))
}

// FormatEvent renders one event record.
func FormatEvent(e EventRecord) string {
	return fmt.Sprintf("t=%8dms %-15s flags=0x%02X speed=%.1fkm/h err=0x%04X arg=%d",
		e.TimestampMs, FormatEventType(e.Type), e.Flags,
		float64(e.SpeedCmS)*0.036, e.ErrorCode, e.Arg)
}

// FormatRingSummary renders a ring summary line.
func FormatRingSummary(r RingSummary) string {
	enabled := "disabled"
	if r.Enabled {
		enabled = "enabled"
	}
	return fmt.Sprintf("count=%d/%d head=%d recsize=%dB seq=%d %s",
		r.Count, r.Capacity, r.Head, r.RecordSize, r.Seq, enabled)
}

// FormatConfig renders a configuration blob over several lines.
func FormatConfig(c ConfigBlob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version=%d size=%d seq=%d crc=0x%08X\n", c.Version, c.Size, c.Sequence, c.CRC32)
	fmt.Fprintf(&b, "wheel=%dmm units=%d profile=%d theme=%d caps=0x%02X\n",
		c.WheelCircMM, c.Units, c.ActiveProfile, c.UITheme, c.CapabilityFlags)
	fmt.Fprintf(&b, "buttons=0x%02X lock=0x%02X street=%d pin=%04d\n",
		c.ButtonMap, c.ButtonLockFlags, c.StreetMode, c.PIN)
	fmt.Fprintf(&b, "caps: current=%dA speed=%dkm/h logperiod=%dms\n",
		c.MaxCurrentA, c.MaxSpeedKmh, c.LogPeriodMs)
	fmt.Fprintf(&b, "softstart: ramp=%d%%/s deadband=%d kick=%d%% manual=%d%%\n",
		c.SoftStartRampPctS, c.SoftStartDeadband, c.SoftStartKickPct, c.ManualSetpointPct)
	fmt.Fprintf(&b, "boost: budget=%dJ cooldown=%ds threshold=%dkm/h gain=%d%%\n",
		c.BoostBudgetJ, c.BoostCooldownS, c.BoostThresholdKmh, c.BoostGainPct)
	fmt.Fprintf(&b, "curve (%d points):", c.CurvePointCount)
	for i := 0; i < int(c.CurvePointCount); i++ {
		fmt.Fprintf(&b, " (%d,%d)", c.CurvePoints[i].X, c.CurvePoints[i].Y)
	}
	b.WriteByte('\n')
	return b.String()
}

// FormatCrashDump renders a crash dump block.
func FormatCrashDump(d CrashDump) string {
	if !d.Present() {
		return "no crash dump present\n"
	}
	var b strings.Builder
	crc := "CRC OK"
	if !d.CRCOK {
		crc = "CRC INVALID - register fields untrustworthy"
	}
	fmt.Fprintf(&b, "magic=0x%08X v%d seq=%d t=%dms flags=0x%02X (%s)\n",
		d.Magic, d.Version, d.Sequence, d.TimestampMs, d.Flags, crc)
	fmt.Fprintf(&b, "pc=0x%08X lr=0x%08X sp=0x%08X psr=0x%08X\n", d.PC, d.LR, d.SP, d.PSR)
	fmt.Fprintf(&b, "cfsr=0x%08X hfsr=0x%08X\n", d.CFSR, d.HFSR)
	fmt.Fprintf(&b, "prior events (%d):\n", len(d.Events))
	for _, e := range d.Events {
		fmt.Fprintf(&b, "  %s\n", FormatEvent(e))
	}
	return b.String()
}

// FormatAbStatus renders the A/B slot bookkeeping.
func FormatAbStatus(s AbStatus) string {
	pending := "none"
	if s.PendingSlot != AbSlotNone {
		pending = fmt.Sprintf("%d", s.PendingSlot)
	}
	return fmt.Sprintf("active=%d pending=%s last_good=%d flags=0x%02X build=%016X",
		s.ActiveSlot, pending, s.LastGoodSlot, s.Flags, s.BuildID)
}

// FormatMitmState returns the human-readable MITM link state name.
func FormatMitmState(s uint8) string {
	switch s {
	case MitmOff:
		return "OFF"
	case MitmAdvertising:
		return "ADVERTISING"
	case MitmScanning:
		return "SCANNING"
	case MitmConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}
