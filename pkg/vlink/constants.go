// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

// Package vlink provides a reference Go implementation of the VLink service protocol.
//
// VLink is the framed binary control/telemetry channel between a host and a
// Velobahn vehicle-control firmware image, carried over a half-duplex serial
// link (UART, PTY, or TCP in test environments). This package provides frame
// encoding/decoding, checksum validation, the synchronous request/response
// dispatcher, and decoders for every versioned record the protocol carries.
package vlink

// Protocol framing bytes
const (
	// SOF marks the start of every wire frame.
	SOF = 0x55

	// ResponseFlag is OR'd into the request command byte by the firmware
	// when it answers. 0x01 -> 0x81, 0x30 -> 0xB0, and so on.
	ResponseFlag = 0x80
)

// Frame size limits
const (
	MaxPayloadSize = 255
	headerSize     = 3 // sof + cmd + len
)

// Protocol version reported in the ping response.
const ProtocolVersion = 3

// Command bytes - Link and live state 0x01-0x0F
const (
	CmdPing         = 0x01
	CmdStateDump    = 0x0A
	CmdStateSet     = 0x0C
	CmdStreamPeriod = 0x0D
	CmdRebootLoader = 0x0E
)

// CmdTelemetryPush is the command byte on unsolicited telemetry frames pushed
// by the firmware while streaming is enabled. It is never a response to any
// request; the value sits in the response range so it can never collide with
// an outbound command byte.
const CmdTelemetryPush = 0x90

// Command bytes - Signal probe and debug state 0x20-0x2F
const (
	CmdProbeSummary = 0x20
	CmdDebugState   = 0x21
	CmdProbeRead    = 0x22
	CmdProbeSelect  = 0x23
)

// Command bytes - Configuration 0x30-0x3F
const (
	CmdConfigGet    = 0x30
	CmdConfigStage  = 0x31
	CmdConfigCommit = 0x32
)

// Command bytes - Event log 0x40-0x43
const (
	CmdEventSummary = 0x40
	CmdEventRead    = 0x41
	CmdEventMark    = 0x42
)

// Command bytes - Stream log 0x44-0x46
const (
	CmdStreamLogSummary = 0x44
	CmdStreamLogRead    = 0x45
	CmdStreamLogControl = 0x46
)

// Command bytes - Crash dump 0x47-0x49
const (
	CmdCrashRead    = 0x47
	CmdCrashClear   = 0x48
	CmdCrashTrigger = 0x49
)

// Command bytes - Bus capture 0x50-0x56
const (
	CmdBusSummary = 0x50
	CmdBusRead    = 0x51
	CmdBusControl = 0x52
	CmdBusInject  = 0x53
	CmdBusMonitor = 0x54
	CmdBusArm     = 0x55
	CmdBusReplay  = 0x56
)

// Command bytes - BLE and A/B slots 0x70-0x74
const (
	CmdBleExchange  = 0x70
	CmdAbStatus     = 0x71
	CmdAbSetPending = 0x72
	CmdMitmControl  = 0x73
	CmdMitmRead     = 0x74
)

// Generic status codes. Commands that answer with a single status byte use
// 0x00 for success; nonzero values are command-family reason codes.
const (
	StatusOK         = 0x00
	StatusUnknownCmd = 0xFF
)

// Config stage/commit reason codes
const (
	CfgErrStruct   = 0x01 // version or size field mismatch
	CfgErrCRC      = 0x02
	CfgErrRange    = 0x03
	CfgErrCurve    = 0x04 // assist curve x values not strictly increasing
	CfgErrLogFloor = 0x05 // log period below the firmware floor
	CfgErrPolicy   = 0x06 // street/private mode cap violation
	CfgErrSequence = 0x07 // sequence != committed sequence + 1
	CfgErrNothing  = 0x08 // commit with no successfully staged blob
)

// Bus capture reason codes
const (
	BusErrBlockedMoving = 0x01 // inject/replay refused while the vehicle moves
	BusErrBadLength     = 0x02
	BusErrDisabled      = 0x03
	BusErrEmpty         = 0x04
	BusErrBadOffset     = 0x05
	BusErrReplayActive  = 0x06
)

// BLE MITM reason codes
const (
	BleErrDisabled   = 0x01
	BleErrBadLength  = 0x02
	BleErrBadState   = 0x03
	BleErrBadPayload = 0x04
)

// A/B slot reason codes
const (
	AbErrBadSlot = 0x01
	AbErrPending = 0x02 // a different pending transition is already staged
)

// AbSlotNone marks "no pending slot" in AbStatus.PendingSlot.
const AbSlotNone = 0xFF

// StateSet field selectors
const (
	FieldDriveMode   = 0x01
	FieldAssistLevel = 0x02
	FieldCruiseCmS   = 0x03
	FieldBrake       = 0x04
	FieldSpeedCmS    = 0x05 // test builds: overrides the modeled speed
)

// State flag bits shared by State, TelemetryFrame and StreamLogRecord.
const (
	FlagMoving     = 1 << 0
	FlagBrake      = 1 << 1
	FlagCruise     = 1 << 2
	FlagStreetMode = 1 << 3
	FlagBoost      = 1 << 4
)

// Event record types
const (
	EventBoot         = 0x01 // arg carries the reset reason
	EventBrakeOveride = 0x02
	EventCruiseCancel = 0x03
	EventConfigReject = 0x04 // arg carries the config reason code
	EventFaultInject  = 0x05
	EventMarker       = 0x10 // client-injected test marker
)

// Probe channels selectable with CmdProbeSelect.
const (
	ProbeSpeed   = 0x00
	ProbeCurrent = 0x01
	ProbeBattery = 0x02
	ProbeTemp    = 0x03
)

// MITM link states
const (
	MitmOff         = 0x00
	MitmAdvertising = 0x01
	MitmScanning    = 0x02
	MitmConnected   = 0x03
)

// MITM control events
const (
	MitmEvOff        = 0x00
	MitmEvAdvertise  = 0x01
	MitmEvScan       = 0x02
	MitmEvConnect    = 0x03
	MitmEvRx         = 0x04
	MitmEvTx         = 0x05
	MitmEvDisconnect = 0x06
)

// MITM capture record direction tags
const (
	DirCentralToPeripheral = 0x00
	DirPeripheralToCentral = 0x01
)

// Capture header constants (bus and MITM capture reads)
const (
	MitmCaptureMagic   = 0xB1E0
	MitmCaptureVersion = 1
	MaxCaptureData     = 16 // per-record payload cap for bus/BLE records
)
