// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"errors"
	"fmt"
)

// Link-level error taxonomy. Checksum failures and timeouts are retryable at
// the exchange level; length mismatches and unexpected frames are fatal to the
// in-flight call but never to the link itself.
var (
	ErrChecksum        = errors.New("vlink: frame checksum mismatch")
	ErrTimeout         = errors.New("vlink: timed out waiting for frame")
	ErrLengthMismatch  = errors.New("vlink: response payload length mismatch")
	ErrUnexpectedFrame = errors.New("vlink: unexpected frame in exchange")
	ErrPayloadTooLarge = errors.New("vlink: payload exceeds 255 bytes")
	ErrShortPayload    = errors.New("vlink: payload too short to decode")
)

// StatusError reports a nonzero single-byte status returned by the firmware.
// These are policy/range/state-machine rejections, not transport failures:
// callers are expected to branch on Code.
type StatusError struct {
	Cmd  byte
	Code byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vlink: command 0x%02X rejected: %s (0x%02X)", e.Cmd, StatusReason(e.Cmd, e.Code), e.Code)
}

// StatusReason resolves a command-family reason code to a short name.
func StatusReason(cmd, code byte) string {
	if code == StatusOK {
		return "ok"
	}
	if code == StatusUnknownCmd {
		return "unknown command"
	}
	switch cmd {
	case CmdConfigStage, CmdConfigCommit:
		switch code {
		case CfgErrStruct:
			return "bad version/size"
		case CfgErrCRC:
			return "crc mismatch"
		case CfgErrRange:
			return "value out of range"
		case CfgErrCurve:
			return "curve not monotonic"
		case CfgErrLogFloor:
			return "log period below floor"
		case CfgErrPolicy:
			return "street policy violation"
		case CfgErrSequence:
			return "bad sequence"
		case CfgErrNothing:
			return "nothing staged"
		}
	case CmdBusInject, CmdBusReplay, CmdBusControl, CmdBusMonitor, CmdBusArm:
		switch code {
		case BusErrBlockedMoving:
			return "blocked: vehicle moving"
		case BusErrBadLength:
			return "bad length"
		case BusErrDisabled:
			return "capture disabled"
		case BusErrEmpty:
			return "capture empty"
		case BusErrBadOffset:
			return "bad offset"
		case BusErrReplayActive:
			return "replay already active"
		}
	case CmdMitmControl, CmdMitmRead, CmdBleExchange:
		switch code {
		case BleErrDisabled:
			return "mitm disabled"
		case BleErrBadLength:
			return "bad length"
		case BleErrBadState:
			return "bad link state"
		case BleErrBadPayload:
			return "bad payload"
		}
	case CmdAbSetPending:
		switch code {
		case AbErrBadSlot:
			return "bad slot"
		case AbErrPending:
			return "pending transition exists"
		}
	}
	return "error"
}

// checkStatus turns a single-byte status payload into nil or a *StatusError.
func checkStatus(cmd byte, payload []byte) error {
	if len(payload) < 1 {
		return fmt.Errorf("%w: empty status for cmd 0x%02X", ErrShortPayload, cmd)
	}
	if payload[0] != StatusOK {
		return &StatusError{Cmd: cmd, Code: payload[0]}
	}
	return nil
}
