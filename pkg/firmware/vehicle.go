// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package firmware

import "github.com/velobahn/veloctl/pkg/vlink"

// Vehicle is the simulated state source standing in for the real control
// algorithms. The protocol engine treats it as a black box: it only reads
// snapshots and pokes the few fields the state-set command exposes.
type Vehicle struct {
	DriveMode   uint8
	AssistLevel uint8

	SpeedCmS       uint16
	BatteryMV      uint16
	MotorCurrentMA int16
	TempC          int8
	ThrottleMV     uint16

	Brake         bool
	CruiseCmS     uint16
	CruiseActive  bool
	SpeedOverride bool // test builds: hold SpeedCmS at its set value

	OdometerM uint32
	ErrorCode uint16

	stepResidualCm uint32
}

// movingThresholdCmS is the speed above which the vehicle counts as moving
// for the bus-inject safety gate.
const movingThresholdCmS = 50

// NewVehicle returns a stationary vehicle with a healthy battery.
func NewVehicle() *Vehicle {
	return &Vehicle{
		AssistLevel: 2,
		BatteryMV:   36500,
		TempC:       24,
	}
}

// Moving reports whether the inject/replay safety gate is closed.
func (v *Vehicle) Moving() bool { return v.SpeedCmS > movingThresholdCmS }

// Flags packs the shared state flag bits.
func (v *Vehicle) Flags() uint8 {
	var f uint8
	if v.Moving() {
		f |= vlink.FlagMoving
	}
	if v.Brake {
		f |= vlink.FlagBrake
	}
	if v.CruiseActive {
		f |= vlink.FlagCruise
	}
	return f
}

// Step advances the model by dtMs. The dynamics are deliberately simple:
// cruise holds its setpoint, braking bleeds speed off, everything else
// coasts down slowly.
func (v *Vehicle) Step(dtMs uint32) {
	if !v.SpeedOverride {
		switch {
		case v.Brake:
			v.decay(dtMs, 40) // cm/s per 100ms
		case v.CruiseActive:
			v.approach(v.CruiseCmS, dtMs)
		default:
			v.decay(dtMs, 4)
		}
	}

	// Motor current tracks speed loosely; idle draw otherwise.
	if v.SpeedCmS > 0 {
		v.MotorCurrentMA = int16(200 + uint32(v.SpeedCmS)/2)
	} else {
		v.MotorCurrentMA = 120
	}

	// Odometer accumulates whole meters from cm travelled.
	v.stepResidualCm += uint32(v.SpeedCmS) * dtMs / 1000
	v.OdometerM += v.stepResidualCm / 100
	v.stepResidualCm %= 100
}

func (v *Vehicle) decay(dtMs uint32, per100ms uint16) {
	drop := uint32(per100ms) * dtMs / 100
	if uint32(v.SpeedCmS) <= drop {
		v.SpeedCmS = 0
		return
	}
	v.SpeedCmS -= uint16(drop)
}

func (v *Vehicle) approach(target uint16, dtMs uint32) {
	step := uint16(20 * dtMs / 100)
	if step == 0 {
		step = 1
	}
	switch {
	case v.SpeedCmS+step < target:
		v.SpeedCmS += step
	case v.SpeedCmS > target+step:
		v.SpeedCmS -= step
	default:
		v.SpeedCmS = target
	}
}

// Snapshot builds the state dump record.
func (v *Vehicle) Snapshot(flags uint8) vlink.State {
	return vlink.State{
		DriveMode:       v.DriveMode,
		AssistLevel:     v.AssistLevel,
		SpeedCmS:        v.SpeedCmS,
		BatteryMV:       v.BatteryMV,
		MotorCurrentMA:  v.MotorCurrentMA,
		ControllerTempC: v.TempC,
		Flags:           v.Flags() | flags,
		OdometerM:       v.OdometerM,
		ErrorCode:       v.ErrorCode,
	}
}

// Sample returns the probe value for one channel.
func (v *Vehicle) Sample(channel uint8) uint16 {
	switch channel {
	case vlink.ProbeSpeed:
		return v.SpeedCmS
	case vlink.ProbeCurrent:
		return uint16(v.MotorCurrentMA)
	case vlink.ProbeBattery:
		return v.BatteryMV
	case vlink.ProbeTemp:
		return uint16(int16(v.TempC))
	default:
		return 0
	}
}
