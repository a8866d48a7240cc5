// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ConfigBlob is the staged/committed configuration record.
//
// The wire schema is pinned here as explicit byte offsets; it is never derived
// from struct packing order. CRC32 (IEEE) covers the whole blob with the CRC
// field zeroed during the hash pass. Sequence must be exactly the committed
// sequence plus one when staging.
//
//	off  field
//	  0  Version            u8   (= ConfigVersion)
//	  1  Size               u8   (= ConfigBlobSize)
//	  2  Sequence           u16
//	  4  CRC32              u32
//	  8  WheelCircMM        u16
//	 10  Units              u8
//	 11  ActiveProfile      u8
//	 12  UITheme            u8
//	 13  CapabilityFlags    u8
//	 14  ButtonMap          u8
//	 15  ButtonLockFlags    u8
//	 16  StreetMode         u8
//	 17  PIN                u16
//	 19  MaxCurrentA        u8
//	 20  MaxSpeedKmh        u8
//	 21  LogPeriodMs        u16
//	 23  SoftStartRampPctS  u8
//	 24  SoftStartDeadband  u8
//	 25  SoftStartKickPct   u8
//	 26  ManualSetpointPct  u8
//	 27  BoostBudgetJ       u16
//	 29  BoostCooldownS     u8
//	 30  BoostThresholdKmh  u8
//	 31  BoostGainPct       u8
//	 32  CurvePointCount    u8
//	 33  CurvePoints        8 x (X u8, Y u8)
//	 49  reserved           3 bytes, zero
type ConfigBlob struct {
	Version  uint8
	Size     uint8
	Sequence uint16
	CRC32    uint32

	WheelCircMM     uint16
	Units           uint8
	ActiveProfile   uint8
	UITheme         uint8
	CapabilityFlags uint8
	ButtonMap       uint8
	ButtonLockFlags uint8
	StreetMode      uint8
	PIN             uint16
	MaxCurrentA     uint8
	MaxSpeedKmh     uint8
	LogPeriodMs     uint16

	SoftStartRampPctS uint8
	SoftStartDeadband uint8
	SoftStartKickPct  uint8
	ManualSetpointPct uint8

	BoostBudgetJ      uint16
	BoostCooldownS    uint8
	BoostThresholdKmh uint8
	BoostGainPct      uint8

	CurvePointCount uint8
	CurvePoints     [MaxCurvePoints]CurvePoint
}

// CurvePoint is one assist-curve breakpoint: X is speed in km/h, Y assist
// strength in percent.
type CurvePoint struct {
	X uint8
	Y uint8
}

// Config blob constants.
const (
	ConfigVersion  = 3
	ConfigBlobSize = 52
	MaxCurvePoints = 8

	// LogPeriodFloorMs is the lowest sampling period the firmware accepts.
	LogPeriodFloorMs = 50

	// Street mode policy caps.
	StreetMaxSpeedKmh = 25
	StreetMaxCurrentA = 15

	// Absolute field ranges.
	maxWheelCircMM  = 3000
	minWheelCircMM  = 800
	maxCurrentCapA  = 60
	maxSpeedCapKmh  = 80
	maxPIN          = 9999
	maxProfile      = 3
	maxTheme        = 2
	maxSoftStartPct = 100
	maxKickPct      = 50
	maxBoostBudgetJ = 5000
	maxBoostGainPct = 200
)

const configCRCOffset = 4

// NewDefaultConfig returns the factory configuration at sequence zero.
func NewDefaultConfig() ConfigBlob {
	c := ConfigBlob{
		Version:           ConfigVersion,
		Size:              ConfigBlobSize,
		WheelCircMM:       2150,
		ActiveProfile:     0,
		MaxCurrentA:       18,
		MaxSpeedKmh:       45,
		LogPeriodMs:       100,
		SoftStartRampPctS: 40,
		SoftStartDeadband: 10,
		SoftStartKickPct:  5,
		ManualSetpointPct: 30,
		BoostBudgetJ:      1200,
		BoostCooldownS:    30,
		BoostThresholdKmh: 20,
		BoostGainPct:      120,
		CurvePointCount:   4,
	}
	c.CurvePoints[0] = CurvePoint{X: 0, Y: 100}
	c.CurvePoints[1] = CurvePoint{X: 15, Y: 80}
	c.CurvePoints[2] = CurvePoint{X: 30, Y: 40}
	c.CurvePoints[3] = CurvePoint{X: 45, Y: 10}
	return c
}

// Encode serializes the blob. With recalcCRC set, the CRC32 field is
// recomputed over the serialized bytes (CRC field zeroed during the pass) and
// written back into both the output and the receiver's CRC32 field.
func (c *ConfigBlob) Encode(recalcCRC bool) []byte {
	p := make([]byte, ConfigBlobSize)
	p[0] = c.Version
	p[1] = c.Size
	binary.BigEndian.PutUint16(p[2:4], c.Sequence)
	binary.BigEndian.PutUint32(p[4:8], c.CRC32)
	binary.BigEndian.PutUint16(p[8:10], c.WheelCircMM)
	p[10] = c.Units
	p[11] = c.ActiveProfile
	p[12] = c.UITheme
	p[13] = c.CapabilityFlags
	p[14] = c.ButtonMap
	p[15] = c.ButtonLockFlags
	p[16] = c.StreetMode
	binary.BigEndian.PutUint16(p[17:19], c.PIN)
	p[19] = c.MaxCurrentA
	p[20] = c.MaxSpeedKmh
	binary.BigEndian.PutUint16(p[21:23], c.LogPeriodMs)
	p[23] = c.SoftStartRampPctS
	p[24] = c.SoftStartDeadband
	p[25] = c.SoftStartKickPct
	p[26] = c.ManualSetpointPct
	binary.BigEndian.PutUint16(p[27:29], c.BoostBudgetJ)
	p[29] = c.BoostCooldownS
	p[30] = c.BoostThresholdKmh
	p[31] = c.BoostGainPct
	p[32] = c.CurvePointCount
	for i := 0; i < MaxCurvePoints; i++ {
		p[33+2*i] = c.CurvePoints[i].X
		p[34+2*i] = c.CurvePoints[i].Y
	}
	if recalcCRC {
		c.CRC32 = ConfigCRC(p)
		binary.BigEndian.PutUint32(p[4:8], c.CRC32)
	}
	return p
}

// DecodeConfigBlob deserializes a config payload. Structural validation
// (version/size constants) is deliberately separate so the firmware can turn
// it into a typed status code instead of a decode failure.
func DecodeConfigBlob(p []byte) (ConfigBlob, error) {
	if len(p) < ConfigBlobSize {
		return ConfigBlob{}, fmt.Errorf("%w: config blob %d bytes", ErrShortPayload, len(p))
	}
	c := ConfigBlob{
		Version:           p[0],
		Size:              p[1],
		Sequence:          binary.BigEndian.Uint16(p[2:4]),
		CRC32:             binary.BigEndian.Uint32(p[4:8]),
		WheelCircMM:       binary.BigEndian.Uint16(p[8:10]),
		Units:             p[10],
		ActiveProfile:     p[11],
		UITheme:           p[12],
		CapabilityFlags:   p[13],
		ButtonMap:         p[14],
		ButtonLockFlags:   p[15],
		StreetMode:        p[16],
		PIN:               binary.BigEndian.Uint16(p[17:19]),
		MaxCurrentA:       p[19],
		MaxSpeedKmh:       p[20],
		LogPeriodMs:       binary.BigEndian.Uint16(p[21:23]),
		SoftStartRampPctS: p[23],
		SoftStartDeadband: p[24],
		SoftStartKickPct:  p[25],
		ManualSetpointPct: p[26],
		BoostBudgetJ:      binary.BigEndian.Uint16(p[27:29]),
		BoostCooldownS:    p[29],
		BoostThresholdKmh: p[30],
		BoostGainPct:      p[31],
		CurvePointCount:   p[32],
	}
	for i := 0; i < MaxCurvePoints; i++ {
		c.CurvePoints[i] = CurvePoint{X: p[33+2*i], Y: p[34+2*i]}
	}
	return c, nil
}

// ConfigCRC computes the blob CRC32 over the serialized bytes with the CRC
// field zeroed.
func ConfigCRC(p []byte) uint32 {
	if len(p) < ConfigBlobSize {
		return 0
	}
	scratch := append([]byte(nil), p[:ConfigBlobSize]...)
	for i := configCRCOffset; i < configCRCOffset+4; i++ {
		scratch[i] = 0
	}
	return crc32.ChecksumIEEE(scratch)
}

// CheckStructure returns CfgErrStruct when the fixed version/size fields do
// not match this protocol revision, StatusOK otherwise.
func (c *ConfigBlob) CheckStructure() byte {
	if c.Version != ConfigVersion || c.Size != ConfigBlobSize {
		return CfgErrStruct
	}
	return StatusOK
}

// Validate applies the semantic validation rules: numeric ranges, assist
// curve x-monotonicity, logging-period floor, soft-start bounds and the
// street/private policy caps. Returns StatusOK or the first failing reason
// code; the blob is never partially applied on failure.
func (c *ConfigBlob) Validate() byte {
	switch {
	case c.WheelCircMM < minWheelCircMM || c.WheelCircMM > maxWheelCircMM:
		return CfgErrRange
	case c.Units > 1:
		return CfgErrRange
	case c.ActiveProfile > maxProfile:
		return CfgErrRange
	case c.UITheme > maxTheme:
		return CfgErrRange
	case c.StreetMode > 1:
		return CfgErrRange
	case c.PIN > maxPIN:
		return CfgErrRange
	case c.MaxCurrentA == 0 || c.MaxCurrentA > maxCurrentCapA:
		return CfgErrRange
	case c.MaxSpeedKmh == 0 || c.MaxSpeedKmh > maxSpeedCapKmh:
		return CfgErrRange
	case c.ManualSetpointPct > 100:
		return CfgErrRange
	case c.BoostBudgetJ > maxBoostBudgetJ:
		return CfgErrRange
	case c.BoostThresholdKmh > maxSpeedCapKmh:
		return CfgErrRange
	case c.BoostGainPct > maxBoostGainPct:
		return CfgErrRange
	case c.CurvePointCount > MaxCurvePoints:
		return CfgErrRange
	}

	if c.SoftStartRampPctS == 0 || c.SoftStartRampPctS > maxSoftStartPct ||
		c.SoftStartDeadband > maxSoftStartPct || c.SoftStartKickPct > maxKickPct {
		return CfgErrRange
	}

	for i := 1; i < int(c.CurvePointCount); i++ {
		if c.CurvePoints[i].X <= c.CurvePoints[i-1].X {
			return CfgErrCurve
		}
	}

	if c.LogPeriodMs < LogPeriodFloorMs {
		return CfgErrLogFloor
	}

	if c.StreetMode == 1 {
		if c.MaxSpeedKmh > StreetMaxSpeedKmh || c.MaxCurrentA > StreetMaxCurrentA {
			return CfgErrPolicy
		}
	}

	return StatusOK
}
