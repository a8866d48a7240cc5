// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package firmware

import (
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"

	"github.com/velobahn/veloctl/pkg/vlink"
)

func newTestConfigManager() *configManager {
	return newConfigManager(zerolog.Nop())
}

// stagedBlob returns a valid raw blob one sequence ahead of the committed one.
func stagedBlob(m *configManager, mutate func(*vlink.ConfigBlob)) []byte {
	blob := m.committed
	blob.Sequence = m.committed.Sequence + 1
	if mutate != nil {
		mutate(&blob)
	}
	return blob.Encode(true)
}

// ============================================================
// Stage -> commit transaction
// ============================================================

func TestConfigManager_StageThenCommit(t *testing.T) {
	m := newTestConfigManager()

	raw := stagedBlob(m, func(b *vlink.ConfigBlob) { b.WheelCircMM = 2200 })
	if code := m.stage(raw); code != vlink.StatusOK {
		t.Fatalf("stage = 0x%02X, want OK", code)
	}

	// Staged is invisible until commit.
	if m.committed.WheelCircMM != 2150 {
		t.Errorf("committed mutated before commit: %d", m.committed.WheelCircMM)
	}

	code, didCommit := m.commit()
	if code != vlink.StatusOK || !didCommit {
		t.Fatalf("commit = 0x%02X, %v", code, didCommit)
	}
	if m.committed.WheelCircMM != 2200 || m.committed.Sequence != 1 {
		t.Errorf("committed = %+v", m.committed)
	}

	// Nothing left to commit.
	if code, didCommit := m.commit(); code != vlink.CfgErrNothing || didCommit {
		t.Errorf("second commit = 0x%02X, %v; want CfgErrNothing, false", code, didCommit)
	}
}

func TestConfigManager_RejectedStageLeavesNothingStaged(t *testing.T) {
	m := newTestConfigManager()

	raw := stagedBlob(m, func(b *vlink.ConfigBlob) { b.LogPeriodMs = 10 })
	if code := m.stage(raw); code != vlink.CfgErrLogFloor {
		t.Fatalf("stage = 0x%02X, want CfgErrLogFloor", code)
	}
	if code, _ := m.commit(); code != vlink.CfgErrNothing {
		t.Errorf("commit after reject = 0x%02X, want CfgErrNothing", code)
	}
}

// ============================================================
// Rejection ordering
// ============================================================

func TestConfigManager_StageRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  func(m *configManager) []byte
		want byte
	}{
		{"short payload", func(m *configManager) []byte {
			return make([]byte, 10)
		}, vlink.CfgErrStruct},
		{"wrong version", func(m *configManager) []byte {
			return stagedBlob(m, func(b *vlink.ConfigBlob) { b.Version = 2 })
		}, vlink.CfgErrStruct},
		{"crc mismatch", func(m *configManager) []byte {
			raw := stagedBlob(m, nil)
			raw[8] ^= 0x01 // corrupt after the CRC was sealed
			return raw
		}, vlink.CfgErrCRC},
		{"validation before sequence", func(m *configManager) []byte {
			// Bad range AND bad sequence: the range reject wins.
			blob := m.committed
			blob.Sequence = m.committed.Sequence + 5
			blob.MaxCurrentA = 0
			return blob.Encode(true)
		}, vlink.CfgErrRange},
		{"sequence gap", func(m *configManager) []byte {
			blob := m.committed
			blob.Sequence = m.committed.Sequence + 2
			return blob.Encode(true)
		}, vlink.CfgErrSequence},
		{"sequence replay", func(m *configManager) []byte {
			blob := m.committed
			return blob.Encode(true)
		}, vlink.CfgErrSequence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestConfigManager()
			if code := m.stage(tt.raw(m)); code != tt.want {
				t.Errorf("stage = 0x%02X, want 0x%02X", code, tt.want)
			}
		})
	}
}

// ============================================================
// Boot seeding
// ============================================================

func TestConfigManager_BootBlobHasValidCRC(t *testing.T) {
	m := newTestConfigManager()
	raw := m.committed.Encode(false)
	if stored := binary.BigEndian.Uint32(raw[4:8]); stored != vlink.ConfigCRC(raw) {
		t.Error("boot-time committed blob does not round-trip its CRC")
	}
}
