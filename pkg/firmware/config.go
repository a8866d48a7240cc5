// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package firmware

import (
	"github.com/rs/zerolog"
	"github.com/velobahn/veloctl/pkg/vlink"
)

// configManager implements the stage -> validate -> commit transaction for
// the configuration blob. The committed blob is the only one visible to
// config-get; a staged blob becomes durable solely through an explicit
// commit. Any validation failure leaves both untouched - no partial field
// ever becomes visible.
type configManager struct {
	committed vlink.ConfigBlob
	staged    *vlink.ConfigBlob
	log       zerolog.Logger
}

func newConfigManager(log zerolog.Logger) *configManager {
	c := vlink.NewDefaultConfig()
	c.Encode(true) // seed the CRC so config-get round-trips from boot
	return &configManager{committed: c, log: log}
}

// stage validates a raw blob payload and stages it on success. The return
// value is the wire status code; the caller records rejections in the event
// log so audits do not depend on having captured the live response.
func (m *configManager) stage(raw []byte) byte {
	blob, err := vlink.DecodeConfigBlob(raw)
	if err != nil {
		m.log.Warn().Err(err).Msg("config stage: short payload")
		return vlink.CfgErrStruct
	}

	if code := blob.CheckStructure(); code != vlink.StatusOK {
		m.log.Warn().Uint8("version", blob.Version).Uint8("size", blob.Size).Msg("config stage: structure mismatch")
		return code
	}

	if want := vlink.ConfigCRC(raw); blob.CRC32 != want {
		m.log.Warn().Uint32("got", blob.CRC32).Uint32("want", want).Msg("config stage: crc mismatch")
		return vlink.CfgErrCRC
	}

	if code := blob.Validate(); code != vlink.StatusOK {
		m.log.Warn().Uint8("reason", code).Msg("config stage: validation reject")
		return code
	}

	// Strictly sequence+1, not merely increasing: a gap means a lost write.
	if blob.Sequence != m.committed.Sequence+1 {
		m.log.Warn().
			Uint16("got", blob.Sequence).
			Uint16("want", m.committed.Sequence+1).
			Msg("config stage: sequence reject")
		return vlink.CfgErrSequence
	}

	m.staged = &blob
	m.log.Info().Uint16("seq", blob.Sequence).Msg("config staged")
	return vlink.StatusOK
}

// commit makes the staged blob durable. Returns the wire status code and
// whether a commit actually happened (so the engine can order a requested
// reboot strictly after it).
func (m *configManager) commit() (byte, bool) {
	if m.staged == nil {
		return vlink.CfgErrNothing, false
	}
	m.committed = *m.staged
	m.staged = nil
	m.log.Info().Uint16("seq", m.committed.Sequence).Msg("config committed")
	return vlink.StatusOK, true
}
