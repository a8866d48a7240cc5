// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of randomized rounds, overridable with
// FUZZ_ROUNDS for longer soak runs.
func getFuzzRounds() int {
	if s := os.Getenv("FUZZ_ROUNDS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

// getFuzzSeed returns the RNG seed, overridable with FUZZ_SEED to reproduce a
// failing run.
func getFuzzSeed() int64 {
	if s := os.Getenv("FUZZ_SEED"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return time.Now().UnixNano()
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// Random garbage
// ============================================================

func TestFuzzFramer_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		tr := &loopTransport{}
		garbage := make([]byte, rng.Intn(64))
		rng.Read(garbage)
		tr.buf.Write(garbage)

		fr := NewFramer(tr)
		// Must never panic; any of frame, checksum error or timeout is a
		// legal outcome of random input.
		for j := 0; j < 4; j++ {
			if _, err := fr.ReadFrame(5 * time.Millisecond); err != nil {
				break
			}
		}
	}
}

// ============================================================
// Random valid frames
// ============================================================

func TestFuzzFramer_RandomFramesRoundtrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		cmd := byte(rng.Intn(256))
		payload := make([]byte, rng.Intn(MaxPayloadSize+1))
		rng.Read(payload)

		tr := &loopTransport{}
		fr := NewFramer(tr)
		if err := fr.WriteFrame(cmd, payload); err != nil {
			t.Fatalf("round %d: WriteFrame: %v", i, err)
		}
		f, err := fr.ReadFrame(50 * time.Millisecond)
		if err != nil {
			t.Fatalf("round %d: ReadFrame: %v", i, err)
		}
		if f.Cmd() != cmd || !bytes.Equal(f.Payload(), payload) {
			t.Fatalf("round %d: frame did not roundtrip (cmd 0x%02X len %d)", i, cmd, len(payload))
		}
	}
}

// ============================================================
// Single-bit corruption
// ============================================================

func TestFuzzFramer_SingleBitCorruption(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		cmd := byte(rng.Intn(256))
		payload := make([]byte, rng.Intn(32))
		rng.Read(payload)

		raw := MustEncodeFrame(cmd, payload)
		corrupted := append([]byte(nil), raw...)
		corrupted[rng.Intn(len(corrupted))] ^= 1 << uint(rng.Intn(8))

		tr := &loopTransport{}
		tr.buf.Write(corrupted)
		fr := NewFramer(tr)

		// A flipped bit may surface as a checksum error, a timeout (length
		// byte grew) or even a differently-shaped frame, but it must never
		// decode back into the original frame.
		f, err := fr.ReadFrame(10 * time.Millisecond)
		if err == nil && f.Cmd() == cmd && bytes.Equal(f.Payload(), payload) {
			t.Fatalf("round %d: corrupted frame decoded as the original (cmd 0x%02X)", i, cmd)
		}
	}
}

// ============================================================
// Noise before a frame
// ============================================================

func TestFuzzFramer_NoiseThenFrame(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(16))
		rng.Read(payload)
		cmd := byte(rng.Intn(0x7F)) // request range

		// Noise avoiding the SOF byte, so the first frame boundary found is
		// the real one.
		noise := make([]byte, 1+rng.Intn(16))
		for j := range noise {
			for {
				b := byte(rng.Intn(256))
				if b != SOF {
					noise[j] = b
					break
				}
			}
		}

		tr := &loopTransport{}
		tr.buf.Write(noise)
		tr.buf.Write(MustEncodeFrame(cmd, payload))
		fr := NewFramer(tr)

		f, err := fr.ReadFrame(50 * time.Millisecond)
		if err != nil {
			t.Fatalf("round %d: ReadFrame after %d noise bytes: %v", i, len(noise), err)
		}
		if f.Cmd() != cmd || !bytes.Equal(f.Payload(), payload) {
			t.Fatalf("round %d: wrong frame after resync", i)
		}
		if got := fr.Stats().Snapshot().BytesDiscarded; got != uint64(len(noise)) {
			t.Fatalf("round %d: BytesDiscarded = %d, want %d", i, got, len(noise))
		}
	}
}
