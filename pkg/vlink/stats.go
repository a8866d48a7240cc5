// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs

package vlink

import (
	"fmt"
	"sync"
	"time"
)

// Stats tracks frame and error counters for one link. Counters are safe for
// concurrent use so a background monitor can render them while a reader runs.
type Stats struct {
	mu        sync.Mutex
	StartTime time.Time

	FramesSent     uint64
	FramesReceived uint64
	ChecksumErrors uint64
	Timeouts       uint64
	BytesDiscarded uint64 // bytes skipped during resynchronization
	Exchanges      uint64
	StatusRejects  uint64
}

// NewStats creates a statistics tracker.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

func (s *Stats) CountSent() {
	s.mu.Lock()
	s.FramesSent++
	s.mu.Unlock()
}

func (s *Stats) CountReceived() {
	s.mu.Lock()
	s.FramesReceived++
	s.mu.Unlock()
}

func (s *Stats) CountChecksumError() {
	s.mu.Lock()
	s.ChecksumErrors++
	s.mu.Unlock()
}

func (s *Stats) CountTimeout() {
	s.mu.Lock()
	s.Timeouts++
	s.mu.Unlock()
}

func (s *Stats) CountDiscarded() {
	s.mu.Lock()
	s.BytesDiscarded++
	s.mu.Unlock()
}

func (s *Stats) CountExchange() {
	s.mu.Lock()
	s.Exchanges++
	s.mu.Unlock()
}

func (s *Stats) CountStatusReject() {
	s.mu.Lock()
	s.StatusRejects++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters for rendering.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		StartTime:      s.StartTime,
		FramesSent:     s.FramesSent,
		FramesReceived: s.FramesReceived,
		ChecksumErrors: s.ChecksumErrors,
		Timeouts:       s.Timeouts,
		BytesDiscarded: s.BytesDiscarded,
		Exchanges:      s.Exchanges,
		StatusRejects:  s.StatusRejects,
	}
}

// String returns a formatted statistics summary.
func (s *Stats) String() string {
	snap := s.Snapshot()
	elapsed := time.Since(snap.StartTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(snap.FramesReceived) / elapsed
	}

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed)
	result += fmt.Sprintf("Frames Sent:     %8d\n", snap.FramesSent)
	result += fmt.Sprintf("Frames Received: %8d\n", snap.FramesReceived)
	result += fmt.Sprintf("Exchanges:       %8d\n", snap.Exchanges)
	if snap.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", snap.ChecksumErrors)
	}
	if snap.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", snap.Timeouts)
	}
	if snap.BytesDiscarded > 0 {
		result += fmt.Sprintf("Bytes Discarded: %8d\n", snap.BytesDiscarded)
	}
	if snap.StatusRejects > 0 {
		result += fmt.Sprintf("Status Rejects:  %8d\n", snap.StatusRejects)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", rate)
	result += "=====================================\n"
	return result
}
