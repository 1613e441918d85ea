// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import (
	"fmt"
	"strings"
	"time"
)

// statusCount covers every defined status value
const statusCount = int(StatusErrorRead) + 1

// Statistics tracks what the engine received and sent
type Statistics struct {
	StartTime time.Time

	// Counters
	Received   uint64
	Dropped    [dropReasonCount]uint64
	Sent       uint64
	Suppressed uint64
	Tolerated  uint64
	ByStatus   [statusCount]uint64
}

func newStatistics() Statistics {
	return Statistics{StartTime: time.Now()}
}

// record counts a reply handed to the transport
func (s *Statistics) record(status Status) {
	s.Sent++
	if int(status) < statusCount {
		s.ByStatus[status]++
	}
}

// Reset clears every counter and restarts the clock
func (s *Statistics) Reset() {
	*s = newStatistics()
}

// DroppedTotal returns the number of frames dropped without a reply
func (s Statistics) DroppedTotal() uint64 {
	var total uint64
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

// Errors returns the number of error replies sent
func (s Statistics) Errors() uint64 {
	var total uint64
	for st, n := range s.ByStatus {
		if Status(st).IsError() {
			total += n
		}
	}
	return total
}

// String returns a formatted statistics summary
func (s Statistics) String() string {
	var b strings.Builder

	elapsed := time.Since(s.StartTime)
	fmt.Fprintf(&b, "=== Engine Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	fmt.Fprintf(&b, "Received:        %8d\n", s.Received)
	fmt.Fprintf(&b, "Dropped:         %8d\n", s.DroppedTotal())
	for reason, n := range s.Dropped {
		if n > 0 {
			fmt.Fprintf(&b, "  %-15s %6d\n", DropReason(reason).String()+":", n)
		}
	}
	fmt.Fprintf(&b, "Sent:            %8d\n", s.Sent)
	for st, n := range s.ByStatus {
		if n > 0 {
			fmt.Fprintf(&b, "  %-21s %6d\n", Status(st).String()+":", n)
		}
	}
	if s.Suppressed > 0 {
		fmt.Fprintf(&b, "Suppressed:      %8d\n", s.Suppressed)
	}
	if s.Tolerated > 0 {
		fmt.Fprintf(&b, "Tolerated:       %8d\n", s.Tolerated)
	}
	if elapsed > 0 {
		fmt.Fprintf(&b, "Message Rate:    %8.1f msgs/sec\n", float64(s.Received)/elapsed.Seconds())
	}
	b.WriteString("========================================\n")
	return b.String()
}
