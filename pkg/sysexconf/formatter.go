// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")

	if f.Special {
		result := fmt.Sprintf("[%s] %s id=%s %s", timestamp, f.Request, f.ManufacturerID, FormatStatus(f.Status))
		if len(f.Values) > 0 {
			result += " values=" + formatValues(f.Values)
		}
		return result
	}

	result := fmt.Sprintf("[%s] %s/%s id=%s %s block=%d section=%d part=%s",
		timestamp, f.Wish, f.Amount, f.ManufacturerID, FormatStatus(f.Status), f.Block, f.Section, FormatPart(f.Part))

	switch {
	case f.Amount == AmountSingle && len(f.Values) == 2:
		result += fmt.Sprintf(" index=%d value=%d", f.Values[0], f.Values[1])
	case len(f.Values) > 0:
		result += fmt.Sprintf(" count=%d values=%s", len(f.Values), formatValues(f.Values))
	}
	return result
}

// FormatStatus returns the status name with its wire value
func FormatStatus(s Status) string {
	return fmt.Sprintf("%s (0x%02X)", s, uint8(s))
}

// FormatPart names the part sentinels
func FormatPart(part uint8) string {
	switch part {
	case AllParts:
		return "ALL"
	case AllPartsWithSummary:
		return "ALL+SUMMARY"
	default:
		return fmt.Sprintf("%d", part)
	}
}

// FormatBytes renders raw bytes as spaced hex
func FormatBytes(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// formatValues keeps long sections on one line
func formatValues(values []uint16) string {
	const limit = 16

	parts := make([]string, 0, limit+1)
	for i, v := range values {
		if i == limit {
			parts = append(parts, fmt.Sprintf("... (+%d)", len(values)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%d", v))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
