// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import "fmt"

// ValueSize is the number of wire bytes used for one parameter value.
type ValueSize int

// Supported value widths
const (
	ValueSize1 ValueSize = 1 // 7-bit values, 0-127
	ValueSize2 ValueSize = 2 // 14-bit values split over two data bytes
)

// Max14 is the largest value representable in 2-byte mode.
const Max14 = 0x3FFF

// Max7 is the largest value representable in 1-byte mode.
const Max7 = 0x7F

// Valid reports whether the width is one of the supported sizes
func (s ValueSize) Valid() bool {
	return s == ValueSize1 || s == ValueSize2
}

// MaxValue returns the largest value the width can carry
func (s ValueSize) MaxValue() uint16 {
	if s == ValueSize1 {
		return Max7
	}
	return Max14
}

// Split14 splits a 14-bit value into two 7-bit data bytes.
// Bit 7 of the low byte travels in bit 0 of the high byte.
func Split14(value uint16) (high, low byte) {
	value &= Max14
	h := byte(value >> 8)
	l := byte(value)

	high = (h << 1) & 0x7F
	if l&0x80 != 0 {
		high |= 0x01
	}
	low = l & 0x7F
	return high, low
}

// Merge14 is the inverse of Split14
func Merge14(high, low byte) uint16 {
	if high&0x01 != 0 {
		low |= 0x80
	} else {
		low &= 0x7F
	}
	high >>= 1
	return uint16(high)<<8 | uint16(low)
}

// Pack7 converts a value to its 1-byte wire form. Values above 127 are clamped
// to 127, which also keeps the framing bytes out of the data.
func Pack7(value uint16) byte {
	if value > Max7 {
		return Max7
	}
	return byte(value)
}

// AppendValue appends the wire form of value to dst
func AppendValue(dst []byte, value uint16, size ValueSize) []byte {
	if size == ValueSize1 {
		return append(dst, Pack7(value))
	}
	high, low := Split14(value)
	return append(dst, high, low)
}

// DecodeValue reads one value of the given width from the start of src
func DecodeValue(src []byte, size ValueSize) (uint16, error) {
	if len(src) < int(size) {
		return 0, fmt.Errorf("value truncated: have %d bytes, need %d", len(src), size)
	}
	if size == ValueSize1 {
		return uint16(src[0]), nil
	}
	return Merge14(src[0], src[1]), nil
}

// decodeValueAt reads a value at a fixed offset; callers have already
// validated the frame length.
func decodeValueAt(buf []byte, offset int, size ValueSize) uint16 {
	if size == ValueSize1 {
		return uint16(buf[offset])
	}
	return Merge14(buf[offset], buf[offset+1])
}
