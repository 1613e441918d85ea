// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

// Package sysexconf implements a device-configuration protocol carried inside
// MIDI System Exclusive messages.
//
// A host reads and writes parameters organized as blocks of sections, each
// section a flat array of numbered parameters. The Engine frames, validates,
// decodes, dispatches, chunks and re-encodes these messages. Parameter storage
// and the MIDI link are supplied by the caller through StorageHandler.
package sysexconf

import "fmt"

// SysEx framing bytes
const (
	StartByte = 0xF0
	EndByte   = 0xF7
)

// Byte positions within a frame
const (
	idxStart   = 0
	idxID      = 1
	idxStatus  = 4
	idxPart    = 5
	idxWish    = 6
	idxAmount  = 7
	idxBlock   = 8
	idxSection = 9
	idxIndex   = 10
)

// Frame sizes
const (
	// SpecialRequestSize is the exact length of a special request frame.
	SpecialRequestSize = 8
	// HeaderSize is the number of bytes before the index field of a standard frame.
	HeaderSize = 10
	// specialHeaderSize is the number of bytes before the end byte of a special frame.
	specialHeaderSize = 7
)

// Part sentinels
const (
	// AllParts requests every part of a section, one response per part.
	AllParts = 0x7F
	// AllPartsWithSummary is AllParts followed by a trailing Ack summary message.
	AllPartsWithSummary = 0x7E
)

// Default engine configuration
const (
	DefaultParamsPerMessage = 32
	DefaultValueSize        = ValueSize2
)

// Status is the value of the status byte (position 4).
type Status uint8

// Status values
const (
	StatusRequest            Status = 0x00
	StatusAck                Status = 0x01
	StatusErrorStatus        Status = 0x02
	StatusErrorConnection    Status = 0x03
	StatusErrorWish          Status = 0x04
	StatusErrorAmount        Status = 0x05
	StatusErrorBlock         Status = 0x06
	StatusErrorSection       Status = 0x07
	StatusErrorPart          Status = 0x08
	StatusErrorIndex         Status = 0x09
	StatusErrorNewValue      Status = 0x0A
	StatusErrorMessageLength Status = 0x0B
	StatusErrorWrite         Status = 0x0C
	StatusErrorNotSupported  Status = 0x0D
	StatusErrorRead          Status = 0x0E
)

var statusNames = [...]string{
	"REQUEST",
	"ACK",
	"ERROR_STATUS",
	"ERROR_CONNECTION",
	"ERROR_WISH",
	"ERROR_AMOUNT",
	"ERROR_BLOCK",
	"ERROR_SECTION",
	"ERROR_PART",
	"ERROR_INDEX",
	"ERROR_NEW_VALUE",
	"ERROR_MESSAGE_LENGTH",
	"ERROR_WRITE",
	"ERROR_NOT_SUPPORTED",
	"ERROR_READ",
}

// String returns the protocol name of the status
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS_0x%02X", uint8(s))
}

// IsError reports whether the status is anything other than Request or Ack
func (s Status) IsError() bool {
	return s != StatusRequest && s != StatusAck
}

// Wish is the requested operation (position 6 of a standard frame).
type Wish uint8

// Wish values
const (
	WishGet    Wish = 0x00
	WishSet    Wish = 0x01
	WishBackup Wish = 0x02
)

// String returns the protocol name of the wish
func (w Wish) String() string {
	switch w {
	case WishGet:
		return "GET"
	case WishSet:
		return "SET"
	case WishBackup:
		return "BACKUP"
	default:
		return fmt.Sprintf("WISH_0x%02X", uint8(w))
	}
}

func (w Wish) valid() bool {
	return w <= WishBackup
}

// Amount selects a single parameter or a whole section (position 7).
type Amount uint8

// Amount values
const (
	AmountSingle Amount = 0x00
	AmountAll    Amount = 0x01
)

// String returns the protocol name of the amount
func (a Amount) String() string {
	switch a {
	case AmountSingle:
		return "SINGLE"
	case AmountAll:
		return "ALL"
	default:
		return fmt.Sprintf("AMOUNT_0x%02X", uint8(a))
	}
}

func (a Amount) valid() bool {
	return a <= AmountAll
}

// SpecialRequest identifies a special request (position 6 of a special frame).
type SpecialRequest uint8

// Special request IDs
const (
	SpecialConnClose        SpecialRequest = 0x00
	SpecialConnOpen         SpecialRequest = 0x01
	SpecialBytesPerValue    SpecialRequest = 0x02
	SpecialParamsPerMessage SpecialRequest = 0x03
	SpecialConnOpenQuiet    SpecialRequest = 0x04
	SpecialConnQuietDisable SpecialRequest = 0x05
)

// reservedSpecialRequests is the number of IDs, starting at zero, that custom
// requests may not use.
const reservedSpecialRequests = 6

// String returns the protocol name of the special request
func (r SpecialRequest) String() string {
	switch r {
	case SpecialConnClose:
		return "CONN_CLOSE"
	case SpecialConnOpen:
		return "CONN_OPEN"
	case SpecialBytesPerValue:
		return "BYTES_PER_VALUE"
	case SpecialParamsPerMessage:
		return "PARAMS_PER_MESSAGE"
	case SpecialConnOpenQuiet:
		return "CONN_OPEN_QUIET"
	case SpecialConnQuietDisable:
		return "CONN_QUIET_DISABLE"
	default:
		return fmt.Sprintf("CUSTOM_0x%02X", uint8(r))
	}
}

// Mode selects the meaning of the engine's modal flag.
type Mode int

// Modal flag variants
const (
	// ModeQuiet suppresses every reply except errors, Acks to Get and
	// Request-status output while the flag is set.
	ModeQuiet Mode = iota
	// ModeTolerant turns storage read/write errors into Ack while the flag
	// is set; a failed Get reports value 0.
	ModeTolerant
)

// String returns the name of the mode
func (m Mode) String() string {
	switch m {
	case ModeQuiet:
		return "quiet"
	case ModeTolerant:
		return "tolerant"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name as used in configuration files
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "quiet", "silent":
		return ModeQuiet, nil
	case "tolerant":
		return ModeTolerant, nil
	default:
		return ModeQuiet, fmt.Errorf("unknown mode %q (use quiet or tolerant)", s)
	}
}
