// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyLayout          = errors.New("sysexconf: layout has no blocks")
	ErrEmptyBlock           = errors.New("sysexconf: block has no sections")
	ErrNoHandler            = errors.New("sysexconf: storage handler is nil")
	ErrInvalidConfig        = errors.New("sysexconf: invalid engine configuration")
	ErrReservedRequestID    = errors.New("sysexconf: custom request id collides with a special request")
	ErrDuplicateRequestID   = errors.New("sysexconf: duplicate custom request id")
	ErrRequestIDRange       = errors.New("sysexconf: custom request id does not fit in a data byte")
	ErrMessageTooLarge      = errors.New("sysexconf: message exceeds maximum size")
	ErrReentrant            = errors.New("sysexconf: engine is already handling a message")
	ErrNotFrame             = errors.New("sysexconf: not a SysEx frame")
	ErrManufacturerMismatch = errors.New("sysexconf: manufacturer id mismatch")
)

// LayoutError describes which block of a layout was rejected
type LayoutError struct {
	Block int
	Err   error
}

// Error implements the error interface
func (e *LayoutError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Block, e.Err)
}

// Unwrap returns the underlying sentinel
func (e *LayoutError) Unwrap() error {
	return e.Err
}

// FrameError reports a frame that could not be parsed on the host side
type FrameError struct {
	Length  int
	Message string
}

// Error implements the error interface
func (e *FrameError) Error() string {
	return fmt.Sprintf("frame (%d bytes): %s", e.Length, e.Message)
}

// Unwrap lets errors.Is match ErrNotFrame
func (e *FrameError) Unwrap() error {
	return ErrNotFrame
}

// StatusError wraps a non-Ack reply received by a host
type StatusError struct {
	Status Status
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("device replied %s (0x%02X)", e.Status, uint8(e.Status))
}
