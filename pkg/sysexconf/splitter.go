// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import (
	"errors"
	"fmt"
)

// Splitter states
const (
	stateIdle = iota
	stateFrame
)

// Splitter extracts complete SysEx frames from a MIDI byte stream, such as a
// serial or WebSocket link that does not preserve message boundaries.
// Realtime bytes (0xF8-0xFF) interleaved in a frame are skipped.
type Splitter struct {
	state  int
	buffer []byte
	max    int
}

// NewSplitter creates a splitter that rejects frames longer than maxSize
func NewSplitter(maxSize int) *Splitter {
	if maxSize < SpecialRequestSize {
		maxSize = SpecialRequestSize
	}
	return &Splitter{
		state:  stateIdle,
		buffer: make([]byte, 0, maxSize),
		max:    maxSize,
	}
}

// Reset discards any partial frame
func (s *Splitter) Reset() {
	s.state = stateIdle
	s.buffer = s.buffer[:0]
}

// DecodeByte processes a single byte.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error when a partial frame had to be discarded.
func (s *Splitter) DecodeByte(b byte) ([]byte, error) {
	switch {
	case b >= 0xF8:
		return nil, nil

	case b == StartByte:
		var err error
		if s.state == stateFrame {
			err = fmt.Errorf("frame interrupted by start byte after %d bytes", len(s.buffer))
		}
		s.Reset()
		s.buffer = append(s.buffer, b)
		s.state = stateFrame
		return nil, err

	case b == EndByte:
		if s.state != stateFrame {
			return nil, errors.New("unexpected end byte outside a frame")
		}
		s.buffer = append(s.buffer, b)
		frame := make([]byte, len(s.buffer))
		copy(frame, s.buffer)
		s.Reset()
		return frame, nil

	case b > Max7:
		// Any other status byte terminates SysEx
		if s.state == stateFrame {
			n := len(s.buffer)
			s.Reset()
			return nil, fmt.Errorf("frame aborted by status byte 0x%02X after %d bytes", b, n)
		}
		return nil, nil
	}

	if s.state != stateFrame {
		return nil, nil
	}
	// Leave room for the end byte
	if len(s.buffer)+1 >= s.max {
		s.Reset()
		return nil, fmt.Errorf("buffer overflow: frame exceeds %d bytes", s.max)
	}
	s.buffer = append(s.buffer, b)
	return nil, nil
}

// Feed runs every byte of p through DecodeByte. The returned error joins
// every error seen.
func (s *Splitter) Feed(p []byte) ([][]byte, error) {
	var frames [][]byte
	var errs []error
	for _, b := range p {
		frame, err := s.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errors.Join(errs...)
}
