// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

// Package memstore is an in-memory parameter store that serves a sysexconf
// engine. It backs the device emulator and tests.
package memstore

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

// Access restricts what a host may do with a section
type Access int

// Section access modes
const (
	ReadWrite Access = iota
	ReadOnly
	WriteOnly
)

// String returns the configuration name of the access mode
func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read_only"
	case WriteOnly:
		return "write_only"
	default:
		return "read_write"
	}
}

type section struct {
	values []uint16
	access Access
}

// Store holds parameter values for a layout. It is safe for concurrent use,
// although the engine calls it from a single goroutine.
type Store struct {
	mu     sync.RWMutex
	blocks [][]section
	custom map[uint16][]uint16
	send   func([]byte)
	log    zerolog.Logger

	writes uint64
}

// New creates a store sized for layout with every value at zero
func New(layout sysexconf.Layout) *Store {
	s := &Store{
		blocks: make([][]section, len(layout)),
		custom: make(map[uint16][]uint16),
		log:    zerolog.Nop(),
	}
	for b, block := range layout {
		s.blocks[b] = make([]section, len(block.Sections))
		for i, sec := range block.Sections {
			s.blocks[b][i].values = make([]uint16, sec.Parameters)
		}
	}
	return s
}

// SetLogger sets the logger used for storage events
func (s *Store) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "memstore").Logger()
}

// SetSender installs the function that transmits engine responses
func (s *Store) SetSender(send func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send = send
}

// SetAccess restricts a section
func (s *Store) SetAccess(block, sec int, access Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(block, sec); err != nil {
		return err
	}
	s.blocks[block][sec].access = access
	return nil
}

// Fill sets every parameter of a section to value
func (s *Store) Fill(block, sec int, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(block, sec); err != nil {
		return err
	}
	values := s.blocks[block][sec].values
	for i := range values {
		values[i] = value
	}
	return nil
}

// SetCustomResponse registers the values returned for a custom request
func (s *Store) SetCustomResponse(id uint16, values []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[id] = append([]uint16(nil), values...)
}

// Value reads a parameter directly, bypassing access restrictions
func (s *Store) Value(block, sec int, index int) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(block, sec); err != nil {
		return 0, err
	}
	values := s.blocks[block][sec].values
	if index < 0 || index >= len(values) {
		return 0, fmt.Errorf("index %d out of range (section has %d parameters)", index, len(values))
	}
	return values[index], nil
}

// SetValue writes a parameter directly, bypassing access restrictions
func (s *Store) SetValue(block, sec int, index int, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(block, sec); err != nil {
		return err
	}
	values := s.blocks[block][sec].values
	if index < 0 || index >= len(values) {
		return fmt.Errorf("index %d out of range (section has %d parameters)", index, len(values))
	}
	values[index] = value
	return nil
}

// Section returns a copy of every value in a section
func (s *Store) Section(block, sec int) ([]uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(block, sec); err != nil {
		return nil, err
	}
	return append([]uint16(nil), s.blocks[block][sec].values...), nil
}

// Writes returns the number of successful Set calls
func (s *Store) Writes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) check(block, sec int) error {
	if block < 0 || block >= len(s.blocks) {
		return fmt.Errorf("block %d out of range (%d blocks)", block, len(s.blocks))
	}
	if sec < 0 || sec >= len(s.blocks[block]) {
		return fmt.Errorf("section %d out of range (block %d has %d sections)", sec, block, len(s.blocks[block]))
	}
	return nil
}

// lookup returns the addressed section, or nil
func (s *Store) lookup(block, sec uint8, index uint16) *section {
	if int(block) >= len(s.blocks) || int(sec) >= len(s.blocks[block]) {
		return nil
	}
	p := &s.blocks[block][sec]
	if int(index) >= len(p.values) {
		return nil
	}
	return p
}

// Get implements sysexconf.StorageHandler
func (s *Store) Get(block, sec uint8, index uint16) (uint16, sysexconf.Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.lookup(block, sec, index)
	if p == nil {
		return 0, sysexconf.StatusErrorRead
	}
	if p.access == WriteOnly {
		s.log.Debug().Uint8("block", block).Uint8("section", sec).Msg("read of write-only section")
		return 0, sysexconf.StatusErrorRead
	}
	return p.values[index], sysexconf.StatusAck
}

// Set implements sysexconf.StorageHandler
func (s *Store) Set(block, sec uint8, index, value uint16) sysexconf.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.lookup(block, sec, index)
	if p == nil {
		return sysexconf.StatusErrorWrite
	}
	if p.access == ReadOnly {
		s.log.Debug().Uint8("block", block).Uint8("section", sec).Msg("write to read-only section")
		return sysexconf.StatusErrorWrite
	}
	p.values[index] = value
	s.writes++
	return sysexconf.StatusAck
}

// CustomRequest implements sysexconf.StorageHandler
func (s *Store) CustomRequest(request uint16, sink sysexconf.ResponseSink) sysexconf.Status {
	s.mu.RLock()
	values, ok := s.custom[request]
	s.mu.RUnlock()

	if !ok {
		return sysexconf.StatusErrorNotSupported
	}
	for _, v := range values {
		if !sink.Append(v) {
			s.log.Warn().Uint16("request", request).Int("values", len(values)).Msg("custom response truncated")
			break
		}
	}
	return sysexconf.StatusAck
}

// SendResponse implements sysexconf.StorageHandler
func (s *Store) SendResponse(response []byte) {
	s.mu.RLock()
	send := s.send
	s.mu.RUnlock()

	if send != nil {
		send(response)
	}
}
