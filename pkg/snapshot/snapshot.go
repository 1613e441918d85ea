// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

// Package snapshot stores device backups as CBOR files. A snapshot keeps the
// backup frames exactly as the device sent them, so a restore replays them
// byte for byte.
package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

// FormatVersion is written into every snapshot
const FormatVersion = 1

// Snapshot is the backup of one or more sections of a device
type Snapshot struct {
	Version          int        `cbor:"1,keyasint"`
	Device           string     `cbor:"2,keyasint,omitempty"`
	ManufacturerID   []byte     `cbor:"3,keyasint"`
	ValueSize        int        `cbor:"4,keyasint"`
	ParamsPerMessage int        `cbor:"5,keyasint,omitempty"`
	Created          time.Time  `cbor:"6,keyasint"`
	Sections         []*Section `cbor:"7,keyasint"`
}

// Section holds the replayable frames of one section, in part order
type Section struct {
	Block   uint8    `cbor:"1,keyasint"`
	Section uint8    `cbor:"2,keyasint"`
	Frames  [][]byte `cbor:"3,keyasint"`
}

// New creates an empty snapshot for a device
func New(device string, id sysexconf.ManufacturerID, size sysexconf.ValueSize, paramsPerMessage int) *Snapshot {
	return &Snapshot{
		Version:          FormatVersion,
		Device:           device,
		ManufacturerID:   id[:],
		ValueSize:        int(size),
		ParamsPerMessage: paramsPerMessage,
		Created:          time.Now().UTC(),
	}
}

// ID returns the manufacturer ID the snapshot was taken from
func (s *Snapshot) ID() sysexconf.ManufacturerID {
	var id sysexconf.ManufacturerID
	copy(id[:], s.ManufacturerID)
	return id
}

// Add records one backup frame. The frame must be a Set request addressed
// with the snapshot's manufacturer ID.
func (s *Snapshot) Add(frame []byte) error {
	f, err := sysexconf.ParseFrame(frame, sysexconf.ValueSize(s.ValueSize))
	if err != nil {
		return err
	}
	if f.ManufacturerID != s.ID() {
		return fmt.Errorf("%w: frame %s, snapshot %s", sysexconf.ErrManufacturerMismatch, f.ManufacturerID, s.ID())
	}
	if !f.IsRestorable() {
		return fmt.Errorf("frame is not backup output: %s", sysexconf.FormatFrame(f))
	}

	sec := s.section(f.Block, f.Section)
	sec.Frames = append(sec.Frames, append([]byte(nil), frame...))
	sort.SliceStable(sec.Frames, func(i, j int) bool {
		return sec.Frames[i][5] < sec.Frames[j][5]
	})
	return nil
}

func (s *Snapshot) section(block, section uint8) *Section {
	for _, sec := range s.Sections {
		if sec.Block == block && sec.Section == section {
			return sec
		}
	}
	sec := &Section{Block: block, Section: section}
	s.Sections = append(s.Sections, sec)
	return sec
}

// Frames returns every stored frame, section by section
func (s *Snapshot) Frames() [][]byte {
	var frames [][]byte
	for _, sec := range s.Sections {
		frames = append(frames, sec.Frames...)
	}
	return frames
}

// Values decodes the parameter values stored for a section
func (s *Snapshot) Values(block, section uint8) ([]uint16, error) {
	size := sysexconf.ValueSize(s.ValueSize)
	for _, sec := range s.Sections {
		if sec.Block != block || sec.Section != section {
			continue
		}
		var values []uint16
		for _, frame := range sec.Frames {
			f, err := sysexconf.ParseFrame(frame, size)
			if err != nil {
				return nil, err
			}
			if f.Amount == sysexconf.AmountSingle {
				// Single frames carry index and value
				if len(f.Values) == 2 {
					values = append(values, f.Values[1])
				}
				continue
			}
			values = append(values, f.Values...)
		}
		return values, nil
	}
	return nil, fmt.Errorf("section %d/%d not in snapshot", block, section)
}

// Encode writes the snapshot as CBOR
func (s *Snapshot) Encode(w io.Writer) error {
	if err := cbor.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Decode reads a CBOR snapshot and checks its version
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d (want %d)", s.Version, FormatVersion)
	}
	if len(s.ManufacturerID) != 3 {
		return nil, fmt.Errorf("snapshot manufacturer id has %d bytes", len(s.ManufacturerID))
	}
	if !sysexconf.ValueSize(s.ValueSize).Valid() {
		return nil, fmt.Errorf("snapshot value size %d", s.ValueSize)
	}
	return &s, nil
}

// Save writes the snapshot to path
func (s *Snapshot) Save(path string) error {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot save failed (%s): %w", path, err)
	}
	return nil
}

// Load reads a snapshot from path
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot load failed (%s): %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}
