// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ManufacturerID is the 3-byte vendor prefix every frame must carry.
type ManufacturerID [3]byte

// String formats the ID as colon separated hex bytes
func (m ManufacturerID) String() string {
	return fmt.Sprintf("%02X:%02X:%02X", m[0], m[1], m[2])
}

// ParseManufacturerID parses "00:53:43", "00 53 43" or "005343"
func ParseManufacturerID(s string) (ManufacturerID, error) {
	var id ManufacturerID
	clean := strings.NewReplacer(":", "", " ", "", "0x", "", "0X", "").Replace(strings.TrimSpace(s))
	if len(clean) != 6 {
		return id, fmt.Errorf("manufacturer id %q: want 3 hex bytes", s)
	}
	for i := range id {
		v, err := strconv.ParseUint(clean[i*2:i*2+2], 16, 8)
		if err != nil {
			return id, fmt.Errorf("manufacturer id %q: %w", s, err)
		}
		if v > 0x7F {
			return id, fmt.Errorf("manufacturer id %q: byte 0x%02X is not a data byte", s, v)
		}
		id[i] = byte(v)
	}
	return id, nil
}

// Config holds the construction-time engine parameters
type Config struct {
	ManufacturerID   ManufacturerID
	ValueSize        ValueSize
	ParamsPerMessage int
	Mode             Mode
	Logger           *zerolog.Logger
}

// DefaultConfig returns a configuration with 2-byte values, 32 parameters per
// message and the quiet modal flag.
func DefaultConfig(id ManufacturerID) Config {
	return Config{
		ManufacturerID:   id,
		ValueSize:        DefaultValueSize,
		ParamsPerMessage: DefaultParamsPerMessage,
		Mode:             ModeQuiet,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !c.ValueSize.Valid() {
		return fmt.Errorf("%w: value size %d (want 1 or 2)", ErrInvalidConfig, c.ValueSize)
	}
	if c.ParamsPerMessage < 1 || c.ParamsPerMessage > Max7 {
		return fmt.Errorf("%w: params per message %d (valid 1-%d)", ErrInvalidConfig, c.ParamsPerMessage, Max7)
	}
	if c.Mode != ModeQuiet && c.Mode != ModeTolerant {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, c.Mode)
	}
	for i, b := range c.ManufacturerID {
		if b > Max7 {
			return fmt.Errorf("%w: manufacturer id byte %d is 0x%02X", ErrInvalidConfig, i, b)
		}
	}
	return nil
}

// MaxMessageSize returns the largest frame the configuration can produce or accept
func (c Config) MaxMessageSize() int {
	slots := c.ParamsPerMessage
	if slots < 2 {
		slots = 2
	}
	return HeaderSize + 1 + slots*int(c.ValueSize)
}

// Engine is the protocol engine. It is single-threaded and not reentrant:
// HandleMessage must not be called again until the previous call returns.
type Engine struct {
	handler StorageHandler
	cfg     Config
	log     zerolog.Logger

	layout         Layout
	customRequests []CustomRequest

	connectionOpen bool
	modal          bool

	msg      DecodedMessage
	resp     responseBuffer
	sink     responseSink
	kind     replyKind
	received int
	backup   bool
	busy     bool

	stats Statistics
}

// New creates an engine serving handler
func New(handler StorageHandler, cfg Config) (*Engine, error) {
	if handler == nil {
		return nil, ErrNoHandler
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		handler: handler,
		cfg:     cfg,
		log:     zerolog.Nop(),
		resp:    newResponseBuffer(cfg.MaxMessageSize()),
		stats:   newStatistics(),
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.With().Str("component", "sysexconf").Logger()
	}
	e.sink.e = e
	return e, nil
}

// Reset closes the session, clears the modal flag and statistics. The layout
// and custom request table are kept. Calls made from inside a handler
// callback are ignored.
func (e *Engine) Reset() {
	if e.busy {
		e.log.Debug().Msg("reset ignored while handling a message")
		return
	}
	e.connectionOpen = false
	e.modal = false
	e.msg.reset()
	e.resp.setLen(0)
	e.backup = false
	e.stats.Reset()
}

// SetLayout installs the parameter layout and closes any open session
func (e *Engine) SetLayout(layout Layout) error {
	if e.busy {
		return ErrReentrant
	}
	if err := e.checkLayout(layout); err != nil {
		return err
	}
	e.layout = layout
	e.connectionOpen = false
	e.modal = false
	return nil
}

// checkLayout extends Layout.Validate with the limits of the wire format
func (e *Engine) checkLayout(layout Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}
	if len(layout) > Max7+1 {
		return fmt.Errorf("%w: %d blocks (max %d)", ErrInvalidConfig, len(layout), Max7+1)
	}
	maxParams := int(e.cfg.ValueSize.MaxValue()) + 1
	for i, b := range layout {
		if len(b.Sections) > Max7+1 {
			return &LayoutError{Block: i, Err: fmt.Errorf("%w: %d sections (max %d)", ErrInvalidConfig, len(b.Sections), Max7+1)}
		}
		for j, s := range b.Sections {
			if int(s.Parameters) > maxParams {
				return &LayoutError{Block: i, Err: fmt.Errorf("%w: section %d has %d parameters (max %d)", ErrInvalidConfig, j, s.Parameters, maxParams)}
			}
			if s.Parts(e.cfg.ParamsPerMessage) > AllPartsWithSummary {
				return &LayoutError{Block: i, Err: fmt.Errorf("%w: section %d needs %d parts", ErrInvalidConfig, j, s.Parts(e.cfg.ParamsPerMessage))}
			}
		}
	}
	return nil
}

// SetupCustomRequests replaces the custom request table. The table is only
// installed when every entry is valid.
func (e *Engine) SetupCustomRequests(requests []CustomRequest) error {
	if e.busy {
		return ErrReentrant
	}
	seen := make(map[uint16]bool, len(requests))
	for _, r := range requests {
		if r.ID < reservedSpecialRequests {
			return fmt.Errorf("%w: 0x%02X", ErrReservedRequestID, r.ID)
		}
		if r.ID > Max7 {
			return fmt.Errorf("%w: 0x%X", ErrRequestIDRange, r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: 0x%02X", ErrDuplicateRequestID, r.ID)
		}
		seen[r.ID] = true
	}

	table := make([]CustomRequest, len(requests))
	copy(table, requests)
	e.customRequests = table
	return nil
}

// IsConnectionOpen reports whether a host session is open
func (e *Engine) IsConnectionOpen() bool {
	return e.connectionOpen
}

// SetModalFlag sets the quiet or tolerant flag, depending on the engine mode
func (e *Engine) SetModalFlag(enabled bool) {
	e.modal = enabled
}

// ModalFlag returns the current modal flag
func (e *Engine) ModalFlag() bool {
	return e.modal
}

// Mode returns the construction-time modal flag variant
func (e *Engine) Mode() Mode {
	return e.cfg.Mode
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// MaxMessageSize returns the size of the engine's message buffer
func (e *Engine) MaxMessageSize() int {
	return len(e.resp.buf)
}

// BlockCount returns the number of blocks in the layout
func (e *Engine) BlockCount() int {
	return len(e.layout)
}

// SectionCount returns the number of sections in block, or 0 if it does not exist
func (e *Engine) SectionCount(block int) int {
	if block < 0 || block >= len(e.layout) {
		return 0
	}
	return len(e.layout[block].Sections)
}

// Decoded returns the fields decoded from the last handled message
func (e *Engine) Decoded() DecodedMessage {
	return e.msg
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Statistics {
	return e.stats
}

// SendCustomMessage transmits a device-initiated message carrying values.
// The status byte is Ack when ack is true and Request otherwise.
func (e *Engine) SendCustomMessage(values []uint16, ack bool) error {
	if e.busy {
		return ErrReentrant
	}
	need := specialHeaderSize - 1 + len(values)*int(e.cfg.ValueSize) + 1
	if need > len(e.resp.buf) {
		return fmt.Errorf("%w: %d values need %d bytes (max %d)", ErrMessageTooLarge, len(values), need, len(e.resp.buf))
	}

	e.busy = true
	defer func() { e.busy = false }()

	status := StatusRequest
	if ack {
		status = StatusAck
	}

	e.resp.setLen(0)
	e.resp.appendByte(StartByte)
	for _, b := range e.cfg.ManufacturerID {
		e.resp.appendByte(b)
	}
	e.resp.appendByte(byte(status))
	e.resp.appendByte(0)
	for _, v := range values {
		e.resp.appendValue(v, e.cfg.ValueSize)
	}

	e.kind = replyCustom
	e.finalize()
	return nil
}

func (e *Engine) quiet() bool {
	return e.cfg.Mode == ModeQuiet && e.modal
}

func (e *Engine) tolerant() bool {
	return e.cfg.Mode == ModeTolerant && e.modal
}
