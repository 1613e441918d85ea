// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

// DropReason explains why a frame was ignored without a reply
type DropReason int

// Silent drop reasons
const (
	DropShort DropReason = iota
	DropFraming
	DropOversize
	DropManufacturer
	DropNoLayout
	DropReentrant
	dropReasonCount
)

// String returns a short name for the reason
func (r DropReason) String() string {
	switch r {
	case DropShort:
		return "short"
	case DropFraming:
		return "framing"
	case DropOversize:
		return "oversize"
	case DropManufacturer:
		return "manufacturer"
	case DropNoLayout:
		return "no_layout"
	case DropReentrant:
		return "reentrant"
	default:
		return "unknown"
	}
}

// HandleMessage processes one received SysEx frame and sends zero or more
// replies through the storage handler.
func (e *Engine) HandleMessage(msg []byte) {
	if e.busy {
		e.drop(DropReentrant, len(msg))
		return
	}
	if e.layout == nil {
		e.drop(DropNoLayout, len(msg))
		return
	}

	e.busy = true
	defer func() { e.busy = false }()

	e.stats.Received++
	e.msg.reset()

	if reason, ok := e.checkFrame(msg); !ok {
		e.drop(reason, len(msg))
		return
	}

	e.received = len(msg)
	e.backup = false
	e.resp.load(msg)
	e.msg.Special = len(msg) == SpecialRequestSize
	e.kind = replyStandard
	if e.msg.Special {
		e.kind = replySpecial
	}

	e.msg.Status = Status(msg[idxStatus])
	if e.msg.Status != StatusRequest {
		e.fail(StatusErrorStatus)
		return
	}

	if e.msg.Special {
		e.processSpecial()
		return
	}

	if !e.connectionOpen {
		e.fail(StatusErrorConnection)
		return
	}

	// Header fields are read from fixed positions below.
	if len(msg) < HeaderSize+1 {
		e.fail(StatusErrorMessageLength)
		return
	}

	if status := e.decode(msg); status != StatusAck {
		e.fail(status)
		return
	}

	e.processStandard()
}

// checkFrame performs the checks that end in a silent drop
func (e *Engine) checkFrame(msg []byte) (DropReason, bool) {
	if len(msg) < SpecialRequestSize {
		return DropShort, false
	}
	if msg[idxStart] != StartByte || msg[len(msg)-1] != EndByte {
		return DropFraming, false
	}
	// Data bytes must have bit 7 clear
	for _, b := range msg[1 : len(msg)-1] {
		if b > Max7 {
			return DropFraming, false
		}
	}
	if len(msg) > len(e.resp.buf) {
		return DropOversize, false
	}
	for i, b := range e.cfg.ManufacturerID {
		if msg[idxID+i] != b {
			return DropManufacturer, false
		}
	}
	return 0, true
}

// decode fills the decoded message in field order and returns the first
// validation failure, or StatusAck.
func (e *Engine) decode(msg []byte) Status {
	m := &e.msg
	m.Part = msg[idxPart]
	m.Wish = Wish(msg[idxWish])
	m.Amount = Amount(msg[idxAmount])
	m.Block = msg[idxBlock]
	m.Section = msg[idxSection]

	if !m.Wish.valid() {
		return StatusErrorWish
	}
	if int(m.Block) >= len(e.layout) {
		return StatusErrorBlock
	}
	if int(m.Section) >= len(e.layout[m.Block].Sections) {
		return StatusErrorSection
	}
	if !m.Amount.valid() {
		return StatusErrorAmount
	}

	section := e.layout.section(m.Block, m.Section)
	if !e.partValid(section) {
		return StatusErrorPart
	}
	if len(msg) != e.expectedLength(section) {
		return StatusErrorMessageLength
	}

	if m.Amount == AmountSingle {
		size := e.cfg.ValueSize
		m.Index = decodeValueAt(msg, idxIndex, size)
		if m.Wish == WishSet {
			m.NewValue = decodeValueAt(msg, idxIndex+int(size), size)
		}
	}
	return StatusAck
}

func (e *Engine) partValid(section Section) bool {
	m := &e.msg
	if m.Part == AllParts || m.Part == AllPartsWithSummary {
		return m.Amount == AmountAll && m.Wish != WishSet
	}
	if m.Amount == AmountAll {
		return int(m.Part) < section.Parts(e.cfg.ParamsPerMessage)
	}
	return m.Part == 0
}

// expectedLength predicts the frame length from the decoded header
func (e *Engine) expectedLength(section Section) int {
	m := &e.msg
	size := int(e.cfg.ValueSize)
	length := HeaderSize + 1

	if m.Amount == AmountSingle {
		return length + 2*size
	}
	if m.Wish != WishSet {
		return length
	}
	start, end := section.partBounds(int(m.Part), e.cfg.ParamsPerMessage)
	return length + (end-start)*size
}

func (e *Engine) drop(reason DropReason, length int) {
	e.stats.Dropped[reason]++
	e.log.Debug().
		Stringer("reason", reason).
		Int("length", length).
		Msg("frame dropped")
}
