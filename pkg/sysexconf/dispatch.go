// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

// processStandard executes a decoded Get, Set or Backup request
func (e *Engine) processStandard() {
	// Backup is a Get whose output is framed as a Set request, so it can be
	// replayed verbatim.
	if e.msg.Wish == WishBackup {
		e.backup = true
		e.resp.set(idxStatus, byte(StatusRequest))
		e.resp.set(idxWish, byte(WishSet))
		e.msg.Wish = WishGet
	}

	section := e.layout.section(e.msg.Block, e.msg.Section)
	if e.msg.Amount == AmountSingle {
		e.processSingle(section)
		return
	}
	e.processAll(section)
}

func (e *Engine) processSingle(section Section) {
	m := &e.msg
	if m.Index >= section.Parameters {
		e.fail(StatusErrorIndex)
		return
	}

	switch m.Wish {
	case WishGet:
		value, status := e.handler.Get(m.Block, m.Section, m.Index)
		if status, ok := e.storageResult(status, WishGet); !ok {
			e.fail(status)
			return
		} else if status != StatusAck {
			value = 0
		}
		e.resp.setLen(idxIndex + int(e.cfg.ValueSize))
		e.resp.appendValue(value, e.cfg.ValueSize)

	case WishSet:
		if !section.InRange(m.NewValue) {
			e.fail(StatusErrorNewValue)
			return
		}
		status := e.handler.Set(m.Block, m.Section, m.Index, m.NewValue)
		if status, ok := e.storageResult(status, WishSet); !ok {
			e.fail(status)
			return
		}
		// Echo the request without its end byte.
		e.resp.setLen(e.received - 1)
	}

	e.complete()
}

// processAll serves a whole section, one part or every part of it
func (e *Engine) processAll(section Section) {
	part := e.msg.Part
	if part != AllParts && part != AllPartsWithSummary {
		e.processPart(section, int(part))
		return
	}

	parts := section.Parts(e.cfg.ParamsPerMessage)
	for p := 0; p < parts; p++ {
		if !e.processPart(section, p) {
			return
		}
	}

	if part == AllPartsWithSummary {
		e.summary(part)
	}
}

// processPart sends the reply for one chunk and reports whether it succeeded
func (e *Engine) processPart(section Section, part int) bool {
	m := &e.msg
	size := e.cfg.ValueSize
	start, end := section.partBounds(part, e.cfg.ParamsPerMessage)

	m.Part = uint8(part)
	e.resp.set(idxPart, m.Part)

	switch m.Wish {
	case WishGet:
		e.resp.setLen(HeaderSize)
		for i := start; i < end; i++ {
			m.Index = uint16(i)
			value, status := e.handler.Get(m.Block, m.Section, m.Index)
			status, ok := e.storageResult(status, WishGet)
			if !ok {
				e.fail(status)
				return false
			}
			if status != StatusAck {
				value = 0
			}
			e.resp.appendValue(value, size)
		}

	case WishSet:
		// The whole chunk is range checked before anything is written.
		for i := start; i < end; i++ {
			value := decodeValueAt(e.resp.buf, HeaderSize+(i-start)*int(size), size)
			if !section.InRange(value) {
				m.Index = uint16(i)
				m.NewValue = value
				e.fail(StatusErrorNewValue)
				return false
			}
		}
		for i := start; i < end; i++ {
			m.Index = uint16(i)
			m.NewValue = decodeValueAt(e.resp.buf, HeaderSize+(i-start)*int(size), size)
			status := e.handler.Set(m.Block, m.Section, m.Index, m.NewValue)
			if status, ok := e.storageResult(status, WishSet); !ok {
				e.fail(status)
				return false
			}
		}
		e.resp.setLen(HeaderSize)
	}

	e.complete()
	return true
}

// summary sends the header-only Ack that ends an AllPartsWithSummary transfer
func (e *Engine) summary(sentinel uint8) {
	wish := WishGet
	if e.backup {
		wish = WishBackup
	}
	e.resp.setLen(HeaderSize)
	e.resp.set(idxStatus, byte(StatusAck))
	e.resp.set(idxPart, sentinel)
	e.resp.set(idxWish, byte(wish))
	e.msg.Part = sentinel
	e.msg.Status = StatusAck
	e.finalize()
}

// storageResult maps a storage status to the reply status. ok is false when
// the request must be rejected. In tolerant mode failures are absorbed and
// the original status is returned with ok set.
func (e *Engine) storageResult(status Status, wish Wish) (Status, bool) {
	if status == StatusAck {
		return status, true
	}
	if !status.IsError() {
		status = StatusErrorRead
		if wish == WishSet {
			status = StatusErrorWrite
		}
	}

	e.log.Debug().
		Stringer("wish", wish).
		Stringer("status", status).
		Uint8("block", e.msg.Block).
		Uint8("section", e.msg.Section).
		Uint16("index", e.msg.Index).
		Bool("tolerated", e.tolerant()).
		Msg("storage failure")

	if e.tolerant() {
		e.stats.Tolerated++
		return status, true
	}
	return status, false
}

// complete sends a successful reply. Backup output keeps the Request status.
func (e *Engine) complete() {
	if !e.backup {
		e.resp.set(idxStatus, byte(StatusAck))
		e.msg.Status = StatusAck
	}
	e.finalize()
}
