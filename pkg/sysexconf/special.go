// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

// processSpecial serves an 8-byte special request. The wish position carries
// the request ID.
func (e *Engine) processSpecial() {
	id := SpecialRequest(e.resp.at(idxWish))
	e.resp.setLen(specialHeaderSize)

	switch id {
	case SpecialConnClose:
		if !e.connectionOpen {
			e.fail(StatusErrorConnection)
			return
		}
		e.connectionOpen = false
		e.modal = false
		e.log.Debug().Msg("connection closed")
		e.ack()
		return

	case SpecialConnOpen:
		e.connectionOpen = true
		e.log.Debug().Msg("connection opened")
		e.ack()
		return

	case SpecialBytesPerValue:
		if !e.connectionOpen {
			e.fail(StatusErrorConnection)
			return
		}
		e.resp.appendValue(uint16(e.cfg.ValueSize), e.cfg.ValueSize)
		e.ack()
		return

	case SpecialParamsPerMessage:
		if !e.connectionOpen {
			e.fail(StatusErrorConnection)
			return
		}
		e.resp.appendValue(uint16(e.cfg.ParamsPerMessage), e.cfg.ValueSize)
		e.ack()
		return
	}

	if e.cfg.Mode == ModeQuiet {
		switch id {
		case SpecialConnOpenQuiet:
			e.connectionOpen = true
			e.modal = true
			e.log.Debug().Msg("connection opened in quiet mode")
			e.ack()
			return

		case SpecialConnQuietDisable:
			if !e.connectionOpen {
				e.fail(StatusErrorConnection)
				return
			}
			e.modal = false
			e.ack()
			return
		}
	}

	e.processCustom(uint16(id))
}

// processCustom looks id up in the custom request table
func (e *Engine) processCustom(id uint16) {
	for _, r := range e.customRequests {
		if r.ID != id {
			continue
		}
		if r.RequireOpenConnection && !e.connectionOpen {
			e.fail(StatusErrorConnection)
			return
		}

		status := e.handler.CustomRequest(id, &e.sink)
		if status != StatusAck {
			if !status.IsError() {
				status = StatusErrorNotSupported
			}
			e.log.Debug().Uint16("request", id).Stringer("status", status).Msg("custom request failed")
			e.resp.setLen(specialHeaderSize)
			e.fail(status)
			return
		}
		e.ack()
		return
	}

	e.fail(StatusErrorWish)
}

// ack marks the reply built so far as successful and sends it
func (e *Engine) ack() {
	e.resp.set(idxStatus, byte(StatusAck))
	e.msg.Status = StatusAck
	e.finalize()
}
