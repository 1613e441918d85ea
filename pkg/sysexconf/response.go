// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

// responseBuffer is the single fixed-capacity buffer the engine uses for both
// the incoming request and the reply built from it. The last byte of capacity
// is kept free for the end byte.
type responseBuffer struct {
	buf []byte
	pos int
}

func newResponseBuffer(size int) responseBuffer {
	return responseBuffer{buf: make([]byte, size)}
}

// load copies an incoming message into the buffer
func (r *responseBuffer) load(msg []byte) {
	r.pos = copy(r.buf, msg)
}

// setLen moves the cursor; bytes past it are kept until overwritten
func (r *responseBuffer) setLen(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(r.buf)-1 {
		n = len(r.buf) - 1
	}
	r.pos = n
}

func (r *responseBuffer) at(pos int) byte {
	return r.buf[pos]
}

func (r *responseBuffer) set(pos int, val byte) {
	if pos < len(r.buf) {
		r.buf[pos] = val
	}
}

// appendByte writes one raw byte at the cursor
func (r *responseBuffer) appendByte(b byte) bool {
	if r.pos+1 >= len(r.buf) {
		return false
	}
	r.buf[r.pos] = b
	r.pos++
	return true
}

// appendValue packs one value at the cursor
func (r *responseBuffer) appendValue(value uint16, size ValueSize) bool {
	if r.pos+int(size) >= len(r.buf) {
		return false
	}
	if size == ValueSize1 {
		r.buf[r.pos] = Pack7(value)
	} else {
		r.buf[r.pos], r.buf[r.pos+1] = Split14(value)
	}
	r.pos += int(size)
	return true
}

// terminate appends the end byte unless the message already ends with one
func (r *responseBuffer) terminate() {
	if r.pos > 0 && r.buf[r.pos-1] == EndByte {
		return
	}
	r.buf[r.pos] = EndByte
	r.pos++
}

func (r *responseBuffer) bytes() []byte {
	return r.buf[:r.pos]
}

// responseSink exposes the buffer to custom request callbacks
type responseSink struct {
	e *Engine
}

// Append implements ResponseSink
func (s *responseSink) Append(value uint16) bool {
	return s.e.resp.appendValue(value, s.e.cfg.ValueSize)
}

// replyKind classifies a reply for the quiet-mode filter
type replyKind int

const (
	replyStandard replyKind = iota
	replySpecial
	replyCustom
)

// finalize terminates the reply and hands it to the transport, unless quiet
// mode withholds it.
func (e *Engine) finalize() {
	e.resp.terminate()

	status := Status(e.resp.at(idxStatus))
	if e.quiet() && !e.quietAllows(status) {
		e.stats.Suppressed++
		e.log.Debug().Stringer("status", status).Msg("reply suppressed in quiet mode")
		return
	}

	e.stats.record(status)
	e.handler.SendResponse(e.resp.bytes())
}

// quietAllows reports whether a reply passes the quiet-mode filter: errors,
// Request-status output and Acks that answer a read.
func (e *Engine) quietAllows(status Status) bool {
	if status != StatusAck {
		return true
	}
	switch e.kind {
	case replyStandard:
		return Wish(e.resp.at(idxWish)) == WishGet
	case replySpecial:
		return e.resp.pos > SpecialRequestSize
	default:
		return false
	}
}

// fail replies with status and the header of the received message only
func (e *Engine) fail(status Status) {
	header := HeaderSize
	if e.kind == replySpecial {
		header = specialHeaderSize
	}
	if e.received-1 < header {
		header = e.received - 1
	}
	e.resp.setLen(header)
	e.resp.set(idxStatus, byte(status))
	if e.backup && header > idxWish {
		e.resp.set(idxWish, byte(WishBackup))
	}
	e.msg.Status = status

	e.log.Debug().
		Stringer("status", status).
		Uint8("block", e.msg.Block).
		Uint8("section", e.msg.Section).
		Uint16("index", e.msg.Index).
		Msg("request rejected")

	e.finalize()
}
