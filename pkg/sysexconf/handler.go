// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

// StorageHandler is the capability the engine uses to reach parameter storage
// and the MIDI link. All methods are called synchronously from HandleMessage
// and must not call back into the engine.
type StorageHandler interface {
	// Get reads one parameter. Any status other than StatusAck is a failure.
	Get(block, section uint8, index uint16) (uint16, Status)

	// Set writes one parameter. Any status other than StatusAck is a failure.
	Set(block, section uint8, index, value uint16) Status

	// CustomRequest serves a registered custom request. Values appended to
	// sink are packed into the reply.
	CustomRequest(request uint16, sink ResponseSink) Status

	// SendResponse transmits a finished message. The slice aliases the
	// engine's buffer and is only valid until SendResponse returns.
	SendResponse(response []byte)
}

// ResponseSink accepts values for the reply being built.
type ResponseSink interface {
	// Append packs value into the reply. It returns false, leaving the
	// reply untouched, when the message is full.
	Append(value uint16) bool
}

// CustomRequest registers a caller-defined special request ID.
type CustomRequest struct {
	ID                    uint16
	RequireOpenConnection bool
}

// DecodedMessage holds the fields decoded from the message being handled.
// It is reset at the start of every HandleMessage call.
type DecodedMessage struct {
	Status   Status
	Wish     Wish
	Amount   Amount
	Block    uint8
	Section  uint8
	Part     uint8
	Index    uint16
	NewValue uint16
	Special  bool
}

func (m *DecodedMessage) reset() {
	*m = DecodedMessage{}
}

// HandlerFuncs adapts plain functions to StorageHandler. Nil functions
// report StatusErrorNotSupported; a nil SendFunc discards responses.
type HandlerFuncs struct {
	GetFunc    func(block, section uint8, index uint16) (uint16, Status)
	SetFunc    func(block, section uint8, index, value uint16) Status
	CustomFunc func(request uint16, sink ResponseSink) Status
	SendFunc   func(response []byte)
}

// Get implements StorageHandler
func (h HandlerFuncs) Get(block, section uint8, index uint16) (uint16, Status) {
	if h.GetFunc == nil {
		return 0, StatusErrorNotSupported
	}
	return h.GetFunc(block, section, index)
}

// Set implements StorageHandler
func (h HandlerFuncs) Set(block, section uint8, index, value uint16) Status {
	if h.SetFunc == nil {
		return StatusErrorNotSupported
	}
	return h.SetFunc(block, section, index, value)
}

// CustomRequest implements StorageHandler
func (h HandlerFuncs) CustomRequest(request uint16, sink ResponseSink) Status {
	if h.CustomFunc == nil {
		return StatusErrorNotSupported
	}
	return h.CustomFunc(request, sink)
}

// SendResponse implements StorageHandler
func (h HandlerFuncs) SendResponse(response []byte) {
	if h.SendFunc != nil {
		h.SendFunc(response)
	}
}
