// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

var testID = ManufacturerID{0x00, 0x53, 0x43}

type paramKey struct {
	block, section uint8
	index          uint16
}

// testStore is a map-backed StorageHandler that records every reply
type testStore struct {
	values    map[paramKey]uint16
	getStatus Status
	setStatus Status
	sets      int

	customStatus Status
	customValues []uint16
	customCalls  []uint16

	responses [][]byte
	onSend    func([]byte)
}

func newTestStore() *testStore {
	return &testStore{
		values:       make(map[paramKey]uint16),
		getStatus:    StatusAck,
		setStatus:    StatusAck,
		customStatus: StatusAck,
	}
}

func (s *testStore) Get(block, section uint8, index uint16) (uint16, Status) {
	if s.getStatus != StatusAck {
		return 0x55, s.getStatus
	}
	return s.values[paramKey{block, section, index}], StatusAck
}

func (s *testStore) Set(block, section uint8, index, value uint16) Status {
	if s.setStatus != StatusAck {
		return s.setStatus
	}
	s.sets++
	s.values[paramKey{block, section, index}] = value
	return StatusAck
}

func (s *testStore) CustomRequest(request uint16, sink ResponseSink) Status {
	s.customCalls = append(s.customCalls, request)
	for _, v := range s.customValues {
		sink.Append(v)
	}
	return s.customStatus
}

func (s *testStore) SendResponse(response []byte) {
	s.responses = append(s.responses, append([]byte(nil), response...))
	if s.onSend != nil {
		s.onSend(response)
	}
}

func (s *testStore) last(t *testing.T) []byte {
	t.Helper()
	if len(s.responses) == 0 {
		t.Fatal("no response sent")
	}
	return s.responses[len(s.responses)-1]
}

// exampleLayout is one block with one section of 10 parameters in [0, 50]
func exampleLayout() Layout {
	return Layout{{Sections: []Section{{Parameters: 10, Min: 0, Max: 50}}}}
}

func newTestEngine(t *testing.T, layout Layout, configure func(*Config)) (*Engine, *testStore) {
	t.Helper()
	store := newTestStore()
	cfg := DefaultConfig(testID)
	if configure != nil {
		configure(&cfg)
	}
	e, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.SetLayout(layout); err != nil {
		t.Fatalf("SetLayout failed: %v", err)
	}
	return e, store
}

// openConnection sends ConnOpen and discards the reply
func openConnection(t *testing.T, e *Engine, store *testStore) {
	t.Helper()
	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpen))
	if !e.IsConnectionOpen() {
		t.Fatal("connection did not open")
	}
	store.responses = nil
}

// rawFrame builds a standard frame from explicit header bytes
func rawFrame(status Status, part uint8, wish Wish, amount Amount, block, section uint8, data ...byte) []byte {
	frame := []byte{StartByte, testID[0], testID[1], testID[2], byte(status), part, byte(wish), byte(amount), block, section}
	frame = append(frame, data...)
	return append(frame, EndByte)
}

func mustRequest(t *testing.T, r Request, size ValueSize) []byte {
	t.Helper()
	frame, err := NewRequest(testID, r, size)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	return frame
}

func expectFrame(t *testing.T, got, want []byte) {
	t.Helper()
	if !bytes.Equal(got, want) {
		t.Errorf("frame mismatch\n got: %s\nwant: %s", FormatBytes(got), FormatBytes(want))
	}
}

// ============================================================
// Construction and Configuration
// ============================================================

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, DefaultConfig(testID)); !errors.Is(err, ErrNoHandler) {
		t.Errorf("nil handler: got %v, want ErrNoHandler", err)
	}

	tests := []struct {
		name      string
		configure func(*Config)
	}{
		{"zero params per message", func(c *Config) { c.ParamsPerMessage = 0 }},
		{"too many params per message", func(c *Config) { c.ParamsPerMessage = 128 }},
		{"value size 3", func(c *Config) { c.ValueSize = 3 }},
		{"unknown mode", func(c *Config) { c.Mode = Mode(7) }},
		{"manufacturer id with status byte", func(c *Config) { c.ManufacturerID = ManufacturerID{0x00, 0xF0, 0x00} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(testID)
			tt.configure(&cfg)
			if _, err := New(newTestStore(), cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_MaxMessageSize(t *testing.T) {
	tests := []struct {
		size ValueSize
		ppm  int
		want int
	}{
		{ValueSize2, 32, 75},
		{ValueSize1, 32, 43},
		{ValueSize2, 1, 15},
		{ValueSize1, 1, 13},
	}

	for _, tt := range tests {
		cfg := Config{ValueSize: tt.size, ParamsPerMessage: tt.ppm}
		if got := cfg.MaxMessageSize(); got != tt.want {
			t.Errorf("MaxMessageSize(size %d, ppm %d) = %d, want %d", tt.size, tt.ppm, got, tt.want)
		}
	}
}

func TestSetLayout_Errors(t *testing.T) {
	e, err := New(newTestStore(), DefaultConfig(testID))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.SetLayout(nil); !errors.Is(err, ErrEmptyLayout) {
		t.Errorf("nil layout: got %v", err)
	}
	if err := e.SetLayout(Layout{{Sections: []Section{{Parameters: 1}}}, {}}); !errors.Is(err, ErrEmptyBlock) {
		t.Errorf("empty block: got %v", err)
	} else {
		var le *LayoutError
		if !errors.As(err, &le) || le.Block != 1 {
			t.Errorf("expected LayoutError for block 1, got %v", err)
		}
	}

	tooManyBlocks := make(Layout, 129)
	for i := range tooManyBlocks {
		tooManyBlocks[i] = Block{Sections: []Section{{Parameters: 1}}}
	}
	if err := e.SetLayout(tooManyBlocks); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("129 blocks: got %v", err)
	}

	tooManySections := Layout{{Sections: make([]Section, 129)}}
	if err := e.SetLayout(tooManySections); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("129 sections: got %v", err)
	}

	if e.BlockCount() != 0 {
		t.Errorf("rejected layouts must not be installed, BlockCount = %d", e.BlockCount())
	}
}

func TestSetLayout_PartLimits(t *testing.T) {
	store := newTestStore()
	cfg := DefaultConfig(testID)
	cfg.ParamsPerMessage = 1
	e, err := New(store, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.SetLayout(Layout{{Sections: []Section{{Parameters: 126}}}}); err != nil {
		t.Errorf("126 parts should fit: %v", err)
	}
	if err := e.SetLayout(Layout{{Sections: []Section{{Parameters: 127}}}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("127 parts would collide with the sentinels: got %v", err)
	}

	cfg1 := DefaultConfig(testID)
	cfg1.ValueSize = ValueSize1
	e1, err := New(store, cfg1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e1.SetLayout(Layout{{Sections: []Section{{Parameters: 129}}}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("129 parameters are not addressable with 1-byte values: got %v", err)
	}
}

func TestSetLayout_ClosesConnection(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	openConnection(t, e, store)
	e.SetModalFlag(true)

	if err := e.SetLayout(exampleLayout()); err != nil {
		t.Fatal(err)
	}
	if e.IsConnectionOpen() {
		t.Error("SetLayout must close the connection")
	}
	if e.ModalFlag() {
		t.Error("SetLayout must clear the modal flag")
	}
}

func TestBlockAndSectionCount(t *testing.T) {
	layout := Layout{
		{Sections: []Section{{Parameters: 1}, {Parameters: 2}, {Parameters: 3}}},
		{Sections: []Section{{Parameters: 4}}},
	}
	e, _ := newTestEngine(t, layout, nil)

	if e.BlockCount() != 2 {
		t.Errorf("BlockCount = %d, want 2", e.BlockCount())
	}
	if e.SectionCount(0) != 3 || e.SectionCount(1) != 1 {
		t.Errorf("SectionCount = %d/%d, want 3/1", e.SectionCount(0), e.SectionCount(1))
	}
	if e.SectionCount(2) != 0 || e.SectionCount(-1) != 0 {
		t.Error("SectionCount of a missing block should be 0")
	}
}

func TestReset(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	openConnection(t, e, store)
	e.SetModalFlag(true)

	e.Reset()
	if e.IsConnectionOpen() || e.ModalFlag() {
		t.Error("Reset must close the connection and clear the modal flag")
	}
	if e.Stats().Received != 0 {
		t.Errorf("Reset must clear statistics, Received = %d", e.Stats().Received)
	}
	if e.BlockCount() != 1 {
		t.Error("Reset must keep the layout")
	}

	openConnection(t, e, store)
	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 1}, ValueSize2))
	if Status(store.last(t)[idxStatus]) != StatusAck {
		t.Error("engine should work after Reset")
	}
}

// ============================================================
// End-to-end Example
// ============================================================

func TestEngine_EndToEndExample(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	store.values[paramKey{0, 0, 5}] = 17

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpen))
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x01, 0xF7})

	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 5}, ValueSize2))
	expectFrame(t, store.last(t), []byte{
		0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x05, 0x00, 0x11, 0xF7,
	})

	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 5, NewValue: 25}, ValueSize2))
	expectFrame(t, store.last(t), []byte{
		0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00,
		0x00, 0x05, 0x00, 0x19, 0xF7,
	})
	if store.values[paramKey{0, 0, 5}] != 25 {
		t.Errorf("stored value = %d, want 25", store.values[paramKey{0, 0, 5}])
	}

	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 5, NewValue: 100}, ValueSize2))
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x0A, 0x00, 0x01, 0x00, 0x00, 0x00, 0xF7})
	if store.values[paramKey{0, 0, 5}] != 25 {
		t.Error("rejected Set must not change the stored value")
	}

	if len(store.responses) != 4 {
		t.Errorf("got %d responses, want 4", len(store.responses))
	}
}

func TestEngine_LargeValueTwoByte(t *testing.T) {
	layout := Layout{{Sections: []Section{{Parameters: 4}}}}
	e, store := newTestEngine(t, layout, nil)
	openConnection(t, e, store)

	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 3, NewValue: 0x3FFF}, ValueSize2))
	if Status(store.last(t)[idxStatus]) != StatusAck {
		t.Fatalf("Set failed: %s", FormatBytes(store.last(t)))
	}
	if store.values[paramKey{0, 0, 3}] != 0x3FFF {
		t.Errorf("stored 0x%04X, want 0x3FFF", store.values[paramKey{0, 0, 3}])
	}
}

// ============================================================
// Connection Gating
// ============================================================

func TestEngine_Gating(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	get := mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 0}, ValueSize2)

	e.HandleMessage(get)
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF7})

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpen))
	e.HandleMessage(get)
	if Status(store.last(t)[idxStatus]) != StatusAck {
		t.Error("Get after ConnOpen should succeed")
	}

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnClose))
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x00, 0xF7})
	e.HandleMessage(get)
	if Status(store.last(t)[idxStatus]) != StatusErrorConnection {
		t.Error("Get after ConnClose should fail with ErrorConnection")
	}

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpen))
	e.HandleMessage(NewSpecialRequest(testID, SpecialConnClose))
	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpen))
	if !e.IsConnectionOpen() {
		t.Error("open, close, open should leave the session open")
	}
}

func TestEngine_CloseWhenClosed(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnClose))
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x03, 0x00, 0x00, 0xF7})
}

func TestEngine_CapabilityQueries(t *testing.T) {
	tests := []struct {
		name    string
		size    ValueSize
		ppm     int
		request SpecialRequest
		want    []byte
	}{
		{"bytes per value 2", ValueSize2, 32, SpecialBytesPerValue,
			[]byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x02, 0x00, 0x02, 0xF7}},
		{"params per message 2", ValueSize2, 32, SpecialParamsPerMessage,
			[]byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x03, 0x00, 0x20, 0xF7}},
		{"bytes per value 1", ValueSize1, 16, SpecialBytesPerValue,
			[]byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x02, 0x01, 0xF7}},
		{"params per message 1", ValueSize1, 16, SpecialParamsPerMessage,
			[]byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x03, 0x10, 0xF7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newTestEngine(t, exampleLayout(), func(c *Config) {
				c.ValueSize = tt.size
				c.ParamsPerMessage = tt.ppm
			})

			e.HandleMessage(NewSpecialRequest(testID, tt.request))
			expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x03, 0x00, byte(tt.request), 0xF7})

			openConnection(t, e, store)
			e.HandleMessage(NewSpecialRequest(testID, tt.request))
			expectFrame(t, store.last(t), tt.want)
		})
	}
}

// ============================================================
// Malformed Frames
// ============================================================

func TestEngine_MalformedSilence(t *testing.T) {
	oversize := make([]byte, 76)
	oversize[0] = StartByte
	copy(oversize[1:], testID[:])
	oversize[len(oversize)-1] = EndByte

	tests := []struct {
		name   string
		frame  []byte
		reason DropReason
	}{
		{"four bytes", []byte{0xF0, 0x00, 0x53, 0xF7}, DropShort},
		{"empty", nil, DropShort},
		{"wrong manufacturer", []byte{0xF0, 0x00, 0x53, 0x44, 0x00, 0x00, 0x01, 0xF7}, DropManufacturer},
		{"missing start", []byte{0x00, 0x00, 0x53, 0x43, 0x00, 0x00, 0x01, 0xF7}, DropFraming},
		{"missing end", []byte{0xF0, 0x00, 0x53, 0x43, 0x00, 0x00, 0x01, 0x00}, DropFraming},
		{"oversize", oversize, DropOversize},
		{"status byte in value", []byte{0xF0, 0x00, 0x53, 0x43, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0xFE, 0x7F, 0xF7}, DropFraming},
		{"status byte in header", []byte{0xF0, 0x00, 0x53, 0x43, 0x00, 0x00, 0x80, 0xF7}, DropFraming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newTestEngine(t, exampleLayout(), nil)
			openConnection(t, e, store)

			e.HandleMessage(tt.frame)
			if len(store.responses) != 0 {
				t.Errorf("expected no response, got %s", FormatBytes(store.last(t)))
			}
			if got := e.Stats().Dropped[tt.reason]; got != 1 {
				t.Errorf("Dropped[%s] = %d, want 1", tt.reason, got)
			}
		})
	}
}

func TestEngine_HighBitValueNotStored(t *testing.T) {
	// Min == Max disables range checks, so only framing can stop the value
	e, store := newTestEngine(t, Layout{{Sections: []Section{{Parameters: 2}}}}, nil)
	openConnection(t, e, store)

	e.HandleMessage(rawFrame(StatusRequest, 0, WishSet, AmountSingle, 0, 0, 0x00, 0x01, 0xFE, 0x7F))
	if len(store.responses) != 0 {
		t.Fatalf("expected no response, got %s", FormatBytes(store.last(t)))
	}
	if store.sets != 0 {
		t.Errorf("storage written %d times", store.sets)
	}

	e.HandleMessage(rawFrame(StatusRequest, 0, WishSet, AmountSingle, 0, 0, 0x00, 0x01, 0x7E, 0x7F))
	if got := Status(store.last(t)[idxStatus]); got != StatusAck {
		t.Fatalf("valid Set replied %s", got)
	}
	if got := store.values[paramKey{0, 0, 1}]; got != Merge14(0x7E, 0x7F) {
		t.Errorf("stored %d, want %d", got, Merge14(0x7E, 0x7F))
	}
}

func TestEngine_NoLayoutDrops(t *testing.T) {
	store := newTestStore()
	e, err := New(store, DefaultConfig(testID))
	if err != nil {
		t.Fatal(err)
	}

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpen))
	if len(store.responses) != 0 {
		t.Error("engine without a layout must not reply")
	}
	if e.Stats().Dropped[DropNoLayout] != 1 {
		t.Error("drop was not counted")
	}
}

func TestEngine_ErrorStatus(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)

	special := NewSpecialRequest(testID, SpecialConnOpen)
	special[idxStatus] = byte(StatusAck)
	e.HandleMessage(special)
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x02, 0x00, 0x01, 0xF7})
	if e.IsConnectionOpen() {
		t.Error("rejected ConnOpen must not open the connection")
	}

	openConnection(t, e, store)
	standard := rawFrame(StatusAck, 0, WishGet, AmountSingle, 0, 0, 0, 0, 0, 0)
	e.HandleMessage(standard)
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF7})
}

// ============================================================
// Validation Order
// ============================================================

func TestEngine_ValidationErrors(t *testing.T) {
	layout := Layout{{Sections: []Section{
		{Parameters: 10, Min: 0, Max: 50},
		{Parameters: 65},
	}}}

	tests := []struct {
		name  string
		frame []byte
		want  Status
	}{
		{"invalid wish", rawFrame(StatusRequest, 0, Wish(3), AmountSingle, 0, 0, 0, 0, 0, 0), StatusErrorWish},
		{"wish checked before block", rawFrame(StatusRequest, 0, Wish(3), AmountSingle, 9, 0, 0, 0, 0, 0), StatusErrorWish},
		{"invalid block", rawFrame(StatusRequest, 0, WishGet, AmountSingle, 1, 0, 0, 0, 0, 0), StatusErrorBlock},
		{"block checked before section", rawFrame(StatusRequest, 0, WishGet, AmountSingle, 1, 9, 0, 0, 0, 0), StatusErrorBlock},
		{"invalid section", rawFrame(StatusRequest, 0, WishGet, AmountSingle, 0, 2, 0, 0, 0, 0), StatusErrorSection},
		{"invalid amount", rawFrame(StatusRequest, 0, WishGet, Amount(2), 0, 0, 0, 0, 0, 0), StatusErrorAmount},
		{"single with part 1", rawFrame(StatusRequest, 1, WishGet, AmountSingle, 0, 0, 0, 0, 0, 0), StatusErrorPart},
		{"single with sentinel", rawFrame(StatusRequest, AllParts, WishGet, AmountSingle, 0, 0, 0, 0, 0, 0), StatusErrorPart},
		{"set all with sentinel", rawFrame(StatusRequest, AllParts, WishSet, AmountAll, 0, 1), StatusErrorPart},
		{"part past end", rawFrame(StatusRequest, 3, WishGet, AmountAll, 0, 1), StatusErrorPart},
		{"single too long", rawFrame(StatusRequest, 0, WishGet, AmountSingle, 0, 0, 0, 0, 0, 0, 0), StatusErrorMessageLength},
		{"single too short", rawFrame(StatusRequest, 0, WishGet, AmountSingle, 0, 0, 0, 0), StatusErrorMessageLength},
		{"get all with payload", rawFrame(StatusRequest, 0, WishGet, AmountAll, 0, 0, 0, 0), StatusErrorMessageLength},
		{"set all short chunk", rawFrame(StatusRequest, 0, WishSet, AmountAll, 0, 0, 0, 1), StatusErrorMessageLength},
		{"index out of range", rawFrame(StatusRequest, 0, WishGet, AmountSingle, 0, 0, 0, 10, 0, 0), StatusErrorIndex},
		{"new value out of range", rawFrame(StatusRequest, 0, WishSet, AmountSingle, 0, 0, 0, 1, 0, 51), StatusErrorNewValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newTestEngine(t, layout, nil)
			openConnection(t, e, store)

			e.HandleMessage(tt.frame)
			if len(store.responses) != 1 {
				t.Fatalf("got %d responses, want 1", len(store.responses))
			}
			resp := store.last(t)
			if got := Status(resp[idxStatus]); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
			if len(resp) != HeaderSize+1 {
				t.Errorf("error reply length = %d, want %d", len(resp), HeaderSize+1)
			}
			if !bytes.Equal(resp[idxPart:HeaderSize], tt.frame[idxPart:HeaderSize]) {
				t.Errorf("error reply must echo the header: %s", FormatBytes(resp))
			}
			if store.sets != 0 {
				t.Error("rejected request must not write")
			}
		})
	}
}

func TestEngine_ShortStandardFrame(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	openConnection(t, e, store)

	e.HandleMessage([]byte{0xF0, 0x00, 0x53, 0x43, 0x00, 0x00, 0x00, 0x00, 0xF7})
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x0B, 0x00, 0x00, 0x00, 0xF7})
}

// ============================================================
// Storage Failures and Modal Flags
// ============================================================

func TestEngine_StorageErrorsSurface(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	openConnection(t, e, store)

	store.getStatus = StatusErrorRead
	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 1}, ValueSize2))
	if got := Status(store.last(t)[idxStatus]); got != StatusErrorRead {
		t.Errorf("Get status = %s, want ERROR_READ", got)
	}

	store.setStatus = StatusErrorNotSupported
	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 1, NewValue: 3}, ValueSize2))
	if got := Status(store.last(t)[idxStatus]); got != StatusErrorNotSupported {
		t.Errorf("Set status = %s, want ERROR_NOT_SUPPORTED", got)
	}

	// A storage layer answering Request is treated as a failure
	store.setStatus = StatusRequest
	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 1, NewValue: 3}, ValueSize2))
	if got := Status(store.last(t)[idxStatus]); got != StatusErrorWrite {
		t.Errorf("Set status = %s, want ERROR_WRITE", got)
	}
}

func TestEngine_TolerantMode(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), func(c *Config) { c.Mode = ModeTolerant })
	openConnection(t, e, store)
	e.SetModalFlag(true)

	store.getStatus = StatusErrorRead
	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 2}, ValueSize2))
	expectFrame(t, store.last(t), []byte{
		0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x02, 0x00, 0x00, 0xF7,
	})

	store.setStatus = StatusErrorWrite
	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 2, NewValue: 7}, ValueSize2))
	if got := Status(store.last(t)[idxStatus]); got != StatusAck {
		t.Errorf("tolerant Set status = %s, want ACK", got)
	}

	// Range errors are protocol errors, never tolerated
	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 2, NewValue: 51}, ValueSize2))
	if got := Status(store.last(t)[idxStatus]); got != StatusErrorNewValue {
		t.Errorf("status = %s, want ERROR_NEW_VALUE", got)
	}

	if e.Stats().Tolerated != 2 {
		t.Errorf("Tolerated = %d, want 2", e.Stats().Tolerated)
	}

	e.SetModalFlag(false)
	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 2}, ValueSize2))
	if got := Status(store.last(t)[idxStatus]); got != StatusErrorRead {
		t.Errorf("status without flag = %s, want ERROR_READ", got)
	}
}

func TestEngine_TolerantModeHasNoQuietRequests(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), func(c *Config) { c.Mode = ModeTolerant })

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpenQuiet))
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x04, 0x00, 0x04, 0xF7})
	if e.IsConnectionOpen() {
		t.Error("ConnOpenQuiet must not open a tolerant engine")
	}
}

func TestEngine_QuietMode(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpenQuiet))
	if !e.IsConnectionOpen() || !e.ModalFlag() {
		t.Fatal("ConnOpenQuiet should open the connection in quiet mode")
	}
	if len(store.responses) != 0 {
		t.Errorf("quiet open Ack should be suppressed, got %s", FormatBytes(store.last(t)))
	}

	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 1, NewValue: 4}, ValueSize2))
	if len(store.responses) != 0 {
		t.Error("Set Ack should be suppressed in quiet mode")
	}
	if store.values[paramKey{0, 0, 1}] != 4 {
		t.Error("suppressed Set must still be applied")
	}

	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 1}, ValueSize2))
	if len(store.responses) != 1 || Status(store.last(t)[idxStatus]) != StatusAck {
		t.Fatal("Get Ack should pass the quiet filter")
	}

	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 1, NewValue: 99}, ValueSize2))
	if len(store.responses) != 2 || Status(store.last(t)[idxStatus]) != StatusErrorNewValue {
		t.Fatal("errors should pass the quiet filter")
	}

	e.HandleMessage(NewSpecialRequest(testID, SpecialBytesPerValue))
	if len(store.responses) != 3 {
		t.Fatal("capability replies carry data and should pass the quiet filter")
	}

	if e.Stats().Suppressed != 2 {
		t.Errorf("Suppressed = %d, want 2", e.Stats().Suppressed)
	}

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnQuietDisable))
	if e.ModalFlag() {
		t.Error("ConnQuietDisable should clear the quiet flag")
	}
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x05, 0xF7})

	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 1, NewValue: 5}, ValueSize2))
	if len(store.responses) != 5 {
		t.Error("Set Ack should be sent after quiet mode is disabled")
	}
}

func TestEngine_QuietDisableRequiresConnection(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnQuietDisable))
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x03, 0x00, 0x05, 0xF7})
}

func TestEngine_CloseClearsQuiet(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpenQuiet))
	e.HandleMessage(NewSpecialRequest(testID, SpecialConnClose))
	if e.IsConnectionOpen() || e.ModalFlag() {
		t.Error("ConnClose should close the connection and clear the flag")
	}
	// The close Ack is sent once the flag is cleared
	expectFrame(t, store.last(t), []byte{0xF0, 0x00, 0x53, 0x43, 0x01, 0x00, 0x00, 0xF7})
}

// ============================================================
// Reentrancy and Statistics
// ============================================================

func TestEngine_ReentryDropped(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	openConnection(t, e, store)

	var nested error
	store.onSend = func([]byte) {
		e.HandleMessage(NewSpecialRequest(testID, SpecialConnClose))
		nested = e.SendCustomMessage([]uint16{1}, true)
		if err := e.SetLayout(exampleLayout()); !errors.Is(err, ErrReentrant) {
			t.Errorf("SetLayout from a callback: got %v", err)
		}
	}

	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 0}, ValueSize2))
	store.onSend = nil

	if !e.IsConnectionOpen() {
		t.Error("nested ConnClose must be ignored")
	}
	if !errors.Is(nested, ErrReentrant) {
		t.Errorf("nested SendCustomMessage: got %v, want ErrReentrant", nested)
	}
	if e.Stats().Dropped[DropReentrant] != 1 {
		t.Errorf("Dropped[reentrant] = %d, want 1", e.Stats().Dropped[DropReentrant])
	}
	if len(store.responses) != 1 {
		t.Errorf("got %d responses, want 1", len(store.responses))
	}
}

func TestEngine_ResetFromCallbackIgnored(t *testing.T) {
	e, store := newTestEngine(t, Layout{{Sections: []Section{{Parameters: 65}}}}, nil)
	openConnection(t, e, store)

	store.onSend = func([]byte) { e.Reset() }
	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountAll, Part: AllParts}, ValueSize2))
	store.onSend = nil

	if len(store.responses) != 3 {
		t.Errorf("got %d responses, want 3", len(store.responses))
	}
	if !e.IsConnectionOpen() {
		t.Error("Reset from a callback must not close the session")
	}
	if got := e.Stats().Received; got != 2 {
		t.Errorf("Received = %d, want 2", got)
	}

	e.Reset()
	if e.IsConnectionOpen() || e.Stats().Received != 0 {
		t.Error("Reset outside a callback must close the session and clear statistics")
	}
}

func TestEngine_Statistics(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)

	e.HandleMessage(NewSpecialRequest(testID, SpecialConnOpen))
	e.HandleMessage(mustRequest(t, Request{Wish: WishGet, Amount: AmountSingle, Index: 20}, ValueSize2))
	e.HandleMessage([]byte{0xF0, 0xF7})

	stats := e.Stats()
	if stats.Received != 3 {
		t.Errorf("Received = %d, want 3", stats.Received)
	}
	if stats.Sent != 2 || stats.ByStatus[StatusAck] != 1 || stats.ByStatus[StatusErrorIndex] != 1 {
		t.Errorf("unexpected reply counters: %+v", stats.ByStatus)
	}
	if stats.Errors() != 1 {
		t.Errorf("Errors() = %d, want 1", stats.Errors())
	}
	if stats.DroppedTotal() != 1 {
		t.Errorf("DroppedTotal() = %d, want 1", stats.DroppedTotal())
	}
	if len(store.responses) != 2 {
		t.Errorf("got %d responses", len(store.responses))
	}
	if s := stats.String(); s == "" {
		t.Error("String() returned nothing")
	}
}

func TestEngine_Decoded(t *testing.T) {
	e, store := newTestEngine(t, exampleLayout(), nil)
	openConnection(t, e, store)

	e.HandleMessage(mustRequest(t, Request{Wish: WishSet, Amount: AmountSingle, Index: 7, NewValue: 33}, ValueSize2))
	m := e.Decoded()
	if m.Wish != WishSet || m.Amount != AmountSingle || m.Index != 7 || m.NewValue != 33 || m.Status != StatusAck {
		t.Errorf("unexpected decoded message %+v", m)
	}

	e.HandleMessage(NewSpecialRequest(testID, SpecialBytesPerValue))
	if m := e.Decoded(); !m.Special || m.Index != 0 {
		t.Errorf("decoded message was not reset: %+v", m)
	}
}
