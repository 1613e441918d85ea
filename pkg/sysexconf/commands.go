// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import "fmt"

// Request builder functions create wire frames a host sends to a device.
// They produce exactly the shapes HandleMessage accepts.

// Request describes a standard Get, Set or Backup request.
type Request struct {
	Wish    Wish
	Amount  Amount
	Block   uint8
	Section uint8
	Part    uint8

	// Index and NewValue are used with AmountSingle. NewValue is ignored
	// unless Wish is WishSet.
	Index    uint16
	NewValue uint16

	// Values is the chunk carried by a Set/All request.
	Values []uint16
}

// NewSpecialRequest creates an 8-byte special request frame
func NewSpecialRequest(id ManufacturerID, request SpecialRequest) []byte {
	return []byte{StartByte, id[0], id[1], id[2], byte(StatusRequest), 0, byte(request), EndByte}
}

// NewRequest creates a standard request frame.
// Single requests always reserve the new value slot, zero-filled for Get.
func NewRequest(id ManufacturerID, r Request, size ValueSize) ([]byte, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("invalid value size %d", size)
	}
	if !r.Wish.valid() {
		return nil, fmt.Errorf("invalid wish %v", r.Wish)
	}
	if !r.Amount.valid() {
		return nil, fmt.Errorf("invalid amount %v", r.Amount)
	}
	if r.Block > Max7 || r.Section > Max7 || r.Part > Max7 {
		return nil, fmt.Errorf("address %d/%d part %d does not fit in data bytes", r.Block, r.Section, r.Part)
	}

	frame := make([]byte, 0, HeaderSize+1+(2+len(r.Values))*int(size))
	frame = append(frame, StartByte, id[0], id[1], id[2],
		byte(StatusRequest), r.Part, byte(r.Wish), byte(r.Amount), r.Block, r.Section)

	switch {
	case r.Amount == AmountSingle:
		newValue := r.NewValue
		if r.Wish != WishSet {
			newValue = 0
		}
		for _, v := range []uint16{r.Index, newValue} {
			if v > size.MaxValue() {
				return nil, fmt.Errorf("value %d exceeds %d-byte range", v, size)
			}
			frame = AppendValue(frame, v, size)
		}

	case r.Wish == WishSet:
		for i, v := range r.Values {
			if v > size.MaxValue() {
				return nil, fmt.Errorf("value %d at position %d exceeds %d-byte range", v, i, size)
			}
			frame = AppendValue(frame, v, size)
		}
	}

	return append(frame, EndByte), nil
}

// NewGetRequest creates a Get/Single request
func NewGetRequest(id ManufacturerID, block, section uint8, index uint16, size ValueSize) ([]byte, error) {
	return NewRequest(id, Request{Wish: WishGet, Amount: AmountSingle, Block: block, Section: section, Index: index}, size)
}

// NewSetRequest creates a Set/Single request
func NewSetRequest(id ManufacturerID, block, section uint8, index, value uint16, size ValueSize) ([]byte, error) {
	return NewRequest(id, Request{Wish: WishSet, Amount: AmountSingle, Block: block, Section: section, Index: index, NewValue: value}, size)
}

// NewGetAllRequest creates a Get/All request for part, or for AllParts /
// AllPartsWithSummary.
func NewGetAllRequest(id ManufacturerID, block, section, part uint8, size ValueSize) ([]byte, error) {
	return NewRequest(id, Request{Wish: WishGet, Amount: AmountAll, Block: block, Section: section, Part: part}, size)
}

// NewBackupRequest creates a Backup/All request covering every part with a
// trailing summary.
func NewBackupRequest(id ManufacturerID, block, section uint8, size ValueSize) ([]byte, error) {
	return NewRequest(id, Request{Wish: WishBackup, Amount: AmountAll, Block: block, Section: section, Part: AllPartsWithSummary}, size)
}

// NewSetAllRequest creates a Set/All request writing values into part
func NewSetAllRequest(id ManufacturerID, block, section, part uint8, values []uint16, size ValueSize) ([]byte, error) {
	return NewRequest(id, Request{Wish: WishSet, Amount: AmountAll, Block: block, Section: section, Part: part, Values: values}, size)
}
