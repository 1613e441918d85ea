// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

import (
	"fmt"
	"time"
)

// Frame is a parsed message as seen by a host. Special frames only carry
// ManufacturerID, Status, Request and Values.
type Frame struct {
	ManufacturerID ManufacturerID
	Status         Status
	Special        bool

	Request SpecialRequest

	Part    uint8
	Wish    Wish
	Amount  Amount
	Block   uint8
	Section uint8

	// Values holds every packed value after the header.
	Values []uint16

	Raw       []byte
	Timestamp time.Time
}

// ParseFrame parses a complete frame. Frames shorter than a standard header
// plus end byte are treated as special.
func ParseFrame(frame []byte, size ValueSize) (*Frame, error) {
	return parseFrame(frame, size, len(frame) < HeaderSize+1)
}

// ParseSpecialReply parses a reply to a special request. Replies carrying
// many custom values can be as long as a standard frame.
func ParseSpecialReply(frame []byte, size ValueSize) (*Frame, error) {
	return parseFrame(frame, size, true)
}

func parseFrame(frame []byte, size ValueSize, special bool) (*Frame, error) {
	if !size.Valid() {
		return nil, &FrameError{Length: len(frame), Message: "invalid value size"}
	}
	if len(frame) < SpecialRequestSize {
		return nil, &FrameError{Length: len(frame), Message: "too short"}
	}
	if frame[0] != StartByte || frame[len(frame)-1] != EndByte {
		return nil, &FrameError{Length: len(frame), Message: "missing SysEx framing"}
	}
	body := frame[1 : len(frame)-1]
	for i, b := range body {
		if b > Max7 {
			return nil, &FrameError{Length: len(frame), Message: fmt.Sprintf("status byte 0x%02X inside frame at offset %d", b, i+1)}
		}
	}

	f := &Frame{
		ManufacturerID: ManufacturerID{frame[1], frame[2], frame[3]},
		Status:         Status(frame[idxStatus]),
		Special:        special,
		Raw:            append([]byte(nil), frame...),
		Timestamp:      time.Now(),
	}

	dataStart := HeaderSize
	if special {
		f.Request = SpecialRequest(frame[idxWish])
		dataStart = specialHeaderSize
	} else {
		f.Part = frame[idxPart]
		f.Wish = Wish(frame[idxWish])
		f.Amount = Amount(frame[idxAmount])
		f.Block = frame[idxBlock]
		f.Section = frame[idxSection]
	}

	data := frame[dataStart : len(frame)-1]
	if len(data)%int(size) != 0 {
		return nil, &FrameError{Length: len(frame), Message: "payload is not a whole number of values"}
	}
	if len(data) > 0 {
		f.Values = make([]uint16, 0, len(data)/int(size))
		for i := 0; i < len(data); i += int(size) {
			f.Values = append(f.Values, decodeValueAt(data, i, size))
		}
	}
	return f, nil
}

// Err returns a *StatusError when the frame reports an error status
func (f *Frame) Err() error {
	if f.Status.IsError() {
		return &StatusError{Status: f.Status}
	}
	return nil
}

// IsSummary reports whether the frame is the trailing Ack of an
// AllPartsWithSummary transfer.
func (f *Frame) IsSummary() bool {
	return !f.Special && f.Status == StatusAck && len(f.Values) == 0 &&
		(f.Part == AllParts || f.Part == AllPartsWithSummary)
}

// IsRestorable reports whether the frame is backup output that can be sent
// back to the device unchanged.
func (f *Frame) IsRestorable() bool {
	return !f.Special && f.Status == StatusRequest && f.Wish == WishSet
}
