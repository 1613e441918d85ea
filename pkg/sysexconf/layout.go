// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package sysexconf

// Section is a flat array of parameters sharing one valid-value range.
// Min == Max disables range checking.
type Section struct {
	Parameters uint16
	Min        uint16
	Max        uint16
}

// Parts returns how many messages are needed to transfer the whole section
func (s Section) Parts(paramsPerMessage int) int {
	if paramsPerMessage <= 0 {
		return 0
	}
	return (int(s.Parameters) + paramsPerMessage - 1) / paramsPerMessage
}

// InRange reports whether value is acceptable for this section
func (s Section) InRange(value uint16) bool {
	if s.Min == s.Max {
		return true
	}
	return value >= s.Min && value <= s.Max
}

// partBounds returns the half-open index range [start, end) covered by part
func (s Section) partBounds(part, paramsPerMessage int) (start, end int) {
	start = part * paramsPerMessage
	end = start + paramsPerMessage
	if end > int(s.Parameters) {
		end = int(s.Parameters)
	}
	return start, end
}

// Block groups sections. Its position in the Layout is its address.
type Block struct {
	Sections []Section
}

// Layout is the full parameter address space of a device.
type Layout []Block

// Validate checks that the layout can be served
func (l Layout) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLayout
	}
	for i, b := range l {
		if len(b.Sections) == 0 {
			return &LayoutError{Block: i, Err: ErrEmptyBlock}
		}
	}
	return nil
}

// section returns the addressed section; the caller has validated the indices
func (l Layout) section(block, section uint8) Section {
	return l[block].Sections[section]
}
