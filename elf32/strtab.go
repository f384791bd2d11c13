// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

// StringTable is a table of NUL terminated names, referenced by offset. The
// first byte is always NUL, so offset 0 is the empty name. Strings are not
// deduplicated.
type StringTable struct {
	MemorySource

	m   *Model
	sec *Section
}

func newStringTable(m *Model) *StringTable {
	t := &StringTable{m: m}
	t.data.WriteByte(0)
	return t
}

// Section returns the SHT_STRTAB section covering the table.
func (t *StringTable) Section() *Section { return t.sec }

// Add appends s and returns its offset in the table.
func (t *StringTable) Add(s string) (uint32, error) {
	if t.m != nil && t.m.frozen {
		return 0, ErrFrozen
	}
	return t.add(s)
}

func (t *StringTable) add(s string) (uint32, error) {
	b, err := encodeName(s)
	if err != nil {
		return 0, err
	}
	offset := uint32(t.data.Len())
	t.data.Write(b)
	t.data.WriteByte(0)
	return offset, nil
}
