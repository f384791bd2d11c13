// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elf32 builds little-endian 32-bit ELF executables from raw byte
// ranges and a list of absolute symbols.
//
// A Model is populated with segments in file order. The layout is then
// resolved in a fixed sequence of phases, each one only reachable from the
// result of the previous one:
//
//	r, err := m.ResolveStrings()  // symbol and section names
//	...
//	img, err := r.Arrange().      // file offsets and padding
//		AssignIndices().          // section header indices
//		Link()                    // .symtab -> .strtab
//
// The resulting Image is serialized with WriteTo or WriteFile.
package elf32

import (
	"debug/elf"
	"fmt"
)

const (
	ehsize    = 52 // ELF header, also e_phoff
	phentsize = 32
	shentsize = 40
)

// Model holds the segments of the output file in file order.
type Model struct {
	machine elf.Machine
	flags   uint32
	entry   uint32

	segments []*Segment
	strtab   *StringTable
	shstrtab *StringTable
	symtabs  []*SymbolTable

	frozen bool
	shoff  resolved[int64]
}

// Option configures a Model.
type Option func(*Model)

// WithMachine sets e_machine. The default is EM_XTENSA.
func WithMachine(machine elf.Machine) Option {
	return func(m *Model) {
		m.machine = machine
	}
}

// WithFlags sets the processor specific e_flags. The default is 0x300, which
// is what the Xtensa toolchain emits for the lx106 core.
func WithFlags(flags uint32) Option {
	return func(m *Model) {
		m.flags = flags
	}
}

// WithEntry sets the entry point address.
func WithEntry(addr uint32) Option {
	return func(m *Model) {
		m.entry = addr
	}
}

func NewModel(opts ...Option) *Model {
	m := &Model{
		machine: elf.EM_XTENSA,
		flags:   0x300,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Model) SetEntry(addr uint32) { m.entry = addr }

func (m *Model) Entry() uint32 { return m.entry }

func (m *Model) Segments() []*Segment { return m.segments }

// StringTable returns the .strtab table or nil if it wasn't created yet.
func (m *Model) StringTable() *StringTable { return m.strtab }

// SectionStringTable returns the .shstrtab table or nil if it wasn't created
// yet.
func (m *Model) SectionStringTable() *StringTable { return m.shstrtab }

// AddSegment appends a non-loadable segment.
func (m *Model) AddSegment(src Source) (*Segment, error) {
	if m.frozen {
		return nil, ErrFrozen
	}
	seg := &Segment{m: m, src: src}
	m.segments = append(m.segments, seg)
	return seg, nil
}

// AddProgramSegment appends a segment that is loaded at addr.
func (m *Model) AddProgramSegment(src Source, addr, align uint32, flags elf.ProgFlag) (*Segment, error) {
	seg, err := m.AddSegment(src)
	if err != nil {
		return nil, err
	}
	seg.setProgram(addr, align, flags)
	return seg, nil
}

// AddProgramSegmentFromFile appends size bytes at offset of the named file as
// a readable and executable segment loaded at addr. A size <= 0 takes the
// rest of the file.
func (m *Model) AddProgramSegmentFromFile(name string, addr, align uint32, offset, size int64) (*Segment, error) {
	src, err := NewFileSource(name, offset, size)
	if err != nil {
		return nil, err
	}
	return m.AddProgramSegment(src, addr, align, elf.PF_R|elf.PF_X)
}

// AddStringTables appends the .strtab and .shstrtab segments, in this order.
func (m *Model) AddStringTables() (strtab, shstrtab *StringTable, err error) {
	if m.strtab != nil || m.shstrtab != nil {
		return nil, nil, ErrDuplicateTable
	}
	strtab, err = m.addStringTable(".strtab")
	if err != nil {
		return
	}
	shstrtab, err = m.addStringTable(".shstrtab")
	if err != nil {
		return
	}
	m.strtab, m.shstrtab = strtab, shstrtab
	return
}

func (m *Model) addStringTable(name string) (*StringTable, error) {
	t := newStringTable(m)
	seg, err := m.AddSegment(t)
	if err != nil {
		return nil, err
	}
	t.sec, err = seg.AddSection(name, elf.SHT_STRTAB, 0, 0, RestOfSegment, 0)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// AddSymbolTable appends a .symtab segment.
func (m *Model) AddSymbolTable() (*SymbolTable, error) {
	t := &SymbolTable{m: m}
	seg, err := m.AddSegment(t)
	if err != nil {
		return nil, err
	}
	t.sec, err = seg.AddSection(".symtab", elf.SHT_SYMTAB, 0, 0, RestOfSegment, elf.Sym32Size)
	if err != nil {
		return nil, err
	}
	m.symtabs = append(m.symtabs, t)
	return t, nil
}

// ProgramSegmentCount returns the number of program header table entries.
func (m *Model) ProgramSegmentCount() (n int) {
	for _, seg := range m.segments {
		if seg.program {
			n++
		}
	}
	return
}

// SectionCount returns the number of sections, not counting the null
// section.
func (m *Model) SectionCount() (n int) {
	for _, seg := range m.segments {
		n += len(seg.sections)
	}
	return
}

type stringResolver interface {
	resolveStrings(strtab *StringTable) error
}

// Resolved is a model whose string tables are complete.
type Resolved struct{ m *Model }

// ResolveStrings adds all symbol names to .strtab and all section names to
// .shstrtab. Afterwards the model can't be modified anymore.
func (m *Model) ResolveStrings() (*Resolved, error) {
	if m.frozen {
		return nil, ErrFrozen
	}
	if m.strtab == nil {
		return nil, ErrNoStringTable
	}
	if m.shstrtab == nil {
		return nil, ErrNoSectionStringTable
	}
	m.frozen = true

	for _, seg := range m.segments {
		if r, ok := seg.src.(stringResolver); ok {
			if err := r.resolveStrings(m.strtab); err != nil {
				return nil, fmt.Errorf("build string table: %w", err)
			}
		}
	}
	for _, seg := range m.segments {
		for _, sec := range seg.sections {
			if err := sec.resolveName(m.shstrtab); err != nil {
				return nil, fmt.Errorf("build section string table: %w", err)
			}
		}
	}
	return &Resolved{m}, nil
}

// Arranged is a model with file offsets assigned to all segments.
type Arranged struct{ m *Model }

// Arrange places the segments after the ELF header and the program header
// table, padding each one to its alignment. The section header table follows
// the last segment.
func (r *Resolved) Arrange() *Arranged {
	m := r.m
	offset := int64(ehsize + phentsize*m.ProgramSegmentCount())
	for _, seg := range m.segments {
		var pad int64
		if align := int64(seg.align); align != 0 && offset%align != 0 {
			pad = align - offset%align
		}
		seg.padding.set(pad)
		seg.offset.set(offset + pad)
		offset += pad + seg.Len()
	}
	m.shoff.set(offset)
	return &Arranged{m}
}

// SectionHeaderOffset returns e_shoff.
func (a *Arranged) SectionHeaderOffset() int64 {
	return a.m.shoff.v
}

// Indexed is a model with all section indices assigned.
type Indexed struct{ m *Model }

// AssignIndices numbers the sections from 1 in segment order. Index 0 is the
// null section.
func (a *Arranged) AssignIndices() *Indexed {
	idx := uint16(1)
	for _, seg := range a.m.segments {
		for _, sec := range seg.sections {
			sec.index.set(idx)
			idx++
		}
	}
	return &Indexed{a.m}
}

// checkSectionCount rejects section counts that need extended section
// numbering, i.e. indices or e_shnum in the reserved range.
func (m *Model) checkSectionCount() error {
	if n := m.SectionCount() + 1; n >= int(elf.SHN_LORESERVE) {
		return fmt.Errorf("%d section headers: %w", n, ErrTooManySections)
	}
	return nil
}

// Link points the sh_link of every symbol table to the .strtab section.
func (x *Indexed) Link() (*Image, error) {
	if err := x.m.checkSectionCount(); err != nil {
		return nil, err
	}
	for _, t := range x.m.symtabs {
		if err := t.linkStringTable(x.m.strtab); err != nil {
			return nil, fmt.Errorf("link symbol table: %w", err)
		}
	}
	return &Image{x.m}, nil
}

// Build runs all layout phases.
func (m *Model) Build() (*Image, error) {
	r, err := m.ResolveStrings()
	if err != nil {
		return nil, err
	}
	return r.Arrange().AssignIndices().Link()
}
