// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import (
	"debug/elf"
	"fmt"
	"io"
)

// Segment is a Source placed into the output file. Program segments
// additionally get a PT_LOAD entry in the program header table.
type Segment struct {
	m   *Model
	src Source

	program bool
	addr    uint32
	align   uint32
	flags   elf.ProgFlag

	sections []*Section

	offset  resolved[int64]
	padding resolved[int64]
}

func (s *Segment) Len() int64 { return s.src.Len() }
func (s *Segment) Source() Source { return s.src }
func (s *Segment) Program() bool { return s.program }
func (s *Segment) Addr() uint32 { return s.addr }
func (s *Segment) Align() uint32 { return s.align }
func (s *Segment) Sections() []*Section { return s.sections }
func (s *Segment) Offset() (int64, error) { return s.offset.get("segment offset") }
func (s *Segment) Padding() (int64, error) { return s.padding.get("segment padding") }
func (s *Segment) WriteTo(w io.Writer) (int64, error) { return s.src.WriteTo(w) }

// setProgram marks the segment as loadable at addr.
func (s *Segment) setProgram(addr, align uint32, flags elf.ProgFlag) {
	s.program = true
	s.addr = addr
	s.align = align
	s.flags = flags
}

// AddSection adds a section covering size bytes at offset within the
// segment. Use RestOfSegment to cover the remainder of the segment.
func (s *Segment) AddSection(name string, typ elf.SectionType, flags elf.SectionFlag, offset, size int64, entsize uint32) (*Section, error) {
	if s.m.frozen {
		return nil, ErrFrozen
	}
	if _, err := encodeName(name); err != nil {
		return nil, err
	}
	if err := checkRange(name, offset, size, s.Len()); err != nil {
		return nil, err
	}
	sec := &Section{
		seg:     s,
		name:    name,
		typ:     typ,
		flags:   flags,
		offset:  offset,
		size:    size,
		entsize: entsize,
	}
	s.sections = append(s.sections, sec)
	return sec, nil
}

// checkRange reports a section that doesn't lie within its segment.
func checkRange(name string, offset, size, seglen int64) error {
	switch {
	case offset < 0 || offset > seglen:
		return fmt.Errorf("%s: offset %d outside of segment (%d bytes): %w", name, offset, seglen, ErrSizeMismatch)
	case size < RestOfSegment:
		return fmt.Errorf("%s: invalid size %d: %w", name, size, ErrSizeMismatch)
	case size >= 0 && offset+size > seglen:
		return fmt.Errorf("%s: offset %d + size %d exceeds segment (%d bytes): %w", name, offset, size, seglen, ErrSizeMismatch)
	}
	return nil
}

func (s *Segment) progHeader() (ph elf.Prog32, err error) {
	off, err := s.Offset()
	if err != nil {
		return
	}
	n := uint32(s.Len())
	return elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Off:    uint32(off),
		Vaddr:  s.addr,
		Paddr:  s.addr,
		Filesz: n,
		Memsz:  n,
		Flags:  uint32(s.flags),
		Align:  s.align,
	}, nil
}
