// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import "debug/elf"

// RestOfSegment as section size lets the section span from its offset to the
// end of its segment.
const RestOfSegment = -1

// Section is a named view on a part of a segment. It doesn't own any bytes.
type Section struct {
	seg *Segment

	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	offset  int64 // within seg
	size    int64
	entsize uint32
	link    resolved[uint32]
	info    uint32

	nameOffset resolved[uint32]
	index      resolved[uint16]
}

func (s *Section) Name() string { return s.name }
func (s *Section) Type() elf.SectionType { return s.typ }
func (s *Section) Flags() elf.SectionFlag { return s.flags }
func (s *Section) Segment() *Segment { return s.seg }
func (s *Section) NameOffset() (uint32, error) { return s.nameOffset.get(s.name + ": name offset") }

// Index returns the position of the section in the section header table.
func (s *Section) Index() (uint16, error) {
	return s.index.get(s.name + ": section index")
}

// Size returns the declared size or the remaining segment length.
func (s *Section) Size() int64 {
	if s.size >= 0 {
		return s.size
	}
	return s.seg.Len() - s.offset
}

func (s *Section) resolveName(shstrtab *StringTable) (err error) {
	off, err := shstrtab.add(s.name)
	if err != nil {
		return err
	}
	s.nameOffset.set(off)
	return nil
}

func (s *Section) header() (sh elf.Section32, err error) {
	name, err := s.NameOffset()
	if err != nil {
		return
	}
	segoff, err := s.seg.Offset()
	if err != nil {
		return
	}
	var link uint32
	if s.link.ok || s.typ == elf.SHT_SYMTAB {
		link, err = s.link.get(s.name + ": link")
		if err != nil {
			return
		}
	}

	var addr uint32
	if s.seg.program {
		addr = s.seg.addr + uint32(s.offset)
	}
	if err = checkRange(s.name, s.offset, s.size, s.seg.Len()); err != nil {
		return
	}
	size := s.Size()

	return elf.Section32{
		Name:    name,
		Type:    uint32(s.typ),
		Flags:   uint32(s.flags),
		Addr:    addr,
		Off:     uint32(segoff + s.offset),
		Size:    uint32(size),
		Link:    link,
		Info:    s.info,
		Entsize: s.entsize,
	}, nil
}
