// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Image is a fully resolved model, ready to be written.
type Image struct{ m *Model }

func (img *Image) Entry() uint32 { return img.m.entry }

func (img *Image) Segments() []*Segment { return img.m.segments }

// ProgramSegments returns the segments that have a program header.
func (img *Image) ProgramSegments() []*Segment {
	var segs []*Segment
	for _, seg := range img.m.segments {
		if seg.program {
			segs = append(segs, seg)
		}
	}
	return segs
}

// Size returns the size of the output file.
func (img *Image) Size() int64 {
	return img.m.shoff.v + int64(img.m.SectionCount()+1)*shentsize
}

func (img *Image) header() (hdr elf.Header32, err error) {
	m := img.m
	shoff, err := m.shoff.get("section header offset")
	if err != nil {
		return
	}
	if img.Size() > math.MaxUint32 {
		return hdr, fmt.Errorf("image size %d exceeds 32-bit offsets", img.Size())
	}
	if m.shstrtab == nil {
		return hdr, ErrNoSectionStringTable
	}
	if err = m.checkSectionCount(); err != nil {
		return
	}
	shstrndx, err := m.shstrtab.sec.Index()
	if err != nil {
		return
	}

	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = uint8(elf.ELFOSABI_NONE)

	hdr.Type = uint16(elf.ET_EXEC)
	hdr.Machine = uint16(m.machine)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Entry = m.entry
	hdr.Phoff = ehsize
	hdr.Shoff = uint32(shoff)
	hdr.Flags = m.flags
	hdr.Ehsize = ehsize
	hdr.Phentsize = phentsize
	hdr.Phnum = uint16(m.ProgramSegmentCount())
	hdr.Shentsize = shentsize
	hdr.Shnum = uint16(m.SectionCount() + 1)
	hdr.Shstrndx = shstrndx
	return
}

// headers serializes the file header and the program header table followed
// by the section header table. Nothing is returned unless every value
// could be resolved.
func (img *Image) headers() (head, tail []byte, err error) {
	hdr, err := img.header()
	if err != nil {
		return
	}
	var progs []elf.Prog32
	shdrs := []elf.Section32{{}} // null section
	for _, seg := range img.m.segments {
		if _, err = seg.Padding(); err != nil {
			return
		}
		if seg.program {
			ph, err := seg.progHeader()
			if err != nil {
				return nil, nil, err
			}
			progs = append(progs, ph)
		}
		for _, sec := range seg.sections {
			sh, err := sec.header()
			if err != nil {
				return nil, nil, err
			}
			shdrs = append(shdrs, sh)
		}
	}

	hb := bytes.NewBuffer(make([]byte, 0, ehsize+phentsize*len(progs)))
	if err = binary.Write(hb, binary.LittleEndian, hdr); err != nil {
		return
	}
	if err = binary.Write(hb, binary.LittleEndian, progs); err != nil {
		return
	}
	tb := bytes.NewBuffer(make([]byte, 0, shentsize*len(shdrs)))
	if err = binary.Write(tb, binary.LittleEndian, shdrs); err != nil {
		return
	}
	return hb.Bytes(), tb.Bytes(), nil
}

var zeros [4096]byte

// WriteTo writes the complete ELF file to w.
func (img *Image) WriteTo(w io.Writer) (n int64, err error) {
	head, tail, err := img.headers()
	if err != nil {
		return 0, err
	}

	write := func(b []byte) error {
		m, err := w.Write(b)
		n += int64(m)
		return err
	}

	if err = write(head); err != nil {
		return
	}
	for _, seg := range img.m.segments {
		for pad := seg.padding.v; pad > 0; {
			m := min(pad, int64(len(zeros)))
			if err = write(zeros[:m]); err != nil {
				return
			}
			pad -= m
		}
		var k int64
		k, err = seg.WriteTo(w)
		n += k
		if err != nil {
			return
		}
		if k != seg.Len() {
			return n, fmt.Errorf("segment at %#x: wrote %d of %d bytes: %w",
				seg.offset.v, k, seg.Len(), io.ErrShortWrite)
		}
	}
	err = write(tail)
	return
}

// WriteFile writes the image to a temporary file next to name and renames it
// to name on success, so name is never left with partial contents.
func (img *Image) WriteFile(name string) (err error) {
	f, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	bw := bufio.NewWriter(f)
	if _, err = img.WriteTo(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), name)
}
