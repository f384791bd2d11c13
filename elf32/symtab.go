// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// Symbol is an absolute symbol. It is always emitted with st_shndx SHN_ABS.
type Symbol struct {
	Name       string
	Value      uint32
	Size       uint32
	Bind       elf.SymBind
	Type       elf.SymType
	Visibility elf.SymVis

	nameOffset resolved[uint32]
}

// NameOffset returns the offset of the symbol name in the string table.
func (s *Symbol) NameOffset() (uint32, error) {
	return s.nameOffset.get(s.Name + ": name offset")
}

func (s *Symbol) entry() (sym elf.Sym32, err error) {
	name, err := s.NameOffset()
	if err != nil {
		return
	}
	return elf.Sym32{
		Name:  name,
		Value: s.Value,
		Size:  s.Size,
		Info:  elf.ST_INFO(s.Bind, s.Type),
		Other: uint8(s.Visibility),
		Shndx: uint16(elf.SHN_ABS),
	}, nil
}

// SymbolTable holds the symbols of the output file. Its names are stored in
// the general string table of the model. The table starts with the reserved
// undefined symbol, followed by the added symbols in insertion order.
type SymbolTable struct {
	m       *Model
	sec     *Section
	symbols []*Symbol
}

func (t *SymbolTable) Section() *Section { return t.sec }
func (t *SymbolTable) Symbols() []*Symbol { return t.symbols }
func (t *SymbolTable) Len() int64 { return int64(len(t.symbols)+1) * elf.Sym32Size }

// Add queues a symbol. Its name offset is assigned by Model.ResolveStrings.
// Local symbols must be added before all others.
func (t *SymbolTable) Add(name string, value, size uint32, bind elf.SymBind, typ elf.SymType, vis elf.SymVis) error {
	if t.m.frozen {
		return ErrFrozen
	}
	if _, err := encodeName(name); err != nil {
		return err
	}
	if n := len(t.symbols); bind == elf.STB_LOCAL && n > 0 && t.symbols[n-1].Bind != elf.STB_LOCAL {
		return fmt.Errorf("%s: %w", name, ErrSymbolOrder)
	}
	t.symbols = append(t.symbols, &Symbol{
		Name:       name,
		Value:      value,
		Size:       size,
		Bind:       bind,
		Type:       typ,
		Visibility: vis,
	})
	return nil
}

func (t *SymbolTable) resolveStrings(strtab *StringTable) error {
	for _, sym := range t.symbols {
		off, err := strtab.add(sym.Name)
		if err != nil {
			return err
		}
		sym.nameOffset.set(off)
	}
	return nil
}

func (t *SymbolTable) linkStringTable(strtab *StringTable) error {
	idx, err := strtab.sec.Index()
	if err != nil {
		return err
	}
	t.sec.link.set(uint32(idx))
	t.sec.info = t.firstNonLocal()
	return nil
}

// firstNonLocal returns the symbol index following the leading local
// symbols, as required for sh_info of SHT_SYMTAB.
func (t *SymbolTable) firstNonLocal() uint32 {
	n := uint32(1)
	for _, sym := range t.symbols {
		if sym.Bind != elf.STB_LOCAL {
			break
		}
		n++
	}
	return n
}

func (t *SymbolTable) WriteTo(w io.Writer) (int64, error) {
	syms := make([]elf.Sym32, 1, len(t.symbols)+1) // null symbol
	for _, sym := range t.symbols {
		e, err := sym.entry()
		if err != nil {
			return 0, err
		}
		syms = append(syms, e)
	}
	buf := bytes.NewBuffer(make([]byte, 0, t.Len()))
	if err := binary.Write(buf, binary.LittleEndian, syms); err != nil {
		return 0, err
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
