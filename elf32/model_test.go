// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import (
	"bytes"
	"debug/elf"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// newScenario returns a model with a single 16 byte .text segment at
// 0x40000000, the string tables and a symbol table holding "reset".
func newScenario(t *testing.T) (*Model, []byte) {
	t.Helper()
	text := randomBytes(16)
	m := NewModel(WithEntry(0x40000080))
	seg, err := m.AddProgramSegmentFromFile(writeTemp(t, text), 0x40000000, 1, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	_, err = seg.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 0, RestOfSegment, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err = m.AddStringTables(); err != nil {
		t.Fatal(err)
	}
	symtab, err := m.AddSymbolTable()
	if err != nil {
		t.Fatal(err)
	}
	err = symtab.Add("reset", 0x40000080, 0, elf.STB_GLOBAL, elf.STT_FUNC, elf.STV_DEFAULT)
	if err != nil {
		t.Fatal(err)
	}
	return m, text
}

func build(t *testing.T, m *Model) []byte {
	t.Helper()
	img, err := m.Build()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := img.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(buf.Len()) || n != img.Size() {
		t.Fatalf("expected %d bytes, wrote %d (buffer %d)", img.Size(), n, buf.Len())
	}
	return buf.Bytes()
}

func TestScenario(t *testing.T) {
	m, text := newScenario(t)
	data := build(t, m)

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	expectedHeader := elf.FileHeader{
		Class:     elf.ELFCLASS32,
		Data:      elf.ELFDATA2LSB,
		Version:   elf.EV_CURRENT,
		OSABI:     elf.ELFOSABI_NONE,
		ByteOrder: f.ByteOrder,
		Type:      elf.ET_EXEC,
		Machine:   elf.EM_XTENSA,
		Entry:     0x40000080,
	}
	if diff := cmp.Diff(expectedHeader, f.FileHeader); diff != "" {
		t.Fatalf("file header mismatch (-want +got):\n%s", diff)
	}

	if len(f.Progs) != 1 {
		t.Fatalf("expected 1 program header, got %d", len(f.Progs))
	}
	expectedProg := elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  elf.PF_R | elf.PF_X,
		Off:    ehsize + phentsize,
		Vaddr:  0x40000000,
		Paddr:  0x40000000,
		Filesz: 16,
		Memsz:  16,
		Align:  1,
	}
	if diff := cmp.Diff(expectedProg, f.Progs[0].ProgHeader); diff != "" {
		t.Fatalf("program header mismatch (-want +got):\n%s", diff)
	}

	if len(f.Sections) != 5 {
		t.Fatalf("expected 5 sections, got %d", len(f.Sections))
	}
	type sec struct {
		Name string
		Type elf.SectionType
		Addr uint64
		Off  uint64
		Size uint64
		Link uint32
		Info uint32
	}
	var got []sec
	for _, s := range f.Sections {
		got = append(got, sec{s.Name, s.Type, s.Addr, s.Offset, s.Size, s.Link, s.Info})
	}
	expected := []sec{
		{"", elf.SHT_NULL, 0, 0, 0, 0, 0},
		{".text", elf.SHT_PROGBITS, 0x40000000, 84, 16, 0, 0},
		{".strtab", elf.SHT_STRTAB, 0, 100, 7, 0, 0},                    // "\0reset\0"
		{".shstrtab", elf.SHT_STRTAB, 0, 107, 33, 0, 0},                 // "\0.text\0.strtab\0.shstrtab\0.symtab\0"
		{".symtab", elf.SHT_SYMTAB, 0, 140, 2 * elf.Sym32Size, 2, 1},
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}

	textData, err := f.Section(".text").Data()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(textData, text) {
		t.Fatal(".text contents differ from input")
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	expectedSyms := []elf.Symbol{{
		Name:    "reset",
		Info:    elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
		Section: elf.SHN_ABS,
		Value:   0x40000080,
	}}
	if diff := cmp.Diff(expectedSyms, syms); diff != "" {
		t.Fatalf("symbols mismatch (-want +got):\n%s", diff)
	}

	if shoff := len(data) - 5*shentsize; shoff != 172 {
		t.Fatalf("expected section header table at 172, got %d", shoff)
	}
}

func TestArrange(t *testing.T) {
	type seg struct {
		len     int
		align   uint32
		program bool
	}
	tests := map[string][]seg{
		"noAlign":   {{16, 0, true}, {3, 0, true}, {7, 0, false}},
		"aligned":   {{16, 4, true}, {3, 4, true}, {5, 16, true}, {1, 8, false}},
		"alignOne":  {{1, 1, true}, {1, 1, true}, {1, 1, false}},
		"large":     {{100, 4096, true}, {4097, 4096, true}, {0, 64, false}, {3, 0, false}},
		"onlyTable": {{9, 0, false}},
	}
	for name, segs := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewModel()
			nprog := 0
			for _, s := range segs {
				src := NewMemorySource(make([]byte, s.len))
				var err error
				if s.program {
					nprog++
					_, err = m.AddProgramSegment(src, 0x1000, s.align, elf.PF_R)
				} else {
					var g *Segment
					g, err = m.AddSegment(src)
					if err == nil {
						g.align = s.align
					}
				}
				if err != nil {
					t.Fatal(err)
				}
			}
			if _, _, err := m.AddStringTables(); err != nil {
				t.Fatal(err)
			}
			r, err := m.ResolveStrings()
			if err != nil {
				t.Fatal(err)
			}
			a := r.Arrange()

			expected := int64(ehsize + phentsize*nprog)
			end := expected
			for i, g := range m.Segments() {
				off, err := g.Offset()
				if err != nil {
					t.Fatal(err)
				}
				pad, err := g.Padding()
				if err != nil {
					t.Fatal(err)
				}
				if off != expected+pad {
					t.Fatalf("segment %d: expected offset %d, got %d", i, expected+pad, off)
				}
				if off < end {
					t.Fatalf("segment %d overlaps previous segment", i)
				}
				if g.align > 0 && off%int64(g.align) != 0 {
					t.Fatalf("segment %d: offset %d not aligned to %d", i, off, g.align)
				}
				if g.align > 0 && pad >= int64(g.align) {
					t.Fatalf("segment %d: padding %d exceeds alignment %d", i, pad, g.align)
				}
				expected += pad + g.Len()
				end = off + g.Len()
			}
			if a.SectionHeaderOffset() != expected {
				t.Fatalf("expected section header offset %d, got %d", expected, a.SectionHeaderOffset())
			}
		})
	}
}

func TestAssignIndices(t *testing.T) {
	m := NewModel()
	for i := 0; i < 3; i++ {
		seg, err := m.AddProgramSegment(NewMemorySource(make([]byte, 8)), uint32(i)*8, 4, elf.PF_R)
		if err != nil {
			t.Fatal(err)
		}
		for j := 0; j < i; j++ {
			_, err := seg.AddSection(".sub", elf.SHT_PROGBITS, elf.SHF_ALLOC, int64(j), 1, 0)
			if err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, _, err := m.AddStringTables(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddSymbolTable(); err != nil {
		t.Fatal(err)
	}

	sections := func() (secs []*Section) {
		for _, seg := range m.Segments() {
			secs = append(secs, seg.Sections()...)
		}
		return
	}

	for _, sec := range sections() {
		if _, err := sec.Index(); !errors.Is(err, ErrUnresolved) {
			t.Fatalf("%s: expected %v, got %v", sec.Name(), ErrUnresolved, err)
		}
	}
	r, err := m.ResolveStrings()
	if err != nil {
		t.Fatal(err)
	}
	a := r.Arrange()
	for _, sec := range sections() {
		if _, err := sec.Index(); !errors.Is(err, ErrUnresolved) {
			t.Fatalf("%s: expected %v, got %v", sec.Name(), ErrUnresolved, err)
		}
	}

	a.AssignIndices()
	secs := sections()
	if len(secs) != m.SectionCount() || len(secs) != 6 {
		t.Fatalf("expected 6 sections, got %d", len(secs))
	}
	for i, sec := range secs {
		idx, err := sec.Index()
		if err != nil {
			t.Fatal(err)
		}
		if int(idx) != i+1 {
			t.Fatalf("%s: expected index %d, got %d", sec.Name(), i+1, idx)
		}
	}
}

func TestUnresolved(t *testing.T) {
	m, _ := newScenario(t)
	seg := m.Segments()[0]
	if _, err := seg.Offset(); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("offset: expected %v, got %v", ErrUnresolved, err)
	}
	if _, err := seg.Padding(); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("padding: expected %v, got %v", ErrUnresolved, err)
	}
	if _, err := seg.Sections()[0].NameOffset(); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("name offset: expected %v, got %v", ErrUnresolved, err)
	}
	sym := m.symtabs[0].Symbols()[0]
	if _, err := sym.NameOffset(); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("symbol name offset: expected %v, got %v", ErrUnresolved, err)
	}

	// Skipping Link leaves the .symtab link unresolved.
	r, err := m.ResolveStrings()
	if err != nil {
		t.Fatal(err)
	}
	r.Arrange().AssignIndices()
	_, err = (&Image{m}).WriteTo(io.Discard)
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("write: expected %v, got %v", ErrUnresolved, err)
	}

	off, err := sym.NameOffset()
	if err != nil || off != 1 {
		t.Fatalf("expected symbol name offset 1, got %d (%v)", off, err)
	}
}

func TestMissingTables(t *testing.T) {
	m := NewModel()
	if _, err := m.AddSegment(NewMemorySource([]byte{1})); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ResolveStrings(); !errors.Is(err, ErrNoStringTable) {
		t.Fatalf("expected %v, got %v", ErrNoStringTable, err)
	}

	m = NewModel()
	if _, err := m.Build(); !errors.Is(err, ErrNoStringTable) {
		t.Fatalf("expected %v, got %v", ErrNoStringTable, err)
	}

	m = NewModel()
	m.strtab = newStringTable(m)
	if _, err := m.ResolveStrings(); !errors.Is(err, ErrNoSectionStringTable) {
		t.Fatalf("expected %v, got %v", ErrNoSectionStringTable, err)
	}
}

func TestDuplicateTables(t *testing.T) {
	m := NewModel()
	if _, _, err := m.AddStringTables(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.AddStringTables(); !errors.Is(err, ErrDuplicateTable) {
		t.Fatalf("expected %v, got %v", ErrDuplicateTable, err)
	}
}

func TestFrozen(t *testing.T) {
	m, _ := newScenario(t)
	seg := m.Segments()[0]
	symtab := m.symtabs[0]
	if _, err := m.ResolveStrings(); err != nil {
		t.Fatal(err)
	}

	tests := map[string]func() error{
		"resolve": func() error {
			_, err := m.ResolveStrings()
			return err
		},
		"segment": func() error {
			_, err := m.AddSegment(NewMemorySource(nil))
			return err
		},
		"section": func() error {
			_, err := seg.AddSection(".late", elf.SHT_PROGBITS, 0, 0, RestOfSegment, 0)
			return err
		},
		"string": func() error {
			_, err := m.StringTable().Add("late")
			return err
		},
		"symbol": func() error {
			return symtab.Add("late", 0, 0, elf.STB_GLOBAL, elf.STT_FUNC, elf.STV_DEFAULT)
		},
		"symtab": func() error {
			_, err := m.AddSymbolTable()
			return err
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			if err := fn(); !errors.Is(err, ErrFrozen) {
				t.Fatalf("expected %v, got %v", ErrFrozen, err)
			}
		})
	}
}

func TestSectionAddr(t *testing.T) {
	m := NewModel(WithMachine(elf.EM_386), WithFlags(0))
	seg, err := m.AddProgramSegment(NewMemorySource(make([]byte, 16)), 0x3ffe8000, 4, elf.PF_R|elf.PF_W)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = seg.AddSection(".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 0, 4, 0); err != nil {
		t.Fatal(err)
	}
	if _, err = seg.AddSection(".bss_init", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 4, RestOfSegment, 0); err != nil {
		t.Fatal(err)
	}
	raw, err := m.AddSegment(NewMemorySource([]byte("note")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = raw.AddSection(".comment", elf.SHT_PROGBITS, 0, 0, RestOfSegment, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err = m.AddStringTables(); err != nil {
		t.Fatal(err)
	}

	f, err := elf.NewFile(bytes.NewReader(build(t, m)))
	if err != nil {
		t.Fatal(err)
	}
	if f.Machine != elf.EM_386 {
		t.Fatalf("expected machine %v, got %v", elf.EM_386, f.Machine)
	}
	tests := map[string]struct{ addr, size uint64 }{
		".data":     {0x3ffe8000, 4},
		".bss_init": {0x3ffe8004, 12},
		".comment":  {0, 4},
		".strtab":   {0, 1},
	}
	for name, tc := range tests {
		s := f.Section(name)
		if s == nil {
			t.Fatalf("missing section %s", name)
		}
		if s.Addr != tc.addr || s.Size != tc.size {
			t.Fatalf("%s: expected addr %#x size %d, got %#x %d", name, tc.addr, tc.size, s.Addr, s.Size)
		}
	}
	if d, _ := f.Section(".comment").Data(); string(d) != "note" {
		t.Fatalf("expected %q, got %q", "note", d)
	}
}

func TestPadding(t *testing.T) {
	m := NewModel()
	body := []byte{0xaa, 0xbb, 0xcc}
	seg, err := m.AddProgramSegment(NewMemorySource(body), 0x40100000, 16, elf.PF_R|elf.PF_X)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = seg.AddSection(".irom0.text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 0, RestOfSegment, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err = m.AddStringTables(); err != nil {
		t.Fatal(err)
	}
	data := build(t, m)

	// 52 + 32 = 84, aligned up to 96
	off, _ := seg.Offset()
	pad, _ := seg.Padding()
	if off != 96 || pad != 12 {
		t.Fatalf("expected offset 96 padding 12, got %d %d", off, pad)
	}
	if !bytes.Equal(data[84:96], make([]byte, 12)) {
		t.Fatal("padding is not zero filled")
	}
	if !bytes.Equal(data[96:99], body) {
		t.Fatal("segment contents misplaced")
	}
}

func TestWriteFile(t *testing.T) {
	m, text := newScenario(t)
	img, err := m.Build()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	name := filepath.Join(dir, "rom.elf")
	if err := img.WriteFile(name); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "rom.elf" {
		t.Fatalf("expected only rom.elf in output directory, got %v", entries)
	}

	f, err := elf.Open(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f.Progs[0].Open())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, text) {
		t.Fatal("program segment contents differ from input")
	}
}

func TestWriteFileFailure(t *testing.T) {
	m, _ := newScenario(t)
	img, err := m.Build()
	if err != nil {
		t.Fatal(err)
	}
	// Remove the input, writing the segment fails.
	src := m.Segments()[0].Source().(*FileSource)
	if err := os.Remove(src.name); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	name := filepath.Join(dir, "rom.elf")
	if err := img.WriteFile(name); err == nil {
		t.Fatal("expected error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty output directory, got %v", entries)
	}
}

// shrinkingSource is a zero filled source whose length can change after
// sections were added to it.
type shrinkingSource struct{ n int64 }

func (s *shrinkingSource) Len() int64 { return s.n }

func (s *shrinkingSource) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(make([]byte, s.n))
	return int64(n), err
}

func TestSectionRange(t *testing.T) {
	tests := map[string]struct {
		offset, size int64
		err          error
	}{
		"whole":          {0, RestOfSegment, nil},
		"exact":          {8, 8, nil},
		"emptyAtEnd":     {16, 0, nil},
		"restAtEnd":      {16, RestOfSegment, nil},
		"pastEnd":        {8, 4096, ErrSizeMismatch},
		"oneTooMany":     {8, 9, ErrSizeMismatch},
		"negativeOffset": {-1, 4, ErrSizeMismatch},
		"offsetBeyond":   {17, RestOfSegment, ErrSizeMismatch},
		"negativeSize":   {0, -2, ErrSizeMismatch},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewModel()
			seg, err := m.AddProgramSegment(NewMemorySource(make([]byte, 16)), 0x40100000, 4, elf.PF_R)
			if err != nil {
				t.Fatal(err)
			}
			_, err = seg.AddSection(".sec", elf.SHT_PROGBITS, elf.SHF_ALLOC, tc.offset, tc.size, 0)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if len(seg.Sections()) != 0 && err != nil {
				t.Fatal("rejected section was added")
			}
		})
	}

	// The segment shrank after the section was added.
	src := &shrinkingSource{16}
	m := NewModel()
	seg, err := m.AddProgramSegment(src, 0x40100000, 4, elf.PF_R)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = seg.AddSection(".sec", elf.SHT_PROGBITS, elf.SHF_ALLOC, 8, 8, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err = m.AddStringTables(); err != nil {
		t.Fatal(err)
	}
	src.n = 4
	img, err := m.Build()
	if err != nil {
		t.Fatal(err)
	}
	if _, err = img.WriteTo(io.Discard); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected %v, got %v", ErrSizeMismatch, err)
	}
}

func TestSymbolOrder(t *testing.T) {
	m, _ := newScenario(t)
	symtab, err := m.AddSymbolTable()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"_local_a", "_local_b"} {
		if err = symtab.Add(name, 0, 0, elf.STB_LOCAL, elf.STT_NOTYPE, elf.STV_DEFAULT); err != nil {
			t.Fatal(err)
		}
	}
	if err = symtab.Add("ets_printf", 0x400024cc, 0, elf.STB_GLOBAL, elf.STT_FUNC, elf.STV_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if err = symtab.Add("ets_weak", 0x400024d0, 0, elf.STB_WEAK, elf.STT_FUNC, elf.STV_DEFAULT); err != nil {
		t.Fatal(err)
	}
	err = symtab.Add("_local_c", 0, 0, elf.STB_LOCAL, elf.STT_NOTYPE, elf.STV_DEFAULT)
	if !errors.Is(err, ErrSymbolOrder) {
		t.Fatalf("expected %v, got %v", ErrSymbolOrder, err)
	}
	if n := len(symtab.Symbols()); n != 4 {
		t.Fatalf("expected 4 symbols, got %d", n)
	}

	f, err := elf.NewFile(bytes.NewReader(build(t, m)))
	if err != nil {
		t.Fatal(err)
	}
	var infos []uint32
	for _, s := range f.Sections {
		if s.Type == elf.SHT_SYMTAB {
			infos = append(infos, s.Info)
		}
	}
	// "reset" only; null + 2 locals
	if diff := cmp.Diff([]uint32{1, 3}, infos); diff != "" {
		t.Fatalf("sh_info mismatch (-want +got):\n%s", diff)
	}
}

func TestTooManySections(t *testing.T) {
	// n sections plus the null section
	newModel := func(n int) *Model {
		m := NewModel()
		if _, _, err := m.AddStringTables(); err != nil {
			t.Fatal(err)
		}
		seg, err := m.AddSegment(NewMemorySource([]byte{0}))
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < n-2; i++ {
			if _, err := seg.AddSection(".s", elf.SHT_PROGBITS, 0, 0, 0, 0); err != nil {
				t.Fatal(err)
			}
		}
		return m
	}

	if _, err := newModel(int(elf.SHN_LORESERVE) - 2).Build(); err != nil {
		t.Fatalf("expected %d sections to fit, got %v", int(elf.SHN_LORESERVE)-2, err)
	}
	if _, err := newModel(int(elf.SHN_LORESERVE) - 1).Build(); !errors.Is(err, ErrTooManySections) {
		t.Fatalf("expected %v, got %v", ErrTooManySections, err)
	}
}
