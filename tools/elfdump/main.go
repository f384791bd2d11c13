// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfdump

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/sigurn/crc8"
)

const usageString = `Prints the headers, sections and symbols of an ELF file.

Usage: %s [flags] <elffile>

`

var (
	flags = flag.NewFlagSet("dump", flag.ExitOnError)

	infile string
	syms   = flags.Bool("syms", true, "print the symbol table")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "dump")
	flags.PrintDefaults()
}

var crcTable = crc8.MakeTable(crc8.CRC8)

// checksum returns the CRC-8 of the section contents, or "-" for sections
// without file data.
func checksum(s *elf.Section) (string, error) {
	if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
		return "-", nil
	}
	buf := make([]byte, 4096)
	r := s.Open()
	csum := crc8.Init(crcTable)
	for {
		n, err := r.Read(buf)
		csum = crc8.Update(csum, buf[:n], crcTable)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return fmt.Sprintf("%02x", crc8.Complete(csum, crcTable)), nil
}

func hex(v uint64) string { return fmt.Sprintf("0x%08x", v) }

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

// Dump writes a human readable description of f to w.
func Dump(w io.Writer, f *elf.File, withSymbols bool) error {
	fmt.Fprintf(w, "Class:   %v\n", f.Class)
	fmt.Fprintf(w, "Data:    %v\n", f.Data)
	fmt.Fprintf(w, "Type:    %v\n", f.Type)
	fmt.Fprintf(w, "Machine: %v\n", f.Machine)
	fmt.Fprintf(w, "Entry:   %s\n", hex(f.Entry))
	fmt.Fprintln(w)

	table := newTable(w, "#", "Type", "Offset", "VirtAddr", "FileSiz", "MemSiz", "Flags", "Align")
	for i, p := range f.Progs {
		table.Append([]string{
			strconv.Itoa(i),
			p.Type.String(),
			hex(p.Off),
			hex(p.Vaddr),
			humanize.Bytes(p.Filesz),
			humanize.Bytes(p.Memsz),
			p.Flags.String(),
			strconv.FormatUint(p.Align, 10),
		})
	}
	table.Render()
	fmt.Fprintln(w)

	table = newTable(w, "#", "Name", "Type", "Addr", "Offset", "Size", "Link", "Info", "CRC8")
	for i, s := range f.Sections {
		csum, err := checksum(s)
		if err != nil {
			return err
		}
		table.Append([]string{
			strconv.Itoa(i),
			s.Name,
			s.Type.String(),
			hex(s.Addr),
			hex(s.Offset),
			strconv.FormatUint(s.Size, 10),
			strconv.FormatUint(uint64(s.Link), 10),
			strconv.FormatUint(uint64(s.Info), 10),
			csum,
		})
	}
	table.Render()

	if !withSymbols {
		return nil
	}
	symbols, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil
	} else if err != nil {
		return err
	}
	fmt.Fprintln(w)
	table = newTable(w, "Value", "Size", "Bind", "Type", "Vis", "Ndx", "Name")
	for _, s := range symbols {
		ndx := strconv.Itoa(int(s.Section))
		if s.Section == elf.SHN_ABS || s.Section == elf.SHN_UNDEF {
			ndx = s.Section.String()
		}
		table.Append([]string{
			hex(s.Value),
			strconv.FormatUint(s.Size, 10),
			elf.ST_BIND(s.Info).String(),
			elf.ST_TYPE(s.Info).String(),
			elf.ST_VISIBILITY(s.Other).String(),
			ndx,
			s.Name,
		})
	}
	table.Render()
	return nil
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() == 1 {
		infile = flags.Arg(0)
	} else {
		flags.Usage()
		os.Exit(1)
	}

	f, err := elf.Open(infile)
	if err != nil {
		log.Fatalln(err)
	}
	defer f.Close()

	err = Dump(os.Stdout, f, *syms)
	if err != nil {
		log.Fatalln("dump:", err)
	}
}
