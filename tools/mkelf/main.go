// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mkelf

import (
	"debug/elf"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/bucienator/esp8266-elf/elf32"
	"github.com/bucienator/esp8266-elf/esp8266"
	"github.com/bucienator/esp8266-elf/ldscript"
	"github.com/dustin/go-humanize"
	"github.com/xyproto/env/v2"
)

const usageString = `ESP8266 firmware to ELF converter.

Combines the boot ROM dump, the segments of the flash image and the ROM
symbols from the SDK linker script into a single ELF file. Inputs set to ""
are skipped.

Usage: %s [flags]

`

var (
	flags = flag.NewFlagSet("build", flag.ExitOnError)

	outfile    = flags.String("o", env.Str("ESPELF_OUTPUT", "rom.elf"), "output ELF `file`")
	romfile    = flags.String("rom", env.Str("ESPELF_ROM", "rom.bin"), "boot ROM dump")
	romaddr    = flags.Uint("rom-addr", 0x4000_0000, "load address of the boot ROM")
	flashfile  = flags.String("flash", env.Str("ESPELF_FLASH", "flash.bin"), "flash dump")
	bootloader = flags.Bool("bootloader", env.Bool("ESPELF_BOOTLOADER"), "read the image at the start of the flash instead of the application image at 0x1000")
	ldfile     = flags.String("ld", env.Str("ESPELF_LD", "eagle.rom.addr.v6.ld"), "linker script with ROM symbols")
	align      = flags.Uint("align", 1, "alignment of program segments in the ELF file")
	verify     = flags.Bool("verify", false, "fail if the flash image checksum doesn't match")
	hexfile    = flags.String("hex", "", "also write program segments as Intel HEX to `file`")
	run        = flags.String("run", "", "Run command with the ELF file as last argument")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "build")
	flags.PrintDefaults()
}

// Config selects the inputs of an ELF file.
type Config struct {
	ROM        string
	ROMAddr    uint32
	Flash      string
	Bootloader bool
	LDScript   string
	Align      uint32
	Verify     bool
}

// Build lays out the ELF file: the boot ROM as .text, each flash image
// segment as .flashN, the string tables and the symbol table.
func Build(cfg Config) (*elf32.Image, error) {
	m := elf32.NewModel()
	text := elf.SHF_ALLOC | elf.SHF_EXECINSTR

	if cfg.ROM != "" {
		seg, err := m.AddProgramSegmentFromFile(cfg.ROM, cfg.ROMAddr, cfg.Align, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("rom: %w", err)
		}
		if _, err = seg.AddSection(".text", elf.SHT_PROGBITS, text, 0, elf32.RestOfSegment, 0); err != nil {
			return nil, err
		}
	}

	if cfg.Flash != "" {
		img, err := readFlashImage(cfg.Flash, cfg.Bootloader)
		if err != nil {
			return nil, fmt.Errorf("flash: %w", err)
		}
		if err = img.Verify(); err != nil {
			if cfg.Verify {
				return nil, fmt.Errorf("flash: %w", err)
			}
			log.Println("warning: flash:", err)
		}
		m.SetEntry(img.Entry)

		for i, s := range img.Segments {
			if s.Size == 0 {
				log.Printf("skipping empty segment #%d at 0x%08x", i, s.Addr)
				continue
			}
			seg, err := m.AddProgramSegmentFromFile(cfg.Flash, s.Addr, cfg.Align, s.Offset, int64(s.Size))
			if err != nil {
				return nil, fmt.Errorf("flash: segment #%d: %w", i, err)
			}
			name := fmt.Sprintf(".flash%d", i)
			if _, err = seg.AddSection(name, elf.SHT_PROGBITS, text, 0, elf32.RestOfSegment, 0); err != nil {
				return nil, err
			}
		}
	}

	if _, _, err := m.AddStringTables(); err != nil {
		return nil, err
	}
	symtab, err := m.AddSymbolTable()
	if err != nil {
		return nil, err
	}
	if cfg.LDScript != "" {
		syms, err := ldscript.ParseFile(cfg.LDScript)
		if err != nil {
			return nil, err
		}
		for _, sym := range syms {
			vis := elf.STV_DEFAULT
			if sym.Hidden {
				vis = elf.STV_HIDDEN
			}
			err = symtab.Add(sym.Name, sym.Addr, 0, elf.STB_GLOBAL, elf.STT_FUNC, vis)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", cfg.LDScript, sym.Line, err)
			}
		}
		log.Printf("%d symbols from %s", len(syms), cfg.LDScript)
	}

	return m.Build()
}

func readFlashImage(name string, bootloader bool) (*esp8266.Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := int64(esp8266.AppOffset)
	if bootloader {
		base = 0
	}
	img, err := esp8266.ReadImage(f, base)
	if err != nil {
		return nil, err
	}

	log.Printf("flash mode %v, size %s, frequency %s, entry 0x%08x",
		img.FlashMode, img.FlashSize(), img.FlashFreq(), img.Entry)
	for i, s := range img.Segments {
		log.Printf("segment #%d at 0x%08x size 0x%08x", i, s.Addr, s.Size)
	}
	return img, nil
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() != 0 {
		flags.Usage()
		os.Exit(1)
	}
	if *romaddr > 0xffff_ffff || *align > 0xffff_ffff {
		log.Fatalln("address and alignment must fit in 32 bits")
	}

	img, err := Build(Config{
		ROM:        *romfile,
		ROMAddr:    uint32(*romaddr),
		Flash:      *flashfile,
		Bootloader: *bootloader,
		LDScript:   *ldfile,
		Align:      uint32(*align),
		Verify:     *verify,
	})
	if err != nil {
		log.Fatalln("build:", err)
	}

	err = img.WriteFile(*outfile)
	if err != nil {
		log.Fatalln("write elf:", err)
	}
	log.Printf("wrote %s (%s)", *outfile, humanize.Bytes(uint64(img.Size())))

	if *hexfile != "" {
		err = writeIntelHex(*hexfile, img)
		if err != nil {
			log.Fatalln("write hex:", err)
		}
	}

	if *run != "" {
		err = runCommand(*run, *outfile)
		if err != nil {
			log.Fatalln("run:", err)
		}
	}
}
