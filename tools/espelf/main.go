// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/bucienator/esp8266-elf/tools/elfdump"
	"github.com/bucienator/esp8266-elf/tools/mkelf"
)

const usageString = `espelf turns ESP8266 ROM and flash dumps into ELF files for use with
disassemblers and debuggers.

Usage:

	%s <command> [arguments]

The commands are:

	build    combine ROM, flash image and ROM symbols into an ELF file
	dump     print headers, sections and symbols of an ELF file

Defaults of the build command can be set with the ESPELF_OUTPUT, ESPELF_ROM,
ESPELF_FLASH, ESPELF_LD and ESPELF_BOOTLOADER environment variables.
`

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	log.Default().SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "build":
		mkelf.Main(flag.Args())
	case "dump":
		elfdump.Main(flag.Args())
	default:
		fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}
