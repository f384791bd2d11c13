// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mkelf

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/bucienator/esp8266-elf/elf32"
	"github.com/marcinbor85/gohex"
)

const hexLineLength = 16

// dumpIntelHex writes the program segments of img at their load addresses
// with the entry point as start address.
func dumpIntelHex(w io.Writer, img *elf32.Image) error {
	mem := gohex.NewMemory()
	mem.SetStartAddress(img.Entry())

	var buf bytes.Buffer
	for _, seg := range img.ProgramSegments() {
		buf.Reset()
		if _, err := seg.WriteTo(&buf); err != nil {
			return err
		}
		if err := mem.AddBinary(seg.Addr(), bytes.Clone(buf.Bytes())); err != nil {
			return fmt.Errorf("segment at 0x%08x: %w", seg.Addr(), err)
		}
	}
	return mem.DumpIntelHex(w, hexLineLength)
}

func writeIntelHex(name string, img *elf32.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	err = dumpIntelHex(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
