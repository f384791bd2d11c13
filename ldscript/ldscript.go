// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ldscript extracts absolute symbol assignments from linker scripts,
// like the ROM symbol tables shipped with the ESP8266 SDK:
//
//	PROVIDE ( Cache_Read_Disable = 0x400047f0 );
//
// Everything else in the script is ignored.
package ldscript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
)

var ErrValue = errors.New("invalid address")

// Assignment is a symbol defined to an absolute address.
type Assignment struct {
	Name   string
	Addr   uint32
	Hidden bool // PROVIDE_HIDDEN
	Line   int
}

var (
	provideRe = regexp.MustCompile(`^\s*(PROVIDE|PROVIDE_HIDDEN)\s*\(\s*([^\s=]+)\s*=\s*([^\s)]+)\s*\)\s*;`)
	assignRe  = regexp.MustCompile(`^\s*([A-Za-z_.$][A-Za-z0-9_.$]*)\s*=\s*([^\s;]+)\s*;`)
)

// Parse returns the assignments of the script in the order they appear.
// PROVIDE values are hexadecimal, with or without 0x prefix. Bare assignments
// take decimal or 0x prefixed literals; other expressions are skipped.
func Parse(r io.Reader) (syms []Assignment, err error) {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		var (
			name, value string
			hidden      bool
			addr        uint32
			err         error
		)
		if m := provideRe.FindStringSubmatch(text); m != nil {
			name, value, hidden = m[2], m[3], m[1] == "PROVIDE_HIDDEN"
			addr, err = parseHex(value)
		} else if m := assignRe.FindStringSubmatch(text); m != nil {
			name, value = m[1], m[2]
			if name == "." || !isNumber(value) {
				continue // location counter or expression
			}
			addr, err = parseNumber(value)
		} else {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %s = %s: %w", line, name, value, err)
		}
		syms = append(syms, Assignment{name, addr, hidden, line})
	}
	return syms, scanner.Err()
}

// ParseFile parses the linker script at path.
func ParseFile(path string) ([]Assignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	syms, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return syms, nil
}

// parseHex parses PROVIDE values, which the SDK scripts write in hex with
// or without 0x prefix.
func parseHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, ErrValue
	}
	return uint32(v), nil
}

func isNumber(s string) bool {
	return s[0] >= '0' && s[0] <= '9'
}

// parseNumber parses a literal the way ld does: decimal, or hex with 0x.
func parseNumber(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, ErrValue
	}
	return uint32(v), nil
}
