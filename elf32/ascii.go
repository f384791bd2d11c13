// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// ASCII is the encoding of section and symbol names. Encoding fails for
// anything outside of 7-bit ASCII and for NUL, which terminates names in a
// string table.
var ASCII encoding.Encoding = &ascii{}

type ascii struct{}

func (m *ascii) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: &asciiDecoder{}}
}

func (m *ascii) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: &asciiEncoder{}}
}

type asciiDecoder struct{ transform.NopResetter }

func (d *asciiDecoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for _, c := range src {
		if c >= 0x80 {
			c = '?'
		}
		if nDst >= len(dst) {
			err = transform.ErrShortDst
			return
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return
}

type asciiEncoder struct{ transform.NopResetter }

func (e *asciiEncoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for _, c := range src {
		if c == 0 || c >= 0x80 {
			err = ErrName
			return
		}
		if nDst >= len(dst) {
			err = transform.ErrShortDst
			return
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return
}

// encodeName returns the on-disk bytes of a section or symbol name.
func encodeName(name string) ([]byte, error) {
	b, err := ASCII.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("%q: %w", name, ErrName)
	}
	return b, nil
}
