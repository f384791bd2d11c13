// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source is a contiguous byte range that ends up verbatim in the output file.
type Source interface {
	Len() int64
	WriteTo(w io.Writer) (int64, error)
}

const copyChunk = 4096

// FileSource is a byte range of an external file. The file is only opened
// when the range is written.
type FileSource struct {
	name   string
	offset int64
	length int64
}

// NewFileSource checks that offset+length fits into the file and returns
// the range. A length <= 0 selects everything from offset to the end of the
// file.
func NewFileSource(name string, offset, length int64) (*FileSource, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("%s: offset (%d) beyond file size (%d): %w",
			name, offset, size, ErrSizeMismatch)
	}
	if length <= 0 {
		length = size - offset
	} else if size < offset+length {
		return nil, fmt.Errorf("%s: offset (%d) + size (%d) = %d which is more than the file size (%d): %w",
			name, offset, length, offset+length, size, ErrSizeMismatch)
	}
	return &FileSource{name, offset, length}, nil
}

func (s *FileSource) Len() int64 { return s.length }

func (s *FileSource) WriteTo(w io.Writer) (int64, error) {
	f, err := os.Open(s.name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sr := io.NewSectionReader(f, s.offset, s.length)
	n, err := io.CopyBuffer(w, sr, make([]byte, copyChunk))
	if err != nil {
		return n, err
	}
	if n != s.length {
		return n, fmt.Errorf("%s: %w", s.name, io.ErrUnexpectedEOF)
	}
	return n, nil
}

// MemorySource owns a growing in-memory buffer.
type MemorySource struct {
	data bytes.Buffer
}

// NewMemorySource returns a source initialized with a copy of data.
func NewMemorySource(data []byte) *MemorySource {
	s := &MemorySource{}
	s.data.Write(data)
	return s
}

func (s *MemorySource) Len() int64 { return int64(s.data.Len()) }

func (s *MemorySource) Bytes() []byte { return s.data.Bytes() }

func (s *MemorySource) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.data.Bytes())
	return int64(n), err
}
