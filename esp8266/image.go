// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package esp8266 reads the firmware image format of the ESP8266 boot ROM.
//
// An image starts with an 8 byte header, followed by the segments, each with
// its own 8 byte header. The last byte of the 16 byte block following the
// segments holds an XOR checksum over all segment data.
package esp8266

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	ImageMagic   = 0xe9
	ChecksumSeed = 0xef

	// AppOffset is the flash offset of the application image when a
	// second stage bootloader occupies the start of the flash.
	AppOffset = 0x1000
)

var (
	ErrMagic    = errors.New("not an image header")
	ErrChecksum = errors.New("checksum mismatch")
)

type imageHeader struct {
	Magic         uint8
	Segments      uint8
	FlashMode     FlashMode
	FlashSizeFreq uint8
	Entry         uint32
}

type segmentHeader struct {
	Addr uint32
	Size uint32
}

// Segment is a range of the image file which the boot ROM loads to Addr.
type Segment struct {
	Offset int64 // of the data in the file, not of the segment header
	Size   uint32
	Addr   uint32
}

// Image describes a firmware image.
type Image struct {
	Entry         uint32
	FlashMode     FlashMode
	FlashSizeFreq uint8
	Segments      []Segment

	Checksum    uint8 // as stored in the image
	hasChecksum bool
	computed    checksum
}

type checksum uint8

func (c *checksum) Write(p []byte) (int, error) {
	for _, b := range p {
		*c ^= checksum(b)
	}
	return len(p), nil
}

// ReadImage reads the image that starts at base in r.
func ReadImage(r io.ReadSeeker, base int64) (*Image, error) {
	if _, err := r.Seek(base, io.SeekStart); err != nil {
		return nil, err
	}

	var hdr imageHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("image header: %w", err)
	}
	if hdr.Magic != ImageMagic {
		return nil, fmt.Errorf("magic %#02x at %#x: %w", hdr.Magic, base, ErrMagic)
	}

	img := &Image{
		Entry:         hdr.Entry,
		FlashMode:     hdr.FlashMode,
		FlashSizeFreq: hdr.FlashSizeFreq,
		Segments:      make([]Segment, 0, hdr.Segments),
		computed:      ChecksumSeed,
	}
	for i := 0; i < int(hdr.Segments); i++ {
		var sh segmentHeader
		if err := binary.Read(r, binary.LittleEndian, &sh); err != nil {
			return nil, fmt.Errorf("segment #%d header: %w", i, err)
		}
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		n, err := io.CopyN(&img.computed, r, int64(sh.Size))
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, fmt.Errorf("segment #%d: read %d of %d bytes: %w", i, n, sh.Size, err)
		}
		img.Segments = append(img.Segments, Segment{pos, sh.Size, sh.Addr})
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if _, err = r.Seek(15-(pos-base)%16, io.SeekCurrent); err != nil {
		return nil, err
	}
	var b [1]byte
	if _, err = io.ReadFull(r, b[:]); err == nil {
		img.Checksum, img.hasChecksum = b[0], true
	}

	return img, nil
}

// Verify compares the stored checksum with the one computed over the segment
// data.
func (img *Image) Verify() error {
	if !img.hasChecksum {
		return fmt.Errorf("no checksum stored: %w", ErrChecksum)
	}
	if img.Checksum != uint8(img.computed) {
		return fmt.Errorf("stored %#02x, computed %#02x: %w", img.Checksum, uint8(img.computed), ErrChecksum)
	}
	return nil
}

// Size returns the total number of segment bytes.
func (img *Image) Size() (n int64) {
	for _, s := range img.Segments {
		n += int64(s.Size)
	}
	return
}
