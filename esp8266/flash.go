// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package esp8266

import "fmt"

// FlashMode is the SPI flash access mode from the image header.
type FlashMode uint8

const (
	FlashQIO FlashMode = iota
	FlashQOUT
	FlashDIO
	FlashDOUT
)

func (m FlashMode) String() string {
	switch m {
	case FlashQIO:
		return "QIO"
	case FlashQOUT:
		return "QOUT"
	case FlashDIO:
		return "DIO"
	case FlashDOUT:
		return "DOUT"
	}
	return fmt.Sprintf("FlashMode(%d)", uint8(m))
}

var flashSizes = map[uint8]string{
	0x0: "512KB",
	0x1: "256KB",
	0x2: "1MB",
	0x3: "2MB",
	0x4: "4MB",
	0x5: "2MB-c1",
	0x6: "4MB-c1",
	0x8: "8MB",
	0x9: "16MB",
}

var flashFreqs = map[uint8]string{
	0x0: "40m",
	0x1: "26m",
	0x2: "20m",
	0xf: "80m",
}

// FlashSize decodes the high nibble of the size/frequency byte.
func (img *Image) FlashSize() string {
	if s, ok := flashSizes[img.FlashSizeFreq>>4]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%#x)", img.FlashSizeFreq>>4)
}

// FlashFreq decodes the low nibble of the size/frequency byte.
func (img *Image) FlashFreq() string {
	if s, ok := flashFreqs[img.FlashSizeFreq&0xf]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%#x)", img.FlashSizeFreq&0xf)
}
