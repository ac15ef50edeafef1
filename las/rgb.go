// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package las

import (
	"encoding/binary"

	"github.com/SnellerInc/laz/internal/arith"
	"github.com/SnellerInc/laz/ints"
)

// The RGB item is three little-endian uint16 channels. Sensors
// fill either the low or the high byte of each channel, and the
// three channels track each other closely, so the codec first
// announces which of the six bytes changed (plus one flag for
// "channels differ at all") and then codes red deltas directly
// and green/blue as corrections against the red delta.

type rgb struct {
	r, g, b uint16
}

func unpackRGB(raw []byte) rgb {
	return rgb{
		r: binary.LittleEndian.Uint16(raw[0:]),
		g: binary.LittleEndian.Uint16(raw[2:]),
		b: binary.LittleEndian.Uint16(raw[4:]),
	}
}

func (c *rgb) pack(raw []byte) {
	binary.LittleEndian.PutUint16(raw[0:], c.r)
	binary.LittleEndian.PutUint16(raw[2:], c.g)
	binary.LittleEndian.PutUint16(raw[4:], c.b)
}

// rgbChangedBits computes the byte-used bitmap: bits 0..5 flag
// the changed low/high bytes of r, g, b; bit 6 flags that the
// three channels are not all equal (when clear, green and blue
// are copied from red and nothing more is coded).
func rgbChangedBits(last, cur rgb) uint32 {
	var sym uint32
	if cur.r&0xFF != last.r&0xFF {
		sym |= 1 << 0
	}
	if cur.r>>8 != last.r>>8 {
		sym |= 1 << 1
	}
	if cur.g&0xFF != last.g&0xFF {
		sym |= 1 << 2
	}
	if cur.g>>8 != last.g>>8 {
		sym |= 1 << 3
	}
	if cur.b&0xFF != last.b&0xFF {
		sym |= 1 << 4
	}
	if cur.b>>8 != last.b>>8 {
		sym |= 1 << 5
	}
	if cur.r&0xFF != cur.g&0xFF || cur.r&0xFF != cur.b&0xFF ||
		cur.r>>8 != cur.g>>8 || cur.r>>8 != cur.b>>8 {
		sym |= 1 << 6
	}
	return sym
}

// rgbCore is the shared version 2 color coder; RGBV2 wraps it
// as an item codec and the layered color codecs reuse it with
// per-context instances.
type rgbCore struct {
	last      rgb
	mByteUsed *arith.SymbolModel
	mDiff     [6]*arith.SymbolModel
}

func newRGBCore() *rgbCore {
	c := &rgbCore{mByteUsed: arith.NewSymbolModel(128)}
	for i := range c.mDiff {
		c.mDiff[i] = arith.NewSymbolModel(256)
	}
	return c
}

func (c *rgbCore) init(first rgb) {
	c.mByteUsed.Reset()
	for _, m := range c.mDiff {
		m.Reset()
	}
	c.last = first
}

func (c *rgbCore) compress(e *arith.Encoder, cur rgb) {
	sym := rgbChangedBits(c.last, cur)
	e.EncodeSymbol(c.mByteUsed, sym)

	if sym&(1<<0) != 0 {
		e.EncodeSymbol(c.mDiff[0], fold8(int32(cur.r&0xFF)-int32(c.last.r&0xFF)))
	}
	if sym&(1<<1) != 0 {
		e.EncodeSymbol(c.mDiff[1], fold8(int32(cur.r>>8)-int32(c.last.r>>8)))
	}
	if sym&(1<<6) != 0 {
		diff := int32(cur.r&0xFF) - int32(c.last.r&0xFF)
		if sym&(1<<2) != 0 {
			corr := int32(cur.g&0xFF) - ints.Clamp(diff+int32(c.last.g&0xFF), 0, 255)
			e.EncodeSymbol(c.mDiff[2], fold8(corr))
		}
		if sym&(1<<4) != 0 {
			diff = (diff + int32(cur.g&0xFF) - int32(c.last.g&0xFF)) / 2
			corr := int32(cur.b&0xFF) - ints.Clamp(diff+int32(c.last.b&0xFF), 0, 255)
			e.EncodeSymbol(c.mDiff[4], fold8(corr))
		}
		diff = int32(cur.r>>8) - int32(c.last.r>>8)
		if sym&(1<<3) != 0 {
			corr := int32(cur.g>>8) - ints.Clamp(diff+int32(c.last.g>>8), 0, 255)
			e.EncodeSymbol(c.mDiff[3], fold8(corr))
		}
		if sym&(1<<5) != 0 {
			diff = (diff + int32(cur.g>>8) - int32(c.last.g>>8)) / 2
			corr := int32(cur.b>>8) - ints.Clamp(diff+int32(c.last.b>>8), 0, 255)
			e.EncodeSymbol(c.mDiff[5], fold8(corr))
		}
	}
	c.last = cur
}

func (c *rgbCore) decompress(d *arith.Decoder) rgb {
	var cur rgb
	sym := d.DecodeSymbol(c.mByteUsed)

	if sym&(1<<0) != 0 {
		corr := d.DecodeSymbol(c.mDiff[0])
		cur.r = uint16(fold8(int32(corr) + int32(c.last.r&0xFF)))
	} else {
		cur.r = c.last.r & 0xFF
	}
	if sym&(1<<1) != 0 {
		corr := d.DecodeSymbol(c.mDiff[1])
		cur.r |= uint16(fold8(int32(corr)+int32(c.last.r>>8))) << 8
	} else {
		cur.r |= c.last.r & 0xFF00
	}

	if sym&(1<<6) != 0 {
		diff := int32(cur.r&0xFF) - int32(c.last.r&0xFF)
		if sym&(1<<2) != 0 {
			corr := d.DecodeSymbol(c.mDiff[2])
			cur.g = uint16(fold8(int32(corr) + ints.Clamp(diff+int32(c.last.g&0xFF), 0, 255)))
		} else {
			cur.g = c.last.g & 0xFF
		}
		if sym&(1<<4) != 0 {
			corr := d.DecodeSymbol(c.mDiff[4])
			diff = (diff + int32(cur.g&0xFF) - int32(c.last.g&0xFF)) / 2
			cur.b = uint16(fold8(int32(corr) + ints.Clamp(diff+int32(c.last.b&0xFF), 0, 255)))
		} else {
			cur.b = c.last.b & 0xFF
		}
		diff = int32(cur.r>>8) - int32(c.last.r>>8)
		if sym&(1<<3) != 0 {
			corr := d.DecodeSymbol(c.mDiff[3])
			cur.g |= uint16(fold8(int32(corr)+ints.Clamp(diff+int32(c.last.g>>8), 0, 255))) << 8
		} else {
			cur.g |= c.last.g & 0xFF00
		}
		if sym&(1<<5) != 0 {
			corr := d.DecodeSymbol(c.mDiff[5])
			diff = (diff + int32(cur.g>>8) - int32(c.last.g>>8)) / 2
			cur.b |= uint16(fold8(int32(corr)+ints.Clamp(diff+int32(c.last.b>>8), 0, 255))) << 8
		} else {
			cur.b |= c.last.b & 0xFF00
		}
	} else {
		cur.g = cur.r
		cur.b = cur.r
	}
	c.last = cur
	return cur
}

// RGBV2 codes the 6-byte color item with the shared version 2
// color coder.
type RGBV2 struct {
	core *rgbCore
}

func NewRGBV2() *RGBV2 { return &RGBV2{core: newRGBCore()} }

func (c *RGBV2) Init(first []byte) { c.core.init(unpackRGB(first)) }

func (c *RGBV2) Compress(e *arith.Encoder, raw []byte) {
	c.core.compress(e, unpackRGB(raw))
}

func (c *RGBV2) Decompress(d *arith.Decoder, raw []byte) {
	cur := c.core.decompress(d)
	cur.pack(raw)
}

// RGBV1 is the original color codec, kept for decoding streams
// written by the first revision. Each changed byte is coded
// independently with a folded-integer corrector against its
// previous value; there is no cross-channel prediction.
type RGBV1 struct {
	last      rgb
	mByteUsed *arith.SymbolModel
	ic        *arith.IntCodec
}

func NewRGBV1() *RGBV1 {
	return &RGBV1{
		mByteUsed: arith.NewSymbolModel(64),
		ic:        arith.NewIntCodec(8, 6),
	}
}

func (c *RGBV1) Init(first []byte) {
	c.mByteUsed.Reset()
	c.ic.Reset()
	c.last = unpackRGB(first)
}

func (c *RGBV1) Compress(e *arith.Encoder, raw []byte) {
	cur := unpackRGB(raw)
	sym := rgbChangedBits(c.last, cur) &^ (1 << 6)
	e.EncodeSymbol(c.mByteUsed, sym)
	if sym&(1<<0) != 0 {
		c.ic.Compress(e, int32(c.last.r&0xFF), int32(cur.r&0xFF), 0)
	}
	if sym&(1<<1) != 0 {
		c.ic.Compress(e, int32(c.last.r>>8), int32(cur.r>>8), 1)
	}
	if sym&(1<<2) != 0 {
		c.ic.Compress(e, int32(c.last.g&0xFF), int32(cur.g&0xFF), 2)
	}
	if sym&(1<<3) != 0 {
		c.ic.Compress(e, int32(c.last.g>>8), int32(cur.g>>8), 3)
	}
	if sym&(1<<4) != 0 {
		c.ic.Compress(e, int32(c.last.b&0xFF), int32(cur.b&0xFF), 4)
	}
	if sym&(1<<5) != 0 {
		c.ic.Compress(e, int32(c.last.b>>8), int32(cur.b>>8), 5)
	}
	c.last = cur
}

func (c *RGBV1) Decompress(d *arith.Decoder, raw []byte) {
	cur := c.last
	sym := d.DecodeSymbol(c.mByteUsed)
	if sym&(1<<0) != 0 {
		cur.r = cur.r&0xFF00 | uint16(c.ic.Decompress(d, int32(c.last.r&0xFF), 0))&0xFF
	}
	if sym&(1<<1) != 0 {
		cur.r = cur.r&0xFF | uint16(c.ic.Decompress(d, int32(c.last.r>>8), 1))<<8
	}
	if sym&(1<<2) != 0 {
		cur.g = cur.g&0xFF00 | uint16(c.ic.Decompress(d, int32(c.last.g&0xFF), 2))&0xFF
	}
	if sym&(1<<3) != 0 {
		cur.g = cur.g&0xFF | uint16(c.ic.Decompress(d, int32(c.last.g>>8), 3))<<8
	}
	if sym&(1<<4) != 0 {
		cur.b = cur.b&0xFF00 | uint16(c.ic.Decompress(d, int32(c.last.b&0xFF), 4))&0xFF
	}
	if sym&(1<<5) != 0 {
		cur.b = cur.b&0xFF | uint16(c.ic.Decompress(d, int32(c.last.b>>8), 5))<<8
	}
	cur.pack(raw)
	c.last = cur
}
