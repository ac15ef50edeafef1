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
)

// RGB14V3 is the layered color codec for the extended point
// formats: the version 2 color coder writing into a single
// per-chunk layer (one little-endian uint32 size, then the
// layer bytes).
type RGB14V3 struct {
	enc  *arith.Encoder
	dec  *arith.Decoder
	core *rgbCore
}

func NewRGB14V3() *RGB14V3 {
	return &RGB14V3{
		enc:  arith.NewEncoder(),
		dec:  arith.NewDecoder(),
		core: newRGBCore(),
	}
}

func (c *RGB14V3) InitChunk(first []byte) {
	c.enc.Reset()
	c.core.init(unpackRGB(first))
}

func (c *RGB14V3) Append(raw []byte) {
	c.core.compress(c.enc, unpackRGB(raw))
}

func (c *RGB14V3) FinishChunk(dst []byte) []byte {
	return appendLayer(dst, c.enc.Done())
}

func (c *RGB14V3) ReadChunk(first []byte, chunk []byte) (int, error) {
	n, err := readLayer(c.dec, chunk)
	if err != nil {
		return 0, err
	}
	c.core.init(unpackRGB(first))
	return n, nil
}

func (c *RGB14V3) Next(raw []byte) {
	cur := c.core.decompress(c.dec)
	cur.pack(raw)
}

func (c *RGB14V3) Err() error { return c.dec.Err() }

// RGBNIR14V3 extends the layered color codec with a near
// infrared channel in a second layer. NIR readings drift like
// the color bytes do, so each changed byte gets a folded-diff
// model of its own behind a 2-bit byte-used bitmap.
type RGBNIR14V3 struct {
	encRGB *arith.Encoder
	encNIR *arith.Encoder
	decRGB *arith.Decoder
	decNIR *arith.Decoder

	core    *rgbCore
	lastNIR uint16

	mNirUsed *arith.SymbolModel
	mNirLo   *arith.SymbolModel
	mNirHi   *arith.SymbolModel
}

func NewRGBNIR14V3() *RGBNIR14V3 {
	return &RGBNIR14V3{
		encRGB:   arith.NewEncoder(),
		encNIR:   arith.NewEncoder(),
		decRGB:   arith.NewDecoder(),
		decNIR:   arith.NewDecoder(),
		core:     newRGBCore(),
		mNirUsed: arith.NewSymbolModel(4),
		mNirLo:   arith.NewSymbolModel(256),
		mNirHi:   arith.NewSymbolModel(256),
	}
}

func (c *RGBNIR14V3) InitChunk(first []byte) {
	c.encRGB.Reset()
	c.encNIR.Reset()
	c.mNirUsed.Reset()
	c.mNirLo.Reset()
	c.mNirHi.Reset()
	c.core.init(unpackRGB(first))
	c.lastNIR = binary.LittleEndian.Uint16(first[6:])
}

func (c *RGBNIR14V3) Append(raw []byte) {
	c.core.compress(c.encRGB, unpackRGB(raw))

	nir := binary.LittleEndian.Uint16(raw[6:])
	var sym uint32
	if nir&0xFF != c.lastNIR&0xFF {
		sym |= 1
	}
	if nir>>8 != c.lastNIR>>8 {
		sym |= 2
	}
	c.encNIR.EncodeSymbol(c.mNirUsed, sym)
	if sym&1 != 0 {
		c.encNIR.EncodeSymbol(c.mNirLo, fold8(int32(nir&0xFF)-int32(c.lastNIR&0xFF)))
	}
	if sym&2 != 0 {
		c.encNIR.EncodeSymbol(c.mNirHi, fold8(int32(nir>>8)-int32(c.lastNIR>>8)))
	}
	c.lastNIR = nir
}

func (c *RGBNIR14V3) FinishChunk(dst []byte) []byte {
	rgb := c.encRGB.Done()
	nir := c.encNIR.Done()
	var size [8]byte
	binary.LittleEndian.PutUint32(size[0:], uint32(len(rgb)))
	binary.LittleEndian.PutUint32(size[4:], uint32(len(nir)))
	dst = append(dst, size[:]...)
	dst = append(dst, rgb...)
	return append(dst, nir...)
}

func (c *RGBNIR14V3) ReadChunk(first []byte, chunk []byte) (int, error) {
	if len(chunk) < 8 {
		return 0, arith.ErrTruncated
	}
	szRGB := int(binary.LittleEndian.Uint32(chunk[0:]))
	szNIR := int(binary.LittleEndian.Uint32(chunk[4:]))
	total := 8 + szRGB + szNIR
	if len(chunk) < total {
		return 0, arith.ErrTruncated
	}
	if err := c.decRGB.Init(chunk[8 : 8+szRGB]); err != nil {
		return 0, err
	}
	if err := c.decNIR.Init(chunk[8+szRGB : total]); err != nil {
		return 0, err
	}
	c.mNirUsed.Reset()
	c.mNirLo.Reset()
	c.mNirHi.Reset()
	c.core.init(unpackRGB(first))
	c.lastNIR = binary.LittleEndian.Uint16(first[6:])
	return total, nil
}

func (c *RGBNIR14V3) Next(raw []byte) {
	cur := c.core.decompress(c.decRGB)
	cur.pack(raw)

	nir := c.lastNIR
	sym := c.decNIR.DecodeSymbol(c.mNirUsed)
	if sym&1 != 0 {
		nir = nir&0xFF00 | uint16(fold8(int32(c.decNIR.DecodeSymbol(c.mNirLo))+int32(c.lastNIR&0xFF)))
	}
	if sym&2 != 0 {
		nir = nir&0xFF | uint16(fold8(int32(c.decNIR.DecodeSymbol(c.mNirHi))+int32(c.lastNIR>>8)))<<8
	}
	binary.LittleEndian.PutUint16(raw[6:], nir)
	c.lastNIR = nir
}

func (c *RGBNIR14V3) Err() error {
	if err := c.decRGB.Err(); err != nil {
		return err
	}
	return c.decNIR.Err()
}

// appendLayer and readLayer handle the single-layer framing
// shared by the layered codecs with one coder session.
func appendLayer(dst, layer []byte) []byte {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(layer)))
	dst = append(dst, size[:]...)
	return append(dst, layer...)
}

func readLayer(d *arith.Decoder, chunk []byte) (int, error) {
	if len(chunk) < 4 {
		return 0, arith.ErrTruncated
	}
	size := int(binary.LittleEndian.Uint32(chunk))
	if len(chunk) < 4+size {
		return 0, arith.ErrTruncated
	}
	if err := d.Init(chunk[4 : 4+size]); err != nil {
		return 0, err
	}
	return 4 + size, nil
}
