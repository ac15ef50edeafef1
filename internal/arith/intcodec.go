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

package arith

import "math/bits"

// corrBitsHigh is the widest corrector class that is coded
// entirely through a symbol model; classes above it code the
// low bits raw through the coder.
const corrBitsHigh = 8

// IntCodec is the folded-integer codec: a signed corrector is
// coded as a modeled bit-length class k followed by the
// corrector's position inside the class interval
// [-(2^k - 1), 2^k]. Small classes are fully modeled, wide
// classes split into a modeled high part and raw low bits.
//
// The class selector model is per-context (the caller picks a
// context from its own prediction state); the per-class
// corrector models are shared across contexts. One IntCodec
// instance serves either the encode or the decode side; the
// model state evolves identically on both.
type IntCodec struct {
	bits      uint32
	corrBits  uint32
	corrRange uint32
	corrMin   int32
	corrMax   int32
	k         uint32

	mBits       []*SymbolModel
	mCorrector0 *BitModel
	mCorrector  []*SymbolModel
}

// NewIntCodec returns a folded-integer codec for values of the
// given bit width (1..32) with the given number of selector
// contexts.
func NewIntCodec(width, contexts uint32) *IntCodec {
	c := &IntCodec{bits: width}
	if width < 32 {
		c.corrBits = width
		c.corrRange = 1 << width
		c.corrMin = -int32(c.corrRange / 2)
		c.corrMax = c.corrMin + int32(c.corrRange) - 1
	} else {
		c.corrBits = 32
		c.corrRange = 0 // full 32-bit wrap-around
		c.corrMin = -0x80000000
		c.corrMax = 0x7FFFFFFF
	}

	c.mBits = make([]*SymbolModel, contexts)
	for i := range c.mBits {
		c.mBits[i] = NewSymbolModel(c.corrBits + 1)
	}
	c.mCorrector0 = NewBitModel()
	c.mCorrector = make([]*SymbolModel, c.corrBits+1)
	for k := uint32(1); k <= c.corrBits && k < 32; k++ {
		if k <= corrBitsHigh {
			c.mCorrector[k] = NewSymbolModel(1 << k)
		} else {
			c.mCorrector[k] = NewSymbolModel(1 << corrBitsHigh)
		}
	}
	return c
}

// Reset restores all models to their seed state for a new chunk.
func (c *IntCodec) Reset() {
	c.k = 0
	for i := range c.mBits {
		c.mBits[i].Reset()
	}
	c.mCorrector0.Reset()
	for _, m := range c.mCorrector {
		if m != nil {
			m.Reset()
		}
	}
}

// K returns the bit-length class of the most recent corrector.
// The position codecs chain it as the smoothness context for
// the next field.
func (c *IntCodec) K() uint32 {
	return c.k
}

// Compress codes real against the prediction pred under the
// given selector context.
func (c *IntCodec) Compress(e *Encoder, pred, real int32, ctx uint32) {
	corr := int32(uint32(real) - uint32(pred))
	if c.corrRange != 0 {
		if corr < c.corrMin {
			corr += int32(c.corrRange)
		} else if corr > c.corrMax {
			corr -= int32(c.corrRange)
		}
	}
	c.writeCorrector(e, corr, c.mBits[ctx])
}

// Decompress decodes the value predicted by pred under the
// given selector context.
func (c *IntCodec) Decompress(d *Decoder, pred int32, ctx uint32) int32 {
	real := int32(uint32(pred) + uint32(c.readCorrector(d, c.mBits[ctx])))
	if c.corrRange != 0 {
		if real < 0 {
			real += int32(c.corrRange)
		} else if real >= int32(c.corrRange) {
			real -= int32(c.corrRange)
		}
	}
	return real
}

func (c *IntCodec) writeCorrector(e *Encoder, corr int32, mBits *SymbolModel) {
	// find the tightest interval [-(2^k - 1), 2^k] holding corr;
	// the adjusted magnitude makes corr == 2^k land in class k
	var c1 uint32
	if corr <= 0 {
		c1 = uint32(-corr)
	} else {
		c1 = uint32(corr - 1)
	}
	k := uint32(bits.Len32(c1))
	c.k = k

	e.EncodeSymbol(mBits, k)
	if k == 0 {
		// corr is 0 or 1
		e.EncodeBit(c.mCorrector0, uint32(corr))
		return
	}
	if k >= 32 {
		return // corr can only be corrMin; k alone carries it
	}
	// translate corr into [0, 2^k - 1]
	if corr >= 0 {
		corr--
	} else {
		corr += int32(1)<<k - 1
	}
	if k <= corrBitsHigh {
		e.EncodeSymbol(c.mCorrector[k], uint32(corr))
	} else {
		k1 := k - corrBitsHigh
		e.EncodeSymbol(c.mCorrector[k], uint32(corr)>>k1)
		e.WriteBits(k1, uint32(corr)&(1<<k1-1))
	}
}

func (c *IntCodec) readCorrector(d *Decoder, mBits *SymbolModel) int32 {
	k := d.DecodeSymbol(mBits)
	c.k = k
	if k == 0 {
		return int32(d.DecodeBit(c.mCorrector0))
	}
	if k >= 32 {
		return c.corrMin
	}
	var corr int32
	if k <= corrBitsHigh {
		corr = int32(d.DecodeSymbol(c.mCorrector[k]))
	} else {
		k1 := k - corrBitsHigh
		hi := d.DecodeSymbol(c.mCorrector[k])
		lo := d.ReadBits(k1)
		corr = int32(hi<<k1 | lo)
	}
	if corr >= int32(1)<<(k-1) {
		corr++
	} else {
		corr -= int32(1)<<k - 1
	}
	return corr
}
