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

// GPS time is an 8-byte little-endian float64 coded through its
// integer bit pattern. Consecutive stamps in a well-ordered file
// differ by a near-constant tick, so the codec tracks the last
// 32-bit integer difference and codes each new difference as a
// small multiplier of it plus a folded residual.

const (
	gpsTimeMulti          = 500
	gpsTimeMultiMinus     = -10
	gpsTimeMultiUnchanged = gpsTimeMulti - gpsTimeMultiMinus + 1 // 511
	gpsTimeMultiCodeFull  = gpsTimeMultiUnchanged + 1            // 512
	gpsTimeMultiTotal     = gpsTimeMultiCodeFull + 4             // 516
)

// quantizeMulti rounds a multiplier estimate to the nearest
// integer, away from zero on ties.
func quantizeMulti(f float32) int32 {
	if f >= 0 {
		return int32(f + 0.5)
	}
	return int32(f - 0.5)
}

// gpsTime holds the shared coder state for GPS time version 2.
// Four interleaved sequences (dual-channel scanners produce
// alternating streams) each keep their own last value, last
// difference and extreme-multiplier counter; the escape symbols
// above gpsTimeMultiCodeFull switch the active sequence.
type gpsTime struct {
	last, next  int
	lastTime    [4]uint64
	lastDiff    [4]int32
	extremeCntr [4]int32

	mMulti *arith.SymbolModel
	m0Diff *arith.SymbolModel
	ic     *arith.IntCodec
}

func newGpsTime() *gpsTime {
	return &gpsTime{
		mMulti: arith.NewSymbolModel(gpsTimeMultiTotal),
		m0Diff: arith.NewSymbolModel(6),
		ic:     arith.NewIntCodec(32, 9),
	}
}

func (g *gpsTime) init(first uint64) {
	g.last, g.next = 0, 0
	g.lastTime = [4]uint64{}
	g.lastDiff = [4]int32{}
	g.extremeCntr = [4]int32{}
	g.mMulti.Reset()
	g.m0Diff.Reset()
	g.ic.Reset()
	g.lastTime[0] = first
}

func (g *gpsTime) compress(e *arith.Encoder, cur uint64) {
	if g.lastDiff[g.last] == 0 {
		if cur == g.lastTime[g.last] {
			e.EncodeSymbol(g.m0Diff, 0)
			return
		}
		diff64 := int64(cur) - int64(g.lastTime[g.last])
		diff := int32(diff64)
		if diff64 == int64(diff) {
			e.EncodeSymbol(g.m0Diff, 1)
			g.ic.Compress(e, 0, diff, 0)
			g.lastDiff[g.last] = diff
			g.extremeCntr[g.last] = 0
		} else {
			for i := 1; i < 4; i++ {
				other := int64(cur) - int64(g.lastTime[(g.last+i)&3])
				if other == int64(int32(other)) {
					// another sequence predicts this stamp
					e.EncodeSymbol(g.m0Diff, uint32(i+2))
					g.last = (g.last + i) & 3
					g.compress(e, cur)
					return
				}
			}
			e.EncodeSymbol(g.m0Diff, 2)
			g.ic.Compress(e, int32(g.lastTime[g.last]>>32), int32(cur>>32), 8)
			e.WriteInt(uint32(cur))
			g.next = (g.next + 1) & 3
			g.last = g.next
			g.lastDiff[g.last] = 0
			g.extremeCntr[g.last] = 0
		}
		g.lastTime[g.last] = cur
		return
	}

	if cur == g.lastTime[g.last] {
		e.EncodeSymbol(g.mMulti, gpsTimeMultiUnchanged)
		return
	}
	diff64 := int64(cur) - int64(g.lastTime[g.last])
	diff := int32(diff64)
	if diff64 == int64(diff) {
		multi := quantizeMulti(float32(diff) / float32(g.lastDiff[g.last]))
		switch {
		case multi == 1:
			e.EncodeSymbol(g.mMulti, 1)
			g.ic.Compress(e, g.lastDiff[g.last], diff, 1)
			g.extremeCntr[g.last] = 0
		case multi > 0:
			if multi < gpsTimeMulti {
				e.EncodeSymbol(g.mMulti, uint32(multi))
				if multi < 10 {
					g.ic.Compress(e, multi*g.lastDiff[g.last], diff, 2)
				} else {
					g.ic.Compress(e, multi*g.lastDiff[g.last], diff, 3)
				}
			} else {
				e.EncodeSymbol(g.mMulti, gpsTimeMulti)
				g.ic.Compress(e, gpsTimeMulti*g.lastDiff[g.last], diff, 4)
				g.bumpExtreme(diff)
			}
		case multi < 0:
			if multi > gpsTimeMultiMinus {
				e.EncodeSymbol(g.mMulti, uint32(gpsTimeMulti-multi))
				g.ic.Compress(e, multi*g.lastDiff[g.last], diff, 5)
			} else {
				e.EncodeSymbol(g.mMulti, uint32(gpsTimeMulti-gpsTimeMultiMinus))
				g.ic.Compress(e, gpsTimeMultiMinus*g.lastDiff[g.last], diff, 6)
				g.bumpExtreme(diff)
			}
		default: // multi == 0
			e.EncodeSymbol(g.mMulti, 0)
			g.ic.Compress(e, 0, diff, 7)
			g.bumpExtreme(diff)
		}
	} else {
		for i := 1; i < 4; i++ {
			other := int64(cur) - int64(g.lastTime[(g.last+i)&3])
			if other == int64(int32(other)) {
				e.EncodeSymbol(g.mMulti, uint32(gpsTimeMultiCodeFull+i))
				g.last = (g.last + i) & 3
				g.compress(e, cur)
				return
			}
		}
		e.EncodeSymbol(g.mMulti, gpsTimeMultiCodeFull)
		g.ic.Compress(e, int32(g.lastTime[g.last]>>32), int32(cur>>32), 8)
		e.WriteInt(uint32(cur))
		g.next = (g.next + 1) & 3
		g.last = g.next
		g.lastDiff[g.last] = 0
		g.extremeCntr[g.last] = 0
	}
	g.lastTime[g.last] = cur
}

// bumpExtreme counts extreme multipliers; after a short run the
// tracked difference is rebased so the stream can lock onto a
// new sampling interval.
func (g *gpsTime) bumpExtreme(diff int32) {
	g.extremeCntr[g.last]++
	if g.extremeCntr[g.last] > 3 {
		g.lastDiff[g.last] = diff
		g.extremeCntr[g.last] = 0
	}
}

func (g *gpsTime) decompress(d *arith.Decoder) uint64 {
	if g.lastDiff[g.last] == 0 {
		multi := d.DecodeSymbol(g.m0Diff)
		switch {
		case multi == 1:
			g.lastDiff[g.last] = g.ic.Decompress(d, 0, 0)
			g.lastTime[g.last] = uint64(int64(g.lastTime[g.last]) + int64(g.lastDiff[g.last]))
			g.extremeCntr[g.last] = 0
		case multi == 2:
			g.next = (g.next + 1) & 3
			hi := g.ic.Decompress(d, int32(g.lastTime[g.last]>>32), 8)
			g.lastTime[g.next] = uint64(uint32(hi))<<32 | uint64(d.ReadInt())
			g.last = g.next
			g.lastDiff[g.last] = 0
			g.extremeCntr[g.last] = 0
		case multi > 2:
			g.last = (g.last + int(multi) - 2) & 3
			return g.decompress(d)
		}
		return g.lastTime[g.last]
	}

	multi := int32(d.DecodeSymbol(g.mMulti))
	switch {
	case multi == 1:
		g.lastTime[g.last] = uint64(int64(g.lastTime[g.last]) + int64(g.ic.Decompress(d, g.lastDiff[g.last], 1)))
		g.extremeCntr[g.last] = 0
	case multi < gpsTimeMultiUnchanged:
		var diff int32
		switch {
		case multi == 0:
			diff = g.ic.Decompress(d, 0, 7)
			g.bumpExtreme(diff)
		case multi < gpsTimeMulti:
			if multi < 10 {
				diff = g.ic.Decompress(d, multi*g.lastDiff[g.last], 2)
			} else {
				diff = g.ic.Decompress(d, multi*g.lastDiff[g.last], 3)
			}
		case multi == gpsTimeMulti:
			diff = g.ic.Decompress(d, gpsTimeMulti*g.lastDiff[g.last], 4)
			g.bumpExtreme(diff)
		default:
			multi = gpsTimeMulti - multi
			if multi > gpsTimeMultiMinus {
				diff = g.ic.Decompress(d, multi*g.lastDiff[g.last], 5)
			} else {
				diff = g.ic.Decompress(d, gpsTimeMultiMinus*g.lastDiff[g.last], 6)
				g.bumpExtreme(diff)
			}
		}
		g.lastTime[g.last] = uint64(int64(g.lastTime[g.last]) + int64(diff))
	case multi == gpsTimeMultiCodeFull:
		g.next = (g.next + 1) & 3
		hi := g.ic.Decompress(d, int32(g.lastTime[g.last]>>32), 8)
		g.lastTime[g.next] = uint64(uint32(hi))<<32 | uint64(d.ReadInt())
		g.last = g.next
		g.lastDiff[g.last] = 0
		g.extremeCntr[g.last] = 0
	case multi > gpsTimeMultiCodeFull:
		g.last = (g.last + int(multi) - gpsTimeMultiCodeFull) & 3
		return g.decompress(d)
	}
	return g.lastTime[g.last]
}

// GpsTimeV2 codes the 8-byte GPS time item with the
// multi-sequence tracker above.
type GpsTimeV2 struct {
	g *gpsTime
}

func NewGpsTimeV2() *GpsTimeV2 { return &GpsTimeV2{g: newGpsTime()} }

func (c *GpsTimeV2) Init(first []byte) {
	c.g.init(binary.LittleEndian.Uint64(first))
}

func (c *GpsTimeV2) Compress(e *arith.Encoder, raw []byte) {
	c.g.compress(e, binary.LittleEndian.Uint64(raw))
}

func (c *GpsTimeV2) Decompress(d *arith.Decoder, raw []byte) {
	binary.LittleEndian.PutUint64(raw, c.g.decompress(d))
}

const gpsTimeV1MultiMax = 512

// GpsTimeV1 is the single-sequence predecessor of GpsTimeV2,
// kept for decoding streams written by the first revision. It
// tracks one last difference; the multiplier alphabet reserves
// its top slots for the zero multiplier and for stamps whose
// difference does not fit in 32 bits.
type GpsTimeV1 struct {
	lastTime    uint64
	lastDiff    int32
	extremeCntr int32

	mMulti *arith.SymbolModel
	m0Diff *arith.SymbolModel
	ic     *arith.IntCodec
}

func NewGpsTimeV1() *GpsTimeV1 {
	return &GpsTimeV1{
		mMulti: arith.NewSymbolModel(gpsTimeV1MultiMax),
		m0Diff: arith.NewSymbolModel(3),
		ic:     arith.NewIntCodec(32, 6),
	}
}

func (c *GpsTimeV1) Init(first []byte) {
	c.lastDiff = 0
	c.extremeCntr = 0
	c.mMulti.Reset()
	c.m0Diff.Reset()
	c.ic.Reset()
	c.lastTime = binary.LittleEndian.Uint64(first)
}

func (c *GpsTimeV1) Compress(e *arith.Encoder, raw []byte) {
	cur := binary.LittleEndian.Uint64(raw)
	if c.lastDiff == 0 {
		if cur == c.lastTime {
			e.EncodeSymbol(c.m0Diff, 0)
			return
		}
		diff64 := int64(cur) - int64(c.lastTime)
		diff := int32(diff64)
		if diff64 == int64(diff) {
			e.EncodeSymbol(c.m0Diff, 1)
			c.ic.Compress(e, 0, diff, 0)
			c.lastDiff = diff
			c.extremeCntr = 0
		} else {
			e.EncodeSymbol(c.m0Diff, 2)
			e.WriteInt64(cur)
		}
		c.lastTime = cur
		return
	}

	diff64 := int64(cur) - int64(c.lastTime)
	diff := int32(diff64)
	if diff64 == int64(diff) {
		multi := quantizeMulti(float32(diff) / float32(c.lastDiff))
		if multi >= gpsTimeV1MultiMax-3 {
			multi = gpsTimeV1MultiMax - 3
		} else if multi <= 0 {
			multi = 0
		}
		e.EncodeSymbol(c.mMulti, uint32(multi))
		switch {
		case multi == 1:
			c.ic.Compress(e, c.lastDiff, diff, 1)
			c.lastDiff = diff
			c.extremeCntr = 0
		case multi == 0:
			c.ic.Compress(e, c.lastDiff/4, diff, 2)
			c.bumpExtreme(diff)
		case multi < 10:
			c.ic.Compress(e, multi*c.lastDiff, diff, 3)
		case multi < 50:
			c.ic.Compress(e, multi*c.lastDiff, diff, 4)
		default:
			c.ic.Compress(e, multi*c.lastDiff, diff, 5)
			if multi == gpsTimeV1MultiMax-3 {
				c.bumpExtreme(diff)
			}
		}
	} else {
		e.EncodeSymbol(c.mMulti, gpsTimeV1MultiMax-2)
		e.WriteInt64(cur)
	}
	c.lastTime = cur
}

func (c *GpsTimeV1) bumpExtreme(diff int32) {
	c.extremeCntr++
	if c.extremeCntr > 3 {
		c.lastDiff = diff
		c.extremeCntr = 0
	}
}

func (c *GpsTimeV1) Decompress(d *arith.Decoder, raw []byte) {
	if c.lastDiff == 0 {
		switch d.DecodeSymbol(c.m0Diff) {
		case 1:
			c.lastDiff = c.ic.Decompress(d, 0, 0)
			c.lastTime = uint64(int64(c.lastTime) + int64(c.lastDiff))
			c.extremeCntr = 0
		case 2:
			c.lastTime = d.ReadInt64()
		}
		binary.LittleEndian.PutUint64(raw, c.lastTime)
		return
	}

	multi := int32(d.DecodeSymbol(c.mMulti))
	if multi < gpsTimeV1MultiMax-2 {
		var diff int32
		switch {
		case multi == 1:
			diff = c.ic.Decompress(d, c.lastDiff, 1)
			c.lastDiff = diff
			c.extremeCntr = 0
		case multi == 0:
			diff = c.ic.Decompress(d, c.lastDiff/4, 2)
			c.bumpExtreme(diff)
		case multi < 10:
			diff = c.ic.Decompress(d, multi*c.lastDiff, 3)
		case multi < 50:
			diff = c.ic.Decompress(d, multi*c.lastDiff, 4)
		default:
			diff = c.ic.Decompress(d, multi*c.lastDiff, 5)
			if multi == gpsTimeV1MultiMax-3 {
				c.bumpExtreme(diff)
			}
		}
		c.lastTime = uint64(int64(c.lastTime) + int64(diff))
	} else {
		c.lastTime = d.ReadInt64()
	}
	binary.LittleEndian.PutUint64(raw, c.lastTime)
}
