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

// point10 is the legacy 20-byte record core: position,
// intensity, the packed return byte (return number 0:3,
// number of returns 3:6, scan direction 6, edge of flight
// line 7), classification, scan angle, user data and the
// point source id.
type point10 struct {
	x, y, z        int32
	intensity      uint16
	bitByte        uint8
	classification uint8
	scanAngleRank  int8
	userData       uint8
	pointSource    uint16
}

func unpackPoint10(raw []byte) point10 {
	return point10{
		x:              int32(binary.LittleEndian.Uint32(raw[0:])),
		y:              int32(binary.LittleEndian.Uint32(raw[4:])),
		z:              int32(binary.LittleEndian.Uint32(raw[8:])),
		intensity:      binary.LittleEndian.Uint16(raw[12:]),
		bitByte:        raw[14],
		classification: raw[15],
		scanAngleRank:  int8(raw[16]),
		userData:       raw[17],
		pointSource:    binary.LittleEndian.Uint16(raw[18:]),
	}
}

func (p *point10) pack(raw []byte) {
	binary.LittleEndian.PutUint32(raw[0:], uint32(p.x))
	binary.LittleEndian.PutUint32(raw[4:], uint32(p.y))
	binary.LittleEndian.PutUint32(raw[8:], uint32(p.z))
	binary.LittleEndian.PutUint16(raw[12:], p.intensity)
	raw[14] = p.bitByte
	raw[15] = p.classification
	raw[16] = byte(p.scanAngleRank)
	raw[17] = p.userData
	binary.LittleEndian.PutUint16(raw[18:], p.pointSource)
}

func (p *point10) scanDir() uint8 { return p.bitByte >> 6 & 1 }

// Point10V2 is the version 2 codec for the legacy point core.
//
// Coordinates are predicted from the previous record with a
// streaming median of the last five differences, one median
// per return-structure slot; the bit-length class of each
// coded delta feeds the next coordinate's selector context
// (local smoothness chaining dx to dy to z). The remaining
// fields code a changed-values bitmap first and then only the
// fields that moved, each against a model keyed by its
// previous value.
type Point10V2 struct {
	last          point10
	lastXDiffMed  [16]median5
	lastYDiffMed  [16]median5
	lastIntensity [16]uint16
	lastHeight    [8]int32

	mChanged   *arith.SymbolModel
	mBitByte   *modelTable
	mClass     *modelTable
	mUserData  *modelTable
	mScanAngle [2]*arith.SymbolModel

	icIntensity   *arith.IntCodec
	icPointSource *arith.IntCodec
	icDX          *arith.IntCodec
	icDY          *arith.IntCodec
	icZ           *arith.IntCodec
}

// NewPoint10V2 returns a codec for one chunk's point cores;
// call Init with the chunk's first raw record before coding.
func NewPoint10V2() *Point10V2 {
	return &Point10V2{
		mChanged:      arith.NewSymbolModel(64),
		mBitByte:      newModelTable(256, 256),
		mClass:        newModelTable(256, 256),
		mUserData:     newModelTable(256, 256),
		mScanAngle:    [2]*arith.SymbolModel{arith.NewSymbolModel(256), arith.NewSymbolModel(256)},
		icIntensity:   arith.NewIntCodec(16, 4),
		icPointSource: arith.NewIntCodec(16, 1),
		icDX:          arith.NewIntCodec(32, 2),
		icDY:          arith.NewIntCodec(32, 22),
		icZ:           arith.NewIntCodec(32, 20),
	}
}

func (p *Point10V2) Init(first []byte) {
	for i := range p.lastXDiffMed {
		p.lastXDiffMed[i].init()
		p.lastYDiffMed[i].init()
	}
	p.lastIntensity = [16]uint16{}
	p.lastHeight = [8]int32{}
	p.mChanged.Reset()
	p.mBitByte.reset()
	p.mClass.reset()
	p.mUserData.reset()
	p.mScanAngle[0].Reset()
	p.mScanAngle[1].Reset()
	p.icIntensity.Reset()
	p.icPointSource.Reset()
	p.icDX.Reset()
	p.icDY.Reset()
	p.icZ.Reset()
	p.last = unpackPoint10(first)
}

func (p *Point10V2) Compress(e *arith.Encoder, raw []byte) {
	cur := unpackPoint10(raw)
	r := cur.bitByte & 7
	n := cur.bitByte >> 3 & 7
	m := numberReturnMap[n][r]
	l := numberReturnLevel[n][r]

	var changed uint32
	if p.last.bitByte != cur.bitByte {
		changed |= 1 << 5
	}
	if p.lastIntensity[m] != cur.intensity {
		changed |= 1 << 4
	}
	if p.last.classification != cur.classification {
		changed |= 1 << 3
	}
	if p.last.scanAngleRank != cur.scanAngleRank {
		changed |= 1 << 2
	}
	if p.last.userData != cur.userData {
		changed |= 1 << 1
	}
	if p.last.pointSource != cur.pointSource {
		changed |= 1
	}
	e.EncodeSymbol(p.mChanged, changed)

	if changed&(1<<5) != 0 {
		e.EncodeSymbol(p.mBitByte.get(p.last.bitByte), uint32(cur.bitByte))
	}
	if changed&(1<<4) != 0 {
		ctx := uint32(m)
		if ctx > 3 {
			ctx = 3
		}
		p.icIntensity.Compress(e, int32(p.lastIntensity[m]), int32(cur.intensity), ctx)
		p.lastIntensity[m] = cur.intensity
	}
	if changed&(1<<3) != 0 {
		e.EncodeSymbol(p.mClass.get(p.last.classification), uint32(cur.classification))
	}
	if changed&(1<<2) != 0 {
		f := 0
		if cur.scanDir() == p.last.scanDir() {
			f = 1
		}
		e.EncodeSymbol(p.mScanAngle[f], fold8(int32(cur.scanAngleRank)-int32(p.last.scanAngleRank)))
	}
	if changed&(1<<1) != 0 {
		e.EncodeSymbol(p.mUserData.get(p.last.userData), uint32(cur.userData))
	}
	if changed&1 != 0 {
		p.icPointSource.Compress(e, int32(p.last.pointSource), int32(cur.pointSource), 0)
	}

	ctxN := uint32(0)
	if n == 1 {
		ctxN = 1
	}

	diff := int32(uint32(cur.x) - uint32(p.last.x))
	p.icDX.Compress(e, p.lastXDiffMed[m].get(), diff, ctxN)
	p.lastXDiffMed[m].add(diff)

	kBits := p.icDX.K()
	diff = int32(uint32(cur.y) - uint32(p.last.y))
	p.icDY.Compress(e, p.lastYDiffMed[m].get(), diff, ctxN+ySmooth(kBits))
	p.lastYDiffMed[m].add(diff)

	kBits = (p.icDX.K() + p.icDY.K()) / 2
	p.icZ.Compress(e, p.lastHeight[l], cur.z, ctxN+zSmooth(kBits))
	p.lastHeight[l] = cur.z

	p.last = cur
}

func (p *Point10V2) Decompress(d *arith.Decoder, raw []byte) {
	cur := p.last
	changed := d.DecodeSymbol(p.mChanged)

	if changed&(1<<5) != 0 {
		cur.bitByte = uint8(d.DecodeSymbol(p.mBitByte.get(p.last.bitByte)))
	}
	r := cur.bitByte & 7
	n := cur.bitByte >> 3 & 7
	m := numberReturnMap[n][r]
	l := numberReturnLevel[n][r]

	if changed&(1<<4) != 0 {
		ctx := uint32(m)
		if ctx > 3 {
			ctx = 3
		}
		cur.intensity = uint16(p.icIntensity.Decompress(d, int32(p.lastIntensity[m]), ctx))
		p.lastIntensity[m] = cur.intensity
	} else {
		cur.intensity = p.lastIntensity[m]
	}
	if changed&(1<<3) != 0 {
		cur.classification = uint8(d.DecodeSymbol(p.mClass.get(p.last.classification)))
	}
	if changed&(1<<2) != 0 {
		f := 0
		if cur.scanDir() == p.last.scanDir() {
			f = 1
		}
		cur.scanAngleRank = int8(uint8(int32(p.last.scanAngleRank) + int32(d.DecodeSymbol(p.mScanAngle[f]))))
	}
	if changed&(1<<1) != 0 {
		cur.userData = uint8(d.DecodeSymbol(p.mUserData.get(p.last.userData)))
	}
	if changed&1 != 0 {
		cur.pointSource = uint16(p.icPointSource.Decompress(d, int32(p.last.pointSource), 0))
	}

	ctxN := uint32(0)
	if n == 1 {
		ctxN = 1
	}

	diff := p.icDX.Decompress(d, p.lastXDiffMed[m].get(), ctxN)
	cur.x = int32(uint32(p.last.x) + uint32(diff))
	p.lastXDiffMed[m].add(diff)

	kBits := p.icDX.K()
	diff = p.icDY.Decompress(d, p.lastYDiffMed[m].get(), ctxN+ySmooth(kBits))
	cur.y = int32(uint32(p.last.y) + uint32(diff))
	p.lastYDiffMed[m].add(diff)

	kBits = (p.icDX.K() + p.icDY.K()) / 2
	cur.z = p.icZ.Decompress(d, p.lastHeight[l], ctxN+zSmooth(kBits))
	p.lastHeight[l] = cur.z

	cur.pack(raw)
	p.last = cur
}

// ySmooth/zSmooth translate the bit-length class of the prior
// coordinate delta into the next coordinate's selector context
// (even classes only, capped at the model's context count).
func ySmooth(k uint32) uint32 {
	if k < 20 {
		return k &^ 1
	}
	return 20
}

func zSmooth(k uint32) uint32 {
	if k < 18 {
		return k &^ 1
	}
	return 18
}

// Point10V1 is the original codec for the legacy point core,
// kept for decoding streams produced by the first format
// revision. X and Y are predicted with the median of the last
// three differences, Z directly from the previous record, and
// the remaining fields use one shared changed-values bitmap
// with per-field folded-integer coding.
type Point10V1 struct {
	last      point10
	lastXDiff [3]int32
	lastYDiff [3]int32
	lastIncr  int

	mChanged  *arith.SymbolModel
	mBitByte  *arith.SymbolModel
	mClass    *arith.SymbolModel
	mUserData *arith.SymbolModel

	icDX          *arith.IntCodec
	icDY          *arith.IntCodec
	icZ           *arith.IntCodec
	icIntensity   *arith.IntCodec
	icScanAngle   *arith.IntCodec
	icPointSource *arith.IntCodec
}

func NewPoint10V1() *Point10V1 {
	return &Point10V1{
		mChanged:      arith.NewSymbolModel(64),
		mBitByte:      arith.NewSymbolModel(256),
		mClass:        arith.NewSymbolModel(256),
		mUserData:     arith.NewSymbolModel(256),
		icDX:          arith.NewIntCodec(32, 1),
		icDY:          arith.NewIntCodec(32, 20),
		icZ:           arith.NewIntCodec(32, 20),
		icIntensity:   arith.NewIntCodec(16, 1),
		icScanAngle:   arith.NewIntCodec(8, 2),
		icPointSource: arith.NewIntCodec(16, 1),
	}
}

func (p *Point10V1) Init(first []byte) {
	p.lastXDiff = [3]int32{}
	p.lastYDiff = [3]int32{}
	p.lastIncr = 0
	p.mChanged.Reset()
	p.mBitByte.Reset()
	p.mClass.Reset()
	p.mUserData.Reset()
	p.icDX.Reset()
	p.icDY.Reset()
	p.icZ.Reset()
	p.icIntensity.Reset()
	p.icScanAngle.Reset()
	p.icPointSource.Reset()
	p.last = unpackPoint10(first)
}

func (p *Point10V1) Compress(e *arith.Encoder, raw []byte) {
	cur := unpackPoint10(raw)

	diffX := int32(uint32(cur.x) - uint32(p.last.x))
	p.icDX.Compress(e, median3(p.lastXDiff[0], p.lastXDiff[1], p.lastXDiff[2]), diffX, 0)

	k := p.icDX.K()
	diffY := int32(uint32(cur.y) - uint32(p.last.y))
	p.icDY.Compress(e, median3(p.lastYDiff[0], p.lastYDiff[1], p.lastYDiff[2]), diffY, capCtx(k, 19))

	k = (k + p.icDY.K()) / 2
	p.icZ.Compress(e, p.last.z, cur.z, capCtx(k, 19))

	var changed uint32
	if p.last.intensity != cur.intensity {
		changed |= 1 << 5
	}
	if p.last.bitByte != cur.bitByte {
		changed |= 1 << 4
	}
	if p.last.classification != cur.classification {
		changed |= 1 << 3
	}
	if p.last.scanAngleRank != cur.scanAngleRank {
		changed |= 1 << 2
	}
	if p.last.userData != cur.userData {
		changed |= 1 << 1
	}
	if p.last.pointSource != cur.pointSource {
		changed |= 1
	}
	e.EncodeSymbol(p.mChanged, changed)

	if changed&(1<<5) != 0 {
		p.icIntensity.Compress(e, int32(p.last.intensity), int32(cur.intensity), 0)
	}
	if changed&(1<<4) != 0 {
		e.EncodeSymbol(p.mBitByte, uint32(cur.bitByte))
	}
	if changed&(1<<3) != 0 {
		e.EncodeSymbol(p.mClass, uint32(cur.classification))
	}
	if changed&(1<<2) != 0 {
		ctx := uint32(0)
		if k < 3 {
			ctx = 1
		}
		p.icScanAngle.Compress(e, int32(p.last.scanAngleRank), int32(cur.scanAngleRank), ctx)
	}
	if changed&(1<<1) != 0 {
		e.EncodeSymbol(p.mUserData, uint32(cur.userData))
	}
	if changed&1 != 0 {
		p.icPointSource.Compress(e, int32(p.last.pointSource), int32(cur.pointSource), 0)
	}

	p.lastXDiff[p.lastIncr] = diffX
	p.lastYDiff[p.lastIncr] = diffY
	p.lastIncr++
	if p.lastIncr > 2 {
		p.lastIncr = 0
	}
	p.last = cur
}

func (p *Point10V1) Decompress(d *arith.Decoder, raw []byte) {
	cur := p.last

	diffX := p.icDX.Decompress(d, median3(p.lastXDiff[0], p.lastXDiff[1], p.lastXDiff[2]), 0)
	cur.x = int32(uint32(p.last.x) + uint32(diffX))

	k := p.icDX.K()
	diffY := p.icDY.Decompress(d, median3(p.lastYDiff[0], p.lastYDiff[1], p.lastYDiff[2]), capCtx(k, 19))
	cur.y = int32(uint32(p.last.y) + uint32(diffY))

	k = (k + p.icDY.K()) / 2
	cur.z = p.icZ.Decompress(d, p.last.z, capCtx(k, 19))

	changed := d.DecodeSymbol(p.mChanged)
	if changed&(1<<5) != 0 {
		cur.intensity = uint16(p.icIntensity.Decompress(d, int32(p.last.intensity), 0))
	}
	if changed&(1<<4) != 0 {
		cur.bitByte = uint8(d.DecodeSymbol(p.mBitByte))
	}
	if changed&(1<<3) != 0 {
		cur.classification = uint8(d.DecodeSymbol(p.mClass))
	}
	if changed&(1<<2) != 0 {
		ctx := uint32(0)
		if k < 3 {
			ctx = 1
		}
		cur.scanAngleRank = int8(p.icScanAngle.Decompress(d, int32(p.last.scanAngleRank), ctx))
	}
	if changed&(1<<1) != 0 {
		cur.userData = uint8(d.DecodeSymbol(p.mUserData))
	}
	if changed&1 != 0 {
		cur.pointSource = uint16(p.icPointSource.Decompress(d, int32(p.last.pointSource), 0))
	}

	p.lastXDiff[p.lastIncr] = diffX
	p.lastYDiff[p.lastIncr] = diffY
	p.lastIncr++
	if p.lastIncr > 2 {
		p.lastIncr = 0
	}
	cur.pack(raw)
	p.last = cur
}

func capCtx(k, max uint32) uint32 {
	if k < max {
		return k
	}
	return max
}
