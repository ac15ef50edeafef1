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

// Layer indices for the version 3 point codec. Each field
// family gets its own coder session per chunk so a reader that
// only needs positions can skip decoding the rest.
const (
	layerChannelXY = iota
	layerZ
	layerClassification
	layerFlags
	layerIntensity
	layerScanAngle
	layerUserData
	layerPointSource
	layerGpsTime
	point14Layers
)

// point14 is the 30-byte extended record core of point formats
// 6 and up: 32-bit coordinates, intensity, the returns byte
// (return number 0:4, number of returns 4:8), the flags byte
// (classification flags 0:4, scanner channel 4:6, scan
// direction 6, edge of flight line 7), classification, user
// data, a 16-bit scan angle, point source id and GPS time.
type point14 struct {
	x, y, z     int32
	intensity   uint16
	returns     uint8
	flags       uint8
	class       uint8
	userData    uint8
	scanAngle   int16
	pointSource uint16
	gps         uint64
}

func unpackPoint14(raw []byte) point14 {
	return point14{
		x:           int32(binary.LittleEndian.Uint32(raw[0:])),
		y:           int32(binary.LittleEndian.Uint32(raw[4:])),
		z:           int32(binary.LittleEndian.Uint32(raw[8:])),
		intensity:   binary.LittleEndian.Uint16(raw[12:]),
		returns:     raw[14],
		flags:       raw[15],
		class:       raw[16],
		userData:    raw[17],
		scanAngle:   int16(binary.LittleEndian.Uint16(raw[18:])),
		pointSource: binary.LittleEndian.Uint16(raw[20:]),
		gps:         binary.LittleEndian.Uint64(raw[22:]),
	}
}

func (p *point14) pack(raw []byte) {
	binary.LittleEndian.PutUint32(raw[0:], uint32(p.x))
	binary.LittleEndian.PutUint32(raw[4:], uint32(p.y))
	binary.LittleEndian.PutUint32(raw[8:], uint32(p.z))
	binary.LittleEndian.PutUint16(raw[12:], p.intensity)
	raw[14] = p.returns
	raw[15] = p.flags
	raw[16] = p.class
	raw[17] = p.userData
	binary.LittleEndian.PutUint16(raw[18:], uint16(p.scanAngle))
	binary.LittleEndian.PutUint16(raw[20:], p.pointSource)
	binary.LittleEndian.PutUint64(raw[22:], p.gps)
}

func (p *point14) channel() int   { return int(p.flags >> 4 & 3) }
func (p *point14) scanDir() uint8 { return p.flags >> 6 & 1 }

// flag6 folds the non-channel flag bits into one 6-bit value
// (classification flags, scan direction, edge); the channel
// itself is coded in the XY layer.
func (p *point14) flag6() uint8 { return p.flags&0x0F | p.flags>>6&3<<4 }

func mergeFlags(flag6 uint8, channel int) uint8 {
	return flag6&0x0F | uint8(channel)<<4 | flag6>>4&3<<6
}

// point14Ctx is the per-scanner-channel prediction state.
// Multi-channel scanners interleave returns from independent
// beams; giving each channel its own context keeps one beam's
// geometry from polluting the other's predictions.
type point14Ctx struct {
	seeded bool
	last   point14

	lastXDiffMed  [16]median5
	lastYDiffMed  [16]median5
	lastIntensity [16]uint16
	lastHeight    [8]int32

	mChannel  *arith.SymbolModel
	mReturns  *modelTable
	mFlags    *modelTable
	mClass    *modelTable
	mUserData *modelTable

	icDX          *arith.IntCodec
	icDY          *arith.IntCodec
	icZ           *arith.IntCodec
	icIntensity   *arith.IntCodec
	icScanAngle   *arith.IntCodec
	icPointSource *arith.IntCodec
	gps           *gpsTime
}

func newPoint14Ctx() *point14Ctx {
	return &point14Ctx{
		mChannel:      arith.NewSymbolModel(4),
		mReturns:      newModelTable(256, 256),
		mFlags:        newModelTable(64, 64),
		mClass:        newModelTable(256, 256),
		mUserData:     newModelTable(256, 256),
		icDX:          arith.NewIntCodec(32, 2),
		icDY:          arith.NewIntCodec(32, 22),
		icZ:           arith.NewIntCodec(32, 20),
		icIntensity:   arith.NewIntCodec(16, 4),
		icScanAngle:   arith.NewIntCodec(16, 2),
		icPointSource: arith.NewIntCodec(16, 1),
		gps:           newGpsTime(),
	}
}

func (c *point14Ctx) reset() {
	c.seeded = false
	c.mChannel.Reset()
	c.mReturns.reset()
	c.mFlags.reset()
	c.mClass.reset()
	c.mUserData.reset()
	c.icDX.Reset()
	c.icDY.Reset()
	c.icZ.Reset()
	c.icIntensity.Reset()
	c.icScanAngle.Reset()
	c.icPointSource.Reset()
}

// seed primes a context with its first record. Trackers start
// from zero and the GPS sequence state from the record's own
// stamp; both sides derive the record identically, so the seed
// never needs to be coded.
func (c *point14Ctx) seed(p point14) {
	c.seeded = true
	c.last = p
	for i := range c.lastXDiffMed {
		c.lastXDiffMed[i].init()
		c.lastYDiffMed[i].init()
	}
	c.lastIntensity = [16]uint16{}
	c.lastHeight = [8]int32{}
	c.gps.init(p.gps)
}

// Point14V3 is the layered codec for the extended point core.
// Every field family writes into its own coder session; the
// chunk body is the nine little-endian uint32 layer sizes
// followed by the layer bytes in index order.
type Point14V3 struct {
	enc [point14Layers]*arith.Encoder
	dec [point14Layers]*arith.Decoder
	ctx [4]*point14Ctx
	cur int
}

func NewPoint14V3() *Point14V3 {
	c := &Point14V3{}
	for i := range c.enc {
		c.enc[i] = arith.NewEncoder()
		c.dec[i] = arith.NewDecoder()
	}
	for i := range c.ctx {
		c.ctx[i] = newPoint14Ctx()
	}
	return c
}

func (c *Point14V3) resetChunk(first point14) {
	for _, ctx := range c.ctx {
		ctx.reset()
	}
	c.cur = first.channel()
	c.ctx[c.cur].seed(first)
}

func (c *Point14V3) InitChunk(first []byte) {
	for _, e := range c.enc {
		e.Reset()
	}
	c.resetChunk(unpackPoint14(first))
}

// switchCtx moves the active context to the record's channel,
// seeding it on first use from the previous channel's last
// record.
func (c *Point14V3) switchCtx(channel int) *point14Ctx {
	if channel != c.cur {
		if !c.ctx[channel].seeded {
			c.ctx[channel].seed(c.ctx[c.cur].last)
		}
		c.cur = channel
	}
	return c.ctx[c.cur]
}

func (c *Point14V3) Append(raw []byte) {
	p := unpackPoint14(raw)

	c.enc[layerChannelXY].EncodeSymbol(c.ctx[c.cur].mChannel, uint32(p.channel()))
	ctx := c.switchCtx(p.channel())
	last := ctx.last

	c.enc[layerChannelXY].EncodeSymbol(ctx.mReturns.get(last.returns), uint32(p.returns))
	r := ints.Min(p.returns&0x0F, 7)
	n := ints.Min(p.returns>>4, 7)
	m := numberReturnMap[n][r]
	l := numberReturnLevel[n][r]
	ctxN := uint32(0)
	if n == 1 {
		ctxN = 1
	}

	diff := int32(uint32(p.x) - uint32(last.x))
	ctx.icDX.Compress(c.enc[layerChannelXY], ctx.lastXDiffMed[m].get(), diff, ctxN)
	ctx.lastXDiffMed[m].add(diff)

	k := ctx.icDX.K()
	diff = int32(uint32(p.y) - uint32(last.y))
	ctx.icDY.Compress(c.enc[layerChannelXY], ctx.lastYDiffMed[m].get(), diff, ctxN+ySmooth(k))
	ctx.lastYDiffMed[m].add(diff)

	k = (ctx.icDX.K() + ctx.icDY.K()) / 2
	ctx.icZ.Compress(c.enc[layerZ], ctx.lastHeight[l], p.z, ctxN+zSmooth(k))
	ctx.lastHeight[l] = p.z

	c.enc[layerClassification].EncodeSymbol(ctx.mClass.get(last.class), uint32(p.class))
	c.enc[layerFlags].EncodeSymbol(ctx.mFlags.get(last.flag6()), uint32(p.flag6()))

	ictx := uint32(ints.Min(m, 3))
	ctx.icIntensity.Compress(c.enc[layerIntensity], int32(ctx.lastIntensity[m]), int32(p.intensity), ictx)
	ctx.lastIntensity[m] = p.intensity

	sctx := uint32(0)
	if p.scanDir() == last.scanDir() {
		sctx = 1
	}
	ctx.icScanAngle.Compress(c.enc[layerScanAngle], int32(last.scanAngle), int32(p.scanAngle), sctx)

	c.enc[layerUserData].EncodeSymbol(ctx.mUserData.get(last.userData), uint32(p.userData))
	ctx.icPointSource.Compress(c.enc[layerPointSource], int32(last.pointSource), int32(p.pointSource), 0)
	ctx.gps.compress(c.enc[layerGpsTime], p.gps)

	ctx.last = p
}

func (c *Point14V3) FinishChunk(dst []byte) []byte {
	var bufs [point14Layers][]byte
	for i, e := range c.enc {
		bufs[i] = e.Done()
	}
	var size [4]byte
	for _, b := range bufs {
		binary.LittleEndian.PutUint32(size[:], uint32(len(b)))
		dst = append(dst, size[:]...)
	}
	for _, b := range bufs {
		dst = append(dst, b...)
	}
	return dst
}

func (c *Point14V3) ReadChunk(first []byte, chunk []byte) (int, error) {
	if len(chunk) < 4*point14Layers {
		return 0, arith.ErrTruncated
	}
	var sizes [point14Layers]int
	total := 4 * point14Layers
	for i := range sizes {
		sizes[i] = int(binary.LittleEndian.Uint32(chunk[4*i:]))
		total += sizes[i]
	}
	if len(chunk) < total {
		return 0, arith.ErrTruncated
	}
	off := 4 * point14Layers
	for i, d := range c.dec {
		if err := d.Init(chunk[off : off+sizes[i]]); err != nil {
			return 0, err
		}
		off += sizes[i]
	}
	c.resetChunk(unpackPoint14(first))
	return total, nil
}

func (c *Point14V3) Next(raw []byte) {
	channel := int(c.dec[layerChannelXY].DecodeSymbol(c.ctx[c.cur].mChannel))
	ctx := c.switchCtx(channel)
	last := ctx.last
	var p point14

	p.returns = uint8(c.dec[layerChannelXY].DecodeSymbol(ctx.mReturns.get(last.returns)))
	r := ints.Min(p.returns&0x0F, 7)
	n := ints.Min(p.returns>>4, 7)
	m := numberReturnMap[n][r]
	l := numberReturnLevel[n][r]
	ctxN := uint32(0)
	if n == 1 {
		ctxN = 1
	}

	diff := ctx.icDX.Decompress(c.dec[layerChannelXY], ctx.lastXDiffMed[m].get(), ctxN)
	p.x = int32(uint32(last.x) + uint32(diff))
	ctx.lastXDiffMed[m].add(diff)

	k := ctx.icDX.K()
	diff = ctx.icDY.Decompress(c.dec[layerChannelXY], ctx.lastYDiffMed[m].get(), ctxN+ySmooth(k))
	p.y = int32(uint32(last.y) + uint32(diff))
	ctx.lastYDiffMed[m].add(diff)

	k = (ctx.icDX.K() + ctx.icDY.K()) / 2
	p.z = ctx.icZ.Decompress(c.dec[layerZ], ctx.lastHeight[l], ctxN+zSmooth(k))
	ctx.lastHeight[l] = p.z

	p.class = uint8(c.dec[layerClassification].DecodeSymbol(ctx.mClass.get(last.class)))
	p.flags = mergeFlags(uint8(c.dec[layerFlags].DecodeSymbol(ctx.mFlags.get(last.flag6()))), channel)

	ictx := uint32(ints.Min(m, 3))
	p.intensity = uint16(ctx.icIntensity.Decompress(c.dec[layerIntensity], int32(ctx.lastIntensity[m]), ictx))
	ctx.lastIntensity[m] = p.intensity

	sctx := uint32(0)
	if p.scanDir() == last.scanDir() {
		sctx = 1
	}
	p.scanAngle = int16(ctx.icScanAngle.Decompress(c.dec[layerScanAngle], int32(last.scanAngle), sctx))

	p.userData = uint8(c.dec[layerUserData].DecodeSymbol(ctx.mUserData.get(last.userData)))
	p.pointSource = uint16(ctx.icPointSource.Decompress(c.dec[layerPointSource], int32(last.pointSource), 0))
	p.gps = ctx.gps.decompress(c.dec[layerGpsTime])

	p.pack(raw)
	ctx.last = p
}

func (c *Point14V3) Err() error {
	for _, d := range c.dec {
		if err := d.Err(); err != nil {
			return err
		}
	}
	return nil
}
