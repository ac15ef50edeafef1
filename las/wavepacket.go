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

// The 29-byte wave packet item references the external waveform
// data: descriptor index, byte offset and size of the packet,
// the return point location and the df/dx/dy/dz direction
// vector (float32 coded through their bit patterns). Packets
// are usually stored back to back, so the offset difference is
// either zero, exactly the previous packet's size, or a small
// correction.
type wavePacket struct {
	index       uint8
	offset      uint64
	size        uint32
	returnPoint uint32
	x, y, z     uint32
}

func unpackWavePacket(raw []byte) wavePacket {
	return wavePacket{
		index:       raw[0],
		offset:      binary.LittleEndian.Uint64(raw[1:]),
		size:        binary.LittleEndian.Uint32(raw[9:]),
		returnPoint: binary.LittleEndian.Uint32(raw[13:]),
		x:           binary.LittleEndian.Uint32(raw[17:]),
		y:           binary.LittleEndian.Uint32(raw[21:]),
		z:           binary.LittleEndian.Uint32(raw[25:]),
	}
}

func (w *wavePacket) pack(raw []byte) {
	raw[0] = w.index
	binary.LittleEndian.PutUint64(raw[1:], w.offset)
	binary.LittleEndian.PutUint32(raw[9:], w.size)
	binary.LittleEndian.PutUint32(raw[13:], w.returnPoint)
	binary.LittleEndian.PutUint32(raw[17:], w.x)
	binary.LittleEndian.PutUint32(raw[21:], w.y)
	binary.LittleEndian.PutUint32(raw[25:], w.z)
}

// WavePacketV1 codes the wave packet item. The offset-mode
// symbol (unchanged / previous-plus-size / 32-bit corrected /
// full 64 bits) is conditioned on the previous record's mode,
// since files tend to stay in one storage pattern.
type WavePacketV1 struct {
	last        wavePacket
	lastDiff    int32
	lastOffMode int

	mIndex   *arith.SymbolModel
	mOffMode [4]*arith.SymbolModel

	icOffset      *arith.IntCodec
	icSize        *arith.IntCodec
	icReturnPoint *arith.IntCodec
	icXYZ         *arith.IntCodec
}

func NewWavePacketV1() *WavePacketV1 {
	c := &WavePacketV1{
		mIndex:        arith.NewSymbolModel(256),
		icOffset:      arith.NewIntCodec(32, 1),
		icSize:        arith.NewIntCodec(32, 1),
		icReturnPoint: arith.NewIntCodec(32, 1),
		icXYZ:         arith.NewIntCodec(32, 3),
	}
	for i := range c.mOffMode {
		c.mOffMode[i] = arith.NewSymbolModel(4)
	}
	return c
}

func (c *WavePacketV1) Init(first []byte) {
	c.lastDiff = 0
	c.lastOffMode = 0
	c.mIndex.Reset()
	for _, m := range c.mOffMode {
		m.Reset()
	}
	c.icOffset.Reset()
	c.icSize.Reset()
	c.icReturnPoint.Reset()
	c.icXYZ.Reset()
	c.last = unpackWavePacket(first)
}

func (c *WavePacketV1) Compress(e *arith.Encoder, raw []byte) {
	cur := unpackWavePacket(raw)
	e.EncodeSymbol(c.mIndex, uint32(cur.index))

	diff64 := int64(cur.offset) - int64(c.last.offset)
	diff := int32(diff64)
	switch {
	case cur.offset == c.last.offset:
		e.EncodeSymbol(c.mOffMode[c.lastOffMode], 0)
		c.lastOffMode = 0
	case cur.offset == c.last.offset+uint64(c.last.size):
		// unsigned: the decoder reconstructs with a uint64 add,
		// and sizes of 2GiB and up do not fit the 32-bit corrector
		e.EncodeSymbol(c.mOffMode[c.lastOffMode], 1)
		c.lastOffMode = 1
	case diff64 == int64(diff):
		e.EncodeSymbol(c.mOffMode[c.lastOffMode], 2)
		c.lastOffMode = 2
		c.icOffset.Compress(e, c.lastDiff, diff, 0)
		c.lastDiff = diff
	default:
		e.EncodeSymbol(c.mOffMode[c.lastOffMode], 3)
		c.lastOffMode = 3
		e.WriteInt64(cur.offset)
	}

	c.icSize.Compress(e, int32(c.last.size), int32(cur.size), 0)
	c.icReturnPoint.Compress(e, int32(c.last.returnPoint), int32(cur.returnPoint), 0)
	c.icXYZ.Compress(e, int32(c.last.x), int32(cur.x), 0)
	c.icXYZ.Compress(e, int32(c.last.y), int32(cur.y), 1)
	c.icXYZ.Compress(e, int32(c.last.z), int32(cur.z), 2)
	c.last = cur
}

func (c *WavePacketV1) Decompress(d *arith.Decoder, raw []byte) {
	cur := c.last
	cur.index = uint8(d.DecodeSymbol(c.mIndex))

	switch mode := d.DecodeSymbol(c.mOffMode[c.lastOffMode]); mode {
	case 0:
		c.lastOffMode = 0
	case 1:
		cur.offset = c.last.offset + uint64(c.last.size)
		c.lastOffMode = 1
	case 2:
		c.lastDiff = c.icOffset.Decompress(d, c.lastDiff, 0)
		cur.offset = uint64(int64(c.last.offset) + int64(c.lastDiff))
		c.lastOffMode = 2
	default:
		cur.offset = d.ReadInt64()
		c.lastOffMode = 3
	}

	cur.size = uint32(c.icSize.Decompress(d, int32(c.last.size), 0))
	cur.returnPoint = uint32(c.icReturnPoint.Decompress(d, int32(c.last.returnPoint), 0))
	cur.x = uint32(c.icXYZ.Decompress(d, int32(c.last.x), 0))
	cur.y = uint32(c.icXYZ.Decompress(d, int32(c.last.y), 1))
	cur.z = uint32(c.icXYZ.Decompress(d, int32(c.last.z), 2))
	cur.pack(raw)
	c.last = cur
}
