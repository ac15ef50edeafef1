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

package laz

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/SnellerInc/laz/las"
)

// CompressorType selects how the compressed point data is laid
// out in the stream.
type CompressorType uint16

const (
	// CompressorNone stores points uncompressed.
	CompressorNone CompressorType = iota
	// CompressorPointWise runs one coder session over the whole
	// stream with no chunk boundaries (oldest layout, no seek).
	CompressorPointWise
	// CompressorPointWiseChunked resets the coder session every
	// chunk and appends a chunk table; this is the default.
	CompressorPointWiseChunked
	// CompressorLayeredChunked additionally splits each chunk
	// into per-field layers (point formats 6 and up).
	CompressorLayeredChunked
)

// ItemType identifies one field family inside a point record.
// The values are wire constants.
type ItemType uint16

const (
	ItemByte         ItemType = 0
	ItemPoint10      ItemType = 6
	ItemGpsTime      ItemType = 7
	ItemRGB12        ItemType = 8
	ItemWavePacket13 ItemType = 9
	ItemPoint14      ItemType = 10
	ItemRGB14        ItemType = 11
	ItemRGBNIR14     ItemType = 12
	ItemByte14       ItemType = 14
)

// Item describes one compressed field family: its wire type,
// its raw byte size within the record, and the codec version
// used for it.
type Item struct {
	Type    ItemType
	Size    uint16
	Version uint16
}

// Identification of the descriptor record inside the
// surrounding LAS container.
const (
	VlrUserID      = "laszip encoded"
	VlrRecordID    = 22204
	VlrDescription = "https://laszip.org"
)

const (
	// DefaultChunkSize is the number of records per chunk when
	// the caller does not pick one.
	DefaultChunkSize = 50000
	// VariableChunkSize in the descriptor marks streams whose
	// chunks carry their own record counts.
	VariableChunkSize = 0xFFFFFFFF
)

// Vlr is the format descriptor stored in the LAZ variable
// length record. It must be produced and consumed byte-exact:
// third-party readers parse it directly.
type Vlr struct {
	Compressor CompressorType
	Coder      uint16 // 0 = arithmetic coder, the only one defined
	Major      uint8
	Minor      uint8
	Revision   uint16
	Options    uint32
	ChunkSize  uint32
	// EVLR bookkeeping carried through verbatim; -1 when unused.
	NumSpecialEvlrs    int64
	OffsetSpecialEvlrs int64
	Items              []Item
}

// supportedVersions is the closed registry of (field family,
// codec version) pairs this implementation can code. Anything
// outside it is rejected at open time rather than guessed at.
var supportedVersions = map[ItemType][]uint16{
	ItemByte:         {1, 2},
	ItemPoint10:      {1, 2},
	ItemGpsTime:      {1, 2},
	ItemRGB12:        {1, 2},
	ItemWavePacket13: {1},
	ItemPoint14:      {3},
	ItemRGB14:        {3},
	ItemRGBNIR14:     {3},
	ItemByte14:       {3},
}

func itemSize(t ItemType, extra uint16) uint16 {
	switch t {
	case ItemByte, ItemByte14:
		return extra
	case ItemPoint10:
		return las.Point10Size
	case ItemGpsTime:
		return las.GpsTimeSize
	case ItemRGB12, ItemRGB14:
		return las.RGB12Size
	case ItemWavePacket13:
		return las.WavePacket13Size
	case ItemPoint14:
		return las.Point14Size
	case ItemRGBNIR14:
		return las.RGBNIR14Size
	}
	return 0
}

// DefaultVlr builds a descriptor for the given LAS point format
// id using the current codec versions, with extra extra bytes
// appended to each record.
func DefaultVlr(pointFormat uint8, extra uint16) (*Vlr, error) {
	var types []ItemType
	switch pointFormat {
	case 0:
		types = []ItemType{ItemPoint10}
	case 1:
		types = []ItemType{ItemPoint10, ItemGpsTime}
	case 2:
		types = []ItemType{ItemPoint10, ItemRGB12}
	case 3:
		types = []ItemType{ItemPoint10, ItemGpsTime, ItemRGB12}
	case 4:
		types = []ItemType{ItemPoint10, ItemGpsTime, ItemWavePacket13}
	case 5:
		types = []ItemType{ItemPoint10, ItemGpsTime, ItemRGB12, ItemWavePacket13}
	case 6:
		types = []ItemType{ItemPoint14}
	case 7:
		types = []ItemType{ItemPoint14, ItemRGB14}
	case 8:
		types = []ItemType{ItemPoint14, ItemRGBNIR14}
	default:
		return nil, fmt.Errorf("%w: point format %d", ErrUnsupported, pointFormat)
	}
	layered := pointFormat >= 6
	if extra > 0 {
		if layered {
			types = append(types, ItemByte14)
		} else {
			types = append(types, ItemByte)
		}
	}
	items := make([]Item, len(types))
	for i, t := range types {
		version := uint16(2)
		if layered {
			version = 3
		}
		if t == ItemWavePacket13 {
			version = 1
		}
		items[i] = Item{Type: t, Size: itemSize(t, extra), Version: version}
	}
	compressor := CompressorPointWiseChunked
	if layered {
		compressor = CompressorLayeredChunked
	}
	vlr := &Vlr{
		Compressor:         compressor,
		Major:              2,
		Minor:              2,
		ChunkSize:          DefaultChunkSize,
		NumSpecialEvlrs:    -1,
		OffsetSpecialEvlrs: -1,
		Items:              items,
	}
	return vlr, vlr.validate()
}

// RecordSize returns the raw byte size of one point record.
func (v *Vlr) RecordSize() int {
	n := 0
	for i := range v.Items {
		n += int(v.Items[i].Size)
	}
	return n
}

func (v *Vlr) validate() error {
	if v.Compressor > CompressorLayeredChunked {
		return fmt.Errorf("%w: compressor type %d", ErrUnsupported, v.Compressor)
	}
	if v.Coder != 0 {
		return fmt.Errorf("%w: coder %d", ErrUnsupported, v.Coder)
	}
	if len(v.Items) == 0 {
		return fmt.Errorf("%w: descriptor has no items", ErrUnsupported)
	}
	for _, it := range v.Items {
		ok := false
		for _, ver := range supportedVersions[it.Type] {
			if it.Version == ver {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: item type %d version %d", ErrUnsupported, it.Type, it.Version)
		}
		layeredItem := it.Version >= 3
		if layeredItem != (v.Compressor == CompressorLayeredChunked) {
			return fmt.Errorf("%w: item type %d version %d under compressor type %d",
				ErrUnsupported, it.Type, it.Version, v.Compressor)
		}
	}
	return nil
}

// vlrFixedSize is the descriptor preamble before the item list.
const vlrFixedSize = 2 + 2 + 4 + 4 + 4 + 8 + 8

// ReadVlr parses a descriptor from its wire form and validates
// that every field uses a supported codec version.
func ReadVlr(r io.Reader) (*Vlr, error) {
	var pre [vlrFixedSize + 2]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, fmt.Errorf("%w: reading descriptor: %v", ErrTruncated, err)
	}
	v := &Vlr{
		Compressor:         CompressorType(binary.LittleEndian.Uint16(pre[0:])),
		Coder:              binary.LittleEndian.Uint16(pre[2:]),
		Major:              pre[4],
		Minor:              pre[5],
		Revision:           binary.LittleEndian.Uint16(pre[6:]),
		Options:            binary.LittleEndian.Uint32(pre[8:]),
		ChunkSize:          binary.LittleEndian.Uint32(pre[12:]),
		NumSpecialEvlrs:    int64(binary.LittleEndian.Uint64(pre[16:])),
		OffsetSpecialEvlrs: int64(binary.LittleEndian.Uint64(pre[24:])),
	}
	count := binary.LittleEndian.Uint16(pre[32:])
	v.Items = make([]Item, count)
	var buf [6]byte
	for i := range v.Items {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("%w: reading descriptor item %d: %v", ErrTruncated, i, err)
		}
		v.Items[i] = Item{
			Type:    ItemType(binary.LittleEndian.Uint16(buf[0:])),
			Size:    binary.LittleEndian.Uint16(buf[2:]),
			Version: binary.LittleEndian.Uint16(buf[4:]),
		}
	}
	return v, v.validate()
}

// WriteTo serializes the descriptor in its wire form.
func (v *Vlr) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, vlrFixedSize+2+6*len(v.Items))
	binary.LittleEndian.PutUint16(buf[0:], uint16(v.Compressor))
	binary.LittleEndian.PutUint16(buf[2:], v.Coder)
	buf[4] = v.Major
	buf[5] = v.Minor
	binary.LittleEndian.PutUint16(buf[6:], v.Revision)
	binary.LittleEndian.PutUint32(buf[8:], v.Options)
	binary.LittleEndian.PutUint32(buf[12:], v.ChunkSize)
	binary.LittleEndian.PutUint64(buf[16:], uint64(v.NumSpecialEvlrs))
	binary.LittleEndian.PutUint64(buf[24:], uint64(v.OffsetSpecialEvlrs))
	binary.LittleEndian.PutUint16(buf[32:], uint16(len(v.Items)))
	off := vlrFixedSize + 2
	for i := range v.Items {
		binary.LittleEndian.PutUint16(buf[off+0:], uint16(v.Items[i].Type))
		binary.LittleEndian.PutUint16(buf[off+2:], v.Items[i].Size)
		binary.LittleEndian.PutUint16(buf[off+4:], v.Items[i].Version)
		off += 6
	}
	n, err := w.Write(buf)
	return int64(n), err
}
