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

// Package laz implements lossless compression and
// decompression of LAS point-cloud records (the LAZ layout).
//
// The stream is organized in chunks of a fixed number of
// records. All predictive state resets at chunk boundaries, so
// chunks decode independently; a chunk table appended after the
// data maps record indices to byte offsets for random access.
// The Vlr descriptor declares the field layout and codec
// versions and travels inside the surrounding LAS container.
//
// Compressor and Decompressor are the streaming surfaces;
// ParCompress and ParDecompress process chunks on a worker pool
// for bulk workloads.
package laz

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/laz/internal/arith"
	"github.com/SnellerInc/laz/las"
)

var (
	// ErrUnsupported indicates a descriptor naming a coder,
	// compressor layout, or field codec version this
	// implementation does not know.
	ErrUnsupported = errors.New("laz: unsupported format")
	// ErrTruncated indicates the source ended before the bytes
	// the format requires.
	ErrTruncated = errors.New("laz: truncated stream")
	// ErrCorruptChunkTable indicates a chunk table pointer or
	// entry inconsistent with the stream.
	ErrCorruptChunkTable = errors.New("laz: corrupt chunk table")
	// ErrRecordCount indicates more records were requested than
	// the stream declares.
	ErrRecordCount = errors.New("laz: record count exceeded")
)

type itemSpan struct {
	start, end int
	codec      las.ItemCodec
}

type layerSpan struct {
	start, end int
	codec      las.LayeredCodec
}

func newItemCodec(it Item) (las.ItemCodec, error) {
	switch {
	case it.Type == ItemPoint10 && it.Version == 1:
		return las.NewPoint10V1(), nil
	case it.Type == ItemPoint10 && it.Version == 2:
		return las.NewPoint10V2(), nil
	case it.Type == ItemGpsTime && it.Version == 1:
		return las.NewGpsTimeV1(), nil
	case it.Type == ItemGpsTime && it.Version == 2:
		return las.NewGpsTimeV2(), nil
	case it.Type == ItemRGB12 && it.Version == 1:
		return las.NewRGBV1(), nil
	case it.Type == ItemRGB12 && it.Version == 2:
		return las.NewRGBV2(), nil
	case it.Type == ItemByte && it.Version == 1:
		return las.NewBytesV1(int(it.Size)), nil
	case it.Type == ItemByte && it.Version == 2:
		return las.NewBytesV2(int(it.Size)), nil
	case it.Type == ItemWavePacket13 && it.Version == 1:
		return las.NewWavePacketV1(), nil
	}
	return nil, fmt.Errorf("%w: item type %d version %d", ErrUnsupported, it.Type, it.Version)
}

func newLayeredCodec(it Item) (las.LayeredCodec, error) {
	switch {
	case it.Type == ItemPoint14 && it.Version == 3:
		return las.NewPoint14V3(), nil
	case it.Type == ItemRGB14 && it.Version == 3:
		return las.NewRGB14V3(), nil
	case it.Type == ItemRGBNIR14 && it.Version == 3:
		return las.NewRGBNIR14V3(), nil
	case it.Type == ItemByte14 && it.Version == 3:
		return las.NewBytes14V3(int(it.Size)), nil
	}
	return nil, fmt.Errorf("%w: item type %d version %d", ErrUnsupported, it.Type, it.Version)
}

// chunkCoder owns one full set of field codecs and turns raw
// records into compressed chunks and back. One instance serves
// one goroutine; the serial surfaces own one, the parallel
// drivers one per worker.
type chunkCoder struct {
	recSize int
	items   []itemSpan  // point-wise layouts
	layers  []layerSpan // layered layout
	enc     *arith.Encoder
	dec     *arith.Decoder
}

func newChunkCoder(v *Vlr) (*chunkCoder, error) {
	if v.Compressor == CompressorNone {
		// uncompressed point data never passes through this
		// package; the descriptor value exists only on the wire
		return nil, fmt.Errorf("%w: compressor type %d", ErrUnsupported, v.Compressor)
	}
	c := &chunkCoder{recSize: v.RecordSize()}
	off := 0
	for _, it := range v.Items {
		end := off + int(it.Size)
		if v.Compressor == CompressorLayeredChunked {
			codec, err := newLayeredCodec(it)
			if err != nil {
				return nil, err
			}
			c.layers = append(c.layers, layerSpan{off, end, codec})
		} else {
			codec, err := newItemCodec(it)
			if err != nil {
				return nil, err
			}
			c.items = append(c.items, itemSpan{off, end, codec})
		}
		off = end
	}
	if c.items != nil {
		c.enc = arith.NewEncoder()
		c.dec = arith.NewDecoder()
	}
	return c, nil
}

// initChunk seeds every codec from the chunk's first raw
// record.
func (c *chunkCoder) initChunk(first []byte) {
	if c.items != nil {
		c.enc.Reset()
		for _, s := range c.items {
			s.codec.Init(first[s.start:s.end])
		}
		return
	}
	for _, s := range c.layers {
		s.codec.InitChunk(first[s.start:s.end])
	}
}

func (c *chunkCoder) appendRecord(rec []byte) {
	if c.items != nil {
		for _, s := range c.items {
			s.codec.Compress(c.enc, rec[s.start:s.end])
		}
		return
	}
	for _, s := range c.layers {
		s.codec.Append(rec[s.start:s.end])
	}
}

// encodeChunk compresses one chunk of records and appends its
// bytes to dst: the first record raw, then the coder session
// output (or the per-item layers).
func (c *chunkCoder) encodeChunk(dst, records []byte) []byte {
	first := records[:c.recSize]
	dst = append(dst, first...)
	c.initChunk(first)
	for off := c.recSize; off < len(records); off += c.recSize {
		c.appendRecord(records[off : off+c.recSize])
	}
	if c.items != nil {
		return append(dst, c.enc.Done()...)
	}
	for _, s := range c.layers {
		dst = s.codec.FinishChunk(dst)
	}
	return dst
}

// decodeChunk decompresses records from one chunk's bytes into
// dst (whose length selects how many records to decode) and
// reports how many chunk bytes the records consumed.
func (c *chunkCoder) decodeChunk(chunk, dst []byte) (int, error) {
	if len(chunk) < c.recSize {
		return 0, ErrTruncated
	}
	first := chunk[:c.recSize]
	copy(dst, first)

	if c.items != nil {
		if err := c.dec.Init(chunk[c.recSize:]); err != nil {
			return 0, ErrTruncated
		}
		for _, s := range c.items {
			s.codec.Init(first[s.start:s.end])
		}
		for off := c.recSize; off < len(dst); off += c.recSize {
			rec := dst[off : off+c.recSize]
			for _, s := range c.items {
				s.codec.Decompress(c.dec, rec[s.start:s.end])
			}
		}
		if c.dec.Err() != nil {
			return 0, ErrTruncated
		}
		return c.recSize + c.dec.Consumed(), nil
	}

	used := c.recSize
	for _, s := range c.layers {
		n, err := s.codec.ReadChunk(first[s.start:s.end], chunk[used:])
		if err != nil {
			return 0, ErrTruncated
		}
		used += n
	}
	for off := c.recSize; off < len(dst); off += c.recSize {
		rec := dst[off : off+c.recSize]
		for _, s := range c.layers {
			s.codec.Next(rec[s.start:s.end])
		}
	}
	for _, s := range c.layers {
		if s.codec.Err() != nil {
			return 0, ErrTruncated
		}
	}
	return used, nil
}
