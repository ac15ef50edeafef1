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

// Package las implements the per-field predictive codecs for
// LAZ point records.
//
// Each point attribute family (position, GPS time, color, extra
// bytes, waveform packets) has its own predictor paired with
// adaptive entropy models, in one or more historical versions.
// A codec instance carries the previous record's values as
// prediction context; its lifetime is one chunk, and Init (or
// InitChunk) resets it to the format-defined seed state, which
// is what makes chunks independently decodable.
package las

import (
	"github.com/SnellerInc/laz/internal/arith"
)

// Raw (uncompressed) byte sizes of the fixed-layout items.
const (
	Point10Size      = 20
	GpsTimeSize      = 8
	RGB12Size        = 6
	WavePacket13Size = 29
	Point14Size      = 30
	RGB14Size        = 6
	RGBNIR14Size     = 8
)

// ItemCodec is the contract shared by the point-wise field
// codecs: Init seeds prediction state from the chunk's first
// (raw) record, then Compress/Decompress handle one record's
// field bytes at a time. One instance serves one direction;
// the model state evolves identically either way.
type ItemCodec interface {
	Init(first []byte)
	Compress(e *arith.Encoder, raw []byte)
	Decompress(d *arith.Decoder, raw []byte)
}

// LayeredCodec is the contract for the layered (version 3)
// codecs, where each field family owns a separate coder
// session per chunk and the per-layer byte counts precede the
// layer data.
//
// Encode side: InitChunk with the first raw record, Append for
// each following record, FinishChunk to emit the layer sizes
// and layer bytes. Decode side: ReadChunk consumes the sizes
// and layer bytes from the chunk buffer, then Next decodes one
// record at a time. Err reports a sticky decode error.
type LayeredCodec interface {
	InitChunk(first []byte)
	Append(raw []byte)
	FinishChunk(dst []byte) []byte
	ReadChunk(first []byte, chunk []byte) (int, error)
	Next(raw []byte)
	Err() error
}

// modelTable is a table of symbol models keyed by the previous
// value of a byte-sized field. Entries are allocated on first
// use: most files touch a handful of classification or flag
// values, so eagerly building 256 models per field would be
// almost entirely wasted.
type modelTable struct {
	syms uint32
	m    []*arith.SymbolModel
}

func newModelTable(keys, syms uint32) *modelTable {
	return &modelTable{syms: syms, m: make([]*arith.SymbolModel, keys)}
}

func (t *modelTable) get(key uint8) *arith.SymbolModel {
	m := t.m[key]
	if m == nil {
		m = arith.NewSymbolModel(t.syms)
		t.m[key] = m
	}
	return m
}

func (t *modelTable) reset() {
	for _, m := range t.m {
		if m != nil {
			m.Reset()
		}
	}
}

// fold8 maps a byte-sized signed difference onto the 0..255
// symbol alphabet (arithmetic is modulo 256 on both sides).
func fold8(v int32) uint32 {
	return uint32(uint8(v))
}
