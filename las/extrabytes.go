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
	"github.com/SnellerInc/laz/internal/arith"
)

// Extra bytes are opaque per-record payload whose width comes
// from the descriptor, not the point format. Without knowing
// the field layout the best stable predictor is the previous
// record, byte for byte.

// BytesV2 codes each extra byte with its own symbol model over
// the folded difference to the previous record.
type BytesV2 struct {
	last []byte
	m    []*arith.SymbolModel
}

// NewBytesV2 returns a codec for count extra bytes per record.
func NewBytesV2(count int) *BytesV2 {
	c := &BytesV2{
		last: make([]byte, count),
		m:    make([]*arith.SymbolModel, count),
	}
	for i := range c.m {
		c.m[i] = arith.NewSymbolModel(256)
	}
	return c
}

func (c *BytesV2) Init(first []byte) {
	for _, m := range c.m {
		m.Reset()
	}
	copy(c.last, first)
}

func (c *BytesV2) Compress(e *arith.Encoder, raw []byte) {
	for i, m := range c.m {
		e.EncodeSymbol(m, fold8(int32(raw[i])-int32(c.last[i])))
		c.last[i] = raw[i]
	}
}

func (c *BytesV2) Decompress(d *arith.Decoder, raw []byte) {
	for i, m := range c.m {
		raw[i] = uint8(d.DecodeSymbol(m) + uint32(c.last[i]))
		c.last[i] = raw[i]
	}
}

// BytesV1 is the original extra-bytes codec, kept for decoding
// streams written by the first revision: one folded-integer
// corrector shared across the record with one context per byte
// position.
type BytesV1 struct {
	last []byte
	ic   *arith.IntCodec
}

func NewBytesV1(count int) *BytesV1 {
	return &BytesV1{
		last: make([]byte, count),
		ic:   arith.NewIntCodec(8, uint32(count)),
	}
}

func (c *BytesV1) Init(first []byte) {
	c.ic.Reset()
	copy(c.last, first)
}

func (c *BytesV1) Compress(e *arith.Encoder, raw []byte) {
	for i := range c.last {
		c.ic.Compress(e, int32(c.last[i]), int32(raw[i]), uint32(i))
		c.last[i] = raw[i]
	}
}

func (c *BytesV1) Decompress(d *arith.Decoder, raw []byte) {
	for i := range c.last {
		raw[i] = uint8(c.ic.Decompress(d, int32(c.last[i]), uint32(i)))
		c.last[i] = raw[i]
	}
}
