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

// Bytes14V3 is the layered extra-bytes codec for the extended
// point formats: one coder session per byte position, so a
// reader interested in a single attribute can skip the others.
// The chunk body is count little-endian uint32 sizes followed
// by the per-byte layers.
type Bytes14V3 struct {
	enc  []*arith.Encoder
	dec  []*arith.Decoder
	m    []*arith.SymbolModel
	last []byte
}

func NewBytes14V3(count int) *Bytes14V3 {
	c := &Bytes14V3{
		enc:  make([]*arith.Encoder, count),
		dec:  make([]*arith.Decoder, count),
		m:    make([]*arith.SymbolModel, count),
		last: make([]byte, count),
	}
	for i := 0; i < count; i++ {
		c.enc[i] = arith.NewEncoder()
		c.dec[i] = arith.NewDecoder()
		c.m[i] = arith.NewSymbolModel(256)
	}
	return c
}

func (c *Bytes14V3) InitChunk(first []byte) {
	for i := range c.enc {
		c.enc[i].Reset()
		c.m[i].Reset()
	}
	copy(c.last, first)
}

func (c *Bytes14V3) Append(raw []byte) {
	for i, m := range c.m {
		c.enc[i].EncodeSymbol(m, fold8(int32(raw[i])-int32(c.last[i])))
		c.last[i] = raw[i]
	}
}

func (c *Bytes14V3) FinishChunk(dst []byte) []byte {
	bufs := make([][]byte, len(c.enc))
	var size [4]byte
	for i, e := range c.enc {
		bufs[i] = e.Done()
		binary.LittleEndian.PutUint32(size[:], uint32(len(bufs[i])))
		dst = append(dst, size[:]...)
	}
	for _, b := range bufs {
		dst = append(dst, b...)
	}
	return dst
}

func (c *Bytes14V3) ReadChunk(first []byte, chunk []byte) (int, error) {
	if len(chunk) < 4*len(c.dec) {
		return 0, arith.ErrTruncated
	}
	sizes := make([]int, len(c.dec))
	total := 4 * len(c.dec)
	for i := range sizes {
		sizes[i] = int(binary.LittleEndian.Uint32(chunk[4*i:]))
		total += sizes[i]
	}
	if len(chunk) < total {
		return 0, arith.ErrTruncated
	}
	off := 4 * len(c.dec)
	for i, d := range c.dec {
		if err := d.Init(chunk[off : off+sizes[i]]); err != nil {
			return 0, err
		}
		off += sizes[i]
	}
	for _, m := range c.m {
		m.Reset()
	}
	copy(c.last, first)
	return total, nil
}

func (c *Bytes14V3) Next(raw []byte) {
	for i, m := range c.m {
		raw[i] = uint8(c.dec[i].DecodeSymbol(m) + uint32(c.last[i]))
		c.last[i] = raw[i]
	}
}

func (c *Bytes14V3) Err() error {
	for _, d := range c.dec {
		if err := d.Err(); err != nil {
			return err
		}
	}
	return nil
}
