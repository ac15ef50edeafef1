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

import (
	"encoding/binary"
	"math"
)

// Decoder is one decoding session of the range coder,
// mirroring Encoder over an in-memory chunk.
//
// Running out of input sets a sticky ErrTruncated that the
// caller observes through Err; decode calls after that point
// return arbitrary symbols but always terminate. The decode
// primitives deliberately do not return errors: a mid-chunk
// failure invalidates the whole chunk anyway, so the error is
// checked at record boundaries.
type Decoder struct {
	value  uint32
	length uint32
	buf    []byte
	pos    int
	err    error
}

// NewDecoder returns a Decoder; call Init before decoding.
func NewDecoder() *Decoder {
	return new(Decoder)
}

// Init primes the session from the coded bytes of one chunk.
// The slice may extend past the chunk's coded bytes (sequential
// legacy streams); Consumed reports how far decoding reached.
func (d *Decoder) Init(buf []byte) error {
	if len(buf) < 4 {
		return ErrTruncated
	}
	d.buf = buf
	d.pos = 4
	d.value = binary.BigEndian.Uint32(buf)
	d.length = maxLength
	d.err = nil
	return nil
}

// Err returns the sticky decode error, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Consumed returns how many input bytes have been used.
// After the last symbol of a chunk this equals exactly the
// byte count the encoder produced for that chunk.
func (d *Decoder) Consumed() int {
	return d.pos
}

func (d *Decoder) next() uint32 {
	if d.pos >= len(d.buf) {
		if d.err == nil {
			d.err = ErrTruncated
		}
		return 0
	}
	b := d.buf[d.pos]
	d.pos++
	return uint32(b)
}

func (d *Decoder) renorm() {
	for {
		d.value = d.value<<8 | d.next()
		d.length <<= 8
		if d.length >= minLength {
			return
		}
	}
}

// DecodeBit decodes one outcome of a two-outcome context
// and adapts the model.
func (d *Decoder) DecodeBit(m *BitModel) uint32 {
	x := m.bit0Prob * (d.length >> bmLengthShift)
	var bit uint32
	if d.value >= x {
		bit = 1
		d.value -= x
		d.length -= x
	} else {
		d.length = x
		m.bit0Count++
	}
	if d.length < minLength {
		d.renorm()
	}
	m.bitsUntilUpdate--
	if m.bitsUntilUpdate == 0 {
		m.update()
	}
	return bit
}

// DecodeSymbol decodes one symbol using the model's cumulative
// frequencies and adapts the model.
func (d *Decoder) DecodeSymbol(m *SymbolModel) uint32 {
	var sym, x uint32
	y := d.length
	if m.decoderTable != nil {
		d.length >>= dmLengthShift
		dv := d.value / d.length
		t := dv >> m.tableShift

		sym = m.decoderTable[t]
		n := m.decoderTable[t+1] + 1
		for n > sym+1 {
			k := (sym + n) >> 1
			if m.dist[k] > dv {
				n = k
			} else {
				sym = k
			}
		}
		x = m.dist[sym] * d.length
		if sym != m.lastSymbol {
			y = m.dist[sym+1] * d.length
		}
	} else {
		d.length >>= dmLengthShift
		n := m.symbols
		k := n >> 1
		for {
			z := d.length * m.dist[k]
			if z > d.value {
				n = k
				y = z
			} else {
				sym = k
				x = z
			}
			k = (sym + n) >> 1
			if k == sym {
				break
			}
		}
	}

	d.value -= x
	d.length = y - x
	if d.length < minLength {
		d.renorm()
	}
	m.counts[sym]++
	m.symbolsUntilUpdate--
	if m.symbolsUntilUpdate == 0 {
		m.update()
	}
	return sym
}

// get decodes n <= 19 raw bits
func (d *Decoder) get(n uint32) uint32 {
	d.length >>= n
	s := d.value / d.length
	d.value -= s * d.length
	if d.length < minLength {
		d.renorm()
	}
	return s
}

// ReadBit decodes one equiprobable raw bit.
func (d *Decoder) ReadBit() uint32 {
	return d.get(1)
}

// ReadBits decodes n raw bits (1 <= n <= 32), mirroring
// Encoder.WriteBits.
func (d *Decoder) ReadBits(n uint32) uint32 {
	if n > 19 {
		lo := d.get(16)
		hi := d.get(n - 16)
		return hi<<16 | lo
	}
	return d.get(n)
}

// ReadInt decodes 32 raw bits.
func (d *Decoder) ReadInt() uint32 {
	return d.ReadBits(32)
}

// ReadInt64 decodes 64 raw bits, low word first.
func (d *Decoder) ReadInt64() uint64 {
	lo := d.ReadInt()
	hi := d.ReadInt()
	return uint64(hi)<<32 | uint64(lo)
}

// ReadDouble decodes the IEEE-754 bits of a float64.
func (d *Decoder) ReadDouble() float64 {
	return math.Float64frombits(d.ReadInt64())
}
