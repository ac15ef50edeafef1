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

import "math"

// Encoder is one encoding session of the range coder.
// Coded bytes accumulate in an internal buffer (a session
// spans at most one chunk); a carry out of the interval base
// ripples backward through the buffered bytes.
type Encoder struct {
	base   uint32
	length uint32
	buf    []byte
}

// NewEncoder returns an Encoder ready for a fresh session.
func NewEncoder() *Encoder {
	e := new(Encoder)
	e.Reset()
	return e
}

// Reset discards session state and buffered output so the
// Encoder can code another independent chunk.
func (e *Encoder) Reset() {
	e.base = 0
	e.length = maxLength
	e.buf = e.buf[:0]
}

// propagate a carry out of base into the buffered bytes
func (e *Encoder) carry() {
	p := len(e.buf) - 1
	for p > 0 && e.buf[p] == 0xFF {
		e.buf[p] = 0
		p--
	}
	e.buf[p]++
}

// shift finished top bytes of base out until at least
// 24 bits of interval precision remain
func (e *Encoder) renorm() {
	for {
		e.buf = append(e.buf, byte(e.base>>24))
		e.base <<= 8
		e.length <<= 8
		if e.length >= minLength {
			return
		}
	}
}

// EncodeBit codes one outcome of a two-outcome context
// and adapts the model.
func (e *Encoder) EncodeBit(m *BitModel, bit uint32) {
	x := m.bit0Prob * (e.length >> bmLengthShift)
	if bit == 0 {
		e.length = x
		m.bit0Count++
	} else {
		old := e.base
		e.base += x
		e.length -= x
		if old > e.base {
			e.carry()
		}
	}
	if e.length < minLength {
		e.renorm()
	}
	m.bitsUntilUpdate--
	if m.bitsUntilUpdate == 0 {
		m.update()
	}
}

// EncodeSymbol codes sym using the model's cumulative
// frequencies and adapts the model.
func (e *Encoder) EncodeSymbol(m *SymbolModel, sym uint32) {
	old := e.base
	if sym == m.lastSymbol {
		x := m.dist[sym] * (e.length >> dmLengthShift)
		e.base += x
		e.length -= x
	} else {
		e.length >>= dmLengthShift
		x := m.dist[sym] * e.length
		e.base += x
		e.length = m.dist[sym+1]*e.length - x
	}
	if old > e.base {
		e.carry()
	}
	if e.length < minLength {
		e.renorm()
	}
	m.counts[sym]++
	m.symbolsUntilUpdate--
	if m.symbolsUntilUpdate == 0 {
		m.update()
	}
}

// put codes n <= 19 raw bits with a uniform split (no model)
func (e *Encoder) put(n, v uint32) {
	old := e.base
	e.length >>= n
	e.base += v * e.length
	if old > e.base {
		e.carry()
	}
	if e.length < minLength {
		e.renorm()
	}
}

// WriteBit codes one equiprobable raw bit.
func (e *Encoder) WriteBit(bit uint32) {
	e.put(1, bit)
}

// WriteBits codes the low n bits of v (1 <= n <= 32) without
// modeling; the folded-integer codec uses this for the tail
// bits below the modeled bit-length selector.
func (e *Encoder) WriteBits(n, v uint32) {
	if n > 19 {
		e.put(16, v&0xFFFF)
		v >>= 16
		n -= 16
	}
	e.put(n, v)
}

// WriteInt codes 32 raw bits.
func (e *Encoder) WriteInt(v uint32) {
	e.WriteBits(32, v)
}

// WriteInt64 codes 64 raw bits, low word first.
func (e *Encoder) WriteInt64(v uint64) {
	e.WriteInt(uint32(v))
	e.WriteInt(uint32(v >> 32))
}

// WriteDouble codes the IEEE-754 bits of v.
func (e *Encoder) WriteDouble(v float64) {
	e.WriteInt64(math.Float64bits(v))
}

// Done terminates the session and returns the coded bytes.
// The final interval is narrowed so the decoder's reads are
// unambiguous, then padded with zero bytes so that the decoder
// consumes exactly len(Done()) bytes: the decoder reads 4 bytes
// up front plus one per renormalization, and both sides
// renormalize in lockstep.
//
// The returned slice aliases the Encoder's buffer and is only
// valid until the next Reset.
func (e *Encoder) Done() []byte {
	old := e.base
	if e.length > 2*minLength {
		e.base += minLength
		e.length = minLength >> 1
	} else {
		e.base += minLength >> 1
		e.length = minLength >> 9
	}
	if old > e.base {
		e.carry()
	}
	before := len(e.buf)
	e.renorm()
	for len(e.buf)-before < 4 {
		e.buf = append(e.buf, 0)
	}
	return e.buf
}
