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

// BitModel is an adaptive probability model for a
// two-outcome context. The zero-outcome probability is
// kept scaled to 1<<bmLengthShift and recomputed every
// updateCycle observations; counts are halved (rounding
// up, so neither outcome starves) when the total exceeds
// bmMaxCount.
type BitModel struct {
	bit0Prob        uint32
	bit0Count       uint32
	count           uint32
	updateCycle     uint32
	bitsUntilUpdate uint32
}

// NewBitModel returns a bit model seeded with the
// uniform 1/2 distribution.
func NewBitModel() *BitModel {
	m := new(BitModel)
	m.Reset()
	return m
}

// Reset restores the initial seed distribution.
// Chunk boundaries reuse models through Reset rather
// than reallocating them.
func (m *BitModel) Reset() {
	m.bit0Count = 1
	m.count = 2
	m.bit0Prob = 1 << (bmLengthShift - 1)
	m.updateCycle = 4
	m.bitsUntilUpdate = 4
}

func (m *BitModel) update() {
	m.count += m.updateCycle
	if m.count > bmMaxCount {
		m.count = (m.count + 1) >> 1
		m.bit0Count = (m.bit0Count + 1) >> 1
		if m.bit0Count == m.count {
			m.count++
		}
	}
	scale := uint32(0x80000000) / m.count
	m.bit0Prob = (m.bit0Count * scale) >> (31 - bmLengthShift)

	m.updateCycle = (5 * m.updateCycle) >> 2
	if m.updateCycle > 64 {
		m.updateCycle = 64
	}
	m.bitsUntilUpdate = m.updateCycle
}

// SymbolModel is an adaptive frequency model over a fixed
// alphabet. The cumulative distribution is rebuilt every
// updateCycle observations; per-symbol counts are halved when
// the total exceeds dmMaxCount. Alphabets larger than 16
// symbols additionally maintain a table that narrows the
// decoder's binary search; the table never influences the
// distribution itself, so encode and decode stay in lockstep.
type SymbolModel struct {
	dist         []uint32
	counts       []uint32
	decoderTable []uint32

	totalCount         uint32
	updateCycle        uint32
	symbolsUntilUpdate uint32

	symbols    uint32
	lastSymbol uint32
	tableSize  uint32
	tableShift uint32
}

// NewSymbolModel returns a model over an alphabet of n symbols
// (2 <= n <= 2048), seeded with the uniform distribution.
func NewSymbolModel(n uint32) *SymbolModel {
	if n < 2 || n > 1<<11 {
		panic("arith: invalid symbol model alphabet size")
	}
	m := &SymbolModel{
		symbols:    n,
		lastSymbol: n - 1,
	}
	if n > 16 {
		tableBits := uint32(3)
		for n > 1<<(tableBits+2) {
			tableBits++
		}
		m.tableSize = 1 << tableBits
		m.tableShift = dmLengthShift - tableBits
		m.decoderTable = make([]uint32, m.tableSize+2)
	}
	m.dist = make([]uint32, n)
	m.counts = make([]uint32, n)
	m.Reset()
	return m
}

// Reset restores the initial seed distribution.
func (m *SymbolModel) Reset() {
	m.totalCount = 0
	m.updateCycle = m.symbols
	for i := range m.counts {
		m.counts[i] = 1
	}
	m.update()
	m.updateCycle = (m.symbols + 6) >> 1
	m.symbolsUntilUpdate = m.updateCycle
}

func (m *SymbolModel) update() {
	m.totalCount += m.updateCycle
	if m.totalCount > dmMaxCount {
		m.totalCount = 0
		for i := range m.counts {
			m.counts[i] = (m.counts[i] + 1) >> 1
			m.totalCount += m.counts[i]
		}
	}

	var sum, s uint32
	scale := uint32(0x80000000) / m.totalCount
	if m.decoderTable == nil {
		for k := uint32(0); k < m.symbols; k++ {
			m.dist[k] = (scale * sum) >> (31 - dmLengthShift)
			sum += m.counts[k]
		}
	} else {
		for k := uint32(0); k < m.symbols; k++ {
			m.dist[k] = (scale * sum) >> (31 - dmLengthShift)
			sum += m.counts[k]
			w := m.dist[k] >> m.tableShift
			for s < w {
				s++
				m.decoderTable[s] = k - 1
			}
		}
		m.decoderTable[0] = 0
		for s <= m.tableSize {
			s++
			m.decoderTable[s] = m.symbols - 1
		}
	}

	m.updateCycle = (5 * m.updateCycle) >> 2
	max := (m.symbols + 6) << 3
	if m.updateCycle > max {
		m.updateCycle = max
	}
	m.symbolsUntilUpdate = m.updateCycle
}
