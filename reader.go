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
)

// Decompressor reads compressed point records from a seekable
// source. Records are pulled one at a time with Decompress;
// Seek jumps to an arbitrary record index when the stream
// carries a chunk table.
//
// The record count comes from the surrounding LAS container
// (the compressed stream does not repeat it); pulling past it
// fails with ErrRecordCount.
type Decompressor struct {
	src   io.ReadSeeker
	vlr   *Vlr
	coder *chunkCoder

	numRecords uint64
	chunkSize  uint64
	hasTable   bool
	offsets    []int64  // with table: absolute chunk offsets
	counts     []uint32 // with table: chunk byte counts
	seq        []byte   // without table: remaining stream bytes
	seqOff     int
	seqChunk   int

	chunk   int // loaded chunk index, -1 before the first load
	recs    []byte
	recIdx  int
	read    uint64
	scratch []byte
	err     error
}

// NewDecompressor validates the descriptor and opens a decoder
// handle on src positioned at the start of the point data.
// numRecords is the record count declared by the container.
//
// For chunked layouts the chunk table is located through the
// pointer slot and validated; a slot that was never patched
// (legacy streams) falls back to sequential whole-stream
// decode, while a present-but-invalid table is a fatal
// ErrCorruptChunkTable.
func NewDecompressor(src io.ReadSeeker, vlr *Vlr, numRecords uint64) (*Decompressor, error) {
	if err := vlr.validate(); err != nil {
		return nil, err
	}
	coder, err := newChunkCoder(vlr)
	if err != nil {
		return nil, err
	}
	d := &Decompressor{
		src:        src,
		vlr:        vlr,
		coder:      coder,
		numRecords: numRecords,
		chunk:      -1,
	}
	if vlr.Compressor == CompressorPointWise {
		d.chunkSize = numRecords
		if numRecords > 0 {
			if d.seq, err = io.ReadAll(src); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
		}
		return d, nil
	}

	if vlr.ChunkSize == 0 || vlr.ChunkSize == VariableChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d", ErrUnsupported, vlr.ChunkSize)
	}
	d.chunkSize = uint64(vlr.ChunkSize)
	if numRecords == 0 {
		return d, nil
	}

	var slot [8]byte
	if _, err := io.ReadFull(src, slot[:]); err != nil {
		return nil, fmt.Errorf("%w: reading table pointer: %v", ErrTruncated, err)
	}
	dataStart, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	end, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	slotVal := binary.LittleEndian.Uint64(slot[:])
	if slotVal == tableSlotAbsent {
		// legacy stream: no table was ever written; decode
		// sequentially, discovering chunk boundaries as we go
		if _, err := src.Seek(dataStart, io.SeekStart); err != nil {
			return nil, err
		}
		if d.seq, err = io.ReadAll(src); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		return d, nil
	}

	tableOff := int64(slotVal)
	if tableOff < dataStart || tableOff > end {
		return nil, fmt.Errorf("%w: table pointer %d outside stream", ErrCorruptChunkTable, tableOff)
	}
	if _, err := src.Seek(tableOff, io.SeekStart); err != nil {
		return nil, err
	}
	table, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	d.counts, err = parseChunkTable(table)
	if err != nil {
		return nil, err
	}

	chunks := (numRecords + d.chunkSize - 1) / d.chunkSize
	if uint64(len(d.counts)) != chunks {
		return nil, fmt.Errorf("%w: %d entries for %d chunks", ErrCorruptChunkTable, len(d.counts), chunks)
	}
	d.offsets = make([]int64, len(d.counts))
	off := dataStart
	for i, n := range d.counts {
		d.offsets[i] = off
		off += int64(n)
	}
	if off != tableOff {
		return nil, fmt.Errorf("%w: chunk bytes end at %d, table at %d", ErrCorruptChunkTable, off, tableOff)
	}
	d.hasTable = true
	return d, nil
}

// RecordCount returns the declared record count.
func (d *Decompressor) RecordCount() uint64 { return d.numRecords }

func (d *Decompressor) chunkRecords(ci int) int {
	n := d.chunkSize
	if rem := d.numRecords - uint64(ci)*d.chunkSize; rem < n {
		n = rem
	}
	return int(n)
}

func (d *Decompressor) loadChunk(ci int) error {
	n := d.chunkRecords(ci)
	need := n * d.coder.recSize
	if cap(d.recs) < need {
		d.recs = make([]byte, need)
	}
	d.recs = d.recs[:need]

	if d.hasTable {
		if cap(d.scratch) < int(d.counts[ci]) {
			d.scratch = make([]byte, d.counts[ci])
		}
		d.scratch = d.scratch[:d.counts[ci]]
		if _, err := d.src.Seek(d.offsets[ci], io.SeekStart); err != nil {
			return err
		}
		if _, err := io.ReadFull(d.src, d.scratch); err != nil {
			return fmt.Errorf("%w: chunk %d: %v", ErrTruncated, ci, err)
		}
		if _, err := d.coder.decodeChunk(d.scratch, d.recs); err != nil {
			return err
		}
	} else {
		if ci != d.seqChunk {
			return fmt.Errorf("laz: sequential decode cannot revisit chunk %d", ci)
		}
		used, err := d.coder.decodeChunk(d.seq[d.seqOff:], d.recs)
		if err != nil {
			return err
		}
		d.seqOff += used
		d.seqChunk++
	}
	d.chunk = ci
	d.recIdx = 0
	return nil
}

// Decompress pulls the next record into record. Pulling past
// the declared count fails with ErrRecordCount.
func (d *Decompressor) Decompress(record []byte) error {
	if d.err != nil {
		return d.err
	}
	if len(record) != d.coder.recSize {
		return fmt.Errorf("laz: record is %d bytes, descriptor says %d", len(record), d.coder.recSize)
	}
	if d.read >= d.numRecords {
		return ErrRecordCount
	}
	ci := int(d.read / d.chunkSize)
	if ci != d.chunk {
		if err := d.loadChunk(ci); err != nil {
			d.err = err
			return err
		}
	}
	copy(record, d.recs[d.recIdx*d.coder.recSize:])
	d.recIdx++
	d.read++
	return nil
}

// Seek positions the next Decompress at record index i. It
// requires a chunk table.
func (d *Decompressor) Seek(i uint64) error {
	if d.err != nil {
		return d.err
	}
	if !d.hasTable {
		return fmt.Errorf("%w: seek requires a chunk table", ErrUnsupported)
	}
	if i >= d.numRecords {
		return ErrRecordCount
	}
	ci := int(i / d.chunkSize)
	if ci != d.chunk {
		if err := d.loadChunk(ci); err != nil {
			d.err = err
			return err
		}
	}
	d.recIdx = int(i % d.chunkSize)
	d.read = i
	return nil
}
