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
	"fmt"
	"io"
)

// Compressor writes compressed point records to a seekable
// sink. Records are pushed one at a time with Compress; Close
// flushes the final chunk, writes the chunk table, and patches
// the pointer slot reserved at open time.
//
// The caller writes the Vlr descriptor into the LAS container
// separately; the Compressor only produces the point data
// stream.
type Compressor struct {
	dst   io.WriteSeeker
	vlr   *Vlr
	coder *chunkCoder

	chunkSize int // 0 for the unchunked point-wise layout
	slotPos   int64
	pending   []byte
	scratch   []byte
	counts    []uint32
	pushed    uint64
	closed    bool
	err       error
}

// NewCompressor validates the descriptor and opens an encoder
// handle on dst. For chunked layouts it reserves the 8-byte
// chunk table pointer slot at the current offset.
func NewCompressor(dst io.WriteSeeker, vlr *Vlr) (*Compressor, error) {
	if err := vlr.validate(); err != nil {
		return nil, err
	}
	coder, err := newChunkCoder(vlr)
	if err != nil {
		return nil, err
	}
	c := &Compressor{dst: dst, vlr: vlr, coder: coder}
	if vlr.Compressor != CompressorPointWise {
		if vlr.ChunkSize == 0 || vlr.ChunkSize == VariableChunkSize {
			return nil, fmt.Errorf("%w: chunk size %d", ErrUnsupported, vlr.ChunkSize)
		}
		c.chunkSize = int(vlr.ChunkSize)
		c.slotPos, err = dst.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		if err := writeUint64At(dst, c.slotPos, tableSlotAbsent); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func writeUint64At(ws io.WriteSeeker, pos int64, v uint64) error {
	if _, err := ws.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	_, err := ws.Write(buf[:])
	return err
}

// Compress pushes one raw record.
func (c *Compressor) Compress(record []byte) error {
	if c.err != nil {
		return c.err
	}
	if c.closed {
		return fmt.Errorf("laz: Compress after Close")
	}
	if len(record) != c.coder.recSize {
		return fmt.Errorf("laz: record is %d bytes, descriptor says %d", len(record), c.coder.recSize)
	}
	c.pending = append(c.pending, record...)
	c.pushed++
	if c.chunkSize > 0 && len(c.pending) == c.chunkSize*c.coder.recSize {
		c.err = c.flushChunk()
	}
	return c.err
}

func (c *Compressor) flushChunk() error {
	c.scratch = c.coder.encodeChunk(c.scratch[:0], c.pending)
	c.pending = c.pending[:0]
	if _, err := c.dst.Write(c.scratch); err != nil {
		return err
	}
	c.counts = append(c.counts, uint32(len(c.scratch)))
	return nil
}

// Close flushes the partial last chunk and finalizes the chunk
// table. The sink is left positioned at the end of the stream.
func (c *Compressor) Close() error {
	if c.err != nil {
		return c.err
	}
	if c.closed {
		return nil
	}
	c.closed = true
	if len(c.pending) > 0 {
		if c.err = c.flushChunk(); c.err != nil {
			return c.err
		}
	}
	if c.vlr.Compressor == CompressorPointWise {
		return nil
	}
	tableOff, err := c.dst.Seek(0, io.SeekCurrent)
	if err != nil {
		c.err = err
		return err
	}
	if _, err := c.dst.Write(appendChunkTable(nil, c.counts)); err != nil {
		c.err = err
		return err
	}
	if err := writeUint64At(c.dst, c.slotPos, uint64(tableOff)); err != nil {
		c.err = err
		return err
	}
	if _, err := c.dst.Seek(0, io.SeekEnd); err != nil {
		c.err = err
		return err
	}
	return nil
}

// RecordCount reports how many records have been pushed.
func (c *Compressor) RecordCount() uint64 { return c.pushed }
