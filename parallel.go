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
	"runtime"
	"sync"

	"github.com/SnellerInc/laz/ints"
)

// Chunks neither share codec state nor reference each other's
// bytes, so bulk jobs can fan them out to a worker pool: each
// worker owns a full chunkCoder, jobs are chunk indices, and
// results land in an index-addressed slice so the join step
// preserves chunk order regardless of completion order.

type parallelPool struct {
	wg       sync.WaitGroup
	jobs     chan int
	errMutex sync.Mutex
	err      error
}

func (p *parallelPool) run(threads, chunks int, mk func() (func(int) error, error)) error {
	threads = ints.Min(threads, chunks)
	if threads <= 0 {
		threads = ints.Min(runtime.GOMAXPROCS(0), chunks)
	}
	p.jobs = make(chan int, chunks)
	for ci := 0; ci < chunks; ci++ {
		p.jobs <- ci
	}
	close(p.jobs)

	for i := 0; i < threads; i++ {
		work, err := mk()
		if err != nil {
			// drain the queue so already-launched workers exit,
			// then join them before surfacing the error
			p.fail(err)
			for range p.jobs {
			}
			break
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for ci := range p.jobs {
				if err := work(ci); err != nil {
					p.fail(err)
					return
				}
			}
		}()
	}
	p.wg.Wait()
	return p.err
}

func (p *parallelPool) fail(err error) {
	p.errMutex.Lock()
	defer p.errMutex.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// ParCompress compresses records (concatenated raw record
// bytes) to dst using up to threads workers, one chunk per
// job, and finalizes the stream exactly like Compressor.Close.
// threads <= 0 picks GOMAXPROCS. The output is byte-identical
// to the serial Compressor's.
func ParCompress(dst io.WriteSeeker, vlr *Vlr, records []byte, threads int) error {
	if err := vlr.validate(); err != nil {
		return err
	}
	recSize := vlr.RecordSize()
	if len(records)%recSize != 0 {
		return fmt.Errorf("laz: %d record bytes is not a multiple of %d", len(records), recSize)
	}
	n := len(records) / recSize

	if vlr.Compressor == CompressorPointWise {
		// one coder session over everything: nothing to fan out
		return serialCompress(dst, vlr, records)
	}
	if vlr.ChunkSize == 0 || vlr.ChunkSize == VariableChunkSize {
		return fmt.Errorf("%w: chunk size %d", ErrUnsupported, vlr.ChunkSize)
	}
	cs := int(vlr.ChunkSize)
	chunks := ints.ChunkCount(uint(n), uint(cs))

	out := make([][]byte, chunks)
	var pool parallelPool
	err := pool.run(threads, int(chunks), func() (func(int) error, error) {
		coder, err := newChunkCoder(vlr)
		if err != nil {
			return nil, err
		}
		return func(ci int) error {
			lo := ci * cs * recSize
			hi := ints.Min(lo+cs*recSize, len(records))
			out[ci] = coder.encodeChunk(nil, records[lo:hi])
			return nil
		}, nil
	})
	if err != nil {
		return err
	}

	slotPos, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := writeUint64At(dst, slotPos, tableSlotAbsent); err != nil {
		return err
	}
	counts := make([]uint32, len(out))
	for i, chunk := range out {
		if _, err := dst.Write(chunk); err != nil {
			return err
		}
		counts[i] = uint32(len(chunk))
	}
	tableOff, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := dst.Write(appendChunkTable(nil, counts)); err != nil {
		return err
	}
	if err := writeUint64At(dst, slotPos, uint64(tableOff)); err != nil {
		return err
	}
	_, err = dst.Seek(0, io.SeekEnd)
	return err
}

func serialCompress(dst io.WriteSeeker, vlr *Vlr, records []byte) error {
	c, err := NewCompressor(dst, vlr)
	if err != nil {
		return err
	}
	recSize := vlr.RecordSize()
	for off := 0; off < len(records); off += recSize {
		if err := c.Compress(records[off : off+recSize]); err != nil {
			return err
		}
	}
	return c.Close()
}

// ParDecompress decompresses numRecords records from src using
// up to threads workers and returns the concatenated raw
// record bytes. Streams without a chunk table fall back to
// sequential decode.
func ParDecompress(src io.ReadSeeker, vlr *Vlr, numRecords uint64, threads int) ([]byte, error) {
	d, err := NewDecompressor(src, vlr, numRecords)
	if err != nil {
		return nil, err
	}
	recSize := d.coder.recSize
	out := make([]byte, numRecords*uint64(recSize))
	if !d.hasTable {
		for off := 0; off < len(out); off += recSize {
			if err := d.Decompress(out[off : off+recSize]); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	// pull every chunk's bytes up front; workers must not share
	// the seek position
	data := make([][]byte, len(d.counts))
	for ci := range data {
		data[ci] = make([]byte, d.counts[ci])
		if _, err := src.Seek(d.offsets[ci], io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(src, data[ci]); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrTruncated, ci, err)
		}
	}

	cs := int(d.chunkSize)
	var pool parallelPool
	err = pool.run(threads, len(data), func() (func(int) error, error) {
		coder, err := newChunkCoder(vlr)
		if err != nil {
			return nil, err
		}
		return func(ci int) error {
			lo := ci * cs * recSize
			hi := ints.Min(lo+cs*recSize, len(out))
			_, err := coder.decodeChunk(data[ci], out[lo:hi])
			return err
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
