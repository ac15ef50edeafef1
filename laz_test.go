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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

// seekBuffer is an in-memory io.ReadWriteSeeker.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if need := int(s.pos) + len(p); need > len(s.buf) {
		s.buf = append(s.buf, make([]byte, need-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos += int64(len(p))
	return len(p), nil
}

func (s *seekBuffer) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *seekBuffer) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = off
	case io.SeekCurrent:
		s.pos += off
	case io.SeekEnd:
		s.pos = int64(len(s.buf)) + off
	}
	if s.pos < 0 {
		return 0, fmt.Errorf("seek before start")
	}
	return s.pos, nil
}

// genRecords builds n plausible records for the descriptor's
// layout: smooth coordinate walks, slow attribute drift.
func genRecords(vlr *Vlr, n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	recSize := vlr.RecordSize()
	out := make([]byte, 0, n*recSize)
	x, y, z := int32(100000), int32(2000000), int32(30000)
	gps := 250000.0
	r, g, b := uint16(30000), uint16(31000), uint16(29000)
	for i := 0; i < n; i++ {
		rec := make([]byte, recSize)
		off := 0
		for _, it := range vlr.Items {
			switch it.Type {
			case ItemPoint10, ItemPoint14:
				binary.LittleEndian.PutUint32(rec[off:], uint32(x))
				binary.LittleEndian.PutUint32(rec[off+4:], uint32(y))
				binary.LittleEndian.PutUint32(rec[off+8:], uint32(z))
				binary.LittleEndian.PutUint16(rec[off+12:], uint16(100+rng.Intn(50)))
				rec[off+14] = 1 | 1<<3 // single return
				if it.Type == ItemPoint14 {
					rec[off+14] = 1 | 1<<4
					rec[off+15] = uint8(rng.Intn(2)) << 4 // scanner channel
					rec[off+16] = uint8(rng.Intn(5))
					binary.LittleEndian.PutUint64(rec[off+22:], math.Float64bits(gps))
				} else {
					rec[off+15] = uint8(rng.Intn(5))
				}
			case ItemGpsTime:
				binary.LittleEndian.PutUint64(rec[off:], math.Float64bits(gps))
			case ItemRGB12, ItemRGB14, ItemRGBNIR14:
				binary.LittleEndian.PutUint16(rec[off:], r)
				binary.LittleEndian.PutUint16(rec[off+2:], g)
				binary.LittleEndian.PutUint16(rec[off+4:], b)
				if it.Type == ItemRGBNIR14 {
					binary.LittleEndian.PutUint16(rec[off+6:], r/2)
				}
			case ItemWavePacket13:
				rec[off] = 1
				binary.LittleEndian.PutUint64(rec[off+1:], uint64(i)*512)
				binary.LittleEndian.PutUint32(rec[off+9:], 512)
			case ItemByte, ItemByte14:
				for j := 0; j < int(it.Size); j++ {
					rec[off+j] = byte(i >> (j & 3))
				}
			}
			off += int(it.Size)
		}
		out = append(out, rec...)
		x += int32(rng.Intn(200) - 90)
		y += int32(rng.Intn(80) - 40)
		z += int32(rng.Intn(16) - 8)
		gps += 0.0002
		r = uint16(int(r) + rng.Intn(101) - 50)
		g = uint16(int(r) + rng.Intn(21) - 10)
		b = uint16(int(r) + rng.Intn(21) - 10)
	}
	return out
}

func compressAll(t *testing.T, vlr *Vlr, records []byte) *seekBuffer {
	t.Helper()
	var sink seekBuffer
	c, err := NewCompressor(&sink, vlr)
	if err != nil {
		t.Fatal(err)
	}
	recSize := vlr.RecordSize()
	for off := 0; off < len(records); off += recSize {
		if err := c.Compress(records[off : off+recSize]); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	return &sink
}

func decompressAll(t *testing.T, src *seekBuffer, vlr *Vlr, n uint64) []byte {
	t.Helper()
	src.pos = 0
	d, err := NewDecompressor(src, vlr, n)
	if err != nil {
		t.Fatal(err)
	}
	recSize := vlr.RecordSize()
	out := make([]byte, n*uint64(recSize))
	for off := 0; off < len(out); off += recSize {
		if err := d.Decompress(out[off : off+recSize]); err != nil {
			t.Fatal(err)
		}
	}
	return out
}

func TestVlrWireLayout(t *testing.T) {
	vlr, err := DefaultVlr(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	vlr.ChunkSize = 1000
	var buf bytes.Buffer
	if _, err := vlr.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		2, 0, // compressor: point-wise chunked
		0, 0, // coder: arithmetic
		2, 2, 0, 0, // version 2.2.0
		0, 0, 0, 0, // options
		0xE8, 0x03, 0, 0, // chunk size 1000
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // special evlrs: -1
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		2, 0, // two items
		6, 0, 20, 0, 2, 0, // Point10, 20 bytes, version 2
		7, 0, 8, 0, 2, 0, // GpsTime, 8 bytes, version 2
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("wire bytes:\ngot  %x\nwant %x", buf.Bytes(), want)
	}

	back, err := ReadVlr(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if back.ChunkSize != 1000 || len(back.Items) != 2 || back.Items[1].Type != ItemGpsTime {
		t.Fatalf("reparsed descriptor mismatch: %+v", back)
	}
}

func TestVlrUnsupported(t *testing.T) {
	base, _ := DefaultVlr(0, 0)

	bad := *base
	bad.Coder = 1
	if err := bad.validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("coder 1: %v", err)
	}

	bad = *base
	bad.Items = []Item{{Type: ItemPoint10, Size: 20, Version: 4}}
	if err := bad.validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("point10 v4: %v", err)
	}

	bad = *base
	bad.Compressor = 7
	if err := bad.validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("compressor 7: %v", err)
	}

	// layered item under a point-wise layout
	bad = *base
	bad.Items = []Item{{Type: ItemPoint14, Size: 30, Version: 3}}
	if err := bad.validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("layered under chunked: %v", err)
	}
}

func TestRoundtripFormats(t *testing.T) {
	for _, tc := range []struct {
		format uint8
		extra  uint16
	}{
		{0, 0}, {1, 0}, {2, 0}, {3, 0}, {3, 5}, {4, 0}, {5, 2},
		{6, 0}, {7, 0}, {8, 0}, {8, 3},
	} {
		t.Run(fmt.Sprintf("format%d_extra%d", tc.format, tc.extra), func(t *testing.T) {
			vlr, err := DefaultVlr(tc.format, tc.extra)
			if err != nil {
				t.Fatal(err)
			}
			vlr.ChunkSize = 128
			const n = 1000
			records := genRecords(vlr, n, int64(tc.format))
			sink := compressAll(t, vlr, records)
			got := decompressAll(t, sink, vlr, n)
			if !bytes.Equal(got, records) {
				t.Fatal("decoded records differ from input")
			}
		})
	}
}

func TestRoundtripEmpty(t *testing.T) {
	vlr, _ := DefaultVlr(1, 0)
	sink := compressAll(t, vlr, nil)
	got := decompressAll(t, sink, vlr, 0)
	if len(got) != 0 {
		t.Fatal("expected no records")
	}
}

func TestRoundtripSingleRecord(t *testing.T) {
	vlr, _ := DefaultVlr(1, 0)
	records := genRecords(vlr, 1, 9)
	sink := compressAll(t, vlr, records)
	if got := decompressAll(t, sink, vlr, 1); !bytes.Equal(got, records) {
		t.Fatal("single record did not roundtrip")
	}
}

func TestChunkIndependence(t *testing.T) {
	base, _ := DefaultVlr(1, 0)
	const n = 500
	records := genRecords(base, n, 10)

	var streams [][]byte
	for _, cs := range []uint32{1, 10, n + 1} {
		vlr, _ := DefaultVlr(1, 0)
		vlr.ChunkSize = cs
		sink := compressAll(t, vlr, records)
		if got := decompressAll(t, sink, vlr, n); !bytes.Equal(got, records) {
			t.Fatalf("chunk size %d: decode mismatch", cs)
		}
		streams = append(streams, append([]byte(nil), sink.buf...))
	}
	if bytes.Equal(streams[0], streams[1]) || bytes.Equal(streams[1], streams[2]) {
		t.Fatal("different chunk sizes produced identical streams")
	}
}

func TestPointWiseLayout(t *testing.T) {
	vlr, _ := DefaultVlr(1, 0)
	vlr.Compressor = CompressorPointWise
	for i := range vlr.Items {
		vlr.Items[i].Version = 1
	}
	const n = 300
	records := genRecords(vlr, n, 11)
	sink := compressAll(t, vlr, records)
	if got := decompressAll(t, sink, vlr, n); !bytes.Equal(got, records) {
		t.Fatal("point-wise layout did not roundtrip")
	}

	// no chunk table: seek must be refused
	sink.pos = 0
	d, err := NewDecompressor(sink, vlr, n)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Seek(5); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("seek without table: %v", err)
	}
}

func TestRandomAccess(t *testing.T) {
	vlr, _ := DefaultVlr(3, 0)
	vlr.ChunkSize = 64
	const n = 777
	records := genRecords(vlr, n, 12)
	sink := compressAll(t, vlr, records)
	recSize := vlr.RecordSize()

	sink.pos = 0
	d, err := NewDecompressor(sink, vlr, n)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, recSize)
	for _, k := range []uint64{0, 1, 63, 64, 65, 400, n - 1, 3, 700} {
		if err := d.Seek(k); err != nil {
			t.Fatalf("seek %d: %v", k, err)
		}
		if err := d.Decompress(got); err != nil {
			t.Fatalf("record %d: %v", k, err)
		}
		want := records[int(k)*recSize : int(k+1)*recSize]
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d: random access differs from sequential", k)
		}
	}
}

func TestDeltaScenario(t *testing.T) {
	vlr, _ := DefaultVlr(0, 0)
	recSize := vlr.RecordSize()
	mk := func(x, y, z int32, intensity uint16) []byte {
		rec := make([]byte, recSize)
		binary.LittleEndian.PutUint32(rec[0:], uint32(x))
		binary.LittleEndian.PutUint32(rec[4:], uint32(y))
		binary.LittleEndian.PutUint32(rec[8:], uint32(z))
		binary.LittleEndian.PutUint16(rec[12:], intensity)
		rec[14] = 1 | 1<<3
		return rec
	}
	records := append(mk(1000, 2000, 500, 50), mk(1005, 1998, 500, 50)...)
	sink := compressAll(t, vlr, records)
	if got := decompressAll(t, sink, vlr, 2); !bytes.Equal(got, records) {
		t.Fatal("delta scenario did not roundtrip")
	}
	// the second record is tiny deltas (dx=5, dy=-2, dz=0); its
	// compressed form must undercut its raw size by a wide margin
	sink.pos = 0
	d, err := NewDecompressor(sink, vlr, 2)
	if err != nil {
		t.Fatal(err)
	}
	if chunkBytes := int(d.counts[0]); chunkBytes >= 2*recSize {
		t.Fatalf("2-record chunk is %d bytes, expected well under %d", chunkBytes, 2*recSize)
	}
}

func TestChunkTableEntries(t *testing.T) {
	vlr, _ := DefaultVlr(0, 0)
	vlr.ChunkSize = 2
	records := genRecords(vlr, 5, 13)
	sink := compressAll(t, vlr, records)

	sink.pos = 0
	d, err := NewDecompressor(sink, vlr, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.counts) != 3 {
		t.Fatalf("expected 3 chunks for 5 records at chunk size 2, got %d", len(d.counts))
	}
	var sum int64
	for _, n := range d.counts {
		sum += int64(n)
	}
	// slot (8 bytes) + chunk bytes must land exactly on the table
	if d.offsets[0]+sum != d.offsets[len(d.offsets)-1]+int64(d.counts[len(d.counts)-1]) {
		t.Fatal("non-contiguous chunk offsets")
	}
	if got := decompressAll(t, sink, vlr, 5); !bytes.Equal(got, records) {
		t.Fatal("decode mismatch")
	}
}

func TestCorruptChunkTable(t *testing.T) {
	vlr, _ := DefaultVlr(0, 0)
	vlr.ChunkSize = 4
	records := genRecords(vlr, 20, 14)
	sink := compressAll(t, vlr, records)

	// pointer beyond the stream
	bad := &seekBuffer{buf: append([]byte(nil), sink.buf...)}
	binary.LittleEndian.PutUint64(bad.buf[0:], uint64(len(bad.buf)+100))
	if _, err := NewDecompressor(bad, vlr, 20); !errors.Is(err, ErrCorruptChunkTable) {
		t.Fatalf("out-of-range pointer: %v", err)
	}

	// pointer into the middle of a chunk: entry count check or
	// offset sum check must fire
	bad = &seekBuffer{buf: append([]byte(nil), sink.buf...)}
	binary.LittleEndian.PutUint64(bad.buf[0:], 20)
	if _, err := NewDecompressor(bad, vlr, 20); !errors.Is(err, ErrCorruptChunkTable) {
		t.Fatalf("misplaced pointer: %v", err)
	}

	// never-patched slot falls back to sequential decode
	legacy := &seekBuffer{buf: append([]byte(nil), sink.buf...)}
	tableOff := binary.LittleEndian.Uint64(legacy.buf[0:])
	legacy.buf = legacy.buf[:tableOff] // drop the table too
	binary.LittleEndian.PutUint64(legacy.buf[0:], ^uint64(0))
	if got := decompressAll(t, legacy, vlr, 20); !bytes.Equal(got, records) {
		t.Fatal("legacy fallback decode mismatch")
	}
}

func TestRecordCount(t *testing.T) {
	vlr, _ := DefaultVlr(0, 0)
	vlr.ChunkSize = 8
	records := genRecords(vlr, 10, 15)
	sink := compressAll(t, vlr, records)

	got := decompressAll(t, sink, vlr, 10)
	if !bytes.Equal(got, records) {
		t.Fatal("decode mismatch")
	}
	sink.pos = 0
	d, err := NewDecompressor(sink, vlr, 10)
	if err != nil {
		t.Fatal(err)
	}
	rec := make([]byte, vlr.RecordSize())
	for i := 0; i < 10; i++ {
		if err := d.Decompress(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Decompress(rec); !errors.Is(err, ErrRecordCount) {
		t.Fatalf("pull past declared count: %v", err)
	}
	if err := d.Seek(10); !errors.Is(err, ErrRecordCount) {
		t.Fatalf("seek past declared count: %v", err)
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	vlr, _ := DefaultVlr(3, 4)
	vlr.ChunkSize = 100
	const n = 1234
	records := genRecords(vlr, n, 16)

	serial := compressAll(t, vlr, records)
	var par seekBuffer
	if err := ParCompress(&par, vlr, records, 4); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(par.buf, serial.buf) {
		t.Fatal("parallel compression is not byte-identical to serial")
	}

	par.pos = 0
	got, err := ParDecompress(&par, vlr, n, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, records) {
		t.Fatal("parallel decode mismatch")
	}
}

func TestParallelLayered(t *testing.T) {
	vlr, _ := DefaultVlr(7, 0)
	vlr.ChunkSize = 50
	const n = 500
	records := genRecords(vlr, n, 17)
	var sink seekBuffer
	if err := ParCompress(&sink, vlr, records, 0); err != nil {
		t.Fatal(err)
	}
	sink.pos = 0
	got, err := ParDecompress(&sink, vlr, n, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, records) {
		t.Fatal("layered parallel roundtrip mismatch")
	}
}

func TestPoolWorkerSetupFailure(t *testing.T) {
	// a setup failure after workers were launched must still
	// join them before surfacing the error
	setup := errors.New("worker setup failed")
	var active int32
	var pool parallelPool
	calls := 0
	err := pool.run(4, 16, func() (func(int) error, error) {
		calls++
		if calls == 2 {
			return nil, setup
		}
		return func(ci int) error {
			atomic.AddInt32(&active, 1)
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		}, nil
	})
	if !errors.Is(err, setup) {
		t.Fatalf("setup failure not surfaced: %v", err)
	}
	if n := atomic.LoadInt32(&active); n != 0 {
		t.Fatalf("%d workers still running after run returned", n)
	}
}

func TestTruncatedStream(t *testing.T) {
	vlr, _ := DefaultVlr(1, 0)
	vlr.ChunkSize = 16
	records := genRecords(vlr, 64, 18)
	sink := compressAll(t, vlr, records)

	cut := &seekBuffer{buf: sink.buf[:len(sink.buf)/3]}
	if _, err := NewDecompressor(cut, vlr, 64); err == nil {
		t.Fatal("expected an error for a truncated stream")
	}
}

// compression should beat a general-purpose byte compressor on
// point data; the benchmark pair makes the comparison visible
func BenchmarkCompress(b *testing.B) {
	vlr, _ := DefaultVlr(1, 0)
	records := genRecords(vlr, 50000, 19)
	b.SetBytes(int64(len(records)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var sink seekBuffer
		c, _ := NewCompressor(&sink, vlr)
		recSize := vlr.RecordSize()
		for off := 0; off < len(records); off += recSize {
			c.Compress(records[off : off+recSize])
		}
		c.Close()
		if i == 0 {
			b.ReportMetric(float64(len(sink.buf))/float64(len(records)), "ratio")
		}
	}
}

func BenchmarkZstdBaseline(b *testing.B) {
	vlr, _ := DefaultVlr(1, 0)
	records := genRecords(vlr, 50000, 19)
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		b.Fatal(err)
	}
	defer enc.Close()
	b.SetBytes(int64(len(records)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := enc.EncodeAll(records, nil)
		if i == 0 {
			b.ReportMetric(float64(len(out))/float64(len(records)), "ratio")
		}
	}
}
