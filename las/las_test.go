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
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/SnellerInc/laz/internal/arith"
)

// roundtripItems compresses records[1:] against records[0] and
// checks the decompressed stream matches byte for byte.
func roundtripItems(t *testing.T, enc, dec ItemCodec, size int, records [][]byte) {
	t.Helper()
	e := arith.NewEncoder()
	enc.Init(records[0])
	for _, rec := range records[1:] {
		enc.Compress(e, rec)
	}
	buf := e.Done()

	d := arith.NewDecoder()
	if err := d.Init(buf); err != nil {
		t.Fatal(err)
	}
	dec.Init(records[0])
	got := make([]byte, size)
	for i, want := range records[1:] {
		dec.Decompress(d, got)
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d: got %x want %x", i+1, got, want)
		}
	}
	if err := d.Err(); err != nil {
		t.Fatal(err)
	}
	if d.Consumed() != len(buf) {
		t.Errorf("consumed %d of %d bytes", d.Consumed(), len(buf))
	}
}

func roundtripLayered(t *testing.T, enc, dec LayeredCodec, size int, records [][]byte) {
	t.Helper()
	enc.InitChunk(records[0])
	for _, rec := range records[1:] {
		enc.Append(rec)
	}
	chunk := enc.FinishChunk(nil)

	n, err := dec.ReadChunk(records[0], chunk)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(chunk) {
		t.Fatalf("ReadChunk consumed %d of %d bytes", n, len(chunk))
	}
	got := make([]byte, size)
	for i, want := range records[1:] {
		dec.Next(got)
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d: got %x want %x", i+1, got, want)
		}
	}
	if err := dec.Err(); err != nil {
		t.Fatal(err)
	}
}

// simulated flight line: smooth coordinate drift, occasional
// return-structure and attribute changes
func point10Records(n int, seed int64) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	recs := make([][]byte, n)
	p := point10{
		x: 100000, y: 2000000, z: 30000,
		intensity:      120,
		bitByte:        1 | 1<<3,
		classification: 2,
		scanAngleRank:  -5,
		userData:       0,
		pointSource:    17,
	}
	for i := range recs {
		raw := make([]byte, Point10Size)
		p.pack(raw)
		recs[i] = raw
		p.x += int32(rng.Intn(200) - 80)
		p.y += int32(rng.Intn(100) - 50)
		p.z += int32(rng.Intn(20) - 10)
		p.intensity = uint16(int(p.intensity) + rng.Intn(9) - 4)
		if rng.Intn(10) == 0 {
			r := uint8(rng.Intn(3) + 1)
			nr := r + uint8(rng.Intn(3))
			p.bitByte = r | nr<<3 | uint8(rng.Intn(2))<<6
		}
		if rng.Intn(30) == 0 {
			p.classification = uint8(rng.Intn(10))
		}
		if rng.Intn(8) == 0 {
			p.scanAngleRank += int8(rng.Intn(5) - 2)
		}
		if rng.Intn(100) == 0 {
			p.pointSource++
		}
	}
	return recs
}

func TestPoint10V2Roundtrip(t *testing.T) {
	recs := point10Records(3000, 1)
	roundtripItems(t, NewPoint10V2(), NewPoint10V2(), Point10Size, recs)
}

func TestPoint10V1Roundtrip(t *testing.T) {
	recs := point10Records(3000, 2)
	roundtripItems(t, NewPoint10V1(), NewPoint10V1(), Point10Size, recs)
}

func TestPoint10ExtremeJumps(t *testing.T) {
	// coordinate deltas that cross the full int32 range
	var recs [][]byte
	for _, c := range []int32{0, math.MaxInt32, math.MinInt32, -1, 1 << 30, 0} {
		p := point10{x: c, y: -c, z: c ^ 0x5555}
		raw := make([]byte, Point10Size)
		p.pack(raw)
		recs = append(recs, raw)
	}
	roundtripItems(t, NewPoint10V2(), NewPoint10V2(), Point10Size, recs)
	roundtripItems(t, NewPoint10V1(), NewPoint10V1(), Point10Size, recs)
}

func gpsRecords(times []float64) [][]byte {
	recs := make([][]byte, len(times))
	for i, ts := range times {
		raw := make([]byte, GpsTimeSize)
		binary.LittleEndian.PutUint64(raw, math.Float64bits(ts))
		recs[i] = raw
	}
	return recs
}

func TestGpsTimeRoundtrip(t *testing.T) {
	// steady ticks, repeats, a negative step, and a jump big
	// enough that the bit-pattern difference needs all 64 bits
	times := []float64{0, 0, 100.001, 100.002, 100.003, 100.003, 100.005,
		100.105, 100.104, 1e9, 1e9 + 1, -5, -4.5, -4.5}
	rng := rand.New(rand.NewSource(3))
	ts := 200.0
	for i := 0; i < 2000; i++ {
		ts += 0.0005
		if rng.Intn(50) == 0 {
			ts += float64(rng.Intn(1000))
		}
		times = append(times, ts)
	}
	recs := gpsRecords(times)
	roundtripItems(t, NewGpsTimeV2(), NewGpsTimeV2(), GpsTimeSize, recs)
	roundtripItems(t, NewGpsTimeV1(), NewGpsTimeV1(), GpsTimeSize, recs)
}

func TestGpsTimeInterleaved(t *testing.T) {
	// two alternating sampling sequences force the version 2
	// codec through its sequence-switch escapes
	var times []float64
	a, b := 0.0, 1e12
	for i := 0; i < 500; i++ {
		a += 0.001
		b += 7.5
		times = append(times, a, b)
	}
	roundtripItems(t, NewGpsTimeV2(), NewGpsTimeV2(), GpsTimeSize, gpsRecords(times))
}

func rgbRecords(n int, seed int64) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	recs := make([][]byte, n)
	c := rgb{r: 120 << 8, g: 130 << 8, b: 90 << 8}
	for i := range recs {
		raw := make([]byte, RGB12Size)
		c.pack(raw)
		recs[i] = raw
		c.r = uint16(int(c.r) + (rng.Intn(1000) - 500))
		c.g = uint16(int(c.r) + (rng.Intn(300) - 150))
		c.b = uint16(int(c.r) + (rng.Intn(300) - 150))
		if rng.Intn(20) == 0 {
			// grayscale run: all channels equal
			c.g, c.b = c.r, c.r
		}
	}
	return recs
}

func TestRGBRoundtrip(t *testing.T) {
	recs := rgbRecords(2000, 4)
	roundtripItems(t, NewRGBV2(), NewRGBV2(), RGB12Size, recs)
	roundtripItems(t, NewRGBV1(), NewRGBV1(), RGB12Size, recs)
}

func TestBytesRoundtrip(t *testing.T) {
	const count = 7
	rng := rand.New(rand.NewSource(5))
	recs := make([][]byte, 1000)
	cur := make([]byte, count)
	for i := range recs {
		recs[i] = append([]byte(nil), cur...)
		for j := range cur {
			if rng.Intn(3) == 0 {
				cur[j] += byte(rng.Intn(5) - 2)
			}
		}
	}
	roundtripItems(t, NewBytesV2(count), NewBytesV2(count), count, recs)
	roundtripItems(t, NewBytesV1(count), NewBytesV1(count), count, recs)
}

func TestWavePacketRoundtrip(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	recs := make([][]byte, 1000)
	w := wavePacket{index: 1, offset: 60, size: 1024, returnPoint: math.Float32bits(1.5)}
	for i := range recs {
		raw := make([]byte, WavePacket13Size)
		w.pack(raw)
		recs[i] = raw
		switch rng.Intn(10) {
		case 0:
			// same packet referenced again
		case 1:
			// far away packet: offset delta needs 64 bits
			w.offset += 1 << 40
		default:
			w.offset += uint64(w.size)
			w.size = uint32(1024 + rng.Intn(64))
		}
		w.x = math.Float32bits(float32(rng.NormFloat64()))
		w.y = math.Float32bits(float32(rng.NormFloat64()))
		w.z = math.Float32bits(float32(rng.NormFloat64()))
	}
	roundtripItems(t, NewWavePacketV1(), NewWavePacketV1(), WavePacket13Size, recs)
}

func TestWavePacketHugeSize(t *testing.T) {
	// a packet size with the top bit set must not alias the
	// previous-plus-size shortcut onto a negative 32-bit delta
	ws := []wavePacket{
		{index: 1, offset: 1 << 32, size: 1 << 31},
		{index: 1, offset: 1 << 31, size: 1 << 31},  // moved back by 2^31
		{index: 1, offset: 1 << 32, size: 4096},     // forward by exactly the 2GiB size
		{index: 1, offset: 1<<32 + 4096, size: 512}, // ordinary back-to-back step
	}
	recs := make([][]byte, len(ws))
	for i := range ws {
		raw := make([]byte, WavePacket13Size)
		ws[i].pack(raw)
		recs[i] = raw
	}
	roundtripItems(t, NewWavePacketV1(), NewWavePacketV1(), WavePacket13Size, recs)
}

func TestPoint10V2ModelTableReuse(t *testing.T) {
	// model-table entries allocated while coding one chunk must,
	// after Init, code the next chunk exactly like a codec that
	// allocates them lazily as the values first appear
	warm := point10Records(500, 20)
	recs := point10Records(400, 21)

	used := NewPoint10V2()
	e := arith.NewEncoder()
	used.Init(warm[0])
	for _, rec := range warm[1:] {
		used.Compress(e, rec)
	}
	e.Reset()
	used.Init(recs[0])
	for _, rec := range recs[1:] {
		used.Compress(e, rec)
	}
	reused := append([]byte(nil), e.Done()...)

	fresh := NewPoint10V2()
	e2 := arith.NewEncoder()
	fresh.Init(recs[0])
	for _, rec := range recs[1:] {
		fresh.Compress(e2, rec)
	}
	if !bytes.Equal(reused, e2.Done()) {
		t.Fatal("previously allocated model tables changed the coded bytes")
	}
}

func point14Records(n int, channels int, seed int64) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	recs := make([][]byte, n)
	p := point14{
		x: 500000, y: 4000000, z: 120000,
		intensity: 500, returns: 1 | 1<<4, class: 5,
		scanAngle: -3000, pointSource: 42,
		gps: math.Float64bits(300000.0),
	}
	for i := range recs {
		raw := make([]byte, Point14Size)
		p.pack(raw)
		recs[i] = raw
		p.x += int32(rng.Intn(300) - 140)
		p.y += int32(rng.Intn(120) - 60)
		p.z += int32(rng.Intn(30) - 15)
		p.intensity = uint16(int(p.intensity) + rng.Intn(11) - 5)
		p.gps = math.Float64bits(math.Float64frombits(p.gps) + 0.0001)
		channel := uint8(rng.Intn(channels))
		p.flags = p.flags&^uint8(3<<4) | channel<<4
		if rng.Intn(12) == 0 {
			r := uint8(rng.Intn(5) + 1)
			nr := r + uint8(rng.Intn(5))
			p.returns = r | nr<<4
		}
		if rng.Intn(25) == 0 {
			p.class = uint8(rng.Intn(20))
			p.flags ^= 1 << 6
		}
		if rng.Intn(15) == 0 {
			p.scanAngle += int16(rng.Intn(201) - 100)
		}
	}
	return recs
}

func TestPoint14V3Roundtrip(t *testing.T) {
	roundtripLayered(t, NewPoint14V3(), NewPoint14V3(), Point14Size, point14Records(3000, 1, 7))
}

func TestPoint14V3Channels(t *testing.T) {
	// records hopping between all four scanner channels
	roundtripLayered(t, NewPoint14V3(), NewPoint14V3(), Point14Size, point14Records(2000, 4, 8))
}

func TestPoint14V3ChunkReuse(t *testing.T) {
	// one codec instance across chunks must produce the same
	// bytes as a fresh instance per chunk
	recs := point14Records(600, 2, 9)
	shared := NewPoint14V3()
	var chunks [][]byte
	for off := 0; off < len(recs); off += 200 {
		part := recs[off : off+200]
		shared.InitChunk(part[0])
		for _, rec := range part[1:] {
			shared.Append(rec)
		}
		chunks = append(chunks, shared.FinishChunk(nil))
	}
	for i, chunk := range chunks {
		fresh := NewPoint14V3()
		fresh.InitChunk(recs[i*200])
		for _, rec := range recs[i*200+1 : (i+1)*200] {
			fresh.Append(rec)
		}
		if !bytes.Equal(fresh.FinishChunk(nil), chunk) {
			t.Fatalf("chunk %d: reused codec state leaked across chunks", i)
		}
	}
}

func TestRGB14V3Roundtrip(t *testing.T) {
	roundtripLayered(t, NewRGB14V3(), NewRGB14V3(), RGB14Size, rgbRecords(2000, 10))
}

func TestRGBNIR14V3Roundtrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	base := rgbRecords(2000, 11)
	recs := make([][]byte, len(base))
	nir := uint16(9000)
	for i, b := range base {
		raw := make([]byte, RGBNIR14Size)
		copy(raw, b)
		binary.LittleEndian.PutUint16(raw[6:], nir)
		recs[i] = raw
		nir = uint16(int(nir) + rng.Intn(21) - 10)
	}
	roundtripLayered(t, NewRGBNIR14V3(), NewRGBNIR14V3(), RGBNIR14Size, recs)
}

func TestBytes14V3Roundtrip(t *testing.T) {
	const count = 5
	rng := rand.New(rand.NewSource(12))
	recs := make([][]byte, 800)
	cur := make([]byte, count)
	for i := range recs {
		recs[i] = append([]byte(nil), cur...)
		cur[rng.Intn(count)] += byte(rng.Intn(7) - 3)
	}
	roundtripLayered(t, NewBytes14V3(count), NewBytes14V3(count), count, recs)
}

func TestLayeredTruncated(t *testing.T) {
	recs := point14Records(50, 1, 13)
	enc := NewPoint14V3()
	enc.InitChunk(recs[0])
	for _, rec := range recs[1:] {
		enc.Append(rec)
	}
	chunk := enc.FinishChunk(nil)

	dec := NewPoint14V3()
	if _, err := dec.ReadChunk(recs[0], chunk[:10]); err != arith.ErrTruncated {
		t.Fatalf("short sizes: got %v", err)
	}
	if _, err := dec.ReadChunk(recs[0], chunk[:len(chunk)-1]); err != arith.ErrTruncated {
		t.Fatalf("short body: got %v", err)
	}
}

func TestMedian5(t *testing.T) {
	var m median5
	m.init()
	if m.get() != 0 {
		t.Fatal("fresh median not zero")
	}
	// after many identical values the median converges on them
	for i := 0; i < 10; i++ {
		m.add(42)
	}
	if m.get() != 42 {
		t.Fatalf("median after identical adds: %d", m.get())
	}
}

func TestSingleRecord(t *testing.T) {
	// a chunk holding only its seed record codes zero symbols
	recs := point10Records(1, 14)
	roundtripItems(t, NewPoint10V2(), NewPoint10V2(), Point10Size, recs)

	recs14 := point14Records(1, 1, 15)
	roundtripLayered(t, NewPoint14V3(), NewPoint14V3(), Point14Size, recs14)
}
