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

	"github.com/SnellerInc/laz/internal/arith"
)

// The chunk table sits after the last chunk and lists each
// chunk's compressed byte count. Its layout is a raw uint32
// version (always 0) and a raw uint32 chunk count, followed by
// the counts entropy-coded with the same coder as point data,
// each predicted from the previous one. An 8-byte pointer slot
// written before the first chunk holds the table's absolute
// offset (-1 until patched).
const chunkTableVersion = 0

// tableSlotAbsent marks a pointer slot that was never patched.
const tableSlotAbsent = ^uint64(0)

func appendChunkTable(dst []byte, counts []uint32) []byte {
	var head [8]byte
	binary.LittleEndian.PutUint32(head[0:], chunkTableVersion)
	binary.LittleEndian.PutUint32(head[4:], uint32(len(counts)))
	dst = append(dst, head[:]...)

	enc := arith.NewEncoder()
	ic := arith.NewIntCodec(32, 2)
	prev := int32(0)
	for _, n := range counts {
		ic.Compress(enc, prev, int32(n), 1)
		prev = int32(n)
	}
	return append(dst, enc.Done()...)
}

func parseChunkTable(buf []byte) ([]uint32, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: table header short", ErrCorruptChunkTable)
	}
	if v := binary.LittleEndian.Uint32(buf[0:]); v != chunkTableVersion {
		return nil, fmt.Errorf("%w: table version %d", ErrCorruptChunkTable, v)
	}
	count := binary.LittleEndian.Uint32(buf[4:])
	counts := make([]uint32, count)
	if count == 0 {
		return counts, nil
	}

	dec := arith.NewDecoder()
	if err := dec.Init(buf[8:]); err != nil {
		return nil, fmt.Errorf("%w: table body short", ErrCorruptChunkTable)
	}
	ic := arith.NewIntCodec(32, 2)
	prev := int32(0)
	for i := range counts {
		prev = ic.Decompress(dec, prev, 1)
		if prev <= 0 {
			return nil, fmt.Errorf("%w: chunk %d has size %d", ErrCorruptChunkTable, i, prev)
		}
		counts[i] = uint32(prev)
	}
	if dec.Err() != nil {
		return nil, fmt.Errorf("%w: table body short", ErrCorruptChunkTable)
	}
	return counts, nil
}
