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

// median5 tracks the streaming median of the last five values
// pushed into it. The insertion rule alternates which side of
// the window gets displaced (the high flag), which keeps the
// middle slot the median without sorting; the exact rule is
// part of the coded-stream contract and must match on both
// sides.
type median5 struct {
	v    [5]int32
	high bool
}

func (m *median5) init() {
	m.v = [5]int32{}
	m.high = true
}

func (m *median5) get() int32 {
	return m.v[2]
}

func (m *median5) add(x int32) {
	if m.high {
		if x < m.v[2] {
			m.v[4] = m.v[3]
			m.v[3] = m.v[2]
			if x < m.v[0] {
				m.v[2] = m.v[1]
				m.v[1] = m.v[0]
				m.v[0] = x
			} else if x < m.v[1] {
				m.v[2] = m.v[1]
				m.v[1] = x
			} else {
				m.v[2] = x
			}
		} else {
			if x < m.v[3] {
				m.v[4] = m.v[3]
				m.v[3] = x
			} else {
				m.v[4] = x
			}
			m.high = false
		}
	} else {
		if m.v[2] < x {
			m.v[0] = m.v[1]
			m.v[1] = m.v[2]
			if m.v[4] < x {
				m.v[2] = m.v[3]
				m.v[3] = m.v[4]
				m.v[4] = x
			} else if m.v[3] < x {
				m.v[2] = m.v[3]
				m.v[3] = x
			} else {
				m.v[2] = x
			}
		} else {
			if m.v[1] < x {
				m.v[0] = m.v[1]
				m.v[1] = x
			} else {
				m.v[0] = x
			}
			m.high = true
		}
	}
}

// median3 returns the middle of three values.
func median3(a, b, c int32) int32 {
	if a < b {
		if b < c {
			return b
		}
		if a < c {
			return c
		}
		return a
	}
	if a < c {
		return a
	}
	if b < c {
		return c
	}
	return b
}
