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

// Package arith implements the adaptive arithmetic coder
// used by the LAZ point record format.
//
// The coder is the carry-propagating 32-bit range coder from
// the FastAC family: an interval [base, base+length) is narrowed
// proportionally to the model probability of each coded outcome,
// and the top byte of base is shifted out whenever fewer than
// 24 bits of precision remain. The probability models adapt with
// every coded symbol using the exact same update rule on the
// encode and decode side, which is what makes the bit stream
// reproducible.
//
// One Encoder or Decoder owns one coded byte stream (in the LAZ
// layout, one chunk) from initialization to Done/end-of-chunk.
package arith

import "errors"

const (
	maxLength = 0xFFFFFFFF // upper bound of the coding interval
	minLength = 0x01000000 // renormalization low-water mark (24 bits kept)

	// bit model probabilities are scaled to 1<<bmLengthShift
	bmLengthShift = 13
	bmMaxCount    = 1 << bmLengthShift

	// symbol model frequencies are scaled to 1<<dmLengthShift
	dmLengthShift = 15
	dmMaxCount    = 1 << dmLengthShift
)

// ErrTruncated is set (sticky) on a Decoder whose input
// ends before the coded symbols do.
var ErrTruncated = errors.New("arith: truncated coder input")
