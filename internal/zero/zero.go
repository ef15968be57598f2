// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package zero provides functions to zero slices of specific types.
package zero

// Int32 zeroes every element of b, leaving its length and capacity unchanged.
func Int32(b []int32) {
	for i := range b {
		b[i] = 0
	}
}

// Int32s drops references held by b so the backing slices can be collected.
func Int32s(b [][]int32) {
	for i := range b {
		b[i] = nil
	}
}
