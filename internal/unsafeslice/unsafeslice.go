// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package unsafeslice reinterprets memory without copying it.
package unsafeslice

import (
	"unsafe"
)

const int32Size = int(unsafe.Sizeof(int32(0)))

// StringBytes returns a byte slice referring to the contents of the input string.
// SAFETY: the returned byte slice must never be written to, only read.
func StringBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Int32s views b as a slice of int32s.  len(b) must be a multiple of 4 and
// b must be 4-byte aligned (true of anything returned by mmap or make).
func Int32s(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	if len(b)%int32Size != 0 {
		panic("unsafeslice.Int32s: length not a multiple of 4")
	}
	if uintptr(unsafe.Pointer(&b[0]))%uintptr(int32Size) != 0 {
		panic("unsafeslice.Int32s: unaligned buffer")
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/int32Size)
}

// Bytes views s as its underlying bytes, in host byte order.
func Bytes(s []int32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int32Size)
}
