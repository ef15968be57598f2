// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

import (
	"fmt"
)

// Device is the destination of batches.  CopyHostToDevice may return before
// the copy completes; Synchronize blocks until every issued copy has landed.
type Device interface {
	Alloc(n int) ([]int32, error)
	CopyHostToDevice(dst, src []int32) error
	Synchronize() error
}

// HostDevice is a Device backed by ordinary Go memory.  Copies complete
// before CopyHostToDevice returns.
type HostDevice struct{}

var _ Device = HostDevice{}

func (HostDevice) Alloc(n int) ([]int32, error) {
	if n < 0 {
		return nil, fmt.Errorf("HostDevice.Alloc: invalid length %d", n)
	}
	return make([]int32, n), nil
}

func (HostDevice) CopyHostToDevice(dst, src []int32) error {
	if len(dst) != len(src) {
		return fmt.Errorf("HostDevice.CopyHostToDevice: length mismatch (%d != %d)", len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

func (HostDevice) Synchronize() error {
	return nil
}
