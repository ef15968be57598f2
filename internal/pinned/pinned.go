// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package pinned allocates page-locked host memory for staging token
// buffers before they are copied to a device.
package pinned

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/bpowers/docpack/internal/unsafeslice"
)

// Int32s is an anonymous, page-locked mapping viewed as []int32.
type Int32s struct {
	mem    []byte
	data   []int32
	locked bool
	freed  atomic.Bool
}

// Alloc maps n int32s of anonymous memory and attempts to lock it into RAM.
// Failing to lock (e.g. RLIMIT_MEMLOCK is too low) is not an error: the
// memory is still usable, just pageable, and a warning is logged.
func Alloc(n int, logger *slog.Logger) (*Int32s, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pinned.Alloc: invalid length %d", n)
	}
	mem, err := unix.Mmap(-1, 0, n*4, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap: %w", err)
	}

	p := &Int32s{
		mem:  mem,
		data: unsafeslice.Int32s(mem),
	}
	if err := unix.Mlock(mem); err != nil {
		if logger != nil {
			logger.Warn("failed to mlock staging buffer, continuing anyway",
				slog.Int("bytes", len(mem)),
				slog.String("err", err.Error()))
		}
	} else {
		p.locked = true
	}

	return p, nil
}

// Data returns the mapped memory.  It is only valid until Free.
func (p *Int32s) Data() []int32 {
	return p.data
}

// Locked reports whether the region is resident in RAM.
func (p *Int32s) Locked() bool {
	return p.locked
}

// Free unlocks and unmaps the region.  It is safe to call more than once.
func (p *Int32s) Free() error {
	if p.freed.Swap(true) {
		return nil
	}
	mem := p.mem
	p.mem, p.data = nil, nil
	if p.locked {
		_ = unix.Munlock(mem)
	}
	return unix.Munmap(mem)
}
