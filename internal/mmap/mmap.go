// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap provides read-only memory mappings of whole files.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var ErrClosed = errors.New("mmap: closed")

// ReaderAt is a read-only mapping of a file's contents.
type ReaderAt struct {
	data   []byte
	closed atomic.Bool
}

// Open memory-maps the file at path.  Empty files produce a valid ReaderAt
// of length 0 that doesn't hold a mapping.
func Open(path string) (*ReaderAt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		// the mapping outlives the descriptor
		_ = f.Close()
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	size := fi.Size()
	if size == 0 {
		return &ReaderAt{}, nil
	}
	if size < 0 {
		return nil, fmt.Errorf("mmap: file %q has negative size", path)
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("mmap: file %q is too large", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap: %w", err)
	}
	return &ReaderAt{data: data}, nil
}

// Len returns the length of the underlying memory-mapped file.
func (r *ReaderAt) Len() int {
	return len(r.data)
}

// Data returns the mapped bytes.  They MUST NOT be written to, and are only
// valid until Close.
func (r *ReaderAt) Data() []byte {
	return r.data
}

// Advise passes an access pattern hint (e.g. unix.MADV_SEQUENTIAL) for the
// whole mapping to the kernel.
func (r *ReaderAt) Advise(advice int) error {
	if len(r.data) == 0 {
		return nil
	}
	return unix.Madvise(r.data, advice)
}

// ReadAt implements io.ReaderAt.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 || int64(len(r.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file.  It is safe to call Close more than once.
func (r *ReaderAt) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	data := r.data
	r.data = nil
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
