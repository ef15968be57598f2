// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shardfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Builder writes a new shard file at a path.  Documents go to a temporary
// file in the same directory, which Finalize makes read-only and renames
// into place, so a shard path never names a partially written file.
type Builder struct {
	resultPath string
	f          *os.File
	w          *Writer
}

// Create starts building a shard file at path.
func Create(path string, opts ...WriterOption) (*Builder, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "docpack-shard.*.tmp")
	if err != nil {
		return nil, fmt.Errorf("CreateTemp failed (may need permissions for dir %q containing shard): %w", dir, err)
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("NewWriter: %w", err)
	}
	return &Builder{
		resultPath: path,
		f:          f,
		w:          w,
	}, nil
}

// Write appends a document to the current row group.
func (b *Builder) Write(doc string) error {
	return b.w.Write(doc)
}

// FlushRowGroup ends the current row group.
func (b *Builder) FlushRowGroup() error {
	return b.w.FlushRowGroup()
}

// Finalize finishes the shard and moves it to its final path.
func (b *Builder) Finalize() error {
	if b.f == nil {
		return ErrFinished
	}
	if err := b.w.Finish(); err != nil {
		_ = b.Abort()
		return fmt.Errorf("Writer.Finish: %w", err)
	}
	// make the file read-only
	if err := os.Chmod(b.f.Name(), 0444); err != nil {
		_ = b.Abort()
		return fmt.Errorf("os.Chmod(0444): %w", err)
	}
	if err := b.f.Close(); err != nil {
		_ = b.Abort()
		return fmt.Errorf("f.Close: %w", err)
	}
	if err := os.Rename(b.f.Name(), b.resultPath); err != nil {
		_ = os.Remove(b.f.Name())
		b.f = nil
		return fmt.Errorf("os.Rename: %w", err)
	}
	b.f = nil
	return nil
}

// Abort discards the partially written shard.
func (b *Builder) Abort() error {
	if b.f == nil {
		return nil
	}
	_ = b.f.Close()
	err := os.Remove(b.f.Name())
	b.f = nil
	return err
}
