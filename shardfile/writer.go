// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shardfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/docpack/internal/unsafeslice"
)

const (
	defaultBufferSize   = 4 * 1024 * 1024
	defaultRowGroupSize = 1024
	recordHeaderSize    = 4 + 4 // 32-bit checksum of the document + 32-bit document length
	directoryEntrySize  = 8 + 8 // 64-bit offset of the first document + 64-bit document count

	maxDocLen = (1 << 32) - 1
)

var (
	ErrInvalidOffset = errors.New("invalid offset")
	ErrCorrupt       = errors.New("shard file corrupted")
	ErrFinished      = errors.New("writer already finished")
)

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// FileWriter is usually an *os.File, but specified as an interface for easier testing.
type FileWriter interface {
	io.Writer
	io.WriterAt
}

// WriterOption configures a Writer.
type WriterOption func(*writerOptions)

type writerOptions struct {
	rowGroupSize int
}

// WithRowGroupSize sets how many documents are written to a row group before
// it is automatically closed.  Values < 1 are ignored.
func WithRowGroupSize(n int) WriterOption {
	return func(opts *writerOptions) {
		if n > 0 {
			opts.rowGroupSize = n
		}
	}
}

type rowGroupEntry struct {
	offset   uint64
	docCount uint64
}

// Writer appends documents to a new shard file.  Call Finish exactly once
// all documents are written; the file is unreadable until then.
type Writer struct {
	f            FileWriter
	h            *fileHeader
	w            *bufio.Writer
	off          uint64
	count        uint64
	rowGroupSize int
	groups       []rowGroupEntry
	current      rowGroupEntry
	finished     atomic.Bool
}

func NewWriter(f FileWriter, opts ...WriterOption) (*Writer, error) {
	options := writerOptions{rowGroupSize: defaultRowGroupSize}
	for _, opt := range opts {
		opt(&options)
	}

	h, err := newFileHeader()
	if err != nil {
		return nil, fmt.Errorf("newFileHeader: %w", err)
	}
	w := &Writer{
		f:            f,
		h:            h,
		w:            bufio.NewWriterSize(f, defaultBufferSize),
		rowGroupSize: options.rowGroupSize,
	}

	if headerLen, err := w.h.WriteTo(w.w); err != nil {
		return nil, fmt.Errorf("fileHeader.WriteTo: %w", err)
	} else {
		w.off = uint64(headerLen)
	}

	// try to expose errors when writing to the backing file early
	if err := w.w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	return w, nil
}

// Write appends doc to the current row group, closing the row group if it
// has reached the configured size.
func (w *Writer) Write(doc string) error {
	if w.finished.Load() {
		return ErrFinished
	}
	if len(doc) > maxDocLen {
		return fmt.Errorf("document of %d bytes too long", len(doc))
	}
	if w.off < fileHeaderSize {
		return errors.New("invariant broken: always expect *Writer.off to be past the header")
	}

	b := unsafeslice.StringBytes(doc)
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(farm.Hash64(b)))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(b)))

	if w.current.docCount == 0 {
		w.current.offset = w.off
	}
	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("bufio.Write 1: %w", err)
	}
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("bufio.Write 2: %w", err)
	}

	w.off += uint64(recordHeaderSize + len(b))
	w.count++
	w.current.docCount++

	if int(w.current.docCount) >= w.rowGroupSize {
		return w.FlushRowGroup()
	}
	return nil
}

// FlushRowGroup closes the current row group.  It is a no-op if no documents
// have been written since the last row group was closed.
func (w *Writer) FlushRowGroup() error {
	if w.finished.Load() {
		return ErrFinished
	}
	if w.current.docCount == 0 {
		return nil
	}
	w.groups = append(w.groups, w.current)
	w.current = rowGroupEntry{}
	return nil
}

// DocCount returns the number of documents written so far.
func (w *Writer) DocCount() uint64 {
	return w.count
}

// Finish closes the open row group, writes the row group directory and
// updates the file header.  Multiple calls are safe.
func (w *Writer) Finish() error {
	if err := w.FlushRowGroup(); err != nil && !errors.Is(err, ErrFinished) {
		return err
	}
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		// nothing to do - already cleaned up
		return nil
	}

	defer func() {
		w.w.Reset(nopWriter{})
		w.w = nil
	}()

	directoryStart := w.off
	var entry [directoryEntrySize]byte
	for _, g := range w.groups {
		binary.LittleEndian.PutUint64(entry[:8], g.offset)
		binary.LittleEndian.PutUint64(entry[8:], g.docCount)
		if _, err := w.w.Write(entry[:]); err != nil {
			return fmt.Errorf("bufio.Write: %w", err)
		}
		w.off += directoryEntrySize
	}

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}

	return w.h.UpdateLayout(w.count, uint64(len(w.groups)), directoryStart, w.f)
}
