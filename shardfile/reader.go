// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shardfile

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-farm"
	"golang.org/x/sys/unix"

	"github.com/bpowers/docpack/internal/mmap"
)

// Reader provides row-group access to a finished shard file.  Documents
// returned from ReadRowGroup are copied out of the mapping, so they remain
// valid after Close.
type Reader struct {
	h      fileHeader
	mmap   *mmap.ReaderAt
	groups []rowGroupEntry
}

// Open memory-maps the shard file at path and validates its header and
// row group directory.
func Open(path string) (*Reader, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap.Open(%s): %w", path, err)
	}

	r, err := newReader(m)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("shard %s: %w", path, err)
	}
	return r, nil
}

func newReader(m *mmap.ReaderAt) (*Reader, error) {
	if m.Len() < fileHeaderSize {
		return nil, fmt.Errorf("shard file too short: %d < %d", m.Len(), fileHeaderSize)
	}

	// row groups are read front to back by each worker
	if err := m.Advise(unix.MADV_SEQUENTIAL); err != nil {
		return nil, fmt.Errorf("madvise: %w", err)
	}

	data := m.Data()
	var header fileHeader
	if err := header.UnmarshalBytes(data); err != nil {
		return nil, fmt.Errorf("fileHeader.UnmarshalBytes: %w", err)
	}

	dirStart := header.directoryStart
	if dirStart < fileHeaderSize || dirStart > uint64(len(data)) {
		return nil, fmt.Errorf("%w: directory start %d out of bounds (%d)", ErrCorrupt, dirStart, len(data))
	}
	if header.rowGroupCount > (uint64(len(data))-dirStart)/directoryEntrySize {
		return nil, fmt.Errorf("%w: %d row groups don't fit in the directory", ErrCorrupt, header.rowGroupCount)
	}

	groups := make([]rowGroupEntry, header.rowGroupCount)
	var total, prevOffset uint64
	for i := range groups {
		entry := data[dirStart+uint64(i)*directoryEntrySize:]
		g := rowGroupEntry{
			offset:   binary.LittleEndian.Uint64(entry[:8]),
			docCount: binary.LittleEndian.Uint64(entry[8:16]),
		}
		if g.offset < fileHeaderSize || g.offset > dirStart {
			return nil, fmt.Errorf("%w: row group %d offset %d out of bounds", ErrCorrupt, i, g.offset)
		}
		if g.offset < prevOffset {
			return nil, fmt.Errorf("%w: row group %d offset %d precedes row group %d", ErrCorrupt, i, g.offset, i-1)
		}
		// every record is at least a header
		if g.docCount > (dirStart-g.offset)/recordHeaderSize {
			return nil, fmt.Errorf("%w: row group %d claims %d documents in %d bytes", ErrCorrupt, i, g.docCount, dirStart-g.offset)
		}
		prevOffset = g.offset
		total += g.docCount
		groups[i] = g
	}
	if total != header.docCount {
		return nil, fmt.Errorf("%w: row groups hold %d documents, header says %d", ErrCorrupt, total, header.docCount)
	}

	return &Reader{
		h:      header,
		mmap:   m,
		groups: groups,
	}, nil
}

// RowGroupCount returns the number of row groups in the shard.
func (r *Reader) RowGroupCount() int {
	return len(r.groups)
}

// DocCount returns the total number of documents in the shard.
func (r *Reader) DocCount() int64 {
	return int64(r.h.docCount)
}

func readRecordHeader(header []byte) (expectedChecksum uint32, docLen uint64) {
	_ = header[recordHeaderSize-1]

	expectedChecksum = binary.LittleEndian.Uint32(header[:4])
	docLen = uint64(binary.LittleEndian.Uint32(header[4:8]))
	return
}

// ReadRowGroup returns the documents of row group i, in file order.
func (r *Reader) ReadRowGroup(i int) ([]string, error) {
	if i < 0 || i >= len(r.groups) {
		return nil, fmt.Errorf("%w: row group %d (have %d)", ErrInvalidOffset, i, len(r.groups))
	}
	g := r.groups[i]

	m := r.mmap.Data()
	end := r.h.directoryStart
	off := g.offset
	docs := make([]string, 0, g.docCount)
	for j := uint64(0); j < g.docCount; j++ {
		if off+recordHeaderSize > end {
			return nil, fmt.Errorf("%w: off %d beyond bounds (%d)", ErrCorrupt, off, end)
		}
		expectedChecksum, docLen := readRecordHeader(m[off : off+recordHeaderSize])
		start := off + recordHeaderSize
		if start+docLen > end {
			return nil, fmt.Errorf("%w: off %d + docLen %d beyond bounds (%d)", ErrCorrupt, off, docLen, end)
		}
		doc := m[start : start+docLen]
		if checksum := uint32(farm.Hash64(doc)); checksum != expectedChecksum {
			return nil, fmt.Errorf("%w: off %d checksum failed (%d != %d)", ErrCorrupt, off, expectedChecksum, checksum)
		}
		// copy: the mapping goes away on Close
		docs = append(docs, string(doc))
		off = start + docLen
	}

	return docs, nil
}

// Close unmaps the shard.  It is safe to call Close more than once.
func (r *Reader) Close() error {
	return r.mmap.Close()
}
