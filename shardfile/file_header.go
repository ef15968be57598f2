// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shardfile

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magicShardHeader  = 0xC0FFEE5D
	fileFormatVersion = 1
	fileHeaderSize    = 128

	headerDocCountOff       = 8
	headerRowGroupCountOff  = 16
	headerDirectoryStartOff = 24
	headerFileIDOff         = 32
)

type fileHeader struct {
	magic          uint32
	formatVersion  uint32
	docCount       uint64
	rowGroupCount  uint64
	directoryStart uint64
	fileID         [32]byte
}

func newFileHeader() (*fileHeader, error) {
	h := &fileHeader{
		magic:         magicShardHeader,
		formatVersion: fileFormatVersion,
	}
	if _, err := io.ReadFull(rand.Reader, h.fileID[:]); err != nil {
		return nil, fmt.Errorf("rand.Read: %w", err)
	}
	return h, nil
}

func (h *fileHeader) MarshalTo(headerBytes []byte) error {
	if len(headerBytes) < fileHeaderSize {
		return fmt.Errorf("headerBytes too short: %d < %d", len(headerBytes), fileHeaderSize)
	}

	binary.LittleEndian.PutUint32(headerBytes[:4], h.magic)
	binary.LittleEndian.PutUint32(headerBytes[4:8], h.formatVersion)
	binary.LittleEndian.PutUint64(headerBytes[headerDocCountOff:headerDocCountOff+8], h.docCount)
	binary.LittleEndian.PutUint64(headerBytes[headerRowGroupCountOff:headerRowGroupCountOff+8], h.rowGroupCount)
	binary.LittleEndian.PutUint64(headerBytes[headerDirectoryStartOff:headerDirectoryStartOff+8], h.directoryStart)
	copy(headerBytes[headerFileIDOff:headerFileIDOff+32], h.fileID[:])

	return nil
}

func (h *fileHeader) WriteTo(w io.Writer) (n int64, err error) {
	// make the header the minimum cache-width we expect to see
	var headerBuf [fileHeaderSize]byte
	if err = h.MarshalTo(headerBuf[:]); err != nil {
		return 0, err
	}

	if _, err = w.Write(headerBuf[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return int64(fileHeaderSize), nil
}

// UpdateLayout records the final counts and directory location, rewriting
// the header in place at the start of the file.
func (h *fileHeader) UpdateLayout(docCount, rowGroupCount, directoryStart uint64, w io.WriterAt) error {
	h.docCount = docCount
	h.rowGroupCount = rowGroupCount
	h.directoryStart = directoryStart

	var headerBuf [fileHeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return err
	}
	if _, err := w.WriteAt(headerBuf[:], 0); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}

	return nil
}

func (h *fileHeader) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < fileHeaderSize {
		return fmt.Errorf("headerBytes too short: %d < %d", len(headerBytes), fileHeaderSize)
	}

	headerBytes = headerBytes[:fileHeaderSize]

	h.magic = binary.LittleEndian.Uint32(headerBytes[:4])
	if h.magic != magicShardHeader {
		return fmt.Errorf("bad magic number on shard file (%x) -- not a shard file or corrupted", h.magic)
	}

	h.formatVersion = binary.LittleEndian.Uint32(headerBytes[4:8])
	if h.formatVersion != fileFormatVersion {
		return fmt.Errorf("this version of docpack can only read v%d shard files; found v%d", fileFormatVersion, h.formatVersion)
	}

	h.docCount = binary.LittleEndian.Uint64(headerBytes[headerDocCountOff : headerDocCountOff+8])
	h.rowGroupCount = binary.LittleEndian.Uint64(headerBytes[headerRowGroupCountOff : headerRowGroupCountOff+8])
	h.directoryStart = binary.LittleEndian.Uint64(headerBytes[headerDirectoryStartOff : headerDirectoryStartOff+8])
	copy(h.fileID[:], headerBytes[headerFileIDOff:headerFileIDOff+32])

	return nil
}
