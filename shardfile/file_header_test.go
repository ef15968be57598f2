// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shardfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeader_RoundTrip(t *testing.T) {
	var zero [32]byte

	origH, err := newFileHeader()
	require.NoError(t, err)
	require.Equal(t, uint32(magicShardHeader), origH.magic)
	require.Equal(t, uint32(fileFormatVersion), origH.formatVersion)
	require.NotEqual(t, zero, origH.fileID)
	origH.docCount = 3
	origH.rowGroupCount = 2
	origH.directoryStart = 129

	// this should be an error
	err = origH.MarshalTo(nil)
	assert.Error(t, err)

	var newH fileHeader
	headerBytes := make([]byte, fileHeaderSize)
	// this should be an error -- missing magic number
	err = newH.UnmarshalBytes(headerBytes)
	assert.Error(t, err)

	err = origH.MarshalTo(headerBytes)
	require.NoError(t, err)

	err = newH.UnmarshalBytes(nil)
	assert.Error(t, err)

	err = newH.UnmarshalBytes(headerBytes)
	require.NoError(t, err)

	assert.Equal(t, origH, &newH)

	origH.formatVersion = 666
	err = origH.MarshalTo(headerBytes)
	require.NoError(t, err)
	err = newH.UnmarshalBytes(headerBytes)
	assert.Error(t, err)
}

func TestFileHeader_UpdateLayout(t *testing.T) {
	var fileBytes safeBuffer

	h, err := newFileHeader()
	require.NoError(t, err)
	_, err = h.WriteTo(&fileBytes)
	require.NoError(t, err)

	err = h.UpdateLayout(42, 7, 4096, &fileBytes)
	require.NoError(t, err)

	var newH fileHeader
	err = newH.UnmarshalBytes([]byte(fileBytes.String()))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), newH.docCount)
	assert.Equal(t, uint64(7), newH.rowGroupCount)
	assert.Equal(t, uint64(4096), newH.directoryStart)
	assert.Equal(t, h.fileID, newH.fileID)

	// an empty backing file can't be patched in place
	var empty safeBuffer
	err = h.UpdateLayout(1, 1, 1, &empty)
	assert.Error(t, err)
}
