// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/docpack/shardfile"
)

func testRowGroups(n, docs int) [][]string {
	groups := make([][]string, n)
	for g := range groups {
		for j := 0; j < docs+g; j++ {
			groups[g] = append(groups[g], fmt.Sprintf("row group %d, document %d", g, j))
		}
	}
	return groups
}

func TestParquetFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard_00000.parquet")
	groups := testRowGroups(4, 10)
	require.NoError(t, WriteParquet(path, groups))

	f, err := OpenParquet(path, TextColumn)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()

	require.Equal(t, len(groups), f.RowGroupCount())

	// forward with a skip, then backwards
	for _, i := range []int{1, 3, 0, 2, 2} {
		docs, err := f.ReadRowGroup(i)
		require.NoError(t, err)
		assert.Equal(t, groups[i], docs, "row group %d", i)
	}

	_, err = f.ReadRowGroup(len(groups))
	assert.Error(t, err)
}

func TestParquetFile_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard_00000.parquet")
	require.NoError(t, WriteParquet(path, testRowGroups(1, 1)))

	_, err := OpenParquet(path, "body")
	assert.Error(t, err)

	_, err = OpenParquet("/doesnt/exist.parquet", TextColumn)
	assert.Error(t, err)
}

func writeNativeShard(t *testing.T, path string, groups [][]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()

	w, err := shardfile.NewWriter(f)
	require.NoError(t, err)
	for _, docs := range groups {
		for _, doc := range docs {
			require.NoError(t, w.Write(doc))
		}
		require.NoError(t, w.FlushRowGroup())
	}
	require.NoError(t, w.Finish())
}

func TestWalker_MixedFormats(t *testing.T) {
	dir := t.TempDir()
	first := testRowGroups(3, 2)
	second := testRowGroups(2, 5)
	writeNativeShard(t, filepath.Join(dir, "shard_00000.shard"), first)
	require.NoError(t, WriteParquet(filepath.Join(dir, "shard_00001.parquet"), second))

	paths, err := List(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	w, err := NewWalker(WalkerConfig{Paths: paths, BatchSize: 128, WorldSize: 1})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, w.Close())
	}()

	for _, want := range append(first, second...) {
		mb, err := w.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, mb.Docs)
	}
	mb, err := w.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Position{0, 0, 2}, mb.Position)
}
