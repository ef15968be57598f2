// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bpowers/docpack/shardfile"
)

// File is an open shard: an ordered sequence of row groups, each an ordered
// sequence of documents.
type File interface {
	RowGroupCount() int
	ReadRowGroup(i int) ([]string, error)
	Close() error
}

// Opener opens the shard at path.
type Opener func(path string) (File, error)

var _ File = (*shardfile.Reader)(nil)
var _ File = (*ParquetFile)(nil)

// OpenFile opens a parquet shard (reading its "text" column) when path ends
// in .parquet, and a native shard file otherwise.
func OpenFile(path string) (File, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		f, err := OpenParquet(path, TextColumn)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	r, err := shardfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shardfile.Open: %w", err)
	}
	return r, nil
}
