// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/yargevad/filepathx"
)

var (
	ErrNoShards     = errors.New("no shard files found")
	ErrInvalidSplit = errors.New("split must be 'train' or 'val'")
)

// Split selects the subset of shards a Walker reads.
type Split int

const (
	Train Split = iota
	Val
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Val:
		return "val"
	default:
		return fmt.Sprintf("Split(%d)", int(s))
	}
}

// ParseSplit parses "train" or "val".
func ParseSplit(s string) (Split, error) {
	switch s {
	case "train":
		return Train, nil
	case "val":
		return Val, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSplit, s)
	}
}

// shard file suffixes List looks for under a directory.
var suffixes = []string{".shard", ".parquet"}

// List returns the sorted shard paths matching pattern.  pattern may use
// "**" to match any number of directories.  If pattern names a directory,
// every .shard and .parquet file beneath it is returned.
func List(pattern string) ([]string, error) {
	var matches []string
	if fi, err := os.Stat(pattern); err == nil && fi.IsDir() {
		for _, suffix := range suffixes {
			m, err := filepathx.Glob(filepath.Join(pattern, "**", "*"+suffix))
			if err != nil {
				return nil, fmt.Errorf("filepathx.Glob: %w", err)
			}
			matches = append(matches, m...)
		}
	} else {
		m, err := filepathx.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("filepathx.Glob(%s): %w", pattern, err)
		}
		matches = m
	}

	var paths []string
	for _, path := range matches {
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			paths = append(paths, path)
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoShards, pattern)
	}

	slices.Sort(paths)
	return slices.Compact(paths), nil
}

// Partition returns the shards belonging to split: every shard but the last
// for Train, only the last for Val.  The result aliases paths.
func Partition(paths []string, split Split) ([]string, error) {
	if len(paths) == 0 {
		return nil, ErrNoShards
	}
	switch split {
	case Train:
		return paths[:len(paths)-1], nil
	case Val:
		return paths[len(paths)-1:], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidSplit, split)
	}
}
