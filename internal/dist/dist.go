// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package dist reports this process's place in a distributed job, as
// published by torchrun-style launchers through the environment.
package dist

import (
	"fmt"
	"os"
	"strconv"
)

// Info identifies a worker.  The zero value is not valid; use Single for a
// non-distributed process.
type Info struct {
	Distributed bool
	Rank        int
	LocalRank   int
	WorldSize   int
}

// Single is the Info of a process running alone.
var Single = Info{Rank: 0, LocalRank: 0, WorldSize: 1}

// FromEnv reads RANK, LOCAL_RANK and WORLD_SIZE.  The job is distributed
// when all three are set; otherwise FromEnv returns Single.
func FromEnv() (Info, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Info, error) {
	rank, hasRank := lookup("RANK")
	localRank, hasLocalRank := lookup("LOCAL_RANK")
	worldSize, hasWorldSize := lookup("WORLD_SIZE")
	if !hasRank || !hasLocalRank || !hasWorldSize {
		return Single, nil
	}

	var info Info
	var err error
	info.Distributed = true
	if info.Rank, err = strconv.Atoi(rank); err != nil {
		return Info{}, fmt.Errorf("RANK: %w", err)
	}
	if info.LocalRank, err = strconv.Atoi(localRank); err != nil {
		return Info{}, fmt.Errorf("LOCAL_RANK: %w", err)
	}
	if info.WorldSize, err = strconv.Atoi(worldSize); err != nil {
		return Info{}, fmt.Errorf("WORLD_SIZE: %w", err)
	}
	if err := info.Validate(); err != nil {
		return Info{}, err
	}

	return info, nil
}

// Validate checks that rank lies within the world size.
func (i Info) Validate() error {
	if i.WorldSize < 1 {
		return fmt.Errorf("world size %d < 1", i.WorldSize)
	}
	if i.Rank < 0 || i.Rank >= i.WorldSize {
		return fmt.Errorf("rank %d outside world of size %d", i.Rank, i.WorldSize)
	}
	if i.LocalRank < 0 {
		return fmt.Errorf("local rank %d < 0", i.LocalRank)
	}
	return nil
}
