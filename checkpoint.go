// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bpowers/docpack/shard"
)

// Checkpoint records where the shard walker was when a batch was completed:
// the shard and row group of the last micro-batch read, and the epoch.
// The JSON field names follow the pq_idx/rg_idx/epoch state dict convention
// used by PyTorch training loops.
type Checkpoint struct {
	ShardIndex    int `json:"pq_idx"`
	RowGroupIndex int `json:"rg_idx"`
	Epoch         int `json:"epoch"`
}

func checkpointAt(pos shard.Position) Checkpoint {
	return Checkpoint{
		ShardIndex:    pos.ShardIndex,
		RowGroupIndex: pos.RowGroupIndex,
		Epoch:         pos.Epoch,
	}
}

func (c Checkpoint) position() shard.Position {
	epoch := c.Epoch
	// checkpoints predating epoch tracking resume in the first epoch
	if epoch == 0 {
		epoch = 1
	}
	return shard.Position{
		ShardIndex:    c.ShardIndex,
		RowGroupIndex: c.RowGroupIndex,
		Epoch:         epoch,
	}
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("os.ReadFile: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("json.Unmarshal(%s): %w", path, err)
	}
	return c, nil
}

// SaveCheckpoint writes c as JSON to path, replacing any existing file
// atomically.
func SaveCheckpoint(path string, c Checkpoint) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "docpack-checkpoint.*.json")
	if err != nil {
		return fmt.Errorf("CreateTemp failed (may need permissions for dir %q): %w", dir, err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("f.Write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("f.Close: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}
