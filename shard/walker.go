// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	ErrNoRowGroups     = errors.New("no row groups assigned to this worker")
	ErrInvalidPosition = errors.New("invalid resume position")
	ErrInvalidWalker   = errors.New("invalid walker configuration")
)

// Position locates a micro-batch: the shard and row group it was read from,
// and the number of the pass over the shards (starting at 1).
type Position struct {
	ShardIndex    int
	RowGroupIndex int
	Epoch         int
}

// MicroBatch is a run of consecutive documents from a single row group.
type MicroBatch struct {
	Docs     []string
	Position Position
}

// WalkerConfig describes the shards a Walker reads and the worker it reads
// them for.
type WalkerConfig struct {
	// Paths are the shards to walk, in order.
	Paths []string
	// BatchSize is the maximum number of documents per MicroBatch.
	BatchSize int
	// Rank and WorldSize identify this worker among its peers.
	Rank      int
	WorldSize int
	// Resume, if non-nil, is the Position of the last micro-batch consumed
	// by a previous run.
	Resume *Position
}

type walkerOptions struct {
	logger *slog.Logger
	opener Opener
}

// WalkerOption configures optional Walker collaborators.
type WalkerOption func(*walkerOptions)

// WithLogger sets the logger used for shard and epoch events.
func WithLogger(logger *slog.Logger) WalkerOption {
	return func(opts *walkerOptions) {
		opts.logger = logger
	}
}

// WithOpener replaces OpenFile as the way shard paths are opened.
func WithOpener(opener Opener) WalkerOption {
	return func(opts *walkerOptions) {
		opts.opener = opener
	}
}

// Walker produces an endless sequence of micro-batches from the row groups
// assigned to one worker, wrapping around to the first shard (and
// incrementing the epoch) after the last.  A Walker is not safe for
// concurrent use.
type Walker struct {
	paths     []string
	batchSize int
	rank      int
	worldSize int
	logger    *slog.Logger
	opener    Opener

	// resume point, consumed once on the first pass
	resuming    bool
	resumeShard int
	resumeRG    int

	firstPass   bool
	passIsFull  bool // the current pass started at shard 0 without a resume point
	passYielded bool
	epoch       int
	shard       int
	file        File
	rowGroups   int
	nextRG      int
	pending     []string
	pendingRG   int
}

// NewWalker validates cfg and returns a Walker positioned at its start (or
// resume point).  No shard is opened until the first call to Next.
func NewWalker(cfg WalkerConfig, opts ...WalkerOption) (*Walker, error) {
	options := walkerOptions{
		opener: OpenFile,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if len(cfg.Paths) == 0 {
		return nil, ErrNoShards
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size %d < 1", ErrInvalidWalker, cfg.BatchSize)
	}
	if cfg.WorldSize < 1 || cfg.Rank < 0 || cfg.Rank >= cfg.WorldSize {
		return nil, fmt.Errorf("%w: rank %d of world size %d", ErrInvalidWalker, cfg.Rank, cfg.WorldSize)
	}

	w := &Walker{
		paths:     cfg.Paths,
		batchSize: cfg.BatchSize,
		rank:      cfg.Rank,
		worldSize: cfg.WorldSize,
		logger:    options.logger,
		opener:    options.opener,
		firstPass: true,
		epoch:     1,
	}

	if r := cfg.Resume; r != nil {
		if r.ShardIndex < 0 || r.RowGroupIndex < 0 || r.Epoch < 1 {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidPosition, *r)
		}
		w.resuming = true
		w.resumeShard = r.ShardIndex
		w.resumeRG = r.RowGroupIndex
		w.epoch = r.Epoch
		w.shard = r.ShardIndex
	}
	w.passIsFull = !w.resuming

	return w, nil
}

// Position returns the position of the most recently returned micro-batch.
func (w *Walker) Position() Position {
	return Position{
		ShardIndex:    w.shard,
		RowGroupIndex: w.pendingRG,
		Epoch:         w.epoch,
	}
}

// Next returns the next micro-batch.  It never reports the end of the
// data: after the last row group of the last shard it starts the next
// epoch at the first shard.
func (w *Walker) Next(ctx context.Context) (MicroBatch, error) {
	for {
		if len(w.pending) > 0 {
			n := min(w.batchSize, len(w.pending))
			docs := w.pending[:n:n]
			w.pending = w.pending[n:]
			w.passYielded = true
			return MicroBatch{
				Docs:     docs,
				Position: w.Position(),
			}, nil
		}

		if err := ctx.Err(); err != nil {
			return MicroBatch{}, err
		}

		if w.file != nil && w.nextRG < w.rowGroups {
			docs, err := w.file.ReadRowGroup(w.nextRG)
			if err != nil {
				return MicroBatch{}, fmt.Errorf("ReadRowGroup(%s, %d): %w", w.paths[w.shard], w.nextRG, err)
			}
			w.pending = docs
			w.pendingRG = w.nextRG
			w.nextRG += w.worldSize
			continue
		}

		if w.file != nil {
			if err := w.closeFile(); err != nil {
				return MicroBatch{}, err
			}
			w.shard++
		}

		if err := w.openNextShard(); err != nil {
			return MicroBatch{}, err
		}
	}
}

// openNextShard opens the first shard at or after w.shard that has row
// groups left for this worker, starting a new epoch if needed.
func (w *Walker) openNextShard() error {
	for {
		if w.shard >= len(w.paths) {
			if w.passIsFull && !w.passYielded {
				return fmt.Errorf("%w: rank %d of %d over %d shards", ErrNoRowGroups, w.rank, w.worldSize, len(w.paths))
			}
			w.firstPass = false
			w.passIsFull = true
			w.passYielded = false
			w.epoch++
			w.shard = 0
			w.logger.Info("starting epoch", slog.Int("epoch", w.epoch))
		}

		path := w.paths[w.shard]
		f, err := w.opener(path)
		if err != nil {
			return fmt.Errorf("open shard %s: %w", path, err)
		}
		w.file = f
		w.rowGroups = f.RowGroupCount()
		w.logger.Debug("opened shard", slog.String("path", path), slog.Int("row_groups", w.rowGroups))

		if w.firstPass && w.resuming && w.shard == w.resumeShard {
			// skip a full round past the resume point; the row group it names
			// may already have been partly consumed
			rg := (w.resumeRG/w.worldSize+1)*w.worldSize + w.rank
			if rg >= w.rowGroups {
				w.logger.Info("resume point at end of shard, skipping", slog.String("path", path), slog.Int("row_group", rg))
				if err := w.closeFile(); err != nil {
					return err
				}
				w.shard++
				continue
			}
			w.resuming = false
			w.nextRG = rg
			w.logger.Info("resuming", slog.String("path", path), slog.Int("row_group", rg), slog.Int("epoch", w.epoch))
		} else {
			w.nextRG = w.rank
		}
		return nil
	}
}

func (w *Walker) closeFile() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close shard %s: %w", w.paths[w.shard], err)
	}
	return nil
}

// Close releases the currently open shard, if any.
func (w *Walker) Close() error {
	return w.closeFile()
}
