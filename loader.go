// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/bpowers/docpack/internal/dist"
	"github.com/bpowers/docpack/internal/pinned"
	"github.com/bpowers/docpack/internal/zero"
	"github.com/bpowers/docpack/shard"
	"github.com/bpowers/docpack/tokenize"
)

const (
	DefaultTokenizerThreads   = 4
	DefaultTokenizerBatchSize = 128
	DefaultBufferSize         = 1000
)

var (
	ErrInvalidConfig = errors.New("invalid loader configuration")
	ErrEmptyDocument = errors.New("tokenizer returned an empty document")
	ErrMissingBOS    = errors.New("tokenized document does not start with BOS")
	ErrClosed        = errors.New("loader closed")
)

// Config sizes a Loader.  Zero values of the optional fields select the
// package defaults.
type Config struct {
	// BatchSize is B, the number of rows per batch.
	BatchSize int
	// SeqLen is T, the number of input (and target) tokens per row.
	SeqLen int
	// Split selects training or validation shards.
	Split shard.Split
	// TokenizerThreads bounds concurrent document encoding.
	TokenizerThreads int
	// TokenizerBatchSize is the number of documents tokenized per refill.
	TokenizerBatchSize int
	// BufferSize is the minimum number of documents buffered before each
	// best-fit search.
	BufferSize int
}

func (c *Config) applyDefaults() {
	if c.TokenizerThreads == 0 {
		c.TokenizerThreads = DefaultTokenizerThreads
	}
	if c.TokenizerBatchSize == 0 {
		c.TokenizerBatchSize = DefaultTokenizerBatchSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
}

func (c *Config) validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size %d < 1", ErrInvalidConfig, c.BatchSize)
	case c.SeqLen < 1:
		return fmt.Errorf("%w: sequence length %d < 1", ErrInvalidConfig, c.SeqLen)
	case c.TokenizerThreads < 1:
		return fmt.Errorf("%w: tokenizer threads %d < 1", ErrInvalidConfig, c.TokenizerThreads)
	case c.TokenizerBatchSize < 1:
		return fmt.Errorf("%w: tokenizer batch size %d < 1", ErrInvalidConfig, c.TokenizerBatchSize)
	case c.BufferSize < 1:
		return fmt.Errorf("%w: buffer size %d < 1", ErrInvalidConfig, c.BufferSize)
	case c.Split != shard.Train && c.Split != shard.Val:
		return fmt.Errorf("%w: %s", shard.ErrInvalidSplit, c.Split)
	}
	return nil
}

// Option configures a Loader's collaborators.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	device    Device
	resume    *Checkpoint
	rank      int
	worldSize int
	hasRank   bool
	opener    shard.Opener
}

// WithLogger sets an optional logger.  If not provided, no logging output
// will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithDevice sets the device batches are copied to.  The default is
// HostDevice.
func WithDevice(device Device) Option {
	return func(opts *options) {
		opts.device = device
	}
}

// WithResume resumes from a checkpoint returned with an earlier Batch.
func WithResume(c Checkpoint) Option {
	return func(opts *options) {
		opts.resume = &c
	}
}

// WithRank sets this worker's rank and the number of workers.  By default
// they are read from the RANK, LOCAL_RANK and WORLD_SIZE environment
// variables.
func WithRank(rank, worldSize int) Option {
	return func(opts *options) {
		opts.rank = rank
		opts.worldSize = worldSize
		opts.hasRank = true
	}
}

// WithOpener overrides how shard files are opened.
func WithOpener(opener shard.Opener) Option {
	return func(opts *options) {
		opts.opener = opener
	}
}

// Batch is one training step of tokens.  Inputs and Targets are BatchSize x
// SeqLen; Targets[i][j] == Inputs[i][j+1].  Both alias device memory reused
// by the next call to Next.
type Batch struct {
	Inputs     Tensor
	Targets    Tensor
	Checkpoint Checkpoint
}

// Loader produces an endless stream of packed batches for one worker.  A
// Loader is not safe for concurrent use.
type Loader struct {
	cfg       Config
	tok       tokenize.Tokenizer
	bos       int32
	walker    *shard.Walker
	device    Device
	logger    *slog.Logger
	buf       docBuffer
	packer    packer
	rows      []int32 // BatchSize rows of SeqLen+1
	staging   *pinned.Int32s
	deviceBuf []int32
	pos       shard.Position
	stats     Stats
	err       error
	closed    atomic.Bool
}

// New returns a Loader over the cfg.Split partition of paths, the sorted
// listing of every shard in the corpus.
func New(tok tokenize.Tokenizer, paths []string, cfg Config, opts ...Option) (*Loader, error) {
	var options options
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	options.device = HostDevice{}
	options.opener = shard.OpenFile
	for _, opt := range opts {
		opt(&options)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: nil tokenizer", ErrInvalidConfig)
	}

	splitPaths, err := shard.Partition(paths, cfg.Split)
	if err != nil {
		return nil, fmt.Errorf("shard.Partition: %w", err)
	}

	info := dist.Info{Rank: options.rank, WorldSize: options.worldSize}
	if !options.hasRank {
		if info, err = dist.FromEnv(); err != nil {
			return nil, fmt.Errorf("dist.FromEnv: %w", err)
		}
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	walkerCfg := shard.WalkerConfig{
		Paths:     splitPaths,
		BatchSize: cfg.TokenizerBatchSize,
		Rank:      info.Rank,
		WorldSize: info.WorldSize,
	}
	pos := shard.Position{Epoch: 1}
	if options.resume != nil {
		pos = options.resume.position()
		walkerCfg.Resume = &pos
	}
	walker, err := shard.NewWalker(walkerCfg, shard.WithLogger(options.logger), shard.WithOpener(options.opener))
	if err != nil {
		return nil, fmt.Errorf("shard.NewWalker: %w", err)
	}

	n := cfg.BatchSize * cfg.SeqLen
	staging, err := pinned.Alloc(2*n, options.logger)
	if err != nil {
		return nil, fmt.Errorf("pinned.Alloc: %w", err)
	}
	deviceBuf, err := options.device.Alloc(2 * n)
	if err != nil {
		_ = staging.Free()
		return nil, fmt.Errorf("device.Alloc: %w", err)
	}

	l := &Loader{
		cfg:       cfg,
		tok:       tok,
		bos:       tok.BOS(),
		walker:    walker,
		device:    options.device,
		logger:    options.logger,
		rows:      make([]int32, cfg.BatchSize*(cfg.SeqLen+1)),
		staging:   staging,
		deviceBuf: deviceBuf,
		pos:       pos,
	}
	l.packer = packer{
		buf:     &l.buf,
		minDocs: cfg.BufferSize,
		refill:  l.refill,
		stats:   &l.stats,
	}

	l.logger.Info("loader ready",
		slog.String("split", cfg.Split.String()),
		slog.Int("shards", len(splitPaths)),
		slog.Int("rank", info.Rank),
		slog.Int("world_size", info.WorldSize),
		slog.Bool("staging_locked", staging.Locked()))

	return l, nil
}

// refill tokenizes the next micro-batch into the buffer.
func (l *Loader) refill(ctx context.Context) error {
	mb, err := l.walker.Next(ctx)
	if err != nil {
		return fmt.Errorf("walker.Next: %w", err)
	}
	docs, err := l.tok.Encode(ctx, mb.Docs, l.bos, l.cfg.TokenizerThreads)
	if err != nil {
		return fmt.Errorf("tokenizer.Encode: %w", err)
	}
	if len(docs) != len(mb.Docs) {
		return fmt.Errorf("tokenizer.Encode: got %d documents, want %d", len(docs), len(mb.Docs))
	}
	for i, doc := range docs {
		if len(doc) == 0 {
			return fmt.Errorf("%w: document %d of %+v", ErrEmptyDocument, i, mb.Position)
		}
		if doc[0] != l.bos {
			return fmt.Errorf("%w: document %d of %+v starts with %d, want %d", ErrMissingBOS, i, mb.Position, doc[0], l.bos)
		}
	}

	l.buf.push(docs...)
	l.pos = mb.Position
	l.stats.Refills++
	l.stats.DocsTokenized += int64(len(docs))
	l.logger.Debug("refilled buffer",
		slog.Int("docs", len(docs)),
		slog.Int("buffered", l.buf.len()),
		slog.Int("shard", mb.Position.ShardIndex),
		slog.Int("row_group", mb.Position.RowGroupIndex))
	return nil
}

// Next packs and returns the next batch.  After an error the partially
// built batch is discarded and every later call returns the same error;
// restart from the last returned Checkpoint.
func (l *Loader) Next(ctx context.Context) (Batch, error) {
	if l.closed.Load() {
		return Batch{}, ErrClosed
	}
	if l.err != nil {
		return Batch{}, l.err
	}

	b, err := l.next(ctx)
	if err != nil {
		l.err = err
		return Batch{}, err
	}
	return b, nil
}

func (l *Loader) next(ctx context.Context) (Batch, error) {
	B, T := l.cfg.BatchSize, l.cfg.SeqLen
	rowLen := T + 1

	for r := 0; r < B; r++ {
		row := l.rows[r*rowLen : (r+1)*rowLen]
		if err := l.packer.fill(ctx, row); err != nil {
			return Batch{}, err
		}
	}
	checkpoint := checkpointAt(l.pos)

	// staging layout: [inputs B*T | targets B*T]
	staging := l.staging.Data()
	inputs, targets := staging[:B*T], staging[B*T:]
	for r := 0; r < B; r++ {
		row := l.rows[r*rowLen : (r+1)*rowLen]
		copy(inputs[r*T:(r+1)*T], row[:T])
		copy(targets[r*T:(r+1)*T], row[1:])
	}

	if err := l.device.CopyHostToDevice(l.deviceBuf, staging); err != nil {
		return Batch{}, fmt.Errorf("device.CopyHostToDevice: %w", err)
	}
	if err := l.device.Synchronize(); err != nil {
		return Batch{}, fmt.Errorf("device.Synchronize: %w", err)
	}
	l.stats.Batches++

	l.logger.Debug("batch ready",
		slog.Int64("batch", l.stats.Batches),
		slog.Int("pq_idx", checkpoint.ShardIndex),
		slog.Int("rg_idx", checkpoint.RowGroupIndex),
		slog.Int("epoch", checkpoint.Epoch))

	return Batch{
		Inputs:     Tensor{Data: l.deviceBuf[:B*T], Rows: B, Cols: T},
		Targets:    Tensor{Data: l.deviceBuf[B*T:], Rows: B, Cols: T},
		Checkpoint: checkpoint,
	}, nil
}

// NextTensors is Next for callers that don't resume.
func (l *Loader) NextTensors(ctx context.Context) (inputs, targets Tensor, err error) {
	b, err := l.Next(ctx)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	return b.Inputs, b.Targets, nil
}

// All returns the stream of batches as an iterator.  Iteration stops after
// the first error, which is yielded with an empty Batch.
func (l *Loader) All(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for {
			b, err := l.Next(ctx)
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Stats returns counters for the work done so far.
func (l *Loader) Stats() Stats {
	return l.stats
}

// Close releases the open shard and the staging memory.  It is safe to call
// Close more than once.
func (l *Loader) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.buf.reset()
	zero.Int32(l.rows)

	var errs []error
	if err := l.walker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("walker.Close: %w", err))
	}
	if err := l.staging.Free(); err != nil {
		errs = append(errs, fmt.Errorf("staging.Free: %w", err))
	}
	return errors.Join(errs...)
}
