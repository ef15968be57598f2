// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command docpack draws packed batches from a shard corpus and reports how
// the packing went.  It is useful for checking a corpus and sizing buffers
// before a training run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/bpowers/docpack"
	"github.com/bpowers/docpack/internal/shardsync"
	"github.com/bpowers/docpack/shard"
	"github.com/bpowers/docpack/tokenize"
)

var (
	dataPath         = flag.String("data", "", "shard directory, glob (** allowed), or s3://bucket/prefix")
	s3Endpoint       = flag.String("s3-endpoint", "", "endpoint URL for S3-compatible object storage")
	s3Region         = flag.String("s3-region", "us-east-1", "S3 region")
	cacheDir         = flag.String("cache", "shard-cache", "local directory s3:// shards are mirrored into")
	splitName        = flag.String("split", "train", "train or val")
	batchSize        = flag.Int("B", 8, "rows per batch")
	seqLen           = flag.Int("T", 2048, "tokens per row")
	steps            = flag.Int("steps", 100, "number of batches to draw")
	tokenizerName    = flag.String("tokenizer", "bytes", "bytes, or a tiktoken encoding or model name")
	tokenizerThreads = flag.Int("threads", docpack.DefaultTokenizerThreads, "tokenizer threads")
	tokenizerBatch   = flag.Int("tokenizer-batch", docpack.DefaultTokenizerBatchSize, "documents tokenized per refill")
	bufferSize       = flag.Int("buffer", docpack.DefaultBufferSize, "minimum buffered documents")
	resumePath       = flag.String("resume", "", "resume from the checkpoint in this file, if it exists")
	checkpointPath   = flag.String("checkpoint", "", "write the latest checkpoint to this file after every batch")
	verbose          = flag.Bool("v", false, "verbose logging")
)

func listShards(ctx context.Context, logger *slog.Logger) ([]string, error) {
	if !shardsync.IsS3URL(*dataPath) {
		return shard.List(*dataPath)
	}

	bucket, prefix, err := shardsync.ParseS3URL(*dataPath)
	if err != nil {
		return nil, err
	}
	svc, err := shardsync.NewClient(*s3Endpoint, *s3Region)
	if err != nil {
		return nil, err
	}
	paths, err := shardsync.Mirror(ctx, svc, bucket, prefix, *cacheDir, logger, ".shard", ".parquet")
	if err != nil {
		return nil, fmt.Errorf("shardsync.Mirror: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", shard.ErrNoShards, *dataPath)
	}
	return paths, nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	split, err := shard.ParseSplit(*splitName)
	if err != nil {
		return err
	}
	tok, err := tokenize.New(*tokenizerName)
	if err != nil {
		return fmt.Errorf("tokenize.New: %w", err)
	}
	paths, err := listShards(ctx, logger)
	if err != nil {
		return err
	}

	opts := []docpack.Option{docpack.WithLogger(logger)}
	if *resumePath != "" {
		checkpoint, err := docpack.LoadCheckpoint(*resumePath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("no checkpoint to resume from", slog.String("path", *resumePath))
		case err != nil:
			return err
		default:
			logger.Info("resuming",
				slog.Int("pq_idx", checkpoint.ShardIndex),
				slog.Int("rg_idx", checkpoint.RowGroupIndex),
				slog.Int("epoch", checkpoint.Epoch))
			opts = append(opts, docpack.WithResume(checkpoint))
		}
	}

	cfg := docpack.Config{
		BatchSize:          *batchSize,
		SeqLen:             *seqLen,
		Split:              split,
		TokenizerThreads:   *tokenizerThreads,
		TokenizerBatchSize: *tokenizerBatch,
		BufferSize:         *bufferSize,
	}
	loader, err := docpack.New(tok, paths, cfg, opts...)
	if err != nil {
		return fmt.Errorf("docpack.New: %w", err)
	}
	defer func() {
		if err := loader.Close(); err != nil {
			logger.Warn("closing loader", slog.String("err", err.Error()))
		}
	}()

	step := 0
	for batch, err := range loader.All(ctx) {
		if err != nil {
			return err
		}
		step++
		c := batch.Checkpoint
		logger.Info("batch",
			slog.Int("step", step),
			slog.Int("pq_idx", c.ShardIndex),
			slog.Int("rg_idx", c.RowGroupIndex),
			slog.Int("epoch", c.Epoch))
		if *checkpointPath != "" {
			if err := docpack.SaveCheckpoint(*checkpointPath, c); err != nil {
				return err
			}
		}
		if step >= *steps {
			break
		}
	}

	stats := loader.Stats()
	logger.Info("done",
		slog.Int64("batches", stats.Batches),
		slog.Int64("rows", stats.Rows),
		slog.Int64("docs_tokenized", stats.DocsTokenized),
		slog.Int64("docs_packed", stats.DocsPacked),
		slog.Int64("docs_cropped", stats.DocsCropped),
		slog.Int64("tokens_packed", stats.TokensPacked),
		slog.Int64("tokens_cropped", stats.TokensCropped),
		slog.String("crop_fraction", fmt.Sprintf("%.3f", stats.CropFraction())))
	return nil
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *dataPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if shardsync.IsS3URL(*dataPath) && *s3Endpoint == "" {
		logger.Info("no -s3-endpoint given, using AWS S3")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("docpack failed", slog.String("err", err.Error()))
		stop()
		os.Exit(1)
	}
}
