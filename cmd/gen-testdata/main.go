// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command gen-testdata writes a synthetic corpus of shard files.
package main

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/bpowers/docpack/shard"
	"github.com/bpowers/docpack/shardfile"
)

const (
	vocabSize = 4096
	hmacKey   = "d259c7f656caf7f1"
)

var (
	outDir     = flag.String("out", "testdata", "directory to write shards to")
	numShards  = flag.Int("shards", 4, "number of shard files")
	rowGroups  = flag.Int("row-groups", 8, "row groups per shard")
	docsPerRG  = flag.Int("docs", 256, "documents per row group")
	maxWords   = flag.Int("max-len", 400, "maximum words per document")
	format     = flag.String("format", "shard", "output format: shard or parquet")
	seed       = flag.Int64("seed", 0, "random seed (0 picks one)")
	verboseLog = flag.Bool("v", false, "log each shard written")
)

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		var seedBytes [8]byte
		_, _ = crand.Read(seedBytes[:])
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

// newVocab derives words of 2 to 12 hex characters from HMAC digests.
func newVocab(rng *rand.Rand) []string {
	h := hmac.New(sha256.New, []byte(hmacKey))
	vocab := make([]string, vocabSize)
	var counter [8]byte
	for i := range vocab {
		binary.LittleEndian.PutUint64(counter[:], uint64(i))
		h.Reset()
		h.Write(counter[:])
		word := hex.EncodeToString(h.Sum(nil))
		vocab[i] = word[:2+rng.Intn(11)]
	}
	return vocab
}

func newDoc(rng *rand.Rand, vocab []string, sb *strings.Builder) string {
	sb.Reset()
	n := 1 + rng.Intn(*maxWords)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		// favor the front of the vocabulary
		sb.WriteString(vocab[int(float64(len(vocab))*rng.Float64()*rng.Float64())])
	}
	sb.WriteByte('.')
	return sb.String()
}

func writeShard(path string, groups [][]string) error {
	if *format == "parquet" {
		return shard.WriteParquet(path, groups)
	}

	b, err := shardfile.Create(path)
	if err != nil {
		return fmt.Errorf("shardfile.Create: %w", err)
	}
	for _, docs := range groups {
		for _, doc := range docs {
			if err := b.Write(doc); err != nil {
				_ = b.Abort()
				return fmt.Errorf("Builder.Write: %w", err)
			}
		}
		if err := b.FlushRowGroup(); err != nil {
			_ = b.Abort()
			return fmt.Errorf("Builder.FlushRowGroup: %w", err)
		}
	}
	return b.Finalize()
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verboseLog {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *format != "shard" && *format != "parquet" {
		fmt.Fprintf(os.Stderr, "unknown -format %q: want shard or parquet\n", *format)
		os.Exit(2)
	}
	if *numShards < 1 || *rowGroups < 1 || *docsPerRG < 1 || *maxWords < 1 {
		fmt.Fprintf(os.Stderr, "-shards, -row-groups, -docs and -max-len must be positive\n")
		os.Exit(2)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Error("creating output directory", slog.String("err", err.Error()))
		os.Exit(1)
	}

	rng := newRand(*seed)
	vocab := newVocab(rng)
	var sb strings.Builder

	for s := 0; s < *numShards; s++ {
		groups := make([][]string, *rowGroups)
		for g := range groups {
			groups[g] = make([]string, *docsPerRG)
			for j := range groups[g] {
				groups[g][j] = newDoc(rng, vocab, &sb)
			}
		}

		path := filepath.Join(*outDir, fmt.Sprintf("shard_%05d.%s", s, *format))
		if err := writeShard(path, groups); err != nil {
			logger.Error("writing shard", slog.String("path", path), slog.String("err", err.Error()))
			os.Exit(1)
		}
		logger.Debug("wrote shard", slog.String("path", path), slog.Int("row_groups", *rowGroups), slog.Int("docs", len(groups)*len(groups[0])))
	}

	logger.Info("done", slog.String("dir", *outDir), slog.Int("shards", *numShards), slog.String("format", *format))
}
