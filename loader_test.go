// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/docpack/shard"
	"github.com/bpowers/docpack/tokenize"
)

// lenTokenizer encodes a document "<id>:<n>" as testDoc(id, n).
type lenTokenizer struct{}

func (lenTokenizer) BOS() int32 {
	return testBOS
}

func (lenTokenizer) Encode(ctx context.Context, texts []string, prepend int32, threads int) ([][]int32, error) {
	return tokenize.Encode(ctx, texts, prepend, threads, func(dst []int32, text string) ([]int32, error) {
		if text == "empty" {
			return dst[:0], nil
		}
		idStr, nStr, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("bad document %q", text)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(nStr)
		if err != nil {
			return nil, err
		}
		doc := testDoc(int32(id), n)
		doc[0] = prepend
		return doc, nil
	})
}

type memFile struct {
	groups  [][]string
	readErr error
}

func (f *memFile) RowGroupCount() int {
	return len(f.groups)
}

func (f *memFile) ReadRowGroup(i int) ([]string, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.groups[i], nil
}

func (f *memFile) Close() error {
	return nil
}

type rowGroupRead struct {
	path     string
	rowGroup int
}

// memCorpus is a set of in-memory shards of "<id>:<n>" documents that
// records which row groups are read.
type memCorpus struct {
	paths   []string
	shards  map[string][][]string
	docLens map[int32]int
	reads   []rowGroupRead
}

func newMemCorpus(seed int64, shards, rowGroups, docs, maxLen int) *memCorpus {
	rng := rand.New(rand.NewSource(seed))
	c := &memCorpus{
		shards:  make(map[string][][]string),
		docLens: make(map[int32]int),
	}
	id := int32(1)
	for s := 0; s < shards; s++ {
		path := fmt.Sprintf("shard_%05d.shard", s)
		groups := make([][]string, rowGroups)
		for g := range groups {
			for j := 0; j < docs; j++ {
				n := 2 + rng.Intn(maxLen-1)
				c.docLens[id] = n
				groups[g] = append(groups[g], fmt.Sprintf("%d:%d", id, n))
				id++
			}
		}
		c.paths = append(c.paths, path)
		c.shards[path] = groups
	}
	return c
}

func (c *memCorpus) open(path string) (shard.File, error) {
	groups, ok := c.shards[path]
	if !ok {
		return nil, fmt.Errorf("no shard %s", path)
	}
	return &recordingFile{memFile: memFile{groups: groups}, path: path, c: c}, nil
}

type recordingFile struct {
	memFile
	path string
	c    *memCorpus
}

func (f *recordingFile) ReadRowGroup(i int) ([]string, error) {
	f.c.reads = append(f.c.reads, rowGroupRead{f.path, i})
	return f.memFile.ReadRowGroup(i)
}

func testConfig() Config {
	return Config{
		BatchSize:          4,
		SeqLen:             16,
		Split:              shard.Train,
		TokenizerThreads:   2,
		TokenizerBatchSize: 8,
		BufferSize:         12,
	}
}

func newTestLoader(t *testing.T, c *memCorpus, cfg Config, opts ...Option) *Loader {
	t.Helper()
	opts = append([]Option{WithRank(0, 1), WithOpener(c.open)}, opts...)
	l, err := New(lenTokenizer{}, c.paths, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, l.Close())
	})
	return l
}

func TestLoader_Next(t *testing.T) {
	c := newMemCorpus(1, 3, 4, 10, 40)
	cfg := testConfig()
	l := newTestLoader(t, c, cfg)
	B, T := cfg.BatchSize, cfg.SeqLen

	for step := 0; step < 20; step++ {
		b, err := l.Next(context.Background())
		require.NoError(t, err)

		require.Equal(t, B, b.Inputs.Rows)
		require.Equal(t, T, b.Inputs.Cols)
		require.Equal(t, B, b.Targets.Rows)
		require.Equal(t, T, b.Targets.Cols)
		require.Len(t, b.Inputs.Data, B*T)
		require.Len(t, b.Targets.Data, B*T)

		for i := 0; i < B; i++ {
			row := l.rows[i*(T+1) : (i+1)*(T+1)]
			checkRow(t, row, c.docLens)
			assert.Equal(t, int32(testBOS), b.Inputs.At(i, 0))
			assert.Equal(t, row[:T], b.Inputs.Row(i))
			assert.Equal(t, row[1:], b.Targets.Row(i))
			for j := 0; j < T-1; j++ {
				assert.Equal(t, b.Inputs.At(i, j+1), b.Targets.At(i, j))
			}
		}

		// train excludes the last shard
		assert.Less(t, b.Checkpoint.ShardIndex, 2)
	}

	stats := l.Stats()
	assert.Equal(t, int64(20), stats.Batches)
	assert.Equal(t, int64(20*B), stats.Rows)
	assert.Equal(t, int64(20*B*(T+1)), stats.TokensPacked)
	assert.Greater(t, stats.TokensCropped, int64(0))
	assert.Greater(t, stats.CropFraction(), 0.0)
	assert.Less(t, stats.CropFraction(), 1.0)
}

func TestLoader_ValSplit(t *testing.T) {
	c := newMemCorpus(2, 3, 2, 10, 20)
	cfg := testConfig()
	cfg.Split = shard.Val
	l := newTestLoader(t, c, cfg)

	for step := 0; step < 10; step++ {
		b, err := l.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, b.Checkpoint.ShardIndex)
	}
	for _, read := range c.reads {
		assert.Equal(t, c.paths[2], read.path)
	}
}

func TestLoader_Sharded(t *testing.T) {
	c := newMemCorpus(3, 2, 8, 5, 20)
	cfg := testConfig()
	l := newTestLoader(t, c, cfg, WithRank(1, 3))

	for step := 0; step < 10; step++ {
		_, err := l.Next(context.Background())
		require.NoError(t, err)
	}
	require.NotEmpty(t, c.reads)
	for _, read := range c.reads {
		assert.Equal(t, 1, read.rowGroup%3)
	}
}

func TestLoader_Resume(t *testing.T) {
	c := newMemCorpus(4, 3, 10, 10, 20)
	cfg := testConfig()

	l := newTestLoader(t, c, cfg)
	var checkpoint Checkpoint
	for step := 0; step < 5; step++ {
		b, err := l.Next(context.Background())
		require.NoError(t, err)
		checkpoint = b.Checkpoint
	}
	require.Equal(t, c.reads[len(c.reads)-1], rowGroupRead{c.paths[checkpoint.ShardIndex], checkpoint.RowGroupIndex})

	c.reads = nil
	resumed := newTestLoader(t, c, cfg, WithResume(checkpoint))
	b, err := resumed.Next(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, c.reads)

	// the first row group read after resuming is the one after the checkpoint
	want := rowGroupRead{c.paths[checkpoint.ShardIndex], checkpoint.RowGroupIndex + 1}
	if checkpoint.RowGroupIndex+1 >= 10 {
		want = rowGroupRead{c.paths[checkpoint.ShardIndex+1], 0}
	}
	assert.Equal(t, want, c.reads[0])
	assert.Equal(t, checkpoint.Epoch, b.Checkpoint.Epoch)
}

func TestLoader_StickyError(t *testing.T) {
	boom := errors.New("bad sector")
	opener := func(string) (shard.File, error) {
		return &memFile{groups: [][]string{{"1:3"}}, readErr: boom}, nil
	}
	l, err := New(lenTokenizer{}, []string{"a", "b"}, testConfig(), WithRank(0, 1), WithOpener(opener))
	require.NoError(t, err)

	_, err = l.Next(context.Background())
	require.ErrorIs(t, err, boom)
	_, err2 := l.Next(context.Background())
	assert.Equal(t, err, err2)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoader_EmptyDocument(t *testing.T) {
	opener := func(string) (shard.File, error) {
		return &memFile{groups: [][]string{{"1:3", "empty"}}}, nil
	}
	l, err := New(lenTokenizer{}, []string{"a", "b"}, testConfig(), WithRank(0, 1), WithOpener(opener))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, l.Close())
	}()

	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

// noBOSTokenizer ignores the prefix token it is asked to prepend.
type noBOSTokenizer struct {
	lenTokenizer
}

func (noBOSTokenizer) Encode(ctx context.Context, texts []string, prepend int32, threads int) ([][]int32, error) {
	return lenTokenizer{}.Encode(ctx, texts, prepend+1, threads)
}

func TestLoader_MissingBOS(t *testing.T) {
	opener := func(string) (shard.File, error) {
		return &memFile{groups: [][]string{{"1:3", "2:5"}}}, nil
	}
	l, err := New(noBOSTokenizer{}, []string{"a", "b"}, testConfig(), WithRank(0, 1), WithOpener(opener))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, l.Close())
	}()

	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, ErrMissingBOS)

	// the failure is sticky
	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, ErrMissingBOS)
}

func TestLoader_Canceled(t *testing.T) {
	c := newMemCorpus(5, 2, 2, 2, 10)
	l := newTestLoader(t, c, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_All(t *testing.T) {
	c := newMemCorpus(6, 2, 4, 10, 30)
	l := newTestLoader(t, c, testConfig())

	n := 0
	for b, err := range l.All(context.Background()) {
		require.NoError(t, err)
		require.Equal(t, 4, b.Inputs.Rows)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, int64(3), l.Stats().Batches)

	inputs, targets, err := l.NextTensors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, inputs.At(0, 1), targets.At(0, 0))
}

type countingDevice struct {
	HostDevice
	allocs, copies, syncs int
	copied                int
}

func (d *countingDevice) Alloc(n int) ([]int32, error) {
	d.allocs++
	return d.HostDevice.Alloc(n)
}

func (d *countingDevice) CopyHostToDevice(dst, src []int32) error {
	d.copies++
	d.copied += len(src)
	return d.HostDevice.CopyHostToDevice(dst, src)
}

func (d *countingDevice) Synchronize() error {
	d.syncs++
	return nil
}

func TestLoader_Device(t *testing.T) {
	c := newMemCorpus(7, 2, 4, 10, 30)
	dev := &countingDevice{}
	cfg := testConfig()
	l := newTestLoader(t, c, cfg, WithDevice(dev))

	for step := 0; step < 5; step++ {
		_, err := l.Next(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, dev.allocs)
	assert.Equal(t, 5, dev.copies)
	assert.Equal(t, 5, dev.syncs)
	assert.Equal(t, 5*2*cfg.BatchSize*cfg.SeqLen, dev.copied)
}

func TestNew_Errors(t *testing.T) {
	c := newMemCorpus(8, 2, 1, 1, 10)
	opts := []Option{WithRank(0, 1), WithOpener(c.open)}

	bad := []func(*Config){
		func(cfg *Config) { cfg.BatchSize = 0 },
		func(cfg *Config) { cfg.SeqLen = -1 },
		func(cfg *Config) { cfg.TokenizerThreads = -1 },
		func(cfg *Config) { cfg.TokenizerBatchSize = -1 },
		func(cfg *Config) { cfg.BufferSize = -1 },
	}
	for i, mutate := range bad {
		cfg := testConfig()
		mutate(&cfg)
		_, err := New(lenTokenizer{}, c.paths, cfg, opts...)
		assert.ErrorIs(t, err, ErrInvalidConfig, "case %d", i)
	}

	cfg := testConfig()
	cfg.Split = shard.Split(9)
	_, err := New(lenTokenizer{}, c.paths, cfg, opts...)
	assert.ErrorIs(t, err, shard.ErrInvalidSplit)

	_, err = New(nil, c.paths, testConfig(), opts...)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(lenTokenizer{}, nil, testConfig(), opts...)
	assert.ErrorIs(t, err, shard.ErrNoShards)

	// one shard is all validation data
	_, err = New(lenTokenizer{}, c.paths[:1], testConfig(), opts...)
	assert.ErrorIs(t, err, shard.ErrNoShards)

	_, err = New(lenTokenizer{}, c.paths, testConfig(), WithRank(3, 3), WithOpener(c.open))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{BatchSize: 1, SeqLen: 1}
	cfg.applyDefaults()
	assert.Equal(t, DefaultTokenizerThreads, cfg.TokenizerThreads)
	assert.Equal(t, DefaultTokenizerBatchSize, cfg.TokenizerBatchSize)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.NoError(t, cfg.validate())
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	want := Checkpoint{ShardIndex: 3, RowGroupIndex: 17, Epoch: 2}
	require.NoError(t, SaveCheckpoint(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]int
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, map[string]int{"pq_idx": 3, "rg_idx": 17, "epoch": 2}, raw)

	got, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, shard.Position{ShardIndex: 3, RowGroupIndex: 17, Epoch: 2}, got.position())

	// checkpoints without an epoch resume in the first one
	require.NoError(t, os.WriteFile(path, []byte(`{"pq_idx": 1, "rg_idx": 4}`), 0o644))
	got, err = LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, shard.Position{ShardIndex: 1, RowGroupIndex: 4, Epoch: 1}, got.position())

	_, err = LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
