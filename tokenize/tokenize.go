// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package tokenize turns raw documents into token id sequences, each
// beginning with a caller-chosen prefix token.
package tokenize

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var ErrUnknownTokenizer = errors.New("unknown tokenizer")

// Tokenizer encodes batches of documents.  Implementations must be
// deterministic and safe for concurrent use.
type Tokenizer interface {
	// BOS returns the id of the token marking the start of a document.
	BOS() int32
	// Encode returns one token sequence per text, in order, each starting
	// with prepend.  At most threads documents are encoded concurrently.
	Encode(ctx context.Context, texts []string, prepend int32, threads int) ([][]int32, error)
}

// EncodeFunc encodes a single document, appending its tokens to dst.
type EncodeFunc func(dst []int32, text string) ([]int32, error)

// Encode runs fn over texts on at most threads goroutines and returns the
// results in input order.  Every result starts with prepend.  The first
// error cancels the remaining work.
func Encode(ctx context.Context, texts []string, prepend int32, threads int, fn EncodeFunc) ([][]int32, error) {
	if threads < 1 {
		threads = 1
	}

	out := make([][]int32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tokens, err := fn([]int32{prepend}, text)
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			out[i] = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// New returns the tokenizer called name: "bytes" for Bytes, or a tiktoken
// encoding or model name (e.g. "cl100k_base", "gpt2", "gpt-4").
func New(name string) (Tokenizer, error) {
	if name == "bytes" {
		return Bytes{}, nil
	}
	encoding, ok := tiktokenEncodingName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTokenizer, name)
	}
	return NewTiktoken(encoding)
}
