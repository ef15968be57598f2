// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tokenize

import (
	"context"
)

// BytesBOS is the start-of-document token for Bytes, one past the largest
// byte value.
const BytesBOS = 256

// Bytes is a byte-level tokenizer: each byte of a document is a token.
type Bytes struct{}

var _ Tokenizer = Bytes{}

func (Bytes) BOS() int32 {
	return BytesBOS
}

func (Bytes) Encode(ctx context.Context, texts []string, prepend int32, threads int) ([][]int32, error) {
	return Encode(ctx, texts, prepend, threads, encodeBytes)
}

func encodeBytes(dst []int32, text string) ([]int32, error) {
	dst = append(make([]int32, 0, len(dst)+len(text)), dst...)
	for i := 0; i < len(text); i++ {
		dst = append(dst, int32(text[i]))
	}
	return dst, nil
}
