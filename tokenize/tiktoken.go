// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tokenize

import (
	"context"
	"fmt"
	"math"

	"github.com/pkoukk/tiktoken-go"
)

var tiktokenEncodings = map[string]bool{
	tiktoken.MODEL_O200K_BASE:  true,
	tiktoken.MODEL_CL100K_BASE: true,
	tiktoken.MODEL_P50K_BASE:   true,
	tiktoken.MODEL_P50K_EDIT:   true,
	tiktoken.MODEL_R50K_BASE:   true,
}

func tiktokenEncodingName(name string) (string, bool) {
	if tiktokenEncodings[name] {
		return name, true
	}
	if encoding, ok := tiktoken.MODEL_TO_ENCODING[name]; ok && tiktokenEncodings[encoding] {
		return encoding, true
	}
	return "", false
}

// Tiktoken adapts a tiktoken BPE encoding.  Document text is encoded as
// ordinary text; the <|endoftext|> special token is the BOS token.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
	bos  int32
}

var _ Tokenizer = (*Tiktoken)(nil)

// NewTiktoken loads the named encoding (e.g. "cl100k_base").  The first load
// of an encoding fetches its merge table unless a BPE loader was installed
// with tiktoken.SetBpeLoader.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if !tiktokenEncodings[encoding] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTokenizer, encoding)
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken.GetEncoding(%s): %w", encoding, err)
	}

	ids := enc.Encode(tiktoken.ENDOFTEXT, []string{tiktoken.ENDOFTEXT}, nil)
	if len(ids) != 1 {
		return nil, fmt.Errorf("encoding %s: %s is %d tokens, want 1", encoding, tiktoken.ENDOFTEXT, len(ids))
	}

	return &Tiktoken{
		name: encoding,
		enc:  enc,
		bos:  int32(ids[0]),
	}, nil
}

func (t *Tiktoken) Name() string {
	return t.name
}

func (t *Tiktoken) BOS() int32 {
	return t.bos
}

func (t *Tiktoken) Encode(ctx context.Context, texts []string, prepend int32, threads int) ([][]int32, error) {
	return Encode(ctx, texts, prepend, threads, t.encode)
}

func (t *Tiktoken) encode(dst []int32, text string) ([]int32, error) {
	ids := t.enc.EncodeOrdinary(text)
	dst = append(make([]int32, 0, len(dst)+len(ids)), dst...)
	for _, id := range ids {
		if id < 0 || id > math.MaxInt32 {
			return nil, fmt.Errorf("token id %d out of range", id)
		}
		dst = append(dst, int32(id))
	}
	return dst, nil
}
