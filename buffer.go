// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

import (
	"slices"

	"github.com/bpowers/docpack/internal/zero"
)

// docBuffer holds tokenized documents waiting to be packed, in the order
// they were tokenized.  Lookups are linear scans; buffers hold on the order
// of a thousand documents.
type docBuffer struct {
	docs [][]int32
}

func (b *docBuffer) len() int {
	return len(b.docs)
}

func (b *docBuffer) push(docs ...[]int32) {
	b.docs = append(b.docs, docs...)
}

// bestFit returns the index of the longest document no longer than limit,
// or -1 if every document is longer.  Ties go to the earliest document.
func (b *docBuffer) bestFit(limit int) int {
	best, bestLen := -1, 0
	for i, doc := range b.docs {
		if n := len(doc); n <= limit && n > bestLen {
			best, bestLen = i, n
		}
	}
	return best
}

// shortest returns the index of the shortest document, the earliest on
// ties, or -1 if the buffer is empty.
func (b *docBuffer) shortest() int {
	best := -1
	for i, doc := range b.docs {
		if best < 0 || len(doc) < len(b.docs[best]) {
			best = i
		}
	}
	return best
}

// take removes and returns document i, keeping the others in order.
func (b *docBuffer) take(i int) []int32 {
	doc := b.docs[i]
	b.docs = slices.Delete(b.docs, i, i+1)
	return doc
}

func (b *docBuffer) reset() {
	zero.Int32s(b.docs)
	b.docs = b.docs[:0]
}
