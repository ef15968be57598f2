// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

import (
	"context"
	"fmt"
)

// packer fills rows from a docBuffer, topping the buffer up through refill
// whenever it holds fewer than minDocs documents.
type packer struct {
	buf     *docBuffer
	minDocs int
	refill  func(ctx context.Context) error
	stats   *Stats
}

// fill packs row full.  Documents that fit are copied whole, longest first;
// when none fits, the shortest document is cropped to the space left.
func (p *packer) fill(ctx context.Context, row []int32) error {
	pos := 0
	for pos < len(row) {
		for p.buf.len() < p.minDocs || p.buf.len() == 0 {
			if err := p.refill(ctx); err != nil {
				return err
			}
		}

		remaining := len(row) - pos
		if i := p.buf.bestFit(remaining); i >= 0 {
			doc := p.buf.take(i)
			pos += copy(row[pos:], doc)
			p.stats.DocsPacked++
			p.stats.TokensPacked += int64(len(doc))
			continue
		}

		doc := p.buf.take(p.buf.shortest())
		pos += copy(row[pos:], doc[:remaining])
		p.stats.DocsCropped++
		p.stats.TokensPacked += int64(remaining)
		p.stats.TokensCropped += int64(len(doc) - remaining)
	}

	if pos != len(row) {
		panic(fmt.Sprintf("invariant broken: packed %d tokens into a row of %d", pos, len(row)))
	}
	p.stats.Rows++
	return nil
}
