// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package docpack streams fixed-size training batches from a sharded text
// corpus.
//
// Documents are tokenized with a leading BOS token and held in a buffer.
// Rows of T+1 tokens are filled best-fit: the longest buffered document that
// still fits is appended whole, and when none fits the shortest document is
// cropped to exactly fill the row.  Every row therefore starts with BOS and
// contains no padding, at the cost of discarding the tails of cropped
// documents.  Stats reports how much was cropped.
//
// Each Batch carries a Checkpoint.  Passing the last checkpoint back with
// WithResume restarts the stream approximately where it left off: the shard
// walker skips one round of row groups past the checkpoint, so documents
// still buffered at the time are not replayed.
package docpack
