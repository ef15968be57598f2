// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package shard lists corpus shard files, splits them into train and
// validation sets, and walks their row groups on behalf of one distributed
// worker.
//
// A Walker yields micro-batches of raw documents.  Row group i of every shard
// belongs to the worker whose rank is i mod worldSize, so concurrent workers
// read disjoint data without coordinating.  Each micro-batch carries the
// Position it was read from; passing a Position back in as a resume point
// restarts one full round of row groups past it.
package shard
