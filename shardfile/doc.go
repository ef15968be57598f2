// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package shardfile contains structures for building and reading
// immutable corpus shards: ordered documents split into ordered row
// groups, the unit that distributed workers divide between themselves.
//
// A shard file looks like:
//
//	┌───────────────────┐
//	│ file header       │
//	├───────────────────┤
//	│ row group 0 docs  │
//	├───────────────────┤
//	│ row group 1 docs  │
//	│                   │
//	├───────────────────┤
//	│ ...               │
//	├───────────────────┤
//	│ row group         │
//	│ directory         │
//	└───────────────────┘
//
// Individual documents start with a fixed 8-byte header and are variable
// length:
//
//	 0    1    2    3    4    5    6    7
//	+----+----+----+----+----+----+----+----+
//	| checksum          | length            |
//	+----+----+----+----+----+----+----+----+
//	| document bytes...                     |
//	+----+----+----+----+----+----+----+----+
//
// The checksum is calculated from the bytes of the document, and is used to
// ensure we don't have un-detected on-disk corruption (with high probability).
// Each directory entry is a 64-bit offset of the row group's first document
// followed by a 64-bit document count.
package shardfile
