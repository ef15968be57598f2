// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

// Stats counts the work a Loader has done since it was created.
type Stats struct {
	Batches int64
	Rows    int64
	// Refills is the number of micro-batches tokenized into the buffer.
	Refills int64
	// DocsTokenized is the number of documents added to the buffer.
	DocsTokenized int64
	// DocsPacked is the number of documents placed whole in a row.
	DocsPacked int64
	// DocsCropped is the number of documents cropped to finish a row.
	DocsCropped int64
	// TokensPacked is the number of tokens written to rows.
	TokensPacked int64
	// TokensCropped is the number of tokens dropped from cropped documents.
	TokensCropped int64
}

// CropFraction is the share of tokens taken from the buffer that were
// discarded by cropping.
func (s Stats) CropFraction() float64 {
	total := s.TokensPacked + s.TokensCropped
	if total == 0 {
		return 0
	}
	return float64(s.TokensCropped) / float64(total)
}
