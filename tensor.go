// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package docpack

import (
	"fmt"
)

// Tensor is a row-major matrix of token ids.
type Tensor struct {
	Data []int32
	Rows int
	Cols int
}

// Row returns row i, aliasing t.Data.
func (t Tensor) Row(i int) []int32 {
	if i < 0 || i >= t.Rows {
		panic(fmt.Sprintf("row %d out of range [0, %d)", i, t.Rows))
	}
	return t.Data[i*t.Cols : (i+1)*t.Cols : (i+1)*t.Cols]
}

// At returns the token at row i, column j.
func (t Tensor) At(i, j int) int32 {
	if j < 0 || j >= t.Cols {
		panic(fmt.Sprintf("column %d out of range [0, %d)", j, t.Cols))
	}
	return t.Row(i)[j]
}

// Clone returns a copy of t that does not alias reused loader memory.
func (t Tensor) Clone() Tensor {
	t.Data = append([]int32(nil), t.Data...)
	return t
}
