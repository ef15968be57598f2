// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package shard

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// TextColumn is the column holding document text in parquet shards.
const TextColumn = "text"

// ParquetFile reads the documents of one string column of a parquet file,
// one row group at a time.
//
// The underlying column reader only moves forward, so row groups are cheapest
// to read in increasing order.  Skipped row groups are decoded and dropped;
// reading a row group behind the cursor reopens the file.
type ParquetFile struct {
	path     string
	column   string
	pf       source.ParquetFile
	pr       *reader.ParquetReader
	colIndex int64
	rows     []int64 // rows per row group
	cursor   int     // next row group the reader will decode
}

// OpenParquet opens the parquet file at path for reading column.
func OpenParquet(path, column string) (*ParquetFile, error) {
	f := &ParquetFile{
		path:   path,
		column: column,
	}
	if err := f.open(); err != nil {
		return nil, err
	}

	f.rows = make([]int64, len(f.pr.Footer.RowGroups))
	for i, rg := range f.pr.Footer.RowGroups {
		f.rows[i] = rg.GetNumRows()
	}

	return f, nil
}

func (f *ParquetFile) open() error {
	pf, err := local.NewLocalFileReader(f.path)
	if err != nil {
		return fmt.Errorf("local.NewLocalFileReader(%s): %w", f.path, err)
	}
	pr, err := reader.NewParquetColumnReader(pf, 1)
	if err != nil {
		_ = pf.Close()
		return fmt.Errorf("reader.NewParquetColumnReader(%s): %w", f.path, err)
	}

	colIndex := int64(-1)
	sh := pr.SchemaHandler
	for i, pathStr := range sh.ValueColumns {
		// footer names are rewritten to internal names; match on the original
		if idx, ok := sh.MapIndex[pathStr]; ok && sh.GetExName(int(idx)) == f.column {
			colIndex = int64(i)
			break
		}
	}
	if colIndex < 0 {
		pr.ReadStop()
		_ = pf.Close()
		return fmt.Errorf("parquet shard %s: no %q column", f.path, f.column)
	}

	f.pf = pf
	f.pr = pr
	f.colIndex = colIndex
	f.cursor = 0
	return nil
}

func (f *ParquetFile) closeReader() error {
	if f.pr == nil {
		return nil
	}
	f.pr.ReadStop()
	err := f.pf.Close()
	f.pr = nil
	f.pf = nil
	return err
}

// RowGroupCount returns the number of row groups in the file.
func (f *ParquetFile) RowGroupCount() int {
	return len(f.rows)
}

func (f *ParquetFile) readRows(n int64) ([]interface{}, error) {
	if n <= 0 {
		return nil, nil
	}
	values, _, _, err := f.pr.ReadColumnByIndex(f.colIndex, n)
	if err != nil {
		return nil, fmt.Errorf("ReadColumnByIndex(%d, %d): %w", f.colIndex, n, err)
	}
	if int64(len(values)) != n {
		return nil, fmt.Errorf("parquet shard %s: short read (%d < %d)", f.path, len(values), n)
	}
	return values, nil
}

// ReadRowGroup returns the documents in row group i.
func (f *ParquetFile) ReadRowGroup(i int) ([]string, error) {
	if i < 0 || i >= len(f.rows) {
		return nil, fmt.Errorf("parquet shard %s: row group %d out of range (%d)", f.path, i, len(f.rows))
	}
	if f.pr == nil || i < f.cursor {
		if err := f.closeReader(); err != nil {
			return nil, fmt.Errorf("close: %w", err)
		}
		if err := f.open(); err != nil {
			return nil, err
		}
	}

	for ; f.cursor < i; f.cursor++ {
		if _, err := f.readRows(f.rows[f.cursor]); err != nil {
			return nil, err
		}
	}

	values, err := f.readRows(f.rows[i])
	if err != nil {
		return nil, err
	}
	f.cursor = i + 1

	docs := make([]string, len(values))
	for j, v := range values {
		switch v := v.(type) {
		case string:
			docs[j] = v
		case []byte:
			docs[j] = string(v)
		case nil:
			// null text is an empty document
		default:
			return nil, fmt.Errorf("parquet shard %s: %q column holds %T, not text", f.path, f.column, v)
		}
	}
	return docs, nil
}

// Close releases the file.  It is safe to call Close more than once.
func (f *ParquetFile) Close() error {
	return f.closeReader()
}

type parquetDoc struct {
	Text string `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteParquet writes a parquet file at path with a single "text" column,
// one parquet row group per element of rowGroups.  Empty row groups are
// dropped.
func WriteParquet(path string, rowGroups [][]string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("local.NewLocalFileWriter(%s): %w", path, err)
	}
	defer func() {
		_ = fw.Close()
	}()

	pw, err := writer.NewParquetWriter(fw, new(parquetDoc), 1)
	if err != nil {
		return fmt.Errorf("writer.NewParquetWriter: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, docs := range rowGroups {
		for _, doc := range docs {
			if err := pw.Write(parquetDoc{Text: doc}); err != nil {
				return fmt.Errorf("pw.Write: %w", err)
			}
		}
		if err := pw.Flush(true); err != nil {
			return fmt.Errorf("pw.Flush: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("pw.WriteStop: %w", err)
	}
	return fw.Close()
}
