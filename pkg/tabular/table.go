// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tabular provides a minimal tab-separated table model.
//
// Every file the matching engine reads or writes in tabular form (sample
// metadata, match collections, match scores, ranked test results) goes
// through Table. The first column of a table is always the row key.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrEmptyTable indicates the input had no header row.
	ErrEmptyTable = errors.New("table has no header row")

	// ErrRaggedRow indicates a row whose width differs from the header.
	ErrRaggedRow = errors.New("row width does not match header")
)

// Table is an in-memory tab-separated table.
//
// Header holds the column names, including the key column at index 0.
// Every row must have exactly len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// New creates an empty table with the given header.
func New(header ...string) *Table {
	h := make([]string, len(header))
	copy(h, header)
	return &Table{Header: h}
}

// Append adds a row.
//
// Outputs:
//   - error: ErrRaggedRow if the row width differs from the header.
func (t *Table) Append(row ...string) error {
	if len(row) != len(t.Header) {
		return fmt.Errorf("%w: got %d cells, want %d", ErrRaggedRow, len(row), len(t.Header))
	}
	r := make([]string, len(row))
	copy(r, row)
	t.Rows = append(t.Rows, r)
	return nil
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of a named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns a key -> cell mapping for one named column.
//
// Outputs:
//   - map[string]string: Row key to cell value.
//   - error: Non-nil if the column does not exist.
func (t *Table) Column(name string) (map[string]string, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make(map[string]string, len(t.Rows))
	for _, row := range t.Rows {
		out[row[0]] = row[idx]
	}
	return out, nil
}

// WriteTSV writes the table as tab-separated values.
func (t *Table) WriteTSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the table to a TSV file at path.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := t.WriteTSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadTSV parses tab-separated values into a Table.
//
// Description:
//
//	The first line is the header. Rows whose key starts with "#q2:" are
//	QIIME type directives and are skipped. A leading UTF-8 BOM is stripped
//	from the first header cell.
//
// Outputs:
//   - *Table: The parsed table.
//   - error: ErrEmptyTable when there is no header, ErrRaggedRow on
//     inconsistent widths, or a csv parse error.
func ReadTSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tsv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	t := &Table{Header: header}
	for i, rec := range records[1:] {
		if len(rec) > 0 && strings.HasPrefix(rec[0], "#q2:") {
			continue
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d cells, want %d", ErrRaggedRow, i+2, len(rec), len(header))
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// ReadFile reads a TSV file from path.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadTSV(f)
}
