// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/gibsramen/qupid/pkg/tabular"
)

// symmetryTolerance bounds |d(i,j) - d(j,i)| for matrices read from text.
const symmetryTolerance = 1e-8

// DistanceMatrix is a labelled symmetric, hollow, non-negative matrix.
//
// Thread Safety: Immutable after construction; safe for concurrent reads.
type DistanceMatrix struct {
	ids   []string
	index map[string]int
	m     *mat.SymDense
}

// NewDistanceMatrix validates and builds a distance matrix.
//
// Inputs:
//   - ids: Row/column labels. Must be unique and non-empty.
//   - rows: Square data, rows[i][j] = distance from ids[i] to ids[j].
//
// Outputs:
//   - *DistanceMatrix: The matrix.
//   - error: Wraps ErrInvalidDistanceMatrix.
func NewDistanceMatrix(ids []string, rows [][]float64) (*DistanceMatrix, error) {
	n := len(ids)
	if n == 0 {
		return nil, fmt.Errorf("%w: no identifiers", ErrInvalidDistanceMatrix)
	}
	if len(rows) != n {
		return nil, fmt.Errorf("%w: %d ids but %d rows", ErrInvalidDistanceMatrix, n, len(rows))
	}

	index := make(map[string]int, n)
	for i, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: empty identifier at %d", ErrInvalidDistanceMatrix, i)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate identifier %q", ErrInvalidDistanceMatrix, id)
		}
		index[id] = i
	}

	data := make([]float64, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %q has %d values, want %d", ErrInvalidDistanceMatrix, ids[i], len(row), n)
		}
		for j, d := range row {
			if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
				return nil, fmt.Errorf("%w: d(%s, %s) = %v", ErrInvalidDistanceMatrix, ids[i], ids[j], d)
			}
			if i == j && d != 0 {
				return nil, fmt.Errorf("%w: non-zero diagonal at %q", ErrInvalidDistanceMatrix, ids[i])
			}
			data[i*n+j] = d
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(rows[i][j]-rows[j][i]) > symmetryTolerance {
				return nil, fmt.Errorf("%w: d(%s, %s) != d(%s, %s)", ErrInvalidDistanceMatrix, ids[i], ids[j], ids[j], ids[i])
			}
		}
	}

	// NewSymDense reads the upper triangle only.
	return &DistanceMatrix{
		ids:   append([]string(nil), ids...),
		index: index,
		m:     mat.NewSymDense(n, data),
	}, nil
}

// IDs returns the labels in matrix order.
func (d *DistanceMatrix) IDs() []string {
	return append([]string(nil), d.ids...)
}

// Len returns the number of labels.
func (d *DistanceMatrix) Len() int {
	return len(d.ids)
}

// Has reports whether id labels a row.
func (d *DistanceMatrix) Has(id string) bool {
	_, ok := d.index[id]
	return ok
}

// At returns the distance between rows i and j.
func (d *DistanceMatrix) At(i, j int) float64 {
	return d.m.At(i, j)
}

// Distance returns the distance between two labels.
func (d *DistanceMatrix) Distance(a, b string) (float64, error) {
	i, ok := d.index[a]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownID, a)
	}
	j, ok := d.index[b]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownID, b)
	}
	return d.m.At(i, j), nil
}

// Missing returns the ids that d does not hold, in input order.
func (d *DistanceMatrix) Missing(ids []string) []string {
	var out []string
	for _, id := range ids {
		if !d.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Filter returns the sub-matrix over ids, in the given order.
//
// Outputs:
//   - error: Wraps ErrUnknownID for the first id not in d.
func (d *DistanceMatrix) Filter(ids []string) (*DistanceMatrix, error) {
	n := len(ids)
	if n == 0 {
		return nil, fmt.Errorf("%w: no identifiers", ErrInvalidDistanceMatrix)
	}
	idx := make([]int, n)
	index := make(map[string]int, n)
	for k, id := range ids {
		i, ok := d.index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate identifier %q", ErrInvalidDistanceMatrix, id)
		}
		idx[k] = i
		index[id] = k
	}

	sub := mat.NewSymDense(n, nil)
	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			sub.SetSym(a, b, d.m.At(idx[a], idx[b]))
		}
	}
	return &DistanceMatrix{ids: append([]string(nil), ids...), index: index, m: sub}, nil
}

// ReadDistanceMatrixTSV reads a square labelled matrix.
//
// Description:
//
//	The header holds an arbitrary corner cell followed by the column
//	labels. Each row starts with its label. Row labels must match the
//	column labels in the same order.
func ReadDistanceMatrixTSV(r io.Reader) (*DistanceMatrix, error) {
	t, err := tabular.ReadTSV(r)
	if err != nil {
		return nil, fmt.Errorf("read distance matrix: %w", err)
	}
	return fromTable(t)
}

// ReadDistanceMatrixFile reads a matrix from path.
func ReadDistanceMatrixFile(path string) (*DistanceMatrix, error) {
	t, err := tabular.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read distance matrix: %w", err)
	}
	return fromTable(t)
}

func fromTable(t *tabular.Table) (*DistanceMatrix, error) {
	ids := t.Header[1:]
	if len(t.Rows) != len(ids) {
		return nil, fmt.Errorf("%w: %d columns but %d rows", ErrInvalidDistanceMatrix, len(ids), len(t.Rows))
	}

	rows := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		if row[0] != ids[i] {
			return nil, fmt.Errorf("%w: row %d is %q, want %q", ErrInvalidDistanceMatrix, i, row[0], ids[i])
		}
		rows[i] = make([]float64, len(ids))
		for j, cell := range row[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: d(%s, %s): %v", ErrInvalidDistanceMatrix, ids[i], ids[j], err)
			}
			rows[i][j] = v
		}
	}
	return NewDistanceMatrix(ids, rows)
}

// WriteTSV writes the matrix in the layout ReadDistanceMatrixTSV reads.
func (d *DistanceMatrix) WriteTSV(w io.Writer) error {
	header := append([]string{""}, d.ids...)
	t := tabular.New(header...)
	for i, id := range d.ids {
		row := make([]string, 0, len(header))
		row = append(row, id)
		for j := range d.ids {
			row = append(row, strconv.FormatFloat(d.m.At(i, j), 'g', -1, 64))
		}
		_ = t.Append(row...)
	}
	return t.WriteTSV(w)
}
