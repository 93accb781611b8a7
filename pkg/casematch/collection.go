// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package casematch

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gibsramen/qupid/pkg/tabular"
)

// CaseIDColumn heads the identifier column of a persisted collection.
const CaseIDColumn = "case_id"

// Collection is an ordered batch of one-to-one assignments over one case set.
//
// Position is the draw index and is stable: evaluation results refer back
// to assignments by it. A Collection is read-only.
type Collection struct {
	cases   []string
	matches []*OneToOne
	seed    uint64
	seeded  bool
}

// NewCollection builds a collection from assignments sharing one case set.
//
// Outputs:
//   - error: *ConfigurationError if matches is empty or an assignment's case
//     list differs from the first one's.
func NewCollection(matches ...*OneToOne) (*Collection, error) {
	if len(matches) == 0 {
		return nil, &ConfigurationError{Reason: "collection needs at least one assignment"}
	}
	cases := matches[0].Cases()
	for i, m := range matches[1:] {
		if !sameCases(cases, m.cases) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("assignment %d has a different case set", i+1)}
		}
	}
	return &Collection{cases: cases, matches: append([]*OneToOne(nil), matches...)}, nil
}

func sameCases(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Len returns the number of assignments.
func (c *Collection) Len() int {
	return len(c.matches)
}

// At returns the assignment drawn at iteration i. It panics if i is out of range.
func (c *Collection) At(i int) *OneToOne {
	return c.matches[i]
}

// Matches returns the assignments in draw order.
func (c *Collection) Matches() []*OneToOne {
	return append([]*OneToOne(nil), c.matches...)
}

// Cases returns the shared case list.
func (c *Collection) Cases() []string {
	return append([]string(nil), c.cases...)
}

// Seed returns the batch seed, if the collection was sampled in this process.
func (c *Collection) Seed() (uint64, bool) {
	return c.seed, c.seeded
}

// IDs returns every case and every assigned control, cases first, without
// duplicates.
func (c *Collection) IDs() []string {
	seen := make(map[string]bool, len(c.cases))
	out := make([]string, 0, len(c.cases))
	for _, id := range c.cases {
		seen[id] = true
		out = append(out, id)
	}
	for _, m := range c.matches {
		for _, ctrl := range m.Controls() {
			if !seen[ctrl] {
				seen[ctrl] = true
				out = append(out, ctrl)
			}
		}
	}
	return out
}

// ToTable renders one row per case and one column per iteration. An
// unmatched cell is empty.
func (c *Collection) ToTable() *tabular.Table {
	header := make([]string, 0, len(c.matches)+1)
	header = append(header, CaseIDColumn)
	for i := range c.matches {
		header = append(header, strconv.Itoa(i))
	}
	t := tabular.New(header...)
	for _, id := range c.cases {
		row := make([]string, 0, len(header))
		row = append(row, id)
		for _, m := range c.matches {
			ctrl, _ := m.Control(id)
			row = append(row, ctrl)
		}
		// header and row widths agree by construction
		_ = t.Append(row...)
	}
	return t
}

// CollectionFromTable rebuilds a collection from ToTable output.
//
// Description:
//
//	The first column holds case identifiers; each remaining column is one
//	iteration, in order. Column names are not interpreted. The rule set of
//	the parent OneToMany is not recoverable from the table.
//
// Outputs:
//   - error: *ConfigurationError if there are no iteration columns;
//     *NotOneToOneError if a column reuses a control.
func CollectionFromTable(t *tabular.Table) (*Collection, error) {
	if len(t.Header) < 2 {
		return nil, &ConfigurationError{Reason: "collection table has no iteration columns"}
	}
	cases := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		cases[r] = row[0]
	}

	matches := make([]*OneToOne, 0, len(t.Header)-1)
	for col := 1; col < len(t.Header); col++ {
		assign := make(map[string]string)
		for r, row := range t.Rows {
			if row[col] != "" {
				assign[cases[r]] = row[col]
			}
		}
		m, err := NewOneToOne(cases, assign)
		if err != nil {
			return nil, fmt.Errorf("iteration column %q: %w", t.Header[col], err)
		}
		matches = append(matches, m)
	}
	return &Collection{cases: cases, matches: matches}, nil
}

// WriteTSV writes ToTable as tab-separated text.
func (c *Collection) WriteTSV(w io.Writer) error {
	return c.ToTable().WriteTSV(w)
}

// ReadCollectionTSV reads a collection written by WriteTSV.
func ReadCollectionTSV(r io.Reader) (*Collection, error) {
	t, err := tabular.ReadTSV(r)
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}
	return CollectionFromTable(t)
}

// SaveFile writes the collection to path.
func (c *Collection) SaveFile(path string) error {
	return c.ToTable().WriteFile(path)
}

// LoadCollection reads a collection from path.
func LoadCollection(path string) (*Collection, error) {
	t, err := tabular.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return CollectionFromTable(t)
}

// EvaluateMatchScores computes signed case - control differences for every
// (case, control, iteration) triple over the given continuous attributes.
//
// Outputs:
//   - *MatchScores: Rows ordered by iteration, then case order.
//   - error: *DataCoverageError if metadata lacks an identifier;
//     *ConfigurationError if an attribute is absent or not numeric.
func (c *Collection) EvaluateMatchScores(metadata *RecordSet, attributes ...string) (*MatchScores, error) {
	scores := &MatchScores{Attributes: append([]string(nil), attributes...)}
	for i, m := range c.matches {
		if err := scores.add(metadata, m, i); err != nil {
			return nil, err
		}
	}
	return scores, nil
}
