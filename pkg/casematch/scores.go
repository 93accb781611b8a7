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
	"sort"
	"strconv"

	"github.com/gibsramen/qupid/pkg/tabular"
)

// MatchScore is the per-attribute difference for one matched pair.
type MatchScore struct {
	CaseID    string
	ControlID string

	// Diffs holds case - control per attribute, in MatchScores.Attributes order.
	Diffs []float64

	Iteration int
}

// MatchScores is a flat table of pair differences.
type MatchScores struct {
	Attributes []string
	Rows       []MatchScore
}

// add appends one assignment's pairs.
func (s *MatchScores) add(metadata *RecordSet, m *OneToOne, iteration int) error {
	var missing []string
	for _, c := range m.MatchedCases() {
		ctrl := m.assign[c]
		for _, id := range []string{c, ctrl} {
			if !metadata.Has(id) {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &DataCoverageError{Source: "metadata", Missing: dedupe(missing)}
	}

	for _, c := range m.MatchedCases() {
		ctrl := m.assign[c]
		row := MatchScore{CaseID: c, ControlID: ctrl, Iteration: iteration, Diffs: make([]float64, len(s.Attributes))}
		for j, attr := range s.Attributes {
			cv, err := numericAttr(metadata, c, attr)
			if err != nil {
				return err
			}
			kv, err := numericAttr(metadata, ctrl, attr)
			if err != nil {
				return err
			}
			row.Diffs[j] = cv - kv
		}
		s.Rows = append(s.Rows, row)
	}
	return nil
}

func numericAttr(metadata *RecordSet, id, attr string) (float64, error) {
	v, ok := metadata.Value(id, attr)
	if !ok {
		return 0, &ConfigurationError{Reason: "attribute missing from metadata", Attribute: attr, IDs: []string{id}}
	}
	f, err := continuousValue(v)
	if err != nil {
		return 0, &ConfigurationError{Reason: "value is not numeric: " + err.Error(), Attribute: attr, IDs: []string{id}}
	}
	return f, nil
}

// dedupe removes adjacent duplicates from a sorted slice.
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// Table renders columns case_id, control_id, <attr>_diff..., iteration.
func (s *MatchScores) Table() *tabular.Table {
	header := []string{"case_id", "control_id"}
	for _, a := range s.Attributes {
		header = append(header, a+"_diff")
	}
	header = append(header, "iteration")

	t := tabular.New(header...)
	for _, r := range s.Rows {
		row := []string{r.CaseID, r.ControlID}
		for _, d := range r.Diffs {
			row = append(row, strconv.FormatFloat(d, 'g', -1, 64))
		}
		row = append(row, strconv.Itoa(r.Iteration))
		_ = t.Append(row...)
	}
	return t
}
