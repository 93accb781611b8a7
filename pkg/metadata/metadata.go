// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metadata loads sample metadata tables into record sets and
// measurement maps.
//
// The first column of every table is the sample identifier. Empty cells
// are treated as absent values.
package metadata

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/gibsramen/qupid/pkg/casematch"
	"github.com/gibsramen/qupid/pkg/tabular"
)

// FromTable converts a table into a record set.
//
// Outputs:
//   - *casematch.RecordSet: One record per row, attribute values as strings.
//   - error: *casematch.ConfigurationError for empty or duplicate identifiers.
func FromTable(t *tabular.Table) (*casematch.RecordSet, error) {
	records := make([]casematch.Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		attrs := make(map[string]any, len(t.Header)-1)
		for j := 1; j < len(t.Header); j++ {
			if v := strings.TrimSpace(row[j]); v != "" {
				attrs[t.Header[j]] = v
			}
		}
		records = append(records, casematch.Record{ID: strings.TrimSpace(row[0]), Attributes: attrs})
	}
	return casematch.NewRecordSet(records...)
}

// ReadRecords reads a TSV metadata table.
func ReadRecords(r io.Reader) (*casematch.RecordSet, error) {
	t, err := tabular.ReadTSV(r)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return FromTable(t)
}

// ReadRecordsFile reads a TSV metadata table from path.
func ReadRecordsFile(path string) (*casematch.RecordSet, error) {
	t, err := tabular.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return FromTable(t)
}

// Split partitions records into cases and candidate controls by one column.
//
// Description:
//
//	Records whose column equals caseValue are cases; records with any other
//	value are background. Records without a value are in neither set,
//	since their status is unknown.
//
// Outputs:
//   - focus: Cases, in input order.
//   - background: Candidate controls, in input order.
//   - error: *casematch.ConfigurationError if no record is a case or no
//     record carries the column.
func Split(rs *casematch.RecordSet, column, caseValue string) (focus, background *casematch.RecordSet, err error) {
	focus = rs.Filter(func(r casematch.Record) bool {
		v, ok := r.Attributes[column]
		return ok && cast.ToString(v) == caseValue
	})
	background = rs.Filter(func(r casematch.Record) bool {
		v, ok := r.Attributes[column]
		return ok && cast.ToString(v) != caseValue
	})
	if focus.Len() == 0 {
		return nil, nil, &casematch.ConfigurationError{
			Reason:    fmt.Sprintf("no records have case value %q", caseValue),
			Attribute: column,
		}
	}
	return focus, background, nil
}

// ValuesFromTable extracts one numeric column keyed by sample identifier.
//
// Outputs:
//   - map[string]float64: Identifier -> value. Empty cells are skipped.
//   - error: *casematch.ConfigurationError if the column is absent or a
//     cell is not numeric.
func ValuesFromTable(t *tabular.Table, column string) (map[string]float64, error) {
	j := t.ColumnIndex(column)
	if j <= 0 {
		return nil, &casematch.ConfigurationError{Reason: "measurement column not found", Attribute: column}
	}

	values := make(map[string]float64, len(t.Rows))
	var bad []string
	for _, row := range t.Rows {
		cell := strings.TrimSpace(row[j])
		if cell == "" {
			continue
		}
		f, err := cast.ToFloat64E(cell)
		if err != nil {
			bad = append(bad, row[0])
			continue
		}
		values[strings.TrimSpace(row[0])] = f
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, &casematch.ConfigurationError{Reason: "measurement is not numeric", Attribute: column, IDs: bad}
	}
	return values, nil
}

// ReadValues reads a numeric column from a TSV table.
func ReadValues(r io.Reader, column string) (map[string]float64, error) {
	t, err := tabular.ReadTSV(r)
	if err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	return ValuesFromTable(t, column)
}

// ReadValuesFile reads a numeric column from a TSV file.
func ReadValuesFile(path, column string) (map[string]float64, error) {
	t, err := tabular.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	return ValuesFromTable(t, column)
}

// Numeric reads attribute values as float64, for continuous attributes
// stored as text.
func Numeric(rs *casematch.RecordSet, attribute string) (map[string]float64, error) {
	out := make(map[string]float64, rs.Len())
	for _, r := range rs.Records() {
		v, ok := r.Attributes[attribute]
		if !ok {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, &casematch.ConfigurationError{Reason: "value is not numeric", Attribute: attribute, IDs: []string{r.ID}}
		}
		out[r.ID] = f
	}
	return out, nil
}
