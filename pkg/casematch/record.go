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
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Record is one sample: a unique identifier plus its metadata attributes.
//
// Attribute values are kept as supplied (string, bool, int, float64, ...).
// Whether a value is compared exactly or within a tolerance is decided by
// the Rule that references it, never by the value's dynamic type.
type Record struct {
	ID         string
	Attributes map[string]any
}

// RecordSet is an ordered, identifier-unique collection of records.
//
// Order is the input order and is preserved by every derived structure
// (case order in a OneToMany, control order in eligible sets).
type RecordSet struct {
	records []Record
	index   map[string]int
}

// NewRecordSet builds a RecordSet.
//
// Outputs:
//   - *RecordSet: The set. Never nil on success.
//   - error: *ConfigurationError for an empty or duplicated identifier.
func NewRecordSet(records ...Record) (*RecordSet, error) {
	rs := &RecordSet{
		records: make([]Record, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}
	for _, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, &ConfigurationError{Reason: "record with empty identifier"}
		}
		if _, dup := rs.index[r.ID]; dup {
			return nil, &ConfigurationError{Reason: "duplicate record identifier", IDs: []string{r.ID}}
		}
		attrs := make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			attrs[k] = v
		}
		rs.index[r.ID] = len(rs.records)
		rs.records = append(rs.records, Record{ID: r.ID, Attributes: attrs})
	}
	return rs, nil
}

// MustRecordSet is NewRecordSet for fixtures; it panics on error.
func MustRecordSet(records ...Record) *RecordSet {
	rs, err := NewRecordSet(records...)
	if err != nil {
		panic(err)
	}
	return rs
}

// Len returns the number of records.
func (rs *RecordSet) Len() int {
	return len(rs.records)
}

// IDs returns identifiers in input order.
func (rs *RecordSet) IDs() []string {
	ids := make([]string, len(rs.records))
	for i, r := range rs.records {
		ids[i] = r.ID
	}
	return ids
}

// Get returns the record with the given identifier.
func (rs *RecordSet) Get(id string) (Record, bool) {
	i, ok := rs.index[id]
	if !ok {
		return Record{}, false
	}
	return rs.records[i], true
}

// Has reports whether id is in the set.
func (rs *RecordSet) Has(id string) bool {
	_, ok := rs.index[id]
	return ok
}

// Records returns the records in input order.
func (rs *RecordSet) Records() []Record {
	out := make([]Record, len(rs.records))
	copy(out, rs.records)
	return out
}

// Value returns a record's raw attribute value.
func (rs *RecordSet) Value(id, attribute string) (any, bool) {
	r, ok := rs.Get(id)
	if !ok {
		return nil, false
	}
	v, ok := r.Attributes[attribute]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Filter returns a new set holding the records that satisfy keep.
func (rs *RecordSet) Filter(keep func(Record) bool) *RecordSet {
	out := &RecordSet{index: make(map[string]int)}
	for _, r := range rs.records {
		if keep(r) {
			out.index[r.ID] = len(out.records)
			out.records = append(out.records, r)
		}
	}
	return out
}

// Union merges two sets, keeping rs's records first.
//
// Outputs:
//   - error: *ConfigurationError naming identifiers present in both.
func (rs *RecordSet) Union(other *RecordSet) (*RecordSet, error) {
	all := append(rs.Records(), other.Records()...)
	if shared := sharedIDs(rs, other); len(shared) > 0 {
		return nil, &ConfigurationError{Reason: "record sets are not disjoint", IDs: shared}
	}
	return NewRecordSet(all...)
}

// discreteKey coerces a value to its exact-comparison key.
func discreteKey(v any) (string, error) {
	return cast.ToStringE(v)
}

// errMissingValue marks a NaN continuous value, which compares unequal to
// everything.
var errMissingValue = errors.New("missing value")

// continuousValue coerces a value to a finite float64. NaN yields
// errMissingValue.
func continuousValue(v any) (float64, error) {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, errMissingValue
	}
	if math.IsInf(f, 0) {
		return 0, fmt.Errorf("value %v is not finite", v)
	}
	return f, nil
}

// sharedIDs returns identifiers present in both sets, in a's order.
func sharedIDs(a, b *RecordSet) []string {
	var shared []string
	for _, r := range a.records {
		if b.Has(r.ID) {
			shared = append(shared, r.ID)
		}
	}
	return shared
}
