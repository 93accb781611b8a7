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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// formatVersion is written into every persisted match structure.
const formatVersion = 1

// OneToMany maps every case to the controls that satisfy the matching rules.
//
// Description:
//
//	Every case from the focus input is a key, in input order, possibly with
//	an empty eligible set. A control may be eligible for several cases.
//	The structure is immutable; accessors return copies.
//
// Thread Safety: Safe for concurrent reads.
type OneToMany struct {
	cases    []string
	eligible map[string][]string
	rules    *RuleSet
}

// NewOneToMany builds a OneToMany from an explicit mapping.
//
// Inputs:
//   - cases: Case identifiers in order. Each must be a key of eligible.
//   - eligible: Case -> eligible controls.
//   - rules: The rules that produced the mapping. May be nil when unknown.
//
// Outputs:
//   - *OneToMany: The structure.
//   - error: *ConfigurationError if cases and eligible disagree, a case is
//     repeated, a control is listed twice for one case, or an identifier is
//     used as both case and control.
func NewOneToMany(cases []string, eligible map[string][]string, rules *RuleSet) (*OneToMany, error) {
	if len(cases) != len(eligible) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("case list has %d entries but mapping has %d", len(cases), len(eligible))}
	}
	isCase := make(map[string]bool, len(cases))
	for _, c := range cases {
		if isCase[c] {
			return nil, &ConfigurationError{Reason: "case listed more than once", IDs: []string{c}}
		}
		if _, ok := eligible[c]; !ok {
			return nil, &ConfigurationError{Reason: "case has no entry in mapping", IDs: []string{c}}
		}
		isCase[c] = true
	}

	copied := make(map[string][]string, len(eligible))
	for _, c := range cases {
		seen := make(map[string]bool, len(eligible[c]))
		ctrls := make([]string, 0, len(eligible[c]))
		for _, ctrl := range eligible[c] {
			if seen[ctrl] {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("control listed twice for case %s", c), IDs: []string{ctrl}}
			}
			if isCase[ctrl] {
				return nil, &ConfigurationError{Reason: "identifier used as both case and control", IDs: []string{ctrl}}
			}
			seen[ctrl] = true
			ctrls = append(ctrls, ctrl)
		}
		copied[c] = ctrls
	}
	return newOneToMany(append([]string(nil), cases...), copied, rules), nil
}

// newOneToMany takes ownership of its arguments without validation.
func newOneToMany(cases []string, eligible map[string][]string, rules *RuleSet) *OneToMany {
	for _, c := range cases {
		if eligible[c] == nil {
			eligible[c] = []string{}
		}
	}
	return &OneToMany{cases: cases, eligible: eligible, rules: rules}
}

// Cases returns case identifiers in input order.
func (m *OneToMany) Cases() []string {
	return append([]string(nil), m.cases...)
}

// Controls returns the union of all eligible sets, ordered by first appearance.
func (m *OneToMany) Controls() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range m.cases {
		for _, ctrl := range m.eligible[c] {
			if !seen[ctrl] {
				seen[ctrl] = true
				out = append(out, ctrl)
			}
		}
	}
	return out
}

// Eligible returns the eligible controls for a case.
func (m *OneToMany) Eligible(caseID string) ([]string, bool) {
	ctrls, ok := m.eligible[caseID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ctrls...), true
}

// Len returns the number of cases.
func (m *OneToMany) Len() int {
	return len(m.cases)
}

// Rules returns the rule set used to build the structure, or nil if it was
// loaded from a file that did not record one.
func (m *OneToMany) Rules() *RuleSet {
	return m.rules
}

// UnmatchedCases returns cases with an empty eligible set, in input order.
func (m *OneToMany) UnmatchedCases() []string {
	var out []string
	for _, c := range m.cases {
		if len(m.eligible[c]) == 0 {
			out = append(out, c)
		}
	}
	return out
}

// ToMap exports the mapping. The result is a copy.
func (m *OneToMany) ToMap() map[string][]string {
	out := make(map[string][]string, len(m.cases))
	for _, c := range m.cases {
		out[c] = append([]string{}, m.eligible[c]...)
	}
	return out
}

// CreateMatchedPairs draws iterations one-to-one assignments from m.
// It is shorthand for Sample(ctx, m, iterations, opts...).
func (m *OneToMany) CreateMatchedPairs(ctx context.Context, iterations int, opts ...SampleOption) (*Collection, error) {
	return Sample(ctx, m, iterations, opts...)
}

// -----------------------------------------------------------------------------
// Persistence
// -----------------------------------------------------------------------------

type oneToManyFile struct {
	Version        int                 `json:"version"`
	Cases          []string            `json:"cases"`
	CaseControlMap map[string][]string `json:"case_control_map"`
	Rules          *RuleSet            `json:"rules,omitempty"`
}

// WriteJSON writes the structure with its rule set.
func (m *OneToMany) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(oneToManyFile{
		Version:        formatVersion,
		Cases:          m.cases,
		CaseControlMap: m.ToMap(),
		Rules:          m.rules,
	})
}

// ReadOneToManyJSON reads a structure written by WriteJSON.
//
// Description:
//
//	A bare {"case": ["control", ...]} object is also accepted. Such files
//	carry no rule set, and case order is the key order in the file.
func ReadOneToManyJSON(r io.Reader) (*OneToMany, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read one-to-many: %w", err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode one-to-many: %w", err)
	}
	if _, structured := probe["case_control_map"]; structured {
		var f oneToManyFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode one-to-many: %w", err)
		}
		if f.Version > formatVersion {
			return nil, fmt.Errorf("decode one-to-many: unsupported version %d", f.Version)
		}
		return NewOneToMany(f.Cases, f.CaseControlMap, f.Rules)
	}

	keys, err := objectKeys(data)
	if err != nil {
		return nil, fmt.Errorf("decode one-to-many: %w", err)
	}
	var legacy map[string][]string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("decode one-to-many: %w", err)
	}
	return NewOneToMany(keys, legacy, nil)
}

// SaveFile writes the structure to path.
func (m *OneToMany) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := m.WriteJSON(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadOneToMany reads a structure from path.
func LoadOneToMany(path string) (*OneToMany, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadOneToManyJSON(f)
}

// objectKeys returns the top-level keys of a JSON object in file order.
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key")
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
