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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// OneToOne is a single assignment: each matched case paired with one distinct control.
//
// The case list includes cases left unmatched in this assignment, so that
// every assignment drawn from the same OneToMany shares one case universe.
type OneToOne struct {
	cases  []string
	assign map[string]string
}

// NewOneToOne builds an assignment.
//
// Inputs:
//   - cases: All case identifiers, in order.
//   - assign: Case -> control for the matched cases.
//
// Outputs:
//   - *OneToOne: The assignment.
//   - error: *ConfigurationError if assign names a case not in cases;
//     *NotOneToOneError if a control is used by more than one case.
func NewOneToOne(cases []string, assign map[string]string) (*OneToOne, error) {
	known := make(map[string]bool, len(cases))
	for _, c := range cases {
		if known[c] {
			return nil, &ConfigurationError{Reason: "case listed more than once", IDs: []string{c}}
		}
		known[c] = true
	}

	owners := make(map[string][]string)
	copied := make(map[string]string, len(assign))
	for c, ctrl := range assign {
		if !known[c] {
			return nil, &ConfigurationError{Reason: "assignment names an unknown case", IDs: []string{c}}
		}
		if ctrl == "" {
			continue
		}
		owners[ctrl] = append(owners[ctrl], c)
		copied[c] = ctrl
	}

	var conflicted []string
	for _, cs := range owners {
		if len(cs) > 1 {
			conflicted = append(conflicted, cs...)
		}
	}
	if len(conflicted) > 0 {
		sort.Strings(conflicted)
		return nil, &NotOneToOneError{Cases: conflicted}
	}
	return &OneToOne{cases: append([]string(nil), cases...), assign: copied}, nil
}

// Cases returns every case identifier, matched or not.
func (o *OneToOne) Cases() []string {
	return append([]string(nil), o.cases...)
}

// MatchedCases returns cases that received a control, in case order.
func (o *OneToOne) MatchedCases() []string {
	out := make([]string, 0, len(o.assign))
	for _, c := range o.cases {
		if _, ok := o.assign[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Controls returns the assigned controls in case order.
func (o *OneToOne) Controls() []string {
	out := make([]string, 0, len(o.assign))
	for _, c := range o.cases {
		if ctrl, ok := o.assign[c]; ok {
			out = append(out, ctrl)
		}
	}
	return out
}

// Control returns the control assigned to a case.
func (o *OneToOne) Control(caseID string) (string, bool) {
	ctrl, ok := o.assign[caseID]
	return ctrl, ok
}

// Unmatched returns cases left without a control, in case order.
func (o *OneToOne) Unmatched() []string {
	var out []string
	for _, c := range o.cases {
		if _, ok := o.assign[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of matched pairs.
func (o *OneToOne) Len() int {
	return len(o.assign)
}

// ToMap exports the matched pairs. The result is a copy.
func (o *OneToOne) ToMap() map[string]string {
	out := make(map[string]string, len(o.assign))
	for c, ctrl := range o.assign {
		out[c] = ctrl
	}
	return out
}

// Within reports an error if any pair in o is not eligible under m.
func (o *OneToOne) Within(m *OneToMany) error {
	for _, c := range o.MatchedCases() {
		ctrls, ok := m.eligible[c]
		if !ok {
			return &ConfigurationError{Reason: "assigned case is not in the one-to-many structure", IDs: []string{c}}
		}
		ctrl := o.assign[c]
		found := false
		for _, e := range ctrls {
			if e == ctrl {
				found = true
				break
			}
		}
		if !found {
			return &ConfigurationError{Reason: fmt.Sprintf("control %s is not eligible for case %s", ctrl, c), IDs: []string{ctrl}}
		}
	}
	return nil
}

// EvaluateMatchScore computes case - control differences for each pair.
//
// The rows carry iteration 0; see Collection.EvaluateMatchScores for batches.
func (o *OneToOne) EvaluateMatchScore(metadata *RecordSet, attributes ...string) (*MatchScores, error) {
	scores := &MatchScores{Attributes: append([]string(nil), attributes...)}
	if err := scores.add(metadata, o, 0); err != nil {
		return nil, err
	}
	return scores, nil
}

// -----------------------------------------------------------------------------
// Persistence
// -----------------------------------------------------------------------------

type oneToOneFile struct {
	Version        int               `json:"version"`
	Cases          []string          `json:"cases"`
	CaseControlMap map[string]string `json:"case_control_map"`
}

// WriteJSON writes the assignment.
func (o *OneToOne) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(oneToOneFile{
		Version:        formatVersion,
		Cases:          o.cases,
		CaseControlMap: o.assign,
	})
}

// ReadOneToOneJSON reads an assignment written by WriteJSON.
//
// Description:
//
//	A bare {"case": ["control"]} object is also accepted. Each list must
//	hold exactly one control, otherwise *NotOneToOneError names the
//	offending cases.
func ReadOneToOneJSON(r io.Reader) (*OneToOne, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read one-to-one: %w", err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode one-to-one: %w", err)
	}
	if _, structured := probe["case_control_map"]; structured {
		var f oneToOneFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode one-to-one: %w", err)
		}
		if f.Version > formatVersion {
			return nil, fmt.Errorf("decode one-to-one: unsupported version %d", f.Version)
		}
		return NewOneToOne(f.Cases, f.CaseControlMap)
	}

	keys, err := objectKeys(data)
	if err != nil {
		return nil, fmt.Errorf("decode one-to-one: %w", err)
	}
	var legacy map[string][]string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("decode one-to-one: %w", err)
	}
	assign := make(map[string]string, len(legacy))
	var bad []string
	for _, c := range keys {
		if len(legacy[c]) != 1 {
			bad = append(bad, c)
			continue
		}
		assign[c] = legacy[c][0]
	}
	if len(bad) > 0 {
		return nil, &NotOneToOneError{Cases: bad}
	}
	return NewOneToOne(keys, assign)
}

// SaveFile writes the assignment to path.
func (o *OneToOne) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := o.WriteJSON(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadOneToOne reads an assignment from path.
func LoadOneToOne(path string) (*OneToOne, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadOneToOneJSON(f)
}
