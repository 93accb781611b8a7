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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// RuleKind selects how an attribute is compared.
type RuleKind int

const (
	// Discrete requires exact equality of case and control values.
	Discrete RuleKind = iota + 1

	// Continuous requires |case - control| <= tolerance.
	Continuous
)

// String returns "discrete", "continuous", or "unknown".
func (k RuleKind) String() string {
	switch k {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k RuleKind) MarshalText() ([]byte, error) {
	if k != Discrete && k != Continuous {
		return nil, fmt.Errorf("invalid rule kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RuleKind) UnmarshalText(text []byte) error {
	parsed, err := ParseRuleKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseRuleKind parses "discrete" or "continuous" (also "categorical", "numeric").
func ParseRuleKind(s string) (RuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discrete", "categorical":
		return Discrete, nil
	case "continuous", "numeric":
		return Continuous, nil
	default:
		return 0, &ConfigurationError{Reason: fmt.Sprintf("rule kind must be 'discrete' or 'continuous', got %q", s)}
	}
}

// Rule is the matching criterion for one attribute.
type Rule struct {
	Attribute string   `json:"attribute" yaml:"attribute"`
	Kind      RuleKind `json:"kind" yaml:"kind"`
	Tolerance float64  `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// within reports whether two continuous values lie inside the tolerance band.
func (r Rule) within(caseVal, ctrlVal float64) bool {
	return math.Abs(caseVal-ctrlVal) <= r.Tolerance
}

// String renders the rule in command-surface syntax.
func (r Rule) String() string {
	if r.Kind == Continuous {
		return fmt.Sprintf("%s±%s", r.Attribute, strconv.FormatFloat(r.Tolerance, 'g', -1, 64))
	}
	return r.Attribute
}

// RuleSet is the conjunction of per-attribute rules.
//
// A RuleSet is immutable. Rules are unique by attribute and kept in the
// order they were supplied.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates and builds a RuleSet.
//
// Outputs:
//   - *RuleSet: The validated rule set.
//   - error: *ConfigurationError when the set is empty, an attribute is
//     blank or repeated, a kind is unknown, a continuous tolerance is
//     negative or not finite, or a discrete rule carries a tolerance.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, &ConfigurationError{Reason: "at least one matching rule is required"}
	}
	seen := make(map[string]bool, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		r.Attribute = strings.TrimSpace(r.Attribute)
		if r.Attribute == "" {
			return nil, &ConfigurationError{Reason: "rule with empty attribute name"}
		}
		if seen[r.Attribute] {
			return nil, &ConfigurationError{Reason: "attribute listed more than once", Attribute: r.Attribute}
		}
		seen[r.Attribute] = true

		switch r.Kind {
		case Discrete:
			if r.Tolerance != 0 {
				return nil, &ConfigurationError{Reason: "tolerance given for a discrete attribute", Attribute: r.Attribute}
			}
		case Continuous:
			if r.Tolerance < 0 || math.IsNaN(r.Tolerance) || math.IsInf(r.Tolerance, 0) {
				return nil, &ConfigurationError{Reason: "tolerance must be a non-negative finite number", Attribute: r.Attribute}
			}
		default:
			return nil, &ConfigurationError{Reason: "unknown rule kind", Attribute: r.Attribute}
		}
		out = append(out, r)
	}
	return &RuleSet{rules: out}, nil
}

// RulesFromTypeMap builds a RuleSet from an explicit attribute -> kind map.
//
// Description:
//
//	Every Continuous attribute must have an entry in tolerances. Entries in
//	tolerances for Discrete attributes, or for attributes absent from
//	typeMap, are rejected. Rules are ordered by attribute name because map
//	iteration order is unspecified.
//
// Inputs:
//   - typeMap: Attribute name to rule kind.
//   - tolerances: Attribute name to tolerance for continuous attributes.
//
// Outputs:
//   - *RuleSet: The rule set.
//   - error: *ConfigurationError on a missing or stray tolerance.
func RulesFromTypeMap(typeMap map[string]RuleKind, tolerances map[string]float64) (*RuleSet, error) {
	for attr := range tolerances {
		kind, ok := typeMap[attr]
		if !ok {
			return nil, &ConfigurationError{Reason: "tolerance given for an attribute that is not matched on", Attribute: attr}
		}
		if kind == Discrete {
			return nil, &ConfigurationError{Reason: "tolerance given for a discrete attribute", Attribute: attr}
		}
	}

	attrs := make([]string, 0, len(typeMap))
	for attr := range typeMap {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	rules := make([]Rule, 0, len(attrs))
	for _, attr := range attrs {
		kind := typeMap[attr]
		r := Rule{Attribute: attr, Kind: kind}
		if kind == Continuous {
			tol, ok := tolerances[attr]
			if !ok {
				return nil, &ConfigurationError{Reason: "no tolerance specified for continuous attribute", Attribute: attr}
			}
			r.Tolerance = tol
		}
		rules = append(rules, r)
	}
	return NewRuleSet(rules...)
}

// RulesFromCategories builds a RuleSet from a category list plus tolerances.
//
// Description:
//
//	This is the category-list configuration surface: a category is
//	Continuous if and only if it has an entry in tolerances, otherwise
//	Discrete. Rule order follows categories. A tolerance for a category
//	that is not listed is rejected.
func RulesFromCategories(categories []string, tolerances map[string]float64) (*RuleSet, error) {
	listed := make(map[string]bool, len(categories))
	for _, c := range categories {
		listed[strings.TrimSpace(c)] = true
	}
	for attr := range tolerances {
		if !listed[attr] {
			return nil, &ConfigurationError{Reason: "tolerance given for an attribute that is not matched on", Attribute: attr}
		}
	}

	rules := make([]Rule, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if tol, ok := tolerances[c]; ok {
			rules = append(rules, Rule{Attribute: c, Kind: Continuous, Tolerance: tol})
		} else {
			rules = append(rules, Rule{Attribute: c, Kind: Discrete})
		}
	}
	return NewRuleSet(rules...)
}

// ParseTolerance parses "<attribute>±<tolerance>" (or "<attribute>+-<tolerance>").
//
// Outputs:
//   - string: The attribute name.
//   - float64: The tolerance.
//   - error: *ConfigurationError on malformed input.
func ParseTolerance(spec string) (string, float64, error) {
	sep := "±"
	idx := strings.LastIndex(spec, sep)
	if idx < 0 {
		sep = "+-"
		idx = strings.LastIndex(spec, sep)
	}
	if idx < 0 {
		return "", 0, &ConfigurationError{Reason: fmt.Sprintf("tolerance %q must look like <attribute>±<tolerance>", spec)}
	}
	attr := strings.TrimSpace(spec[:idx])
	raw := strings.TrimSpace(spec[idx+len(sep):])
	if attr == "" {
		return "", 0, &ConfigurationError{Reason: fmt.Sprintf("tolerance %q has no attribute name", spec)}
	}
	tol, err := strconv.ParseFloat(raw, 64)
	if err != nil || tol < 0 || math.IsNaN(tol) || math.IsInf(tol, 0) {
		return "", 0, &ConfigurationError{Reason: fmt.Sprintf("tolerance %q is not a non-negative number", spec), Attribute: attr}
	}
	return attr, tol, nil
}

// ParseTolerances parses several tolerance specs into a map.
func ParseTolerances(specs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(specs))
	for _, s := range specs {
		attr, tol, err := ParseTolerance(s)
		if err != nil {
			return nil, err
		}
		if _, dup := out[attr]; dup {
			return nil, &ConfigurationError{Reason: "tolerance specified more than once", Attribute: attr}
		}
		out[attr] = tol
	}
	return out, nil
}

// Rules returns a copy of the rules in order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Attributes returns the attribute names in rule order.
func (rs *RuleSet) Attributes() []string {
	out := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.Attribute
	}
	return out
}

// Rule returns the rule for an attribute.
func (rs *RuleSet) Rule(attribute string) (Rule, bool) {
	for _, r := range rs.rules {
		if r.Attribute == attribute {
			return r, true
		}
	}
	return Rule{}, false
}

// Continuous returns the continuous attribute names in rule order.
func (rs *RuleSet) Continuous() []string {
	var out []string
	for _, r := range rs.rules {
		if r.Kind == Continuous {
			out = append(out, r.Attribute)
		}
	}
	return out
}

// String renders the rule set, e.g. "sex, age_years±5".
func (rs *RuleSet) String() string {
	parts := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes the rule set as a list of rules.
func (rs *RuleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.rules)
}

// UnmarshalJSON decodes and validates a list of rules.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return err
	}
	built, err := NewRuleSet(rules...)
	if err != nil {
		return err
	}
	*rs = *built
	return nil
}
