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
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// keySep joins discrete values into one bucket key. It cannot appear in
// metadata read from TSV.
const keySep = "\x1f"

// coerced holds one record's attribute values after rule-driven coercion.
type coerced struct {
	id       string
	key      string
	numerics []float64

	// incomplete records lack a value for some rule attribute and can
	// never satisfy the rule set.
	incomplete bool
}

// Match finds, for every case, all background records that satisfy rules.
//
// Description:
//
//	A control is eligible for a case iff every Discrete attribute is
//	exactly equal and every Continuous attribute differs by at most its
//	tolerance. Background records are bucketed by their joined discrete
//	values, so each case scans only the controls that already agree on
//	every discrete attribute; the result is identical to an exhaustive
//	scan. Eligible controls keep background input order.
//
//	A case with no eligible control is kept with an empty set (or, under
//	OnFailureRaise, reported as *NoMatchesError).
//
//	A record with no value or NaN for a rule attribute satisfies no rule:
//	such a control is never eligible and such a case is unmatchable.
//
// Inputs:
//   - ctx: Used for tracing only.
//   - focus: Cases.
//   - background: Candidate controls. Must be disjoint from focus.
//   - rules: The compound matching rule.
//   - opts: WithOnFailure, WithMatchLogger.
//
// Outputs:
//   - *OneToMany: The case -> eligible controls structure.
//   - error: *ConfigurationError on overlapping identifiers, an attribute
//     absent from every record of focus or background, or a non-numeric
//     continuous value.
//
// Thread Safety: Pure function of its inputs; safe for concurrent use.
func Match(ctx context.Context, focus, background *RecordSet, rules *RuleSet, opts ...MatchOption) (*OneToMany, error) {
	cfg := matchConfig{logger: discardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	_, span := startSpan(ctx, "casematch.Match",
		attribute.Int("casematch.focus", focus.Len()),
		attribute.Int("casematch.background", background.Len()),
		attribute.String("casematch.rules", rules.String()),
	)
	defer span.End()

	m, err := match(focus, background, rules, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("casematch.unmatchable", len(m.UnmatchedCases())))
	return m, nil
}

func match(focus, background *RecordSet, rules *RuleSet, cfg matchConfig) (*OneToMany, error) {
	if rules == nil || rules.Len() == 0 {
		return nil, &ConfigurationError{Reason: "at least one matching rule is required"}
	}
	if shared := sharedIDs(focus, background); len(shared) > 0 {
		return nil, &ConfigurationError{Reason: "focus and background share identifiers", IDs: shared}
	}

	cases, err := coerceAll(focus, rules, "focus")
	if err != nil {
		return nil, err
	}
	controls, err := coerceAll(background, rules, "background")
	if err != nil {
		return nil, err
	}
	warnDisjointValues(cases, controls, rules, cfg)

	buckets := make(map[string][]int)
	for i, c := range controls {
		if c.incomplete {
			continue
		}
		buckets[c.key] = append(buckets[c.key], i)
	}

	continuous := continuousRules(rules)
	order := make([]string, len(cases))
	eligible := make(map[string][]string, len(cases))
	for i, c := range cases {
		order[i] = c.id
		var hits []string
		if c.incomplete {
			cfg.logger.Debug("case has a missing rule attribute value", "case", c.id)
		}
		for _, j := range bucketsFor(buckets, c) {
			if withinAll(continuous, c.numerics, controls[j].numerics) {
				hits = append(hits, controls[j].id)
			}
		}
		eligible[c.id] = hits

		if len(hits) == 0 {
			matchUnmatchableTotal.Inc()
			switch cfg.onFailure {
			case OnFailureRaise:
				return nil, &NoMatchesError{Case: c.id}
			case OnFailureWarn:
				cfg.logger.Warn("no matches found for case", "case", c.id)
			}
		}
	}
	matchCasesTotal.Add(float64(len(cases)))

	return newOneToMany(order, eligible, rules), nil
}

// coerceAll converts every record's rule attributes ahead of the scan.
//
// A record with no value (or NaN) for a rule attribute is marked
// incomplete. Only an attribute that no record in the set carries is a
// configuration error.
func coerceAll(rs *RecordSet, rules *RuleSet, side string) ([]coerced, error) {
	out := make([]coerced, 0, rs.Len())
	present := make(map[string]bool, rules.Len())
	missing := make(map[string][]string)
	for _, rec := range rs.records {
		c := coerced{id: rec.ID}
		var keys []string
		for _, r := range rules.rules {
			v, ok := rec.Attributes[r.Attribute]
			if !ok || v == nil {
				missing[r.Attribute] = append(missing[r.Attribute], rec.ID)
				c.incomplete = true
				continue
			}
			present[r.Attribute] = true
			switch r.Kind {
			case Discrete:
				k, err := discreteKey(v)
				if err != nil {
					return nil, &ConfigurationError{Reason: side + " value cannot be compared: " + err.Error(), Attribute: r.Attribute, IDs: []string{rec.ID}}
				}
				keys = append(keys, k)
			case Continuous:
				f, err := continuousValue(v)
				if errors.Is(err, errMissingValue) {
					c.incomplete = true
					continue
				}
				if err != nil {
					return nil, &ConfigurationError{Reason: side + " value is not numeric: " + err.Error(), Attribute: r.Attribute, IDs: []string{rec.ID}}
				}
				c.numerics = append(c.numerics, f)
			}
		}
		c.key = strings.Join(keys, keySep)
		out = append(out, c)
	}
	if rs.Len() == 0 {
		return out, nil
	}
	for _, r := range rules.rules {
		if !present[r.Attribute] {
			return nil, &ConfigurationError{Reason: "attribute missing from " + side, Attribute: r.Attribute, IDs: missing[r.Attribute]}
		}
	}
	return out, nil
}

// bucketsFor returns the candidate controls for a case.
func bucketsFor(buckets map[string][]int, c coerced) []int {
	if c.incomplete {
		return nil
	}
	return buckets[c.key]
}

func continuousRules(rules *RuleSet) []Rule {
	var out []Rule
	for _, r := range rules.rules {
		if r.Kind == Continuous {
			out = append(out, r)
		}
	}
	return out
}

func withinAll(rules []Rule, caseVals, ctrlVals []float64) bool {
	for i, r := range rules {
		if !r.within(caseVals[i], ctrlVals[i]) {
			return false
		}
	}
	return true
}

// warnDisjointValues logs when a discrete attribute shares no value at all
// between focus and background; every case will then be unmatchable.
func warnDisjointValues(cases, controls []coerced, rules *RuleSet, cfg matchConfig) {
	if len(cases) == 0 || len(controls) == 0 {
		return
	}
	pos := 0
	for _, r := range rules.rules {
		if r.Kind != Discrete {
			continue
		}
		seen := make(map[string]bool)
		for _, c := range controls {
			if !c.incomplete {
				seen[strings.Split(c.key, keySep)[pos]] = true
			}
		}
		overlap := false
		for _, c := range cases {
			if !c.incomplete && seen[strings.Split(c.key, keySep)[pos]] {
				overlap = true
				break
			}
		}
		if !overlap {
			cfg.logger.Warn("no overlap in discrete attribute values between focus and background",
				"attribute", r.Attribute)
		}
		pos++
	}
}
