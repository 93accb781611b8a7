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
	"fmt"
	"log/slog"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

// sexAgeFixture is the two-case, three-control example used across tests:
// A matches only X, B matches nothing.
func sexAgeFixture(t *testing.T) (*RecordSet, *RecordSet, *RuleSet) {
	t.Helper()
	focus := MustRecordSet(
		Record{ID: "A", Attributes: map[string]any{"sex": "M", "age": 30}},
		Record{ID: "B", Attributes: map[string]any{"sex": "F", "age": 40}},
	)
	background := MustRecordSet(
		Record{ID: "X", Attributes: map[string]any{"sex": "M", "age": 32}},
		Record{ID: "Y", Attributes: map[string]any{"sex": "F", "age": 52}},
		Record{ID: "Z", Attributes: map[string]any{"sex": "M", "age": 50}},
	)
	rules, err := RulesFromTypeMap(
		map[string]RuleKind{"sex": Discrete, "age": Continuous},
		map[string]float64{"age": 5},
	)
	require.NoError(t, err)
	return focus, background, rules
}

// -----------------------------------------------------------------------------
// Match Tests
// -----------------------------------------------------------------------------

func TestMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("sex and age example", func(t *testing.T) {
		focus, background, rules := sexAgeFixture(t)

		m, err := Match(ctx, focus, background, rules)
		require.NoError(t, err)

		assert.Equal(t, []string{"A", "B"}, m.Cases())
		assert.Equal(t, map[string][]string{"A": {"X"}, "B": {}}, m.ToMap())
		assert.Equal(t, []string{"B"}, m.UnmatchedCases())
		assert.Equal(t, []string{"X"}, m.Controls())
		assert.Same(t, rules, m.Rules())
	})

	t.Run("tolerance boundary is inclusive", func(t *testing.T) {
		focus := MustRecordSet(Record{ID: "c", Attributes: map[string]any{"age": 40.0}})
		background := MustRecordSet(
			Record{ID: "in", Attributes: map[string]any{"age": 45.0}},
			Record{ID: "out", Attributes: map[string]any{"age": 45.5}},
		)
		rules, err := NewRuleSet(Rule{Attribute: "age", Kind: Continuous, Tolerance: 5})
		require.NoError(t, err)

		m, err := Match(ctx, focus, background, rules)
		require.NoError(t, err)
		ctrls, _ := m.Eligible("c")
		assert.Equal(t, []string{"in"}, ctrls)
	})

	t.Run("eligible controls keep background order", func(t *testing.T) {
		focus := MustRecordSet(Record{ID: "c", Attributes: map[string]any{"site": "north"}})
		background := MustRecordSet(
			Record{ID: "z", Attributes: map[string]any{"site": "north"}},
			Record{ID: "a", Attributes: map[string]any{"site": "south"}},
			Record{ID: "m", Attributes: map[string]any{"site": "north"}},
		)
		rules, err := NewRuleSet(Rule{Attribute: "site", Kind: Discrete})
		require.NoError(t, err)

		m, err := Match(ctx, focus, background, rules)
		require.NoError(t, err)
		ctrls, _ := m.Eligible("c")
		assert.Equal(t, []string{"z", "m"}, ctrls)
	})

	t.Run("numeric strings compare as numbers", func(t *testing.T) {
		focus := MustRecordSet(Record{ID: "c", Attributes: map[string]any{"age": "30"}})
		background := MustRecordSet(Record{ID: "k", Attributes: map[string]any{"age": "31.5"}})
		rules, err := NewRuleSet(Rule{Attribute: "age", Kind: Continuous, Tolerance: 2})
		require.NoError(t, err)

		m, err := Match(ctx, focus, background, rules)
		require.NoError(t, err)
		ctrls, _ := m.Eligible("c")
		assert.Equal(t, []string{"k"}, ctrls)
	})

	t.Run("overlapping identifiers", func(t *testing.T) {
		focus, _, rules := sexAgeFixture(t)
		background := MustRecordSet(Record{ID: "A", Attributes: map[string]any{"sex": "M", "age": 30}})

		_, err := Match(ctx, focus, background, rules)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, []string{"A"}, cfgErr.IDs)
	})

	t.Run("control with a missing value is not eligible", func(t *testing.T) {
		focus := MustRecordSet(Record{ID: "A", Attributes: map[string]any{"sex": "M", "age": 30}})
		background := MustRecordSet(
			Record{ID: "X", Attributes: map[string]any{"sex": "M", "age": 32}},
			Record{ID: "Y", Attributes: map[string]any{"sex": "M"}},
			Record{ID: "N", Attributes: map[string]any{"sex": "M", "age": math.NaN()}},
			Record{ID: "S", Attributes: map[string]any{"sex": "M", "age": "NaN"}},
		)
		_, _, rules := sexAgeFixture(t)

		m, err := Match(ctx, focus, background, rules)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"A": {"X"}}, m.ToMap())
	})

	t.Run("case with a missing value is unmatchable", func(t *testing.T) {
		focus := MustRecordSet(
			Record{ID: "A", Attributes: map[string]any{"sex": "M", "age": 30}},
			Record{ID: "B", Attributes: map[string]any{"age": 31}},
			Record{ID: "C", Attributes: map[string]any{"sex": "M", "age": math.NaN()}},
		)
		background := MustRecordSet(Record{ID: "X", Attributes: map[string]any{"sex": "M", "age": 32}})
		_, _, rules := sexAgeFixture(t)

		m, err := Match(ctx, focus, background, rules)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"A": {"X"}, "B": {}, "C": {}}, m.ToMap())
		assert.Equal(t, []string{"B", "C"}, m.UnmatchedCases())

		_, err = Match(ctx, focus, background, rules, WithOnFailure(OnFailureRaise))
		var nm *NoMatchesError
		require.ErrorAs(t, err, &nm)
		assert.Equal(t, "B", nm.Case)
	})

	t.Run("attribute missing from background", func(t *testing.T) {
		focus, _, rules := sexAgeFixture(t)
		background := MustRecordSet(Record{ID: "X", Attributes: map[string]any{"sex": "M"}})

		_, err := Match(ctx, focus, background, rules)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "age", cfgErr.Attribute)
		assert.Equal(t, []string{"X"}, cfgErr.IDs)
	})

	t.Run("non-numeric continuous value", func(t *testing.T) {
		focus, _, rules := sexAgeFixture(t)
		background := MustRecordSet(Record{ID: "X", Attributes: map[string]any{"sex": "M", "age": "unknown"}})

		_, err := Match(ctx, focus, background, rules)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("on-failure raise", func(t *testing.T) {
		focus, background, rules := sexAgeFixture(t)

		_, err := Match(ctx, focus, background, rules, WithOnFailure(OnFailureRaise))
		var nm *NoMatchesError
		require.ErrorAs(t, err, &nm)
		assert.Equal(t, "B", nm.Case)
		assert.ErrorIs(t, err, ErrNoMatches)
	})

	t.Run("on-failure warn logs the case", func(t *testing.T) {
		focus, background, rules := sexAgeFixture(t)
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		m, err := Match(ctx, focus, background, rules, WithOnFailure(OnFailureWarn), WithMatchLogger(logger))
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, m.UnmatchedCases())
		assert.Contains(t, buf.String(), "no matches found for case")
		assert.Contains(t, buf.String(), "case=B")
	})

	t.Run("disjoint discrete values warn", func(t *testing.T) {
		focus := MustRecordSet(Record{ID: "c", Attributes: map[string]any{"site": "north"}})
		background := MustRecordSet(Record{ID: "k", Attributes: map[string]any{"site": "south"}})
		rules, err := NewRuleSet(Rule{Attribute: "site", Kind: Discrete})
		require.NoError(t, err)
		var buf bytes.Buffer

		_, err = Match(ctx, focus, background, rules, WithMatchLogger(slog.New(slog.NewTextHandler(&buf, nil))))
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "attribute=site")
	})

	t.Run("counts cases", func(t *testing.T) {
		focus, background, rules := sexAgeFixture(t)
		before := testutil.ToFloat64(matchCasesTotal)
		beforeUnmatched := testutil.ToFloat64(matchUnmatchableTotal)

		_, err := Match(ctx, focus, background, rules)
		require.NoError(t, err)
		assert.Equal(t, before+2, testutil.ToFloat64(matchCasesTotal))
		assert.Equal(t, beforeUnmatched+1, testutil.ToFloat64(matchUnmatchableTotal))
	})
}

func TestParseOnFailure(t *testing.T) {
	for in, want := range map[string]OnFailure{"": OnFailureIgnore, "continue": OnFailureIgnore, "WARN": OnFailureWarn, "raise": OnFailureRaise} {
		got, err := ParseOnFailure(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOnFailure("explode")
	assert.ErrorIs(t, err, ErrConfiguration)
}

// -----------------------------------------------------------------------------
// Properties
// -----------------------------------------------------------------------------

// randomPopulation draws a focus and background over sex (discrete) and
// age (continuous).
func randomPopulation(rt *rapid.T) (*RecordSet, *RecordSet, *RuleSet) {
	sexes := []string{"M", "F", "U"}
	nFocus := rapid.IntRange(0, 8).Draw(rt, "nFocus")
	nBackground := rapid.IntRange(0, 15).Draw(rt, "nBackground")

	gen := func(prefix string, n int) *RecordSet {
		recs := make([]Record, n)
		for i := range recs {
			recs[i] = Record{ID: fmt.Sprintf("%s%d", prefix, i), Attributes: map[string]any{
				"sex": rapid.SampledFrom(sexes).Draw(rt, fmt.Sprintf("%s%d_sex", prefix, i)),
				"age": rapid.IntRange(18, 80).Draw(rt, fmt.Sprintf("%s%d_age", prefix, i)),
			}}
		}
		return MustRecordSet(recs...)
	}
	tol := float64(rapid.IntRange(0, 10).Draw(rt, "tol"))
	rules, err := NewRuleSet(Rule{Attribute: "sex", Kind: Discrete}, Rule{Attribute: "age", Kind: Continuous, Tolerance: tol})
	if err != nil {
		rt.Fatalf("rules: %v", err)
	}
	return gen("case", nFocus), gen("ctrl", nBackground), rules
}

func TestMatch_AgreesWithExhaustiveScan(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		focus, background, rules := randomPopulation(rt)
		age, _ := rules.Rule("age")

		m, err := Match(context.Background(), focus, background, rules)
		if err != nil {
			rt.Fatalf("match: %v", err)
		}

		for _, c := range focus.Records() {
			var want []string
			for _, k := range background.Records() {
				sameSex := c.Attributes["sex"] == k.Attributes["sex"]
				diff := math.Abs(float64(c.Attributes["age"].(int) - k.Attributes["age"].(int)))
				if sameSex && diff <= age.Tolerance {
					want = append(want, k.ID)
				}
			}
			got, ok := m.Eligible(c.ID)
			if !ok {
				rt.Fatalf("case %s missing from result", c.ID)
			}
			if fmt.Sprint(want) != fmt.Sprint(got) && !(len(want) == 0 && len(got) == 0) {
				rt.Fatalf("case %s: got %v, want %v", c.ID, got, want)
			}
		}
	})
}
