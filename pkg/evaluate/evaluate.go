// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluate scores every assignment in a match collection with a
// two-group test and ranks the results.
package evaluate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/gibsramen/qupid/pkg/casematch"
	"github.com/gibsramen/qupid/pkg/stats"
)

// DefaultPermutations is the PERMANOVA permutation count when none is given.
const DefaultPermutations = 999

// Group labels used for multivariate tests.
const (
	CaseGroup    = "case"
	ControlGroup = "control"
)

// Kind selects univariate or multivariate evaluation.
type Kind int

const (
	// Univariate compares one scalar measurement between groups.
	Univariate Kind = iota + 1

	// Multivariate compares groups in a distance space (PERMANOVA).
	Multivariate
)

// String returns "univariate" or "multivariate".
func (k Kind) String() string {
	switch k {
	case Univariate:
		return "univariate"
	case Multivariate:
		return "multivariate"
	default:
		return "unknown"
	}
}

// UnivariateTest selects the two-sample test for univariate evaluation.
type UnivariateTest int

const (
	// StudentT is the pooled-variance t-test.
	StudentT UnivariateTest = iota

	// WelchT is Welch's unequal-variance t-test.
	WelchT

	// MannWhitney is the Mann-Whitney U test.
	MannWhitney
)

// String returns the method name written into results.
func (u UnivariateTest) String() string {
	switch u {
	case WelchT:
		return "welch"
	case MannWhitney:
		return "mann-whitney"
	default:
		return "t-test"
	}
}

// ParseUnivariateTest parses "t"/"t-test"/"student", "welch", or "mann-whitney".
func ParseUnivariateTest(s string) (UnivariateTest, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "t", "t-test", "ttest", "student":
		return StudentT, nil
	case "welch":
		return WelchT, nil
	case "mann-whitney", "mannwhitney", "mwu", "u":
		return MannWhitney, nil
	default:
		return 0, &casematch.ConfigurationError{Reason: fmt.Sprintf("unknown univariate test %q", s)}
	}
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

type config struct {
	workers      int
	permutations int
	seed         uint64
	seeded       bool
	test         UnivariateTest
	logger       *slog.Logger
}

// Option configures a bulk evaluation.
type Option func(*config)

// WithWorkers runs tests on n goroutines. Results do not depend on n.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithPermutations sets the PERMANOVA permutation count. Default 999.
func WithPermutations(n int) Option {
	return func(c *config) { c.permutations = n }
}

// WithSeed makes PERMANOVA p-values reproducible.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
		c.seeded = true
	}
}

// WithTest selects the univariate test. Default StudentT.
func WithTest(t UnivariateTest) Option {
	return func(c *config) { c.test = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		workers:      1,
		permutations: DefaultPermutations,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	if !cfg.seeded {
		cfg.seed = rand.Uint64()
	}
	return cfg
}

// -----------------------------------------------------------------------------
// Entry points
// -----------------------------------------------------------------------------

// Input carries the measurement source for BulkTest. Values is used for
// Univariate, Distances for Multivariate.
type Input struct {
	Values    map[string]float64
	Distances *stats.DistanceMatrix
}

// BulkTest dispatches to BulkUnivariate or BulkPermanova.
func BulkTest(ctx context.Context, coll *casematch.Collection, kind Kind, in Input, opts ...Option) (Results, error) {
	switch kind {
	case Univariate:
		if in.Values == nil {
			return nil, &casematch.ConfigurationError{Reason: "univariate evaluation needs values"}
		}
		return BulkUnivariate(ctx, coll, in.Values, opts...)
	case Multivariate:
		if in.Distances == nil {
			return nil, &casematch.ConfigurationError{Reason: "multivariate evaluation needs a distance matrix"}
		}
		return BulkPermanova(ctx, coll, in.Distances, opts...)
	default:
		return nil, &casematch.ConfigurationError{Reason: fmt.Sprintf("unknown evaluation kind %d", int(kind))}
	}
}

// BulkUnivariate runs a two-sample test on every assignment in coll.
//
// Description:
//
//	For assignment i the case group holds the values of the cases matched
//	in that assignment and the control group the values of their
//	controls. Unmatched cases are left out, so the group sizes always sum
//	to the assignment's matched cases plus matched controls.
//
//	An assignment whose test cannot be computed (too few pairs, zero
//	variance) yields a row with NaN statistic and p-value and a warning;
//	the batch is not aborted.
//
// Inputs:
//   - ctx: Cancels outstanding tests.
//   - coll: The assignments.
//   - values: Measurement per identifier. Must cover every case and every
//     assigned control.
//   - opts: WithTest, WithWorkers, WithLogger.
//
// Outputs:
//   - Results: One row per assignment, sorted by descending statistic.
//   - error: *casematch.DataCoverageError before any test runs if values
//     lack an identifier.
//
// Thread Safety: Safe for concurrent use.
func BulkUnivariate(ctx context.Context, coll *casematch.Collection, values map[string]float64, opts ...Option) (Results, error) {
	cfg := newConfig(opts)
	if missing := missingValues(coll, values); len(missing) > 0 {
		return nil, &casematch.DataCoverageError{Source: "values", Missing: missing}
	}

	method := cfg.test.String()
	return run(ctx, coll, cfg, method, func(i int, m *casematch.OneToOne) Result {
		return univariate(i, m, values, cfg.test)
	})
}

// BulkPermanova runs PERMANOVA on every assignment in coll.
//
// Description:
//
//	Assignment i is tested on the sub-matrix of its matched cases and
//	controls, labelled CaseGroup and ControlGroup. Permutations for
//	assignment i are drawn from a generator seeded with (seed, i), so the
//	p-values are reproducible from WithSeed regardless of WithWorkers.
//
// Outputs:
//   - Results: One row per assignment, sorted by descending pseudo-F.
//   - error: *casematch.DataCoverageError if dm lacks an identifier;
//     *casematch.ConfigurationError for negative permutations.
func BulkPermanova(ctx context.Context, coll *casematch.Collection, dm *stats.DistanceMatrix, opts ...Option) (Results, error) {
	cfg := newConfig(opts)
	if cfg.permutations < 0 {
		return nil, &casematch.ConfigurationError{Reason: fmt.Sprintf("permutations must be non-negative, got %d", cfg.permutations)}
	}
	if missing := dm.Missing(coll.IDs()); len(missing) > 0 {
		sort.Strings(missing)
		return nil, &casematch.DataCoverageError{Source: "distance matrix", Missing: missing}
	}

	return run(ctx, coll, cfg, "permanova", func(i int, m *casematch.OneToOne) Result {
		rng := rand.New(rand.NewPCG(cfg.seed, uint64(i)))
		return permanova(i, m, dm, cfg.permutations, rng)
	})
}

// run evaluates every assignment on the worker pool and ranks the rows.
func run(ctx context.Context, coll *casematch.Collection, cfg config, method string, test func(int, *casematch.OneToOne) Result) (Results, error) {
	ctx, span := tracer.Start(ctx, "evaluate.Bulk",
		traceAttrs(method, coll.Len(), cfg.workers)...)
	defer span.End()
	start := time.Now()

	results := make(Results, coll.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i := 0; i < coll.Len(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = test(i, coll.At(i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	failed := 0
	for _, r := range results {
		bulkTestsTotal.WithLabelValues(method).Inc()
		if r.Err != nil {
			failed++
			bulkTestFailuresTotal.WithLabelValues(method).Inc()
			cfg.logger.Warn("assignment could not be tested",
				"iteration", r.Iteration, "method", method, "error", r.Err)
		}
	}
	results.Sort()
	span.SetAttributes(attribute.Int("evaluate.failed", failed))

	cfg.logger.Info("bulk evaluation complete",
		"method", method,
		"assignments", len(results),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// missingValues lists collection identifiers without a value, sorted.
func missingValues(coll *casematch.Collection, values map[string]float64) []string {
	var missing []string
	for _, id := range coll.IDs() {
		if _, ok := values[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// -----------------------------------------------------------------------------
// Per-assignment tests
// -----------------------------------------------------------------------------

func univariate(i int, m *casematch.OneToOne, values map[string]float64, test UnivariateTest) Result {
	cases := m.MatchedCases()
	controls := m.Controls()
	caseVals := make([]float64, len(cases))
	for k, id := range cases {
		caseVals[k] = values[id]
	}
	ctrlVals := make([]float64, len(controls))
	for k, id := range controls {
		ctrlVals[k] = values[id]
	}

	r := Result{
		Iteration:    i,
		Method:       test.String(),
		SampleSize:   len(cases) + len(controls),
		Groups:       2,
		CaseCount:    len(cases),
		ControlCount: len(controls),
		Statistic:    math.NaN(),
		PValue:       math.NaN(),
		EffectSize:   math.NaN(),
	}

	switch test {
	case MannWhitney:
		r.StatisticName = "U"
		res, err := stats.MannWhitneyU(caseVals, ctrlVals)
		if err != nil {
			r.Err = err
			return r
		}
		r.Statistic, r.PValue = res.U, res.PValue
	default:
		r.StatisticName = "t"
		ttest := stats.StudentTTest
		if test == WelchT {
			ttest = stats.WelchTTest
		}
		res, err := ttest(caseVals, ctrlVals)
		if err != nil {
			r.Err = err
			return r
		}
		r.Statistic, r.PValue = res.TStatistic, res.PValue
	}

	if d, err := stats.EffectSize(caseVals, ctrlVals); err == nil {
		r.EffectSize = d
	}
	return r
}

func permanova(i int, m *casematch.OneToOne, dm *stats.DistanceMatrix, permutations int, rng *rand.Rand) Result {
	cases := m.MatchedCases()
	controls := m.Controls()
	r := Result{
		Iteration:     i,
		Method:        "permanova",
		StatisticName: "pseudo-F",
		SampleSize:    len(cases) + len(controls),
		Groups:        2,
		CaseCount:     len(cases),
		ControlCount:  len(controls),
		Statistic:     math.NaN(),
		PValue:        math.NaN(),
		EffectSize:    math.NaN(),
		Permutations:  permutations,
	}

	ids := append(append([]string(nil), cases...), controls...)
	grouping := make([]string, 0, len(ids))
	for range cases {
		grouping = append(grouping, CaseGroup)
	}
	for range controls {
		grouping = append(grouping, ControlGroup)
	}
	if len(cases) == 0 {
		r.Err = stats.ErrInsufficientSamples
		return r
	}

	sub, err := dm.Filter(ids)
	if err != nil {
		r.Err = err
		return r
	}
	res, err := stats.Permanova(sub, grouping, permutations, rng)
	if err != nil {
		r.Err = err
		return r
	}
	r.Statistic, r.PValue = res.PseudoF, res.PValue
	return r
}
