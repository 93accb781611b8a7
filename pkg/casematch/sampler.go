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
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Sample draws iterations independent one-to-one assignments from m.
//
// Description:
//
//	Each draw starts with every control unclaimed. Cases are visited in a
//	fixed order (input order, or fewest-eligible-first with WithOrder); each
//	case takes a uniformly random control among its still-unclaimed
//	eligible controls. A case whose eligible controls are all claimed is
//	left unmatched in that draw.
//
//	The construction is greedy: it always yields a valid assignment but not
//	necessarily a maximum one, and earlier-visited cases are favoured when
//	controls are scarce. Draws that fall short of MaxMatchSize are logged at
//	debug level.
//
//	Draw i uses its own generator seeded from (batch seed, i), so the batch
//	is reproducible from the seed regardless of WithWorkers.
//
// Inputs:
//   - ctx: Cancels outstanding draws.
//   - m: Source structure.
//   - iterations: Number of draws. Must be >= 1.
//   - opts: WithSeed, WithWorkers, WithOrder, WithStrict, WithSampleLogger.
//
// Outputs:
//   - *Collection: Exactly iterations assignments in draw order.
//   - error: *ConfigurationError for iterations < 1; *ExhaustedControlsError
//     under WithStrict for the lowest draw that strands a case with a
//     non-empty eligible set; ctx.Err() on cancellation. Cases with no
//     eligible controls never fail a strict draw.
//
// Thread Safety: Safe for concurrent use; no generator state is shared.
func Sample(ctx context.Context, m *OneToMany, iterations int, opts ...SampleOption) (*Collection, error) {
	cfg := sampleConfig{workers: 1, logger: discardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if iterations < 1 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("iterations must be at least 1, got %d", iterations)}
	}
	if cfg.workers < 1 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	if !cfg.seeded {
		cfg.seed = rand.Uint64()
	}

	ctx, span := startSpan(ctx, "casematch.Sample",
		attribute.Int("casematch.iterations", iterations),
		attribute.Int("casematch.cases", m.Len()),
		attribute.Int("casematch.workers", cfg.workers),
		attribute.String("casematch.order", cfg.order.String()),
	)
	defer span.End()
	start := time.Now()

	order := visitOrder(m, cfg.order)
	best := m.MaxMatchSize()

	matches := make([]*OneToOne, iterations)
	unmatched := make([][]string, iterations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i := 0; i < iterations; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(cfg.seed, uint64(i)))
			matches[i], unmatched[i] = draw(m, order, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for i, left := range unmatched {
		if len(left) == 0 {
			continue
		}
		if stranded := m.matchable(left); cfg.strict && len(stranded) > 0 {
			err := &ExhaustedControlsError{Iteration: i, Remaining: stranded}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		sampleUnmatchedTotal.Add(float64(len(left)))
		if matches[i].Len() < best {
			cfg.logger.Debug("draw is smaller than the maximum matching",
				"iteration", i, "matched", matches[i].Len(), "maximum", best)
		}
	}
	sampleAssignmentsTotal.Add(float64(iterations))
	sampleDuration.Observe(time.Since(start).Seconds())

	cfg.logger.Info("sampled one-to-one assignments",
		"iterations", iterations,
		"cases", m.Len(),
		"seed", cfg.seed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Collection{cases: m.Cases(), matches: matches, seed: cfg.seed, seeded: true}, nil
}

// matchable keeps the cases that have at least one eligible control.
func (m *OneToMany) matchable(cases []string) []string {
	var out []string
	for _, c := range cases {
		if len(m.eligible[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// visitOrder returns the case order for every draw.
func visitOrder(m *OneToMany, order CaseOrder) []string {
	cases := m.Cases()
	if order == OrderFewestFirst {
		sort.SliceStable(cases, func(a, b int) bool {
			return len(m.eligible[cases[a]]) < len(m.eligible[cases[b]])
		})
	}
	return cases
}

// draw builds one assignment and returns it with the cases it left unmatched
// (in m's case order).
func draw(m *OneToMany, order []string, rng *rand.Rand) (*OneToOne, []string) {
	claimed := make(map[string]bool)
	assign := make(map[string]string, len(order))
	var open []string
	for _, c := range order {
		open = open[:0]
		for _, ctrl := range m.eligible[c] {
			if !claimed[ctrl] {
				open = append(open, ctrl)
			}
		}
		if len(open) == 0 {
			continue
		}
		pick := open[rng.IntN(len(open))]
		claimed[pick] = true
		assign[c] = pick
	}

	var left []string
	for _, c := range m.cases {
		if _, ok := assign[c]; !ok {
			left = append(left, c)
		}
	}
	return &OneToOne{cases: m.Cases(), assign: assign}, left
}
