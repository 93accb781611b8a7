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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("qupid.casematch")

var (
	matchCasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qupid_match_cases_total",
		Help: "Cases processed by the criteria matcher",
	})

	matchUnmatchableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qupid_match_unmatchable_cases_total",
		Help: "Cases with no eligible control after matching",
	})

	sampleAssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qupid_sample_assignments_total",
		Help: "One-to-one assignments drawn by the sampler",
	})

	sampleUnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qupid_sample_unmatched_cases_total",
		Help: "Cases left without a control within a drawn assignment",
	})

	sampleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qupid_sample_duration_seconds",
		Help:    "Time to draw a full batch of assignments",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60},
	})
)

// startSpan opens a span for one engine operation.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
