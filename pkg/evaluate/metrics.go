// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("qupid.evaluate")

var (
	bulkTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qupid_bulk_tests_total",
		Help: "Per-assignment statistical tests run",
	}, []string{"method"})

	bulkTestFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qupid_bulk_test_failures_total",
		Help: "Per-assignment statistical tests that could not be computed",
	}, []string{"method"})
)

func traceAttrs(method string, assignments, workers int) []trace.SpanStartOption {
	return []trace.SpanStartOption{trace.WithAttributes(
		attribute.String("evaluate.method", method),
		attribute.Int("evaluate.assignments", assignments),
		attribute.Int("evaluate.workers", workers),
	)}
}
