// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs process-wide tracing and dumps metrics.
//
// Library packages create spans through otel.Tracer and record counters on
// the default Prometheus registry. Without Init the global tracer provider
// is a no-op and metrics stay in memory. Init installs a span exporter and
// arranges for the registry to be written to a text file on shutdown, in
// the node-exporter textfile format.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned when Init is called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported TraceExporter value.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string

	// ServiceVersion is the version string attached to spans.
	ServiceVersion string

	// TraceExporter is "stdout" or "none".
	TraceExporter string

	// TraceWriter receives exported spans. Default: os.Stderr.
	TraceWriter io.Writer

	// PrettyPrint indents exported spans.
	PrettyPrint bool

	// MetricsFile, when set, receives the default registry on shutdown.
	MetricsFile string
}

// DefaultConfig returns a configuration with tracing disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "qupid",
		ServiceVersion: "dev",
		TraceExporter:  "none",
	}
}

// Init installs the configured tracer provider.
//
// Description:
//
//	With TraceExporter "stdout" a batching sdktrace provider exporting to
//	TraceWriter becomes the global provider. The returned shutdown flushes
//	pending spans and, if MetricsFile is set, writes the default Prometheus
//	gatherer to it.
//
// Inputs:
//   - ctx: Must not be nil.
//   - cfg: Telemetry configuration.
//
// Outputs:
//   - shutdown: Must be called before exit. Safe to call once.
//   - error: ErrNilContext, or ErrUnknownExporter wrapped with the value.
//
// Thread Safety: Call once at process startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	switch cfg.TraceExporter {
	case "", "none":
	case "stdout":
		tp, err := newTracerProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	if cfg.MetricsFile != "" {
		path := cfg.MetricsFile
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
			return WriteMetrics(path, prometheus.DefaultGatherer)
		})
	}

	return shutdown, nil
}

func newTracerProvider(cfg Config) (*sdktrace.TracerProvider, error) {
	w := cfg.TraceWriter
	if w == nil {
		w = os.Stderr
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// WriteMetrics writes every metric family from g to path in the Prometheus
// text format. The file is replaced atomically.
func WriteMetrics(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
