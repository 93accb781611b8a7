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
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// OnFailure decides what the matcher does with a case that has no eligible control.
type OnFailure int

const (
	// OnFailureIgnore keeps the case with an empty eligible set.
	OnFailureIgnore OnFailure = iota

	// OnFailureWarn keeps the case and logs a warning.
	OnFailureWarn

	// OnFailureRaise returns *NoMatchesError for the first such case.
	OnFailureRaise
)

// String returns "ignore", "warn", or "raise".
func (o OnFailure) String() string {
	switch o {
	case OnFailureWarn:
		return "warn"
	case OnFailureRaise:
		return "raise"
	default:
		return "ignore"
	}
}

// ParseOnFailure parses "ignore" (alias "continue"), "warn", or "raise".
func ParseOnFailure(s string) (OnFailure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore", "continue":
		return OnFailureIgnore, nil
	case "warn":
		return OnFailureWarn, nil
	case "raise":
		return OnFailureRaise, nil
	default:
		return 0, &ConfigurationError{Reason: fmt.Sprintf("on-failure must be one of ignore, warn, raise; got %q", s)}
	}
}

// CaseOrder is the order in which the sampler visits cases within one draw.
type CaseOrder int

const (
	// OrderInput visits cases in focus input order.
	OrderInput CaseOrder = iota

	// OrderFewestFirst visits cases by ascending eligible-set size, ties in
	// input order. Scarce cases claim controls before well-supplied ones.
	OrderFewestFirst
)

// String returns "input" or "fewest-first".
func (o CaseOrder) String() string {
	if o == OrderFewestFirst {
		return "fewest-first"
	}
	return "input"
}

// ParseCaseOrder parses "input" or "fewest-first".
func ParseCaseOrder(s string) (CaseOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "input":
		return OrderInput, nil
	case "fewest-first", "fewest_first", "greedy":
		return OrderFewestFirst, nil
	default:
		return 0, &ConfigurationError{Reason: fmt.Sprintf("case order must be 'input' or 'fewest-first', got %q", s)}
	}
}

// -----------------------------------------------------------------------------
// Matcher options
// -----------------------------------------------------------------------------

type matchConfig struct {
	onFailure OnFailure
	logger    *slog.Logger
}

// MatchOption configures Match.
type MatchOption func(*matchConfig)

// WithOnFailure sets the unmatchable-case policy. Default OnFailureIgnore.
func WithOnFailure(o OnFailure) MatchOption {
	return func(c *matchConfig) { c.onFailure = o }
}

// WithMatchLogger sets the matcher's logger.
func WithMatchLogger(l *slog.Logger) MatchOption {
	return func(c *matchConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// -----------------------------------------------------------------------------
// Sampler options
// -----------------------------------------------------------------------------

type sampleConfig struct {
	seed    uint64
	seeded  bool
	workers int
	order   CaseOrder
	strict  bool
	logger  *slog.Logger
}

// SampleOption configures Sample.
type SampleOption func(*sampleConfig)

// WithSeed makes a batch reproducible. Without it a fresh seed is drawn and
// recorded on the returned Collection.
func WithSeed(seed uint64) SampleOption {
	return func(c *sampleConfig) {
		c.seed = seed
		c.seeded = true
	}
}

// WithWorkers draws assignments on n goroutines. Results do not depend on n.
func WithWorkers(n int) SampleOption {
	return func(c *sampleConfig) { c.workers = n }
}

// WithOrder sets the per-draw case visiting order. Default OrderInput.
func WithOrder(o CaseOrder) SampleOption {
	return func(c *sampleConfig) { c.order = o }
}

// WithStrict makes any draw that leaves a matchable case unmatched fail
// with *ExhaustedControlsError. A case is matchable when its eligible set
// is non-empty.
func WithStrict(strict bool) SampleOption {
	return func(c *sampleConfig) { c.strict = strict }
}

// WithSampleLogger sets the sampler's logger.
func WithSampleLogger(l *slog.Logger) SampleOption {
	return func(c *sampleConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// discardLogger is the default for library code.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
