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
	"errors"
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrConfiguration indicates invalid matching input: missing attributes,
	// missing tolerances, or overlapping focus/background identifiers.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataCoverage indicates measurement or distance data is missing an
	// identifier that a match collection references.
	ErrDataCoverage = errors.New("data coverage error")

	// ErrNotOneToOne indicates a mapping that assigns a case to zero or
	// several controls, or reuses a control.
	ErrNotOneToOne = errors.New("mapping is not one-to-one")

	// ErrNoMatches indicates a case with no eligible controls under the
	// raise on-failure policy.
	ErrNoMatches = errors.New("no valid matches")

	// ErrExhaustedControls indicates a strict draw that could not give every
	// case a control.
	ErrExhaustedControls = errors.New("prematurely exhausted all matching controls")
)

// -----------------------------------------------------------------------------
// Typed Errors
// -----------------------------------------------------------------------------

// ConfigurationError describes why a matching request is invalid.
//
// It unwraps to ErrConfiguration.
type ConfigurationError struct {
	// Reason is a short human-readable explanation.
	Reason string

	// Attribute is the offending attribute, if any.
	Attribute string

	// IDs lists offending sample identifiers, if any.
	IDs []string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error: ")
	b.WriteString(e.Reason)
	if e.Attribute != "" {
		fmt.Fprintf(&b, " (attribute %q)", e.Attribute)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, ": %s", formatIDs(e.IDs))
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DataCoverageError lists identifiers missing from a value or distance source.
//
// It unwraps to ErrDataCoverage.
type DataCoverageError struct {
	// Source names the data that lacks the identifiers ("values", "distance matrix", "metadata").
	Source string

	// Missing holds the uncovered identifiers, sorted.
	Missing []string
}

func (e *DataCoverageError) Error() string {
	return fmt.Sprintf("data coverage error: %d identifier(s) missing from %s: %s",
		len(e.Missing), e.Source, formatIDs(e.Missing))
}

func (e *DataCoverageError) Unwrap() error { return ErrDataCoverage }

// NotOneToOneError lists cases whose mapping is not exactly one control.
type NotOneToOneError struct {
	Cases []string
}

func (e *NotOneToOneError) Error() string {
	return fmt.Sprintf("the following cases are not one-to-one: %s", formatIDs(e.Cases))
}

func (e *NotOneToOneError) Unwrap() error { return ErrNotOneToOne }

// NoMatchesError names a case that has no eligible control.
type NoMatchesError struct {
	Case string
}

func (e *NoMatchesError) Error() string {
	return fmt.Sprintf("no valid matches found for sample %s", e.Case)
}

func (e *NoMatchesError) Unwrap() error { return ErrNoMatches }

// ExhaustedControlsError reports the cases a strict draw left unmatched.
type ExhaustedControlsError struct {
	Iteration int
	Remaining []string
}

func (e *ExhaustedControlsError) Error() string {
	return fmt.Sprintf("iteration %d: prematurely exhausted all matching controls; remaining cases: %s",
		e.Iteration, formatIDs(e.Remaining))
}

func (e *ExhaustedControlsError) Unwrap() error { return ErrExhaustedControls }

// formatIDs renders at most ten identifiers.
func formatIDs(ids []string) string {
	const limit = 10
	if len(ids) <= limit {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s, ... (%d more)", strings.Join(ids[:limit], ", "), len(ids)-limit)
}
