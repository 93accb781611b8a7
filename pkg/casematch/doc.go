// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package casematch builds case-control matchings for observational studies.
//
// The flow is:
//
//	focus, background RecordSets + RuleSet
//	    -> Match       -> *OneToMany  (case -> all eligible controls)
//	    -> Sample      -> *Collection (N independent one-to-one assignments)
//
// A RuleSet is a conjunction of per-attribute rules. Discrete rules require
// equal values; Continuous rules require |case - control| <= tolerance.
//
// Unmatchable cases are data, not errors: a case with no eligible control
// keeps an empty set in the OneToMany, and a case whose controls were all
// claimed earlier in a draw is absent from that OneToOne. Errors are reserved
// for bad input (ErrConfiguration), incomplete measurement data
// (ErrDataCoverage), malformed assignments (ErrNotOneToOne), and the opt-in
// strict modes (ErrNoMatches, ErrExhaustedControls).
//
// Sampling is reproducible from a seed. Each draw seeds its own PCG
// generator from the batch seed and its iteration index, so the output does
// not depend on how many workers draw in parallel.
package casematch
