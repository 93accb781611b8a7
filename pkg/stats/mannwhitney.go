// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// MannWhitneyResult holds the results of a Mann-Whitney U test.
type MannWhitneyResult struct {
	// U is the U statistic of samples1.
	U float64

	// Z is the continuity-corrected normal score of max(U1, U2).
	Z float64

	// PValue is the two-tailed p-value from the normal approximation.
	PValue float64
}

// MannWhitneyU performs the two-sided Mann-Whitney U (Wilcoxon rank-sum) test.
//
// Description:
//
//	Ranks the pooled samples with average ranks for ties. The p-value uses
//	the normal approximation with tie correction and a 0.5 continuity
//	correction.
//
//	The approximation is used at every sample size, with or without ties.
//	No exact permutation distribution is computed, so for small samples
//	the p-value differs from an exact test: {1,2,3} vs {4,5,6} gives
//	p ≈ 0.081 here where the exact two-sided p is 0.1.
//
// Inputs:
//   - samples1: First sample set. Must not be empty.
//   - samples2: Second sample set. Must not be empty.
//
// Outputs:
//   - *MannWhitneyResult: Test results.
//   - error: ErrInsufficientSamples, or ErrZeroVariance if every value is tied.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func MannWhitneyU(samples1, samples2 []float64) (*MannWhitneyResult, error) {
	if len(samples1) == 0 || len(samples2) == 0 {
		return nil, ErrInsufficientSamples
	}

	type obs struct {
		v     float64
		first bool
	}
	pooled := make([]obs, 0, len(samples1)+len(samples2))
	for _, v := range samples1 {
		pooled = append(pooled, obs{v, true})
	}
	for _, v := range samples2 {
		pooled = append(pooled, obs{v, false})
	}
	sort.SliceStable(pooled, func(i, j int) bool { return pooled[i].v < pooled[j].v })

	n := float64(len(pooled))
	var rankSum1, tieTerm float64
	for i := 0; i < len(pooled); {
		j := i
		for j+1 < len(pooled) && pooled[j+1].v == pooled[i].v {
			j++
		}
		rank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if pooled[k].first {
				rankSum1 += rank
			}
		}
		if t := float64(j - i + 1); t > 1 {
			tieTerm += t*t*t - t
		}
		i = j + 1
	}

	n1 := float64(len(samples1))
	n2 := float64(len(samples2))
	u1 := rankSum1 - n1*(n1+1)/2
	sigma := math.Sqrt(n1 * n2 / 12 * ((n + 1) - tieTerm/(n*(n-1))))
	if sigma == 0 || math.IsNaN(sigma) {
		return nil, ErrZeroVariance
	}

	uMax := math.Max(u1, n1*n2-u1)
	z := (uMax - n1*n2/2 - 0.5) / sigma
	return &MannWhitneyResult{
		U:      u1,
		Z:      z,
		PValue: math.Min(1, 2*distuv.UnitNormal.Survival(z)),
	}, nil
}
