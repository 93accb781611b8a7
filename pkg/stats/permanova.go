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
	"fmt"
	"math"
	"math/rand/v2"
)

// PermanovaResult holds the results of a PERMANOVA test.
type PermanovaResult struct {
	// PseudoF is the observed pseudo-F statistic.
	PseudoF float64

	// PValue is (#{F_perm >= F} + 1) / (permutations + 1), or NaN when no
	// permutations were run.
	PValue float64

	// SampleSize is the number of objects tested.
	SampleSize int

	// Groups is the number of distinct group labels.
	Groups int

	// Permutations is the number of label permutations evaluated.
	Permutations int
}

// Permanova tests whether group centroids differ in the space of dm.
//
// Description:
//
//	Anderson's permutational MANOVA. With N objects, g groups, s_T the sum
//	of squared distances over all pairs divided by N, and s_W the sum over
//	groups of within-group squared distances divided by the group size:
//
//	  F = ((s_T - s_W) / (g - 1)) / (s_W / (N - g))
//
//	The null distribution is built by shuffling group labels. Only s_W
//	changes under a shuffle, so s_T is computed once.
//
// Inputs:
//   - dm: Distances between the objects.
//   - grouping: Group label per object, aligned with dm.IDs().
//   - permutations: Number of label shuffles. Zero skips the p-value.
//   - rng: Source of the shuffles. Not shared across goroutines.
//
// Outputs:
//   - *PermanovaResult: Test results.
//   - error: ErrInsufficientSamples unless 2 <= g < N; ErrZeroVariance when
//     every within-group distance is zero.
//
// Thread Safety: Safe for concurrent use with distinct rng values.
func Permanova(dm *DistanceMatrix, grouping []string, permutations int, rng *rand.Rand) (*PermanovaResult, error) {
	n := dm.Len()
	if len(grouping) != n {
		return nil, fmt.Errorf("grouping has %d labels for %d objects", len(grouping), n)
	}
	if permutations < 0 {
		return nil, fmt.Errorf("permutations must be non-negative, got %d", permutations)
	}

	codes, groups := encodeGroups(grouping)
	if groups < 2 || groups >= n {
		return nil, ErrInsufficientSamples
	}

	sq := make([]float64, n*n)
	var total float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := dm.At(i, j)
			sq[i*n+j] = d * d
			total += d * d
		}
	}
	sT := total / float64(n)

	sizes := make([]float64, groups)
	for _, c := range codes {
		sizes[c]++
	}
	within := func(labels []int) float64 {
		sums := make([]float64, groups)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if labels[i] == labels[j] {
					sums[labels[i]] += sq[i*n+j]
				}
			}
		}
		var sW float64
		for g, s := range sums {
			sW += s / sizes[g]
		}
		return sW
	}
	pseudoF := func(sW float64) float64 {
		return ((sT - sW) / float64(groups-1)) / (sW / float64(n-groups))
	}

	sW := within(codes)
	if sW == 0 {
		return nil, ErrZeroVariance
	}
	observed := pseudoF(sW)

	result := &PermanovaResult{
		PseudoF:      observed,
		PValue:       math.NaN(),
		SampleSize:   n,
		Groups:       groups,
		Permutations: permutations,
	}
	if permutations == 0 {
		return result, nil
	}

	shuffled := append([]int(nil), codes...)
	atLeast := 0
	for p := 0; p < permutations; p++ {
		rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if pseudoF(within(shuffled)) >= observed {
			atLeast++
		}
	}
	result.PValue = float64(atLeast+1) / float64(permutations+1)
	return result, nil
}

// encodeGroups maps labels to dense codes in first-seen order.
func encodeGroups(labels []string) ([]int, int) {
	index := make(map[string]int)
	codes := make([]int, len(labels))
	for i, l := range labels {
		c, ok := index[l]
		if !ok {
			c = len(index)
			index[l] = c
		}
		codes[i] = c
	}
	return codes, len(index)
}
