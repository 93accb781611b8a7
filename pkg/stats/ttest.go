// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats provides the two-group tests used to score case-control
// assignments: Student and Welch t-tests, Mann-Whitney U, Cohen's d, and
// PERMANOVA over a distance matrix.
package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInsufficientSamples indicates not enough samples for analysis.
	ErrInsufficientSamples = errors.New("insufficient samples for statistical analysis")

	// ErrZeroVariance indicates a sample set has zero variance.
	ErrZeroVariance = errors.New("sample set has zero variance")

	// ErrInvalidDistanceMatrix indicates a matrix that is not square,
	// symmetric, hollow, non-negative, and finite.
	ErrInvalidDistanceMatrix = errors.New("invalid distance matrix")

	// ErrUnknownID indicates an identifier that a distance matrix does not hold.
	ErrUnknownID = errors.New("identifier not in distance matrix")
)

// -----------------------------------------------------------------------------
// t-tests
// -----------------------------------------------------------------------------

// TTestResult holds the results of a two-sample t-test.
type TTestResult struct {
	// TStatistic is the computed t-statistic. Positive means samples1 has
	// the larger mean.
	TStatistic float64

	// PValue is the two-tailed p-value.
	PValue float64

	// DegreesOfFreedom is n1+n2-2 for Student, Welch-Satterthwaite for Welch.
	DegreesOfFreedom float64
}

// StudentTTest performs the pooled-variance two-sample t-test.
//
// Description:
//
//	Assumes equal population variances. This is the default test for
//	scoring case-control assignments.
//
// Inputs:
//   - samples1: First sample set. Must have at least 2 samples.
//   - samples2: Second sample set. Must have at least 2 samples.
//
// Outputs:
//   - *TTestResult: Test results.
//   - error: ErrInsufficientSamples, or ErrZeroVariance if both sets are constant.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func StudentTTest(samples1, samples2 []float64) (*TTestResult, error) {
	if len(samples1) < 2 || len(samples2) < 2 {
		return nil, ErrInsufficientSamples
	}

	mean1, var1 := stat.MeanVariance(samples1, nil)
	mean2, var2 := stat.MeanVariance(samples2, nil)
	n1 := float64(len(samples1))
	n2 := float64(len(samples2))

	df := n1 + n2 - 2
	pooledVar := ((n1-1)*var1 + (n2-1)*var2) / df
	se := math.Sqrt(pooledVar * (1/n1 + 1/n2))
	if se == 0 {
		return nil, ErrZeroVariance
	}

	t := (mean1 - mean2) / se
	return &TTestResult{
		TStatistic:       t,
		PValue:           twoTailedT(t, df),
		DegreesOfFreedom: df,
	}, nil
}

// WelchTTest performs Welch's t-test for two sample sets.
//
// Description:
//
//	Welch's t-test is used when the two samples may have unequal variances.
//	It does not assume equal population variances.
//
// Inputs:
//   - samples1: First sample set. Must have at least 2 samples.
//   - samples2: Second sample set. Must have at least 2 samples.
//
// Outputs:
//   - *TTestResult: Test results.
//   - error: Non-nil if samples are insufficient or constant.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func WelchTTest(samples1, samples2 []float64) (*TTestResult, error) {
	if len(samples1) < 2 || len(samples2) < 2 {
		return nil, ErrInsufficientSamples
	}

	mean1, var1 := stat.MeanVariance(samples1, nil)
	mean2, var2 := stat.MeanVariance(samples2, nil)
	n1 := float64(len(samples1))
	n2 := float64(len(samples2))

	se := math.Sqrt(var1/n1 + var2/n2)
	if se == 0 {
		return nil, ErrZeroVariance
	}
	t := (mean1 - mean2) / se

	// Welch-Satterthwaite
	num := math.Pow(var1/n1+var2/n2, 2)
	denom := math.Pow(var1/n1, 2)/(n1-1) + math.Pow(var2/n2, 2)/(n2-1)
	if denom == 0 {
		return nil, ErrZeroVariance
	}
	df := num / denom

	return &TTestResult{
		TStatistic:       t,
		PValue:           twoTailedT(t, df),
		DegreesOfFreedom: df,
	}, nil
}

// twoTailedT returns P(|T| >= |t|) for Student's t with df degrees of freedom.
func twoTailedT(t, df float64) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*dist.Survival(math.Abs(t)))
}

// -----------------------------------------------------------------------------
// Effect size
// -----------------------------------------------------------------------------

// EffectSize calculates Cohen's d effect size.
//
// Description:
//
//	Cohen's d measures the standardized difference between two means.
//	Uses the pooled standard deviation for the denominator.
//
// Outputs:
//   - float64: Cohen's d value. Positive means samples1 > samples2.
//   - error: ErrInsufficientSamples unless both sets have at least 2
//     samples; ErrZeroVariance if the pooled variance is zero.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func EffectSize(samples1, samples2 []float64) (float64, error) {
	if len(samples1) < 2 || len(samples2) < 2 {
		return 0, ErrInsufficientSamples
	}

	mean1, var1 := stat.MeanVariance(samples1, nil)
	mean2, var2 := stat.MeanVariance(samples2, nil)
	n1 := float64(len(samples1))
	n2 := float64(len(samples2))

	pooledStdDev := math.Sqrt(((n1-1)*var1 + (n2-1)*var2) / (n1 + n2 - 2))
	if pooledStdDev == 0 {
		return 0, ErrZeroVariance
	}
	return (mean1 - mean2) / pooledStdDev, nil
}

// EffectCategory categorizes effect sizes using Cohen's conventions.
type EffectCategory int

const (
	// EffectNegligible indicates |d| < 0.2
	EffectNegligible EffectCategory = iota
	// EffectSmall indicates 0.2 <= |d| < 0.5
	EffectSmall
	// EffectMedium indicates 0.5 <= |d| < 0.8
	EffectMedium
	// EffectLarge indicates |d| >= 0.8
	EffectLarge
)

// String returns the string representation.
func (e EffectCategory) String() string {
	switch e {
	case EffectNegligible:
		return "negligible"
	case EffectSmall:
		return "small"
	case EffectMedium:
		return "medium"
	case EffectLarge:
		return "large"
	default:
		return "unknown"
	}
}

// CategorizeEffect returns the category for a Cohen's d value.
func CategorizeEffect(d float64) EffectCategory {
	absD := math.Abs(d)
	switch {
	case absD < 0.2:
		return EffectNegligible
	case absD < 0.5:
		return EffectSmall
	case absD < 0.8:
		return EffectMedium
	default:
		return EffectLarge
	}
}
