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
	"errors"
	"math"
	"testing"
)

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// -----------------------------------------------------------------------------
// t-test Tests
// -----------------------------------------------------------------------------

func TestStudentTTest(t *testing.T) {
	t.Run("known values", func(t *testing.T) {
		result, err := StudentTTest([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 6, 8, 10})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !near(result.TStatistic, -1.8973665961010275, 1e-12) {
			t.Errorf("expected t=-1.8974, got %v", result.TStatistic)
		}
		if result.DegreesOfFreedom != 8 {
			t.Errorf("expected df=8, got %v", result.DegreesOfFreedom)
		}
		if !near(result.PValue, 0.0943497728424353, 1e-6) {
			t.Errorf("expected p=0.0943, got %v", result.PValue)
		}
	})

	t.Run("sign follows the first sample", func(t *testing.T) {
		result, err := StudentTTest([]float64{10, 11, 12}, []float64{1, 2, 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.TStatistic <= 0 {
			t.Errorf("expected positive t, got %v", result.TStatistic)
		}
	})

	t.Run("insufficient samples", func(t *testing.T) {
		_, err := StudentTTest([]float64{1}, []float64{1, 2})
		if !errors.Is(err, ErrInsufficientSamples) {
			t.Errorf("expected ErrInsufficientSamples, got %v", err)
		}
	})

	t.Run("zero variance", func(t *testing.T) {
		_, err := StudentTTest([]float64{5, 5, 5}, []float64{5, 5})
		if !errors.Is(err, ErrZeroVariance) {
			t.Errorf("expected ErrZeroVariance, got %v", err)
		}
	})
}

func TestWelchTTest(t *testing.T) {
	t.Run("known values", func(t *testing.T) {
		result, err := WelchTTest([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 6, 8, 10})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !near(result.TStatistic, -1.8973665961010275, 1e-12) {
			t.Errorf("expected t=-1.8974, got %v", result.TStatistic)
		}
		if !near(result.DegreesOfFreedom, 5.882352941176471, 1e-9) {
			t.Errorf("expected df=5.88, got %v", result.DegreesOfFreedom)
		}
		if !near(result.PValue, 0.10753119493063286, 1e-6) {
			t.Errorf("expected p=0.1075, got %v", result.PValue)
		}
	})

	t.Run("identical samples", func(t *testing.T) {
		result, err := WelchTTest([]float64{1, 2, 3}, []float64{1, 2, 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.TStatistic != 0 || !near(result.PValue, 1, 1e-12) {
			t.Errorf("expected t=0 p=1, got t=%v p=%v", result.TStatistic, result.PValue)
		}
	})

	t.Run("insufficient samples", func(t *testing.T) {
		_, err := WelchTTest(nil, []float64{1, 2})
		if !errors.Is(err, ErrInsufficientSamples) {
			t.Errorf("expected ErrInsufficientSamples, got %v", err)
		}
	})
}

func TestEffectSize(t *testing.T) {
	d, err := EffectSize([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 6, 8, 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// pooled sd = 2.5
	if !near(d, -1.2, 1e-12) {
		t.Errorf("expected d=-1.2, got %v", d)
	}
	if CategorizeEffect(d) != EffectLarge {
		t.Errorf("expected large effect, got %v", CategorizeEffect(d))
	}

	tests := []struct {
		d    float64
		want EffectCategory
	}{
		{0.1, EffectNegligible},
		{-0.3, EffectSmall},
		{0.6, EffectMedium},
		{-2, EffectLarge},
	}
	for _, tt := range tests {
		if got := CategorizeEffect(tt.d); got != tt.want {
			t.Errorf("CategorizeEffect(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

// -----------------------------------------------------------------------------
// Mann-Whitney Tests
// -----------------------------------------------------------------------------

func TestMannWhitneyU(t *testing.T) {
	t.Run("small samples use the normal approximation", func(t *testing.T) {
		result, err := MannWhitneyU([]float64{1, 2, 3}, []float64{4, 5, 6})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.U != 0 {
			t.Errorf("U = %v, want 0", result.U)
		}
		// Exact two-sided p is 2/20.
		if math.Abs(result.PValue-0.0808555983700523) > 1e-9 {
			t.Errorf("PValue = %v, want 0.0809 from the normal approximation", result.PValue)
		}
	})

	t.Run("complete separation", func(t *testing.T) {
		result, err := MannWhitneyU([]float64{1, 2, 3, 4, 5}, []float64{6, 7, 8, 9, 10})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.U != 0 {
			t.Errorf("expected U=0, got %v", result.U)
		}
		if !near(result.PValue, 0.012185780355344818, 1e-9) {
			t.Errorf("expected p=0.0122, got %v", result.PValue)
		}
	})

	t.Run("ties", func(t *testing.T) {
		result, err := MannWhitneyU([]float64{1, 2, 2, 3, 5}, []float64{2, 4, 4, 6, 7, 8})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.U != 5 {
			t.Errorf("expected U=5, got %v", result.U)
		}
		if !near(result.PValue, 0.07934368319771508, 1e-9) {
			t.Errorf("expected p=0.0793, got %v", result.PValue)
		}
	})

	t.Run("all tied", func(t *testing.T) {
		_, err := MannWhitneyU([]float64{3, 3}, []float64{3, 3, 3})
		if !errors.Is(err, ErrZeroVariance) {
			t.Errorf("expected ErrZeroVariance, got %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := MannWhitneyU(nil, []float64{1})
		if !errors.Is(err, ErrInsufficientSamples) {
			t.Errorf("expected ErrInsufficientSamples, got %v", err)
		}
	})
}
