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
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/gibsramen/qupid/pkg/stats"
	"github.com/gibsramen/qupid/pkg/tabular"
)

// Result is the test outcome for one assignment.
type Result struct {
	// Iteration is the assignment's index in the source collection.
	Iteration int

	Method        string
	StatisticName string
	Statistic     float64
	PValue        float64

	// SampleSize is CaseCount + ControlCount.
	SampleSize   int
	Groups       int
	CaseCount    int
	ControlCount int

	// EffectSize is Cohen's d for univariate tests, NaN otherwise.
	EffectSize float64

	// Permutations is zero for univariate tests.
	Permutations int

	// Err is set when the test could not be computed. Statistic and
	// PValue are then NaN.
	Err error
}

// Results is a ranked list of per-assignment outcomes.
type Results []Result

// Sort orders by descending statistic, NaN last, ties by iteration.
func (rs Results) Sort() {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		aNaN, bNaN := math.IsNaN(a.Statistic), math.IsNaN(b.Statistic)
		switch {
		case aNaN != bNaN:
			return bNaN
		case !aNaN && a.Statistic != b.Statistic:
			return a.Statistic > b.Statistic
		default:
			return a.Iteration < b.Iteration
		}
	})
}

// Columns of Results.Table.
var resultColumns = []string{
	"iteration",
	"method",
	"statistic_name",
	"statistic",
	"p_value",
	"sample_size",
	"number_of_groups",
	"case_count",
	"control_count",
	"effect_size",
	"effect_category",
	"permutations",
	"error",
}

// EffectCategory labels EffectSize by Cohen's conventions, or returns ""
// when no effect size was computed.
func (r Result) EffectCategory() string {
	if math.IsNaN(r.EffectSize) {
		return ""
	}
	return stats.CategorizeEffect(r.EffectSize).String()
}

// Table renders one row per result in the current order.
func (rs Results) Table() *tabular.Table {
	t := tabular.New(resultColumns...)
	for _, r := range rs {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		_ = t.Append(
			strconv.Itoa(r.Iteration),
			r.Method,
			r.StatisticName,
			formatFloat(r.Statistic),
			formatFloat(r.PValue),
			strconv.Itoa(r.SampleSize),
			strconv.Itoa(r.Groups),
			strconv.Itoa(r.CaseCount),
			strconv.Itoa(r.ControlCount),
			formatFloat(r.EffectSize),
			r.EffectCategory(),
			strconv.Itoa(r.Permutations),
			errText,
		)
	}
	return t
}

// WriteTSV writes Table as tab-separated text.
func (rs Results) WriteTSV(w io.Writer) error {
	return rs.Table().WriteTSV(w)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Summary condenses a batch of results.
type Summary struct {
	Method      string
	Assignments int
	Failed      int

	// Best is the top-ranked result; zero when every test failed.
	Best Result

	MedianStatistic float64
	MedianPValue    float64

	// Significant counts results with p < 0.05.
	Significant int
}

// Summarize computes a Summary. Failed rows are excluded from medians.
func (rs Results) Summarize() Summary {
	s := Summary{Assignments: len(rs), MedianStatistic: math.NaN(), MedianPValue: math.NaN()}
	var statistics, pvalues []float64
	for _, r := range rs {
		if s.Method == "" {
			s.Method = r.Method
		}
		if r.Err != nil || math.IsNaN(r.Statistic) {
			s.Failed++
			continue
		}
		statistics = append(statistics, r.Statistic)
		if !math.IsNaN(r.PValue) {
			pvalues = append(pvalues, r.PValue)
			if r.PValue < 0.05 {
				s.Significant++
			}
		}
	}
	if len(statistics) > 0 {
		s.Best = rs[0]
		s.MedianStatistic = median(statistics)
	}
	if len(pvalues) > 0 {
		s.MedianPValue = median(pvalues)
	}
	return s
}

// median sorts xs in place.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	mid := len(xs) / 2
	if len(xs)%2 == 1 {
		return xs[mid]
	}
	return (xs[mid-1] + xs[mid]) / 2
}
