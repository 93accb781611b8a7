// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/gibsramen/qupid/pkg/casematch"
	"github.com/gibsramen/qupid/pkg/evaluate"
	"github.com/gibsramen/qupid/pkg/store"
)

// MatchSummary prints counts for a one-to-many structure.
func (p *Printer) MatchSummary(m *casematch.OneToMany) {
	unmatched := m.UnmatchedCases()
	fields := []Field{
		{Key: "cases", Value: strconv.Itoa(m.Len())},
		{Key: "controls", Value: strconv.Itoa(len(m.Controls()))},
		{Key: "unmatched", Value: strconv.Itoa(len(unmatched)), Warn: len(unmatched) > 0},
		{Key: "max_matchable", Value: strconv.Itoa(m.MaxMatchSize())},
	}
	if rules := m.Rules(); rules != nil {
		fields = append(fields, Field{Key: "rules", Value: rules.String()})
	}
	p.Fields("match", fields)
}

// SampleSummary prints per-batch statistics for a collection.
//
// Description:
//
//	Reports the number of assignments, the fewest and most cases matched
//	in any one assignment, and how many assignments matched every case.
//	maxMatchable is the best achievable count for the source structure,
//	or negative when unknown.
func (p *Printer) SampleSummary(c *casematch.Collection, maxMatchable int) {
	cases := len(c.Cases())
	lo, hi, complete := cases, 0, 0
	for _, m := range c.Matches() {
		n := m.Len()
		lo, hi = min(lo, n), max(hi, n)
		if n == cases {
			complete++
		}
	}
	fields := []Field{
		{Key: "assignments", Value: strconv.Itoa(c.Len())},
		{Key: "cases", Value: strconv.Itoa(cases)},
		{Key: "matched_min", Value: strconv.Itoa(lo), Warn: maxMatchable >= 0 && lo < maxMatchable},
		{Key: "matched_max", Value: strconv.Itoa(hi)},
		{Key: "complete", Value: p.ProgressBar(complete, c.Len(), 20)},
	}
	if maxMatchable >= 0 {
		fields = append(fields, Field{Key: "max_matchable", Value: strconv.Itoa(maxMatchable)})
	}
	if seed, ok := c.Seed(); ok {
		fields = append(fields, Field{Key: "seed", Value: strconv.FormatUint(seed, 10)})
	}
	p.Fields("shuffle", fields)
}

// AssessmentSummary prints a bulk evaluation summary.
func (p *Printer) AssessmentSummary(s evaluate.Summary) {
	fields := []Field{
		{Key: "method", Value: s.Method},
		{Key: "assignments", Value: strconv.Itoa(s.Assignments)},
		{Key: "failed", Value: strconv.Itoa(s.Failed), Warn: s.Failed > 0},
	}
	if s.Failed < s.Assignments {
		fields = append(fields,
			Field{Key: "best_iteration", Value: strconv.Itoa(s.Best.Iteration)},
			Field{Key: "best_" + s.Best.StatisticName, Value: formatNumber(s.Best.Statistic)},
			Field{Key: "best_p", Value: formatNumber(s.Best.PValue)},
			Field{Key: "median_statistic", Value: formatNumber(s.MedianStatistic)},
			Field{Key: "median_p", Value: formatNumber(s.MedianPValue)},
			Field{Key: "significant", Value: fmt.Sprintf("%d/%d", s.Significant, s.Assignments-s.Failed)},
		)
	}
	p.Fields("assess", fields)
}

// RunList prints one line per stored run, newest first.
func (p *Printer) RunList(runs []store.Run) {
	if len(runs) == 0 {
		p.Info("no runs")
		return
	}
	if !p.rich() {
		for _, r := range runs {
			fmt.Fprintf(p.w, "%s\t%s\t%s\tcases=%d\titerations=%d\n",
				r.ID, r.Kind, r.Created.Format(time.RFC3339), r.Cases, r.Iterations)
		}
		return
	}
	for _, r := range runs {
		fmt.Fprintf(p.w, "%s %s  %s  %s\n",
			IconBullet.Render(),
			Styles.Highlight.Render(r.ID),
			Styles.Label.Render(fmt.Sprintf("%-7s", r.Kind)),
			Styles.Muted.Render(fmt.Sprintf("%s  cases=%d iterations=%d",
				r.Created.Local().Format("2006-01-02 15:04"), r.Cases, r.Iterations)),
		)
	}
}

// RunDetail prints every recorded field of a run.
func (p *Printer) RunDetail(r store.Run) {
	fields := []Field{
		{Key: "id", Value: r.ID},
		{Key: "kind", Value: string(r.Kind)},
		{Key: "created", Value: r.Created.Format(time.RFC3339)},
		{Key: "cases", Value: strconv.Itoa(r.Cases)},
		{Key: "controls", Value: strconv.Itoa(r.Controls)},
		{Key: "unmatched", Value: strconv.Itoa(r.Unmatched), Warn: r.Unmatched > 0},
	}
	if r.Parent != "" {
		fields = append(fields, Field{Key: "parent", Value: r.Parent})
	}
	if r.Rules != "" {
		fields = append(fields, Field{Key: "rules", Value: r.Rules})
	}
	if r.HasCollection {
		fields = append(fields, Field{Key: "iterations", Value: strconv.Itoa(r.Iterations)})
	}
	if r.Seeded {
		fields = append(fields, Field{Key: "seed", Value: strconv.FormatUint(r.Seed, 10)})
	}
	var artifacts []string
	if r.HasOneToMany {
		artifacts = append(artifacts, "one-to-many")
	}
	if r.HasCollection {
		artifacts = append(artifacts, "collection")
	}
	if len(artifacts) > 0 {
		fields = append(fields, Field{Key: "artifacts", Value: strings.Join(artifacts, ",")})
	}
	p.Fields("run", fields)
}

// UnmatchedCases lists cases without eligible controls, capped at limit.
func (p *Printer) UnmatchedCases(ids []string, limit int) {
	if len(ids) == 0 {
		return
	}
	shown := ids
	if limit > 0 && len(ids) > limit {
		shown = ids[:limit]
	}
	text := fmt.Sprintf("%d case(s) have no eligible controls: %s", len(ids), strings.Join(shown, ", "))
	if len(shown) < len(ids) {
		text += fmt.Sprintf(" (+%d more)", len(ids)-len(shown))
	}
	if !p.rich() {
		p.Warning(text)
		return
	}
	fmt.Fprintln(p.w, Styles.WarningBox.Width(lipgloss.Width(text)+4).Render(Styles.Warning.Render(text)))
}

func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}
