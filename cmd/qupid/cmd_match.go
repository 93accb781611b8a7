// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gibsramen/qupid/pkg/casematch"
	"github.com/gibsramen/qupid/pkg/metadata"
	"github.com/gibsramen/qupid/pkg/store"
)

// populationFlags selects cases and candidate controls, either from one
// metadata table split on a column or from two separate tables.
type populationFlags struct {
	metadata   string
	caseColumn string
	caseValue  string
	focus      string
	background string
}

func (f *populationFlags) register(cmd *cobra.Command, required bool) {
	fl := cmd.Flags()
	fl.StringVar(&f.metadata, "metadata", "", "metadata TSV holding cases and controls")
	fl.StringVar(&f.caseColumn, "case-column", "", "metadata column identifying cases")
	fl.StringVar(&f.caseValue, "case-value", "", "value of --case-column that marks a case")
	fl.StringVar(&f.focus, "focus", "", "metadata TSV of cases (instead of --metadata)")
	fl.StringVar(&f.background, "background", "", "metadata TSV of candidate controls (instead of --metadata)")
	cmd.MarkFlagsMutuallyExclusive("metadata", "focus")
	cmd.MarkFlagsRequiredTogether("focus", "background")
	cmd.MarkFlagsRequiredTogether("metadata", "case-column", "case-value")
	if required {
		cmd.MarkFlagsOneRequired("metadata", "focus")
	}
}

func (f *populationFlags) given() bool {
	return f.metadata != "" || f.focus != ""
}

func (f *populationFlags) load() (focus, background *casematch.RecordSet, err error) {
	if f.metadata != "" {
		rs, err := metadata.ReadRecordsFile(f.metadata)
		if err != nil {
			return nil, nil, err
		}
		return metadata.Split(rs, f.caseColumn, f.caseValue)
	}
	if focus, err = metadata.ReadRecordsFile(f.focus); err != nil {
		return nil, nil, err
	}
	if background, err = metadata.ReadRecordsFile(f.background); err != nil {
		return nil, nil, err
	}
	return focus, background, nil
}

// ruleFlags collects one of three rule surfaces: --discrete/--numeric,
// --category/--tolerance, or a --rules file.
type ruleFlags struct {
	discrete   []string
	numeric    []string
	categories []string
	tolerances []string
	rulesFile  string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringSliceVar(&f.discrete, "discrete", nil, "attributes that must be equal (repeatable, comma separated)")
	fl.StringSliceVar(&f.numeric, "numeric", nil, "continuous attribute with tolerance, e.g. age±5 or age+-5 (repeatable)")
	fl.StringSliceVar(&f.categories, "category", nil, "attribute to match on; continuous if it has a --tolerance")
	fl.StringSliceVar(&f.tolerances, "tolerance", nil, "tolerance for a --category, e.g. age+-5")
	fl.StringVar(&f.rulesFile, "rules", "", "YAML or JSON list of {attribute, kind, tolerance}")
	cmd.MarkFlagsMutuallyExclusive("rules", "discrete")
	cmd.MarkFlagsMutuallyExclusive("rules", "numeric")
	cmd.MarkFlagsMutuallyExclusive("rules", "category")
	cmd.MarkFlagsMutuallyExclusive("category", "discrete")
	cmd.MarkFlagsMutuallyExclusive("category", "numeric")
}

func (f *ruleFlags) build() (*casematch.RuleSet, error) {
	switch {
	case f.rulesFile != "":
		return loadRulesFile(f.rulesFile)
	case len(f.categories) > 0:
		tol, err := casematch.ParseTolerances(f.tolerances)
		if err != nil {
			return nil, err
		}
		return casematch.RulesFromCategories(f.categories, tol)
	case len(f.discrete)+len(f.numeric) > 0:
		rules := make([]casematch.Rule, 0, len(f.discrete)+len(f.numeric))
		for _, attr := range f.discrete {
			rules = append(rules, casematch.Rule{Attribute: attr, Kind: casematch.Discrete})
		}
		for _, spec := range f.numeric {
			attr, tol, err := casematch.ParseTolerance(spec)
			if err != nil {
				return nil, err
			}
			rules = append(rules, casematch.Rule{Attribute: attr, Kind: casematch.Continuous, Tolerance: tol})
		}
		return casematch.NewRuleSet(rules...)
	default:
		return nil, &casematch.ConfigurationError{Reason: "no matching rules given; use --discrete/--numeric, --category or --rules"}
	}
}

// loadRulesFile reads a rule list. JSON is a subset of YAML, so one
// decoder serves both.
func loadRulesFile(path string) (*casematch.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var rules []casematch.Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, &casematch.ConfigurationError{Reason: fmt.Sprintf("rules file %s: %v", path, err)}
	}
	return casematch.NewRuleSet(rules...)
}

// matchInputs bundles everything needed to run the matcher.
type matchInputs struct {
	population populationFlags
	rules      ruleFlags
	onFailure  string
}

func (m *matchInputs) register(cmd *cobra.Command, required bool) {
	m.population.register(cmd, required)
	m.rules.register(cmd)
	cmd.Flags().StringVar(&m.onFailure, "on-failure", "", "cases without controls: ignore, warn, raise (default from config)")
}

func (a *app) runMatch(cmd *cobra.Command, in *matchInputs) (*casematch.OneToMany, error) {
	focus, background, err := in.population.load()
	if err != nil {
		return nil, err
	}
	rules, err := in.rules.build()
	if err != nil {
		return nil, err
	}

	policy := a.cfg.Matching.OnFailure
	if cmd.Flags().Changed("on-failure") {
		policy = in.onFailure
	}
	onFailure, err := casematch.ParseOnFailure(policy)
	if err != nil {
		return nil, err
	}

	a.logger.Info("matching",
		"cases", focus.Len(),
		"candidates", background.Len(),
		"rules", rules.String(),
	)
	return casematch.Match(cmd.Context(), focus, background, rules,
		casematch.WithOnFailure(onFailure),
		casematch.WithMatchLogger(a.logger.Slog()),
	)
}

func newMatchOneToManyCmd(a *app) *cobra.Command {
	var (
		in     matchInputs
		output string
	)
	cmd := &cobra.Command{
		Use:   "match-one-to-many",
		Short: "Find every eligible control for each case",
		Example: `  qupid match-one-to-many --metadata md.tsv --case-column status --case-value case \
    --discrete sex --numeric age±5 --output matches.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			otm, err := a.runMatch(cmd, &in)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd, output, otm.WriteJSON); err != nil {
				return err
			}

			p := a.printer(cmd, output)
			p.MatchSummary(otm)
			p.UnmatchedCases(otm.UnmatchedCases(), 10)
			return a.record(cmd.Context(), p, store.Run{Kind: store.KindMatch}, otm, nil)
		},
	}
	in.register(cmd, true)
	cmd.Flags().StringVarP(&output, "output", "o", "", "one-to-many JSON output path, - for stdout")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newMatchOneToOneCmd(a *app) *cobra.Command {
	var (
		source     matchSource
		sampling   samplingFlags
		output     string
		assignment string
	)
	cmd := &cobra.Command{
		Use:   "match-one-to-one",
		Short: "Draw one-to-one assignments from a one-to-many match",
		Long: `match-one-to-one samples independent one-to-one assignments from a
match written by match-one-to-many or recorded in the run registry, and
writes them as a TSV with one row per case and one column per draw.`,
		Example: `  qupid match-one-to-one --one-to-many matches.json -n 50 --seed 7 -o assignments.tsv
  qupid match-one-to-one --run 6f1c... -n 1 -o - --assignment-json first.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			otm, err := source.load(cmd, a)
			if err != nil {
				return err
			}
			coll, err := a.draw(cmd, otm, &sampling)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd, output, coll.WriteTSV); err != nil {
				return err
			}
			if assignment != "" {
				if err := writeOutput(cmd, assignment, coll.At(0).WriteJSON); err != nil {
					return err
				}
			}

			p := a.printer(cmd, output)
			p.SampleSummary(coll, otm.MaxMatchSize())
			return a.record(cmd.Context(), p, store.Run{Kind: store.KindShuffle, Parent: source.runID}, otm, coll)
		},
	}
	source.register(cmd)
	sampling.register(cmd)
	fl := cmd.Flags()
	fl.StringVarP(&output, "output", "o", "", "collection TSV output path, - for stdout")
	fl.StringVar(&assignment, "assignment-json", "", "also write the first assignment as one-to-one JSON")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
