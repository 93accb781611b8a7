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

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/gibsramen/qupid/pkg/casematch"
	"github.com/gibsramen/qupid/pkg/metadata"
	"github.com/gibsramen/qupid/pkg/store"
)

// samplingFlags configures the one-to-one sampler. Unset flags fall back
// to the sampling section of the config file.
type samplingFlags struct {
	iterations int
	jobs       int
	seed       string
	order      string
	strict     bool
}

func (f *samplingFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVarP(&f.iterations, "iterations", "n", 0, "number of assignments to draw (default from config)")
	fl.IntVarP(&f.jobs, "jobs", "j", 0, "parallel draws, 0 for one per CPU (default from config)")
	fl.StringVar(&f.seed, "seed", "", "base seed for reproducible draws (default random, recorded)")
	fl.StringVar(&f.order, "order", "", "case visit order: input, fewest-first (default from config)")
	fl.BoolVar(&f.strict, "strict", false, "fail when a draw leaves a case with eligible controls unmatched")
}

// options resolves flags against config into sampler options.
func (f *samplingFlags) options(cmd *cobra.Command, a *app) ([]casematch.SampleOption, error) {
	flags := cmd.Flags()
	sc := a.cfg.Sampling

	order := sc.Order
	if flags.Changed("order") {
		order = f.order
	}
	caseOrder, err := casematch.ParseCaseOrder(order)
	if err != nil {
		return nil, err
	}
	jobs := sc.Jobs
	if flags.Changed("jobs") {
		jobs = f.jobs
	}
	strict := sc.Strict
	if flags.Changed("strict") {
		strict = f.strict
	}

	opts := []casematch.SampleOption{
		casematch.WithOrder(caseOrder),
		casematch.WithWorkers(jobs),
		casematch.WithStrict(strict),
		casematch.WithSampleLogger(a.logger.Slog()),
	}
	if flags.Changed("seed") {
		seed, err := parseSeed(f.seed)
		if err != nil {
			return nil, err
		}
		opts = append(opts, casematch.WithSeed(seed))
	}
	return opts, nil
}

func (f *samplingFlags) iterationCount(cmd *cobra.Command, a *app) int {
	if cmd.Flags().Changed("iterations") {
		return f.iterations
	}
	return a.cfg.Sampling.Iterations
}

// parseSeed accepts a non-negative integer.
func parseSeed(s string) (uint64, error) {
	seed, err := cast.ToUint64E(s)
	if err != nil {
		return 0, &casematch.ConfigurationError{Reason: fmt.Sprintf("invalid seed %q: %v", s, err)}
	}
	return seed, nil
}

// matchSource locates the one-to-many match to sample from: a JSON file,
// a registry run, or, when inline is set, metadata and rules.
type matchSource struct {
	oneToMany string
	runID     string
	inline    *matchInputs
}

func (s *matchSource) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&s.oneToMany, "one-to-many", "", "one-to-many JSON written by match-one-to-many")
	fl.StringVar(&s.runID, "run", "", "registry run holding the one-to-many match")
	if s.inline == nil {
		cmd.MarkFlagsOneRequired("one-to-many", "run")
		cmd.MarkFlagsMutuallyExclusive("one-to-many", "run")
		return
	}
	s.inline.register(cmd, false)
	cmd.MarkFlagsOneRequired("one-to-many", "run", "metadata", "focus")
	for _, other := range []string{"run", "metadata", "focus"} {
		cmd.MarkFlagsMutuallyExclusive("one-to-many", other)
	}
	cmd.MarkFlagsMutuallyExclusive("run", "metadata")
	cmd.MarkFlagsMutuallyExclusive("run", "focus")
}

func (s *matchSource) load(cmd *cobra.Command, a *app) (*casematch.OneToMany, error) {
	switch {
	case s.inline != nil && s.inline.population.given():
		return a.runMatch(cmd, s.inline)
	case s.runID != "":
		st, err := a.requireStore()
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return st.LoadOneToMany(cmd.Context(), s.runID)
	default:
		return casematch.LoadOneToMany(s.oneToMany)
	}
}

// draw samples a collection from otm under the resolved sampling options.
func (a *app) draw(cmd *cobra.Command, otm *casematch.OneToMany, sampling *samplingFlags) (*casematch.Collection, error) {
	opts, err := sampling.options(cmd, a)
	if err != nil {
		return nil, err
	}
	iterations := sampling.iterationCount(cmd, a)
	a.logger.Info("sampling", "cases", otm.Len(), "iterations", iterations)
	return casematch.Sample(cmd.Context(), otm, iterations, opts...)
}

func newShuffleCmd(a *app) *cobra.Command {
	var (
		source   = matchSource{inline: &matchInputs{}}
		sampling samplingFlags
		output   string
	)
	cmd := &cobra.Command{
		Use:   "shuffle",
		Short: "Match and draw many randomized one-to-one assignments",
		Long: `shuffle draws independent one-to-one assignments from a one-to-many
match. The match is computed here from metadata and rules, read from a
file written by match-one-to-many, or loaded from the run registry.
The result is a TSV with one row per case and one column per draw.`,
		Example: `  qupid shuffle --metadata md.tsv --case-column status --case-value case \
    --discrete sex --numeric age±5 -n 100 -o shuffles.tsv
  qupid shuffle --one-to-many matches.json -n 100 --seed 42 -o shuffles.tsv
  qupid shuffle --run 6f1c... -n 100 -o shuffles.tsv`,
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

			p := a.printer(cmd, output)
			p.SampleSummary(coll, otm.MaxMatchSize())
			return a.record(cmd.Context(), p, store.Run{Kind: store.KindShuffle, Parent: source.runID}, otm, coll)
		},
	}
	source.register(cmd)
	sampling.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "collection TSV output path, - for stdout")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newScoreCmd(a *app) *cobra.Command {
	var (
		collection string
		runID      string
		mdPath     string
		attributes []string
		output     string
	)
	cmd := &cobra.Command{
		Use:     "score",
		Short:   "Report case minus control differences for every matched pair",
		Example: `  qupid score --collection shuffles.tsv --metadata md.tsv --attributes age,bmi -o scores.tsv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.loadCollection(cmd, collection, runID)
			if err != nil {
				return err
			}
			md, err := metadata.ReadRecordsFile(mdPath)
			if err != nil {
				return err
			}
			scores, err := coll.EvaluateMatchScores(md, attributes...)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd, output, scores.Table().WriteTSV); err != nil {
				return err
			}
			a.logger.Info("scored", "pairs", len(scores.Rows), "iterations", coll.Len())
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&collection, "collection", "", "collection TSV written by shuffle")
	fl.StringVar(&runID, "run", "", "registry run holding the collection")
	fl.StringVar(&mdPath, "metadata", "", "metadata TSV covering every case and control")
	fl.StringSliceVar(&attributes, "attributes", nil, "numeric attributes to difference (comma separated)")
	fl.StringVarP(&output, "output", "o", "-", "scores TSV output path, - for stdout")
	cmd.MarkFlagsOneRequired("collection", "run")
	cmd.MarkFlagsMutuallyExclusive("collection", "run")
	_ = cmd.MarkFlagRequired("metadata")
	_ = cmd.MarkFlagRequired("attributes")
	return cmd
}

// loadCollection reads a collection from a TSV file or the run registry.
func (a *app) loadCollection(cmd *cobra.Command, path, runID string) (*casematch.Collection, error) {
	if runID == "" {
		return casematch.LoadCollection(path)
	}
	s, err := a.requireStore()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.LoadCollection(cmd.Context(), runID)
}
