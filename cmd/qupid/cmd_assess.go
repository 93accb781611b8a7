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
	"github.com/spf13/cobra"

	"github.com/gibsramen/qupid/pkg/evaluate"
	"github.com/gibsramen/qupid/pkg/metadata"
	"github.com/gibsramen/qupid/pkg/stats"
)

// assessFlags are shared by both assess subcommands.
type assessFlags struct {
	collection string
	runID      string
	jobs       int
	output     string
}

func (f *assessFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.collection, "collection", "", "collection TSV written by shuffle")
	fl.StringVar(&f.runID, "run", "", "registry run holding the collection")
	fl.IntVarP(&f.jobs, "jobs", "j", 0, "parallel tests, 0 for one per CPU (default from config)")
	fl.StringVarP(&f.output, "output", "o", "-", "ranked results TSV, - for stdout")
	cmd.MarkFlagsOneRequired("collection", "run")
	cmd.MarkFlagsMutuallyExclusive("collection", "run")
}

func (f *assessFlags) workers(cmd *cobra.Command, a *app) int {
	if cmd.Flags().Changed("jobs") {
		return f.jobs
	}
	return a.cfg.Assessment.Jobs
}

func newAssessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Rank one-to-one assignments by how well they separate cases from controls",
	}
	cmd.AddCommand(newAssessUnivariateCmd(a), newAssessMultivariateCmd(a))
	return cmd
}

func newAssessUnivariateCmd(a *app) *cobra.Command {
	var (
		common     assessFlags
		valuesPath string
		column     string
		test       string
	)
	cmd := &cobra.Command{
		Use:     "univariate",
		Short:   "Two-sample test of one numeric measurement per assignment",
		Example: `  qupid assess univariate --collection shuffles.tsv --values md.tsv --column bmi --test welch`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.loadCollection(cmd, common.collection, common.runID)
			if err != nil {
				return err
			}
			values, err := metadata.ReadValuesFile(valuesPath, column)
			if err != nil {
				return err
			}

			name := a.cfg.Assessment.Test
			if cmd.Flags().Changed("test") {
				name = test
			}
			ut, err := evaluate.ParseUnivariateTest(name)
			if err != nil {
				return err
			}

			results, err := evaluate.BulkTest(cmd.Context(), coll, evaluate.Univariate,
				evaluate.Input{Values: values},
				evaluate.WithTest(ut),
				evaluate.WithWorkers(common.workers(cmd, a)),
				evaluate.WithLogger(a.logger.Slog()),
			)
			if err != nil {
				return err
			}
			return a.reportResults(cmd, common.output, results)
		},
	}
	common.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&valuesPath, "values", "", "TSV with an identifier column and the measurement")
	fl.StringVar(&column, "column", "", "measurement column in --values")
	fl.StringVar(&test, "test", "", "student, welch or mann-whitney (default from config)")
	_ = cmd.MarkFlagRequired("values")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

func newAssessMultivariateCmd(a *app) *cobra.Command {
	var (
		common       assessFlags
		dmPath       string
		permutations int
		seed         string
	)
	cmd := &cobra.Command{
		Use:     "multivariate",
		Short:   "PERMANOVA on a distance matrix per assignment",
		Example: `  qupid assess multivariate --collection shuffles.tsv --distance-matrix dm.tsv --permutations 999 --seed 7`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.loadCollection(cmd, common.collection, common.runID)
			if err != nil {
				return err
			}
			dm, err := stats.ReadDistanceMatrixFile(dmPath)
			if err != nil {
				return err
			}

			perms := a.cfg.Assessment.Permutations
			if cmd.Flags().Changed("permutations") {
				perms = permutations
			}
			opts := []evaluate.Option{
				evaluate.WithPermutations(perms),
				evaluate.WithWorkers(common.workers(cmd, a)),
				evaluate.WithLogger(a.logger.Slog()),
			}
			switch {
			case cmd.Flags().Changed("seed"):
				s, err := parseSeed(seed)
				if err != nil {
					return err
				}
				opts = append(opts, evaluate.WithSeed(s))
			case a.cfg.Assessment.Seed != nil:
				opts = append(opts, evaluate.WithSeed(*a.cfg.Assessment.Seed))
			}

			results, err := evaluate.BulkTest(cmd.Context(), coll, evaluate.Multivariate,
				evaluate.Input{Distances: dm}, opts...)
			if err != nil {
				return err
			}
			return a.reportResults(cmd, common.output, results)
		},
	}
	common.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&dmPath, "distance-matrix", "", "square TSV distance matrix with identifier header")
	fl.IntVar(&permutations, "permutations", 0, "permutations per test (default from config)")
	fl.StringVar(&seed, "seed", "", "base seed for permutations (default from config, else random)")
	_ = cmd.MarkFlagRequired("distance-matrix")
	return cmd
}

func (a *app) reportResults(cmd *cobra.Command, output string, results evaluate.Results) error {
	if err := writeOutput(cmd, output, results.WriteTSV); err != nil {
		return err
	}
	summary := results.Summarize()
	a.logger.Info("assessed",
		"method", summary.Method,
		"assignments", summary.Assignments,
		"failed", summary.Failed,
	)
	a.printer(cmd, output).AssessmentSummary(summary)
	return nil
}
