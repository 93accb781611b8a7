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

	"github.com/spf13/cobra"

	"github.com/gibsramen/qupid/cmd/qupid/config"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List recorded runs, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.requireStore()
				if err != nil {
					return err
				}
				defer s.Close()

				runs, err := s.ListRuns(cmd.Context())
				if err != nil {
					return err
				}
				a.printer(cmd, "").RunList(runs)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "Show one run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.requireStore()
				if err != nil {
					return err
				}
				defer s.Close()

				run, err := s.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.printer(cmd, "").RunDetail(run)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a run and its artifacts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.requireStore()
				if err != nil {
					return err
				}
				defer s.Close()

				if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.logger.Info("run deleted", "run_id", args[0])
				a.printer(cmd, "").Success("deleted run " + args[0])
				return nil
			},
		},
		newRunsExportCmd(a),
	)
	return cmd
}

func newRunsExportCmd(a *app) *cobra.Command {
	var oneToMany, collection string
	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Write a run's stored artifacts to files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.requireStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, id := cmd.Context(), args[0]
			if oneToMany != "" {
				otm, err := s.LoadOneToMany(ctx, id)
				if err != nil {
					return fmt.Errorf("run %s: %w", id, err)
				}
				if err := writeOutput(cmd, oneToMany, otm.WriteJSON); err != nil {
					return err
				}
			}
			if collection != "" {
				coll, err := s.LoadCollection(ctx, id)
				if err != nil {
					return fmt.Errorf("run %s: %w", id, err)
				}
				if err := writeOutput(cmd, collection, coll.WriteTSV); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&oneToMany, "one-to-many", "", "write the one-to-many JSON here, - for stdout")
	cmd.Flags().StringVar(&collection, "collection", "", "write the collection TSV here, - for stdout")
	cmd.MarkFlagsOneRequired("one-to-many", "collection")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the qupid configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default configuration (default ~/.qupid/qupid.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			a.printer(cmd, "").Success("wrote " + path)
			return nil
		},
	})
	return cmd
}
