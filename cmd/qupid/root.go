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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gibsramen/qupid/cmd/qupid/config"
	"github.com/gibsramen/qupid/pkg/casematch"
	"github.com/gibsramen/qupid/pkg/logging"
	"github.com/gibsramen/qupid/pkg/store"
	"github.com/gibsramen/qupid/pkg/telemetry"
	"github.com/gibsramen/qupid/pkg/ux"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds state shared by every subcommand for one invocation.
type app struct {
	// Persistent flags.
	configPath  string
	logLevel    string
	logJSON     bool
	outputMode  string
	storePath   string
	noStore     bool
	trace       bool
	metricsFile string

	cfg      config.QupidConfig
	logger   *logging.Logger
	shutdown func(context.Context) error
}

// run executes one qupid invocation and releases logging and telemetry
// resources afterwards, including when the command fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if terr := a.teardown(context.WithoutCancel(ctx)); err == nil {
		err = terr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qupid",
		Short: "Case-control matching on sample metadata",
		Long: `qupid finds every eligible control for each case under discrete and
tolerance-based matching rules, draws many randomized one-to-one
assignments, and ranks those assignments by how well a measurement
separates cases from controls.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.qupid/qupid.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")
	pf.StringVar(&a.outputMode, "output-mode", "auto", "summary style: auto, rich, plain")
	pf.StringVar(&a.storePath, "store", "", "run registry directory (default from config)")
	pf.BoolVar(&a.noStore, "no-store", false, "do not record this run in the registry")
	pf.BoolVar(&a.trace, "trace", false, "export trace spans to stderr")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newMatchOneToManyCmd(a),
		newMatchOneToOneCmd(a),
		newShuffleCmd(a),
		newScoreCmd(a),
		newAssessCmd(a),
		newRunsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads configuration, applies flag overrides, and starts logging
// and telemetry.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Logging.JSON = a.logJSON
	}
	if flags.Changed("store") {
		cfg.Store.Path = a.storePath
	}
	if a.noStore {
		cfg.Store.Path = ""
	}
	if flags.Changed("trace") {
		cfg.Telemetry.Trace = a.trace
	}
	if flags.Changed("metrics-file") {
		cfg.Telemetry.MetricsFile = a.metricsFile
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return &casematch.ConfigurationError{Reason: err.Error()}
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "qupid",
		JSON:    cfg.Logging.JSON,
		Writer:  cmd.ErrOrStderr(),
	})

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.TraceWriter = cmd.ErrOrStderr()
	tcfg.MetricsFile = cfg.Telemetry.MetricsFile
	if cfg.Telemetry.Trace {
		tcfg.TraceExporter = "stdout"
	}
	a.shutdown, err = telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	a.shutdown, a.logger = nil, nil
	return errors.Join(errs...)
}

// printer returns a summary printer. When a command writes its data to
// stdout the summary goes to stderr.
func (a *app) printer(cmd *cobra.Command, output string) *ux.Printer {
	w := cmd.OutOrStdout()
	if output == "-" {
		w = cmd.ErrOrStderr()
	}
	return ux.NewPrinter(w, ux.ParseMode(a.outputMode))
}

// openStore opens the run registry, or returns nil when recording is off.
func (a *app) openStore() (*store.Store, error) {
	if a.cfg.Store.Path == "" {
		return nil, nil
	}
	cfg := store.DefaultConfig()
	cfg.Path = expandHome(a.cfg.Store.Path)
	cfg.GCInterval = 0
	cfg.Logger = a.logger.Slog().With("component", "store")
	s, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open run registry: %w", err)
	}
	return s, nil
}

// requireStore is openStore for commands that cannot work without one.
func (a *app) requireStore() (*store.Store, error) {
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &casematch.ConfigurationError{Reason: "run registry is disabled; set --store or store.path"}
	}
	return s, nil
}

// record saves a run when the registry is enabled and reports its ID.
func (a *app) record(ctx context.Context, p *ux.Printer, run store.Run, otm *casematch.OneToMany, coll *casematch.Collection) error {
	s, err := a.openStore()
	if err != nil || s == nil {
		return err
	}
	defer s.Close()

	saved, err := s.SaveRun(ctx, run, otm, coll)
	if err != nil {
		return err
	}
	a.logger.Info("run recorded", "run_id", saved.ID, "kind", saved.Kind)
	p.Info("run " + saved.ID)
	return nil
}

// writeOutput writes to path, or stdout for "-".
func writeOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// exitCode maps error classes to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, casematch.ErrConfiguration):
		return 2
	case errors.Is(err, casematch.ErrDataCoverage):
		return 3
	case errors.Is(err, casematch.ErrNoMatches):
		return 4
	case errors.Is(err, casematch.ErrExhaustedControls):
		return 5
	case errors.Is(err, casematch.ErrNotOneToOne):
		return 6
	case errors.Is(err, store.ErrRunNotFound):
		return 7
	default:
		return 1
	}
}
