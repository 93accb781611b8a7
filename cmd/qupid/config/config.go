// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the qupid YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// QupidConfig is the contents of qupid.yaml. Command-line flags override
// individual fields when they are set explicitly.
type QupidConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Matching   MatchingConfig   `yaml:"matching"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Assessment AssessmentConfig `yaml:"assessment"`
	Store      StoreConfig      `yaml:"store"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"` // e.g. ~/.qupid/logs
	JSON  bool   `yaml:"json"`
}

type MatchingConfig struct {
	OnFailure string `yaml:"on_failure" validate:"oneof=ignore continue warn raise"`
}

type SamplingConfig struct {
	Iterations int    `yaml:"iterations" validate:"min=1"`
	Jobs       int    `yaml:"jobs" validate:"min=0"` // 0 = GOMAXPROCS
	Order      string `yaml:"order" validate:"oneof=input fewest-first"`
	Strict     bool   `yaml:"strict"`
}

type AssessmentConfig struct {
	Permutations int    `yaml:"permutations" validate:"min=0"`
	Test         string `yaml:"test" validate:"oneof=student t-test welch mann-whitney"`
	Jobs         int    `yaml:"jobs" validate:"min=0"`

	// Seed fixes PERMANOVA permutations when set.
	Seed *uint64 `yaml:"seed,omitempty"`
}

type StoreConfig struct {
	// Path is the run registry directory. Empty disables recording.
	Path string `yaml:"path"`
}

type TelemetryConfig struct {
	Trace       bool   `yaml:"trace"`
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

var validate = validator.New()

// DefaultConfig returns the built-in defaults.
func DefaultConfig() QupidConfig {
	return QupidConfig{
		Logging:  LoggingConfig{Level: "info"},
		Matching: MatchingConfig{OnFailure: "ignore"},
		Sampling: SamplingConfig{
			Iterations: 10,
			Jobs:       0,
			Order:      "input",
		},
		Assessment: AssessmentConfig{
			Permutations: 999,
			Test:         "student",
			Jobs:         0,
		},
		Store: StoreConfig{Path: "~/.qupid/runs"},
	}
}

// DefaultPath returns ~/.qupid/qupid.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".qupid", "qupid.yaml"), nil
}

// Validate checks field constraints.
func (c QupidConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads the configuration at path, or DefaultPath when path is empty.
//
// Description:
//
//	Fields absent from the file keep their default values. A missing file
//	at the default location yields DefaultConfig. A missing file at an
//	explicit path is an error.
func Load(path string) (QupidConfig, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating its directory. An
// existing file is left untouched and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
