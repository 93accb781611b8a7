// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoad_MergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qupid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling:\n  iterations: 50\n  order: fewest-first\nassessment:\n  test: welch\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Sampling.Iterations)
	assert.Equal(t, "fewest-first", cfg.Sampling.Order)
	assert.Equal(t, "ignore", cfg.Matching.OnFailure)
	assert.Equal(t, "welch", cfg.Assessment.Test)
	assert.Equal(t, 999, cfg.Assessment.Permutations)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.Assessment.Seed)
}

func TestLoad_AssessmentSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qupid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assessment:\n  seed: 42\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Assessment.Seed)
	assert.Equal(t, uint64(42), *cfg.Assessment.Seed)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"zero iterations": "sampling:\n  iterations: 0\n",
		"bad order":       "sampling:\n  order: random\n",
		"bad test":        "assessment:\n  test: anova\n",
		"bad level":       "logging:\n  level: loud\n",
		"bad on_failure":  "matching:\n  on_failure: explode\n",
		"negative perms":  "assessment:\n  permutations: -1\n",
		"not yaml":        "sampling: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "qupid.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err, "explicit path must exist")

	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "qupid.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	assert.Error(t, WriteDefault(path), "existing file is not overwritten")
}
