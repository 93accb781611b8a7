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
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibsramen/qupid/pkg/casematch"
	"github.com/gibsramen/qupid/pkg/stats"
	"github.com/gibsramen/qupid/pkg/tabular"
)

// C has no control within 5 years of age.
const cohortTSV = "sample-id\tstatus\tsex\tage\tbmi\n" +
	"A\tcase\tM\t30\t22.1\n" +
	"B\tcase\tF\t40\t25.3\n" +
	"C\tcase\tM\t60\t27.0\n" +
	"X\tcontrol\tM\t32\t21.0\n" +
	"Y\tcontrol\tF\t41\t24.9\n" +
	"W\tcontrol\tM\t28\t23.5\n" +
	"V\tcontrol\tF\t38\t26.1\n"

type harness struct {
	t     *testing.T
	dir   string
	store string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QUPID_OUTPUT", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "md.tsv"), []byte(cohortTSV), 0o644))
	return &harness{t: t, dir: dir, store: filepath.Join(dir, "runs")}
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

// exec runs qupid with plain output against the harness registry.
func (h *harness) exec(args ...string) (stdout, stderr string, err error) {
	h.t.Helper()
	var out, errb bytes.Buffer
	full := append([]string{"--output-mode", "plain", "--store", h.store}, args...)
	err = run(context.Background(), full, &out, &errb)
	return out.String(), errb.String(), err
}

func (h *harness) match(extra ...string) (stdout string) {
	h.t.Helper()
	args := append([]string{"match-one-to-many",
		"--metadata", h.path("md.tsv"), "--case-column", "status", "--case-value", "case",
		"--discrete", "sex", "--numeric", "age+-5",
		"-o", h.path("otm.json"),
	}, extra...)
	out, _, err := h.exec(args...)
	require.NoError(h.t, err)
	return out
}

func runIDFrom(t *testing.T, stdout string) string {
	t.Helper()
	for _, line := range strings.Split(stdout, "\n") {
		if id, ok := strings.CutPrefix(line, "run "); ok {
			return id
		}
	}
	t.Fatalf("no run id in output:\n%s", stdout)
	return ""
}

func TestMatchOneToMany(t *testing.T) {
	h := newHarness(t)
	out := h.match()

	assert.Contains(t, out, "match: cases=3")
	assert.Contains(t, out, "unmatched=1")
	assert.Contains(t, out, "WARN: 1 case(s) have no eligible controls: C")

	otm, err := casematch.LoadOneToMany(h.path("otm.json"))
	require.NoError(t, err)
	eligible := otm.ToMap()
	assert.ElementsMatch(t, []string{"X", "W"}, eligible["A"])
	assert.ElementsMatch(t, []string{"Y", "V"}, eligible["B"])
	assert.Empty(t, eligible["C"])
	assert.Equal(t, "sex, age±5", otm.Rules().String())

	id := runIDFrom(t, out)
	list, _, err := h.exec("runs", "list")
	require.NoError(t, err)
	assert.Contains(t, list, id+"\tmatch\t")
}

func TestMatchOneToMany_RuleSurfaces(t *testing.T) {
	h := newHarness(t)
	cases := "sample-id\tsex\tage\nA\tM\t30\nB\tF\t40\n"
	controls := "sample-id\tsex\tage\nX\tM\t32\nY\tF\t52\n"
	require.NoError(t, os.WriteFile(h.path("cases.tsv"), []byte(cases), 0o644))
	require.NoError(t, os.WriteFile(h.path("controls.tsv"), []byte(controls), 0o644))
	rules := "- attribute: sex\n  kind: discrete\n- attribute: age\n  kind: continuous\n  tolerance: 5\n"
	require.NoError(t, os.WriteFile(h.path("rules.yaml"), []byte(rules), 0o644))

	surfaces := map[string][]string{
		"rules file": {"--rules", h.path("rules.yaml")},
		"categories": {"--category", "sex,age", "--tolerance", "age+-5"},
	}
	for name, ruleArgs := range surfaces {
		t.Run(name, func(t *testing.T) {
			args := append([]string{"--no-store", "match-one-to-many",
				"--focus", h.path("cases.tsv"), "--background", h.path("controls.tsv"),
				"-o", "-",
			}, ruleArgs...)
			out, _, err := h.exec(args...)
			require.NoError(t, err)
			otm, err := casematch.ReadOneToManyJSON(strings.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, []string{"X"}, otm.ToMap()["A"])
			assert.Empty(t, otm.ToMap()["B"])
		})
	}
}

func TestMatchOneToMany_Errors(t *testing.T) {
	h := newHarness(t)
	base := []string{"--no-store", "match-one-to-many",
		"--metadata", h.path("md.tsv"), "--case-column", "status", "--case-value", "case",
		"-o", h.path("out.json"),
	}

	_, _, err := h.exec(append(base, "--on-failure", "raise", "--discrete", "sex", "--numeric", "age+-5")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, casematch.ErrNoMatches)
	assert.Equal(t, 4, exitCode(err))

	_, _, err = h.exec(base...)
	require.Error(t, err, "no rules")
	assert.Equal(t, 2, exitCode(err))

	_, _, err = h.exec(append(base, "--discrete", "height")...)
	require.Error(t, err, "unknown attribute")
	assert.Equal(t, 2, exitCode(err))

	_, _, err = h.exec(append(base, "--numeric", "age")...)
	require.Error(t, err, "tolerance missing")
	assert.Equal(t, 2, exitCode(err))
}

func TestMatchOneToOne(t *testing.T) {
	h := newHarness(t)
	matchID := runIDFrom(t, h.match())

	t.Run("from file", func(t *testing.T) {
		out, _, err := h.exec("match-one-to-one", "--one-to-many", h.path("otm.json"),
			"-n", "3", "--seed", "7",
			"-o", h.path("oto.tsv"), "--assignment-json", h.path("oto.json"))
		require.NoError(t, err)
		assert.Contains(t, out, "assignments=3")
		assert.Contains(t, out, "seed=7")

		coll, err := casematch.LoadCollection(h.path("oto.tsv"))
		require.NoError(t, err)
		assert.Equal(t, 3, coll.Len())

		oto, err := casematch.LoadOneToOne(h.path("oto.json"))
		require.NoError(t, err)
		assert.Equal(t, 2, oto.Len())
		_, ok := oto.Control("C")
		assert.False(t, ok)
		assert.Equal(t, coll.At(0).ToMap(), oto.ToMap())
	})

	t.Run("from run", func(t *testing.T) {
		out, _, err := h.exec("match-one-to-one", "--run", matchID, "-n", "5", "--seed", "7", "-o", h.path("run.tsv"))
		require.NoError(t, err)
		show, _, err := h.exec("runs", "show", runIDFrom(t, out))
		require.NoError(t, err)
		assert.Contains(t, show, "parent="+matchID)
		assert.Contains(t, show, "iterations=5")

		coll, err := casematch.LoadCollection(h.path("run.tsv"))
		require.NoError(t, err)
		assert.Equal(t, 5, coll.Len())
	})

	t.Run("needs a match source", func(t *testing.T) {
		_, _, err := h.exec("match-one-to-one", "-n", "1", "-o", h.path("none.tsv"))
		require.Error(t, err)
	})
}

// A blank rule attribute leaves a record out of matching rather than
// failing the run.
func TestMatchOneToMany_MissingCells(t *testing.T) {
	h := newHarness(t)
	md := cohortTSV + "D\tcase\tF\t\t23.0\n" + "U\tcontrol\tM\t\t22.0\n"
	require.NoError(t, os.WriteFile(h.path("md.tsv"), []byte(md), 0o644))

	out := h.match()
	assert.Contains(t, out, "unmatched=2")

	otm, err := casematch.LoadOneToMany(h.path("otm.json"))
	require.NoError(t, err)
	eligible := otm.ToMap()
	assert.Empty(t, eligible["D"])
	assert.ElementsMatch(t, []string{"X", "W"}, eligible["A"])
}

func TestShuffle_Reproducible(t *testing.T) {
	h := newHarness(t)
	h.match()

	for _, name := range []string{"a.tsv", "b.tsv"} {
		_, _, err := h.exec("--no-store", "shuffle", "--one-to-many", h.path("otm.json"),
			"-n", "20", "-j", "4", "--seed", "42", "-o", h.path(name))
		require.NoError(t, err)
	}
	a, err := os.ReadFile(h.path("a.tsv"))
	require.NoError(t, err)
	b, err := os.ReadFile(h.path("b.tsv"))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	coll, err := casematch.LoadCollection(h.path("a.tsv"))
	require.NoError(t, err)
	assert.Equal(t, 20, coll.Len())
	assert.Equal(t, []string{"A", "B", "C"}, coll.Cases())
}

func TestShuffle_FromMetadata(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.exec("shuffle",
		"--metadata", h.path("md.tsv"), "--case-column", "status", "--case-value", "case",
		"--discrete", "sex", "--numeric", "age±5",
		"-n", "4", "--order", "fewest-first", "-o", h.path("coll.tsv"))
	require.NoError(t, err)
	assert.Contains(t, out, "shuffle: assignments=4")

	show, _, err := h.exec("runs", "show", runIDFrom(t, out))
	require.NoError(t, err)
	assert.Contains(t, show, "artifacts=one-to-many,collection")
	assert.Contains(t, show, "unmatched=1")

	coll, err := casematch.LoadCollection(h.path("coll.tsv"))
	require.NoError(t, err)
	for _, m := range coll.Matches() {
		assert.Equal(t, 2, m.Len())
	}
}

func TestPipelineThroughRegistry(t *testing.T) {
	h := newHarness(t)
	matchID := runIDFrom(t, h.match())

	out, _, err := h.exec("shuffle", "--run", matchID, "-n", "8", "--seed", "3", "-o", h.path("coll.tsv"))
	require.NoError(t, err)
	assert.Contains(t, out, "assignments=8")
	shuffleID := runIDFrom(t, out)

	show, _, err := h.exec("runs", "show", shuffleID)
	require.NoError(t, err)
	assert.Contains(t, show, "parent="+matchID)
	assert.Contains(t, show, "seed=3")
	assert.Contains(t, show, "iterations=8")

	t.Run("score", func(t *testing.T) {
		out, _, err := h.exec("score", "--run", shuffleID, "--metadata", h.path("md.tsv"), "--attributes", "age,bmi")
		require.NoError(t, err)
		tbl, err := tabular.ReadTSV(strings.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 16, tbl.Len(), "two matched pairs per iteration")
		assert.GreaterOrEqual(t, tbl.ColumnIndex("age_diff"), 0)
		assert.GreaterOrEqual(t, tbl.ColumnIndex("bmi_diff"), 0)
	})

	t.Run("univariate", func(t *testing.T) {
		out, errOut, err := h.exec("assess", "univariate", "--run", shuffleID,
			"--values", h.path("md.tsv"), "--column", "bmi", "--test", "welch")
		require.NoError(t, err)
		tbl, err := tabular.ReadTSV(strings.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 8, tbl.Len())
		assert.Contains(t, errOut, "assess: method=welch")
	})

	t.Run("multivariate", func(t *testing.T) {
		writeDistances(t, h.path("dm.tsv"))
		_, errOut, err := h.exec("assess", "multivariate", "--collection", h.path("coll.tsv"),
			"--distance-matrix", h.path("dm.tsv"), "--permutations", "19", "--seed", "1",
			"-o", h.path("perm.tsv"))
		require.NoError(t, err)
		assert.NotContains(t, errOut, "ERROR")

		tbl, err := tabular.ReadFile(h.path("perm.tsv"))
		require.NoError(t, err)
		assert.Equal(t, 8, tbl.Len())
	})

	t.Run("export", func(t *testing.T) {
		_, _, err := h.exec("runs", "export", shuffleID, "--collection", h.path("exported.tsv"))
		require.NoError(t, err)
		want, err := os.ReadFile(h.path("coll.tsv"))
		require.NoError(t, err)
		got, err := os.ReadFile(h.path("exported.tsv"))
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	})

	t.Run("delete", func(t *testing.T) {
		_, _, err := h.exec("runs", "delete", matchID)
		require.NoError(t, err)
		_, _, err = h.exec("runs", "show", matchID)
		require.Error(t, err)
		assert.Equal(t, 7, exitCode(err))
	})
}

func TestAssess_MissingValues(t *testing.T) {
	h := newHarness(t)
	h.match()
	_, _, err := h.exec("--no-store", "shuffle", "--one-to-many", h.path("otm.json"), "-n", "2", "-o", h.path("coll.tsv"))
	require.NoError(t, err)

	partial := "sample-id\tbmi\nA\t1\nB\t2\n"
	require.NoError(t, os.WriteFile(h.path("partial.tsv"), []byte(partial), 0o644))
	_, _, err = h.exec("assess", "univariate", "--collection", h.path("coll.tsv"),
		"--values", h.path("partial.tsv"), "--column", "bmi")
	require.Error(t, err)
	assert.ErrorIs(t, err, casematch.ErrDataCoverage)
	assert.Equal(t, 3, exitCode(err))
}

func TestRegistryDisabled(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec("--no-store", "runs", "list")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	out, _, err := h.exec("runs", "list")
	require.NoError(t, err)
	assert.Equal(t, "no runs\n", out)
}

func TestConfigInit(t *testing.T) {
	h := newHarness(t)
	path := h.path("conf/qupid.yaml")
	out, _, err := h.exec("config", "init", path)
	require.NoError(t, err)
	assert.Equal(t, "OK: wrote "+path+"\n", out)

	require.NoError(t, os.WriteFile(path, []byte("sampling:\n  iterations: 5\n"), 0o644))
	h.match()
	out, _, err = h.exec("--config", path, "--no-store", "shuffle", "--one-to-many", h.path("otm.json"), "-o", "-")
	require.NoError(t, err)
	coll, err := casematch.ReadCollectionTSV(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 5, coll.Len(), "iterations come from the config file")
}

func writeDistances(t *testing.T, path string) {
	t.Helper()
	ids := []string{"A", "B", "C", "X", "Y", "W", "V"}
	bmi := []float64{22.1, 25.3, 27.0, 21.0, 24.9, 23.5, 26.1}
	rows := make([][]float64, len(ids))
	for i := range ids {
		rows[i] = make([]float64, len(ids))
		for j := range ids {
			rows[i][j] = math.Abs(bmi[i] - bmi[j])
		}
	}
	dm, err := stats.NewDistanceMatrix(ids, rows)
	require.NoError(t, err)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, dm.WriteTSV(f))
}
