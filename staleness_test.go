// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newOracle(t *testing.T) *Oracle {
	t.Helper()
	dir := t.TempDir()
	return NewOracle(LoadCheckStore(filepath.Join(dir, "checks.json")), false)
}

func touch(t *testing.T, path string, when time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatal(err)
	}
}

func TestIsStaleMissingTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	touch(t, src, time.Now())

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{filepath.Join(dir, "out")}, Depends: Static(src), Handler: noopHandler}))
	g, err := BuildGraph(reg, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}

	stale, err := newOracle(t).IsStale(g.Root)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("a nonexistent target should always be stale")
	}
}

func TestIsStaleNewerSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	out := filepath.Join(dir, "out")
	base := time.Now().Truncate(time.Second)
	touch(t, out, base)
	touch(t, src, base.Add(time.Hour))

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{out}, Depends: Static(src), Handler: noopHandler}))
	g, err := BuildGraph(reg, out)
	if err != nil {
		t.Fatal(err)
	}

	stale, err := newOracle(t).IsStale(g.Root)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("target older than its dependency should be stale")
	}
}

func TestIsStaleUpToDate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	out := filepath.Join(dir, "out")
	base := time.Now().Truncate(time.Second)
	touch(t, src, base)
	touch(t, out, base.Add(time.Hour))

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{out}, Depends: Static(src), Handler: noopHandler}))
	g, err := BuildGraph(reg, out)
	if err != nil {
		t.Fatal(err)
	}

	stale, err := newOracle(t).IsStale(g.Root)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("target newer than its dependency should not be stale")
	}
}

func TestIsStaleTaskAlwaysRebuilds(t *testing.T) {
	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{"clean"}, IsTask: true, Handler: noopHandler}))
	g, err := BuildGraph(reg, "clean")
	if err != nil {
		t.Fatal(err)
	}
	stale, err := newOracle(t).IsStale(g.Root)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("a task rule should always be stale")
	}
}

func TestIsStaleMemoized(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	touch(t, out, time.Now())

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{out}, Handler: noopHandler}))
	g, err := BuildGraph(reg, out)
	if err != nil {
		t.Fatal(err)
	}

	o := newOracle(t)
	first, err := o.IsStale(g.Root)
	if err != nil {
		t.Fatal(err)
	}
	// Mutate the target after the first decision; a memoized decision
	// should not re-examine the filesystem.
	touch(t, out, time.Now().Add(-time.Hour))
	second, err := o.IsStale(g.Root)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("IsStale should be memoized for the run: first=%v second=%v", first, second)
	}
}

func TestIsStaleRebuiltChildForcesRebuild(t *testing.T) {
	dir := t.TempDir()
	child := filepath.Join(dir, "child")
	parent := filepath.Join(dir, "parent")
	base := time.Now().Truncate(time.Second)
	touch(t, child, base)
	touch(t, parent, base.Add(time.Hour)) // parent newer than child on disk

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{parent}, Depends: Static(child), Handler: noopHandler}))
	must(t, reg.RegisterRule(Rule{Targets: []string{child}, Handler: noopHandler}))
	g, err := BuildGraph(reg, parent)
	if err != nil {
		t.Fatal(err)
	}

	childNode, _ := g.Node(child)
	childNode.State = Built // simulate: rebuilt earlier this run

	stale, err := newOracle(t).IsStale(g.Root)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("a rebuilt child should force the parent stale regardless of on-disk mtimes")
	}
}

func TestIsStaleCheckProbeFailureSurfacesError(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	touch(t, out, time.Now())

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{out}, Depends: Static("check://x"), Handler: noopHandler}))
	must(t, reg.RegisterCheck(Check{
		ResourcePattern: "check://x",
		Probe: func(string) (any, error) {
			return nil, fmt.Errorf("probe boom")
		},
	}))
	g, err := BuildGraph(reg, out)
	if err != nil {
		t.Fatal(err)
	}

	stale, err := newOracle(t).IsStale(g.Root)
	var probeErr *CheckProbeFailedError
	if !errors.As(err, &probeErr) {
		t.Fatalf("IsStale error = %v, want a *CheckProbeFailedError", err)
	}
	if !stale {
		t.Error("a failed probe should still be treated as \"changed\" (stale)")
	}
}

func TestExplainDoesNotMutateMemoization(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	touch(t, out, time.Now())

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{out}, Handler: noopHandler}))
	g, err := BuildGraph(reg, out)
	if err != nil {
		t.Fatal(err)
	}

	o := newOracle(t)
	if _, err := o.Explain(g.Root); err != nil {
		t.Fatal(err)
	}
	if g.Root.staleKnown {
		t.Error("Explain must not populate the staleness memoization cache")
	}
}
