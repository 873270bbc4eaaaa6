// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildGraphDiamondSharesNode(t *testing.T) {
	dir := t.TempDir()
	leaf := filepath.Join(dir, "leaf.txt")
	if err := os.WriteFile(leaf, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{"top"}, IsTask: true, Depends: Static("a", "b"), Handler: noopHandler}))
	must(t, reg.RegisterRule(Rule{Targets: []string{"a"}, Depends: Static(leaf), Handler: noopHandler}))
	must(t, reg.RegisterRule(Rule{Targets: []string{"b"}, Depends: Static(leaf), Handler: noopHandler}))

	g, err := BuildGraph(reg, "top")
	if err != nil {
		t.Fatal(err)
	}

	aNode, _ := g.Node("a")
	bNode, _ := g.Node("b")
	if aNode.Depends[0] != bNode.Depends[0] {
		t.Errorf("leaf node not shared between a and b: %p != %p", aNode.Depends[0], bNode.Depends[0])
	}
}

func TestBuildGraphCycle(t *testing.T) {
	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{"x"}, Depends: Static("y"), Handler: noopHandler}))
	must(t, reg.RegisterRule(Rule{Targets: []string{"y"}, Depends: Static("x"), Handler: noopHandler}))

	_, err := BuildGraph(reg, "x")
	var cde *CycleDetectedError
	if !errors.As(err, &cde) {
		t.Fatalf("BuildGraph with cycle: got %v, want *CycleDetectedError", err)
	}
}

func TestBuildGraphNoRuleNoFile(t *testing.T) {
	reg := NewRegistry()
	_, err := BuildGraph(reg, "nonexistent")
	var nre *NoRuleForTargetError
	if !errors.As(err, &nre) {
		t.Fatalf("BuildGraph for unmatched target with no file: got %v, want *NoRuleForTargetError", err)
	}
}

func TestBuildGraphVirtualCheckNode(t *testing.T) {
	reg := NewRegistry()
	must(t, reg.RegisterRule(Rule{Targets: []string{"deploy"}, IsTask: true, Depends: Static("service://web"), Handler: noopHandler}))
	must(t, reg.RegisterCheck(Check{
		ResourcePattern: "service://%",
		Probe:           func(string) (any, error) { return "ok", nil },
	}))

	g, err := BuildGraph(reg, "deploy")
	if err != nil {
		t.Fatal(err)
	}
	svc, ok := g.Node("service://web")
	if !ok {
		t.Fatal("expected service://web node to exist")
	}
	if !svc.IsVirtual {
		t.Error("expected service://web to be virtual")
	}
	if svc.Stem != "web" {
		t.Errorf("stem = %q, want %q", svc.Stem, "web")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
