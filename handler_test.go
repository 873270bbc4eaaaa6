// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestShellHandlerWritesTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")

	h := ShellHandler([]string{"echo hi > $target"}, nil, false)
	if err := h(context.Background(), target, nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi\n" {
		t.Errorf("target contents = %q, want %q", data, "hi\n")
	}
}

func TestShellHandlerDeletesTargetOnFailureUnlessKept(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")

	h := ShellHandler([]string{"echo partial > $target", "exit 1"}, nil, false)
	if err := h(context.Background(), target, nil); err == nil {
		t.Fatal("expected handler to fail")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("partially-produced target should be removed on failure")
	}

	keeper := ShellHandler([]string{"echo partial > $target", "exit 1"}, nil, true)
	if err := keeper(context.Background(), target, nil); err == nil {
		t.Fatal("expected handler to fail")
	}
	if _, err := os.Stat(target); err != nil {
		t.Error("keep=true should preserve a partially-produced target on failure")
	}
}

func TestExpandRecipeSubstitutesPlaceholders(t *testing.T) {
	got := expandRecipe([]string{"cc -o $target $deps"}, "out.o", []string{"a.c", "b.c"})
	want := "cc -o out.o a.c b.c"
	if got != want {
		t.Errorf("expandRecipe = %q, want %q", got, want)
	}
}

func TestExpandRecipeInputIsFirstDep(t *testing.T) {
	got := expandRecipe([]string{"cat $input"}, "out", []string{"first", "second"})
	if got != "cat first" {
		t.Errorf("expandRecipe = %q, want %q", got, "cat first")
	}
}

func TestBufferedShellHandlerFlushesAtomically(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	var gotOut, gotErr string
	h := BufferedShellHandler([]string{"echo hi", "echo bye 1>&2", "touch $target"}, nil, false, func(stdout, stderr string) {
		gotOut, gotErr = stdout, stderr
	})
	if err := h(context.Background(), target, nil); err != nil {
		t.Fatal(err)
	}
	if gotOut != "hi\n" {
		t.Errorf("stdout = %q, want %q", gotOut, "hi\n")
	}
	if gotErr != "bye\n" {
		t.Errorf("stderr = %q, want %q", gotErr, "bye\n")
	}
	if _, err := os.Stat(target); err != nil {
		t.Error("target should have been created")
	}
}
