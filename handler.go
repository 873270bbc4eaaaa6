// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Handler is a rule's opaque callable (§4.6). The scheduler invokes it with
// a fixed argument shape: the concrete target name, followed by the bound
// `depends` list. `uses` are never passed as arguments. A rule whose
// declared dependency is a single scalar receives a one-element deps slice;
// a rule declared with a sequence receives the whole sequence — Go's slice
// parameter naturally covers both the scalar and variadic-reception cases
// the spec describes for host languages that distinguish them.
//
// A non-nil error marks the node Failed (§3's execution state machine).
type Handler func(ctx context.Context, target string, deps []string) error

// ShellHandler returns a Handler that runs recipe as a shell script via
// `sh -c`, in the manner of the teacher's recipe executor: lines are joined
// with newlines after a leading `set -e`, so any failing command aborts the
// recipe. Each line may
// reference the placeholders $target (the concrete target name), $input
// (the first bound dependency, or empty), and $deps (all bound
// dependencies, space-joined) — substituted per invocation, which is what
// realizes the "(target, *bound_depends)" argument shape of §4.6 for
// shell-recipe rules.
//
// Output is streamed straight to the process's stdout/stderr (teacher's
// exec.go: streamed immediately for -j1 runs), so the output of
// concurrently-running recipes may interleave; BufferedShellHandler is the
// buffered variant.
func ShellHandler(recipe []string, env []string, keep bool) Handler {
	return func(ctx context.Context, target string, deps []string) error {
		script := expandRecipe(recipe, target, deps)
		cmd := exec.CommandContext(ctx, "sh", "-c", "set -e\n"+script)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if env != nil {
			cmd.Env = env
		}
		err := cmd.Run()
		if err != nil && !keep {
			os.Remove(target)
		}
		return err
	}
}

// BufferedShellHandler is like ShellHandler but buffers stdout/stderr and
// flushes them atomically through flush once the recipe completes, so
// concurrent recipe output under a parallel scheduler run doesn't
// interleave line-by-line (teacher's exec.go "parallel mode" output
// discipline).
func BufferedShellHandler(recipe []string, env []string, keep bool, flush func(stdout, stderr string)) Handler {
	return func(ctx context.Context, target string, deps []string) error {
		script := expandRecipe(recipe, target, deps)
		cmd := exec.CommandContext(ctx, "sh", "-c", "set -e\n"+script)
		var outBuf, errBuf bytes.Buffer
		var stdout, stderr io.Writer = &outBuf, &errBuf
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if env != nil {
			cmd.Env = env
		}
		err := cmd.Run()
		if flush != nil {
			flush(outBuf.String(), errBuf.String())
		}
		if err != nil && !keep {
			os.Remove(target)
		}
		return err
	}
}

func expandRecipe(recipe []string, target string, deps []string) string {
	input := ""
	if len(deps) > 0 {
		input = deps[0]
	}
	replacer := strings.NewReplacer(
		"$target", target,
		"$input", input,
		"$deps", strings.Join(deps, " "),
	)
	lines := make([]string, len(recipe))
	for i, l := range recipe {
		lines[i] = replacer.Replace(l)
	}
	return strings.Join(lines, "\n")
}
