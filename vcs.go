// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommitTime shells out to git to answer the questions the commit-history
// staleness mode (§4.4) needs: is path tracked, what was its last commit
// time, and does the committed snapshot still match the worktree. This
// follows the teacher's own idiom for invoking an external tool
// (state.go's runFingerprint, vars.go's funcShell both shell out via
// os/exec) rather than a Git-plumbing library — no complete repo in the
// retrieval pack demonstrates real usage of one.
func CommitTime(path string) (commitTime time.Time, tracked bool, matchesWorktree bool, err error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	out, runErr := exec.Command("git", "-C", dir, "log", "-1", "--format=%ct", "--", base).Output()
	if runErr != nil || len(strings.TrimSpace(string(out))) == 0 {
		// Not a git repository, or the file isn't tracked — not an error
		// condition for staleness purposes, just "no commit time available."
		return time.Time{}, false, false, nil
	}

	sec, parseErr := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if parseErr != nil {
		return time.Time{}, false, false, nil
	}
	commitTime = time.Unix(sec, 0)

	diffErr := exec.Command("git", "-C", dir, "diff", "--quiet", "HEAD", "--", base).Run()
	matchesWorktree = diffErr == nil

	return commitTime, true, matchesWorktree, nil
}
