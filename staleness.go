// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"errors"
	"os"
	"time"
)

// Oracle is the staleness oracle (§4.4): it decides whether a dependency
// graph node needs rebuilding by combining filesystem timestamps, optional
// commit-history timestamps, and check-probe values.
type Oracle struct {
	Checks        *CheckStore
	CommitHistory bool

	// CommitTimeFn is overridable for tests; defaults to CommitTime
	// (which shells out to git).
	CommitTimeFn func(path string) (commitTime time.Time, tracked bool, matchesWorktree bool, err error)
}

// NewOracle returns an Oracle backed by store, with commit-history mode
// enabled per the -g flag.
func NewOracle(store *CheckStore, commitHistory bool) *Oracle {
	return &Oracle{Checks: store, CommitHistory: commitHistory, CommitTimeFn: CommitTime}
}

// EffectiveTimestamp returns the value the oracle compares between a node
// and its dependents (§4.4): a file's modification time (or the zero time,
// standing in for "-infinity", if missing), a check-derived "just changed"
// marker for virtual nodes, or — in commit-history mode — the commit time
// of a tracked, unmodified file.
func (o *Oracle) EffectiveTimestamp(n *Node) (time.Time, error) {
	if n.IsVirtual {
		return o.virtualTimestamp(n)
	}
	return o.fileTimestamp(n.Target)
}

func (o *Oracle) virtualTimestamp(n *Node) (time.Time, error) {
	value, err := n.CheckRef.Probe(n.Target)
	if err != nil {
		return time.Time{}, &CheckProbeFailedError{Resource: n.Target, Err: err}
	}
	effective, _, err := o.Checks.Observe(n.Target, value)
	if err != nil {
		return time.Time{}, err
	}
	return effective, nil
}

func (o *Oracle) fileTimestamp(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, nil // zero time stands in for "-infinity"
	}
	mtime := info.ModTime()

	if o.CommitHistory && o.CommitTimeFn != nil {
		if commitTime, tracked, matches, err := o.CommitTimeFn(path); err == nil && tracked && matches {
			return commitTime, nil
		}
	}
	return mtime, nil
}

// IsStale decides whether node needs rebuilding (§4.4). It is meaningful
// only for nodes bound to a rule (node.Binding != nil); leaf files and
// virtual nodes with no rule of their own are never scheduled for
// building, so the scheduler never calls IsStale on them. The decision is
// memoized on the node for the lifetime of one run, since a shared
// dependency may be visited through more than one parent.
func (o *Oracle) IsStale(n *Node) (bool, error) {
	if n.staleKnown {
		return n.stale, nil
	}

	stale, err := o.computeStale(n)
	if err != nil {
		// computeStale still reports its staleness verdict alongside a
		// CheckProbeFailedError (a failed probe counts as "changed," per
		// §7, but must also be surfaced as a build error) — leave the
		// decision unmemoized so a retried call re-probes rather than
		// caching a verdict reached under error.
		return stale, err
	}
	n.staleKnown = true
	n.stale = stale
	return stale, nil
}

func (o *Oracle) computeStale(n *Node) (bool, error) {
	if n.IsTask() {
		// Tasks produce no artifact whose timestamp can be compared;
		// they are unconditionally stale (§3, §4.4).
		return true, nil
	}

	targetTime, err := o.fileTimestamp(n.Target)
	if err != nil {
		return false, err
	}
	missing := targetTime.IsZero()

	rebuiltChild := false
	newerChild := false
	var probeFailure error
	for _, d := range n.Depends {
		if d.State == Built {
			// A child rebuilt this run unconditionally invalidates us,
			// even if its on-disk timestamp would say otherwise —
			// defensive against handlers that preserve old mtimes
			// (§4.5 "Rebuild propagation").
			rebuiltChild = true
		}
		childTime, err := o.EffectiveTimestamp(d)
		if err != nil {
			var probeErr *CheckProbeFailedError
			if errors.As(err, &probeErr) {
				// §7: a failed probe is treated as "changed" for staleness
				// purposes, but it must still be surfaced as a build error
				// (exit 1) rather than swallowed — keep the first one seen
				// and let it propagate once every dependency has been
				// considered.
				newerChild = true
				if probeFailure == nil {
					probeFailure = err
				}
				continue
			}
			return false, err
		}
		if childTime.After(targetTime) {
			newerChild = true
		}
	}

	if probeFailure != nil {
		return true, probeFailure
	}

	return missing || newerChild || rebuiltChild, nil
}

// Explain returns human-readable reasons n needs rebuilding, or nil if it
// is current. It does not consult or mutate the staleness memoization
// cache, so it is safe to call purely for diagnostics (the CLI's --why
// flag) without affecting a subsequent real build decision.
func (o *Oracle) Explain(n *Node) ([]string, error) {
	if n.Binding == nil {
		return nil, nil
	}
	if n.IsTask() {
		return []string{"task rules are always rebuilt"}, nil
	}

	var reasons []string
	targetTime, err := o.fileTimestamp(n.Target)
	if err != nil {
		return nil, err
	}
	if targetTime.IsZero() {
		reasons = append(reasons, n.Target+": target file does not exist")
	}
	for _, d := range n.Depends {
		if d.State == Built {
			reasons = append(reasons, d.Target+": rebuilt earlier this run")
			continue
		}
		childTime, err := o.EffectiveTimestamp(d)
		if err != nil {
			reasons = append(reasons, d.Target+": "+err.Error())
			continue
		}
		if childTime.After(targetTime) {
			reasons = append(reasons, d.Target+": newer than "+n.Target)
		}
	}
	return reasons, nil
}
