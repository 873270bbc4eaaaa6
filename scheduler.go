// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Scheduler is the parallel work scheduler (§4.5, §5): it executes rule
// handlers with a bounded concurrency budget, respects `uses` order-only
// edges, enforces one concurrent build per target, and propagates failure.
//
// The supervisory logic is the teacher's recursive-concurrent design
// (exec.go's Executor.Build/doBuild): a node's build call only returns
// once every child's build call has returned, so "child terminal before
// parent Running" (§8 property 1) falls out of plain recursion rather than
// an explicit topological queue. A singleflight map keyed by canonical
// target gives "at most one build in flight per target" (§8 property 2)
// for the same reason the teacher's `building` map does.
type Scheduler struct {
	oracle *Oracle
	logger *slog.Logger
	jobs   int
	sem    chan struct{}

	mu       sync.Mutex
	building map[string]*buildResult

	cancelled  atomic.Bool
	hardCancel context.CancelFunc

	deferredMu sync.Mutex
	deferred   []string
}

type buildResult struct {
	done chan struct{}
	err  error
}

// NewScheduler returns a Scheduler bounded to jobs concurrent handlers
// (jobs < 1 is treated as 1, per §4.5's "J (>= 1)").
func NewScheduler(oracle *Oracle, jobs int, logger *slog.Logger) *Scheduler {
	if jobs < 1 {
		jobs = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		oracle:   oracle,
		logger:   logger,
		jobs:     jobs,
		sem:      make(chan struct{}, jobs),
		building: make(map[string]*buildResult),
	}
}

// Enqueue schedules targets to be resolved and built after the current wave
// completes, realizing the script API's `build(*targets)` — "schedules
// after return," per §6 and the open question in §9. Safe to call from
// within a running Handler.
func (s *Scheduler) Enqueue(targets ...string) {
	s.deferredMu.Lock()
	s.deferred = append(s.deferred, targets...)
	s.deferredMu.Unlock()
}

func (s *Scheduler) takeDeferred() []string {
	s.deferredMu.Lock()
	defer s.deferredMu.Unlock()
	out := s.deferred
	s.deferred = nil
	return out
}

// Interrupt signals the scheduler to stop. The first call raises the
// cancellation flag: no new work is dispatched, but already-running
// handlers are left to finish (§5). A second call additionally cancels the
// context passed to running handlers, so their subprocesses are signaled
// to terminate.
func (s *Scheduler) Interrupt() {
	wasCancelled := s.cancelled.Swap(true)
	if !wasCancelled {
		return
	}
	s.mu.Lock()
	hardCancel := s.hardCancel
	s.mu.Unlock()
	if hardCancel != nil {
		hardCancel()
	}
}

func (s *Scheduler) isCancelled() bool {
	return s.cancelled.Load()
}

// Run builds every target in targets against graph, then repeatedly drains
// any targets enqueued via Enqueue by handlers that ran during the wave,
// resolving newly-requested targets against graph as needed, until no more
// work remains or a build error occurs.
func (s *Scheduler) Run(ctx context.Context, graph *Graph, targets []string) error {
	hctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.hardCancel = cancel
	// Each Run is a fresh build pass (§4.5): a caller driving repeated
	// passes over one long-lived Scheduler — watch mode's rebuild loop —
	// must not inherit the prior pass's in-flight singleflight entries or
	// cancellation flag, or every target after the first successful (or
	// failed) pass would be served a stale cached result instead of being
	// rebuilt.
	s.building = make(map[string]*buildResult)
	s.cancelled.Store(false)
	s.mu.Unlock()
	defer cancel()

	for _, t := range targets {
		node, err := graph.resolveExtra(t)
		if err != nil {
			return err
		}
		if err := s.Build(hctx, node); err != nil {
			return err
		}
	}

	for {
		next := s.takeDeferred()
		if len(next) == 0 {
			return nil
		}
		for _, t := range next {
			node, err := graph.resolveExtra(t)
			if err != nil {
				return err
			}
			if err := s.Build(hctx, node); err != nil {
				return err
			}
		}
	}
}

// Build builds node and all of its dependencies, honoring the per-target
// in-flight exclusion: concurrent callers for the same canonical target
// share one outcome.
func (s *Scheduler) Build(ctx context.Context, node *Node) error {
	s.mu.Lock()
	if res, ok := s.building[node.Target]; ok {
		s.mu.Unlock()
		<-res.done
		return res.err
	}
	res := &buildResult{done: make(chan struct{})}
	s.building[node.Target] = res
	s.mu.Unlock()

	err := s.doBuild(ctx, node)
	res.err = err
	close(res.done)
	return err
}

func (s *Scheduler) doBuild(ctx context.Context, node *Node) error {
	if s.isCancelled() {
		s.setState(node, Failed)
		return &InterruptedError{}
	}

	if err := s.buildChildren(ctx, node.Depends, false); err != nil {
		s.setState(node, Failed)
		return err
	}
	if err := s.buildChildren(ctx, node.Uses, true); err != nil {
		s.setState(node, Failed)
		return err
	}

	if node.Binding == nil {
		// Leaf file with no rule, or a virtual node with no rule of its
		// own — nothing to build.
		s.setState(node, Skipped)
		return nil
	}

	s.setState(node, Ready)

	stale, err := s.oracle.IsStale(node)
	if err != nil {
		s.setState(node, Failed)
		return err
	}
	if !stale {
		s.setState(node, Skipped)
		return nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.setState(node, Failed)
		return &InterruptedError{}
	}
	defer func() { <-s.sem }()

	if s.isCancelled() {
		s.setState(node, Failed)
		return &InterruptedError{}
	}

	s.setState(node, Running)
	s.logger.Info("building", "target", node.Target, "stem", node.Stem)

	deps := depTargets(node.Depends)
	handlerErr := node.Binding.Rule.Handler(ctx, node.Target, deps)
	if handlerErr != nil {
		s.setState(node, Failed)
		s.cancelled.Store(true)
		s.logger.Error("build failed", "target", node.Target, "error", handlerErr)
		return &HandlerFailedError{Target: node.Target, Err: handlerErr}
	}

	if !node.IsTask() && !fileExists(node.Target) {
		// The cancellation flag is raised by buildChildren for a parent
		// reached through `depends`; a `uses` parent tolerates this error.
		s.setState(node, Failed)
		return &TargetNotProducedError{Target: node.Target}
	}

	s.setState(node, Built)
	s.logger.Info("built", "target", node.Target)
	return nil
}

// buildChildren builds each child concurrently, bounded only by the shared
// semaphore each child's own doBuild call acquires before running a
// handler. When uses is true, a TargetNotProducedError from a child is not
// fatal to the parent — §4.6: "a `uses` target that failed to produce its
// file is only fatal if some later handler actually requires it," which
// this scheduler does not attempt to detect beyond the child's own
// handler having run. Every other error kind (HandlerFailedError,
// CycleDetectedError, NoRuleForTargetError, ...) from a `uses` child is
// still fatal to the parent.
func (s *Scheduler) buildChildren(ctx context.Context, children []*Node, uses bool) error {
	if len(children) == 0 {
		return nil
	}
	var g errgroup.Group
	for _, child := range children {
		child := child
		g.Go(func() error {
			err := s.Build(ctx, child)
			if err == nil {
				return nil
			}
			if uses {
				var notProduced *TargetNotProducedError
				if errors.As(err, &notProduced) {
					return nil
				}
			}
			s.cancelled.Store(true)
			return err
		})
	}
	return g.Wait()
}

func (s *Scheduler) setState(n *Node, state NodeState) {
	s.mu.Lock()
	n.State = state
	s.mu.Unlock()
}

func depTargets(nodes []*Node) []string {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Target
	}
	return out
}
