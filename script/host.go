// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package script

import (
	"context"

	"github.com/pyprod-build/pyprod"
)

// Host is the engine-side counterpart of a loaded build script: it holds
// the variable store a script reads `params` from and exposes the
// rule()/task()/check()/build() surface of §6 as Go methods, registering
// into a pyprod.Registry. Actually parsing and executing a script file is
// the out-of-scope collaborator named in the specification; Host is what
// that collaborator calls into.
type Host struct {
	Vars     *Vars
	Registry *pyprod.Registry

	scheduler *pyprod.Scheduler
}

// NewHost returns a Host with a fresh, environment-seeded Vars store and
// an empty Registry.
func NewHost() *Host {
	return &Host{Vars: NewVars(), Registry: pyprod.NewRegistry()}
}

// BindScheduler attaches the scheduler a running build uses, so a script's
// `build()` calls (invoked from a running handler) can enqueue further
// targets (§6, §9).
func (h *Host) BindScheduler(s *pyprod.Scheduler) {
	h.scheduler = s
}

// RuleSpec is the declarative shape a script supplies to Rule; it mirrors
// §6's `rule(target=..., depends=..., uses=..., action=...)` call, with
// Action standing in for the host-language recipe/function the script
// would otherwise supply.
type RuleSpec struct {
	Targets []string
	Pattern string

	Depends     []string
	DependsFunc func(target string) []string
	Uses        []string
	UsesFunc    func(target string) []string

	// Recipe is a shell-style recipe, expanded through Vars at
	// registration time and through the $target/$input/$deps
	// placeholders at invocation time (§4.6). Mutually exclusive with
	// Action.
	Recipe []string
	// Action is a caller-supplied handler body, used directly when a
	// rule's effect is not expressible as a shell recipe. Mutually
	// exclusive with Recipe.
	Action func(target string, deps []string) error

	Keep bool
}

// Rule registers spec as a concrete, static-pattern, or pattern-only rule
// per §4.2, inferred from spec.Targets/spec.Pattern the same way
// pyprod.Rule classifies itself.
func (h *Host) Rule(spec RuleSpec) error {
	return h.Registry.RegisterRule(h.buildRule(spec, false))
}

// Task registers spec as a phony task (§3), optionally the registry's
// default build target.
func (h *Host) Task(spec RuleSpec, isDefault bool) error {
	rule := h.buildRule(spec, true)
	rule.Default = isDefault
	return h.Registry.RegisterRule(rule)
}

func (h *Host) buildRule(spec RuleSpec, isTask bool) pyprod.Rule {
	rule := pyprod.Rule{
		Targets: spec.Targets,
		Pattern: spec.Pattern,
		IsTask:  isTask,
		Keep:    spec.Keep,
	}

	switch {
	case spec.DependsFunc != nil:
		rule.Depends = pyprod.Dynamic(spec.DependsFunc)
	default:
		rule.Depends = pyprod.Static(h.expandAll(spec.Depends)...)
	}
	switch {
	case spec.UsesFunc != nil:
		rule.Uses = pyprod.Dynamic(spec.UsesFunc)
	default:
		rule.Uses = pyprod.Static(h.expandAll(spec.Uses)...)
	}

	switch {
	case spec.Action != nil:
		action := spec.Action
		rule.Handler = func(_ context.Context, target string, deps []string) error {
			return action(target, deps)
		}
	default:
		recipe := h.expandAll(spec.Recipe)
		rule.Handler = pyprod.ShellHandler(recipe, h.Vars.Environ(), spec.Keep)
	}

	return rule
}

// Check registers a staleness probe for a virtual resource pattern (§3).
func (h *Host) Check(resourcePattern string, probe func(resource string) (any, error)) error {
	return h.Registry.RegisterCheck(pyprod.Check{ResourcePattern: resourcePattern, Probe: probe})
}

// Build enqueues targets to be built after the current wave finishes,
// realizing the script API's `build(*targets)` (§6, §9). It is a no-op if
// no scheduler has been bound, which is the case while a script merely
// registers rules and has not yet started a build.
func (h *Host) Build(targets ...string) {
	if h.scheduler != nil {
		h.scheduler.Enqueue(targets...)
	}
}

func (h *Host) expandAll(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = h.Vars.Expand(s)
	}
	return out
}
