// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import "strings"

// DependencySpec is a rule's declared dependency list, either a fixed
// (static) list bound at registration time or a callable resolved lazily
// with the concrete target at binding time (§9: "Dynamic dependencies").
type DependencySpec struct {
	static  []string
	dynamic func(target string) []string
}

// Static returns a DependencySpec with a fixed dependency list.
func Static(items ...string) DependencySpec {
	return DependencySpec{static: items}
}

// Dynamic returns a DependencySpec whose dependency list is computed by fn,
// invoked with the concrete target name once the rule has been selected.
func Dynamic(fn func(target string) []string) DependencySpec {
	return DependencySpec{dynamic: fn}
}

func (d DependencySpec) resolve(target string) []string {
	if d.dynamic != nil {
		return d.dynamic(target)
	}
	return d.static
}

// Rule is the registry's immutable-after-registration record mapping one or
// more target specifiers to a handler plus dependency lists (§3).
//
// A Rule is one of three kinds, determined by its Targets and Pattern
// fields:
//
//   - Concrete: Targets lists one or more literal names, Pattern is empty.
//   - Static-pattern: Targets lists one or more literal names, and Pattern
//     is a non-empty template containing exactly one '%' that binds each
//     listed target to a stem, used to expand Depends/Uses entries that
//     themselves contain '%'.
//   - Pattern-only: Targets contains exactly one entry containing '%', and
//     Pattern is empty; that single entry is both the match pattern and,
//     after substitution, the concrete target name.
type Rule struct {
	Targets []string
	Pattern string

	Depends DependencySpec
	Uses    DependencySpec

	Handler Handler

	// IsTask marks a phony, always-stale rule with no file output (§3).
	IsTask bool
	// Default marks this task as the registry's default build target.
	// Only meaningful when IsTask is true.
	Default bool
	// Keep records that a partially-produced file target is kept on
	// handler failure. The scheduler does not read it; the deletion is done
	// by ShellHandler/BufferedShellHandler according to their own keep
	// argument, which script.Host sets from the same flag.
	Keep bool
}

type ruleKind int

const (
	ruleConcrete ruleKind = iota
	ruleStaticPattern
	rulePatternOnly
)

// boundRule is a Rule plus its registration ordinal and parsed pattern
// state, as stored in the Registry.
type boundRule struct {
	rule    Rule
	ordinal int
	kind    ruleKind

	// staticPattern is the parsed Pattern for a ruleStaticPattern rule.
	staticPattern Pattern
	// soloPattern is the parsed Pattern for a rulePatternOnly rule.
	soloPattern Pattern
}

// Check is a pluggable staleness probe for a virtual (non-file) resource
// (§3). ResourcePattern matches virtual target names, typically containing
// "://" or a '%' wildcard. Probe returns an opaque comparable value; a
// probe value whose JSON encoding differs from the one recorded in the
// CheckStore (so structured data is compared by content) marks the
// resource as "just changed."
type Check struct {
	ResourcePattern string
	Probe           func(resource string) (any, error)
}

// Registry is the insertion-ordered collection of rules and checks plus the
// name of the default task (§3). It is read-only once graph construction
// begins.
type Registry struct {
	rules       []*boundRule
	checkPats   []Pattern
	checks      []Check
	defaultTask string
	hasDefault  bool
	taskOrder   []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterRule validates and stores rule at the next registration ordinal.
// It returns InvalidPatternError for a malformed pattern and
// MultipleDefaultsError if rule is a second task flagged Default.
func (reg *Registry) RegisterRule(rule Rule) error {
	if len(rule.Targets) == 0 {
		return &InvalidPatternError{Pattern: "", Reason: "rule has no targets"}
	}

	br := &boundRule{rule: rule, ordinal: len(reg.rules)}

	if rule.Pattern != "" {
		p, err := ParsePattern(rule.Pattern)
		if err != nil {
			return err
		}
		if !p.IsWildcard() {
			return &InvalidPatternError{Pattern: rule.Pattern, Reason: "static-pattern rule's pattern must contain '%'"}
		}
		for _, t := range rule.Targets {
			if strings.Contains(t, "%") {
				return &InvalidPatternError{Pattern: t, Reason: "static-pattern rule's enumerated targets must be literal"}
			}
		}
		br.kind = ruleStaticPattern
		br.staticPattern = p
	} else if len(rule.Targets) == 1 && strings.Contains(rule.Targets[0], "%") {
		p, err := ParsePattern(rule.Targets[0])
		if err != nil {
			return err
		}
		br.kind = rulePatternOnly
		br.soloPattern = p
	} else {
		for _, t := range rule.Targets {
			if strings.Contains(t, "%") {
				return &InvalidPatternError{Pattern: t, Reason: "a pattern target must be registered alone, without a separate Pattern template"}
			}
		}
		br.kind = ruleConcrete
	}

	if rule.IsTask {
		reg.taskOrder = append(reg.taskOrder, rule.Targets[0])
		if rule.Default {
			if reg.hasDefault {
				return &MultipleDefaultsError{First: reg.defaultTask, Second: rule.Targets[0]}
			}
			reg.hasDefault = true
			reg.defaultTask = rule.Targets[0]
		}
	}

	reg.rules = append(reg.rules, br)
	return nil
}

// RegisterCheck stores a staleness probe for a virtual resource pattern.
func (reg *Registry) RegisterCheck(c Check) error {
	p, err := ParsePattern(c.ResourcePattern)
	if err != nil {
		return err
	}
	reg.checkPats = append(reg.checkPats, p)
	reg.checks = append(reg.checks, c)
	return nil
}

// DefaultTask returns the registered default task name, if any.
func (reg *Registry) DefaultTask() (string, bool) {
	return reg.defaultTask, reg.hasDefault
}

// Tasks returns all registered task names in registration order, for the
// -l CLI surface.
func (reg *Registry) Tasks() []string {
	out := make([]string, len(reg.taskOrder))
	copy(out, reg.taskOrder)
	return out
}

// MatchCheck reports whether resource matches a registered check's
// resource pattern, returning the check and the bound stem (empty if the
// pattern had no '%'). The first registered matching check wins.
func (reg *Registry) MatchCheck(resource string) (*Check, string, bool) {
	for i, p := range reg.checkPats {
		if stem, ok := p.Bind(resource); ok {
			return &reg.checks[i], stem, true
		}
	}
	return nil, "", false
}

// Binding is the result of Select: the rule chosen for a target, its bound
// stem, and its expanded dependency/order-only lists (§4.2). Select returns
// a nil *Binding when no rule matches.
type Binding struct {
	Rule    *Rule
	Stem    string
	Depends []string
	Uses    []string
}

// Select resolves the best-matching rule for target, in the priority order
// specified by §4.2: concrete enumerated match, then static-pattern match,
// then pattern-only match (longest-prefix, then earliest ordinal), then
// "no match" (caller checks the filesystem and returns NoRuleForTarget
// itself when there is no file).
func (reg *Registry) Select(target string) (*Binding, error) {
	// 1. Concrete enumerated match.
	for _, br := range reg.rules {
		if br.kind != ruleConcrete {
			continue
		}
		if containsString(br.rule.Targets, target) {
			return reg.bindConcrete(br, target)
		}
	}

	// 2. Static-pattern match.
	for _, br := range reg.rules {
		if br.kind != ruleStaticPattern {
			continue
		}
		if !containsString(br.rule.Targets, target) {
			continue
		}
		stem, ok := br.staticPattern.Bind(target)
		if !ok {
			continue
		}
		return reg.bindWithStem(br, target, stem)
	}

	// 3. Pattern-only match, longest-prefix then earliest ordinal.
	var best *boundRule
	var bestStem string
	for _, br := range reg.rules {
		if br.kind != rulePatternOnly {
			continue
		}
		stem, ok := br.soloPattern.Bind(target)
		if !ok {
			continue
		}
		if best == nil ||
			br.soloPattern.PrefixLen() > best.soloPattern.PrefixLen() ||
			(br.soloPattern.PrefixLen() == best.soloPattern.PrefixLen() && br.ordinal < best.ordinal) {
			best = br
			bestStem = stem
		}
	}
	if best != nil {
		return reg.bindWithStem(best, target, bestStem)
	}

	// 4. No match — caller's responsibility to check the filesystem.
	return nil, nil
}

func (reg *Registry) bindConcrete(br *boundRule, target string) (*Binding, error) {
	return &Binding{
		Rule:    &br.rule,
		Depends: br.rule.Depends.resolve(target),
		Uses:    br.rule.Uses.resolve(target),
	}, nil
}

func (reg *Registry) bindWithStem(br *boundRule, target, stem string) (*Binding, error) {
	return &Binding{
		Rule:    &br.rule,
		Stem:    stem,
		Depends: br.rule.Depends.resolveWithStem(target, stem),
		Uses:    br.rule.Uses.resolveWithStem(target, stem),
	}, nil
}

// resolveWithStem resolves d for target the same way resolve does, except
// that a Static list additionally has '%' substituted with stem in each
// entry (§4.2: "each dependency item may itself contain '%'"). A Dynamic
// callback's result is never substituted: it already received the concrete
// target and computed its own dependency names, so a literal '%' it
// returns is not a wildcard to rewrite.
func (d DependencySpec) resolveWithStem(target, stem string) []string {
	if d.dynamic != nil {
		return d.dynamic(target)
	}
	return substituteAll(d.static, stem)
}

func substituteAll(items []string, stem string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = Substitute(s, stem)
	}
	return out
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
