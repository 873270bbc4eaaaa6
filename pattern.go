// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import "strings"

// Pattern is a target or dependency pattern containing at most one '%'
// wildcard. The wildcard may span path separators. A pattern with no '%'
// only matches a target that equals it exactly.
type Pattern struct {
	raw    string
	hasPct bool
	prefix string // text before '%', when hasPct
	suffix string // text after '%', when hasPct
}

// ParsePattern parses s into a Pattern, per §4.1. It returns an
// InvalidPatternError if s contains more than one '%'.
func ParsePattern(s string) (Pattern, error) {
	n := strings.Count(s, "%")
	if n > 1 {
		return Pattern{}, &InvalidPatternError{Pattern: s, Reason: "contains more than one '%'"}
	}
	if n == 0 {
		return Pattern{raw: s}, nil
	}
	idx := strings.IndexByte(s, '%')
	return Pattern{
		raw:    s,
		hasPct: true,
		prefix: s[:idx],
		suffix: s[idx+1:],
	}, nil
}

// MustParsePattern is like ParsePattern but panics on error. Intended for
// patterns known to be valid at compile time (tests, constants).
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// IsWildcard reports whether the pattern contains a '%'.
func (p Pattern) IsWildcard() bool { return p.hasPct }

// PrefixLen returns the length of the pattern's literal prefix before '%',
// used by the registry to break ties between multiple matching pattern
// rules (§4.2: "longest literal-prefix match"). For a pattern with no '%',
// this is the length of the whole literal.
func (p Pattern) PrefixLen() int {
	if !p.hasPct {
		return len(p.raw)
	}
	return len(p.prefix)
}

// Bind matches target against the pattern and returns the substring '%'
// binds to (the stem), and whether the match succeeded. An empty stem is a
// valid match. A pattern without '%' matches only when target equals it
// exactly, with a (conventionally empty) stem.
func (p Pattern) Bind(target string) (stem string, ok bool) {
	if !p.hasPct {
		if target == p.raw {
			return "", true
		}
		return "", false
	}
	if !strings.HasPrefix(target, p.prefix) || !strings.HasSuffix(target, p.suffix) {
		return "", false
	}
	rest := target[len(p.prefix):]
	stemLen := len(rest) - len(p.suffix)
	if stemLen < 0 {
		return "", false
	}
	return rest[:stemLen], true
}

// Substitute replaces the single '%' in template with stem. A template
// without '%' is returned unchanged.
func Substitute(template, stem string) string {
	idx := strings.IndexByte(template, '%')
	if idx < 0 {
		return template
	}
	return template[:idx] + stem + template[idx+1:]
}

// Expand substitutes this pattern's own stem, i.e. Substitute(p.raw, stem).
// Used when a pattern rule's target pattern doubles as the substitution
// template for deriving the concrete target name from a stem.
func (p Pattern) Expand(stem string) string {
	return Substitute(p.raw, stem)
}
