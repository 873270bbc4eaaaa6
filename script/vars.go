// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

// Package script is the thin shell around the dependency engine (package
// pyprod) that a build script interacts with: variable storage plus a
// builder API mirroring the §6 rule()/task()/check()/build() surface.
// Loading and executing a script file itself — the -f FILE / -D KEY=VAL
// CLI surface that decides which script runs and with what overrides — is
// out of scope for the core engine and lives in cmd/pyprod, matching the
// spec's framing of script loading as a collaborator around the hard core.
package script

import (
	"os"
	"strings"
)

// Vars is a variable store, adapted from the teacher's text-macro Vars:
// every variable is also importable as an environment variable for
// handlers that shell out, and $name / ${name} / $$ expansion works the
// same way. Dropped relative to the teacher: lazy evaluation and
// user-defined $[func] expressions, neither of which the specification's
// `params` surface (§6) calls for.
type Vars struct {
	vals map[string]string
}

// NewVars returns a Vars store seeded from the process environment.
func NewVars() *Vars {
	v := &Vars{vals: make(map[string]string)}
	for _, env := range os.Environ() {
		k, val, ok := strings.Cut(env, "=")
		if ok {
			v.vals[k] = val
		}
	}
	return v
}

// Set assigns name immediately, overriding any prior value — the engine
// side of the CLI's -D KEY=VAL overrides (§6 `params`).
func (v *Vars) Set(name, value string) {
	v.vals[name] = value
}

// Get retrieves name's value, or "" if unset.
func (v *Vars) Get(name string) string {
	return v.vals[name]
}

// Environ returns the store as a NAME=VALUE slice suitable for exec.Cmd.Env.
func (v *Vars) Environ() []string {
	out := make([]string, 0, len(v.vals))
	for k, val := range v.vals {
		out = append(out, k+"="+val)
	}
	return out
}

// Expand substitutes $name and ${name} references in s with their value
// from v, and $$ with a literal $. References to unknown names are left
// as written.
func (v *Vars) Expand(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}
		i++
		if i >= len(s) {
			b.WriteByte('$')
			break
		}
		switch {
		case s[i] == '$':
			b.WriteByte('$')
			i++
		case s[i] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				b.WriteString("${")
				i++
				continue
			}
			name := s[i+1 : i+end]
			if val, ok := v.vals[name]; ok {
				b.WriteString(val)
			} else {
				b.WriteString("${" + name + "}")
			}
			i += end + 1
		case isIdentStart(s[i]):
			start := i
			for i < len(s) && isIdentCont(s[i]) {
				i++
			}
			name := s[start:i]
			// Names unknown to the store (notably the handler-level
			// $target/$input/$deps placeholders, which belong to a later
			// expansion pass over the recipe) are left untouched rather
			// than collapsed to "", so variable expansion and recipe
			// placeholder substitution can compose in either order.
			if val, ok := v.vals[name]; ok {
				b.WriteString(val)
			} else {
				b.WriteString("$" + name)
			}
		default:
			b.WriteByte('$')
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
