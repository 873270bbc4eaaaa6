// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package script

import "testing"

func TestVarsExpand(t *testing.T) {
	v := &Vars{vals: map[string]string{"CC": "gcc", "FLAGS": "-O2"}}
	tests := []struct {
		in   string
		want string
	}{
		{"$CC -c", "gcc -c"},
		{"${CC} -c $FLAGS", "gcc -c -O2"},
		{"$$HOME", "$HOME"},
		{"$UNKNOWN stays", "$UNKNOWN stays"},
		{"${UNKNOWN}", "${UNKNOWN}"},
		{"$target placeholder untouched", "$target placeholder untouched"},
	}
	for _, tt := range tests {
		if got := v.Expand(tt.in); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVarsSetGet(t *testing.T) {
	v := NewVars()
	v.Set("FOO", "bar")
	if got := v.Get("FOO"); got != "bar" {
		t.Errorf("Get(FOO) = %q, want %q", got, "bar")
	}
}

func TestVarsEnviron(t *testing.T) {
	v := &Vars{vals: map[string]string{"A": "1"}}
	env := v.Environ()
	if len(env) != 1 || env[0] != "A=1" {
		t.Errorf("Environ() = %v, want [A=1]", env)
	}
}
