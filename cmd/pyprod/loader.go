// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pyprod-build/pyprod/script"
)

// scriptFileRule is the on-disk shape of one rule/task entry in a build
// script file. Script loading is explicitly named an out-of-scope
// collaborator around the dependency engine's hard core; this JSON
// manifest is the thin, swappable stand-in for the host-language script a
// real deployment would load instead (§1, §6).
type scriptFileRule struct {
	Targets []string `json:"targets"`
	Pattern string   `json:"pattern,omitempty"`
	Depends []string `json:"depends,omitempty"`
	Uses    []string `json:"uses,omitempty"`
	Recipe  []string `json:"recipe"`
	Keep    bool     `json:"keep,omitempty"`
	Task    bool     `json:"task,omitempty"`
	Default bool     `json:"default,omitempty"`
}

type scriptFile struct {
	Vars  map[string]string `json:"vars,omitempty"`
	Rules []scriptFileRule  `json:"rules"`
}

// loadScript reads path as a JSON manifest and registers its rules and
// tasks into host.
func loadScript(host *script.Host, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading build script %s: %w", path, err)
	}

	var sf scriptFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parsing build script %s: %w", path, err)
	}

	for name, value := range sf.Vars {
		if host.Vars.Get(name) == "" {
			host.Vars.Set(name, value)
		}
	}

	for _, r := range sf.Rules {
		spec := script.RuleSpec{
			Targets: r.Targets,
			Pattern: r.Pattern,
			Depends: r.Depends,
			Uses:    r.Uses,
			Recipe:  r.Recipe,
			Keep:    r.Keep,
		}
		var regErr error
		if r.Task {
			regErr = host.Task(spec, r.Default)
		} else {
			regErr = host.Rule(spec)
		}
		if regErr != nil {
			return fmt.Errorf("registering rule for %v: %w", r.Targets, regErr)
		}
	}

	return nil
}
