// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

// Command pyprod is the CLI shell around the dependency engine in package
// pyprod: it parses flags and a build script, builds the requested
// targets, and maps engine errors to process exit codes (§6, §7).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pyprod-build/pyprod"
	"github.com/pyprod-build/pyprod/script"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) pyprod.ExitCode {
	var (
		scriptFile string
		jobs       int
		watchDirs  []string
		commitMode bool
		defines    []string
		verbose    bool
		listTasks  bool
		showGraph  bool
		why        string
	)

	root := &cobra.Command{
		Use:           "pyprod [targets...]",
		Short:         "A build-automation engine driven by rules, tasks, and checks",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
	}
	root.Flags().StringVarP(&scriptFile, "file", "f", "pyprodfile", "build script to load")
	root.Flags().IntVarP(&jobs, "jobs", "j", 0, "maximum concurrent handlers (0 = number of CPUs)")
	root.Flags().StringArrayVarP(&watchDirs, "watch", "w", nil, "watch directories and rebuild on change")
	root.Flags().BoolVarP(&commitMode, "git", "g", false, "use commit-history timestamps instead of mtimes")
	root.Flags().StringArrayVarP(&defines, "define", "D", nil, "set a script variable KEY=VALUE")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose build logging")
	root.Flags().BoolVarP(&listTasks, "list", "l", false, "list registered tasks and exit")
	root.Flags().BoolVar(&showGraph, "graph", false, "print the resolved dependency graph as DOT and exit")
	root.Flags().StringVar(&why, "why", "", "explain why a single target would rebuild, and exit")

	var exitCode pyprod.ExitCode
	root.RunE = func(cmd *cobra.Command, targets []string) error {
		logger := newLogger(verbose)

		host := script.NewHost()
		for _, d := range defines {
			name, value, ok := strings.Cut(d, "=")
			if !ok {
				exitCode = pyprod.ExitConfigError
				return fmt.Errorf("invalid -D value %q, want KEY=VALUE", d)
			}
			host.Vars.Set(name, value)
		}

		if err := loadScript(host, scriptFile); err != nil {
			exitCode = pyprod.ExitConfigError
			return err
		}

		if listTasks {
			for _, t := range host.Registry.Tasks() {
				fmt.Println(t)
			}
			return nil
		}

		if len(targets) == 0 {
			def, ok := host.Registry.DefaultTask()
			if !ok {
				exitCode = pyprod.ExitConfigError
				return fmt.Errorf("no targets given and no default task registered")
			}
			targets = []string{def}
		}

		store := pyprod.LoadCheckStore(pyprod.CheckStoreFile())
		oracle := pyprod.NewOracle(store, commitMode)

		if showGraph || why != "" {
			g, err := pyprod.BuildGraph(host.Registry, targets[0])
			if err != nil {
				exitCode = pyprod.ExitConfigError
				return err
			}
			if showGraph {
				g.WriteDOT(os.Stdout)
				return nil
			}
			node, _ := g.Node(why)
			reasons, err := oracle.Explain(node)
			if err != nil {
				exitCode = pyprod.ExitBuildError
				return err
			}
			if len(reasons) == 0 {
				fmt.Printf("%s is up to date\n", why)
			}
			for _, r := range reasons {
				fmt.Println(r)
			}
			return nil
		}

		n := jobs
		if n <= 0 {
			n = runtime.NumCPU()
		}
		sched := pyprod.NewScheduler(oracle, n, logger)
		host.BindScheduler(sched)

		ctx := context.Background()
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
		go func() {
			// Scheduler.Interrupt itself distinguishes first call (stop
			// dispatching new work) from second (cancel the context
			// running handlers observe, per §5).
			for range sigCh {
				sched.Interrupt()
			}
		}()

		buildErr := buildAll(ctx, sched, host.Registry, targets, watchDirs)

		if saveErr := store.Save(); saveErr != nil && buildErr == nil {
			buildErr = saveErr
		}

		if buildErr != nil {
			exitCode = pyprod.ExitCodeFor(buildErr)
			return buildErr
		}
		exitCode = pyprod.ExitSuccess
		return nil
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pyprod: %s\n", err)
		if exitCode == pyprod.ExitSuccess {
			exitCode = pyprod.ExitBuildError
		}
	}
	return exitCode
}

func buildAll(ctx context.Context, sched *pyprod.Scheduler, reg *pyprod.Registry, targets, watchDirs []string) error {
	build := func() error {
		g, err := pyprod.BuildGraph(reg, targets[0])
		if err != nil {
			return err
		}
		return sched.Run(ctx, g, targets)
	}

	if len(watchDirs) == 0 {
		return build()
	}

	// Watch mode polls mtimes under watchDirs rather than using an
	// inotify/fsnotify-style library: no complete repo in the retrieval
	// pack shows real fsnotify usage, so the engine follows the same
	// shell-first idiom it uses for git (vcs.go) and drives rebuilds from
	// a time.Ticker instead.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastSnapshot := snapshotDirs(watchDirs)
	if err := build(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := snapshotDirs(watchDirs)
			if snap != lastSnapshot {
				lastSnapshot = snap
				if err := build(); err != nil {
					fmt.Fprintf(os.Stderr, "pyprod: %s\n", err)
				}
			}
		}
	}
}

func snapshotDirs(dirs []string) string {
	var b strings.Builder
	for _, dir := range dirs {
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil {
				return nil
			}
			fmt.Fprintf(&b, "%s:%d:%d;", path, info.Size(), info.ModTime().UnixNano())
			return nil
		})
	}
	return b.String()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	useColor := isatty.IsTerminal(os.Stderr.Fd())
	opts := &slog.HandlerOptions{Level: level}
	if useColor {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
