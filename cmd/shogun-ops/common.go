package main

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/ToaruPen/shogun-ops/internal/config"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// colorEnabled reports whether stdout styling should be applied: a real
// terminal, not piped into another process or a CI log (spec.md §6.2 keeps
// state.yaml/dashboard.md as the stable machine contract; styling here is
// cosmetic and must never change the plain-text content of anything other
// commands parse).
func colorEnabled() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// resolveOpsRoot finds OPS_ROOT for the current directory and materializes
// its skeleton and default config.yaml on first use (spec.md §4.A).
func resolveOpsRoot() (string, error) {
	root, err := opsroot.Resolve("")
	if err != nil {
		return "", withExit(1, err)
	}
	if err := opsroot.EnsureSkeleton(root); err != nil {
		return "", withExit(1, err)
	}
	if err := config.WriteDefault(opsroot.ConfigPath(root)); err != nil {
		return "", withExit(1, err)
	}
	return root, nil
}

// loadConfig loads OPS_ROOT's config.yaml, printing any non-fatal key
// warnings to stderr.
func loadConfig(opsRoot string) (*types.Config, error) {
	cfg, warnings, err := config.Load(opsroot.ConfigPath(opsRoot))
	if err != nil {
		return nil, withExit(1, err)
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}
	return cfg, nil
}

func nowUTC() time.Time { return time.Now().UTC() }
