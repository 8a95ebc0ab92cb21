// Command shogun-github-sync is the GitHub-Sync adapter (spec.md §4.G):
// reflects state.yaml onto GitHub issue labels and a single status comment
// per issue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/githubsync"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

var flags struct {
	issue  int
	repo   string
	dryRun bool
}

var rootCmd = &cobra.Command{
	Use:           "shogun-github-sync --issue <n> [--repo O/R] [--dry-run]",
	Short:         "Reflect state.yaml onto GitHub issue labels and comments",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if !flags.dryRun {
			if err := githubsync.Preflight(ctx); err != nil {
				return err
			}
		}

		root, err := opsroot.Resolve("")
		if err != nil {
			return err
		}
		state, err := readState(root)
		if err != nil {
			return err
		}

		plans := githubsync.BuildPlans(state)
		if flags.issue != 0 {
			plans = filterIssue(plans, flags.issue)
		}

		if flags.dryRun {
			fmt.Print(githubsync.DryRunReport(plans))
			return nil
		}

		if err := githubsync.EnsureLabels(ctx, flags.repo); err != nil {
			return err
		}
		for _, p := range plans {
			if err := githubsync.Apply(ctx, flags.repo, p); err != nil {
				return err
			}
		}
		return nil
	},
}

func filterIssue(plans []githubsync.Plan, issue int) []githubsync.Plan {
	for _, p := range plans {
		if p.Issue == issue {
			return []githubsync.Plan{p}
		}
	}
	return nil
}

func readState(opsRoot string) (*types.State, error) {
	data, err := os.ReadFile(opsroot.StatePath(opsRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewState(), nil
		}
		return nil, fmt.Errorf("read state.yaml: %w", err)
	}
	var s types.State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state.yaml: %w", err)
	}
	if s.Issues == nil {
		s.Issues = map[string]*types.IssueState{}
	}
	return &s, nil
}

func main() {
	rootCmd.Flags().IntVar(&flags.issue, "issue", 0, "issue number to sync (default: all tracked issues)")
	rootCmd.Flags().StringVar(&flags.repo, "repo", "", "OWNER/REPO (default: gh infers from origin)")
	rootCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the label/comment plan instead of calling gh")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shogun-github-sync: %v\n", err)
		os.Exit(1)
	}
}
