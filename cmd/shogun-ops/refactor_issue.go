package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/refactordraft"
	"github.com/ToaruPen/shogun-ops/internal/ui"
)

var refactorIssueFlags struct {
	draft  string
	ghRepo string
}

var refactorIssueCmd = &cobra.Command{
	Use:   "refactor-issue --draft <path> [--gh-repo O/R]",
	Short: "Create a GitHub issue from a refactor draft and archive it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if refactorIssueFlags.draft == "" {
			return withExit(1, fmt.Errorf("--draft <path> is required"))
		}
		root, err := resolveOpsRoot()
		if err != nil {
			return err
		}
		url, archived, err := refactordraft.Promote(context.Background(), root, refactorIssueFlags.draft, refactorIssueFlags.ghRepo)
		if err != nil {
			return withExit(1, err)
		}
		fmt.Println(ui.Success(colorEnabled(), fmt.Sprintf("issue=%s", url)))
		fmt.Printf("archived=%s\n", archived)
		return nil
	},
}

func init() {
	refactorIssueCmd.Flags().StringVar(&refactorIssueFlags.draft, "draft", "", "path to the refactor draft to promote")
	refactorIssueCmd.Flags().StringVar(&refactorIssueFlags.ghRepo, "gh-repo", "", "OWNER/REPO (default: gh infers from origin)")
	rootCmd.AddCommand(refactorIssueCmd)
}
