package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/supervisor"
	"github.com/ToaruPen/shogun-ops/internal/ui"
)

var superviseFlags struct {
	targets []int
	ghRepo  string
}

var superviseCmd = &cobra.Command{
	Use:   "supervise --once [--targets <n>...] [--gh-repo O/R]",
	Short: "Assign idle workers to compatible candidate issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveOpsRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}

		toplevel, err := opsroot.Toplevel("")
		if err != nil {
			return withExit(1, err)
		}

		result, err := supervisor.Supervise(context.Background(), root, supervisor.Options{
			Targets:        superviseFlags.targets,
			GHRepo:         superviseFlags.ghRepo,
			Config:         cfg,
			GitHub:         supervisor.RealGitHub(),
			OverlapChecker: supervisor.ScriptOverlapChecker(toplevel),
			Now:            nowUTC(),
		})
		if err != nil {
			return withExit(1, err)
		}

		enabled := colorEnabled()
		fmt.Println(ui.Success(enabled, fmt.Sprintf("orders=%d", len(result.OrdersWritten))))
		for _, id := range result.DecisionsWritten {
			fmt.Println(ui.Warn(enabled, fmt.Sprintf("decision=%s", id)))
		}
		return nil
	},
}

func init() {
	superviseCmd.Flags().Bool("once", true, "run a single supervise pass (the only supported mode)")
	superviseCmd.Flags().IntSliceVar(&superviseFlags.targets, "targets", nil, "explicit issue numbers to consider (default: list open issues)")
	superviseCmd.Flags().StringVar(&superviseFlags.ghRepo, "gh-repo", "", "OWNER/REPO (default: gh infers from origin)")
	rootCmd.AddCommand(superviseCmd)
}
