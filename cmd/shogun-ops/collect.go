package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/collector"
	"github.com/ToaruPen/shogun-ops/internal/ui"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Drain queue/checkins/ into state.yaml and dashboard.md",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveOpsRoot()
		if err != nil {
			return err
		}
		result, err := collector.Collect(root, nowUTC())
		if err != nil {
			if errors.Is(err, collector.ErrLockHeld) {
				return withExit(2, err)
			}
			return withExit(2, nextAction(err, "inspect queue/checkins/ for the offending file and fix or remove it"))
		}
		enabled := colorEnabled()
		fmt.Println(ui.Success(enabled, fmt.Sprintf("processed=%d", result.Processed)))
		for _, id := range result.Decisions {
			fmt.Println(ui.Warn(enabled, fmt.Sprintf("decision=%s", id)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
}
