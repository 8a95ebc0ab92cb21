package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/checkin"
	"github.com/ToaruPen/shogun-ops/internal/refactordraft"
)

var refactorDraftFlags struct {
	title     string
	worker    string
	timestamp string
}

var refactorDraftCmd = &cobra.Command{
	Use:   "refactor-draft --title <t> -- <summary...>",
	Short: "Append a refactor proposal to queue/refactor-drafts/",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if refactorDraftFlags.title == "" {
			return withExit(2, fmt.Errorf("--title is required"))
		}
		summary := joinArgs(args)

		worker := refactorDraftFlags.worker
		if worker == "" {
			worker = checkin.DefaultWorker()
		}
		timestamp := refactorDraftFlags.timestamp
		if timestamp == "" {
			timestamp = time.Now().UTC().Format("20060102T150405Z")
		}

		root, err := resolveOpsRoot()
		if err != nil {
			return err
		}
		path, err := refactordraft.Create(root, worker, timestamp, refactorDraftFlags.title, summary)
		if err != nil {
			return withExit(2, err)
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	refactorDraftCmd.Flags().StringVar(&refactorDraftFlags.title, "title", "", "refactor proposal title")
	refactorDraftCmd.Flags().StringVar(&refactorDraftFlags.worker, "worker", "", "worker id (default: $AGENTIC_SDD_WORKER)")
	refactorDraftCmd.Flags().StringVar(&refactorDraftFlags.timestamp, "timestamp", "", "draft timestamp, YYYYMMDDThhmmssZ (default: now)")
	rootCmd.AddCommand(refactorDraftCmd)
}
