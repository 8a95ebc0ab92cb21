package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/checkin"
)

var checkinFlags struct {
	worker             string
	timestamp          string
	includeStaged      bool
	filesChanged       []string
	noAutoFilesChanged bool
	testsCommand       string
	testsResult        string
	needsApproval      bool
	requestFiles       []string
	blocker            string
	skillName          string
	skillSummary       string
	respondTo          string
	next               []string
}

var checkinCmd = &cobra.Command{
	Use:   "checkin <issue> <phase> <percent> -- <summary...>",
	Short: "Append a worker's progress report to the queue",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var issue int
		if _, err := fmt.Sscanf(args[0], "%d", &issue); err != nil {
			return withExit(2, fmt.Errorf("invalid issue %q: must be an integer", args[0]))
		}
		phase := args[1]
		var percent int
		if _, err := fmt.Sscanf(args[2], "%d", &percent); err != nil {
			return withExit(2, fmt.Errorf("invalid percent %q: must be an integer", args[2]))
		}
		summary := joinArgs(args[3:])

		worker := checkinFlags.worker
		if worker == "" {
			worker = checkin.DefaultWorker()
		}
		timestamp := checkinFlags.timestamp
		if timestamp == "" {
			timestamp = time.Now().UTC().Format("20060102T150405Z")
		}

		root, err := resolveOpsRoot()
		if err != nil {
			return err
		}

		path, err := checkin.Produce(root, ".", checkin.Input{
			Issue:                 issue,
			Phase:                 phase,
			ProgressPercent:       percent,
			Summary:               summary,
			Worker:                worker,
			Timestamp:             timestamp,
			IncludeStaged:         checkinFlags.includeStaged,
			FilesChanged:          checkinFlags.filesChanged,
			NoAutoFilesChanged:    checkinFlags.noAutoFilesChanged,
			TestsCommand:          checkinFlags.testsCommand,
			TestsResult:           checkinFlags.testsResult,
			NeedsApproval:         checkinFlags.needsApproval,
			RequestFiles:          checkinFlags.requestFiles,
			Blocker:               checkinFlags.blocker,
			SkillCandidateName:    checkinFlags.skillName,
			SkillCandidateSummary: checkinFlags.skillSummary,
			RespondToDecision:     checkinFlags.respondTo,
			Next:                  checkinFlags.next,
		})
		if err != nil {
			return withExit(2, err)
		}
		fmt.Println(path)
		return nil
	},
}

func joinArgs(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func init() {
	checkinCmd.Flags().StringVar(&checkinFlags.worker, "worker", "", "worker id (default: $AGENTIC_SDD_WORKER)")
	checkinCmd.Flags().StringVar(&checkinFlags.timestamp, "timestamp", "", "check-in timestamp, YYYYMMDDThhmmssZ (default: now)")
	checkinCmd.Flags().BoolVar(&checkinFlags.includeStaged, "include-staged", false, "also include staged files in auto-detected files_changed")
	checkinCmd.Flags().StringSliceVar(&checkinFlags.filesChanged, "files-changed", nil, "explicit files_changed list (disables auto-detection)")
	checkinCmd.Flags().BoolVar(&checkinFlags.noAutoFilesChanged, "no-auto-files-changed", false, "don't auto-detect files_changed from git diff")
	checkinCmd.Flags().StringVar(&checkinFlags.testsCommand, "tests-command", "", "test command that was run")
	checkinCmd.Flags().StringVar(&checkinFlags.testsResult, "tests-result", "", "pass|fail|skip|not run")
	checkinCmd.Flags().BoolVar(&checkinFlags.needsApproval, "needs-approval", false, "flag this check-in for approval_required")
	checkinCmd.Flags().StringSliceVar(&checkinFlags.requestFiles, "request-files", nil, "files outside the current contract this check-in wants to touch")
	checkinCmd.Flags().StringVar(&checkinFlags.blocker, "blocker", "", "reason this issue is blocked")
	checkinCmd.Flags().StringVar(&checkinFlags.skillName, "skill-candidate-name", "", "propose a new skill by name")
	checkinCmd.Flags().StringVar(&checkinFlags.skillSummary, "skill-candidate-summary", "", "one-line summary of the proposed skill")
	checkinCmd.Flags().StringVar(&checkinFlags.respondTo, "respond-to", "", "decision id this check-in responds to")
	checkinCmd.Flags().StringSliceVar(&checkinFlags.next, "next", nil, "declared next steps")
	rootCmd.AddCommand(checkinCmd)
}
