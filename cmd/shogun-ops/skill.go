package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ToaruPen/shogun-ops/internal/approval"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/ui"
)

var skillFlags struct {
	approve string
}

var skillCmd = &cobra.Command{
	Use:   "skill --approve <decision-id>",
	Short: "Approve a skill_candidate decision into skills/",
	RunE: func(cmd *cobra.Command, args []string) error {
		if skillFlags.approve == "" {
			return withExit(2, fmt.Errorf("--approve <decision-id> is required"))
		}
		root, err := resolveOpsRoot()
		if err != nil {
			return err
		}
		toplevel, err := opsroot.Toplevel("")
		if err != nil {
			return withExit(2, err)
		}
		result, err := approval.Approve(root, toplevel, skillFlags.approve, nowUTC())
		if err != nil {
			return withExit(2, err)
		}
		fmt.Println(ui.Success(colorEnabled(), fmt.Sprintf("skill=%s", result.SkillPath)))
		return nil
	},
}

func init() {
	skillCmd.Flags().StringVar(&skillFlags.approve, "approve", "", "decision id to approve")
	rootCmd.AddCommand(skillCmd)
}
