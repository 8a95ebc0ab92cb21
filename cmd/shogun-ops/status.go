package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/dashboard"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Initialize OPS_ROOT if absent and print dashboard.md",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveOpsRoot()
		if err != nil {
			return err
		}

		state, err := readState(root)
		if err != nil {
			return withExit(1, err)
		}

		md := dashboard.Render(state)
		if err := dashboard.PrintTerminal(os.Stdout, md, colorEnabled()); err != nil {
			return withExit(1, err)
		}
		return nil
	},
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

func init() {
	rootCmd.AddCommand(statusCmd)
}
