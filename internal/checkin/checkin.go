// Package checkin implements the Check-in Producer (spec.md §4.B): builds,
// validates, and atomically appends a single worker report to the queue.
package checkin

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
	"github.com/ToaruPen/shogun-ops/internal/validation"
)

// Input is everything the CLI layer gathers before producing a check-in.
type Input struct {
	Issue               int
	Phase               string
	ProgressPercent     int
	Summary             string
	Worker              string
	Timestamp           string
	IncludeStaged       bool
	FilesChanged        []string
	NoAutoFilesChanged  bool
	TestsCommand        string
	TestsResult         string
	NeedsApproval       bool
	RequestFiles        []string
	Blocker             string
	SkillCandidateName  string
	SkillCandidateSummary string
	RespondToDecision   string
	Next                []string
}

// Produce validates input, computes derived fields, and appends the
// resulting check-in to OPS_ROOT's queue. It returns the path written.
func Produce(opsRoot, repoDir string, in Input) (string, error) {
	if in.Worker == "" {
		return "", fmt.Errorf("worker id is required (pass --worker or set AGENTIC_SDD_WORKER)")
	}
	if in.Timestamp == "" {
		return "", fmt.Errorf("timestamp is required (pass --timestamp)")
	}

	toplevel, err := opsroot.Toplevel(repoDir)
	if err != nil {
		return "", err
	}

	filesChanged := in.FilesChanged
	if !in.NoAutoFilesChanged && len(filesChanged) == 0 {
		filesChanged, err = autoFilesChanged(toplevel, in.IncludeStaged)
		if err != nil {
			return "", fmt.Errorf("compute files_changed: %w", err)
		}
	}

	c := &types.Checkin{
		Version:         types.SchemaVersion,
		CheckinID:       fmt.Sprintf("%s-%d-%s", in.Worker, in.Issue, in.Timestamp),
		Timestamp:       in.Timestamp,
		Worker:          in.Worker,
		Issue:           in.Issue,
		Phase:           in.Phase,
		ProgressPercent: in.ProgressPercent,
		Summary:         in.Summary,
		Repo: types.Repo{
			WorktreeRoot: toplevel,
			Toplevel:     toplevel,
		},
		Changes: types.Changes{FilesChanged: filesChanged},
		Tests: types.Tests{
			Command: in.TestsCommand,
			Result:  in.TestsResult,
		},
		Needs: types.Needs{
			Approval: in.NeedsApproval,
			ContractExpansion: types.ContractExpansionNeed{
				RequestedFiles: in.RequestFiles,
			},
			Blocker: in.Blocker,
		},
		Next: in.Next,
	}
	if in.SkillCandidateName != "" {
		c.Candidates.Skills = []types.SkillCandidate{{
			Name:    in.SkillCandidateName,
			Summary: in.SkillCandidateSummary,
		}}
	}

	if err := validation.Full()(c); err != nil {
		return "", fmt.Errorf("invalid check-in: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal check-in: %w", err)
	}

	dest := filepath.Join(opsroot.QueueCheckinsDir(opsRoot), in.Worker, in.Timestamp+".yaml")
	if err := fsutil.CreateExclusive(dest, data, 0644); err != nil {
		return "", fmt.Errorf("write check-in: %w — next: choose a new --timestamp and retry", err)
	}
	return dest, nil
}

// autoFilesChanged computes files_changed from `git diff --name-only`
// against the worktree and, when includeStaged is set, the index too
// (spec.md §4.B step 2).
func autoFilesChanged(toplevel string, includeStaged bool) ([]string, error) {
	seen := map[string]bool{}
	var files []string

	add := func(args ...string) error {
		cmd := exec.Command("git", args...)
		cmd.Dir = toplevel
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("git %v: %w: %s", args, err, strings.TrimSpace(stderr.String()))
		}
		for _, line := range strings.Split(stdout.String(), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || seen[line] {
				continue
			}
			seen[line] = true
			files = append(files, line)
		}
		return nil
	}

	if err := add("diff", "--name-only"); err != nil {
		return nil, err
	}
	if includeStaged {
		if err := add("diff", "--name-only", "--cached"); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// DefaultWorker resolves the default worker id from AGENTIC_SDD_WORKER.
func DefaultWorker() string { return os.Getenv("AGENTIC_SDD_WORKER") }
