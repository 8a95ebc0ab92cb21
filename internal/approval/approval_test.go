package approval

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToaruPen/shogun-ops/internal/decision"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

func setupOpsRoot(t *testing.T) (opsRoot, toplevel string) {
	t.Helper()
	toplevel = t.TempDir()
	opsRoot = filepath.Join(toplevel, ".git", "agentic-sdd-ops")
	require.NoError(t, opsroot.EnsureSkeleton(opsRoot))
	return opsRoot, toplevel
}

// Scenario 6 of spec.md §8: approving a skill_candidate decision writes the
// fixed-heading skill scaffold, appends a sorted README bullet, and
// archives the decision.
func TestApproveMaterializesSkillAndArchivesDecision(t *testing.T) {
	root, toplevel := setupOpsRoot(t)
	now := time.Date(2026, 1, 29, 12, 15, 1, 0, time.UTC)

	d := &types.Decision{
		Type: string(types.DecisionSkillCandidate),
		Request: types.SkillCandidateRequest{
			Name:    "contract-expansion-triage",
			Summary: "allowed_files 逸脱時の切り分け手順",
		},
	}
	_, err := decision.Create(opsroot.QueueDecisionsDir(root), d, now)
	require.NoError(t, err)

	result, err := Approve(root, toplevel, d.ID, now)
	require.NoError(t, err)

	body, err := os.ReadFile(result.SkillPath)
	require.NoError(t, err)
	for _, heading := range []string{
		"# contract-expansion-triage",
		"## Overview",
		"## Principles",
		"## Patterns",
		"## Checklist",
		"## Anti-patterns",
		"## Related",
	} {
		assert.Contains(t, string(body), heading)
	}
	assert.Contains(t, string(body), "allowed_files 逸脱時の切り分け手順")

	readme, err := os.ReadFile(filepath.Join(toplevel, "skills", "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "- [contract-expansion-triage.md](./contract-expansion-triage.md): allowed_files 逸脱時の切り分け手順")

	_, _, err = decision.Load(opsroot.QueueDecisionsDir(root), d.ID)
	assert.Error(t, err)
	_, _, err = decision.Load(opsroot.ArchiveDecisionsDir(root), d.ID)
	assert.NoError(t, err)
}

func TestApproveFailsFastOnWrongType(t *testing.T) {
	root, toplevel := setupOpsRoot(t)
	now := time.Now().UTC()

	d := &types.Decision{Type: string(types.DecisionBlocker), Issue: 1}
	_, err := decision.Create(opsroot.QueueDecisionsDir(root), d, now)
	require.NoError(t, err)

	_, err = Approve(root, toplevel, d.ID, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not skill_candidate")

	_, _, loadErr := decision.Load(opsroot.QueueDecisionsDir(root), d.ID)
	assert.NoError(t, loadErr, "decision must remain in place on failure")
}

func TestApproveFailsFastWhenSkillAlreadyExists(t *testing.T) {
	root, toplevel := setupOpsRoot(t)
	now := time.Now().UTC()

	skillsDir := opsroot.SkillsDir(toplevel)
	require.NoError(t, os.MkdirAll(skillsDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(skillsDir, "existing-skill.md"), []byte("# existing-skill\n"), 0644))

	d := &types.Decision{
		Type: string(types.DecisionSkillCandidate),
		Request: types.SkillCandidateRequest{Name: "existing-skill", Summary: "dup"},
	}
	_, err := decision.Create(opsroot.QueueDecisionsDir(root), d, now)
	require.NoError(t, err)

	_, err = Approve(root, toplevel, d.ID, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, loadErr := decision.Load(opsroot.QueueDecisionsDir(root), d.ID)
	assert.NoError(t, loadErr, "decision must remain in place on failure")
}

func TestApproveInsertsReadmeEntriesAlphabetically(t *testing.T) {
	root, toplevel := setupOpsRoot(t)
	now := time.Now().UTC()

	for _, name := range []string{"zeta-skill", "alpha-skill"} {
		d := &types.Decision{
			Type: string(types.DecisionSkillCandidate),
			Request: types.SkillCandidateRequest{Name: name, Summary: "summary for " + name},
		}
		_, err := decision.Create(opsroot.QueueDecisionsDir(root), d, now)
		require.NoError(t, err)
		_, err = Approve(root, toplevel, d.ID, now)
		require.NoError(t, err)
		now = now.Add(time.Second)
	}

	readme, err := os.ReadFile(filepath.Join(toplevel, "skills", "README.md"))
	require.NoError(t, err)
	alphaIdx := indexOf(string(readme), "alpha-skill")
	zetaIdx := indexOf(string(readme), "zeta-skill")
	assert.Less(t, alphaIdx, zetaIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
