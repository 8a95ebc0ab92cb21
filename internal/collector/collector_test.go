package collector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/decision"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

func setupOpsRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, opsroot.EnsureSkeleton(root))
	return root
}

func writeCheckin(t *testing.T, opsRoot string, c types.Checkin) string {
	t.Helper()
	if c.Version == "" {
		c.Version = types.SchemaVersion
	}
	data, err := yaml.Marshal(c)
	require.NoError(t, err)
	dir := filepath.Join(opsroot.QueueCheckinsDir(opsRoot), c.Worker)
	require.NoError(t, os.MkdirAll(dir, 0750))
	path := filepath.Join(dir, c.Timestamp+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func readState(t *testing.T, opsRoot string) *types.State {
	t.Helper()
	data, err := os.ReadFile(opsroot.StatePath(opsRoot))
	require.NoError(t, err)
	var s types.State
	require.NoError(t, yaml.Unmarshal(data, &s))
	return &s
}

// Scenario 1 of spec.md §8: happy-path checkin→collect.
func TestCollectHappyPathChekinBecomesState(t *testing.T) {
	root := setupOpsRoot(t)
	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-18-20260129T121501Z",
		Timestamp:       "20260129T121501Z",
		Worker:          "ashigaru1",
		Issue:           18,
		Phase:           "implementing",
		ProgressPercent: 40,
		Summary:         "progress",
		Tests:           types.Tests{Result: "pass"},
	})

	result, err := Collect(root, time.Date(2026, 1, 29, 12, 16, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	state := readState(t, root)
	issue := state.Issues["18"]
	require.NotNil(t, issue)
	assert.Equal(t, "implementing", issue.Phase)
	assert.Equal(t, 40, issue.ProgressPercent)
	require.Len(t, state.RecentCheckins, 1)
	assert.Equal(t, 18, state.RecentCheckins[0].Issue)

	md, err := os.ReadFile(opsroot.DashboardPath(root))
	require.NoError(t, err)
	assert.Contains(t, string(md), "#18")
	assert.Contains(t, string(md), "progress")

	_, err = os.Stat(filepath.Join(opsroot.QueueCheckinsDir(root), "ashigaru1", "20260129T121501Z.yaml"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(opsroot.ArchiveCheckinsDir(root), "ashigaru1", "20260129T121501Z.yaml"))
	assert.NoError(t, err)
}

// Property P7: progress_percent=0 must survive literally, never "unset".
func TestCollectPreservesZeroProgress(t *testing.T) {
	root := setupOpsRoot(t)
	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-4-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           4,
		Phase:           "backlog",
		ProgressPercent: 0,
		Summary:         "just started",
	})

	_, err := Collect(root, time.Now().UTC())
	require.NoError(t, err)

	state := readState(t, root)
	require.NotNil(t, state.Issues["4"])
	assert.Equal(t, 0, state.Issues["4"].ProgressPercent)
}

// Scenario 2 of spec.md §8: two approval_required-needing check-ins on the
// same issue across two collects still produce exactly one open decision.
func TestCollectDedupesApprovalRequired(t *testing.T) {
	root := setupOpsRoot(t)
	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-18-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           18,
		Phase:           "reviewing",
		ProgressPercent: 90,
		Summary:         "ready for review",
		Needs:           types.Needs{Approval: true},
	})
	_, err := Collect(root, time.Date(2026, 1, 29, 12, 1, 0, 0, time.UTC))
	require.NoError(t, err)

	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-18-20260129T120200Z",
		Timestamp:       "20260129T120200Z",
		Worker:          "ashigaru1",
		Issue:           18,
		Phase:           "reviewing",
		ProgressPercent: 95,
		Summary:         "still waiting",
		Needs:           types.Needs{Approval: true},
	})
	_, err = Collect(root, time.Date(2026, 1, 29, 12, 3, 0, 0, time.UTC))
	require.NoError(t, err)

	open, err := decision.ListOpen(opsroot.QueueDecisionsDir(root))
	require.NoError(t, err)
	count := 0
	for _, o := range open {
		if o.Type == types.DecisionApprovalRequired && o.Issue == 18 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// Scenario 5 of spec.md §8: contract drift blocks the issue and emits a
// major contract_expansion decision with the fixed option set.
func TestCollectContractDriftBlocksIssue(t *testing.T) {
	root := setupOpsRoot(t)

	state := types.NewState()
	state.Issues["1"] = &types.IssueState{
		Phase: "implementing",
		Contract: &types.Contract{
			AllowedFiles:   []string{"src/a.ts"},
			ForbiddenFiles: []string{"src/evil.ts"},
		},
	}
	data, err := yaml.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opsroot.StatePath(root), data, 0644))

	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-1-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           1,
		Phase:           "implementing",
		ProgressPercent: 50,
		Summary:         "touched more than planned",
		Changes:         types.Changes{FilesChanged: []string{"src/evil.ts"}},
	})

	_, err = Collect(root, time.Now().UTC())
	require.NoError(t, err)

	newState := readState(t, root)
	assert.Equal(t, "blocked", newState.Issues["1"].Phase)

	open, err := decision.ListOpen(opsroot.QueueDecisionsDir(root))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.DecisionContractExpansion, open[0].Type)
	assert.Equal(t, "major", open[0].Request["severity"])
	forbidden, _ := open[0].Request["forbidden_files"].([]any)
	require.Len(t, forbidden, 1)
	assert.Equal(t, "src/evil.ts", forbidden[0])
}

// Minor drift (outside allowed_files but not forbidden) must not block the
// issue, only request a minor contract_expansion.
func TestCollectMinorDriftDoesNotBlock(t *testing.T) {
	root := setupOpsRoot(t)

	state := types.NewState()
	state.Issues["2"] = &types.IssueState{
		Phase:    "implementing",
		Contract: &types.Contract{AllowedFiles: []string{"src/a.ts"}},
	}
	data, err := yaml.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opsroot.StatePath(root), data, 0644))

	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-2-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           2,
		Phase:           "implementing",
		ProgressPercent: 50,
		Summary:         "needed one more file",
		Changes:         types.Changes{FilesChanged: []string{"src/extra.ts"}},
	})

	_, err = Collect(root, time.Now().UTC())
	require.NoError(t, err)

	newState := readState(t, root)
	assert.Equal(t, "implementing", newState.Issues["2"].Phase)

	open, err := decision.ListOpen(opsroot.QueueDecisionsDir(root))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "minor", open[0].Request["severity"])
	options, _ := open[0].Request["options"].([]any)
	assert.Equal(t, []any{"拡張", "差し戻し", "Issue分割", "別Issueへ移動"}, options)
}

// Property P8: glob scoping is single-segment — src/*.ts must not match a
// nested path.
func TestCollectGlobScopingIsSingleSegment(t *testing.T) {
	root := setupOpsRoot(t)

	state := types.NewState()
	state.Issues["3"] = &types.IssueState{
		Phase:    "implementing",
		Contract: &types.Contract{AllowedFiles: []string{"src/*.ts"}},
	}
	data, err := yaml.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opsroot.StatePath(root), data, 0644))

	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-3-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           3,
		Phase:           "implementing",
		ProgressPercent: 50,
		Summary:         "touched a nested file",
		Changes:         types.Changes{FilesChanged: []string{"src/nested/a.ts"}},
	})

	_, err = Collect(root, time.Now().UTC())
	require.NoError(t, err)

	open, err := decision.ListOpen(opsroot.QueueDecisionsDir(root))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.DecisionContractExpansion, open[0].Type)
}

// Property P9/single-writer: a second collect while the lock is held must
// fail without mutating state.yaml.
func TestCollectFailsWhenLockHeld(t *testing.T) {
	root := setupOpsRoot(t)
	lockPath := opsroot.CollectLockPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0750))
	require.NoError(t, os.WriteFile(lockPath, []byte{}, 0644))

	before, err := os.ReadFile(opsroot.StatePath(root))
	beforeExists := err == nil

	_, err = Collect(root, time.Now().UTC())
	assert.ErrorIs(t, err, ErrLockHeld)

	_, err2 := os.Stat(opsroot.StatePath(root))
	if beforeExists {
		after, err3 := os.ReadFile(opsroot.StatePath(root))
		require.NoError(t, err3)
		assert.Equal(t, before, after)
	} else {
		assert.True(t, os.IsNotExist(err2))
	}
}

// Property P2/all-or-nothing: an invalid check-in aborts before any write,
// leaving a prior state.yaml untouched.
func TestCollectAbortsOnInvalidCheckinWithoutMutatingState(t *testing.T) {
	root := setupOpsRoot(t)

	_, err := Collect(root, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	before, err := os.ReadFile(opsroot.StatePath(root))
	require.NoError(t, err)

	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-9-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           9,
		Phase:           "not-a-real-phase",
		ProgressPercent: 10,
		Summary:         "bad phase",
	})

	_, err = Collect(root, time.Now().UTC())
	assert.Error(t, err)

	after, err := os.ReadFile(opsroot.StatePath(root))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The offending check-in must still be in the queue, unarchived.
	_, statErr := os.Stat(filepath.Join(opsroot.QueueCheckinsDir(root), "ashigaru1", "20260129T120000Z.yaml"))
	assert.NoError(t, statErr)
}

// Property P3: archive collisions never overwrite, they auto-suffix.
func TestCollectArchiveCollisionGetsSuffix(t *testing.T) {
	root := setupOpsRoot(t)
	archiveDir := filepath.Join(opsroot.ArchiveCheckinsDir(root), "ashigaru1")
	require.NoError(t, os.MkdirAll(archiveDir, 0750))
	existing := filepath.Join(archiveDir, "20260129T120000Z.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("sentinel: true\n"), 0644))

	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-9-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           9,
		Phase:           "backlog",
		ProgressPercent: 10,
		Summary:         "fresh report with a colliding timestamp",
	})

	_, err := Collect(root, time.Now().UTC())
	require.NoError(t, err)

	original, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "sentinel: true\n", string(original))

	_, err = os.Stat(filepath.Join(archiveDir, "20260129T120000Z-001.yaml"))
	assert.NoError(t, err)
}

// Skill candidates from the same check-in run are aggregated by name with
// deduplicated, sorted worker/submitter lists.
func TestCollectAggregatesSkillCandidatesAcrossWorkers(t *testing.T) {
	root := setupOpsRoot(t)
	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru1-5-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "ashigaru1",
		Issue:           5,
		Phase:           "reviewing",
		ProgressPercent: 80,
		Summary:         "noticed a reusable pattern",
		Candidates: types.CandidateSet{
			Skills: []types.SkillCandidate{{Name: "contract-triage", Summary: "how to triage contract drift"}},
		},
	})
	writeCheckin(t, root, types.Checkin{
		CheckinID:       "ashigaru2-6-20260129T120100Z",
		Timestamp:       "20260129T120100Z",
		Worker:          "ashigaru2",
		Issue:           6,
		Phase:           "reviewing",
		ProgressPercent: 80,
		Summary:         "same pattern showed up again",
		Candidates: types.CandidateSet{
			Skills: []types.SkillCandidate{{Name: "contract-triage", Summary: "how to triage contract drift"}},
		},
	})

	_, err := Collect(root, time.Now().UTC())
	require.NoError(t, err)

	open, err := decision.ListOpen(opsroot.QueueDecisionsDir(root))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.DecisionSkillCandidate, open[0].Type)
	workers, _ := open[0].Request["workers"].([]any)
	assert.Equal(t, []any{"ashigaru1", "ashigaru2"}, workers)
}

// A check-in planted through a traversal path outside queue/checkins/ is
// never picked up by collect (property P4).
func TestCollectRejectsPathTraversalInWorkerDir(t *testing.T) {
	root := setupOpsRoot(t)
	evilDir := filepath.Join(opsroot.QueueCheckinsDir(root), "..", "escaped")
	require.NoError(t, os.MkdirAll(evilDir, 0750))
	data, err := yaml.Marshal(types.Checkin{
		CheckinID:       "evil-1-20260129T120000Z",
		Timestamp:       "20260129T120000Z",
		Worker:          "evil",
		Issue:           1,
		Phase:           "backlog",
		ProgressPercent: 0,
		Summary:         "tampered",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(evilDir, "20260129T120000Z.yaml"), data, 0644))

	// The traversal directory sits outside queue/checkins/*/*.yaml's
	// enumeration pattern entirely, so it is never even visited.
	result, err := Collect(root, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestCollectActionRequiredRefreshesEvenWithNoCheckins(t *testing.T) {
	root := setupOpsRoot(t)
	_, err := decision.Create(opsroot.QueueDecisionsDir(root), &types.Decision{
		Type:  string(types.DecisionBlocker),
		Issue: 2,
		Request: types.BlockerRequest{Reason: "waiting on infra"},
	}, time.Now().UTC())
	require.NoError(t, err)

	_, err = Collect(root, time.Now().UTC())
	require.NoError(t, err)

	state := readState(t, root)
	require.Len(t, state.ActionRequired, 1)
}
