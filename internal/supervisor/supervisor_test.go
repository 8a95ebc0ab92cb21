package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/decision"
	"github.com/ToaruPen/shogun-ops/internal/ghcli"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

func setupOpsRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, opsroot.EnsureSkeleton(root))
	return root
}

const changeTargetsBody = "### 変更対象ファイル（推定）\n- `src/a.ts`\n- `src/b.ts`\n"

// fakeGitHub answers ViewIssueMeta/ViewIssueBody from a fixed table instead
// of shelling out to gh.
type fakeGitHub struct {
	bodies map[int]string
	labels map[int][]string
}

func (f fakeGitHub) ListIssues(ctx context.Context, repo, label string) ([]ghcli.Issue, error) {
	var out []ghcli.Issue
	for n := range f.bodies {
		out = append(out, ghcli.Issue{Number: n})
	}
	return out, nil
}

func (f fakeGitHub) ViewIssueMeta(ctx context.Context, repo string, number int) (ghcli.Issue, error) {
	var labels []ghcli.Label
	for _, l := range f.labels[number] {
		labels = append(labels, ghcli.Label{Name: l})
	}
	return ghcli.Issue{Number: number, Title: "issue", Labels: labels}, nil
}

func (f fakeGitHub) ViewIssueBody(ctx context.Context, repo string, number int) (string, error) {
	return f.bodies[number], nil
}

func noOverlap(candidates []Candidate) (OverlapResult, error) {
	return OverlapResult{}, nil
}

func defaultConfig() *types.Config {
	return &types.Config{
		Version: types.SchemaVersion,
		Policy: types.Policy{
			Parallel: types.ParallelPolicy{Enabled: true, MaxWorkers: 2},
			ImplMode: types.ImplModePolicy{Default: string(types.ImplModeImpl)},
		},
		Workers: []types.Worker{{ID: "ashigaru1"}, {ID: "ashigaru2"}},
	}
}

func TestExtractChangeTargetsParsesBacktickedBullets(t *testing.T) {
	targets := ExtractChangeTargets(changeTargetsBody)
	assert.Equal(t, []string{"src/a.ts", "src/b.ts"}, targets)
}

func TestExtractChangeTargetsEmptyForMissingSection(t *testing.T) {
	assert.Nil(t, ExtractChangeTargets("no declared targets here"))
}

func TestSuperviseAssignsIdleWorkerToCompatibleIssue(t *testing.T) {
	root := setupOpsRoot(t)
	gh := fakeGitHub{bodies: map[int]string{1: changeTargetsBody}}

	result, err := Supervise(context.Background(), root, Options{
		Targets:        []int{1},
		Config:         defaultConfig(),
		GitHub:         gh,
		OverlapChecker: noOverlap,
		Now:            time.Date(2026, 1, 29, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, result.OrdersWritten, 1)

	data, err := os.ReadFile(result.OrdersWritten[0])
	require.NoError(t, err)
	var order types.Order
	require.NoError(t, yaml.Unmarshal(data, &order))
	assert.Equal(t, 1, order.Issue)
	assert.Equal(t, "ashigaru1", order.Worker)
	assert.Equal(t, []string{"/impl", "/create-pr", "/cleanup"}, order.RequiredSteps)
}

// Scenario 3 of spec.md §8: overlapping parallel-ok issues produce a
// decision and zero orders.
func TestSuperviseOverlapProducesDecisionNotOrders(t *testing.T) {
	root := setupOpsRoot(t)
	gh := fakeGitHub{bodies: map[int]string{
		1: "### 変更対象ファイル（推定）\n- `src/shared.ts`\n",
		2: "### 変更対象ファイル（推定）\n- `src/shared.ts`\n",
	}}

	overlap := func(candidates []Candidate) (OverlapResult, error) {
		return OverlapResult{Conflicts: []types.OverlapPair{{Issues: []int{1, 2}, Files: []string{"src/shared.ts"}}}}, nil
	}

	result, err := Supervise(context.Background(), root, Options{
		Targets:        []int{1, 2},
		Config:         defaultConfig(),
		GitHub:         gh,
		OverlapChecker: overlap,
		Now:            time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Empty(t, result.OrdersWritten)
	require.Len(t, result.DecisionsWritten, 1)

	open, err := decision.ListOpen(opsroot.QueueDecisionsDir(root))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.DecisionOverlapDetected, open[0].Type)
}

// Scenario 4 of spec.md §8: with no idle workers, supervise still emits
// decisions (missing_change_targets here) and writes zero orders.
func TestSuperviseNoIdleWorkersStillEmitsDecisions(t *testing.T) {
	root := setupOpsRoot(t)

	state := types.NewState()
	state.Issues["9"] = &types.IssueState{Phase: "implementing", AssignedTo: "ashigaru1"}
	state.Issues["10"] = &types.IssueState{Phase: "reviewing", AssignedTo: "ashigaru2"}
	data, err := yaml.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opsroot.StatePath(root), data, 0644))

	gh := fakeGitHub{bodies: map[int]string{5: "no section here"}}

	result, err := Supervise(context.Background(), root, Options{
		Targets:        []int{5},
		Config:         defaultConfig(),
		GitHub:         gh,
		OverlapChecker: noOverlap,
		Now:            time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Empty(t, result.OrdersWritten)
	require.Len(t, result.DecisionsWritten, 1)

	open, err := decision.ListOpen(opsroot.QueueDecisionsDir(root))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.DecisionMissingChangeTargets, open[0].Type)
}

func TestSuperviseForcesTDDForLabeledIssue(t *testing.T) {
	root := setupOpsRoot(t)
	gh := fakeGitHub{
		bodies: map[int]string{1: changeTargetsBody},
		labels: map[int][]string{1: {"needs-tdd"}},
	}

	cfg := defaultConfig()
	cfg.Policy.ImplMode.ForceTDDLabels = []string{"needs-tdd"}

	result, err := Supervise(context.Background(), root, Options{
		Targets:        []int{1},
		Config:         cfg,
		GitHub:         gh,
		OverlapChecker: noOverlap,
		Now:            time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, result.OrdersWritten, 1)

	data, err := os.ReadFile(result.OrdersWritten[0])
	require.NoError(t, err)
	var order types.Order
	require.NoError(t, yaml.Unmarshal(data, &order))
	assert.Equal(t, "tdd", order.ImplMode)
	assert.Equal(t, []string{"/tdd", "/create-pr", "/cleanup"}, order.RequiredSteps)
}

func TestSuperviseParallelDisabledCapsAtOneOrder(t *testing.T) {
	root := setupOpsRoot(t)
	gh := fakeGitHub{bodies: map[int]string{
		1: changeTargetsBody,
		2: "### 変更対象ファイル（推定）\n- `src/c.ts`\n",
	}}

	cfg := defaultConfig()
	cfg.Policy.Parallel.Enabled = false

	result, err := Supervise(context.Background(), root, Options{
		Targets:        []int{1, 2},
		Config:         cfg,
		GitHub:         gh,
		OverlapChecker: noOverlap,
		Now:            time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Len(t, result.OrdersWritten, 1)
}

func TestSuperviseOrderCollisionGetsSuffix(t *testing.T) {
	root := setupOpsRoot(t)
	now := time.Date(2026, 1, 29, 12, 0, 0, 0, time.UTC)
	dir := filepath.Join(opsroot.QueueOrdersDir(root), "ashigaru1")
	require.NoError(t, os.MkdirAll(dir, 0750))
	existing := filepath.Join(dir, now.UTC().Format("20060102T150405Z")+".yaml")
	require.NoError(t, os.WriteFile(existing, []byte("sentinel: true\n"), 0644))

	gh := fakeGitHub{bodies: map[int]string{1: changeTargetsBody}}
	result, err := Supervise(context.Background(), root, Options{
		Targets:        []int{1},
		Config:         defaultConfig(),
		GitHub:         gh,
		OverlapChecker: noOverlap,
		Now:            now,
	})
	require.NoError(t, err)
	require.Len(t, result.OrdersWritten, 1)
	assert.Equal(t, filepath.Join(dir, now.UTC().Format("20060102T150405Z")+"-001.yaml"), result.OrdersWritten[0])

	original, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "sentinel: true\n", string(original))
}
