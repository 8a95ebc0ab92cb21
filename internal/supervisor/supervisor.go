// Package supervisor implements the Supervisor (spec.md §4.D): selects
// idle workers and compatible issues, computes file-overlap, and emits
// orders or decisions. No two concurrently active issues it assigns in one
// run ever share a declared change target.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/decision"
	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/ghcli"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// GitHub is the subset of ghcli the Supervisor needs, extracted as an
// interface so tests can supply a fake rather than shelling out to gh.
type GitHub interface {
	ListIssues(ctx context.Context, repo, label string) ([]ghcli.Issue, error)
	ViewIssueMeta(ctx context.Context, repo string, number int) (ghcli.Issue, error)
	ViewIssueBody(ctx context.Context, repo string, number int) (string, error)
}

type realGitHub struct{}

func (realGitHub) ListIssues(ctx context.Context, repo, label string) ([]ghcli.Issue, error) {
	return ghcli.ListIssues(ctx, repo, label)
}
func (realGitHub) ViewIssueMeta(ctx context.Context, repo string, number int) (ghcli.Issue, error) {
	return ghcli.ViewIssueMeta(ctx, repo, number)
}
func (realGitHub) ViewIssueBody(ctx context.Context, repo string, number int) (string, error) {
	return ghcli.ViewIssueBody(ctx, repo, number)
}

// RealGitHub is the production GitHub implementation, backed by the gh CLI.
func RealGitHub() GitHub { return realGitHub{} }

// changeTargetsHeading is the declared change-targets section the
// Supervisor looks for in an issue body (spec.md §4.D step 2).
const changeTargetsHeading = "### 変更対象ファイル（推定）"

var backtickPath = regexp.MustCompile("`([^`]+)`")

// ExtractChangeTargets pulls every backtick-quoted repo-relative path out
// of the declared change-targets section of an issue body. A missing or
// empty section returns nil.
func ExtractChangeTargets(body string) []string {
	lines := strings.Split(body, "\n")
	start := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == changeTargetsHeading {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return nil
	}
	var out []string
	for i := start; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			break
		}
		if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "*") {
			if trimmed == "" {
				continue
			}
			continue
		}
		m := backtickPath.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		if fsutil.ValidRepoRelativePath(m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}

// Candidate is one issue considered for assignment.
type Candidate struct {
	Number        int
	Title         string
	Labels        []string
	ChangeTargets []string
}

// OverlapChecker reports which candidate pairs (by index into candidates)
// share a declared change target. It abstracts the worktree-overlap
// subroutine of spec.md §4.D step 4.
type OverlapChecker func(candidates []Candidate) (OverlapResult, error)

// OverlapResult is the outcome of one overlap check run.
type OverlapResult struct {
	Conflicts []types.OverlapPair
}

// ConflictingIssues returns the set of issue numbers involved in any
// reported conflict.
func (r OverlapResult) ConflictingIssues() map[int]bool {
	out := map[int]bool{}
	for _, c := range r.Conflicts {
		for _, i := range c.Issues {
			out[i] = true
		}
	}
	return out
}

// ScriptOverlapChecker shells out to the first available worktree-overlap
// script (scripts/agentic-sdd/worktree.sh, falling back to
// scripts/shell/worktree.sh), interpreting exit code 0 as "no overlap", 3
// as "overlap", and anything else as an internal error (spec.md §4.D step
// 4). If neither script exists at toplevel, it falls back to computing
// overlap directly from each candidate's declared change targets — the
// script's own algorithm is a repository-external collaborator (spec.md
// §1), but its *contract* (pairwise file-set intersection) is reproducible
// in-process when the script isn't installed.
func ScriptOverlapChecker(toplevel string) OverlapChecker {
	return func(candidates []Candidate) (OverlapResult, error) {
		script := findOverlapScript(toplevel)
		if script == "" {
			return computeOverlapInProcess(candidates), nil
		}
		return runOverlapScript(script, toplevel, candidates)
	}
}

func findOverlapScript(toplevel string) string {
	for _, rel := range []string{
		filepath.Join("scripts", "agentic-sdd", "worktree.sh"),
		filepath.Join("scripts", "shell", "worktree.sh"),
	} {
		p := filepath.Join(toplevel, rel)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func runOverlapScript(script, toplevel string, candidates []Candidate) (OverlapResult, error) {
	args := []string{"check"}
	for _, c := range candidates {
		args = append(args, "--issue", fmt.Sprintf("%d", c.Number))
	}
	cmd := exec.Command(script, args...)
	cmd.Dir = toplevel
	out, err := cmd.Output()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return OverlapResult{}, fmt.Errorf("run overlap checker: %w", err)
		}
	}
	switch exitCode {
	case 0:
		return OverlapResult{}, nil
	case 3:
		var result OverlapResult
		if uerr := yaml.Unmarshal(out, &result); uerr != nil {
			// The script reported an overlap but didn't emit a parseable
			// file set; fall back to the in-process computation so we
			// still skip the conflicting issues rather than over-assign.
			return computeOverlapInProcess(candidates), nil
		}
		return result, nil
	default:
		return OverlapResult{}, fmt.Errorf("overlap checker exited %d", exitCode)
	}
}

func computeOverlapInProcess(candidates []Candidate) OverlapResult {
	var conflicts []types.OverlapPair
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			shared := intersect(candidates[i].ChangeTargets, candidates[j].ChangeTargets)
			if len(shared) > 0 {
				conflicts = append(conflicts, types.OverlapPair{
					Issues: []int{candidates[i].Number, candidates[j].Number},
					Files:  shared,
				})
			}
		}
	}
	return OverlapResult{Conflicts: conflicts}
}

func intersect(a, b []string) []string {
	set := map[string]bool{}
	for _, f := range a {
		set[f] = true
	}
	var out []string
	for _, f := range b {
		if set[f] {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Options configures one Supervise run.
type Options struct {
	Targets        []int
	GHRepo         string
	Config         *types.Config
	GitHub         GitHub
	OverlapChecker OverlapChecker
	Now            time.Time
}

// Result summarizes one Supervise run for the CLI's output contract
// ("orders=<count>" / "decision=<id>" lines, spec.md §6.1).
type Result struct {
	OrdersWritten   []string
	DecisionsWritten []string
}

// Supervise runs the full supervisor workflow.
func Supervise(ctx context.Context, opsRoot string, opt Options) (Result, error) {
	state, err := loadState(opsRoot)
	if err != nil {
		return Result{}, fmt.Errorf("load state: %w", err)
	}

	idle := idleWorkers(opt.Config, state)

	var numbers []int
	if len(opt.Targets) > 0 {
		numbers = opt.Targets
	} else {
		label := ""
		if opt.Config.Policy.Parallel.RequireParallelOKLabel {
			label = "parallel-ok"
		}
		issues, err := opt.GitHub.ListIssues(ctx, opt.GHRepo, label)
		if err != nil {
			return Result{}, fmt.Errorf("list candidate issues: %w", err)
		}
		for _, i := range issues {
			numbers = append(numbers, i.Number)
		}
	}

	var result Result
	var compatible []Candidate
	for _, n := range numbers {
		meta, err := opt.GitHub.ViewIssueMeta(ctx, opt.GHRepo, n)
		if err != nil {
			return Result{}, fmt.Errorf("view issue %d: %w", n, err)
		}
		body, err := opt.GitHub.ViewIssueBody(ctx, opt.GHRepo, n)
		if err != nil {
			return Result{}, fmt.Errorf("view issue %d body: %w", n, err)
		}
		targets := ExtractChangeTargets(body)
		if len(targets) == 0 {
			path, err := decision.Create(opsroot.QueueDecisionsDir(opsRoot), &types.Decision{
				Type:  string(types.DecisionMissingChangeTargets),
				Issue: n,
				Request: types.MissingChangeTargetsRequest{
					Reason: "issue body is missing or has an empty ### 変更対象ファイル（推定） section",
				},
			}, opt.Now)
			if err != nil {
				return Result{}, fmt.Errorf("write missing_change_targets decision: %w", err)
			}
			result.DecisionsWritten = append(result.DecisionsWritten, idFromPath(path))
			continue
		}
		compatible = append(compatible, Candidate{
			Number:        n,
			Title:         meta.Title,
			Labels:        meta.LabelNames(),
			ChangeTargets: targets,
		})
	}

	if len(compatible) > 1 {
		overlap, err := opt.OverlapChecker(compatible)
		if err != nil {
			return Result{}, fmt.Errorf("check overlap: %w", err)
		}
		if len(overlap.Conflicts) > 0 {
			path, err := decision.Create(opsroot.QueueDecisionsDir(opsRoot), &types.Decision{
				Type:    string(types.DecisionOverlapDetected),
				Request: types.OverlapDetectedRequest{Conflicts: overlap.Conflicts},
			}, opt.Now)
			if err != nil {
				return Result{}, fmt.Errorf("write overlap_detected decision: %w", err)
			}
			result.DecisionsWritten = append(result.DecisionsWritten, idFromPath(path))

			conflicting := overlap.ConflictingIssues()
			var filtered []Candidate
			for _, c := range compatible {
				if !conflicting[c.Number] {
					filtered = append(filtered, c)
				}
			}
			compatible = filtered
		}
	}

	maxOrders := opt.Config.Policy.Parallel.MaxWorkers
	if !opt.Config.Policy.Parallel.Enabled {
		maxOrders = 1
	}
	if maxOrders <= 0 {
		maxOrders = 1
	}

	fillCount := len(idle)
	if maxOrders < fillCount {
		fillCount = maxOrders
	}
	if len(compatible) < fillCount {
		fillCount = len(compatible)
	}

	for i := 0; i < fillCount; i++ {
		worker := idle[i]
		cand := compatible[i]
		implMode := resolveImplMode(opt.Config, cand.Labels)
		order := &types.Order{
			Version:       types.SchemaVersion,
			Issue:         cand.Number,
			Worker:        worker,
			ImplMode:      string(implMode),
			RequiredSteps: types.RequiredSteps(implMode),
			CreatedAt:     opt.Now,
		}
		path, err := writeOrder(opsRoot, order)
		if err != nil {
			return Result{}, fmt.Errorf("write order: %w", err)
		}
		result.OrdersWritten = append(result.OrdersWritten, path)
	}

	return result, nil
}

func resolveImplMode(cfg *types.Config, labels []string) types.ImplMode {
	for _, forced := range cfg.Policy.ImplMode.ForceTDDLabels {
		for _, l := range labels {
			if strings.EqualFold(l, forced) {
				return types.ImplModeTDD
			}
		}
	}
	if cfg.Policy.ImplMode.Default == string(types.ImplModeTDD) {
		return types.ImplModeTDD
	}
	return types.ImplModeImpl
}

// idleWorkers returns the configured worker ids not currently assigned to
// an issue in an active phase, sorted for deterministic fill order
// (spec.md §4.D step 1/5).
func idleWorkers(cfg *types.Config, state *types.State) []string {
	busy := map[string]bool{}
	for _, is := range state.Issues {
		switch types.Phase(is.Phase) {
		case types.PhaseEstimating, types.PhaseImplementing, types.PhaseReviewing:
			if is.AssignedTo != "" {
				busy[is.AssignedTo] = true
			}
		}
	}
	var idle []string
	for _, w := range cfg.Workers {
		if !busy[w.ID] {
			idle = append(idle, w.ID)
		}
	}
	sort.Strings(idle)
	return idle
}

func writeOrder(opsRoot string, order *types.Order) (string, error) {
	dir := filepath.Join(opsroot.QueueOrdersDir(opsRoot), order.Worker)
	base := order.CreatedAt.UTC().Format("20060102T150405Z")
	path, err := fsutil.CollisionSuffixPath(filepath.Join(dir, base+".yaml"))
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	if err := fsutil.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write order: %w", err)
	}
	return path, nil
}

func idFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func loadState(opsRoot string) (*types.State, error) {
	path := opsroot.StatePath(opsRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewState(), nil
		}
		return nil, err
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
