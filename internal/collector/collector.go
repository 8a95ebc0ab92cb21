// Package collector implements the Collector (spec.md §4.C), the system's
// single writer for state.yaml, dashboard.md, and the decisions queue. It
// drains queue/checkins/, folds valid entries into an in-memory State,
// derives decisions, archives inputs, and atomically rewrites its outputs —
// all or nothing, under an exclusive-create lock.
package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/dashboard"
	"github.com/ToaruPen/shogun-ops/internal/decision"
	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
	"github.com/ToaruPen/shogun-ops/internal/validation"
)

// RecentCheckinLimit bounds state.recent_checkins (spec.md §3.2, N≈20).
const RecentCheckinLimit = 20

// ErrLockHeld is returned when another collect already holds the lock.
var ErrLockHeld = errors.New("collect.lock is already held — another collect is in progress")

// Result summarizes one successful collect run for the CLI's single-line
// stdout contract.
type Result struct {
	Processed int
	Decisions []string
}

// Collect runs the full collector workflow against opsRoot.
func Collect(opsRoot string, now time.Time) (Result, error) {
	lockPath := opsroot.CollectLockPath(opsRoot)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0750); err != nil {
		return Result{}, fmt.Errorf("prepare lock directory: %w", err)
	}
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return Result{}, ErrLockHeld
		}
		return Result{}, fmt.Errorf("acquire collect lock: %w", err)
	}
	defer func() {
		_ = lockFile.Close()
		_ = os.Remove(lockPath)
	}()

	return collectLocked(opsRoot, now)
}

func collectLocked(opsRoot string, now time.Time) (Result, error) {
	state, err := loadState(opsRoot)
	if err != nil {
		return Result{}, fmt.Errorf("load state: %w", err)
	}

	checkinPaths, err := enumerateCheckins(opsroot.QueueCheckinsDir(opsRoot))
	if err != nil {
		return Result{}, fmt.Errorf("enumerate check-ins: %w", err)
	}

	loaded := make([]loadedCheckin, 0, len(checkinPaths))
	for _, p := range checkinPaths {
		c, err := loadAndValidateCheckin(p)
		if err != nil {
			return Result{}, fmt.Errorf("validate %s: %w", p, err)
		}
		loaded = append(loaded, c)
	}

	openDecisions, err := decision.ListOpen(opsroot.QueueDecisionsDir(opsRoot))
	if err != nil {
		return Result{}, fmt.Errorf("list open decisions: %w", err)
	}
	openFingerprints := map[string]bool{}
	for _, od := range openDecisions {
		openFingerprints[od.Fingerprint()] = true
	}

	skillAgg := map[string]*skillAggregate{}
	var createdDecisionPaths []string

	for _, lc := range loaded {
		foldCheckin(state, lc.checkin)
		cands := pendingDecisions(state, lc.checkin)
		for _, cand := range cands {
			if cand.BlocksIssue {
				if is := state.Issues[fmt.Sprintf("%d", lc.checkin.Issue)]; is != nil {
					is.Phase = string(types.PhaseBlocked)
				}
				addBlocked(state, lc.checkin.Issue, blockedReason(cand))
			}
			if cand.Type == types.DecisionBlocker {
				addBlocked(state, lc.checkin.Issue, blockedReason(cand))
			}
			path, created, err := maybeCreate(opsroot.QueueDecisionsDir(opsRoot), cand, openFingerprints, now)
			if err != nil {
				return Result{}, fmt.Errorf("write decision: %w", err)
			}
			if created {
				createdDecisionPaths = append(createdDecisionPaths, path)
			}
		}
		for _, sc := range lc.checkin.Candidates.Skills {
			agg := skillAgg[sc.Name]
			if agg == nil {
				agg = &skillAggregate{Summary: sc.Summary}
				skillAgg[sc.Name] = agg
			}
			agg.addWorker(lc.checkin.Worker)
		}
	}

	names := make([]string, 0, len(skillAgg))
	for name := range skillAgg {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agg := skillAgg[name]
		req := types.SkillCandidateRequest{
			Name:       name,
			Summary:    agg.Summary,
			Workers:    agg.workers(),
			Submitters: agg.workers(),
		}
		fp := decision.FingerprintFor(types.DecisionSkillCandidate, 0, decision.SkillCandidateKey(name))
		cand := pendingDecision{Type: types.DecisionSkillCandidate, Issue: 0, Request: req, Fingerprint: fp}
		path, created, err := maybeCreate(opsroot.QueueDecisionsDir(opsRoot), cand, openFingerprints, now)
		if err != nil {
			return Result{}, fmt.Errorf("write skill_candidate decision: %w", err)
		}
		if created {
			createdDecisionPaths = append(createdDecisionPaths, path)
		}
	}

	// Archive inputs only after every decision write succeeded, so a
	// decision-write failure leaves the check-in queue intact (spec.md §4.C
	// failure semantics).
	archiveDir := opsroot.ArchiveCheckinsDir(opsRoot)
	for _, lc := range loaded {
		dstDir := filepath.Join(archiveDir, lc.checkin.Worker)
		if _, err := fsutil.MoveToArchive(lc.path, dstDir, filepath.Base(lc.path)); err != nil {
			return Result{}, fmt.Errorf("archive check-in: %w", err)
		}
	}

	// Step 6: refresh action_required from the current open-decisions
	// directory regardless of whether any check-ins were processed.
	stillOpen, err := decision.ListOpen(opsroot.QueueDecisionsDir(opsRoot))
	if err != nil {
		return Result{}, fmt.Errorf("refresh action_required: %w", err)
	}
	state.ActionRequired = buildActionRequired(stillOpen)
	state.UpdatedAt = now.UTC().Format(time.RFC3339)

	if err := writeOutputs(opsRoot, state); err != nil {
		return Result{}, fmt.Errorf("write outputs: %w", err)
	}

	ids := make([]string, 0, len(createdDecisionPaths))
	for _, p := range createdDecisionPaths {
		base := filepath.Base(p)
		ids = append(ids, base[:len(base)-len(filepath.Ext(base))])
	}
	return Result{Processed: len(loaded), Decisions: ids}, nil
}

type loadedCheckin struct {
	path    string
	checkin *types.Checkin
}

// enumerateCheckins lists queue/checkins/*/*.yaml sorted first by worker
// directory, then by filename, which is lexicographically equivalent to
// timestamp order for well-formed names (spec.md §4.C step 1, §5).
func enumerateCheckins(dir string) ([]string, error) {
	workerDirs, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var workers []string
	for _, w := range workerDirs {
		if w.IsDir() {
			workers = append(workers, w.Name())
		}
	}
	sort.Strings(workers)

	var paths []string
	for _, w := range workers {
		workerDir := filepath.Join(dir, w)
		files, err := os.ReadDir(workerDir)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, f := range files {
			if !f.IsDir() {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			paths = append(paths, filepath.Join(workerDir, n))
		}
	}
	return paths, nil
}

// loadAndValidateCheckin re-derives timestamp and worker from the file's
// location rather than trusting the YAML body (spec.md §9 "YAML is a wire
// format, not a type"; property P4), then runs the full validator chain.
func loadAndValidateCheckin(path string) (loadedCheckin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return loadedCheckin{}, err
	}
	var c types.Checkin
	if err := yaml.Unmarshal(data, &c); err != nil {
		return loadedCheckin{}, fmt.Errorf("parse yaml: %w", err)
	}

	dirWorker := filepath.Base(filepath.Dir(path))
	stemTimestamp := filepath.Base(path)
	stemTimestamp = stemTimestamp[:len(stemTimestamp)-len(filepath.Ext(stemTimestamp))]
	c.Worker = dirWorker
	c.Timestamp = stemTimestamp

	if !fsutil.ValidWorkerID(c.Worker) {
		return loadedCheckin{}, fmt.Errorf("worker directory %q fails safety check", c.Worker)
	}
	opsRootGuess := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(path))))
	if _, err := fsutil.SafeJoin(opsRootGuess, "queue", "checkins", c.Worker, stemTimestamp+".yaml"); err != nil {
		return loadedCheckin{}, fmt.Errorf("path safety check failed: %w", err)
	}

	if err := validation.Full()(&c); err != nil {
		return loadedCheckin{}, err
	}
	return loadedCheckin{path: path, checkin: &c}, nil
}

func foldCheckin(state *types.State, c *types.Checkin) {
	key := fmt.Sprintf("%d", c.Issue)
	issueState, ok := state.Issues[key]
	if !ok {
		issueState = &types.IssueState{}
		state.Issues[key] = issueState
	}
	issueState.Phase = c.Phase
	issueState.ProgressPercent = c.ProgressPercent
	issueState.AssignedTo = c.Worker
	issueState.LastCheckin = types.LastCheckin{
		At:      c.Timestamp,
		ID:      c.CheckinID,
		Summary: c.Summary,
	}

	state.RecentCheckins = append([]types.RecentCheckin{{
		At:      c.Timestamp,
		ID:      c.CheckinID,
		Issue:   c.Issue,
		Worker:  c.Worker,
		Summary: c.Summary,
	}}, state.RecentCheckins...)
	if len(state.RecentCheckins) > RecentCheckinLimit {
		state.RecentCheckins = state.RecentCheckins[:RecentCheckinLimit]
	}
}

type pendingDecision struct {
	Type        types.DecisionType
	Issue       int
	Request     any
	Fingerprint string
	BlocksIssue bool
}

// pendingDecisions derives every decision candidate a single check-in
// produces (spec.md §4.C step 4), before de-duplication.
func pendingDecisions(state *types.State, c *types.Checkin) []pendingDecision {
	var out []pendingDecision

	if c.Needs.Approval {
		out = append(out, pendingDecision{
			Type:    types.DecisionApprovalRequired,
			Issue:   c.Issue,
			Request: types.ApprovalRequest{Worker: c.Worker, Summary: c.Summary},
			Fingerprint: decision.FingerprintFor(types.DecisionApprovalRequired, c.Issue, ""),
		})
	}

	if c.Needs.Blocker != "" {
		out = append(out, pendingDecision{
			Type:    types.DecisionBlocker,
			Issue:   c.Issue,
			Request: types.BlockerRequest{Worker: c.Worker, Reason: c.Needs.Blocker},
			Fingerprint: decision.FingerprintFor(types.DecisionBlocker, c.Issue, "reason="+c.Needs.Blocker),
		})
	}

	issueKey := fmt.Sprintf("%d", c.Issue)
	issueState := state.Issues[issueKey]

	// Union the two contract_expansion triggers (explicit requests and
	// drifted files_changed) into one decision per check-in.
	expansionFiles := map[string]bool{}
	for _, f := range c.Needs.ContractExpansion.RequestedFiles {
		expansionFiles[f] = true
	}
	var forbidden []string
	var contractAllowed, contractForbidden []string
	if issueState != nil && issueState.Contract != nil {
		contractAllowed = issueState.Contract.AllowedFiles
		contractForbidden = issueState.Contract.ForbiddenFiles
	}
	if len(contractAllowed) > 0 {
		for _, f := range c.Changes.FilesChanged {
			if !fsutil.MatchAnyGlob(contractAllowed, f) {
				expansionFiles[f] = true
			}
		}
	}
	for f := range expansionFiles {
		if fsutil.MatchAnyGlob(contractForbidden, f) {
			forbidden = append(forbidden, f)
		}
	}

	if len(expansionFiles) > 0 {
		files := make([]string, 0, len(expansionFiles))
		for f := range expansionFiles {
			files = append(files, f)
		}
		sort.Strings(files)
		severity := types.SeverityMinor
		blocks := false
		if len(forbidden) > 0 {
			severity = types.SeverityMajor
			blocks = true
		}
		out = append(out, pendingDecision{
			Type:  types.DecisionContractExpansion,
			Issue: c.Issue,
			Request: types.ContractExpansionRequest{
				RequestedFiles: files,
				ForbiddenFiles: forbidden,
				Severity:       string(severity),
				Options:        types.ContractExpansionOptions,
			},
			Fingerprint: decision.FingerprintFor(types.DecisionContractExpansion, c.Issue, decision.ContractExpansionKey(files)),
			BlocksIssue: blocks,
		})
	}

	return out
}

// maybeCreate writes cand unless a decision with the same fingerprint is
// already open (property P6), returning the path written and whether a new
// file was actually created.
func maybeCreate(dir string, cand pendingDecision, open map[string]bool, now time.Time) (string, bool, error) {
	if open[cand.Fingerprint] {
		return "", false, nil
	}
	d := &types.Decision{
		Type:    string(cand.Type),
		Issue:   cand.Issue,
		Request: cand.Request,
	}
	path, err := decision.Create(dir, d, now)
	if err != nil {
		return "", false, err
	}
	open[cand.Fingerprint] = true
	return path, true, nil
}

// addBlocked records one blocked-issue reason in state.blocked, replacing
// any prior reason for the same issue rather than accumulating duplicates
// across repeated collect runs.
func addBlocked(state *types.State, issue int, reason string) {
	for i, b := range state.Blocked {
		if b.Issue == issue {
			state.Blocked[i].Reason = reason
			return
		}
	}
	state.Blocked = append(state.Blocked, types.Blocked{Issue: issue, Reason: reason})
}

func blockedReason(cand pendingDecision) string {
	switch req := cand.Request.(type) {
	case types.BlockerRequest:
		return req.Reason
	case types.ContractExpansionRequest:
		return "forbidden files changed: " + decision.ContractExpansionKey(req.ForbiddenFiles)
	}
	return string(cand.Type)
}

type skillAggregate struct {
	Summary string
	seen    map[string]bool
	order   []string
}

func (s *skillAggregate) addWorker(w string) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if !s.seen[w] {
		s.seen[w] = true
		s.order = append(s.order, w)
	}
}

func (s *skillAggregate) workers() []string {
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}

func buildActionRequired(open []decision.Open) []types.ActionRequired {
	out := make([]types.ActionRequired, 0, len(open))
	for _, o := range open {
		out = append(out, types.ActionRequired{
			DecisionID: o.ID,
			Type:       string(o.Type),
			Issue:      o.Issue,
			Summary:    summaryFor(o),
		})
	}
	return out
}

func summaryFor(o decision.Open) string {
	switch o.Type {
	case types.DecisionSkillCandidate:
		if name, ok := o.Request["name"].(string); ok {
			return "skill candidate: " + name
		}
	case types.DecisionContractExpansion:
		return "contract expansion requested"
	case types.DecisionBlocker:
		if reason, ok := o.Request["reason"].(string); ok {
			return reason
		}
	case types.DecisionOverlapDetected:
		return "file overlap detected"
	case types.DecisionMissingChangeTargets:
		return "missing declared change targets"
	}
	return string(o.Type)
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
	// Apply blocked-by-drift transitions recorded as pendingDecision side
	// effects is deferred to the fold loop; here we only need a clean base.
	return &s, nil
}

func writeOutputs(opsRoot string, state *types.State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := fsutil.AtomicWriteFile(opsroot.StatePath(opsRoot), data, 0644); err != nil {
		return fmt.Errorf("write state.yaml: %w", err)
	}
	md := dashboard.Render(state)
	if err := fsutil.AtomicWriteFile(opsroot.DashboardPath(opsRoot), []byte(md), 0644); err != nil {
		return fmt.Errorf("write dashboard.md: %w", err)
	}
	return nil
}
