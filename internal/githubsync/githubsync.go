// Package githubsync implements the GitHub-Sync component (spec.md §4.G):
// reflects state.yaml onto GitHub issue labels and a single status comment,
// using gh as the sole write path so every change is auditable the same
// way the rest of this core treats gh's JSON as the only interface to
// GitHub's state.
package githubsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ToaruPen/shogun-ops/internal/ghcli"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// phaseLabel is the ops-phase:* label for each tracked phase.
func phaseLabel(phase string) string { return "ops-phase:" + phase }

const blockedLabel = "ops-blocked"

var allPhaseLabels = func() []string {
	labels := make([]string, 0, len(types.ValidPhases))
	for p := range types.ValidPhases {
		labels = append(labels, phaseLabel(string(p)))
	}
	sort.Strings(labels)
	return labels
}()

// Plan is the computed label/comment reconciliation for one issue, before
// any gh call is made — this is what --dry-run prints.
type Plan struct {
	Issue         int
	DesiredLabels []string
	CommentBody   string
	CommentHash   string
}

// BuildPlans derives one Plan per tracked issue in state, without touching
// GitHub.
func BuildPlans(state *types.State) []Plan {
	keys := make([]string, 0, len(state.Issues))
	for k := range state.Issues {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, _ := strconv.Atoi(keys[i])
		nj, _ := strconv.Atoi(keys[j])
		return ni < nj
	})

	blockedReasons := map[int]string{}
	for _, b := range state.Blocked {
		blockedReasons[b.Issue] = b.Reason
	}

	plans := make([]Plan, 0, len(keys))
	for _, k := range keys {
		is := state.Issues[k]
		issueNum, _ := strconv.Atoi(k)

		desired := []string{phaseLabel(is.Phase)}
		if _, blocked := blockedReasons[issueNum]; blocked {
			desired = append(desired, blockedLabel)
		}

		body := commentBody(issueNum, is, blockedReasons[issueNum])
		sum := sha256.Sum256([]byte(body))

		plans = append(plans, Plan{
			Issue:         issueNum,
			DesiredLabels: desired,
			CommentBody:   body,
			CommentHash:   hex.EncodeToString(sum[:]),
		})
	}
	return plans
}

func commentBody(issue int, is *types.IssueState, blockedReason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Agentic-SDD status**\n\n")
	fmt.Fprintf(&b, "- Phase: %s (%d%%)\n", is.Phase, is.ProgressPercent)
	if is.AssignedTo != "" {
		fmt.Fprintf(&b, "- Assigned to: %s\n", is.AssignedTo)
	}
	if blockedReason != "" {
		fmt.Fprintf(&b, "- Blocked: %s\n", blockedReason)
	}
	if is.LastCheckin.At != "" {
		fmt.Fprintf(&b, "- Last check-in: %s — %s\n", is.LastCheckin.At, is.LastCheckin.Summary)
	}
	fmt.Fprintf(&b, "- Next action: %s\n", nextAction(is, blockedReason))
	return b.String()
}

// nextAction derives the comment's "Next action" field from phase, plus
// impl_mode for implementing issues, per the fixed mapping of spec.md §4.G (backlog→supervise,
// estimating→/estimation, implementing→/impl or /tdd, reviewing→/review-cycle,
// blocked→check decisions, done→/cleanup).
func nextAction(is *types.IssueState, blockedReason string) string {
	switch types.Phase(is.Phase) {
	case types.PhaseBacklog:
		return "supervise"
	case types.PhaseEstimating:
		return "/estimation"
	case types.PhaseImplementing:
		if is.ImplMode == string(types.ImplModeTDD) {
			return "/tdd"
		}
		return "/impl"
	case types.PhaseReviewing:
		return "/review-cycle"
	case types.PhaseBlocked:
		return "check decisions"
	case types.PhaseDone:
		return "/cleanup"
	default:
		return "check decisions"
	}
}

// EnsureLabels idempotently creates every ops-phase:* label plus
// ops-blocked, with a fixed color, via `gh label create --force`.
func EnsureLabels(ctx context.Context, repo string) error {
	for _, l := range allPhaseLabels {
		if err := ghcli.EnsureLabel(ctx, repo, l, "5319e7", "Shogun Ops phase"); err != nil {
			return err
		}
	}
	return ghcli.EnsureLabel(ctx, repo, blockedLabel, "b60205", "Shogun Ops blocked")
}

// Apply reconciles one issue's labels and posts at most one status comment
// (spec.md §4.G step 4): labels are replaced wholesale (remove every
// ops-phase:*/ops-blocked label, add back exactly the desired set), then the
// status comment is posted. The comment is posted on every call; Apply does
// not compare it with comments already on the issue.
func Apply(ctx context.Context, repo string, plan Plan) error {
	remove := append([]string(nil), allPhaseLabels...)
	remove = append(remove, blockedLabel)
	if err := ghcli.ReplaceLabels(ctx, repo, plan.Issue, remove, plan.DesiredLabels); err != nil {
		return fmt.Errorf("reconcile labels on issue %d: %w", plan.Issue, err)
	}
	if err := ghcli.CommentIssue(ctx, repo, plan.Issue, plan.CommentBody); err != nil {
		return fmt.Errorf("comment on issue %d: %w", plan.Issue, err)
	}
	return nil
}

// Preflight runs `gh auth status`, the mandatory check before any write
// (spec.md §4.G step 0).
func Preflight(ctx context.Context) error {
	return ghcli.AuthStatus(ctx)
}

// DryRunReport renders the plans BuildPlans computed into the
// human-readable preview `--dry-run` prints instead of calling gh.
func DryRunReport(plans []Plan) string {
	var b strings.Builder
	for _, p := range plans {
		fmt.Fprintf(&b, "#%d labels=%s comment_sha256=%s\n", p.Issue, strings.Join(p.DesiredLabels, ","), p.CommentHash)
	}
	return b.String()
}
