// Package types defines the on-disk entities shared by every Shogun Ops
// component: check-ins, decisions, orders, state, and config. Every field
// that crosses a process boundary is a string or a primitive — callers
// re-validate rather than trust the YAML a file claims to hold.
package types

import "time"

// SchemaVersion is the version stamped into every document this binary
// writes. Only config.yaml's version is compared against it on read
// (config.Load); check-in, decision, and order versions are not checked.
const SchemaVersion = "v1"

// Phase is the lifecycle stage of an issue as reported by a worker.
type Phase string

const (
	PhaseBacklog      Phase = "backlog"
	PhaseEstimating   Phase = "estimating"
	PhaseImplementing Phase = "implementing"
	PhaseReviewing    Phase = "reviewing"
	PhaseBlocked      Phase = "blocked"
	PhaseDone         Phase = "done"
)

// ValidPhases enumerates every phase accepted by the Check-in Producer.
var ValidPhases = map[Phase]bool{
	PhaseBacklog:      true,
	PhaseEstimating:   true,
	PhaseImplementing: true,
	PhaseReviewing:    true,
	PhaseBlocked:      true,
	PhaseDone:         true,
}

// TestResult is the outcome of the test command a worker ran, if any.
type TestResult string

const (
	TestResultPass    TestResult = "pass"
	TestResultFail    TestResult = "fail"
	TestResultSkip    TestResult = "skip"
	TestResultNotRun  TestResult = "not run"
)

// ValidTestResults enumerates every accepted tests.result value.
var ValidTestResults = map[TestResult]bool{
	TestResultPass:   true,
	TestResultFail:   true,
	TestResultSkip:   true,
	TestResultNotRun: true,
}

// ImplMode is how an assigned issue should be implemented.
type ImplMode string

const (
	ImplModeImpl ImplMode = "impl"
	ImplModeTDD  ImplMode = "tdd"
)

// DecisionType discriminates the shape of a Decision's Request payload.
type DecisionType string

const (
	DecisionApprovalRequired     DecisionType = "approval_required"
	DecisionContractExpansion    DecisionType = "contract_expansion"
	DecisionBlocker              DecisionType = "blocker"
	DecisionSkillCandidate       DecisionType = "skill_candidate"
	DecisionOverlapDetected      DecisionType = "overlap_detected"
	DecisionMissingChangeTargets DecisionType = "missing_change_targets"
)

// Severity is the contract_expansion severity.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// ContractExpansionOptions are the fixed set of operator choices offered
// for every contract_expansion decision, in the exact order the fold
// produces them.
var ContractExpansionOptions = []string{"拡張", "差し戻し", "Issue分割", "別Issueへ移動"}

// Repo identifies where a check-in's worktree lives.
type Repo struct {
	WorktreeRoot string `yaml:"worktree_root"`
	Toplevel     string `yaml:"toplevel"`
}

// Changes carries the set of repo-relative paths a check-in touched.
type Changes struct {
	FilesChanged []string `yaml:"files_changed"`
}

// Tests carries the command a worker ran and its outcome.
type Tests struct {
	Command string `yaml:"command,omitempty"`
	Result  string `yaml:"result,omitempty"`
}

// ContractExpansionNeed is the requested_files sub-object of Needs.
type ContractExpansionNeed struct {
	RequestedFiles []string `yaml:"requested_files,omitempty"`
}

// Needs carries a worker's outstanding requests.
type Needs struct {
	Approval           bool                  `yaml:"approval,omitempty"`
	ContractExpansion  ContractExpansionNeed `yaml:"contract_expansion,omitempty"`
	Blocker            string                `yaml:"blocker,omitempty"`
}

// SkillCandidate is one proposed new skill document.
type SkillCandidate struct {
	Name    string `yaml:"name"`
	Summary string `yaml:"summary"`
}

// Checkin is a single worker's atomic report of progress.
type Checkin struct {
	Version          string           `yaml:"version"`
	CheckinID        string           `yaml:"checkin_id"`
	Timestamp        string           `yaml:"timestamp"`
	Worker           string           `yaml:"worker"`
	Issue            int              `yaml:"issue"`
	Phase            string           `yaml:"phase"`
	ProgressPercent  int              `yaml:"progress_percent"`
	Summary          string           `yaml:"summary"`
	Repo             Repo             `yaml:"repo"`
	Changes          Changes          `yaml:"changes"`
	Tests            Tests            `yaml:"tests"`
	Needs            Needs            `yaml:"needs"`
	Candidates       CandidateSet     `yaml:"candidates"`
	Next             []string         `yaml:"next,omitempty"`
}

// CandidateSet is the candidates object of a check-in.
type CandidateSet struct {
	Skills []SkillCandidate `yaml:"skills,omitempty"`
}

// Contract is the declared allowed/forbidden file set for an issue.
type Contract struct {
	AllowedFiles   []string `yaml:"allowed_files,omitempty"`
	ForbiddenFiles []string `yaml:"forbidden_files,omitempty"`
}

// LastCheckin is a compact pointer to the most recent check-in on an issue.
type LastCheckin struct {
	At      string `yaml:"at"`
	ID      string `yaml:"id"`
	Summary string `yaml:"summary"`
}

// IssueState is the Collector's per-issue fold.
type IssueState struct {
	Title           string       `yaml:"title,omitempty"`
	Phase           string       `yaml:"phase"`
	ProgressPercent int          `yaml:"progress_percent"`
	AssignedTo      string       `yaml:"assigned_to,omitempty"`
	ImplMode        string       `yaml:"impl_mode,omitempty"`
	LastCheckin     LastCheckin  `yaml:"last_checkin"`
	Contract        *Contract    `yaml:"contract,omitempty"`
}

// RecentCheckin is one entry of state.recent_checkins.
type RecentCheckin struct {
	At      string `yaml:"at"`
	ID      string `yaml:"id"`
	Issue   int    `yaml:"issue"`
	Worker  string `yaml:"worker"`
	Summary string `yaml:"summary"`
}

// ActionRequired is one entry of state.action_required, derived from an
// open decision.
type ActionRequired struct {
	DecisionID string `yaml:"decision_id"`
	Type       string `yaml:"type"`
	Issue      int    `yaml:"issue,omitempty"`
	Summary    string `yaml:"summary"`
}

// Blocked is one entry of state.blocked.
type Blocked struct {
	Issue  int    `yaml:"issue"`
	Reason string `yaml:"reason"`
}

// State is the Collector's fold, rewritten atomically on every collect.
type State struct {
	Version        string               `yaml:"version"`
	Issues         map[string]*IssueState `yaml:"issues"`
	UpdatedAt      string               `yaml:"updated_at"`
	RecentCheckins []RecentCheckin      `yaml:"recent_checkins"`
	ActionRequired []ActionRequired     `yaml:"action_required"`
	Blocked        []Blocked            `yaml:"blocked"`
}

// NewState returns an empty, well-formed State.
func NewState() *State {
	return &State{
		Version:        SchemaVersion,
		Issues:         map[string]*IssueState{},
		RecentCheckins: []RecentCheckin{},
		ActionRequired: []ActionRequired{},
		Blocked:        []Blocked{},
	}
}

// ApprovalRequest is the request payload for approval_required decisions.
type ApprovalRequest struct {
	Worker  string `yaml:"worker,omitempty"`
	Summary string `yaml:"summary,omitempty"`
}

// ContractExpansionRequest is the request payload for contract_expansion.
type ContractExpansionRequest struct {
	RequestedFiles []string `yaml:"requested_files"`
	ForbiddenFiles []string `yaml:"forbidden_files,omitempty"`
	Severity       string   `yaml:"severity"`
	Options        []string `yaml:"options"`
}

// BlockerRequest is the request payload for blocker decisions.
type BlockerRequest struct {
	Worker string `yaml:"worker,omitempty"`
	Reason string `yaml:"reason"`
}

// SkillCandidateRequest is the request payload for skill_candidate
// decisions.
type SkillCandidateRequest struct {
	Name       string   `yaml:"name"`
	Summary    string   `yaml:"summary"`
	Workers    []string `yaml:"workers"`
	Submitters []string `yaml:"submitters"`
}

// OverlapPair is one conflicting issue pair reported by an
// overlap_detected decision.
type OverlapPair struct {
	Issues []int    `yaml:"issues"`
	Files  []string `yaml:"files"`
}

// OverlapDetectedRequest is the request payload for overlap_detected.
type OverlapDetectedRequest struct {
	Conflicts []OverlapPair `yaml:"conflicts"`
}

// MissingChangeTargetsRequest is the request payload for
// missing_change_targets.
type MissingChangeTargetsRequest struct {
	Reason string `yaml:"reason"`
}

// Decision is a YAML record requesting human action. Request carries a
// type-specific payload; internal/decision reads it back as a generic
// map[string]any so the discriminator can be inspected before the payload
// shape is known.
type Decision struct {
	Version   string    `yaml:"version"`
	ID        string    `yaml:"-"`
	Type      string    `yaml:"type"`
	CreatedAt time.Time `yaml:"created_at"`
	Issue     int       `yaml:"issue,omitempty"`
	Request   any       `yaml:"request"`
}

// Order is a per-worker assignment emitted by the Supervisor.
type Order struct {
	Version        string   `yaml:"version"`
	Issue          int      `yaml:"issue"`
	Worker         string   `yaml:"worker"`
	ImplMode       string   `yaml:"impl_mode"`
	RequiredSteps  []string `yaml:"required_steps"`
	AllowedFiles   []string `yaml:"allowed_files,omitempty"`
	ForbiddenFiles []string `yaml:"forbidden_files,omitempty"`
	BaseBranch     string   `yaml:"base_branch,omitempty"`
	CreatedAt      time.Time `yaml:"created_at"`
}

// RequiredSteps builds the required_steps sequence for an order: /tdd or
// /impl depending on mode, always ending with /create-pr, /cleanup.
func RequiredSteps(mode ImplMode) []string {
	implStep := "/impl"
	if mode == ImplModeTDD {
		implStep = "/tdd"
	}
	return []string{implStep, "/create-pr", "/cleanup"}
}

// Worker is one entry of config.workers.
type Worker struct {
	ID string `yaml:"id"`
}

// ParallelPolicy is policy.parallel.
type ParallelPolicy struct {
	Enabled               bool `yaml:"enabled"`
	MaxWorkers            int  `yaml:"max_workers"`
	RequireParallelOKLabel bool `yaml:"require_parallel_ok_label"`
}

// ImplModePolicy is policy.impl_mode.
type ImplModePolicy struct {
	Default         string   `yaml:"default"`
	ForceTDDLabels  []string `yaml:"force_tdd_labels,omitempty"`
}

// CheckinPolicy is policy.checkin.
type CheckinPolicy struct {
	RequiredOnPhaseChange bool `yaml:"required_on_phase_change"`
}

// Policy is the top-level config.policy object.
type Policy struct {
	Parallel  ParallelPolicy `yaml:"parallel"`
	ImplMode  ImplModePolicy `yaml:"impl_mode"`
	Checkin   CheckinPolicy  `yaml:"checkin"`
}

// Config is the top-level config.yaml document.
type Config struct {
	Version string   `yaml:"version"`
	Policy  Policy   `yaml:"policy"`
	Workers []Worker `yaml:"workers"`
}

// RefactorDraft is the queue/refactor-drafts/ document.
type RefactorDraft struct {
	Version   string    `yaml:"version"`
	Title     string    `yaml:"title"`
	Summary   string    `yaml:"summary"`
	Worker    string    `yaml:"worker"`
	CreatedAt time.Time `yaml:"created_at"`
}
