// Package ghcli wraps invocations of the GitHub CLI (gh), the opaque I/O
// oracle spec.md §1 says this core treats gh's JSON outputs as interfaces,
// never internals. It delegates the actual subprocess call to
// github.com/cli/go-gh/v2, which locates the gh binary and inherits its
// resolved auth the way gh extensions do, and wraps it the way pkg/ghcli in
// the gh-aw examples does: resolve GH_TOKEN from GITHUB_TOKEN when gh's own
// token env var is unset, so the same binary works unchanged in CI runners
// that only export GITHUB_TOKEN.
package ghcli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	gh "github.com/cli/go-gh/v2"
)

// withTokenFallback sets GH_TOKEN from GITHUB_TOKEN for the duration of fn,
// restoring the prior environment afterward. go-gh's Exec/ExecContext read
// the process environment directly, so this is the only hook available to
// apply the gh-aw-style fallback without spawning gh ourselves.
func withTokenFallback(fn func() ([]byte, []byte, error)) ([]byte, []byte, error) {
	if os.Getenv("GH_TOKEN") != "" {
		return fn()
	}
	tok := os.Getenv("GITHUB_TOKEN")
	if tok == "" {
		return fn()
	}
	_ = os.Setenv("GH_TOKEN", tok)
	defer func() { _ = os.Unsetenv("GH_TOKEN") }()
	return fn()
}

// Run executes `gh <args...>` in dir (empty for cwd) and returns stdout.
// A non-zero exit returns stderr wrapped into the error. go-gh's
// Exec/ExecContext always run in the current process directory, so a
// non-empty dir is applied with a scoped os.Chdir for the call's duration;
// callers within this package never run two Run calls concurrently against
// different dirs (the CLI commands that need it run single-threaded).
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stdout, stderr, err := withTokenFallback(func() ([]byte, []byte, error) {
		if dir != "" {
			prev, err := os.Getwd()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve working directory: %w", err)
			}
			if err := os.Chdir(dir); err != nil {
				return nil, nil, fmt.Errorf("chdir %s: %w", dir, err)
			}
			defer func() { _ = os.Chdir(prev) }()
		}
		out, errOut, err := gh.ExecContext(ctx, args...)
		return out.Bytes(), errOut.Bytes(), err
	})
	if err != nil {
		return "", fmt.Errorf("gh %v: %w: %s", args, err, stderr)
	}
	return string(stdout), nil
}

// RunJSON runs gh and decodes its stdout into out.
func RunJSON(ctx context.Context, dir string, out any, args ...string) error {
	stdout, err := Run(ctx, dir, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stdout), out); err != nil {
		return fmt.Errorf("decode gh %v output: %w", args, err)
	}
	return nil
}

// AuthStatus preflights `gh auth status`, returning a non-nil error the
// caller must abort on before any write (spec.md §4.G).
func AuthStatus(ctx context.Context) error {
	if _, err := Run(ctx, "", "auth", "status"); err != nil {
		return fmt.Errorf("gh is not authenticated: %w", err)
	}
	return nil
}

// Issue is the subset of `gh issue view --json ...` fields this core reads.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Labels []Label  `json:"labels"`
	Body   string   `json:"body"`
}

// Label is one GitHub issue label.
type Label struct {
	Name string `json:"name"`
}

// LabelNames returns the names of an issue's labels.
func (i Issue) LabelNames() []string {
	names := make([]string, len(i.Labels))
	for idx, l := range i.Labels {
		names[idx] = l.Name
	}
	return names
}

// ListIssues runs `gh issue list --json number,title,labels` scoped to
// repo (owner/repo, or "" to let gh infer it from origin), optionally
// filtered to a single label.
func ListIssues(ctx context.Context, repo, label string) ([]Issue, error) {
	args := []string{"issue", "list", "--json", "number,title,labels", "--limit", "200"}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	if label != "" {
		args = append(args, "--label", label)
	}
	var issues []Issue
	if err := RunJSON(ctx, "", &issues, args...); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

// ViewIssueMeta fetches number/title/labels for one issue.
func ViewIssueMeta(ctx context.Context, repo string, number int) (Issue, error) {
	args := []string{"issue", "view", fmt.Sprintf("%d", number), "--json", "number,title,labels"}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	var issue Issue
	if err := RunJSON(ctx, "", &issue, args...); err != nil {
		return Issue{}, fmt.Errorf("view issue %d: %w", number, err)
	}
	return issue, nil
}

// ViewIssueBody fetches only the body of one issue, as a separate call per
// spec.md §4.D step 2.
func ViewIssueBody(ctx context.Context, repo string, number int) (string, error) {
	args := []string{"issue", "view", fmt.Sprintf("%d", number), "--json", "body"}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	var out struct {
		Body string `json:"body"`
	}
	if err := RunJSON(ctx, "", &out, args...); err != nil {
		// Best-effort: a malformed or missing body is equivalent to an
		// empty one (spec.md §9 Open Question), not a hard failure.
		return "", nil
	}
	return out.Body, nil
}

// OriginRepo derives OWNER/REPO from the origin remote using gh's own
// repo-resolution (`gh repo view --json nameWithOwner`).
func OriginRepo(ctx context.Context, dir string) (string, error) {
	var out struct {
		NameWithOwner string `json:"nameWithOwner"`
	}
	if err := RunJSON(ctx, dir, &out, "repo", "view", "--json", "nameWithOwner"); err != nil {
		return "", fmt.Errorf("resolve origin repo: %w", err)
	}
	return out.NameWithOwner, nil
}

// CreateIssue creates a GitHub issue and returns its URL.
func CreateIssue(ctx context.Context, repo, title, body string) (string, error) {
	args := []string{"issue", "create", "--title", title, "--body", body}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	url, err := Run(ctx, "", args...)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	return trimTrailingNewline(url), nil
}

// EnsureLabel creates a label with a deterministic color, matching
// spec.md §4.G ("ensured via gh label create --force").
func EnsureLabel(ctx context.Context, repo, name, color, description string) error {
	args := []string{"label", "create", name, "--color", color, "--force"}
	if description != "" {
		args = append(args, "--description", description)
	}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	if _, err := Run(ctx, "", args...); err != nil {
		return fmt.Errorf("ensure label %s: %w", name, err)
	}
	return nil
}

// ReplaceLabels removes the labels in remove, then adds the labels in add,
// with one `gh issue edit` call for each non-empty list. It stops at the
// first call that fails.
func ReplaceLabels(ctx context.Context, repo string, issue int, remove []string, add []string) error {
	num := fmt.Sprintf("%d", issue)
	if len(remove) > 0 {
		args := append([]string{"issue", "edit", num, "--remove-label"}, joinComma(remove))
		if repo != "" {
			args = append(args, "--repo", repo)
		}
		if _, err := Run(ctx, "", args...); err != nil {
			return fmt.Errorf("remove labels on issue %d: %w", issue, err)
		}
	}
	if len(add) > 0 {
		args := append([]string{"issue", "edit", num, "--add-label"}, joinComma(add))
		if repo != "" {
			args = append(args, "--repo", repo)
		}
		if _, err := Run(ctx, "", args...); err != nil {
			return fmt.Errorf("add labels on issue %d: %w", issue, err)
		}
	}
	return nil
}

// CommentIssue posts a single comment to an issue.
func CommentIssue(ctx context.Context, repo string, issue int, body string) error {
	args := []string{"issue", "comment", fmt.Sprintf("%d", issue), "--body", body}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	if _, err := Run(ctx, "", args...); err != nil {
		return fmt.Errorf("comment on issue %d: %w", issue, err)
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
