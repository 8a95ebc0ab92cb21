// Package refactordraft implements the refactor-draft/-issue adapters
// (SPEC_FULL.md §4.H): an append-only draft queue that mirrors the
// Check-in Producer's discipline, plus a thin promotion step that turns an
// approved draft into a GitHub issue via internal/ghcli.
package refactordraft

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/ghcli"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// Create appends a new draft under queue/refactor-drafts/<worker>/, using
// the same exclusive-create discipline as checkin.Produce.
func Create(opsRoot, worker, timestamp, title, summary string) (string, error) {
	if !fsutil.ValidWorkerID(worker) {
		return "", fmt.Errorf("invalid worker id %q: must match ^[A-Za-z0-9._-]{1,64}$", worker)
	}
	if !fsutil.ValidTimestamp(timestamp) {
		return "", fmt.Errorf("invalid timestamp %q: must match YYYYMMDDThhmmssZ", timestamp)
	}
	if title == "" {
		return "", fmt.Errorf("title must not be empty")
	}
	if summary == "" {
		return "", fmt.Errorf("summary must not be empty")
	}

	draft := &types.RefactorDraft{
		Version:   types.SchemaVersion,
		Title:     title,
		Summary:   summary,
		Worker:    worker,
		CreatedAt: time.Now().UTC(),
	}
	data, err := yaml.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("marshal refactor draft: %w", err)
	}

	dest := filepath.Join(opsroot.QueueRefactorDraftsDir(opsRoot), worker, timestamp+".yaml")
	if err := fsutil.CreateExclusive(dest, data, 0644); err != nil {
		return "", fmt.Errorf("write refactor draft: %w — next: choose a new --timestamp and retry", err)
	}
	return dest, nil
}

// Load reads one draft by path.
func Load(path string) (*types.RefactorDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read draft %s: %w", path, err)
	}
	var d types.RefactorDraft
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse draft %s: %w", path, err)
	}
	return &d, nil
}

// Promote loads the draft at draftPath, creates a GitHub issue from its
// title/summary via gh, and on success archives the draft under
// archive/refactor-drafts/<worker>/<basename> with the usual
// collision-suffix rule.
func Promote(ctx context.Context, opsRoot, draftPath, ghRepo string) (issueURL string, archivedPath string, err error) {
	draft, err := Load(draftPath)
	if err != nil {
		return "", "", err
	}

	issueURL, err = ghcli.CreateIssue(ctx, ghRepo, draft.Title, draft.Summary)
	if err != nil {
		return "", "", fmt.Errorf("create issue from draft: %w", err)
	}

	dstDir := filepath.Join(opsroot.ArchiveRefactorDraftsDir(opsRoot), draft.Worker)
	archivedPath, err = fsutil.MoveToArchive(draftPath, dstDir, filepath.Base(draftPath))
	if err != nil {
		return issueURL, "", fmt.Errorf("archive draft: %w", err)
	}
	return issueURL, archivedPath, nil
}
