// Package approval implements the Approval Pipeline (spec.md §4.E): turns
// one operator-approved skill_candidate decision into a skill document on
// the repo's on-disk skills/ tree, then archives the decision.
package approval

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ToaruPen/shogun-ops/internal/decision"
	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/opsroot"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// skillTemplate is the fixed six-heading scaffold every approved skill
// candidate is rendered into (spec.md §4.E step 3, scenario 6): Overview is
// seeded from the decision's summary, the rest are left for the operator to
// fill in.
const skillTemplate = `# %s

## Overview

%s

## Principles

(fill in)

## Patterns

(fill in)

## Checklist

(fill in)

## Anti-patterns

(fill in)

## Related

(fill in)
`

// Result reports what Approve wrote.
type Result struct {
	DecisionID string
	SkillPath  string
	ArchivedAt string
}

// Approve loads decisionID from the queue, requires it to be an open
// skill_candidate, fails fast if skills/<name>.md already exists, then
// writes the skill document, appends an alphabetical entry to
// skills/README.md, and archives the decision.
func Approve(opsRoot, toplevel, decisionID string, now time.Time) (Result, error) {
	d, rawRequest, err := decision.Load(opsroot.QueueDecisionsDir(opsRoot), decisionID)
	if err != nil {
		return Result{}, err
	}
	if types.DecisionType(d.Type) != types.DecisionSkillCandidate {
		return Result{}, fmt.Errorf("decision %s is type %q, not skill_candidate", decisionID, d.Type)
	}

	name, _ := rawRequest["name"].(string)
	summary, _ := rawRequest["summary"].(string)
	if name == "" {
		return Result{}, fmt.Errorf("decision %s has no skill name", decisionID)
	}
	if !validSkillName(name) {
		return Result{}, fmt.Errorf("skill name %q must match ^[a-z0-9][a-z0-9-]*$", name)
	}

	skillsDir := opsroot.SkillsDir(toplevel)
	skillPath := filepath.Join(skillsDir, name+".md")
	if _, err := os.Stat(skillPath); err == nil {
		return Result{}, fmt.Errorf("skill %s already exists at %s", name, skillPath)
	} else if !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("stat %s: %w", skillPath, err)
	}

	body := fmt.Sprintf(skillTemplate, name, summary)
	if err := fsutil.CreateExclusive(skillPath, []byte(body), 0644); err != nil {
		return Result{}, fmt.Errorf("write skill %s: %w", name, err)
	}

	if err := appendReadmeEntry(skillsDir, name, summary); err != nil {
		return Result{}, fmt.Errorf("update skills/README.md: %w", err)
	}

	archivedPath, err := decision.Archive(opsroot.QueueDecisionsDir(opsRoot), opsroot.ArchiveDecisionsDir(opsRoot), decisionID)
	if err != nil {
		return Result{}, err
	}

	return Result{
		DecisionID: decisionID,
		SkillPath:  skillPath,
		ArchivedAt: archivedPath,
	}, nil
}

var skillNameChars = "abcdefghijklmnopqrstuvwxyz0123456789-"

func validSkillName(name string) bool {
	if name == "" {
		return false
	}
	if name[0] == '-' {
		return false
	}
	for _, r := range name {
		if !strings.ContainsRune(skillNameChars, r) {
			return false
		}
	}
	return true
}

// readmeEntry is one bullet of skills/README.md's Skill list block:
// "- [<name>.md](./<name>.md): <summary>" (spec.md §4.E step 4).
type readmeEntry struct {
	name    string
	summary string
}

const skillListHeading = "## Skill list"

// defaultReadme is what skills/README.md starts as the first time any skill
// is approved.
const defaultReadme = "# Skills\n\n" + skillListHeading + "\n\n"

// appendReadmeEntry inserts one alphabetically-sorted bullet into the
// "Skill list" block of skills/README.md, preserving every other section of
// the file and creating it with a stable header if it doesn't exist yet.
func appendReadmeEntry(skillsDir, name, summary string) error {
	readmePath := filepath.Join(skillsDir, "README.md")
	before, entries, after, err := readReadme(readmePath)
	if err != nil {
		return err
	}

	replaced := false
	for i, e := range entries {
		if e.name == name {
			entries[i].summary = summary
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, readmeEntry{name: name, summary: summary})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var b strings.Builder
	b.WriteString(before)
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s.md](./%s.md): %s\n", e.name, e.name, e.summary)
	}
	b.WriteString(after)

	return fsutil.AtomicWriteFile(readmePath, []byte(b.String()), 0644)
}

// readReadme splits an existing skills/README.md into the text before the
// "## Skill list" block's bullets, the parsed bullets themselves, and the
// text from the next heading onward (or the file start/end, if the heading
// is absent or the file is new).
func readReadme(path string) (before string, entries []readmeEntry, after string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultReadme, nil, "", nil
		}
		return "", nil, "", err
	}

	lines := strings.Split(string(data), "\n")
	headingIdx := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == skillListHeading {
			headingIdx = i
			break
		}
	}
	if headingIdx == -1 {
		// No Skill list block yet: append one after the existing content.
		content := strings.TrimRight(string(data), "\n")
		return content + "\n\n" + skillListHeading + "\n\n", nil, "", nil
	}

	bulletStart := headingIdx + 1
	for bulletStart < len(lines) && strings.TrimSpace(lines[bulletStart]) == "" {
		bulletStart++
	}
	bulletEnd := bulletStart
	for bulletEnd < len(lines) {
		trimmed := strings.TrimSpace(lines[bulletEnd])
		if strings.HasPrefix(trimmed, "#") {
			break
		}
		if strings.HasPrefix(trimmed, "- [") {
			entries = append(entries, parseBullet(trimmed))
		}
		bulletEnd++
	}

	before = strings.Join(lines[:bulletStart], "\n")
	if before != "" {
		before += "\n"
	}
	after = strings.Join(lines[bulletEnd:], "\n")
	return before, entries, after, nil
}

func parseBullet(line string) readmeEntry {
	rest := strings.TrimPrefix(line, "- [")
	closeIdx := strings.Index(rest, "]")
	if closeIdx == -1 {
		return readmeEntry{}
	}
	linkText := rest[:closeIdx]
	name := strings.TrimSuffix(linkText, ".md")
	colon := strings.Index(rest, ": ")
	summary := ""
	if colon != -1 {
		summary = rest[colon+2:]
	}
	return readmeEntry{name: name, summary: summary}
}
