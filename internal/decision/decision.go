// Package decision provides the shared read/write/fingerprint helpers for
// Decision YAML documents, used by both the Collector (which creates and
// de-duplicates them) and the Approval pipeline (which loads and archives
// them).
package decision

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// abbr maps a decision type to the short code used in generated ids,
// matching the style of the worked example in spec.md §8 ("DEC-SC-1").
var abbr = map[types.DecisionType]string{
	types.DecisionApprovalRequired:     "AR",
	types.DecisionContractExpansion:    "CE",
	types.DecisionBlocker:              "BL",
	types.DecisionSkillCandidate:       "SC",
	types.DecisionOverlapDetected:      "OV",
	types.DecisionMissingChangeTargets: "MT",
}

// Open is a decision loaded from the queue along with its id and a
// generic view of its Request payload, sufficient to compute a fingerprint
// without knowing the concrete Go type up front.
type Open struct {
	ID      string
	Type    types.DecisionType
	Issue   int
	Request map[string]any
	Path    string
}

// Fingerprint is the semantic de-duplication key from spec.md §3.2 /
// property P6: {type, issue, name-or-file-set}.
func (o Open) Fingerprint() string {
	return fingerprint(o.Type, o.Issue, nameOrFileSet(o.Type, o.Request))
}

func nameOrFileSet(t types.DecisionType, req map[string]any) string {
	switch t {
	case types.DecisionSkillCandidate:
		if name, ok := req["name"].(string); ok {
			return "name=" + name
		}
	case types.DecisionContractExpansion:
		return joinStringSlice(req["requested_files"])
	case types.DecisionOverlapDetected:
		return "conflicts=" + fmt.Sprintf("%v", req["conflicts"])
	case types.DecisionBlocker:
		if reason, ok := req["reason"].(string); ok {
			return "reason=" + reason
		}
	}
	return ""
}

func joinStringSlice(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}
	strs := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			strs = append(strs, s)
		}
	}
	sort.Strings(strs)
	out := ""
	for i, s := range strs {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func fingerprint(t types.DecisionType, issue int, nameOrFiles string) string {
	return fmt.Sprintf("%s|%d|%s", t, issue, nameOrFiles)
}

// FingerprintFor computes the fingerprint of a not-yet-written decision
// given its type, issue, and name-or-file-set key (SkillCandidateKey,
// ContractExpansionKey, "reason=<reason>" for a blocker, "" for
// approval_required), so the Collector can check for an open duplicate
// before ever creating the file.
func FingerprintFor(t types.DecisionType, issue int, nameOrFileSet string) string {
	return fingerprint(t, issue, nameOrFileSet)
}

// SkillCandidateKey is the name-or-file-set component for a skill
// candidate decision.
func SkillCandidateKey(name string) string { return "name=" + name }

// ContractExpansionKey is the name-or-file-set component for a contract
// expansion decision.
func ContractExpansionKey(files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	out := ""
	for i, s := range sorted {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// ListOpen loads every decision currently in queue/decisions/.
func ListOpen(queueDecisionsDir string) ([]Open, error) {
	entries, err := os.ReadDir(queueDecisionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	var out []Open
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(queueDecisionsDir, name)
		o, err := loadOpen(path)
		if err != nil {
			// A decision the system itself never wrote without a .yaml
			// extension, or a file mid-write by a racing approval: skip
			// rather than abort the whole collect over one bad file.
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func loadOpen(path string) (Open, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Open{}, err
	}
	var raw struct {
		Type    string         `yaml:"type"`
		Issue   int            `yaml:"issue"`
		Request map[string]any `yaml:"request"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Open{}, err
	}
	id := filepath.Base(path)
	id = id[:len(id)-len(filepath.Ext(id))]
	return Open{
		ID:      id,
		Type:    types.DecisionType(raw.Type),
		Issue:   raw.Issue,
		Request: raw.Request,
		Path:    path,
	}, nil
}

// Create writes a new decision file into queueDecisionsDir with a
// timestamp-plus-counter id (Design Note, spec.md §9), never overwriting
// an existing file (collision resolved with a -NNN suffix).
func Create(queueDecisionsDir string, d *types.Decision, now time.Time) (string, error) {
	if d.Version == "" {
		d.Version = types.SchemaVersion
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	code := abbr[types.DecisionType(d.Type)]
	if code == "" {
		code = "XX"
	}
	base := fmt.Sprintf("DEC-%s-%s", code, now.UTC().Format("20060102T150405Z"))
	path, err := fsutil.CollisionSuffixPath(filepath.Join(queueDecisionsDir, base+".yaml"))
	if err != nil {
		return "", err
	}
	d.ID = filepath.Base(path)
	d.ID = d.ID[:len(d.ID)-len(filepath.Ext(d.ID))]

	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	if err := fsutil.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write decision: %w", err)
	}
	return path, nil
}

// Load reads one decision by id from dir.
func Load(dir, id string) (*types.Decision, map[string]any, error) {
	path := filepath.Join(dir, id+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load decision %s: %w", id, err)
	}
	var d types.Decision
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, nil, fmt.Errorf("parse decision %s: %w", id, err)
	}
	var raw struct {
		Request map[string]any `yaml:"request"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse decision %s request: %w", id, err)
	}
	d.ID = id
	return &d, raw.Request, nil
}

// Archive moves a resolved decision out of queue/decisions into
// archive/decisions, never overwriting an existing archive file.
func Archive(queueDecisionsDir, archiveDecisionsDir, id string) (string, error) {
	src := filepath.Join(queueDecisionsDir, id+".yaml")
	dst, err := fsutil.MoveToArchive(src, archiveDecisionsDir, id+".yaml")
	if err != nil {
		return "", fmt.Errorf("archive decision %s: %w", id, err)
	}
	return dst, nil
}
