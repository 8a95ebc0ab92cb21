// Package dashboard renders state.yaml into dashboard.md (spec.md §4.C
// "dashboard.md contract") and, for interactive terminals, into styled
// output rendered with charmbracelet/glamour at the width golang.org/x/term
// reports.
package dashboard

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/template"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/ToaruPen/shogun-ops/internal/types"
)

const tmpl = `# Agentic-SDD Ops Dashboard

Updated: {{.UpdatedAt}}

## Summary
{{if .SummaryLines}}{{range .SummaryLines}}- {{.}}
{{end}}{{else}}- (none)
{{end}}
## Action Required
{{if .ActionRequired}}{{range .ActionRequired}}- [{{.DecisionID}}] {{.Type}}{{if .Issue}} (#{{.Issue}}){{end}}: {{.Summary}}
{{end}}{{else}}- (none)
{{end}}
## Skill Candidates (Approval Pending)
{{if .SkillCandidates}}{{range .SkillCandidates}}- {{.}}
{{end}}{{else}}- (none)
{{end}}
## Blocked / Needs Decision
{{if .Blocked}}{{range .Blocked}}- #{{.Issue}}: {{.Reason}}
{{end}}{{else}}- (none)
{{end}}
## Recent Check-ins
{{if .RecentCheckins}}{{range .RecentCheckins}}- #{{.Issue}} [{{.Worker}}] {{.At}}: {{.Summary}}
{{end}}{{else}}- (none)
{{end}}`

type viewModel struct {
	UpdatedAt       string
	SummaryLines    []string
	ActionRequired  []types.ActionRequired
	SkillCandidates []string
	Blocked         []types.Blocked
	RecentCheckins  []types.RecentCheckin
}

// Render produces dashboard.md's exact contents for the given state: the
// "# Agentic-SDD Ops Dashboard" title and five stable section headings,
// each section falling back to "- (none)" when empty, plus a human-visible
// "Updated:" line (spec.md §4.C).
func Render(state *types.State) string {
	vm := viewModel{
		UpdatedAt:      state.UpdatedAt,
		ActionRequired: state.ActionRequired,
		Blocked:        state.Blocked,
		RecentCheckins: state.RecentCheckins,
	}
	if vm.UpdatedAt == "" {
		vm.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	vm.SummaryLines = summaryLines(state)

	for _, ar := range state.ActionRequired {
		if ar.Type == string(types.DecisionSkillCandidate) {
			vm.SkillCandidates = append(vm.SkillCandidates, fmt.Sprintf("[%s] %s", ar.DecisionID, ar.Summary))
		}
	}

	t := template.Must(template.New("dashboard").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, vm); err != nil {
		// Rendering the dashboard can only fail on a template bug, which
		// would be caught in development; degrade to a minimal body rather
		// than abort the collect run over presentation.
		return "# Agentic-SDD Ops Dashboard\n\nUpdated: " + vm.UpdatedAt + "\n"
	}
	return buf.String()
}

func summaryLines(state *types.State) []string {
	keys := make([]string, 0, len(state.Issues))
	for k := range state.Issues {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, _ := strconv.Atoi(keys[i])
		nj, _ := strconv.Atoi(keys[j])
		return ni < nj
	})
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		is := state.Issues[k]
		assignee := is.AssignedTo
		if assignee == "" {
			assignee = "unassigned"
		}
		lines = append(lines, fmt.Sprintf("#%s %s (%d%%) — %s", k, is.Phase, is.ProgressPercent, assignee))
	}
	return lines
}

// PrintTerminal writes dashboard markdown to w, rendering it through
// glamour when isTerminal is true (stdout is a real terminal), and writing
// it verbatim otherwise so piped/CI consumers see the stable contract.
func PrintTerminal(w io.Writer, md string, isTerminal bool) error {
	if !isTerminal {
		_, err := io.WriteString(w, md)
		return err
	}
	width := 100
	if fd, ok := w.(interface{ Fd() uintptr }); ok {
		if tw, _, err := term.GetSize(int(fd.Fd())); err == nil && tw > 0 {
			width = tw
		}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		_, werr := io.WriteString(w, md)
		return werr
	}
	out, err := r.Render(md)
	if err != nil {
		_, werr := io.WriteString(w, md)
		return werr
	}
	_, err = io.WriteString(w, out)
	return err
}
