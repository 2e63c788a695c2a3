package template

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const q1YAML = `
batch_name: Q1
workspace_slug: w1
projects:
  - name: Alpha
    cycles:
      - name: Sprint1
        start_date: 2025-01-06
        end_date: 2025-01-20
    modules: []
    issues:
      - name: Bug1
        cycle: Sprint1
        sub_issues:
          - name: Bug1a
            priority: high
`

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	l := newTestLoader(t)

	tpl, err := l.LoadFile(context.Background(), writeFile(t, "q1.yaml", q1YAML))
	require.NoError(t, err)

	assert.Equal(t, "Q1", tpl.Name)
	assert.Equal(t, "w1", tpl.WorkspaceSlug)
	require.Len(t, tpl.Projects, 1)

	p := tpl.Projects[0]
	assert.Equal(t, "Alpha", p.Name)
	require.Len(t, p.Cycles, 1)
	require.NotNil(t, p.Cycles[0].StartDate)
	assert.Equal(t, "2025-01-06", *p.Cycles[0].StartDate)
	require.Len(t, p.Issues, 1)
	assert.Equal(t, "Sprint1", p.Issues[0].Cycle)
	assert.Equal(t, DefaultPriority, p.Issues[0].Priority)
	require.Len(t, p.Issues[0].SubIssues, 1)
	assert.Equal(t, "high", p.Issues[0].SubIssues[0].Priority)

	counts := tpl.Count()
	assert.Equal(t, Counts{Projects: 1, Cycles: 1, Modules: 0, Issues: 2}, counts)
	assert.Equal(t, 4, counts.Total())
}

func TestWithWorkspaceCopies(t *testing.T) {
	tpl, err := newTestLoader(t).LoadFile(context.Background(), writeFile(t, "q1.yaml", q1YAML))
	require.NoError(t, err)

	moved := tpl.WithWorkspace("acme")

	assert.Equal(t, "acme", moved.WorkspaceSlug)
	assert.Equal(t, "w1", tpl.WorkspaceSlug)
	assert.Equal(t, tpl.Name, moved.Name)
	assert.Equal(t, tpl.Count(), moved.Count())
}

func TestLoadJSON(t *testing.T) {
	l := newTestLoader(t)

	content := `{"batch_name":"Q1","projects":[{"name":"Alpha","slug":"alp","modules":[{"name":"Backend"}]}]}`
	tpl, err := l.LoadFile(context.Background(), writeFile(t, "q1.json", content))
	require.NoError(t, err)

	assert.Empty(t, tpl.WorkspaceSlug)
	assert.Equal(t, "ALP", tpl.Projects[0].ProjectIdentifier())
	assert.Equal(t, "Backend", tpl.Projects[0].Modules[0].Name)
}

func TestLoadCUE(t *testing.T) {
	l := newTestLoader(t)

	content := `
batch_name:     "Q1"
workspace_slug: "w1"
_sprints: ["Sprint1", "Sprint2"]
projects: [{
	name: "Alpha"
	cycles: [for s in _sprints {name: s}]
	issues: [{name: "Bug1", cycle: "Sprint2"}]
}]
`
	tpl, err := l.LoadFile(context.Background(), writeFile(t, "q1.cue", content))
	require.NoError(t, err)

	require.Len(t, tpl.Projects[0].Cycles, 2)
	assert.Equal(t, "Sprint2", tpl.Projects[0].Cycles[1].Name)
	assert.Equal(t, "Sprint2", tpl.Projects[0].Issues[0].Cycle)
}

func TestLoadStarlark(t *testing.T) {
	l := newTestLoader(t)
	l.Vars = map[string]interface{}{"team": "Alpha", "sprints": int64(3)}

	script := `
def sprint(n):
    return {"name": "Sprint%d" % n}

template = {
    "batch_name": "generated",
    "workspace_slug": "w1",
    "projects": [{
        "name": vars["team"],
        "cycles": [sprint(i + 1) for i in range(vars["sprints"])],
        "issues": [{"name": "Setup", "sub_issues": [{"name": "Repo"}]}],
    }],
}
`
	tpl, err := l.LoadFile(context.Background(), writeFile(t, "gen.star", script))
	require.NoError(t, err)

	assert.Equal(t, "generated", tpl.Name)
	require.Len(t, tpl.Projects[0].Cycles, 3)
	assert.Equal(t, "Sprint3", tpl.Projects[0].Cycles[2].Name)
	assert.Equal(t, 2, tpl.Count().Issues)
}

func TestLoadStarlarkGlobals(t *testing.T) {
	l := newTestLoader(t)

	script := `
batch_name = "globals"
projects = [{"name": "Beta"}]
`
	tpl, err := l.Parse(context.Background(), "inline.star", []byte(script), FormatStarlark)
	require.NoError(t, err)
	assert.Equal(t, "globals", tpl.Name)
	assert.Equal(t, "Beta", tpl.Projects[0].Name)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown field",
			content: "batch_name: Q1\nprojects:\n  - name: Alpha\n    colour: red\n",
			want:    "colour",
		},
		{
			name:    "missing batch name",
			content: "projects:\n  - name: Alpha\n",
			want:    "batch_name",
		},
		{
			name:    "no projects",
			content: "batch_name: Q1\nprojects: []\n",
			want:    "projects",
		},
		{
			name:    "issue without name",
			content: "batch_name: Q1\nprojects:\n  - name: Alpha\n    issues:\n      - priority: low\n",
			want:    "name",
		},
		{
			name:    "bad date",
			content: "batch_name: Q1\nprojects:\n  - name: Alpha\n    cycles:\n      - name: S1\n        start_date: next monday\n",
			want:    "start_date",
		},
		{
			name:    "slug too long",
			content: "batch_name: Q1\nprojects:\n  - name: Alpha\n    slug: ABCDEFGHIJKLMN\n",
			want:    "slug",
		},
		{
			name:    "duplicate cycle",
			content: "batch_name: Q1\nprojects:\n  - name: Alpha\n    cycles:\n      - name: S1\n      - name: S1\n",
			want:    "duplicate cycle name",
		},
		{
			name:    "dates out of order",
			content: "batch_name: Q1\nprojects:\n  - name: Alpha\n    cycles:\n      - name: S1\n        start_date: 2025-02-01\n        end_date: 2025-01-01\n",
			want:    "before start_date",
		},
		{
			name:    "duplicate identifier",
			content: "batch_name: Q1\nprojects:\n  - name: Alpha\n  - name: alpha\n",
			want:    "already used",
		},
		{
			name:    "not a mapping",
			content: "- just\n- a list\n",
			want:    "mapping",
		},
		{
			name:    "empty",
			content: "",
			want:    "empty",
		},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse(context.Background(), "test.yaml", []byte(tt.content), FormatYAML)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.Equal(t, "test.yaml", verr.Source)
			assert.NotEmpty(t, verr.Problems)
			assert.Contains(t, strings.ToLower(verr.Error()), strings.ToLower(tt.want))
		})
	}
}

func TestNullFieldsAreIgnored(t *testing.T) {
	l := newTestLoader(t)

	content := "batch_name: Q1\nworkspace_slug:\nprojects:\n  - name: Alpha\n    cycles:\n    issues:\n      - name: Bug1\n        module:\n"
	tpl, err := l.Parse(context.Background(), "null.yaml", []byte(content), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, tpl.Projects[0].Cycles)
	assert.Empty(t, tpl.Projects[0].Issues[0].Module)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("a.yaml"))
	assert.Equal(t, FormatYAML, FormatFromPath("a.yml"))
	assert.Equal(t, FormatJSON, FormatFromPath("a.JSON"))
	assert.Equal(t, FormatCUE, FormatFromPath("a.cue"))
	assert.Equal(t, FormatStarlark, FormatFromPath("a.star"))

	f, err := ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("toml")
	assert.Error(t, err)
}

func TestDeriveIdentifier(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Alpha", "ALPHA"},
		{"Mobile App v2", "MOBILEAPPV2"},
		{"Platform Engineering Team", "PLATFORMENGI"},
		{"데모 프로젝트", "PROJECT"},
		{"--", "PROJECT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveIdentifier(tt.name)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), MaxIdentifierLength)
		})
	}
}
