package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/template"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func strPtr(s string) *string { return &s }

func baseTemplate() *template.BatchTemplate {
	return &template.BatchTemplate{
		Name:          "Q1",
		WorkspaceSlug: "w1",
		Projects: []template.ProjectTemplate{{
			Name: "Alpha",
			Cycles: []template.CycleTemplate{{
				Name:      "Sprint1",
				StartDate: strPtr("2025-01-06"),
				EndDate:   strPtr("2025-01-17"),
			}},
			Modules: []template.ModuleTemplate{{Name: "Backend"}},
			Issues: []template.IssueTemplate{{
				Name:     "Bug1",
				Priority: "high",
				Cycle:    "Sprint1",
				SubIssues: []template.IssueTemplate{{
					Name: "Bug1a",
				}},
			}},
		}},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		if !p.Builtin || !p.Enabled {
			t.Errorf("Built-in policy %s should be builtin and enabled", p.Name)
		}
	}

	want := "batch-limits,cycle-dates,duplicate-names,issue-nesting,issue-priority"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("Expected policies %s, got %s", want, got)
	}
}

func TestEvaluate_CleanTemplate(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), baseTemplate(), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected allowed, got violations %+v", result.Violations)
	}
	if len(result.Warnings) != 0 || len(result.Errors) != 0 {
		t.Errorf("Expected no findings, got warnings %+v errors %v", result.Warnings, result.Errors)
	}
	if len(result.EvaluatedPolicies) != 5 {
		t.Errorf("Expected 5 evaluated policies, got %v", result.EvaluatedPolicies)
	}
}

func TestEvaluate_BuiltinFindings(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(tpl *template.BatchTemplate)
		policy   string
		severity Severity
		path     string
	}{
		{
			name: "unknown priority",
			mutate: func(tpl *template.BatchTemplate) {
				tpl.Projects[0].Issues[0].SubIssues[0].Priority = "critical"
			},
			policy:   "issue-priority",
			severity: SeverityWarning,
			path:     "projects.0.issues.0.sub_issues.0",
		},
		{
			name: "start without end",
			mutate: func(tpl *template.BatchTemplate) {
				tpl.Projects[0].Cycles[0].EndDate = nil
			},
			policy:   "cycle-dates",
			severity: SeverityError,
			path:     "projects.0.cycles.0",
		},
		{
			name: "end before start",
			mutate: func(tpl *template.BatchTemplate) {
				tpl.Projects[0].Cycles[0].EndDate = strPtr("2024-12-31")
			},
			policy:   "cycle-dates",
			severity: SeverityError,
			path:     "projects.0.cycles.0",
		},
		{
			name: "duplicate module",
			mutate: func(tpl *template.BatchTemplate) {
				tpl.Projects[0].Modules = append(tpl.Projects[0].Modules, template.ModuleTemplate{Name: "Backend"})
			},
			policy:   "duplicate-names",
			severity: SeverityWarning,
			path:     "projects.0.modules.1",
		},
		{
			name: "too many resources",
			mutate: func(tpl *template.BatchTemplate) {
				for i := 0; i < 500; i++ {
					tpl.Projects[0].Issues = append(tpl.Projects[0].Issues, template.IssueTemplate{Name: fmt.Sprintf("Task%d", i)})
				}
			},
			policy:   "batch-limits",
			severity: SeverityError,
		},
		{
			name: "deep nesting",
			mutate: func(tpl *template.BatchTemplate) {
				leaf := template.IssueTemplate{Name: "L5"}
				for i := 4; i >= 1; i-- {
					leaf = template.IssueTemplate{Name: fmt.Sprintf("L%d", i), SubIssues: []template.IssueTemplate{leaf}}
				}
				tpl.Projects[0].Issues[0].SubIssues[0].SubIssues = []template.IssueTemplate{leaf}
			},
			policy:   "issue-nesting",
			severity: SeverityWarning,
			path:     "projects.0.issues.0" + strings.Repeat(".sub_issues.0", 5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t)
			tpl := baseTemplate()
			tt.mutate(tpl)

			result, err := eng.Evaluate(context.Background(), tpl, nil)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}

			findings := append(append([]PolicyViolation{}, result.Violations...), result.Warnings...)
			var found *PolicyViolation
			for i := range findings {
				if findings[i].Policy == tt.policy {
					found = &findings[i]
					break
				}
			}
			if found == nil {
				t.Fatalf("Expected a %s finding, got %+v", tt.policy, findings)
			}
			if found.Severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, found.Severity)
			}
			if tt.path != "" && found.Path != tt.path {
				t.Errorf("Expected path %s, got %s", tt.path, found.Path)
			}
			if result.Allowed == tt.severity.Blocking() {
				t.Errorf("Allowed=%v does not match severity %s", result.Allowed, tt.severity)
			}
		})
	}
}

func TestCheckReturnsPolicyError(t *testing.T) {
	eng := newTestEngine(t)
	tpl := baseTemplate()
	tpl.Projects[0].Cycles[0].StartDate = nil

	err := eng.Check(context.Background(), tpl)
	var pe *engine.PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *engine.PolicyError, got %v", err)
	}
	if len(pe.Violations) != 1 || pe.Violations[0].Policy != "cycle-dates" {
		t.Errorf("Unexpected violations %+v", pe.Violations)
	}
	if pe.Violations[0].Rule != "planesync.policies.cycles" {
		t.Errorf("Expected rule to be the package, got %s", pe.Violations[0].Rule)
	}

	// Warnings alone never block.
	tpl = baseTemplate()
	tpl.Projects[0].Issues[0].Priority = "asap"
	if err := eng.Check(context.Background(), tpl); err != nil {
		t.Errorf("Warning should not block, got %v", err)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	tpl := baseTemplate()
	tpl.Projects[0].Cycles[0].EndDate = nil

	if err := eng.DisablePolicy("cycle-dates"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	if err := eng.Check(context.Background(), tpl); err != nil {
		t.Errorf("Disabled policy should not block, got %v", err)
	}

	if err := eng.EnablePolicy("cycle-dates"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	if err := eng.Check(context.Background(), tpl); err == nil {
		t.Error("Re-enabled policy should block")
	}

	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestAddPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{Name: "short-names", Rego: denyLongNames, Severity: SeverityError, Enabled: true}
	if err := eng.AddPolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("AddPolicies failed: %v", err)
	}

	tpl := baseTemplate()
	tpl.Projects[0].Name = "A project name that is far too long"
	result, err := eng.Evaluate(ctx, tpl, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed || len(result.Violations) != 1 {
		t.Fatalf("Expected one blocking violation, got %+v", result)
	}
	if v := result.Violations[0]; v.Policy != "short-names" || !strings.Contains(v.Message, "too long") {
		t.Errorf("Unexpected violation %+v", v)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains x if {"}
	if err := eng.AddPolicies(ctx, []Policy{broken}); err == nil {
		t.Error("Expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("Broken policy must not be added")
	}
}

func TestReplacePoliciesKeepsBuiltins(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddPolicies(ctx, []Policy{{Name: "old", Rego: denyLongNames, Enabled: true}}); err != nil {
		t.Fatal(err)
	}
	if err := eng.ReplacePolicies(ctx, []Policy{{Name: "new", Rego: denyLongNames, Enabled: true}}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	if _, err := eng.GetPolicy("old"); err == nil {
		t.Error("Replaced policy should be gone")
	}
	if _, err := eng.GetPolicy("new"); err != nil {
		t.Error("New policy should be loaded")
	}
	if _, err := eng.GetPolicy("batch-limits"); err != nil {
		t.Error("Built-in policies must survive a replace")
	}

	if err := eng.ReloadPolicies(ctx); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}
	if len(eng.ListPolicies()) != 5 {
		t.Errorf("Expected only built-ins after reload, got %d", len(eng.ListPolicies()))
	}
}
