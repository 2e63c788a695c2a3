package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/template"
)

func TestPlanOrder(t *testing.T) {
	tpl := q1Template()
	tpl.Projects[0].Modules = []template.ModuleTemplate{{Name: "Backend"}}
	tpl.Projects[0].Issues[0].SubIssues[0].Module = "Frontend"

	plan := Plan(tpl, Options{ReuseExistingProjects: true})

	want := []string{
		"create_or_reuse PROJECT Alpha",
		"create CYCLE Sprint1",
		"create MODULE Backend",
		"create ISSUE Bug1",
		"link_cycle ISSUE Bug1",
		"create ISSUE Bug1a",
	}
	if len(plan.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d: %+v", len(want), len(plan.Steps), plan.Steps)
	}
	for i, s := range plan.Steps {
		got := string(s.Action) + " " + string(s.ResourceType) + " " + s.Name
		if got != want[i] {
			t.Errorf("step %d: expected %q, got %q", i+1, want[i], got)
		}
		if s.Seq != i+1 {
			t.Errorf("step %d: seq %d", i+1, s.Seq)
		}
	}
	if plan.Steps[5].Depth != 2 {
		t.Errorf("sub-issue depth: expected 2, got %d", plan.Steps[5].Depth)
	}
	if plan.ExpectedRows != 5 {
		t.Errorf("expected 5 rows, got %d", plan.ExpectedRows)
	}
	if len(plan.Warnings) != 1 || !strings.Contains(plan.Warnings[0], "Frontend") {
		t.Errorf("expected warning about Frontend, got %v", plan.Warnings)
	}
}

func TestPlanRender(t *testing.T) {
	var buf bytes.Buffer
	if err := Plan(q1Template(), Options{}).Render(&buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`Template "Q1" -> workspace "w1"`,
		`create project "Alpha"`,
		`link_cycle "Bug1" -> "Sprint1"`,
		"4 ledger rows",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to stores.BatchStatus
		want     bool
	}{
		{stores.BatchStatusRunning, stores.BatchStatusCompleted, true},
		{stores.BatchStatusRunning, stores.BatchStatusFailed, true},
		{stores.BatchStatusCompleted, stores.BatchStatusDeleted, true},
		{stores.BatchStatusFailed, stores.BatchStatusPartialDeleted, true},
		{stores.BatchStatusPartialDeleted, stores.BatchStatusPartialDeleted, true},
		{stores.BatchStatusCompleted, stores.BatchStatusRunning, false},
		{stores.BatchStatusCompleted, stores.BatchStatusFailed, false},
		{stores.BatchStatusDeleted, stores.BatchStatusPartialDeleted, false},
		{stores.BatchStatusDeleted, stores.BatchStatusRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}

	if CanCleanup(stores.BatchStatusRunning, false) {
		t.Error("running batch must need force")
	}
	if !CanCleanup(stores.BatchStatusRunning, true) || !CanCleanup(stores.BatchStatusFailed, false) {
		t.Error("cleanup should be allowed")
	}
}
