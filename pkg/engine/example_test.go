package engine_test

import (
	"os"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/template"
)

// ExamplePlan shows the calls a template produces, in execution order.
func ExamplePlan() {
	tpl := &template.BatchTemplate{
		Name:          "Q1",
		WorkspaceSlug: "acme",
		Projects: []template.ProjectTemplate{{
			Name:    "Alpha",
			Cycles:  []template.CycleTemplate{{Name: "Sprint1"}},
			Modules: []template.ModuleTemplate{{Name: "Backend"}},
			Issues: []template.IssueTemplate{{
				Name:      "Bug1",
				Cycle:     "Sprint1",
				Module:    "Backend",
				SubIssues: []template.IssueTemplate{{Name: "Bug1a"}},
			}},
		}},
	}

	plan := engine.Plan(tpl, engine.Options{})
	_ = plan.Render(os.Stdout)

	// Output:
	// Template "Q1" -> workspace "acme"
	//   1. create project "Alpha"
	//   2.   create cycle "Sprint1"
	//   3.   create module "Backend"
	//   4.   create issue "Bug1"
	//   5.   link_cycle "Bug1" -> "Sprint1"
	//   6.   link_module "Bug1" -> "Backend"
	//   7.     create issue "Bug1a"
	// 7 remote calls, 5 ledger rows (1 projects, 1 cycles, 1 modules, 2 issues)
}
