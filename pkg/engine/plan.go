package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/template"
)

// PlanAction is what a planned step does.
type PlanAction string

const (
	ActionCreate        PlanAction = "create"
	ActionCreateOrReuse PlanAction = "create_or_reuse"
	ActionLinkCycle     PlanAction = "link_cycle"
	ActionLinkModule    PlanAction = "link_module"
)

// PlanStep is one remote call RunCreation would make.
type PlanStep struct {
	Seq          int                 `json:"seq"`
	Action       PlanAction          `json:"action"`
	ResourceType stores.ResourceType `json:"resource_type"`
	Name         string              `json:"name"`
	Project      string              `json:"project"`
	Target       string              `json:"target,omitempty"` // cycle or module name for links
	Depth        int                 `json:"depth"`
}

// CreationPlan is the ordered list of calls a template produces.
type CreationPlan struct {
	Template  string          `json:"template"`
	Workspace string          `json:"workspace"`
	Steps     []PlanStep      `json:"steps"`
	Counts    template.Counts `json:"counts"`

	// ExpectedRows is the number of ledger rows a successful run writes
	// when no project is reused.
	ExpectedRows int `json:"expected_rows"`

	// Warnings lists cycle and module references that will be ignored.
	Warnings []string `json:"warnings,omitempty"`
}

// Plan walks tpl in execution order without making remote calls.
func Plan(tpl *template.BatchTemplate, opts Options) *CreationPlan {
	workspace := tpl.WorkspaceSlug
	if workspace == "" {
		workspace = opts.DefaultWorkspace
	}

	counts := tpl.Count()
	plan := &CreationPlan{
		Template:     tpl.Name,
		Workspace:    workspace,
		Counts:       counts,
		ExpectedRows: counts.Total(),
	}

	add := func(step PlanStep) {
		step.Seq = len(plan.Steps) + 1
		plan.Steps = append(plan.Steps, step)
	}

	for i := range tpl.Projects {
		p := &tpl.Projects[i]
		identifier := p.ProjectIdentifier()

		action := ActionCreate
		if opts.ReuseExistingProjects {
			action = ActionCreateOrReuse
		}
		add(PlanStep{Action: action, ResourceType: stores.ResourceTypeProject, Name: p.Name, Project: identifier})

		cycles := make(map[string]bool, len(p.Cycles))
		for _, c := range p.Cycles {
			add(PlanStep{Action: ActionCreate, ResourceType: stores.ResourceTypeCycle, Name: c.Name, Project: identifier, Depth: 1})
			cycles[c.Name] = true
		}
		modules := make(map[string]bool, len(p.Modules))
		for _, m := range p.Modules {
			add(PlanStep{Action: ActionCreate, ResourceType: stores.ResourceTypeModule, Name: m.Name, Project: identifier, Depth: 1})
			modules[m.Name] = true
		}

		var walk func(issues []template.IssueTemplate, depth int)
		walk = func(issues []template.IssueTemplate, depth int) {
			for j := range issues {
				it := &issues[j]
				add(PlanStep{Action: ActionCreate, ResourceType: stores.ResourceTypeIssue, Name: it.Name, Project: identifier, Depth: depth})

				if it.Cycle != "" {
					if cycles[it.Cycle] {
						add(PlanStep{Action: ActionLinkCycle, ResourceType: stores.ResourceTypeIssue, Name: it.Name, Project: identifier, Target: it.Cycle, Depth: depth})
					} else {
						plan.Warnings = append(plan.Warnings,
							fmt.Sprintf("%s: issue %q refers to unknown cycle %q", identifier, it.Name, it.Cycle))
					}
				}
				if it.Module != "" {
					if modules[it.Module] {
						add(PlanStep{Action: ActionLinkModule, ResourceType: stores.ResourceTypeIssue, Name: it.Name, Project: identifier, Target: it.Module, Depth: depth})
					} else {
						plan.Warnings = append(plan.Warnings,
							fmt.Sprintf("%s: issue %q refers to unknown module %q", identifier, it.Name, it.Module))
					}
				}

				walk(it.SubIssues, depth+1)
			}
		}
		walk(p.Issues, 1)
	}

	return plan
}

// Render writes the plan as an indented outline.
func (p *CreationPlan) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Template %q -> workspace %q\n", p.Template, p.Workspace); err != nil {
		return err
	}
	for _, s := range p.Steps {
		indent := strings.Repeat("  ", s.Depth)
		var line string
		switch s.Action {
		case ActionLinkCycle, ActionLinkModule:
			line = fmt.Sprintf("%3d. %s%s %q -> %q", s.Seq, indent, s.Action, s.Name, s.Target)
		default:
			line = fmt.Sprintf("%3d. %s%s %s %q", s.Seq, indent, s.Action, strings.ToLower(string(s.ResourceType)), s.Name)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	for _, warn := range p.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warn); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d remote calls, %d ledger rows (%d projects, %d cycles, %d modules, %d issues)\n",
		len(p.Steps), p.ExpectedRows, p.Counts.Projects, p.Counts.Cycles, p.Counts.Modules, p.Counts.Issues)
	return err
}
