package template

// DefaultPriority is used for issues that do not declare a priority.
const DefaultPriority = "none"

// BatchTemplate is a parsed, validated template. Treat it as immutable.
type BatchTemplate struct {
	Name          string            `json:"batch_name" validate:"required"`
	WorkspaceSlug string            `json:"workspace_slug,omitempty"`
	Projects      []ProjectTemplate `json:"projects" validate:"required,min=1,dive"`
}

// ProjectTemplate declares one project and everything created inside it.
type ProjectTemplate struct {
	Name        string           `json:"name" validate:"required"`
	Slug        string           `json:"slug,omitempty" validate:"omitempty,max=12,alphanum"`
	Description string           `json:"description,omitempty"`
	Cycles      []CycleTemplate  `json:"cycles,omitempty" validate:"dive"`
	Modules     []ModuleTemplate `json:"modules,omitempty" validate:"dive"`
	Issues      []IssueTemplate  `json:"issues,omitempty" validate:"dive"`
}

// CycleTemplate declares a cycle. Dates are YYYY-MM-DD.
type CycleTemplate struct {
	Name        string  `json:"name" validate:"required"`
	StartDate   *string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate     *string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description string  `json:"description,omitempty"`
}

// ModuleTemplate declares a module.
type ModuleTemplate struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

// IssueTemplate declares an issue. Cycle and Module refer to cycle and
// module names of the same project and are resolved at execution time.
type IssueTemplate struct {
	Name        string          `json:"name" validate:"required"`
	Priority    string          `json:"priority,omitempty"`
	Description string          `json:"description,omitempty"`
	Cycle       string          `json:"cycle,omitempty"`
	Module      string          `json:"module,omitempty"`
	SubIssues   []IssueTemplate `json:"sub_issues,omitempty" validate:"dive"`
}

// WithWorkspace returns a copy of t targeting workspace. The project tree
// is shared, so neither template may be modified afterwards.
func (t *BatchTemplate) WithWorkspace(workspace string) *BatchTemplate {
	c := *t
	c.WorkspaceSlug = workspace
	return &c
}

// Counts is the number of resources a template declares, by kind.
type Counts struct {
	Projects int `json:"projects"`
	Cycles   int `json:"cycles"`
	Modules  int `json:"modules"`
	Issues   int `json:"issues"`
}

// Total is the sum over all kinds.
func (c Counts) Total() int {
	return c.Projects + c.Cycles + c.Modules + c.Issues
}

// Count returns how many resources the template declares. Issues include
// sub-issues at every depth.
func (t *BatchTemplate) Count() Counts {
	var c Counts
	for i := range t.Projects {
		p := &t.Projects[i]
		c.Projects++
		c.Cycles += len(p.Cycles)
		c.Modules += len(p.Modules)
		c.Issues += countIssues(p.Issues)
	}
	return c
}

func countIssues(issues []IssueTemplate) int {
	n := 0
	for i := range issues {
		n += 1 + countIssues(issues[i].SubIssues)
	}
	return n
}

// applyDefaults fills in optional values.
func (t *BatchTemplate) applyDefaults() {
	for i := range t.Projects {
		defaultPriorities(t.Projects[i].Issues)
	}
}

func defaultPriorities(issues []IssueTemplate) {
	for i := range issues {
		if issues[i].Priority == "" {
			issues[i].Priority = DefaultPriority
		}
		defaultPriorities(issues[i].SubIssues)
	}
}
