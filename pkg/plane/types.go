package plane

// Project is a Plane project as returned by the API.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	Description string `json:"description,omitempty"`
}

// Cycle is a time-boxed iteration inside a project.
type Cycle struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
}

// Module is a feature grouping inside a project.
type Module struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Issue is a Plane work item.
type Issue struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Priority string  `json:"priority,omitempty"`
	Parent   *string `json:"parent,omitempty"`
	State    *string `json:"state,omitempty"`
}

// Member is a workspace member.
type Member struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// State is a workflow state of a project.
type State struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

// CreateProjectRequest is the payload for creating a project.
type CreateProjectRequest struct {
	Name           string `json:"name"`
	Identifier     string `json:"identifier"`
	Description    string `json:"description,omitempty"`
	ModuleView     bool   `json:"module_view"`
	CycleView      bool   `json:"cycle_view"`
	IssueViewsView bool   `json:"issue_views_view"`
	PageView       bool   `json:"page_view"`
	InboxView      bool   `json:"inbox_view"`
}

// NewCreateProjectRequest returns a request with cycles and modules enabled,
// which the rest of a batch depends on.
func NewCreateProjectRequest(name, identifier, description string) CreateProjectRequest {
	return CreateProjectRequest{
		Name:           name,
		Identifier:     identifier,
		Description:    description,
		ModuleView:     true,
		CycleView:      true,
		IssueViewsView: true,
		PageView:       true,
		InboxView:      false,
	}
}

// CreateCycleRequest is the payload for creating a cycle.
type CreateCycleRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
}

// CreateModuleRequest is the payload for creating a module.
type CreateModuleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateIssueRequest is the payload for creating a work item.
type CreateIssueRequest struct {
	Name            string  `json:"name"`
	Priority        string  `json:"priority,omitempty"`
	Parent          *string `json:"parent,omitempty"`
	State           *string `json:"state,omitempty"`
	DescriptionHTML string  `json:"description_html,omitempty"`
}

type linkIssuesRequest struct {
	Issues []string `json:"issues"`
}
