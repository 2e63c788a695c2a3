package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/planesync/planesync/pkg/plane"
	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/template"
)

// call is one request seen by fakeClient.
type call struct {
	op       string
	name     string // template name for creates, remote ID for deletes
	parent   string
	target   string // cycle or module ID for links
	state    string
	priority string
}

// fakeClient is an in-memory Plane workspace.
type fakeClient struct {
	calls    []call
	seq      map[string]int
	projects []plane.Project
	members  []plane.Member
	states   map[string][]plane.State

	// failCreate fails the create call for a template name.
	failCreate map[string]error
	// failLink fails links of an issue name.
	failLink map[string]error
	// failDelete fails deletes of a remote ID.
	failDelete map[string]error
	// fixedIssueID makes every issue create return the same ID.
	fixedIssueID string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		seq:        make(map[string]int),
		states:     make(map[string][]plane.State),
		failCreate: make(map[string]error),
		failLink:   make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (f *fakeClient) nextID(kind string) string {
	f.seq[kind]++
	return fmt.Sprintf("%s-%d", kind, f.seq[kind])
}

func (f *fakeClient) ops() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op + ":" + c.name
	}
	return out
}

func (f *fakeClient) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeClient) ListProjects(_ context.Context, _ string) ([]plane.Project, error) {
	f.calls = append(f.calls, call{op: "list_projects"})
	return f.projects, nil
}

func (f *fakeClient) CreateProject(_ context.Context, _ string, req plane.CreateProjectRequest) (*plane.Project, error) {
	f.calls = append(f.calls, call{op: "create_project", name: req.Name})
	if err := f.failCreate[req.Name]; err != nil {
		return nil, err
	}
	return &plane.Project{ID: f.nextID("project"), Name: req.Name, Identifier: req.Identifier}, nil
}

func (f *fakeClient) CreateCycle(_ context.Context, _, _ string, req plane.CreateCycleRequest) (*plane.Cycle, error) {
	f.calls = append(f.calls, call{op: "create_cycle", name: req.Name})
	if err := f.failCreate[req.Name]; err != nil {
		return nil, err
	}
	return &plane.Cycle{ID: f.nextID("cycle"), Name: req.Name}, nil
}

func (f *fakeClient) CreateModule(_ context.Context, _, _ string, req plane.CreateModuleRequest) (*plane.Module, error) {
	f.calls = append(f.calls, call{op: "create_module", name: req.Name})
	if err := f.failCreate[req.Name]; err != nil {
		return nil, err
	}
	return &plane.Module{ID: f.nextID("module"), Name: req.Name}, nil
}

func (f *fakeClient) CreateIssue(_ context.Context, _, _ string, req plane.CreateIssueRequest) (*plane.Issue, error) {
	c := call{op: "create_issue", name: req.Name, priority: req.Priority}
	if req.Parent != nil {
		c.parent = *req.Parent
	}
	if req.State != nil {
		c.state = *req.State
	}
	f.calls = append(f.calls, c)
	if err := f.failCreate[req.Name]; err != nil {
		return nil, err
	}
	id := f.fixedIssueID
	if id == "" {
		id = f.nextID("issue")
	}
	return &plane.Issue{ID: id, Name: req.Name, Parent: req.Parent}, nil
}

func (f *fakeClient) AddIssuesToCycle(_ context.Context, _, _, cycleID string, issueIDs []string) error {
	f.calls = append(f.calls, call{op: "link_cycle", name: issueIDs[0], target: cycleID})
	return f.failLink[issueIDs[0]]
}

func (f *fakeClient) AddIssuesToModule(_ context.Context, _, _, moduleID string, issueIDs []string) error {
	f.calls = append(f.calls, call{op: "link_module", name: issueIDs[0], target: moduleID})
	return f.failLink[issueIDs[0]]
}

func (f *fakeClient) remove(op, id string) error {
	f.calls = append(f.calls, call{op: op, name: id})
	return f.failDelete[id]
}

func (f *fakeClient) DeleteProject(_ context.Context, _, projectID string) error {
	return f.remove("delete_project", projectID)
}

func (f *fakeClient) DeleteCycle(_ context.Context, _, _, cycleID string) error {
	return f.remove("delete_cycle", cycleID)
}

func (f *fakeClient) DeleteModule(_ context.Context, _, _, moduleID string) error {
	return f.remove("delete_module", moduleID)
}

func (f *fakeClient) DeleteIssue(_ context.Context, _, _, issueID string) error {
	return f.remove("delete_issue", issueID)
}

func (f *fakeClient) ListMembers(_ context.Context, _ string) ([]plane.Member, error) {
	return f.members, nil
}

func (f *fakeClient) ListStates(_ context.Context, _, projectID string) ([]plane.State, error) {
	return f.states[projectID], nil
}

// failingLedger wraps a store and fails RecordResource for one resource type.
type failingLedger struct {
	Ledger
	failType stores.ResourceType
}

func (l *failingLedger) RecordResource(ctx context.Context, res *stores.CreatedResource) error {
	if res.ResourceType == l.failType {
		return errors.New("disk full")
	}
	return l.Ledger.RecordResource(ctx, res)
}

func serverError() error {
	return &plane.RemoteError{Class: plane.ClassServerError, StatusCode: 500, Method: "POST", Path: "/x/"}
}

func setupLedger(t *testing.T) *stores.SQLStore {
	t.Helper()

	store, err := stores.NewSQLStore(stores.Config{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// q1Template is project Alpha with cycle Sprint1, issue Bug1 in Sprint1 and
// its sub-issue Bug1a.
func q1Template() *template.BatchTemplate {
	return &template.BatchTemplate{
		Name:          "Q1",
		WorkspaceSlug: "w1",
		Projects: []template.ProjectTemplate{{
			Name:   "Alpha",
			Cycles: []template.CycleTemplate{{Name: "Sprint1"}},
			Issues: []template.IssueTemplate{{
				Name:     "Bug1",
				Priority: "none",
				Cycle:    "Sprint1",
				SubIssues: []template.IssueTemplate{{
					Name:     "Bug1a",
					Priority: "high",
				}},
			}},
		}},
	}
}

// cancelClient behaves like a network client: calls made with a done
// context fail before reaching the fake. After the call named trigger
// succeeds it cancels the caller's context.
type cancelClient struct {
	*fakeClient
	trigger string
	cancel  context.CancelFunc
}

func (c *cancelClient) after(name string, err error) error {
	if err == nil && name == c.trigger {
		c.cancel()
	}
	return err
}

func (c *cancelClient) CreateIssue(ctx context.Context, ws, projectID string, req plane.CreateIssueRequest) (*plane.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	issue, err := c.fakeClient.CreateIssue(ctx, ws, projectID, req)
	return issue, c.after(req.Name, err)
}

func (c *cancelClient) AddIssuesToCycle(ctx context.Context, ws, projectID, cycleID string, issueIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeClient.AddIssuesToCycle(ctx, ws, projectID, cycleID, issueIDs)
}

func (c *cancelClient) DeleteIssue(ctx context.Context, ws, projectID, issueID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.after(issueID, c.fakeClient.DeleteIssue(ctx, ws, projectID, issueID))
}

func (c *cancelClient) DeleteCycle(ctx context.Context, ws, projectID, cycleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.after(cycleID, c.fakeClient.DeleteCycle(ctx, ws, projectID, cycleID))
}

func (c *cancelClient) DeleteProject(ctx context.Context, ws, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.after(projectID, c.fakeClient.DeleteProject(ctx, ws, projectID))
}
