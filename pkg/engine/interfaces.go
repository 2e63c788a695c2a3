package engine

import (
	"context"

	"github.com/planesync/planesync/pkg/plane"
	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/template"
)

// ResourceClient creates, links and deletes remote resources. *plane.Client
// implements it.
type ResourceClient interface {
	ListProjects(ctx context.Context, ws string) ([]plane.Project, error)
	CreateProject(ctx context.Context, ws string, req plane.CreateProjectRequest) (*plane.Project, error)
	DeleteProject(ctx context.Context, ws, projectID string) error

	CreateCycle(ctx context.Context, ws, projectID string, req plane.CreateCycleRequest) (*plane.Cycle, error)
	DeleteCycle(ctx context.Context, ws, projectID, cycleID string) error

	CreateModule(ctx context.Context, ws, projectID string, req plane.CreateModuleRequest) (*plane.Module, error)
	DeleteModule(ctx context.Context, ws, projectID, moduleID string) error

	CreateIssue(ctx context.Context, ws, projectID string, req plane.CreateIssueRequest) (*plane.Issue, error)
	DeleteIssue(ctx context.Context, ws, projectID, issueID string) error

	AddIssuesToCycle(ctx context.Context, ws, projectID, cycleID string, issueIDs []string) error
	AddIssuesToModule(ctx context.Context, ws, projectID, moduleID string, issueIDs []string) error
}

// MetadataClient reads workspace metadata that is cached as facts.
type MetadataClient interface {
	ListProjects(ctx context.Context, ws string) ([]plane.Project, error)
	ListMembers(ctx context.Context, ws string) ([]plane.Member, error)
	ListStates(ctx context.Context, ws, projectID string) ([]plane.State, error)
}

// Ledger is the part of stores.Store the executor writes through.
type Ledger interface {
	CreateBatch(ctx context.Context, batch *stores.SyncBatch) error
	GetBatch(ctx context.Context, id string) (*stores.SyncBatch, error)
	UpdateBatchStatus(ctx context.Context, id string, status stores.BatchStatus, errMsg *string) error

	RecordResource(ctx context.Context, res *stores.CreatedResource) error
	ListResources(ctx context.Context, batchID string, order stores.Order) ([]*stores.CreatedResource, error)
	CountResources(ctx context.Context, batchID string) (int, error)
	DeleteResource(ctx context.Context, id int64) error

	AppendEvent(ctx context.Context, event *stores.Event) error

	UpsertFact(ctx context.Context, fact *stores.Fact) error
	GetFact(ctx context.Context, targetID, namespace, key string) (*stores.Fact, error)
}

// Guard checks a template before any batch is created. It returns a
// *PolicyError when the template must not run.
type Guard interface {
	Check(ctx context.Context, tpl *template.BatchTemplate) error
}

var (
	_ ResourceClient = (*plane.Client)(nil)
	_ MetadataClient = (*plane.Client)(nil)
	_ Ledger         = (stores.Store)(nil)
)
