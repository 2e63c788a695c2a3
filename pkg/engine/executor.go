package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planesync/planesync/pkg/plane"
	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/telemetry"
	"github.com/planesync/planesync/pkg/template"
)

// Options configures an Executor.
type Options struct {
	// ReuseExistingProjects looks projects up by identifier before creating
	// them. A reused project is not recorded, so cleanup never deletes it.
	ReuseExistingProjects bool

	// DefaultWorkspace is used when a template has no workspace_slug.
	DefaultWorkspace string

	// Guard, when set, is consulted before a batch is created.
	Guard Guard

	// Telemetry receives logs, spans and metrics. Defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Executor runs creation and cleanup batches. It is safe for concurrent
// use; each batch runs sequentially on the caller's goroutine.
type Executor struct {
	client ResourceClient
	ledger Ledger
	opts   Options
	tel    *telemetry.Telemetry

	clockMu sync.Mutex
	last    time.Time
}

// NewExecutor creates an executor writing through ledger.
func NewExecutor(client ResourceClient, ledger Ledger, opts Options) *Executor {
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Executor{
		client: client,
		ledger: ledger,
		opts:   opts,
		tel:    opts.Telemetry,
	}
}

// tick returns a ledger timestamp strictly after the previous one, so rows
// written in sequence never share a created_at.
func (e *Executor) tick() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()

	now := e.opts.Now().UTC()
	if !now.After(e.last) {
		now = e.last.Add(time.Nanosecond)
	}
	e.last = now
	return now
}

// RunCreation executes tpl as a new batch. Projects are processed in order;
// inside a project cycles, modules and then issues are created depth-first.
// Every created resource is recorded before the next remote call.
//
// On success the COMPLETED batch is returned with a nil error. When a step
// fails the batch is marked FAILED, rows written so far are kept, and the
// FAILED batch is returned together with the failing error. A nil batch is
// returned only when no batch row could be written at all.
//
// Cancellation of ctx is ignored once the run starts: a remote create that
// succeeded must always reach the ledger and the batch must always leave
// RUNNING. Values such as loggers and trace spans are kept.
func (e *Executor) RunCreation(ctx context.Context, tpl *template.BatchTemplate) (*stores.SyncBatch, error) {
	ctx = context.WithoutCancel(ctx)

	workspace := tpl.WorkspaceSlug
	if workspace == "" {
		workspace = e.opts.DefaultWorkspace
	}
	if workspace == "" {
		return nil, ErrNoWorkspace
	}

	if e.opts.Guard != nil {
		if err := e.opts.Guard.Check(ctx, tpl); err != nil {
			var pe *PolicyError
			if errors.As(err, &pe) {
				for _, v := range pe.Violations {
					e.tel.Metrics.RecordPolicyViolation(v.Policy, v.Severity)
				}
			}
			return nil, err
		}
	}

	now := e.tick()
	batch := &stores.SyncBatch{
		ID:            e.opts.NewID(),
		TemplateName:  tpl.Name,
		WorkspaceSlug: workspace,
		Status:        stores.BatchStatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.ledger.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	scope := e.tel.StartBatch(ctx, "create", batch.ID)
	ctx = scope.Ctx

	counts := tpl.Count()
	scope.Logger.WithFields(map[string]interface{}{
		"template":  tpl.Name,
		"workspace": workspace,
		"projects":  counts.Projects,
		"resources": counts.Total(),
	}).Info("batch started")
	e.event(ctx, batch.ID, stores.EventLevelInfo, "batch.started",
		fmt.Sprintf("creating %d resources from template %q", counts.Total(), tpl.Name), counts)

	run := &creationRun{
		exec:      e,
		batch:     batch,
		workspace: workspace,
		log:       scope.Logger,
	}

	runErr := run.execute(ctx, tpl)

	status := stores.BatchStatusCompleted
	var errMsg *string
	if runErr != nil {
		status = stores.BatchStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}

	final, err := e.finish(ctx, batch, status, errMsg)
	scope.End(string(status), runErr)
	if err != nil {
		if runErr != nil {
			err = errors.Join(runErr, err)
		}
		return final, err
	}

	if runErr != nil {
		scope.Logger.WithError(runErr).Error("batch failed")
		e.event(ctx, batch.ID, stores.EventLevelError, "batch.failed", runErr.Error(), nil)
		return final, runErr
	}

	scope.Logger.WithField("rows", run.recorded).Info("batch completed")
	e.event(ctx, batch.ID, stores.EventLevelInfo, "batch.completed",
		fmt.Sprintf("recorded %d resources", run.recorded), nil)
	return final, nil
}

// finish moves batch to status and returns the stored row. If the row can
// not be re-read the in-memory batch is returned.
func (e *Executor) finish(ctx context.Context, batch *stores.SyncBatch, status stores.BatchStatus, errMsg *string) (*stores.SyncBatch, error) {
	if err := e.setStatus(ctx, batch, status, errMsg); err != nil {
		return batch, err
	}

	stored, err := e.ledger.GetBatch(ctx, batch.ID)
	if err != nil {
		return batch, nil
	}
	return stored, nil
}

// event appends to the operation log. Failures are logged and otherwise
// ignored; the ledger rows are the record of truth.
func (e *Executor) event(ctx context.Context, batchID string, level stores.EventLevel, step, message string, details interface{}) {
	ev := &stores.Event{
		BatchID:   &batchID,
		Level:     level,
		Step:      step,
		Message:   message,
		Timestamp: e.opts.Now().UTC(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			s := string(raw)
			ev.Details = &s
		}
	}
	if err := e.ledger.AppendEvent(ctx, ev); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warnf("failed to append %s event", step)
	}
}

// creationRun holds the state of one RunCreation call.
type creationRun struct {
	exec      *Executor
	batch     *stores.SyncBatch
	workspace string
	log       *telemetry.Logger
	recorded  int

	// projects caches the remote project list when reuse is on.
	projects []plane.Project
	listed   bool
}

// projectRun holds the name maps of the project being populated.
type projectRun struct {
	id           string
	identifier   string
	cycles       map[string]string
	modules      map[string]string
	visited      map[string]bool
	defaultState *string
}

func (r *creationRun) execute(ctx context.Context, tpl *template.BatchTemplate) error {
	for i := range tpl.Projects {
		if err := r.project(ctx, &tpl.Projects[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *creationRun) project(ctx context.Context, p *template.ProjectTemplate) error {
	identifier := p.ProjectIdentifier()
	pr := &projectRun{
		identifier: identifier,
		cycles:     make(map[string]string, len(p.Cycles)),
		modules:    make(map[string]string, len(p.Modules)),
		visited:    make(map[string]bool),
	}

	projectID, err := r.resolveProject(ctx, p, identifier)
	if err != nil {
		return err
	}
	pr.id = projectID
	pr.defaultState = r.exec.defaultState(ctx, projectID)

	for _, c := range p.Cycles {
		req := plane.CreateCycleRequest{
			Name:        c.Name,
			Description: c.Description,
			StartDate:   c.StartDate,
			EndDate:     c.EndDate,
		}
		id, err := r.create(ctx, pr, "create_cycle", stores.ResourceTypeCycle, c.Name, func(ctx context.Context) (string, error) {
			cycle, err := r.exec.client.CreateCycle(ctx, r.workspace, projectID, req)
			if err != nil {
				return "", err
			}
			return cycle.ID, nil
		})
		if err != nil {
			return err
		}
		if err := r.record(ctx, pr, stores.ResourceTypeCycle, id, c.Name, nil); err != nil {
			return err
		}
		pr.cycles[c.Name] = id
	}

	for _, m := range p.Modules {
		req := plane.CreateModuleRequest{Name: m.Name, Description: m.Description}
		id, err := r.create(ctx, pr, "create_module", stores.ResourceTypeModule, m.Name, func(ctx context.Context) (string, error) {
			module, err := r.exec.client.CreateModule(ctx, r.workspace, projectID, req)
			if err != nil {
				return "", err
			}
			return module.ID, nil
		})
		if err != nil {
			return err
		}
		if err := r.record(ctx, pr, stores.ResourceTypeModule, id, m.Name, nil); err != nil {
			return err
		}
		pr.modules[m.Name] = id
	}

	for i := range p.Issues {
		if err := r.issue(ctx, pr, &p.Issues[i], nil); err != nil {
			return err
		}
	}
	return nil
}

// resolveProject returns the remote ID of the project, reusing an existing
// one with the same identifier when enabled.
func (r *creationRun) resolveProject(ctx context.Context, p *template.ProjectTemplate, identifier string) (string, error) {
	pr := &projectRun{identifier: identifier}

	if r.exec.opts.ReuseExistingProjects {
		if !r.listed {
			err := r.exec.tel.RecordRemoteCall(ctx, "list_projects", string(stores.ResourceTypeProject), func(ctx context.Context) error {
				projects, err := r.exec.client.ListProjects(ctx, r.workspace)
				r.projects = projects
				return err
			})
			if err != nil {
				return "", r.stepFailed(ctx, pr, "list_projects", stores.ResourceTypeProject, p.Name, err)
			}
			r.listed = true
		}
		for _, existing := range r.projects {
			if strings.EqualFold(existing.Identifier, identifier) {
				r.log.WithResource(string(stores.ResourceTypeProject), existing.ID).
					WithField("identifier", identifier).
					Info("reusing existing project")
				r.exec.event(ctx, r.batch.ID, stores.EventLevelInfo, "reuse.project",
					fmt.Sprintf("reusing project %s (%s)", identifier, existing.ID), nil)
				return existing.ID, nil
			}
		}
	}

	req := plane.NewCreateProjectRequest(p.Name, identifier, p.Description)
	id, err := r.create(ctx, pr, "create_project", stores.ResourceTypeProject, p.Name, func(ctx context.Context) (string, error) {
		project, err := r.exec.client.CreateProject(ctx, r.workspace, req)
		if err != nil {
			return "", err
		}
		return project.ID, nil
	})
	if err != nil {
		return "", err
	}
	pr.id = id
	if err := r.record(ctx, pr, stores.ResourceTypeProject, id, p.Name, nil); err != nil {
		return "", err
	}
	r.projects = append(r.projects, plane.Project{ID: id, Name: p.Name, Identifier: identifier})
	return id, nil
}

// issue creates it and its sub-issues depth-first.
func (r *creationRun) issue(ctx context.Context, pr *projectRun, it *template.IssueTemplate, parentID *string) error {
	req := plane.CreateIssueRequest{
		Name:            it.Name,
		Priority:        it.Priority,
		Parent:          parentID,
		State:           pr.defaultState,
		DescriptionHTML: plane.DescriptionHTML(it.Description),
	}

	id, err := r.create(ctx, pr, "create_issue", stores.ResourceTypeIssue, it.Name, func(ctx context.Context) (string, error) {
		issue, err := r.exec.client.CreateIssue(ctx, r.workspace, pr.id, req)
		if err != nil {
			return "", err
		}
		return issue.ID, nil
	})
	if err != nil {
		return err
	}

	if pr.visited[id] || (parentID != nil && *parentID == id) {
		return r.stepFailed(ctx, pr, "create_issue", stores.ResourceTypeIssue, it.Name,
			fmt.Errorf("%w: remote id %s already used in project %s", ErrSelfReference, id, pr.identifier))
	}
	pr.visited[id] = true

	if err := r.record(ctx, pr, stores.ResourceTypeIssue, id, it.Name, parentID); err != nil {
		return err
	}

	if cycleID, ok := pr.cycles[it.Cycle]; ok && it.Cycle != "" {
		err := r.link(ctx, pr, "link_cycle", it.Name, func(ctx context.Context) error {
			return r.exec.client.AddIssuesToCycle(ctx, r.workspace, pr.id, cycleID, []string{id})
		})
		if err != nil {
			return err
		}
	} else if it.Cycle != "" {
		r.log.WithResource(string(stores.ResourceTypeIssue), id).
			WithField("cycle", it.Cycle).
			Debug("cycle not declared in project, issue left unlinked")
	}

	if moduleID, ok := pr.modules[it.Module]; ok && it.Module != "" {
		err := r.link(ctx, pr, "link_module", it.Name, func(ctx context.Context) error {
			return r.exec.client.AddIssuesToModule(ctx, r.workspace, pr.id, moduleID, []string{id})
		})
		if err != nil {
			return err
		}
	} else if it.Module != "" {
		r.log.WithResource(string(stores.ResourceTypeIssue), id).
			WithField("module", it.Module).
			Debug("module not declared in project, issue left unlinked")
	}

	for i := range it.SubIssues {
		if err := r.issue(ctx, pr, &it.SubIssues[i], &id); err != nil {
			return err
		}
	}
	return nil
}

// create performs one remote create call and returns the new remote ID.
func (r *creationRun) create(ctx context.Context, pr *projectRun, op string, rt stores.ResourceType, name string, fn func(ctx context.Context) (string, error)) (string, error) {
	var remoteID string
	err := r.exec.tel.RecordRemoteCall(ctx, op, string(rt), func(ctx context.Context) error {
		id, err := fn(ctx)
		remoteID = id
		return err
	})
	if err != nil {
		return "", r.stepFailed(ctx, pr, op, rt, name, err)
	}

	r.log.WithResource(string(rt), remoteID).WithField("name", name).Info("created")
	return remoteID, nil
}

// link attaches a freshly created issue to a cycle or module.
func (r *creationRun) link(ctx context.Context, pr *projectRun, op, name string, fn func(ctx context.Context) error) error {
	if err := r.exec.tel.RecordRemoteCall(ctx, op, string(stores.ResourceTypeIssue), fn); err != nil {
		return r.stepFailed(ctx, pr, op, stores.ResourceTypeIssue, name, err)
	}
	return nil
}

func (r *creationRun) stepFailed(ctx context.Context, pr *projectRun, op string, rt stores.ResourceType, name string, err error) error {
	stepErr := &StepError{
		Operation:    op,
		ResourceType: rt,
		Name:         name,
		Project:      pr.identifier,
		Err:          err,
	}
	class := telemetry.ErrorClassOf(err)
	r.log.WithResource(string(rt), "").
		WithFields(map[string]interface{}{"name": name, "class": class}).
		WithError(err).
		Errorf("%s failed", op)
	r.exec.event(ctx, r.batch.ID, stores.EventLevelError, op, stepErr.Error(),
		map[string]string{"class": class, "name": name})
	return stepErr
}

// record writes the ledger row for a created resource.
func (r *creationRun) record(ctx context.Context, pr *projectRun, rt stores.ResourceType, remoteID, name string, parentID *string) error {
	projectID := pr.id
	if rt == stores.ResourceTypeProject {
		projectID = remoteID
	}

	res := &stores.CreatedResource{
		BatchID:       r.batch.ID,
		ResourceType:  rt,
		RemoteID:      remoteID,
		Name:          name,
		ProjectSlug:   pr.identifier,
		ProjectID:     projectID,
		WorkspaceSlug: r.workspace,
		ParentID:      parentID,
		CreatedAt:     r.exec.tick(),
	}
	if err := r.exec.ledger.RecordResource(ctx, res); err != nil {
		r.log.WithResource(string(rt), remoteID).
			WithFields(map[string]interface{}{"name": name, "project_id": projectID}).
			WithError(err).
			Error("resource created remotely but not recorded, delete it by hand")
		return &LedgerWriteError{
			BatchID:      r.batch.ID,
			ResourceType: rt,
			RemoteID:     remoteID,
			Err:          err,
		}
	}

	r.recorded++
	r.exec.tel.Metrics.RecordLedgerWrite(string(rt))
	return nil
}
