package stores

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned (wrapped) when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BatchStatus represents the lifecycle state of a sync batch
type BatchStatus string

const (
	BatchStatusRunning        BatchStatus = "RUNNING"
	BatchStatusCompleted      BatchStatus = "COMPLETED"
	BatchStatusFailed         BatchStatus = "FAILED"
	BatchStatusPartialDeleted BatchStatus = "PARTIAL_DELETED"
	BatchStatusDeleted        BatchStatus = "DELETED"
)

// Validate checks that the status is one of the known values.
func (s BatchStatus) Validate() error {
	switch s {
	case BatchStatusRunning, BatchStatusCompleted, BatchStatusFailed,
		BatchStatusPartialDeleted, BatchStatusDeleted:
		return nil
	default:
		return fmt.Errorf("invalid batch status: %q", s)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusDeleted
}

// ResourceType is the kind of remote resource a ledger row refers to
type ResourceType string

const (
	ResourceTypeProject ResourceType = "PROJECT"
	ResourceTypeCycle   ResourceType = "CYCLE"
	ResourceTypeModule  ResourceType = "MODULE"
	ResourceTypeIssue   ResourceType = "ISSUE"
)

// Validate checks that the resource type is one of the known kinds.
func (r ResourceType) Validate() error {
	switch r {
	case ResourceTypeProject, ResourceTypeCycle, ResourceTypeModule, ResourceTypeIssue:
		return nil
	default:
		return fmt.Errorf("invalid resource type: %q", r)
	}
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// SyncBatch is one execution of a template.
type SyncBatch struct {
	ID            string      `json:"id"`
	TemplateName  string      `json:"template_name"`
	WorkspaceSlug string      `json:"workspace_slug"`
	Status        BatchStatus `json:"status"`
	Error         *string     `json:"error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CreatedResource is a ledger row for a remote resource created by a batch.
type CreatedResource struct {
	ID            int64        `json:"id"`
	BatchID       string       `json:"batch_id"`
	ResourceType  ResourceType `json:"resource_type"`
	RemoteID      string       `json:"remote_id"`
	Name          string       `json:"name"`
	ProjectSlug   string       `json:"project_slug"`
	ProjectID     string       `json:"project_id"`
	WorkspaceSlug string       `json:"workspace_slug"`
	ParentID      *string      `json:"parent_id,omitempty"` // sub-issues only
	CreatedAt     time.Time    `json:"created_at"`
}

// Event represents an append-only operation log entry
type Event struct {
	ID        int64      `json:"id"`
	BatchID   *string    `json:"batch_id,omitempty"`
	Level     EventLevel `json:"level"`
	Step      string     `json:"step"` // e.g. "batch.completed", "create.cycle"
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Fact is a cached piece of remote workspace metadata (members, states).
type Fact struct {
	ID        string     `json:"id"`
	TargetID  string     `json:"target_id"` // workspace slug or project ID
	Namespace string     `json:"namespace"` // e.g. "plane.members", "plane.states"
	Key       string     `json:"key"`
	Value     string     `json:"value"` // JSON blob
	TTL       int        `json:"ttl"`   // seconds, 0 = no expiry
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Order selects the direction ledger rows are returned in.
type Order int

const (
	// OrderCreation returns rows oldest first.
	OrderCreation Order = iota
	// OrderReverse returns rows newest first (created_at DESC, id DESC).
	OrderReverse
)

// EventFilter narrows GetEvents. Nil fields match everything.
type EventFilter struct {
	BatchID *string
	Level   *EventLevel
	Limit   int
	Offset  int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Batch operations
	CreateBatch(ctx context.Context, batch *SyncBatch) error
	GetBatch(ctx context.Context, id string) (*SyncBatch, error)
	UpdateBatchStatus(ctx context.Context, id string, status BatchStatus, errMsg *string) error
	ListBatches(ctx context.Context, limit, offset int) ([]*SyncBatch, error)

	// Ledger operations
	RecordResource(ctx context.Context, res *CreatedResource) error
	ListResources(ctx context.Context, batchID string, order Order) ([]*CreatedResource, error)
	ListResourcesByType(ctx context.Context, batchID, projectID string, resourceType ResourceType) ([]*CreatedResource, error)
	CountResources(ctx context.Context, batchID string) (int, error)
	DeleteResource(ctx context.Context, id int64) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Facts operations
	UpsertFact(ctx context.Context, fact *Fact) error
	GetFact(ctx context.Context, targetID, namespace, key string) (*Fact, error)
	ListFacts(ctx context.Context, targetID *string, namespace *string, limit, offset int) ([]*Fact, error)
	DeleteExpiredFacts(ctx context.Context) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
