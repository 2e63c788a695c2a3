package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/planesync/planesync/pkg/plane"
	"github.com/planesync/planesync/pkg/stores"
)

// Fact namespaces written by SyncMetadata.
const (
	NamespaceMembers      = "plane.members"
	NamespaceStates       = "plane.states"
	NamespaceDefaultState = "plane.default_state"

	defaultStateKey = "state_id"

	// DefaultMetadataTTL is how long cached metadata is trusted.
	DefaultMetadataTTL = 24 * time.Hour
)

// MetadataSummary reports what SyncMetadata cached.
type MetadataSummary struct {
	Workspace string            `json:"workspace"`
	Members   int               `json:"members"`
	Projects  int               `json:"projects"`
	States    int               `json:"states"`
	Defaults  map[string]string `json:"default_states"` // project ID -> state ID
}

// MetadataSyncer caches workspace members and project states in the
// ledger's facts table.
type MetadataSyncer struct {
	client MetadataClient
	ledger Ledger
	ttl    time.Duration
	now    func() time.Time
}

// NewMetadataSyncer creates a syncer. A zero ttl means DefaultMetadataTTL.
func NewMetadataSyncer(client MetadataClient, ledger Ledger, ttl time.Duration) *MetadataSyncer {
	if ttl == 0 {
		ttl = DefaultMetadataTTL
	}
	return &MetadataSyncer{client: client, ledger: ledger, ttl: ttl, now: time.Now}
}

// Sync fetches members and per-project states of workspace and stores them.
func (s *MetadataSyncer) Sync(ctx context.Context, workspace string) (*MetadataSummary, error) {
	if workspace == "" {
		return nil, ErrNoWorkspace
	}
	summary := &MetadataSummary{Workspace: workspace, Defaults: make(map[string]string)}

	members, err := s.client.ListMembers(ctx, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	for _, m := range members {
		if err := s.put(ctx, workspace, NamespaceMembers, m.ID, m); err != nil {
			return nil, err
		}
	}
	summary.Members = len(members)

	projects, err := s.client.ListProjects(ctx, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	summary.Projects = len(projects)

	for _, p := range projects {
		states, err := s.client.ListStates(ctx, workspace, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list states of project %s: %w", p.Identifier, err)
		}
		for _, st := range states {
			if err := s.put(ctx, p.ID, NamespaceStates, st.ID, st); err != nil {
				return nil, err
			}
		}
		summary.States += len(states)

		if def := pickDefaultState(states); def != "" {
			if err := s.put(ctx, p.ID, NamespaceDefaultState, defaultStateKey, def); err != nil {
				return nil, err
			}
			summary.Defaults[p.ID] = def
		}
	}

	return summary, nil
}

func (s *MetadataSyncer) put(ctx context.Context, target, namespace, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}
	now := s.now().UTC()
	fact := &stores.Fact{
		ID:        fmt.Sprintf("%s:%s:%s", target, namespace, key),
		TargetID:  target,
		Namespace: namespace,
		Key:       key,
		Value:     string(raw),
		TTL:       int(s.ttl.Seconds()),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.ledger.UpsertFact(ctx, fact); err != nil {
		return fmt.Errorf("failed to cache %s/%s: %w", namespace, key, err)
	}
	return nil
}

// pickDefaultState prefers the first state of the "unstarted" group, then
// the first state listed.
func pickDefaultState(states []plane.State) string {
	for _, st := range states {
		if st.Group == "unstarted" {
			return st.ID
		}
	}
	if len(states) > 0 {
		return states[0].ID
	}
	return ""
}

// defaultState returns the cached default state of a project, or nil when
// none is cached. Lookup errors other than a miss are logged and ignored.
func (e *Executor) defaultState(ctx context.Context, projectID string) *string {
	fact, err := e.ledger.GetFact(ctx, projectID, NamespaceDefaultState, defaultStateKey)
	if err != nil {
		if !errors.Is(err, stores.ErrNotFound) {
			e.tel.Logger.WithError(err).WithField("project_id", projectID).Warn("failed to read cached default state")
		}
		return nil
	}
	var id string
	if err := json.Unmarshal([]byte(fact.Value), &id); err != nil || id == "" {
		return nil
	}
	return &id
}
