package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/planesync/planesync/pkg/plane"
	"github.com/planesync/planesync/pkg/stores"
	"github.com/planesync/planesync/pkg/telemetry"
)

// CleanupOption adjusts a single RunCleanup call.
type CleanupOption func(*cleanupConfig)

type cleanupConfig struct {
	force bool
}

// WithForce allows cleanup of a batch still marked RUNNING, which happens
// when the process that ran it died.
func WithForce() CleanupOption {
	return func(c *cleanupConfig) { c.force = true }
}

// RunCleanup deletes every resource recorded for batchID, newest first.
// A resource that is already gone counts as deleted. A failed delete keeps
// its row, marks the batch PARTIAL_DELETED and cleanup moves on, so running
// it again retries only what is left. With no rows left the batch becomes
// DELETED. Cleanup of a DELETED batch returns it unchanged.
//
// Per-resource failures are reported through the batch status, not the
// returned error, which is reserved for unknown or running batches and for
// ledger failures.
//
// Like RunCreation, a started cleanup does not observe cancellation of ctx,
// so every delete Plane confirms also removes its ledger row.
func (e *Executor) RunCleanup(ctx context.Context, batchID string, opts ...CleanupOption) (*stores.SyncBatch, error) {
	ctx = context.WithoutCancel(ctx)

	var cfg cleanupConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	batch, err := e.ledger.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	if batch.Status == stores.BatchStatusDeleted {
		return batch, nil
	}
	if !CanCleanup(batch.Status, cfg.force) {
		return batch, fmt.Errorf("%w: %s (use force to clean up an orphaned batch)", ErrBatchRunning, batchID)
	}

	rows, err := e.ledger.ListResources(ctx, batchID, stores.OrderReverse)
	if err != nil {
		return batch, fmt.Errorf("failed to load ledger rows of batch %s: %w", batchID, err)
	}

	scope := e.tel.StartBatch(ctx, "cleanup", batchID)
	ctx = scope.Ctx
	log := scope.Logger

	log.WithFields(map[string]interface{}{
		"rows":   len(rows),
		"status": string(batch.Status),
		"force":  cfg.force,
	}).Info("cleanup started")
	e.event(ctx, batchID, stores.EventLevelInfo, "cleanup.started",
		fmt.Sprintf("deleting %d recorded resources", len(rows)), nil)

	var failures []string
	for _, row := range rows {
		if err := e.deleteRow(ctx, row); err != nil {
			failures = append(failures, err.Error())
			log.WithResource(string(row.ResourceType), row.RemoteID).
				WithField("class", telemetry.ErrorClassOf(err)).
				WithError(err).
				Error("delete failed, row kept")
			e.event(ctx, batchID, stores.EventLevelError, "delete."+strings.ToLower(string(row.ResourceType)), err.Error(),
				map[string]string{"remote_id": row.RemoteID, "class": telemetry.ErrorClassOf(err)})

			if batch.Status != stores.BatchStatusPartialDeleted {
				msg := err.Error()
				if uerr := e.setStatus(ctx, batch, stores.BatchStatusPartialDeleted, &msg); uerr != nil {
					scope.End(string(batch.Status), uerr)
					return batch, uerr
				}
			}
			continue
		}

		log.WithResource(string(row.ResourceType), row.RemoteID).Info("deleted")
	}

	remaining, err := e.ledger.CountResources(ctx, batchID)
	if err != nil {
		err = fmt.Errorf("failed to count remaining rows of batch %s: %w", batchID, err)
		scope.End(string(batch.Status), err)
		return batch, err
	}

	final := stores.BatchStatusDeleted
	var errMsg *string
	if remaining > 0 {
		final = stores.BatchStatusPartialDeleted
		msg := fmt.Sprintf("%d resource(s) could not be deleted", remaining)
		if len(failures) > 0 {
			msg += ": " + failures[len(failures)-1]
		}
		errMsg = &msg
	}

	if err := e.setStatus(ctx, batch, final, errMsg); err != nil {
		scope.End(string(batch.Status), err)
		return batch, err
	}

	var endErr error
	if final != stores.BatchStatusDeleted {
		endErr = errors.New(*errMsg)
	}
	scope.End(string(final), endErr)

	log.WithFields(map[string]interface{}{
		"status":    string(final),
		"remaining": remaining,
		"failed":    len(failures),
	}).Info("cleanup finished")
	e.event(ctx, batchID, stores.EventLevelInfo, "cleanup.finished",
		fmt.Sprintf("status %s, %d rows remaining", final, remaining), nil)

	stored, err := e.ledger.GetBatch(ctx, batchID)
	if err != nil {
		return batch, nil
	}
	return stored, nil
}

// deleteRow deletes the remote resource of row and then the row itself.
func (e *Executor) deleteRow(ctx context.Context, row *stores.CreatedResource) error {
	op := "delete_" + strings.ToLower(string(row.ResourceType))

	err := e.tel.RecordRemoteCall(ctx, op, string(row.ResourceType), func(ctx context.Context) error {
		switch row.ResourceType {
		case stores.ResourceTypeProject:
			return e.client.DeleteProject(ctx, row.WorkspaceSlug, row.RemoteID)
		case stores.ResourceTypeCycle:
			return e.client.DeleteCycle(ctx, row.WorkspaceSlug, row.ProjectID, row.RemoteID)
		case stores.ResourceTypeModule:
			return e.client.DeleteModule(ctx, row.WorkspaceSlug, row.ProjectID, row.RemoteID)
		case stores.ResourceTypeIssue:
			return e.client.DeleteIssue(ctx, row.WorkspaceSlug, row.ProjectID, row.RemoteID)
		default:
			return fmt.Errorf("unknown resource type %q", row.ResourceType)
		}
	})
	if plane.IsNotFound(err) {
		err = nil
	}
	if err != nil {
		return &StepError{
			Operation:    op,
			ResourceType: row.ResourceType,
			Name:         row.RemoteID,
			Project:      row.ProjectSlug,
			Err:          err,
		}
	}

	if err := e.ledger.DeleteResource(ctx, row.ID); err != nil {
		return fmt.Errorf("%s %s deleted remotely but ledger row %d was kept: %w",
			row.ResourceType, row.RemoteID, row.ID, err)
	}
	e.tel.Metrics.RecordLedgerDelete(string(row.ResourceType))
	return nil
}

// setStatus persists a status change and mirrors it on batch.
func (e *Executor) setStatus(ctx context.Context, batch *stores.SyncBatch, status stores.BatchStatus, errMsg *string) error {
	if err := checkTransition(batch.Status, status); err != nil {
		return err
	}
	if err := e.ledger.UpdateBatchStatus(ctx, batch.ID, status, errMsg); err != nil {
		return fmt.Errorf("failed to mark batch %s %s: %w", batch.ID, status, err)
	}
	batch.Status = status
	batch.Error = errMsg
	return nil
}
