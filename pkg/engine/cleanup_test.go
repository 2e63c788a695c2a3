package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/planesync/planesync/pkg/plane"
	"github.com/planesync/planesync/pkg/stores"
)

func TestCleanupDeletesInReverseOrder(t *testing.T) {
	ctx := context.Background()
	ledger := setupLedger(t)
	client := newFakeClient()
	exec := NewExecutor(client, ledger, Options{})

	batch, err := exec.RunCreation(ctx, q1Template())
	if err != nil {
		t.Fatalf("RunCreation failed: %v", err)
	}
	client.calls = nil

	batch, err = exec.RunCleanup(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	if batch.Status != stores.BatchStatusDeleted {
		t.Errorf("expected DELETED, got %s", batch.Status)
	}

	want := []string{
		"delete_issue:issue-2",
		"delete_issue:issue-1",
		"delete_cycle:cycle-1",
		"delete_project:project-1",
	}
	if got := client.ops(); !reflect.DeepEqual(got, want) {
		t.Errorf("delete order:\n got  %v\n want %v", got, want)
	}

	n, _ := ledger.CountResources(ctx, batch.ID)
	if n != 0 {
		t.Errorf("expected empty ledger, got %d rows", n)
	}
}

func TestCleanupConverges(t *testing.T) {
	ctx := context.Background()
	ledger := setupLedger(t)
	client := newFakeClient()
	exec := NewExecutor(client, ledger, Options{})

	batch, err := exec.RunCreation(ctx, q1Template())
	if err != nil {
		t.Fatalf("RunCreation failed: %v", err)
	}

	client.failDelete["cycle-1"] = serverError()
	batch, err = exec.RunCleanup(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	if batch.Status != stores.BatchStatusPartialDeleted {
		t.Fatalf("expected PARTIAL_DELETED, got %s", batch.Status)
	}
	if batch.Error == nil || !strings.Contains(*batch.Error, "1 resource(s)") {
		t.Errorf("unexpected error message: %v", batch.Error)
	}

	rows, _ := ledger.ListResources(ctx, batch.ID, stores.OrderReverse)
	if len(rows) != 1 || rows[0].RemoteID != "cycle-1" {
		t.Fatalf("expected only the cycle row to remain, got %+v", rows)
	}
	// The project after the failed cycle must still have been attempted.
	if client.count("delete_project") != 1 {
		t.Error("cleanup must continue past a failed row")
	}

	delete(client.failDelete, "cycle-1")
	batch, err = exec.RunCleanup(ctx, batch.ID)
	if err != nil {
		t.Fatalf("second RunCleanup failed: %v", err)
	}
	if batch.Status != stores.BatchStatusDeleted {
		t.Errorf("expected DELETED after re-run, got %s", batch.Status)
	}
}

func TestCleanupTreatsNotFoundAsSuccess(t *testing.T) {
	ctx := context.Background()
	ledger := setupLedger(t)
	client := newFakeClient()
	exec := NewExecutor(client, ledger, Options{})

	batch, err := exec.RunCreation(ctx, q1Template())
	if err != nil {
		t.Fatalf("RunCreation failed: %v", err)
	}

	client.failDelete["issue-2"] = &plane.RemoteError{Class: plane.ClassNotFound, StatusCode: 404}
	batch, err = exec.RunCleanup(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	if batch.Status != stores.BatchStatusDeleted {
		t.Errorf("expected DELETED, got %s", batch.Status)
	}
}

func TestCleanupUnknownBatch(t *testing.T) {
	ledger := setupLedger(t)
	client := newFakeClient()
	exec := NewExecutor(client, ledger, Options{})

	batch, err := exec.RunCleanup(context.Background(), "no-such-batch")
	if !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if batch != nil || len(client.calls) != 0 {
		t.Error("unknown batch must have no side effects")
	}
}

func TestCleanupDeletedIsNoop(t *testing.T) {
	ctx := context.Background()
	ledger := setupLedger(t)
	client := newFakeClient()
	exec := NewExecutor(client, ledger, Options{})

	batch, err := exec.RunCreation(ctx, q1Template())
	if err != nil {
		t.Fatalf("RunCreation failed: %v", err)
	}
	if _, err := exec.RunCleanup(ctx, batch.ID); err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	client.calls = nil

	batch, err = exec.RunCleanup(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RunCleanup on DELETED failed: %v", err)
	}
	if batch.Status != stores.BatchStatusDeleted || len(client.calls) != 0 {
		t.Errorf("expected untouched DELETED batch, got %s with %d calls", batch.Status, len(client.calls))
	}
}

func TestCleanupRunningBatch(t *testing.T) {
	ctx := context.Background()
	ledger := setupLedger(t)
	client := newFakeClient()
	exec := NewExecutor(client, ledger, Options{})

	now := time.Now().UTC()
	orphan := &stores.SyncBatch{
		ID:            "orphan",
		TemplateName:  "Q1",
		WorkspaceSlug: "w1",
		Status:        stores.BatchStatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := ledger.CreateBatch(ctx, orphan); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if err := ledger.RecordResource(ctx, &stores.CreatedResource{
		BatchID:       "orphan",
		ResourceType:  stores.ResourceTypeProject,
		RemoteID:      "p-orphan",
		Name:          "Alpha",
		ProjectSlug:   "ALPHA",
		ProjectID:     "p-orphan",
		WorkspaceSlug: "w1",
		CreatedAt:     now,
	}); err != nil {
		t.Fatalf("RecordResource failed: %v", err)
	}

	_, err := exec.RunCleanup(ctx, "orphan")
	if !errors.Is(err, ErrBatchRunning) {
		t.Fatalf("expected ErrBatchRunning, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Error("running batch must not be touched without force")
	}

	batch, err := exec.RunCleanup(ctx, "orphan", WithForce())
	if err != nil {
		t.Fatalf("forced RunCleanup failed: %v", err)
	}
	if batch.Status != stores.BatchStatusDeleted {
		t.Errorf("expected DELETED, got %s", batch.Status)
	}
	if got := client.ops(); !reflect.DeepEqual(got, []string{"delete_project:p-orphan"}) {
		t.Errorf("unexpected calls %v", got)
	}
}

func TestCleanupFailedBatch(t *testing.T) {
	ctx := context.Background()
	ledger := setupLedger(t)
	client := newFakeClient()
	client.failCreate["Bug1a"] = serverError()
	exec := NewExecutor(client, ledger, Options{})

	batch, err := exec.RunCreation(ctx, q1Template())
	if err == nil || batch.Status != stores.BatchStatusFailed {
		t.Fatalf("expected FAILED creation, got %v", err)
	}

	client.calls = nil
	batch, err = exec.RunCleanup(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	if batch.Status != stores.BatchStatusDeleted {
		t.Errorf("expected DELETED, got %s", batch.Status)
	}
	if len(client.calls) != 3 {
		t.Errorf("expected 3 deletes for the recorded rows, got %v", client.ops())
	}
}

func TestCleanupIgnoresCancellation(t *testing.T) {
	ledger := setupLedger(t)
	fake := newFakeClient()
	exec := NewExecutor(fake, ledger, Options{})

	batch, err := exec.RunCreation(context.Background(), q1Template())
	if err != nil {
		t.Fatalf("RunCreation failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.calls = nil
	fake.failDelete["cycle-1"] = serverError()
	client := &cancelClient{fakeClient: fake, trigger: "issue-2", cancel: cancel}
	exec = NewExecutor(client, ledger, Options{})

	batch, err = exec.RunCleanup(ctx, batch.ID)
	if err != nil {
		t.Fatalf("RunCleanup failed after cancellation: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("context was never cancelled")
	}
	if batch.Status != stores.BatchStatusPartialDeleted {
		t.Errorf("expected PARTIAL_DELETED, got %s", batch.Status)
	}

	want := []string{
		"delete_issue:issue-2",
		"delete_issue:issue-1",
		"delete_cycle:cycle-1",
		"delete_project:project-1",
	}
	if got := fake.ops(); !reflect.DeepEqual(got, want) {
		t.Errorf("delete calls:\n got  %v\n want %v", got, want)
	}

	// Only the resource Plane refused to delete is still recorded.
	rows, err := ledger.ListResources(context.Background(), batch.ID, stores.OrderReverse)
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if len(rows) != 1 || rows[0].RemoteID != "cycle-1" {
		t.Errorf("expected only cycle-1 to remain, got %+v", rows)
	}

	stored, err := ledger.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if stored.Status != stores.BatchStatusPartialDeleted {
		t.Errorf("stored status: expected PARTIAL_DELETED, got %s", stored.Status)
	}
}
