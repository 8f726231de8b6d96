package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

func TestInitiateNoItems(t *testing.T) {
	selector := &mockSelector{}
	orch, _, _ := newTestOrchestrator(selector)

	result, err := orch.InitiateBatchProcessing(context.Background(), Request{})
	if err != nil {
		t.Fatalf("InitiateBatchProcessing() error = %v", err)
	}
	if result.Status != core.InitiationNoItems {
		t.Fatalf("Status = %q, want %q", result.Status, core.InitiationNoItems)
	}
}

func TestInitiateValidationFailed(t *testing.T) {
	selector := &mockSelector{
		eligible: []int64{1, 2},
		validation: &core.ValidationResult{
			Valid:   []int64{1, 2},
			Passed:  false,
			Summary: "2 valid, 0 invalid (minimum 3)",
		},
	}
	orch, store, dispatcher := newTestOrchestrator(selector)

	result, err := orch.InitiateBatchProcessing(context.Background(), Request{})
	if err != nil {
		t.Fatalf("InitiateBatchProcessing() error = %v", err)
	}
	if result.Status != core.InitiationValidationFailed {
		t.Fatalf("Status = %q, want %q", result.Status, core.InitiationValidationFailed)
	}
	if result.Validation == nil || result.Validation.Summary == "" {
		t.Fatal("rejected result must carry the validation summary")
	}
	if store.sessions != 0 || len(dispatcher.tasks) != 0 {
		t.Fatal("a rejected initiation must create no durable state")
	}
}

func TestInitiateValidationFailed_Forced(t *testing.T) {
	selector := &mockSelector{
		eligible: []int64{1, 2},
		validation: &core.ValidationResult{
			Valid:  []int64{1, 2},
			Passed: false,
		},
	}
	orch, _, dispatcher := newTestOrchestrator(selector)

	result, err := orch.InitiateBatchProcessing(context.Background(), Request{Force: true})
	if err != nil {
		t.Fatalf("InitiateBatchProcessing(force) error = %v", err)
	}
	if result.Status != core.InitiationStarted {
		t.Fatalf("Status = %q, want %q when forced", result.Status, core.InitiationStarted)
	}
	if len(dispatcher.tasks) != 1 {
		t.Fatalf("dispatched %d tasks, want 1", len(dispatcher.tasks))
	}
}

func TestInitiateBudgetExceeded(t *testing.T) {
	// 500 items at $0.0013 estimates $0.65, past the $0.30 ceiling.
	ids := make([]int64, 500)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	selector := &mockSelector{
		eligible:   ids,
		validation: &core.ValidationResult{Valid: ids, Passed: true},
	}
	orch, store, _ := newTestOrchestrator(selector)

	result, err := orch.InitiateBatchProcessing(context.Background(), Request{})
	if err != nil {
		t.Fatalf("InitiateBatchProcessing() error = %v", err)
	}
	if result.Status != core.InitiationBudgetExceeded {
		t.Fatalf("Status = %q, want %q", result.Status, core.InitiationBudgetExceeded)
	}
	if result.Budget == nil || result.Budget.WithinBudget {
		t.Fatalf("Budget = %+v, want over-budget check attached", result.Budget)
	}
	if store.sessions != 0 {
		t.Fatal("over-budget initiation must create no session")
	}
}

func TestInitiateStarted_PartitionAndStagger(t *testing.T) {
	// 25 items partition into batches of 10, 10, 5.
	ids := make([]int64, 25)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	selector := &mockSelector{
		eligible:   ids,
		validation: &core.ValidationResult{Valid: ids, Passed: true},
	}
	orch, store, dispatcher := newTestOrchestrator(selector)

	result, err := orch.InitiateBatchProcessing(context.Background(), Request{})
	if err != nil {
		t.Fatalf("InitiateBatchProcessing() error = %v", err)
	}

	if result.Status != core.InitiationStarted {
		t.Fatalf("Status = %q, want %q", result.Status, core.InitiationStarted)
	}
	if result.TotalItems != 25 || result.TotalBatches != 3 {
		t.Fatalf("result = %+v, want 25 items in 3 batches", result)
	}
	if !core.IsValidUUID(result.SessionID) {
		t.Fatalf("SessionID = %q, want a UUID", result.SessionID)
	}

	// Partition property: every selected id lands in exactly one batch.
	seen := make(map[int64]int)
	for _, chunk := range store.batchItems {
		for _, id := range chunk {
			seen[id]++
		}
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("item %d appears %d times across batches, want exactly once", id, seen[id])
		}
	}
	if len(seen) != 25 {
		t.Fatalf("batches cover %d items, want 25", len(seen))
	}

	// One task per batch, staggered 30s apart.
	if len(dispatcher.tasks) != 3 {
		t.Fatalf("dispatched %d tasks, want 3", len(dispatcher.tasks))
	}
	wantDelays := []time.Duration{0, 30 * time.Second, 60 * time.Second}
	for i, d := range dispatcher.delays {
		if d != wantDelays[i] {
			t.Fatalf("delays[%d] = %v, want %v", i, d, wantDelays[i])
		}
	}
	for i, task := range dispatcher.tasks {
		if task.Kind != core.TaskBatch || task.BatchNumber != i+1 || task.SessionID != result.SessionID {
			t.Fatalf("tasks[%d] = %+v, want batch task %d for session %s", i, task, i+1, result.SessionID)
		}
	}
}

func TestInitiatePrioritySelection(t *testing.T) {
	ids := []int64{1, 2, 3}
	selector := &mockSelector{
		priority:   ids,
		validation: &core.ValidationResult{Valid: ids, Passed: true},
	}
	orch, _, _ := newTestOrchestrator(selector)

	result, err := orch.InitiateBatchProcessing(context.Background(), Request{Priority: true})
	if err != nil {
		t.Fatalf("InitiateBatchProcessing(priority) error = %v", err)
	}
	if result.Status != core.InitiationStarted {
		t.Fatalf("Status = %q, want %q", result.Status, core.InitiationStarted)
	}
	if !selector.priorityUsed {
		t.Fatal("priority request must use the priority selection path")
	}
}

func newTestOrchestrator(selector *mockSelector) (*Orchestrator, *mockStore, *mockDispatcher) {
	store := &mockStore{}
	dispatcher := &mockDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(core.DefaultPolicy(), store, selector, dispatcher, logger), store, dispatcher
}

type mockSelector struct {
	eligible     []int64
	priority     []int64
	validation   *core.ValidationResult
	priorityUsed bool
}

func (m *mockSelector) SelectEligible(ctx context.Context, limit int) ([]int64, error) {
	return m.eligible, nil
}

func (m *mockSelector) SelectPriority(ctx context.Context, limit int) ([]int64, error) {
	m.priorityUsed = true
	return m.priority, nil
}

func (m *mockSelector) FetchDetails(ctx context.Context, ids []int64) ([]core.ItemDetail, error) {
	return nil, nil
}

func (m *mockSelector) ValidateForProcessing(ctx context.Context, ids []int64) (*core.ValidationResult, error) {
	return m.validation, nil
}

type mockDispatcher struct {
	tasks  []core.Task
	delays []time.Duration
}

func (m *mockDispatcher) Dispatch(ctx context.Context, task core.Task, delay time.Duration) error {
	m.tasks = append(m.tasks, task)
	m.delays = append(m.delays, delay)
	return nil
}

// mockStore records writes; reads are not exercised by the orchestrator.
type mockStore struct {
	sessions   int
	batchItems [][]int64
}

func (m *mockStore) CreateSession(ctx context.Context, id string, totalItems, totalBatches int, estimatedCost float64) (*core.Session, error) {
	m.sessions++
	return &core.Session{
		ID:            id,
		Status:        core.SessionInitiated,
		TotalItems:    totalItems,
		TotalBatches:  totalBatches,
		EstimatedCost: estimatedCost,
	}, nil
}

func (m *mockStore) CreateBatchRecord(ctx context.Context, sessionID string, batchNumber int, itemIDs []int64, estimatedCost float64) (*core.BatchRecord, error) {
	m.batchItems = append(m.batchItems, itemIDs)
	return &core.BatchRecord{SessionID: sessionID, BatchNumber: batchNumber, ItemIDs: itemIDs}, nil
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	return nil, core.NewNotFoundError("session", sessionID)
}

func (m *mockStore) GetSessionWithRecords(ctx context.Context, sessionID string) (*core.SessionWithRecords, error) {
	return nil, core.NewNotFoundError("session", sessionID)
}

func (m *mockStore) GetBatchRecord(ctx context.Context, sessionID string, batchNumber int) (*core.BatchRecord, error) {
	return nil, core.NewNotFoundError("batch", sessionID)
}

func (m *mockStore) GetActiveSessions(ctx context.Context) ([]*core.Session, error) {
	return nil, nil
}

func (m *mockStore) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	return nil
}

func (m *mockStore) UpdateBatchStatus(ctx context.Context, sessionID string, batchNumber int, status, startedAt, errorMessage string) error {
	return nil
}

func (m *mockStore) UpdateBatchCompletion(ctx context.Context, sessionID string, batchNumber, itemsProcessed, itemsFailed int, actualCost float64) error {
	return nil
}

func (m *mockStore) AddSessionCost(ctx context.Context, sessionID string, delta float64) error {
	return nil
}

func (m *mockStore) AddBatchCost(ctx context.Context, sessionID string, batchNumber int, delta float64) error {
	return nil
}

func (m *mockStore) FinalizeSession(ctx context.Context, sessionID string) (bool, error) {
	return false, nil
}

func (m *mockStore) ListFailedBatches(ctx context.Context, window time.Duration) ([]*core.BatchRecord, error) {
	return nil, nil
}

func (m *mockStore) RecordItemFailure(ctx context.Context, itemID int64) (int, error) {
	return 1, nil
}

func (m *mockStore) ItemFailureCount(ctx context.Context, itemID int64) (int, error) {
	return 0, nil
}

func (m *mockStore) ClearItemFailures(ctx context.Context, itemID int64) error {
	return nil
}
