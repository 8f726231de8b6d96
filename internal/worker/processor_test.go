package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

func TestProcessBatchHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch("s1", 1, []int64{1, 2, 3})

	msg := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 1}
	env.processor.Handle(context.Background(), msg)

	if !msg.acked {
		t.Fatal("message not acked")
	}
	record := env.store.batches["s1.1"]
	if record.Status != core.BatchCompleted {
		t.Fatalf("batch status = %q, want completed", record.Status)
	}
	if record.ItemsProcessed != 3 || record.ItemsFailed != 0 {
		t.Fatalf("counts = %d/%d, want 3 processed, 0 failed", record.ItemsProcessed, record.ItemsFailed)
	}
	if env.store.session.Status != core.SessionProcessing {
		t.Fatalf("session status = %q, want processing after first batch", env.store.session.Status)
	}
	if env.store.costAdded <= 0 {
		t.Fatal("session cost was not updated")
	}
	if len(env.recorder.recorded) != 3 {
		t.Fatalf("recorded %d analyses, want 3", len(env.recorder.recorded))
	}
}

func TestProcessBatchTerminalRedelivery(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch("s1", 1, []int64{1})
	env.store.batches["s1.1"].Status = core.BatchCompleted

	msg := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 2}
	env.processor.Handle(context.Background(), msg)

	if !msg.acked {
		t.Fatal("redelivery of a terminal batch must be acked")
	}
	if env.analyzer.calls != 0 {
		t.Fatalf("analyzer called %d times on a terminal batch, want 0", env.analyzer.calls)
	}
}

func TestProcessBatchResumesAfterCrash(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch("s1", 1, []int64{1, 2, 3})
	// A previous delivery crashed mid-batch: record is processing and one
	// item is already analyzed.
	env.store.batches["s1.1"].Status = core.BatchProcessing
	env.recorder.analyzed[1] = true

	msg := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 2}
	env.processor.Handle(context.Background(), msg)

	if !msg.acked {
		t.Fatal("message not acked")
	}
	if env.analyzer.calls != 2 {
		t.Fatalf("analyzer called %d times, want only the 2 unanalyzed items", env.analyzer.calls)
	}
	record := env.store.batches["s1.1"]
	if record.ItemsProcessed != 3 {
		t.Fatalf("ItemsProcessed = %d, want 3 including already-analyzed work", record.ItemsProcessed)
	}
}

func TestProcessBatchItemFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch("s1", 1, []int64{1, 2, 3})
	env.analyzer.failItems = map[int64]bool{2: true}

	msg := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 1}
	env.processor.Handle(context.Background(), msg)

	if !msg.acked {
		t.Fatal("a batch with item failures still completes and acks")
	}
	record := env.store.batches["s1.1"]
	if record.Status != core.BatchCompleted || record.ItemsProcessed != 2 || record.ItemsFailed != 1 {
		t.Fatalf("record = %+v, want completed with 2/1", record)
	}
	if env.store.itemFailures[2] != 1 {
		t.Fatalf("failure count for item 2 = %d, want 1", env.store.itemFailures[2])
	}
}

func TestProcessBatchSystemicFailureRequeues(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch("s1", 1, []int64{1, 2})
	env.analyzer.systemicAfter = 1

	msg := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 1}
	env.processor.Handle(context.Background(), msg)

	if msg.acked || msg.discarded {
		t.Fatal("systemic failure with retries left must neither ack nor discard")
	}
	if msg.retryDelay <= 0 {
		t.Fatalf("retry delay = %v, want positive backoff", msg.retryDelay)
	}
	record := env.store.batches["s1.1"]
	if core.IsTerminalBatchStatus(record.Status) {
		t.Fatalf("batch status = %q, must stay non-terminal while retries remain", record.Status)
	}
	// Cost for the one successful item must land even though the batch
	// aborted, so the next delivery sees a reduced remaining budget.
	if env.store.costAdded <= 0 {
		t.Fatal("partial spend was not added to the session")
	}
}

func TestProcessBatchCostAccumulatesAcrossDeliveries(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch("s1", 1, []int64{1, 2})
	env.analyzer.systemicAfter = 1

	// First delivery analyzes item 1, bills it, then aborts and requeues.
	first := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 1}
	env.processor.Handle(context.Background(), first)

	record := env.store.batches["s1.1"]
	if record.ActualCost <= 0 {
		t.Fatal("aborted delivery's spend was not booked on the batch record")
	}
	firstSpend := record.ActualCost

	// The service recovers and the queue redelivers.
	env.analyzer.systemicAfter = -1
	second := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 2}
	env.processor.Handle(context.Background(), second)

	if !second.acked {
		t.Fatal("redelivery did not complete")
	}
	if record.Status != core.BatchCompleted {
		t.Fatalf("batch status = %q, want completed", record.Status)
	}
	if record.ActualCost <= firstSpend {
		t.Fatalf("batch cost = %v, want first delivery's %v plus the second's", record.ActualCost, firstSpend)
	}
	if diff := record.ActualCost - env.store.costAdded; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("batch cost %v does not match session billing %v", record.ActualCost, env.store.costAdded)
	}
}

func TestProcessBatchRetriesExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.seedBatch("s1", 1, []int64{1, 2})
	env.analyzer.systemicAfter = 0

	msg := &fakeMsg{task: core.Task{Kind: core.TaskBatch, SessionID: "s1", BatchNumber: 1}, deliveries: 3}
	env.processor.Handle(context.Background(), msg)

	if !msg.discarded {
		t.Fatal("exhausted batch must be discarded")
	}
	record := env.store.batches["s1.1"]
	if record.Status != core.BatchFailed {
		t.Fatalf("batch status = %q, want failed", record.Status)
	}
	if record.ErrorMessage == "" {
		t.Fatal("terminal failure must carry an error message")
	}
}

func TestProcessItemRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.selector.details[7] = core.ItemDetail{ID: 7, Title: "t", Body: "b"}
	env.store.itemFailures[7] = 2

	msg := &fakeMsg{task: core.Task{Kind: core.TaskItem, ItemID: 7}, deliveries: 1}
	env.processor.Handle(context.Background(), msg)

	if !msg.acked {
		t.Fatal("recovered item must ack")
	}
	if !env.recorder.analyzed[7] {
		t.Fatal("recovered item was not recorded as analyzed")
	}
	if env.store.itemFailures[7] != 0 {
		t.Fatalf("failure count = %d after recovery, want cleared", env.store.itemFailures[7])
	}
}

func TestProcessItemAlreadyAnalyzed(t *testing.T) {
	env := newTestEnv(t)
	env.recorder.analyzed[7] = true

	msg := &fakeMsg{task: core.Task{Kind: core.TaskItem, ItemID: 7}, deliveries: 1}
	env.processor.Handle(context.Background(), msg)

	if !msg.acked {
		t.Fatal("already-analyzed item must ack without reprocessing")
	}
	if env.analyzer.calls != 0 {
		t.Fatalf("analyzer called %d times, want 0", env.analyzer.calls)
	}
}

func TestProcessItemExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.selector.details[7] = core.ItemDetail{ID: 7}
	env.analyzer.failItems = map[int64]bool{7: true}

	msg := &fakeMsg{task: core.Task{Kind: core.TaskItem, ItemID: 7}, deliveries: 3}
	env.processor.Handle(context.Background(), msg)

	if !msg.discarded {
		t.Fatal("item at max deliveries must be discarded")
	}
}

func TestHandleUnknownKind(t *testing.T) {
	env := newTestEnv(t)

	msg := &fakeMsg{task: core.Task{Kind: "bogus"}, deliveries: 1}
	env.processor.Handle(context.Background(), msg)

	if !msg.discarded {
		t.Fatal("unknown task kind must be discarded")
	}
}

type testEnv struct {
	processor *Processor
	store     *fakeStore
	selector  *fakeSelector
	analyzer  *fakeAnalyzer
	recorder  *fakeRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	policy := core.DefaultPolicy()
	policy.ItemPause = time.Millisecond
	policy.PerItemTimeout = time.Second

	store := &fakeStore{
		session:      &core.Session{ID: "s1", Status: core.SessionInitiated},
		batches:      map[string]*core.BatchRecord{},
		itemFailures: map[int64]int{},
	}
	selector := &fakeSelector{details: map[int64]core.ItemDetail{}}
	analyzer := &fakeAnalyzer{systemicAfter: -1}
	recorder := &fakeRecorder{analyzed: map[int64]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEnv{
		processor: NewProcessor(policy, store, selector, analyzer, recorder, logger),
		store:     store,
		selector:  selector,
		analyzer:  analyzer,
		recorder:  recorder,
	}
}

func (e *testEnv) seedBatch(sessionID string, batchNumber int, ids []int64) {
	key := batchKey(sessionID, batchNumber)
	e.store.batches[key] = &core.BatchRecord{
		SessionID:   sessionID,
		BatchNumber: batchNumber,
		ItemIDs:     ids,
		Status:      core.BatchPending,
	}
	for _, id := range ids {
		e.selector.details[id] = core.ItemDetail{ID: id, Title: "t", Body: "b"}
	}
}

func batchKey(sessionID string, batchNumber int) string {
	return sessionID + "." + string(rune('0'+batchNumber))
}

type fakeMsg struct {
	task       core.Task
	deliveries int
	acked      bool
	discarded  bool
	retryDelay time.Duration
	extends    int
}

func (m *fakeMsg) Task() core.Task { return m.task }
func (m *fakeMsg) Deliveries() int { return m.deliveries }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Retry(delay time.Duration) error {
	m.retryDelay = delay
	return nil
}
func (m *fakeMsg) Discard() error { m.discarded = true; return nil }
func (m *fakeMsg) Extend() error  { m.extends++; return nil }

type fakeStore struct {
	session      *core.Session
	batches      map[string]*core.BatchRecord
	itemFailures map[int64]int
	costAdded    float64
	finalized    bool
}

func (f *fakeStore) CreateSession(ctx context.Context, id string, totalItems, totalBatches int, estimatedCost float64) (*core.Session, error) {
	return nil, core.NewConflictError("not used", nil)
}

func (f *fakeStore) CreateBatchRecord(ctx context.Context, sessionID string, batchNumber int, itemIDs []int64, estimatedCost float64) (*core.BatchRecord, error) {
	return nil, core.NewConflictError("not used", nil)
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	if f.session == nil || f.session.ID != sessionID {
		return nil, core.NewNotFoundError("session", sessionID)
	}
	clone := *f.session
	return &clone, nil
}

func (f *fakeStore) GetSessionWithRecords(ctx context.Context, sessionID string) (*core.SessionWithRecords, error) {
	session, err := f.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var records []*core.BatchRecord
	for _, r := range f.batches {
		if r.SessionID == sessionID {
			records = append(records, r)
		}
	}
	return &core.SessionWithRecords{Session: session, Records: records}, nil
}

func (f *fakeStore) GetBatchRecord(ctx context.Context, sessionID string, batchNumber int) (*core.BatchRecord, error) {
	record, ok := f.batches[batchKey(sessionID, batchNumber)]
	if !ok {
		return nil, core.NewNotFoundError("batch", sessionID)
	}
	clone := *record
	return &clone, nil
}

func (f *fakeStore) GetActiveSessions(ctx context.Context) ([]*core.Session, error) {
	return nil, nil
}

func (f *fakeStore) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	f.session.Status = status
	return nil
}

func (f *fakeStore) UpdateBatchStatus(ctx context.Context, sessionID string, batchNumber int, status, startedAt, errorMessage string) error {
	record := f.batches[batchKey(sessionID, batchNumber)]
	if !core.CanTransitionBatch(record.Status, status) {
		return core.NewConflictError("illegal transition", nil)
	}
	record.Status = status
	record.StartedAt = startedAt
	record.ErrorMessage = errorMessage
	return nil
}

func (f *fakeStore) UpdateBatchCompletion(ctx context.Context, sessionID string, batchNumber, itemsProcessed, itemsFailed int, actualCost float64) error {
	record := f.batches[batchKey(sessionID, batchNumber)]
	if !core.CanTransitionBatch(record.Status, core.BatchCompleted) {
		return core.NewConflictError("illegal transition", nil)
	}
	record.Status = core.BatchCompleted
	record.ItemsProcessed = itemsProcessed
	record.ItemsFailed = itemsFailed
	record.ActualCost += actualCost
	return nil
}

func (f *fakeStore) AddSessionCost(ctx context.Context, sessionID string, delta float64) error {
	f.costAdded += delta
	f.session.ActualCost += delta
	return nil
}

func (f *fakeStore) AddBatchCost(ctx context.Context, sessionID string, batchNumber int, delta float64) error {
	f.batches[batchKey(sessionID, batchNumber)].ActualCost += delta
	return nil
}

func (f *fakeStore) FinalizeSession(ctx context.Context, sessionID string) (bool, error) {
	f.finalized = true
	return false, nil
}

func (f *fakeStore) ListFailedBatches(ctx context.Context, window time.Duration) ([]*core.BatchRecord, error) {
	return nil, nil
}

func (f *fakeStore) RecordItemFailure(ctx context.Context, itemID int64) (int, error) {
	f.itemFailures[itemID]++
	return f.itemFailures[itemID], nil
}

func (f *fakeStore) ItemFailureCount(ctx context.Context, itemID int64) (int, error) {
	return f.itemFailures[itemID], nil
}

func (f *fakeStore) ClearItemFailures(ctx context.Context, itemID int64) error {
	f.itemFailures[itemID] = 0
	return nil
}

type fakeSelector struct {
	details map[int64]core.ItemDetail
}

func (f *fakeSelector) SelectEligible(ctx context.Context, limit int) ([]int64, error) {
	return nil, nil
}

func (f *fakeSelector) SelectPriority(ctx context.Context, limit int) ([]int64, error) {
	return nil, nil
}

func (f *fakeSelector) FetchDetails(ctx context.Context, ids []int64) ([]core.ItemDetail, error) {
	items := make([]core.ItemDetail, 0, len(ids))
	for _, id := range ids {
		if item, ok := f.details[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeSelector) ValidateForProcessing(ctx context.Context, ids []int64) (*core.ValidationResult, error) {
	return nil, nil
}

// fakeAnalyzer succeeds by default. failItems marks items that return an
// unsuccessful result; systemicAfter >= 0 makes the call after that many
// successes return a retryable service error.
type fakeAnalyzer struct {
	calls         int
	failItems     map[int64]bool
	systemicAfter int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, item core.ItemDetail, tracker *core.CostTracker) (*core.AnalysisResult, error) {
	if f.systemicAfter >= 0 && f.calls >= f.systemicAfter {
		return nil, core.NewInternalError("analysis service unreachable")
	}
	f.calls++

	if err := tracker.Reserve(0.0013); err != nil {
		return nil, err
	}
	if f.failItems[item.ID] {
		tracker.Release(0.0013)
		return &core.AnalysisResult{Success: false, Error: "low signal"}, nil
	}
	tracker.Commit(0.0013, 0.0011)
	return &core.AnalysisResult{Success: true, Cost: 0.0011, SignalsFound: 2}, nil
}

type fakeRecorder struct {
	analyzed map[int64]bool
	recorded []int64
}

func (f *fakeRecorder) RecordAnalysis(ctx context.Context, itemID int64, signalsFound int, cost float64) error {
	f.analyzed[itemID] = true
	f.recorded = append(f.recorded, itemID)
	return nil
}

func (f *fakeRecorder) Unanalyzed(ctx context.Context, ids []int64) ([]int64, error) {
	var pending []int64
	for _, id := range ids {
		if !f.analyzed[id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}
