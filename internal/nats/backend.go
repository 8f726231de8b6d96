package nats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/curaition/bitcoin-newsletter/internal/core"
	"github.com/curaition/bitcoin-newsletter/internal/kv"
	"github.com/curaition/bitcoin-newsletter/internal/trace"
)

// Backend implements core.JobStore and core.Dispatcher over NATS JetStream
// and KV. Session and batch records live in KV buckets; task messages flow
// through a work-queue stream.
type Backend struct {
	nc *nats.Conn
	js jetstream.JetStream

	sessions  *kv.Store
	batches   *kv.Store
	scheduled *kv.ScheduledStore
	failures  *kv.FailureStore

	fetcher *TaskFetcher

	startTime time.Time
}

// New connects to NATS and sets up JetStream resources. maxDeliver bounds
// how many times a batch task is delivered before the worker gives up.
func New(natsURL string, maxDeliver int) (*Backend, error) {
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := SetupJetStream(ctx, js, maxDeliver); err != nil {
		nc.Close()
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	openKV := func(name string) (jetstream.KeyValue, error) {
		bucket, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		return bucket, nil
	}

	sessionsKV, err := openKV(BucketSessions)
	if err != nil {
		nc.Close()
		return nil, err
	}
	batchesKV, err := openKV(BucketBatches)
	if err != nil {
		nc.Close()
		return nil, err
	}
	scheduledKV, err := openKV(BucketScheduled)
	if err != nil {
		nc.Close()
		return nil, err
	}
	failuresKV, err := openKV(BucketFailures)
	if err != nil {
		nc.Close()
		return nil, err
	}

	consumer, err := js.Consumer(ctx, StreamName, WorkerConsumerName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening consumer %s: %w", WorkerConsumerName, err)
	}

	return &Backend{
		nc:        nc,
		js:        js,
		sessions:  kv.NewStore(sessionsKV),
		batches:   kv.NewStore(batchesKV),
		scheduled: kv.NewScheduledStore(scheduledKV),
		failures:  kv.NewFailureStore(failuresKV),
		fetcher:   NewTaskFetcher(consumer),
		startTime: time.Now(),
	}, nil
}

// Conn returns the underlying NATS connection for auxiliary services such
// as the alert broker.
func (b *Backend) Conn() *nats.Conn {
	return b.nc
}

// Fetcher returns the worker pool's task source.
func (b *Backend) Fetcher() *TaskFetcher {
	return b.fetcher
}

func (b *Backend) Close() error {
	b.nc.Close()
	return nil
}

// Healthy reports connection state and a round-trip latency measured with
// a KV read.
func (b *Backend) Healthy(ctx context.Context) (time.Duration, error) {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return 0, fmt.Errorf("NATS status: %v", status)
	}
	start := time.Now()
	b.sessions.Exists(ctx, "_health_check")
	return time.Since(start), nil
}

// Uptime reports how long this backend has been running.
func (b *Backend) Uptime() time.Duration {
	return time.Since(b.startTime)
}

// CreateSession persists a new session in the initiated state.
func (b *Backend) CreateSession(ctx context.Context, id string, totalItems, totalBatches int, estimatedCost float64) (*core.Session, error) {
	ctx, span := trace.StartStoreSpan(ctx, "create_session", id)
	defer span.End()

	session := &core.Session{
		ID:            id,
		TotalItems:    totalItems,
		TotalBatches:  totalBatches,
		EstimatedCost: estimatedCost,
		Status:        core.SessionInitiated,
		StartedAt:     core.NowFormatted(),
	}
	if _, err := b.sessions.CreateJSON(ctx, id, session); err != nil {
		if err == jetstream.ErrKeyExists {
			return nil, core.NewConflictError(
				fmt.Sprintf("Session '%s' already exists.", id),
				map[string]any{"session_id": id},
			)
		}
		return nil, fmt.Errorf("store session: %w", err)
	}
	return session, nil
}

// CreateBatchRecord persists a new batch record in the pending state. The
// KV create rejects a duplicate (session, batch number) pair.
func (b *Backend) CreateBatchRecord(ctx context.Context, sessionID string, batchNumber int, itemIDs []int64, estimatedCost float64) (*core.BatchRecord, error) {
	record := &core.BatchRecord{
		SessionID:     sessionID,
		BatchNumber:   batchNumber,
		ItemIDs:       itemIDs,
		EstimatedCost: estimatedCost,
		Status:        core.BatchPending,
	}
	if _, err := b.batches.CreateJSON(ctx, batchKey(sessionID, batchNumber), record); err != nil {
		if err == jetstream.ErrKeyExists {
			return nil, core.NewConflictError(
				fmt.Sprintf("Batch %d already exists in session '%s'.", batchNumber, sessionID),
				map[string]any{"session_id": sessionID, "batch_number": batchNumber},
			)
		}
		return nil, fmt.Errorf("store batch record: %w", err)
	}
	return record, nil
}

// GetSession retrieves a session by ID.
func (b *Backend) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	var session core.Session
	if _, err := b.sessions.GetJSON(ctx, sessionID, &session); err != nil {
		return nil, core.NewNotFoundError("Session", sessionID)
	}
	return &session, nil
}

// GetBatchRecord retrieves one batch record.
func (b *Backend) GetBatchRecord(ctx context.Context, sessionID string, batchNumber int) (*core.BatchRecord, error) {
	var record core.BatchRecord
	if _, err := b.batches.GetJSON(ctx, batchKey(sessionID, batchNumber), &record); err != nil {
		return nil, core.NewNotFoundError("Batch record", batchKey(sessionID, batchNumber))
	}
	return &record, nil
}

// GetSessionWithRecords retrieves a session and its batch records in batch
// order.
func (b *Backend) GetSessionWithRecords(ctx context.Context, sessionID string) (*core.SessionWithRecords, error) {
	ctx, span := trace.StartStoreSpan(ctx, "get_session_with_records", sessionID)
	defer span.End()

	session, err := b.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	keys, err := b.batches.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list batch keys: %w", err)
	}

	prefix := sessionID + "."
	var recordKeys []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			recordKeys = append(recordKeys, key)
		}
	}
	// Zero-padded batch numbers make lexical order batch order.
	sort.Strings(recordKeys)

	records := make([]*core.BatchRecord, 0, len(recordKeys))
	for _, key := range recordKeys {
		var record core.BatchRecord
		if _, err := b.batches.GetJSON(ctx, key, &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	return &core.SessionWithRecords{Session: session, Records: records}, nil
}

// GetActiveSessions returns sessions still initiated or processing, oldest
// first.
func (b *Backend) GetActiveSessions(ctx context.Context) ([]*core.Session, error) {
	keys, err := b.sessions.Keys(ctx)
	if err != nil {
		return nil, err
	}

	// Session IDs are UUIDv7, so sorted keys are in creation order.
	sort.Strings(keys)

	var active []*core.Session
	for _, key := range keys {
		var session core.Session
		if _, err := b.sessions.GetJSON(ctx, key, &session); err != nil {
			continue
		}
		if core.IsActiveSessionStatus(session.Status) {
			active = append(active, &session)
		}
	}
	return active, nil
}

// UpdateSessionStatus moves a session between statuses. Completion goes
// through FinalizeSession, not here.
func (b *Backend) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	var session core.Session
	err := b.sessions.UpdateJSON(ctx, sessionID, &session, func() error {
		if session.Status == core.SessionCompleted {
			return core.NewConflictError(
				fmt.Sprintf("Session '%s' is already completed.", sessionID),
				map[string]any{"session_id": sessionID},
			)
		}
		session.Status = status
		return nil
	})
	if err == jetstream.ErrKeyNotFound {
		return core.NewNotFoundError("Session", sessionID)
	}
	return err
}

// AddSessionCost atomically accumulates actual cost onto a session. The
// compare-and-swap retry loop underneath makes concurrent batch completions
// safe; a plain read-then-write here would lose updates.
func (b *Backend) AddSessionCost(ctx context.Context, sessionID string, delta float64) error {
	ctx, span := trace.StartStoreSpan(ctx, "add_session_cost", sessionID)
	defer span.End()

	var session core.Session
	err := b.sessions.UpdateJSON(ctx, sessionID, &session, func() error {
		session.ActualCost += delta
		return nil
	})
	if err == jetstream.ErrKeyNotFound {
		return core.NewNotFoundError("Session", sessionID)
	}
	return err
}

// FinalizeSession completes a session iff every batch record is terminal.
// Calling it on an already-completed session is a no-op.
func (b *Backend) FinalizeSession(ctx context.Context, sessionID string) (bool, error) {
	ctx, span := trace.StartStoreSpan(ctx, "finalize_session", sessionID)
	defer span.End()

	bundle, err := b.GetSessionWithRecords(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if bundle.Session.Status == core.SessionCompleted {
		return false, nil
	}
	if !core.AllTerminal(bundle.Records) {
		return false, nil
	}

	var session core.Session
	finalized := false
	err = b.sessions.UpdateJSON(ctx, sessionID, &session, func() error {
		if session.Status == core.SessionCompleted {
			return nil
		}
		session.Status = core.SessionCompleted
		session.CompletedAt = core.NowFormatted()
		finalized = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return finalized, nil
}

// RecordItemFailure bumps the per-article failure count.
func (b *Backend) RecordItemFailure(ctx context.Context, itemID int64) (int, error) {
	return b.failures.Increment(ctx, itemID)
}

// ItemFailureCount returns the per-article failure count.
func (b *Backend) ItemFailureCount(ctx context.Context, itemID int64) (int, error) {
	return b.failures.Count(ctx, itemID)
}

// ClearItemFailures resets the count after a successful re-analysis.
func (b *Backend) ClearItemFailures(ctx context.Context, itemID int64) error {
	return b.failures.Clear(ctx, itemID)
}
