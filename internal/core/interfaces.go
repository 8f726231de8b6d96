package core

import (
	"context"
	"time"
)

// JobStore is the durable source of truth for sessions and batch records.
// Implementations must make AddSessionCost an atomic increment; concurrent
// batch completions updating the same session must never lose an update.
type JobStore interface {
	CreateSession(ctx context.Context, id string, totalItems, totalBatches int, estimatedCost float64) (*Session, error)
	CreateBatchRecord(ctx context.Context, sessionID string, batchNumber int, itemIDs []int64, estimatedCost float64) (*BatchRecord, error)

	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetSessionWithRecords(ctx context.Context, sessionID string) (*SessionWithRecords, error)
	GetBatchRecord(ctx context.Context, sessionID string, batchNumber int) (*BatchRecord, error)
	GetActiveSessions(ctx context.Context) ([]*Session, error)

	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
	UpdateBatchStatus(ctx context.Context, sessionID string, batchNumber int, status, startedAt, errorMessage string) error
	UpdateBatchCompletion(ctx context.Context, sessionID string, batchNumber, itemsProcessed, itemsFailed int, actualCost float64) error
	AddSessionCost(ctx context.Context, sessionID string, delta float64) error

	// AddBatchCost adds spend to a batch record's actual cost. Aborted
	// deliveries call it so the record's cost stays in step with what the
	// session was billed across every attempt.
	AddBatchCost(ctx context.Context, sessionID string, batchNumber int, delta float64) error

	// FinalizeSession marks the session completed iff every batch record is
	// terminal. It reports whether this call performed the transition; a
	// session that is already completed or still has work in flight is a
	// no-op.
	FinalizeSession(ctx context.Context, sessionID string) (bool, error)

	// ListFailedBatches returns failed batch records whose completion falls
	// within the window, newest first.
	ListFailedBatches(ctx context.Context, window time.Duration) ([]*BatchRecord, error)

	// RecordItemFailure bumps and returns the per-item failure count used to
	// compute recovery backoff.
	RecordItemFailure(ctx context.Context, itemID int64) (int, error)
	ItemFailureCount(ctx context.Context, itemID int64) (int, error)
	ClearItemFailures(ctx context.Context, itemID int64) error
}

// Dispatcher hands tasks to the durable work queue. A positive delay defers
// delivery; zero dispatches immediately.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task, delay time.Duration) error
}

// Selector picks and validates candidate articles from the backlog.
type Selector interface {
	SelectEligible(ctx context.Context, limit int) ([]int64, error)
	SelectPriority(ctx context.Context, limit int) ([]int64, error)
	FetchDetails(ctx context.Context, ids []int64) ([]ItemDetail, error)
	ValidateForProcessing(ctx context.Context, ids []int64) (*ValidationResult, error)
}

// Analyzer is the external analysis service: one article in, a result and a
// cost out. A failed analysis is reported in the result, not as an error;
// errors mean the call itself could not be made.
type Analyzer interface {
	Analyze(ctx context.Context, item ItemDetail, tracker *CostTracker) (*AnalysisResult, error)
}

// AnalysisRecorder persists completed analyses back to the backlog store so
// selection excludes already-analyzed articles.
type AnalysisRecorder interface {
	RecordAnalysis(ctx context.Context, itemID int64, signalsFound int, cost float64) error
	Unanalyzed(ctx context.Context, ids []int64) ([]int64, error)
}

// AlertPublisher fans monitor alerts out to external consumers.
type AlertPublisher interface {
	PublishAlert(alert *Alert) error
}
