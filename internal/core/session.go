package core

// Session statuses. A session is terminal only when completed.
const (
	SessionInitiated  = "initiated"
	SessionProcessing = "processing"
	SessionCompleted  = "completed"
)

// Batch statuses. Completed and failed are terminal.
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// Session is one end-to-end analysis run over a selected set of articles.
type Session struct {
	ID            string  `json:"id"`
	TotalItems    int     `json:"total_items"`
	TotalBatches  int     `json:"total_batches"`
	EstimatedCost float64 `json:"estimated_cost"`
	ActualCost    float64 `json:"actual_cost"`
	Status        string  `json:"status"`
	StartedAt     string  `json:"started_at"`
	CompletedAt   string  `json:"completed_at,omitempty"`
}

// BatchRecord is one partition of a session's articles, the unit of
// dispatch and retry.
type BatchRecord struct {
	SessionID      string  `json:"session_id"`
	BatchNumber    int     `json:"batch_number"`
	ItemIDs        []int64 `json:"item_ids"`
	EstimatedCost  float64 `json:"estimated_cost"`
	ActualCost     float64 `json:"actual_cost"`
	Status         string  `json:"status"`
	ItemsProcessed int     `json:"items_processed"`
	ItemsFailed    int     `json:"items_failed"`
	StartedAt      string  `json:"started_at,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// SessionWithRecords bundles a session and its batch records.
type SessionWithRecords struct {
	Session *Session       `json:"session"`
	Records []*BatchRecord `json:"records"`
}

// IsTerminalBatchStatus reports whether a batch status is final.
func IsTerminalBatchStatus(status string) bool {
	return status == BatchCompleted || status == BatchFailed
}

// IsActiveSessionStatus reports whether a session still has work in flight.
func IsActiveSessionStatus(status string) bool {
	return status == SessionInitiated || status == SessionProcessing
}

// batchRank orders batch statuses along the only legal path:
// pending -> processing -> {completed, failed}.
var batchRank = map[string]int{
	BatchPending:    0,
	BatchProcessing: 1,
	BatchCompleted:  2,
	BatchFailed:     2,
}

// CanTransitionBatch reports whether a batch may move from one status to
// another. Terminal statuses never move, and statuses never move backward.
func CanTransitionBatch(from, to string) bool {
	fr, ok := batchRank[from]
	if !ok {
		return false
	}
	tr, ok := batchRank[to]
	if !ok {
		return false
	}
	if IsTerminalBatchStatus(from) {
		return false
	}
	return tr > fr
}

// TerminalCounts tallies a session's batch records by outcome.
type TerminalCounts struct {
	Completed int
	Failed    int
	Total     int
}

// CountTerminal tallies terminal batch records.
func CountTerminal(records []*BatchRecord) TerminalCounts {
	c := TerminalCounts{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case BatchCompleted:
			c.Completed++
		case BatchFailed:
			c.Failed++
		}
	}
	return c
}

// AllTerminal reports whether every batch record has reached a final status.
func AllTerminal(records []*BatchRecord) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		if !IsTerminalBatchStatus(r.Status) {
			return false
		}
	}
	return true
}
