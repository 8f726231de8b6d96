package core

// ItemDetail carries the article metadata a worker needs to run analysis.
type ItemDetail struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	SourceTag     string `json:"source_tag"`
	Body          string `json:"-"`
	Preview       string `json:"preview,omitempty"`
	ContentLength int    `json:"content_length"`
	PublishedAt   string `json:"published_at,omitempty"`
}

// InvalidItem explains why a candidate article failed validation.
type InvalidItem struct {
	ID      int64    `json:"id"`
	Reasons []string `json:"reasons"`
}

// ValidationResult is the outcome of re-checking a candidate set right
// before durable state is created.
type ValidationResult struct {
	Valid   []int64       `json:"valid"`
	Invalid []InvalidItem `json:"invalid"`
	Passed  bool          `json:"validation_passed"`
	Summary string        `json:"summary"`
}

// AnalysisResult is what the external analysis service returns for one
// article. A false Success is a recorded per-item failure, not an error.
type AnalysisResult struct {
	Success      bool    `json:"success"`
	Cost         float64 `json:"cost"`
	SignalsFound int     `json:"signals_found"`
	Error        string  `json:"error,omitempty"`
}

// Task kinds carried on the work queue.
const (
	TaskBatch = "batch"
	TaskItem  = "item"
)

// Task is one unit of dispatch. Batch tasks reference durable state by
// (session, batch number) only; item tasks are recovery re-submissions.
type Task struct {
	Kind        string `json:"kind"`
	SessionID   string `json:"session_id,omitempty"`
	BatchNumber int    `json:"batch_number,omitempty"`
	ItemID      int64  `json:"item_id,omitempty"`
}

// InitiationResult is the synchronous answer to an initiation request.
type InitiationResult struct {
	Status             string            `json:"status"`
	SessionID          string            `json:"session_id,omitempty"`
	TotalItems         int               `json:"total_items,omitempty"`
	TotalBatches       int               `json:"total_batches,omitempty"`
	EstimatedTotalCost float64           `json:"estimated_total_cost,omitempty"`
	Validation         *ValidationResult `json:"validation,omitempty"`
	Budget             *BudgetCheck      `json:"budget,omitempty"`
	Message            string            `json:"message,omitempty"`
}

// Initiation statuses.
const (
	InitiationStarted          = "initiated"
	InitiationNoItems          = "no_items"
	InitiationValidationFailed = "validation_failed"
	InitiationBudgetExceeded   = "budget_exceeded"
)

// Alert severities raised by the monitor.
const (
	AlertWarning  = "warning"
	AlertHigh     = "high"
	AlertCritical = "critical"
)

// Alert is a threshold breach raised by the monitor.
type Alert struct {
	Severity  string         `json:"severity"`
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RaisedAt  string         `json:"raised_at"`
}
