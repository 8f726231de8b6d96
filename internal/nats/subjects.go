package nats

import "fmt"

// Subject hierarchy for the analysis pipeline.
//
//	analysis.tasks.batch   -- batch execution tasks
//	analysis.tasks.item    -- single-article recovery tasks
//	analysis.alerts.>      -- monitor alerts (wildcardable)
const (
	StreamName    = "ANALYSIS"
	SubjectPrefix = "analysis"

	// KV bucket names
	BucketSessions  = "analysis-sessions"
	BucketBatches   = "analysis-batches"
	BucketScheduled = "analysis-scheduled"
	BucketFailures  = "analysis-item-failures"
)

// TaskSubject returns the subject for a task kind ("batch" or "item").
func TaskSubject(kind string) string {
	return fmt.Sprintf("%s.tasks.%s", SubjectPrefix, kind)
}

// TasksAllSubject returns the wildcard matching every task subject. Used
// for the stream subject filter and the worker consumer.
func TasksAllSubject() string {
	return fmt.Sprintf("%s.tasks.>", SubjectPrefix)
}

// AlertSubject returns the subject for one alert severity.
// Example: analysis.alerts.critical
func AlertSubject(severity string) string {
	return fmt.Sprintf("%s.alerts.%s", SubjectPrefix, severity)
}

// AlertsAllSubject is the subject carrying every alert regardless of
// severity.
func AlertsAllSubject() string {
	return fmt.Sprintf("%s.alerts.all", SubjectPrefix)
}

// WorkerConsumerName is the durable consumer shared by the worker pool.
const WorkerConsumerName = "analysis-workers"
