// Package monitor polls active sessions, raises threshold alerts, and
// finalizes sessions whose batches have all reached a terminal status.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
	"github.com/curaition/bitcoin-newsletter/internal/metrics"
)

// SessionReport is a point-in-time view of one session's progress.
type SessionReport struct {
	SessionID        string  `json:"session_id"`
	Status           string  `json:"status"`
	TotalBatches     int     `json:"total_batches"`
	BatchesCompleted int     `json:"batches_completed"`
	BatchesFailed    int     `json:"batches_failed"`
	BatchesRemaining int     `json:"batches_remaining"`
	ItemsProcessed   int     `json:"items_processed"`
	ItemsFailed      int     `json:"items_failed"`
	EstimatedCost    float64 `json:"estimated_cost"`
	ActualCost       float64 `json:"actual_cost"`
	RemainingBudget  float64 `json:"remaining_budget"`
	BudgetPct        float64 `json:"budget_utilization_pct"`
	FailureRatePct   float64 `json:"batch_failure_rate_pct"`
	StartedAt        string  `json:"started_at"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	// RemainingSeconds extrapolates completion from the average duration
	// of the batches finished so far. Zero until one batch completes.
	RemainingSeconds float64      `json:"estimated_remaining_seconds"`
	Alerts           []core.Alert `json:"alerts,omitempty"`
}

// Monitor evaluates sessions against the alerting thresholds.
type Monitor struct {
	policy core.Policy
	store  core.JobStore
	alerts core.AlertPublisher
	logger *slog.Logger
	now    func() time.Time
}

func New(policy core.Policy, store core.JobStore, alerts core.AlertPublisher, logger *slog.Logger) *Monitor {
	return &Monitor{
		policy: policy,
		store:  store,
		alerts: alerts,
		logger: logger,
		now:    time.Now,
	}
}

// RunOnce evaluates every active session. Sessions whose batches are all
// terminal are finalized here; this is the backstop for workers that
// crashed between completing a batch and finalizing.
func (m *Monitor) RunOnce(ctx context.Context) error {
	sessions, err := m.store.GetActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	metrics.ActiveSessions.Set(float64(len(sessions)))

	for _, session := range sessions {
		report, err := m.Report(ctx, session.ID)
		if err != nil {
			m.logger.Error("session report failed", "session_id", session.ID, "error", err)
			continue
		}

		for _, alert := range report.Alerts {
			m.publish(alert)
		}

		if report.BatchesRemaining == 0 && report.TotalBatches > 0 {
			done, err := m.store.FinalizeSession(ctx, session.ID)
			if err != nil {
				m.logger.Error("finalize failed", "session_id", session.ID, "error", err)
				continue
			}
			if done {
				m.logger.Info("session finalized by monitor",
					"session_id", session.ID,
					"batches_completed", report.BatchesCompleted,
					"batches_failed", report.BatchesFailed,
					"actual_cost", report.ActualCost)
			}
		}
	}
	return nil
}

// Report builds the progress view and evaluates alert thresholds for one
// session.
func (m *Monitor) Report(ctx context.Context, sessionID string) (*SessionReport, error) {
	bundle, err := m.store.GetSessionWithRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session := bundle.Session

	counts := core.CountTerminal(bundle.Records)
	report := &SessionReport{
		SessionID:        session.ID,
		Status:           session.Status,
		TotalBatches:     session.TotalBatches,
		BatchesCompleted: counts.Completed,
		BatchesFailed:    counts.Failed,
		BatchesRemaining: counts.Total - counts.Completed - counts.Failed,
		EstimatedCost:    session.EstimatedCost,
		ActualCost:       session.ActualCost,
		RemainingBudget:  m.policy.MaxTotalBudget - session.ActualCost,
		StartedAt:        session.StartedAt,
	}

	for _, record := range bundle.Records {
		report.ItemsProcessed += record.ItemsProcessed
		report.ItemsFailed += record.ItemsFailed
	}

	if m.policy.MaxTotalBudget > 0 {
		report.BudgetPct = session.ActualCost / m.policy.MaxTotalBudget * 100
	}
	if terminal := counts.Completed + counts.Failed; terminal > 0 {
		report.FailureRatePct = float64(counts.Failed) / float64(terminal) * 100
	}
	if started, err := core.ParseTime(session.StartedAt); err == nil {
		report.ElapsedSeconds = m.now().Sub(started).Seconds()
	}
	if avg := m.averageBatchSeconds(bundle.Records); avg > 0 {
		report.RemainingSeconds = avg * float64(report.BatchesRemaining)
	}

	report.Alerts = m.evaluate(report, bundle.Records)
	return report, nil
}

func (m *Monitor) averageBatchSeconds(records []*core.BatchRecord) float64 {
	var total float64
	var n int
	for _, record := range records {
		if record.Status != core.BatchCompleted {
			continue
		}
		started, err1 := core.ParseTime(record.StartedAt)
		completed, err2 := core.ParseTime(record.CompletedAt)
		if err1 != nil || err2 != nil {
			continue
		}
		total += completed.Sub(started).Seconds()
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// evaluate applies the alert thresholds. Alerts re-fire on every monitor
// pass while the condition holds; consumers deduplicate.
func (m *Monitor) evaluate(report *SessionReport, records []*core.BatchRecord) []core.Alert {
	var alerts []core.Alert

	switch {
	case report.BudgetPct > m.policy.BudgetCriticalPct:
		alerts = append(alerts, m.alert(core.AlertCritical, "budget_critical", report.SessionID,
			fmt.Sprintf("budget utilization %.1f%% past critical threshold %.0f%%",
				report.BudgetPct, m.policy.BudgetCriticalPct)))
	case report.BudgetPct > m.policy.BudgetWarningPct:
		alerts = append(alerts, m.alert(core.AlertWarning, "budget_warning", report.SessionID,
			fmt.Sprintf("budget utilization %.1f%% past warning threshold %.0f%%",
				report.BudgetPct, m.policy.BudgetWarningPct)))
	}

	if report.FailureRatePct > m.policy.FailureRateAlertPct {
		alerts = append(alerts, m.alert(core.AlertHigh, "failure_rate", report.SessionID,
			fmt.Sprintf("%d of %d terminal batches failed (%.1f%%)",
				report.BatchesFailed, report.BatchesCompleted+report.BatchesFailed,
				report.FailureRatePct)))
	}

	for _, record := range records {
		if record.Status != core.BatchProcessing {
			continue
		}
		started, err := core.ParseTime(record.StartedAt)
		if err != nil {
			continue
		}
		if elapsed := m.now().Sub(started); elapsed > m.policy.StallWarning {
			alerts = append(alerts, m.alert(core.AlertWarning, "batch_stalled", report.SessionID,
				fmt.Sprintf("batch %d processing for %.0fm", record.BatchNumber, elapsed.Minutes())))
		}
	}

	return alerts
}

func (m *Monitor) alert(severity, kind, sessionID, message string) core.Alert {
	return core.Alert{
		Severity:  severity,
		Kind:      kind,
		SessionID: sessionID,
		Message:   message,
		RaisedAt:  core.FormatTime(m.now()),
	}
}

func (m *Monitor) publish(alert core.Alert) {
	m.logger.Warn("alert raised",
		"severity", alert.Severity,
		"kind", alert.Kind,
		"session_id", alert.SessionID,
		"message", alert.Message)
	metrics.AlertsTotal.WithLabelValues(alert.Severity).Inc()

	if m.alerts == nil {
		return
	}
	if err := m.alerts.PublishAlert(&alert); err != nil {
		m.logger.Error("alert publish failed", "error", err)
	}
}
