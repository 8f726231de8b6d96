package backlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// Selector implements core.Selector on top of the backlog store.
type Selector struct {
	db      *sql.DB
	policy  core.Policy
	sources *PrioritySources
	logger  *slog.Logger
	now     func() time.Time
}

// NewSelector builds a Selector. sources may be nil when no priority-source
// configuration is deployed.
func NewSelector(store *Store, policy core.Policy, sources *PrioritySources, logger *slog.Logger) *Selector {
	return &Selector{
		db:      store.db,
		policy:  policy,
		sources: sources,
		logger:  logger,
		now:     time.Now,
	}
}

const eligibleQuery = `
SELECT a.id
FROM articles a
LEFT JOIN analysis_records r ON r.article_id = a.id
WHERE a.active = 1
  AND r.article_id IS NULL
  AND a.content_length >= ?
ORDER BY a.created_at DESC
LIMIT ?`

// SelectEligible returns up to limit unanalyzed, active articles meeting the
// minimum content length, newest first.
func (s *Selector) SelectEligible(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, eligibleQuery, s.policy.MinContentLength, limit)
	if err != nil {
		return nil, fmt.Errorf("select eligible articles: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SelectPriority biases toward recent articles from configured high-quality
// sources. When recent supply runs short it falls back to the ordinary
// eligible set so a quiet news day still fills batches.
func (s *Selector) SelectPriority(ctx context.Context, limit int) ([]int64, error) {
	cutoff := core.FormatTime(s.now().Add(-s.policy.PriorityRecencyWindow))

	query := eligibleQuery
	args := []any{s.policy.MinContentLength, limit}
	if s.sources != nil && len(s.sources.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(s.sources.Tags)), ",")
		query = fmt.Sprintf(`
SELECT a.id
FROM articles a
LEFT JOIN analysis_records r ON r.article_id = a.id
WHERE a.active = 1
  AND r.article_id IS NULL
  AND a.content_length >= ?
  AND a.created_at >= ?
  AND a.source_tag IN (%s)
ORDER BY a.created_at DESC
LIMIT ?`, placeholders)
		args = []any{s.policy.MinContentLength, cutoff}
		for _, tag := range s.sources.Tags {
			args = append(args, tag)
		}
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select priority articles: %w", err)
	}
	ids, err := scanIDs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(ids) >= s.policy.PriorityMinRecent {
		return ids, nil
	}

	s.logger.Debug("priority selection below minimum, falling back",
		"recent", len(ids),
		"min_recent", s.policy.PriorityMinRecent)

	fallback, err := s.SelectEligible(ctx, limit)
	if err != nil {
		return nil, err
	}
	return mergeKeepingOrder(ids, fallback, limit), nil
}

const detailQuery = `
SELECT id, title, url, body, source_tag, content_length, created_at
FROM articles
WHERE id = ?`

// FetchDetails loads full article rows for ids, skipping ids that no longer
// exist. Order follows the input.
func (s *Selector) FetchDetails(ctx context.Context, ids []int64) ([]core.ItemDetail, error) {
	items := make([]core.ItemDetail, 0, len(ids))
	for _, id := range ids {
		var item core.ItemDetail
		err := s.db.QueryRowContext(ctx, detailQuery, id).Scan(
			&item.ID, &item.Title, &item.URL, &item.Body,
			&item.SourceTag, &item.ContentLength, &item.PublishedAt)
		if err == sql.ErrNoRows {
			s.logger.Warn("article disappeared between selection and fetch", "item_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch article %d: %w", id, err)
		}
		item.Preview = preview(item.Body, 200)
		items = append(items, item)
	}
	return items, nil
}

// ValidateForProcessing re-checks each candidate right before durable state
// is created. Selection and initiation can race with ingestion and with a
// concurrent run, so content length and analyzed status are checked again.
func (s *Selector) ValidateForProcessing(ctx context.Context, ids []int64) (*core.ValidationResult, error) {
	result := &core.ValidationResult{
		Valid:   make([]int64, 0, len(ids)),
		Invalid: make([]core.InvalidItem, 0),
	}

	for _, id := range ids {
		var reasons []string

		var contentLength int
		var active bool
		err := s.db.QueryRowContext(ctx,
			`SELECT content_length, active FROM articles WHERE id = ?`, id).
			Scan(&contentLength, &active)
		switch {
		case err == sql.ErrNoRows:
			reasons = append(reasons, "article not found")
		case err != nil:
			return nil, fmt.Errorf("validate article %d: %w", id, err)
		default:
			if !active {
				reasons = append(reasons, "article inactive")
			}
			if contentLength < s.policy.MinContentLength {
				reasons = append(reasons, fmt.Sprintf("content length %d below minimum %d",
					contentLength, s.policy.MinContentLength))
			}
			var one int
			err = s.db.QueryRowContext(ctx,
				`SELECT 1 FROM analysis_records WHERE article_id = ?`, id).Scan(&one)
			if err == nil {
				reasons = append(reasons, "already analyzed")
			} else if err != sql.ErrNoRows {
				return nil, fmt.Errorf("validate analysis record %d: %w", id, err)
			}
		}

		if len(reasons) == 0 {
			result.Valid = append(result.Valid, id)
		} else {
			result.Invalid = append(result.Invalid, core.InvalidItem{ID: id, Reasons: reasons})
		}
	}

	result.Passed = len(result.Valid) >= s.policy.MinValidItems
	result.Summary = fmt.Sprintf("%d valid, %d invalid (minimum %d)",
		len(result.Valid), len(result.Invalid), s.policy.MinValidItems)
	return result, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan article id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func mergeKeepingOrder(primary, fallback []int64, limit int) []int64 {
	seen := make(map[int64]struct{}, len(primary))
	merged := make([]int64, 0, limit)
	for _, id := range primary {
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range fallback {
		if len(merged) >= limit {
			break
		}
		if _, ok := seen[id]; ok {
			continue
		}
		merged = append(merged, id)
	}
	return merged
}

func preview(body string, max int) string {
	if len(body) <= max {
		return body
	}
	return body[:max]
}
