// Package backlog reads the article backlog and records completed analyses.
// The backlog lives in a SQLite database populated by the ingestion pipeline;
// this package owns only the analysis_records table.
package backlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id             INTEGER PRIMARY KEY,
	title          TEXT NOT NULL,
	url            TEXT NOT NULL,
	body           TEXT NOT NULL,
	source_tag     TEXT NOT NULL,
	content_length INTEGER NOT NULL,
	active         INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_records (
	article_id    INTEGER PRIMARY KEY REFERENCES articles(id),
	signals_found INTEGER NOT NULL,
	cost          REAL NOT NULL,
	completed_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at);
`

// Store wraps the backlog database.
type Store struct {
	db *sql.DB
}

// Open opens the backlog database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open backlog db: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply backlog schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordAnalysis records a completed analysis for an item. Recording twice
// for the same item is an error; an item is analyzed at most once.
func (s *Store) RecordAnalysis(ctx context.Context, itemID int64, signalsFound int, cost float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_records (article_id, signals_found, cost, completed_at) VALUES (?, ?, ?, ?)`,
		itemID, signalsFound, cost, core.NowFormatted())
	if err != nil {
		return fmt.Errorf("record analysis for item %d: %w", itemID, err)
	}
	return nil
}

// Unanalyzed filters ids down to those without a completed analysis record,
// preserving input order.
func (s *Store) Unanalyzed(ctx context.Context, ids []int64) ([]int64, error) {
	remaining := make([]int64, 0, len(ids))
	for _, id := range ids {
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM analysis_records WHERE article_id = ?`, id).Scan(&one)
		switch err {
		case sql.ErrNoRows:
			remaining = append(remaining, id)
		case nil:
			// already analyzed
		default:
			return nil, fmt.Errorf("check analysis record for item %d: %w", id, err)
		}
	}
	return remaining, nil
}

// InsertArticle adds an article to the backlog. The ingestion pipeline is
// the normal writer; this exists for seeding and tests.
func (s *Store) InsertArticle(ctx context.Context, item core.ItemDetail, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (id, title, url, body, source_tag, content_length, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		item.ID, item.Title, item.URL, item.Body, item.SourceTag, item.ContentLength,
		core.FormatTime(createdAt))
	if err != nil {
		return fmt.Errorf("insert article %d: %w", item.ID, err)
	}
	return nil
}
