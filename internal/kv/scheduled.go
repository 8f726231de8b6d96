package kv

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// ScheduledTask is a task parked until its due time. Staggered batch
// dispatch and delayed recovery re-submissions both go through here.
type ScheduledTask struct {
	Key   string    `json:"-"`
	Task  core.Task `json:"task"`
	DueAt string    `json:"due_at"`
}

// ScheduledStore manages tasks awaiting promotion onto the work queue.
type ScheduledStore struct {
	store *Store
}

// NewScheduledStore creates a ScheduledStore over a KV bucket.
func NewScheduledStore(kv jetstream.KeyValue) *ScheduledStore {
	return &ScheduledStore{store: NewStore(kv)}
}

// Add parks a task until due. A key that is already parked is left
// untouched and jetstream.ErrKeyExists is returned: overwriting would reset
// the entry's due time, and a task re-parked on every scan could slide
// forward forever without ever coming due.
func (s *ScheduledStore) Add(ctx context.Context, key string, task core.Task, due time.Time) error {
	entry := ScheduledTask{Task: task, DueAt: core.FormatTime(due)}
	_, err := s.store.CreateJSON(ctx, key, &entry)
	return err
}

// Due returns every parked task whose due time is at or before now.
// Entries with unreadable payloads or timestamps are skipped; they will be
// reported again on the next scan.
func (s *ScheduledStore) Due(ctx context.Context, now time.Time) ([]ScheduledTask, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var due []ScheduledTask
	for _, key := range keys {
		var entry ScheduledTask
		if _, err := s.store.GetJSON(ctx, key, &entry); err != nil {
			continue
		}
		dueAt, err := core.ParseTime(entry.DueAt)
		if err != nil {
			continue
		}
		if now.Before(dueAt) {
			continue
		}
		entry.Key = key
		due = append(due, entry)
	}
	return due, nil
}

// Remove deletes a parked task after it has been promoted.
func (s *ScheduledStore) Remove(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
