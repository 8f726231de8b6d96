package kv

import (
	"context"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
)

// FailureStore tracks per-article failure counts that drive recovery
// backoff. Counts survive process restarts so re-submission delays keep
// growing across passes.
type FailureStore struct {
	store *Store
}

// NewFailureStore creates a FailureStore over a KV bucket.
func NewFailureStore(kv jetstream.KeyValue) *FailureStore {
	return &FailureStore{store: NewStore(kv)}
}

func failureKey(itemID int64) string {
	return strconv.FormatInt(itemID, 10)
}

// Increment bumps the failure count for an article and returns the new
// count. The first failure creates the key at 1.
func (f *FailureStore) Increment(ctx context.Context, itemID int64) (int, error) {
	key := failureKey(itemID)
	for i := 0; i < casRetries; i++ {
		data, rev, err := f.store.Get(ctx, key)
		if err != nil {
			if _, cErr := f.store.Create(ctx, key, []byte("1")); cErr == nil {
				return 1, nil
			} else if cErr != jetstream.ErrKeyExists {
				return 0, cErr
			}
			// Created concurrently, reload.
			continue
		}
		count, _ := strconv.Atoi(string(data))
		count++
		if _, uErr := f.store.Update(ctx, key, []byte(strconv.Itoa(count)), rev); uErr == nil {
			return count, nil
		}
	}
	return 0, ErrCASExhausted
}

// Count returns the current failure count, zero when the article has never
// failed.
func (f *FailureStore) Count(ctx context.Context, itemID int64) (int, error) {
	data, _, err := f.store.Get(ctx, failureKey(itemID))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return 0, nil
		}
		return 0, err
	}
	count, _ := strconv.Atoi(string(data))
	return count, nil
}

// Clear resets the failure count after a successful re-analysis.
func (f *FailureStore) Clear(ctx context.Context, itemID int64) error {
	err := f.store.Delete(ctx, failureKey(itemID))
	if err == jetstream.ErrKeyNotFound {
		return nil
	}
	return err
}
