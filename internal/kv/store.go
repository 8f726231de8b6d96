// Package kv provides typed access to the NATS KV buckets that hold
// session and batch state.
package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// casRetries bounds the optimistic-concurrency retry loop. Cost accounting
// depends on every update landing, so conflicts retry rather than fall back
// to a blind put.
const casRetries = 5

// ErrCASExhausted is returned when a compare-and-swap update keeps losing
// revision races. Callers treat it as retryable.
var ErrCASExhausted = fmt.Errorf("kv: compare-and-swap retries exhausted")

// Store wraps one NATS KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore wraps a NATS KV bucket.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value and its revision by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Put stores a value at key unconditionally.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Put(ctx, key, value)
}

// Create stores a value only if the key does not exist yet. Returns
// jetstream.ErrKeyExists otherwise; this backs the uniqueness constraint on
// (session, batch number).
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Create(ctx, key, value)
}

// Update stores a value only if the revision matches.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.kv.Update(ctx, key, value, revision)
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

// Keys returns all keys in the bucket.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// Exists checks whether a key exists.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, err := s.kv.Get(ctx, key)
	return err == nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("unmarshal key %s: %w", key, err)
	}
	return rev, nil
}

// PutJSON marshals and stores a JSON value.
func (s *Store) PutJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// CreateJSON marshals and stores a JSON value only if the key is new.
func (s *Store) CreateJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Create(ctx, key, data)
}

// UpdateJSON performs a compare-and-swap update on a JSON value. The mutate
// function receives the freshly loaded value and modifies it in place; the
// write only lands if the revision is unchanged since the read. Never falls
// back to an unconditional put: a session's accumulated cost written over a
// concurrent update would silently lose money.
func (s *Store) UpdateJSON(ctx context.Context, key string, target any, mutate func() error) error {
	for i := 0; i < casRetries; i++ {
		rev, err := s.GetJSON(ctx, key, target)
		if err != nil {
			return err
		}

		if err := mutate(); err != nil {
			return err
		}
		data, mErr := json.Marshal(target)
		if mErr != nil {
			return fmt.Errorf("marshal key %s: %w", key, mErr)
		}
		if _, uErr := s.Update(ctx, key, data, rev); uErr == nil {
			return nil
		}
		// Revision conflict, reload and retry.
	}
	return fmt.Errorf("update key %s: %w", key, ErrCASExhausted)
}
