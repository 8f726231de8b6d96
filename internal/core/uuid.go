package core

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUID string for session IDs. Lexical
// order follows creation order, which keeps KV listings chronological.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// IsValidUUID reports whether s parses as any UUID version.
func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
