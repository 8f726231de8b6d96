package core

import "testing"

func TestNewUUIDv7(t *testing.T) {
	id := NewUUIDv7()
	if id == "" {
		t.Fatal("NewUUIDv7() returned empty string")
	}
	if !IsValidUUID(id) {
		t.Errorf("NewUUIDv7() = %q, not a valid UUID", id)
	}
}

func TestNewUUIDv7_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewUUIDv7()
		if seen[id] {
			t.Errorf("NewUUIDv7() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewUUIDv7_Ordered(t *testing.T) {
	// UUIDv7 IDs are time-prefixed, so creation order is lexical order.
	prev := NewUUIDv7()
	for i := 0; i < 50; i++ {
		id := NewUUIDv7()
		if id < prev {
			t.Fatalf("NewUUIDv7() went backward: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestIsValidUUID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{NewUUIDv7(), true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"", false},
		{"not-a-uuid", false},
	}

	for _, tt := range tests {
		got := IsValidUUID(tt.input)
		if got != tt.want {
			t.Errorf("IsValidUUID(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
