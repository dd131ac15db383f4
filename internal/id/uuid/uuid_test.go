// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewIDVersion7 ensures IDs are unique, time-ordered UUID v7 values.
func TestGeneratorNewIDVersion7(t *testing.T) {
	t.Parallel()

	gen := New()
	prev := ""
	for range 50 {
		id, err := gen.NewID()
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		parsed, err := goUUID.Parse(id)
		if err != nil {
			t.Fatalf("id %q not a valid UUID: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected version 7, got %d", parsed.Version())
		}
		if id <= prev {
			t.Fatalf("expected %s to sort after %s", id, prev)
		}
		prev = id
	}
}
