package postgres

import (
	"database/sql"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	t.Run("bare no rows", func(t *testing.T) {
		if !isNotFound(sql.ErrNoRows) {
			t.Fatalf("expected true for sql.ErrNoRows")
		}
	})

	t.Run("wrapped no rows", func(t *testing.T) {
		err := fmt.Errorf("load match: %w", sql.ErrNoRows)
		if !isNotFound(err) {
			t.Fatalf("expected true for wrapped sql.ErrNoRows")
		}
	})

	t.Run("other errors", func(t *testing.T) {
		if isNotFound(fmt.Errorf("pq: relation matches does not exist")) {
			t.Fatalf("expected false for unrelated error")
		}
		if isNotFound(nil) {
			t.Fatalf("expected false for nil")
		}
	})
}
