package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/roach88/quakecache/internal/event"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.SetClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) })
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a record at the given UTC instant.
func createTestRecord(id string, at time.Time, mag string) event.Record {
	return event.Record{
		ID:         id,
		OccurredAt: at.UnixMilli(),
		Attributes: map[string]any{
			"type": "Feature",
			"id":   id,
			"properties": map[string]any{
				"mag":   json.Number(mag),
				"place": "10 km SSW of Volcano, Hawaii",
				"time":  json.Number(strconv.FormatInt(at.UnixMilli(), 10)),
			},
		},
	}
}

// getTableColumns returns column names for a table.
func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info failed: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
