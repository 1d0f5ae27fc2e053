package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.sqlite"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpSection(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no markers", "CREATE TABLE a (id INTEGER);", "CREATE TABLE a (id INTEGER);"},
		{"up only", "-- +migrate Up\nCREATE TABLE a (id INTEGER);", "\nCREATE TABLE a (id INTEGER);"},
		{"up and down", "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;", "\nCREATE TABLE a (id INTEGER);\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UpSection(tt.content); got != tt.want {
				t.Fatalf("UpSection = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApply_RunsEachFileOnce(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/001_init.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE notes (id INTEGER PRIMARY KEY);\n-- +migrate Down\nDROP TABLE notes;")},
		"m/002_seed.sql": {Data: []byte("INSERT INTO notes (id) VALUES (1);")},
		"m/README.md":    {Data: []byte("ignored")},
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := Apply(ctx, db, fsys, "m"); err != nil {
			t.Fatalf("Apply #%d: %v", i+1, err)
		}
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&rows); err != nil {
		t.Fatalf("count notes: %v", err)
	}
	if rows != 1 {
		t.Fatalf("seed applied %d times, want once", rows)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied = %d, want 2", applied)
	}
}

func TestApply_NilDB(t *testing.T) {
	if err := Apply(context.Background(), nil, fstest.MapFS{}, "."); err == nil {
		t.Fatalf("Apply(nil db) returned nil error")
	}
}
