package database

import (
	"context"
	"path/filepath"
	"testing"

	"taxdesk/internal/platform/config"
	"taxdesk/migrations"
)

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "taxdesk.db")

	db, err := Open(config.DatabaseConfig{Path: path, MaxConnections: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM webhook_events").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
}

func TestOpenMemory_Migrated(t *testing.T) {
	db, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM filings").Scan(&count); err != nil {
		t.Fatalf("filings table missing: %v", err)
	}
}
