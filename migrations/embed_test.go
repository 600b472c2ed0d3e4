package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
)

func TestSchemaApplies(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"nodes", "commands", "events", "telemetry"} {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("table %s missing (err=%v)", table, err)
		}
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() after rollback error = %v", err)
	}
}

func TestSchemaRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := database.FormatTime(time.Now())
	_, err = db.ExecContext(ctx, `INSERT INTO nodes (node_id, created_at, updated_at) VALUES ('n1', ?, ?)`, now, now)
	if err != nil {
		t.Fatalf("insert node: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO commands (id, node_id, command, status, timeout_seconds, timeout_at, created_at, updated_at)
		VALUES ('c1', 'n1', 'x', 'exploded', 300, ?, ?, ?)`, now, now, now)
	if err == nil {
		t.Error("schema accepted an unknown command status")
	}
}
