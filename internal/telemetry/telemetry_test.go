package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
	_ "github.com/nerrad567/hydro-core/migrations"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

type fakeSeries struct {
	telemetry []string
	health    []string
}

func (f *fakeSeries) WriteTelemetry(nodeID, _ string, _ map[string]any, _ time.Time) {
	f.telemetry = append(f.telemetry, nodeID)
}

func (f *fakeSeries) WriteNodeHealth(nodeID string, _ map[string]any, _ time.Time) {
	f.health = append(f.health, nodeID)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Store Tests
// =============================================================================

func TestSaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, ph := range []float64{6.0, 6.1, 6.2} {
		rec := &Record{
			NodeID:     "ph_001",
			NodeType:   "ph",
			Data:       map[string]any{"ph": ph},
			ReceivedAt: t0.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if rec.ID == "" {
			t.Fatal("Save() did not assign an ID")
		}
	}

	got, err := s.ListByNode(ctx, "ph_001", 2)
	if err != nil {
		t.Fatalf("ListByNode() error = %v", err)
	}
	if len(got) != 2 || got[0].Data["ph"] != 6.2 || !got[0].ReceivedAt.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("ListByNode() = %+v", got)
	}
}

func TestSave_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO telemetry").WillReturnError(sql.ErrConnDone)

	series := &fakeSeries{}
	rec := NewRecorder(NewSQLiteStore(db), series)
	err = rec.Record(context.Background(), &Record{NodeID: "x", NodeType: "unknown", ReceivedAt: t0})
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("Record() error = %v", err)
	}
	if len(series.telemetry) != 0 {
		t.Error("series written although the store failed")
	}
}

// =============================================================================
// Recorder Tests
// =============================================================================

func TestRecorder(t *testing.T) {
	series := &fakeSeries{}
	r := NewRecorder(openTestStore(t), series)
	ctx := context.Background()

	if err := r.Record(ctx, &Record{NodeID: "climate_001", NodeType: "climate", Data: map[string]any{"temperature": 22.5}, ReceivedAt: t0}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	r.RecordHealth("climate_001", map[string]any{"heap_free": 1000.0}, t0)
	r.RecordHealth("climate_001", nil, t0)

	if len(series.telemetry) != 1 || len(series.health) != 1 {
		t.Errorf("series telemetry=%v health=%v", series.telemetry, series.health)
	}

	// No series writer configured.
	plain := NewRecorder(openTestStore(t), nil)
	if err := plain.Record(ctx, &Record{NodeID: "a", NodeType: "ph", ReceivedAt: t0}); err != nil {
		t.Fatalf("Record() without series error = %v", err)
	}
	plain.RecordHealth("a", map[string]any{"uptime": 1.0}, t0)
}

// =============================================================================
// Retention Tests
// =============================================================================

func TestRetentionCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, at := range []time.Time{t0.Add(-400 * 24 * time.Hour), t0.Add(-10 * 24 * time.Hour)} {
		if err := s.Save(ctx, &Record{NodeID: "ec_001", NodeType: "ec", ReceivedAt: at}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	r := NewRetention(s, 0, 0)
	r.SetClock(func() time.Time { return t0 })

	n, err := r.Cleanup(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Cleanup() = %d, %v; want 1, nil", n, err)
	}
	left, _ := s.ListByNode(ctx, "ec_001", 10)
	if len(left) != 1 {
		t.Errorf("records left = %d, want 1", len(left))
	}
}

func TestRetentionRunStopsOnCancel(t *testing.T) {
	r := NewRetention(openTestStore(t), time.Hour, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
