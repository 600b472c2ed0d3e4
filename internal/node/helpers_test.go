package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
	"github.com/nerrad567/hydro-core/internal/telemetry"
	_ "github.com/nerrad567/hydro-core/migrations"
)

// openTestDB opens an in-memory database with the real schema.
func openTestDB(t *testing.T) *database.DB {
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
	return db
}

// emitted is one Sink.Emit call.
type emitted struct {
	name    string
	payload any
}

// recordingSink captures domain events.
type recordingSink struct {
	mu     sync.Mutex
	events []emitted
}

func (s *recordingSink) Emit(name string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{name, payload})
}

func (s *recordingSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.name == name {
			n++
		}
	}
	return n
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEnv bundles a Registry with its collaborators.
type testEnv struct {
	db       *database.DB
	repo     *SQLiteRepository
	events   *event.SQLiteStore
	tel      *telemetry.SQLiteStore
	sink     *recordingSink
	clock    *fakeClock
	registry *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := openTestDB(t)

	env := &testEnv{
		db:     db,
		repo:   NewSQLiteRepository(db.DB),
		events: event.NewSQLiteStore(db.DB),
		tel:    telemetry.NewSQLiteStore(db.DB),
		sink:   &recordingSink{},
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	env.registry = NewRegistry(env.repo, telemetry.NewRecorder(env.tel, nil), env.events, env.sink)
	env.registry.SetClock(env.clock.Now)
	env.registry.SetOfflineTimeout(30 * time.Second)
	return env
}

func mustParse(t *testing.T, payload string) *Message {
	t.Helper()
	msg, err := ParseMessage([]byte(payload))
	if err != nil {
		t.Fatalf("ParseMessage(%s) error = %v", payload, err)
	}
	return msg
}

func countNodes(t *testing.T, db *database.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM nodes").Scan(&n); err != nil {
		t.Fatalf("counting nodes: %v", err)
	}
	return n
}
