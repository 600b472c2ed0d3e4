package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
)

// defaultListLimit caps ListActive when the caller passes no limit.
const defaultListLimit = 100

// Store persists events.
type Store interface {
	// Create inserts e, assigning ID and CreatedAt when unset.
	Create(ctx context.Context, e *Event) error

	// Get returns ErrEventNotFound for an unknown id.
	Get(ctx context.Context, id string) (*Event, error)

	// ListActive returns unresolved events, newest first. An empty nodeID
	// lists every node.
	ListActive(ctx context.Context, nodeID string, limit int) ([]Event, error)

	// Resolve marks an active event resolved.
	// Returns ErrAlreadyResolved if it was not active.
	Resolve(ctx context.Context, id, by string, at time.Time) error

	// AutoResolve resolves every active, non-emergency event created before
	// olderThan and returns how many were resolved.
	AutoResolve(ctx context.Context, olderThan, at time.Time) (int64, error)
}

// SQLiteStore implements Store on the events table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed event store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const selectEvent = `
	SELECT id, node_id, level, message, data, resolved_at, resolved_by, created_at
	FROM events`

// Create inserts a new event.
func (s *SQLiteStore) Create(ctx context.Context, e *Event) error {
	if !e.Level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, e.Level)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, node_id, level, message, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.NodeID, string(e.Level), e.Message, string(dataJSON),
		database.FormatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Get retrieves an event by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, selectEvent+` WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("querying event by id: %w", err)
	}
	return e, nil
}

// ListActive returns unresolved events, newest first.
func (s *SQLiteStore) ListActive(ctx context.Context, nodeID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := selectEvent + ` WHERE resolved_at IS NULL`
	args := []any{}
	if nodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, nodeID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying active events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// Resolve marks an active event resolved.
func (s *SQLiteStore) Resolve(ctx context.Context, id, by string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events SET resolved_at = ?, resolved_by = ?
		WHERE id = ? AND resolved_at IS NULL`,
		database.FormatTime(at), by, id,
	)
	if err != nil {
		return fmt.Errorf("resolving event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyResolved
}

// AutoResolve resolves stale non-emergency events.
func (s *SQLiteStore) AutoResolve(ctx context.Context, olderThan, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events SET resolved_at = ?, resolved_by = ?
		WHERE resolved_at IS NULL AND level != ? AND created_at < ?`,
		database.FormatTime(at), ResolvedByAuto, string(LevelEmergency), database.FormatTime(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("auto-resolving events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var level, dataJSON, createdAt string
	var resolvedAt, resolvedBy sql.NullString

	if err := row.Scan(&e.ID, &e.NodeID, &level, &e.Message, &dataJSON, &resolvedAt, &resolvedBy, &createdAt); err != nil {
		return nil, err
	}
	e.Level = Level(level)
	e.ResolvedBy = resolvedBy.String

	var err error
	if e.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t, err := database.ParseTime(resolvedAt.String)
		if err != nil {
			return nil, err
		}
		e.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling event data: %w", err)
	}
	return &e, nil
}
