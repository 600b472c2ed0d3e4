package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
)

// Store persists commands. Every state change is a single conditional
// statement; the bool result reports whether the row actually moved.
type Store interface {
	// Create inserts a pending command, assigning ID and timestamps when unset.
	Create(ctx context.Context, c *Command) error

	// Get returns ErrCommandNotFound for an unknown id.
	Get(ctx context.Context, id string) (*Command, error)

	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	Acknowledge(ctx context.Context, id string, at time.Time) (bool, error)
	Complete(ctx context.Context, id string, response json.RawMessage, at time.Time) (bool, error)
	Fail(ctx context.Context, id string, reason FailureReason, errText string, at time.Time) (bool, error)

	// ListExpired returns non-terminal commands whose timeout_at is before now.
	ListExpired(ctx context.Context, now time.Time) ([]Command, error)
}

// SQLiteStore implements Store on the commands table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed command store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const selectCommand = `
	SELECT id, node_id, command, params, status, failure_reason, issued_by,
		timeout_seconds, timeout_at, sent_at, acknowledged_at, completed_at,
		response, error, created_at, updated_at
	FROM commands`

// Create inserts a new pending command.
func (s *SQLiteStore) Create(ctx context.Context, c *Command) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	c.Status = StatusPending

	params := c.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshalling params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commands (
			id, node_id, command, params, status, issued_by,
			timeout_seconds, timeout_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.NodeID, c.Command, string(paramsJSON), string(c.Status), c.IssuedBy,
		c.TimeoutSeconds,
		database.FormatTime(c.TimeoutAt),
		database.FormatTime(c.CreatedAt),
		database.FormatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Get retrieves a command by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Command, error) {
	row := s.db.QueryRowContext(ctx, selectCommand+` WHERE id = ?`, id)
	c, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command by id: %w", err)
	}
	return c, nil
}

// MarkSent moves a pending command to sent.
func (s *SQLiteStore) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	ts := database.FormatTime(at)
	return s.transition(ctx, id, StatusSent, "sent_at = ?", ts)
}

// Acknowledge records the node's acknowledgement.
func (s *SQLiteStore) Acknowledge(ctx context.Context, id string, at time.Time) (bool, error) {
	ts := database.FormatTime(at)
	return s.transition(ctx, id, StatusAcknowledged, "acknowledged_at = ?", ts)
}

// Complete stores the response body and completion time.
func (s *SQLiteStore) Complete(ctx context.Context, id string, response json.RawMessage, at time.Time) (bool, error) {
	var body sql.NullString
	if len(response) > 0 {
		body = sql.NullString{String: string(response), Valid: true}
	}
	ts := database.FormatTime(at)
	return s.transition(ctx, id, StatusCompleted, "response = ?, completed_at = ?", body, ts)
}

// Fail marks a command failed with a reason and error text.
func (s *SQLiteStore) Fail(ctx context.Context, id string, reason FailureReason, errText string, at time.Time) (bool, error) {
	ts := database.FormatTime(at)
	return s.transition(ctx, id, StatusFailed, "failure_reason = ?, error = ?, completed_at = ?",
		string(reason), errText, ts)
}

// transition sets status = to plus the extra assignments, guarded by the set
// of statuses allowed to reach to. The last argument is the updated_at time.
func (s *SQLiteStore) transition(ctx context.Context, id string, to Status, assignments string, args ...any) (bool, error) {
	from := predecessors(to)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	query := `UPDATE commands SET status = ?, ` + assignments + `, updated_at = ?
		WHERE id = ? AND status IN (` + placeholders + `)`

	updatedAt := args[len(args)-1]
	full := make([]any, 0, len(args)+len(from)+3)
	full = append(full, string(to))
	full = append(full, args...)
	full = append(full, updatedAt, id)
	for _, st := range from {
		full = append(full, string(st))
	}

	result, err := s.db.ExecContext(ctx, query, full...)
	if err != nil {
		return false, fmt.Errorf("updating command to %s: %w", to, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// ListExpired returns non-terminal commands past their deadline.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, selectCommand+`
		WHERE status IN (?, ?, ?) AND timeout_at < ?
		ORDER BY timeout_at`,
		string(StatusPending), string(StatusSent), string(StatusAcknowledged),
		database.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("querying expired commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*Command, error) {
	var c Command
	var status, reason, paramsJSON, timeoutAt, createdAt, updatedAt string
	var sentAt, ackAt, completedAt, response sql.NullString

	if err := row.Scan(
		&c.ID, &c.NodeID, &c.Command, &paramsJSON, &status, &reason, &c.IssuedBy,
		&c.TimeoutSeconds, &timeoutAt, &sentAt, &ackAt, &completedAt,
		&response, &c.Error, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.FailureReason = FailureReason(reason)

	if err := json.Unmarshal([]byte(paramsJSON), &c.Params); err != nil {
		return nil, fmt.Errorf("unmarshalling params: %w", err)
	}
	if response.Valid {
		c.Response = json.RawMessage(response.String)
	}

	var err error
	if c.TimeoutAt, err = database.ParseTime(timeoutAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{sentAt, &c.SentAt},
		{ackAt, &c.AcknowledgedAt},
		{completedAt, &c.CompletedAt},
	} {
		if !f.src.Valid {
			continue
		}
		t, err := database.ParseTime(f.src.String)
		if err != nil {
			return nil, err
		}
		*f.dst = &t
	}
	return &c, nil
}
