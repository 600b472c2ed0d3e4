// Package telemetry stores raw node readings and keeps the table bounded.
//
// Every telemetry message is saved as-is in SQLite, stamped with the server
// receipt time. When InfluxDB is enabled the numeric readings are written
// through to it as well.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
)

// Record is one telemetry message as received.
type Record struct {
	ID         string         `json:"id"`
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	Data       map[string]any `json:"data"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Store persists telemetry records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	ListByNode(ctx context.Context, nodeID string, limit int) ([]Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteStore implements Store on the telemetry table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed telemetry store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save inserts rec, assigning an ID when unset.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling telemetry data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telemetry (id, node_id, node_type, data, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.NodeID, rec.NodeType, string(dataJSON), database.FormatTime(rec.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

// ListByNode returns the latest records for a node, newest first.
func (s *SQLiteStore) ListByNode(ctx context.Context, nodeID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, node_type, data, received_at
		FROM telemetry
		WHERE node_id = ?
		ORDER BY received_at DESC
		LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var dataJSON, receivedAt string
		if err := rows.Scan(&r.ID, &r.NodeID, &r.NodeType, &dataJSON, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning telemetry: %w", err)
		}
		if r.ReceivedAt, err = database.ParseTime(receivedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataJSON), &r.Data); err != nil {
			return nil, fmt.Errorf("unmarshalling telemetry data: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes records received before cutoff.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM telemetry WHERE received_at < ?`, database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting telemetry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
