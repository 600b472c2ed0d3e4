package node

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
)

// Repository defines node persistence.
//
// Every mutation is a single statement keyed by node_id so concurrent
// ingestion and sweeps never lose each other's writes.
type Repository interface {
	// Get returns ErrNodeNotFound for an unknown id.
	Get(ctx context.Context, id string) (*Node, error)

	// List returns every node ordered by id.
	List(ctx context.Context) ([]Node, error)

	// Create inserts n. Returns ErrNodeExists if the id is taken.
	Create(ctx context.Context, n *Node) error

	// MarkSeen records contact with an existing node: online, last_seen_at,
	// merged metadata. cameOnline reports whether this call flipped the
	// cached flag from offline. Returns ErrNodeNotFound for an unknown id.
	MarkSeen(ctx context.Context, id string, seen Seen) (cameOnline bool, err error)

	// SetOnline writes the cached online flag only if it currently differs
	// and last_seen_at still agrees with the liveness decision: newer than
	// cutoff for online, at or before cutoff (or never seen) for offline.
	// changed is false when the flag already matched, the node was seen on
	// the other side of cutoff in the meantime, or the node is gone.
	SetOnline(ctx context.Context, id string, online bool, cutoff, at time.Time) (changed bool, err error)

	// ReplaceConfig stores the configuration a node reported.
	ReplaceConfig(ctx context.Context, id string, config Document, at time.Time) error
}

// Seen describes one contact with a node.
type Seen struct {
	At time.Time

	// Metadata keys are merged into the stored metadata.
	Metadata Document

	// MACAddress replaces the stored address when non-empty.
	MACAddress string

	// Type replaces the stored type only while that is still unknown.
	Type Type
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectNode = `
	SELECT node_id, node_type, zone, mac_address, online, last_seen_at,
		config, metadata, created_at, updated_at
	FROM nodes`

// Get retrieves a node by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Node, error) {
	row := r.db.QueryRowContext(ctx, selectNode+` WHERE node_id = ?`, id)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("querying node by id: %w", err)
	}
	return n, nil
}

// List retrieves all nodes.
func (r *SQLiteRepository) List(ctx context.Context) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx, selectNode+` ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, nil
}

// Create inserts a new node.
func (r *SQLiteRepository) Create(ctx context.Context, n *Node) error {
	configJSON, err := marshalDocument(n.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	metadataJSON, err := marshalDocument(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	if n.Type == "" {
		n.Type = TypeUnknown
	}

	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = n.CreatedAt

	// ON CONFLICT DO NOTHING turns a lost creation race into ErrNodeExists
	// instead of a constraint error.
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes (
			node_id, node_type, zone, mac_address, online, last_seen_at,
			config, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (node_id) DO NOTHING`,
		n.ID,
		string(n.Type),
		n.Zone,
		nullableString(n.MACAddress),
		boolToInt(n.Online),
		nullableTime(n.LastSeenAt),
		configJSON,
		metadataJSON,
		database.FormatTime(n.CreatedAt),
		database.FormatTime(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting node: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNodeExists
	}
	return nil
}

// markSeenSQL advances last_seen_at monotonically (fixed-width timestamps
// compare lexically) and upgrades node_type only from unknown.
const markSeenSQL = `
	UPDATE nodes SET
		online = 1,
		last_seen_at = MAX(COALESCE(last_seen_at, ''), ?),
		mac_address = COALESCE(?, mac_address),
		metadata = json_patch(metadata, ?),
		node_type = CASE WHEN node_type = 'unknown' THEN ? ELSE node_type END,
		updated_at = ?
	WHERE node_id = ?`

// MarkSeen records contact with an existing node.
func (r *SQLiteRepository) MarkSeen(ctx context.Context, id string, seen Seen) (bool, error) {
	patch, err := marshalDocument(seen.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshalling metadata: %w", err)
	}
	t := seen.Type
	if !t.Known() {
		t = TypeUnknown
	}
	ts := database.FormatTime(seen.At)
	args := []any{ts, nullableString(seen.MACAddress), patch, string(t), database.FormatTime(time.Now()), id}

	// The first statement only matches a node cached as offline, so exactly
	// one concurrent writer observes the offline -> online flip.
	flipped, err := r.execCount(ctx, markSeenSQL+` AND online = 0`, args...)
	if err != nil {
		return false, fmt.Errorf("updating node: %w", err)
	}
	if flipped == 1 {
		return true, nil
	}

	n, err := r.execCount(ctx, markSeenSQL, args...)
	if err != nil {
		return false, fmt.Errorf("updating node: %w", err)
	}
	if n == 0 {
		return false, ErrNodeNotFound
	}
	return false, nil
}

// SetOnline writes the cached flag if it differs from online. The
// last_seen_at guard makes the write a no-op when a heartbeat lands between
// the caller's read and this update.
func (r *SQLiteRepository) SetOnline(ctx context.Context, id string, online bool, cutoff, at time.Time) (bool, error) {
	seenGuard := `(last_seen_at IS NULL OR last_seen_at <= ?)`
	if online {
		seenGuard = `last_seen_at > ?`
	}
	n, err := r.execCount(ctx, `
		UPDATE nodes SET online = ?, updated_at = ?
		WHERE node_id = ? AND online = ? AND `+seenGuard,
		boolToInt(online), database.FormatTime(at), id, boolToInt(!online), database.FormatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("updating node online flag: %w", err)
	}
	return n == 1, nil
}

// ReplaceConfig stores a reported configuration and refreshes last_seen_at.
func (r *SQLiteRepository) ReplaceConfig(ctx context.Context, id string, config Document, at time.Time) error {
	configJSON, err := marshalDocument(config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	ts := database.FormatTime(at)
	n, err := r.execCount(ctx, `
		UPDATE nodes SET
			config = ?,
			last_seen_at = MAX(COALESCE(last_seen_at, ''), ?),
			updated_at = ?
		WHERE node_id = ?`,
		configJSON, ts, ts, id,
	)
	if err != nil {
		return fmt.Errorf("updating node config: %w", err)
	}
	if n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

func (r *SQLiteRepository) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(scanner rowScanner) (*Node, error) {
	var n Node
	var nodeType, configJSON, metadataJSON, createdAt, updatedAt string
	var mac, lastSeen sql.NullString
	var online int

	err := scanner.Scan(
		&n.ID,
		&nodeType,
		&n.Zone,
		&mac,
		&online,
		&lastSeen,
		&configJSON,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = Type(nodeType)
	n.MACAddress = mac.String
	n.Online = online != 0

	if lastSeen.Valid && lastSeen.String != "" {
		t, err := database.ParseTime(lastSeen.String)
		if err != nil {
			return nil, err
		}
		n.LastSeenAt = &t
	}
	if n.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &n.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &n.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	return &n, nil
}

func marshalDocument(d Document) (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: database.FormatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
