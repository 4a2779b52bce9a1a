package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event kinds stored in the journal.
const (
	EventKindProximity = "proximity"
	EventKindLock      = "lock"
	EventKindSystem    = "system"
)

// Event is one row of the append-only event journal.
type Event struct {
	// ID is a UUID assigned at insert time.
	ID string

	// Kind is one of the EventKind constants.
	Kind string

	// State is the resulting state, e.g. "close", "far", "locked",
	// "unlocked", "started".
	State string

	// DistanceFeet and RSSI carry detection measurements for
	// proximity events. Nil for other kinds.
	DistanceFeet *float64
	RSSI         *int

	// Detail is free-form context, e.g. "auto_relock" or an error
	// summary.
	Detail string

	CreatedAt time.Time
}

// RecordEvent appends an event to the journal and returns its ID.
func (db *DB) RecordEvent(ctx context.Context, e Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, kind, state, distance_feet, rssi, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.State, e.DistanceFeet, e.RSSI, e.Detail,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("recording %s event: %w", e.Kind, err)
	}
	return e.ID, nil
}

// RecentEvents returns the newest events of the given kind, most recent
// first. An empty kind returns events of every kind.
func (db *DB) RecentEvents(ctx context.Context, kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, state, distance_feet, rssi, detail, created_at
		FROM events`
	args := []interface{}{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.State, &e.DistanceFeet, &e.RSSI, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// PruneEvents deletes journal rows older than the cutoff. Returns the
// number of rows removed.
func (db *DB) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		"DELETE FROM events WHERE created_at < ?",
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned events: %w", err)
	}
	return n, nil
}
