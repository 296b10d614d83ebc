package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
)

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one journaled notification.
type Entry struct {
	Seq        int64     `json:"seq"`
	RecordedAt time.Time `json:"recorded_at"`
	graph.Event
}

// Filter selects entries for List. Zero values match everything.
type Filter struct {
	Type  graph.EventType
	Since time.Time
	// Limit defaults to 50 and is capped at 500.
	Limit  int
	Offset int
}

// ListResult is a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries journaled notifications.
type Repository interface {
	Append(ctx context.Context, entries []Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteRepository reads and writes the graph_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts entries in one transaction, in order.
func (r *SQLiteRepository) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO graph_events
		(recorded_at, type, group_id, port_id, connection_id, source_port_id, destination_port_id, name, direction, medium)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		at := e.RecordedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			at.UTC().Format(timeLayout), string(e.Type),
			nullableInt(e.GroupID), nullableInt(e.PortID), nullableInt(e.ConnectionID),
			nullableInt(e.SourcePortID), nullableInt(e.DestinationPortID),
			nullableString(e.Name), nullableString(string(e.Direction)), nullableString(string(e.Medium)),
		); err != nil {
			return fmt.Errorf("inserting history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}
	return nil
}

// nullableInt stores zero ids as NULL; ids start at 1.
func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	filter.Limit = min(filter.Limit, maxLimit)
	filter.Offset = max(filter.Offset, 0)

	var conditions []string
	var args []any
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM graph_events " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting history: %w", err)
	}

	query := `SELECT seq, recorded_at, type, group_id, port_id, connection_id,
		source_port_id, destination_port_id, name, direction, medium
		FROM graph_events ` + where + ` ORDER BY seq DESC LIMIT ? OFFSET ?` //nolint:gosec // See above
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                       Entry
		recordedAt, typ         string
		groupID, portID, connID sql.NullInt64
		srcID, dstID            sql.NullInt64
		name, direction, medium sql.NullString
	)
	if err := rows.Scan(&e.Seq, &recordedAt, &typ, &groupID, &portID, &connID,
		&srcID, &dstID, &name, &direction, &medium); err != nil {
		return Entry{}, fmt.Errorf("scanning history entry: %w", err)
	}

	at, err := time.Parse(timeLayout, recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing history timestamp %q: %w", recordedAt, err)
	}
	e.RecordedAt = at
	e.Type = graph.EventType(typ)
	e.GroupID = int(groupID.Int64)
	e.PortID = int(portID.Int64)
	e.ConnectionID = int(connID.Int64)
	e.SourcePortID = int(srcID.Int64)
	e.DestinationPortID = int(dstID.Int64)
	e.Name = name.String
	e.Direction = graph.Direction(direction.String)
	e.Medium = graph.Medium(medium.String)
	return e, nil
}

// Prune deletes entries recorded before olderThan and returns how many.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM graph_events WHERE recorded_at < ?",
		olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return n, nil
}
