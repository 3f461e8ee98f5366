package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/owfs-core/internal/service"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// Fixed-width UTC timestamps so recorded_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one journal row.
type Entry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Server     string    `json:"server,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	Family     string    `json:"family,omitempty"`
	Attribute  string    `json:"attribute,omitempty"`
	Value      string    `json:"value,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EntryFromEvent flattens an event into a journal entry. Fields the event
// does not carry stay empty.
func EntryFromEvent(ev service.Event) Entry {
	e := Entry{Kind: string(ev.Kind())}
	switch ev := ev.(type) {
	case service.ServerRegistered:
		e.Server = ev.Server.Addr().String()
	case service.ServerDeregistered:
		e.Server = ev.Server.Addr().String()
	case service.DeviceAdded:
		e.DeviceID, e.Family = ev.Device.ID(), ev.Device.Family()
	case service.DeviceDeleted:
		e.DeviceID, e.Family = ev.Device.ID(), ev.Device.Family()
	case service.DeviceLocated:
		e.DeviceID, e.Family = ev.Device.ID(), ev.Device.Family()
		e.Server = ev.Server.Addr().String()
	case service.DeviceNotFound:
		e.DeviceID, e.Family = ev.Device.ID(), ev.Device.Family()
	case service.DeviceValue:
		e.DeviceID, e.Family = ev.Device.ID(), ev.Device.Family()
		e.Attribute, e.Value = ev.Attribute, ev.Value
		e.RecordedAt = ev.At
	}
	return e
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	Kind     string
	DeviceID string
	Since    time.Time
	Limit    int // default 50, max 500
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries journal entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the event_journal table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e, filling ID and RecordedAt when they are empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()[:8]
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_journal (id, kind, server, device_id, family, attribute, value, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind,
		nullable(e.Server), nullable(e.DeviceID), nullable(e.Family),
		nullable(e.Attribute), nullable(e.Value),
		e.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit = min(filter.Limit, maxLimit)
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	filter.Offset = max(filter.Offset, 0)

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
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
	countQuery := "SELECT COUNT(*) FROM event_journal " + where //nolint:gosec // WHERE built from fixed, parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, kind, server, device_id, family, attribute, value, recorded_at FROM event_journal " + //nolint:gosec // as above
		where + " ORDER BY recorded_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var srv, dev, fam, attr, val sql.NullString
		var at string
		if err := rows.Scan(&e.ID, &e.Kind, &srv, &dev, &fam, &attr, &val, &at); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Server, e.DeviceID, e.Family = srv.String, dev.String, fam.String
		e.Attribute, e.Value = attr.String, val.String
		if e.RecordedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", at, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Prune deletes entries recorded before the cutoff and reports how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM event_journal WHERE recorded_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
