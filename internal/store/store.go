// Package store persists base events in SQLite. Generated instances are
// never stored.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"plancal/internal/model"
)

var (
	ErrNotFound    = errors.New("store: event not found")
	ErrInstance    = errors.New("store: generated instances cannot be stored")
	ErrInvalidSpan = errors.New("store: event ends before it starts")
)

// timeLayout is fixed width so stored UTC values sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store provides SQLite-backed persistence for base events.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	PlanType string
	Project  string
	Kind     model.Kind
	SourceID string
	// From/To prefilter by window: non-recurring events must overlap it,
	// recurring events only need to start before To.
	From *time.Time
	To   *time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("open store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db)
}

// New returns a Store bound to an existing, migrated database handle.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts ev, assigning a random ID when it has none.
func (s *Store) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	if err := validate(ev); err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if err := insert(ctx, s.db, ev, s.now()); err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

// Get returns the stored event with the given ID.
func (s *Store) Get(ctx context.Context, id string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, ErrNotFound
		}
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// Update replaces every field of an existing event.
func (s *Store) Update(ctx context.Context, ev model.Event) error {
	if err := validate(ev); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	args := append(values(ev), s.now().UTC().Format(timeLayout), ev.ID)
	res, err := s.db.ExecContext(ctx, `UPDATE events SET
		title = ?, description = ?, kind = ?, plan_type = ?, project = ?, color = ?, status = ?, priority = ?,
		start_at = ?, end_at = ?, tz = ?, all_day = ?, freq = ?, step = ?, until_at = ?, source_id = ?, uid = ?,
		updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return expectOne(res, "update event")
}

// Reschedule moves an event to span, keeping everything else.
func (s *Store) Reschedule(ctx context.Context, id string, span model.Span) error {
	if span.End.Before(span.Start) {
		return fmt.Errorf("reschedule event: %w", ErrInvalidSpan)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET start_at = ?, end_at = ?, tz = ?, updated_at = ? WHERE id = ?`,
		formatTime(span.Start), formatTime(span.End), span.Start.Location().String(),
		s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("reschedule event: %w", err)
	}
	return expectOne(res, "reschedule event")
}

// Delete removes an event.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return expectOne(res, "delete event")
}

// List returns base events matching f, ordered by start.
func (s *Store) List(ctx context.Context, f Filter) ([]model.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.PlanType != "" {
		where = append(where, "plan_type = ?")
		args = append(args, f.PlanType)
	}
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.To != nil {
		where = append(where, "start_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.From != nil {
		where = append(where, "(freq IS NOT NULL OR end_at >= ?)")
		args = append(args, formatTime(*f.From))
	}

	q := `SELECT ` + columns + ` FROM events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY start_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: scan: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// ReplaceSource atomically swaps every event imported from sourceID for
// events. Events are stamped with sourceID.
func (s *Store) ReplaceSource(ctx context.Context, sourceID string, events []model.Event) error {
	if sourceID == "" {
		return fmt.Errorf("replace source: source id is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace source: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("replace source: delete: %w", err)
	}
	now := s.now()
	for _, ev := range events {
		ev.SourceID = sourceID
		if err := validate(ev); err != nil {
			return fmt.Errorf("replace source: event %s: %w", ev.ID, err)
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if err := insert(ctx, tx, ev, now); err != nil {
			return fmt.Errorf("replace source: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace source: commit transaction: %w", err)
	}
	return nil
}

const columns = `id, title, description, kind, plan_type, project, color, status, priority,
	start_at, end_at, tz, all_day, freq, step, until_at, source_id, uid`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, ev model.Event, now time.Time) error {
	ts := now.UTC().Format(timeLayout)
	args := append([]any{ev.ID}, values(ev)...)
	args = append(args, ts, ts)
	_, err := db.ExecContext(ctx, `INSERT INTO events (`+columns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// values returns the column values after id, in columns order.
func values(ev model.Event) []any {
	var freq, step, until any
	if ev.Rule != nil {
		freq = string(ev.Rule.Freq)
		step = ev.Rule.Interval
		if ev.Rule.Until != nil {
			until = formatTime(*ev.Rule.Until)
		}
	}
	allDay := 0
	if ev.AllDay {
		allDay = 1
	}
	return []any{
		ev.Title, ev.Description, string(model.ParseKind(string(ev.Kind))), ev.PlanType, ev.Project,
		ev.Color, ev.Status, ev.Priority,
		formatTime(ev.Start), formatTime(ev.End), ev.Start.Location().String(), allDay,
		freq, step, until, ev.SourceID, ev.UID,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		ev                 model.Event
		kind, startS, endS string
		tz                 string
		allDay             int
		freq, until        sql.NullString
		step               sql.NullInt64
	)
	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &kind, &ev.PlanType, &ev.Project, &ev.Color,
		&ev.Status, &ev.Priority, &startS, &endS, &tz, &allDay, &freq, &step, &until, &ev.SourceID, &ev.UID)
	if err != nil {
		return model.Event{}, err
	}

	loc := location(tz)
	ev.Kind = model.ParseKind(kind)
	ev.AllDay = allDay != 0
	if ev.Start, err = parseTime(startS, loc); err != nil {
		return model.Event{}, fmt.Errorf("parse start_at: %w", err)
	}
	if ev.End, err = parseTime(endS, loc); err != nil {
		return model.Event{}, fmt.Errorf("parse end_at: %w", err)
	}
	if freq.Valid {
		rule := &model.RecurrenceRule{Freq: model.Frequency(freq.String), Interval: int(step.Int64)}
		if until.Valid {
			u, err := parseTime(until.String, loc)
			if err != nil {
				return model.Event{}, fmt.Errorf("parse until_at: %w", err)
			}
			rule.Until = &u
		}
		ev.Rule = rule
	}
	return ev, nil
}

func validate(ev model.Event) error {
	if ev.Instance != nil {
		return ErrInstance
	}
	if ev.End.Before(ev.Start) {
		return ErrInvalidSpan
	}
	return nil
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

var locations sync.Map

func location(name string) *time.Location {
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}
