package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/media"
	"github.com/cuemby/modlog/pkg/types"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	operator TEXT NOT NULL,
	duration TEXT,
	"group" TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_subject ON logs (subject);
`

const logColumns = `id, subject, action, reason, operator, duration, "group", timestamp`

// columns maps addressable fields to SQL column names
var columns = map[types.Field]string{
	types.FieldID:       "id",
	types.FieldSubject:  "subject",
	types.FieldAction:   "action",
	types.FieldReason:   "reason",
	types.FieldOperator: "operator",
	types.FieldDuration: "duration",
	types.FieldGroup:    `"group"`,
	types.FieldTime:     "timestamp",
}

// SQLiteStore implements LogStore on a single SQLite file in WAL mode
type SQLiteStore struct {
	db    *sql.DB
	path  string
	media media.Store
}

// NewSQLiteStore opens or creates the log database at path
func NewSQLiteStore(path string, m media.Store) (*SQLiteStore, error) {
	if path == "" {
		path = "modlog.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create logs table: %w", err)
	}

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		db.Close()
		return nil, fmt.Errorf("read journal mode: %w", err)
	}
	logger := log.WithComponent("storage")
	logger.Debug().Str("path", path).Str("journal_mode", mode).Msg("Log store opened")

	return &SQLiteStore{db: db, path: path, media: m}, nil
}

// dsn enables WAL with NORMAL sync for every pooled connection. Write
// transactions take the lock up front so readers never upgrade mid-way.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts entry and stores its images under the new id
func (s *SQLiteStore) Create(ctx context.Context, entry *types.LogEntry, images map[int][]byte) (id int64, err error) {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("create", 0, err)
	}
	defer rollbackOnErr(tx, &err)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO logs (subject, action, reason, operator, duration, "group", timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Subject, string(entry.Action), entry.Reason, entry.Operator,
		nullable(entry.Duration), entry.Group, ts.Format(types.TimeLayout))
	if err != nil {
		return 0, storageErr("create", 0, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, storageErr("create", 0, err)
	}

	// Replace also clears leftovers from an earlier record with a reused id
	if s.media != nil {
		if err = s.media.Replace(id, images); err != nil {
			return 0, &types.StorageError{Op: "create", ID: id, Kind: types.StorageRollback, Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		if s.media != nil {
			s.media.Delete(id)
		}
		return 0, storageErr("create", id, err)
	}
	return id, nil
}

// Get reads one entry, optionally with its media paths
func (s *SQLiteStore) Get(ctx context.Context, id int64, withMedia bool) (*types.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM logs WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get", id)
	}
	if err != nil {
		return nil, storageErr("get", id, err)
	}
	if withMedia {
		if err := s.attachMedia(entry); err != nil {
			return nil, storageErr("get", id, err)
		}
	}
	return entry, nil
}

// Update sets a single field. The value is trusted to be normalized.
func (s *SQLiteStore) Update(ctx context.Context, id int64, field types.Field, value *string) error {
	return s.UpdateFields(ctx, id, map[types.Field]*string{field: value})
}

// UpdateFields sets several fields of one entry in a single transaction
func (s *SQLiteStore) UpdateFields(ctx context.Context, id int64, changes map[types.Field]*string) (err error) {
	if len(changes) == 0 {
		return nil
	}

	sets := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes)+1)
	for _, field := range types.Fields {
		value, ok := changes[field]
		if !ok {
			continue
		}
		col, known := columns[field]
		if !known || field == types.FieldID {
			return &types.StorageError{Op: "update", ID: id, Kind: types.StorageConstraint,
				Err: fmt.Errorf("field %s cannot be updated in place", field)}
		}
		sets = append(sets, col+" = ?")
		if value == nil {
			args = append(args, nil)
		} else {
			args = append(args, *value)
		}
	}
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("update", id, err)
	}
	defer rollbackOnErr(tx, &err)

	res, err := tx.ExecContext(ctx, `UPDATE logs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storageErr("update", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = notFound("update", id)
		return err
	}
	if err = tx.Commit(); err != nil {
		return storageErr("update", id, err)
	}
	return nil
}

// Delete removes the entry and its media. When id was the highest, the
// sequence is lowered to the new maximum so the next create reuses the gap.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete", id, err)
	}
	defer rollbackOnErr(tx, &err)

	res, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = notFound("delete", id)
		return err
	}
	if err = resetSequence(ctx, tx, id); err != nil {
		return storageErr("delete", id, err)
	}

	if s.media != nil {
		if err = s.media.Delete(id); err != nil {
			return &types.StorageError{Op: "delete", ID: id, Kind: types.StorageRollback, Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		return storageErr("delete", id, err)
	}
	return nil
}

// Renumber moves an entry and its media from oldID to newID. Any failure
// leaves the row, the media and the sequence as they were.
func (s *SQLiteStore) Renumber(ctx context.Context, oldID, newID int64) (err error) {
	if newID <= 0 {
		return &types.StorageError{Op: "renumber", ID: oldID, Kind: types.StorageConstraint,
			Err: fmt.Errorf("invalid id %d", newID)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("renumber", oldID, err)
	}
	defer rollbackOnErr(tx, &err)

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE id = ?`, oldID).Scan(&exists); err != nil {
		return storageErr("renumber", oldID, err)
	}
	if exists == 0 {
		err = notFound("renumber", oldID)
		return err
	}
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE id = ?`, newID).Scan(&exists); err != nil {
		return storageErr("renumber", oldID, err)
	}
	if exists > 0 {
		err = &types.StorageError{Op: "renumber", ID: newID, Kind: types.StorageExists, Err: types.ErrIDExists}
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE logs SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		return storageErr("renumber", oldID, err)
	}
	if err = resetSequence(ctx, tx, oldID); err != nil {
		return storageErr("renumber", oldID, err)
	}

	if s.media != nil {
		if err = s.media.Rename(oldID, newID); err != nil {
			return &types.StorageError{Op: "renumber", ID: oldID, Kind: types.StorageRollback, Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		if s.media != nil {
			if rerr := s.media.Rename(newID, oldID); rerr != nil {
				logger := log.WithComponent("storage")
				logger.Error().Err(rerr).Int64("log_id", newID).Msg("Failed to restore media after commit failure")
			}
		}
		return storageErr("renumber", oldID, err)
	}
	return nil
}

// ReplaceMedia swaps the images of an existing entry
func (s *SQLiteStore) ReplaceMedia(ctx context.Context, id int64, images map[int][]byte) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE id = ?`, id).Scan(&exists); err != nil {
		return storageErr("replace_media", id, err)
	}
	if exists == 0 {
		return notFound("replace_media", id)
	}
	if s.media == nil {
		return nil
	}
	if err := s.media.Replace(id, images); err != nil {
		return &types.StorageError{Op: "replace_media", ID: id, Kind: types.StorageIO, Err: err}
	}
	return nil
}

// Query returns up to limit entries where field matches value, newest first
func (s *SQLiteStore) Query(ctx context.Context, field types.Field, value string, mode types.MatchMode, limit int) ([]*types.LogEntry, error) {
	where, err := matchClause(field, mode)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM logs WHERE `+where+` ORDER BY id DESC LIMIT ?`, value, limit)
	if err != nil {
		return nil, storageErr("query", 0, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.LogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("query", 0, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query", 0, err)
	}

	for _, entry := range out {
		if err := s.attachMedia(entry); err != nil {
			return nil, storageErr("query", entry.ID, err)
		}
	}
	return out, nil
}

// Count returns the number of entries where field matches value
func (s *SQLiteStore) Count(ctx context.Context, field types.Field, value string, mode types.MatchMode) (int, error) {
	where, err := matchClause(field, mode)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE `+where, value).Scan(&n); err != nil {
		return 0, storageErr("count", 0, err)
	}
	return n, nil
}

// CountAndRisk summarizes the history of one subject identity. Entries are
// scored in time order; the n-th entry of the history uses its action's
// weight for position n.
func (s *SQLiteStore) CountAndRisk(ctx context.Context, subjectID string, style *config.Style) (*types.RiskSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action FROM logs WHERE subject = ?1 OR subject LIKE ?1 || ?2 ORDER BY timestamp ASC, id ASC`,
		subjectID, types.AnnotationOpen+"%")
	if err != nil {
		return nil, storageErr("count_risk", 0, err)
	}
	defer func() { _ = rows.Close() }()

	summary := &types.RiskSummary{Subject: subjectID, State: types.StateAlive}
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, storageErr("count_risk", 0, err)
		}
		a := types.Action(action)
		summary.Count++

		if style != nil {
			if w, ok := style.Weight(a, summary.Count); ok {
				summary.Risk += w
			}
		}

		switch {
		case a == types.ActionBan:
			summary.State = types.StateBanned
		case a == types.ActionKick && summary.State == types.StateAlive:
			summary.State = types.StateKicked
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("count_risk", 0, err)
	}
	return summary, nil
}

// NthID returns the n-th newest id for n > 0, the |n|-th oldest for n < 0
// and the newest for n == 0
func (s *SQLiteStore) NthID(ctx context.Context, n int) (int64, error) {
	var row *sql.Row
	switch {
	case n > 0:
		row = s.db.QueryRowContext(ctx, `SELECT id FROM logs ORDER BY id DESC LIMIT 1 OFFSET ?`, n-1)
	case n < 0:
		row = s.db.QueryRowContext(ctx, `SELECT id FROM logs ORDER BY id ASC LIMIT 1 OFFSET ?`, -n-1)
	default:
		row = s.db.QueryRowContext(ctx, `SELECT id FROM logs ORDER BY id DESC LIMIT 1`)
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("nth", 0)
		}
		return 0, storageErr("nth", 0, err)
	}
	return id, nil
}

// Total returns the number of entries
func (s *SQLiteStore) Total(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, storageErr("total", 0, err)
	}
	return n, nil
}

func (s *SQLiteStore) attachMedia(entry *types.LogEntry) error {
	if s.media == nil {
		entry.Images = map[int]string{}
		return nil
	}
	images, err := s.media.List(entry.ID)
	if err != nil {
		return err
	}
	entry.Images = images
	return nil
}

// resetSequence lowers the AUTOINCREMENT counter to the current maximum when
// removed was above it
func resetSequence(ctx context.Context, tx *sql.Tx, removed int64) error {
	var maxID int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM logs`).Scan(&maxID); err != nil {
		return err
	}
	if removed > maxID {
		if _, err := tx.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = 'logs'`, maxID); err != nil {
			return err
		}
	}
	return nil
}

func matchClause(field types.Field, mode types.MatchMode) (string, error) {
	col, ok := columns[field]
	if !ok {
		return "", &types.StorageError{Op: "query", Kind: types.StorageConstraint,
			Err: fmt.Errorf("field %s is not searchable", field)}
	}
	switch mode {
	case types.MatchPrefix:
		return col + ` LIKE ? || '%'`, nil
	case types.MatchContains:
		return col + ` LIKE '%' || ? || '%'`, nil
	case types.MatchExact:
		return col + ` = ?`, nil
	default:
		return "", &types.StorageError{Op: "query", Kind: types.StorageConstraint,
			Err: fmt.Errorf("unknown match mode %d", mode)}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*types.LogEntry, error) {
	var (
		e         types.LogEntry
		action    string
		operator  sql.NullString
		duration  sql.NullString
		timestamp string
	)
	if err := row.Scan(&e.ID, &e.Subject, &action, &e.Reason, &operator, &duration, &e.Group, &timestamp); err != nil {
		return nil, err
	}
	e.Action = types.Action(action)
	e.Operator = operator.String
	e.Duration = duration.String
	ts, err := parseTimestamp(timestamp)
	if err != nil {
		return nil, fmt.Errorf("log %d: %w", e.ID, err)
	}
	e.Timestamp = ts
	return &e, nil
}

// parseTimestamp accepts the stored layout and the RFC 3339 form some
// drivers return for TIMESTAMP columns in imported databases
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(types.TimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(time.Local), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rollbackOnErr(tx *sql.Tx, err *error) {
	if *err != nil {
		_ = tx.Rollback()
	}
}

func notFound(op string, id int64) error {
	return &types.StorageError{Op: op, ID: id, Kind: types.StorageNotFound, Err: types.ErrNotFound}
}

func storageErr(op string, id int64, err error) error {
	var se *types.StorageError
	if errors.As(err, &se) {
		return err
	}
	kind := types.StorageIO
	if strings.Contains(err.Error(), "constraint") {
		kind = types.StorageConstraint
	}
	return &types.StorageError{Op: op, ID: id, Kind: kind, Err: err}
}

// Import inserts entries keeping their ids, in one transaction, and moves
// the sequence past the highest imported id. Media is not touched. An id
// that already exists fails the whole import.
func (s *SQLiteStore) Import(ctx context.Context, entries []*types.LogEntry) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("import", 0, err)
	}
	defer rollbackOnErr(tx, &err)

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO logs (`+logColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, storageErr("import", 0, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err = stmt.ExecContext(ctx, e.ID, e.Subject, string(e.Action), e.Reason, e.Operator,
			nullable(e.Duration), e.Group, ts.Format(types.TimeLayout)); err != nil {
			return 0, storageErr("import", e.ID, err)
		}
		n++
	}

	if err = tx.Commit(); err != nil {
		return 0, storageErr("import", 0, err)
	}
	return n, nil
}
