package vallog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS val_log (
	run_id      TEXT PRIMARY KEY,
	experiment  TEXT NOT NULL,
	epoch       INTEGER NOT NULL,
	miou        REAL NOT NULL,
	pixel_acc   REAL NOT NULL,
	batches     INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS val_log_experiment_epoch ON val_log (experiment, epoch);
`

// timeLayout keeps a fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite stores records in a val_log table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.  ":memory:"
// gives a private in-memory store.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Write(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO val_log (run_id, experiment, epoch, miou, pixel_acc, batches, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Experiment,
		rec.Epoch,
		rec.MeanIoU,
		rec.PixelAcc,
		rec.Batches,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log validation: %w", err)
	}
	return nil
}

const selectColumns = `SELECT run_id, experiment, epoch, miou, pixel_acc, batches, created_at FROM val_log`

// List returns records newest first.
func (s *SQLite) List(ctx context.Context, q Query) ([]Record, error) {
	query := selectColumns
	var args []any
	if q.Experiment != "" {
		query += ` WHERE experiment = ?`
		args = append(args, q.Experiment)
	}
	query += ` ORDER BY created_at DESC, epoch DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Latest returns the most recent record for epoch, optionally restricted to
// one experiment.
func (s *SQLite) Latest(ctx context.Context, experiment string, epoch int) (Record, error) {
	query := selectColumns + ` WHERE epoch = ?`
	args := []any{epoch}
	if experiment != "" {
		query += ` AND experiment = ?`
		args = append(args, experiment)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: epoch %d", ErrNotFound, epoch)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec     Record
		created string
	)
	if err := row.Scan(&rec.RunID, &rec.Experiment, &rec.Epoch, &rec.MeanIoU, &rec.PixelAcc, &rec.Batches, &created); err != nil {
		return Record{}, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	rec.CreatedAt = t
	return rec, nil
}
