// Package journal records reconciliation runs and their actions in a
// local SQLite database. The journal is an audit trail only: the
// reconciler never reads it to decide what to do, so deleting the
// database loses history but never correctness.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one recorded reconciliation run.
type Run struct {
	// ID is the run identifier.
	ID string `json:"id"`

	// Command is the CLI command that produced the run (apply, destroy).
	Command string `json:"command"`

	// Status is running, succeeded, or failed.
	Status string `json:"status"`

	// Creates, Updates and Destroys are the plan's action counts.
	Creates  int `json:"creates"`
	Updates  int `json:"updates"`
	Destroys int `json:"destroys"`

	// Error is the run error message, empty on success.
	Error string `json:"error,omitempty"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ActionRecord is one recorded plan action.
type ActionRecord struct {
	// RunID is the run the action belongs to.
	RunID string `json:"run_id"`

	// Op, Kind and Name identify the action.
	Op   string `json:"op"`
	Kind string `json:"kind"`
	Name string `json:"name"`

	// Status is succeeded, failed, or skipped.
	Status string `json:"status"`

	// Error is the action error message, empty unless failed.
	Error string `json:"error,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration"`

	// ExecutedAt is when the action finished.
	ExecutedAt time.Time `json:"executed_at"`
}

// Journal is a SQLite-backed run journal.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the journal database at path and
// runs pending migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// A CLI process holds at most one writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// migrate applies pending schema migrations from the embedded source.
func (j *Journal) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// RecordRun inserts a new run in the running state.
func (j *Journal) RecordRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, command, status, creates, updates, destroys, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		run.ID,
		run.Command,
		run.Status,
		run.Creates,
		run.Updates,
		run.Destroys,
		run.Error,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with the given status and error.
func (j *Journal) CompleteRun(ctx context.Context, id, status, errMsg string) error {
	query := `
		UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?
	`
	res, err := j.db.ExecContext(ctx, query, status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// RecordAction inserts one executed action.
func (j *Journal) RecordAction(ctx context.Context, rec *ActionRecord) error {
	query := `
		INSERT INTO actions (run_id, op, kind, name, status, error, duration_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Op,
		rec.Kind,
		rec.Name,
		rec.Status,
		rec.Error,
		rec.Duration.Milliseconds(),
		rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recent first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, command, status, creates, updates, destroys, error, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var errMsg sql.NullString
		var completed sql.NullTime
		err := rows.Scan(
			&run.ID,
			&run.Command,
			&run.Status,
			&run.Creates,
			&run.Updates,
			&run.Destroys,
			&errMsg,
			&run.StartedAt,
			&completed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Error = errMsg.String
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListActions returns the actions of one run in execution order.
func (j *Journal) ListActions(ctx context.Context, runID string) ([]*ActionRecord, error) {
	query := `
		SELECT run_id, op, kind, name, status, error, duration_ms, executed_at
		FROM actions
		WHERE run_id = ?
		ORDER BY id
	`
	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var recs []*ActionRecord
	for rows.Next() {
		rec := &ActionRecord{}
		var errMsg sql.NullString
		var durationMS int64
		err := rows.Scan(
			&rec.RunID,
			&rec.Op,
			&rec.Kind,
			&rec.Name,
			&rec.Status,
			&errMsg,
			&durationMS,
			&rec.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Error = errMsg.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
