// Package store keeps the history of engine runs in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/najoast/lifegrid/report"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

var (
	// ErrNotFound is returned when no run has the requested id
	ErrNotFound = errors.New("run not found")

	// ErrAlreadyExists is returned when a run id is recorded twice
	ErrAlreadyExists = errors.New("run already exists")
)

// Store persists run results in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the run history at path and creates its tables.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordRun inserts one run together with its per-size reports.
func (s *Store) RecordRun(ctx context.Context, r report.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(r.RequestID) == "" {
		return fmt.Errorf("request id is required")
	}
	recordedAt := r.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errorMessage sql.NullString
	if r.ErrorMessage != nil {
		errorMessage = sql.NullString{String: *r.ErrorMessage, Valid: true}
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs (
		   request_id,
		   client_id,
		   engine,
		   powmin,
		   powmax,
		   start_time,
		   end_time,
		   duration_ms,
		   status,
		   error_message,
		   num_generations,
		   board_size,
		   host_node,
		   num_clients_active,
		   recorded_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID,
		r.ClientID,
		r.Engine,
		r.PowMin,
		r.PowMax,
		toMillis(r.StartTime),
		toMillis(r.EndTime),
		r.DurationMS,
		r.Status,
		errorMessage,
		r.NumGenerations,
		r.BoardSize,
		r.HostNode,
		r.NumClientsActive,
		toMillis(recordedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}

	for _, rep := range r.Sizes {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO run_sizes (
			   request_id, size, ranks, generations, init_ns, compute_ns, total_ns, census, status
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RequestID,
			rep.Size,
			rep.Ranks,
			rep.Generations,
			int64(rep.Init),
			int64(rep.Compute),
			int64(rep.Total),
			rep.Census,
			string(rep.Status),
		)
		if err != nil {
			return fmt.Errorf("insert run size %d: %w", rep.Size, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun returns one run by request id.
func (s *Store) GetRun(ctx context.Context, requestID string) (report.Result, error) {
	if err := ctx.Err(); err != nil {
		return report.Result{}, err
	}
	if s == nil || s.sqlDB == nil {
		return report.Result{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, selectRuns+` WHERE request_id = ?`, requestID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Result{}, ErrNotFound
	}
	if err != nil {
		return report.Result{}, fmt.Errorf("get run: %w", err)
	}
	if r.Sizes, err = s.sizes(ctx, r.RequestID); err != nil {
		return report.Result{}, err
	}
	return r, nil
}

// ListRuns returns up to limit runs, most recent first. A limit of zero
// or less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]report.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(ctx, selectRuns+` ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []report.Result
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		if runs[i].Sizes, err = s.sizes(ctx, runs[i].RequestID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// CountRuns returns how many runs finished with status.
func (s *Store) CountRuns(ctx context.Context, status string) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var n int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

const selectRuns = `SELECT
   request_id, client_id, engine, powmin, powmax, start_time, end_time,
   duration_ms, status, error_message, num_generations, board_size,
   host_node, num_clients_active, recorded_at
 FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (report.Result, error) {
	var (
		r                      report.Result
		start, end, recordedAt int64
		errorMessage           sql.NullString
	)
	err := row.Scan(
		&r.RequestID,
		&r.ClientID,
		&r.Engine,
		&r.PowMin,
		&r.PowMax,
		&start,
		&end,
		&r.DurationMS,
		&r.Status,
		&errorMessage,
		&r.NumGenerations,
		&r.BoardSize,
		&r.HostNode,
		&r.NumClientsActive,
		&recordedAt,
	)
	if err != nil {
		return report.Result{}, err
	}
	r.StartTime = fromMillis(start)
	r.EndTime = fromMillis(end)
	r.Timestamp = fromMillis(recordedAt)
	if errorMessage.Valid {
		msg := errorMessage.String
		r.ErrorMessage = &msg
	}
	return r, nil
}

func (s *Store) sizes(ctx context.Context, requestID string) ([]report.SizeReport, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT size, ranks, generations, init_ns, compute_ns, total_ns, census, status
		 FROM run_sizes WHERE request_id = ? ORDER BY size`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run sizes: %w", err)
	}
	defer rows.Close()

	var sizes []report.SizeReport
	for rows.Next() {
		var (
			rep                   report.SizeReport
			initNS, compNS, total int64
			status                string
		)
		if err := rows.Scan(&rep.Size, &rep.Ranks, &rep.Generations, &initNS, &compNS, &total, &rep.Census, &status); err != nil {
			return nil, fmt.Errorf("scan run size: %w", err)
		}
		rep.Init = time.Duration(initNS)
		rep.Compute = time.Duration(compNS)
		rep.Total = time.Duration(total)
		rep.Status = report.Status(status)
		sizes = append(sizes, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run sizes: %w", err)
	}
	return sizes, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
