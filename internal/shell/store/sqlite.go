package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed width so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One connection keeps ":memory:" databases intact across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.PublishRun) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status domain.RunStatus, message string, finishedAt time.Time) error {
	return finishRun(ctx, s.db, id, status, message, finishedAt)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.PublishRun, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.PublishRun, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) RecordStage(ctx context.Context, stage *domain.StageRecord) error {
	return recordStage(ctx, s.db, stage)
}

func (s *SQLiteStore) ListStages(ctx context.Context, runID string) ([]domain.StageRecord, error) {
	return listStages(ctx, s.db, runID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// CompleteRun records the closing stages of a finished run and its outcome in
// one transaction, so a run is never seen finished without them.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *domain.PublishRun, stages []*domain.StageRecord) error {
	return s.WithTx(ctx, func(tx Store) error {
		return completeRun(ctx, tx, run, stages)
	})
}

func completeRun(ctx context.Context, s Store, run *domain.PublishRun, stages []*domain.StageRecord) error {
	if run.FinishedAt == nil {
		return NewStoreError("CompleteRun", "publish_run", run.ID, "run has not finished", nil)
	}
	for _, stage := range stages {
		if err := s.RecordStage(ctx, stage); err != nil {
			return err
		}
	}
	return s.FinishRun(ctx, run.ID, run.Status, run.Error, *run.FinishedAt)
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *domain.PublishRun) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) FinishRun(ctx context.Context, id string, status domain.RunStatus, message string, finishedAt time.Time) error {
	return finishRun(ctx, s.tx, id, status, message, finishedAt)
}

func (s *txSQLiteStore) CompleteRun(ctx context.Context, run *domain.PublishRun, stages []*domain.StageRecord) error {
	return completeRun(ctx, s, run, stages)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.PublishRun, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.PublishRun, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) RecordStage(ctx context.Context, stage *domain.StageRecord) error {
	return recordStage(ctx, s.tx, stage)
}

func (s *txSQLiteStore) ListStages(ctx context.Context, runID string) ([]domain.StageRecord, error) {
	return listStages(ctx, s.tx, runID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	return nil
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a publish run row in the database.
type runRow struct {
	ID         string  `db:"id"`
	Target     string  `db:"target"`
	TargetKind string  `db:"target_kind"`
	Transport  string  `db:"transport"`
	Packages   int     `db:"packages"`
	Status     string  `db:"status"`
	Error      string  `db:"error"`
	StartedAt  string  `db:"started_at"`
	FinishedAt *string `db:"finished_at"`
}

func createRun(ctx context.Context, exec executor, run *domain.PublishRun) error {
	var finishedAt *string
	if run.FinishedAt != nil {
		s := run.FinishedAt.UTC().Format(timeFormat)
		finishedAt = &s
	}

	query := `
		INSERT INTO publish_runs (id, target, target_kind, transport, packages, status, error, started_at, finished_at)
		VALUES (:id, :target, :target_kind, :transport, :packages, :status, :error, :started_at, :finished_at)`

	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id":          run.ID,
		"target":      run.Target,
		"target_kind": string(run.TargetKind),
		"transport":   string(run.Transport),
		"packages":    run.Packages,
		"status":      string(run.Status),
		"error":       run.Error,
		"started_at":  run.StartedAt.UTC().Format(timeFormat),
		"finished_at": finishedAt,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: publish_runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}
	return nil
}

func finishRun(ctx context.Context, exec executor, id string, status domain.RunStatus, message string, finishedAt time.Time) error {
	result, err := exec.ExecContext(ctx,
		`UPDATE publish_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), message, finishedAt.UTC().Format(timeFormat), id)
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}
	if rows == 0 {
		return NewStoreError("FinishRun", "run", id, "run not found", ErrNotFound)
	}
	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.PublishRun, error) {
	var row runRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM publish_runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}
	run := rowToRun(row)
	return &run, nil
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]domain.PublishRun, error) {
	opts = opts.Normalize()

	var rows []runRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM publish_runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]domain.PublishRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, rowToRun(row))
	}
	return runs, nil
}

func rowToRun(row runRow) domain.PublishRun {
	startedAt, _ := time.Parse(timeFormat, row.StartedAt)
	run := domain.PublishRun{
		ID:         row.ID,
		Target:     row.Target,
		TargetKind: domain.TargetKind(row.TargetKind),
		Transport:  domain.TransportKind(row.Transport),
		Packages:   row.Packages,
		Status:     domain.RunStatus(row.Status),
		Error:      row.Error,
		StartedAt:  startedAt,
	}
	if row.FinishedAt != nil {
		t, _ := time.Parse(timeFormat, *row.FinishedAt)
		run.FinishedAt = &t
	}
	return run
}

// =============================================================================
// Stage Operations
// =============================================================================

// stageRow represents a stage outcome row in the database.
type stageRow struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	Package    string `db:"package"`
	Stage      string `db:"stage"`
	Status     string `db:"status"`
	Message    string `db:"message"`
	RecordedAt string `db:"recorded_at"`
}

func recordStage(ctx context.Context, exec executor, stage *domain.StageRecord) error {
	query := `
		INSERT INTO publish_stages (run_id, package, stage, status, message, recorded_at)
		VALUES (:run_id, :package, :stage, :status, :message, :recorded_at)`

	result, err := exec.NamedExecContext(ctx, query, map[string]any{
		"run_id":      stage.RunID,
		"package":     stage.Package,
		"stage":       string(stage.Stage),
		"status":      string(stage.Status),
		"message":     stage.Message,
		"recorded_at": stage.RecordedAt.UTC().Format(timeFormat),
	})
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("RecordStage", "stage", stage.RunID, "run does not exist", ErrForeignKey)
		}
		return NewStoreError("RecordStage", "stage", stage.RunID, err.Error(), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return NewStoreError("RecordStage", "stage", stage.RunID, err.Error(), err)
	}
	stage.ID = id
	return nil
}

func listStages(ctx context.Context, exec executor, runID string) ([]domain.StageRecord, error) {
	var rows []stageRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM publish_stages WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, NewStoreError("ListStages", "stage", runID, err.Error(), err)
	}

	stages := make([]domain.StageRecord, 0, len(rows))
	for _, row := range rows {
		recordedAt, _ := time.Parse(timeFormat, row.RecordedAt)
		stages = append(stages, domain.StageRecord{
			ID:         row.ID,
			RunID:      row.RunID,
			Package:    row.Package,
			Stage:      domain.Stage(row.Stage),
			Status:     domain.RunStatus(row.Status),
			Message:    row.Message,
			RecordedAt: recordedAt,
		})
	}
	return stages, nil
}
