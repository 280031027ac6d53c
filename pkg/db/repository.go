package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/isoforge/isoforge/pkg/errors"
	_ "modernc.org/sqlite"
)

const runColumns = `id, run_id, iso_path, working_dir, output_path, status,
	stage, failed_stage, message, output_sha256, output_size, created_at, updated_at`

// Repository provides database operations for build runs
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run record
func (r *Repository) Create(run *Run) error {
	slog.Info("database_create_run", "run_id", run.RunID, "status", run.Status)

	query := `
		INSERT INTO runs (run_id, iso_path, working_dir, output_path, status, stage, failed_stage, message, output_sha256, output_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		run.RunID, run.ISOPath, run.WorkingDir, run.OutputPath, run.Status,
		run.Stage, run.FailedStage, run.Message, run.OutputSHA256, run.OutputSize)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", run.RunID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "run_id", run.RunID, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	run.ID = id

	slog.Info("database_run_created", "run_id", run.RunID, "id", run.ID, "status", run.Status)
	return nil
}

// GetByRunID retrieves a run by its run id. A missing run is (nil, nil).
func (r *Repository) GetByRunID(runID string) (*Run, error) {
	slog.Debug("database_query_run", "run_id", runID)

	row := r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "run_id", runID)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// Update updates an existing run record
func (r *Repository) Update(run *Run) error {
	slog.Info("database_update_run", "id", run.ID, "run_id", run.RunID, "status", run.Status)

	query := `
		UPDATE runs
		SET status = ?, stage = ?, failed_stage = ?, message = ?,
		    output_sha256 = ?, output_size = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		run.Status, run.Stage, run.FailedStage, run.Message,
		run.OutputSHA256, run.OutputSize, run.ID)
	if err != nil {
		slog.Error("database_update_failed", "id", run.ID, "run_id", run.RunID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "id", run.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "id", run.ID)
		return fmt.Errorf("run not found: id=%d", run.ID)
	}

	slog.Info("database_run_updated", "id", run.ID, "run_id", run.RunID, "status", run.Status)
	return nil
}

// UpdateStage records the stage a running build has entered
func (r *Repository) UpdateStage(id int64, stage string) error {
	slog.Debug("database_update_stage", "id", id, "stage", stage)

	query := `UPDATE runs SET status = ?, stage = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, StatusRunning, stage, id); err != nil {
		slog.Error("database_stage_update_failed", "id", id, "stage", stage, "error", err)
		return errors.Wrap(err, "failed to update stage")
	}
	return nil
}

// UpdateStatus updates the status, failed stage and message of a run
func (r *Repository) UpdateStatus(id int64, status, failedStage, message string) error {
	slog.Info("database_update_status", "id", id, "status", status, "failed_stage", failedStage)

	query := `UPDATE runs SET status = ?, failed_stage = ?, message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, failedStage, message, id); err != nil {
		slog.Error("database_status_update_failed", "id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	slog.Info("database_status_updated", "id", id, "status", status)
	return nil
}

// List retrieves all runs, newest first
func (r *Repository) List() ([]*Run, error) {
	slog.Info("database_list_runs")

	rows, err := r.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "run_count", len(runs))
	return runs, nil
}

// Delete deletes a run by ID
func (r *Repository) Delete(id int64) error {
	slog.Info("database_delete_run", "id", id)

	if _, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "id", id, "error", err)
		return errors.Wrap(err, "failed to delete run")
	}

	slog.Info("database_run_deleted", "id", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var stage, failedStage, message, sha sql.NullString
	var size sql.NullInt64

	err := s.Scan(
		&run.ID, &run.RunID, &run.ISOPath, &run.WorkingDir, &run.OutputPath, &run.Status,
		&stage, &failedStage, &message, &sha, &size,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.Stage = stage.String
	run.FailedStage = failedStage.String
	run.Message = message.String
	run.OutputSHA256 = sha.String
	run.OutputSize = size.Int64
	return &run, nil
}
