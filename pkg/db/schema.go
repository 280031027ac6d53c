package db

// Schema defines the SQLite database schema for build runs.
// One row per run, keyed by the run id handed to the workflow.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    iso_path TEXT NOT NULL,
    working_dir TEXT NOT NULL,
    output_path TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'succeeded', 'failed')),
    stage TEXT,
    failed_stage TEXT,
    message TEXT,
    output_sha256 TEXT,
    output_size INTEGER,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Status constants
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run represents a build run record
type Run struct {
	ID           int64
	RunID        string
	ISOPath      string
	WorkingDir   string
	OutputPath   string
	Status       string
	Stage        string
	FailedStage  string
	Message      string
	OutputSHA256 string
	OutputSize   int64
	CreatedAt    string
	UpdatedAt    string
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}
