package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/isoforge/isoforge/pkg/db"
	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/messages"
	"github.com/isoforge/isoforge/pkg/pipeline"
	"github.com/isoforge/isoforge/pkg/storage"
)

// ArtifactStore fetches source ISOs and publishes built ones.
type ArtifactStore interface {
	Download(ctx context.Context, key, localPath string) (*storage.TransferResult, error)
	Upload(ctx context.Context, localPath, key string) (*storage.TransferResult, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	orch       *pipeline.Orchestrator
	store      ArtifactStore
	catalog    *messages.Catalog
	maxRetries int
}

// NewMachine creates a new FSM machine with dependencies. store may be nil
// when runs never fetch or publish.
func NewMachine(
	repo *db.Repository,
	orch *pipeline.Orchestrator,
	store ArtifactStore,
	catalog *messages.Catalog,
	maxRetries int,
) *Machine {
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Machine{
		repo:       repo,
		orch:       orch,
		store:      store,
		catalog:    catalog,
		maxRetries: maxRetries,
	}
}

// abortError marks a step failure that must not be retried.
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

func abort(err error) error {
	return &abortError{err: err}
}

// checkDB creates the run record, or picks up an unfinished one after a
// restart. A finished run is never executed again.
func (m *Machine) checkDB(_ context.Context, msg *BuildRequest, resp *BuildResponse) error {
	run, err := m.repo.GetByRunID(msg.RunID)
	if err != nil {
		slog.Error("database_check_failed", "run_id", msg.RunID, "error", err)
		return abort(errors.Wrap(err, "database error"))
	}

	if run != nil {
		if run.Finished() {
			slog.Warn("run_already_finished", "run_id", msg.RunID, "status", run.Status)
			return abort(fmt.Errorf("run %s already %s", msg.RunID, run.Status))
		}
		resp.RecordID = run.ID
		slog.Info("run_found_continue_processing", "run_id", msg.RunID, "id", run.ID, "stage", run.Stage)
		return nil
	}

	run = &db.Run{
		RunID:      msg.RunID,
		ISOPath:    msg.Pipeline.ISOPath,
		WorkingDir: msg.Pipeline.WorkingDir,
		OutputPath: msg.Pipeline.OutputPath,
		Status:     db.StatusPending,
	}
	if err := m.repo.Create(run); err != nil {
		slog.Error("create_run_failed", "run_id", msg.RunID, "error", err)
		return errors.Wrap(err, "failed to create run record")
	}
	resp.RecordID = run.ID
	resp.Status = db.StatusPending
	slog.Info("run_created", "run_id", msg.RunID, "id", run.ID)
	return nil
}

// fetch downloads the source ISO when the request names a key.
func (m *Machine) fetch(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
	if msg.SourceKey == "" {
		slog.Info("fetch_skipped", "run_id", msg.RunID, "iso", msg.Pipeline.ISOPath)
		return nil
	}
	if err := m.enter(resp, StateFetch); err != nil {
		return err
	}
	if m.store == nil {
		return m.abortWith(resp, StateFetch, errors.Localized(errors.ErrResourceUnavailable, "fetch", messages.FetchFailed, nil,
			msg.SourceKey, msg.Pipeline.ISOPath))
	}

	if _, err := os.Stat(msg.Pipeline.ISOPath); err == nil {
		slog.Info("fetch_already_present", "run_id", msg.RunID, "iso", msg.Pipeline.ISOPath)
		return nil
	}

	found, err := m.store.Exists(ctx, msg.SourceKey)
	if err != nil {
		slog.Error("fetch_lookup_failed", "run_id", msg.RunID, "s3_key", msg.SourceKey, "error", err)
		return errors.Localized(errors.ErrResourceUnavailable, "fetch", messages.FetchFailed, err,
			msg.SourceKey, msg.Pipeline.ISOPath)
	}
	if !found {
		// retrying cannot make a missing object appear
		slog.Error("fetch_source_missing", "run_id", msg.RunID, "s3_key", msg.SourceKey)
		return m.abortWith(resp, StateFetch, errors.Localized(errors.ErrResourceUnavailable, "fetch", messages.FetchFailed, nil,
			msg.SourceKey, msg.Pipeline.ISOPath))
	}

	result, err := m.store.Download(ctx, msg.SourceKey, msg.Pipeline.ISOPath)
	if err != nil {
		slog.Error("fetch_failed", "run_id", msg.RunID, "s3_key", msg.SourceKey, "error", err)
		return errors.Localized(errors.ErrResourceUnavailable, "fetch", messages.FetchFailed, err,
			msg.SourceKey, msg.Pipeline.ISOPath)
	}

	slog.Info("fetch_complete", "run_id", msg.RunID, "s3_key", msg.SourceKey, "sha256", result.SHA256)
	return nil
}

// stage returns the step running one pipeline stage. Stage failures are
// final: no stage is retried automatically.
func (m *Machine) stage(stage pipeline.Stage) step {
	return func(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
		if err := m.enter(resp, string(stage)); err != nil {
			return err
		}
		req := msg.Pipeline
		if err := m.orch.RunStage(ctx, stage, &req, &resp.State); err != nil {
			return m.abortWith(resp, string(stage), err)
		}
		return nil
	}
}

// publish uploads the mastered ISO when the request names a key.
func (m *Machine) publish(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
	if msg.PublishKey == "" {
		slog.Info("publish_skipped", "run_id", msg.RunID)
		return nil
	}
	if err := m.enter(resp, StatePublish); err != nil {
		return err
	}
	if m.store == nil {
		return m.abortWith(resp, StatePublish, errors.Localized(errors.ErrResourceUnavailable, "publish", messages.PublishFailed, nil,
			msg.Pipeline.OutputPath, msg.PublishKey))
	}

	exists, err := m.store.Exists(ctx, msg.PublishKey)
	if err != nil {
		slog.Error("publish_lookup_failed", "run_id", msg.RunID, "s3_key", msg.PublishKey, "error", err)
		return errors.Localized(errors.ErrResourceUnavailable, "publish", messages.PublishFailed, err,
			msg.Pipeline.OutputPath, msg.PublishKey)
	}
	if exists {
		slog.Warn("publish_overwrite", "run_id", msg.RunID, "s3_key", msg.PublishKey)
	}

	result, err := m.store.Upload(ctx, msg.Pipeline.OutputPath, msg.PublishKey)
	if err != nil {
		slog.Error("publish_failed", "run_id", msg.RunID, "s3_key", msg.PublishKey, "error", err)
		return errors.Localized(errors.ErrResourceUnavailable, "publish", messages.PublishFailed, err,
			msg.Pipeline.OutputPath, msg.PublishKey)
	}
	resp.OutputSHA256 = result.SHA256

	slog.Info("publish_complete", "run_id", msg.RunID, "s3_key", msg.PublishKey, "sha256", result.SHA256)
	return nil
}

// complete marks the run succeeded.
func (m *Machine) complete(_ context.Context, msg *BuildRequest, resp *BuildResponse) error {
	res := m.orch.Report(msg.Pipeline, &resp.State, "", nil)

	run, err := m.repo.GetByRunID(msg.RunID)
	if err != nil {
		return errors.Wrap(err, "failed to load run")
	}
	if run == nil {
		slog.Error("run_not_found", "run_id", msg.RunID)
		return abort(fmt.Errorf("run %s not found in database", msg.RunID))
	}

	run.Status = db.StatusSucceeded
	run.Stage = StateComplete
	run.Message = res.Message
	run.OutputSHA256 = resp.OutputSHA256
	run.OutputSize = resp.State.OutputBytes
	if err := m.repo.Update(run); err != nil {
		slog.Error("run_update_failed", "run_id", msg.RunID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	resp.Status = db.StatusSucceeded
	resp.Message = res.Message
	slog.Info("fsm_complete", "run_id", msg.RunID, "status", db.StatusSucceeded)
	return nil
}

func (m *Machine) enter(resp *BuildResponse, state string) error {
	if err := m.repo.UpdateStage(resp.RecordID, state); err != nil {
		return errors.Wrap(err, "failed to update stage")
	}
	resp.Status = db.StatusRunning
	return nil
}

// abortWith records the failure of state on the run and stops the workflow.
func (m *Machine) abortWith(resp *BuildResponse, state string, err error) error {
	res := m.orch.Report(pipeline.Request{}, &resp.State, pipeline.Stage(state), err)
	m.recordFailure(resp, state, res.Message)
	return abort(err)
}

func (m *Machine) recordFailure(resp *BuildResponse, state, message string) {
	resp.Status = db.StatusFailed
	resp.FailedStage = state
	resp.Message = message
	if err := m.repo.UpdateStatus(resp.RecordID, db.StatusFailed, state, message); err != nil {
		slog.Error("status_update_failed", "id", resp.RecordID, "status", db.StatusFailed, "error", err)
	}
}
