// Package fsm runs build pipelines as a durable superfly/fsm workflow. Every
// pipeline stage is one transition, and the run record in SQLite tracks the
// stage a run is in and how it ended.
package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/superfly/fsm"

	"github.com/isoforge/isoforge/pkg/db"
	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/messages"
	"github.com/isoforge/isoforge/pkg/pipeline"
)

type step func(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error

// Register registers the build FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[BuildRequest, BuildResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[BuildRequest, BuildResponse](manager, "iso-build").
		Start(StateCheckDB, m.handler(StateCheckDB, m.checkDB)).
		To(StateFetch, m.handler(StateFetch, m.fetch)).
		To(StateValidate, m.handler(StateValidate, m.stage(pipeline.StageValidate))).
		To(StateDetect, m.handler(StateDetect, m.stage(pipeline.StageDetect))).
		To(StateResolve, m.handler(StateResolve, m.stage(pipeline.StageResolve))).
		To(StateCustomize, m.handler(StateCustomize, m.stage(pipeline.StageCustomize))).
		To(StateEnsureTool, m.handler(StateEnsureTool, m.stage(pipeline.StageEnsureTool))).
		To(StateBuild, m.handler(StateBuild, m.stage(pipeline.StageBuild))).
		To(StatePublish, m.handler(StatePublish, m.publish)).
		To(StateComplete, m.handler(StateComplete, m.complete)).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// handler adapts a step to an FSM transition: retry limits, response
// initialization and abort handling live here.
func (m *Machine) handler(state string, s step) func(context.Context, *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
	return func(ctx context.Context, req *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
		slog.Info("fsm_state_"+state, "run_id", req.Msg.RunID)

		resp := req.W.Msg
		if resp == nil {
			if state != StateCheckDB {
				return nil, fsm.Abort(fmt.Errorf("response not initialized"))
			}
			resp = &BuildResponse{}
		}

		if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
			slog.Error("max_retries_exceeded", "run_id", req.Msg.RunID, "state", state, "max_retries", m.maxRetries)
			if resp.RecordID != 0 {
				m.recordFailure(resp, state, m.catalog.Text(messages.StageFailed, state,
					m.catalog.Text(messages.RetriesExhausted, state, m.maxRetries)))
			}
			return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
		}

		if err := s(ctx, req.Msg, resp); err != nil {
			var ab *abortError
			if errors.As(err, &ab) {
				return nil, fsm.Abort(ab.err)
			}
			return nil, err
		}
		return fsm.NewResponse(resp), nil
	}
}

// Runner owns the FSM manager and the registered build workflow.
type Runner struct {
	manager *fsm.Manager
	start   fsm.Start[BuildRequest, BuildResponse]
	machine *Machine
}

// NewRunner opens the FSM store at dbPath and registers machine.
func NewRunner(ctx context.Context, dbPath string, machine *Machine) (*Runner, error) {
	manager, err := fsm.New(fsm.Config{DBPath: dbPath})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}

	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		manager.Shutdown(10 * time.Second)
		return nil, err
	}

	return &Runner{manager: manager, start: start, machine: machine}, nil
}

// Shutdown stops the FSM manager.
func (r *Runner) Shutdown() {
	r.manager.Shutdown(10 * time.Second)
}

// Execute starts a build, waits for the workflow to settle, removes the
// working directory unless the request keeps it and reports the outcome
// recorded for the run.
func (r *Runner) Execute(ctx context.Context, req *BuildRequest) (pipeline.Result, error) {
	resp := &BuildResponse{}

	version, err := r.start(ctx, req.RunID, fsm.NewRequest(req, resp))
	if err != nil {
		return pipeline.Result{}, errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "run_id", req.RunID, "version", version)

	waitErr := r.manager.Wait(ctx, version)
	if waitErr != nil {
		slog.Warn("fsm_wait_returned_error", "run_id", req.RunID, "error", waitErr)
	}

	r.machine.orch.Finish(req.Pipeline)

	run, err := r.machine.repo.GetByRunID(req.RunID)
	if err != nil {
		return pipeline.Result{}, errors.Wrap(err, "failed to load run")
	}
	if run == nil {
		if waitErr != nil {
			return pipeline.Result{}, errors.Wrap(waitErr, "FSM execution failed")
		}
		return pipeline.Result{}, fmt.Errorf("run %s has no record", req.RunID)
	}

	if !run.Finished() {
		// the workflow stopped without reaching complete or recording a failure
		msg := "workflow stopped"
		if waitErr != nil {
			msg = waitErr.Error()
		}
		message := r.machine.catalog.Text(messages.StageFailed, run.Stage, msg)
		if err := r.machine.repo.UpdateStatus(run.ID, db.StatusFailed, run.Stage, message); err != nil {
			return pipeline.Result{}, err
		}
		run.Status, run.FailedStage, run.Message = db.StatusFailed, run.Stage, message
	}

	res := resultFromRun(run)
	slog.Info("fsm_finished", "run_id", req.RunID, "success", res.Success, "failed_stage", res.FailedStage)
	return res, nil
}

func resultFromRun(run *db.Run) pipeline.Result {
	if run.Status == db.StatusSucceeded {
		return pipeline.Result{Success: true, Message: run.Message}
	}
	return pipeline.Result{
		Success:     false,
		FailedStage: pipeline.Stage(run.FailedStage),
		Message:     run.Message,
	}
}
