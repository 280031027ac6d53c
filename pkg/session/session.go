// Package session serializes access to the image-servicing engine. Only one
// servicing session may be open per process; callers queue in FIFO order.
package session

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/process"
)

// Guard owns the single servicing slot.
type Guard struct {
	sem    *semaphore.Weighted
	exec   process.Executor
	logger *slog.Logger
}

// Session is the handle passed to a guarded operation. It is only valid
// inside the function given to Guard.Do.
type Session struct {
	exec   process.Executor
	logger *slog.Logger
}

// NewGuard creates a guard that runs servicing commands through exec.
func NewGuard(exec process.Executor, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		sem:    semaphore.NewWeighted(1),
		exec:   exec,
		logger: logger,
	}
}

// Do waits for the servicing slot, runs fn with a session handle and releases
// the slot on every exit path, including panics. ctx is honoured only while
// waiting; once fn starts it sees a context that is never cancelled because the
// engine cannot be interrupted mid-call.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context, s *Session) error) error {
	waitStart := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.logger.Warn("session_wait_cancelled", "op", op, "waited", time.Since(waitStart).Round(time.Millisecond), "error", err)
		return errors.E(errors.ErrResourceBusy, op, err)
	}
	defer g.sem.Release(1)

	g.logger.Debug("session_acquired", "op", op, "waited", time.Since(waitStart).Round(time.Millisecond))
	defer g.logger.Debug("session_released", "op", op)

	return fn(context.WithoutCancel(ctx), &Session{exec: g.exec, logger: g.logger})
}

// Run executes a servicing command inside the session. A no-op progress
// callback is supplied when progress is nil; the engine stalls without one.
func (s *Session) Run(ctx context.Context, name string, args []string, progress process.ProgressFunc) (process.Result, error) {
	if progress == nil {
		progress = process.Discard
	}
	return s.exec.Run(ctx, process.Command{
		Name:     name,
		Args:     args,
		Progress: progress,
	})
}
