// Package process runs external tools as child processes, streaming their
// standard output line by line to a progress callback while capturing it.
package process

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/isoforge/isoforge/pkg/errors"
)

// ProgressFunc receives each line a child process writes to stdout.
type ProgressFunc func(line string)

// Command describes one child process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Progress must be non-nil. Output is consumed through it as the child
	// runs so the child never stalls on a full pipe.
	Progress ProgressFunc
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result carries the outcome of a finished child process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Discard is a ProgressFunc that drops every line.
func Discard(string) {}

// Executor runs external binaries.
type Executor interface {
	// Run starts the command and waits for it. A non-zero exit is reported
	// through Result.ExitCode with a nil error; err is reserved for failures
	// to start or to collect the process.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecExecutor is the os/exec backed Executor.
type ExecExecutor struct {
	Logger *slog.Logger
}

// NewExecutor returns an Executor running real child processes.
func NewExecutor(logger *slog.Logger) *ExecExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecExecutor{Logger: logger}
}

// Run implements Executor.
func (e *ExecExecutor) Run(ctx context.Context, c Command) (Result, error) {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	if c.Progress == nil {
		return Result{}, errors.E(errors.ErrProcessFailure, "process_run",
			fmt.Errorf("progress callback is required for %s", c.Name))
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errors.E(errors.ErrProcessFailure, "process_stdout_pipe", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Info("process_start", "command", c.String(), "dir", c.Dir)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		log.Error("process_start_failed", "command", c.Name, "error", err)
		return Result{}, errors.E(errors.ErrProcessFailure, "process_start", err)
	}

	var captured strings.Builder
	readErr := drain(stdout, &captured, c.Progress)

	waitErr := cmd.Wait()
	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   captured.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		log.Warn("process_cancelled", "command", c.Name, "error", ctx.Err())
		return res, errors.E(errors.ErrProcessFailure, "process_wait", ctx.Err())
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !stderrors.As(waitErr, &exitErr) {
			log.Error("process_wait_failed", "command", c.Name, "error", waitErr)
			return res, errors.E(errors.ErrProcessFailure, "process_wait", waitErr)
		}
	}
	if readErr != nil {
		log.Warn("process_output_read_failed", "command", c.Name, "error", readErr)
	}

	log.Info("process_exit", "command", c.Name, "exit_code", res.ExitCode, "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func drain(r io.Reader, into *strings.Builder, progress ProgressFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		into.WriteString(line)
		into.WriteByte('\n')
		progress(line)
	}
	if err := scanner.Err(); err != nil {
		// keep the pipe empty so the child can exit
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// scanLinesOrCR splits on \n and on bare \r, which progress meters use to
// redraw a single console line.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		switch b {
		case '\n':
			return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}
			// need one more byte to tell \r from \r\n
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
