// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/isoforge/isoforge/pkg/process"
)

// LogRecorder is a slog.Handler that keeps every record for assertions.
type LogRecorder struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

// NewLogger returns a logger writing into a fresh LogRecorder.
func NewLogger() (*slog.Logger, *LogRecorder) {
	rec := &LogRecorder{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(rec), rec
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = append(*r.records, rec.Clone())
	return nil
}

func (r *LogRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }

func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Count returns how many records were logged at level.
func (r *LogRecorder) Count(level slog.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range *r.records {
		if rec.Level == level {
			n++
		}
	}
	return n
}

// Messages returns the messages logged at level, in order.
func (r *LogRecorder) Messages(level slog.Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range *r.records {
		if rec.Level == level {
			out = append(out, rec.Message)
		}
	}
	return out
}

// FakeExecutor answers process.Command calls from a handler function and
// records every call.
type FakeExecutor struct {
	mu      sync.Mutex
	Handler func(cmd process.Command) (process.Result, error)
	Calls   []process.Command
}

// Run implements process.Executor. Stdout lines are fed to the progress
// callback the way the real executor does.
func (f *FakeExecutor) Run(_ context.Context, cmd process.Command) (process.Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return process.Result{}, nil
	}
	res, err := handler(cmd)
	if err == nil && cmd.Progress != nil {
		for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
			if line != "" {
				cmd.Progress(line)
			}
		}
	}
	return res, err
}

// CallCount returns the number of recorded calls.
func (f *FakeExecutor) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// WriteFile creates path with content, making parent directories.
func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteSizedFile creates a sparse file of size bytes at path.
func WriteSizedFile(t *testing.T, path string, size int64) {
	t.Helper()
	WriteFile(t, path, nil)
	if err := os.Truncate(path, size); err != nil {
		t.Fatalf("truncate %s: %v", path, err)
	}
}
