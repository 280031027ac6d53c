package db

import (
	"path/filepath"
	"testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newRun(runID string) *Run {
	return &Run{
		RunID:      runID,
		ISOPath:    "/isos/win11.iso",
		WorkingDir: "/work/" + runID,
		OutputPath: "/out/" + runID + ".iso",
		Status:     StatusPending,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepository(t)

	run := newRun("run-1")
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	retrieved, err := repo.GetByRunID("run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected run, got nil")
	}
	if retrieved.ISOPath != run.ISOPath || retrieved.OutputPath != run.OutputPath || retrieved.Status != StatusPending {
		t.Errorf("retrieved run mismatch: got %+v, want %+v", retrieved, run)
	}
	if retrieved.Finished() {
		t.Error("pending run reported as finished")
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	run, err := repo.GetByRunID("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run, got %+v", run)
	}
}

func TestRepository_DuplicateRunID(t *testing.T) {
	repo := newTestRepository(t)

	if err := repo.Create(newRun("dup")); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := repo.Create(newRun("dup")); err == nil {
		t.Error("expected unique constraint error")
	}
}

func TestRepository_StageAndStatus(t *testing.T) {
	repo := newTestRepository(t)

	run := newRun("run-2")
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	if err := repo.UpdateStage(run.ID, "detect"); err != nil {
		t.Fatalf("failed to update stage: %v", err)
	}
	updated, _ := repo.GetByRunID("run-2")
	if updated.Status != StatusRunning || updated.Stage != "detect" {
		t.Errorf("stage not updated: got status=%s stage=%s", updated.Status, updated.Stage)
	}

	if err := repo.UpdateStatus(run.ID, StatusFailed, "detect", "no install image"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	updated, _ = repo.GetByRunID("run-2")
	if updated.Status != StatusFailed || updated.FailedStage != "detect" || updated.Message != "no install image" {
		t.Errorf("status not updated: got %+v", updated)
	}
	if !updated.Finished() {
		t.Error("failed run not reported as finished")
	}
}

func TestRepository_Update(t *testing.T) {
	repo := newTestRepository(t)

	run := newRun("run-3")
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	run.Status = StatusSucceeded
	run.OutputSHA256 = "abc123"
	run.OutputSize = 4096
	if err := repo.Update(run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	updated, _ := repo.GetByRunID("run-3")
	if updated.OutputSHA256 != "abc123" || updated.OutputSize != 4096 || updated.Status != StatusSucceeded {
		t.Errorf("run not updated: got %+v", updated)
	}

	if err := repo.Update(&Run{ID: 999, Status: StatusFailed}); err == nil {
		t.Error("expected error updating missing run")
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	repo := newTestRepository(t)

	first := newRun("a")
	second := newRun("b")
	repo.Create(first)
	repo.Create(second)

	runs, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "b" {
		t.Errorf("expected newest run first, got %s", runs[0].RunID)
	}

	if err := repo.Delete(first.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	runs, _ = repo.List()
	if len(runs) != 1 {
		t.Errorf("expected 1 run after delete, got %d", len(runs))
	}
}
