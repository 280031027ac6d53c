package fsm

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/isoforge/isoforge/internal/testutil"
	"github.com/isoforge/isoforge/pkg/db"
	"github.com/isoforge/isoforge/pkg/imageformat"
	"github.com/isoforge/isoforge/pkg/pipeline"
	"github.com/isoforge/isoforge/pkg/storage"
)

type stubDetector struct {
	result imageformat.DualFormatDetectionResult
}

func (s stubDetector) DetectAllImageFormats(context.Context, string) imageformat.DualFormatDetectionResult {
	return s.result
}

func (s stubDetector) DeleteImageFile(string, imageformat.Format) bool { return true }

type stubCustomizer struct{}

func (stubCustomizer) InjectAnswerFile(string, string) bool { return true }
func (stubCustomizer) InjectDrivers(string, string) bool    { return true }

type stubTools struct{}

func (stubTools) EnsureToolAvailable(context.Context) bool { return true }
func (stubTools) GetToolPath(context.Context) string       { return "/usr/bin/xorriso" }

type fakeStore struct {
	downloads, uploads int
	objects            map[string]bool
	err                error
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.objects[key], nil
}

func (f *fakeStore) Download(_ context.Context, key, localPath string) (*storage.TransferResult, error) {
	f.downloads++
	if f.err != nil {
		return nil, f.err
	}
	if !f.objects[key] {
		return nil, stderrors.New("NoSuchKey")
	}
	if err := os.WriteFile(localPath, []byte("iso"), 0o644); err != nil {
		return nil, err
	}
	return &storage.TransferResult{Key: key, LocalPath: localPath, SHA256: "feed"}, nil
}

func (f *fakeStore) Upload(_ context.Context, localPath, key string) (*storage.TransferResult, error) {
	f.uploads++
	if f.err != nil {
		return nil, f.err
	}
	if f.objects == nil {
		f.objects = map[string]bool{}
	}
	f.objects[key] = true
	return &storage.TransferResult{Key: key, LocalPath: localPath, SHA256: "cafe"}, nil
}

func newTestMachine(t *testing.T, detection imageformat.DualFormatDetectionResult, store ArtifactStore) (*Machine, *db.Repository) {
	t.Helper()
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger, _ := testutil.NewLogger()
	orch := pipeline.New(pipeline.Deps{
		Detector:   stubDetector{result: detection},
		Customizer: stubCustomizer{},
		Tools:      stubTools{},
		Exec:       &testutil.FakeExecutor{},
		Logger:     logger,
	})
	return NewMachine(repo, orch, store, nil, 3), repo
}

func newBuildRequest(t *testing.T, runID string) *BuildRequest {
	t.Helper()
	wd := t.TempDir()
	return &BuildRequest{
		RunID: runID,
		Pipeline: pipeline.Request{
			ISOPath:    filepath.Join(t.TempDir(), "win.iso"),
			WorkingDir: wd,
			OutputPath: filepath.Join(t.TempDir(), "out.iso"),
		},
	}
}

func TestCheckDB_CreatesRecord(t *testing.T) {
	m, repo := newTestMachine(t, imageformat.DualFormatDetectionResult{}, nil)
	req := newBuildRequest(t, "run-1")
	resp := &BuildResponse{}

	if err := m.checkDB(context.Background(), req, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RecordID == 0 {
		t.Fatal("expected record id")
	}

	run, _ := repo.GetByRunID("run-1")
	if run == nil || run.Status != db.StatusPending || run.ISOPath != req.Pipeline.ISOPath {
		t.Errorf("unexpected run record: %+v", run)
	}

	// an unfinished run is picked up again
	again := &BuildResponse{}
	if err := m.checkDB(context.Background(), req, again); err != nil {
		t.Fatalf("unexpected error on resume: %v", err)
	}
	if again.RecordID != resp.RecordID {
		t.Errorf("expected record %d, got %d", resp.RecordID, again.RecordID)
	}
}

func TestCheckDB_FinishedRunAborts(t *testing.T) {
	m, repo := newTestMachine(t, imageformat.DualFormatDetectionResult{}, nil)
	req := newBuildRequest(t, "run-done")
	resp := &BuildResponse{}
	if err := m.checkDB(context.Background(), req, resp); err != nil {
		t.Fatal(err)
	}
	repo.UpdateStatus(resp.RecordID, db.StatusSucceeded, "", "")

	err := m.checkDB(context.Background(), req, &BuildResponse{})
	var ab *abortError
	if !stderrors.As(err, &ab) {
		t.Errorf("expected abort, got %v", err)
	}
}

func TestStage_FailureRecordsRun(t *testing.T) {
	m, repo := newTestMachine(t, imageformat.DualFormatDetectionResult{}, nil)
	req := newBuildRequest(t, "run-2")
	resp := &BuildResponse{}
	if err := m.checkDB(context.Background(), req, resp); err != nil {
		t.Fatal(err)
	}

	err := m.stage(pipeline.StageDetect)(context.Background(), req, resp)

	var ab *abortError
	if !stderrors.As(err, &ab) {
		t.Fatalf("expected abort, got %v", err)
	}
	run, _ := repo.GetByRunID("run-2")
	if run.Status != db.StatusFailed || run.FailedStage != StateDetect || run.Message == "" {
		t.Errorf("failure not recorded: %+v", run)
	}

	res := resultFromRun(run)
	if res.Success || res.FailedStage != pipeline.StageDetect {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestStage_SuccessCarriesState(t *testing.T) {
	detection := imageformat.DualFormatDetectionResult{
		WimInfo: &imageformat.ImageFormatInfo{Format: imageformat.Wim, ImageCount: 2},
	}
	m, repo := newTestMachine(t, detection, nil)
	req := newBuildRequest(t, "run-3")
	resp := &BuildResponse{}
	if err := m.checkDB(context.Background(), req, resp); err != nil {
		t.Fatal(err)
	}

	if err := m.stage(pipeline.StageDetect)(context.Background(), req, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State.Format != imageformat.Wim {
		t.Errorf("expected wim format in state, got %q", resp.State.Format)
	}

	run, _ := repo.GetByRunID("run-3")
	if run.Status != db.StatusRunning || run.Stage != StateDetect {
		t.Errorf("stage not recorded: %+v", run)
	}
}

func TestFetchAndPublish(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{"isos/win11.iso": true}}
	m, repo := newTestMachine(t, imageformat.DualFormatDetectionResult{}, store)
	req := newBuildRequest(t, "run-4")
	req.SourceKey = "isos/win11.iso"
	req.PublishKey = "builds/run-4.iso"
	resp := &BuildResponse{}
	if err := m.checkDB(context.Background(), req, resp); err != nil {
		t.Fatal(err)
	}

	if err := m.fetch(context.Background(), req, resp); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if _, err := os.Stat(req.Pipeline.ISOPath); err != nil {
		t.Errorf("expected fetched iso: %v", err)
	}
	// already present, no second download
	if err := m.fetch(context.Background(), req, resp); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if store.downloads != 1 {
		t.Errorf("expected 1 download, got %d", store.downloads)
	}

	if err := m.publish(context.Background(), req, resp); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if resp.OutputSHA256 != "cafe" {
		t.Errorf("expected sha from upload, got %q", resp.OutputSHA256)
	}
	// an existing key is overwritten, not refused
	if err := m.publish(context.Background(), req, resp); err != nil {
		t.Fatalf("second publish failed: %v", err)
	}
	if store.uploads != 2 {
		t.Errorf("expected 2 uploads, got %d", store.uploads)
	}

	if err := m.complete(context.Background(), req, resp); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	run, _ := repo.GetByRunID("run-4")
	if run.Status != db.StatusSucceeded || run.OutputSHA256 != "cafe" {
		t.Errorf("completion not recorded: %+v", run)
	}
	if res := resultFromRun(run); !res.Success || res.FailedStage != "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestFetch_TransientErrorIsRetryable(t *testing.T) {
	store := &fakeStore{err: stderrors.New("connection reset")}
	m, _ := newTestMachine(t, imageformat.DualFormatDetectionResult{}, store)
	req := newBuildRequest(t, "run-5")
	req.SourceKey = "isos/win11.iso"
	resp := &BuildResponse{}
	if err := m.checkDB(context.Background(), req, resp); err != nil {
		t.Fatal(err)
	}

	err := m.fetch(context.Background(), req, resp)
	if err == nil {
		t.Fatal("expected error")
	}
	var ab *abortError
	if stderrors.As(err, &ab) {
		t.Error("transient fetch error should be retried, not aborted")
	}
}

func TestFetch_MissingKeyAborts(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{}}
	m, repo := newTestMachine(t, imageformat.DualFormatDetectionResult{}, store)
	req := newBuildRequest(t, "run-7")
	req.SourceKey = "isos/missing.iso"
	resp := &BuildResponse{}
	if err := m.checkDB(context.Background(), req, resp); err != nil {
		t.Fatal(err)
	}

	err := m.fetch(context.Background(), req, resp)
	var ab *abortError
	if !stderrors.As(err, &ab) {
		t.Fatalf("expected abort for a missing key, got %v", err)
	}
	if store.downloads != 0 {
		t.Errorf("expected no download attempt, got %d", store.downloads)
	}

	run, _ := repo.GetByRunID("run-7")
	if run.Status != db.StatusFailed || run.FailedStage != StateFetch {
		t.Errorf("failure not recorded: %+v", run)
	}
}

func TestSkippedTransfers(t *testing.T) {
	m, _ := newTestMachine(t, imageformat.DualFormatDetectionResult{}, nil)
	req := newBuildRequest(t, "run-6")
	resp := &BuildResponse{}

	if err := m.fetch(context.Background(), req, resp); err != nil {
		t.Errorf("fetch without key should be skipped: %v", err)
	}
	if err := m.publish(context.Background(), req, resp); err != nil {
		t.Errorf("publish without key should be skipped: %v", err)
	}
}
