// Package pipeline drives a build run: validate the source, detect and
// resolve the install image, customize the working tree, make sure the
// mastering tool exists, master the ISO and clean up.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/imageformat"
	"github.com/isoforge/isoforge/pkg/messages"
	"github.com/isoforge/isoforge/pkg/platform"
	"github.com/isoforge/isoforge/pkg/process"
	"github.com/isoforge/isoforge/pkg/security"
)

// Validator checks run inputs.
type Validator interface {
	ValidateISO(path string) error
	ValidateWorkingDir(path string) error
	ValidateISOLocation(iso, workingDir string) error
	ValidateOutputPath(output, workingDir string) error
}

// Detector probes and trims the install image containers.
type Detector interface {
	DetectAllImageFormats(ctx context.Context, workingDir string) imageformat.DualFormatDetectionResult
	DeleteImageFile(workingDir string, f imageformat.Format) bool
}

// Customizer injects the answer file and drivers.
type Customizer interface {
	InjectAnswerFile(src, workingDir string) bool
	InjectDrivers(workingDir, driverSource string) bool
}

// ToolProvider locates or installs the mastering tool.
type ToolProvider interface {
	EnsureToolAvailable(ctx context.Context) bool
	GetToolPath(ctx context.Context) string
}

// SpaceChecker answers whether the volume holding path can take required
// more bytes.
type SpaceChecker interface {
	HasSpace(path string, required int64) bool
}

// Deps wires an Orchestrator. Detector, Customizer, Tools and Exec are
// required; the rest fall back to defaults.
type Deps struct {
	Validator  Validator
	Detector   Detector
	Customizer Customizer
	Tools      ToolProvider
	Exec       process.Executor
	Space      SpaceChecker
	Estimator  SizeEstimator
	Catalog    *messages.Catalog
	Logger     *slog.Logger
}

// Orchestrator runs pipeline stages against one working directory at a time.
type Orchestrator struct {
	validator  Validator
	detector   Detector
	customizer Customizer
	tools      ToolProvider
	exec       process.Executor
	space      SpaceChecker
	estimator  SizeEstimator
	catalog    *messages.Catalog
	logger     *slog.Logger
}

// New creates an Orchestrator from deps.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		validator:  deps.Validator,
		detector:   deps.Detector,
		customizer: deps.Customizer,
		tools:      deps.Tools,
		exec:       deps.Exec,
		space:      deps.Space,
		estimator:  deps.Estimator,
		catalog:    deps.Catalog,
		logger:     deps.Logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.validator == nil {
		o.validator = security.NewValidator(security.DefaultMinISOSize, 0)
	}
	if o.space == nil {
		o.space = platform.DiskSpaceChecker{Logger: o.logger}
	}
	if o.estimator == nil {
		o.estimator = DefaultSizeEstimator()
	}
	if o.catalog == nil {
		o.catalog = messages.Default()
	}
	return o
}

// Run executes every stage in order, stopping at the first failure, then
// removes the working directory unless the request keeps it.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	o.logger.Info("pipeline_started",
		"iso", req.ISOPath,
		"working_dir", req.WorkingDir,
		"output", req.OutputPath,
		"ambiguity", req.Ambiguity)

	st := &State{}
	failed, err := o.runStages(ctx, &req, st)
	res := o.Report(req, st, failed, err)

	o.Finish(req)

	o.logger.Info("pipeline_finished",
		"success", res.Success,
		"failed_stage", res.FailedStage,
		"duration", time.Since(start).Round(time.Millisecond))
	return res
}

func (o *Orchestrator) runStages(ctx context.Context, req *Request, st *State) (Stage, error) {
	for _, stage := range Stages {
		if err := ctx.Err(); err != nil {
			return stage, errors.Localized(errors.ErrCancelled, string(stage), messages.CancelledBeforeStage, err, stage)
		}
		if err := o.RunStage(ctx, stage, req, st); err != nil {
			return stage, err
		}
	}
	return "", nil
}

// RunStage runs a single stage. Stage errors are logged here and carry a
// message key for Report.
func (o *Orchestrator) RunStage(ctx context.Context, stage Stage, req *Request, st *State) error {
	start := time.Now()
	o.logger.Info("stage_started", "stage", stage)

	var err error
	switch stage {
	case StageValidate:
		err = o.validate(req)
	case StageDetect:
		err = o.detect(ctx, req, st)
	case StageResolve:
		err = o.resolve(req, st)
	case StageCustomize:
		err = o.customize(req)
	case StageEnsureTool:
		err = o.ensureTool(ctx, st)
	case StageBuild:
		err = o.build(ctx, req, st)
	default:
		err = errors.E(errors.ErrValidation, "run_stage", nil)
	}

	if err != nil {
		o.logger.Error("stage_failed",
			"stage", stage,
			"kind", errors.KindOf(err),
			"error", err,
			"duration", time.Since(start).Round(time.Millisecond))
		return err
	}

	o.logger.Info("stage_completed", "stage", stage, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Report turns the outcome of a run into a Result. failed is empty when every
// stage succeeded.
func (o *Orchestrator) Report(req Request, st *State, failed Stage, err error) Result {
	if failed == "" && err == nil {
		return Result{
			Success: true,
			Message: o.catalog.Text(messages.BuildSucceeded, req.OutputPath, humanize.IBytes(uint64(max(st.OutputBytes, 0)))),
		}
	}

	detail := ""
	if le, ok := errors.AsLocalized(err); ok {
		detail = o.catalog.Text(le.Key, le.Args...)
	} else if err != nil {
		detail = err.Error()
	}
	return Result{
		Success:     false,
		FailedStage: failed,
		Message:     o.catalog.Text(messages.StageFailed, failed, detail),
	}
}

// Finish runs cleanup for req unless it asks to keep the working directory.
// Cleanup failures are logged and never change the result of the run.
func (o *Orchestrator) Finish(req Request) {
	if req.KeepWorkingDir {
		o.logger.Info("cleanup_skipped", "working_dir", req.WorkingDir)
		return
	}
	// validation rejects this layout, but the source must survive it anyway
	if req.ISOPath != "" && within(req.ISOPath, req.WorkingDir) {
		o.logger.Warn("cleanup_refused", "working_dir", req.WorkingDir, "reason", "source_iso_inside", "iso", req.ISOPath)
		return
	}
	if !o.Cleanup(req.WorkingDir) {
		o.logger.Warn("cleanup_incomplete", "message", o.catalog.Text(messages.CleanupFailed, req.WorkingDir))
	}
}

// Cleanup removes dir and everything below it. A missing directory counts as
// already clean, so calling it twice is safe.
func (o *Orchestrator) Cleanup(dir string) bool {
	if dir == "" {
		return true
	}
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		o.logger.Debug("cleanup_nothing_to_remove", "working_dir", dir)
		return true
	}

	if err := platform.ClearTreeAttributes(dir); err != nil {
		o.logger.Warn("cleanup_clear_attributes_failed", "working_dir", dir, "error", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Error("cleanup_failed",
			"working_dir", dir,
			"kind", errors.ErrFilesystemFailure,
			"error", err)
		return false
	}
	if _, err := os.Lstat(dir); !os.IsNotExist(err) {
		o.logger.Error("cleanup_failed", "working_dir", dir, "kind", errors.ErrFilesystemFailure, "error", err)
		return false
	}

	o.logger.Info("cleanup_completed", "working_dir", dir)
	return true
}

func (o *Orchestrator) validate(req *Request) error {
	if err := o.validator.ValidateISO(req.ISOPath); err != nil {
		return err
	}
	if err := o.validator.ValidateWorkingDir(req.WorkingDir); err != nil {
		return err
	}
	if err := o.validator.ValidateISOLocation(req.ISOPath, req.WorkingDir); err != nil {
		return err
	}
	if err := o.validator.ValidateOutputPath(req.OutputPath, req.WorkingDir); err != nil {
		return err
	}
	if _, err := ParseAmbiguityPolicy(string(req.Ambiguity)); err != nil {
		return errors.Localized(errors.ErrValidation, "validate_policy", messages.UnknownAmbiguityPolicy, err, req.Ambiguity)
	}
	return nil
}

func (o *Orchestrator) detect(ctx context.Context, req *Request, st *State) error {
	st.Detection = o.detector.DetectAllImageFormats(ctx, req.WorkingDir)
	if st.Detection.NeitherExists() {
		return errors.Localized(errors.ErrResourceUnavailable, "detect_image", messages.ImageNotFound, nil, req.WorkingDir)
	}
	if only := st.Detection.Only(); only != nil {
		st.Format = only.Format
		o.logger.Info("image_detected",
			"format", only.Format,
			"images", only.ImageCount,
			"editions", only.EditionNames,
			"size", humanize.IBytes(uint64(max(only.SizeBytes, 0))))
	}
	return nil
}

func (o *Orchestrator) resolve(req *Request, st *State) error {
	if !st.Detection.BothExist() {
		return nil
	}

	policy, _ := ParseAmbiguityPolicy(string(req.Ambiguity))
	var keep, drop imageformat.Format
	switch policy {
	case AmbiguityKeepBoth:
		o.logger.Warn("image_ambiguity_kept", "working_dir", req.WorkingDir)
		st.Format = ""
		return nil
	case AmbiguityPreferWim:
		keep, drop = imageformat.Wim, imageformat.Esd
	case AmbiguityPreferEsd:
		keep, drop = imageformat.Esd, imageformat.Wim
	default:
		return errors.Localized(errors.ErrValidation, "resolve_image", messages.ImageAmbiguous, nil, req.WorkingDir)
	}

	if !o.detector.DeleteImageFile(req.WorkingDir, drop) {
		return errors.Localized(errors.ErrFilesystemFailure, "resolve_image", messages.ImageDeleteFailed, nil, drop, req.WorkingDir)
	}
	if drop == imageformat.Wim {
		st.Detection.WimInfo = nil
	} else {
		st.Detection.EsdInfo = nil
	}
	st.Format = keep
	o.logger.Info("image_ambiguity_resolved", "policy", policy, "kept", keep, "deleted", drop)
	return nil
}

func (o *Orchestrator) customize(req *Request) error {
	if req.AnswerFile == "" && req.DriverSource == "" {
		o.logger.Info("customize_nothing_requested")
		return nil
	}
	if req.AnswerFile != "" && !o.customizer.InjectAnswerFile(req.AnswerFile, req.WorkingDir) {
		return errors.Localized(errors.ErrFilesystemFailure, "inject_answer_file", messages.AnswerFileFailed, nil, req.AnswerFile)
	}
	if req.DriverSource != "" && !o.customizer.InjectDrivers(req.WorkingDir, req.DriverSource) {
		return errors.Localized(errors.ErrFilesystemFailure, "inject_drivers", messages.DriversFailed, nil, req.DriverSource)
	}
	return nil
}

func (o *Orchestrator) ensureTool(ctx context.Context, st *State) error {
	if !o.tools.EnsureToolAvailable(ctx) {
		return errors.Localized(errors.ErrResourceUnavailable, "ensure_tool", messages.ToolUnavailable, nil)
	}
	st.ToolPath = o.tools.GetToolPath(ctx)
	if st.ToolPath == "" {
		return errors.Localized(errors.ErrResourceUnavailable, "ensure_tool", messages.ToolUnavailable, nil)
	}
	return nil
}

func (o *Orchestrator) build(ctx context.Context, req *Request, st *State) error {
	tool := st.ToolPath
	if tool == "" {
		tool = o.tools.GetToolPath(ctx)
	}
	if tool == "" {
		return errors.Localized(errors.ErrResourceUnavailable, "build_iso", messages.ToolUnavailable, nil)
	}

	if !isFile(filepath.Join(req.WorkingDir, BIOSBootSector)) {
		return errors.Localized(errors.ErrResourceUnavailable, "build_iso", messages.BootSectorMissing, nil, BIOSBootSector)
	}
	uefi := ""
	if isFile(filepath.Join(req.WorkingDir, UEFIBootSector)) {
		uefi = UEFIBootSector
	} else {
		o.logger.Warn("uefi_boot_sector_missing", "path", UEFIBootSector)
	}

	estimate, err := o.estimator.Estimate(req.WorkingDir)
	if err != nil {
		return errors.Localized(errors.ErrFilesystemFailure, "estimate_size", messages.SizeEstimateFailed, err, req.WorkingDir)
	}
	st.EstimatedBytes = estimate

	outDir := filepath.Dir(req.OutputPath)
	if !o.space.HasSpace(outDir, estimate) {
		return errors.Localized(errors.ErrInsufficientSpace, "check_space", messages.InsufficientSpace, nil,
			req.OutputPath, humanize.IBytes(uint64(max(estimate, 0))))
	}

	// a stale output would make the existence check meaningless
	if err := os.Remove(req.OutputPath); err != nil && !os.IsNotExist(err) {
		return errors.Localized(errors.ErrFilesystemFailure, "remove_stale_output", messages.OutputPathInvalid, err, req.OutputPath)
	}

	flavor := FlavorFor(tool)
	cmd := process.Command{
		Name: tool,
		Args: flavor.Args(MasterInput{
			Source:   req.WorkingDir,
			Output:   req.OutputPath,
			Label:    req.VolumeLabel,
			BIOSBoot: BIOSBootSector,
			UEFIBoot: uefi,
		}),
		Progress: func(line string) {
			o.logger.Debug("mastering_progress", "line", line)
		},
	}
	o.logger.Info("mastering_started",
		"tool", tool,
		"flavor", flavor,
		"estimated_size", humanize.IBytes(uint64(max(estimate, 0))),
		"uefi", uefi != "")

	res, err := o.exec.Run(ctx, cmd)
	if err != nil {
		o.discardOutput(req.OutputPath, "run_failed")
		return errors.Localized(errors.ErrProcessFailure, "master_iso", messages.MasteringFailed, err, -1)
	}
	if res.ExitCode != 0 {
		o.logger.Error("mastering_tool_failed", "exit_code", res.ExitCode, "stderr", res.Stderr)
		o.discardOutput(req.OutputPath, "non_zero_exit")
		return errors.Localized(errors.ErrProcessFailure, "master_iso", messages.MasteringFailed, nil, res.ExitCode)
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || !info.Mode().IsRegular() {
		o.discardOutput(req.OutputPath, "not_a_file")
		return errors.Localized(errors.ErrProcessFailure, "master_iso", messages.OutputMissing, err, req.OutputPath)
	}
	st.OutputBytes = info.Size()

	o.logger.Info("mastering_completed",
		"output", req.OutputPath,
		"size", humanize.IBytes(uint64(info.Size())),
		"duration", res.Duration.Round(time.Millisecond))
	return nil
}

// discardOutput removes whatever a failed mastering run left at path.
func (o *Orchestrator) discardOutput(path, reason string) {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		o.logger.Error("partial_output_remove_failed", "output", path, "reason", reason, "error", err)
		return
	}
	o.logger.Warn("partial_output_removed", "output", path, "reason", reason)
}

func within(path, dir string) bool {
	absPath, err1 := filepath.Abs(path)
	absDir, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
