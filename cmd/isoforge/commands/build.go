package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/isoforge/isoforge/pkg/errors"
	appfsm "github.com/isoforge/isoforge/pkg/fsm"
	"github.com/isoforge/isoforge/pkg/pipeline"
)

var (
	buildISO        string
	buildWorkingDir string
	buildOutput     string
	buildAnswerFile string
	buildDrivers    string
	buildLabel      string
	buildKeep       bool
	buildSourceKey  string
	buildPublishKey string
	buildDirect     bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Customize an extracted installation tree and master it into an ISO",
	Long: `Runs the build pipeline: validate, detect, resolve, customize, ensure_tool, build.
The working directory is removed afterwards unless --keep is given.

By default the run is driven through the durable workflow and recorded in the
run database. --direct runs the stages in-process without recording the run.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildISO, "iso", "", "Source ISO the working tree was extracted from")
	buildCmd.Flags().StringVar(&buildWorkingDir, "working-dir", "", "Extracted installation tree")
	buildCmd.Flags().StringVar(&buildOutput, "output", "", "Output ISO path")
	buildCmd.Flags().StringVar(&buildAnswerFile, "answer-file", "", "Answer file to inject")
	buildCmd.Flags().StringVar(&buildDrivers, "drivers", "", "Folder of driver packages to inject")
	buildCmd.Flags().StringVar(&buildLabel, "label", "", "Volume label of the output ISO")
	buildCmd.Flags().BoolVar(&buildKeep, "keep", false, "Keep the working directory after the run")
	buildCmd.Flags().StringVar(&buildSourceKey, "source-key", "", "S3 key of the source ISO to fetch first")
	buildCmd.Flags().StringVar(&buildPublishKey, "publish-key", "", "S3 key to publish the output ISO under")
	buildCmd.Flags().BoolVar(&buildDirect, "direct", false, "Run the pipeline in-process without the workflow")
	buildCmd.MarkFlagRequired("working-dir")
	buildCmd.MarkFlagRequired("output")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	iso := buildISO
	if iso == "" && buildSourceKey != "" {
		// the key layout is mirrored below downloads
		if err := c.validator.ValidatePath(filepath.FromSlash(buildSourceKey)); err != nil {
			return fmt.Errorf("source key %q escapes the download directory", buildSourceKey)
		}
		iso = filepath.Join(cfg.WorkDir, "downloads", filepath.FromSlash(buildSourceKey))
	}
	if iso == "" {
		return fmt.Errorf("--iso or --source-key is required")
	}

	label := buildLabel
	if label == "" {
		label = cfg.VolumeLabel
	}

	req := pipeline.Request{
		ISOPath:        iso,
		WorkingDir:     buildWorkingDir,
		OutputPath:     buildOutput,
		AnswerFile:     buildAnswerFile,
		DriverSource:   buildDrivers,
		VolumeLabel:    label,
		KeepWorkingDir: buildKeep,
		Ambiguity:      pipeline.AmbiguityPolicy(cfg.AmbiguityPolicy),
	}

	var res pipeline.Result
	if buildDirect {
		if buildSourceKey != "" || buildPublishKey != "" {
			return fmt.Errorf("--source-key and --publish-key need the workflow; drop --direct")
		}
		res = c.orch.Run(ctx, req)
	} else {
		res, err = runWorkflow(ctx, c, req)
		if err != nil {
			return err
		}
	}

	if !res.Success {
		fail("%s", res.Message)
		return fmt.Errorf("build failed at stage %s", res.FailedStage)
	}
	success("%s", res.Message)
	return nil
}

func runWorkflow(ctx context.Context, c *components, req pipeline.Request) (pipeline.Result, error) {
	cfg := c.cfg
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return pipeline.Result{}, err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer repo.Close()

	client, err := newStore(ctx, cfg)
	if err != nil {
		return pipeline.Result{}, err
	}
	var store appfsm.ArtifactStore
	if client != nil {
		store = client
	} else if buildSourceKey != "" || buildPublishKey != "" {
		return pipeline.Result{}, fmt.Errorf("--source-key and --publish-key need --s3-bucket")
	}

	machine := appfsm.NewMachine(repo, c.orch, store, c.catalog, cfg.FSMMaxRetries)
	runner, err := appfsm.NewRunner(ctx, cfg.FSMDBPath, machine)
	if err != nil {
		return pipeline.Result{}, errors.Wrap(err, "FSM init failed")
	}
	defer runner.Shutdown()

	runID := uuid.NewString()
	slog.Info("build_run_started", "run_id", runID, "working_dir", req.WorkingDir, "output", req.OutputPath)
	headColor.Printf("run %s\n", runID)

	return runner.Execute(ctx, &appfsm.BuildRequest{
		RunID:      runID,
		Pipeline:   req,
		SourceKey:  buildSourceKey,
		PublishKey: buildPublishKey,
	})
}
