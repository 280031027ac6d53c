package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"github.com/isoforge/isoforge/internal/config"
	"github.com/isoforge/isoforge/pkg/customize"
	"github.com/isoforge/isoforge/pkg/db"
	"github.com/isoforge/isoforge/pkg/drivers"
	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/imageformat"
	"github.com/isoforge/isoforge/pkg/isotool"
	"github.com/isoforge/isoforge/pkg/messages"
	"github.com/isoforge/isoforge/pkg/pipeline"
	"github.com/isoforge/isoforge/pkg/process"
	"github.com/isoforge/isoforge/pkg/security"
	"github.com/isoforge/isoforge/pkg/session"
	"github.com/isoforge/isoforge/pkg/storage"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Only needed for build
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

// components is the object graph shared by the commands.
type components struct {
	cfg         *config.Config
	catalog     *messages.Catalog
	exec        process.Executor
	validator   *security.Validator
	categorizer *drivers.Categorizer
	detector    *imageformat.Detector
	customizer  *customize.Customizer
	provisioner *isotool.Provisioner
	orch        *pipeline.Orchestrator
}

func newComponents(cfg *config.Config) (*components, error) {
	logger := slog.Default()

	policy := drivers.DefaultPolicy()
	if cfg.DriverPolicyPath != "" {
		p, err := drivers.LoadPolicy(cfg.DriverPolicyPath)
		if err != nil {
			return nil, errors.Wrap(err, "driver policy load failed")
		}
		policy = p
	}

	exec := process.NewExecutor(logger)
	guard := session.NewGuard(exec, logger)

	imaging := imageformat.DefaultImagingTool()
	if fields := strings.Fields(cfg.ImagingTool); len(fields) > 0 {
		imaging = imageformat.ImagingTool{Binary: fields[0], Args: fields[1:]}
	}

	spec := isotool.DefaultToolSpec()
	if cfg.ToolBinary != "" {
		spec.Binary = cfg.ToolBinary
	}
	if cfg.ToolPackageID != "" {
		spec.PackageID = cfg.ToolPackageID
	}

	tag, err := language.Parse(cfg.Language)
	if err != nil {
		logger.Warn("language_parse_failed", "language", cfg.Language, "error", err)
		tag = language.English
	}

	c := &components{
		cfg:         cfg,
		catalog:     messages.New(tag),
		exec:        exec,
		validator:   security.NewValidator(cfg.MinISOSize, cfg.MaxISOSize),
		categorizer: drivers.NewCategorizer(policy, logger),
		detector:    imageformat.NewDetector(guard, imaging, logger),
		provisioner: isotool.NewProvisioner(spec, isotool.DefaultInstaller(exec, logger), logger),
	}
	c.customizer = customize.NewCustomizer(c.categorizer, logger)
	c.orch = pipeline.New(pipeline.Deps{
		Validator:  c.validator,
		Detector:   c.detector,
		Customizer: c.customizer,
		Tools:      c.provisioner,
		Exec:       exec,
		Estimator:  pipeline.TreeSizeEstimator{Margin: cfg.SizeMargin},
		Catalog:    c.catalog,
		Logger:     logger,
	})
	return c, nil
}

// newStore returns the S3 artifact store, or nil when no bucket is set.
func newStore(ctx context.Context, cfg *config.Config) (*storage.Client, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Anonymous)
	if err != nil {
		return nil, errors.Wrap(err, "S3 client failed")
	}
	return client, nil
}

func openRepository(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}
