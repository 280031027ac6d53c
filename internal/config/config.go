package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/isoforge/isoforge/pkg/pipeline"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Scratch space for fetched ISOs and working trees
	WorkDir string `mapstructure:"work-dir"`

	// S3 configuration; an empty bucket disables fetch and publish
	S3Bucket    string `mapstructure:"s3-bucket"`
	S3Region    string `mapstructure:"s3-region"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`

	// Source validation
	MinISOSize int64 `mapstructure:"min-iso-size"`
	MaxISOSize int64 `mapstructure:"max-iso-size"`

	// Pipeline policy
	AmbiguityPolicy string  `mapstructure:"ambiguity-policy"`
	SizeMargin      float64 `mapstructure:"size-margin"`
	VolumeLabel     string  `mapstructure:"volume-label"`

	// Driver classification table; empty uses the built-in one
	DriverPolicyPath string `mapstructure:"driver-policy"`

	// Mastering tool; empty values keep the platform defaults
	ToolBinary    string `mapstructure:"tool-binary"`
	ToolPackageID string `mapstructure:"tool-package"`

	// Imaging tool used to list install image indices
	ImagingTool string `mapstructure:"imaging-tool"`

	// Message catalog language (BCP 47)
	Language string `mapstructure:"language"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("sqlite-path", ".artifacts/runs.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("work-dir", ".artifacts/work")
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-anonymous", false)
	viper.SetDefault("min-iso-size", 1024*1024)
	viper.SetDefault("max-iso-size", 0)
	viper.SetDefault("ambiguity-policy", string(pipeline.AmbiguityFail))
	viper.SetDefault("size-margin", 0.10)
	viper.SetDefault("volume-label", pipeline.DefaultVolumeLabel)
	viper.SetDefault("driver-policy", "")
	viper.SetDefault("tool-binary", "")
	viper.SetDefault("tool-package", "")
	viper.SetDefault("imaging-tool", "")
	viper.SetDefault("language", "en")
	viper.SetDefault("fsm-max-retries", 3)

	// Environment variables (will be ISOFORGE_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("ISOFORGE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.isoforge")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return fmt.Errorf("s3-region cannot be empty when s3-bucket is set")
	}
	if c.MinISOSize <= 0 {
		return fmt.Errorf("min-iso-size must be positive")
	}
	if c.MaxISOSize < 0 {
		return fmt.Errorf("max-iso-size must be non-negative")
	}
	if c.MaxISOSize > 0 && c.MaxISOSize < c.MinISOSize {
		return fmt.Errorf("max-iso-size must not be below min-iso-size")
	}
	if _, err := pipeline.ParseAmbiguityPolicy(c.AmbiguityPolicy); err != nil {
		return err
	}
	if c.SizeMargin < 0 {
		return fmt.Errorf("size-margin must be non-negative")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
