package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "isoforge",
	Short: "Customize and rebuild Windows installation ISOs",
	Long: `Stages drivers and an answer file into an extracted Windows installation tree
and re-masters it into a bootable ISO. Runs are recorded so their outcome can be listed later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setLogLevel(viper.GetString("log-level"))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fail("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/runs.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("work-dir", ".artifacts/work", "Scratch directory for fetched ISOs")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for fetching and publishing ISOs")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("ambiguity-policy", "fail", "What to do when install.wim and install.esd both exist (fail, prefer-wim, prefer-esd, keep-both)")
	rootCmd.PersistentFlags().String("driver-policy", "", "TOML file overriding the storage driver classification table")
	rootCmd.PersistentFlags().String("language", "en", "Language for user-facing messages")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "work-dir", "s3-bucket", "s3-region",
		"ambiguity-policy", "driver-policy", "language", "log-level",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func setLogLevel(level string) error {
	var l slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		return nil
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}
