package commands

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/isoforge/isoforge/internal/config"
	"github.com/isoforge/isoforge/pkg/db"
	"github.com/isoforge/isoforge/pkg/errors"
)

var listRemote string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded build runs and their status",
	Long: `Lists the build runs recorded in the run database.

With --remote, lists the ISO objects stored in the S3 bucket under the given
prefix instead; pass "" for the whole bucket.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listRemote, "remote", "", "List bucket objects under this prefix instead of runs")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("remote") {
		return listObjects(cmd.Context(), cfg, listRemote)
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	header("%-36s %-10s %-12s %-10s %s", "RUN", "STATUS", "STAGE", "SIZE", "OUTPUT")
	fmt.Println("------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		stage := run.Stage
		if run.FailedStage != "" {
			stage = run.FailedStage
		}
		if stage == "" {
			stage = "-"
		}
		size := "-"
		if run.OutputSize > 0 {
			size = humanize.IBytes(uint64(run.OutputSize))
		}

		line := fmt.Sprintf("%-36s %-10s %-12s %-10s %s", run.RunID, run.Status, stage, size, run.OutputPath)
		switch run.Status {
		case db.StatusSucceeded:
			okColor.Println(line)
		case db.StatusFailed:
			failColor.Println(line)
		default:
			fmt.Println(line)
		}
		if run.Status == db.StatusFailed && run.Message != "" {
			fmt.Printf("    %s\n", run.Message)
		}
	}

	return nil
}

func listObjects(ctx context.Context, cfg *config.Config, prefix string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("--remote needs --s3-bucket")
	}

	keys, err := client.ListObjects(ctx, prefix)
	if err != nil {
		return errors.Wrap(err, "remote list failed")
	}
	if len(keys) == 0 {
		fmt.Printf("No objects under s3://%s/%s\n", cfg.S3Bucket, prefix)
		return nil
	}

	header("%s", "KEY")
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
