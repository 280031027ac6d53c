package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isoforge/isoforge/pkg/errors"
)

var (
	cleanupFinished bool
	cleanupPrune    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [working-dir]...",
	Short: "Remove working directories left behind by kept or interrupted runs",
	Long: `Remove working directories:
  <working-dir>...   Remove the given directories
  --finished         Remove the working directories of every finished run
  --prune            With --finished, also delete the run records`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupFinished, "finished", false, "Clean working directories of finished runs")
	cleanupCmd.Flags().BoolVar(&cleanupPrune, "prune", false, "Delete the records of cleaned runs")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !cleanupFinished {
		return fmt.Errorf("must name working directories or pass --finished")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	failed := 0
	for _, dir := range args {
		if c.orch.Cleanup(dir) {
			success("cleaned %s", dir)
		} else {
			warn("failed to clean %s", dir)
			failed++
		}
	}

	if cleanupFinished {
		n, err := cleanupFinishedRuns(c)
		if err != nil {
			return err
		}
		failed += n
	}

	if failed > 0 {
		return fmt.Errorf("%d working directories could not be removed", failed)
	}
	return nil
}

func cleanupFinishedRuns(c *components) (int, error) {
	repo, err := openRepository(c.cfg)
	if err != nil {
		return 0, err
	}
	defer repo.Close()

	runs, err := repo.List()
	if err != nil {
		return 0, errors.Wrap(err, "list failed")
	}

	failed := 0
	for _, run := range runs {
		if !run.Finished() {
			continue
		}
		if _, err := os.Stat(run.WorkingDir); err == nil {
			if !c.orch.Cleanup(run.WorkingDir) {
				warn("failed to clean %s (run %s)", run.WorkingDir, run.RunID)
				failed++
				continue
			}
			success("cleaned %s (run %s)", run.WorkingDir, run.RunID)
		}
		if cleanupPrune {
			if err := repo.Delete(run.ID); err != nil {
				return failed, errors.Wrap(err, "failed to delete run")
			}
		}
	}
	return failed, nil
}
