package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var toolEnsure bool

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Locate the ISO mastering tool, installing it with --ensure",
	Args:  cobra.NoArgs,
	RunE:  runTool,
}

func init() {
	rootCmd.AddCommand(toolCmd)
	toolCmd.Flags().BoolVar(&toolEnsure, "ensure", false, "Install the tool through the package manager when missing")
}

func runTool(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	if toolEnsure && !c.provisioner.EnsureToolAvailable(ctx) {
		return fmt.Errorf("mastering tool could not be provisioned")
	}

	loc := c.provisioner.Location(ctx)
	if !loc.IsAvailable {
		warn("mastering tool not found; rerun with --ensure to install it")
		return nil
	}
	success("mastering tool: %s", loc.Path)
	return nil
}
