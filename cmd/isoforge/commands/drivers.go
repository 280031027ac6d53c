package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var driversCmd = &cobra.Command{
	Use:   "drivers",
	Short: "Classify and inject driver packages",
}

var driversClassifyCmd = &cobra.Command{
	Use:   "classify <descriptor.inf>...",
	Short: "Report whether each descriptor belongs to a storage driver",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDriversClassify,
}

var driversInjectCmd = &cobra.Command{
	Use:   "inject <working-dir> <driver-source>",
	Short: "Copy driver packages into an extracted tree",
	Args:  cobra.ExactArgs(2),
	RunE:  runDriversInject,
}

func init() {
	rootCmd.AddCommand(driversCmd)
	driversCmd.AddCommand(driversClassifyCmd)
	driversCmd.AddCommand(driversInjectCmd)
}

func runDriversClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	for _, path := range args {
		kind := "general"
		if c.categorizer.IsStorageDriver(path) {
			kind = "storage"
		}
		fmt.Printf("%-8s %s\n", kind, path)
	}
	return nil
}

func runDriversInject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	if !c.customizer.InjectDrivers(args[0], args[1]) {
		return fmt.Errorf("no driver package could be injected from %s", args[1])
	}
	success("drivers from %s staged into %s", args[1], args[0])
	return nil
}
