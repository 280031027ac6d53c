package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/isoforge/isoforge/pkg/imageformat"
)

var (
	detectDelete  string
	detectPrimary bool
)

var detectCmd = &cobra.Command{
	Use:   "detect <working-dir>",
	Short: "Show the install images found in an extracted tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().StringVar(&detectDelete, "delete", "", "Delete the install image of this format (wim or esd)")
	detectCmd.Flags().BoolVar(&detectPrimary, "primary", false, "Only show the image a build would service (WIM before ESD)")
}

func runDetect(cmd *cobra.Command, args []string) error {
	wd := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	if detectDelete != "" {
		f, ok := imageformat.ParseFormat(detectDelete)
		if !ok {
			return fmt.Errorf("unknown image format %q", detectDelete)
		}
		if !c.detector.DeleteImageFile(wd, f) {
			return fmt.Errorf("could not delete %s", imageformat.ImagePath(wd, f))
		}
		success("deleted %s", imageformat.ImagePath(wd, f))
		return nil
	}

	if detectPrimary {
		info := c.detector.DetectImageFormat(context.Background(), wd)
		if info == nil {
			return fmt.Errorf("no install image under %s", wd)
		}
		printImages(info)
		return nil
	}

	result := c.detector.DetectAllImageFormats(context.Background(), wd)
	if result.NeitherExists() {
		return fmt.Errorf("no install image under %s", wd)
	}

	printImages(result.WimInfo, result.EsdInfo)

	if result.BothExist() {
		warn("both install.wim and install.esd are present; build needs an ambiguity policy other than %q", "fail")
	}
	return nil
}

func printImages(infos ...*imageformat.ImageFormatInfo) {
	header("%-6s %-8s %-12s %s", "FORMAT", "IMAGES", "SIZE", "EDITIONS")
	fmt.Println("--------------------------------------------------------------------------")
	for _, info := range infos {
		if info == nil {
			continue
		}
		editions := make([]string, len(info.EditionNames))
		for i, name := range info.EditionNames {
			editions[i] = fmt.Sprintf("%d:%s", info.Indices[i], name)
		}
		fmt.Printf("%-6s %-8d %-12s %s\n",
			info.Format, info.ImageCount, humanize.IBytes(uint64(info.SizeBytes)), strings.Join(editions, ", "))
	}
}
