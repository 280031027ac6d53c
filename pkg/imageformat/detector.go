// Package imageformat finds the install image of an extracted Windows ISO
// tree, tells WIM from ESD and lists the editions it contains through an
// external imaging tool.
package imageformat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/platform"
	"github.com/isoforge/isoforge/pkg/session"
)

// ImagePlaceholder in ImagingTool.Args is replaced by the image path.
const ImagePlaceholder = "{image}"

// ImagingTool is the external binary used to list the images of a container.
type ImagingTool struct {
	Binary string
	Args   []string
}

// DefaultImagingTool returns DISM on Windows and wimlib elsewhere.
func DefaultImagingTool() ImagingTool {
	if runtime.GOOS == "windows" {
		return ImagingTool{
			Binary: "dism.exe",
			Args:   []string{"/English", "/Get-WimInfo", "/WimFile:" + ImagePlaceholder},
		}
	}
	return ImagingTool{
		Binary: "wimlib-imagex",
		Args:   []string{"info", ImagePlaceholder},
	}
}

func (t ImagingTool) args(image string) []string {
	out := make([]string, len(t.Args))
	for i, a := range t.Args {
		out[i] = strings.ReplaceAll(a, ImagePlaceholder, image)
	}
	return out
}

// Detector probes working trees for install images.
type Detector struct {
	guard  *session.Guard
	tool   ImagingTool
	logger *slog.Logger
}

// NewDetector creates a Detector listing images through guard with tool.
func NewDetector(guard *session.Guard, tool ImagingTool, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{guard: guard, tool: tool, logger: logger}
}

// ImagePath returns where the container of format f lives under workingDir.
func ImagePath(workingDir string, f Format) string {
	return filepath.Join(workingDir, SourcesDir, f.FileName())
}

// DetectImageFormat returns the install image of workingDir, preferring WIM
// over ESD, or nil when the tree has no sources folder or no container.
func (d *Detector) DetectImageFormat(ctx context.Context, workingDir string) *ImageFormatInfo {
	if !isDir(filepath.Join(workingDir, SourcesDir)) {
		d.logger.Warn("image_sources_missing", "working_dir", workingDir)
		return nil
	}
	for _, f := range []Format{Wim, Esd} {
		if info := d.detect(ctx, workingDir, f); info != nil {
			return info
		}
	}
	d.logger.Warn("image_not_found", "working_dir", workingDir)
	return nil
}

// DetectAllImageFormats probes WIM and ESD independently. When both exist a
// single warning is logged; choosing between them is left to the caller.
func (d *Detector) DetectAllImageFormats(ctx context.Context, workingDir string) DualFormatDetectionResult {
	var res DualFormatDetectionResult
	if !isDir(filepath.Join(workingDir, SourcesDir)) {
		d.logger.Warn("image_sources_missing", "working_dir", workingDir)
		return res
	}

	res.WimInfo = d.detect(ctx, workingDir, Wim)
	res.EsdInfo = d.detect(ctx, workingDir, Esd)

	if res.BothExist() {
		d.logger.Warn("image_format_ambiguous",
			"working_dir", workingDir,
			"wim", ImagePath(workingDir, Wim),
			"esd", ImagePath(workingDir, Esd),
			"reason", "only one install image can be authoritative")
	}
	return res
}

// DeleteImageFile removes the container of format f. A missing container is
// reported as false. Read-only and system attributes are cleared first; the
// result confirms the file is gone.
func (d *Detector) DeleteImageFile(workingDir string, f Format) bool {
	path := ImagePath(workingDir, f)
	if _, err := os.Stat(path); err != nil {
		d.logger.Warn("image_delete_missing", "path", path, "error", err)
		return false
	}

	if err := platform.ClearAttributes(path); err != nil {
		d.logger.Warn("image_clear_attributes_failed", "path", path, "error", err)
	}
	if err := os.Remove(path); err != nil {
		d.logger.Error("image_delete_failed", "path", path,
			"kind", errors.ErrFilesystemFailure, "error", err)
	}

	_, err := os.Stat(path)
	gone := os.IsNotExist(err)
	d.logger.Info("image_deleted", "path", path, "format", f, "confirmed", gone)
	return gone
}

func (d *Detector) detect(ctx context.Context, workingDir string, f Format) *ImageFormatInfo {
	path := ImagePath(workingDir, f)
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return nil
	}

	info := &ImageFormatInfo{Format: f, SizeBytes: st.Size()}

	entries, err := d.listImages(ctx, path)
	if err != nil {
		d.logger.Error("image_list_failed", "path", path, "kind", errors.KindOf(err), "error", err)
		return info
	}
	for _, e := range entries {
		info.Indices = append(info.Indices, e.index)
		info.EditionNames = append(info.EditionNames, e.name)
	}
	info.ImageCount = len(entries)

	d.logger.Info("image_detected",
		"path", path,
		"format", f,
		"images", info.ImageCount,
		"size", humanize.IBytes(uint64(info.SizeBytes)))
	return info
}

func (d *Detector) listImages(ctx context.Context, image string) ([]imageEntry, error) {
	var entries []imageEntry
	err := d.guard.Do(ctx, "list_images", func(ctx context.Context, s *session.Session) error {
		res, err := s.Run(ctx, d.tool.Binary, d.tool.args(image), nil)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return errors.E(errors.ErrProcessFailure, "list_images",
				fmt.Errorf("%s exited with code %d: %s", d.tool.Binary, res.ExitCode, strings.TrimSpace(res.Stderr)))
		}
		entries = parseImageList(res.Stdout)
		if len(entries) == 0 {
			return errors.E(errors.ErrProcessFailure, "list_images",
				fmt.Errorf("no image index found in %s output", d.tool.Binary))
		}
		return nil
	})
	return entries, err
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
