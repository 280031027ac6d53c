// Package drivers classifies driver packages as storage (needed by setup
// before the target disk is visible) or general, and stages copies of them
// into the matching target trees.
package drivers

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/isoforge/isoforge/pkg/errors"
)

// DescriptorExt is the driver descriptor extension.
const DescriptorExt = ".inf"

// maxNameAttempts bounds the _N suffix search for a free destination folder.
const maxNameAttempts = 100

// Categorizer applies a Policy to driver descriptors.
type Categorizer struct {
	policy Policy
	logger *slog.Logger
}

// NewCategorizer creates a Categorizer. A nil logger uses slog.Default().
func NewCategorizer(policy Policy, logger *slog.Logger) *Categorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Categorizer{policy: policy.normalized(), logger: logger}
}

// IsStorageDriver classifies the package owning descriptorPath. The file name
// is checked against vendor keywords first; otherwise the descriptor's Class=
// line decides. Read or decode failures are logged and count as general.
func (c *Categorizer) IsStorageDriver(descriptorPath string) bool {
	if c.policy.MatchesFileName(filepath.Base(descriptorPath)) {
		c.logger.Debug("driver_storage_keyword_match", "descriptor", descriptorPath)
		return true
	}

	data, err := os.ReadFile(descriptorPath)
	if err != nil {
		c.logger.Warn("driver_descriptor_read_failed", "descriptor", descriptorPath, "error", err)
		return false
	}
	text, err := decodeINF(data)
	if err != nil {
		c.logger.Warn("driver_descriptor_decode_failed", "descriptor", descriptorPath, "error", err)
		return false
	}

	class := parseClass(text)
	if class != "" && c.policy.MatchesClass(class) {
		c.logger.Debug("driver_storage_class_match", "descriptor", descriptorPath, "class", class)
		return true
	}
	return false
}

// CategorizeAndCopyDrivers finds every driver package under sourceDir and
// copies it below storageRoot or generalRoot depending on its class. Anything
// beneath excludeDir is ignored. It returns the number of packages copied;
// finding nothing is not an error.
func (c *Categorizer) CategorizeAndCopyDrivers(sourceDir, storageRoot, generalRoot, excludeDir string) int {
	descriptors := c.findDescriptors(sourceDir, excludeDir)
	if len(descriptors) == 0 {
		c.logger.Warn("driver_descriptors_not_found", "source", sourceDir, "exclude", excludeDir)
		return 0
	}

	// folder -> first descriptor, in walk order
	var folders []string
	first := make(map[string]string)
	visited := make(map[string]bool)
	for _, d := range descriptors {
		dir := filepath.Dir(d)
		key := strings.ToLower(dir)
		if visited[key] {
			continue
		}
		visited[key] = true
		folders = append(folders, dir)
		first[dir] = d
	}

	copied := 0
	for _, dir := range folders {
		storage := c.IsStorageDriver(first[dir])
		root := generalRoot
		if storage {
			root = storageRoot
		}

		dest, ok := freeDestination(root, filepath.Base(dir))
		if !ok {
			c.logger.Error("driver_destination_exhausted", "package", dir, "target_root", root, "attempts", maxNameAttempts)
			continue
		}

		if err := copyPackage(dir, dest, visited); err != nil {
			c.logger.Error("driver_copy_failed", "package", dir, "destination", dest, "error", err)
			continue
		}

		c.logger.Info("driver_package_copied", "package", dir, "destination", dest, "storage", storage)
		copied++
	}

	c.logger.Info("drivers_categorized", "source", sourceDir, "packages", len(folders), "copied", copied)
	return copied
}

func (c *Categorizer) findDescriptors(sourceDir, excludeDir string) []string {
	excludeKey := ""
	if excludeDir != "" {
		if abs, err := filepath.Abs(excludeDir); err == nil {
			excludeKey = strings.ToLower(filepath.Clean(abs))
		}
	}
	root, err := filepath.Abs(sourceDir)
	if err != nil {
		c.logger.Error("driver_source_resolve_failed", "source", sourceDir, "error", err)
		return nil
	}

	var found []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("driver_walk_error", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if excludeKey != "" && underDir(strings.ToLower(path), excludeKey) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), DescriptorExt) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("driver_walk_failed", "source", sourceDir, "error", err)
	}
	return found
}

func underDir(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func freeDestination(root, name string) (string, bool) {
	for i := 0; i <= maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = name + "_" + strconv.Itoa(i)
		}
		dest := filepath.Join(root, candidate)
		if _, err := os.Lstat(dest); os.IsNotExist(err) {
			return dest, true
		}
	}
	return "", false
}

// copyPackage copies the files of src into dst. Subfolders are carried along
// unless they hold a package of their own, which is staged separately.
func copyPackage(src, dst string, packages map[string]bool) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return errors.E(errors.ErrFilesystemFailure, "create_driver_destination", err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.E(errors.ErrFilesystemFailure, "read_driver_package", err)
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		switch {
		case e.IsDir():
			if holdsPackage(from, packages) {
				continue
			}
			if err := copyPackage(from, to, packages); err != nil {
				return err
			}
		case e.Type().IsRegular():
			if err := copyFile(from, to); err != nil {
				return errors.E(errors.ErrFilesystemFailure, "copy_driver_file", err)
			}
		}
	}
	return nil
}

func holdsPackage(dir string, packages map[string]bool) bool {
	key := strings.ToLower(dir)
	for p := range packages {
		if underDir(p, key) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
