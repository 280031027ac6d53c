// Package platform wraps the OS specific filesystem operations the build
// pipeline needs: free space queries and clearing read-only/system attributes
// on files extracted from optical media.
package platform

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/isoforge/isoforge/pkg/errors"
)

// FreeBytes returns the number of bytes available to the caller on the volume
// holding path. When path does not exist yet the nearest existing ancestor is
// queried instead.
func FreeBytes(path string) (uint64, error) {
	dir, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}
	return freeBytes(dir)
}

// ClearAttributes makes path deletable: read-only and system flags are removed
// on Windows, owner write permission is restored elsewhere.
func ClearAttributes(path string) error {
	if err := clearAttributes(path); err != nil {
		return errors.Wrap(err, "failed to clear attributes")
	}
	return nil
}

// ClearTreeAttributes runs ClearAttributes over every entry below root.
// Entries that vanish during the walk are ignored.
func ClearTreeAttributes(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return ClearAttributes(path)
	})
}

// DiskSpaceChecker answers go/no-go questions about free space using the
// volume that will receive the output.
type DiskSpaceChecker struct {
	Logger *slog.Logger
}

// HasSpace reports whether the volume holding path has at least required
// bytes free. Query failures are logged and treated as no-go.
func (c DiskSpaceChecker) HasSpace(path string, required int64) bool {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}

	free, err := FreeBytes(path)
	if err != nil {
		log.Error("disk_space_query_failed", "path", path, "error", err)
		return false
	}

	if required < 0 {
		required = 0
	}
	ok := free >= uint64(required)
	log.Info("disk_space_checked",
		"path", path,
		"free", humanize.IBytes(free),
		"required", humanize.IBytes(uint64(required)),
		"ok", ok)
	return ok
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve path")
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", errors.E(errors.ErrFilesystemFailure, "existing_ancestor", os.ErrNotExist)
		}
		abs = parent
	}
}
