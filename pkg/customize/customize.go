// Package customize stages an answer file and driver packages into an
// extracted installation tree before it is re-mastered.
package customize

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/isoforge/isoforge/pkg/drivers"
	"github.com/isoforge/isoforge/pkg/errors"
)

// Layout inside the working directory.
const (
	AnswerFileName   = "autounattend.xml"
	StorageDriverDir = "$WinpeDriver$"
)

// GeneralDriverDir is where setup picks up drivers for the installed system.
var GeneralDriverDir = filepath.Join("sources", "$OEM$", "$1", "Drivers")

// Customizer injects content into a working directory.
type Customizer struct {
	categorizer *drivers.Categorizer
	logger      *slog.Logger
}

// NewCustomizer creates a Customizer. A nil logger uses slog.Default().
func NewCustomizer(categorizer *drivers.Categorizer, logger *slog.Logger) *Customizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Customizer{categorizer: categorizer, logger: logger}
}

// InjectAnswerFile copies src to the answer file location at the root of wd.
// The destination is either the complete new content or left untouched.
func (c *Customizer) InjectAnswerFile(src, wd string) bool {
	st, err := os.Stat(src)
	if err != nil || !st.Mode().IsRegular() {
		c.logger.Error("answer_file_source_missing", "source", src, "error", err)
		return false
	}
	if st, err := os.Stat(wd); err != nil || !st.IsDir() {
		c.logger.Error("answer_file_working_dir_missing", "working_dir", wd, "error", err)
		return false
	}

	dst := filepath.Join(wd, AnswerFileName)
	if err := replaceFile(src, dst); err != nil {
		c.logger.Error("answer_file_inject_failed", "source", src, "destination", dst, "error", err)
		return false
	}

	c.logger.Info("answer_file_injected", "source", src, "destination", dst)
	return true
}

// InjectDrivers copies every driver package under driverSource into wd,
// storage drivers where setup loads them during WinPE and the rest where they
// are installed after setup. It reports false when nothing was copied.
func (c *Customizer) InjectDrivers(wd, driverSource string) bool {
	st, err := os.Stat(driverSource)
	if err != nil || !st.IsDir() {
		c.logger.Error("drivers_source_missing", "source", driverSource, "error", err)
		return false
	}
	if st, err := os.Stat(wd); err != nil || !st.IsDir() {
		c.logger.Error("drivers_working_dir_missing", "working_dir", wd, "error", err)
		return false
	}

	storageRoot := filepath.Join(wd, StorageDriverDir)
	generalRoot := filepath.Join(wd, GeneralDriverDir)

	exclude := ""
	if within(wd, driverSource) {
		exclude = wd
	}

	copied := c.categorizer.CategorizeAndCopyDrivers(driverSource, storageRoot, generalRoot, exclude)
	if copied == 0 {
		c.logger.Error("drivers_inject_failed", "source", driverSource, "working_dir", wd)
		return false
	}

	c.logger.Info("drivers_injected", "source", driverSource, "packages", copied)
	return true
}

func replaceFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.E(errors.ErrFilesystemFailure, "open_answer_file", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+AnswerFileName+".*")
	if err != nil {
		return errors.E(errors.ErrFilesystemFailure, "create_temp", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return errors.E(errors.ErrFilesystemFailure, "copy_answer_file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.E(errors.ErrFilesystemFailure, "sync_answer_file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.E(errors.ErrFilesystemFailure, "close_answer_file", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.E(errors.ErrFilesystemFailure, "chmod_answer_file", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return errors.E(errors.ErrFilesystemFailure, "rename_answer_file", err)
	}
	committed = true
	return nil
}

// within reports whether path lies at or below dir, case-insensitively.
func within(path, dir string) bool {
	absPath, err1 := filepath.Abs(path)
	absDir, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(strings.ToLower(absDir), strings.ToLower(absPath))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
