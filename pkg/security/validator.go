package security

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/isoforge/isoforge/pkg/errors"
	"github.com/isoforge/isoforge/pkg/messages"
)

// ISOExt is the only accepted source and output extension.
const ISOExt = ".iso"

// DefaultMinISOSize rejects anything under a megabyte as not a real image.
const DefaultMinISOSize = 1024 * 1024

// Validator checks the paths a build run is given before anything touches
// the working tree.
type Validator struct {
	minISOSize int64
	maxISOSize int64
}

// NewValidator creates a validator. maxISOSize <= 0 disables the upper bound.
func NewValidator(minISOSize, maxISOSize int64) *Validator {
	slog.Info("security_validator_init",
		"min_iso_size", humanize.IBytes(uint64(max(minISOSize, 0))),
		"max_iso_size_mb", maxISOSize/1024/1024)

	return &Validator{
		minISOSize: minISOSize,
		maxISOSize: maxISOSize,
	}
}

// ValidateISO checks the source ISO: .iso extension, exists as a regular file
// and is at least the minimum plausible size.
func (v *Validator) ValidateISO(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ISOExt) {
		slog.Error("security_iso_validation_failed", "path", path, "reason", "extension")
		return errors.Localized(errors.ErrValidation, "validate_iso", messages.ISOWrongExtension, nil, path)
	}

	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		slog.Error("security_iso_validation_failed", "path", path, "reason", "missing", "error", err)
		return errors.Localized(errors.ErrValidation, "validate_iso", messages.ISONotFound, err, path)
	}

	if st.Size() < v.minISOSize {
		slog.Error("security_iso_validation_failed",
			"path", path,
			"reason", "too_small",
			"size", st.Size(),
			"min_size", v.minISOSize)
		return errors.Localized(errors.ErrValidation, "validate_iso", messages.ISOTooSmall, nil,
			path, humanize.IBytes(uint64(st.Size())))
	}

	if v.maxISOSize > 0 && st.Size() > v.maxISOSize {
		slog.Error("security_iso_validation_failed",
			"path", path,
			"reason", "too_large",
			"size_mb", st.Size()/1024/1024,
			"max_size_mb", v.maxISOSize/1024/1024)
		return errors.Localized(errors.ErrValidation, "validate_iso", messages.ISOTooLarge, nil,
			path, humanize.IBytes(uint64(st.Size())), humanize.IBytes(uint64(v.maxISOSize)))
	}

	slog.Info("security_iso_validated", "path", path, "size", humanize.IBytes(uint64(st.Size())))
	return nil
}

// IsValidISO is ValidateISO as a go/no-go answer.
func (v *Validator) IsValidISO(path string) bool {
	return v.ValidateISO(path) == nil
}

// ValidateWorkingDir checks the extracted tree exists.
func (v *Validator) ValidateWorkingDir(path string) error {
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		slog.Error("security_working_dir_validation_failed", "path", path, "error", err)
		return errors.Localized(errors.ErrValidation, "validate_working_dir", messages.WorkingDirMissing, err, path)
	}
	return nil
}

// ValidateISOLocation rejects a source ISO stored inside the working tree:
// it would be mastered into the output and removed by cleanup.
func (v *Validator) ValidateISOLocation(iso, workingDir string) error {
	if workingDir != "" && isWithin(iso, workingDir) {
		slog.Error("security_iso_validation_failed", "path", iso, "reason", "inside_working_dir", "working_dir", workingDir)
		return errors.Localized(errors.ErrValidation, "validate_iso", messages.ISOInsideWorkingDir, nil, iso, workingDir)
	}
	return nil
}

// ValidateOutputPath checks the output names an .iso file in an existing
// directory and does not point inside the working tree, which would be
// mastered into itself and then deleted by cleanup.
func (v *Validator) ValidateOutputPath(output, workingDir string) error {
	fail := func(reason string, err error) error {
		slog.Error("security_output_validation_failed", "path", output, "reason", reason, "error", err)
		return errors.Localized(errors.ErrValidation, "validate_output", messages.OutputPathInvalid, err, output)
	}

	if !strings.EqualFold(filepath.Ext(output), ISOExt) {
		return fail("extension", nil)
	}
	st, err := os.Stat(filepath.Dir(output))
	if err != nil || !st.IsDir() {
		return fail("parent_missing", err)
	}
	if workingDir != "" && isWithin(output, workingDir) {
		return fail("inside_working_dir", nil)
	}
	return nil
}

// ValidatePath rejects relative paths that escape their base directory.
func (v *Validator) ValidatePath(rel string) error {
	if filepath.IsAbs(rel) {
		slog.Error("security_path_validation_failed", "path", rel, "reason", "absolute_path")
		return errors.E(errors.ErrValidation, "validate_path", nil)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_path_validation_failed", "path", rel, "reason", "path_traversal")
		return errors.E(errors.ErrValidation, "validate_path", nil)
	}
	return nil
}

func isWithin(path, dir string) bool {
	absPath, err1 := filepath.Abs(path)
	absDir, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
