// Package messages is the catalog of user-facing text. Callers pass a key and
// arguments; wording lives here, one table per language.
package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Keys.
const (
	BuildSucceeded         = "build.succeeded"
	StageFailed            = "stage.failed"
	ISONotFound            = "validate.iso_not_found"
	ISOWrongExtension      = "validate.iso_wrong_extension"
	ISOTooSmall            = "validate.iso_too_small"
	ISOTooLarge            = "validate.iso_too_large"
	ISOInsideWorkingDir    = "validate.iso_inside_working_dir"
	WorkingDirMissing      = "validate.working_dir_missing"
	OutputPathInvalid      = "validate.output_path_invalid"
	ImageNotFound          = "detect.image_not_found"
	ImageAmbiguous         = "resolve.image_ambiguous"
	ImageDeleteFailed      = "resolve.image_delete_failed"
	AnswerFileFailed       = "customize.answer_file_failed"
	DriversFailed          = "customize.drivers_failed"
	ToolUnavailable        = "tool.unavailable"
	BootSectorMissing      = "build.boot_sector_missing"
	SizeEstimateFailed     = "build.size_estimate_failed"
	InsufficientSpace      = "build.insufficient_space"
	MasteringFailed        = "build.mastering_failed"
	OutputMissing          = "build.output_missing"
	CleanupFailed          = "cleanup.failed"
	CancelledBeforeStage   = "stage.cancelled"
	UnknownAmbiguityPolicy = "resolve.unknown_policy"
	FetchFailed            = "fetch.failed"
	PublishFailed          = "publish.failed"
	RetriesExhausted       = "workflow.retries_exhausted"
)

var english = map[string]string{
	BuildSucceeded:         "ISO written to %s (%s)",
	StageFailed:            "stage %s failed: %s",
	ISONotFound:            "source ISO %s does not exist",
	ISOWrongExtension:      "source %s is not an .iso file",
	ISOTooSmall:            "source ISO %s is only %s, not a real installation image",
	ISOTooLarge:            "source ISO %s is %s, above the configured limit of %s",
	ISOInsideWorkingDir:    "source ISO %s lies inside working directory %s, which is mastered and then removed",
	WorkingDirMissing:      "working directory %s does not exist",
	OutputPathInvalid:      "output path %s must name an .iso file in an existing directory",
	ImageNotFound:          "no install.wim or install.esd found under %s",
	ImageAmbiguous:         "both install.wim and install.esd exist under %s; choose an ambiguity policy",
	ImageDeleteFailed:      "could not delete %s image from %s",
	AnswerFileFailed:       "could not inject answer file %s",
	DriversFailed:          "no driver package could be injected from %s",
	ToolUnavailable:        "ISO mastering tool is not installed and could not be provisioned",
	BootSectorMissing:      "boot sector file %s is missing; the ISO would not boot",
	SizeEstimateFailed:     "could not estimate output size for %s",
	InsufficientSpace:      "not enough free space for %s (needs about %s)",
	MasteringFailed:        "mastering tool exited with code %d",
	OutputMissing:          "mastering tool reported success but %s was not created",
	CleanupFailed:          "working directory %s could not be removed",
	CancelledBeforeStage:   "run cancelled before stage %s",
	UnknownAmbiguityPolicy: "unknown ambiguity policy %q",
	FetchFailed:            "could not fetch %s into %s",
	PublishFailed:          "could not publish %s as %s",
	RetriesExhausted:       "state %s gave up after %d attempts",
}

// Catalog resolves message keys for one language.
type Catalog struct {
	printer *message.Printer
}

var builder = newBuilder()

func newBuilder() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range english {
		_ = b.SetString(language.English, key, msg)
	}
	return b
}

// New returns a Catalog for the closest supported match of tag. Unsupported
// languages get English.
func New(tag language.Tag) *Catalog {
	supported := builder.Languages()
	_, idx, _ := language.NewMatcher(supported).Match(tag)
	return &Catalog{printer: message.NewPrinter(supported[idx], message.Catalog(builder))}
}

// Default returns the English catalog.
func Default() *Catalog {
	return New(language.English)
}

// Text formats the message stored under key with args.
func (c *Catalog) Text(key string, args ...any) string {
	return c.printer.Sprintf(key, args...)
}

// Keys lists every known key.
func Keys() []string {
	keys := make([]string, 0, len(english))
	for k := range english {
		keys = append(keys, k)
	}
	return keys
}
