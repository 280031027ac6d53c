package pipeline

import (
	"fmt"
	"strings"

	"github.com/isoforge/isoforge/pkg/imageformat"
)

// Stage names a pipeline step. Stages run in the order of Stages.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageDetect     Stage = "detect"
	StageResolve    Stage = "resolve"
	StageCustomize  Stage = "customize"
	StageEnsureTool Stage = "ensure_tool"
	StageBuild      Stage = "build"
	StageCleanup    Stage = "cleanup"
)

// Stages is the gated sequence of a run. Cleanup is not part of it; it runs
// after the sequence whatever the outcome.
var Stages = []Stage{
	StageValidate,
	StageDetect,
	StageResolve,
	StageCustomize,
	StageEnsureTool,
	StageBuild,
}

// AmbiguityPolicy decides what happens when both install.wim and install.esd
// are present in the working tree.
type AmbiguityPolicy string

const (
	// AmbiguityFail stops the run at the resolve stage.
	AmbiguityFail AmbiguityPolicy = "fail"
	// AmbiguityPreferWim deletes install.esd.
	AmbiguityPreferWim AmbiguityPolicy = "prefer-wim"
	// AmbiguityPreferEsd deletes install.wim.
	AmbiguityPreferEsd AmbiguityPolicy = "prefer-esd"
	// AmbiguityKeepBoth masters both containers into the output.
	AmbiguityKeepBoth AmbiguityPolicy = "keep-both"
)

// ParseAmbiguityPolicy maps a configuration value to a policy. Empty means
// AmbiguityFail.
func ParseAmbiguityPolicy(s string) (AmbiguityPolicy, error) {
	switch p := AmbiguityPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return AmbiguityFail, nil
	case AmbiguityFail, AmbiguityPreferWim, AmbiguityPreferEsd, AmbiguityKeepBoth:
		return p, nil
	}
	return "", fmt.Errorf("unknown ambiguity policy %q", s)
}

// Request is the input of one run. Paths are used as given.
type Request struct {
	ISOPath        string          `json:"iso_path"`
	WorkingDir     string          `json:"working_dir"`
	OutputPath     string          `json:"output_path"`
	AnswerFile     string          `json:"answer_file,omitempty"`
	DriverSource   string          `json:"driver_source,omitempty"`
	VolumeLabel    string          `json:"volume_label,omitempty"`
	KeepWorkingDir bool            `json:"keep_working_dir,omitempty"`
	Ambiguity      AmbiguityPolicy `json:"ambiguity,omitempty"`
}

// State accumulates what earlier stages learned for later ones.
type State struct {
	Detection      imageformat.DualFormatDetectionResult `json:"detection"`
	Format         imageformat.Format                    `json:"format,omitempty"`
	ToolPath       string                                `json:"tool_path,omitempty"`
	EstimatedBytes int64                                 `json:"estimated_bytes,omitempty"`
	OutputBytes    int64                                 `json:"output_bytes,omitempty"`
}

// Result is the outcome of one run. FailedStage is empty on success.
type Result struct {
	Success     bool   `json:"success"`
	FailedStage Stage  `json:"failed_stage,omitempty"`
	Message     string `json:"message"`
}
