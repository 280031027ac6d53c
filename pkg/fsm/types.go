package fsm

import "github.com/isoforge/isoforge/pkg/pipeline"

// BuildRequest is the FSM input
type BuildRequest struct {
	RunID    string
	Pipeline pipeline.Request

	// SourceKey, when set, is fetched from the artifact store into
	// Pipeline.ISOPath before validation.
	SourceKey string
	// PublishKey, when set, receives the mastered ISO.
	PublishKey string
}

// BuildResponse is the FSM output (accumulated across transitions)
type BuildResponse struct {
	// From CheckDB
	RecordID int64

	// From the pipeline stages
	State pipeline.State

	// From Publish
	OutputSHA256 string

	// From Complete/Failed
	Status      string
	FailedStage string
	Message     string
}

// State names. Pipeline stages keep their own names so a run record's stage
// column reads the same whether the run was driven directly or by the FSM.
const (
	StateCheckDB    = "check_db"
	StateFetch      = "fetch"
	StateValidate   = string(pipeline.StageValidate)
	StateDetect     = string(pipeline.StageDetect)
	StateResolve    = string(pipeline.StageResolve)
	StateCustomize  = string(pipeline.StageCustomize)
	StateEnsureTool = string(pipeline.StageEnsureTool)
	StateBuild      = string(pipeline.StageBuild)
	StatePublish    = "publish"
	StateComplete   = "complete"
	StateFailed     = "failed"
)
