package pipeline

import "time"

// Stage identifies a step of the conversion pipeline. Stages advance
// strictly in declaration order; terminal results are tagged with the
// stage that produced them.
type Stage string

const (
	// StageIdle is the state before Run is called.
	StageIdle Stage = "idle"
	// StageAnalyzing runs the floorplan-analysis collaborator.
	StageAnalyzing Stage = "analyzing"
	// StageLocatingTool resolves the 3D tool executable.
	StageLocatingTool Stage = "locating_tool"
	// StageVerifyingTool probes the resolved executable.
	StageVerifyingTool Stage = "verifying_tool"
	// StageBuildingScene runs the 3D tool subprocess.
	StageBuildingScene Stage = "building_scene"
	// StageDone is the terminal state.
	StageDone Stage = "done"
)

// FailureKind categorizes terminal failures for caller-side remediation.
type FailureKind string

const (
	KindAnalysisFailure        FailureKind = "analysis_failure"
	KindToolNotFound           FailureKind = "tool_not_found"
	KindToolInvalid            FailureKind = "tool_invalid"
	KindScriptMissing          FailureKind = "script_missing"
	KindBuildSubprocessFailure FailureKind = "build_subprocess_failure"
	KindArtifactMissing        FailureKind = "artifact_missing"
	KindUnexpectedFailure      FailureKind = "unexpected_failure"
)

// Request describes one conversion attempt. Immutable once a run starts.
type Request struct {
	// SourceImagePath is the 2D floorplan raster to convert.
	SourceImagePath string
	// ToolPathOverride, when non-empty, takes precedence over every other
	// tool resolution source.
	ToolPathOverride string
	// ConfigPath overrides the analysis configuration reference.
	ConfigPath string
}

// Failure describes a terminal pipeline failure.
type Failure struct {
	Stage   Stage       // Stage that produced the failure
	Kind    FailureKind // Category for remediation
	Message string      // Human-readable diagnostic
	Err     error       // Underlying error, if any
}

// Transcript captures the build subprocess output for diagnostics.
type Transcript struct {
	Stdout string
	Stderr string
}

// Result is the terminal outcome of a conversion run. Exactly one Result
// is produced per Request.
type Result struct {
	// OutputPath is the artifact location on success, empty on failure.
	OutputPath string
	// ToolPath is the resolved executable, when resolution got that far.
	ToolPath string
	// IntermediateDataPath is the analysis handle, when analysis succeeded.
	IntermediateDataPath string
	// Failure is nil on success.
	Failure *Failure
	// Duration is the wall-clock time of the whole run.
	Duration time.Duration
	// Transcript holds build subprocess output, when the build ran.
	Transcript Transcript
}

// Succeeded reports whether the run produced an artifact.
func (r *Result) Succeeded() bool {
	return r.Failure == nil
}
