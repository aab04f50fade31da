// Package pipeline orchestrates a single floorplan-to-scene conversion:
// analyze the raster, resolve and verify the external 3D tool, then drive
// it headlessly to materialize the scene file.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/planforge/planforge/core/analysis"
	"github.com/planforge/planforge/core/blender"
	apperrors "github.com/planforge/planforge/core/errors"
	"github.com/planforge/planforge/internal/logging"
)

// DefaultBuildTimeout bounds the scene-build subprocess. Blender imports
// and scene construction are slow but not unbounded; a build that runs
// longer than this has hung.
const DefaultBuildTimeout = 10 * time.Minute

// DefaultOutputDir is where artifacts are written unless overridden.
const DefaultOutputDir = "target"

// ProgressFunc receives human-readable progress messages as the pipeline
// advances. Calls are synchronous and strictly ordered.
type ProgressFunc func(stage Stage, message string)

// Pipeline runs conversions. A Pipeline is stateless between runs and may
// be reused; each Run call is an independent state machine.
type Pipeline struct {
	// Analyzer is the floorplan-analysis collaborator.
	Analyzer analysis.Analyzer
	// Locator resolves the 3D tool executable.
	Locator *blender.Locator
	// Verifier probes resolved executables.
	Verifier *blender.Verifier
	// OutputDir receives artifacts. Defaults to DefaultOutputDir.
	OutputDir string
	// BuildTimeout bounds the scene-build subprocess. Zero applies
	// DefaultBuildTimeout; negative disables the bound.
	BuildTimeout time.Duration
	// Progress, when non-nil, receives stage transition messages.
	Progress ProgressFunc

	// now is a test seam for timestamp derivation.
	now func() time.Time
	// runBuild is a test seam for the build subprocess invocation.
	runBuild buildFunc
}

// Run executes the full conversion state machine for req. It never
// returns an error: every failure, including panics in collaborators, is
// converted to a stage-tagged terminal Result.
func (p *Pipeline) Run(ctx context.Context, req Request) (result *Result) {
	start := time.Now()
	result = &Result{}
	current := StageIdle

	defer func() {
		if r := recover(); r != nil {
			result.Failure = &Failure{
				Stage:   current,
				Kind:    KindUnexpectedFailure,
				Message: fmt.Sprintf("internal fault: %v", r),
				Err:     apperrors.ErrUnexpected,
			}
		}
		result.Duration = time.Since(start)
	}()

	// Analyzing
	current = StageAnalyzing
	p.progress(ctx, StageAnalyzing, "Analyzing floorplan...")
	dataPath, err := p.Analyzer.Analyze(ctx, req.SourceImagePath, req.ConfigPath)
	if err != nil {
		result.Failure = failureFor(StageAnalyzing, err)
		return result
	}
	result.IntermediateDataPath = dataPath

	// LocatingTool
	current = StageLocatingTool
	p.progress(ctx, StageLocatingTool, "Locating 3D tool...")
	loc := p.Locator.Locate(req.ToolPathOverride)
	if loc == nil {
		result.Failure = failureFor(StageLocatingTool, apperrors.NewToolNotFound(p.Locator.Candidates))
		return result
	}
	result.ToolPath = loc.ExecutablePath
	logging.ConversionEvent(ctx, string(StageLocatingTool), "tool resolved",
		"executable", loc.ExecutablePath, "source", string(loc.Source))

	// VerifyingTool
	current = StageVerifyingTool
	p.progress(ctx, StageVerifyingTool, "Verifying 3D tool...")
	if err := p.Verifier.Verify(ctx, loc.ExecutablePath); err != nil {
		result.Failure = failureFor(StageVerifyingTool, err)
		return result
	}

	// BuildingScene
	current = StageBuildingScene
	p.progress(ctx, StageBuildingScene, "Generating 3D scene...")
	outputPath, transcript, err := p.buildScene(ctx, loc.ExecutablePath, req.SourceImagePath, dataPath)
	result.Transcript = transcript
	if err != nil {
		result.Failure = failureFor(StageBuildingScene, err)
		return result
	}

	result.OutputPath = outputPath
	logging.ConversionEvent(ctx, string(StageDone), "conversion succeeded", "output", outputPath)
	return result
}

// progress invokes the callback and logs the transition.
func (p *Pipeline) progress(ctx context.Context, stage Stage, message string) {
	logging.ConversionEvent(ctx, string(stage), message)
	if p.Progress != nil {
		p.Progress(stage, message)
	}
}

// buildScene derives the output name, invokes the tool headlessly, and
// verifies the artifact exists. A zero exit code alone is not trusted.
func (p *Pipeline) buildScene(ctx context.Context, toolPath, imagePath, dataPath string) (string, Transcript, error) {
	outputDir := p.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", Transcript{}, apperrors.Wrap(err, "failed to create output directory")
	}

	outputName := p.deriveOutputName(outputDir, imagePath)
	outputPath := filepath.Join(outputDir, outputName)

	cwd, err := os.Getwd()
	if err != nil {
		return "", Transcript{}, apperrors.Wrap(err, "failed to resolve working directory")
	}

	timeout := p.BuildTimeout
	if timeout == 0 {
		timeout = DefaultBuildTimeout
	}
	buildCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	build := p.runBuild
	if build == nil {
		build = runBlenderBuild
	}

	start := time.Now()
	transcript, exitCode, err := build(buildCtx, toolPath, p.Verifier.ScriptPath, cwd, outputName, dataPath)
	logging.SubprocessEvent(ctx, toolPath, exitCode, time.Since(start), "stage", string(StageBuildingScene))

	if buildCtx.Err() == context.DeadlineExceeded {
		return "", transcript, apperrors.NewBuild(exitCode,
			fmt.Sprintf("build timed out after %s", timeout), buildCtx.Err())
	}
	if err != nil {
		stderr := strings.TrimSpace(transcript.Stderr)
		if stderr == "" {
			stderr = err.Error()
		}
		return "", transcript, apperrors.NewBuild(exitCode, stderr, err)
	}

	// The tool reporting success does not guarantee the artifact was
	// written; its absence is a distinct failure.
	if _, err := os.Stat(outputPath); err != nil {
		return "", transcript, apperrors.NewArtifactMissing(outputPath)
	}

	return outputPath, transcript, nil
}

// deriveOutputName builds <imageBaseName>_<YYYYMMDD_HHMMSS>.blend, with a
// numeric suffix when two conversions of the same source land in the same
// second.
func (p *Pipeline) deriveOutputName(outputDir, imagePath string) string {
	now := time.Now
	if p.now != nil {
		now = p.now
	}

	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	stamp := now().Format("20060102_150405")

	name := fmt.Sprintf("%s_%s%s", base, stamp, blender.SceneExt)
	for n := 2; ; n++ {
		// A name only collides when a stat succeeds; any stat error means
		// no observable collision.
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			return name
		}
		name = fmt.Sprintf("%s_%s_%d%s", base, stamp, n, blender.SceneExt)
	}
}
