package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/planforge/planforge/core/analysis"
	"github.com/planforge/planforge/core/blender"
	apperrors "github.com/planforge/planforge/core/errors"
)

// fixture bundles a runnable pipeline backed by fake collaborators.
type fixture struct {
	pipeline *Pipeline
	dir      string
	stages   []Stage
}

// okAnalyzer returns a fixed intermediate-data handle.
func okAnalyzer(handle string) analysis.Analyzer {
	return analysis.Func(func(ctx context.Context, imagePath, configPath string) (string, error) {
		return handle, nil
	})
}

// fakeTool writes a shell script that answers the version probe and then
// behaves per buildBody when invoked for a build.
func fakeTool(t *testing.T, dir, buildBody string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fakes are not runnable on windows")
	}
	path := filepath.Join(dir, "blender")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then echo 'Blender 4.5.0'; exit 0; fi\n" +
		buildBody
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake tool: %v", err)
	}
	return path
}

// newFixture builds a pipeline whose fake tool runs buildBody. The build
// arguments are $5=cwd $6=outputName $7=dataPath.
func newFixture(t *testing.T, buildBody string) *fixture {
	t.Helper()
	dir := t.TempDir()

	script := filepath.Join(dir, "build_scene.py")
	if err := os.WriteFile(script, []byte("# build scene\n"), 0644); err != nil {
		t.Fatal(err)
	}

	f := &fixture{dir: dir}
	f.pipeline = &Pipeline{
		Analyzer: okAnalyzer(filepath.Join(dir, "data", "0")),
		Locator: &blender.Locator{
			Candidates: []string{fakeTool(t, dir, buildBody)},
			LookupName: "planforge-no-such-tool",
		},
		Verifier:  &blender.Verifier{ScriptPath: script},
		OutputDir: filepath.Join(dir, "target"),
		Progress: func(stage Stage, message string) {
			f.stages = append(f.stages, stage)
		},
	}
	return f
}

// TestRunSuccess tests the full success path end to end with a fake tool
// that writes the expected artifact.
func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "target")
	// $6 is the bare output name; write it where the pipeline expects it.
	f := newFixture(t, fmt.Sprintf("mkdir -p %s\ntouch %s/$6\nexit 0\n", outDir, outDir))
	f.pipeline.OutputDir = outDir

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plans/house.png"})
	if !result.Succeeded() {
		t.Fatalf("expected success, got failure: %+v", result.Failure)
	}

	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Errorf("expected artifact on disk: %v", err)
	}

	pattern := regexp.MustCompile(`^house_\d{8}_\d{6}\.blend$`)
	if name := filepath.Base(result.OutputPath); !pattern.MatchString(name) {
		t.Errorf("artifact name %q does not match <base>_<timestamp>.blend", name)
	}

	wantStages := []Stage{StageAnalyzing, StageLocatingTool, StageVerifyingTool, StageBuildingScene}
	if len(f.stages) != len(wantStages) {
		t.Fatalf("expected stages %v, got %v", wantStages, f.stages)
	}
	for i := range wantStages {
		if f.stages[i] != wantStages[i] {
			t.Errorf("stage %d: expected %s, got %s", i, wantStages[i], f.stages[i])
		}
	}
}

// TestRunAnalysisFailure tests that an analysis error short-circuits the
// run before tool resolution.
func TestRunAnalysisFailure(t *testing.T) {
	f := newFixture(t, "exit 0\n")
	f.pipeline.Analyzer = analysis.Func(func(ctx context.Context, imagePath, configPath string) (string, error) {
		return "", apperrors.NewAnalysis(imagePath, "unreadable image", nil)
	})

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "bad.png"})
	if result.Succeeded() {
		t.Fatal("expected failure")
	}
	if result.Failure.Stage != StageAnalyzing || result.Failure.Kind != KindAnalysisFailure {
		t.Errorf("expected analyzing/analysis_failure, got %s/%s", result.Failure.Stage, result.Failure.Kind)
	}
	if len(f.stages) != 1 {
		t.Errorf("expected run to stop after analyzing, saw stages %v", f.stages)
	}
}

// TestRunToolNotFound tests the locator-miss failure without verification.
func TestRunToolNotFound(t *testing.T) {
	f := newFixture(t, "exit 0\n")
	f.pipeline.Locator = &blender.Locator{
		Candidates: []string{filepath.Join(f.dir, "absent")},
		LookupName: "planforge-no-such-tool",
	}

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if result.Succeeded() {
		t.Fatal("expected failure")
	}
	if result.Failure.Stage != StageLocatingTool || result.Failure.Kind != KindToolNotFound {
		t.Errorf("expected locating_tool/tool_not_found, got %s/%s", result.Failure.Stage, result.Failure.Kind)
	}
	if !strings.Contains(result.Failure.Message, "tool not found") {
		t.Errorf("expected 'tool not found' in message, got %q", result.Failure.Message)
	}
}

// TestRunToolInvalid tests that a failing version probe is tagged to the
// verification stage.
func TestRunToolInvalid(t *testing.T) {
	f := newFixture(t, "exit 0\n")
	broken := filepath.Join(f.dir, "broken-blender")
	if err := os.WriteFile(broken, []byte("#!/bin/sh\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}
	f.pipeline.Locator = &blender.Locator{
		Candidates: []string{broken},
		LookupName: "planforge-no-such-tool",
	}

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if result.Succeeded() {
		t.Fatal("expected failure")
	}
	if result.Failure.Stage != StageVerifyingTool || result.Failure.Kind != KindToolInvalid {
		t.Errorf("expected verifying_tool/tool_invalid, got %s/%s", result.Failure.Stage, result.Failure.Kind)
	}
}

// TestRunScriptMissing tests the missing-automation-script failure.
func TestRunScriptMissing(t *testing.T) {
	f := newFixture(t, "exit 0\n")
	f.pipeline.Verifier.ScriptPath = filepath.Join(f.dir, "absent.py")

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if result.Succeeded() {
		t.Fatal("expected failure")
	}
	if result.Failure.Kind != KindScriptMissing {
		t.Errorf("expected script_missing, got %s", result.Failure.Kind)
	}
}

// TestRunBuildFailure tests that a non-zero build exit carries stderr.
func TestRunBuildFailure(t *testing.T) {
	f := newFixture(t, "echo 'Blender crashed hard' >&2\nexit 2\n")

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if result.Succeeded() {
		t.Fatal("expected failure")
	}
	if result.Failure.Stage != StageBuildingScene || result.Failure.Kind != KindBuildSubprocessFailure {
		t.Errorf("expected building_scene/build_subprocess_failure, got %s/%s",
			result.Failure.Stage, result.Failure.Kind)
	}
	if !strings.Contains(result.Failure.Message, "Blender crashed hard") {
		t.Errorf("expected stderr in message, got %q", result.Failure.Message)
	}
}

// TestRunArtifactMissing tests that a zero exit without the output file is
// a failure, never a success.
func TestRunArtifactMissing(t *testing.T) {
	f := newFixture(t, "exit 0\n")

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if result.Succeeded() {
		t.Fatal("expected failure when artifact is absent despite exit 0")
	}
	if result.Failure.Stage != StageBuildingScene || result.Failure.Kind != KindArtifactMissing {
		t.Errorf("expected building_scene/artifact_missing, got %s/%s",
			result.Failure.Stage, result.Failure.Kind)
	}
}

// TestRunBuildTimeout tests the bounded build subprocess.
func TestRunBuildTimeout(t *testing.T) {
	f := newFixture(t, "sleep 30\nexit 0\n")
	f.pipeline.BuildTimeout = 200 * time.Millisecond

	start := time.Now()
	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if result.Succeeded() {
		t.Fatal("expected failure")
	}
	if result.Failure.Kind != KindBuildSubprocessFailure {
		t.Errorf("expected build_subprocess_failure, got %s", result.Failure.Kind)
	}
	if !strings.Contains(result.Failure.Message, "timed out") {
		t.Errorf("expected timeout message, got %q", result.Failure.Message)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("build was not bounded by the timeout")
	}
}

// TestRunPanicRecovered tests that a panicking collaborator becomes a
// terminal failure instead of escaping to the caller.
func TestRunPanicRecovered(t *testing.T) {
	f := newFixture(t, "exit 0\n")
	f.pipeline.Analyzer = analysis.Func(func(ctx context.Context, imagePath, configPath string) (string, error) {
		panic("collaborator bug")
	})

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if result.Succeeded() {
		t.Fatal("expected failure")
	}
	if result.Failure.Kind != KindUnexpectedFailure {
		t.Errorf("expected unexpected_failure, got %s", result.Failure.Kind)
	}
	if result.Failure.Stage != StageAnalyzing {
		t.Errorf("expected failure tagged to analyzing, got %s", result.Failure.Stage)
	}
}

// TestDeriveOutputNameCollision tests the same-second collision suffix.
func TestDeriveOutputNameCollision(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	p := &Pipeline{now: func() time.Time { return fixed }}

	first := p.deriveOutputName(dir, "plans/house.png")
	if first != "house_20260826_120000.blend" {
		t.Fatalf("unexpected first name: %s", first)
	}
	if err := os.WriteFile(filepath.Join(dir, first), nil, 0644); err != nil {
		t.Fatal(err)
	}

	second := p.deriveOutputName(dir, "plans/house.png")
	if second != "house_20260826_120000_2.blend" {
		t.Errorf("expected collision suffix, got %s", second)
	}
}

// TestBuildArgumentContract tests the fixed positional argument order the
// tool is invoked with.
func TestBuildArgumentContract(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "target")
	argsFile := filepath.Join(dir, "args.txt")
	f := newFixture(t, fmt.Sprintf("echo \"$@\" > %s\nmkdir -p %s\ntouch %s/$6\nexit 0\n",
		argsFile, outDir, outDir))
	f.pipeline.OutputDir = outDir

	result := f.pipeline.Run(context.Background(), Request{SourceImagePath: "plan.png"})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Failure)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Fields(string(data))
	if len(args) != 7 {
		t.Fatalf("expected 7 arguments, got %d: %v", len(args), args)
	}
	if args[0] != "-noaudio" || args[1] != "--background" || args[2] != "--python" {
		t.Errorf("unexpected headless flags: %v", args[:3])
	}
	cwd, _ := os.Getwd()
	if args[4] != cwd {
		t.Errorf("expected cwd %q as first positional arg, got %q", cwd, args[4])
	}
	if filepath.Base(args[5]) != args[5] {
		t.Errorf("output name must be bare, got %q", args[5])
	}
	if args[6] != result.IntermediateDataPath {
		t.Errorf("expected data path %q, got %q", result.IntermediateDataPath, args[6])
	}
}
