package pipeline

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	apperrors "github.com/planforge/planforge/core/errors"
)

// buildFunc invokes the 3D tool subprocess. Split out as a seam so tests
// can exercise the pipeline without a real Blender install.
type buildFunc func(ctx context.Context, toolPath, scriptPath, cwd, outputName, dataPath string) (Transcript, int, error)

// runBlenderBuild runs the tool headlessly and blocks until it exits.
//
// The argument contract is fixed: headless flags, then the automation
// script, then exactly three positional arguments in order: the working
// directory, the output file's bare name, and the intermediate-data path.
// The automation script resolves the bare name against the directory it
// is handed. -noaudio suppresses the audio subsystem, which otherwise
// fails hard on headless hosts.
func runBlenderBuild(ctx context.Context, toolPath, scriptPath, cwd, outputName, dataPath string) (Transcript, int, error) {
	cmd := exec.CommandContext(ctx, toolPath,
		"-noaudio",
		"--background",
		"--python", scriptPath,
		cwd,
		outputName,
		dataPath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// A killed tool can leave children holding the output pipes; don't
	// let them block Wait past the timeout.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	return Transcript{Stdout: stdout.String(), Stderr: stderr.String()}, exitCode, err
}

// failureFor converts an error from a pipeline step into a stage-tagged
// terminal Failure, categorized for caller remediation.
func failureFor(stage Stage, err error) *Failure {
	kind := KindUnexpectedFailure
	switch {
	case apperrors.Is(err, apperrors.ErrAnalysisFailure):
		kind = KindAnalysisFailure
	case apperrors.Is(err, apperrors.ErrToolNotFound):
		kind = KindToolNotFound
	case apperrors.Is(err, apperrors.ErrScriptMissing):
		kind = KindScriptMissing
	case apperrors.Is(err, apperrors.ErrToolInvalid):
		kind = KindToolInvalid
	case apperrors.Is(err, apperrors.ErrArtifactMissing):
		kind = KindArtifactMissing
	case apperrors.Is(err, apperrors.ErrBuildFailure):
		kind = KindBuildSubprocessFailure
	}

	return &Failure{
		Stage:   stage,
		Kind:    kind,
		Message: err.Error(),
		Err:     err,
	}
}
