package blender

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	apperrors "github.com/planforge/planforge/core/errors"
	"github.com/planforge/planforge/internal/logging"
)

// DefaultVerifyTimeout bounds the version probe. A tool that cannot print
// its version inside this window is treated as invalid.
const DefaultVerifyTimeout = 10 * time.Second

// Verifier confirms that a located executable actually runs and that the
// automation script the build stage depends on is present on disk.
type Verifier struct {
	// ScriptPath is the automation script fed to Blender's embedded
	// Python interpreter during a build.
	ScriptPath string
	// Timeout bounds the version probe. Defaults to DefaultVerifyTimeout
	// when zero.
	Timeout time.Duration
}

// Verify probes executablePath with a version query and checks that the
// automation script exists. Purely validates preconditions; no mutation.
func (v *Verifier) Verify(ctx context.Context, executablePath string) error {
	timeout := v.Timeout
	if timeout == 0 {
		timeout = DefaultVerifyTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(probeCtx, executablePath, "--version")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't let a probe's orphaned children hold Wait open past the
	// deadline via the inherited output pipes.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	logging.SubprocessEvent(ctx, executablePath, exitCode, time.Since(start),
		"probe", "version")

	if probeCtx.Err() == context.DeadlineExceeded {
		return apperrors.NewVerification(executablePath, "version probe timed out", probeCtx.Err())
	}
	if err != nil {
		return apperrors.NewVerification(executablePath, "version probe failed", err)
	}

	if _, err := os.Stat(v.ScriptPath); err != nil {
		return apperrors.NewScriptMissing(v.ScriptPath)
	}

	return nil
}
