// Package analysis adapts the external floorplan-analysis collaborator.
// The collaborator extracts structured geometric data from a 2D floorplan
// raster; this core treats the extracted data as an opaque path handle and
// never parses it.
package analysis

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/planforge/planforge/core/errors"
	"github.com/planforge/planforge/internal/logging"
)

// DefaultConfigPath is the analysis configuration used when the caller
// does not override it.
const DefaultConfigPath = "configs/default.ini"

// Analyzer extracts intermediate geometric data from a floorplan image.
// Analyze returns the path to the intermediate data, which callers must
// treat as an unstructured handle.
type Analyzer interface {
	Analyze(ctx context.Context, imagePath, configPath string) (string, error)
}

// CommandAnalyzer runs the analysis collaborator as a subprocess. The
// collaborator receives the image path and config path as trailing
// arguments and prints the intermediate-data path as the last non-empty
// line of stdout.
type CommandAnalyzer struct {
	// Executable is the collaborator entrypoint, e.g. a Python
	// interpreter or a bundled analysis binary.
	Executable string
	// Args are fixed arguments placed before the image and config paths,
	// e.g. the analysis script path.
	Args []string
}

// Analyze invokes the collaborator and returns the intermediate-data path.
func (a *CommandAnalyzer) Analyze(ctx context.Context, imagePath, configPath string) (string, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	args := make([]string, 0, len(a.Args)+2)
	args = append(args, a.Args...)
	args = append(args, imagePath, configPath)

	start := time.Now()
	cmd := exec.CommandContext(ctx, a.Executable, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	logging.SubprocessEvent(ctx, a.Executable, exitCode, time.Since(start),
		"collaborator", "analysis")

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", apperrors.NewAnalysis(imagePath, msg, err)
	}

	dataPath := lastLine(stdout.String())
	if dataPath == "" {
		return "", apperrors.NewAnalysis(imagePath, "collaborator produced no data path", nil)
	}
	return dataPath, nil
}

// lastLine returns the last non-empty line of s, trimmed.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// Func adapts a plain function to the Analyzer interface.
type Func func(ctx context.Context, imagePath, configPath string) (string, error)

// Analyze implements Analyzer.
func (f Func) Analyze(ctx context.Context, imagePath, configPath string) (string, error) {
	return f(ctx, imagePath, configPath)
}
