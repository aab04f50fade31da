// Package errors provides standardized error types and helpers for the
// planforge conversion pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversion failure taxonomy.
var (
	// ErrAnalysisFailure indicates the floorplan analysis step failed
	ErrAnalysisFailure = errors.New("analysis failed")
	// ErrToolNotFound indicates no 3D tool executable could be located
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolInvalid indicates a located executable failed the version probe
	ErrToolInvalid = errors.New("tool invalid")
	// ErrScriptMissing indicates the automation script is absent
	ErrScriptMissing = errors.New("automation script missing")
	// ErrBuildFailure indicates the build subprocess exited non-zero
	ErrBuildFailure = errors.New("build subprocess failed")
	// ErrArtifactMissing indicates a zero exit code but no output file
	ErrArtifactMissing = errors.New("artifact missing")
	// ErrUnexpected indicates an uncategorized internal fault
	ErrUnexpected = errors.New("unexpected failure")
)

// AnalysisError represents a failure in the floorplan analysis step.
type AnalysisError struct {
	ImagePath string // Source image being analyzed
	Message   string // Human-readable error details
	Err       error  // Underlying error, if any
}

func (e *AnalysisError) Error() string {
	if e.ImagePath != "" {
		return fmt.Sprintf("analysis of %s failed: %s", e.ImagePath, e.Message)
	}
	return fmt.Sprintf("analysis failed: %s", e.Message)
}

func (e *AnalysisError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrAnalysisFailure
}

// Is matches the taxonomy sentinel regardless of the underlying cause.
func (e *AnalysisError) Is(target error) bool {
	return target == ErrAnalysisFailure
}

// ToolNotFoundError reports that no usable 3D tool executable was found.
type ToolNotFoundError struct {
	Searched []string // Candidate locations that were probed
}

func (e *ToolNotFoundError) Error() string {
	if len(e.Searched) > 0 {
		return fmt.Sprintf("tool not found after probing %d locations and PATH", len(e.Searched))
	}
	return "tool not found"
}

func (e *ToolNotFoundError) Unwrap() error {
	return ErrToolNotFound
}

// VerificationError reports that a located executable failed verification.
type VerificationError struct {
	ExecutablePath string // Executable that was probed
	Reason         string // Why verification failed
	Err            error  // Underlying error, if any
}

func (e *VerificationError) Error() string {
	if e.ExecutablePath != "" {
		return fmt.Sprintf("verification of %s failed: %s", e.ExecutablePath, e.Reason)
	}
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrToolInvalid
}

// Is matches the taxonomy sentinel regardless of the underlying cause.
func (e *VerificationError) Is(target error) bool {
	return target == ErrToolInvalid
}

// ScriptMissingError reports that the automation script is absent on disk.
type ScriptMissingError struct {
	ScriptPath string // Expected script location
}

func (e *ScriptMissingError) Error() string {
	return fmt.Sprintf("automation script not found: %s", e.ScriptPath)
}

func (e *ScriptMissingError) Unwrap() error {
	return ErrScriptMissing
}

// BuildError reports a scene-build subprocess failure.
type BuildError struct {
	ExitCode int    // Subprocess exit code
	Stderr   string // Captured stderr, may be empty
	Err      error  // Underlying error, if any
}

func (e *BuildError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("build subprocess exited %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("build subprocess exited %d", e.ExitCode)
}

func (e *BuildError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrBuildFailure
}

// Is matches the taxonomy sentinel regardless of the underlying cause.
func (e *BuildError) Is(target error) bool {
	return target == ErrBuildFailure
}

// ArtifactMissingError reports that the build reported success but the
// expected output file is absent from disk.
type ArtifactMissingError struct {
	ExpectedPath string // Where the artifact should have been written
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("build reported success but artifact is missing: %s", e.ExpectedPath)
}

func (e *ArtifactMissingError) Unwrap() error {
	return ErrArtifactMissing
}

// Helper functions for creating common errors

// NewAnalysis creates an AnalysisError.
func NewAnalysis(imagePath, message string, err error) *AnalysisError {
	return &AnalysisError{
		ImagePath: imagePath,
		Message:   message,
		Err:       err,
	}
}

// NewToolNotFound creates a ToolNotFoundError.
func NewToolNotFound(searched []string) *ToolNotFoundError {
	return &ToolNotFoundError{Searched: searched}
}

// NewVerification creates a VerificationError.
func NewVerification(executablePath, reason string, err error) *VerificationError {
	return &VerificationError{
		ExecutablePath: executablePath,
		Reason:         reason,
		Err:            err,
	}
}

// NewScriptMissing creates a ScriptMissingError.
func NewScriptMissing(scriptPath string) *ScriptMissingError {
	return &ScriptMissingError{ScriptPath: scriptPath}
}

// NewBuild creates a BuildError.
func NewBuild(exitCode int, stderr string, err error) *BuildError {
	return &BuildError{
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      err,
	}
}

// NewArtifactMissing creates an ArtifactMissingError.
func NewArtifactMissing(expectedPath string) *ArtifactMissingError {
	return &ArtifactMissingError{ExpectedPath: expectedPath}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
