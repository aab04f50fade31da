// Package validation provides input validation for conversion requests to
// reject unusable sources before a pipeline run starts.
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Limits on user-supplied inputs.
const (
	// MaxSourceSize is the maximum allowed source image size (256 MB).
	MaxSourceSize = 256 << 20
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrPathTooLong      = errors.New("path too long")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrSourceNotFound   = errors.New("source image not found")
	ErrSourceEmpty      = errors.New("source image is empty")
	ErrSourceTooLarge   = errors.New("source image too large")
	ErrSourceNotRegular = errors.New("source is not a regular file")
)

// imageExtensions is the allowlist of raster formats the analysis
// collaborator accepts.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// SupportedImageExtensions returns the accepted source extensions, sorted.
func SupportedImageExtensions() []string {
	return []string{".jpeg", ".jpg", ".png"}
}

// ValidateSourceImage checks that path names a readable raster image of a
// supported type. It is called before a conversion run starts so that bad
// inputs fail fast instead of inside the analysis collaborator.
func ValidateSourceImage(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !imageExtensions[ext] {
		return fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedImage, ext,
			strings.Join(SupportedImageExtensions(), ", "))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return fmt.Errorf("failed to stat source image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrSourceNotRegular, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrSourceEmpty, path)
	}
	if info.Size() > MaxSourceSize {
		return fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, info.Size())
	}

	return nil
}

// ValidateOutputDir checks that the output directory path is usable,
// creating it if absent.
func ValidateOutputDir(dir string) error {
	if dir == "" {
		return ErrEmptyPath
	}
	if len(dir) > MaxPathLength {
		return ErrPathTooLong
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
