package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFile creates a file with content in dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// TestValidateSourceImage tests the happy path for each supported extension.
func TestValidateSourceImage(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"plan.png", "plan.jpg", "plan.jpeg", "PLAN.PNG"} {
		path := writeFile(t, dir, name, "fake image bytes")
		if err := ValidateSourceImage(path); err != nil {
			t.Errorf("expected %s to validate, got %v", name, err)
		}
	}
}

// TestValidateSourceImageRejections tests each rejection case.
func TestValidateSourceImageRejections(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		want error
	}{
		{"empty path", "", ErrEmptyPath},
		{"too long", strings.Repeat("a", MaxPathLength+1) + ".png", ErrPathTooLong},
		{"bad extension", writeFile(t, dir, "plan.gif", "x"), ErrUnsupportedImage},
		{"missing file", filepath.Join(dir, "absent.png"), ErrSourceNotFound},
		{"empty file", writeFile(t, dir, "empty.png", ""), ErrSourceEmpty},
		{"directory", dir + "/sub.png", ErrSourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceImage(tt.path)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestValidateSourceImageDirectory tests that directories are rejected.
func TestValidateSourceImageDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "plans.png")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	if err := ValidateSourceImage(sub); !errors.Is(err, ErrSourceNotRegular) {
		t.Errorf("expected ErrSourceNotRegular, got %v", err)
	}
}

// TestValidateOutputDir tests that missing output directories are created.
func TestValidateOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "target", "nested")

	if err := ValidateOutputDir(dir); err != nil {
		t.Fatalf("expected output dir to validate, got %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected directory to exist: %v", err)
	}

	if err := ValidateOutputDir(""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("expected ErrEmptyPath, got %v", err)
	}
}

// TestSupportedImageExtensions tests the allowlist is stable.
func TestSupportedImageExtensions(t *testing.T) {
	got := SupportedImageExtensions()
	want := []string{".jpeg", ".jpg", ".png"}
	if len(got) != len(want) {
		t.Fatalf("expected %d extensions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extension %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
