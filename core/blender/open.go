package blender

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/planforge/planforge/internal/logging"
)

// NewestArtifact returns the most recently modified scene file under
// outputDir, or an error when the directory holds none.
func NewestArtifact(outputDir string) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to read output directory: %w", err)
	}

	newest := ""
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != SceneExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().UnixNano() > newestMod {
			newest = filepath.Join(outputDir, entry.Name())
			newestMod = info.ModTime().UnixNano()
		}
	}

	if newest == "" {
		return "", fmt.Errorf("no %s file found in %s", SceneExt, outputDir)
	}
	return newest, nil
}

// Open launches the executable on artifactPath without waiting for it to
// exit. The spawned viewer outlives the calling process.
func Open(executablePath, artifactPath string) error {
	if _, err := os.Stat(artifactPath); err != nil {
		return fmt.Errorf("artifact not found: %s", artifactPath)
	}

	cmd := exec.Command(executablePath, artifactPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", executablePath, err)
	}
	logging.Info("viewer_launched", "executable", executablePath, "artifact", artifactPath, "pid", cmd.Process.Pid)

	// Reap the child in the background so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()

	return nil
}
