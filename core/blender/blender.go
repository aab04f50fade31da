// Package blender locates, verifies, and launches the external Blender
// executable that materializes analyzed floorplan data into scene files.
package blender

import "runtime"

// ExecutableName returns the platform-specific Blender executable name
// used for PATH lookups.
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "blender.exe"
	}
	return "blender"
}

// SceneExt is the file extension of artifacts Blender produces.
const SceneExt = ".blend"
