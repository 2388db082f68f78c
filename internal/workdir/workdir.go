// Package workdir locates the directory holding a rally database.
package workdir

import (
	"os"
	"path/filepath"
)

// DataDir is the directory name that marks a rally workspace.
const DataDir = ".rally"

// ResolveBaseDir walks up from start to the nearest directory containing a
// .rally directory, so commands work from any subdirectory of a workspace.
// If none is found, start is returned unchanged.
func ResolveBaseDir(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, DataDir)); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
