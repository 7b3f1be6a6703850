// Package driver locates the WinDivert user-mode library on disk.
package driver

import (
	"os"
	"path/filepath"
	"strings"
)

// PrependPath adds dir to PATH for the current process if not already
// present, so a later LoadLibrary of the bare module name can find it.
func PrependPath(dir string) error {
	if dir == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}
	pathEnv := os.Getenv("PATH")
	for _, part := range filepath.SplitList(pathEnv) {
		if strings.EqualFold(filepath.Clean(part), abs) {
			return nil
		}
	}
	newPath := abs
	if pathEnv != "" {
		newPath = abs + string(os.PathListSeparator) + pathEnv
	}
	return os.Setenv("PATH", newPath)
}
