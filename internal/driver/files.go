package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrModuleMissing = errors.New("module file not found")

// ResolveDir returns dir, or the executable's directory when dir is empty,
// after checking that it exists and is a directory.
func ResolveDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", err
		}
		dir = filepath.Dir(exe)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return dir, nil
}

// HasModule reports whether name exists as a regular file in dir.
func HasModule(dir, name string) bool {
	if strings.TrimSpace(dir) == "" || name == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(dir, name))
	return err == nil && fi.Mode().IsRegular()
}

// Locate resolves dir, checks that it holds name and puts it on PATH.
func Locate(dir, name string) (string, error) {
	resolved, err := ResolveDir(dir)
	if err != nil {
		return "", err
	}
	if !HasModule(resolved, name) {
		return resolved, fmt.Errorf("%s in %s: %w", name, resolved, ErrModuleMissing)
	}
	if err := PrependPath(resolved); err != nil {
		return resolved, fmt.Errorf("set PATH failed: %w", err)
	}
	return resolved, nil
}
