//go:build !windows

package divert

import "errors"

var ErrUnsupportedPlatform = errors.New("WinDivert is only available on Windows")

// SystemLoader always fails outside Windows, so every entry point reports
// ErrorModNotFound.
func SystemLoader(name string) (Module, error) {
	return nil, ErrUnsupportedPlatform
}
