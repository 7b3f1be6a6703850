//go:build windows

package divert

import "golang.org/x/sys/windows"

// SystemLoader loads name with the standard DLL search order (application
// directory, system directories, then PATH). The module is never freed.
func SystemLoader(name string) (Module, error) {
	dll, err := windows.LoadDLL(name)
	if err != nil {
		return nil, err
	}
	return systemModule{dll: dll}, nil
}

type systemModule struct {
	dll *windows.DLL
}

func (m systemModule) Lookup(name string) (Symbol, error) {
	proc, err := m.dll.FindProc(name)
	if err != nil {
		return nil, err
	}
	return proc, nil
}
