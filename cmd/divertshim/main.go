// Command divertshim builds a DLL that re-exports six WinDivert functions
// without linking against the WinDivert SDK:
//
//	go build -buildmode=c-shared -o isp_audit_native.dll ./cmd/divertshim
//
// WinDivert.dll is loaded on the first call to any export and the resolved
// entry points are reused for the life of the host process. Failures are
// reported through GetLastError: ERROR_MOD_NOT_FOUND when the module cannot
// be loaded, ERROR_PROC_NOT_FOUND when an export is missing, and the native
// error code otherwise.
package main

import (
	"os"

	"divert-shim/internal/log"
)

const logLevelEnv = "DIVERT_SHIM_LOG_LEVEL"

func init() {
	configureLogging(os.Getenv)
}

// configureLogging keeps the shim silent inside its host process unless the
// environment asks for a level.
func configureLogging(getenv func(string) string) {
	level, err := log.ParseLevel(getenv(logLevelEnv))
	if err != nil {
		level = log.SilentLevel
	}
	log.SetLevel(level)
}

func main() {}
