//go:build !(windows && (amd64 || arm64))

package divert

// Only 64-bit Windows passes every WinDivert argument in one register, so
// elsewhere raw procedures are rejected and binding fails closed.

func nativeOpen(Symbol) (OpenFunc, bool)                   { return nil, false }
func nativeRecv(Symbol) (RecvFunc, bool)                   { return nil, false }
func nativeSend(Symbol) (SendFunc, bool)                   { return nil, false }
func nativeShutdown(Symbol) (ShutdownFunc, bool)           { return nil, false }
func nativeClose(Symbol) (CloseFunc, bool)                 { return nil, false }
func nativeCalcChecksums(Symbol) (CalcChecksumsFunc, bool) { return nil, false }
