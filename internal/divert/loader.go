package divert

// Symbol is a resolved export. Loaders return either one of the typed entry
// point functions (OpenFunc, RecvFunc, ...) or a platform procedure that the
// package knows how to call with the matching signature.
type Symbol any

// Module is a loaded library. Implementations are never asked to unload.
type Module interface {
	Lookup(name string) (Symbol, error)
}

// Loader loads a module by file name.
type Loader func(name string) (Module, error)
