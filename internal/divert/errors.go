package divert

import (
	"errors"
	"fmt"
	"strconv"
	"syscall"
)

// Errno is a Win32 error code. Native call failures are reported as Errno
// on every platform so callers can compare against the constants below.
type Errno uint32

const (
	ErrorInvalidHandle      Errno = 6
	ErrorInvalidParameter   Errno = 87
	ErrorInsufficientBuffer Errno = 122
	ErrorModNotFound        Errno = 126
	ErrorProcNotFound       Errno = 127
	ErrorNoData             Errno = 232
	ErrorOperationAborted   Errno = 995
)

var errnoText = map[Errno]string{
	ErrorInvalidHandle:      "the handle is invalid",
	ErrorInvalidParameter:   "the parameter is incorrect",
	ErrorInsufficientBuffer: "the data area passed to a system call is too small",
	ErrorModNotFound:        "the specified module could not be found",
	ErrorProcNotFound:       "the specified procedure could not be found",
	ErrorNoData:             "the pipe is being closed",
	ErrorOperationAborted:   "the I/O operation has been aborted",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return "winapi error " + strconv.FormatUint(uint64(e), 10)
}

// ErrnoOf returns the Win32 code carried by err, or 0 if there is none.
func ErrnoOf(err error) Errno {
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return 0
}

// callErr converts the error half of a native call into the value returned
// to callers. Successful calls return nil regardless of what the OS left in
// the last-error slot; failed calls carry the slot unchanged, 0 included.
func callErr(failed bool, err error) error {
	if !failed {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return Errno(errno)
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return Errno(0)
}

// LoadError reports why the dispatch table could not be bound. It matches
// ErrorModNotFound when the module failed to load and ErrorProcNotFound when
// a symbol was missing or had an unusable type.
type LoadError struct {
	Module string
	Proc   string
	Err    error
}

func (e *LoadError) Code() Errno {
	if e.Proc == "" {
		return ErrorModNotFound
	}
	return ErrorProcNotFound
}

func (e *LoadError) Error() string {
	if e.Proc == "" {
		return fmt.Sprintf("divert: load %s: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("divert: resolve %s in %s: %v", e.Proc, e.Module, e.Err)
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code()}
	}
	return []error{e.Code(), e.Err}
}
