package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

// FatalError carries everything printed before the process terminates.
type FatalError struct {
	Message  string
	Location string
	Err      error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Location, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Location)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// FatalHandler is invoked once a fatal condition has been logged. It must not return
// normally; the default handler exits the process.
type FatalHandler func(*FatalError)

var fatalHandler atomic.Pointer[FatalHandler]

func init() {
	SetFatalHandler(ExitOnFatal)
}

// SetFatalHandler replaces the process fatal handler. nil restores ExitOnFatal.
func SetFatalHandler(h FatalHandler) {
	if h == nil {
		h = ExitOnFatal
	}
	fatalHandler.Store(&h)
}

func ExitOnFatal(*FatalError) {
	os.Exit(1)
}

// PanicOnFatal turns fatal conditions into panics carrying the *FatalError. Tests install it.
func PanicOnFatal(fe *FatalError) {
	panic(fe)
}

func location(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func fail(skip int, err error, msg string, args ...interface{}) {
	fe := &FatalError{
		Message:  fmt.Sprintf(msg, args...),
		Location: location(skip + 1),
		Err:      err,
	}
	getLogger().Error(fe.Message, "at", fe.Location, "err", err)
	h := fatalHandler.Load()
	(*h)(fe)
	// a handler that returns is a bug in the handler
	panic(fe)
}

// Fatalf reports an unrecoverable condition and never returns.
func Fatalf(msg string, args ...interface{}) {
	fail(1, nil, msg, args...)
}

// Check is a no-op for a nil err; otherwise the driver failure is fatal.
func Check(err error, msg string, args ...interface{}) {
	if err == nil {
		return
	}
	fail(1, err, msg, args...)
}

// ContractViolation reports caller misuse. Fatal with debug checks on; logged and
// ignored in release builds.
func ContractViolation(msg string, args ...interface{}) {
	if DebugChecks {
		fail(1, ErrContractViolation, msg, args...)
		return
	}
	getLogger().Error(fmt.Sprintf(msg, args...), "at", location(1), "err", ErrContractViolation)
}

// Assert is ContractViolation guarded by cond.
func Assert(cond bool, msg string, args ...interface{}) {
	if cond {
		return
	}
	if DebugChecks {
		fail(1, ErrContractViolation, msg, args...)
		return
	}
	getLogger().Error(fmt.Sprintf(msg, args...), "at", location(1), "err", ErrContractViolation)
}

// IsFatal reports whether v, typically a recovered panic value, is a fatal error wrapping target.
func IsFatal(v interface{}, target error) bool {
	fe, ok := v.(*FatalError)
	if !ok {
		return false
	}
	if target == nil {
		return true
	}
	return errors.Is(fe, target)
}
