package dupwalk

import (
	"errors"
	"fmt"
)

var (
	// ErrIO marks a file that could not be read; hashing of that file is abandoned for this run.
	ErrIO = errors.New("file unreadable")
	// ErrAlgorithmUnavailable is fatal at startup.
	ErrAlgorithmUnavailable = errors.New("hash algorithm unavailable")
	// ErrSerialization marks missing or corrupt persisted state; callers start empty.
	ErrSerialization = errors.New("persisted state unusable")
	// ErrWaitInterrupted is returned when a blocking wait ends because its context did.
	ErrWaitInterrupted = errors.New("wait interrupted")
	ErrPoolClosed      = errors.New("worker pool closed")
	ErrRootMissing     = errors.New("root folder missing")
	ErrStateLocked     = errors.New("state directory locked by another process")
)

// IOError records the path whose read failed.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

func ioError(path string, err error) error {
	return &IOError{Path: path, Err: err}
}
