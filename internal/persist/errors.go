package persist

import (
	"errors"
	"fmt"
)

// ErrFinalized is returned by Flush and Initialize once the manager is finalized.
var ErrFinalized = errors.New("persistence finalized")

// DirectoryCreateError reports that the session directory could not be created.
// The manager enters the Degraded state; sampling is unaffected.
type DirectoryCreateError struct {
	Dir string
	Err error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("create session directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed session file write. The next flush rewrites
// the whole document, so a failed write is retried at the next cadence.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write session file %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
