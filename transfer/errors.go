package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrWriterClosed is returned by writes to a Writer that was closed or cancelled.
	ErrWriterClosed = errors.New("transfer: writer already closed")
	// ErrSessionState is returned when an operation is attempted on a session
	// in a state that does not allow it.
	ErrSessionState = errors.New("transfer: invalid session state")
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so that the default classifier retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that the default classifier gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TerminalError is returned once a part operation can no longer be retried,
// either because the retry budget ran out or because the error was terminal.
type TerminalError struct {
	UploadID   string
	PartNumber int
	Attempts   int
	Err        error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("part %d of upload %q failed after %d attempt(s): %v", e.PartNumber, e.UploadID, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// InvalidArgumentError is returned for bad configuration or arguments. It is
// always raised before any call to the store.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// ResourceExhaustionError is returned when the executor cannot accept work.
type ResourceExhaustionError struct {
	Reason string
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("executor cannot accept work: %s", e.Reason)
}

// CopyError is returned by Copy when the copy could not be committed.
type CopyError struct {
	UploadID string
	Err      error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("multipart copy failed, upload id %q: %v", e.UploadID, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

func invalidArgument(field, format string, args ...any) error {
	return &InvalidArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
