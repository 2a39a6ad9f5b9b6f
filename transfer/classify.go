package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"golang.org/x/net/http2"
)

// Outcome is the result of classifying the error returned by a part operation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classifier maps an error to an Outcome.
type Classifier func(err error) Outcome

// ErrorClassifier is implemented by stores that know how to classify their
// own transport errors.
type ErrorClassifier interface {
	Classify(err error) Outcome
}

// DefaultClassifier treats cancellation, invalid arguments and errors marked
// with Permanent as terminal. Everything else is assumed to be a transport
// failure and is retried.
func DefaultClassifier(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTerminal
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return OutcomeRetryable
	}

	var (
		permanent *PermanentError
		invalid   *InvalidArgumentError
		exhausted *ResourceExhaustionError
	)
	if errors.As(err, &permanent) || errors.As(err, &invalid) || errors.As(err, &exhausted) {
		return OutcomeTerminal
	}
	if errors.Is(err, ErrSessionState) || errors.Is(err, ErrWriterClosed) {
		return OutcomeTerminal
	}

	return OutcomeRetryable
}

// IsTransportError reports whether err looks like a broken connection or a
// timeout rather than an error response from the store.
func IsTransportError(err error) bool {
	var streamErr http2.StreamError
	if errors.As(err, &streamErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
