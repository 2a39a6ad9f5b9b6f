package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestDefaultClassifier(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Outcome
	}{
		{name: "nil", err: nil, expected: OutcomeSuccess},
		{name: "unknown transport failure", err: errors.New("connection reset by peer"), expected: OutcomeRetryable},
		{name: "transient", err: Transient(errors.New("slow down")), expected: OutcomeRetryable},
		{name: "permanent", err: Permanent(errors.New("access denied")), expected: OutcomeTerminal},
		{name: "wrapped permanent", err: fmt.Errorf("put: %w", Permanent(errors.New("denied"))), expected: OutcomeTerminal},
		{name: "canceled", err: context.Canceled, expected: OutcomeTerminal},
		{name: "deadline", err: fmt.Errorf("upload: %w", context.DeadlineExceeded), expected: OutcomeTerminal},
		{name: "canceled wins over transient", err: Transient(context.Canceled), expected: OutcomeTerminal},
		{name: "invalid argument", err: invalidArgument("size", "too big"), expected: OutcomeTerminal},
		{name: "resource exhaustion", err: &ResourceExhaustionError{Reason: "full"}, expected: OutcomeTerminal},
		{name: "session state", err: fmt.Errorf("x: %w", ErrSessionState), expected: OutcomeTerminal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(tt *testing.T) {
			require.Equal(tt, tc.expected, DefaultClassifier(tc.err))
		})
	}
}

func TestIsTransportError(t *testing.T) {
	require.True(t, IsTransportError(http2.StreamError{StreamID: 1, Code: http2.ErrCodeInternal}))
	require.True(t, IsTransportError(fmt.Errorf("read: %w", io.ErrUnexpectedEOF)))
	require.True(t, IsTransportError(fmt.Errorf("write: %w", syscall.ECONNRESET)))
	require.False(t, IsTransportError(errors.New("NoSuchKey")))
	require.False(t, IsTransportError(nil))
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "success", OutcomeSuccess.String())
	require.Equal(t, "retryable", OutcomeRetryable.String())
	require.Equal(t, "terminal", OutcomeTerminal.String())
	require.Equal(t, "unknown", Outcome(42).String())
}
