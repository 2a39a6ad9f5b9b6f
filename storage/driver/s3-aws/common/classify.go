package common

import (
	"net/http"

	"github.com/tigrisdata/s3fs/transfer"
)

// Error codes S3 returns for conditions that clear up on their own.
var retryableCodes = map[string]struct{}{
	"InternalError":        {},
	"RequestTimeout":       {},
	"RequestTimeTooSkewed": {},
	"ServiceUnavailable":   {},
	"SlowDown":             {},
	"Throttling":           {},
	"ThrottlingException":  {},
	"RequestThrottled":     {},
	"OperationAborted":     {},
}

// ClassifyResponse classifies an S3 error response from its HTTP status and
// error code. Either may be zero when unknown.
func ClassifyResponse(status int, code string) transfer.Outcome {
	if _, ok := retryableCodes[code]; ok {
		return transfer.OutcomeRetryable
	}

	switch {
	case status == 0:
		return transfer.OutcomeRetryable
	case status >= http.StatusInternalServerError,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout:
		return transfer.OutcomeRetryable
	case status >= http.StatusBadRequest:
		return transfer.OutcomeTerminal
	default:
		return transfer.OutcomeRetryable
	}
}
