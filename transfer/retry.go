package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/transfer/internal/metrics"
)

// PartOperation performs a single attempt of a part upload or copy.
type PartOperation func(ctx context.Context) (PartResult, error)

// Retrier runs part operations with bounded retries. It keeps no state
// between calls and is safe for concurrent use.
type Retrier struct {
	policy   *Policy
	classify Classifier
	clock    clock.Clock
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithClassifier overrides the default error classifier.
func WithClassifier(c Classifier) RetrierOption {
	return func(r *Retrier) {
		r.classify = c
	}
}

// WithClock sets the clock used to wait between attempts.
func WithClock(c clock.Clock) RetrierOption {
	return func(r *Retrier) {
		r.clock = c
	}
}

// NewRetrier returns a Retrier following policy.
func NewRetrier(policy *Policy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		policy:   policy,
		classify: DefaultClassifier,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, fails with a terminal error, or runs out of
// attempts. Any failure is returned as a *TerminalError naming the part and
// upload. operation labels metrics and logs ("upload" or "copy").
func (r *Retrier) Do(ctx context.Context, operation, uploadID string, partNumber int, op PartOperation) (PartResult, error) {
	l := log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"upload_id":   uploadID,
		"part_number": partNumber,
		"operation":   operation,
	})

	done := metrics.InstrumentPart(operation)

	attempt := 0
	res, err := backoff.RetryNotifyWithTimerAndData(
		func() (PartResult, error) {
			attempt++
			metrics.PartAttempt(operation)
			l.WithField("attempt", attempt).Debug("running part operation")

			res, err := op(ctx)
			if err == nil {
				return res, nil
			}
			if cerr := ctx.Err(); cerr != nil {
				if !errors.Is(err, cerr) {
					err = fmt.Errorf("%w: %w", cerr, err)
				}
				return PartResult{}, backoff.Permanent(err)
			}

			switch r.classify(err) {
			case OutcomeSuccess:
				return res, nil
			case OutcomeRetryable:
				return PartResult{}, err
			default:
				return PartResult{}, backoff.Permanent(err)
			}
		},
		backoff.WithContext(&policyBackOff{policy: r.policy}, ctx),
		func(err error, d time.Duration) {
			l.WithError(err).WithFields(log.Fields{
				"attempt": attempt,
				"delay_s": d.Seconds(),
			}).Warn("part operation failed, retrying")
		},
		&clockTimer{clock: r.clock},
	)
	done(err)

	if err != nil {
		return PartResult{}, &TerminalError{
			UploadID:   uploadID,
			PartNumber: partNumber,
			Attempts:   attempt,
			Err:        err,
		}
	}

	if res.Number == 0 {
		res.Number = partNumber
	}
	return res, nil
}

// policyBackOff implements backoff.BackOff on top of a Policy. The counter
// tracks the attempt that just failed.
type policyBackOff struct {
	policy  *Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.policy.MaxAttempts() {
		return backoff.Stop
	}
	return b.policy.RetrySleep(b.attempt)
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// clockTimer implements backoff.Timer using a clock.Clock so tests can drive
// retries with a mock clock.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
