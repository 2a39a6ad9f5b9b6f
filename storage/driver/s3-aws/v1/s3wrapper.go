package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// s3wrapper rate limits every call made to S3. Calls that open or inspect an
// upload are also retried with an exponential backoff; part, completion,
// abort and put calls are retried by the transfer engine instead.
type s3wrapper struct {
	s3iface.S3API

	limiter    *rate.Limiter
	maxRetries int64
	notify     backoff.Notify
}

// S3WrapperOption configures the wrapper.
type S3WrapperOption func(*s3wrapper)

// WithRateLimit allows at most rps requests per second, with bursts of burst
// requests. A non-positive rps disables rate limiting.
func WithRateLimit(rps int64, burst int) S3WrapperOption {
	return func(w *s3wrapper) {
		if rps <= 0 {
			w.limiter = rate.NewLimiter(rate.Inf, burst)
			return
		}
		w.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithExponentialBackoff retries failed setup calls up to maxRetries times.
func WithExponentialBackoff(maxRetries int64) S3WrapperOption {
	return func(w *s3wrapper) {
		w.maxRetries = maxRetries
	}
}

// WithBackoffNotify is called before every backoff retry.
func WithBackoffNotify(notify backoff.Notify) S3WrapperOption {
	return func(w *s3wrapper) {
		w.notify = notify
	}
}

// NewS3Wrapper wraps client.
func NewS3Wrapper(client s3iface.S3API, opts ...S3WrapperOption) s3iface.S3API {
	w := &s3wrapper{
		S3API:   client,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *s3wrapper) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(w.maxRetries, 0))), ctx) // nolint: gosec // non-negative
}

func retry[T any](ctx context.Context, w *s3wrapper, op func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		if err := w.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		out, err := op()
		return out, wrapAWSerr(err)
	}, w.backoff(ctx), w.notify)
}

func limited[T any](ctx context.Context, w *s3wrapper, op func() (T, error)) (T, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return op()
}

// wrapAWSerr marks errors that will not go away on retry as permanent.
func wrapAWSerr(err error) error {
	if err == nil {
		return nil
	}

	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		if reqErr.Code() == request.ErrCodeSerialization {
			return err
		}
		if reqErr.StatusCode() >= http.StatusBadRequest &&
			reqErr.StatusCode() < http.StatusInternalServerError &&
			reqErr.StatusCode() != http.StatusTooManyRequests &&
			reqErr.StatusCode() != http.StatusRequestTimeout {
			return backoff.Permanent(err)
		}
		return err
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case request.ErrCodeInvalidPresignExpire, request.CanceledErrorCode:
			return backoff.Permanent(err)
		}
	}
	return err
}

func (w *s3wrapper) CreateMultipartUploadWithContext(ctx aws.Context, input *s3.CreateMultipartUploadInput, opts ...request.Option) (*s3.CreateMultipartUploadOutput, error) {
	return retry(ctx, w, func() (*s3.CreateMultipartUploadOutput, error) {
		return w.S3API.CreateMultipartUploadWithContext(ctx, input, opts...)
	})
}

func (w *s3wrapper) HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	return retry(ctx, w, func() (*s3.HeadObjectOutput, error) {
		return w.S3API.HeadObjectWithContext(ctx, input, opts...)
	})
}

func (w *s3wrapper) UploadPartWithContext(ctx aws.Context, input *s3.UploadPartInput, opts ...request.Option) (*s3.UploadPartOutput, error) {
	return limited(ctx, w, func() (*s3.UploadPartOutput, error) {
		return w.S3API.UploadPartWithContext(ctx, input, opts...)
	})
}

func (w *s3wrapper) UploadPartCopyWithContext(ctx aws.Context, input *s3.UploadPartCopyInput, opts ...request.Option) (*s3.UploadPartCopyOutput, error) {
	return limited(ctx, w, func() (*s3.UploadPartCopyOutput, error) {
		return w.S3API.UploadPartCopyWithContext(ctx, input, opts...)
	})
}

func (w *s3wrapper) CompleteMultipartUploadWithContext(ctx aws.Context, input *s3.CompleteMultipartUploadInput, opts ...request.Option) (*s3.CompleteMultipartUploadOutput, error) {
	return limited(ctx, w, func() (*s3.CompleteMultipartUploadOutput, error) {
		return w.S3API.CompleteMultipartUploadWithContext(ctx, input, opts...)
	})
}

func (w *s3wrapper) AbortMultipartUploadWithContext(ctx aws.Context, input *s3.AbortMultipartUploadInput, opts ...request.Option) (*s3.AbortMultipartUploadOutput, error) {
	return limited(ctx, w, func() (*s3.AbortMultipartUploadOutput, error) {
		return w.S3API.AbortMultipartUploadWithContext(ctx, input, opts...)
	})
}

func (w *s3wrapper) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	return limited(ctx, w, func() (*s3.PutObjectOutput, error) {
		return w.S3API.PutObjectWithContext(ctx, input, opts...)
	})
}
