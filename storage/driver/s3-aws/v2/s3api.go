package v2

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"
)

// S3API is the subset of the S3 client used by the driver.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// rateLimitedS3 waits for the limiter before every call. Retries happen in
// the SDK retryer or in the transfer engine, never here.
type rateLimitedS3 struct {
	S3API
	limiter *rate.Limiter
}

// NewRateLimitedS3 limits client to rps requests per second, with bursts of
// burst requests. A non-positive rps returns client unchanged.
func NewRateLimitedS3(client S3API, rps int64, burst int) S3API {
	if rps <= 0 {
		return client
	}
	return &rateLimitedS3{
		S3API:   client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func limited[I, O any](ctx context.Context, l *rate.Limiter, call func(context.Context, I, ...func(*s3.Options)) (O, error), in I, optFns []func(*s3.Options)) (O, error) {
	if err := l.Wait(ctx); err != nil {
		var zero O
		return zero, err
	}
	return call(ctx, in, optFns...)
}

func (w *rateLimitedS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return limited(ctx, w.limiter, w.S3API.CreateMultipartUpload, params, optFns)
}

func (w *rateLimitedS3) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return limited(ctx, w.limiter, w.S3API.UploadPart, params, optFns)
}

func (w *rateLimitedS3) UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	return limited(ctx, w.limiter, w.S3API.UploadPartCopy, params, optFns)
}

func (w *rateLimitedS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return limited(ctx, w.limiter, w.S3API.CompleteMultipartUpload, params, optFns)
}

func (w *rateLimitedS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return limited(ctx, w.limiter, w.S3API.AbortMultipartUpload, params, optFns)
}

func (w *rateLimitedS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return limited(ctx, w.limiter, w.S3API.PutObject, params, optFns)
}

func (w *rateLimitedS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return limited(ctx, w.limiter, w.S3API.HeadObject, params, optFns)
}
