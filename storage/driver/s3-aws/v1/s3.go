// Package v1 provides a transfer.BlobStore backed by Amazon S3 through the
// original AWS SDK for Go.
//
// Multipart uploads map one to one onto the S3 multipart API. Ranged part
// copies use UploadPartCopy with a CopySourceRange, so the bytes of a copy
// never leave S3.
package v1

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/storage/driver/base"
	"github.com/tigrisdata/s3fs/storage/driver/factory"
	"github.com/tigrisdata/s3fs/storage/driver/s3-aws/common"
	"github.com/tigrisdata/s3fs/transfer"
	"github.com/tigrisdata/s3fs/version"
	"gitlab.com/gitlab-org/labkit/fips"
)

const defaultContentType = "application/octet-stream"

// ErrNotFound is returned by GetMetadata for missing objects.
var ErrNotFound = errors.New("s3: object not found")

func init() {
	factory.Register(common.V1DriverName, &s3DriverFactory{})
}

// s3DriverFactory implements the factory.StorageDriverFactory interface
type s3DriverFactory struct{}

func (*s3DriverFactory) Create(parameters map[string]any) (transfer.BlobStore, error) {
	return FromParameters(parameters)
}

// Driver is a transfer.BlobStore backed by S3.
type Driver struct {
	S3           s3iface.S3API
	Bucket       string
	Encrypt      bool
	KeyID        string
	StorageClass string
}

// NewAWSLoggerWrapper returns an aws.Logger which will write log messages to
// given logger. It is meant as a thin wrapper.
func NewAWSLoggerWrapper(logger log.Logger) aws.Logger {
	return &awsLoggerWrapper{
		logger: logger,
	}
}

type awsLoggerWrapper struct {
	logger log.Logger
}

// Log logs the parameters to the configured logger.
func (l awsLoggerWrapper) Log(args ...any) {
	l.logger.Debug(args...)
}

// FromParameters constructs a new store from a parameters map. Calls into
// the store are bounded by the maxconcurrency parameter.
func FromParameters(parameters map[string]any) (transfer.BlobStore, error) {
	params, err := common.ParseParameters(common.V1DriverName, parameters)
	if err != nil {
		return nil, err
	}

	d, err := New(params)
	if err != nil {
		return nil, err
	}
	return base.NewRegulator(d, params.MaxConcurrency), nil
}

// NewS3API constructs a native s3 client. SDK retries are disabled: the
// wrapper retries setup calls and the transfer engine retries everything
// else.
func NewS3API(params *common.DriverParameters) (s3iface.S3API, error) {
	awsConfig := aws.NewConfig().
		WithLogLevel(aws.LogLevelType(params.LogLevel)).
		WithLogger(NewAWSLoggerWrapper(log.GetLogger())).
		WithMaxRetries(0)
	if params.AccessKey != "" && params.SecretKey != "" {
		creds := credentials.NewStaticCredentials(
			params.AccessKey, params.SecretKey, params.SessionToken,
		)
		awsConfig.WithCredentials(creds)
	}

	if params.RegionEndpoint != "" {
		awsConfig.WithEndpoint(params.RegionEndpoint)
	}

	awsConfig.WithS3ForcePathStyle(params.PathStyle)
	awsConfig.WithRegion(params.Region)
	awsConfig.WithDisableSSL(!params.Secure)

	// configure http client
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	httpTransport.MaxIdleConnsPerHost = int(params.MaxConcurrency) // nolint: gosec // bounded by the parser
	// nolint: gosec
	httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: params.SkipVerify}
	awsConfig.WithHTTPClient(&http.Client{
		Transport: httpTransport,
	})

	// disable MD5 header when fips is enabled
	awsConfig.WithS3DisableContentMD5Validation(fips.Enabled())

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating a new session with aws config: %w", err)
	}

	userAgentHandler := request.NamedHandler{
		Name: "user-agent",
		Fn:   request.MakeAddToUserAgentHandler("s3fs", version.Version, runtime.Version()),
	}
	sess.Handlers.Build.PushFrontNamed(userAgentHandler)

	return s3.New(sess), nil
}

// New returns a Driver for params.
func New(params *common.DriverParameters) (*Driver, error) {
	log.GetLogger().WithFields(log.Fields{
		"component": "storage.s3_v1",
	}).Warn("the s3 driver uses the AWS SDK v1 which no longer receives updates, consider the s3_v2 driver")

	s3obj, err := NewS3API(params)
	if err != nil {
		return nil, fmt.Errorf("creating new s3 driver implementation: %w", err)
	}

	client := NewS3Wrapper(
		s3obj,
		WithRateLimit(params.MaxRequestsPerSecond, common.DefaultBurst),
		WithExponentialBackoff(params.MaxRetries),
		WithBackoffNotify(func(err error, t time.Duration) {
			log.GetLogger().WithError(err).WithFields(log.Fields{"delay_s": t.Seconds()}).Info("S3: retrying after error")
		}),
	)

	return NewWithClient(params, client), nil
}

// NewWithClient returns a Driver issuing its calls through client.
func NewWithClient(params *common.DriverParameters, client s3iface.S3API) *Driver {
	return &Driver{
		S3:           client,
		Bucket:       params.Bucket,
		Encrypt:      params.Encrypt,
		KeyID:        params.KeyID,
		StorageClass: params.StorageClass,
	}
}

func (d *Driver) bucket(ref transfer.ObjectRef) *string {
	if ref.Bucket == "" {
		return aws.String(d.Bucket)
	}
	return aws.String(ref.Bucket)
}

// Classify implements transfer.ErrorClassifier.
func (*Driver) Classify(err error) transfer.Outcome {
	if err == nil {
		return transfer.OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transfer.OutcomeTerminal
	}

	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		return common.ClassifyResponse(reqErr.StatusCode(), reqErr.Code())
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case request.CanceledErrorCode, request.ErrCodeInvalidPresignExpire:
			return transfer.OutcomeTerminal
		default:
			return transfer.OutcomeRetryable
		}
	}

	if transfer.IsTransportError(err) {
		return transfer.OutcomeRetryable
	}
	return transfer.DefaultClassifier(err)
}

// InitiateMultipart implements transfer.BlobStore.
func (d *Driver) InitiateMultipart(ctx context.Context, target transfer.Target) (string, error) {
	resp, err := d.S3.CreateMultipartUploadWithContext(
		ctx,
		&s3.CreateMultipartUploadInput{
			Bucket:               d.bucket(target.ObjectRef),
			Key:                  aws.String(target.Key),
			ContentType:          d.getContentType(target),
			Metadata:             aws.StringMap(target.Metadata),
			ServerSideEncryption: d.getEncryptionMode(target),
			SSEKMSKeyId:          d.getSSEKMSKeyID(target),
			StorageClass:         d.getStorageClass(target),
		})
	if err != nil {
		return "", err
	}
	return aws.StringValue(resp.UploadId), nil
}

// UploadPart implements transfer.BlobStore.
func (d *Driver) UploadPart(ctx context.Context, target transfer.Target, uploadID string, partNumber int, data []byte) (transfer.PartResult, error) {
	resp, err := d.S3.UploadPartWithContext(
		ctx,
		&s3.UploadPartInput{
			Bucket:     d.bucket(target.ObjectRef),
			Key:        aws.String(target.Key),
			PartNumber: aws.Int64(int64(partNumber)),
			UploadId:   aws.String(uploadID),
			Body:       bytes.NewReader(data),
		})
	if err != nil {
		return transfer.PartResult{}, err
	}
	return transfer.PartResult{Number: partNumber, Token: aws.StringValue(resp.ETag)}, nil
}

// CopyPart implements transfer.BlobStore.
func (d *Driver) CopyPart(ctx context.Context, source transfer.ObjectRef, target transfer.Target, uploadID string, partNumber int, r transfer.ByteRange) (transfer.PartResult, error) {
	resp, err := d.S3.UploadPartCopyWithContext(
		ctx,
		&s3.UploadPartCopyInput{
			Bucket:          d.bucket(target.ObjectRef),
			Key:             aws.String(target.Key),
			CopySource:      aws.String(aws.StringValue(d.bucket(source)) + "/" + source.Key),
			CopySourceRange: aws.String(r.String()),
			PartNumber:      aws.Int64(int64(partNumber)),
			UploadId:        aws.String(uploadID),
		})
	if err != nil {
		return transfer.PartResult{}, err
	}
	if resp.CopyPartResult == nil {
		return transfer.PartResult{}, fmt.Errorf("copying part %d: response without result", partNumber)
	}
	return transfer.PartResult{Number: partNumber, Token: aws.StringValue(resp.CopyPartResult.ETag)}, nil
}

// CompleteMultipart implements transfer.BlobStore.
func (d *Driver) CompleteMultipart(ctx context.Context, target transfer.Target, uploadID string, parts []transfer.PartResult) error {
	completed := make([]*s3.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, &s3.CompletedPart{
			ETag:       aws.String(p.Token),
			PartNumber: aws.Int64(int64(p.Number)),
		})
	}

	_, err := d.S3.CompleteMultipartUploadWithContext(
		ctx,
		&s3.CompleteMultipartUploadInput{
			Bucket:          d.bucket(target.ObjectRef),
			Key:             aws.String(target.Key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
		})
	return err
}

// AbortMultipart implements transfer.BlobStore.
func (d *Driver) AbortMultipart(ctx context.Context, target transfer.Target, uploadID string) error {
	_, err := d.S3.AbortMultipartUploadWithContext(
		ctx,
		&s3.AbortMultipartUploadInput{
			Bucket:   d.bucket(target.ObjectRef),
			Key:      aws.String(target.Key),
			UploadId: aws.String(uploadID),
		})
	return err
}

// PutObject implements transfer.BlobStore.
func (d *Driver) PutObject(ctx context.Context, target transfer.Target, data []byte) error {
	_, err := d.S3.PutObjectWithContext(
		ctx,
		&s3.PutObjectInput{
			Bucket:               d.bucket(target.ObjectRef),
			Key:                  aws.String(target.Key),
			ContentType:          d.getContentType(target),
			Metadata:             aws.StringMap(target.Metadata),
			ServerSideEncryption: d.getEncryptionMode(target),
			SSEKMSKeyId:          d.getSSEKMSKeyID(target),
			StorageClass:         d.getStorageClass(target),
			Body:                 bytes.NewReader(data),
		})
	return err
}

// GetMetadata implements transfer.BlobStore.
func (d *Driver) GetMetadata(ctx context.Context, ref transfer.ObjectRef) (int64, error) {
	resp, err := d.S3.HeadObjectWithContext(
		ctx,
		&s3.HeadObjectInput{
			Bucket: d.bucket(ref),
			Key:    aws.String(ref.Key),
		})
	if err != nil {
		return 0, parseError(ref, err)
	}
	return aws.Int64Value(resp.ContentLength), nil
}

func parseError(ref transfer.ObjectRef, err error) error {
	var s3Err awserr.RequestFailure
	if errors.As(err, &s3Err) && (s3Err.Code() == s3.ErrCodeNoSuchKey || s3Err.StatusCode() == http.StatusNotFound) {
		return fmt.Errorf("%s: %w", ref, transfer.Permanent(ErrNotFound))
	}
	return err
}

func (d *Driver) encrypted(target transfer.Target) bool {
	return d.Encrypt || target.Encrypt
}

func (d *Driver) getEncryptionMode(target transfer.Target) *string {
	if !d.encrypted(target) {
		return nil
	}
	if d.getSSEKMSKeyID(target) == nil {
		return aws.String(s3.ServerSideEncryptionAes256)
	}
	return aws.String(s3.ServerSideEncryptionAwsKms)
}

// getSSEKMSKeyID prefers the key of the target over the configured one.
func (d *Driver) getSSEKMSKeyID(target transfer.Target) *string {
	if !d.encrypted(target) {
		return nil
	}
	if target.KMSKeyID != "" {
		return aws.String(target.KMSKeyID)
	}
	if d.KeyID != "" {
		return aws.String(d.KeyID)
	}
	return nil
}

func (*Driver) getContentType(target transfer.Target) *string {
	if target.ContentType != "" {
		return aws.String(target.ContentType)
	}
	return aws.String(defaultContentType)
}

func (d *Driver) getStorageClass(target transfer.Target) *string {
	class := target.StorageClass
	if class == "" {
		class = d.StorageClass
	}
	if class == "" || class == common.StorageClassNone {
		return nil
	}
	return aws.String(class)
}
