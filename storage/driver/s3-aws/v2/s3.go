// Package v2 provides a transfer.BlobStore backed by Amazon S3 through the
// AWS SDK for Go v2.
package v2

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/ratelimit"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"
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
	factory.Register(common.V2DriverName, &s3DriverFactory{})
}

type s3DriverFactory struct{}

func (*s3DriverFactory) Create(parameters map[string]any) (transfer.BlobStore, error) {
	return FromParameters(parameters)
}

// Driver is a transfer.BlobStore backed by S3.
type Driver struct {
	S3           S3API
	Bucket       string
	Encrypt      bool
	KeyID        string
	StorageClass string
}

// loggerWrapper adapts log.Logger to the smithy logging interface.
type loggerWrapper struct {
	logger log.Logger
}

func (l loggerWrapper) Logf(classification logging.Classification, format string, v ...any) {
	switch classification {
	case logging.Warn:
		l.logger.Warnf(format, v...)
	default:
		l.logger.Debugf(format, v...)
	}
}

// FromParameters constructs a new store from a parameters map.
func FromParameters(parameters map[string]any) (transfer.BlobStore, error) {
	params, err := common.ParseParameters(common.V2DriverName, parameters)
	if err != nil {
		return nil, err
	}

	d, err := New(params)
	if err != nil {
		return nil, err
	}
	return base.NewRegulator(d, params.MaxConcurrency), nil
}

// NewS3API constructs a native s3 client. The standard retryer is kept for
// the calls the transfer engine does not retry itself; the driver disables
// it per call for everything else.
func NewS3API(params *common.DriverParameters) (*s3.Client, error) {
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	httpTransport.MaxIdleConnsPerHost = int(params.MaxConcurrency) // nolint: gosec // bounded by the parser
	// nolint: gosec
	httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: params.SkipVerify}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
		config.WithHTTPClient(&http.Client{Transport: httpTransport}),
		config.WithClientLogMode(aws.ClientLogMode(params.LogLevel)),
		config.WithLogger(loggerWrapper{logger: log.GetLogger()}),
		config.WithAppID("s3fs/" + version.Version),
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = int(params.MaxRetries) + 1
				// client side rate limiting is done by NewRateLimitedS3
				o.RateLimiter = ratelimit.None
			})
		}),
	}
	if params.AccessKey != "" && params.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKey, params.SecretKey, params.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = params.PathStyle
		o.EndpointOptions.DisableHTTPS = !params.Secure
		if params.RegionEndpoint != "" {
			o.BaseEndpoint = aws.String(params.RegionEndpoint)
		} else if fips.Enabled() {
			o.EndpointOptions.UseFIPSEndpoint = aws.FIPSEndpointStateEnabled
		}
	}), nil
}

// New returns a Driver for params.
func New(params *common.DriverParameters) (*Driver, error) {
	client, err := NewS3API(params)
	if err != nil {
		return nil, fmt.Errorf("creating new s3 driver implementation: %w", err)
	}
	return NewWithClient(params, NewRateLimitedS3(client, params.MaxRequestsPerSecond, common.DefaultBurst)), nil
}

// NewWithClient returns a Driver issuing its calls through client.
func NewWithClient(params *common.DriverParameters, client S3API) *Driver {
	return &Driver{
		S3:           client,
		Bucket:       params.Bucket,
		Encrypt:      params.Encrypt,
		KeyID:        params.KeyID,
		StorageClass: params.StorageClass,
	}
}

// noRetries disables the SDK retryer for a call retried by the engine.
func noRetries(o *s3.Options) {
	o.Retryer = aws.NopRetryer{}
}

func (d *Driver) bucket(ref transfer.ObjectRef) *string {
	if ref.Bucket == "" {
		return aws.String(d.Bucket)
	}
	return aws.String(ref.Bucket)
}

func httpStatusCode(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

// Classify implements transfer.ErrorClassifier.
func (*Driver) Classify(err error) transfer.Outcome {
	if err == nil {
		return transfer.OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transfer.OutcomeTerminal
	}
	var canceled *smithy.CanceledError
	if errors.As(err, &canceled) {
		return transfer.OutcomeTerminal
	}

	status := httpStatusCode(err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if status == 0 && apiErr.ErrorFault() == smithy.FaultClient {
			return common.ClassifyResponse(http.StatusBadRequest, apiErr.ErrorCode())
		}
		return common.ClassifyResponse(status, apiErr.ErrorCode())
	}
	if status != 0 {
		return common.ClassifyResponse(status, "")
	}

	if transfer.IsTransportError(err) {
		return transfer.OutcomeRetryable
	}
	return transfer.DefaultClassifier(err)
}

// InitiateMultipart implements transfer.BlobStore.
func (d *Driver) InitiateMultipart(ctx context.Context, target transfer.Target) (string, error) {
	resp, err := d.S3.CreateMultipartUpload(
		ctx,
		&s3.CreateMultipartUploadInput{
			Bucket:               d.bucket(target.ObjectRef),
			Key:                  aws.String(target.Key),
			ContentType:          d.getContentType(target),
			Metadata:             target.Metadata,
			ServerSideEncryption: d.getEncryptionMode(target),
			SSEKMSKeyId:          d.getSSEKMSKeyID(target),
			StorageClass:         d.getStorageClass(target),
		})
	if err != nil {
		return "", err
	}
	return aws.ToString(resp.UploadId), nil
}

// UploadPart implements transfer.BlobStore.
func (d *Driver) UploadPart(ctx context.Context, target transfer.Target, uploadID string, partNumber int, data []byte) (transfer.PartResult, error) {
	resp, err := d.S3.UploadPart(
		ctx,
		&s3.UploadPartInput{
			Bucket:        d.bucket(target.ObjectRef),
			Key:           aws.String(target.Key),
			PartNumber:    aws.Int32(int32(partNumber)), // nolint: gosec // part numbers are bounded by the policy
			UploadId:      aws.String(uploadID),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		},
		noRetries)
	if err != nil {
		return transfer.PartResult{}, err
	}
	return transfer.PartResult{Number: partNumber, Token: aws.ToString(resp.ETag)}, nil
}

// CopyPart implements transfer.BlobStore.
func (d *Driver) CopyPart(ctx context.Context, source transfer.ObjectRef, target transfer.Target, uploadID string, partNumber int, r transfer.ByteRange) (transfer.PartResult, error) {
	resp, err := d.S3.UploadPartCopy(
		ctx,
		&s3.UploadPartCopyInput{
			Bucket:          d.bucket(target.ObjectRef),
			Key:             aws.String(target.Key),
			CopySource:      aws.String(aws.ToString(d.bucket(source)) + "/" + source.Key),
			CopySourceRange: aws.String(r.String()),
			PartNumber:      aws.Int32(int32(partNumber)), // nolint: gosec // part numbers are bounded by the policy
			UploadId:        aws.String(uploadID),
		},
		noRetries)
	if err != nil {
		return transfer.PartResult{}, err
	}
	if resp.CopyPartResult == nil {
		return transfer.PartResult{}, fmt.Errorf("copying part %d: response without result", partNumber)
	}
	return transfer.PartResult{Number: partNumber, Token: aws.ToString(resp.CopyPartResult.ETag)}, nil
}

// CompleteMultipart implements transfer.BlobStore.
func (d *Driver) CompleteMultipart(ctx context.Context, target transfer.Target, uploadID string, parts []transfer.PartResult) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.Token),
			PartNumber: aws.Int32(int32(p.Number)), // nolint: gosec // part numbers are bounded by the policy
		})
	}

	_, err := d.S3.CompleteMultipartUpload(
		ctx,
		&s3.CompleteMultipartUploadInput{
			Bucket:          d.bucket(target.ObjectRef),
			Key:             aws.String(target.Key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		},
		noRetries)
	return err
}

// AbortMultipart implements transfer.BlobStore.
func (d *Driver) AbortMultipart(ctx context.Context, target transfer.Target, uploadID string) error {
	_, err := d.S3.AbortMultipartUpload(
		ctx,
		&s3.AbortMultipartUploadInput{
			Bucket:   d.bucket(target.ObjectRef),
			Key:      aws.String(target.Key),
			UploadId: aws.String(uploadID),
		},
		noRetries)
	return err
}

// PutObject implements transfer.BlobStore.
func (d *Driver) PutObject(ctx context.Context, target transfer.Target, data []byte) error {
	_, err := d.S3.PutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket:               d.bucket(target.ObjectRef),
			Key:                  aws.String(target.Key),
			ContentType:          d.getContentType(target),
			Metadata:             target.Metadata,
			ServerSideEncryption: d.getEncryptionMode(target),
			SSEKMSKeyId:          d.getSSEKMSKeyID(target),
			StorageClass:         d.getStorageClass(target),
			Body:                 bytes.NewReader(data),
			ContentLength:        aws.Int64(int64(len(data))),
		},
		noRetries)
	return err
}

// GetMetadata implements transfer.BlobStore.
func (d *Driver) GetMetadata(ctx context.Context, ref transfer.ObjectRef) (int64, error) {
	resp, err := d.S3.HeadObject(
		ctx,
		&s3.HeadObjectInput{
			Bucket: d.bucket(ref),
			Key:    aws.String(ref.Key),
		})
	if err != nil {
		return 0, parseError(ref, err)
	}
	return aws.ToInt64(resp.ContentLength), nil
}

func parseError(ref transfer.ObjectRef, err error) error {
	var (
		notFound *types.NotFound
		noSuch   *types.NoSuchKey
	)
	if errors.As(err, &notFound) || errors.As(err, &noSuch) || httpStatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", ref, transfer.Permanent(ErrNotFound))
	}
	return err
}

func (d *Driver) encrypted(target transfer.Target) bool {
	return d.Encrypt || target.Encrypt
}

func (d *Driver) getEncryptionMode(target transfer.Target) types.ServerSideEncryption {
	if !d.encrypted(target) {
		return ""
	}
	if d.getSSEKMSKeyID(target) == nil {
		return types.ServerSideEncryptionAes256
	}
	return types.ServerSideEncryptionAwsKms
}

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

func (d *Driver) getStorageClass(target transfer.Target) types.StorageClass {
	class := target.StorageClass
	if class == "" {
		class = d.StorageClass
	}
	if class == common.StorageClassNone {
		return ""
	}
	return types.StorageClass(class)
}
