package v1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/require"
	"github.com/tigrisdata/s3fs/storage/driver/s3-aws/common"
	"github.com/tigrisdata/s3fs/transfer"
)

// recordingS3 remembers the last input of every call it serves.
type recordingS3 struct {
	s3iface.S3API

	create   *s3.CreateMultipartUploadInput
	upload   *s3.UploadPartInput
	body     []byte
	copyPart *s3.UploadPartCopyInput
	complete *s3.CompleteMultipartUploadInput
	abort    *s3.AbortMultipartUploadInput
	put      *s3.PutObjectInput
	head     *s3.HeadObjectInput

	headErr error
}

func (r *recordingS3) CreateMultipartUploadWithContext(_ aws.Context, in *s3.CreateMultipartUploadInput, _ ...request.Option) (*s3.CreateMultipartUploadOutput, error) {
	r.create = in
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (r *recordingS3) UploadPartWithContext(_ aws.Context, in *s3.UploadPartInput, _ ...request.Option) (*s3.UploadPartOutput, error) {
	r.upload = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	r.body = body
	return &s3.UploadPartOutput{ETag: aws.String(`"etag-part"`)}, nil
}

func (r *recordingS3) UploadPartCopyWithContext(_ aws.Context, in *s3.UploadPartCopyInput, _ ...request.Option) (*s3.UploadPartCopyOutput, error) {
	r.copyPart = in
	return &s3.UploadPartCopyOutput{CopyPartResult: &s3.CopyPartResult{ETag: aws.String(`"etag-copy"`)}}, nil
}

func (r *recordingS3) CompleteMultipartUploadWithContext(_ aws.Context, in *s3.CompleteMultipartUploadInput, _ ...request.Option) (*s3.CompleteMultipartUploadOutput, error) {
	r.complete = in
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (r *recordingS3) AbortMultipartUploadWithContext(_ aws.Context, in *s3.AbortMultipartUploadInput, _ ...request.Option) (*s3.AbortMultipartUploadOutput, error) {
	r.abort = in
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (r *recordingS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	r.put = in
	return &s3.PutObjectOutput{}, nil
}

func (r *recordingS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	r.head = in
	if r.headErr != nil {
		return nil, r.headErr
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(42)}, nil
}

func newTestDriver(params *common.DriverParameters) (*Driver, *recordingS3) {
	client := &recordingS3{}
	return NewWithClient(params, client), client
}

var dst = transfer.Target{ObjectRef: transfer.ObjectRef{Bucket: "dst-bucket", Key: "a/b"}}

func TestMultipartCalls(t *testing.T) {
	ctx := context.Background()
	d, client := newTestDriver(&common.DriverParameters{Bucket: "default", StorageClass: s3.StorageClassStandard})

	id, err := d.InitiateMultipart(ctx, dst)
	require.NoError(t, err)
	require.Equal(t, "upload-1", id)
	require.Equal(t, "dst-bucket", aws.StringValue(client.create.Bucket))
	require.Equal(t, "a/b", aws.StringValue(client.create.Key))
	require.Equal(t, defaultContentType, aws.StringValue(client.create.ContentType))
	require.Equal(t, s3.StorageClassStandard, aws.StringValue(client.create.StorageClass))
	require.Nil(t, client.create.ServerSideEncryption)

	res, err := d.UploadPart(ctx, dst, id, 3, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, transfer.PartResult{Number: 3, Token: `"etag-part"`}, res)
	require.EqualValues(t, 3, aws.Int64Value(client.upload.PartNumber))
	require.Equal(t, []byte("payload"), client.body)

	src := transfer.ObjectRef{Key: "src/key"}
	res, err = d.CopyPart(ctx, src, dst, id, 2, transfer.ByteRange{First: 10, Last: 19})
	require.NoError(t, err)
	require.Equal(t, transfer.PartResult{Number: 2, Token: `"etag-copy"`}, res)
	require.Equal(t, "default/src/key", aws.StringValue(client.copyPart.CopySource))
	require.Equal(t, "bytes=10-19", aws.StringValue(client.copyPart.CopySourceRange))

	err = d.CompleteMultipart(ctx, dst, id, []transfer.PartResult{{Number: 1, Token: "e1"}, {Number: 2, Token: "e2"}})
	require.NoError(t, err)
	parts := client.complete.MultipartUpload.Parts
	require.Len(t, parts, 2)
	require.EqualValues(t, 1, aws.Int64Value(parts[0].PartNumber))
	require.Equal(t, "e2", aws.StringValue(parts[1].ETag))

	require.NoError(t, d.AbortMultipart(ctx, dst, id))
	require.Equal(t, "upload-1", aws.StringValue(client.abort.UploadId))
}

func TestPutObjectOptions(t *testing.T) {
	testCases := []struct {
		name          string
		params        common.DriverParameters
		target        transfer.Target
		expectedSSE   *string
		expectedKey   *string
		expectedClass *string
	}{
		{
			name:          "defaults",
			params:        common.DriverParameters{StorageClass: common.StorageClassNone},
			target:        dst,
			expectedSSE:   nil,
			expectedKey:   nil,
			expectedClass: nil,
		},
		{
			name:          "configured encryption",
			params:        common.DriverParameters{Encrypt: true, StorageClass: s3.StorageClassStandardIa},
			target:        dst,
			expectedSSE:   aws.String(s3.ServerSideEncryptionAes256),
			expectedClass: aws.String(s3.StorageClassStandardIa),
		},
		{
			name:        "configured kms key",
			params:      common.DriverParameters{Encrypt: true, KeyID: "key-1"},
			target:      dst,
			expectedSSE: aws.String(s3.ServerSideEncryptionAwsKms),
			expectedKey: aws.String("key-1"),
		},
		{
			name:   "kms key without encryption is ignored",
			params: common.DriverParameters{KeyID: "key-1"},
			target: dst,
		},
		{
			name:   "target overrides",
			params: common.DriverParameters{KeyID: "key-1", StorageClass: s3.StorageClassStandard},
			target: transfer.Target{
				ObjectRef:    dst.ObjectRef,
				Encrypt:      true,
				KMSKeyID:     "key-2",
				StorageClass: s3.StorageClassGlacierIr,
			},
			expectedSSE:   aws.String(s3.ServerSideEncryptionAwsKms),
			expectedKey:   aws.String("key-2"),
			expectedClass: aws.String(s3.StorageClassGlacierIr),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(tt *testing.T) {
			d, client := newTestDriver(&tc.params)

			require.NoError(tt, d.PutObject(context.Background(), tc.target, []byte("x")))
			require.Equal(tt, tc.expectedSSE, client.put.ServerSideEncryption)
			require.Equal(tt, tc.expectedKey, client.put.SSEKMSKeyId)
			require.Equal(tt, tc.expectedClass, client.put.StorageClass)
		})
	}
}

func TestGetMetadata(t *testing.T) {
	ctx := context.Background()
	d, client := newTestDriver(&common.DriverParameters{Bucket: "default"})

	size, err := d.GetMetadata(ctx, transfer.ObjectRef{Key: "k"})
	require.NoError(t, err)
	require.EqualValues(t, 42, size)
	require.Equal(t, "default", aws.StringValue(client.head.Bucket))

	client.headErr = awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req")
	_, err = d.GetMetadata(ctx, transfer.ObjectRef{Key: "k"})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, transfer.OutcomeTerminal, d.Classify(err))
}

func TestClassify(t *testing.T) {
	d, _ := newTestDriver(&common.DriverParameters{})

	testCases := []struct {
		name     string
		err      error
		expected transfer.Outcome
	}{
		{name: "nil", err: nil, expected: transfer.OutcomeSuccess},
		{name: "server error", err: aNonPermanentAWSRequestError, expected: transfer.OutcomeRetryable},
		{name: "throttled", err: aThrottledAWSRequestError, expected: transfer.OutcomeRetryable},
		{name: "client error", err: aPermanentAWSRequestError, expected: transfer.OutcomeTerminal},
		{
			name:     "no such upload",
			err:      awserr.NewRequestFailure(awserr.New(s3.ErrCodeNoSuchUpload, "gone", nil), http.StatusNotFound, "req"),
			expected: transfer.OutcomeTerminal,
		},
		{name: "cancelled request", err: awserr.New(request.CanceledErrorCode, "canceled", context.Canceled), expected: transfer.OutcomeTerminal},
		{name: "send failure", err: awserr.New(request.ErrCodeRequestError, "send request failed", errors.New("connection reset")), expected: transfer.OutcomeRetryable},
		{name: "context", err: context.DeadlineExceeded, expected: transfer.OutcomeTerminal},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, expected: transfer.OutcomeRetryable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(tt *testing.T) {
			require.Equal(tt, tc.expected, d.Classify(tc.err))
		})
	}
}

func TestFromParametersRequiresBucket(t *testing.T) {
	_, err := FromParameters(map[string]any{common.ParamRegion: "us-east-1"})
	require.ErrorContains(t, err, "no \"bucket\" parameter provided")
}
